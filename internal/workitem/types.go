// Package workitem defines the WorkItem entity, its status state machine,
// and the field-level validation rules enforced on every create/update.
package workitem

import (
	"encoding/json"
	"time"
)

// Type is the work-item type, one of five ranked levels.
type Type string

const (
	TypeInitiative Type = "initiative"
	TypeEpic       Type = "epic"
	TypeFeature    Type = "feature"
	TypeStory      Type = "story"
	TypeTask       Type = "task"
)

// rank returns the depth of a type in the hierarchy, initiative=0..task=4.
// Returns -1 for an unknown type.
func (t Type) rank() int {
	switch t {
	case TypeInitiative:
		return 0
	case TypeEpic:
		return 1
	case TypeFeature:
		return 2
	case TypeStory:
		return 3
	case TypeTask:
		return 4
	default:
		return -1
	}
}

// Rank exposes the type's hierarchy depth for use by the hierarchy engine.
func (t Type) Rank() int { return t.rank() }

// Valid reports whether t is one of the five known types.
func (t Type) Valid() bool { return t.rank() >= 0 }

// Priority is the work-item priority.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Status is a work-item lifecycle state (§3.4).
type Status string

const (
	StatusBacklog      Status = "backlog"
	StatusReady        Status = "ready"
	StatusInProgress   Status = "in_progress"
	StatusBlocked      Status = "blocked"
	StatusOnHold       Status = "on_hold"
	StatusUnderReview  Status = "under_review"
	StatusApproved     Status = "approved"
	StatusRejected     Status = "rejected"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusBacklog, StatusReady, StatusInProgress, StatusBlocked, StatusOnHold,
		StatusUnderReview, StatusApproved, StatusRejected, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal state per the glossary
// ("a status from which forward progress requires explicit reopening").
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Field-size caps enforced on create and update (§3.1).
const (
	MaxTitleLen       = 200
	MaxDescriptionLen = 5000
	MaxTags           = 10
	MaxCriteria       = 15
	MaxCriterionLen   = 2000
)

// WorkItem is the sole primary entity (§3.1).
type WorkItem struct {
	ID                    string          `json:"id"`
	ItemID                string          `json:"item_id,omitempty"`
	ItemType              Type            `json:"item_type"`
	Title                 string          `json:"title"`
	Description           string          `json:"description"`
	Status                Status          `json:"status"`
	Priority              Priority        `json:"priority"`
	ParentID              string          `json:"parent_id,omitempty"`
	Dependencies          []string        `json:"dependencies,omitempty"`
	Assignee              string          `json:"assignee,omitempty"`
	Tags                  []string        `json:"tags,omitempty"`
	AcceptanceCriteria    []string        `json:"acceptance_criteria,omitempty"`
	EstimatedHours        *float64        `json:"estimated_hours,omitempty"`
	ActualHours           *float64        `json:"actual_hours,omitempty"`
	Progress              float64         `json:"progress"`
	AutonomousExecutable  bool            `json:"autonomous_executable"`
	ExecutionInstructions string          `json:"execution_instructions,omitempty"`
	Metadata              json.RawMessage `json:"metadata,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
	Vector                []float32       `json:"vector,omitempty"`
}

// Draft is the input shape for create_work_item: no id required, most
// fields optional with documented defaults.
type Draft struct {
	ID                     string
	ItemID                 string
	ItemType               Type
	Title                  string
	Description            string
	Status                 Status
	Priority               Priority
	ParentID               string
	Dependencies           []string
	Assignee               string
	Tags                   []string
	AcceptanceCriteria     []string
	EstimatedHours         *float64
	ActualHours            *float64
	Progress               *float64
	AutonomousExecutable   bool
	ExecutionInstructions  string
	Metadata               json.RawMessage
}

// Patch is the input shape for update_work_item: every field is a pointer
// or nil-able so "absent" is distinguishable from "set to zero value".
type Patch struct {
	ItemID                 *string
	Title                  *string
	Description            *string
	Status                 *Status
	Priority               *Priority
	ParentID               *string
	ParentIDSet            bool // true iff ParentID should be applied (allows clearing to "")
	Dependencies           []string
	DependenciesSet        bool
	Assignee               *string
	Tags                   []string
	TagsSet                bool
	AcceptanceCriteria     []string
	AcceptanceCriteriaSet  bool
	EstimatedHours         *float64
	ActualHours            *float64
	Progress               *float64
	AutonomousExecutable   *bool
	ExecutionInstructions  *string
	Metadata               json.RawMessage
	MetadataSet            bool

	// UpdatedAt, when set and later than the stored value, replaces the
	// write timestamp instead of time.Now(). The sync engine uses this so
	// a newest_wins file sync leaves the record carrying the file's own
	// updated_at rather than the wall clock's.
	UpdatedAt *time.Time
}

// dedupTags removes duplicate tags while preserving first-seen order (I10).
func dedupTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
