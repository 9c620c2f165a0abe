package syncengine

import (
	"sort"

	"github.com/jivecore/jivecore/internal/workitem"
)

// Resolution is a conflict-resolution strategy for sync_file_to_db and
// sync_db_to_file (§4.E "Conflict resolution").
type Resolution string

const (
	ResolutionFileWins    Resolution = "file_wins"
	ResolutionDBWins      Resolution = "db_wins"
	ResolutionNewestWins  Resolution = "newest_wins"
	ResolutionAutoMerge   Resolution = "auto_merge"
	ResolutionManual      Resolution = "manual"
)

// FieldDiff names one field whose file-side and DB-side values disagree.
type FieldDiff struct {
	Field     string
	FileValue any
	DBValue   any
}

// ConflictDetail is returned (never applied) when resolution is
// ResolutionManual and the two sides disagree.
type ConflictDetail struct {
	WorkItemID string
	Fields     []FieldDiff
}

// diffFields compares a parsed file record against the current DB record,
// reporting every field that disagrees.
func diffFields(file fileRecord, db *workitem.WorkItem) []FieldDiff {
	var diffs []FieldDiff
	add := func(field string, file, dbv any) {
		diffs = append(diffs, FieldDiff{Field: field, FileValue: file, DBValue: dbv})
	}

	if file.Title != db.Title {
		add("title", file.Title, db.Title)
	}
	if file.Description != db.Description {
		add("description", file.Description, db.Description)
	}
	if file.Status != string(db.Status) {
		add("status", file.Status, string(db.Status))
	}
	if file.Priority != string(db.Priority) {
		add("priority", file.Priority, string(db.Priority))
	}
	if file.ParentID != db.ParentID {
		add("parent_id", file.ParentID, db.ParentID)
	}
	if file.Assignee != db.Assignee {
		add("assignee", file.Assignee, db.Assignee)
	}
	if file.Progress != db.Progress {
		add("progress", file.Progress, db.Progress)
	}
	if file.AutonomousExecutable != db.AutonomousExecutable {
		add("autonomous_executable", file.AutonomousExecutable, db.AutonomousExecutable)
	}
	if file.ExecutionInstructions != db.ExecutionInstructions {
		add("execution_instructions", file.ExecutionInstructions, db.ExecutionInstructions)
	}
	if !stringSlicesEqual(file.Tags, db.Tags) {
		add("tags", file.Tags, db.Tags)
	}
	if !stringSlicesEqual(file.Dependencies, db.Dependencies) {
		add("dependencies", file.Dependencies, db.Dependencies)
	}
	if !stringSlicesEqual(file.AcceptanceCriteria, db.AcceptanceCriteria) {
		add("acceptance_criteria", file.AcceptanceCriteria, db.AcceptanceCriteria)
	}
	return diffs
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// unionStrings merges two order-insensitive sets, sorted for a stable
// result. Only suitable for fields where ordering carries no meaning
// (tags); order-preserving fields go through unionOrdered instead.
func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// unionOrdered merges b's entries into a, keeping a's insertion order
// and appending b's unseen entries in their own order. Used for
// acceptance_criteria and dependencies, whose ordering is part of the
// record.
func unionOrdered(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// mergePatch implements ResolutionAutoMerge: scalar fields take the value
// from whichever side was updated most recently; list-valued fields
// (tags, dependencies, acceptance_criteria) are unioned regardless of
// recency, since dropping either side's additions there is surprising.
func mergePatch(file fileRecord, db *workitem.WorkItem) workitem.Patch {
	newer := file.toPatch()
	if !file.UpdatedAt.After(db.UpdatedAt) {
		// DB is newer or tied: scalar fields come from DB, list fields still merge.
		title, desc, status, priority, parentID, assignee, progress, autonomous, instructions :=
			db.Title, db.Description, db.Status, db.Priority, db.ParentID, db.Assignee, db.Progress, db.AutonomousExecutable, db.ExecutionInstructions
		newer = workitem.Patch{
			Title:                 &title,
			Description:           &desc,
			Status:                &status,
			Priority:              &priority,
			ParentID:              &parentID,
			ParentIDSet:           true,
			Assignee:              &assignee,
			Progress:              &progress,
			AutonomousExecutable:  &autonomous,
			ExecutionInstructions: &instructions,
		}
	}

	// The newer side's ordering leads the ordered unions, the older side's
	// unseen entries follow (I10: acceptance_criteria preserves insertion
	// order; tags are a set and merge sorted).
	first, second := file.AcceptanceCriteria, db.AcceptanceCriteria
	firstDeps, secondDeps := file.Dependencies, db.Dependencies
	if !file.UpdatedAt.After(db.UpdatedAt) {
		first, second = db.AcceptanceCriteria, file.AcceptanceCriteria
		firstDeps, secondDeps = db.Dependencies, file.Dependencies
	}

	newer.Tags, newer.TagsSet = unionStrings(file.Tags, db.Tags), true
	newer.Dependencies, newer.DependenciesSet = unionOrdered(firstDeps, secondDeps), true
	newer.AcceptanceCriteria, newer.AcceptanceCriteriaSet = unionOrdered(first, second), true
	newer.UpdatedAt = nil // auto_merge stamps the merge time, not either side's
	return newer
}
