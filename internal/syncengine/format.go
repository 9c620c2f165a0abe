// Package syncengine implements the bidirectional file<->DB sync engine
// of §4.E: file format parsing/rendering, checksum-based change
// detection, and conflict resolution.
package syncengine

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/yuin/goldmark"
	"gopkg.in/yaml.v3"

	"github.com/jivecore/jivecore/internal/corerr"
	"github.com/jivecore/jivecore/internal/workitem"
)

// Format is a canonical on-disk work-item file format (§4.E, §6.2).
type Format string

const (
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "md"
)

// FormatFromExt maps a file extension (with or without leading dot) to a
// Format, rejecting unknown extensions per §4.E.
func FormatFromExt(ext string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "md":
		return FormatMarkdown, nil
	default:
		return "", corerr.InvalidArgument("unknown work item file extension %q", ext)
	}
}

// FormatFromPath is a convenience wrapper over filepath.Ext.
func FormatFromPath(path string) (Format, error) {
	return FormatFromExt(filepath.Ext(path))
}

// fileRecord is the on-disk wire shape of a WorkItem (§6.2): every field
// of §3.1 except `vector`, which is derived and never hand-authored.
type fileRecord struct {
	ID                     string          `json:"id,omitempty" yaml:"id,omitempty"`
	ItemID                 string          `json:"item_id,omitempty" yaml:"item_id,omitempty"`
	ItemType               string          `json:"item_type" yaml:"item_type"`
	Title                  string          `json:"title" yaml:"title"`
	Description            string          `json:"description" yaml:"description"`
	Status                 string          `json:"status" yaml:"status"`
	Priority               string          `json:"priority" yaml:"priority"`
	ParentID               string          `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Dependencies           []string        `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Assignee               string          `json:"assignee,omitempty" yaml:"assignee,omitempty"`
	Tags                   []string        `json:"tags,omitempty" yaml:"tags,omitempty"`
	AcceptanceCriteria     []string        `json:"acceptance_criteria,omitempty" yaml:"acceptance_criteria,omitempty"`
	EstimatedHours         *float64        `json:"estimated_hours,omitempty" yaml:"estimated_hours,omitempty"`
	ActualHours            *float64        `json:"actual_hours,omitempty" yaml:"actual_hours,omitempty"`
	Progress               float64         `json:"progress" yaml:"progress"`
	AutonomousExecutable   bool            `json:"autonomous_executable" yaml:"autonomous_executable"`
	ExecutionInstructions  string          `json:"execution_instructions,omitempty" yaml:"execution_instructions,omitempty"`
	Metadata               json.RawMessage `json:"metadata,omitempty" yaml:"-"`
	MetadataYAML           map[string]any  `json:"-" yaml:"metadata,omitempty"`
	CreatedAt              time.Time       `json:"created_at" yaml:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at" yaml:"updated_at"`
}

func fromWorkItem(item *workitem.WorkItem) fileRecord {
	r := fileRecord{
		ID:                     item.ID,
		ItemID:                 item.ItemID,
		ItemType:               string(item.ItemType),
		Title:                  item.Title,
		Description:            item.Description,
		Status:                 string(item.Status),
		Priority:               string(item.Priority),
		ParentID:               item.ParentID,
		Dependencies:           item.Dependencies,
		Assignee:               item.Assignee,
		Tags:                   item.Tags,
		AcceptanceCriteria:     item.AcceptanceCriteria,
		EstimatedHours:         item.EstimatedHours,
		ActualHours:            item.ActualHours,
		Progress:               item.Progress,
		AutonomousExecutable:   item.AutonomousExecutable,
		ExecutionInstructions:  item.ExecutionInstructions,
		Metadata:               item.Metadata,
		CreatedAt:              item.CreatedAt,
		UpdatedAt:              item.UpdatedAt,
	}
	if len(item.Metadata) > 0 {
		var m map[string]any
		if json.Unmarshal(item.Metadata, &m) == nil {
			r.MetadataYAML = m
		}
	}
	return r
}

// toDraft converts a parsed file record into a create draft (used when
// the file names no existing work item).
func (r fileRecord) toDraft() workitem.Draft {
	return workitem.Draft{
		ID:                     r.ID,
		ItemID:                 r.ItemID,
		ItemType:               workitem.Type(r.ItemType),
		Title:                  r.Title,
		Description:            r.Description,
		Status:                 workitem.Status(r.Status),
		Priority:               workitem.Priority(r.Priority),
		ParentID:               r.ParentID,
		Dependencies:           r.Dependencies,
		Assignee:               r.Assignee,
		Tags:                   r.Tags,
		AcceptanceCriteria:     r.AcceptanceCriteria,
		EstimatedHours:         r.EstimatedHours,
		ActualHours:            r.ActualHours,
		Progress:               &r.Progress,
		AutonomousExecutable:   r.AutonomousExecutable,
		ExecutionInstructions:  r.ExecutionInstructions,
		Metadata:               r.metadataJSON(),
	}
}

// toPatch converts a parsed file record into a full-replace patch (the
// file is the source of truth for file_to_db, so every field is marked
// present).
func (r fileRecord) toPatch() workitem.Patch {
	itemID := r.ItemID
	title := r.Title
	desc := r.Description
	var updatedAt *time.Time
	if !r.UpdatedAt.IsZero() {
		ts := r.UpdatedAt
		updatedAt = &ts
	}
	status := workitem.Status(r.Status)
	priority := workitem.Priority(r.Priority)
	parentID := r.ParentID
	assignee := r.Assignee
	progress := r.Progress
	autonomous := r.AutonomousExecutable
	instructions := r.ExecutionInstructions

	return workitem.Patch{
		ItemID:                 &itemID,
		Title:                  &title,
		Description:            &desc,
		Status:                 &status,
		Priority:               &priority,
		ParentID:               &parentID,
		ParentIDSet:            true,
		Dependencies:           r.Dependencies,
		DependenciesSet:        true,
		Assignee:               &assignee,
		Tags:                   r.Tags,
		TagsSet:                true,
		AcceptanceCriteria:     r.AcceptanceCriteria,
		AcceptanceCriteriaSet:  true,
		EstimatedHours:         r.EstimatedHours,
		ActualHours:            r.ActualHours,
		Progress:               &progress,
		AutonomousExecutable:   &autonomous,
		ExecutionInstructions:  &instructions,
		Metadata:               r.metadataJSON(),
		MetadataSet:            true,
		UpdatedAt:              updatedAt,
	}
}

func (r fileRecord) metadataJSON() json.RawMessage {
	if len(r.Metadata) > 0 {
		return r.Metadata
	}
	if r.MetadataYAML != nil {
		if b, err := json.Marshal(r.MetadataYAML); err == nil {
			return b
		}
	}
	return nil
}

// MarshalJSON renders item as canonical JSON (§6.2).
func MarshalJSON(item *workitem.WorkItem) ([]byte, error) {
	return json.MarshalIndent(fromWorkItem(item), "", "  ")
}

// UnmarshalJSON parses a JSON work-item file.
func UnmarshalJSON(data []byte) (fileRecord, error) {
	var r fileRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return fileRecord{}, corerr.InvalidArgument("parse json work item: %v", err)
	}
	return r, nil
}

// MarshalYAML renders item as canonical YAML (§6.2).
func MarshalYAML(item *workitem.WorkItem) ([]byte, error) {
	return yaml.Marshal(fromWorkItem(item))
}

// UnmarshalYAML parses a YAML work-item file.
func UnmarshalYAML(data []byte) (fileRecord, error) {
	var r fileRecord
	if err := yaml.Unmarshal(data, &r); err != nil {
		return fileRecord{}, corerr.InvalidArgument("parse yaml work item: %v", err)
	}
	return r, nil
}

const frontmatterDelim = "---"

// MarshalMarkdown renders item as YAML frontmatter (every field, with
// `description` left empty) followed by the description as the Markdown
// body (§6.2).
func MarshalMarkdown(item *workitem.WorkItem) ([]byte, error) {
	r := fromWorkItem(item)
	body := r.Description
	r.Description = ""

	fm, err := yaml.Marshal(r)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(frontmatterDelim)
	buf.WriteByte('\n')
	buf.Write(fm)
	buf.WriteString(frontmatterDelim)
	buf.WriteString("\n\n")
	buf.WriteString(body)
	return buf.Bytes(), nil
}

// UnmarshalMarkdown parses a Markdown-with-frontmatter work-item file.
// Frontmatter excludes `description`; the body becomes `description`
// unless the body is empty, in which case a `description` key present in
// the frontmatter itself wins (§4.E).
func UnmarshalMarkdown(data []byte) (fileRecord, error) {
	frontmatter, body, err := splitFrontmatter(string(data))
	if err != nil {
		return fileRecord{}, err
	}

	var r fileRecord
	if err := yaml.Unmarshal([]byte(frontmatter), &r); err != nil {
		return fileRecord{}, corerr.InvalidArgument("parse markdown frontmatter: %v", err)
	}

	body = strings.TrimSpace(body)
	if body != "" {
		r.Description = body
	}
	// else: keep whatever `description` the frontmatter itself carried.

	if body != "" {
		if err := validateMarkdownBody(body); err != nil {
			return fileRecord{}, corerr.InvalidArgument("unparseable markdown body: %v", err)
		}
	}
	return r, nil
}

// splitFrontmatter separates the leading `---`-delimited YAML block from
// the Markdown body. A file lacking the fence is unparseable (§6.2).
func splitFrontmatter(content string) (frontmatter, body string, err error) {
	lines := strings.Split(content, "\n")
	start := 0
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	if start >= len(lines) || strings.TrimSpace(lines[start]) != frontmatterDelim {
		return "", "", corerr.InvalidArgument("missing frontmatter fence")
	}

	end := -1
	for i := start + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == frontmatterDelim {
			end = i
			break
		}
	}
	if end == -1 {
		return "", "", corerr.InvalidArgument("unterminated frontmatter fence")
	}

	frontmatter = strings.Join(lines[start+1:end], "\n")
	body = strings.Join(lines[end+1:], "\n")
	return frontmatter, body, nil
}

var mdParser = goldmark.New()

// validateMarkdownBody confirms the description body parses as Markdown,
// returning goldmark's error if it can't convert it (the caller reports
// that as InvalidArgument).
func validateMarkdownBody(body string) error {
	var buf bytes.Buffer
	return mdParser.Convert([]byte(body), &buf)
}

// slugify produces a filesystem-safe slug from a title, used to compose
// the `<item-id>-<slug>.<ext>` file name of §6.1.
func slugify(s string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			prevDash = false
		case !prevDash:
			b.WriteByte('-')
			prevDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}
