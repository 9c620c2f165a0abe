package workitem

import (
	"fmt"
	"strings"
)

// FieldError describes one invalid field found during validation.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) String() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateDraft checks a create_work_item draft against the field rules
// of §3.1 and the invariants of §3.3 that can be checked without a
// storage lookup (rank/existence checks happen in the storage core's
// CreateWorkItem). Returns nil if the draft is valid.
func ValidateDraft(d Draft) []FieldError {
	var errs []FieldError

	if !d.ItemType.Valid() {
		errs = append(errs, FieldError{"item_type", "must be one of initiative, epic, feature, story, task"})
	}

	title := strings.TrimSpace(d.Title)
	if title == "" {
		errs = append(errs, FieldError{"title", "must not be empty"})
	} else if len(d.Title) > MaxTitleLen {
		errs = append(errs, FieldError{"title", fmt.Sprintf("must be at most %d characters", MaxTitleLen)})
	}

	if len(d.Description) > MaxDescriptionLen {
		errs = append(errs, FieldError{"description", fmt.Sprintf("must be at most %d characters", MaxDescriptionLen)})
	}

	if d.Priority != "" && !d.Priority.Valid() {
		errs = append(errs, FieldError{"priority", "must be one of low, medium, high, urgent"})
	}

	if d.Status != "" && !d.Status.Valid() {
		errs = append(errs, FieldError{"status", "unknown status"})
	}

	if len(d.Tags) > MaxTags {
		errs = append(errs, FieldError{"tags", fmt.Sprintf("must have at most %d entries", MaxTags)})
	}

	if len(d.AcceptanceCriteria) > MaxCriteria {
		errs = append(errs, FieldError{"acceptance_criteria", fmt.Sprintf("must have at most %d entries", MaxCriteria)})
	}
	for i, c := range d.AcceptanceCriteria {
		if len(c) > MaxCriterionLen {
			errs = append(errs, FieldError{fmt.Sprintf("acceptance_criteria[%d]", i), fmt.Sprintf("must be at most %d characters", MaxCriterionLen)})
		}
	}

	if d.EstimatedHours != nil && *d.EstimatedHours < 0 {
		errs = append(errs, FieldError{"estimated_hours", "must be non-negative"})
	}
	if d.ActualHours != nil && *d.ActualHours < 0 {
		errs = append(errs, FieldError{"actual_hours", "must be non-negative"})
	}
	if d.Progress != nil && (*d.Progress < 0 || *d.Progress > 1) {
		errs = append(errs, FieldError{"progress", "must be in [0,1]"})
	}

	// I9: autonomous_executable=true requires non-empty execution_instructions.
	if d.AutonomousExecutable && strings.TrimSpace(d.ExecutionInstructions) == "" {
		errs = append(errs, FieldError{"execution_instructions", "required when autonomous_executable is true"})
	}

	for _, dep := range d.Dependencies {
		if d.ID != "" && dep == d.ID {
			errs = append(errs, FieldError{"dependencies", "must not reference itself"})
			break
		}
	}

	return errs
}

// ValidatePatch checks the subset of fields present in an update patch.
// It does not know the existing record's other fields, so a full I9
// check (autonomous_executable vs execution_instructions) is re-run by
// the storage core after merging patch onto the existing record.
func ValidatePatch(p Patch) []FieldError {
	var errs []FieldError

	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			errs = append(errs, FieldError{"title", "must not be empty"})
		} else if len(*p.Title) > MaxTitleLen {
			errs = append(errs, FieldError{"title", fmt.Sprintf("must be at most %d characters", MaxTitleLen)})
		}
	}
	if p.Description != nil && len(*p.Description) > MaxDescriptionLen {
		errs = append(errs, FieldError{"description", fmt.Sprintf("must be at most %d characters", MaxDescriptionLen)})
	}
	if p.Priority != nil && !p.Priority.Valid() {
		errs = append(errs, FieldError{"priority", "must be one of low, medium, high, urgent"})
	}
	if p.Status != nil && !p.Status.Valid() {
		errs = append(errs, FieldError{"status", "unknown status"})
	}
	if p.TagsSet && len(p.Tags) > MaxTags {
		errs = append(errs, FieldError{"tags", fmt.Sprintf("must have at most %d entries", MaxTags)})
	}
	if p.AcceptanceCriteriaSet {
		if len(p.AcceptanceCriteria) > MaxCriteria {
			errs = append(errs, FieldError{"acceptance_criteria", fmt.Sprintf("must have at most %d entries", MaxCriteria)})
		}
		for i, c := range p.AcceptanceCriteria {
			if len(c) > MaxCriterionLen {
				errs = append(errs, FieldError{fmt.Sprintf("acceptance_criteria[%d]", i), fmt.Sprintf("must be at most %d characters", MaxCriterionLen)})
			}
		}
	}
	if p.EstimatedHours != nil && *p.EstimatedHours < 0 {
		errs = append(errs, FieldError{"estimated_hours", "must be non-negative"})
	}
	if p.ActualHours != nil && *p.ActualHours < 0 {
		errs = append(errs, FieldError{"actual_hours", "must be non-negative"})
	}
	if p.Progress != nil && (*p.Progress < 0 || *p.Progress > 1) {
		errs = append(errs, FieldError{"progress", "must be in [0,1]"})
	}

	return errs
}

// NormalizeTags dedupes tags preserving insertion order (I10), exported
// for the storage core to apply on both create and update paths.
func NormalizeTags(tags []string) []string {
	return dedupTags(tags)
}
