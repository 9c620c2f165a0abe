package workitem

import "testing"

func TestValidateDraft_EmptyTitle(t *testing.T) {
	errs := ValidateDraft(Draft{ItemType: TypeTask, Title: ""})
	if !hasField(errs, "title") {
		t.Errorf("expected title error, got %v", errs)
	}
}

func TestValidateDraft_TitleTooLong(t *testing.T) {
	long := make([]byte, MaxTitleLen+1)
	for i := range long {
		long[i] = 'a'
	}
	errs := ValidateDraft(Draft{ItemType: TypeTask, Title: string(long)})
	if !hasField(errs, "title") {
		t.Errorf("expected title error, got %v", errs)
	}
}

func TestValidateDraft_AutonomousRequiresInstructions(t *testing.T) {
	errs := ValidateDraft(Draft{ItemType: TypeTask, Title: "x", AutonomousExecutable: true})
	if !hasField(errs, "execution_instructions") {
		t.Errorf("expected execution_instructions error, got %v", errs)
	}
}

func TestValidateDraft_SelfDependency(t *testing.T) {
	errs := ValidateDraft(Draft{ID: "a", ItemType: TypeTask, Title: "x", Dependencies: []string{"a"}})
	if !hasField(errs, "dependencies") {
		t.Errorf("expected dependencies error, got %v", errs)
	}
}

func TestValidateDraft_Valid(t *testing.T) {
	errs := ValidateDraft(Draft{ItemType: TypeTask, Title: "Implement login", Description: "JWT-based auth", Priority: PriorityHigh})
	if len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func TestNormalizeTags_Dedup(t *testing.T) {
	got := NormalizeTags([]string{"a", "b", "a", "c", "b"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func hasField(errs []FieldError, field string) bool {
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}
