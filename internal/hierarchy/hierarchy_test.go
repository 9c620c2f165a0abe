package hierarchy

import (
	"context"
	"testing"

	"github.com/jivecore/jivecore/internal/corerr"
	"github.com/jivecore/jivecore/internal/store"
	"github.com/jivecore/jivecore/internal/workitem"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s := store.New(db, store.NewHashEmbedder(16), 16, true)
	return New(s), s
}

func create(t *testing.T, s *store.Store, typ workitem.Type, title, parentID string) string {
	t.Helper()
	id, err := s.CreateWorkItem(context.Background(), workitem.Draft{
		ItemType: typ, Title: title, ParentID: parentID,
	})
	if err != nil {
		t.Fatalf("CreateWorkItem(%s): %v", title, err)
	}
	return id
}

func TestGetChildren_S2Scenario(t *testing.T) {
	eng, s := newTestEngine(t)
	ctx := context.Background()

	epic := create(t, s, workitem.TypeEpic, "E", "")
	f1 := create(t, s, workitem.TypeFeature, "F1", epic)
	_ = create(t, s, workitem.TypeFeature, "F2", epic)
	s1 := create(t, s, workitem.TypeStory, "S1", f1)
	_ = create(t, s, workitem.TypeStory, "S2", f1)

	direct, err := eng.GetChildren(ctx, epic, false)
	if err != nil {
		t.Fatalf("GetChildren direct: %v", err)
	}
	if len(direct) != 2 {
		t.Errorf("direct children = %d, want 2", len(direct))
	}

	all, err := eng.GetChildren(ctx, epic, true)
	if err != nil {
		t.Fatalf("GetChildren recursive: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("recursive children = %d, want 4 (F1,F2,S1,S2)", len(all))
	}

	chain, err := eng.GetParentChain(ctx, s1)
	if err != nil {
		t.Fatalf("GetParentChain: %v", err)
	}
	if len(chain) != 2 || chain[0].ID != f1 || chain[1].ID != epic {
		t.Errorf("parent chain = %+v, want [F1, E]", chain)
	}
}

func TestAddDependency_RejectsCycle_S3Scenario(t *testing.T) {
	eng, s := newTestEngine(t)
	ctx := context.Background()

	a := create(t, s, workitem.TypeTask, "A", "")
	b := create(t, s, workitem.TypeTask, "B", "")
	c := create(t, s, workitem.TypeTask, "C", "")

	if err := eng.AddDependency(ctx, a, b); err != nil {
		t.Fatalf("AddDependency(A,B): %v", err)
	}
	if err := eng.AddDependency(ctx, b, c); err != nil {
		t.Fatalf("AddDependency(B,C): %v", err)
	}

	err := eng.AddDependency(ctx, c, a)
	if corerr.CodeOf(err) != corerr.CodeInvariantViolation {
		t.Fatalf("expected InvariantViolation, got %v", err)
	}
}

func TestAddDependency_SelfReference(t *testing.T) {
	eng, s := newTestEngine(t)
	ctx := context.Background()
	a := create(t, s, workitem.TypeTask, "A", "")

	err := eng.AddDependency(ctx, a, a)
	if corerr.CodeOf(err) != corerr.CodeInvariantViolation {
		t.Errorf("expected InvariantViolation for self dependency, got %v", err)
	}
}

func TestGetDependencies_Transitive(t *testing.T) {
	eng, s := newTestEngine(t)
	ctx := context.Background()

	a := create(t, s, workitem.TypeTask, "A", "")
	b := create(t, s, workitem.TypeTask, "B", "")
	c := create(t, s, workitem.TypeTask, "C", "")
	_ = eng.AddDependency(ctx, a, b)
	_ = eng.AddDependency(ctx, b, c)

	direct, err := eng.GetDependencies(ctx, a, false, false)
	if err != nil {
		t.Fatalf("GetDependencies direct: %v", err)
	}
	if len(direct) != 1 || direct[0].ID != b {
		t.Errorf("direct deps = %+v, want [B]", direct)
	}

	transitive, err := eng.GetDependencies(ctx, a, true, false)
	if err != nil {
		t.Fatalf("GetDependencies transitive: %v", err)
	}
	if len(transitive) != 2 {
		t.Errorf("transitive deps = %+v, want 2 entries (B,C)", transitive)
	}
}

func TestRecalculateProgress_MeanOfChildren(t *testing.T) {
	eng, s := newTestEngine(t)
	ctx := context.Background()

	epic := create(t, s, workitem.TypeEpic, "E", "")
	f1 := create(t, s, workitem.TypeFeature, "F1", epic)
	f2 := create(t, s, workitem.TypeFeature, "F2", epic)

	half := 0.5
	full := 1.0
	if _, err := s.UpdateWorkItem(ctx, f1, workitem.Patch{Progress: &half}); err != nil {
		t.Fatalf("update f1: %v", err)
	}
	if _, err := s.UpdateWorkItem(ctx, f2, workitem.Patch{Progress: &full}); err != nil {
		t.Fatalf("update f2: %v", err)
	}

	updated, err := eng.RecalculateProgress(ctx, epic)
	if err != nil {
		t.Fatalf("RecalculateProgress: %v", err)
	}
	if len(updated) == 0 {
		t.Fatal("expected at least one updated id")
	}

	got, err := s.GetWorkItem(ctx, epic)
	if err != nil {
		t.Fatalf("GetWorkItem: %v", err)
	}
	if got.Progress != 0.75 {
		t.Errorf("epic progress = %v, want 0.75", got.Progress)
	}
}

func TestRecalculateProgress_Idempotent(t *testing.T) {
	eng, s := newTestEngine(t)
	ctx := context.Background()

	epic := create(t, s, workitem.TypeEpic, "E", "")
	_ = create(t, s, workitem.TypeFeature, "F1", epic)

	if _, err := eng.RecalculateProgress(ctx, epic); err != nil {
		t.Fatalf("first RecalculateProgress: %v", err)
	}
	updated, err := eng.RecalculateProgress(ctx, epic)
	if err != nil {
		t.Fatalf("second RecalculateProgress: %v", err)
	}
	if len(updated) != 0 {
		t.Errorf("second pass should be a no-op, updated = %v", updated)
	}
}

func TestValidateDependencies_DetectsCyclesAndSuggestsFixes(t *testing.T) {
	eng, s := newTestEngine(t)
	ctx := context.Background()

	a := create(t, s, workitem.TypeTask, "A", "")
	b := create(t, s, workitem.TypeTask, "B", "")
	_ = eng.AddDependency(ctx, a, b)
	// Insert a raw edge that closes a cycle, bypassing AddDependency's own
	// rejection, to exercise the whole-graph validator directly.
	if err := s.AddDependencyEdge(ctx, b, a); err != nil {
		t.Fatalf("AddDependencyEdge: %v", err)
	}

	report, err := eng.ValidateDependencies(ctx, ValidateDependenciesOptions{
		CheckCycles:  true,
		SuggestFixes: true,
	})
	if err != nil {
		t.Fatalf("ValidateDependencies: %v", err)
	}
	if len(report.Cycles) == 0 {
		t.Error("expected at least one detected cycle")
	}
	if len(report.SuggestedRemovals) == 0 {
		t.Error("expected at least one suggested removal")
	}
}

func TestMoveParent_RejectsWrongRank(t *testing.T) {
	eng, s := newTestEngine(t)
	ctx := context.Background()

	epic := create(t, s, workitem.TypeEpic, "E", "")
	task := create(t, s, workitem.TypeTask, "T", "")

	err := eng.MoveParent(ctx, task, epic)
	if corerr.CodeOf(err) != corerr.CodeInvariantViolation {
		t.Errorf("expected InvariantViolation moving task under epic, got %v", err)
	}
}

func TestMoveParent_AcceptsCorrectRank(t *testing.T) {
	eng, s := newTestEngine(t)
	ctx := context.Background()

	epic := create(t, s, workitem.TypeEpic, "E", "")
	feature := create(t, s, workitem.TypeFeature, "F", "")

	if err := eng.MoveParent(ctx, feature, epic); err != nil {
		t.Fatalf("MoveParent: %v", err)
	}
	got, err := s.GetWorkItem(ctx, feature)
	if err != nil {
		t.Fatalf("GetWorkItem: %v", err)
	}
	if got.ParentID != epic {
		t.Errorf("parent_id = %q, want %q", got.ParentID, epic)
	}
}
