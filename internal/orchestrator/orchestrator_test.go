package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jivecore/jivecore/internal/hierarchy"
	"github.com/jivecore/jivecore/internal/store"
	"github.com/jivecore/jivecore/internal/workitem"
)

// fakeRunner records which items it ran; it waits delay (or until ctx is
// done) before answering, and reports failure for items listed in fail.
type fakeRunner struct {
	ran   []string
	fail  map[string]bool
	delay time.Duration
}

func (f *fakeRunner) RunItem(ctx context.Context, item *workitem.WorkItem, agentContext json.RawMessage) (*AgentOutcome, error) {
	f.ran = append(f.ran, item.ID)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return &AgentOutcome{Success: false}, ctx.Err()
		}
	}
	if f.fail != nil && f.fail[item.ID] {
		return &AgentOutcome{Success: false, Output: "boom"}, nil
	}
	return &AgentOutcome{Success: true, Output: "<done>"}, nil
}

func newTestSetup(t *testing.T, runner AgentRunner) (*Engine, *store.Store) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s := store.New(db, store.NewHashEmbedder(16), 16, true)
	h := hierarchy.New(s)
	eng := New(s, h, runner, 4, time.Minute)
	return eng, s
}

func create(t *testing.T, s *store.Store, typ workitem.Type, title, parentID string) string {
	t.Helper()
	id, err := s.CreateWorkItem(context.Background(), workitem.Draft{ItemType: typ, Title: title, ParentID: parentID})
	if err != nil {
		t.Fatalf("CreateWorkItem(%s): %v", title, err)
	}
	return id
}

func waitForTerminal(t *testing.T, eng *Engine, executionID string) *ExecutionStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, err := eng.GetExecutionStatus(context.Background(), executionID, false, false, false)
		if err != nil {
			t.Fatalf("GetExecutionStatus: %v", err)
		}
		switch status.Record.Status {
		case StatusCompleted, StatusFailed, StatusCancelled:
			return status
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("execution did not reach a terminal state in time")
	return nil
}

func TestExecute_SequentialRunsAllItemsInOrder(t *testing.T) {
	runner := &fakeRunner{}
	eng, s := newTestSetup(t, runner)
	ctx := context.Background()

	epic := create(t, s, workitem.TypeEpic, "E", "")
	create(t, s, workitem.TypeFeature, "F1", epic)
	create(t, s, workitem.TypeFeature, "F2", epic)

	executionID, err := eng.Execute(ctx, epic, ModeSequential, nil, false)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	status := waitForTerminal(t, eng, executionID)
	if status.Record.Status != StatusCompleted {
		t.Errorf("status = %s, want %s", status.Record.Status, StatusCompleted)
	}
	if len(runner.ran) != 3 {
		t.Errorf("ran %d items, want 3 (epic + 2 features)", len(runner.ran))
	}
	if len(runner.ran) > 0 && runner.ran[0] != epic {
		t.Errorf("first item run = %s, want the epic %s (sequential orders by hierarchy depth)", runner.ran[0], epic)
	}
}

func TestExecute_FailurePropagatesToBlockedDependents(t *testing.T) {
	runner := &fakeRunner{fail: map[string]bool{}}
	eng, s := newTestSetup(t, runner)
	ctx := context.Background()

	// A feature root with two stories, where B depends on the failing A.
	feature := create(t, s, workitem.TypeFeature, "Root", "")
	aID := create(t, s, workitem.TypeStory, "A", feature)
	bID := create(t, s, workitem.TypeStory, "B", feature)
	if _, err := s.UpdateWorkItem(ctx, bID, workitem.Patch{Dependencies: []string{aID}, DependenciesSet: true}); err != nil {
		t.Fatalf("UpdateWorkItem: %v", err)
	}
	runner.fail[aID] = true

	executionID, err := eng.Execute(ctx, feature, ModeDependencyBased, nil, false)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	status := waitForTerminal(t, eng, executionID)
	if status.Record.Status != StatusFailed {
		t.Errorf("status = %s, want %s", status.Record.Status, StatusFailed)
	}

	b, err := s.GetWorkItem(ctx, bID)
	if err != nil {
		t.Fatalf("GetWorkItem(B): %v", err)
	}
	if b.Status != workitem.StatusBlocked {
		t.Errorf("B status = %s, want %s (blocked by failed dependency A)", b.Status, workitem.StatusBlocked)
	}
}

func TestCancelExecution_ForceStopsAndRollsBack(t *testing.T) {
	runner := &fakeRunner{delay: 2 * time.Second}
	eng, s := newTestSetup(t, runner)
	ctx := context.Background()

	id := create(t, s, workitem.TypeTask, "Slow", "")
	executionID, err := eng.Execute(ctx, id, ModeSequential, nil, false)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// Give the goroutine a moment to mark the item in_progress.
	time.Sleep(50 * time.Millisecond)

	if err := eng.CancelExecution(ctx, executionID, "test cancel", true, true); err != nil {
		t.Fatalf("CancelExecution: %v", err)
	}

	item, err := s.GetWorkItem(ctx, id)
	if err != nil {
		t.Fatalf("GetWorkItem: %v", err)
	}
	if item.Status != workitem.StatusBacklog {
		t.Errorf("status = %s, want %s (rollback on force cancel)", item.Status, workitem.StatusBacklog)
	}

	status, err := eng.GetExecutionStatus(ctx, executionID, false, false, false)
	if err != nil {
		t.Fatalf("GetExecutionStatus: %v", err)
	}
	if status.Record.Status != StatusCancelled {
		t.Errorf("execution status = %s, want %s", status.Record.Status, StatusCancelled)
	}
}

func TestExecute_ValidationGateRejectsCyclicSubDAG(t *testing.T) {
	runner := &fakeRunner{}
	eng, s := newTestSetup(t, runner)
	ctx := context.Background()

	a := create(t, s, workitem.TypeTask, "A", "")
	b := create(t, s, workitem.TypeTask, "B", "")
	if err := s.AddDependencyEdge(ctx, a, b); err != nil {
		t.Fatalf("AddDependencyEdge: %v", err)
	}
	if err := s.AddDependencyEdge(ctx, b, a); err != nil {
		t.Fatalf("AddDependencyEdge: %v", err)
	}

	_, err := eng.Execute(ctx, a, ModeDependencyBased, nil, true)
	if err == nil {
		t.Fatal("expected validation gate to reject a cyclic sub-DAG")
	}
}
