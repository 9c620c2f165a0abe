package store

import (
	"context"
	"testing"
	"time"

	"github.com/jivecore/jivecore/internal/workitem"
)

func TestExecutionRecordLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	workItemID, err := s.CreateWorkItem(ctx, workitem.Draft{ItemType: workitem.TypeTask, Title: "Task"})
	if err != nil {
		t.Fatalf("CreateWorkItem: %v", err)
	}

	record := &ExecutionRecord{
		ExecutionID: "exec-1",
		WorkItemID:  workItemID,
		Mode:        "autonomous",
		Status:      "running",
		Plan:        []string{"step1", "step2"},
		StartedAt:   time.Unix(1000, 0).UTC(),
	}
	if err := s.SaveExecutionRecord(ctx, record); err != nil {
		t.Fatalf("SaveExecutionRecord: %v", err)
	}

	if err := s.AppendExecutionLog(ctx, "exec-1", ExecutionLogEntry{
		Timestamp: time.Unix(1001, 0).UTC(), Level: "info", Message: "started step1",
	}); err != nil {
		t.Fatalf("AppendExecutionLog: %v", err)
	}

	if err := s.AddExecutionArtifact(ctx, "exec-1", ExecutionArtifact{Name: "diff.patch", URI: "file:///tmp/diff.patch", Digest: "abc123"}); err != nil {
		t.Fatalf("AddExecutionArtifact: %v", err)
	}

	if err := s.AddExecutionValidation(ctx, "exec-1", ExecutionValidation{Check: "tests_pass", Outcome: "pass"}); err != nil {
		t.Fatalf("AddExecutionValidation: %v", err)
	}

	finished := time.Unix(2000, 0).UTC()
	if err := s.UpdateExecutionStatus(ctx, "exec-1", "completed", &finished, "", false); err != nil {
		t.Fatalf("UpdateExecutionStatus: %v", err)
	}

	got, logs, artifacts, validations, err := s.GetExecutionRecord(ctx, "exec-1", true, true, true)
	if err != nil {
		t.Fatalf("GetExecutionRecord: %v", err)
	}
	if got == nil {
		t.Fatal("expected record, got nil")
	}
	if got.Status != "completed" {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Errorf("finished_at = %v, want %v", got.FinishedAt, finished)
	}
	if len(got.Plan) != 2 {
		t.Errorf("plan = %v, want 2 entries", got.Plan)
	}
	if len(logs) != 1 || logs[0].Message != "started step1" {
		t.Errorf("logs = %+v", logs)
	}
	if len(artifacts) != 1 || artifacts[0].Name != "diff.patch" {
		t.Errorf("artifacts = %+v", artifacts)
	}
	if len(validations) != 1 || validations[0].Check != "tests_pass" {
		t.Errorf("validations = %+v", validations)
	}
}

func TestGetExecutionRecord_NotFound(t *testing.T) {
	s := newTestStore(t)
	got, _, _, _, err := s.GetExecutionRecord(context.Background(), "missing", false, false, false)
	if err != nil {
		t.Fatalf("GetExecutionRecord: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for unknown execution id, got %+v", got)
	}
}

func TestMarkArtifactsSuperseded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	workItemID, _ := s.CreateWorkItem(ctx, workitem.Draft{ItemType: workitem.TypeTask, Title: "Task"})
	_ = s.SaveExecutionRecord(ctx, &ExecutionRecord{
		ExecutionID: "exec-2", WorkItemID: workItemID, Mode: "autonomous", Status: "running", StartedAt: time.Unix(1, 0).UTC(),
	})
	_ = s.AddExecutionArtifact(ctx, "exec-2", ExecutionArtifact{Name: "a", URI: "file:///a"})

	if err := s.MarkArtifactsSuperseded(ctx, "exec-2"); err != nil {
		t.Fatalf("MarkArtifactsSuperseded: %v", err)
	}

	_, _, artifacts, _, err := s.GetExecutionRecord(ctx, "exec-2", false, true, false)
	if err != nil {
		t.Fatalf("GetExecutionRecord: %v", err)
	}
	if len(artifacts) != 1 || !artifacts[0].Superseded {
		t.Errorf("expected superseded artifact, got %+v", artifacts)
	}
}
