package store

import (
	"context"
	"testing"
	"time"

	"github.com/jivecore/jivecore/internal/workitem"
)

func TestUpsertSyncState_InsertAndUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	workItemID, _ := s.CreateWorkItem(ctx, workitem.Draft{ItemType: workitem.TypeTask, Title: "Task"})

	st := SyncState{
		FilePath:        "work/task-1.md",
		WorkItemID:      workItemID,
		ContentChecksum: "checksum-v1",
		LastSyncAt:      time.Unix(1000, 0).UTC(),
		Direction:       "file_to_db",
	}
	if err := s.UpsertSyncState(ctx, st); err != nil {
		t.Fatalf("UpsertSyncState insert: %v", err)
	}

	got, err := s.GetSyncState(ctx, st.FilePath, workItemID)
	if err != nil {
		t.Fatalf("GetSyncState: %v", err)
	}
	if got == nil || got.ContentChecksum != "checksum-v1" {
		t.Fatalf("got = %+v, want checksum-v1", got)
	}

	st.ContentChecksum = "checksum-v2"
	st.Direction = "db_to_file"
	if err := s.UpsertSyncState(ctx, st); err != nil {
		t.Fatalf("UpsertSyncState update: %v", err)
	}

	got, err = s.GetSyncState(ctx, st.FilePath, workItemID)
	if err != nil {
		t.Fatalf("GetSyncState after update: %v", err)
	}
	if got.ContentChecksum != "checksum-v2" || got.Direction != "db_to_file" {
		t.Errorf("update not applied: %+v", got)
	}
}

func TestGetSyncState_Missing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetSyncState(context.Background(), "no/such/file.md", "no-such-id")
	if err != nil {
		t.Fatalf("GetSyncState: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for unknown pair, got %+v", got)
	}
}

func TestListSyncStates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, _ := s.CreateWorkItem(ctx, workitem.Draft{ItemType: workitem.TypeTask, Title: "T1"})
	id2, _ := s.CreateWorkItem(ctx, workitem.Draft{ItemType: workitem.TypeTask, Title: "T2"})

	_ = s.UpsertSyncState(ctx, SyncState{FilePath: "a.md", WorkItemID: id1, ContentChecksum: "x", LastSyncAt: time.Unix(1, 0).UTC(), Direction: "file_to_db"})
	_ = s.UpsertSyncState(ctx, SyncState{FilePath: "b.md", WorkItemID: id2, ContentChecksum: "y", LastSyncAt: time.Unix(2, 0).UTC(), Direction: "file_to_db"})

	states, err := s.ListSyncStates(ctx)
	if err != nil {
		t.Fatalf("ListSyncStates: %v", err)
	}
	if len(states) != 2 {
		t.Errorf("expected 2 sync states, got %d", len(states))
	}
}

func TestGetSyncStateByWorkItem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	workItemID, _ := s.CreateWorkItem(ctx, workitem.Draft{ItemType: workitem.TypeTask, Title: "Task"})
	_ = s.UpsertSyncState(ctx, SyncState{
		FilePath: "work/task.md", WorkItemID: workItemID, ContentChecksum: "z",
		LastSyncAt: time.Unix(5, 0).UTC(), Direction: "db_to_file",
	})

	got, err := s.GetSyncStateByWorkItem(ctx, workItemID)
	if err != nil {
		t.Fatalf("GetSyncStateByWorkItem: %v", err)
	}
	if got == nil || got.FilePath != "work/task.md" {
		t.Errorf("got = %+v", got)
	}
}
