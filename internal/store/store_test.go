package store

import (
	"context"
	"testing"

	"github.com/jivecore/jivecore/internal/corerr"
	"github.com/jivecore/jivecore/internal/workitem"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, NewHashEmbedder(32), 32, true)
}

func TestCreateAndGetWorkItem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateWorkItem(ctx, workitem.Draft{
		ItemType:    workitem.TypeTask,
		Title:       "Implement login",
		Description: "JWT-based auth",
		Priority:    workitem.PriorityHigh,
	})
	if err != nil {
		t.Fatalf("CreateWorkItem: %v", err)
	}

	item, err := s.GetWorkItem(ctx, id)
	if err != nil {
		t.Fatalf("GetWorkItem: %v", err)
	}
	if item == nil {
		t.Fatal("expected item, got nil")
	}
	if item.Status != workitem.StatusBacklog {
		t.Errorf("status = %s, want backlog", item.Status)
	}
	if item.Progress != 0 {
		t.Errorf("progress = %v, want 0", item.Progress)
	}
	if len(item.Vector) != 32 {
		t.Errorf("vector len = %d, want 32", len(item.Vector))
	}
	if !item.CreatedAt.Equal(item.UpdatedAt) {
		t.Errorf("created_at != updated_at on fresh item")
	}
}

func TestCreateWorkItem_InvalidTitle(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateWorkItem(context.Background(), workitem.Draft{ItemType: workitem.TypeTask, Title: ""})
	if corerr.CodeOf(err) != corerr.CodeInvalidArgument {
		t.Errorf("expected InvalidArgument, got %v", err)
	}
}

func TestUpdateWorkItem_NoopPatchPreservesFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, _ := s.CreateWorkItem(ctx, workitem.Draft{ItemType: workitem.TypeTask, Title: "Task"})
	first, _ := s.GetWorkItem(ctx, id)

	updated, err := s.UpdateWorkItem(ctx, id, workitem.Patch{})
	if err != nil {
		t.Fatalf("UpdateWorkItem: %v", err)
	}

	if updated.Title != first.Title || updated.Description != first.Description {
		t.Errorf("no-op patch changed fields: %+v vs %+v", updated, first)
	}
	if !updated.UpdatedAt.After(first.UpdatedAt) && !updated.UpdatedAt.Equal(first.UpdatedAt) {
		t.Errorf("updated_at should not go backwards")
	}
}

func TestUpdateWorkItem_RejectsIllegalTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.CreateWorkItem(ctx, workitem.Draft{ItemType: workitem.TypeTask, Title: "Task"})

	bad := workitem.StatusApproved // backlog -> approved is not legal
	_, err := s.UpdateWorkItem(ctx, id, workitem.Patch{Status: &bad})
	if corerr.CodeOf(err) != corerr.CodeInvalidTransition {
		t.Errorf("expected InvalidTransition, got %v", err)
	}
}

func TestDeleteWorkItem_HasChildren(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parentID, _ := s.CreateWorkItem(ctx, workitem.Draft{ItemType: workitem.TypeEpic, Title: "Epic"})
	_, _ = s.CreateWorkItem(ctx, workitem.Draft{ItemType: workitem.TypeFeature, Title: "Feature", ParentID: parentID})

	_, err := s.DeleteWorkItem(ctx, parentID, false)
	if corerr.CodeOf(err) != corerr.CodeHasChildren {
		t.Errorf("expected HasChildren, got %v", err)
	}

	n, err := s.DeleteWorkItem(ctx, parentID, true)
	if err != nil {
		t.Fatalf("cascade delete failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 deleted, got %d", n)
	}
}

func TestDeleteWorkItem_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.DeleteWorkItem(context.Background(), "00000000-0000-4000-8000-000000000000", true)
	if corerr.CodeOf(err) != corerr.CodeNotFound {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestListWorkItems_FiltersByType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _ = s.CreateWorkItem(ctx, workitem.Draft{ItemType: workitem.TypeTask, Title: "T1"})
	_, _ = s.CreateWorkItem(ctx, workitem.Draft{ItemType: workitem.TypeEpic, Title: "E1"})

	items, err := s.ListWorkItems(ctx, ListOptions{Filters: ListFilters{ItemType: workitem.TypeTask}})
	if err != nil {
		t.Fatalf("ListWorkItems: %v", err)
	}
	if len(items) != 1 || items[0].ItemType != workitem.TypeTask {
		t.Errorf("expected 1 task, got %+v", items)
	}
}

func TestCountWorkItems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _ = s.CreateWorkItem(ctx, workitem.Draft{ItemType: workitem.TypeTask, Title: "T1"})
	_, _ = s.CreateWorkItem(ctx, workitem.Draft{ItemType: workitem.TypeTask, Title: "T2"})

	count, err := s.CountWorkItems(ctx, ListFilters{})
	if err != nil {
		t.Fatalf("CountWorkItems: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestTagsDeduplicatedAndOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, _ := s.CreateWorkItem(ctx, workitem.Draft{
		ItemType: workitem.TypeTask, Title: "T", Tags: []string{"b", "a", "b"},
	})
	item, _ := s.GetWorkItem(ctx, id)
	if len(item.Tags) != 2 || item.Tags[0] != "b" || item.Tags[1] != "a" {
		t.Errorf("tags = %v, want [b a]", item.Tags)
	}
}

func TestCreateWorkItem_RejectsWrongParentRank(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	featureID, _ := s.CreateWorkItem(ctx, workitem.Draft{ItemType: workitem.TypeFeature, Title: "F"})

	_, err := s.CreateWorkItem(ctx, workitem.Draft{
		ItemType: workitem.TypeEpic, Title: "E", ParentID: featureID,
	})
	if corerr.CodeOf(err) != corerr.CodeInvariantViolation {
		t.Errorf("epic under feature: expected InvariantViolation, got %v", err)
	}

	_, err = s.CreateWorkItem(ctx, workitem.Draft{
		ItemType: workitem.TypeStory, Title: "S", ParentID: "00000000-0000-4000-8000-000000000000",
	})
	if corerr.CodeOf(err) != corerr.CodeNotFound {
		t.Errorf("missing parent: expected NotFound, got %v", err)
	}
}

func TestCreateWorkItem_DependencyMustExist(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateWorkItem(context.Background(), workitem.Draft{
		ItemType: workitem.TypeTask, Title: "T",
		Dependencies: []string{"00000000-0000-4000-8000-000000000000"},
	})
	if corerr.CodeOf(err) != corerr.CodeNotFound {
		t.Errorf("expected NotFound for missing dependency target, got %v", err)
	}
}

func TestUpdateWorkItem_SyncsDependencyEdges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	aID, _ := s.CreateWorkItem(ctx, workitem.Draft{ItemType: workitem.TypeTask, Title: "A"})
	bID, _ := s.CreateWorkItem(ctx, workitem.Draft{ItemType: workitem.TypeTask, Title: "B"})

	if _, err := s.UpdateWorkItem(ctx, aID, workitem.Patch{Dependencies: []string{bID}, DependenciesSet: true}); err != nil {
		t.Fatalf("UpdateWorkItem: %v", err)
	}
	deps, err := s.DependenciesOf(ctx, aID)
	if err != nil {
		t.Fatalf("DependenciesOf: %v", err)
	}
	if len(deps) != 1 || deps[0] != bID {
		t.Errorf("junction edges = %v, want [%s]", deps, bID)
	}

	if _, err := s.UpdateWorkItem(ctx, aID, workitem.Patch{Dependencies: []string{}, DependenciesSet: true}); err != nil {
		t.Fatalf("UpdateWorkItem clear: %v", err)
	}
	deps, _ = s.DependenciesOf(ctx, aID)
	if len(deps) != 0 {
		t.Errorf("junction edges after clear = %v, want none", deps)
	}
}

func TestUpdateWorkItem_RejectsDependencyCycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	aID, _ := s.CreateWorkItem(ctx, workitem.Draft{ItemType: workitem.TypeTask, Title: "A"})
	bID, _ := s.CreateWorkItem(ctx, workitem.Draft{ItemType: workitem.TypeTask, Title: "B"})

	if _, err := s.UpdateWorkItem(ctx, aID, workitem.Patch{Dependencies: []string{bID}, DependenciesSet: true}); err != nil {
		t.Fatalf("UpdateWorkItem(a->b): %v", err)
	}
	_, err := s.UpdateWorkItem(ctx, bID, workitem.Patch{Dependencies: []string{aID}, DependenciesSet: true})
	if corerr.CodeOf(err) != corerr.CodeInvariantViolation {
		t.Errorf("expected InvariantViolation for b->a closing a cycle, got %v", err)
	}
}
