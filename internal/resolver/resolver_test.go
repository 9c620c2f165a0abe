package resolver

import (
	"context"
	"testing"

	"github.com/jivecore/jivecore/internal/store"
	"github.com/jivecore/jivecore/internal/workitem"
)

func newTestResolver(t *testing.T) (*Resolver, *store.Store) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s := store.New(db, store.NewHashEmbedder(32), 32, true)
	return New(s), s
}

func TestResolve_ByUUID(t *testing.T) {
	r, s := newTestResolver(t)
	ctx := context.Background()

	id, err := s.CreateWorkItem(ctx, workitem.Draft{ItemType: workitem.TypeTask, Title: "Implement login"})
	if err != nil {
		t.Fatalf("CreateWorkItem: %v", err)
	}

	detail, err := r.ResolveDetail(ctx, id)
	if err != nil {
		t.Fatalf("ResolveDetail: %v", err)
	}
	if detail.MatchedBy != MatchUUID || detail.ID != id {
		t.Errorf("detail = %+v, want uuid match on %s", detail, id)
	}
}

func TestResolve_NonexistentUUID(t *testing.T) {
	r, _ := newTestResolver(t)
	detail, err := r.ResolveDetail(context.Background(), "00000000-0000-4000-8000-000000000000")
	if err != nil {
		t.Fatalf("ResolveDetail: %v", err)
	}
	if detail.MatchedBy != MatchNone {
		t.Errorf("expected MatchNone for nonexistent uuid, got %+v", detail)
	}
}

func TestResolve_ExactTitleCaseInsensitive(t *testing.T) {
	r, s := newTestResolver(t)
	ctx := context.Background()

	id, _ := s.CreateWorkItem(ctx, workitem.Draft{ItemType: workitem.TypeTask, Title: "Implement Login"})

	detail, err := r.ResolveDetail(ctx, "implement login")
	if err != nil {
		t.Fatalf("ResolveDetail: %v", err)
	}
	if detail.MatchedBy != MatchTitle || detail.ID != id {
		t.Errorf("detail = %+v, want title match on %s", detail, id)
	}
}

func TestResolve_EmptyInput(t *testing.T) {
	r, _ := newTestResolver(t)
	detail, err := r.ResolveDetail(context.Background(), "   ")
	if err != nil {
		t.Fatalf("ResolveDetail: %v", err)
	}
	if detail.MatchedBy != MatchNone {
		t.Errorf("expected MatchNone for blank input, got %+v", detail)
	}
}

func TestResolve_SpecialCharsOnly(t *testing.T) {
	r, s := newTestResolver(t)
	ctx := context.Background()
	_, _ = s.CreateWorkItem(ctx, workitem.Draft{ItemType: workitem.TypeTask, Title: "Implement login"})

	detail, err := r.ResolveDetail(ctx, "@#$%")
	if err != nil {
		t.Fatalf("ResolveDetail: %v", err)
	}
	if detail.MatchedBy != MatchNone {
		t.Errorf("expected MatchNone for special-chars-only input, got %+v", detail)
	}
}

func TestResolve_DuplicateTitlesFallThroughToSearch(t *testing.T) {
	r, s := newTestResolver(t)
	ctx := context.Background()
	_, _ = s.CreateWorkItem(ctx, workitem.Draft{ItemType: workitem.TypeTask, Title: "alpha"})
	_, _ = s.CreateWorkItem(ctx, workitem.Draft{ItemType: workitem.TypeTask, Title: "alpha"})

	// Two items share an exact title, so step 2 can't disambiguate and the
	// resolver must fall through to search without erroring.
	if _, err := r.ResolveDetail(ctx, "alpha"); err != nil {
		t.Fatalf("ResolveDetail: %v", err)
	}
}
