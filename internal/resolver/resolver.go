// Package resolver implements the identifier resolver of §4.B: mapping
// any reasonable reference to a work item (a UUID, an exact title, or a
// fuzzy description) to its canonical id.
package resolver

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/jivecore/jivecore/internal/store"
)

// MatchKind records which step of the algorithm produced a match.
type MatchKind string

const (
	MatchUUID   MatchKind = "uuid"
	MatchTitle  MatchKind = "title"
	MatchSearch MatchKind = "search"
	MatchNone   MatchKind = "none"
)

// searchScoreCutoff and searchScoreMargin implement §4.B step 3: only a
// hybrid-search hit scoring >= 0.5 and beating the runner-up by >= 0.15
// counts as resolved; otherwise the caller gets the candidate list back
// and no resolution.
const (
	searchScoreCutoff = 0.5
	searchScoreMargin = 0.15
	searchLimit       = 5
)

// Candidate is one unresolved hit surfaced to the caller when resolution
// is ambiguous or below threshold.
type Candidate struct {
	ID    string
	Title string
	Score float64
}

// Detail is the full resolve_detail(identifier) result of §4.B.
type Detail struct {
	ID         string
	MatchedBy  MatchKind
	Candidates []Candidate
}

// Resolver resolves user-supplied identifiers against the storage core.
type Resolver struct {
	store *store.Store
}

// New creates a Resolver over the given storage core.
func New(s *store.Store) *Resolver {
	return &Resolver{store: s}
}

var foldCaser = cases.Fold()

// normalizeTitle applies Unicode NFC normalisation then Unicode case
// folding, so "Café" and "café" compare equal regardless of case
// (domain-stack entry: golang.org/x/text for resolver title matching).
func normalizeTitle(s string) string {
	return foldCaser.String(norm.NFC.String(strings.TrimSpace(s)))
}

// Resolve implements resolve(identifier) -> UUID | None. It never returns
// an error for unresolvable input; ok is false when nothing matched.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (id string, ok bool, err error) {
	detail, err := r.ResolveDetail(ctx, identifier)
	if err != nil {
		return "", false, err
	}
	if detail.MatchedBy == MatchNone {
		return "", false, nil
	}
	return detail.ID, true, nil
}

// ResolveDetail implements resolve_detail(identifier) -> {matched_by,
// candidates} per §4.B's algorithm: UUID match, then exact title match,
// then a cut-off hybrid search.
func (r *Resolver) ResolveDetail(ctx context.Context, identifier string) (Detail, error) {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return Detail{MatchedBy: MatchNone}, nil
	}

	if looksLikeUUID(trimmed) {
		canonical := strings.ToLower(trimmed)
		item, err := r.store.GetWorkItem(ctx, canonical)
		if err != nil {
			return Detail{}, err
		}
		if item == nil {
			return Detail{MatchedBy: MatchNone}, nil
		}
		return Detail{ID: item.ID, MatchedBy: MatchUUID}, nil
	}

	titleMatches, err := r.exactTitleMatches(ctx, trimmed)
	if err != nil {
		return Detail{}, err
	}
	if len(titleMatches) == 1 {
		return Detail{ID: titleMatches[0].ID, MatchedBy: MatchTitle}, nil
	}

	resp, err := r.store.SearchWorkItems(ctx, store.SearchOptions{
		Query: trimmed,
		Mode:  store.SearchHybrid,
		Limit: searchLimit,
	})
	if err != nil {
		// An unavailable index is not a resolution error per §4.B's
		// "return None without error" boundary behaviour.
		return Detail{MatchedBy: MatchNone}, nil
	}

	candidates := make([]Candidate, 0, len(resp.Results))
	for _, res := range resp.Results {
		if res.Score < searchScoreCutoff {
			continue
		}
		candidates = append(candidates, Candidate{ID: res.Item.ID, Title: res.Item.Title, Score: res.Score})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })

	if len(candidates) == 0 {
		return Detail{MatchedBy: MatchNone}, nil
	}
	if len(candidates) == 1 || candidates[0].Score-candidates[1].Score >= searchScoreMargin {
		return Detail{ID: candidates[0].ID, MatchedBy: MatchSearch, Candidates: candidates}, nil
	}
	return Detail{MatchedBy: MatchNone, Candidates: candidates}, nil
}

// exactTitleMatches returns every work item whose title is
// Unicode-fold-equal to the query (§4.B step 2).
func (r *Resolver) exactTitleMatches(ctx context.Context, title string) ([]*workitemLite, error) {
	want := normalizeTitle(title)

	items, err := r.store.ListWorkItems(ctx, store.ListOptions{})
	if err != nil {
		return nil, err
	}

	var matches []*workitemLite
	for _, it := range items {
		if normalizeTitle(it.Title) == want {
			matches = append(matches, &workitemLite{ID: it.ID, Title: it.Title})
		}
	}
	return matches, nil
}

type workitemLite struct {
	ID    string
	Title string
}

// looksLikeUUID reports whether s parses as a UUID (any version); the
// resolver treats this as "attempt the uuid path", the actual id-exists
// check happens in the storage lookup that follows.
func looksLikeUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
