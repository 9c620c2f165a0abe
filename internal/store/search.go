package store

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/jivecore/jivecore/internal/corerr"
	"github.com/jivecore/jivecore/internal/workitem"
)

// SearchMode selects the ranking strategy for search_work_items (§4.C).
type SearchMode string

const (
	SearchVector  SearchMode = "vector"
	SearchKeyword SearchMode = "keyword"
	SearchHybrid  SearchMode = "hybrid"
)

// vectorIndexThreshold is the row count at or above which the vector
// index is cached between searches; below it every search scans the table.
const vectorIndexThreshold = 16

// vectorIndexRebuildFraction is the change in row count, as a fraction of
// the row count at the last build, beyond which a cached index is rebuilt
// (see ensureVectorIndex for when a cache survives that long).
const vectorIndexRebuildFraction = 0.25

// searchTimeout is the overall deadline on one search request.
const searchTimeout = 10 * time.Second

// vectorIndex is a flat in-memory cache of (id, vector) pairs. modernc's
// pure-Go SQLite has no ANN extension, so nearest-neighbour is computed
// by scanning this cache — acceptable at the corpora sizes this system
// targets (§4.C latency target is stated for corpora <= 100k items).
type vectorIndex struct {
	ids     []string
	vectors [][]float32
	builtAt int // row count as of last build
}

// SearchResult is one ranked hit from search_work_items.
type SearchResult struct {
	Item  *workitem.WorkItem
	Score float64
}

// SearchOptions configures search_work_items.
type SearchOptions struct {
	Query       string
	Mode        SearchMode
	Filters     ListFilters
	Limit       int
	HybridAlpha float64 // weighting for hybrid mode; default 0.5
}

// SearchResponse is the result of search_work_items including the
// fallback flag of §4.C ("If a requested mode fails, the core attempts
// the sibling mode ... and marks the response fallback_used: true").
type SearchResponse struct {
	Results      []SearchResult
	FallbackUsed bool
}

// SearchWorkItems dispatches to the requested mode, falling back to the
// sibling mode on failure, and surfacing IndexUnavailable only if both
// modes fail.
func (s *Store) SearchWorkItems(ctx context.Context, opts SearchOptions) (*SearchResponse, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		return nil, corerr.InvalidArgument("limit must be in 1..100")
	}
	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	alpha := opts.HybridAlpha
	if alpha == 0 {
		alpha = 0.5
	}

	switch opts.Mode {
	case SearchVector, "":
		results, err := s.vectorSearch(ctx, opts)
		if err == nil {
			return &SearchResponse{Results: results}, nil
		}
		kwResults, kwErr := s.keywordSearch(ctx, opts)
		if kwErr != nil {
			return nil, corerr.IndexUnavailable("vector and keyword search both unavailable: %v / %v", err, kwErr)
		}
		return &SearchResponse{Results: kwResults, FallbackUsed: true}, nil

	case SearchKeyword:
		results, err := s.keywordSearch(ctx, opts)
		if err == nil {
			return &SearchResponse{Results: results}, nil
		}
		vecResults, vecErr := s.vectorSearch(ctx, opts)
		if vecErr != nil {
			return nil, corerr.IndexUnavailable("keyword and vector search both unavailable: %v / %v", err, vecErr)
		}
		return &SearchResponse{Results: vecResults, FallbackUsed: true}, nil

	case SearchHybrid:
		return s.hybridSearch(ctx, opts, alpha)

	default:
		return nil, corerr.InvalidArgument("unknown search mode %q", opts.Mode)
	}
}

// hybridSearch combines the vector and FTS rankings. The keyword side is
// FTS only here: the LIKE scan serves keyword-mode requests when FTS is
// down, but inside hybrid an unavailable FTS means vector-only scores with
// fallback_used set, per the search-mode contract. The LIKE scan enters
// hybrid only when the vector side has failed too.
func (s *Store) hybridSearch(ctx context.Context, opts SearchOptions, alpha float64) (*SearchResponse, error) {
	vecResults, vecErr := s.vectorSearch(ctx, opts)
	var kwResults []SearchResult
	var kwErr error = corerr.IndexUnavailable("fts disabled")
	if s.enableFTS {
		kwResults, kwErr = s.ftsSearch(ctx, opts)
	}

	if vecErr != nil && kwErr != nil {
		kwResults, kwErr = s.likeSearch(ctx, opts)
		if kwErr != nil {
			return nil, corerr.IndexUnavailable("vector and keyword search both unavailable: %v / %v", vecErr, kwErr)
		}
		return &SearchResponse{Results: kwResults, FallbackUsed: true}, nil
	}
	if vecErr != nil {
		return &SearchResponse{Results: kwResults, FallbackUsed: true}, nil
	}
	if kwErr != nil {
		return &SearchResponse{Results: vecResults, FallbackUsed: true}, nil
	}

	combined := make(map[string]*SearchResult, len(vecResults)+len(kwResults))
	for _, r := range vecResults {
		score := alpha * r.Score
		combined[r.Item.ID] = &SearchResult{Item: r.Item, Score: score}
	}
	for _, r := range kwResults {
		score := (1 - alpha) * r.Score
		if existing, ok := combined[r.Item.ID]; ok {
			existing.Score += score
		} else {
			combined[r.Item.ID] = &SearchResult{Item: r.Item, Score: score}
		}
	}

	out := make([]SearchResult, 0, len(combined))
	for _, r := range combined {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}

	return &SearchResponse{Results: out}, nil
}

// vectorSearch performs nearest-neighbour search by cosine similarity
// over the lazily-built in-memory vector index.
func (s *Store) vectorSearch(ctx context.Context, opts SearchOptions) ([]SearchResult, error) {
	queryVec, err := s.embed.Embed(ctx, opts.Query)
	if err != nil {
		return nil, err
	}

	idx, err := s.ensureVectorIndex(ctx)
	if err != nil {
		return nil, err
	}

	type scored struct {
		id    string
		score float64
	}
	scores := make([]scored, 0, len(idx.ids))
	for i, id := range idx.ids {
		sim := cosineSimilarity(queryVec, idx.vectors[i])
		scores = append(scores, scored{id: id, score: sim})
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	results := make([]SearchResult, 0, opts.Limit)
	for _, sc := range scores {
		if len(results) >= opts.Limit {
			break
		}
		item, err := s.GetWorkItem(ctx, sc.id)
		if err != nil || item == nil {
			continue
		}
		if !matchesFilters(item, opts.Filters) {
			continue
		}
		results = append(results, SearchResult{Item: item, Score: sc.score})
	}
	return results, nil
}

// ensureVectorIndex builds the in-memory vector index on first use once
// the table has at least vectorIndexThreshold rows. Every create, update
// and delete through the Store drops the cached index, so the first
// vector search after any such write rebuilds it, however small the
// change; the vectorIndexRebuildFraction check only applies to row-count
// changes made outside this Store.
func (s *Store) ensureVectorIndex(ctx context.Context) (*vectorIndex, error) {
	count, err := s.CountWorkItems(ctx, ListFilters{})
	if err != nil {
		return nil, err
	}
	if count < vectorIndexThreshold {
		return s.scanVectorIndex(ctx)
	}

	s.vecMu.Lock()
	cached := s.vecIndex
	s.vecMu.Unlock()
	if cached != nil {
		delta := count - cached.builtAt
		if delta < 0 {
			delta = -delta
		}
		if float64(delta) <= vectorIndexRebuildFraction*float64(cached.builtAt) {
			return cached, nil
		}
	}

	idx, err := s.scanVectorIndex(ctx)
	if err != nil {
		return nil, err
	}
	idx.builtAt = count
	s.vecMu.Lock()
	s.vecIndex = idx
	s.vecMu.Unlock()
	return idx, nil
}

func (s *Store) scanVectorIndex(ctx context.Context) (*vectorIndex, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, vector FROM work_items")
	if err != nil {
		return nil, corerr.Internal(err)
	}
	defer rows.Close()

	idx := &vectorIndex{}
	for rows.Next() {
		var id, vecRaw string
		if err := rows.Scan(&id, &vecRaw); err != nil {
			return nil, corerr.Internal(err)
		}
		idx.ids = append(idx.ids, id)
		idx.vectors = append(idx.vectors, decodeFloat32Slice(vecRaw))
	}
	return idx, nil
}

// keywordSearch ranks by FTS5 bm25 score, falling back to a substring
// LIKE scan over the indexed columns if FTS is unavailable or errors
// (§4.C: "If FTS is unavailable or fails, keyword search must fall back
// to substring LIKE-style scans over the indexed columns.").
func (s *Store) keywordSearch(ctx context.Context, opts SearchOptions) ([]SearchResult, error) {
	if s.enableFTS {
		if results, err := s.ftsSearch(ctx, opts); err == nil {
			return results, nil
		}
	}
	return s.likeSearch(ctx, opts)
}

func (s *Store) ftsSearch(ctx context.Context, opts SearchOptions) ([]SearchResult, error) {
	query := ftsQuery(opts.Query)
	if query == "" {
		return []SearchResult{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bm25(work_items_fts) AS rank
		FROM work_items_fts
		WHERE work_items_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, opts.Limit*4) // over-fetch before filters are applied
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type ranked struct {
		id   string
		rank float64
	}
	var ranks []ranked
	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, err
		}
		ranks = append(ranks, ranked{id: id, rank: rank})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	maxAbsRank := 0.0
	for _, r := range ranks {
		if math.Abs(r.rank) > maxAbsRank {
			maxAbsRank = math.Abs(r.rank)
		}
	}

	results := make([]SearchResult, 0, opts.Limit)
	for _, r := range ranks {
		if len(results) >= opts.Limit {
			break
		}
		item, err := s.GetWorkItem(ctx, r.id)
		if err != nil || item == nil {
			continue
		}
		if !matchesFilters(item, opts.Filters) {
			continue
		}
		score := 0.5
		if maxAbsRank > 0 {
			// bm25() returns more-negative-is-better; normalise to [0,1].
			score = math.Abs(r.rank) / maxAbsRank
		}
		results = append(results, SearchResult{Item: item, Score: score})
	}
	return results, nil
}

func (s *Store) likeSearch(ctx context.Context, opts SearchOptions) ([]SearchResult, error) {
	pattern := "%" + opts.Query + "%"
	rows, err := s.db.QueryContext(ctx, workItemSelectSQL+`
		WHERE title LIKE ? OR description LIKE ? OR acceptance_criteria LIKE ?
			OR status LIKE ? OR priority LIKE ? OR item_type LIKE ?
		LIMIT ?
	`, pattern, pattern, pattern, pattern, pattern, pattern, opts.Limit*4)
	if err != nil {
		return nil, corerr.Internal(err)
	}
	defer rows.Close()

	results := make([]SearchResult, 0, opts.Limit)
	for rows.Next() {
		item, err := scanWorkItemRows(rows)
		if err != nil {
			return nil, corerr.Internal(err)
		}
		if !matchesFilters(item, opts.Filters) {
			continue
		}
		if len(results) >= opts.Limit {
			break
		}
		results = append(results, SearchResult{Item: item, Score: 0.5})
	}
	return results, nil
}

// matchesFilters re-applies ListFilters to rows fetched outside of
// buildWhere (vector/FTS paths fetch by id then filter in Go).
func matchesFilters(item *workitem.WorkItem, f ListFilters) bool {
	if f.ItemType != "" && item.ItemType != f.ItemType {
		return false
	}
	if f.Status != "" && string(item.Status) != f.Status {
		return false
	}
	if f.Priority != "" && string(item.Priority) != f.Priority {
		return false
	}
	if f.ParentID != "" && item.ParentID != f.ParentID {
		return false
	}
	if f.Assignee != "" && item.Assignee != f.Assignee {
		return false
	}
	if f.Tag != "" {
		found := false
		for _, t := range item.Tags {
			if t == f.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ftsQuery escapes a raw user query for FTS5 MATCH by quoting each token,
// so punctuation in the query doesn't raise a syntax error.
func ftsQuery(q string) string {
	fields := strings.Fields(q)
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " ")
}

// cosineSimilarity computes cosine similarity clamped to [0,1], 1 for
// identical vectors. Raw cosine is negative for opposed vectors, but the
// score is wire-visible and contracted to [0,1], so anything below zero
// floors at 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return math.Max(0, dot/(math.Sqrt(normA)*math.Sqrt(normB)))
}

// Reindex forces an FTS rebuild outside of the normal lazy/threshold
// path, grounded on original_source/scripts/fix_fts_index.py's manual
// FTS rebuild, and invalidates the in-memory vector index cache.
func (s *Store) Reindex(ctx context.Context) error {
	if s.enableFTS {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO work_items_fts(work_items_fts) VALUES ('rebuild')"); err != nil {
			return corerr.Internal(err)
		}
	}
	s.invalidateVectorIndex()
	_, err := s.ensureVectorIndex(ctx)
	return err
}
