package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jivecore/jivecore/internal/corerr"
	"github.com/jivecore/jivecore/internal/workitem"
)

// Store implements the storage core's public operations (§4.C) over a
// SQLite-backed work_items table with an embedded vector column and a
// companion FTS5 index.
type Store struct {
	db        *DB
	locks     *stripedLock
	embed     Embedder
	vecDim    int
	enableFTS bool

	vecMu    sync.Mutex
	vecIndex *vectorIndex
}

// New creates a Store. vecDim is the configured embedding dimension D
// (§3.1, I3); embedder is the embedding provider used on every
// create/update (§4.C "Embedding pipeline"). enableFTS must match
// whatever value db was opened with (§6.5 `enable_fts`): it gates
// keyword search's FTS5 path, falling straight to the LIKE-scan path
// when false instead of querying a table that was never migrated.
func New(db *DB, embedder Embedder, vecDim int, enableFTS bool) *Store {
	return &Store{
		db:        db,
		locks:     newStripedLock(),
		embed:     embedder,
		vecDim:    vecDim,
		enableFTS: enableFTS,
	}
}

// decodeStringSlice materialises a stored JSON array into a plain []string.
// Per §4.C's "Normalisation of stored values" contract, callers must
// receive an ordinary iterable sequence they never test for truthiness;
// an empty or absent column decodes to a non-nil empty slice so callers
// can safely range over it and use len() for emptiness checks.
func decodeStringSlice(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return []string{}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

func decodeFloat32Slice(raw string) []float32 {
	if strings.TrimSpace(raw) == "" {
		return []float32{}
	}
	var out []float32
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return []float32{}
	}
	if out == nil {
		out = []float32{}
	}
	return out
}

func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// CreateWorkItem persists a new WorkItem, generating an id if absent,
// composing and storing its embedding atomically with the row (§4.C).
func (s *Store) CreateWorkItem(ctx context.Context, d workitem.Draft) (string, error) {
	if errs := workitem.ValidateDraft(d); len(errs) > 0 {
		return "", corerr.InvalidArgument("invalid work item: %v", errs).WithDetail(errs)
	}

	id := d.ID
	if id == "" {
		id = uuid.NewString()
	} else if _, err := uuid.Parse(id); err != nil {
		return "", corerr.InvalidArgument("id %q is not a valid UUID", id)
	}
	id = strings.ToLower(id)

	status := d.Status
	if status == "" {
		status = workitem.StatusBacklog
	}
	priority := d.Priority
	if priority == "" {
		priority = workitem.PriorityMedium
	}

	progress := 0.0
	if d.Progress != nil {
		progress = *d.Progress
	}

	tags := workitem.NormalizeTags(d.Tags)
	metadata := d.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}

	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	if err := s.checkParentRank(ctx, d.ParentID, d.ItemType); err != nil {
		return "", err
	}
	deps, err := s.checkDependencies(ctx, id, d.Dependencies)
	if err != nil {
		return "", err
	}

	vec, err := s.embed.Embed(ctx, d.Title+" "+d.Description)
	if err != nil {
		return "", corerr.EmbeddingUnavailable(err)
	}
	if len(vec) != s.vecDim {
		return "", corerr.Internal(fmt.Errorf("embedding provider returned dimension %d, want %d", len(vec), s.vecDim))
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", corerr.Internal(err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO work_items (
			id, item_id, item_type, title, description, status, priority,
			parent_id, dependencies, assignee, tags, acceptance_criteria,
			estimated_hours, actual_hours, progress, autonomous_executable,
			execution_instructions, metadata, vector, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`,
		id, d.ItemID, string(d.ItemType), d.Title, d.Description, string(status), string(priority),
		nullableString(d.ParentID), encodeJSON(deps), d.Assignee, encodeJSON(tags), encodeJSON(d.AcceptanceCriteria),
		d.EstimatedHours, d.ActualHours, progress, d.AutonomousExecutable,
		d.ExecutionInstructions, string(metadata), encodeJSON(vec), now, now,
	)
	if err != nil {
		return "", corerr.Internal(fmt.Errorf("insert work item: %w", err))
	}
	for _, dep := range deps {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO work_item_deps (from_id, to_id) VALUES (?, ?)
			ON CONFLICT(from_id, to_id) DO NOTHING
		`, id, dep); err != nil {
			return "", corerr.Internal(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", corerr.Internal(err)
	}

	s.invalidateVectorIndex()
	return id, nil
}

// checkParentRank enforces I4 on a write: a set parent_id must name an
// existing item whose type sits exactly one rank above the child's.
func (s *Store) checkParentRank(ctx context.Context, parentID string, childType workitem.Type) error {
	if parentID == "" {
		return nil
	}
	parent, err := s.GetWorkItem(ctx, parentID)
	if err != nil {
		return err
	}
	if parent == nil {
		return corerr.NotFound("parent work item %s not found", parentID)
	}
	if parent.ItemType.Rank() != childType.Rank()-1 {
		return corerr.InvariantViolation("parent of a %s must be a type one rank above, got %s", childType, parent.ItemType)
	}
	return nil
}

// checkDependencies dedupes deps, rejects self-references, and verifies
// every target exists (§3.2).
func (s *Store) checkDependencies(ctx context.Context, id string, deps []string) ([]string, error) {
	seen := make(map[string]struct{}, len(deps))
	out := make([]string, 0, len(deps))
	for _, dep := range deps {
		if dep == id {
			return nil, corerr.InvariantViolation("dependencies must not reference itself")
		}
		if _, ok := seen[dep]; ok {
			continue
		}
		seen[dep] = struct{}{}
		target, err := s.GetWorkItem(ctx, dep)
		if err != nil {
			return nil, err
		}
		if target == nil {
			return nil, corerr.NotFound("dependency target %s not found", dep)
		}
		out = append(out, dep)
	}
	return out, nil
}

// checkNoDependencyCycle verifies that replacing id's outgoing edges with
// deps keeps the dependency DAG acyclic (I6): a cycle exists iff some dep
// can reach id over the replaced edge set.
func (s *Store) checkNoDependencyCycle(ctx context.Context, id string, deps []string) error {
	edges, err := s.AllDependencyEdges(ctx)
	if err != nil {
		return err
	}
	adjacency := map[string][]string{id: deps}
	for _, e := range edges {
		if e.From == id {
			continue
		}
		adjacency[e.From] = append(adjacency[e.From], e.To)
	}

	visited := map[string]bool{}
	var path []string
	var dfs func(node string) bool
	dfs = func(node string) bool {
		if visited[node] {
			return false
		}
		visited[node] = true
		path = append(path, node)
		for _, next := range adjacency[node] {
			if next == id {
				path = append(path, next)
				return true
			}
			if dfs(next) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}
	if dfs(id) {
		return corerr.InvariantViolation("dependencies would create a cycle").WithDetail(map[string]any{"cycle": path})
	}
	return nil
}

func (s *Store) invalidateVectorIndex() {
	s.vecMu.Lock()
	s.vecIndex = nil
	s.vecMu.Unlock()
}

// GetWorkItem returns the work item with the given id, or nil if absent.
func (s *Store) GetWorkItem(ctx context.Context, id string) (*workitem.WorkItem, error) {
	row := s.db.QueryRowContext(ctx, workItemSelectSQL+" WHERE id = ?", id)
	item, err := scanWorkItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, corerr.Internal(err)
	}
	return item, nil
}

// UpdateWorkItem applies a partial patch, re-deriving the vector when title
// or description changed, bumping updated_at, and validating the status
// transition and invariants before committing (§3.3, §3.4).
func (s *Store) UpdateWorkItem(ctx context.Context, id string, p workitem.Patch) (*workitem.WorkItem, error) {
	if errs := workitem.ValidatePatch(p); len(errs) > 0 {
		return nil, corerr.InvalidArgument("invalid patch: %v", errs).WithDetail(errs)
	}

	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	existing, err := s.GetWorkItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, corerr.NotFound("work item %s not found", id)
	}

	next := *existing

	if p.ItemID != nil {
		next.ItemID = *p.ItemID
	}
	titleChanged := false
	if p.Title != nil {
		titleChanged = *p.Title != next.Title
		next.Title = *p.Title
	}
	descChanged := false
	if p.Description != nil {
		descChanged = *p.Description != next.Description
		next.Description = *p.Description
	}
	if p.Status != nil {
		if !workitem.CanTransition(existing.Status, *p.Status) {
			return nil, corerr.InvalidTransition("cannot transition from %s to %s", existing.Status, *p.Status)
		}
		next.Status = *p.Status
	}
	if p.Priority != nil {
		next.Priority = *p.Priority
	}
	if p.ParentIDSet {
		next.ParentID = derefString(p.ParentID)
	}
	if p.DependenciesSet {
		deps, err := s.checkDependencies(ctx, id, p.Dependencies)
		if err != nil {
			return nil, err
		}
		if err := s.checkNoDependencyCycle(ctx, id, deps); err != nil {
			return nil, err
		}
		next.Dependencies = deps
	}
	if p.Assignee != nil {
		next.Assignee = *p.Assignee
	}
	if p.TagsSet {
		next.Tags = workitem.NormalizeTags(p.Tags)
	}
	if p.AcceptanceCriteriaSet {
		next.AcceptanceCriteria = p.AcceptanceCriteria
	}
	if p.EstimatedHours != nil {
		next.EstimatedHours = p.EstimatedHours
	}
	if p.ActualHours != nil {
		next.ActualHours = p.ActualHours
	}
	if p.Progress != nil {
		next.Progress = *p.Progress
	}
	if p.AutonomousExecutable != nil {
		next.AutonomousExecutable = *p.AutonomousExecutable
	}
	if p.ExecutionInstructions != nil {
		next.ExecutionInstructions = *p.ExecutionInstructions
	}
	if p.MetadataSet {
		next.Metadata = p.Metadata
	}

	// I9: autonomous_executable=true requires non-empty execution_instructions.
	if next.AutonomousExecutable && strings.TrimSpace(next.ExecutionInstructions) == "" {
		return nil, corerr.InvariantViolation("execution_instructions required when autonomous_executable is true")
	}
	if next.Progress < 0 || next.Progress > 1 {
		return nil, corerr.InvariantViolation("progress must be in [0,1]")
	}
	if p.ParentIDSet && next.ParentID != existing.ParentID {
		if err := s.checkParentRank(ctx, next.ParentID, next.ItemType); err != nil {
			return nil, err
		}
	}

	vec := existing.Vector
	if titleChanged || descChanged {
		var err error
		vec, err = s.embed.Embed(ctx, next.Title+" "+next.Description)
		if err != nil {
			return nil, corerr.EmbeddingUnavailable(err)
		}
		if len(vec) != s.vecDim {
			return nil, corerr.Internal(fmt.Errorf("embedding provider returned dimension %d, want %d", len(vec), s.vecDim))
		}
	}

	// updated_at is non-decreasing per write (I2 and §8): a caller-supplied
	// timestamp only sticks when it moves the clock forward.
	next.UpdatedAt = time.Now().UTC()
	if p.UpdatedAt != nil && p.UpdatedAt.After(existing.UpdatedAt) {
		next.UpdatedAt = p.UpdatedAt.UTC()
	}
	if next.UpdatedAt.Before(next.CreatedAt) {
		next.UpdatedAt = next.CreatedAt
	}

	metadata := next.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, corerr.Internal(err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		UPDATE work_items SET
			item_id=?, title=?, description=?, status=?, priority=?,
			parent_id=?, dependencies=?, assignee=?, tags=?, acceptance_criteria=?,
			estimated_hours=?, actual_hours=?, progress=?, autonomous_executable=?,
			execution_instructions=?, metadata=?, vector=?, updated_at=?
		WHERE id=?
	`,
		next.ItemID, next.Title, next.Description, string(next.Status), string(next.Priority),
		nullableString(next.ParentID), encodeJSON(next.Dependencies), next.Assignee, encodeJSON(next.Tags), encodeJSON(next.AcceptanceCriteria),
		next.EstimatedHours, next.ActualHours, next.Progress, next.AutonomousExecutable,
		next.ExecutionInstructions, string(metadata), encodeJSON(vec), next.UpdatedAt,
		id,
	)
	if err != nil {
		return nil, corerr.Internal(fmt.Errorf("update work item: %w", err))
	}
	if p.DependenciesSet {
		if _, err := tx.ExecContext(ctx, `DELETE FROM work_item_deps WHERE from_id=?`, id); err != nil {
			return nil, corerr.Internal(err)
		}
		for _, dep := range next.Dependencies {
			if _, err := tx.ExecContext(ctx, `INSERT INTO work_item_deps (from_id, to_id) VALUES (?, ?)`, id, dep); err != nil {
				return nil, corerr.Internal(err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, corerr.Internal(err)
	}

	next.Vector = vec
	s.invalidateVectorIndex()
	return &next, nil
}

// DeleteWorkItem removes a work item. If cascade is false and children
// exist, returns HasChildren without deleting anything.
func (s *Store) DeleteWorkItem(ctx context.Context, id string, cascade bool) (int, error) {
	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	existing, err := s.GetWorkItem(ctx, id)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		return 0, corerr.NotFound("work item %s not found", id)
	}

	childIDs, err := s.childIDs(ctx, id)
	if err != nil {
		return 0, err
	}

	if len(childIDs) > 0 && !cascade {
		return 0, corerr.HasChildren("work item %s has %d children", id, len(childIDs))
	}

	// A cascade removes the whole subtree. It is collected breadth-first and
	// deleted deepest-first: parent_id has no ON DELETE action, so a row
	// cannot go while a child still references it.
	ids := append([]string{id}, childIDs...)
	for i := 1; i < len(ids); i++ {
		kids, err := s.childIDs(ctx, ids[i])
		if err != nil {
			return 0, err
		}
		ids = append(ids, kids...)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, corerr.Internal(err)
	}
	defer func() { _ = tx.Rollback() }()

	count := 0
	for i := len(ids) - 1; i >= 0; i-- {
		cid := ids[i]
		if _, err := tx.ExecContext(ctx, "DELETE FROM work_item_deps WHERE from_id=? OR to_id=?", cid, cid); err != nil {
			return 0, corerr.Internal(err)
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM work_items WHERE id=?", cid)
		if err != nil {
			return 0, corerr.Internal(err)
		}
		n, _ := res.RowsAffected()
		count += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, corerr.Internal(err)
	}
	s.invalidateVectorIndex()
	return count, nil
}

// childIDs returns the immediate children of id (used by DeleteWorkItem
// for the cascade check and, level by level, to collect the subtree).
func (s *Store) childIDs(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM work_items WHERE parent_id = ?", id)
	if err != nil {
		return nil, corerr.Internal(err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var cid string
		if err := rows.Scan(&cid); err != nil {
			return nil, corerr.Internal(err)
		}
		ids = append(ids, cid)
	}
	return ids, nil
}

// ListFilters narrows list_work_items / count_work_items (§4.C).
type ListFilters struct {
	ItemType Type
	Status   string
	Priority string
	ParentID string
	Assignee string
	Tag      string
}

// Type is re-exported for callers that only need the filter surface
// without importing the workitem package directly.
type Type = workitem.Type

// ListOptions adds sort/limit/offset on top of ListFilters.
type ListOptions struct {
	Filters ListFilters
	SortBy  string // "created_at" | "updated_at" | "priority" | "title"
	Desc    bool
	Limit   int
	Offset  int
}

// ListWorkItems returns work items matching the given filters, sort, and
// pagination.
func (s *Store) ListWorkItems(ctx context.Context, opts ListOptions) ([]*workitem.WorkItem, error) {
	where, args := buildWhere(opts.Filters)

	orderCol := "created_at"
	switch opts.SortBy {
	case "updated_at", "priority", "title":
		orderCol = opts.SortBy
	}
	dir := "ASC"
	if opts.Desc {
		dir = "DESC"
	}

	query := workItemSelectSQL
	if where != "" {
		query += " WHERE " + where
	}
	query += fmt.Sprintf(" ORDER BY %s %s", orderCol, dir)
	if opts.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, corerr.Internal(err)
	}
	defer rows.Close()

	items := []*workitem.WorkItem{}
	for rows.Next() {
		item, err := scanWorkItemRows(rows)
		if err != nil {
			return nil, corerr.Internal(err)
		}
		items = append(items, item)
	}
	return items, nil
}

// CountWorkItems returns the count of items matching filters.
func (s *Store) CountWorkItems(ctx context.Context, filters ListFilters) (int, error) {
	where, args := buildWhere(filters)
	query := "SELECT COUNT(*) FROM work_items"
	if where != "" {
		query += " WHERE " + where
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, corerr.Internal(err)
	}
	return count, nil
}

func buildWhere(f ListFilters) (string, []any) {
	var clauses []string
	var args []any

	if f.ItemType != "" {
		clauses = append(clauses, "item_type = ?")
		args = append(args, string(f.ItemType))
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority = ?")
		args = append(args, f.Priority)
	}
	if f.ParentID != "" {
		clauses = append(clauses, "parent_id = ?")
		args = append(args, f.ParentID)
	}
	if f.Assignee != "" {
		clauses = append(clauses, "assignee = ?")
		args = append(args, f.Assignee)
	}
	if f.Tag != "" {
		// tags column holds a JSON array; json_each expands it for membership test.
		clauses = append(clauses, "EXISTS (SELECT 1 FROM json_each(work_items.tags) WHERE json_each.value = ?)")
		args = append(args, f.Tag)
	}

	return strings.Join(clauses, " AND "), args
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

const workItemSelectSQL = `
	SELECT id, item_id, item_type, title, description, status, priority,
		COALESCE(parent_id, ''), dependencies, assignee, tags, acceptance_criteria,
		estimated_hours, actual_hours, progress, autonomous_executable,
		execution_instructions, metadata, vector, created_at, updated_at
	FROM work_items`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(row rowScanner) (*workitem.WorkItem, error) {
	return scanWorkItemRows(row)
}

func scanWorkItemRows(row rowScanner) (*workitem.WorkItem, error) {
	var (
		item                            workitem.WorkItem
		itemType, status, priority      string
		deps, tags, criteria, vectorRaw string
		metadata                        string
		estHours, actHours              sql.NullFloat64
	)

	err := row.Scan(
		&item.ID, &item.ItemID, &itemType, &item.Title, &item.Description, &status, &priority,
		&item.ParentID, &deps, &item.Assignee, &tags, &criteria,
		&estHours, &actHours, &item.Progress, &item.AutonomousExecutable,
		&item.ExecutionInstructions, &metadata, &vectorRaw, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	migrated, ok := workitem.MigrateLegacyStatus(status)
	if !ok {
		migrated = workitem.StatusBacklog
	}
	item.Status = migrated
	item.ItemType = workitem.Type(itemType)
	item.Priority = workitem.Priority(priority)
	item.Dependencies = decodeStringSlice(deps)
	item.Tags = decodeStringSlice(tags)
	item.AcceptanceCriteria = decodeStringSlice(criteria)
	item.Vector = decodeFloat32Slice(vectorRaw)
	item.Metadata = json.RawMessage(metadata)

	if estHours.Valid {
		v := estHours.Float64
		item.EstimatedHours = &v
	}
	if actHours.Valid {
		v := actHours.Float64
		item.ActualHours = &v
	}

	return &item, nil
}
