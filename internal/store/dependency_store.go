package store

import (
	"context"
	"database/sql"

	"github.com/jivecore/jivecore/internal/corerr"
)

// DependencyEdge is one row of the dependency DAG: From depends on To
// (§3.2 "WorkItem.dependencies → WorkItem.id"). The junction table is the
// source of truth the hierarchy engine operates on; the denormalised
// `dependencies` JSON column on work_items mirrors it for direct reads.
type DependencyEdge struct {
	From string
	To   string
}

// AddDependencyEdge records that From depends on To, keeping the
// denormalised work_items.dependencies column for From in sync. Callers
// (the hierarchy engine) are responsible for the cycle check before
// calling this.
func (s *Store) AddDependencyEdge(ctx context.Context, from, to string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return corerr.Internal(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO work_item_deps (from_id, to_id) VALUES (?, ?)
		ON CONFLICT(from_id, to_id) DO NOTHING
	`, from, to); err != nil {
		return corerr.Internal(err)
	}

	if err := syncDependenciesColumn(ctx, tx, from); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return corerr.Internal(err)
	}
	return nil
}

// RemoveDependencyEdge deletes the From->To edge and resyncs the
// denormalised column.
func (s *Store) RemoveDependencyEdge(ctx context.Context, from, to string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return corerr.Internal(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM work_item_deps WHERE from_id=? AND to_id=?`, from, to); err != nil {
		return corerr.Internal(err)
	}
	if err := syncDependenciesColumn(ctx, tx, from); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return corerr.Internal(err)
	}
	return nil
}

func syncDependenciesColumn(ctx context.Context, tx *sql.Tx, from string) error {
	rows, err := tx.QueryContext(ctx, `SELECT to_id FROM work_item_deps WHERE from_id=? ORDER BY to_id`, from)
	if err != nil {
		return corerr.Internal(err)
	}
	defer rows.Close()

	deps := []string{}
	for rows.Next() {
		var to string
		if err := rows.Scan(&to); err != nil {
			return corerr.Internal(err)
		}
		deps = append(deps, to)
	}
	if err := rows.Err(); err != nil {
		return corerr.Internal(err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE work_items SET dependencies=? WHERE id=?`, encodeJSON(deps), from); err != nil {
		return corerr.Internal(err)
	}
	return nil
}

// DependenciesOf returns the ids that `id` directly depends on (its
// outgoing edges).
func (s *Store) DependenciesOf(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT to_id FROM work_item_deps WHERE from_id=? ORDER BY to_id`, id)
	if err != nil {
		return nil, corerr.Internal(err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var to string
		if err := rows.Scan(&to); err != nil {
			return nil, corerr.Internal(err)
		}
		out = append(out, to)
	}
	return out, nil
}

// AllDependencyEdges returns every edge in the dependency DAG, used by
// validate_dependencies' whole-graph cycle check.
func (s *Store) AllDependencyEdges(ctx context.Context) ([]DependencyEdge, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT from_id, to_id FROM work_item_deps`)
	if err != nil {
		return nil, corerr.Internal(err)
	}
	defer rows.Close()

	var edges []DependencyEdge
	for rows.Next() {
		var e DependencyEdge
		if err := rows.Scan(&e.From, &e.To); err != nil {
			return nil, corerr.Internal(err)
		}
		edges = append(edges, e)
	}
	return edges, nil
}
