package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jivecore/jivecore/internal/corerr"
)

// SyncState mirrors §3.1's SyncState entity, owned exclusively by the
// sync engine.
type SyncState struct {
	FilePath        string
	WorkItemID      string
	ContentChecksum string
	LastSyncAt      time.Time
	Direction       string
}

// GetSyncState returns the sync state for a (path, id) pair, or nil if
// the pair has never been reconciled (§4.E "Change detection").
func (s *Store) GetSyncState(ctx context.Context, filePath, workItemID string) (*SyncState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT file_path, work_item_id, content_checksum, last_sync_at, direction
		FROM sync_states WHERE file_path = ? AND work_item_id = ?
	`, filePath, workItemID)

	var st SyncState
	err := row.Scan(&st.FilePath, &st.WorkItemID, &st.ContentChecksum, &st.LastSyncAt, &st.Direction)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, corerr.Internal(err)
	}
	return &st, nil
}

// GetSyncStateByWorkItem returns the sync state tracking a given work
// item, regardless of path (used by sync_db_to_file when only an id is
// known).
func (s *Store) GetSyncStateByWorkItem(ctx context.Context, workItemID string) (*SyncState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT file_path, work_item_id, content_checksum, last_sync_at, direction
		FROM sync_states WHERE work_item_id = ? ORDER BY last_sync_at DESC LIMIT 1
	`, workItemID)

	var st SyncState
	err := row.Scan(&st.FilePath, &st.WorkItemID, &st.ContentChecksum, &st.LastSyncAt, &st.Direction)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, corerr.Internal(err)
	}
	return &st, nil
}

// UpsertSyncState writes the sync state for a (path, id) pair. Per §4.E
// ("Atomicity"): "SyncState is updated last and only on success" —
// callers are responsible for calling this only after both the file and
// DB writes for this direction have succeeded.
func (s *Store) UpsertSyncState(ctx context.Context, st SyncState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_states (file_path, work_item_id, content_checksum, last_sync_at, direction)
		VALUES (?,?,?,?,?)
		ON CONFLICT(file_path, work_item_id) DO UPDATE SET
			content_checksum=excluded.content_checksum,
			last_sync_at=excluded.last_sync_at,
			direction=excluded.direction
	`, st.FilePath, st.WorkItemID, st.ContentChecksum, st.LastSyncAt, st.Direction)
	if err != nil {
		return corerr.Internal(err)
	}
	return nil
}

// ListSyncStates returns every tracked (path, id) pair.
func (s *Store) ListSyncStates(ctx context.Context) ([]SyncState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_path, work_item_id, content_checksum, last_sync_at, direction FROM sync_states
	`)
	if err != nil {
		return nil, corerr.Internal(err)
	}
	defer rows.Close()

	states := []SyncState{}
	for rows.Next() {
		var st SyncState
		if err := rows.Scan(&st.FilePath, &st.WorkItemID, &st.ContentChecksum, &st.LastSyncAt, &st.Direction); err != nil {
			return nil, corerr.Internal(err)
		}
		states = append(states, st)
	}
	return states, nil
}
