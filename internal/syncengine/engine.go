package syncengine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jivecore/jivecore/internal/corerr"
	"github.com/jivecore/jivecore/internal/store"
	"github.com/jivecore/jivecore/internal/workitem"
)

// Engine implements the bidirectional file<->DB sync operations of §4.E,
// rooted at a tasks directory under which every synced file lives.
type Engine struct {
	store    *store.Store
	tasksDir string
}

// New creates an Engine. tasksDir is where sync_db_to_file and
// reconcile_all locate work-item files (§6.1).
func New(s *store.Store, tasksDir string) *Engine {
	return &Engine{store: s, tasksDir: tasksDir}
}

// SyncResult reports the outcome of one sync operation.
type SyncResult struct {
	WorkItemID      string
	Path            string
	Direction       string
	NoOp            bool
	Created         bool
	RenderedContent []byte
	Conflict        *ConflictDetail
}

// FilePath composes the canonical `<item-id>-<slug>.<ext>` path (§6.1)
// for an item under the engine's tasks directory.
func (e *Engine) FilePath(item *workitem.WorkItem, format Format) string {
	name := fmt.Sprintf("%s-%s.%s", item.ID, slugify(item.Title), format)
	return filepath.Join(e.tasksDir, name)
}

// parse dispatches to the format-specific parser.
func parse(format Format, content []byte) (fileRecord, error) {
	switch format {
	case FormatJSON:
		return UnmarshalJSON(content)
	case FormatYAML:
		return UnmarshalYAML(content)
	case FormatMarkdown:
		return UnmarshalMarkdown(content)
	default:
		return fileRecord{}, corerr.InvalidArgument("unsupported format %q", format)
	}
}

// render dispatches to the format-specific marshaller.
func render(format Format, item *workitem.WorkItem) ([]byte, error) {
	switch format {
	case FormatJSON:
		return MarshalJSON(item)
	case FormatYAML:
		return MarshalYAML(item)
	case FormatMarkdown:
		return MarshalMarkdown(item)
	default:
		return nil, corerr.InvalidArgument("unsupported format %q", format)
	}
}

// applyResolution reconciles a parsed file record against the current DB
// record. It is direction-agnostic: it decides which side's VALUES win,
// persisting the winner to the DB when the file's values prevail. The
// caller is responsible for writing the winning content to whichever
// artifact (file or DB row) the sync direction targets.
func (e *Engine) applyResolution(ctx context.Context, r fileRecord, dbItem *workitem.WorkItem, resolution Resolution) (winner *workitem.WorkItem, diffs []FieldDiff, conflict *ConflictDetail, err error) {
	diffs = diffFields(r, dbItem)
	if len(diffs) == 0 {
		return dbItem, diffs, nil, nil
	}

	switch resolution {
	case ResolutionFileWins:
		winner, err = e.store.UpdateWorkItem(ctx, dbItem.ID, r.toPatch())
		return winner, diffs, nil, err

	case ResolutionDBWins:
		return dbItem, diffs, nil, nil

	case ResolutionNewestWins:
		if r.UpdatedAt.After(dbItem.UpdatedAt) {
			winner, err = e.store.UpdateWorkItem(ctx, dbItem.ID, r.toPatch())
			return winner, diffs, nil, err
		}
		return dbItem, diffs, nil, nil

	case ResolutionAutoMerge:
		winner, err = e.store.UpdateWorkItem(ctx, dbItem.ID, mergePatch(r, dbItem))
		return winner, diffs, nil, err

	case ResolutionManual:
		return nil, diffs, &ConflictDetail{WorkItemID: dbItem.ID, Fields: diffs}, nil

	default:
		return nil, nil, nil, corerr.InvalidArgument("unknown resolution strategy %q", resolution)
	}
}

// SyncFileToDB reconciles a file's content into the DB (§4.E
// sync_file_to_db). content is whatever bytes the caller last read from
// path; the engine never performs its own read for this direction.
func (e *Engine) SyncFileToDB(ctx context.Context, path string, content []byte, resolution Resolution) (*SyncResult, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	r, err := parse(format, content)
	if err != nil {
		return nil, err
	}
	checksum := Checksum(content)

	if r.ID == "" {
		id, err := e.store.CreateWorkItem(ctx, r.toDraft())
		if err != nil {
			return nil, err
		}
		item, err := e.store.GetWorkItem(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := e.recordSyncState(ctx, path, id, checksum, item.UpdatedAt, "file_to_db"); err != nil {
			return nil, err
		}
		return &SyncResult{WorkItemID: id, Path: path, Direction: "file_to_db", Created: true}, nil
	}

	dbItem, err := e.store.GetWorkItem(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	if dbItem == nil {
		draft := r.toDraft()
		draft.ID = r.ID
		id, err := e.store.CreateWorkItem(ctx, draft)
		if err != nil {
			return nil, err
		}
		item, err := e.store.GetWorkItem(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := e.recordSyncState(ctx, path, id, checksum, item.UpdatedAt, "file_to_db"); err != nil {
			return nil, err
		}
		return &SyncResult{WorkItemID: id, Path: path, Direction: "file_to_db", Created: true}, nil
	}

	if unchanged, err := e.isUnchanged(ctx, path, r.ID, checksum, dbItem.UpdatedAt); err != nil {
		return nil, err
	} else if unchanged {
		return &SyncResult{WorkItemID: r.ID, Path: path, Direction: "file_to_db", NoOp: true}, nil
	}

	winner, diffs, conflict, err := e.applyResolution(ctx, r, dbItem, resolution)
	if err != nil {
		return nil, err
	}
	if conflict != nil {
		return &SyncResult{WorkItemID: r.ID, Path: path, Direction: "file_to_db", Conflict: conflict}, nil
	}

	if err := e.recordSyncState(ctx, path, r.ID, checksum, winner.UpdatedAt, "file_to_db"); err != nil {
		return nil, err
	}
	return &SyncResult{WorkItemID: r.ID, Path: path, Direction: "file_to_db", NoOp: len(diffs) == 0}, nil
}

// SyncDBToFile renders a work item to its file and writes it atomically
// (§4.E sync_db_to_file), resolving against whatever content currently
// sits at the destination path, if any.
func (e *Engine) SyncDBToFile(ctx context.Context, id string, format Format, resolution Resolution) (*SyncResult, error) {
	dbItem, err := e.store.GetWorkItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if dbItem == nil {
		return nil, corerr.NotFound("work item %s not found", id)
	}
	path := e.FilePath(dbItem, format)

	existing, readErr := os.ReadFile(path)
	if readErr != nil && !os.IsNotExist(readErr) {
		return nil, corerr.Internal(readErr)
	}

	winner := dbItem
	var conflict *ConflictDetail
	if readErr == nil {
		r, err := parse(format, existing)
		if err != nil {
			return nil, err
		}
		checksum := Checksum(existing)
		if unchanged, err := e.isUnchanged(ctx, path, id, checksum, dbItem.UpdatedAt); err != nil {
			return nil, err
		} else if unchanged {
			return &SyncResult{WorkItemID: id, Path: path, Direction: "db_to_file", NoOp: true, RenderedContent: existing}, nil
		}

		winner, _, conflict, err = e.applyResolution(ctx, r, dbItem, resolution)
		if err != nil {
			return nil, err
		}
		if conflict != nil {
			return &SyncResult{WorkItemID: id, Path: path, Direction: "db_to_file", Conflict: conflict}, nil
		}
	}

	content, err := render(format, winner)
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(path, content); err != nil {
		return nil, err
	}
	if err := e.recordSyncState(ctx, path, id, Checksum(content), winner.UpdatedAt, "db_to_file"); err != nil {
		return nil, err
	}
	return &SyncResult{WorkItemID: id, Path: path, Direction: "db_to_file", RenderedContent: content}, nil
}

// SyncStatus reports whether the DB record is unchanged since its last
// recorded sync (last_sync_at equals updated_at), without mutating either
// side. The file is not read, so an edit made to it after that sync is
// not detected.
func (e *Engine) SyncStatus(ctx context.Context, workItemID string) (*store.SyncState, bool, error) {
	dbItem, err := e.store.GetWorkItem(ctx, workItemID)
	if err != nil {
		return nil, false, err
	}
	if dbItem == nil {
		return nil, false, corerr.NotFound("work item %s not found", workItemID)
	}
	st, err := e.store.GetSyncStateByWorkItem(ctx, workItemID)
	if err != nil {
		return nil, false, err
	}
	if st == nil {
		return nil, false, nil
	}
	inSync := st.LastSyncAt.Equal(dbItem.UpdatedAt)
	return st, inSync, nil
}

// ReconcileSummary totals the outcome of a reconcile_all pass (§4.E).
type ReconcileSummary struct {
	Scanned   int
	Synced    int
	NoOps     int
	Created   int
	Conflicts int
	Errors    []string
}

// ReconcileAll walks rootDir, syncing every recognised work-item file
// into the DB under the given resolution strategy.
func (e *Engine) ReconcileAll(ctx context.Context, rootDir string, resolution Resolution) (*ReconcileSummary, error) {
	summary := &ReconcileSummary{}

	entries, err := os.ReadDir(rootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return summary, nil
		}
		return nil, corerr.Internal(err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(rootDir, entry.Name())
		if _, err := FormatFromPath(path); err != nil {
			continue // not a recognised work item file; skip silently
		}
		summary.Scanned++

		content, err := os.ReadFile(path)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", path, err))
			continue
		}

		result, err := e.SyncFileToDB(ctx, path, content, resolution)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", path, err))
			continue
		}
		switch {
		case result.Conflict != nil:
			summary.Conflicts++
		case result.Created:
			summary.Created++
		case result.NoOp:
			summary.NoOps++
		default:
			summary.Synced++
		}
	}
	return summary, nil
}

func (e *Engine) isUnchanged(ctx context.Context, path, workItemID, checksum string, dbUpdatedAt time.Time) (bool, error) {
	st, err := e.store.GetSyncState(ctx, path, workItemID)
	if err != nil {
		return false, err
	}
	if st == nil {
		return false, nil
	}
	return st.ContentChecksum == checksum && st.LastSyncAt.Equal(dbUpdatedAt), nil
}

func (e *Engine) recordSyncState(ctx context.Context, path, workItemID, checksum string, lastSyncAt time.Time, direction string) error {
	return e.store.UpsertSyncState(ctx, store.SyncState{
		FilePath:        path,
		WorkItemID:      workItemID,
		ContentChecksum: checksum,
		LastSyncAt:      lastSyncAt,
		Direction:       direction,
	})
}

// writeFileAtomic writes data to a temp file beside path and renames it
// into place, so readers never observe a partial write.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return corerr.Internal(fmt.Errorf("create tasks directory: %w", err))
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return corerr.Internal(fmt.Errorf("write temp file: %w", err))
	}
	if err := os.Rename(tmp, path); err != nil {
		return corerr.Internal(fmt.Errorf("rename into place: %w", err))
	}
	return nil
}
