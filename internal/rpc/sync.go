package rpc

import (
	"context"
	"encoding/json"

	"github.com/jivecore/jivecore/internal/corerr"
	"github.com/jivecore/jivecore/internal/syncengine"
)

func (s *Server) requireSync() error {
	if s.sync == nil {
		return corerr.InvalidArgument("sync engine not configured")
	}
	return nil
}

func handleSyncFileToDB(ctx context.Context, s *Server, raw json.RawMessage) envelope {
	if err := s.requireSync(); err != nil {
		return fail(err)
	}
	var req struct {
		Path       string `json:"path"`
		Content    string `json:"content"`
		Resolution string `json:"resolution"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fail(corerr.InvalidArgument("bad arguments: %v", err))
	}
	result, err := s.sync.SyncFileToDB(ctx, req.Path, []byte(req.Content), syncengine.Resolution(req.Resolution))
	if err != nil {
		return fail(err)
	}
	return ok(syncResultPayload(result))
}

func handleSyncDBToFile(ctx context.Context, s *Server, raw json.RawMessage) envelope {
	if err := s.requireSync(); err != nil {
		return fail(err)
	}
	var req struct {
		ID         string `json:"id"`
		Ext        string `json:"ext"`
		Resolution string `json:"resolution"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fail(corerr.InvalidArgument("bad arguments: %v", err))
	}
	id, resolvedFrom, err := s.resolveID(ctx, req.ID)
	if err != nil {
		return fail(err)
	}
	format, err := syncengine.FormatFromExt(req.Ext)
	if err != nil {
		return fail(err)
	}
	result, err := s.sync.SyncDBToFile(ctx, id, format, syncengine.Resolution(req.Resolution))
	if err != nil {
		return fail(err)
	}
	return withResolvedFrom(ok(syncResultPayload(result)), resolvedFrom)
}

func handleSyncStatus(ctx context.Context, s *Server, raw json.RawMessage) envelope {
	if err := s.requireSync(); err != nil {
		return fail(err)
	}
	var req struct {
		Identifier string `json:"identifier"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fail(corerr.InvalidArgument("bad arguments: %v", err))
	}
	id, resolvedFrom, err := s.resolveID(ctx, req.Identifier)
	if err != nil {
		return fail(err)
	}
	state, inSync, err := s.sync.SyncStatus(ctx, id)
	if err != nil {
		return fail(err)
	}
	return withResolvedFrom(ok(envelope{"sync_state": state, "in_sync": inSync}), resolvedFrom)
}

func handleReconcileAll(ctx context.Context, s *Server, raw json.RawMessage) envelope {
	if err := s.requireSync(); err != nil {
		return fail(err)
	}
	var req struct {
		RootDir    string `json:"root_dir"`
		Resolution string `json:"resolution"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fail(corerr.InvalidArgument("bad arguments: %v", err))
	}
	summary, err := s.sync.ReconcileAll(ctx, req.RootDir, syncengine.Resolution(req.Resolution))
	if err != nil {
		return fail(err)
	}
	return ok(envelope{"summary": summary})
}

func syncResultPayload(r *syncengine.SyncResult) envelope {
	e := envelope{
		"work_item_id": r.WorkItemID,
		"path":         r.Path,
		"direction":    r.Direction,
		"no_op":        r.NoOp,
		"created":      r.Created,
	}
	if r.Conflict != nil {
		e["conflict"] = r.Conflict
	}
	return e
}
