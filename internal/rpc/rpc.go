// Package rpc implements the tool dispatch layer of §6.4: a thin switch
// from tool name to component method, translating the JSON argument
// object of each tool into calls against the resolver, storage core,
// hierarchy engine, sync engine, and execution orchestrator, and
// shaping every response as {success, ...payload, error?, error_code?,
// resolved_from?}. The RPC transport itself (stdio framing) lives in
// cmd/jivecore; this package only knows how to answer one call at a time.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/jivecore/jivecore/internal/config"
	"github.com/jivecore/jivecore/internal/corerr"
	"github.com/jivecore/jivecore/internal/hierarchy"
	"github.com/jivecore/jivecore/internal/orchestrator"
	"github.com/jivecore/jivecore/internal/resolver"
	"github.com/jivecore/jivecore/internal/store"
	"github.com/jivecore/jivecore/internal/syncengine"
	"github.com/jivecore/jivecore/internal/workitem"
)

// Server answers tool calls against a fully wired set of components.
type Server struct {
	store        *store.Store
	resolver     *resolver.Resolver
	hierarchy    *hierarchy.Engine
	sync         *syncengine.Engine
	orchestrator *orchestrator.Engine

	maxResponseSize int
	truncationLimit int
	autoTruncate    bool
}

// New creates a Server. Any of sync/orchestrator may be nil, in which
// case their tools respond with InvalidArgument ("not configured"). cfg
// supplies the response-shaping options of §6.5 (`max_response_size`,
// `truncation_threshold`, `enable_auto_truncation`).
func New(s *store.Store, r *resolver.Resolver, h *hierarchy.Engine, se *syncengine.Engine, oe *orchestrator.Engine, cfg config.Config) *Server {
	return &Server{
		store: s, resolver: r, hierarchy: h, sync: se, orchestrator: oe,
		maxResponseSize: cfg.MaxResponseSize,
		truncationLimit: cfg.TruncationThreshold,
		autoTruncate:    cfg.EnableAutoTruncation,
	}
}

// envelope is the common wire shape every tool response carries (§6.4).
type envelope map[string]any

func ok(payload envelope) envelope {
	if payload == nil {
		payload = envelope{}
	}
	payload["success"] = true
	return payload
}

func fail(err error) envelope {
	e := envelope{
		"success":    false,
		"error":      err.Error(),
		"error_code": string(corerr.CodeOf(err)),
	}
	var coreErr *corerr.Error
	if errors.As(err, &coreErr) && coreErr.Detail != nil {
		e["detail"] = coreErr.Detail
	}
	return e
}

// Dispatch answers one tool call. name is the MCP tool name; args is its
// raw JSON argument object. The returned bytes are always valid JSON,
// per §6.4's "every tool response is valid JSON" guarantee — Dispatch
// never returns a Go error: a failed tool call and a malformed dispatch
// (unknown tool, unparseable args) both come back as a failure envelope.
func (s *Server) Dispatch(ctx context.Context, name string, args json.RawMessage) json.RawMessage {
	handler, ok := handlers[name]
	if !ok {
		return s.marshal(fail(corerr.InvalidArgument("unknown tool %q", name)))
	}
	return s.marshal(handler(ctx, s, args))
}

// marshal encodes an envelope, applying the response-shaping options of
// §6.5 first: array-valued payload fields longer than truncationLimit
// are cut down to size (enable_auto_truncation), and if the encoded
// response still exceeds maxResponseSize the payload is dropped in
// favor of a notice that the caller should narrow its request (e.g.
// lower `limit` or add filters).
func (s *Server) marshal(e envelope) json.RawMessage {
	if s.autoTruncate && s.truncationLimit > 0 {
		e = truncateArrays(e, s.truncationLimit)
	}
	data, err := json.Marshal(e)
	if err != nil {
		// Marshalling our own envelope failing is always a programmer
		// error, not a caller-facing one; fall back to a minimal one
		// the encoder can't fail on.
		return []byte(fmt.Sprintf(`{"success":false,"error":%q,"error_code":"Internal"}`, err.Error()))
	}
	if s.maxResponseSize > 0 && len(data) > s.maxResponseSize {
		return marshalOversized(e, s.maxResponseSize)
	}
	return data
}

// truncateArrays caps every slice-valued top-level field of e at limit
// items, recording which fields were cut so callers can tell a
// truncated result from a complete one.
func truncateArrays(e envelope, limit int) envelope {
	var cut []string
	for k, v := range e {
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice || rv.Len() <= limit {
			continue
		}
		e[k] = rv.Slice(0, limit).Interface()
		cut = append(cut, k)
	}
	if len(cut) > 0 {
		e["truncated"] = true
		e["truncated_fields"] = cut
	}
	return e
}

// marshalOversized replaces a too-large payload with a minimal envelope
// that still carries success/error/resolved_from, so a caller never
// receives an unbounded response regardless of what truncateArrays
// already removed.
func marshalOversized(e envelope, maxResponseSize int) json.RawMessage {
	small := envelope{
		"success":            e["success"],
		"truncated":          true,
		"response_too_large": true,
		"max_response_size":  maxResponseSize,
	}
	if resolvedFrom, ok := e["resolved_from"]; ok {
		small["resolved_from"] = resolvedFrom
	}
	if errMsg, ok := e["error"]; ok {
		small["error"] = errMsg
	}
	if code, ok := e["error_code"]; ok {
		small["error_code"] = code
	}
	data, err := json.Marshal(small)
	if err != nil {
		return []byte(`{"success":false,"error":"response exceeded max_response_size","error_code":"Internal"}`)
	}
	return data
}

type handlerFunc func(ctx context.Context, s *Server, args json.RawMessage) envelope

var handlers = map[string]handlerFunc{
	"resolve_work_item":     handleResolve,
	"create_work_item":      handleCreate,
	"get_work_item":         handleGet,
	"update_work_item":      handleUpdate,
	"delete_work_item":      handleDelete,
	"list_work_items":       handleList,
	"count_work_items":      handleCount,
	"search_work_items":     handleSearch,
	"validate_work_item":    handleValidateWorkItem,
	"reindex":               handleReindex,
	"get_children":          handleGetChildren,
	"get_parent_chain":      handleGetParentChain,
	"get_dependencies":      handleGetDependencies,
	"validate_dependencies": handleValidateDependencies,
	"add_dependency":        handleAddDependency,
	"remove_dependency":     handleRemoveDependency,
	"recalculate_progress":  handleRecalculateProgress,
	"sync_file_to_db":       handleSyncFileToDB,
	"sync_db_to_file":       handleSyncDBToFile,
	"sync_status":           handleSyncStatus,
	"reconcile_all":         handleReconcileAll,
	"execute":               handleExecute,
	"get_execution_status":  handleGetExecutionStatus,
	"cancel_execution":      handleCancelExecution,
}

// resolveID resolves identifier against the resolver, returning the
// canonical id and the resolved_from annotation to graft onto the
// eventual success envelope (empty when the input was already a UUID).
func (s *Server) resolveID(ctx context.Context, identifier string) (id string, resolvedFrom string, err error) {
	detail, err := s.resolver.ResolveDetail(ctx, identifier)
	if err != nil {
		return "", "", err
	}
	if detail.MatchedBy == resolver.MatchNone {
		return "", "", corerr.NotFound("could not resolve %q to a work item", identifier)
	}
	if detail.MatchedBy != resolver.MatchUUID {
		resolvedFrom = string(detail.MatchedBy)
	}
	return detail.ID, resolvedFrom, nil
}

func withResolvedFrom(e envelope, resolvedFrom string) envelope {
	if resolvedFrom != "" {
		e["resolved_from"] = resolvedFrom
	}
	return e
}

func workItemPayload(item *workitem.WorkItem) envelope {
	return envelope{"work_item": item}
}
