package rpc

import (
	"context"
	"encoding/json"

	"github.com/jivecore/jivecore/internal/corerr"
	"github.com/jivecore/jivecore/internal/hierarchy"
)

func handleGetChildren(ctx context.Context, s *Server, raw json.RawMessage) envelope {
	var req struct {
		ID        string `json:"id"`
		Recursive bool   `json:"recursive"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fail(corerr.InvalidArgument("bad arguments: %v", err))
	}
	id, resolvedFrom, err := s.resolveID(ctx, req.ID)
	if err != nil {
		return fail(err)
	}
	children, err := s.hierarchy.GetChildren(ctx, id, req.Recursive)
	if err != nil {
		return fail(err)
	}
	return withResolvedFrom(ok(envelope{"children": children}), resolvedFrom)
}

func handleGetParentChain(ctx context.Context, s *Server, raw json.RawMessage) envelope {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fail(corerr.InvalidArgument("bad arguments: %v", err))
	}
	id, resolvedFrom, err := s.resolveID(ctx, req.ID)
	if err != nil {
		return fail(err)
	}
	chain, err := s.hierarchy.GetParentChain(ctx, id)
	if err != nil {
		return fail(err)
	}
	return withResolvedFrom(ok(envelope{"parent_chain": chain}), resolvedFrom)
}

func handleGetDependencies(ctx context.Context, s *Server, raw json.RawMessage) envelope {
	var req struct {
		ID           string `json:"id"`
		Transitive   bool   `json:"transitive"`
		OnlyBlocking bool   `json:"only_blocking"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fail(corerr.InvalidArgument("bad arguments: %v", err))
	}
	id, resolvedFrom, err := s.resolveID(ctx, req.ID)
	if err != nil {
		return fail(err)
	}
	deps, err := s.hierarchy.GetDependencies(ctx, id, req.Transitive, req.OnlyBlocking)
	if err != nil {
		return fail(err)
	}
	return withResolvedFrom(ok(envelope{"dependencies": deps}), resolvedFrom)
}

func handleValidateDependencies(ctx context.Context, s *Server, raw json.RawMessage) envelope {
	var req struct {
		IDs          []string `json:"ids"`
		CheckCycles  bool     `json:"check_cycles"`
		CheckMissing bool     `json:"check_missing"`
		SuggestFixes bool     `json:"suggest_fixes"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fail(corerr.InvalidArgument("bad arguments: %v", err))
	}
	report, err := s.hierarchy.ValidateDependencies(ctx, hierarchy.ValidateDependenciesOptions{
		IDs: req.IDs, CheckCycles: req.CheckCycles, CheckMissing: req.CheckMissing, SuggestFixes: req.SuggestFixes,
	})
	if err != nil {
		return fail(err)
	}
	return ok(envelope{"report": report})
}

func handleAddDependency(ctx context.Context, s *Server, raw json.RawMessage) envelope {
	var req struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fail(corerr.InvalidArgument("bad arguments: %v", err))
	}
	from, fromResolved, err := s.resolveID(ctx, req.From)
	if err != nil {
		return fail(err)
	}
	to, _, err := s.resolveID(ctx, req.To)
	if err != nil {
		return fail(err)
	}
	if err := s.hierarchy.AddDependency(ctx, from, to); err != nil {
		return fail(err)
	}
	return withResolvedFrom(ok(nil), fromResolved)
}

func handleRemoveDependency(ctx context.Context, s *Server, raw json.RawMessage) envelope {
	var req struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fail(corerr.InvalidArgument("bad arguments: %v", err))
	}
	from, _, err := s.resolveID(ctx, req.From)
	if err != nil {
		return fail(err)
	}
	to, _, err := s.resolveID(ctx, req.To)
	if err != nil {
		return fail(err)
	}
	if err := s.hierarchy.RemoveDependency(ctx, from, to); err != nil {
		return fail(err)
	}
	return ok(nil)
}

func handleRecalculateProgress(ctx context.Context, s *Server, raw json.RawMessage) envelope {
	var req struct {
		RootID string `json:"root_id"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fail(corerr.InvalidArgument("bad arguments: %v", err))
	}
	rootID := req.RootID
	resolvedFrom := ""
	if rootID == "all" {
		// RecalculateProgress treats an empty root as "every root".
		rootID = ""
	} else if rootID != "" {
		var err error
		rootID, resolvedFrom, err = s.resolveID(ctx, rootID)
		if err != nil {
			return fail(err)
		}
	}
	updated, err := s.hierarchy.RecalculateProgress(ctx, rootID)
	if err != nil {
		return fail(err)
	}
	return withResolvedFrom(ok(envelope{"updated": updated}), resolvedFrom)
}
