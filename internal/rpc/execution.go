package rpc

import (
	"context"
	"encoding/json"

	"github.com/jivecore/jivecore/internal/corerr"
	"github.com/jivecore/jivecore/internal/orchestrator"
)

func (s *Server) requireOrchestrator() error {
	if s.orchestrator == nil {
		return corerr.InvalidArgument("execution orchestrator not configured")
	}
	return nil
}

func handleExecute(ctx context.Context, s *Server, raw json.RawMessage) envelope {
	if err := s.requireOrchestrator(); err != nil {
		return fail(err)
	}
	var req struct {
		WorkItemID     string          `json:"work_item_id"`
		Mode           string          `json:"mode"`
		AgentContext   json.RawMessage `json:"agent_context"`
		ValidateBefore bool            `json:"validate_before"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fail(corerr.InvalidArgument("bad arguments: %v", err))
	}
	id, resolvedFrom, err := s.resolveID(ctx, req.WorkItemID)
	if err != nil {
		return fail(err)
	}
	mode := orchestrator.Mode(req.Mode)
	if mode == "" {
		mode = orchestrator.ModeDependencyBased
	}
	executionID, err := s.orchestrator.Execute(ctx, id, mode, req.AgentContext, req.ValidateBefore)
	if err != nil {
		return fail(err)
	}
	return withResolvedFrom(ok(envelope{"execution_id": executionID}), resolvedFrom)
}

func handleGetExecutionStatus(ctx context.Context, s *Server, raw json.RawMessage) envelope {
	if err := s.requireOrchestrator(); err != nil {
		return fail(err)
	}
	var req struct {
		ExecutionID        string `json:"execution_id"`
		IncludeLogs        bool   `json:"include_logs"`
		IncludeArtifacts   bool   `json:"include_artifacts"`
		IncludeValidation  bool   `json:"include_validation"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fail(corerr.InvalidArgument("bad arguments: %v", err))
	}
	status, err := s.orchestrator.GetExecutionStatus(ctx, req.ExecutionID, req.IncludeLogs, req.IncludeArtifacts, req.IncludeValidation)
	if err != nil {
		return fail(err)
	}
	e := envelope{"record": status.Record}
	if req.IncludeLogs {
		e["logs"] = status.Logs
	}
	if req.IncludeArtifacts {
		e["artifacts"] = status.Artifacts
	}
	if req.IncludeValidation {
		e["validations"] = status.Validations
	}
	return ok(e)
}

func handleCancelExecution(ctx context.Context, s *Server, raw json.RawMessage) envelope {
	if err := s.requireOrchestrator(); err != nil {
		return fail(err)
	}
	var req struct {
		ExecutionID string `json:"execution_id"`
		Reason      string `json:"reason"`
		Rollback    bool   `json:"rollback"`
		Force       bool   `json:"force"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fail(corerr.InvalidArgument("bad arguments: %v", err))
	}
	if err := s.orchestrator.CancelExecution(ctx, req.ExecutionID, req.Reason, req.Rollback, req.Force); err != nil {
		return fail(err)
	}
	return ok(nil)
}
