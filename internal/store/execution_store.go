package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jivecore/jivecore/internal/corerr"
)

// ExecutionRecord mirrors §3.1's ExecutionRecord entity. The storage core
// persists it but never mutates its content — the orchestrator owns all
// writes (§3.5).
type ExecutionRecord struct {
	ExecutionID       string
	WorkItemID        string
	Mode              string
	Status            string
	Plan              []string
	AgentContext      json.RawMessage
	StartedAt         time.Time
	FinishedAt        *time.Time
	CancelReason      string
	RollbackRequested bool
}

// ExecutionLogEntry is one append-only log line (§3.1 ExecutionRecord.logs).
type ExecutionLogEntry struct {
	Timestamp time.Time
	Level     string
	Message   string
}

// ExecutionArtifact is one recorded output artifact.
type ExecutionArtifact struct {
	Name       string
	URI        string
	Digest     string
	Superseded bool
}

// ExecutionValidation is one validation-gate check result.
type ExecutionValidation struct {
	Check   string
	Outcome string
	Detail  string
}

// SaveExecutionRecord inserts a new execution record.
func (s *Store) SaveExecutionRecord(ctx context.Context, r *ExecutionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_records (execution_id, work_item_id, mode, status, plan, agent_context, started_at, rollback_requested)
		VALUES (?,?,?,?,?,?,?,?)
	`, r.ExecutionID, r.WorkItemID, r.Mode, r.Status, encodeJSON(r.Plan), string(orEmptyJSON(r.AgentContext)), r.StartedAt, r.RollbackRequested)
	if err != nil {
		return corerr.Internal(err)
	}
	return nil
}

// UpdateExecutionStatus replaces the mutable status/finished/cancel
// fields of an execution record. It takes no lock, and the orchestrator
// holds none around its calls: when the run loop and CancelExecution both
// write the same execution, the last write wins.
func (s *Store) UpdateExecutionStatus(ctx context.Context, executionID, status string, finishedAt *time.Time, cancelReason string, rollbackRequested bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE execution_records SET status=?, finished_at=?, cancel_reason=?, rollback_requested=?
		WHERE execution_id=?
	`, status, finishedAt, nullableString(cancelReason), rollbackRequested, executionID)
	if err != nil {
		return corerr.Internal(err)
	}
	return nil
}

// AppendExecutionLog appends one log line (append-only per §5).
func (s *Store) AppendExecutionLog(ctx context.Context, executionID string, entry ExecutionLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_logs (execution_id, ts, level, message) VALUES (?,?,?,?)
	`, executionID, entry.Timestamp, entry.Level, entry.Message)
	if err != nil {
		return corerr.Internal(err)
	}
	return nil
}

// AddExecutionArtifact records an artifact produced during execution.
func (s *Store) AddExecutionArtifact(ctx context.Context, executionID string, a ExecutionArtifact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_artifacts (execution_id, name, uri, digest, superseded) VALUES (?,?,?,?,?)
	`, executionID, a.Name, a.URI, a.Digest, a.Superseded)
	if err != nil {
		return corerr.Internal(err)
	}
	return nil
}

// MarkArtifactsSuperseded flags every artifact of an execution as
// superseded, used during rollback (§4.F: "the orchestrator itself only
// marks them superseded").
func (s *Store) MarkArtifactsSuperseded(ctx context.Context, executionID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE execution_artifacts SET superseded=1 WHERE execution_id=?`, executionID)
	if err != nil {
		return corerr.Internal(err)
	}
	return nil
}

// AddExecutionValidation records one validation-gate check result.
func (s *Store) AddExecutionValidation(ctx context.Context, executionID string, v ExecutionValidation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_validations (execution_id, check_name, outcome, detail) VALUES (?,?,?,?)
	`, executionID, v.Check, v.Outcome, v.Detail)
	if err != nil {
		return corerr.Internal(err)
	}
	return nil
}

// GetExecutionRecord loads an execution record by id, optionally
// including logs/artifacts/validation (get_execution_status §4.F).
func (s *Store) GetExecutionRecord(ctx context.Context, executionID string, includeLogs, includeArtifacts, includeValidation bool) (*ExecutionRecord, []ExecutionLogEntry, []ExecutionArtifact, []ExecutionValidation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT execution_id, work_item_id, mode, status, plan, agent_context, started_at, finished_at, COALESCE(cancel_reason, ''), rollback_requested
		FROM execution_records WHERE execution_id = ?
	`, executionID)

	var (
		r                                      ExecutionRecord
		planRaw, agentContextRaw, status, mode string
		finishedAt                             sql.NullTime
	)
	err := row.Scan(&r.ExecutionID, &r.WorkItemID, &mode, &status, &planRaw, &agentContextRaw, &r.StartedAt, &finishedAt, &r.CancelReason, &r.RollbackRequested)
	if err == sql.ErrNoRows {
		return nil, nil, nil, nil, nil
	}
	if err != nil {
		return nil, nil, nil, nil, corerr.Internal(err)
	}
	r.Mode = mode
	r.Status = status
	r.Plan = decodeStringSlice(planRaw)
	r.AgentContext = json.RawMessage(agentContextRaw)
	if finishedAt.Valid {
		t := finishedAt.Time
		r.FinishedAt = &t
	}

	var logs []ExecutionLogEntry
	if includeLogs {
		logs, err = s.executionLogs(ctx, executionID)
		if err != nil {
			return nil, nil, nil, nil, err
		}
	}

	var artifacts []ExecutionArtifact
	if includeArtifacts {
		artifacts, err = s.executionArtifacts(ctx, executionID)
		if err != nil {
			return nil, nil, nil, nil, err
		}
	}

	var validations []ExecutionValidation
	if includeValidation {
		validations, err = s.executionValidations(ctx, executionID)
		if err != nil {
			return nil, nil, nil, nil, err
		}
	}

	return &r, logs, artifacts, validations, nil
}

func (s *Store) executionLogs(ctx context.Context, executionID string) ([]ExecutionLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ts, level, message FROM execution_logs WHERE execution_id=? ORDER BY id`, executionID)
	if err != nil {
		return nil, corerr.Internal(err)
	}
	defer rows.Close()

	logs := []ExecutionLogEntry{}
	for rows.Next() {
		var e ExecutionLogEntry
		if err := rows.Scan(&e.Timestamp, &e.Level, &e.Message); err != nil {
			return nil, corerr.Internal(err)
		}
		logs = append(logs, e)
	}
	return logs, nil
}

func (s *Store) executionArtifacts(ctx context.Context, executionID string) ([]ExecutionArtifact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, uri, digest, superseded FROM execution_artifacts WHERE execution_id=? ORDER BY id`, executionID)
	if err != nil {
		return nil, corerr.Internal(err)
	}
	defer rows.Close()

	artifacts := []ExecutionArtifact{}
	for rows.Next() {
		var a ExecutionArtifact
		if err := rows.Scan(&a.Name, &a.URI, &a.Digest, &a.Superseded); err != nil {
			return nil, corerr.Internal(err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, nil
}

func (s *Store) executionValidations(ctx context.Context, executionID string) ([]ExecutionValidation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT check_name, outcome, detail FROM execution_validations WHERE execution_id=? ORDER BY id`, executionID)
	if err != nil {
		return nil, corerr.Internal(err)
	}
	defer rows.Close()

	validations := []ExecutionValidation{}
	for rows.Next() {
		var v ExecutionValidation
		if err := rows.Scan(&v.Check, &v.Outcome, &v.Detail); err != nil {
			return nil, corerr.Internal(err)
		}
		validations = append(validations, v)
	}
	return validations, nil
}

func orEmptyJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}
