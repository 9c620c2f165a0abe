// Package orchestrator implements the autonomous execution orchestrator
// of §4.F: planning, dependency-gated scheduling, agent dispatch, and
// cancellation with rollback.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jivecore/jivecore/internal/corerr"
	"github.com/jivecore/jivecore/internal/hierarchy"
	"github.com/jivecore/jivecore/internal/store"
	"github.com/jivecore/jivecore/internal/workitem"
)

// Mode is a planning strategy (§4.F "Planning").
type Mode string

const (
	ModeDependencyBased Mode = "dependency_based"
	ModeParallel        Mode = "parallel"
	ModeSequential      Mode = "sequential"
)

// Status is an execution state (§4.F "Execution states").
const (
	StatusQueued     = "queued"
	StatusValidating = "validating"
	StatusRunning    = "running"
	StatusPaused     = "paused"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// gracePeriod is how long a non-forced cancellation waits for in-flight
// agent calls to finish before it cuts them off anyway.
const gracePeriod = 5 * time.Second

// Engine runs executions over a storage core and hierarchy engine,
// dispatching work to an AgentRunner (§4.F).
type Engine struct {
	store       *store.Store
	hierarchy   *hierarchy.Engine
	runner      AgentRunner
	maxParallel int
	timeout     time.Duration

	mu     sync.Mutex
	active map[string]*runState
}

// New creates an Engine. maxParallel bounds concurrent item execution
// within a single run; timeout is the per-item execution limit (§5
// "Timeouts").
func New(s *store.Store, h *hierarchy.Engine, runner AgentRunner, maxParallel int, timeout time.Duration) *Engine {
	return &Engine{
		store:       s,
		hierarchy:   h,
		runner:      runner,
		maxParallel: maxParallel,
		timeout:     timeout,
		active:      map[string]*runState{},
	}
}

// runState tracks the live goroutine state of one in-flight execution, so
// CancelExecution can signal it without going through the DB.
type runState struct {
	mu              sync.Mutex
	cancel          context.CancelFunc
	running         map[string]bool // item ids currently in_progress
	cancelRequested bool
	rollback        bool
}

func (rs *runState) markRunning(id string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.running[id] = true
}

func (rs *runState) clearRunning(id string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	delete(rs.running, id)
}

func (rs *runState) snapshot() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]string, 0, len(rs.running))
	for id := range rs.running {
		out = append(out, id)
	}
	return out
}

func (rs *runState) isCancelled() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.cancelRequested
}

// planItem is one node of the induced sub-DAG, decorated with the two
// notions of depth the planner needs: treeDepth (hierarchy nesting, used
// by sequential's stable order) and topoDepth (longest path over
// dependency edges restricted to the induced set, used to batch
// dependency_based and parallel runs so a dependent never starts before
// its dependency).
type planItem struct {
	item      *workitem.WorkItem
	treeDepth int
	topoDepth int
}

// Execute plans and launches a run over rootID's induced sub-DAG,
// returning immediately with an execution id; the run itself proceeds in
// the background (§4.F).
func (e *Engine) Execute(ctx context.Context, rootID string, mode Mode, agentContext json.RawMessage, validateBefore bool) (string, error) {
	root, err := e.store.GetWorkItem(ctx, rootID)
	if err != nil {
		return "", err
	}
	if root == nil {
		return "", corerr.NotFound("work item %s not found", rootID)
	}

	items, err := e.inducedSubDAG(ctx, rootID)
	if err != nil {
		return "", err
	}

	ids := make([]string, 0, len(items))
	for _, pi := range items {
		ids = append(ids, pi.item.ID)
	}

	executionID := uuid.NewString()

	if validateBefore {
		report, err := e.hierarchy.ValidateDependencies(ctx, hierarchy.ValidateDependenciesOptions{
			IDs: ids, CheckCycles: true, CheckMissing: true,
		})
		if err != nil {
			return "", err
		}
		if len(report.Cycles) > 0 || len(report.MissingIDs) > 0 {
			return "", corerr.InvariantViolation("validation gate failed for execution of %s", rootID).
				WithDetail(report)
		}
	}

	plan, err := buildPlan(items, mode)
	if err != nil {
		return "", err
	}
	planIDs := make([]string, len(plan))
	for i, pi := range plan {
		planIDs[i] = pi.item.ID
	}

	record := &store.ExecutionRecord{
		ExecutionID:  executionID,
		WorkItemID:   rootID,
		Mode:         string(mode),
		Status:       StatusQueued,
		Plan:         planIDs,
		AgentContext: agentContext,
		StartedAt:    time.Now().UTC(),
	}
	if err := e.store.SaveExecutionRecord(ctx, record); err != nil {
		return "", err
	}
	if validateBefore {
		if err := e.store.AddExecutionValidation(ctx, executionID, store.ExecutionValidation{
			Check: "dependency_validation", Outcome: "passed", Detail: "no cycles or missing references in induced sub-DAG",
		}); err != nil {
			return "", err
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	rs := &runState{cancel: cancel, running: map[string]bool{}}
	e.mu.Lock()
	e.active[executionID] = rs
	e.mu.Unlock()

	itemsByID := make(map[string]*workitem.WorkItem, len(items))
	for _, pi := range items {
		itemsByID[pi.item.ID] = pi.item
	}

	go e.run(runCtx, executionID, rootID, itemsByID, plan, mode, agentContext, rs)

	return executionID, nil
}

// inducedSubDAG gathers root, its transitive children, and the transitive
// dependencies of every item gathered so far (§4.F "Planning").
func (e *Engine) inducedSubDAG(ctx context.Context, rootID string) ([]planItem, error) {
	root, err := e.store.GetWorkItem(ctx, rootID)
	if err != nil {
		return nil, err
	}
	seen := map[string]*workitem.WorkItem{rootID: root}

	children, err := e.hierarchy.GetChildren(ctx, rootID, true)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		seen[c.ID] = c
	}

	// Transitive dependencies of every item gathered so far also join the
	// induced set, even though they may live outside this subtree.
	frontier := make([]string, 0, len(seen))
	for id := range seen {
		frontier = append(frontier, id)
	}
	for _, id := range frontier {
		deps, err := e.hierarchy.GetDependencies(ctx, id, true, false)
		if err != nil {
			return nil, err
		}
		for _, d := range deps {
			if _, ok := seen[d.ID]; !ok {
				seen[d.ID] = d
			}
		}
	}

	topo := topoDepths(seen)

	out := make([]planItem, 0, len(seen))
	for id, item := range seen {
		treeDepth, err := e.depthOf(ctx, item)
		if err != nil {
			return nil, err
		}
		out = append(out, planItem{item: item, treeDepth: treeDepth, topoDepth: topo[id]})
	}
	return out, nil
}

// depthOf walks the parent chain to compute an item's hierarchy depth,
// used by sequential ordering (§4.F "by (depth, created_at, id)").
func (e *Engine) depthOf(ctx context.Context, item *workitem.WorkItem) (int, error) {
	chain, err := e.hierarchy.GetParentChain(ctx, item.ID)
	if err != nil {
		return 0, err
	}
	return len(chain), nil
}

// run drives one execution to a terminal state: dispatching batches,
// marking items in_progress/completed/failed/blocked, and recalculating
// progress after every terminal transition.
func (e *Engine) run(ctx context.Context, executionID, rootID string, items map[string]*workitem.WorkItem, plan []planItem, mode Mode, agentContext json.RawMessage, rs *runState) {
	defer func() {
		e.mu.Lock()
		delete(e.active, executionID)
		e.mu.Unlock()
		rs.cancel()
	}()

	_ = e.store.UpdateExecutionStatus(ctx, executionID, StatusRunning, nil, "", false)
	e.log(ctx, executionID, "info", "execution started")

	batches := batchPlan(plan, mode)
	failed := map[string]bool{}
	blocked := map[string]bool{}

	for _, batch := range batches {
		if rs.isCancelled() || ctx.Err() != nil {
			break
		}

		runnable := make([]*workitem.WorkItem, 0, len(batch))
		for _, pi := range batch {
			if dependsOnFailed(items[pi.item.ID], failed) {
				blocked[pi.item.ID] = true
				e.markBlocked(ctx, executionID, pi.item.ID)
				continue
			}
			runnable = append(runnable, pi.item)
		}

		concurrency := e.maxParallel
		if mode == ModeSequential {
			concurrency = 1
		}
		if concurrency < 1 {
			concurrency = 1
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)
		for _, item := range runnable {
			item := item
			g.Go(func() error {
				ok := e.runItem(gctx, executionID, item, agentContext, rs)
				if !ok {
					failed[item.ID] = true
				}
				return nil
			})
		}
		_ = g.Wait()

		if _, err := e.hierarchy.RecalculateProgress(ctx, rootID); err != nil {
			e.log(ctx, executionID, "warn", fmt.Sprintf("progress recalculation failed: %v", err))
		}
	}

	finished := time.Now().UTC()
	status := StatusCompleted
	if len(failed) > 0 || len(blocked) > 0 {
		status = StatusFailed
	}
	if rs.isCancelled() {
		status = StatusCancelled
	}
	_ = e.store.UpdateExecutionStatus(ctx, executionID, status, &finished, "", rs.rollback)
	e.log(ctx, executionID, "info", fmt.Sprintf("execution %s after %s", status, humanize.Time(finished)))
}

// markBlocked transitions an unstarted dependent of a failed item to
// blocked. `blocked` is only reachable from in_progress in the status
// state machine, so items still sitting in backlog/ready walk through
// in_progress first — every observed update stays a legal edge.
func (e *Engine) markBlocked(ctx context.Context, executionID, itemID string) {
	if _, err := e.store.UpdateWorkItem(ctx, itemID, workitem.Patch{Status: statusPtr(workitem.StatusBlocked)}); err == nil {
		return
	}
	if _, err := e.store.UpdateWorkItem(ctx, itemID, workitem.Patch{Status: statusPtr(workitem.StatusInProgress)}); err != nil {
		e.log(ctx, executionID, "warn", fmt.Sprintf("%s: could not mark blocked: %v", itemID, err))
		return
	}
	if _, err := e.store.UpdateWorkItem(ctx, itemID, workitem.Patch{Status: statusPtr(workitem.StatusBlocked)}); err != nil {
		e.log(ctx, executionID, "warn", fmt.Sprintf("%s: could not mark blocked: %v", itemID, err))
	}
}

// dependsOnFailed reports whether any of item's dependencies failed in
// this run, per §4.F "Failure semantics".
func dependsOnFailed(item *workitem.WorkItem, failed map[string]bool) bool {
	if item == nil {
		return false
	}
	for _, dep := range item.Dependencies {
		if failed[dep] {
			return true
		}
	}
	return false
}

// runItem transitions item to in_progress, dispatches it to the
// AgentRunner, and applies the resulting terminal transition. Returns
// false if the item did not complete successfully.
func (e *Engine) runItem(ctx context.Context, executionID string, item *workitem.WorkItem, agentContext json.RawMessage, rs *runState) bool {
	rs.markRunning(item.ID)
	defer rs.clearRunning(item.ID)

	if _, err := e.store.UpdateWorkItem(ctx, item.ID, workitem.Patch{Status: statusPtr(workitem.StatusInProgress)}); err != nil {
		e.log(ctx, executionID, "error", fmt.Sprintf("%s: could not start: %v", item.ID, err))
		return false
	}
	e.log(ctx, executionID, "info", fmt.Sprintf("%s: started", item.ID))

	// Each item gets its own deadline (§5: per-work-item execution limit).
	// A blown deadline is a failure outcome, not a cancellation.
	itemCtx, itemCancel := context.WithTimeout(ctx, e.timeout)
	defer itemCancel()

	outcome, err := e.runner.RunItem(itemCtx, item, agentContext)
	if err != nil || outcome == nil || !outcome.Success {
		if ctx.Err() != nil {
			// Cancellation in flight: CancelExecution owns this item's
			// terminal status transition, not us.
			e.log(ctx, executionID, "info", fmt.Sprintf("%s: cancelled", item.ID))
			return false
		}
		msg := "agent reported failure"
		if itemCtx.Err() == context.DeadlineExceeded {
			msg = fmt.Sprintf("timed out after %s", e.timeout)
		} else if err != nil {
			msg = err.Error()
		} else if outcome != nil {
			msg = outcome.Output
		}
		e.log(ctx, executionID, "error", fmt.Sprintf("%s: failed: %s", item.ID, msg))
		_, _ = e.store.UpdateWorkItem(ctx, item.ID, workitem.Patch{Status: statusPtr(workitem.StatusFailed)})
		return false
	}

	for _, a := range outcome.Artifacts {
		_ = e.store.AddExecutionArtifact(ctx, executionID, a)
	}

	if rs.isCancelled() || ctx.Err() != nil {
		// A cancellation arrived while the agent was still running and
		// completed anyway: CancelExecution owns this item's terminal
		// status transition, so a late success must not clobber it back
		// to completed.
		e.log(ctx, executionID, "info", fmt.Sprintf("%s: completed after cancellation, deferring to cancel status", item.ID))
		return false
	}

	progress := 1.0
	if _, err := e.store.UpdateWorkItem(ctx, item.ID, workitem.Patch{
		Status: statusPtr(workitem.StatusCompleted), Progress: &progress,
	}); err != nil {
		e.log(ctx, executionID, "error", fmt.Sprintf("%s: could not mark completed: %v", item.ID, err))
		return false
	}
	e.log(ctx, executionID, "info", fmt.Sprintf("%s: completed", item.ID))
	return true
}

func (e *Engine) log(ctx context.Context, executionID, level, message string) {
	_ = e.store.AppendExecutionLog(ctx, executionID, store.ExecutionLogEntry{
		Timestamp: time.Now().UTC(), Level: level, Message: message,
	})
}

func statusPtr(s workitem.Status) *workitem.Status { return &s }

// topoDepths computes, for every item in the set, the longest path over
// its (denormalized) dependency edges restricted to that same set — the
// number of dependency "hops" that must complete before the item can
// run. Dependencies outside the set are treated as already satisfied.
// Items participating in an undetected cycle get depth 0 rather than
// recursing forever; the validation gate is what actually rejects cycles
// before a run starts.
func topoDepths(items map[string]*workitem.WorkItem) map[string]int {
	depth := map[string]int{}
	var compute func(id string, visiting map[string]bool) int
	compute = func(id string, visiting map[string]bool) int {
		if d, ok := depth[id]; ok {
			return d
		}
		if visiting[id] {
			return 0
		}
		visiting[id] = true
		item, ok := items[id]
		maxDep := -1
		if ok {
			for _, dep := range item.Dependencies {
				if _, inSet := items[dep]; !inSet {
					continue
				}
				if d := compute(dep, visiting); d > maxDep {
					maxDep = d
				}
			}
		}
		delete(visiting, id)
		depth[id] = maxDep + 1
		return depth[id]
	}
	for id := range items {
		compute(id, map[string]bool{})
	}
	return depth
}

// ExecutionStatus is the response shape for get_execution_status (§4.F).
type ExecutionStatus struct {
	Record      *store.ExecutionRecord
	Logs        []store.ExecutionLogEntry
	Artifacts   []store.ExecutionArtifact
	Validations []store.ExecutionValidation
}

// GetExecutionStatus loads an execution's current state (§4.F
// get_execution_status).
func (e *Engine) GetExecutionStatus(ctx context.Context, executionID string, includeLogs, includeArtifacts, includeValidation bool) (*ExecutionStatus, error) {
	record, logs, artifacts, validations, err := e.store.GetExecutionRecord(ctx, executionID, includeLogs, includeArtifacts, includeValidation)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, corerr.NotFound("execution %s not found", executionID)
	}
	return &ExecutionStatus{Record: record, Logs: logs, Artifacts: artifacts, Validations: validations}, nil
}

// CancelExecution stops a running execution (§4.F "Cancellation").
// force=true skips the grace period and kills in-flight agent calls
// immediately; otherwise in-flight items are given up to gracePeriod to
// finish naturally before being cut off.
func (e *Engine) CancelExecution(ctx context.Context, executionID, reason string, rollback, force bool) error {
	e.mu.Lock()
	rs, ok := e.active[executionID]
	e.mu.Unlock()
	if !ok {
		return corerr.InvalidArgument("execution %s is not running", executionID)
	}

	rs.mu.Lock()
	rs.cancelRequested = true
	rs.rollback = rollback
	rs.mu.Unlock()

	// Taken before the run context is cancelled, so items that unwind
	// immediately on cancellation are still transitioned below.
	inFlight := rs.snapshot()

	if force {
		rs.cancel()
	} else {
		go func() {
			deadline := time.Now().Add(gracePeriod)
			for time.Now().Before(deadline) && len(rs.snapshot()) > 0 {
				time.Sleep(100 * time.Millisecond)
			}
			rs.cancel()
		}()
	}

	for _, itemID := range inFlight {
		// in_progress has no direct edge to backlog, so a rollback walks
		// in_progress -> cancelled -> backlog.
		_, _ = e.store.UpdateWorkItem(ctx, itemID, workitem.Patch{Status: statusPtr(workitem.StatusCancelled)})
		if rollback {
			_, _ = e.store.UpdateWorkItem(ctx, itemID, workitem.Patch{Status: statusPtr(workitem.StatusBacklog)})
		}
	}
	if rollback {
		if err := e.store.MarkArtifactsSuperseded(ctx, executionID); err != nil {
			return err
		}
	}

	// Item statuses just changed outside the run loop's own recalc points,
	// so the parent chain's progress is re-derived here.
	if record, _, _, _, err := e.store.GetExecutionRecord(ctx, executionID, false, false, false); err == nil && record != nil {
		if _, err := e.hierarchy.RecalculateProgress(ctx, record.WorkItemID); err != nil {
			e.log(ctx, executionID, "warn", fmt.Sprintf("progress recalculation after cancel failed: %v", err))
		}
	}

	finished := time.Now().UTC()
	return e.store.UpdateExecutionStatus(ctx, executionID, StatusCancelled, &finished, reason, rollback)
}
