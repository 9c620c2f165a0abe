package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/jivecore/jivecore/internal/store"
	"github.com/jivecore/jivecore/internal/workitem"
)

// AgentOutcome is what an AgentRunner reports back for one work item.
type AgentOutcome struct {
	Success   bool
	Output    string
	Duration  time.Duration
	Artifacts []store.ExecutionArtifact
}

// AgentRunner dispatches one work item to whatever autonomous agent
// backend is configured. Implementations must respect ctx cancellation so
// the orchestrator's cancellation protocol (§4.F) can cut off in-flight
// calls.
type AgentRunner interface {
	RunItem(ctx context.Context, item *workitem.WorkItem, agentContext json.RawMessage) (*AgentOutcome, error)
}

// ClaudeCLIRunner dispatches items to a local `claude` CLI invocation,
// one subprocess per item: render a prompt, pipe it over stdin, capture
// stdout.
type ClaudeCLIRunner struct {
	claudePath string
	model      string
}

// NewClaudeCLIRunner creates a runner. claudePath defaults to "claude" on
// $PATH if empty.
func NewClaudeCLIRunner(claudePath, model string) *ClaudeCLIRunner {
	if claudePath == "" {
		claudePath = "claude"
	}
	return &ClaudeCLIRunner{claudePath: claudePath, model: model}
}

// completionMarker is emitted by agent prompts that finish successfully,
// an exit-code-independent completion signal since a nonzero exit can
// still carry useful partial output.
const completionMarker = "<done>"

func (r *ClaudeCLIRunner) RunItem(ctx context.Context, item *workitem.WorkItem, agentContext json.RawMessage) (*AgentOutcome, error) {
	start := time.Now()
	prompt := r.renderPrompt(item, agentContext)

	args := []string{"--print", "--dangerously-skip-permissions"}
	if r.model != "" {
		args = append(args, "--model", r.model)
	}

	cmd := exec.CommandContext(ctx, r.claudePath, args...) // #nosec G204 -- claudePath is fixed at construction time, not taken from request input
	cmd.Stdin = strings.NewReader(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	outcome := &AgentOutcome{
		Output:   stdout.String(),
		Duration: time.Since(start),
		Success:  runErr == nil,
	}
	if strings.Contains(outcome.Output, completionMarker) {
		outcome.Success = true
	}
	if runErr != nil && !outcome.Success {
		return outcome, fmt.Errorf("agent run for %s: %w: %s", item.ID, runErr, stderr.String())
	}
	return outcome, nil
}

func (r *ClaudeCLIRunner) renderPrompt(item *workitem.WorkItem, agentContext json.RawMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are executing work item %s (%s): %s\n\n", item.ID, item.ItemType, item.Title)
	if item.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", item.Description)
	}
	if item.ExecutionInstructions != "" {
		fmt.Fprintf(&b, "Instructions:\n%s\n\n", item.ExecutionInstructions)
	}
	if len(agentContext) > 0 {
		fmt.Fprintf(&b, "Context:\n%s\n\n", string(agentContext))
	}
	fmt.Fprintf(&b, "Emit %s on the final line once the work item is complete.\n", completionMarker)
	return b.String()
}
