package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/autonomy"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/pkg/models"
)

// ExecutorConfig configures the parallel tool executor.
type ExecutorConfig struct {
	// MaxConcurrency limits the number of parallel tool executions
	// Default: 5
	MaxConcurrency int `yaml:"max_concurrency"`

	// CallTimeout bounds each individual tool execution
	// Default: 30s
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxConcurrency: 5,
		CallTimeout:    30 * time.Second,
	}
}

// RunContext identifies the tenant and actor on whose behalf a batch runs.
// The autonomy gate keys its confidence lookup on both.
type RunContext struct {
	TenantID string
	ActorID  string
}

// AuditRecord captures execution bookkeeping for one tool call. Records are
// handed to the audit sink asynchronously and never block the caller.
type AuditRecord struct {
	TenantID   string        `json:"tenant_id"`
	ActorID    string        `json:"actor_id"`
	CallID     string        `json:"call_id"`
	Tool       string        `json:"tool"`
	Outcome    string        `json:"outcome"`
	Gated      bool          `json:"gated"`
	Confidence float64       `json:"confidence"`
	Duration   time.Duration `json:"duration"`
	At         time.Time     `json:"at"`
}

// AuditSink receives execution records. Implementations must not block.
type AuditSink interface {
	Record(rec AuditRecord)
}

// Executor runs tool-call batches concurrently, gating each call through the
// autonomy policy first.
type Executor struct {
	registry *Registry
	gate     *autonomy.Gate
	audit    AuditSink
	config   *ExecutorConfig
	logger   *slog.Logger

	// Semaphore for concurrency limiting
	sem chan struct{}
}

// NewExecutor creates a parallel tool executor. If config is nil,
// DefaultExecutorConfig is used. The audit sink may be nil.
func NewExecutor(registry *Registry, gate *autonomy.Gate, audit AuditSink, config *ExecutorConfig, logger *slog.Logger) *Executor {
	if config == nil {
		config = DefaultExecutorConfig()
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 5
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		gate:     gate,
		audit:    audit,
		config:   config,
		logger:   logger.With("component", "tools"),
		sem:      make(chan struct{}, config.MaxConcurrency),
	}
}

// ExecuteAll runs a batch of tool calls concurrently. The result slice is
// positionally aligned with the input and always the same length; malformed
// arguments, unknown tools, panics, and gate holds all produce a well-formed
// invocation for their slot without touching sibling calls.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall, run RunContext) []models.ToolInvocation {
	if len(calls) == 0 {
		return nil
	}

	results := make([]models.ToolInvocation, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc models.ToolCall) {
			defer wg.Done()
			results[idx] = e.execute(ctx, tc, run)
		}(i, call)
	}

	wg.Wait()
	return results
}

func (e *Executor) execute(ctx context.Context, call models.ToolCall, run RunContext) models.ToolInvocation {
	start := time.Now()
	inv := models.ToolInvocation{
		CallID:    call.ID,
		Name:      call.Name,
		Arguments: call.Input,
	}

	// Reject malformed or schema-violating arguments before gating or
	// execution, so a bad payload never consumes a policy evaluation.
	if len(call.Input) > 0 && !json.Valid(call.Input) {
		inv.Error = "malformed tool arguments: invalid JSON"
		inv.Duration = time.Since(start)
		e.record(run, inv, "invalid_args")
		return inv
	}
	if tool, ok := e.registry.Get(call.Name); ok {
		if err := validateArgs(tool, call.Input); err != nil {
			inv.Error = err.Error()
			inv.Duration = time.Since(start)
			e.record(run, inv, "invalid_args")
			return inv
		}
	}

	decision := e.gate.Evaluate(ctx, call.Name, run.TenantID, run.ActorID)
	inv.Confidence = decision.Confidence
	inv.Reason = decision.Reason
	if !decision.AutoExecute {
		// Same envelope shape as an execution so callers need no separate
		// code path; the UI approves or rejects out-of-band later.
		inv.RequiresConfirmation = true
		inv.Duration = time.Since(start)
		e.record(run, inv, "held_for_confirmation")
		return inv
	}
	inv.AutoExecuted = true

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		inv.Error = fmt.Sprintf("tool execution cancelled: %v", ctx.Err())
		inv.Duration = time.Since(start)
		e.record(run, inv, "cancelled")
		return inv
	}

	result, err := e.executeWithTimeout(ctx, call)
	inv.Duration = time.Since(start)
	switch {
	case err != nil:
		inv.Error = err.Error()
		e.record(run, inv, "failed")
	case result.IsError:
		inv.Error = result.Content
		e.record(run, inv, "failed")
	default:
		inv.Success = true
		inv.Result = result.Content
		e.record(run, inv, "succeeded")
	}
	return inv
}

func (e *Executor) executeWithTimeout(ctx context.Context, call models.ToolCall) (*Result, error) {
	execCtx, cancel := context.WithTimeout(ctx, e.config.CallTimeout)
	defer cancel()

	type execResult struct {
		result *Result
		err    error
	}
	resultCh := make(chan execResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				e.logger.Error("tool panicked", "tool", call.Name, "panic", r)
				resultCh <- execResult{err: fmt.Errorf("tool %s panicked: %v\n%s", call.Name, r, stack)}
			}
		}()

		result, err := e.registry.Execute(execCtx, call.Name, call.Input)
		resultCh <- execResult{result: result, err: err}
	}()

	select {
	case res := <-resultCh:
		return res.result, res.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, fmt.Errorf("tool %s cancelled: %w", call.Name, ctx.Err())
		}
		return nil, fmt.Errorf("tool %s timed out after %s", call.Name, e.config.CallTimeout)
	}
}

func (e *Executor) record(run RunContext, inv models.ToolInvocation, outcome string) {
	if e.audit == nil {
		return
	}
	e.audit.Record(AuditRecord{
		TenantID:   run.TenantID,
		ActorID:    run.ActorID,
		CallID:     inv.CallID,
		Tool:       inv.Name,
		Outcome:    outcome,
		Gated:      inv.RequiresConfirmation,
		Confidence: inv.Confidence,
		Duration:   inv.Duration,
		At:         time.Now(),
	})
}

// ExecutedNames returns the names of invocations that actually ran and
// succeeded, in batch order. This feeds the terminal event's toolsExecuted.
func ExecutedNames(invocations []models.ToolInvocation) []string {
	names := make([]string, 0, len(invocations))
	for _, inv := range invocations {
		if inv.Executed() && inv.Success {
			names = append(names, inv.Name)
		}
	}
	return names
}
