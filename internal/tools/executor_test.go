package tools

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/autonomy"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/pkg/models"
)

type stubTool struct {
	name    string
	schema  string
	execute func(ctx context.Context, args json.RawMessage) (*Result, error)
}

func (t *stubTool) Name() string        { return t.name }
func (t *stubTool) Description() string { return "stub" }
func (t *stubTool) Schema() json.RawMessage {
	if t.schema != "" {
		return json.RawMessage(t.schema)
	}
	return json.RawMessage(`{"type":"object"}`)
}
func (t *stubTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	return t.execute(ctx, args)
}

type captureSink struct {
	mu      sync.Mutex
	records []AuditRecord
}

func (s *captureSink) Record(rec AuditRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

func (s *captureSink) outcomes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.records))
	for i, r := range s.records {
		out[i] = r.Outcome
	}
	return out
}

func permissiveGate() *autonomy.Gate {
	return autonomy.NewGate(&autonomy.StaticPolicy{Fallback: 0.99}, 0, nil)
}

func restrictiveGate() *autonomy.Gate {
	return autonomy.NewGate(&autonomy.StaticPolicy{Fallback: 0.10}, 0, nil)
}

func echoTool(name string) Tool {
	return &stubTool{
		name: name,
		execute: func(ctx context.Context, args json.RawMessage) (*Result, error) {
			return &Result{Content: "echo:" + string(args)}, nil
		},
	}
}

func TestExecuteAllBatchIsolatesMalformedArgs(t *testing.T) {
	registry := NewRegistry()
	registry.Register(echoTool("alpha"))
	registry.Register(echoTool("beta"))
	registry.Register(echoTool("gamma"))

	executor := NewExecutor(registry, permissiveGate(), nil, nil, nil)
	calls := []models.ToolCall{
		{ID: "c1", Name: "alpha", Input: json.RawMessage(`{"x":1}`)},
		{ID: "c2", Name: "beta", Input: json.RawMessage(`{"x":`)},
		{ID: "c3", Name: "gamma", Input: json.RawMessage(`{"x":3}`)},
	}

	results := executor.ExecuteAll(context.Background(), calls, RunContext{TenantID: "t1", ActorID: "u1"})
	if len(results) != 3 {
		t.Fatalf("result count = %d, want 3", len(results))
	}
	if !results[0].Success || !results[2].Success {
		t.Errorf("sibling calls affected by malformed batch member: %+v, %+v", results[0], results[2])
	}
	if results[1].Success {
		t.Error("malformed args call should fail")
	}
	if !strings.Contains(results[1].Error, "malformed") {
		t.Errorf("error = %q, want malformed args message", results[1].Error)
	}
	for i, call := range calls {
		if results[i].CallID != call.ID {
			t.Errorf("result %d call ID = %s, want %s", i, results[i].CallID, call.ID)
		}
	}
}

func TestExecuteAllRejectsSchemaViolationBeforeGate(t *testing.T) {
	registry := NewRegistry()
	executed := false
	registry.Register(&stubTool{
		name:   "analyze_website",
		schema: `{"type":"object","properties":{"url":{"type":"string"}},"required":["url"]}`,
		execute: func(ctx context.Context, args json.RawMessage) (*Result, error) {
			executed = true
			return &Result{Content: "ran"}, nil
		},
	})

	sink := &captureSink{}
	executor := NewExecutor(registry, permissiveGate(), sink, nil, nil)
	results := executor.ExecuteAll(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "analyze_website", Input: json.RawMessage(`{"foo":"bar"}`)},
		{ID: "c2", Name: "analyze_website", Input: json.RawMessage(`{"url":42}`)},
		{ID: "c3", Name: "analyze_website", Input: json.RawMessage(`{"url":"https://example.com"}`)},
	}, RunContext{TenantID: "t1", ActorID: "u1"})

	for i, inv := range results[:2] {
		if inv.Success {
			t.Errorf("call %d violates the schema and must not succeed: %+v", i, inv)
		}
		if inv.AutoExecuted || inv.Confidence != 0 {
			t.Errorf("call %d must be rejected before the gate runs: %+v", i, inv)
		}
		if !strings.Contains(inv.Error, "invalid") {
			t.Errorf("call %d error = %q, want schema rejection", i, inv.Error)
		}
	}
	if !strings.Contains(results[0].Error, "url") {
		t.Errorf("error = %q, want the missing property named", results[0].Error)
	}
	if !results[2].Success {
		t.Errorf("conforming call should succeed: %+v", results[2])
	}
	if !executed {
		t.Error("conforming call never reached the tool")
	}

	invalid := 0
	for _, o := range sink.outcomes() {
		if o == "invalid_args" {
			invalid++
		}
	}
	if invalid != 2 {
		t.Errorf("invalid_args audit records = %d, want 2", invalid)
	}
}

func TestExecuteAllUnknownTool(t *testing.T) {
	executor := NewExecutor(NewRegistry(), permissiveGate(), nil, nil, nil)
	results := executor.ExecuteAll(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "nonexistent", Input: json.RawMessage(`{}`)},
	}, RunContext{})
	if len(results) != 1 {
		t.Fatalf("result count = %d, want 1", len(results))
	}
	if results[0].Success {
		t.Error("unknown tool should fail")
	}
	if !strings.Contains(results[0].Error, "tool not found") {
		t.Errorf("error = %q, want tool-not-found message", results[0].Error)
	}
}

func TestExecuteAllGateHoldsLowConfidenceCall(t *testing.T) {
	registry := NewRegistry()
	executed := false
	registry.Register(&stubTool{
		name: "send_email",
		execute: func(ctx context.Context, args json.RawMessage) (*Result, error) {
			executed = true
			return &Result{Content: "sent"}, nil
		},
	})

	executor := NewExecutor(registry, restrictiveGate(), nil, nil, nil)
	results := executor.ExecuteAll(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "send_email", Input: json.RawMessage(`{"to":"a@b.co"}`)},
	}, RunContext{TenantID: "t1", ActorID: "u1"})

	if executed {
		t.Error("gated tool must not execute")
	}
	inv := results[0]
	if !inv.RequiresConfirmation {
		t.Error("expected requires-confirmation invocation")
	}
	if inv.Executed() {
		t.Error("held invocation must not count as executed")
	}
	if inv.Name != "send_email" || len(inv.Arguments) == 0 {
		t.Errorf("held invocation should carry name and arguments: %+v", inv)
	}
	if inv.Confidence >= autonomy.DefaultThreshold {
		t.Errorf("confidence = %f, expected below threshold", inv.Confidence)
	}
	if inv.Reason == "" {
		t.Error("held invocation should carry a reason")
	}
}

func TestExecuteAllRecoversPanic(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&stubTool{
		name: "explosive",
		execute: func(ctx context.Context, args json.RawMessage) (*Result, error) {
			panic("boom")
		},
	})
	registry.Register(echoTool("calm"))

	executor := NewExecutor(registry, permissiveGate(), nil, nil, nil)
	results := executor.ExecuteAll(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "explosive", Input: json.RawMessage(`{}`)},
		{ID: "c2", Name: "calm", Input: json.RawMessage(`{}`)},
	}, RunContext{})

	if results[0].Success {
		t.Error("panicking tool should report failure")
	}
	if !strings.Contains(results[0].Error, "panicked") {
		t.Errorf("error = %q, want panic message", results[0].Error)
	}
	if !results[1].Success {
		t.Errorf("sibling of panicking tool should succeed: %+v", results[1])
	}
}

func TestExecuteAllTimeout(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&stubTool{
		name: "slow",
		execute: func(ctx context.Context, args json.RawMessage) (*Result, error) {
			select {
			case <-time.After(time.Second):
				return &Result{Content: "done"}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})

	executor := NewExecutor(registry, permissiveGate(), nil, &ExecutorConfig{
		MaxConcurrency: 2,
		CallTimeout:    20 * time.Millisecond,
	}, nil)
	results := executor.ExecuteAll(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "slow", Input: json.RawMessage(`{}`)},
	}, RunContext{})

	if results[0].Success {
		t.Error("slow tool should time out")
	}
	if !strings.Contains(results[0].Error, "timed out") {
		t.Errorf("error = %q, want timeout message", results[0].Error)
	}
}

func TestExecuteAllConcurrent(t *testing.T) {
	registry := NewRegistry()
	started := make(chan struct{}, 3)
	release := make(chan struct{})
	registry.Register(&stubTool{
		name: "parallel",
		execute: func(ctx context.Context, args json.RawMessage) (*Result, error) {
			started <- struct{}{}
			<-release
			return &Result{Content: "ok"}, nil
		},
	})

	executor := NewExecutor(registry, permissiveGate(), nil, &ExecutorConfig{
		MaxConcurrency: 3,
		CallTimeout:    5 * time.Second,
	}, nil)

	done := make(chan []models.ToolInvocation, 1)
	go func() {
		done <- executor.ExecuteAll(context.Background(), []models.ToolCall{
			{ID: "c1", Name: "parallel", Input: json.RawMessage(`{}`)},
			{ID: "c2", Name: "parallel", Input: json.RawMessage(`{}`)},
			{ID: "c3", Name: "parallel", Input: json.RawMessage(`{}`)},
		}, RunContext{})
	}()

	// All three must be in flight before any completes.
	for i := 0; i < 3; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d calls started concurrently", i)
		}
	}
	close(release)

	results := <-done
	for i, inv := range results {
		if !inv.Success {
			t.Errorf("call %d failed: %+v", i, inv)
		}
	}
}

func TestExecuteAllAuditRecords(t *testing.T) {
	registry := NewRegistry()
	registry.Register(echoTool("observed"))

	sink := &captureSink{}
	executor := NewExecutor(registry, permissiveGate(), sink, nil, nil)
	executor.ExecuteAll(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "observed", Input: json.RawMessage(`{}`)},
		{ID: "c2", Name: "missing", Input: json.RawMessage(`{}`)},
	}, RunContext{TenantID: "t1", ActorID: "u1"})

	outcomes := sink.outcomes()
	if len(outcomes) != 2 {
		t.Fatalf("audit record count = %d, want 2", len(outcomes))
	}
	seen := map[string]bool{}
	for _, o := range outcomes {
		seen[o] = true
	}
	if !seen["succeeded"] || !seen["failed"] {
		t.Errorf("outcomes = %v, want one succeeded and one failed", outcomes)
	}
}

func TestExecutedNames(t *testing.T) {
	invocations := []models.ToolInvocation{
		{Name: "a", Success: true},
		{Name: "b", Success: false},
		{Name: "c", RequiresConfirmation: true},
		{Name: "d", Success: true},
	}
	names := ExecutedNames(invocations)
	if len(names) != 2 || names[0] != "a" || names[1] != "d" {
		t.Errorf("ExecutedNames() = %v, want [a d]", names)
	}
}

func TestExecuteAllEmptyBatch(t *testing.T) {
	executor := NewExecutor(NewRegistry(), permissiveGate(), nil, nil, nil)
	if results := executor.ExecuteAll(context.Background(), nil, RunContext{}); results != nil {
		t.Errorf("empty batch should return nil, got %v", results)
	}
}
