// Package autonomy decides whether a requested tool call may execute without
// human confirmation. The confidence score comes from an external learned
// policy service; this package only owns the decision boundary.
package autonomy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/pkg/models"
)

// PolicyService supplies a per-tool confidence score in [0,1] for the given
// tenant and actor. Scores move as approvals accumulate, so callers must not
// cache results across calls.
type PolicyService interface {
	Confidence(ctx context.Context, toolName, tenantID, actorID string) (float64, error)
}

// Gate evaluates tool calls against the policy service. Any tool whose
// evaluation comes back AutoExecute=false must not be executed; the executor
// synthesizes a requires-confirmation result instead.
type Gate struct {
	policy    PolicyService
	threshold float64
	logger    *slog.Logger
}

// DefaultThreshold is the confidence above which a tool auto-executes.
const DefaultThreshold = 0.85

// NewGate creates a gate over the given policy service. A threshold <= 0 falls
// back to DefaultThreshold.
func NewGate(policy PolicyService, threshold float64, logger *slog.Logger) *Gate {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		policy:    policy,
		threshold: threshold,
		logger:    logger.With("component", "autonomy"),
	}
}

// Evaluate queries the policy service and returns the autonomy decision for
// one tool call. Policy failures fail safe: the tool is held for confirmation
// rather than executed on a missing score.
func (g *Gate) Evaluate(ctx context.Context, toolName, tenantID, actorID string) models.AutonomyDecision {
	if g.policy == nil {
		return models.AutonomyDecision{
			ToolName:    toolName,
			AutoExecute: false,
			Reason:      "no policy service configured",
		}
	}

	confidence, err := g.policy.Confidence(ctx, toolName, tenantID, actorID)
	if err != nil {
		g.logger.Warn("policy service unavailable, holding tool for confirmation",
			"tool", toolName, "tenant_id", tenantID, "error", err)
		return models.AutonomyDecision{
			ToolName:    toolName,
			AutoExecute: false,
			Reason:      fmt.Sprintf("policy lookup failed: %v", err),
		}
	}

	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	if confidence >= g.threshold {
		return models.AutonomyDecision{
			ToolName:    toolName,
			AutoExecute: true,
			Confidence:  confidence,
			Reason:      fmt.Sprintf("confidence %.2f meets threshold %.2f", confidence, g.threshold),
		}
	}
	return models.AutonomyDecision{
		ToolName:    toolName,
		AutoExecute: false,
		Confidence:  confidence,
		Reason:      fmt.Sprintf("confidence %.2f below threshold %.2f", confidence, g.threshold),
	}
}

// StaticPolicy is a PolicyService backed by a fixed score map. Used in tests
// and local development; unknown tools score Fallback.
type StaticPolicy struct {
	Scores   map[string]float64
	Fallback float64
}

// Confidence returns the configured score for toolName.
func (p *StaticPolicy) Confidence(ctx context.Context, toolName, tenantID, actorID string) (float64, error) {
	if score, ok := p.Scores[toolName]; ok {
		return score, nil
	}
	return p.Fallback, nil
}
