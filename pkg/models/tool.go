package models

import (
	"encoding/json"
	"time"
)

// ToolInvocation is the outcome of one tool call within a turn. It is not
// persisted as its own row; completed invocations are embedded in the assistant
// message's metadata.
type ToolInvocation struct {
	CallID               string          `json:"call_id"`
	Name                 string          `json:"name"`
	Arguments            json.RawMessage `json:"arguments,omitempty"`
	Success              bool            `json:"success"`
	Result               string          `json:"result,omitempty"`
	Error                string          `json:"error,omitempty"`
	AutoExecuted         bool            `json:"auto_executed"`
	RequiresConfirmation bool            `json:"requires_confirmation,omitempty"`
	Confidence           float64         `json:"confidence,omitempty"`
	Reason               string          `json:"reason,omitempty"`
	Duration             time.Duration   `json:"duration,omitempty"`
}

// Executed reports whether the tool actually ran (auto-executed, regardless of
// whether the run itself succeeded). Invocations parked for confirmation never
// count as executed.
func (inv ToolInvocation) Executed() bool {
	return !inv.RequiresConfirmation
}

// AutonomyDecision is the policy verdict for a single tool call. Computed fresh
// per call; confidence moves as approvals accumulate, so decisions are never
// cached across calls.
type AutonomyDecision struct {
	ToolName    string  `json:"tool_name"`
	AutoExecute bool    `json:"auto_execute"`
	Confidence  float64 `json:"confidence"`
	Reason      string  `json:"reason"`
}
