// Package llm abstracts streaming chat-completion providers. The orchestrator
// only sees channels of CompletionChunk; provider-specific wire formats stay
// behind the Provider interface.
package llm

import (
	"context"
	"encoding/json"

	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/pkg/models"
)

// Tool is the subset of a tool definition a provider needs to advertise it to
// the model. internal/tools implementations satisfy it.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
}

// Provider streams completions. Each Complete call owns an independent stream
// and goroutine; implementations must be safe for concurrent use.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)
}

// CompletionRequest is one LLM invocation within a turn.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []CompletionMessage
	Tools       []Tool
	MaxTokens   int
	Temperature float32
}

// CompletionMessage is a single entry in the model-facing message list.
// Attachments only matter on user-role messages; ToolCalls on assistant
// messages; ToolResults on tool-role messages.
type CompletionMessage struct {
	Role        string
	Content     string
	Attachments []models.Attachment
	ToolCalls   []models.ToolCall
	ToolResults []ToolResult
}

// ToolResult feeds one executed tool's output back to the model.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// CompletionChunk is one increment of a streaming response. Exactly one of
// Text or ToolCall is set on intermediate chunks; the final chunk has Done set
// and may carry an Error.
type CompletionChunk struct {
	Text     string
	ToolCall *models.ToolCall
	Done     bool
	Error    error
}

// MessagesFromHistory converts persisted messages to the model-facing list.
// Attachments ride along on every user message so vision grounding survives
// multi-round tool loops, not just the newest message.
func MessagesFromHistory(history []*models.Message) []CompletionMessage {
	out := make([]CompletionMessage, 0, len(history))
	for _, msg := range history {
		cm := CompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		if msg.Role == models.RoleUser {
			cm.Attachments = msg.Attachments
		}
		out = append(out, cm)
	}
	return out
}
