package models

// Stream record shapes for the framed NDJSON turn protocol. Each record is one
// newline-delimited JSON object; the terminal record (Done=true) is followed by
// a sentinel end marker so clients reading until a single delimiter know to stop.

// ConversationRecord is the first record of every turn stream.
type ConversationRecord struct {
	ConversationID string `json:"conversationId"`
}

// ContentRecord carries a partial chunk of assistant text. Emitted many times
// per turn with small strings so the client perceives typing latency.
type ContentRecord struct {
	Content string `json:"content"`
}

// ToolExecutionRecord announces that a round's tool calls are starting.
type ToolExecutionRecord struct {
	ToolExecution bool     `json:"toolExecution"`
	Tools         []string `json:"tools"`
}

// ToolResultRecord is one entry of a ToolResultsRecord.
type ToolResultRecord struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
}

// ToolResultsRecord reports the outcomes of a round's tool calls.
type ToolResultsRecord struct {
	ToolResults []ToolResultRecord `json:"toolResults"`
}

// ErrorRecord surfaces a turn-level failure to the client.
type ErrorRecord struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// TerminalRecord closes a successful turn.
type TerminalRecord struct {
	ConversationID string         `json:"conversationId"`
	MessageID      string         `json:"messageId"`
	ToolsExecuted  []string       `json:"toolsExecuted"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Cached         bool           `json:"cached,omitempty"`
	Done           bool           `json:"done"`
}

// StreamEndSentinel is written as its own line after the terminal record.
const StreamEndSentinel = "[DONE]"
