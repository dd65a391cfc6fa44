package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// AttachmentType classifies an attachment.
type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentDocument AttachmentType = "document"
	AttachmentFile     AttachmentType = "file"
)

// ValidAttachmentType reports whether t is one of the accepted attachment types.
func ValidAttachmentType(t AttachmentType) bool {
	switch t {
	case AttachmentImage, AttachmentDocument, AttachmentFile:
		return true
	default:
		return false
	}
}

// Conversation is a thread of messages owned by a single tenant and user.
// Message count and last-activity advance together after every completed turn;
// the record is never deleted by this subsystem.
type Conversation struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenant_id"`
	UserID        string         `json:"user_id"`
	Title         string         `json:"title,omitempty"`
	MessageCount  int            `json:"message_count"`
	Context       map[string]any `json:"context,omitempty"`
	LastMessageAt time.Time      `json:"last_message_at"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Message belongs to exactly one Conversation. Immutable once written; creation
// time ascending is the only ordering guarantee consumers may rely on.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	Attachments    []Attachment   `json:"attachments,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Attachment represents a file or media attachment on a message.
type Attachment struct {
	Type     AttachmentType `json:"type"`
	URL      string         `json:"url"`
	Name     string         `json:"name,omitempty"`
	Size     int64          `json:"size,omitempty"`
	MimeType string         `json:"mime_type,omitempty"`
}

// HasImages reports whether any attachment carries vision-capable image content.
func HasImages(attachments []Attachment) bool {
	for _, a := range attachments {
		if a.Type == AttachmentImage {
			return true
		}
	}
	return false
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}
