// Package conversations persists conversation records and their message
// history for the turn orchestrator.
package conversations

import (
	"context"
	"errors"

	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/pkg/models"
)

// ErrNotFound is returned when a conversation does not exist or does not
// belong to the requesting tenant and user. Ownership mismatches are reported
// as not-found rather than leaking the record.
var ErrNotFound = errors.New("conversation not found")

// DefaultHistoryLimit bounds how many recent messages feed the LLM context.
const DefaultHistoryLimit = 30

// Store is the interface for conversation persistence.
type Store interface {
	// GetOrCreate returns the conversation with the given ID after verifying
	// tenant and owner, or creates a fresh one when id is empty.
	GetOrCreate(ctx context.Context, id, tenantID, userID, seedTitle string, convCtx map[string]any) (*models.Conversation, error)

	// AppendMessage inserts one immutable message.
	AppendMessage(ctx context.Context, conversationID string, msg *models.Message) error

	// GetHistory returns the most recent limit messages in creation-time
	// ascending order.
	GetHistory(ctx context.Context, conversationID string, limit int) ([]*models.Message, error)

	// AdvanceCounters bumps the conversation's message count by delta and
	// refreshes its last-activity timestamp.
	AdvanceCounters(ctx context.Context, conversationID string, delta int) error

	// CompleteTurn inserts the assistant message and advances the counters in
	// one logical step, so no turn can persist an assistant message without
	// also moving the count.
	CompleteTurn(ctx context.Context, conversationID string, assistant *models.Message) error
}
