package conversations

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/pkg/models"
)

// MemoryStore keeps conversations in memory. Used in tests and local
// development.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	messages      map[string][]*models.Message
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]*models.Message),
	}
}

// GetOrCreate implements Store.
func (s *MemoryStore) GetOrCreate(ctx context.Context, id, tenantID, userID, seedTitle string, convCtx map[string]any) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		conv, ok := s.conversations[id]
		if !ok || conv.TenantID != tenantID || conv.UserID != userID {
			return nil, ErrNotFound
		}
		return cloneConversation(conv), nil
	}

	now := time.Now()
	conv := &models.Conversation{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		UserID:        userID,
		Title:         seedTitle,
		Context:       convCtx,
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.conversations[conv.ID] = conv
	return cloneConversation(conv), nil
}

// AppendMessage implements Store.
func (s *MemoryStore) AppendMessage(ctx context.Context, conversationID string, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return ErrNotFound
	}
	stored := *msg
	if stored.ID == "" {
		stored.ID = uuid.NewString()
		msg.ID = stored.ID
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
		msg.CreatedAt = stored.CreatedAt
	}
	stored.ConversationID = conversationID
	s.messages[conversationID] = append(s.messages[conversationID], &stored)
	return nil
}

// GetHistory implements Store.
func (s *MemoryStore) GetHistory(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	msgs := s.messages[conversationID]
	sorted := make([]*models.Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	if len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}

	out := make([]*models.Message, len(sorted))
	for i, m := range sorted {
		clone := *m
		out[i] = &clone
	}
	return out, nil
}

// AdvanceCounters implements Store.
func (s *MemoryStore) AdvanceCounters(ctx context.Context, conversationID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advanceLocked(conversationID, delta)
}

// CompleteTurn implements Store.
func (s *MemoryStore) CompleteTurn(ctx context.Context, conversationID string, assistant *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return ErrNotFound
	}
	stored := *assistant
	if stored.ID == "" {
		stored.ID = uuid.NewString()
		assistant.ID = stored.ID
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
		assistant.CreatedAt = stored.CreatedAt
	}
	stored.ConversationID = conversationID
	s.messages[conversationID] = append(s.messages[conversationID], &stored)
	return s.advanceLocked(conversationID, 2)
}

func (s *MemoryStore) advanceLocked(conversationID string, delta int) error {
	conv, ok := s.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	conv.MessageCount += delta
	conv.LastMessageAt = now
	conv.UpdatedAt = now
	return nil
}

// Get returns a conversation by ID without ownership checks. Test helper.
func (s *MemoryStore) Get(id string) (*models.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, false
	}
	return cloneConversation(conv), true
}

func cloneConversation(c *models.Conversation) *models.Conversation {
	clone := *c
	return &clone
}
