package conversations

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/pkg/models"
)

func TestMemoryStoreCreate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	conv, err := store.GetOrCreate(ctx, "", "tenant-a", "user-1", "seed title", map[string]any{"source": "web"})
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if conv.ID == "" {
		t.Error("expected generated conversation ID")
	}
	if conv.TenantID != "tenant-a" || conv.UserID != "user-1" {
		t.Errorf("ownership = %s/%s, want tenant-a/user-1", conv.TenantID, conv.UserID)
	}
	if conv.Title != "seed title" {
		t.Errorf("title = %q, want %q", conv.Title, "seed title")
	}
	if conv.MessageCount != 0 {
		t.Errorf("message count = %d, want 0", conv.MessageCount)
	}

	got, err := store.GetOrCreate(ctx, conv.ID, "tenant-a", "user-1", "", nil)
	if err != nil {
		t.Fatalf("GetOrCreate(existing) error = %v", err)
	}
	if got.ID != conv.ID {
		t.Errorf("ID = %s, want %s", got.ID, conv.ID)
	}
}

func TestMemoryStoreOwnershipMismatch(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	conv, err := store.GetOrCreate(ctx, "", "tenant-a", "user-1", "", nil)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	tests := []struct {
		name     string
		tenantID string
		userID   string
	}{
		{"wrong tenant", "tenant-b", "user-1"},
		{"wrong user", "tenant-a", "user-2"},
		{"wrong both", "tenant-b", "user-2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.GetOrCreate(ctx, conv.ID, tt.tenantID, tt.userID, "", nil)
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestMemoryStoreUnknownID(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.GetOrCreate(context.Background(), "no-such-id", "tenant-a", "user-1", "", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreAppendAndHistory(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	conv, err := store.GetOrCreate(ctx, "", "tenant-a", "user-1", "", nil)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 4; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		msg := &models.Message{
			Role:      role,
			Content:   fmt.Sprintf("message %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.AppendMessage(ctx, conv.ID, msg); err != nil {
			t.Fatalf("AppendMessage(%d) error = %v", i, err)
		}
		if msg.ID == "" {
			t.Errorf("message %d: expected generated ID written back", i)
		}
	}

	history, err := store.GetHistory(ctx, conv.ID, 0)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("history length = %d, want 4", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].CreatedAt.Before(history[i-1].CreatedAt) {
			t.Errorf("history not ascending at index %d", i)
		}
	}
	if history[0].Content != "message 0" {
		t.Errorf("first message = %q, want %q", history[0].Content, "message 0")
	}
}

func TestMemoryStoreHistoryLimitKeepsNewest(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	conv, err := store.GetOrCreate(ctx, "", "tenant-a", "user-1", "", nil)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		msg := &models.Message{
			Role:      models.RoleUser,
			Content:   fmt.Sprintf("message %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.AppendMessage(ctx, conv.ID, msg); err != nil {
			t.Fatalf("AppendMessage(%d) error = %v", i, err)
		}
	}

	history, err := store.GetHistory(ctx, conv.ID, 2)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Content != "message 3" || history[1].Content != "message 4" {
		t.Errorf("got %q, %q; want the two most recent messages", history[0].Content, history[1].Content)
	}
}

func TestMemoryStoreAppendToMissingConversation(t *testing.T) {
	store := NewMemoryStore()
	err := store.AppendMessage(context.Background(), "no-such-id", &models.Message{Role: models.RoleUser, Content: "hi"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreCompleteTurn(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	conv, err := store.GetOrCreate(ctx, "", "tenant-a", "user-1", "", nil)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	user := &models.Message{Role: models.RoleUser, Content: "what is Go?"}
	if err := store.AppendMessage(ctx, conv.ID, user); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	assistant := &models.Message{Role: models.RoleAssistant, Content: "Go is a programming language."}
	if err := store.CompleteTurn(ctx, conv.ID, assistant); err != nil {
		t.Fatalf("CompleteTurn() error = %v", err)
	}
	if assistant.ID == "" {
		t.Error("expected assistant message ID written back")
	}

	updated, ok := store.Get(conv.ID)
	if !ok {
		t.Fatal("conversation disappeared")
	}
	if updated.MessageCount != 2 {
		t.Errorf("message count = %d, want 2", updated.MessageCount)
	}
	if !updated.LastMessageAt.After(conv.LastMessageAt) && !updated.LastMessageAt.Equal(conv.LastMessageAt) {
		t.Error("expected last message time to advance")
	}

	history, err := store.GetHistory(ctx, conv.ID, 0)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[1].Role != models.RoleAssistant {
		t.Errorf("last role = %s, want assistant", history[1].Role)
	}
}

func TestMemoryStoreCompleteTurnMissingConversation(t *testing.T) {
	store := NewMemoryStore()
	err := store.CompleteTurn(context.Background(), "no-such-id", &models.Message{Role: models.RoleAssistant, Content: "x"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreAdvanceCounters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	conv, err := store.GetOrCreate(ctx, "", "tenant-a", "user-1", "", nil)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if err := store.AdvanceCounters(ctx, conv.ID, 3); err != nil {
		t.Fatalf("AdvanceCounters() error = %v", err)
	}
	updated, _ := store.Get(conv.ID)
	if updated.MessageCount != 3 {
		t.Errorf("message count = %d, want 3", updated.MessageCount)
	}

	if err := store.AdvanceCounters(ctx, "no-such-id", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreHistoryReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	conv, err := store.GetOrCreate(ctx, "", "tenant-a", "user-1", "", nil)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if err := store.AppendMessage(ctx, conv.ID, &models.Message{Role: models.RoleUser, Content: "original"}); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	first, _ := store.GetHistory(ctx, conv.ID, 0)
	first[0].Content = "mutated"

	second, _ := store.GetHistory(ctx, conv.ID, 0)
	if second[0].Content != "original" {
		t.Errorf("content = %q, stored message should not be affected by caller mutation", second[0].Content)
	}
}
