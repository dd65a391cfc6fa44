package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/auth"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/events"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/orchestrator"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/pkg/models"
)

// maxMessageLength bounds the inbound message in runes.
const maxMessageLength = 10000

// chatRequest is the POST /v1/assistant/chat body.
type chatRequest struct {
	ConversationID string              `json:"conversationId"`
	Message        string              `json:"message"`
	Attachments    []models.Attachment `json:"attachments,omitempty"`
	Context        map[string]any      `json:"context,omitempty"`
}

// handleChat validates the request, resolves identity, and hands the turn to
// the orchestrator. Every response is NDJSON ending in the stream sentinel,
// failures included, so clients parse exactly one shape.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	identity, err := s.authenticate(r)
	if err != nil {
		s.rejectStream(w, http.StatusUnauthorized, "authentication required", orchestrator.CodeAuth)
		return
	}

	// Validate before charging the limiter so malformed requests never
	// consume quota.
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.rejectStream(w, http.StatusBadRequest, "malformed request body", orchestrator.CodeValidation)
		return
	}
	if msg := validateChatRequest(&req); msg != "" {
		s.rejectStream(w, http.StatusBadRequest, msg, orchestrator.CodeValidation)
		return
	}

	if s.limiter != nil && !s.limiter.Allow(identity.TenantID+":"+identity.UserID) {
		retryAfter := s.limiter.RetryAfter(identity.TenantID + ":" + identity.UserID)
		w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
		s.rejectStream(w, http.StatusTooManyRequests, "rate limit exceeded", orchestrator.CodeRateLimit)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	stream := events.Open(w)
	s.orchestrator.RunTurn(r.Context(), orchestrator.TurnRequest{
		ConversationID: req.ConversationID,
		TenantID:       identity.TenantID,
		UserID:         identity.UserID,
		Message:        req.Message,
		Attachments:    req.Attachments,
		Context:        req.Context,
	}, stream)
}

// authenticate resolves the caller's identity. With auth disabled the tenant
// and user come from headers, defaulting to a shared development identity.
func (s *Server) authenticate(r *http.Request) (auth.Identity, error) {
	if s.authService == nil || !s.authService.Enabled() {
		identity := auth.Identity{
			TenantID: r.Header.Get("X-Tenant-ID"),
			UserID:   r.Header.Get("X-User-ID"),
		}
		if identity.TenantID == "" {
			identity.TenantID = "default"
		}
		if identity.UserID == "" {
			identity.UserID = "anonymous"
		}
		return identity, nil
	}

	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return s.authService.Authenticate(strings.TrimSpace(token))
}

// validateChatRequest returns a rejection message, or "" when the request is
// acceptable.
func validateChatRequest(req *chatRequest) string {
	if strings.TrimSpace(req.Message) == "" {
		return "message must not be empty"
	}
	if len([]rune(req.Message)) > maxMessageLength {
		return fmt.Sprintf("message exceeds %d characters", maxMessageLength)
	}
	for _, a := range req.Attachments {
		if !models.ValidAttachmentType(a.Type) {
			return fmt.Sprintf("unknown attachment type %q", a.Type)
		}
		if strings.TrimSpace(a.URL) == "" {
			return "attachment url must not be empty"
		}
	}
	return ""
}

// rejectStream writes a single error record plus the sentinel so rejected
// requests still speak the stream protocol.
func (s *Server) rejectStream(w http.ResponseWriter, status int, message string, code orchestrator.ErrorCode) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(status)
	stream := events.Open(w)
	stream.SendErrorCode(message, string(code))
	stream.Close(nil)
}
