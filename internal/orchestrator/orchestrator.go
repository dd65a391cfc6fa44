// Package orchestrator drives one turn: the bounded LLM-call / tool-call loop,
// token streaming, autonomy-gated execution, response caching, and final
// persistence.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/background"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/cache"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/conversations"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/events"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/llm"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/metrics"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/tools"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/pkg/models"
)

// Config tunes the turn loop.
type Config struct {
	Model string `yaml:"model"`

	// MaxRounds bounds the Generating/ToolExecuting loop. Exceeding it logs
	// a warning and delivers the best-effort answer; it is not an error.
	MaxRounds int `yaml:"max_rounds"`

	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`

	// Raised budgets for complexity-flagged round 1.
	ReasoningMaxTokens   int     `yaml:"reasoning_max_tokens"`
	ReasoningTemperature float32 `yaml:"reasoning_temperature"`

	HistoryLimit int           `yaml:"history_limit"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`

	// ReplayDelay paces cache-hit replay chunks so a hit is observably
	// identical to live generation.
	ReplayDelay time.Duration `yaml:"replay_delay"`

	SystemPrompt string `yaml:"system_prompt"`
}

// DefaultConfig returns the default turn configuration.
func DefaultConfig() *Config {
	return &Config{
		Model:                "gpt-4o",
		MaxRounds:            5,
		MaxTokens:            2048,
		Temperature:          0.7,
		ReasoningMaxTokens:   4096,
		ReasoningTemperature: 0.9,
		HistoryLimit:         conversations.DefaultHistoryLimit,
		IdleTimeout:          30 * time.Second,
		ReplayDelay:          20 * time.Millisecond,
		SystemPrompt:         "You are a capable business assistant. Use the available tools when they help answer the user's request.",
	}
}

// fallbackText replaces an empty final answer so the user never receives an
// empty assistant turn.
const fallbackText = "I've completed the requested actions. Let me know if you need anything else."

// TurnRequest is one inbound user message plus its resolved identity.
type TurnRequest struct {
	ConversationID string
	TenantID       string
	UserID         string
	Message        string
	Attachments    []models.Attachment
	Context        map[string]any
}

// Orchestrator owns the turn state machine. One RunTurn call per inbound
// turn, each on its own goroutine; there is no cross-turn state beyond the
// injected collaborators.
type Orchestrator struct {
	provider llm.Provider
	store    conversations.Store
	cache    *cache.ResponseCache
	registry *tools.Registry
	executor *tools.Executor
	worker   *background.Worker
	metrics  *metrics.Metrics
	config   *Config
	logger   *slog.Logger
}

// New creates an orchestrator. cache, worker, and metrics may be nil; the
// corresponding behavior is skipped.
func New(provider llm.Provider, store conversations.Store, responseCache *cache.ResponseCache, registry *tools.Registry, executor *tools.Executor, worker *background.Worker, m *metrics.Metrics, config *Config, logger *slog.Logger) *Orchestrator {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxRounds <= 0 {
		config.MaxRounds = 5
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = conversations.DefaultHistoryLimit
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		provider: provider,
		store:    store,
		cache:    responseCache,
		registry: registry,
		executor: executor,
		worker:   worker,
		metrics:  m,
		config:   config,
		logger:   logger.With("component", "orchestrator"),
	}
}

// RunTurn executes one turn against an already-open stream. It always closes
// the stream before returning. Designed to run as its own goroutine; the
// transport begins receiving records before any LLM work starts.
func (o *Orchestrator) RunTurn(ctx context.Context, req TurnRequest, stream *events.Stream) {
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	watchdogTimedOut := o.startWatchdog(ctx, cancel, stream)

	outcome := "success"
	defer func() {
		o.metrics.ObserveTurn(outcome, time.Since(start))
	}()

	conv, err := o.store.GetOrCreate(ctx, req.ConversationID, req.TenantID, req.UserID, seedTitle(req.Message), req.Context)
	if err != nil {
		outcome = "error"
		code := CodePersistence
		if errors.Is(err, conversations.ErrNotFound) {
			code = CodeValidation
		}
		o.logger.Error("failed to resolve conversation", "error", err, "tenant_id", req.TenantID)
		stream.SendErrorCode("conversation not found", string(code))
		stream.Close(nil)
		return
	}
	logger := o.logger.With("conversation_id", conv.ID, "tenant_id", req.TenantID)

	stream.SendEvent(models.ConversationRecord{ConversationID: conv.ID})

	// The persisted user message is always the original text, never the
	// model-facing augmented version.
	userMsg := &models.Message{
		Role:        models.RoleUser,
		Content:     req.Message,
		Attachments: req.Attachments,
	}
	if err := o.store.AppendMessage(ctx, conv.ID, userMsg); err != nil {
		outcome = "error"
		logger.Error("failed to persist user message", "error", err)
		stream.SendErrorCode("failed to persist message", string(CodePersistence))
		stream.Close(nil)
		return
	}

	// Attachment-bearing queries always bypass the cache: attachment content
	// is not part of the key, so a hit would silently drop user context.
	if o.cache != nil && len(req.Attachments) == 0 {
		if entry, ok := o.cache.Lookup(ctx, req.Message, req.TenantID); ok {
			o.metrics.ObserveCacheLookup(true)
			o.replayCached(ctx, conv.ID, entry, stream, logger)
			return
		}
		o.metrics.ObserveCacheLookup(false)
	}

	history, err := o.store.GetHistory(ctx, conv.ID, o.config.HistoryLimit)
	if err != nil {
		outcome = "error"
		logger.Error("failed to load history", "error", err)
		stream.SendErrorCode("failed to load conversation history", string(CodePersistence))
		stream.Close(nil)
		return
	}
	messages := llm.MessagesFromHistory(history)

	result := o.runLoop(ctx, req, messages, stream, logger)
	if result.err != nil {
		outcome = "error"
		if watchdogTimedOut() {
			stream.SendErrorCode("turn timed out waiting for output", string(CodeTimeout))
		} else {
			stream.SendErrorCode("the assistant is temporarily unavailable", string(CodeOf(result.err)))
		}
		// A crashed generation keeps its useful partial answer in history.
		if strings.TrimSpace(result.text) == "" {
			stream.Close(nil)
			return
		}
	}

	if strings.TrimSpace(result.text) == "" {
		result.text = fallbackText
		stream.SendContent(fallbackText)
	}

	assistant := &models.Message{
		Role:    models.RoleAssistant,
		Content: result.text,
		Metadata: map[string]any{
			"tools_executed": result.executed,
		},
	}
	if len(result.invocations) > 0 {
		assistant.Metadata["tool_invocations"] = result.invocations
	}

	terminalMeta := map[string]any{}
	if pending := pendingConfirmations(result.invocations); len(pending) > 0 {
		terminalMeta["requiresConfirmation"] = pending
	}

	if err := o.store.CompleteTurn(ctx, conv.ID, assistant); err != nil {
		// The user already saw the content; surface persistence failure as a
		// warning, never retract.
		outcome = "error"
		logger.Error("failed to persist assistant message", "error", err)
		terminalMeta["warning"] = "response could not be saved to history"
	} else if o.cache != nil && len(req.Attachments) == 0 && result.err == nil {
		response := result.text
		tenantID := req.TenantID
		query := req.Message
		executed := result.executed
		o.submitBackground(func(taskCtx context.Context) {
			o.cache.Store(taskCtx, query, response, tenantID, executed, nil)
		})
	}

	stream.Close(models.TerminalRecord{
		ConversationID: conv.ID,
		MessageID:      assistant.ID,
		ToolsExecuted:  result.executed,
		Metadata:       terminalMeta,
		Done:           true,
	})
}

// loopResult accumulates the Generating/ToolExecuting loop output.
type loopResult struct {
	text        string
	executed    []string
	invocations []models.ToolInvocation
	err         error
}

func (o *Orchestrator) runLoop(ctx context.Context, req TurnRequest, messages []llm.CompletionMessage, stream *events.Stream, logger *slog.Logger) loopResult {
	result := loopResult{executed: []string{}}

	forcedURL := detectURL(req.Message)
	complex := isComplexQuery(req.Message)

	// Round 1 augmentation happens on the model-facing copy only.
	if forcedURL != "" && len(messages) > 0 {
		last := len(messages) - 1
		if messages[last].Role == string(models.RoleUser) {
			messages[last].Content += urlDirective(forcedURL)
		}
	}

	var textBuilder strings.Builder

	for round := 1; round <= o.config.MaxRounds; round++ {
		roundStart := time.Now()

		llmReq := &llm.CompletionRequest{
			Model:       o.config.Model,
			System:      o.config.SystemPrompt,
			Messages:    messages,
			MaxTokens:   o.config.MaxTokens,
			Temperature: o.config.Temperature,
		}
		if o.registry != nil {
			for _, t := range o.registry.List() {
				llmReq.Tools = append(llmReq.Tools, t)
			}
		}
		// Complexity-adaptive reasoning applies to round 1 only, never to
		// tool-result rounds.
		if complex && round == 1 {
			llmReq.System += reasoningPromptSuffix
			if o.config.ReasoningMaxTokens > 0 {
				llmReq.MaxTokens = o.config.ReasoningMaxTokens
			}
			if o.config.ReasoningTemperature > 0 {
				llmReq.Temperature = o.config.ReasoningTemperature
			}
		}

		roundText, toolCalls, err := o.streamRound(ctx, llmReq, stream)
		textBuilder.WriteString(roundText)
		if err != nil {
			result.text = textBuilder.String()
			result.err = NewTurnError(CodeUpstream, err)
			return result
		}

		if round == 1 && forcedURL != "" && !requestsTool(toolCalls, tools.WebsiteName) {
			// The directive alone is not reliable; synthesize the call so the
			// analysis deterministically happens.
			logger.Info("synthesizing forced website analysis", "url", forcedURL)
			toolCalls = append(toolCalls, models.ToolCall{
				ID:    "forced_" + uuid.NewString(),
				Name:  tools.WebsiteName,
				Input: fmt.Appendf(nil, `{"url":%q}`, forcedURL),
			})
		}

		if len(toolCalls) == 0 {
			o.metrics.ObserveRound(time.Since(roundStart))
			result.text = textBuilder.String()
			return result
		}

		names := make([]string, len(toolCalls))
		for i, tc := range toolCalls {
			names[i] = tc.Name
		}
		stream.SendEvent(models.ToolExecutionRecord{ToolExecution: true, Tools: names})

		invocations := o.executor.ExecuteAll(ctx, toolCalls, tools.RunContext{
			TenantID: req.TenantID,
			ActorID:  req.UserID,
		})
		result.invocations = append(result.invocations, invocations...)

		resultRecords := make([]models.ToolResultRecord, len(invocations))
		for i, inv := range invocations {
			resultRecords[i] = models.ToolResultRecord{Name: inv.Name, Success: inv.Success}
			o.metrics.ObserveToolExecution(inv.Name, invocationOutcome(inv))
		}
		result.executed = append(result.executed, tools.ExecutedNames(invocations)...)
		stream.SendEvent(models.ToolResultsRecord{ToolResults: resultRecords})

		messages = append(messages,
			llm.CompletionMessage{Role: string(models.RoleAssistant), Content: roundText, ToolCalls: toolCalls},
			llm.CompletionMessage{Role: string(models.RoleTool), ToolResults: toolResultsFor(invocations)},
		)
		o.metrics.ObserveRound(time.Since(roundStart))

		if round == o.config.MaxRounds {
			// Best-effort delivery beats failing the turn outright.
			logger.Warn("tool loop exceeded round bound, delivering partial answer", "max_rounds", o.config.MaxRounds)
		}
	}

	result.text = textBuilder.String()
	return result
}

// streamRound runs one LLM call, forwarding text chunks as they arrive and
// collecting completed tool calls.
func (o *Orchestrator) streamRound(ctx context.Context, req *llm.CompletionRequest, stream *events.Stream) (string, []models.ToolCall, error) {
	chunks, err := o.provider.Complete(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var text strings.Builder
	var toolCalls []models.ToolCall
	for chunk := range chunks {
		if chunk.Error != nil {
			return text.String(), toolCalls, chunk.Error
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			stream.SendContent(chunk.Text)
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
	}
	return text.String(), toolCalls, nil
}

// replayCached streams a cache hit in paced word chunks so the client cannot
// distinguish it from live generation except by the terminal record's flag.
func (o *Orchestrator) replayCached(ctx context.Context, conversationID string, entry *models.CacheEntry, stream *events.Stream, logger *slog.Logger) {
	words := strings.Fields(entry.Response)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 {
			chunk += " "
		}
		stream.SendContent(chunk)
		if o.config.ReplayDelay > 0 {
			select {
			case <-ctx.Done():
				stream.SendErrorCode("turn cancelled", string(CodeTimeout))
				stream.Close(nil)
				return
			case <-time.After(o.config.ReplayDelay):
			}
		}
	}

	assistant := &models.Message{
		Role:    models.RoleAssistant,
		Content: entry.Response,
		Metadata: map[string]any{
			"cached":         true,
			"tools_executed": entry.ToolsUsed,
		},
	}
	terminalMeta := map[string]any{}
	if err := o.store.CompleteTurn(ctx, conversationID, assistant); err != nil {
		logger.Error("failed to persist cached turn", "error", err)
		terminalMeta["warning"] = "response could not be saved to history"
	}

	toolsUsed := entry.ToolsUsed
	if toolsUsed == nil {
		toolsUsed = []string{}
	}
	stream.Close(models.TerminalRecord{
		ConversationID: conversationID,
		MessageID:      assistant.ID,
		ToolsExecuted:  toolsUsed,
		Metadata:       terminalMeta,
		Cached:         true,
		Done:           true,
	})
}

// startWatchdog cancels the turn when the stream has produced no output for
// the configured idle window. Returns a probe for whether it fired.
func (o *Orchestrator) startWatchdog(ctx context.Context, cancel context.CancelFunc, stream *events.Stream) func() bool {
	fired := make(chan struct{})
	interval := o.config.IdleTimeout / 4
	if interval > time.Second {
		interval = time.Second
	}
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if time.Since(stream.LastActivity()) > o.config.IdleTimeout {
					close(fired)
					cancel()
					return
				}
			}
		}
	}()
	return func() bool {
		select {
		case <-fired:
			return true
		default:
			return false
		}
	}
}

func (o *Orchestrator) submitBackground(task background.Task) {
	if o.worker == nil {
		// No worker wired (tests); run inline.
		task(context.Background())
		return
	}
	o.worker.Submit(task)
}

func requestsTool(calls []models.ToolCall, name string) bool {
	for _, tc := range calls {
		if tc.Name == name {
			return true
		}
	}
	return false
}

func toolResultsFor(invocations []models.ToolInvocation) []llm.ToolResult {
	results := make([]llm.ToolResult, len(invocations))
	for i, inv := range invocations {
		content := inv.Result
		isError := false
		switch {
		case inv.RequiresConfirmation:
			content = fmt.Sprintf("Action %q was not executed: it requires user confirmation (%s). Tell the user it is awaiting their approval.", inv.Name, inv.Reason)
		case !inv.Success:
			content = inv.Error
			isError = true
		}
		results[i] = llm.ToolResult{
			ToolCallID: inv.CallID,
			Content:    content,
			IsError:    isError,
		}
	}
	return results
}

func invocationOutcome(inv models.ToolInvocation) string {
	switch {
	case inv.RequiresConfirmation:
		return "held"
	case inv.Success:
		return "succeeded"
	default:
		return "failed"
	}
}

func pendingConfirmations(invocations []models.ToolInvocation) []models.ToolInvocation {
	var pending []models.ToolInvocation
	for _, inv := range invocations {
		if inv.RequiresConfirmation {
			pending = append(pending, inv)
		}
	}
	return pending
}

// seedTitle derives a new conversation's title from its first message.
func seedTitle(message string) string {
	const max = 80
	title := strings.TrimSpace(message)
	if len([]rune(title)) > max {
		title = string([]rune(title)[:max-1]) + "…"
	}
	return title
}
