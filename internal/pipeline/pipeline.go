// Package pipeline orchestrates the capture and recall flow around host
// conversation events: tool results are filtered, summarized and stored;
// context-construction events get relevant prior results injected back in.
//
// No pipeline error ever propagates to the host. Storage failures skip the
// capture with a warning, retrieval failures suppress injection for that
// turn, and a failed backend marks the session degraded for a cooldown so
// subsequent events no-op cheaply until a retry is due.
package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/retrieve"
	"github.com/fyrsmithlabs/recalld/internal/session"
	"github.com/fyrsmithlabs/recalld/internal/store"
	"github.com/fyrsmithlabs/recalld/internal/summarize"
	"github.com/fyrsmithlabs/recalld/internal/toolfilter"
	"github.com/fyrsmithlabs/recalld/internal/toolresult"
)

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

var tracer = otel.Tracer("recalld.pipeline")

const (
	roleUser = "user"
	roleTool = "tool"

	// minPromptChars is the shortest user message worth retrieving for.
	minPromptChars = 10

	// degradedCooldown is how long a session no-ops after a backend
	// failure before the next event retries.
	degradedCooldown = 30 * time.Second

	// maxQueryToolCalls bounds how many visible tool calls feed the
	// search query.
	maxQueryToolCalls = 3
)

// ToolResultEvent is a tool-execution-completed notification from the host.
type ToolResultEvent struct {
	SessionID  string
	ToolName   string
	ToolCallID string
	Input      map[string]any
	Content    []toolresult.ContentBlock
	IsError    bool
	Details    map[string]any
}

// Summarizer reduces tool output to a bounded summary.
type Summarizer interface {
	Summarize(ctx context.Context, req summarize.Request) (summarize.Result, error)
}

// Storer is the persistence surface the pipeline needs.
type Storer interface {
	Store(ctx context.Context, params store.StoreParams) (*toolresult.Entry, error)
	GetByToolCallID(ctx context.Context, toolCallID string) (*toolresult.Entry, bool, error)
	Touch(ctx context.Context, id string)
	Cleanup(ctx context.Context, ttlDays int) (int, error)
}

// ContextRetriever searches stored results and formats them for injection.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query, sessionID string) ([]toolresult.SearchResult, error)
	Format(results []toolresult.SearchResult) retrieve.Formatted
}

// Deps collects the pipeline's collaborators.
type Deps struct {
	Filter     *toolfilter.Filter
	Summarizer Summarizer
	Store      Storer
	Retriever  ContextRetriever
	Sessions   *session.Registry
	Logger     *zap.Logger
}

// Pipeline is the per-process event orchestrator. Session scoping happens
// through the registry; the pipeline itself is shared.
type Pipeline struct {
	filter     *toolfilter.Filter
	summarizer Summarizer
	store      Storer
	retriever  ContextRetriever
	sessions   *session.Registry
	logger     *zap.Logger

	mu            sync.Mutex
	degradedUntil map[string]time.Time
}

// New creates a Pipeline from its collaborators.
func New(deps Deps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		filter:        deps.Filter,
		summarizer:    deps.Summarizer,
		store:         deps.Store,
		retriever:     deps.Retriever,
		sessions:      deps.Sessions,
		logger:        logger,
		degradedUntil: make(map[string]time.Time),
	}
}

// HandleToolResult captures one finished tool call: gate, summarize,
// store, count. Failures are logged and swallowed.
func (p *Pipeline) HandleToolResult(ctx context.Context, ev ToolResultEvent) {
	ctx, span := tracer.Start(ctx, "Pipeline.HandleToolResult")
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", ev.SessionID),
		attribute.String("tool_name", ev.ToolName),
	)

	state := p.sessions.Get(ev.SessionID)
	cfg := state.Config()

	switch {
	case !cfg.Enabled || !cfg.Mode.StoreEnabled():
		toolResultsTotal.WithLabelValues("disabled").Inc()
		return
	case ev.IsError:
		toolResultsTotal.WithLabelValues("error_result").Inc()
		return
	case p.filter != nil && !p.filter.ShouldProcess(ev.ToolName):
		toolResultsTotal.WithLabelValues("filtered").Inc()
		return
	}

	text := toolresult.ExtractText(ev.Content)
	if len(text) < cfg.Storage.MinContentChars {
		toolResultsTotal.WithLabelValues("too_short").Inc()
		return
	}

	if p.isDegraded(ev.SessionID) {
		toolResultsTotal.WithLabelValues("degraded").Inc()
		return
	}

	res, err := p.summarizer.Summarize(ctx, summarize.Request{
		ToolName: ev.ToolName,
		Input:    ev.Input,
		Content:  ev.Content,
		IsError:  ev.IsError,
	})
	if err != nil {
		// Summarize degrades internally; an error here means even the
		// truncation fallback was unreachable. Skip the capture.
		toolResultsTotal.WithLabelValues("summarize_failed").Inc()
		p.logger.Warn("summarization failed, skipping capture",
			zap.String("session_id", ev.SessionID),
			zap.String("tool_name", ev.ToolName),
			zap.Error(err),
		)
		return
	}

	entry, err := p.store.Store(ctx, store.StoreParams{
		SessionID:  ev.SessionID,
		ToolCallID: ev.ToolCallID,
		ToolName:   ev.ToolName,
		Input:      ev.Input,
		Summary:    res.Summary,
		Content:    ev.Content,
		IsError:    ev.IsError,
		Details:    ev.Details,
	})
	if err != nil {
		toolResultsTotal.WithLabelValues("store_failed").Inc()
		p.markDegraded(ev.SessionID)
		p.logger.Warn("storing tool result failed, capture skipped",
			zap.String("session_id", ev.SessionID),
			zap.String("tool_name", ev.ToolName),
			zap.Error(err),
		)
		return
	}

	p.clearDegraded(ev.SessionID)
	state.MarkInitialized()
	state.RecordStored()
	toolResultsTotal.WithLabelValues("stored").Inc()

	p.maybeCleanup(ctx, state, cfg.Storage.TTLDays, ev.SessionID)

	p.logger.Debug("tool result captured",
		zap.String("session_id", ev.SessionID),
		zap.String("tool_name", ev.ToolName),
		zap.String("entry_id", entry.ID),
		zap.Bool("summary_truncated", res.Truncated),
	)
}

// HandleCompaction sets the session's one-way retrieval latch.
func (p *Pipeline) HandleCompaction(sessionID string) {
	p.sessions.Get(sessionID).MarkCompaction()
	compactionsTotal.Inc()
}

// HandleSessionEnd tears down per-session state. The stored entries
// remain; only the runtime record goes away.
func (p *Pipeline) HandleSessionEnd(sessionID string) {
	p.sessions.Remove(sessionID)
	p.clearDegraded(sessionID)
}

// HandleContextConstruction injects relevant stored results into the
// message list. The input list is never mutated: either the original
// slice comes back unchanged, or a new list with a rewritten copy of the
// latest user message.
func (p *Pipeline) HandleContextConstruction(ctx context.Context, sessionID string, messages []toolresult.Message) []toolresult.Message {
	ctx, span := tracer.Start(ctx, "Pipeline.HandleContextConstruction")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	state := p.sessions.Get(sessionID)
	cfg := state.Config()

	if !cfg.Enabled || !cfg.Mode.RetrieveEnabled() {
		injectionsTotal.WithLabelValues("disabled").Inc()
		return messages
	}
	// Retrieval is withheld until the first compaction; before that the
	// live context still contains everything we stored.
	if !state.CompactionOccurred() {
		injectionsTotal.WithLabelValues("pre_compaction").Inc()
		return messages
	}

	userIdx, prompt := latestUserPrompt(messages)
	if userIdx < 0 || len(prompt) < minPromptChars {
		injectionsTotal.WithLabelValues("no_prompt").Inc()
		return messages
	}

	if p.isDegraded(sessionID) {
		injectionsTotal.WithLabelValues("degraded").Inc()
		return messages
	}

	visible := visibleToolCallIDs(messages)
	query := retrieve.BuildSearchQuery(prompt, p.recentToolCalls(ctx, messages))

	results, err := p.retriever.Retrieve(ctx, query, sessionID)
	if err != nil {
		injectionsTotal.WithLabelValues("retrieve_failed").Inc()
		p.markDegraded(sessionID)
		p.logger.Warn("retrieval failed, suppressing injection",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return messages
	}
	p.clearDegraded(sessionID)

	kept := retrieve.ExcludeToolCallIDs(results, visible)
	if len(kept) == 0 {
		injectionsTotal.WithLabelValues("empty").Inc()
		return messages
	}

	formatted := p.retriever.Format(kept)

	out := make([]toolresult.Message, len(messages))
	copy(out, messages)
	out[userIdx] = appendBlock(messages[userIdx], formatted.ContextBlock)

	for _, res := range kept {
		p.store.Touch(ctx, res.Entry.ID)
	}

	injectionsTotal.WithLabelValues("injected").Inc()
	span.SetAttributes(attribute.Int("injected_results", formatted.Count))
	p.logger.Debug("context block injected",
		zap.String("session_id", sessionID),
		zap.Int("results", formatted.Count),
	)
	return out
}

// maybeCleanup runs TTL cleanup once per session, on the first successful
// capture.
func (p *Pipeline) maybeCleanup(ctx context.Context, state *session.State, ttlDays int, sessionID string) {
	if ttlDays <= 0 || !state.LastCleanupAt().IsZero() {
		return
	}
	removed, err := p.store.Cleanup(ctx, ttlDays)
	if err != nil {
		p.logger.Warn("ttl cleanup failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return
	}
	state.RecordCleanup()
	if removed > 0 {
		p.logger.Info("expired entries removed",
			zap.String("session_id", sessionID),
			zap.Int("removed", removed),
		)
	}
}

// recentToolCalls reconstructs up to three of the newest visible tool
// invocations from the store, to bias the search query.
func (p *Pipeline) recentToolCalls(ctx context.Context, messages []toolresult.Message) []retrieve.ToolCall {
	var calls []retrieve.ToolCall
	for i := len(messages) - 1; i >= 0 && len(calls) < maxQueryToolCalls; i-- {
		msg := messages[i]
		if msg.Role != roleTool || msg.ToolCallID == "" {
			continue
		}
		entry, ok, err := p.store.GetByToolCallID(ctx, msg.ToolCallID)
		if err != nil || !ok {
			continue
		}
		calls = append(calls, retrieve.ToolCall{Name: entry.ToolName, Input: entry.Input})
	}
	// Reverse into chronological order.
	for i, j := 0, len(calls)-1; i < j; i, j = i+1, j-1 {
		calls[i], calls[j] = calls[j], calls[i]
	}
	return calls
}

func (p *Pipeline) isDegraded(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	until, ok := p.degradedUntil[sessionID]
	if !ok {
		return false
	}
	if timeNow().After(until) {
		delete(p.degradedUntil, sessionID)
		return false
	}
	return true
}

func (p *Pipeline) markDegraded(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.degradedUntil[sessionID] = timeNow().Add(degradedCooldown)
}

func (p *Pipeline) clearDegraded(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.degradedUntil, sessionID)
}

// latestUserPrompt returns the index and trimmed text of the newest
// user-authored message, or -1 when none exists.
func latestUserPrompt(messages []toolresult.Message) (int, string) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == roleUser {
			return i, strings.TrimSpace(toolresult.ExtractText(messages[i].Content))
		}
	}
	return -1, ""
}

// visibleToolCallIDs collects the tool-call IDs already answered in the
// live context.
func visibleToolCallIDs(messages []toolresult.Message) map[string]bool {
	visible := make(map[string]bool)
	for _, msg := range messages {
		if msg.Role == roleTool && msg.ToolCallID != "" {
			visible[msg.ToolCallID] = true
		}
	}
	return visible
}

// appendBlock returns a copy of msg with the context block appended as a
// new text block. The original message keeps its content slice.
func appendBlock(msg toolresult.Message, block string) toolresult.Message {
	content := make([]toolresult.ContentBlock, 0, len(msg.Content)+1)
	content = append(content, msg.Content...)
	content = append(content, toolresult.Text("\n\n"+block))
	msg.Content = content
	return msg
}
