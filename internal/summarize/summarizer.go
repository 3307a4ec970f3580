// Package summarize reduces tool output to bounded-length summaries.
//
// The decision ladder is: use short content verbatim, truncate mid-size
// content, and send large content to the LLM — via the process-wide cache
// and, when enabled, the shared batch scheduler. An LLM failure never fails
// the caller: every path degrades to truncation.
package summarize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/toolresult"
)

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

var tracer = otel.Tracer("recalld.summarize")

// Request is one summarization call.
type Request struct {
	ToolName string
	Input    map[string]any
	Content  []toolresult.ContentBlock
	IsError  bool
}

// Result is the outcome of a summarization call. Summary length never
// exceeds the configured maximum.
type Result struct {
	Summary string

	// Truncated reports that the summary is a plain truncation of the
	// content (either by design for mid-size content, or as an LLM
	// fallback).
	Truncated bool

	// Cached reports a summary served from the cache.
	Cached bool
}

// pendingItem is one in-flight summarization awaiting batch flush.
type pendingItem struct {
	toolName    string
	input       map[string]any
	text        string
	contentHash string
	key         string
	done        chan Result
}

// Summarizer owns the summary cache and the batch scheduler. One instance
// is shared process-wide; sessions do not get their own.
type Summarizer struct {
	cfg    config.SummaryConfig
	client Client
	logger *zap.Logger
	cache  *summaryCache // nil when disabled

	mu      sync.Mutex
	pending []*pendingItem
	timer   *time.Timer

	// drainMu serializes batch drains: a new batch cannot begin
	// processing until the in-flight drain completes.
	drainMu sync.Mutex
}

// New creates a Summarizer. client may be nil, in which case every large
// content falls back to truncation.
func New(cfg config.SummaryConfig, client Client, logger *zap.Logger) *Summarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Summarizer{
		cfg:    cfg,
		client: client,
		logger: logger,
	}
	if cfg.Cache.Enabled {
		s.cache = newSummaryCache(cfg.Cache.MaxEntries, cfg.Cache.TTL)
	}
	return s
}

// Summarize produces a bounded-length summary for the request. It always
// returns a usable summary; LLM or scheduling failures degrade to
// truncation rather than surfacing.
func (s *Summarizer) Summarize(ctx context.Context, req Request) (Result, error) {
	ctx, span := tracer.Start(ctx, "Summarizer.Summarize")
	defer span.End()
	span.SetAttributes(attribute.String("tool_name", req.ToolName))

	text := toolresult.ExtractText(req.Content)

	// Short content is its own summary; nothing to cache.
	if len(text) <= s.cfg.MaxChars {
		return Result{Summary: text}, nil
	}

	// Mid-size content is cheap enough to truncate on every call.
	if len(text) <= s.cfg.MinContentForSummarization {
		return Result{Summary: truncate(text, s.cfg.MaxChars), Truncated: true}, nil
	}

	contentHash := hashText(text)
	key := cacheKey(req.ToolName, req.Input, contentHash)

	if s.cache != nil {
		if summary, ok := s.cache.get(key); ok {
			cacheHitsTotal.Inc()
			return Result{Summary: summary, Cached: true}, nil
		}
		cacheMissesTotal.Inc()
	}

	if s.client == nil {
		fallbacksTotal.Inc()
		return Result{Summary: truncate(text, s.cfg.MaxChars), Truncated: true}, nil
	}

	if s.cfg.Batch.Enabled {
		item := &pendingItem{
			toolName:    req.ToolName,
			input:       req.Input,
			text:        text,
			contentHash: contentHash,
			key:         key,
			done:        make(chan Result, 1),
		}
		s.enqueue(item)

		select {
		case res := <-item.done:
			return res, nil
		case <-ctx.Done():
			fallbacksTotal.Inc()
			return Result{Summary: truncate(text, s.cfg.MaxChars), Truncated: true}, nil
		}
	}

	summary, err := s.client.Generate(ctx, s.prompt(req.ToolName, req.Input, text), s.generateOptions())
	summary = strings.TrimSpace(summary)
	if err != nil || summary == "" {
		llmCallsTotal.WithLabelValues("error").Inc()
		fallbacksTotal.Inc()
		s.logger.Warn("summarization failed, falling back to truncation",
			zap.String("tool_name", req.ToolName),
			zap.Error(err),
		)
		return Result{Summary: truncate(text, s.cfg.MaxChars), Truncated: true}, nil
	}
	llmCallsTotal.WithLabelValues("success").Inc()

	summary = truncate(summary, s.cfg.MaxChars)
	if s.cache != nil {
		s.cache.put(key, summary, contentHash)
	}
	return Result{Summary: summary}, nil
}

// enqueue appends to the shared pending queue. Reaching the size threshold
// flushes immediately; otherwise the single-shot delay timer is armed if
// not already running.
func (s *Summarizer) enqueue(item *pendingItem) {
	s.mu.Lock()
	s.pending = append(s.pending, item)

	if len(s.pending) >= s.cfg.Batch.MaxSize {
		batch := s.takeBatchLocked()
		s.mu.Unlock()
		go s.processBatch(batch)
		return
	}

	if s.timer == nil {
		s.timer = time.AfterFunc(s.cfg.Batch.MaxDelay, s.timerFlush)
	}
	s.mu.Unlock()
}

// takeBatchLocked atomically swaps out the pending list and clears the
// timer. Caller holds s.mu.
func (s *Summarizer) takeBatchLocked() []*pendingItem {
	batch := s.pending
	s.pending = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	return batch
}

func (s *Summarizer) timerFlush() {
	s.mu.Lock()
	batch := s.takeBatchLocked()
	s.mu.Unlock()
	s.processBatch(batch)
}

// Flush force-processes the pending batch immediately. Used before
// shutdown; returns once the batch is resolved, including a
// size-triggered drain still running in its own goroutine.
func (s *Summarizer) Flush() {
	s.timerFlush()

	s.drainMu.Lock()
	s.drainMu.Unlock() //nolint:staticcheck // barrier on the in-flight drain
}

// processBatch resolves one swapped-out batch. Drains are serialized so a
// new batch cannot start while one is in flight.
func (s *Summarizer) processBatch(batch []*pendingItem) {
	if len(batch) == 0 {
		return
	}
	s.drainMu.Lock()
	defer s.drainMu.Unlock()
	batchFlushesTotal.Inc()

	// Re-check the cache: a concurrent request may have populated it
	// while this batch waited.
	uncached := make([]*pendingItem, 0, len(batch))
	for _, item := range batch {
		if s.cache != nil {
			if summary, ok := s.cache.get(item.key); ok {
				cacheHitsTotal.Inc()
				item.done <- Result{Summary: summary, Cached: true}
				continue
			}
		}
		uncached = append(uncached, item)
	}
	if len(uncached) == 0 {
		return
	}

	ctx := context.Background()

	if bc, ok := s.client.(BatchClient); ok && len(uncached) > 1 {
		prompts := make([]string, len(uncached))
		for i, item := range uncached {
			prompts[i] = s.prompt(item.toolName, item.input, item.text)
		}

		summaries, err := bc.GenerateBatch(ctx, prompts, s.generateOptions())
		if err != nil || len(summaries) != len(uncached) {
			llmCallsTotal.WithLabelValues("error").Inc()
			s.logger.Warn("batch generation failed, items fall back to truncation",
				zap.Int("items", len(uncached)),
				zap.Error(err),
			)
			for _, item := range uncached {
				s.fallback(item)
			}
			return
		}
		llmCallsTotal.WithLabelValues("success").Inc()
		for i, item := range uncached {
			s.resolve(item, summaries[i])
		}
		return
	}

	// Singular generation per item, in parallel within this flush only.
	var g errgroup.Group
	for _, item := range uncached {
		item := item
		g.Go(func() error {
			summary, err := s.client.Generate(ctx, s.prompt(item.toolName, item.input, item.text), s.generateOptions())
			if err != nil {
				llmCallsTotal.WithLabelValues("error").Inc()
				s.logger.Warn("summarization failed, falling back to truncation",
					zap.String("tool_name", item.toolName),
					zap.Error(err),
				)
				s.fallback(item)
				return nil
			}
			llmCallsTotal.WithLabelValues("success").Inc()
			s.resolve(item, summary)
			return nil
		})
	}
	_ = g.Wait()
}

// resolve trims, caps and caches a successful completion. Empty
// completions degrade to truncation.
func (s *Summarizer) resolve(item *pendingItem, summary string) {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		s.fallback(item)
		return
	}
	summary = truncate(summary, s.cfg.MaxChars)
	if s.cache != nil {
		s.cache.put(item.key, summary, item.contentHash)
	}
	item.done <- Result{Summary: summary}
}

func (s *Summarizer) fallback(item *pendingItem) {
	fallbacksTotal.Inc()
	item.done <- Result{Summary: truncate(item.text, s.cfg.MaxChars), Truncated: true}
}

func (s *Summarizer) generateOptions() GenerateOptions {
	return GenerateOptions{
		MaxTokens: s.cfg.MaxTokens,
		Timeout:   s.cfg.Timeout,
	}
}

func (s *Summarizer) prompt(toolName string, input map[string]any, text string) string {
	return fmt.Sprintf(
		"Summarize the following %s tool output in at most %d characters. "+
			"Preserve concrete identifiers (paths, names, counts, error messages) so the result can be found again later.\n\n"+
			"Tool input: %s\n\nTool output:\n%s\n\n"+
			"Provide only the summary without explanations or meta-commentary.",
		toolName, s.cfg.MaxChars, compactJSON(input, 500), text,
	)
}

// CacheStats describes the summary cache for introspection.
type CacheStats struct {
	Enabled    bool
	Entries    int
	MaxEntries int
	TTL        time.Duration
}

// CacheStats returns the current cache shape and fill.
func (s *Summarizer) CacheStats() CacheStats {
	if s.cache == nil {
		return CacheStats{}
	}
	return CacheStats{
		Enabled:    true,
		Entries:    s.cache.size(),
		MaxEntries: s.cache.maxEntries,
		TTL:        s.cache.ttl,
	}
}

// CacheSize returns the number of live cache entries.
func (s *Summarizer) CacheSize() int {
	if s.cache == nil {
		return 0
	}
	return s.cache.size()
}

// ClearCache drops all cached summaries.
func (s *Summarizer) ClearCache() {
	if s.cache != nil {
		s.cache.clear()
	}
}

// PendingCount returns the number of items awaiting batch flush.
func (s *Summarizer) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// truncate bounds text to maxChars, appending an ellipsis when cut.
func truncate(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	if maxChars <= 3 {
		return text[:maxChars]
	}
	return text[:maxChars-3] + "..."
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// cacheKey hashes (toolName, input, contentHash) into the cache key. The
// input rendering is bounded so oversized parameters cannot bloat keys.
func cacheKey(toolName string, input map[string]any, contentHash string) string {
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	h.Write([]byte(compactJSON(input, 500)))
	h.Write([]byte{0})
	h.Write([]byte(contentHash))
	return hex.EncodeToString(h.Sum(nil))
}

// compactJSON renders v as JSON capped at maxChars. Unserializable values
// render as an empty object.
func compactJSON(v map[string]any, maxChars int) string {
	if len(v) == 0 {
		return "{}"
	}
	content, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	out := string(content)
	if len(out) > maxChars {
		out = out[:maxChars]
	}
	return out
}
