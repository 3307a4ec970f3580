package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/retrieve"
	"github.com/fyrsmithlabs/recalld/internal/session"
	"github.com/fyrsmithlabs/recalld/internal/store"
	"github.com/fyrsmithlabs/recalld/internal/summarize"
	"github.com/fyrsmithlabs/recalld/internal/toolfilter"
	"github.com/fyrsmithlabs/recalld/internal/toolresult"
)

type fakeSummarizer struct {
	calls int
	err   error
}

func (f *fakeSummarizer) Summarize(_ context.Context, req summarize.Request) (summarize.Result, error) {
	f.calls++
	if f.err != nil {
		return summarize.Result{}, f.err
	}
	return summarize.Result{Summary: "summary of " + req.ToolName}, nil
}

type fakeStore struct {
	storeCalls   int
	storeErr     error
	stored       []store.StoreParams
	byToolCallID map[string]*toolresult.Entry
	touched      []string
	cleanupCalls int
	cleanupErr   error
}

func (f *fakeStore) Store(_ context.Context, params store.StoreParams) (*toolresult.Entry, error) {
	f.storeCalls++
	if f.storeErr != nil {
		return nil, f.storeErr
	}
	f.stored = append(f.stored, params)
	return &toolresult.Entry{ID: "entry-1", ToolName: params.ToolName}, nil
}

func (f *fakeStore) GetByToolCallID(_ context.Context, toolCallID string) (*toolresult.Entry, bool, error) {
	entry, ok := f.byToolCallID[toolCallID]
	return entry, ok, nil
}

func (f *fakeStore) Touch(_ context.Context, id string) {
	f.touched = append(f.touched, id)
}

func (f *fakeStore) Cleanup(_ context.Context, _ int) (int, error) {
	f.cleanupCalls++
	return 0, f.cleanupErr
}

// stubSearcher backs a real retriever with canned results.
type stubSearcher struct {
	results []toolresult.SearchResult
	err     error
}

func (s *stubSearcher) Search(_ context.Context, _ string, _ store.SearchOptions) ([]toolresult.SearchResult, error) {
	return s.results, s.err
}

type fixture struct {
	pipeline   *Pipeline
	summarizer *fakeSummarizer
	store      *fakeStore
	searcher   *stubSearcher
	sessions   *session.Registry
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Storage.MinContentChars = 20
	if mutate != nil {
		mutate(cfg)
	}

	summarizer := &fakeSummarizer{}
	st := &fakeStore{byToolCallID: make(map[string]*toolresult.Entry)}
	searcher := &stubSearcher{}
	sessions := session.NewRegistry(cfg)

	p := New(Deps{
		Filter:     toolfilter.New(cfg.Tools.Include, cfg.Tools.Exclude),
		Summarizer: summarizer,
		Store:      st,
		Retriever:  retrieve.New(searcher, cfg.Retrieval, zap.NewNop()),
		Sessions:   sessions,
		Logger:     zap.NewNop(),
	})
	return &fixture{pipeline: p, summarizer: summarizer, store: st, searcher: searcher, sessions: sessions}
}

func toolEvent(sessionID string) ToolResultEvent {
	return ToolResultEvent{
		SessionID:  sessionID,
		ToolName:   "grep",
		ToolCallID: "call-1",
		Input:      map[string]any{"pattern": "handler"},
		Content:    []toolresult.ContentBlock{toolresult.Text(strings.Repeat("match line\n", 10))},
	}
}

func searchResult(toolCallID string, score float64) toolresult.SearchResult {
	return toolresult.SearchResult{
		Entry: &toolresult.Entry{
			ID:         "entry-" + toolCallID,
			ToolCallID: toolCallID,
			ToolName:   "grep",
			Summary:    "prior grep findings",
		},
		Score: score,
	}
}

func messagesWithPrompt(prompt string) []toolresult.Message {
	return []toolresult.Message{
		{Role: "assistant", Content: []toolresult.ContentBlock{toolresult.Text("earlier answer")}},
		{Role: roleUser, Content: []toolresult.ContentBlock{toolresult.Text(prompt)}},
	}
}

func TestHandleToolResultStores(t *testing.T) {
	f := newFixture(t, nil)

	f.pipeline.HandleToolResult(context.Background(), toolEvent("sess-1"))

	require.Equal(t, 1, f.store.storeCalls)
	assert.Equal(t, "summary of grep", f.store.stored[0].Summary)
	assert.Equal(t, "call-1", f.store.stored[0].ToolCallID)

	state := f.sessions.Get("sess-1")
	assert.True(t, state.Initialized())
	assert.Equal(t, 1, state.EntryCount())
}

func TestHandleToolResultRunsCleanupOnce(t *testing.T) {
	f := newFixture(t, nil)

	f.pipeline.HandleToolResult(context.Background(), toolEvent("sess-1"))
	f.pipeline.HandleToolResult(context.Background(), toolEvent("sess-1"))

	assert.Equal(t, 1, f.store.cleanupCalls)
}

func TestHandleToolResultGates(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		event  func() ToolResultEvent
	}{
		{
			name:   "disabled",
			mutate: func(c *config.Config) { c.Enabled = false },
			event:  func() ToolResultEvent { return toolEvent("sess-1") },
		},
		{
			name:   "retrieve only mode",
			mutate: func(c *config.Config) { c.Mode = config.ModeRetrieveOnly },
			event:  func() ToolResultEvent { return toolEvent("sess-1") },
		},
		{
			name:   "excluded tool",
			mutate: func(c *config.Config) { c.Tools.Exclude = []string{"grep"} },
			event:  func() ToolResultEvent { return toolEvent("sess-1") },
		},
		{
			name: "error result",
			event: func() ToolResultEvent {
				ev := toolEvent("sess-1")
				ev.IsError = true
				return ev
			},
		},
		{
			name: "content too short",
			event: func() ToolResultEvent {
				ev := toolEvent("sess-1")
				ev.Content = []toolresult.ContentBlock{toolresult.Text("tiny")}
				return ev
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.mutate)
			f.pipeline.HandleToolResult(context.Background(), tt.event())
			assert.Zero(t, f.store.storeCalls)
			assert.Zero(t, f.summarizer.calls)
		})
	}
}

func TestHandleToolResultStoreFailureDegrades(t *testing.T) {
	base := time.Now()
	timeNow = func() time.Time { return base }
	defer func() { timeNow = time.Now }()

	f := newFixture(t, nil)
	f.store.storeErr = errors.New("backend unavailable")

	f.pipeline.HandleToolResult(context.Background(), toolEvent("sess-1"))
	require.Equal(t, 1, f.store.storeCalls)
	assert.Zero(t, f.sessions.Get("sess-1").EntryCount())

	// Within the cooldown the session no-ops without touching the store.
	f.pipeline.HandleToolResult(context.Background(), toolEvent("sess-1"))
	assert.Equal(t, 1, f.store.storeCalls)

	// After the cooldown the next event retries and succeeds.
	timeNow = func() time.Time { return base.Add(degradedCooldown + time.Second) }
	f.store.storeErr = nil
	f.pipeline.HandleToolResult(context.Background(), toolEvent("sess-1"))
	assert.Equal(t, 2, f.store.storeCalls)
	assert.Equal(t, 1, f.sessions.Get("sess-1").EntryCount())
}

func TestDegradationIsPerSession(t *testing.T) {
	f := newFixture(t, nil)
	f.store.storeErr = errors.New("backend unavailable")
	f.pipeline.HandleToolResult(context.Background(), toolEvent("sess-1"))

	f.store.storeErr = nil
	f.pipeline.HandleToolResult(context.Background(), toolEvent("sess-2"))
	assert.Equal(t, 1, f.sessions.Get("sess-2").EntryCount())
}

func TestNoInjectionBeforeCompaction(t *testing.T) {
	f := newFixture(t, nil)
	f.searcher.results = []toolresult.SearchResult{searchResult("call-9", 0.9)}

	messages := messagesWithPrompt("where is the auth handler defined?")
	out := f.pipeline.HandleContextConstruction(context.Background(), "sess-1", messages)

	assert.Equal(t, messages, out)
	assert.Empty(t, f.store.touched)
}

func TestInjectionAfterCompaction(t *testing.T) {
	f := newFixture(t, nil)
	f.searcher.results = []toolresult.SearchResult{searchResult("call-9", 0.9)}
	f.pipeline.HandleCompaction("sess-1")

	messages := messagesWithPrompt("where is the auth handler defined?")
	out := f.pipeline.HandleContextConstruction(context.Background(), "sess-1", messages)

	require.Len(t, out, 2)
	injected := toolresult.ExtractText(out[1].Content)
	assert.Contains(t, injected, "where is the auth handler defined?")
	assert.Contains(t, injected, "prior grep findings")

	// The original list is untouched.
	assert.Len(t, messages[1].Content, 1)
	assert.Equal(t, "where is the auth handler defined?", toolresult.ExtractText(messages[1].Content))

	assert.Equal(t, []string{"entry-call-9"}, f.store.touched)
}

func TestInjectionDedupsVisibleToolCalls(t *testing.T) {
	f := newFixture(t, nil)
	f.searcher.results = []toolresult.SearchResult{
		searchResult("call-visible", 0.9),
		searchResult("call-hidden", 0.8),
	}
	f.pipeline.HandleCompaction("sess-1")

	messages := append(messagesWithPrompt("where is the auth handler defined?"),
		toolresult.Message{
			Role:       roleTool,
			ToolCallID: "call-visible",
			Content:    []toolresult.ContentBlock{toolresult.Text("already in context")},
		})
	out := f.pipeline.HandleContextConstruction(context.Background(), "sess-1", messages)

	injected := toolresult.ExtractText(out[1].Content)
	assert.Contains(t, injected, "Recalled tool results")
	assert.Equal(t, []string{"entry-call-hidden"}, f.store.touched)
}

func TestNothingInjectedWhenDedupEmptiesResults(t *testing.T) {
	f := newFixture(t, nil)
	f.searcher.results = []toolresult.SearchResult{searchResult("call-visible", 0.9)}
	f.pipeline.HandleCompaction("sess-1")

	messages := append(messagesWithPrompt("where is the auth handler defined?"),
		toolresult.Message{
			Role:       roleTool,
			ToolCallID: "call-visible",
			Content:    []toolresult.ContentBlock{toolresult.Text("already in context")},
		})
	out := f.pipeline.HandleContextConstruction(context.Background(), "sess-1", messages)

	assert.Equal(t, messages, out)
	assert.Empty(t, f.store.touched)
}

func TestNoInjectionForShortPrompt(t *testing.T) {
	f := newFixture(t, nil)
	f.searcher.results = []toolresult.SearchResult{searchResult("call-9", 0.9)}
	f.pipeline.HandleCompaction("sess-1")

	out := f.pipeline.HandleContextConstruction(context.Background(), "sess-1", messagesWithPrompt("hi"))
	assert.Equal(t, messagesWithPrompt("hi"), out)
}

func TestRetrievalFailureSuppressesInjection(t *testing.T) {
	f := newFixture(t, nil)
	f.searcher.err = errors.New("index unavailable")
	f.pipeline.HandleCompaction("sess-1")

	messages := messagesWithPrompt("where is the auth handler defined?")
	out := f.pipeline.HandleContextConstruction(context.Background(), "sess-1", messages)
	assert.Equal(t, messages, out)
}

func TestInjectionDisabledInStoreOnlyMode(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Mode = config.ModeStoreOnly })
	f.searcher.results = []toolresult.SearchResult{searchResult("call-9", 0.9)}
	f.pipeline.HandleCompaction("sess-1")

	messages := messagesWithPrompt("where is the auth handler defined?")
	out := f.pipeline.HandleContextConstruction(context.Background(), "sess-1", messages)
	assert.Equal(t, messages, out)
}

func TestHandleSessionEnd(t *testing.T) {
	f := newFixture(t, nil)
	f.pipeline.HandleToolResult(context.Background(), toolEvent("sess-1"))
	require.Equal(t, 1, f.sessions.Len())

	f.pipeline.HandleSessionEnd("sess-1")
	assert.Zero(t, f.sessions.Len())
}

func TestRecentToolCallsBiasQuery(t *testing.T) {
	f := newFixture(t, nil)
	f.store.byToolCallID["call-7"] = &toolresult.Entry{
		ToolName: "read_file",
		Input:    map[string]any{"file_path": "auth.go"},
	}

	messages := append(messagesWithPrompt("where is the auth handler defined?"),
		toolresult.Message{Role: roleTool, ToolCallID: "call-7"})
	calls := f.pipeline.recentToolCalls(context.Background(), messages)

	require.Len(t, calls, 1)
	assert.Equal(t, "read_file", calls[0].Name)
}
