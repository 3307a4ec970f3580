// Package store persists summarized tool results behind a vector index.
//
// Summaries are embedded and indexed in an embedded chromem-go collection;
// full entry rows live in a JSON catalog alongside it, which serves point
// lookups, range cleanup and access tracking (chromem filters are
// equality-only). Initialization is lazy and single-flight: the first
// caller connects and hydrates, concurrent first callers await the same
// attempt.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/embeddings"
	"github.com/fyrsmithlabs/recalld/internal/toolresult"
)

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

var tracer = otel.Tracer("recalld.store")

// Sentinel errors for store operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid store configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embedding")

	// ErrNotInitialized indicates the backing index could not be opened.
	ErrNotInitialized = errors.New("store not initialized")
)

// StoreParams carries one capture into Store.
type StoreParams struct {
	SessionID  string
	ToolCallID string
	ToolName   string
	Input      map[string]any
	Summary    string
	Content    []toolresult.ContentBlock
	IsError    bool
	Details    map[string]any
}

// SearchOptions scope and bound a Search call.
type SearchOptions struct {
	// Limit bounds the result count.
	Limit int

	// MinScore discards weaker candidates.
	MinScore float64

	// SessionID scopes results to one session unless CrossSession is set.
	SessionID string

	// CrossSession disables session scoping.
	CrossSession bool
}

// Store is the durable, queryable persistence layer for entries.
type Store struct {
	cfg      config.StorageConfig
	provider embeddings.Provider
	logger   *zap.Logger

	initGroup singleflight.Group

	mu          sync.Mutex
	initialized bool
	path        string
	db          *chromem.DB
	collection  *chromem.Collection
	catalog     map[string]*toolresult.Entry
	count       int
}

// New creates a Store. The backing index is opened lazily on first use.
func New(cfg config.StorageConfig, provider embeddings.Provider, logger *zap.Logger) (*Store, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: embedding provider is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.VectorSize <= 0 {
		return nil, fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: storage path is required", ErrInvalidConfig)
	}
	if cfg.Collection == "" {
		cfg.Collection = "tool_results"
	}

	return &Store{
		cfg:      cfg,
		provider: provider,
		logger:   logger,
		catalog:  make(map[string]*toolresult.Entry),
	}, nil
}

// ensureInit performs lazy single-flight initialization. Concurrent first
// callers await the same in-flight attempt; a failed attempt is retried by
// the next caller.
func (s *Store) ensureInit(ctx context.Context) error {
	s.mu.Lock()
	ready := s.initialized
	s.mu.Unlock()
	if ready {
		return nil
	}

	_, err, _ := s.initGroup.Do("init", func() (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.initialized {
			return nil, nil
		}
		return nil, s.initializeLocked(ctx)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	}
	return nil
}

func (s *Store) initializeLocked(ctx context.Context) error {
	path, err := expandPath(s.cfg.Path)
	if err != nil {
		return fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return fmt.Errorf("opening chromem DB: %w", err)
	}

	collection, err := db.GetOrCreateCollection(s.cfg.Collection, nil, s.embeddingFunc())
	if err != nil {
		return fmt.Errorf("getting/creating collection %s: %w", s.cfg.Collection, err)
	}

	catalog, err := loadCatalog(catalogPath(path))
	if err != nil {
		return fmt.Errorf("loading entry catalog: %w", err)
	}

	s.path = path
	s.db = db
	s.collection = collection
	s.catalog = catalog
	s.count = len(catalog)
	s.initialized = true
	entryCountGauge.Set(float64(s.count))

	s.logger.Info("store initialized",
		zap.String("path", path),
		zap.String("collection", s.cfg.Collection),
		zap.Int("entries", s.count),
	)
	return nil
}

func (s *Store) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.provider.EmbedQuery(ctx, text)
	}
}

// Store embeds the summary, truncates original content to the configured
// bound, assigns a fresh identity and timestamps, and persists the entry.
func (s *Store) Store(ctx context.Context, params StoreParams) (*toolresult.Entry, error) {
	ctx, span := tracer.Start(ctx, "Store.Store")
	defer span.End()
	span.SetAttributes(attribute.String("tool_name", params.ToolName))

	if err := s.ensureInit(ctx); err != nil {
		span.RecordError(err)
		return nil, err
	}

	vector, err := s.provider.EmbedQuery(ctx, params.Summary)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vector) != s.cfg.VectorSize {
		return nil, fmt.Errorf("%w: got dimension %d, want %d", ErrEmbeddingFailed, len(vector), s.cfg.VectorSize)
	}

	content, truncated := toolresult.TruncateBlocks(params.Content, s.cfg.MaxContentChars)
	now := timeNow().UTC()

	entry := &toolresult.Entry{
		ID:              uuid.NewString(),
		SessionID:       params.SessionID,
		ToolCallID:      params.ToolCallID,
		ToolName:        params.ToolName,
		Input:           params.Input,
		Summary:         params.Summary,
		OriginalContent: content,
		IsError:         params.IsError,
		Details:         params.Details,
		Vector:          vector,
		CreatedAt:       now,
		LastAccessAt:    now,
	}

	doc := chromem.Document{
		ID:        entry.ID,
		Content:   entry.Summary,
		Embedding: vector,
		Metadata: map[string]string{
			"session_id":   entry.SessionID,
			"tool_call_id": entry.ToolCallID,
			"tool_name":    entry.ToolName,
		},
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Embedding already computed, so concurrency of 1.
	if err := s.collection.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("indexing entry: %w", err)
	}

	s.catalog[entry.ID] = entry
	s.count++
	entriesStoredTotal.Inc()
	entryCountGauge.Set(float64(s.count))

	if err := s.persistCatalogLocked(); err != nil {
		s.logger.Warn("persisting entry catalog failed", zap.Error(err))
	}

	s.logger.Debug("stored tool result entry",
		zap.String("id", entry.ID),
		zap.String("tool_name", entry.ToolName),
		zap.Bool("content_truncated", truncated),
	)
	span.SetStatus(codes.Ok, "")
	return entry.Clone(), nil
}

// Search embeds the query, over-fetches 2x limit nearest neighbors,
// converts distances to scores, applies session scoping and the score
// floor, and truncates to limit preserving rank order.
func (s *Store) Search(ctx context.Context, query string, opts SearchOptions) ([]toolresult.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "Store.Search")
	defer span.End()

	if err := s.ensureInit(ctx); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 5
	}
	span.SetAttributes(attribute.Int("limit", limit))

	s.mu.Lock()
	docCount := s.collection.Count()
	s.mu.Unlock()
	if docCount == 0 {
		return []toolresult.SearchResult{}, nil
	}

	// Over-fetch so that session scoping and the score floor still leave
	// enough candidates.
	fetch := limit * 2
	if fetch > docCount {
		fetch = docCount
	}

	searchesTotal.Inc()
	candidates, err := s.collection.Query(ctx, query, fetch, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying index: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]toolresult.SearchResult, 0, limit)
	for _, c := range candidates {
		entry, ok := s.catalog[c.ID]
		if !ok {
			// Index row without a catalog row; skip rather than fail.
			continue
		}
		if !opts.CrossSession && opts.SessionID != "" && entry.SessionID != opts.SessionID {
			continue
		}
		score := similarityToScore(c.Similarity)
		if score < opts.MinScore {
			continue
		}
		results = append(results, toolresult.SearchResult{Entry: entry.Clone(), Score: score})
		if len(results) == limit {
			break
		}
	}

	span.SetAttributes(attribute.Int("results", len(results)))
	span.SetStatus(codes.Ok, "")
	return results, nil
}

// similarityToScore maps chromem's cosine similarity to the score scale
// 1/(1+distance) with distance = 1 - similarity. Monotone in similarity,
// bounded in (0,1].
func similarityToScore(similarity float32) float64 {
	distance := 1 - float64(similarity)
	if distance < 0 {
		distance = 0
	}
	return 1 / (1 + distance)
}

// Get returns the entry with the given id. Missing or malformed ids are a
// miss, not an error.
func (s *Store) Get(ctx context.Context, id string) (*toolresult.Entry, bool, error) {
	if err := s.ensureInit(ctx); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.catalog[id]
	if !ok {
		return nil, false, nil
	}
	return entry.Clone(), true, nil
}

// GetByToolCallID returns the most recently created entry for the given
// tool call id, if any.
func (s *Store) GetByToolCallID(ctx context.Context, toolCallID string) (*toolresult.Entry, bool, error) {
	if err := s.ensureInit(ctx); err != nil {
		return nil, false, err
	}
	if toolCallID == "" {
		return nil, false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *toolresult.Entry
	for _, entry := range s.catalog {
		if entry.ToolCallID != toolCallID {
			continue
		}
		if latest == nil || entry.CreatedAt.After(latest.CreatedAt) {
			latest = entry
		}
	}
	if latest == nil {
		return nil, false, nil
	}
	return latest.Clone(), true, nil
}

// Touch increments the entry's access count and refreshes its last access
// time. Touch is best-effort: failures are swallowed.
func (s *Store) Touch(ctx context.Context, id string) {
	if err := s.ensureInit(ctx); err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.catalog[id]
	if !ok {
		return
	}
	entry.AccessCount++
	entry.LastAccessAt = timeNow().UTC()
}

// Cleanup deletes all entries older than ttlDays and returns the count
// removed. A no-op when ttlDays <= 0.
func (s *Store) Cleanup(ctx context.Context, ttlDays int) (int, error) {
	ctx, span := tracer.Start(ctx, "Store.Cleanup")
	defer span.End()
	span.SetAttributes(attribute.Int("ttl_days", ttlDays))

	if ttlDays <= 0 {
		return 0, nil
	}
	if err := s.ensureInit(ctx); err != nil {
		span.RecordError(err)
		return 0, err
	}

	horizon := timeNow().UTC().AddDate(0, 0, -ttlDays)

	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for id, entry := range s.catalog {
		if entry.CreatedAt.Before(horizon) {
			expired = append(expired, id)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}
	sort.Strings(expired)

	if err := s.collection.Delete(ctx, nil, nil, expired...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("deleting expired index rows: %w", err)
	}
	for _, id := range expired {
		delete(s.catalog, id)
	}
	s.count -= len(expired)
	entriesCleanedTotal.Add(float64(len(expired)))
	entryCountGauge.Set(float64(s.count))

	if err := s.persistCatalogLocked(); err != nil {
		s.logger.Warn("persisting entry catalog failed", zap.Error(err))
	}

	s.logger.Info("cleaned up expired entries",
		zap.Int("removed", len(expired)),
		zap.Time("horizon", horizon),
	)
	span.SetStatus(codes.Ok, "")
	return len(expired), nil
}

// Count returns the in-memory entry counter. O(1); maintained
// incrementally, not recomputed from storage.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Close persists the catalog (including best-effort access counters).
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil
	}
	return s.persistCatalogLocked()
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}
