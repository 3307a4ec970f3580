package services

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/embeddings"
	"github.com/fyrsmithlabs/recalld/internal/pipeline"
	"github.com/fyrsmithlabs/recalld/internal/retrieve"
	"github.com/fyrsmithlabs/recalld/internal/session"
	"github.com/fyrsmithlabs/recalld/internal/store"
	"github.com/fyrsmithlabs/recalld/internal/summarize"
	"github.com/fyrsmithlabs/recalld/internal/toolfilter"
)

// Registry provides access to all recalld services.
// Use accessor methods to retrieve individual services.
type Registry interface {
	Filter() *toolfilter.Filter
	Summarizer() *summarize.Summarizer
	Store() *store.Store
	Retriever() *retrieve.Retriever
	Sessions() *session.Registry
	Pipeline() *pipeline.Pipeline

	// Close flushes pending summarizations and persists the store.
	Close() error
}

// Options configures the registry with service instances.
type Options struct {
	Filter     *toolfilter.Filter
	Summarizer *summarize.Summarizer
	Store      *store.Store
	Retriever  *retrieve.Retriever
	Sessions   *session.Registry
	Pipeline   *pipeline.Pipeline
}

// registry is the concrete implementation of Registry.
type registry struct {
	filter     *toolfilter.Filter
	summarizer *summarize.Summarizer
	store      *store.Store
	retriever  *retrieve.Retriever
	sessions   *session.Registry
	pipeline   *pipeline.Pipeline
}

// NewRegistry creates a registry from pre-built service instances.
func NewRegistry(opts Options) Registry {
	return &registry{
		filter:     opts.Filter,
		summarizer: opts.Summarizer,
		store:      opts.Store,
		retriever:  opts.Retriever,
		sessions:   opts.Sessions,
		pipeline:   opts.Pipeline,
	}
}

func (r *registry) Filter() *toolfilter.Filter        { return r.filter }
func (r *registry) Summarizer() *summarize.Summarizer { return r.summarizer }
func (r *registry) Store() *store.Store               { return r.store }
func (r *registry) Retriever() *retrieve.Retriever    { return r.retriever }
func (r *registry) Sessions() *session.Registry       { return r.sessions }
func (r *registry) Pipeline() *pipeline.Pipeline      { return r.pipeline }

func (r *registry) Close() error {
	if r.summarizer != nil {
		r.summarizer.Flush()
	}
	if r.store != nil {
		return r.store.Close()
	}
	return nil
}

// Build wires the full service graph from one configuration. The
// embedding provider and LLM client read their endpoints from the
// environment; a missing LLM credential is not fatal because the
// summarizer degrades to truncation.
func Build(cfg *config.Config, logger *zap.Logger) (Registry, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	provider, err := embeddings.NewService(embeddings.ConfigFromEnv())
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	st, err := store.New(cfg.Storage, provider, logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	var client summarize.Client
	llmClient, err := summarize.NewLLMClient(summarize.ClientConfigFromEnv())
	if err != nil {
		logger.Warn("LLM client unavailable, summaries degrade to truncation", zap.Error(err))
	} else {
		client = llmClient
	}

	filter := toolfilter.New(cfg.Tools.Include, cfg.Tools.Exclude)
	summarizer := summarize.New(cfg.Summary, client, logger.Named("summarize"))
	retriever := retrieve.New(st, cfg.Retrieval, logger.Named("retrieve"))
	sessions := session.NewRegistry(cfg)

	pipe := pipeline.New(pipeline.Deps{
		Filter:     filter,
		Summarizer: summarizer,
		Store:      st,
		Retriever:  retriever,
		Sessions:   sessions,
		Logger:     logger.Named("pipeline"),
	})

	return NewRegistry(Options{
		Filter:     filter,
		Summarizer: summarizer,
		Store:      st,
		Retriever:  retriever,
		Sessions:   sessions,
		Pipeline:   pipe,
	}), nil
}
