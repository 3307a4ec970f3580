// Package embeddings provides embedding generation for summary indexing.
//
// The concrete provider wraps langchaingo's embeddings abstraction, which
// supports any OpenAI-compatible endpoint: a local TEI (Text Embeddings
// Inference) server or OpenAI's embedding API.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"os"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Provider generates vector embeddings from text. All vectors produced by
// one provider have the same dimension, which must match the store's
// configured vector size.
type Provider interface {
	// EmbedQuery generates an embedding for a single text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedDocuments generates embeddings for multiple texts, one vector
	// per input in order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Config holds configuration for the langchaingo-backed provider.
type Config struct {
	// BaseURL is the embedding API endpoint.
	// For TEI: http://localhost:8080/v1. For OpenAI: https://api.openai.com/v1.
	BaseURL string

	// Model is the embedding model name.
	Model string

	// APIKey is required for OpenAI, optional for TEI.
	APIKey string
}

// ConfigFromEnv creates a Config from environment variables.
//
//   - RECALLD_EMBEDDING_BASE_URL (default http://localhost:8080/v1)
//   - RECALLD_EMBEDDING_MODEL (default BAAI/bge-small-en-v1.5)
//   - OPENAI_API_KEY (optional)
func ConfigFromEnv() Config {
	baseURL := os.Getenv("RECALLD_EMBEDDING_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080/v1"
	}
	model := os.Getenv("RECALLD_EMBEDDING_MODEL")
	if model == "" {
		model = "BAAI/bge-small-en-v1.5"
	}
	return Config{
		BaseURL: baseURL,
		Model:   model,
		APIKey:  os.Getenv("OPENAI_API_KEY"),
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	return nil
}

// Service is the langchaingo-backed Provider implementation.
type Service struct {
	embedder *lcembeddings.EmbedderImpl
	config   Config
}

// NewService creates a new embedding service with the given configuration.
func NewService(config Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	apiKey := config.APIKey
	if apiKey == "" {
		// langchaingo requires a token; TEI ignores it.
		apiKey = "placeholder"
	}

	llm, err := openai.New(
		openai.WithBaseURL(config.BaseURL),
		openai.WithModel(config.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	embedder, err := lcembeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &Service{embedder: embedder, config: config}, nil
}

// EmbedQuery generates an embedding for a single query text.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vector, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return vector, nil
}

// EmbedDocuments generates embeddings for the given texts.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding documents: %w", err)
	}
	return vectors, nil
}
