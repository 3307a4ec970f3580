package summarize

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrClientConfig indicates invalid LLM client configuration.
var ErrClientConfig = errors.New("invalid LLM client configuration")

// GenerateOptions bound one completion call.
type GenerateOptions struct {
	// MaxTokens caps the completion length.
	MaxTokens int

	// Timeout applies per call; zero means the caller's context governs.
	Timeout time.Duration
}

// Client produces one completion per prompt.
type Client interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// BatchClient is an optional capability for producing completions for
// several prompts in one combined call. The summarizer uses it only when
// more than one item is ready simultaneously.
type BatchClient interface {
	GenerateBatch(ctx context.Context, prompts []string, opts GenerateOptions) ([]string, error)
}

// ClientConfig configures the langchaingo-backed completion client.
type ClientConfig struct {
	// BaseURL is an optional OpenAI-compatible endpoint override.
	BaseURL string

	// Model is the completion model name.
	Model string

	// APIKey authenticates against the endpoint.
	APIKey string
}

// ClientConfigFromEnv creates a ClientConfig from environment variables.
//
//   - RECALLD_LLM_BASE_URL (optional)
//   - RECALLD_LLM_MODEL (default gpt-4o-mini)
//   - OPENAI_API_KEY
func ClientConfigFromEnv() ClientConfig {
	model := os.Getenv("RECALLD_LLM_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}
	return ClientConfig{
		BaseURL: os.Getenv("RECALLD_LLM_BASE_URL"),
		Model:   model,
		APIKey:  os.Getenv("OPENAI_API_KEY"),
	}
}

// LLMClient is the langchaingo-backed Client implementation.
type LLMClient struct {
	model llms.Model
}

// NewLLMClient creates a completion client for an OpenAI-compatible
// endpoint.
func NewLLMClient(cfg ClientConfig) (*LLMClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required", ErrClientConfig)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key required", ErrClientConfig)
	}

	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}
	return &LLMClient{model: model}, nil
}

// Generate produces one completion, bounded by opts.
func (c *LLMClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	callOpts := []llms.CallOption{}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}

	completion, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt, callOpts...)
	if err != nil {
		return "", fmt.Errorf("generating completion: %w", err)
	}
	return completion, nil
}
