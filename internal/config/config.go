// Package config provides configuration types and loading for recalld.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig indicates invalid configuration values.
var ErrInvalidConfig = errors.New("invalid configuration")

// Mode controls which halves of the capture/recall pipeline run.
type Mode string

const (
	// ModeOff disables both capture and retrieval.
	ModeOff Mode = "off"
	// ModeStoreOnly captures tool results but never injects context.
	ModeStoreOnly Mode = "store-only"
	// ModeRetrieveOnly injects context but captures nothing new.
	ModeRetrieveOnly Mode = "retrieve-only"
	// ModeFull enables capture and retrieval.
	ModeFull Mode = "full"
)

// StoreEnabled reports whether tool results should be captured.
func (m Mode) StoreEnabled() bool {
	return m == ModeFull || m == ModeStoreOnly
}

// RetrieveEnabled reports whether context injection should run.
func (m Mode) RetrieveEnabled() bool {
	return m == ModeFull || m == ModeRetrieveOnly
}

func (m Mode) valid() bool {
	switch m {
	case ModeOff, ModeStoreOnly, ModeRetrieveOnly, ModeFull:
		return true
	}
	return false
}

// Config is the effective recalld configuration. It is computed once per
// session (defaults merged with overrides) and treated as immutable after
// that; components share it by reference.
type Config struct {
	// Enabled is the master switch. When false every event is a no-op.
	Enabled bool `koanf:"enabled"`

	// Mode selects which pipeline halves run. Default: full.
	Mode Mode `koanf:"mode"`

	Summary   SummaryConfig   `koanf:"summary"`
	Storage   StorageConfig   `koanf:"storage"`
	Retrieval RetrievalConfig `koanf:"retrieval"`
	Tools     ToolsConfig     `koanf:"tools"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// SummaryConfig configures the summarizer.
type SummaryConfig struct {
	// MaxChars is the hard upper bound on summary length. Default: 500.
	MaxChars int `koanf:"max_chars"`

	// MinContentForSummarization is the threshold below which content is
	// truncated instead of sent to the LLM. Default: 2000.
	MinContentForSummarization int `koanf:"min_content_for_summarization"`

	// Model is the completion model used for summarization.
	Model string `koanf:"model"`

	// MaxTokens bounds each completion. Default: 256.
	MaxTokens int `koanf:"max_tokens"`

	// Timeout applies per LLM call. Default: 30s.
	Timeout time.Duration `koanf:"timeout"`

	Cache CacheConfig `koanf:"cache"`
	Batch BatchConfig `koanf:"batch"`
}

// CacheConfig configures the process-wide summary cache.
type CacheConfig struct {
	// Enabled toggles the cache entirely. Default: true.
	Enabled bool `koanf:"enabled"`

	// MaxEntries bounds the cache; the oldest entry is evicted first.
	// Default: 1000.
	MaxEntries int `koanf:"max_entries"`

	// TTL expires entries. Zero or negative means no expiry. Default: 1h.
	TTL time.Duration `koanf:"ttl"`
}

// BatchConfig configures summarization request batching.
type BatchConfig struct {
	// Enabled toggles batching. Default: true.
	Enabled bool `koanf:"enabled"`

	// MaxSize flushes the pending queue immediately once reached.
	// Default: 5.
	MaxSize int `koanf:"max_size"`

	// MaxDelay is the single-shot timer armed on first enqueue.
	// Default: 100ms.
	MaxDelay time.Duration `koanf:"max_delay"`
}

// StorageConfig configures the persistent entry store.
type StorageConfig struct {
	// Path is the directory for the vector index and entry catalog.
	// Default: "~/.config/recalld/store".
	Path string `koanf:"path"`

	// Collection is the vector collection name. Default: "tool_results".
	Collection string `koanf:"collection"`

	// VectorSize must match the embedding provider's output dimension.
	// Default: 384.
	VectorSize int `koanf:"vector_size"`

	// MaxContentChars bounds stored original content. Default: 50000.
	MaxContentChars int `koanf:"max_content_chars"`

	// MinContentChars gates capture: shorter tool results are not worth
	// storing. Default: 200.
	MinContentChars int `koanf:"min_content_chars"`

	// TTLDays expires stored entries during cleanup. Zero or negative
	// disables expiry. Default: 30.
	TTLDays int `koanf:"ttl_days"`
}

// RetrievalConfig configures retrieval and context formatting.
type RetrievalConfig struct {
	// MaxResults bounds the injected result count. Default: 5.
	MaxResults int `koanf:"max_results"`

	// MinScore discards weak matches. Scores follow 1/(1+distance).
	// Default: 0.4.
	MinScore float64 `koanf:"min_score"`

	// CrossSession widens search beyond the current session. Default: false.
	CrossSession bool `koanf:"cross_session"`

	// IncludeContent adds a truncated original-content excerpt per result.
	IncludeContent bool `koanf:"include_content"`

	// MaxContentPreview bounds the excerpt length. Default: 500.
	MaxContentPreview int `koanf:"max_content_preview"`
}

// ToolsConfig holds the include/exclude tool name patterns.
type ToolsConfig struct {
	Include []string `koanf:"include"`
	Exclude []string `koanf:"exclude"`
}

// LoggingConfig configures process logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Default: info.
	Level string `koanf:"level"`

	// Format is json or console. Default: json.
	Format string `koanf:"format"`
}

// Default returns a fully defaulted configuration.
func Default() *Config {
	cfg := &Config{Enabled: true}
	cfg.Summary.Cache.Enabled = true
	cfg.Summary.Cache.TTL = time.Hour
	cfg.Summary.Batch.Enabled = true
	cfg.Storage.TTLDays = 30
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults sets default values for unset fields whose zero value is
// never meaningful. Fields where zero or false is an explicit choice
// (enabled flags, cache.ttl, storage.ttl_days) are left alone; Default and
// the loader seed those, since only they can tell unset from an explicit
// opt-out.
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeFull
	}
	if c.Summary.MaxChars == 0 {
		c.Summary.MaxChars = 500
	}
	if c.Summary.MinContentForSummarization == 0 {
		c.Summary.MinContentForSummarization = 2000
	}
	if c.Summary.MaxTokens == 0 {
		c.Summary.MaxTokens = 256
	}
	if c.Summary.Timeout == 0 {
		c.Summary.Timeout = 30 * time.Second
	}
	if c.Summary.Cache.MaxEntries == 0 {
		c.Summary.Cache.MaxEntries = 1000
	}
	if c.Summary.Batch.MaxSize == 0 {
		c.Summary.Batch.MaxSize = 5
	}
	if c.Summary.Batch.MaxDelay == 0 {
		c.Summary.Batch.MaxDelay = 100 * time.Millisecond
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "~/.config/recalld/store"
	}
	if c.Storage.Collection == "" {
		c.Storage.Collection = "tool_results"
	}
	if c.Storage.VectorSize == 0 {
		c.Storage.VectorSize = 384
	}
	if c.Storage.MaxContentChars == 0 {
		c.Storage.MaxContentChars = 50000
	}
	if c.Storage.MinContentChars == 0 {
		c.Storage.MinContentChars = 200
	}
	if c.Retrieval.MaxResults == 0 {
		c.Retrieval.MaxResults = 5
	}
	if c.Retrieval.MinScore == 0 {
		c.Retrieval.MinScore = 0.4
	}
	if c.Retrieval.MaxContentPreview == 0 {
		c.Retrieval.MaxContentPreview = 500
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !c.Mode.valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}
	if c.Summary.MaxChars <= 0 {
		return fmt.Errorf("%w: summary.max_chars must be positive", ErrInvalidConfig)
	}
	if c.Summary.MinContentForSummarization < c.Summary.MaxChars {
		return fmt.Errorf("%w: summary.min_content_for_summarization must be >= summary.max_chars", ErrInvalidConfig)
	}
	if c.Summary.Batch.MaxSize <= 0 {
		return fmt.Errorf("%w: summary.batch.max_size must be positive", ErrInvalidConfig)
	}
	if c.Storage.VectorSize <= 0 {
		return fmt.Errorf("%w: storage.vector_size must be positive", ErrInvalidConfig)
	}
	if c.Storage.MaxContentChars <= 0 {
		return fmt.Errorf("%w: storage.max_content_chars must be positive", ErrInvalidConfig)
	}
	if c.Retrieval.MaxResults <= 0 {
		return fmt.Errorf("%w: retrieval.max_results must be positive", ErrInvalidConfig)
	}
	if c.Retrieval.MinScore < 0 || c.Retrieval.MinScore > 1 {
		return fmt.Errorf("%w: retrieval.min_score must be in [0,1]", ErrInvalidConfig)
	}
	return nil
}
