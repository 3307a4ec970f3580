package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix         = "RECALLD_"
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// Load loads configuration from a YAML file, then overrides with
// environment variables, then applies defaults and validates.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (RECALLD_SUMMARY_MAX_CHARS, ...)
//  2. YAML config file (~/.config/recalld/config.yaml by default)
//  3. Hardcoded defaults
//
// A missing config file is not an error; defaults and env apply.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "recalld", "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("opening config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("%w: config file %s exceeds %d bytes", ErrInvalidConfig, configPath, maxConfigFileSize)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", transformEnvKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment overrides: %w", err)
	}

	return unmarshal(k)
}

// LoadBytes loads configuration from raw YAML bytes (tests, embedded
// defaults) without env overrides.
func LoadBytes(content []byte) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return unmarshal(k)
}

func unmarshal(k *koanf.Koanf) (*Config, error) {
	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Flags and TTLs whose zero value is an explicit opt-out default only
	// when the key is absent.
	if !k.Exists("enabled") {
		cfg.Enabled = true
	}
	if !k.Exists("summary.cache.enabled") {
		cfg.Summary.Cache.Enabled = true
	}
	if !k.Exists("summary.cache.ttl") {
		cfg.Summary.Cache.TTL = time.Hour
	}
	if !k.Exists("summary.batch.enabled") {
		cfg.Summary.Batch.Enabled = true
	}
	if !k.Exists("storage.ttl_days") {
		cfg.Storage.TTLDays = 30
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// configGroups are the top-level nested option groups; subGroups nest one
// level deeper under summary.
var (
	configGroups = map[string]bool{
		"summary":   true,
		"storage":   true,
		"retrieval": true,
		"tools":     true,
		"logging":   true,
	}
	subGroups = map[string]bool{
		"cache": true,
		"batch": true,
	}
)

// transformEnvKey maps environment variable names to config paths.
//
//	RECALLD_ENABLED            -> enabled
//	RECALLD_SUMMARY_MAX_CHARS  -> summary.max_chars
//	RECALLD_SUMMARY_CACHE_TTL  -> summary.cache.ttl
//	RECALLD_STORAGE_TTL_DAYS   -> storage.ttl_days
func transformEnvKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.Split(s, "_")
	if len(parts) < 2 || !configGroups[parts[0]] {
		return s
	}

	path := []string{parts[0]}
	rest := parts[1:]
	if len(rest) > 1 && subGroups[rest[0]] {
		path = append(path, rest[0])
		rest = rest[1:]
	}
	path = append(path, strings.Join(rest, "_"))
	return strings.Join(path, ".")
}
