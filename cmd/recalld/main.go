// Package main implements the recalld CLI for operating the tool-result
// recall store: inspecting stats, searching stored entries and running
// TTL cleanup.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/services"
)

var (
	// configPath points at an optional YAML configuration file;
	// environment variables override it.
	configPath string
	// version information (set via ldflags during build)
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "recalld",
	Short: "Tool-result recall store for conversational agents",
	Long: `recalld captures finished tool results, summarizes and embeds them,
and recalls the relevant ones into later conversation turns.

This CLI operates the persistent store directly: inspect stats, run
searches and expire old entries. Configuration is loaded from a YAML
file plus RECALLD_* environment variables.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML configuration file")
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(cleanupCmd)
}

// bootstrap loads configuration, applies command-line overrides, builds
// the logger and wires the service registry.
func bootstrap(overrides func(*config.Config)) (services.Registry, *config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	if overrides != nil {
		overrides(cfg)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating logger: %w", err)
	}

	reg, err := services.Build(cfg, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("building services: %w", err)
	}
	return reg, cfg, logger, nil
}
