package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/recalld/internal/config"
)

var (
	searchSession      string
	searchCrossSession bool
	searchLimit        int
)

func init() {
	searchCmd.Flags().StringVar(&searchSession, "session", "", "scope results to one session")
	searchCmd.Flags().BoolVar(&searchCrossSession, "cross-session", false, "search across all sessions")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "maximum results (0 uses the configured default)")
}

// statsCmd prints store and cache statistics.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store and cache statistics",
	Long: `Show statistics for the persistent tool-result store.

Examples:
  # Show stats with defaults
  recalld stats

  # Use a specific configuration file
  recalld stats --config ~/.config/recalld/config.yaml`,
	RunE: runStats,
}

// searchCmd searches stored tool results.
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search stored tool results",
	Long: `Run a similarity search over stored tool results and print the
formatted context block.

Examples:
  # Search across all sessions
  recalld search --cross-session "disk usage"

  # Scope to one session
  recalld search --session sess-42 "failing tests"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

// cleanupCmd expires entries past the configured TTL.
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove entries older than the configured TTL",
	Long: `Remove stored entries older than storage.ttl_days.

Examples:
  # Expire with the configured TTL
  recalld cleanup`,
	RunE: runCleanup,
}

func runStats(cmd *cobra.Command, _ []string) error {
	reg, cfg, _, err := bootstrap(nil)
	if err != nil {
		return err
	}
	defer reg.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "mode:          %s\n", cfg.Mode)
	fmt.Fprintf(cmd.OutOrStdout(), "storage path:  %s\n", cfg.Storage.Path)
	fmt.Fprintf(cmd.OutOrStdout(), "entries:       %d\n", reg.Store().Count())
	fmt.Fprintf(cmd.OutOrStdout(), "cached summaries: %d\n", reg.Summarizer().CacheSize())
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	reg, _, _, err := bootstrap(func(cfg *config.Config) {
		if searchCrossSession {
			cfg.Retrieval.CrossSession = true
		}
		if searchLimit > 0 {
			cfg.Retrieval.MaxResults = searchLimit
		}
	})
	if err != nil {
		return err
	}
	defer reg.Close()

	query := strings.Join(args, " ")
	out, err := reg.Retriever().RetrieveAndFormat(cmd.Context(), query, searchSession)
	if err != nil {
		return fmt.Errorf("searching: %w", err)
	}
	if out.Count == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no matching entries")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), out.ContextBlock)
	return nil
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	reg, cfg, _, err := bootstrap(nil)
	if err != nil {
		return err
	}
	defer reg.Close()

	removed, err := reg.Store().Cleanup(cmd.Context(), cfg.Storage.TTLDays)
	if err != nil {
		return fmt.Errorf("cleaning up: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired entries\n", removed)
	return nil
}
