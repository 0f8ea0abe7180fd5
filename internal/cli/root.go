package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rshade/apicache/internal/config"
	"github.com/rshade/apicache/internal/logging"
)

// isTerminal checks if the given file is a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// logger is the package-level logger for CLI operations.
var logger zerolog.Logger //nolint:gochecknoglobals // Required for zerolog context integration

// NewRootCmd creates the root Cobra command for the apicache CLI.
func NewRootCmd(ver string) *cobra.Command {
	var logResult *logging.LogPathResult

	cmd := &cobra.Command{
		Use:           "apicache",
		Short:         "Client-side cache for API responses",
		Long:          "apicache: a persistent, TTL-bounded cache for JSON API responses",
		Version:       ver,
		Example:       rootCmdExample,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.GetGlobalConfig()
			if err := cfg.LoadErr(); err != nil {
				cmd.PrintErrf("Warning: configuration not fully loaded: %v\n", err)
			}
			if err := applyFlagOverrides(cmd, cfg); err != nil {
				return err
			}

			result := setupLogging(cmd)
			logResult = &result
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return cleanupLogging(logResult)
		},
	}

	cmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	cmd.PersistentFlags().String("backend", "", "cache backend: file, sqlite, memory or none (overrides config)")
	cmd.PersistentFlags().String("cache-dir", "", "directory holding cache data (overrides config)")
	cmd.PersistentFlags().String("prefix", "", "cache key namespace prefix (overrides config)")

	cmd.AddCommand(
		newGetCmd(),
		newSetCmd(),
		newInvalidateCmd(),
		newClearCmd(),
		newCleanupCmd(),
		newStatsCmd(),
		newTTLCmd(),
		newFetchCmd(),
		newWarmCmd(),
		newServeCmd(),
		newConfigCmd(),
	)

	return cmd
}

// applyFlagOverrides copies explicitly set global flags onto cfg.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	overrides := map[string]string{
		"backend":   "cache.backend",
		"cache-dir": "cache.directory",
		"prefix":    "cache.prefix",
	}
	for flag, key := range overrides {
		if !cmd.Flags().Changed(flag) {
			continue
		}
		value, _ := cmd.Flags().GetString(flag)
		if err := cfg.Set(key, value); err != nil {
			return fmt.Errorf("--%s: %w", flag, err)
		}
	}
	return nil
}

const rootCmdExample = `  # Cache a response for five minutes and read it back
  apicache set /api/quotes/AAPL '{"price":189.25}' --ttl 5m
  apicache get /api/quotes/AAPL

  # Fetch a URL through the cache and select a field
  apicache fetch https://api.example.com/v1/overview --query data.summary

  # Drop every cached signals response
  apicache invalidate signals

  # Show what the cache holds
  apicache stats --output json

  # Serve the cache API and a caching proxy
  apicache serve --addr :8080 --upstream https://api.example.com

  # Use a SQLite database instead of JSON files
  apicache config set cache.backend sqlite`
