package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sec-digest-cli/internal/config"
	"github.com/sells-group/sec-digest-cli/internal/fetch"
	"github.com/sells-group/sec-digest-cli/internal/manifest"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "sec-digest-cli",
	Short: "SEC News Digest enforcement-action pipeline",
	Long:  "Converts the 1956-2014 SEC News Digest archive into a structured enforcement-action dataset: register, fetch, normalize, extract, consolidate.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openManifest opens the manifest store and runs migrations.
func openManifest(cmd *cobra.Command) (manifest.Store, error) {
	st, err := manifest.NewSQLite(cfg.Store.ManifestPath)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(cmd.Context()); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// fetchConfig maps the loaded configuration onto the scheduler.
func fetchConfig(force bool) fetch.Config {
	return fetch.Config{
		UserAgent:         cfg.Fetch.UserAgent,
		RawDir:            cfg.Paths.RawDir,
		RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
		Burst:             cfg.Fetch.Burst,
		Concurrency:       cfg.Fetch.Concurrency,
		MaxAttempts:       cfg.Fetch.MaxAttempts,
		Timeout:           time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		InitialBackoff:    time.Duration(cfg.Fetch.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:        time.Duration(cfg.Fetch.MaxBackoffMs) * time.Millisecond,
		ForceRefresh:      force,
	}
}
