package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sec-digest-cli/internal/consolidate"
	"github.com/sells-group/sec-digest-cli/internal/cost"
	"github.com/sells-group/sec-digest-cli/internal/extract"
	"github.com/sells-group/sec-digest-cli/internal/fetch"
	"github.com/sells-group/sec-digest-cli/internal/manifest"
	"github.com/sells-group/sec-digest-cli/internal/model"
	"github.com/sells-group/sec-digest-cli/internal/normalize"
	"github.com/sells-group/sec-digest-cli/internal/registry"
	"github.com/sells-group/sec-digest-cli/internal/resilience"
	"github.com/sells-group/sec-digest-cli/pkg/anthropic"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline for a year range",
	Long: `Register, fetch, normalize, extract, and consolidate in sequence. Every
stage checkpoints per document in the manifest, so an interrupted run resumes
from wherever each document left off.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		from, _ := cmd.Flags().GetInt("from")
		to, _ := cmd.Flags().GetInt("to")
		if to == 0 {
			to = from
		}

		if cfg.Anthropic.Key == "" {
			return eris.New("run: anthropic.key is required (DIGEST_ANTHROPIC_KEY)")
		}

		mf, err := openManifest(cmd)
		if err != nil {
			return err
		}
		defer mf.Close() //nolint:errcheck

		log := zap.L().With(zap.Int("from", from), zap.Int("to", to))

		// Register.
		docs, err := registry.DocumentsForYears(from, to)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if err := mf.Upsert(ctx, doc); err != nil {
				return eris.Wrapf(err, "run: register %s", doc.ID)
			}
		}
		log.Info("run: registered", zap.Int("count", len(docs)))

		// Fetch.
		registered, err := mf.Query(ctx, manifest.Filter{Stage: model.StageRegistered})
		if err != nil {
			return err
		}
		fetchStats, err := fetch.New(fetchConfig(false), mf).Run(ctx, registered)
		if err != nil {
			return err
		}
		log.Info("run: fetched", zap.Int("downloaded", fetchStats.Downloaded), zap.Int("failed", fetchStats.Failed))

		// Normalize.
		downloaded, err := mf.Query(ctx, manifest.Filter{Stage: model.StageDownloaded})
		if err != nil {
			return err
		}
		n, err := normalize.New(cfg.Normalize, cfg.Paths.TextDir, mf)
		if err != nil {
			return err
		}
		normStats, err := n.Run(ctx, downloaded)
		if err != nil {
			return err
		}
		log.Info("run: normalized",
			zap.Int("normalized", normStats.Normalized),
			zap.Int("failed", normStats.Failed),
			zap.Int("ocr_pages", normStats.OCRPages),
		)

		// Extract.
		normalized, err := mf.Query(ctx, manifest.Filter{Stage: model.StageNormalized})
		if err != nil {
			return err
		}
		breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.Extract.CircuitThreshold,
			ResetTimeout:     time.Duration(cfg.Extract.CircuitResetSecs) * time.Second,
			ShouldTrip:       anthropic.IsRetryable,
		})
		adapter := extract.New(extract.Config{
			Model:          cfg.Anthropic.Model,
			MaxTokens:      int64(cfg.Anthropic.MaxTokens),
			OutDir:         cfg.Paths.ExtractedDir,
			Concurrency:    cfg.Extract.Concurrency,
			MaxAttempts:    cfg.Extract.MaxAttempts,
			Timeout:        time.Duration(cfg.Extract.TimeoutSecs) * time.Second,
			InitialBackoff: time.Duration(cfg.Extract.InitialBackoffMs) * time.Millisecond,
			Prefilter:      cfg.Extract.Prefilter,
		}, anthropic.NewClient(cfg.Anthropic.Key), mf, breaker)
		extractStats, err := adapter.Run(ctx, normalized)
		if err != nil {
			return err
		}
		log.Info("run: extracted",
			zap.Int("extracted", extractStats.Extracted),
			zap.Int("no_content", extractStats.NoContent),
			zap.Int("failed", extractStats.Failed),
		)

		// Consolidate.
		ds, err := consolidate.NewDataset(cfg.Store.DatasetPath)
		if err != nil {
			return err
		}
		defer ds.Close() //nolint:errcheck
		if err := ds.Migrate(ctx); err != nil {
			return err
		}
		report, err := consolidate.New(consolidate.Config{
			Model:     cfg.Anthropic.Model,
			ReportDir: cfg.Paths.ReportDir,
		}, mf, ds).Run(ctx)
		if err != nil {
			return err
		}

		ocrCost := cost.NewCalculator(cost.DefaultRates()).MistralOCR(normStats.OCRPages)
		fmt.Printf("Pipeline complete for %d-%d (run %s)\n", from, to, report.RunID)
		fmt.Printf("  fetched %d, normalized %d (%d ocr pages), extracted %d, est cost $%.4f\n",
			fetchStats.Downloaded, normStats.Normalized, normStats.OCRPages,
			extractStats.Extracted, extractStats.TotalCost+ocrCost)
		return nil
	},
}

func init() {
	runCmd.Flags().Int("from", 1956, "first year to process")
	runCmd.Flags().Int("to", 0, "last year to process (defaults to --from)")
	rootCmd.AddCommand(runCmd)
}
