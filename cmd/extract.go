package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sec-digest-cli/internal/extract"
	"github.com/sells-group/sec-digest-cli/internal/manifest"
	"github.com/sells-group/sec-digest-cli/internal/model"
	"github.com/sells-group/sec-digest-cli/internal/resilience"
	"github.com/sells-group/sec-digest-cli/pkg/anthropic"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract structured enforcement data from normalized text",
	Long: `Send each normalized digest through the extraction model and persist a
validated JSON artifact per document. Documents with no enforcement section
headings skip the model entirely. A shared circuit breaker fails fast during
service outages.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		era, _ := cmd.Flags().GetString("era")
		limit, _ := cmd.Flags().GetInt("limit")
		retryFailed, _ := cmd.Flags().GetBool("retry-failed")

		if cfg.Anthropic.Key == "" {
			return eris.New("extract: anthropic.key is required (DIGEST_ANTHROPIC_KEY)")
		}

		mf, err := openManifest(cmd)
		if err != nil {
			return err
		}
		defer mf.Close() //nolint:errcheck

		recs, err := mf.Query(cmd.Context(), manifest.Filter{
			Stage: model.StageNormalized,
			Era:   era,
			Limit: limit,
		})
		if err != nil {
			return err
		}
		if retryFailed {
			failed, err := mf.Query(cmd.Context(), manifest.Filter{Stage: model.StageFailed, Era: era})
			if err != nil {
				return err
			}
			for _, rec := range failed {
				if rec.FailedStage == string(model.StageExtracted) && rec.TextPath != "" {
					rec.Stage = model.StageNormalized
					recs = append(recs, rec)
				}
			}
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

		stats, err := adapter.Run(cmd.Context(), recs)
		if err != nil {
			return err
		}

		fmt.Printf("Extract complete: %d extracted, %d without enforcement content, %d skipped, %d failed\n",
			stats.Extracted, stats.NoContent, stats.Skipped, stats.Failed)
		fmt.Printf("Token usage: %d in / %d out, estimated $%.4f\n",
			stats.Usage.InputTokens, stats.Usage.OutputTokens, stats.TotalCost)
		return nil
	},
}

func init() {
	extractCmd.Flags().String("era", "", "restrict to one era: pdf, text, html")
	extractCmd.Flags().Int("limit", 0, "maximum documents to extract (0 = all)")
	extractCmd.Flags().Bool("retry-failed", false, "include documents that failed during extraction")
	rootCmd.AddCommand(extractCmd)
}
