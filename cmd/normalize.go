package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/sec-digest-cli/internal/cost"
	"github.com/sells-group/sec-digest-cli/internal/manifest"
	"github.com/sells-group/sec-digest-cli/internal/model"
	"github.com/sells-group/sec-digest-cli/internal/normalize"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Convert downloaded documents to plain text",
	Long: `Convert each downloaded document to canonical plain text: pdftotext or
Mistral OCR for the pdf era, passthrough for the text era, chrome-stripped
markdown for the html era.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		era, _ := cmd.Flags().GetString("era")
		limit, _ := cmd.Flags().GetInt("limit")
		retryFailed, _ := cmd.Flags().GetBool("retry-failed")

		mf, err := openManifest(cmd)
		if err != nil {
			return err
		}
		defer mf.Close() //nolint:errcheck

		recs, err := mf.Query(cmd.Context(), manifest.Filter{
			Stage: model.StageDownloaded,
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
				if rec.FailedStage == string(model.StageNormalized) && rec.RawPath != "" {
					rec.Stage = model.StageDownloaded
					recs = append(recs, rec)
				}
			}
		}

		n, err := normalize.New(cfg.Normalize, cfg.Paths.TextDir, mf)
		if err != nil {
			return err
		}
		stats, err := n.Run(cmd.Context(), recs)
		if err != nil {
			return err
		}

		fmt.Printf("Normalize complete: %d normalized, %d skipped, %d failed\n",
			stats.Normalized, stats.Skipped, stats.Failed)
		if stats.OCRPages > 0 {
			calc := cost.NewCalculator(cost.DefaultRates())
			fmt.Printf("OCR pages: %d, estimated $%.4f\n",
				stats.OCRPages, calc.MistralOCR(stats.OCRPages))
		}
		return nil
	},
}

func init() {
	normalizeCmd.Flags().String("era", "", "restrict to one era: pdf, text, html")
	normalizeCmd.Flags().Int("limit", 0, "maximum documents to normalize (0 = all)")
	normalizeCmd.Flags().Bool("retry-failed", false, "include documents that failed during normalization")
	rootCmd.AddCommand(normalizeCmd)
}
