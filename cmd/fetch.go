package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/sec-digest-cli/internal/fetch"
	"github.com/sells-group/sec-digest-cli/internal/manifest"
	"github.com/sells-group/sec-digest-cli/internal/model"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download registered digest documents",
	Long: `Download raw digest bytes for registered documents, honoring a shared
per-host rate limit. Transient HTTP failures retry with backoff; a 404 marks
the document failed immediately since gaps in the archive are permanent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		era, _ := cmd.Flags().GetString("era")
		limit, _ := cmd.Flags().GetInt("limit")
		force, _ := cmd.Flags().GetBool("force")
		retryFailed, _ := cmd.Flags().GetBool("retry-failed")

		mf, err := openManifest(cmd)
		if err != nil {
			return err
		}
		defer mf.Close() //nolint:errcheck

		recs, err := mf.Query(cmd.Context(), manifest.Filter{
			Stage: model.StageRegistered,
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
				if rec.FailedStage == string(model.StageDownloaded) {
					recs = append(recs, rec)
				}
			}
		}

		sched := fetch.New(fetchConfig(force), mf)
		stats, err := sched.Run(cmd.Context(), recs)
		if err != nil {
			return err
		}

		fmt.Printf("Fetch complete: %d downloaded, %d skipped, %d failed\n",
			stats.Downloaded, stats.Skipped, stats.Failed)
		return nil
	},
}

func init() {
	fetchCmd.Flags().String("era", "", "restrict to one era: pdf, text, html")
	fetchCmd.Flags().Int("limit", 0, "maximum documents to fetch (0 = all)")
	fetchCmd.Flags().Bool("force", false, "re-download documents that already completed")
	fetchCmd.Flags().Bool("retry-failed", false, "include documents that failed during download")
	rootCmd.AddCommand(fetchCmd)
}
