package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/sec-digest-cli/internal/consolidate"
	"github.com/sells-group/sec-digest-cli/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline progress",
	Long:  "Print per-stage document counts from the manifest, failure reasons, and dataset row totals.",
	RunE: func(cmd *cobra.Command, args []string) error {
		mf, err := openManifest(cmd)
		if err != nil {
			return err
		}
		defer mf.Close() //nolint:errcheck

		sum, err := mf.Summary(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Manifest: %d documents\n", sum.Total)
		for _, stage := range []model.Stage{
			model.StageRegistered,
			model.StageDownloaded,
			model.StageNormalized,
			model.StageExtracted,
			model.StageConsolidated,
			model.StageFailed,
		} {
			if n := sum.ByStage[stage]; n > 0 {
				fmt.Printf("  %-13s %d\n", stage, n)
			}
		}
		if len(sum.ByReason) > 0 {
			fmt.Println("Failure reasons:")
			for reason, n := range sum.ByReason {
				fmt.Printf("  %-24s %d\n", reason, n)
			}
		}

		if _, err := os.Stat(cfg.Store.DatasetPath); err == nil {
			ds, err := consolidate.NewDataset(cfg.Store.DatasetPath)
			if err != nil {
				return err
			}
			defer ds.Close() //nolint:errcheck
			if err := ds.Migrate(cmd.Context()); err != nil {
				return err
			}
			digests, actions, suspensions, err := ds.Counts(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Dataset: %d digests, %d actions, %d suspensions\n",
				digests, actions, suspensions)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
