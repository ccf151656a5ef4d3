package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/sec-digest-cli/internal/consolidate"
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Merge extraction artifacts into the dataset",
	Long: `Merge per-document extraction artifacts into the relational dataset,
resolving duplicate digest dates (latest extraction wins), flagging
internally inconsistent rows, and writing a per-run quality report.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rebuild, _ := cmd.Flags().GetBool("rebuild")

		mf, err := openManifest(cmd)
		if err != nil {
			return err
		}
		defer mf.Close() //nolint:errcheck

		ds, err := consolidate.NewDataset(cfg.Store.DatasetPath)
		if err != nil {
			return err
		}
		defer ds.Close() //nolint:errcheck
		if err := ds.Migrate(cmd.Context()); err != nil {
			return err
		}

		c := consolidate.New(consolidate.Config{
			Model:     cfg.Anthropic.Model,
			ReportDir: cfg.Paths.ReportDir,
			Rebuild:   rebuild,
		}, mf, ds)

		report, err := c.Run(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Consolidate complete (run %s)\n", report.RunID)
		for _, era := range report.Eras {
			fmt.Printf("  %-5s %5d digests %6d actions %4d flagged %4d unverified excerpts\n",
				era.Era, era.Digests, era.Actions, era.FlaggedRows, era.UnverifiedExcerpts)
		}
		if report.Superseded > 0 || report.Rejected > 0 {
			fmt.Printf("  superseded: %d, rejected: %d\n", report.Superseded, report.Rejected)
		}
		return nil
	},
}

func init() {
	consolidateCmd.Flags().Bool("rebuild", false, "reprocess already-consolidated documents")
	rootCmd.AddCommand(consolidateCmd)
}
