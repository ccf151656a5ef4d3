package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sec-digest-cli/internal/registry"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register expected digest documents in the manifest",
	Long: `Enumerate the business days of the requested year range, derive each
digest's URL and source format from its publication era, and upsert the
documents into the manifest. Re-registering an overlapping range is a no-op
for documents that already made progress.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetInt("from")
		to, _ := cmd.Flags().GetInt("to")
		if to == 0 {
			to = from
		}

		docs, err := registry.DocumentsForYears(from, to)
		if err != nil {
			return err
		}

		mf, err := openManifest(cmd)
		if err != nil {
			return err
		}
		defer mf.Close() //nolint:errcheck

		for _, doc := range docs {
			if err := mf.Upsert(cmd.Context(), doc); err != nil {
				return eris.Wrapf(err, "register %s", doc.ID)
			}
		}

		zap.L().Info("registered documents",
			zap.Int("from", from),
			zap.Int("to", to),
			zap.Int("count", len(docs)),
		)
		fmt.Printf("Registered %d documents for %d-%d\n", len(docs), from, to)
		return nil
	},
}

func init() {
	registerCmd.Flags().Int("from", 1956, "first year to register")
	registerCmd.Flags().Int("to", 0, "last year to register (defaults to --from)")
	rootCmd.AddCommand(registerCmd)
}
