package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vault-md/walrusdb/internal/application"
)

func newCleanupCmd(rt *runtime) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Drop old index entries not referenced by any document version",
		Args:  cobra.NoArgs,
		RunE: rt.run(func(cmd *cobra.Command, app *application.App, _ []string) error {
			removed, err := app.Index.Cleanup(cmd.Context(), days)
			if err != nil {
				return err
			}
			if rt.format == "json" {
				return outputJSON(cmd, map[string]int64{"removed": removed})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d index entries older than %d days\n", removed, days)
			return nil
		}),
	}

	cmd.Flags().IntVar(&days, "days", 30, "Age threshold in days")
	return cmd
}
