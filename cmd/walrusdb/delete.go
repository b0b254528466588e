package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vault-md/walrusdb/internal/application"
)

func newDeleteCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <blob-id>",
		Short: "Delete a blob that was stored with --deletable",
		Args:  cobra.ExactArgs(1),
		RunE: rt.run(func(cmd *cobra.Command, app *application.App, args []string) error {
			if err := app.Blobs.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			if rt.format == "json" {
				return outputJSON(cmd, map[string]any{"blobId": args[0], "deleted": true})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted blob %s\n", args[0])
			return nil
		}),
	}

	return cmd
}
