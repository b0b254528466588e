package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vault-md/walrusdb/internal/application"
	"github.com/vault-md/walrusdb/internal/services"
)

func newExportCmd(rt *runtime) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "export [filename]",
		Short: "Export the metadata index and version ledger to JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: rt.run(func(cmd *cobra.Command, app *application.App, args []string) error {
			opts := services.ExportOptions{
				Dir:     dir,
				Network: app.Config.Network,
				Address: app.Blobs.Address(),
			}
			if len(args) == 1 {
				opts.Filename = args[0]
			}

			path, err := app.Index.Export(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if rt.format == "json" {
				return outputJSON(cmd, map[string]string{"path": path})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", path)
			return nil
		}),
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "Directory for the export file")
	return cmd
}
