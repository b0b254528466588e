package main

import (
	"github.com/spf13/cobra"

	"github.com/vault-md/walrusdb/internal/application"
	"github.com/vault-md/walrusdb/internal/mcp"
)

func newMCPCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server on stdio",
		Args:  cobra.NoArgs,
		RunE: rt.run(func(cmd *cobra.Command, app *application.App, _ []string) error {
			server, err := mcp.NewServer(app, version)
			if err != nil {
				return err
			}
			return server.Run(cmd.Context())
		}),
	}
}
