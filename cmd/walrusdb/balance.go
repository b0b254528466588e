package main

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/vault-md/walrusdb/internal/application"
)

type balanceOutput struct {
	Address string   `json:"address"`
	Network string   `json:"network"`
	Balance *float64 `json:"balance"`
}

func newBalanceCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show the remote storage balance",
		Args:  cobra.NoArgs,
		RunE: rt.run(func(cmd *cobra.Command, app *application.App, _ []string) error {
			balance, err := app.Blobs.CheckBalance(cmd.Context())
			if err != nil {
				return err
			}

			out := balanceOutput{Address: app.Blobs.Address(), Network: app.Config.Network}
			if !math.IsInf(balance, 1) {
				out.Balance = &balance
			}
			if rt.format == "json" {
				return outputJSON(cmd, out)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Address: %s\n", out.Address)
			fmt.Fprintf(cmd.OutOrStdout(), "Network: %s\n", out.Network)
			if out.Balance == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Balance: unlimited")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Balance: %g\n", balance)
			}
			return nil
		}),
	}

	return cmd
}
