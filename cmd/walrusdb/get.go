package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vault-md/walrusdb/internal/application"
	"github.com/vault-md/walrusdb/internal/blobstore"
)

type getOutput struct {
	BlobID      string `json:"blobId"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	Content     string `json:"content,omitempty"`
}

func newGetCmd(rt *runtime) *cobra.Command {
	var (
		output       string
		forceNetwork bool
	)

	cmd := &cobra.Command{
		Use:   "get <blob-id>",
		Short: "Retrieve a blob",
		Args:  cobra.ExactArgs(1),
		RunE: rt.run(func(cmd *cobra.Command, app *application.App, args []string) error {
			res, err := app.Blobs.Retrieve(cmd.Context(), args[0], blobstore.RetrieveOptions{ForceNetwork: forceNetwork})
			if err != nil {
				return err
			}

			if output != "" {
				if err := os.WriteFile(output, res.Content, 0o600); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Saved %s to %s\n", formatSize(res.Size), output)
				return nil
			}

			if rt.format == "json" {
				out := getOutput{BlobID: args[0], ContentType: res.ContentType, Size: res.Size}
				if res.Metadata != nil {
					out.Name = res.Metadata.Name
					out.Description = res.Metadata.Description
				}
				if blobstore.IsText(res.Content) {
					out.Content = string(res.Content)
				}
				return outputJSON(cmd, out)
			}

			if !blobstore.IsText(res.Content) {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s\nUse --output to save binary data to a file\n", blobstore.Preview(res.Content))
				return nil
			}
			_, err = cmd.OutOrStdout().Write(res.Content)
			return err
		}),
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write content to this file")
	cmd.Flags().BoolVar(&forceNetwork, "force-network", false, "Skip the local metadata index")

	return cmd
}
