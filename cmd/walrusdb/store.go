package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vault-md/walrusdb/internal/application"
	"github.com/vault-md/walrusdb/internal/blobstore"
)

type storeFlags struct {
	name        string
	description string
	deletable   bool
	epochs      int
	tags        []string
}

func (f *storeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.name, "name", "n", "", "Human readable name")
	cmd.Flags().StringVarP(&f.description, "description", "d", "", "Add description metadata")
	cmd.Flags().BoolVar(&f.deletable, "deletable", false, "Make the blob deletable")
	cmd.Flags().IntVar(&f.epochs, "epochs", 3, "Storage duration in epochs")
	cmd.Flags().StringSliceVar(&f.tags, "tags", nil, "Comma separated tags")
}

func (f *storeFlags) options(contentType string) blobstore.StoreOptions {
	return blobstore.StoreOptions{
		Name:        f.name,
		Description: f.description,
		ContentType: contentType,
		Deletable:   f.deletable,
		Epochs:      f.epochs,
		Tags:        f.tags,
	}
}

type storeOutput struct {
	BlobID   string `json:"blobId"`
	Size     int64  `json:"size"`
	TxDigest string `json:"txDigest,omitempty"`
}

func newStoreCmd(rt *runtime) *cobra.Command {
	var flags storeFlags

	cmd := &cobra.Command{
		Use:   "store [content]",
		Short: "Store content as a new blob",
		Long:  "Store content as a new blob. Without an argument the content is read from stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: rt.run(func(cmd *cobra.Command, app *application.App, args []string) error {
			var content []byte
			if len(args) == 1 {
				content = []byte(args[0])
			} else {
				var err error
				if content, err = readStdin(cmd); err != nil {
					return err
				}
			}

			res, err := app.Blobs.Store(cmd.Context(), content, flags.options(""))
			if err != nil {
				return err
			}
			return printStoreResult(cmd, rt.format, res)
		}),
	}

	flags.register(cmd)
	return cmd
}

func newFileCmd(rt *runtime) *cobra.Command {
	var flags storeFlags

	cmd := &cobra.Command{
		Use:   "file <path>",
		Short: "Store a file as a new blob",
		Args:  cobra.ExactArgs(1),
		RunE: rt.run(func(cmd *cobra.Command, app *application.App, args []string) error {
			//nolint:gosec // G304: path is supplied by the operator
			content, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if flags.name == "" {
				flags.name = filepath.Base(args[0])
			}

			res, err := app.Blobs.Store(cmd.Context(), content, flags.options(blobstore.SniffContentType(content)))
			if err != nil {
				return err
			}
			return printStoreResult(cmd, rt.format, res)
		}),
	}

	flags.register(cmd)
	return cmd
}

func printStoreResult(cmd *cobra.Command, format string, res blobstore.StoreResult) error {
	if format == "json" {
		return outputJSON(cmd, storeOutput{BlobID: res.BlobID, Size: res.Size, TxDigest: res.TxDigest})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Blob ID:   %s\n", res.BlobID)
	fmt.Fprintf(cmd.OutOrStdout(), "Size:      %s\n", formatSize(res.Size))
	if res.TxDigest != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Tx Digest: %s\n", res.TxDigest)
	}
	return nil
}

func readStdin(cmd *cobra.Command) ([]byte, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok {
		if stat, err := f.Stat(); err == nil && (stat.Mode()&os.ModeCharDevice) != 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "Enter content (Ctrl-D when done):")
		}
	}
	return io.ReadAll(in)
}
