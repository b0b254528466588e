package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/vault-md/walrusdb/internal/application"
	"github.com/vault-md/walrusdb/internal/database"
	"github.com/vault-md/walrusdb/internal/services"
)

type listOutputEntry struct {
	BlobID      string   `json:"blobId"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	ContentType string   `json:"contentType"`
	Size        int64    `json:"size"`
	Deletable   bool     `json:"deletable"`
	Tags        []string `json:"tags,omitempty"`
	Created     string   `json:"created"`
}

func newListCmd(rt *runtime) *cobra.Command {
	var (
		limit  int
		offset int
		tags   []string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored blobs, newest first",
		Args:  cobra.NoArgs,
		RunE: rt.run(func(cmd *cobra.Command, app *application.App, _ []string) error {
			if !app.Index.Enabled() {
				fmt.Fprintln(cmd.ErrOrStderr(), "Local cache is disabled; nothing to list")
			}
			recs, err := app.Index.List(cmd.Context(), services.ListOptions{Limit: limit, Offset: offset, Tags: tags})
			if err != nil {
				return err
			}
			if err := outputBlobs(cmd, rt.format, recs); err != nil {
				return err
			}
			if rt.format == "table" && len(recs) == limit {
				fmt.Fprintf(cmd.ErrOrStderr(), "Showing %d results. Use --offset=%d for more\n", limit, offset+limit)
			}
			return nil
		}),
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Results to skip")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "Only blobs carrying every tag")

	return cmd
}

func newSearchCmd(rt *runtime) *cobra.Command {
	var (
		limit int
		tags  []string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search blobs by name, description or content preview",
		Args:  cobra.ExactArgs(1),
		RunE: rt.run(func(cmd *cobra.Command, app *application.App, args []string) error {
			recs, err := app.Index.List(cmd.Context(), services.ListOptions{Search: args[0], Limit: limit, Tags: tags})
			if err != nil {
				return err
			}
			return outputBlobs(cmd, rt.format, recs)
		}),
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum results")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "Only blobs carrying every tag")

	return cmd
}

func outputBlobs(cmd *cobra.Command, format string, recs []database.BlobRecord) error {
	if format == "json" {
		out := make([]listOutputEntry, 0, len(recs))
		for _, rec := range recs {
			out = append(out, listOutputEntry{
				BlobID:      rec.BlobID,
				Name:        rec.Name,
				Description: rec.Description,
				ContentType: rec.ContentType,
				Size:        rec.Size,
				Deletable:   rec.Deletable,
				Tags:        rec.Tags,
				Created:     rec.CreatedAt.Format(time.RFC3339),
			})
		}
		return outputJSON(cmd, out)
	}

	if len(recs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No blobs found")
		return nil
	}

	// blob id, size and created take a fixed share; name and description split the rest.
	rest := descriptionWidth(len(recs[0].BlobID)+10+19, 5)
	t := newTable(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Blob ID", "Name", "Size", "Created", "Description"})
	for _, rec := range recs {
		t.AppendRow(table.Row{
			rec.BlobID,
			truncateTo(rec.Name, rest/2),
			formatSize(rec.Size),
			formatTime(rec.CreatedAt),
			truncateTo(rec.Description, rest-rest/2),
		})
	}
	t.Render()
	return nil
}
