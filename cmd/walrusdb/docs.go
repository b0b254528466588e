package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/vault-md/walrusdb/internal/application"
	"github.com/vault-md/walrusdb/internal/usecase"
)

type versionOutput struct {
	Document string `json:"document"`
	Version  int64  `json:"version"`
	BlobID   string `json:"blobId"`
	Size     int64  `json:"size"`
}

type historyOutputEntry struct {
	Version     int64  `json:"version"`
	BlobID      string `json:"blobId"`
	Description string `json:"description,omitempty"`
	Current     bool   `json:"current"`
	Size        int64  `json:"size"`
	Created     string `json:"created"`
}

type docsOutputEntry struct {
	Document       string `json:"document"`
	TotalVersions  int64  `json:"totalVersions"`
	LatestVersion  int64  `json:"latestVersion"`
	CurrentVersion int64  `json:"currentVersion"`
	LastUpdated    string `json:"lastUpdated"`
}

func newVersionCmd(rt *runtime) *cobra.Command {
	var (
		filePath    string
		description string
		deletable   bool
		tags        []string
	)

	cmd := &cobra.Command{
		Use:   "version <document> [content]",
		Short: "Store a new version of a document",
		Long:  "Store a new version of a document. Content comes from the argument, --file, or stdin.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: rt.run(func(cmd *cobra.Command, app *application.App, args []string) error {
			var (
				content []byte
				err     error
			)
			switch {
			case len(args) == 2:
				content = []byte(args[1])
			case filePath != "":
				//nolint:gosec // G304: path is supplied by the operator
				content, err = os.ReadFile(filePath)
			default:
				content, err = readStdin(cmd)
			}
			if err != nil {
				return err
			}

			res, err := app.Documents.StoreVersion(cmd.Context(), args[0], content, usecase.StoreVersionInput{
				Description: description,
				Deletable:   deletable,
				Tags:        tags,
			})
			if err != nil {
				return err
			}

			if rt.format == "json" {
				return outputJSON(cmd, versionOutput{Document: res.DocumentName, Version: res.Version, BlobID: res.BlobID, Size: res.Size})
			}
			if res.Version == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Stored %s as blob %s (version tracking disabled)\n", res.DocumentName, res.BlobID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s version %d as blob %s\n", res.DocumentName, res.Version, res.BlobID)
			return nil
		}),
	}

	cmd.Flags().StringVarP(&filePath, "file", "f", "", "Read content from file")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Version description")
	cmd.Flags().BoolVar(&deletable, "deletable", false, "Make the version blob deletable")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "Comma separated tags")

	return cmd
}

func newHistoryCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <document>",
		Short: "Show every version of a document, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: rt.run(func(cmd *cobra.Command, app *application.App, args []string) error {
			history, err := app.Documents.GetHistory(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if rt.format == "json" {
				out := make([]historyOutputEntry, 0, len(history))
				for _, v := range history {
					out = append(out, historyOutputEntry{
						Version:     v.Version,
						BlobID:      v.BlobID,
						Description: v.Description,
						Current:     v.IsCurrent,
						Size:        v.Size,
						Created:     v.CreatedAt.Format(time.RFC3339),
					})
				}
				return outputJSON(cmd, out)
			}

			if len(history) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No versions found for %s\n", args[0])
				return nil
			}

			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Version", "Current", "Blob ID", "Size", "Created", "Description"})
			width := descriptionWidth(7+7+len(history[0].BlobID)+10+19, 6)
			for _, v := range history {
				current := ""
				if v.IsCurrent {
					current = "*"
				}
				t.AppendRow(table.Row{v.Version, current, v.BlobID, formatSize(v.Size), formatTime(v.CreatedAt), truncateTo(v.Description, width)})
			}
			t.Render()
			return nil
		}),
	}

	return cmd
}

func newRollbackCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback <document> <version>",
		Short: "Make an existing version the current one",
		Args:  cobra.ExactArgs(2),
		RunE: rt.run(func(cmd *cobra.Command, app *application.App, args []string) error {
			version, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[1], err)
			}
			if err := app.Documents.SetCurrentVersion(cmd.Context(), args[0], version); err != nil {
				return err
			}
			if rt.format == "json" {
				return outputJSON(cmd, map[string]any{"document": args[0], "version": version})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now at version %d\n", args[0], version)
			return nil
		}),
	}

	return cmd
}

func newDocsCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "List versioned documents",
		Args:  cobra.NoArgs,
		RunE: rt.run(func(cmd *cobra.Command, app *application.App, _ []string) error {
			docs, err := app.Documents.ListDocuments(cmd.Context())
			if err != nil {
				return err
			}

			if rt.format == "json" {
				out := make([]docsOutputEntry, 0, len(docs))
				for _, d := range docs {
					out = append(out, docsOutputEntry{
						Document:       d.DocumentName,
						TotalVersions:  d.TotalVersions,
						LatestVersion:  d.LatestVersion,
						CurrentVersion: d.CurrentVersion,
						LastUpdated:    d.LastUpdated.Format(time.RFC3339),
					})
				}
				return outputJSON(cmd, out)
			}

			if len(docs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No documents found")
				return nil
			}

			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Document", "Versions", "Latest", "Current", "Last Updated"})
			for _, d := range docs {
				t.AppendRow(table.Row{d.DocumentName, d.TotalVersions, d.LatestVersion, d.CurrentVersion, formatTime(d.LastUpdated)})
			}
			t.Render()
			return nil
		}),
	}

	return cmd
}
