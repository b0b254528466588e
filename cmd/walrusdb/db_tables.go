package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/vault-md/walrusdb/internal/tablestore"
)

type dbWrapper func(dbFunc) func(*cobra.Command, []string) error

func newDBCreateTableCmd(rt *runtime, withDB dbWrapper) *cobra.Command {
	var columns []string

	cmd := &cobra.Command{
		Use:   "create-table <table> [schema-file.json]",
		Short: "Create a table from --column flags or a schema file",
		Example: `  walrusdb db --name app create-table users --column id:integer:pk:auto --column email:text:unique
  walrusdb db --name app create-table users schema.json`,
		Args: cobra.RangeArgs(1, 2),
		RunE: withDB(func(cmd *cobra.Command, db *tablestore.Store, args []string) error {
			var schema tablestore.Schema
			if len(args) == 2 {
				//nolint:gosec // G304: path is supplied by the operator
				data, err := os.ReadFile(args[1])
				if err != nil {
					return err
				}
				if err := json.Unmarshal(data, &schema); err != nil {
					return fmt.Errorf("invalid schema file: %w", err)
				}
			}
			for _, spec := range columns {
				col, err := parseColumn(spec)
				if err != nil {
					return err
				}
				schema.Columns = append(schema.Columns, col)
			}

			if err := db.CreateTable(cmd.Context(), args[0], schema); err != nil {
				return err
			}
			if rt.format == "json" {
				return outputJSON(cmd, map[string]any{"table": args[0], "columns": len(schema.Columns)})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created table %s with %d column(s)\n", args[0], len(schema.Columns))
			return nil
		}),
	}

	cmd.Flags().StringArrayVar(&columns, "column", nil, "Column as name:type[:pk][:auto][:notnull][:unique] (repeatable)")
	return cmd
}

func newDBTablesCmd(rt *runtime, withDB dbWrapper) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List tables",
		Args:  cobra.NoArgs,
		RunE: withDB(func(cmd *cobra.Command, db *tablestore.Store, _ []string) error {
			names, err := db.Tables(cmd.Context())
			if err != nil {
				return err
			}
			if rt.format == "json" {
				return outputJSON(cmd, names)
			}
			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tables found")
				return nil
			}

			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Table", "Rows", "Columns"})
			for _, name := range names {
				info, err := db.GetTableInfo(cmd.Context(), name)
				if err != nil {
					return err
				}
				t.AppendRow(table.Row{name, info.LocalCount, len(info.Schema.Columns)})
			}
			t.Render()
			return nil
		}),
	}
}

func newDBDescribeCmd(rt *runtime, withDB dbWrapper) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <table>",
		Short: "Show a table's schema and row counts",
		Args:  cobra.ExactArgs(1),
		RunE: withDB(func(cmd *cobra.Command, db *tablestore.Store, args []string) error {
			info, err := db.GetTableInfo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if rt.format == "json" {
				return outputJSON(cmd, info)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Table:          %s\n", info.Name)
			fmt.Fprintf(cmd.OutOrStdout(), "Local rows:     %d\n", info.LocalCount)
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded rows:  %d\n", info.MetadataCount)
			fmt.Fprintf(cmd.OutOrStdout(), "Created At:     %s\n", formatTime(info.Schema.CreatedAt))

			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Column", "Type", "Storage", "PK", "Auto", "Not Null", "Unique", "Default"})
			for _, col := range info.Schema.Columns {
				def := ""
				if col.DefaultValue != nil {
					def = fmt.Sprint(col.DefaultValue)
				}
				t.AppendRow(table.Row{col.Name, col.Type, tablestore.SQLType(col.Type), col.PrimaryKey, col.AutoIncrement, col.NotNull, col.Unique, def})
			}
			t.Render()
			return nil
		}),
	}
}

func newDBStatsCmd(rt *runtime, withDB dbWrapper) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		Args:  cobra.NoArgs,
		RunE: withDB(func(cmd *cobra.Command, db *tablestore.Store, _ []string) error {
			stats, err := db.GetStats(cmd.Context())
			if err != nil {
				return err
			}
			if rt.format == "json" {
				return outputJSON(cmd, stats)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database:      %s\n", stats.Database)
			fmt.Fprintf(cmd.OutOrStdout(), "Tables:        %d\n", stats.Tables)
			fmt.Fprintf(cmd.OutOrStdout(), "Total records: %d\n", stats.TotalRecords)
			fmt.Fprintf(cmd.OutOrStdout(), "Remote blobs:  %d\n", stats.RemoteBlobs)
			fmt.Fprintf(cmd.OutOrStdout(), "Cache size:    %s\n", formatSize(stats.CacheSize))
			return nil
		}),
	}
}

func newDBBackupCmd(rt *runtime, withDB dbWrapper) *cobra.Command {
	return &cobra.Command{
		Use:   "backup [name]",
		Short: "Store a full snapshot of every table",
		Args:  cobra.MaximumNArgs(1),
		RunE: withDB(func(cmd *cobra.Command, db *tablestore.Store, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			blobID, err := db.Backup(cmd.Context(), name)
			if err != nil {
				return err
			}
			if rt.format == "json" {
				return outputJSON(cmd, map[string]string{"blobId": blobID})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup stored as blob %s\n", blobID)
			return nil
		}),
	}
}

func newDBLogCmd(rt *runtime, withDB dbWrapper) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the operation log, newest first",
		Args:  cobra.NoArgs,
		RunE: withDB(func(cmd *cobra.Command, db *tablestore.Store, _ []string) error {
			entries, err := db.SyncLog(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if rt.format == "json" {
				return outputJSON(cmd, entries)
			}

			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"ID", "Operation", "Table", "Description", "Blob ID", "Time"})
			for _, e := range entries {
				t.AppendRow(table.Row{strconv.FormatInt(e.ID, 10), e.Operation, e.TableName, e.Description, e.BlobID, formatTime(e.Timestamp)})
			}
			t.Render()
			return nil
		}),
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries")
	return cmd
}
