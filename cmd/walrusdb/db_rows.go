package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/vault-md/walrusdb/internal/tablestore"
)

func newDBInsertCmd(rt *runtime, withDB dbWrapper) *cobra.Command {
	var (
		filePath  string
		noSync    bool
		chunkSize int
	)

	cmd := &cobra.Command{
		Use:   "insert <table> [json]",
		Short: "Insert a JSON object or array of objects",
		Example: `  walrusdb db --name app insert users '{"email":"a@example.com"}'
  walrusdb db --name app insert users --file users.json`,
		Args: cobra.RangeArgs(1, 2),
		RunE: withDB(func(cmd *cobra.Command, db *tablestore.Store, args []string) error {
			data, err := readPayload(cmd, args, 1, filePath)
			if err != nil {
				return err
			}
			rows, err := parseRows(data)
			if err != nil {
				return err
			}

			n, err := db.Insert(cmd.Context(), args[0], rows, tablestore.InsertOptions{SkipSync: noSync, ChunkSize: chunkSize})
			if err != nil {
				return err
			}
			if rt.format == "json" {
				return outputJSON(cmd, map[string]any{"table": args[0], "inserted": n, "synced": !noSync})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Inserted %d row(s) into %s\n", n, args[0])
			return nil
		}),
	}

	cmd.Flags().StringVar(&filePath, "file", "", "Read rows from a JSON file")
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "Write to the local mirror only")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Rows per remote chunk (default 1000)")
	return cmd
}

func newDBSelectCmd(rt *runtime, withDB dbWrapper) *cobra.Command {
	var opts tablestore.SelectOptions

	cmd := &cobra.Command{
		Use:   "select <table>",
		Short: "Query rows from the local mirror",
		Example: `  walrusdb db --name app select users --where "age > 30" --order "name ASC" --limit 10`,
		Args: cobra.ExactArgs(1),
		RunE: withDB(func(cmd *cobra.Command, db *tablestore.Store, args []string) error {
			rows, err := db.Select(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			schema, err := db.TableSchema(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return outputRows(cmd, rt.format, rows, rowColumns(rows, schema))
		}),
	}

	cmd.Flags().StringVar(&opts.Columns, "columns", "*", "Column list")
	cmd.Flags().StringVar(&opts.Where, "where", "", "WHERE clause")
	cmd.Flags().StringVar(&opts.OrderBy, "order", "", "ORDER BY clause")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum rows")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Rows to skip")
	return cmd
}

func newDBUpdateCmd(rt *runtime, withDB dbWrapper) *cobra.Command {
	var (
		where  string
		noSync bool
	)

	cmd := &cobra.Command{
		Use:   "update <table> <patch-json>",
		Short: "Apply a JSON patch to matching rows",
		Example: `  walrusdb db --name app update users '{"age":31}' --where "id = 1"`,
		Args: cobra.ExactArgs(2),
		RunE: withDB(func(cmd *cobra.Command, db *tablestore.Store, args []string) error {
			rows, err := parseRows([]byte(args[1]))
			if err != nil {
				return err
			}
			if len(rows) != 1 {
				return errors.New("patch must be a single JSON object")
			}

			n, err := db.Update(cmd.Context(), args[0], rows[0], where, tablestore.SyncOptions{SkipSync: noSync})
			if err != nil {
				return err
			}
			if rt.format == "json" {
				return outputJSON(cmd, map[string]any{"table": args[0], "updated": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %d row(s) in %s\n", n, args[0])
			return nil
		}),
	}

	cmd.Flags().StringVar(&where, "where", "", "WHERE clause (all rows when empty)")
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "Write to the local mirror only")
	return cmd
}

func newDBDeleteCmd(rt *runtime, withDB dbWrapper) *cobra.Command {
	var (
		where  string
		noSync bool
	)

	cmd := &cobra.Command{
		Use:   "delete <table>",
		Short: "Delete matching rows and record a deletion log",
		Args:  cobra.ExactArgs(1),
		RunE: withDB(func(cmd *cobra.Command, db *tablestore.Store, args []string) error {
			if where == "" {
				return errors.New("--where is required")
			}
			n, err := db.Delete(cmd.Context(), args[0], where, tablestore.SyncOptions{SkipSync: noSync})
			if err != nil {
				return err
			}
			if rt.format == "json" {
				return outputJSON(cmd, map[string]any{"table": args[0], "deleted": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d row(s) from %s\n", n, args[0])
			return nil
		}),
	}

	cmd.Flags().StringVar(&where, "where", "", "WHERE clause")
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "Write to the local mirror only")
	return cmd
}

func newDBSQLCmd(rt *runtime, withDB dbWrapper) *cobra.Command {
	return &cobra.Command{
		Use:   "sql <query> [args...]",
		Short: "Run raw SQL against the local mirror (never synced)",
		Args:  cobra.MinimumNArgs(1),
		RunE: withDB(func(cmd *cobra.Command, db *tablestore.Store, args []string) error {
			params := make([]any, 0, len(args)-1)
			for _, a := range args[1:] {
				params = append(params, a)
			}

			result, err := db.Raw(cmd.Context(), args[0], params...)
			if err != nil {
				return err
			}
			if result.Rows != nil {
				return outputRows(cmd, rt.format, result.Rows, rowColumns(result.Rows, nil))
			}
			if rt.format == "json" {
				return outputJSON(cmd, result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d row(s) affected\n", result.RowsAffected)
			return nil
		}),
	}
}

func newDBImportCSVCmd(rt *runtime, withDB dbWrapper) *cobra.Command {
	var (
		noSync    bool
		chunkSize int
	)

	cmd := &cobra.Command{
		Use:   "import-csv <file> <table>",
		Short: "Insert rows from a CSV file with a header line",
		Args:  cobra.ExactArgs(2),
		RunE: withDB(func(cmd *cobra.Command, db *tablestore.Store, args []string) error {
			//nolint:gosec // G304: path is supplied by the operator
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			rows, err := readCSV(f)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			if len(rows) == 0 {
				return fmt.Errorf("%s has no data rows", args[0])
			}

			n, err := db.Insert(cmd.Context(), args[1], rows, tablestore.InsertOptions{SkipSync: noSync, ChunkSize: chunkSize})
			if err != nil {
				return err
			}
			if rt.format == "json" {
				return outputJSON(cmd, map[string]any{"table": args[1], "inserted": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d row(s) into %s\n", n, args[1])
			return nil
		}),
	}

	cmd.Flags().BoolVar(&noSync, "no-sync", false, "Write to the local mirror only")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Rows per remote chunk (default 1000)")
	return cmd
}

func newDBExportCSVCmd(rt *runtime, withDB dbWrapper) *cobra.Command {
	var where string

	cmd := &cobra.Command{
		Use:   "export-csv <table> <file>",
		Short: "Write table rows to a CSV file",
		Args:  cobra.ExactArgs(2),
		RunE: withDB(func(cmd *cobra.Command, db *tablestore.Store, args []string) error {
			rows, err := db.Select(cmd.Context(), args[0], tablestore.SelectOptions{Where: where})
			if err != nil {
				return err
			}
			schema, err := db.TableSchema(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			columns := make([]string, 0, len(schema.Columns))
			for _, col := range schema.Columns {
				columns = append(columns, col.Name)
			}

			//nolint:gosec // G304: path is supplied by the operator
			f, err := os.Create(args[1])
			if err != nil {
				return err
			}
			if err := writeCSV(f, columns, rows); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}

			if rt.format == "json" {
				return outputJSON(cmd, map[string]any{"table": args[0], "file": args[1], "exported": len(rows)})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d row(s) to %s\n", len(rows), args[1])
			return nil
		}),
	}

	cmd.Flags().StringVar(&where, "where", "", "WHERE clause")
	return cmd
}

// readCSV maps each record onto the header. Empty cells become NULL.
func readCSV(r io.Reader) ([]tablestore.Row, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}

	var rows []tablestore.Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		row := make(tablestore.Row, len(header))
		for i, name := range header {
			if record[i] == "" {
				row[name] = nil
				continue
			}
			row[name] = record[i]
		}
		rows = append(rows, row)
	}
}

func writeCSV(w io.Writer, columns []string, rows []tablestore.Row) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(columns); err != nil {
		return err
	}
	record := make([]string, len(columns))
	for _, row := range rows {
		for i, col := range columns {
			if row[col] == nil {
				record[i] = ""
				continue
			}
			record[i] = fmt.Sprint(row[col])
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
