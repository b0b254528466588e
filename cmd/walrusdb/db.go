package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/vault-md/walrusdb/internal/application"
	"github.com/vault-md/walrusdb/internal/tablestore"
)

// dbFunc is the body of a db subcommand.
type dbFunc func(cmd *cobra.Command, db *tablestore.Store, args []string) error

func newDBCmd(rt *runtime) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "db",
		Short: "Work with schema-defined tables synced to the remote store",
	}
	cmd.PersistentFlags().StringVar(&name, "name", "", "Database name (required)")

	withDB := func(fn dbFunc) func(*cobra.Command, []string) error {
		return rt.run(func(cmd *cobra.Command, app *application.App, args []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			db, err := app.OpenDatabase(cmd.Context(), name)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			return fn(cmd, db, args)
		})
	}

	cmd.AddCommand(newDBCreateTableCmd(rt, withDB))
	cmd.AddCommand(newDBInsertCmd(rt, withDB))
	cmd.AddCommand(newDBSelectCmd(rt, withDB))
	cmd.AddCommand(newDBUpdateCmd(rt, withDB))
	cmd.AddCommand(newDBDeleteCmd(rt, withDB))
	cmd.AddCommand(newDBTablesCmd(rt, withDB))
	cmd.AddCommand(newDBDescribeCmd(rt, withDB))
	cmd.AddCommand(newDBStatsCmd(rt, withDB))
	cmd.AddCommand(newDBBackupCmd(rt, withDB))
	cmd.AddCommand(newDBSQLCmd(rt, withDB))
	cmd.AddCommand(newDBLogCmd(rt, withDB))
	cmd.AddCommand(newDBImportCSVCmd(rt, withDB))
	cmd.AddCommand(newDBExportCSVCmd(rt, withDB))

	return cmd
}

// readPayload returns the JSON text from the argument, --file, or stdin.
func readPayload(cmd *cobra.Command, args []string, idx int, filePath string) ([]byte, error) {
	if len(args) > idx {
		return []byte(args[idx]), nil
	}
	if filePath != "" {
		//nolint:gosec // G304: path is supplied by the operator
		return os.ReadFile(filePath)
	}
	return readStdin(cmd)
}

// parseRows accepts a JSON object or an array of objects.
func parseRows(data []byte) ([]tablestore.Row, error) {
	trimmed := bytes.TrimSpace(data)
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	if len(trimmed) > 0 && trimmed[0] == '{' {
		var row tablestore.Row
		if err := dec.Decode(&row); err != nil {
			return nil, fmt.Errorf("invalid row JSON: %w", err)
		}
		return []tablestore.Row{row}, nil
	}

	var rows []tablestore.Row
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("invalid rows JSON: %w", err)
	}
	return rows, nil
}

// parseColumn reads name:type[:pk][:auto][:notnull][:unique].
func parseColumn(spec string) (tablestore.ColumnDef, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || parts[0] == "" {
		return tablestore.ColumnDef{}, fmt.Errorf("invalid column %q (expected name:type[:pk][:auto][:notnull][:unique])", spec)
	}
	col := tablestore.ColumnDef{Name: parts[0], Type: parts[1]}
	for _, flag := range parts[2:] {
		switch strings.ToLower(flag) {
		case "pk", "primary":
			col.PrimaryKey = true
		case "auto", "autoincrement":
			col.AutoIncrement = true
		case "notnull", "required":
			col.NotNull = true
		case "unique":
			col.Unique = true
		default:
			return tablestore.ColumnDef{}, fmt.Errorf("unknown column flag %q in %q", flag, spec)
		}
	}
	return col, nil
}

// rowColumns orders columns by schema when known, otherwise alphabetically.
func rowColumns(rows []tablestore.Row, schema *tablestore.TableMeta) []string {
	if len(rows) == 0 {
		return nil
	}
	var columns []string
	seen := map[string]bool{}
	if schema != nil {
		for _, col := range schema.Columns {
			if _, ok := rows[0][col.Name]; ok {
				columns = append(columns, col.Name)
				seen[col.Name] = true
			}
		}
	}
	var extra []string
	for key := range rows[0] {
		if !seen[key] {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	return append(columns, extra...)
}

func outputRows(cmd *cobra.Command, format string, rows []tablestore.Row, columns []string) error {
	if format == "json" {
		if rows == nil {
			rows = []tablestore.Row{}
		}
		return outputJSON(cmd, rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No rows found")
		return nil
	}

	t := newTable(cmd.OutOrStdout())
	header := make(table.Row, len(columns))
	for i, col := range columns {
		header[i] = col
	}
	t.AppendHeader(header)
	for _, row := range rows {
		r := make(table.Row, len(columns))
		for i, col := range columns {
			if row[col] == nil {
				r[i] = "NULL"
				continue
			}
			r[i] = row[col]
		}
		t.AppendRow(r)
	}
	t.Render()
	fmt.Fprintf(cmd.ErrOrStderr(), "%d row(s)\n", len(rows))
	return nil
}
