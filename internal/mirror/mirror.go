// Package mirror is the local relational engine behind a table store: a
// single-connection SQLite database holding the replayed row state.
package mirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Drivers accepted by Open.
const (
	DriverModernc = "sqlite"
	DriverCgo     = "sqlite3"
)

var (
	// ErrInvalidIdentifier is returned for table or column names that cannot
	// be used as SQL identifiers.
	ErrInvalidIdentifier = errors.New("invalid identifier")
	// ErrNoColumns is returned when a table definition has no columns.
	ErrNoColumns = errors.New("table has no columns")
	// ErrUnknownColumn is returned when a row carries a key the table lacks.
	ErrUnknownColumn = errors.New("unknown column")
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Row is one result row keyed by column name. TEXT and BLOB values are
// returned as strings.
type Row map[string]any

// Column is a physical column definition.
type Column struct {
	Name          string
	Type          string
	PrimaryKey    bool
	AutoIncrement bool
	NotNull       bool
	Unique        bool
	// Default is emitted verbatim as the DEFAULT expression.
	Default string
}

// Mirror wraps the local database. All access goes through one connection.
type Mirror struct {
	db   *sql.DB
	path string
}

// Open creates or opens the mirror at path. path may be ":memory:".
func Open(path, driver string) (*Mirror, error) {
	if driver == "" {
		driver = DriverModernc
	}
	if driver != DriverModernc && driver != DriverCgo {
		return nil, fmt.Errorf("mirror: unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mirror: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to mirror: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db, path != ":memory:"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	return &Mirror{db: db, path: path}, nil
}

func applyPragmas(db *sql.DB, file bool) error {
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	if file {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (m *Mirror) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	return m.db.Close()
}

// Path returns the location the mirror was opened at.
func (m *Mirror) Path() string {
	return m.path
}

// ValidateIdentifier rejects names outside [A-Za-z_][A-Za-z0-9_]*.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

// QuoteIdentifier validates and double-quotes name.
func QuoteIdentifier(name string) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", err
	}
	return `"` + name + `"`, nil
}

// Exec runs a statement and returns the number of affected rows.
func (m *Mirror) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := m.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CreateTable creates table if it does not exist.
func (m *Mirror) CreateTable(ctx context.Context, table string, columns []Column) error {
	if len(columns) == 0 {
		return fmt.Errorf("%w: %s", ErrNoColumns, table)
	}
	quoted, err := QuoteIdentifier(table)
	if err != nil {
		return err
	}

	defs := make([]string, 0, len(columns))
	for _, col := range columns {
		name, err := QuoteIdentifier(col.Name)
		if err != nil {
			return err
		}
		def := name + " " + col.Type
		if col.PrimaryKey {
			def += " PRIMARY KEY"
		}
		if col.AutoIncrement {
			def += " AUTOINCREMENT"
		}
		if col.NotNull {
			def += " NOT NULL"
		}
		if col.Unique {
			def += " UNIQUE"
		}
		if col.Default != "" {
			def += " DEFAULT " + col.Default
		}
		defs = append(defs, def)
	}

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoted, strings.Join(defs, ", "))
	if _, err := m.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("mirror: create table %s: %w", table, err)
	}
	return nil
}

// DropTable removes table if it exists.
func (m *Mirror) DropTable(ctx context.Context, table string) error {
	quoted, err := QuoteIdentifier(table)
	if err != nil {
		return err
	}
	if _, err := m.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoted); err != nil {
		return fmt.Errorf("mirror: drop table %s: %w", table, err)
	}
	return nil
}

// InsertOrReplace writes rows in one transaction. Each row binds only its
// own keys, so absent columns take their DEFAULT. A key that is not a column
// of table fails the whole batch with ErrUnknownColumn.
func (m *Mirror) InsertOrReplace(ctx context.Context, table string, rows []Row) (written int64, err error) {
	if len(rows) == 0 {
		return 0, nil
	}
	quoted, err := QuoteIdentifier(table)
	if err != nil {
		return 0, err
	}

	known, err := m.columnSet(ctx, quoted)
	if err != nil {
		return 0, fmt.Errorf("mirror: columns of %s: %w", table, err)
	}
	if len(known) == 0 {
		return 0, fmt.Errorf("mirror: no such table: %s", table)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mirror: begin transaction: %w", err)
	}
	statements := map[string]*sql.Stmt{}
	defer func() {
		for _, stmt := range statements {
			_ = stmt.Close()
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, row := range rows {
		columns := make([]string, 0, len(row))
		for col := range row {
			if !known[col] {
				return 0, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, col)
			}
			if err = ValidateIdentifier(col); err != nil {
				return 0, err
			}
			columns = append(columns, col)
		}
		sort.Strings(columns)

		signature := strings.Join(columns, ",")
		prepared, ok := statements[signature]
		if !ok {
			if prepared, err = tx.PrepareContext(ctx, insertStatement(quoted, columns)); err != nil {
				return 0, fmt.Errorf("mirror: prepare insert into %s: %w", table, err)
			}
			statements[signature] = prepared
		}

		args := make([]any, len(columns))
		for i, col := range columns {
			if args[i], err = bindValue(row[col]); err != nil {
				return 0, err
			}
		}
		if _, err = prepared.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("mirror: insert into %s: %w", table, err)
		}
		written++
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("mirror: commit insert into %s: %w", table, err)
	}
	return written, nil
}

// insertStatement expects validated column names.
func insertStatement(quotedTable string, columns []string) string {
	if len(columns) == 0 {
		return "INSERT OR REPLACE INTO " + quotedTable + " DEFAULT VALUES"
	}
	quotedCols := make([]string, len(columns))
	for i, col := range columns {
		quotedCols[i] = `"` + col + `"`
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	return fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)", quotedTable, strings.Join(quotedCols, ", "), placeholders)
}

// columnSet reads the physical column names of a table. It must run outside
// a transaction because the pool holds a single connection.
func (m *Mirror) columnSet(ctx context.Context, quotedTable string) (map[string]bool, error) {
	info, err := m.Query(ctx, "PRAGMA table_info("+quotedTable+")")
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(info))
	for _, col := range info {
		if name, ok := col["name"].(string); ok {
			known[name] = true
		}
	}
	return known, nil
}

// Query runs a statement and collects every row.
func (m *Mirror) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := []Row{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// Count returns the number of rows in table.
func (m *Mirror) Count(ctx context.Context, table string) (int64, error) {
	quoted, err := QuoteIdentifier(table)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoted).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// bindValue converts decoded JSON values into driver arguments. Numbers that
// are whole become int64; objects and arrays are stored as JSON text.
func bindValue(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, int64, bool, []byte:
		return val, nil
	case int:
		return int64(val), nil
	case float64:
		if val == float64(int64(val)) {
			return int64(val), nil
		}
		return val, nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		return val.Float64()
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		return val, nil
	}
}
