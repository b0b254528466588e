// Package database provides connection management and persistence for the
// blob metadata index, the document version ledger and per-database ledgers.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/vault-md/walrusdb/db/migrations"
	sqldb "github.com/vault-md/walrusdb/internal/database/sqlc"

	// Import SQLite driver for database/sql
	_ "modernc.org/sqlite"
)

// Context holds the database connection and query interface.
type Context struct {
	DB      *sql.DB
	Queries *sqldb.Queries
	Set     migrations.Set
}

var memorySeq atomic.Int64

// CreateDatabase opens the SQLite file at dbPath and applies the given
// migration set. ":memory:" opens a private in-memory database.
func CreateDatabase(dbPath string, set migrations.Set) (*Context, error) {
	if dbPath == "" {
		return nil, errors.New("database path is required")
	}

	useMemory := dbPath == ":memory:"

	var dsn string
	if useMemory {
		// Each in-memory database gets its own name so the index and a
		// ledger opened in the same process never share storage.
		dsn = fmt.Sprintf("file:walrusdb-mem-%d?mode=memory&cache=shared&_pragma=foreign_keys(ON)&_time_format=sqlite", memorySeq.Add(1))
	} else {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		absPath, err := filepath.Abs(dbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_time_format=sqlite", filepath.ToSlash(absPath))
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if useMemory {
		// The database disappears when its last connection closes.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db, set); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Context{
		DB:      db,
		Queries: sqldb.New(db),
		Set:     set,
	}, nil
}

// CloseDatabase closes the database connection.
func CloseDatabase(ctx *Context) error {
	if ctx == nil || ctx.DB == nil {
		return nil
	}
	return ctx.DB.Close()
}

// ClearDatabase removes all rows from the tables of the context's migration set.
func ClearDatabase(ctx *Context) error {
	if ctx == nil || ctx.DB == nil {
		return nil
	}

	tx, err := ctx.DB.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	queries := ctx.Queries
	if queries == nil {
		queries = sqldb.New(ctx.DB)
	}
	queries = queries.WithTx(tx)

	type step struct {
		table string
		run   func(context.Context) error
	}

	var steps []step
	switch ctx.Set {
	case migrations.Index:
		steps = []step{
			{"blob_versions", queries.DeleteAllBlobVersions},
			{"blobs", queries.DeleteAllBlobs},
		}
	case migrations.Ledger:
		steps = []step{
			{"data_chunks", queries.DeleteAllDataChunks},
			{"table_schemas", queries.DeleteAllTableSchemas},
			{"sync_log", queries.DeleteAllSyncLog},
			{"database_info", queries.DeleteAllDatabaseInfo},
		}
	}

	bg := context.Background()
	for _, s := range steps {
		if err := s.run(bg); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("failed to delete %s: %w (rollback error: %w)", s.table, err, rbErr)
			}
			return fmt.Errorf("failed to delete %s: %w", s.table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clear transaction: %w", err)
	}

	return nil
}

func runMigrations(db *sql.DB, set migrations.Set) error {
	files, err := migrations.Files(set)
	if err != nil {
		return fmt.Errorf("failed to locate %s migrations: %w", set, err)
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to initialise migrate driver: %w", err)
	}

	sourceDriver, err := iofs.New(files, ".")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	defer func() {
		_ = sourceDriver.Close()
	}()

	migrator, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply %s migrations: %w", set, err)
	}

	return nil
}
