// Package migrations contains embedded SQL migration files for database schema management.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed index/*.sql ledger/*.sql
var files embed.FS

// Set names one of the embedded migration directories.
type Set string

const (
	// Index holds the blob metadata index and the document version ledger.
	Index Set = "index"
	// Ledger holds the per-database schema, chunk and sync-log tables.
	Ledger Set = "ledger"
)

// Files returns the migration files for the given set, rooted at the set directory.
func Files(set Set) (fs.FS, error) {
	return fs.Sub(files, string(set))
}
