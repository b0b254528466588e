package tablestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vault-md/walrusdb/internal/blobstore"
	"github.com/vault-md/walrusdb/internal/database"
	"github.com/vault-md/walrusdb/internal/services"
)

// TableInfo combines the mirror row count with the informational ledger
// counter, which drifts under updates and deletes.
type TableInfo struct {
	Name          string     `json:"name"`
	Schema        *TableMeta `json:"schema"`
	LocalCount    int64      `json:"local_count"`
	MetadataCount int64      `json:"metadata_count"`
}

type Stats struct {
	Database     string `json:"database"`
	Tables       int    `json:"tables"`
	TotalRecords int64  `json:"total_records"`
	RemoteBlobs  int    `json:"remote_blobs"`
	CacheSize    int64  `json:"cache_size"`
}

// RawResult holds rows for queries and an affected count for statements.
type RawResult struct {
	Rows         []Row `json:"rows,omitempty"`
	RowsAffected int64 `json:"rows_affected"`
}

// Tables returns the table names in sorted order.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.tableNames(), nil
}

// TableSchema returns the metadata entry of table.
func (s *Store) TableSchema(ctx context.Context, table string) (*TableMeta, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	meta, err := s.table(table)
	if err != nil {
		return nil, err
	}
	return meta.clone(), nil
}

func (s *Store) GetTableInfo(ctx context.Context, table string) (*TableInfo, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.tableInfoLocked(ctx, table)
}

func (s *Store) tableInfoLocked(ctx context.Context, table string) (*TableInfo, error) {
	meta, err := s.table(table)
	if err != nil {
		return nil, err
	}

	info := &TableInfo{Name: table, Schema: meta.clone(), MetadataCount: meta.RecordCount}
	count, err := s.mirror.Count(ctx, table)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to count rows", "table", table, "err", err)
		return info, nil
	}
	info.LocalCount = count
	return info, nil
}

// GetStats summarises the database.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	names := s.tableNames()
	stats := &Stats{Database: s.name, Tables: len(names)}
	for _, name := range names {
		info, err := s.tableInfoLocked(ctx, name)
		if err != nil {
			continue
		}
		stats.TotalRecords += info.LocalCount
	}

	blobs, err := s.blobs.Index().List(ctx, services.ListOptions{Search: s.name, Limit: 1000})
	if err == nil {
		stats.RemoteBlobs = len(blobs)
	}

	for _, path := range []string{s.opts.LedgerPath, s.opts.MirrorPath} {
		if fi, err := os.Stat(path); err == nil {
			stats.CacheSize += fi.Size()
		}
	}
	return stats, nil
}

// Backup stores a point-in-time snapshot of every table and returns its blob
// id. An empty name defaults to <db>-backup-<uuid>.
func (s *Store) Backup(ctx context.Context, name string) (string, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer unlock()

	ctx, span := s.startSpan(ctx, "tablestore.backup", "")
	defer span.End()

	if name == "" {
		name = fmt.Sprintf("%s-backup-%s", s.name, uuid.NewString())
	}

	type tableBackup struct {
		Schema *TableMeta `json:"schema"`
		Data   []Row      `json:"data"`
	}
	tables := make(map[string]tableBackup, len(s.metadata.Tables))
	for _, table := range s.tableNames() {
		rows, err := s.selectLocked(ctx, table, SelectOptions{})
		if err != nil {
			return "", fmt.Errorf("backup %s: %w", table, err)
		}
		tables[table] = tableBackup{Schema: s.metadata.Tables[table], Data: rows}
	}

	body, err := json.Marshal(map[string]any{
		"database_name": s.name,
		"metadata":      s.metadata,
		"tables":        tables,
		"created_at":    time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("encode backup: %w", err)
	}

	res, err := s.blobs.Store(ctx, body, blobstore.StoreOptions{
		Name:        name,
		Description: "Full backup of database " + s.name,
		ContentType: "application/json",
		Tags:        []string{"backup", "database", s.name},
	})
	if err != nil {
		return "", err
	}

	s.logOperation(ctx, "BACKUP", "", "Created backup "+name, res.BlobID)
	s.logger.InfoContext(ctx, "created backup", "name", name, "blob_id", res.BlobID)
	return res.BlobID, nil
}

// Raw runs query against the mirror. Statements starting with SELECT, WITH
// or PRAGMA return rows; anything else returns the affected count.
func (s *Store) Raw(ctx context.Context, query string, args ...any) (*RawResult, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s.logger.DebugContext(ctx, "raw sql", "query", query)
	if returnsRows(query) {
		rows, err := s.mirror.Query(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		return &RawResult{Rows: rows}, nil
	}

	n, err := s.mirror.Exec(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &RawResult{RowsAffected: n}, nil
}

func returnsRows(query string) bool {
	head := strings.ToUpper(strings.TrimSpace(query))
	for _, prefix := range []string{"SELECT", "WITH", "PRAGMA"} {
		if strings.HasPrefix(head, prefix) {
			return true
		}
	}
	return false
}

// SyncLog returns the newest operation log entries. limit defaults to 50.
func (s *Store) SyncLog(ctx context.Context, limit int) ([]database.SyncLogRecord, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	records, err := s.syncLog.Recent(ctx, limit)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to read operation log", "err", err)
		return []database.SyncLogRecord{}, nil
	}
	return records, nil
}
