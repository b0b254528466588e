// Package tablestore implements schema-defined tables whose rows are
// persisted remotely as immutable chunks and mirrored into a local SQLite
// database for queries.
package tablestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/maruel/ksid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vault-md/walrusdb/db/migrations"
	"github.com/vault-md/walrusdb/internal/blobstore"
	"github.com/vault-md/walrusdb/internal/database"
	"github.com/vault-md/walrusdb/internal/logging"
	"github.com/vault-md/walrusdb/internal/mirror"
	"github.com/vault-md/walrusdb/internal/services"
	"github.com/vault-md/walrusdb/internal/tracing"
)

const (
	defaultChunkSize = 1000
	metadataInfoKey  = "metadata"
)

var (
	// ErrNotReady wraps the terminal error of a failed initialization.
	ErrNotReady = errors.New("database not ready")
	// ErrClosed is returned by operations on a closed Store.
	ErrClosed = errors.New("database closed")
	// ErrUnknownTable is returned for tables not created in this database.
	ErrUnknownTable = errors.New("unknown table")
	// ErrInvalidSchema is returned for malformed table definitions.
	ErrInvalidSchema = errors.New("invalid schema")
)

// Options locate the local files backing a Store.
type Options struct {
	// LedgerPath holds schemas, the chunk ledger and the operation log.
	LedgerPath string
	// MirrorPath holds the queryable row state.
	MirrorPath string
	// Driver selects the mirror SQLite driver.
	Driver string
	Logger *slog.Logger
}

// Store is one named database. Open returns before loading completes;
// every operation waits for it and operations are serialized.
type Store struct {
	name   string
	blobs  *blobstore.Store
	opts   Options
	logger *slog.Logger

	ready   chan struct{}
	initErr error

	mu       sync.Mutex
	closed   bool
	ledger   *database.Context
	schemas  *database.SchemaRepository
	chunks   *database.ChunkRepository
	syncLog  *database.SyncLogRepository
	info     *database.DatabaseInfoRepository
	mirror   *mirror.Mirror
	metadata Metadata
}

// Open starts loading the database called name in the background.
func Open(ctx context.Context, name string, blobs *blobstore.Store, opts Options) *Store {
	s := &Store{
		name:     name,
		blobs:    blobs,
		opts:     opts,
		logger:   logging.OrDefault(opts.Logger).With("database", name),
		ready:    make(chan struct{}),
		metadata: newMetadata(name),
	}

	go func() {
		defer close(s.ready)
		if err := s.init(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error("failed to initialize database", "err", err)
			s.initErr = fmt.Errorf("%w: %w", ErrNotReady, err)
			s.release()
		}
	}()
	return s
}

// Name returns the database name.
func (s *Store) Name() string {
	return s.name
}

// WaitReady blocks until loading has finished and returns its terminal error.
func (s *Store) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return s.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close waits for loading and releases the local databases.
func (s *Store) Close() error {
	<-s.ready

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.release()
}

func (s *Store) release() error {
	var errs []error
	if s.mirror != nil {
		errs = append(errs, s.mirror.Close())
		s.mirror = nil
	}
	if s.ledger != nil {
		errs = append(errs, database.CloseDatabase(s.ledger))
		s.ledger = nil
	}
	return errors.Join(errs...)
}

// acquire waits for readiness and takes the operation lock.
func (s *Store) acquire(ctx context.Context) (func(), error) {
	if err := s.WaitReady(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	return s.mu.Unlock, nil
}

func (s *Store) init(ctx context.Context) error {
	ctx, span := tracing.Start(ctx, "tablestore.init")
	defer span.End()
	span.SetAttributes(attribute.String(tracing.AttrKeyDatabase, s.name))

	if s.name == "" {
		return errors.New("database name is required")
	}
	if s.blobs == nil {
		return errors.New("blob store is required")
	}

	ledger, err := database.CreateDatabase(s.opts.LedgerPath, migrations.Ledger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	s.ledger = ledger
	s.schemas = database.NewSchemaRepository(ledger)
	s.chunks = database.NewChunkRepository(ledger)
	s.syncLog = database.NewSyncLogRepository(ledger)
	s.info = database.NewDatabaseInfoRepository(ledger)

	m, err := mirror.Open(s.opts.MirrorPath, s.opts.Driver)
	if err != nil {
		return fmt.Errorf("open mirror: %w", err)
	}
	s.mirror = m

	if err := s.bootstrap(ctx); err != nil {
		tracing.SetSpanError(ctx, "bootstrap", err)
		return err
	}
	s.logger.InfoContext(ctx, "database initialized", "tables", len(s.metadata.Tables))
	return nil
}

// bootstrap loads the metadata blob when one exists, then rebuilds every
// mirror table from the ledger.
func (s *Store) bootstrap(ctx context.Context) error {
	blobID, err := s.findMetadataBlob(ctx)
	if err != nil {
		return err
	}

	if blobID == "" {
		s.logger.InfoContext(ctx, "creating new database")
		if err := s.adoptLedgerSchemas(ctx); err != nil {
			return err
		}
		if _, err := s.saveMetadata(ctx); err != nil {
			return err
		}
		return s.loadAllTables(ctx)
	}

	res, err := s.blobs.Retrieve(ctx, blobID, blobstore.RetrieveOptions{})
	if err != nil {
		return fmt.Errorf("load metadata blob %s: %w", blobID, err)
	}
	var md Metadata
	if err := decodeJSON(res.Content, &md); err != nil {
		return fmt.Errorf("decode metadata blob %s: %w", blobID, err)
	}
	if md.Tables == nil {
		md.Tables = map[string]*TableMeta{}
	}
	md.Name = s.name
	s.metadata = md

	s.logger.InfoContext(ctx, "loading existing database", "metadata_blob", blobID)
	if err := s.adoptLedgerSchemas(ctx); err != nil {
		return err
	}
	return s.loadAllTables(ctx)
}

// findMetadataBlob looks for the newest metadata blob in the index, falling
// back to the id recorded in the ledger.
func (s *Store) findMetadataBlob(ctx context.Context) (string, error) {
	want := s.name + "-metadata"
	recs, err := s.blobs.Index().List(ctx, services.ListOptions{Search: want, Tags: []string{"metadata"}, Limit: 50})
	if err != nil {
		return "", err
	}
	for _, rec := range recs {
		if rec.Name == want {
			return rec.BlobID, nil
		}
	}

	info, err := s.info.Get(ctx, metadataInfoKey)
	if err != nil {
		return "", fmt.Errorf("read ledger metadata: %w", err)
	}
	if info == nil {
		return "", nil
	}
	return info.BlobID, nil
}

// adoptLedgerSchemas reconciles the metadata table list with the schema
// ledger in both directions.
func (s *Store) adoptLedgerSchemas(ctx context.Context) error {
	records, err := s.schemas.List(ctx)
	if err != nil {
		return fmt.Errorf("list schemas: %w", err)
	}

	known := make(map[string]bool, len(records))
	for _, rec := range records {
		known[rec.TableName] = true
		if _, ok := s.metadata.Tables[rec.TableName]; ok {
			continue
		}
		var schema Schema
		if err := decodeJSON([]byte(rec.SchemaJSON), &schema); err != nil {
			return fmt.Errorf("decode schema %s: %w", rec.TableName, err)
		}
		s.metadata.Tables[rec.TableName] = &TableMeta{Columns: schema.Columns, CreatedAt: rec.CreatedAt}
	}

	for name, meta := range s.metadata.Tables {
		if known[name] {
			continue
		}
		body, err := json.Marshal(Schema{Columns: meta.Columns})
		if err != nil {
			return err
		}
		if err := s.schemas.Save(ctx, name, string(body), ""); err != nil {
			return fmt.Errorf("record schema %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) loadAllTables(ctx context.Context) error {
	for _, name := range s.tableNames() {
		if err := s.loadTable(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// loadTable recreates one mirror table and replays its ledger entries in
// creation order: data and update chunks overwrite by primary key, deletion
// logs remove the rows they list.
func (s *Store) loadTable(ctx context.Context, table string) error {
	ctx, span := tracing.Start(ctx, "tablestore.load_table")
	defer span.End()
	span.SetAttributes(attribute.String(tracing.AttrKeyTable, table))

	meta := s.metadata.Tables[table]
	if err := s.mirror.DropTable(ctx, table); err != nil {
		return err
	}
	if err := s.mirror.CreateTable(ctx, table, mirrorColumns(meta.Columns)); err != nil {
		return err
	}

	entries, err := s.chunks.ListByTable(ctx, table)
	if err != nil {
		return fmt.Errorf("list chunks for %s: %w", table, err)
	}
	s.logger.InfoContext(ctx, "replaying table", "table", table, "chunks", len(entries))

	keys := primaryKeys(meta.Columns)
	for _, entry := range entries {
		res, err := s.blobs.Retrieve(ctx, entry.BlobID, blobstore.RetrieveOptions{})
		if err != nil {
			return fmt.Errorf("load chunk %s: %w", entry.ChunkID, err)
		}

		if entry.Kind == database.ChunkKindDelete {
			var log deletionLog
			if err := decodeJSON(res.Content, &log); err != nil {
				return fmt.Errorf("decode deletion log %s: %w", entry.ChunkID, err)
			}
			if err := s.deleteRows(ctx, table, keys, log.DeletedRecords); err != nil {
				return fmt.Errorf("replay deletion log %s: %w", entry.ChunkID, err)
			}
			continue
		}

		var c chunk
		if err := decodeJSON(res.Content, &c); err != nil {
			return fmt.Errorf("decode chunk %s: %w", entry.ChunkID, err)
		}
		if _, err := s.mirror.InsertOrReplace(ctx, table, c.Records); err != nil {
			return fmt.Errorf("replay chunk %s: %w", entry.ChunkID, err)
		}
	}

	count, err := s.chunks.RecordCount(ctx, table)
	if err == nil {
		meta.RecordCount = count
	}
	return nil
}

// deleteRows removes each row by primary key, or by every column when the
// table has no primary key.
func (s *Store) deleteRows(ctx context.Context, table string, keys []string, rows []Row) error {
	quoted, err := mirror.QuoteIdentifier(table)
	if err != nil {
		return err
	}
	for _, row := range rows {
		cols := keys
		if len(cols) == 0 {
			cols = sortedKeys(row)
		}
		if len(cols) == 0 {
			continue
		}
		conds := make([]string, 0, len(cols))
		args := make([]any, 0, len(cols))
		for _, col := range cols {
			qc, err := mirror.QuoteIdentifier(col)
			if err != nil {
				return err
			}
			conds = append(conds, qc+" IS ?")
			args = append(args, bindArg(row[col]))
		}
		stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", quoted, strings.Join(conds, " AND "))
		if _, err := s.mirror.Exec(ctx, stmt, args...); err != nil {
			return err
		}
	}
	return nil
}

// chunk is the payload of a data or update chunk blob.
type chunk struct {
	ChunkID   string    `json:"chunk_id"`
	TableName string    `json:"table_name"`
	Database  string    `json:"database"`
	Records   []Row     `json:"records"`
	CreatedAt time.Time `json:"created_at"`
}

// deletionLog is the payload of a deletion log blob.
type deletionLog struct {
	Operation      string    `json:"operation"`
	TableName      string    `json:"table_name"`
	Database       string    `json:"database"`
	DeletedRecords []Row     `json:"deleted_records"`
	Timestamp      time.Time `json:"timestamp"`
}

func newChunkID(table string) string {
	return table + "-" + ksid.NewID().String()
}

// syncChunk stores records as one chunk blob and appends it to the ledger.
func (s *Store) syncChunk(ctx context.Context, table, kind string, records []Row) (string, error) {
	chunkID := newChunkID(table)
	body, err := json.Marshal(chunk{
		ChunkID:   chunkID,
		TableName: table,
		Database:  s.name,
		Records:   records,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("encode chunk: %w", err)
	}

	res, err := s.blobs.Store(ctx, body, blobstore.StoreOptions{
		Name:        fmt.Sprintf("%s-%s-data-%s", s.name, table, chunkID),
		Description: fmt.Sprintf("Data chunk for %s (%d records)", table, len(records)),
		ContentType: "application/json",
		Tags:        []string{"data", "chunk", s.name, table},
	})
	if err != nil {
		return "", err
	}

	count := int64(len(records))
	startID, endID := idRange(records)
	if _, err := s.chunks.Append(ctx, database.ChunkRecord{
		TableName:   table,
		ChunkID:     chunkID,
		BlobID:      res.BlobID,
		Kind:        kind,
		RecordCount: count,
		StartID:     startID,
		EndID:       endID,
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to record chunk", "table", table, "blob_id", res.BlobID, "err", err)
	}
	return res.BlobID, nil
}

// syncDeletionLog stores the deleted rows and appends a delete entry to the
// ledger so bootstrap can replay it.
func (s *Store) syncDeletionLog(ctx context.Context, table string, deleted []Row) (string, error) {
	body, err := json.Marshal(deletionLog{
		Operation:      "DELETE",
		TableName:      table,
		Database:       s.name,
		DeletedRecords: deleted,
		Timestamp:      time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("encode deletion log: %w", err)
	}

	res, err := s.blobs.Store(ctx, body, blobstore.StoreOptions{
		Name:        fmt.Sprintf("%s-%s-delete-log", s.name, table),
		Description: fmt.Sprintf("Deletion log for %s (%d records)", table, len(deleted)),
		ContentType: "application/json",
		Tags:        []string{"delete-log", s.name, table},
	})
	if err != nil {
		return "", err
	}

	startID, endID := idRange(deleted)
	if _, err := s.chunks.Append(ctx, database.ChunkRecord{
		TableName:   table,
		ChunkID:     newChunkID(table),
		BlobID:      res.BlobID,
		Kind:        database.ChunkKindDelete,
		RecordCount: int64(len(deleted)),
		StartID:     startID,
		EndID:       endID,
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to record deletion log", "table", table, "blob_id", res.BlobID, "err", err)
	}
	return res.BlobID, nil
}

// saveMetadata re-stores the metadata blob and records its id in the ledger.
func (s *Store) saveMetadata(ctx context.Context) (string, error) {
	now := time.Now().UTC()
	s.metadata.LastSync = &now

	body, err := json.Marshal(s.metadata)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}

	res, err := s.blobs.Store(ctx, body, blobstore.StoreOptions{
		Name:        s.name + "-metadata",
		Description: "Metadata for database " + s.name,
		ContentType: "application/json",
		Tags:        []string{"metadata", "database", s.name},
	})
	if err != nil {
		return "", fmt.Errorf("save metadata: %w", err)
	}

	if err := s.info.Put(ctx, metadataInfoKey, string(body), res.BlobID); err != nil {
		s.logger.WarnContext(ctx, "failed to record metadata blob", "blob_id", res.BlobID, "err", err)
	}
	s.logger.DebugContext(ctx, "saved metadata", "blob_id", res.BlobID)
	return res.BlobID, nil
}

// logOperation appends to the operation log. Failures are logged only.
func (s *Store) logOperation(ctx context.Context, operation, table, description, blobID string) {
	if err := s.syncLog.Record(ctx, operation, table, description, blobID); err != nil {
		s.logger.WarnContext(ctx, "failed to log operation", "operation", operation, "err", err)
	}
}

func (s *Store) tableNames() []string {
	names := make([]string, 0, len(s.metadata.Tables))
	for name := range s.metadata.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Store) table(name string) (*TableMeta, error) {
	meta, ok := s.metadata.Tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q does not exist", ErrUnknownTable, name)
	}
	return meta, nil
}

func sortedKeys(row Row) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// decodeJSON keeps numbers as json.Number so integer ids survive replay.
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// bindArg converts a decoded JSON scalar into a driver argument.
func bindArg(v any) any {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return v
}
