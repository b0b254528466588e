package tablestore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vault-md/walrusdb/internal/blobstore"
	"github.com/vault-md/walrusdb/internal/database"
	"github.com/vault-md/walrusdb/internal/mirror"
	"github.com/vault-md/walrusdb/internal/tracing"
)

// InsertOptions control Insert. Rows are synced unless SkipSync is set.
type InsertOptions struct {
	SkipSync  bool
	ChunkSize int
}

// SyncOptions control Update and Delete.
type SyncOptions struct {
	SkipSync bool
}

// SelectOptions compose a mirror query. Columns, Where and OrderBy are used
// verbatim and must come from a trusted caller.
type SelectOptions struct {
	Columns string
	Where   string
	OrderBy string
	Limit   int
	Offset  int
}

// CreateTable creates table in the mirror, stores its schema remotely and
// re-saves the database metadata.
func (s *Store) CreateTable(ctx context.Context, table string, schema Schema) error {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	ctx, span := s.startSpan(ctx, "tablestore.create_table", table)
	defer span.End()

	if err := mirror.ValidateIdentifier(table); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}
	if err := schema.validate(); err != nil {
		return err
	}

	if err := s.mirror.CreateTable(ctx, table, mirrorColumns(schema.Columns)); err != nil {
		return err
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	payload, err := json.Marshal(map[string]any{
		"table_name": table,
		"schema":     schema,
		"database":   s.name,
		"created_at": time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode schema blob: %w", err)
	}

	res, err := s.blobs.Store(ctx, payload, blobstore.StoreOptions{
		Name:        fmt.Sprintf("%s-%s-schema", s.name, table),
		Description: fmt.Sprintf("Schema for table %s in database %s", table, s.name),
		ContentType: "application/json",
		Tags:        []string{"schema", "table", s.name, table},
	})
	if err != nil {
		return err
	}
	if err := s.schemas.Save(ctx, table, string(schemaJSON), res.BlobID); err != nil {
		s.logger.WarnContext(ctx, "failed to record schema", "table", table, "blob_id", res.BlobID, "err", err)
	}

	meta := &TableMeta{Columns: schema.Columns, CreatedAt: time.Now().UTC()}
	if prev, ok := s.metadata.Tables[table]; ok {
		meta.CreatedAt = prev.CreatedAt
		meta.RecordCount = prev.RecordCount
	}
	s.metadata.Tables[table] = meta

	if _, err := s.saveMetadata(ctx); err != nil {
		return err
	}
	s.logOperation(ctx, "CREATE_TABLE", table, fmt.Sprintf("Created table with %d columns", len(schema.Columns)), res.BlobID)
	s.logger.InfoContext(ctx, "created table", "table", table)
	return nil
}

// Insert writes rows to the mirror and, unless SkipSync is set, stores them
// remotely as one chunk per ChunkSize rows.
func (s *Store) Insert(ctx context.Context, table string, rows []Row, opts InsertOptions) (int, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	ctx, span := s.startSpan(ctx, "tablestore.insert", table)
	defer span.End()

	meta, err := s.table(table)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	if _, err := s.mirror.InsertOrReplace(ctx, table, rows); err != nil {
		return 0, err
	}
	meta.RecordCount += int64(len(rows))

	var lastBlob string
	if !opts.SkipSync {
		size := opts.ChunkSize
		if size <= 0 {
			size = defaultChunkSize
		}
		for start := 0; start < len(rows); start += size {
			end := min(start+size, len(rows))
			if lastBlob, err = s.syncChunk(ctx, table, database.ChunkKindData, rows[start:end]); err != nil {
				return 0, err
			}
		}
	}

	s.logOperation(ctx, "INSERT", table, fmt.Sprintf("Inserted %d records", len(rows)), lastBlob)
	s.logger.InfoContext(ctx, "inserted records", "table", table, "count", len(rows))
	return len(rows), nil
}

// Select queries the mirror only.
func (s *Store) Select(ctx context.Context, table string, opts SelectOptions) ([]Row, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := s.table(table); err != nil {
		return nil, err
	}
	return s.selectLocked(ctx, table, opts)
}

func (s *Store) selectLocked(ctx context.Context, table string, opts SelectOptions) ([]Row, error) {
	quoted, err := mirror.QuoteIdentifier(table)
	if err != nil {
		return nil, err
	}

	columns := opts.Columns
	if strings.TrimSpace(columns) == "" {
		columns = "*"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", columns, quoted)
	if opts.Where != "" {
		b.WriteString(" WHERE " + opts.Where)
	}
	if opts.OrderBy != "" {
		b.WriteString(" ORDER BY " + opts.OrderBy)
	}
	if opts.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			b.WriteString(" LIMIT -1")
		}
		fmt.Fprintf(&b, " OFFSET %d", opts.Offset)
	}

	s.logger.DebugContext(ctx, "select", "query", b.String())
	return s.mirror.Query(ctx, b.String())
}

// Update applies patch to rows matching where. Unless SkipSync is set and
// when rows changed, the post-update rows are stored as a new chunk.
func (s *Store) Update(ctx context.Context, table string, patch Row, where string, opts SyncOptions) (int64, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	ctx, span := s.startSpan(ctx, "tablestore.update", table)
	defer span.End()

	if _, err := s.table(table); err != nil {
		return 0, err
	}
	if len(patch) == 0 {
		return 0, fmt.Errorf("update %s: empty patch", table)
	}
	quoted, err := mirror.QuoteIdentifier(table)
	if err != nil {
		return 0, err
	}

	keys := sortedKeys(patch)
	sets := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		qc, err := mirror.QuoteIdentifier(key)
		if err != nil {
			return 0, err
		}
		sets = append(sets, qc+" = ?")
		args = append(args, bindArg(patch[key]))
	}

	stmt := fmt.Sprintf("UPDATE %s SET %s", quoted, strings.Join(sets, ", "))
	if where != "" {
		stmt += " WHERE " + where
	}
	// RETURNING yields the post-update rows even when the patch moves them
	// out of the where clause.
	stmt += " RETURNING *"
	s.logger.DebugContext(ctx, "update", "query", stmt)

	updated, err := s.mirror.Query(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	changes := int64(len(updated))

	var blobID string
	if !opts.SkipSync && changes > 0 {
		if blobID, err = s.syncChunk(ctx, table, database.ChunkKindUpdate, updated); err != nil {
			return 0, err
		}
	}

	s.logOperation(ctx, "UPDATE", table, fmt.Sprintf("Updated %d records", changes), blobID)
	s.logger.InfoContext(ctx, "updated records", "table", table, "count", changes)
	return changes, nil
}

// Delete removes rows matching where. Unless SkipSync is set and when rows
// were removed, the deleted rows are stored as a deletion log.
func (s *Store) Delete(ctx context.Context, table, where string, opts SyncOptions) (int64, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	ctx, span := s.startSpan(ctx, "tablestore.delete", table)
	defer span.End()

	meta, err := s.table(table)
	if err != nil {
		return 0, err
	}
	quoted, err := mirror.QuoteIdentifier(table)
	if err != nil {
		return 0, err
	}

	var deleted []Row
	if !opts.SkipSync {
		if deleted, err = s.selectLocked(ctx, table, SelectOptions{Where: where}); err != nil {
			return 0, err
		}
	}

	stmt := "DELETE FROM " + quoted
	if where != "" {
		stmt += " WHERE " + where
	}
	s.logger.DebugContext(ctx, "delete", "query", stmt)

	changes, err := s.mirror.Exec(ctx, stmt)
	if err != nil {
		return 0, err
	}
	meta.RecordCount -= changes

	var blobID string
	if !opts.SkipSync && changes > 0 {
		if blobID, err = s.syncDeletionLog(ctx, table, deleted); err != nil {
			return 0, err
		}
	}

	s.logOperation(ctx, "DELETE", table, fmt.Sprintf("Deleted %d records", changes), blobID)
	s.logger.InfoContext(ctx, "deleted records", "table", table, "count", changes)
	return changes, nil
}

func (s *Store) startSpan(ctx context.Context, name, table string) (context.Context, trace.Span) {
	ctx, span := tracing.Start(ctx, name)
	span.SetAttributes(
		attribute.String(tracing.AttrKeyDatabase, s.name),
		attribute.String(tracing.AttrKeyTable, table),
	)
	return ctx, span
}
