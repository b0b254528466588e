package database

import (
	"context"
	"fmt"
	"time"

	sqldb "github.com/vault-md/walrusdb/internal/database/sqlc"
)

// ChunkRepository provides access to the data_chunks ledger.
type ChunkRepository struct {
	ctx *Context
}

// NewChunkRepository creates a new repository bound to the given database context.
func NewChunkRepository(ctx *Context) *ChunkRepository {
	return &ChunkRepository{ctx: ctx}
}

// Append records a chunk. CreatedAt defaults to now.
func (r *ChunkRepository) Append(ctx context.Context, rec ChunkRecord) (int64, error) {
	queries := queriesFromContext(r.ctx)
	if queries == nil {
		return 0, fmt.Errorf("chunk repository: %w", ErrMissingContext)
	}

	kind := rec.Kind
	if kind == "" {
		kind = ChunkKindData
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	id, err := queries.InsertDataChunk(ctx, sqldb.InsertDataChunkParams{
		TableName:   rec.TableName,
		ChunkID:     rec.ChunkID,
		BlobID:      rec.BlobID,
		Kind:        kind,
		RecordCount: rec.RecordCount,
		StartID:     rec.StartID,
		EndID:       rec.EndID,
		CreatedAt:   nullTime(createdAt),
	})
	if err != nil {
		return 0, fmt.Errorf("chunk repository: append %s/%s: %w", rec.TableName, rec.ChunkID, err)
	}
	return id, nil
}

// ListByTable returns the chunks of a table in creation order.
func (r *ChunkRepository) ListByTable(ctx context.Context, tableName string) ([]ChunkRecord, error) {
	queries := queriesFromContext(r.ctx)
	if queries == nil {
		return nil, fmt.Errorf("chunk repository: %w", ErrMissingContext)
	}

	rows, err := queries.ListDataChunksByTable(ctx, tableName)
	if err != nil {
		return nil, err
	}
	result := make([]ChunkRecord, 0, len(rows))
	for _, row := range rows {
		result = append(result, chunkRecordFromRow(row))
	}
	return result, nil
}

// RecordCount returns the informational record counter for a table:
// inserted records minus deleted records. Update chunks are not counted.
func (r *ChunkRepository) RecordCount(ctx context.Context, tableName string) (int64, error) {
	queries := queriesFromContext(r.ctx)
	if queries == nil {
		return 0, fmt.Errorf("chunk repository: %w", ErrMissingContext)
	}
	return queries.SumRecordCountByTable(ctx, tableName)
}
