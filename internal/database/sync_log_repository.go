package database

import (
	"context"
	"fmt"
	"time"

	sqldb "github.com/vault-md/walrusdb/internal/database/sqlc"
)

// SyncLogRepository provides access to the operation log.
type SyncLogRepository struct {
	ctx *Context
}

// NewSyncLogRepository creates a new repository bound to the given database context.
func NewSyncLogRepository(ctx *Context) *SyncLogRepository {
	return &SyncLogRepository{ctx: ctx}
}

// Record appends an operation to the log.
func (r *SyncLogRepository) Record(ctx context.Context, operation, tableName, description, blobID string) error {
	queries := queriesFromContext(r.ctx)
	if queries == nil {
		return fmt.Errorf("sync log repository: %w", ErrMissingContext)
	}

	err := queries.InsertSyncLog(ctx, sqldb.InsertSyncLogParams{
		Operation:   operation,
		TableName:   nullString(tableName),
		Description: nullString(description),
		BlobID:      nullString(blobID),
		Timestamp:   nullTime(time.Now().UTC()),
	})
	if err != nil {
		return fmt.Errorf("sync log repository: record %s: %w", operation, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (r *SyncLogRepository) Recent(ctx context.Context, limit int) ([]SyncLogRecord, error) {
	queries := queriesFromContext(r.ctx)
	if queries == nil {
		return nil, fmt.Errorf("sync log repository: %w", ErrMissingContext)
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := queries.ListSyncLog(ctx, int64(limit))
	if err != nil {
		return nil, err
	}
	result := make([]SyncLogRecord, 0, len(rows))
	for _, row := range rows {
		result = append(result, syncLogRecordFromRow(row))
	}
	return result, nil
}
