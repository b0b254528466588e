package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqldb "github.com/vault-md/walrusdb/internal/database/sqlc"
)

// DatabaseInfoRepository stores key/value facts about a table database, such
// as the blob id of its latest metadata snapshot.
type DatabaseInfoRepository struct {
	ctx *Context
}

// NewDatabaseInfoRepository creates a new repository bound to the given database context.
func NewDatabaseInfoRepository(ctx *Context) *DatabaseInfoRepository {
	return &DatabaseInfoRepository{ctx: ctx}
}

func (r *DatabaseInfoRepository) Put(ctx context.Context, key, value, blobID string) error {
	queries := queriesFromContext(r.ctx)
	if queries == nil {
		return fmt.Errorf("database info repository: %w", ErrMissingContext)
	}

	err := queries.UpsertDatabaseInfo(ctx, sqldb.UpsertDatabaseInfoParams{
		Key:       key,
		Value:     nullString(value),
		BlobID:    nullString(blobID),
		UpdatedAt: nullTime(time.Now().UTC()),
	})
	if err != nil {
		return fmt.Errorf("database info repository: put %s: %w", key, err)
	}
	return nil
}

// Get returns the entry for key, or nil when absent.
func (r *DatabaseInfoRepository) Get(ctx context.Context, key string) (*DatabaseInfoRecord, error) {
	queries := queriesFromContext(r.ctx)
	if queries == nil {
		return nil, fmt.Errorf("database info repository: %w", ErrMissingContext)
	}

	row, err := queries.GetDatabaseInfo(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &DatabaseInfoRecord{
		Key:       row.Key,
		Value:     optionalString(row.Value),
		BlobID:    optionalString(row.BlobID),
		UpdatedAt: optionalTime(row.UpdatedAt),
	}, nil
}
