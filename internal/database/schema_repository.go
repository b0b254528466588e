package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqldb "github.com/vault-md/walrusdb/internal/database/sqlc"
)

// SchemaRepository provides access to the table_schemas ledger.
type SchemaRepository struct {
	ctx *Context
}

// NewSchemaRepository creates a new repository bound to the given database context.
func NewSchemaRepository(ctx *Context) *SchemaRepository {
	return &SchemaRepository{ctx: ctx}
}

// Save records the schema of a table and the blob it was persisted as. A
// repeated save bumps the schema version.
func (r *SchemaRepository) Save(ctx context.Context, tableName, schemaJSON, blobID string) error {
	queries := queriesFromContext(r.ctx)
	if queries == nil {
		return fmt.Errorf("schema repository: %w", ErrMissingContext)
	}

	now := time.Now().UTC()
	err := queries.UpsertTableSchema(ctx, sqldb.UpsertTableSchemaParams{
		TableName:  tableName,
		SchemaJson: schemaJSON,
		BlobID:     nullString(blobID),
		CreatedAt:  nullTime(now),
		UpdatedAt:  nullTime(now),
	})
	if err != nil {
		return fmt.Errorf("schema repository: save %s: %w", tableName, err)
	}
	return nil
}

// Get returns the schema for a table, or nil when the table is unknown.
func (r *SchemaRepository) Get(ctx context.Context, tableName string) (*TableSchemaRecord, error) {
	queries := queriesFromContext(r.ctx)
	if queries == nil {
		return nil, fmt.Errorf("schema repository: %w", ErrMissingContext)
	}

	row, err := queries.GetTableSchema(ctx, tableName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	record := tableSchemaRecordFromRow(row)
	return &record, nil
}

// List returns every known table ordered by name.
func (r *SchemaRepository) List(ctx context.Context) ([]TableSchemaRecord, error) {
	queries := queriesFromContext(r.ctx)
	if queries == nil {
		return nil, fmt.Errorf("schema repository: %w", ErrMissingContext)
	}

	rows, err := queries.ListTableSchemas(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]TableSchemaRecord, 0, len(rows))
	for _, row := range rows {
		result = append(result, tableSchemaRecordFromRow(row))
	}
	return result, nil
}
