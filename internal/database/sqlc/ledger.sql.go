package sqldb

import (
	"context"
	"database/sql"
)

const upsertDatabaseInfo = `
INSERT INTO database_info (key, value, blob_id, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
    value = excluded.value,
    blob_id = excluded.blob_id,
    updated_at = excluded.updated_at
`

type UpsertDatabaseInfoParams struct {
	Key       string
	Value     sql.NullString
	BlobID    sql.NullString
	UpdatedAt sql.NullTime
}

func (q *Queries) UpsertDatabaseInfo(ctx context.Context, arg UpsertDatabaseInfoParams) error {
	_, err := q.db.ExecContext(ctx, upsertDatabaseInfo, arg.Key, arg.Value, arg.BlobID, arg.UpdatedAt)
	return err
}

const getDatabaseInfo = `
SELECT key, value, blob_id, updated_at FROM database_info WHERE key = ?
`

func (q *Queries) GetDatabaseInfo(ctx context.Context, key string) (DatabaseInfo, error) {
	row := q.db.QueryRowContext(ctx, getDatabaseInfo, key)
	var i DatabaseInfo
	err := row.Scan(&i.Key, &i.Value, &i.BlobID, &i.UpdatedAt)
	return i, err
}

const upsertTableSchema = `
INSERT INTO table_schemas (table_name, schema_json, blob_id, version, created_at, updated_at)
VALUES (?, ?, ?, 1, ?, ?)
ON CONFLICT(table_name) DO UPDATE SET
    schema_json = excluded.schema_json,
    blob_id = excluded.blob_id,
    version = table_schemas.version + 1,
    updated_at = excluded.updated_at
`

type UpsertTableSchemaParams struct {
	TableName  string
	SchemaJson string
	BlobID     sql.NullString
	CreatedAt  sql.NullTime
	UpdatedAt  sql.NullTime
}

func (q *Queries) UpsertTableSchema(ctx context.Context, arg UpsertTableSchemaParams) error {
	_, err := q.db.ExecContext(ctx, upsertTableSchema,
		arg.TableName,
		arg.SchemaJson,
		arg.BlobID,
		arg.CreatedAt,
		arg.UpdatedAt,
	)
	return err
}

const getTableSchema = `
SELECT table_name, schema_json, blob_id, version, created_at, updated_at
FROM table_schemas
WHERE table_name = ?
`

func (q *Queries) GetTableSchema(ctx context.Context, tableName string) (TableSchema, error) {
	row := q.db.QueryRowContext(ctx, getTableSchema, tableName)
	var i TableSchema
	err := row.Scan(
		&i.TableName,
		&i.SchemaJson,
		&i.BlobID,
		&i.Version,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const listTableSchemas = `
SELECT table_name, schema_json, blob_id, version, created_at, updated_at
FROM table_schemas
ORDER BY table_name
`

func (q *Queries) ListTableSchemas(ctx context.Context) ([]TableSchema, error) {
	rows, err := q.db.QueryContext(ctx, listTableSchemas)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var items []TableSchema
	for rows.Next() {
		var i TableSchema
		if err := rows.Scan(
			&i.TableName,
			&i.SchemaJson,
			&i.BlobID,
			&i.Version,
			&i.CreatedAt,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertDataChunk = `
INSERT INTO data_chunks (table_name, chunk_id, blob_id, kind, record_count, start_id, end_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id
`

type InsertDataChunkParams struct {
	TableName   string
	ChunkID     string
	BlobID      string
	Kind        string
	RecordCount int64
	StartID     int64
	EndID       int64
	CreatedAt   sql.NullTime
}

func (q *Queries) InsertDataChunk(ctx context.Context, arg InsertDataChunkParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, insertDataChunk,
		arg.TableName,
		arg.ChunkID,
		arg.BlobID,
		arg.Kind,
		arg.RecordCount,
		arg.StartID,
		arg.EndID,
		arg.CreatedAt,
	)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const listDataChunksByTable = `
SELECT id, table_name, chunk_id, blob_id, kind, record_count, start_id, end_id, created_at
FROM data_chunks
WHERE table_name = ?
ORDER BY id
`

func (q *Queries) ListDataChunksByTable(ctx context.Context, tableName string) ([]DataChunk, error) {
	rows, err := q.db.QueryContext(ctx, listDataChunksByTable, tableName)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var items []DataChunk
	for rows.Next() {
		var i DataChunk
		if err := rows.Scan(
			&i.ID,
			&i.TableName,
			&i.ChunkID,
			&i.BlobID,
			&i.Kind,
			&i.RecordCount,
			&i.StartID,
			&i.EndID,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const sumRecordCountByTable = `
SELECT COALESCE(SUM(CASE WHEN kind = 'delete' THEN -record_count ELSE record_count END), 0)
FROM data_chunks
WHERE table_name = ? AND kind IN ('data', 'delete')
`

func (q *Queries) SumRecordCountByTable(ctx context.Context, tableName string) (int64, error) {
	row := q.db.QueryRowContext(ctx, sumRecordCountByTable, tableName)
	var total int64
	err := row.Scan(&total)
	return total, err
}

const insertSyncLog = `
INSERT INTO sync_log (operation, table_name, description, blob_id, timestamp)
VALUES (?, ?, ?, ?, ?)
`

type InsertSyncLogParams struct {
	Operation   string
	TableName   sql.NullString
	Description sql.NullString
	BlobID      sql.NullString
	Timestamp   sql.NullTime
}

func (q *Queries) InsertSyncLog(ctx context.Context, arg InsertSyncLogParams) error {
	_, err := q.db.ExecContext(ctx, insertSyncLog,
		arg.Operation,
		arg.TableName,
		arg.Description,
		arg.BlobID,
		arg.Timestamp,
	)
	return err
}

const listSyncLog = `
SELECT id, operation, table_name, description, blob_id, timestamp
FROM sync_log
ORDER BY id DESC
LIMIT ?
`

func (q *Queries) ListSyncLog(ctx context.Context, limit int64) ([]SyncLog, error) {
	rows, err := q.db.QueryContext(ctx, listSyncLog, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var items []SyncLog
	for rows.Next() {
		var i SyncLog
		if err := rows.Scan(
			&i.ID,
			&i.Operation,
			&i.TableName,
			&i.Description,
			&i.BlobID,
			&i.Timestamp,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
