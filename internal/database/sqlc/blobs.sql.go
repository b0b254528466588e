package sqldb

import (
	"context"
	"database/sql"
	"time"
)

const upsertBlob = `
INSERT INTO blobs (
    blob_id, name, description, content_type, size, created_at, updated_at,
    epochs, deletable, transaction_digest, content_preview, tags
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(blob_id) DO UPDATE SET
    name = excluded.name,
    description = excluded.description,
    content_type = excluded.content_type,
    size = excluded.size,
    updated_at = excluded.updated_at,
    epochs = excluded.epochs,
    deletable = blobs.deletable AND excluded.deletable,
    transaction_digest = excluded.transaction_digest,
    content_preview = excluded.content_preview,
    tags = excluded.tags
`

type UpsertBlobParams struct {
	BlobID            string
	Name              sql.NullString
	Description       sql.NullString
	ContentType       sql.NullString
	Size              sql.NullInt64
	CreatedAt         sql.NullTime
	UpdatedAt         sql.NullTime
	Epochs            sql.NullInt64
	Deletable         sql.NullInt64
	TransactionDigest sql.NullString
	ContentPreview    sql.NullString
	Tags              sql.NullString
}

func (q *Queries) UpsertBlob(ctx context.Context, arg UpsertBlobParams) error {
	_, err := q.db.ExecContext(ctx, upsertBlob,
		arg.BlobID,
		arg.Name,
		arg.Description,
		arg.ContentType,
		arg.Size,
		arg.CreatedAt,
		arg.UpdatedAt,
		arg.Epochs,
		arg.Deletable,
		arg.TransactionDigest,
		arg.ContentPreview,
		arg.Tags,
	)
	return err
}

const blobColumns = `id, blob_id, name, description, content_type, size, created_at, updated_at,
    epochs, deletable, transaction_digest, content_preview, tags`

const getBlob = `SELECT ` + blobColumns + ` FROM blobs WHERE blob_id = ?`

func (q *Queries) GetBlob(ctx context.Context, blobID string) (Blob, error) {
	row := q.db.QueryRowContext(ctx, getBlob, blobID)
	return scanBlob(row)
}

const listAllBlobs = `SELECT ` + blobColumns + ` FROM blobs ORDER BY created_at DESC, id DESC`

func (q *Queries) ListAllBlobs(ctx context.Context) ([]Blob, error) {
	rows, err := q.db.QueryContext(ctx, listAllBlobs)
	if err != nil {
		return nil, err
	}
	return collectBlobs(rows)
}

const deleteBlob = `DELETE FROM blobs WHERE blob_id = ?`

func (q *Queries) DeleteBlob(ctx context.Context, blobID string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteBlob, blobID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteBlobsOlderThan = `
DELETE FROM blobs
WHERE created_at < ?
  AND blob_id NOT IN (SELECT blob_id FROM blob_versions)
`

func (q *Queries) DeleteBlobsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteBlobsOlderThan, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlob(row rowScanner) (Blob, error) {
	var i Blob
	err := row.Scan(
		&i.ID,
		&i.BlobID,
		&i.Name,
		&i.Description,
		&i.ContentType,
		&i.Size,
		&i.CreatedAt,
		&i.UpdatedAt,
		&i.Epochs,
		&i.Deletable,
		&i.TransactionDigest,
		&i.ContentPreview,
		&i.Tags,
	)
	return i, err
}

func collectBlobs(rows *sql.Rows) ([]Blob, error) {
	defer func() { _ = rows.Close() }()
	var items []Blob
	for rows.Next() {
		i, err := scanBlob(rows)
		if err != nil {
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
