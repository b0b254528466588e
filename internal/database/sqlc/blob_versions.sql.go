package sqldb

import (
	"context"
	"database/sql"
)

const getMaxBlobVersion = `
SELECT COALESCE(MAX(version), 0) FROM blob_versions WHERE document_name = ?
`

func (q *Queries) GetMaxBlobVersion(ctx context.Context, documentName string) (int64, error) {
	row := q.db.QueryRowContext(ctx, getMaxBlobVersion, documentName)
	var version int64
	err := row.Scan(&version)
	return version, err
}

const clearCurrentBlobVersion = `
UPDATE blob_versions SET is_current = 0 WHERE document_name = ?
`

func (q *Queries) ClearCurrentBlobVersion(ctx context.Context, documentName string) error {
	_, err := q.db.ExecContext(ctx, clearCurrentBlobVersion, documentName)
	return err
}

const markCurrentBlobVersion = `
UPDATE blob_versions SET is_current = 1 WHERE document_name = ? AND version = ?
`

type MarkCurrentBlobVersionParams struct {
	DocumentName string
	Version      int64
}

func (q *Queries) MarkCurrentBlobVersion(ctx context.Context, arg MarkCurrentBlobVersionParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, markCurrentBlobVersion, arg.DocumentName, arg.Version)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const insertBlobVersion = `
INSERT INTO blob_versions (document_name, version, blob_id, description, created_at, is_current)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING id
`

type InsertBlobVersionParams struct {
	DocumentName string
	Version      int64
	BlobID       string
	Description  sql.NullString
	CreatedAt    sql.NullTime
	IsCurrent    sql.NullInt64
}

func (q *Queries) InsertBlobVersion(ctx context.Context, arg InsertBlobVersionParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, insertBlobVersion,
		arg.DocumentName,
		arg.Version,
		arg.BlobID,
		arg.Description,
		arg.CreatedAt,
		arg.IsCurrent,
	)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const getBlobVersion = `
SELECT id, document_name, version, blob_id, description, created_at, is_current
FROM blob_versions
WHERE document_name = ? AND version = ?
`

type GetBlobVersionParams struct {
	DocumentName string
	Version      int64
}

func (q *Queries) GetBlobVersion(ctx context.Context, arg GetBlobVersionParams) (BlobVersion, error) {
	row := q.db.QueryRowContext(ctx, getBlobVersion, arg.DocumentName, arg.Version)
	var i BlobVersion
	err := row.Scan(
		&i.ID,
		&i.DocumentName,
		&i.Version,
		&i.BlobID,
		&i.Description,
		&i.CreatedAt,
		&i.IsCurrent,
	)
	return i, err
}

// BlobVersionWithBlobRow joins a ledger row with the index columns of its blob.
// The blob columns are null when the index no longer holds the record.
type BlobVersionWithBlobRow struct {
	ID             int64
	DocumentName   string
	Version        int64
	BlobID         string
	Description    sql.NullString
	CreatedAt      sql.NullTime
	IsCurrent      sql.NullInt64
	Name           sql.NullString
	Size           sql.NullInt64
	ContentType    sql.NullString
	ContentPreview sql.NullString
}

const blobVersionWithBlobColumns = `
SELECT v.id, v.document_name, v.version, v.blob_id, v.description, v.created_at, v.is_current,
       b.name, b.size, b.content_type, b.content_preview
FROM blob_versions v
LEFT JOIN blobs b ON b.blob_id = v.blob_id
`

const getCurrentBlobVersion = blobVersionWithBlobColumns + `
WHERE v.document_name = ? AND v.is_current = 1
LIMIT 1
`

func (q *Queries) GetCurrentBlobVersion(ctx context.Context, documentName string) (BlobVersionWithBlobRow, error) {
	row := q.db.QueryRowContext(ctx, getCurrentBlobVersion, documentName)
	return scanBlobVersionWithBlob(row)
}

const listBlobVersions = blobVersionWithBlobColumns + `
WHERE v.document_name = ?
ORDER BY v.version DESC
`

func (q *Queries) ListBlobVersions(ctx context.Context, documentName string) ([]BlobVersionWithBlobRow, error) {
	rows, err := q.db.QueryContext(ctx, listBlobVersions, documentName)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var items []BlobVersionWithBlobRow
	for rows.Next() {
		i, err := scanBlobVersionWithBlob(rows)
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

const listDocuments = `
SELECT v.document_name, v.version, v.blob_id, l.created_at,
       (SELECT COUNT(*) FROM blob_versions c WHERE c.document_name = v.document_name) AS version_count,
       (SELECT MAX(m.version) FROM blob_versions m WHERE m.document_name = v.document_name) AS latest_version
FROM blob_versions v
JOIN blob_versions l ON l.id = (
    SELECT n.id FROM blob_versions n
    WHERE n.document_name = v.document_name
    ORDER BY n.created_at DESC, n.id DESC
    LIMIT 1
)
WHERE v.is_current = 1
ORDER BY l.created_at DESC, l.id DESC
`

type ListDocumentsRow struct {
	DocumentName   string
	CurrentVersion int64
	BlobID         string
	UpdatedAt      sql.NullTime
	VersionCount   int64
	LatestVersion  int64
}

func (q *Queries) ListDocuments(ctx context.Context) ([]ListDocumentsRow, error) {
	rows, err := q.db.QueryContext(ctx, listDocuments)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var items []ListDocumentsRow
	for rows.Next() {
		var i ListDocumentsRow
		if err := rows.Scan(
			&i.DocumentName,
			&i.CurrentVersion,
			&i.BlobID,
			&i.UpdatedAt,
			&i.VersionCount,
			&i.LatestVersion,
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

const listAllBlobVersions = `
SELECT id, document_name, version, blob_id, description, created_at, is_current
FROM blob_versions
ORDER BY document_name, version
`

func (q *Queries) ListAllBlobVersions(ctx context.Context) ([]BlobVersion, error) {
	rows, err := q.db.QueryContext(ctx, listAllBlobVersions)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var items []BlobVersion
	for rows.Next() {
		var i BlobVersion
		if err := rows.Scan(
			&i.ID,
			&i.DocumentName,
			&i.Version,
			&i.BlobID,
			&i.Description,
			&i.CreatedAt,
			&i.IsCurrent,
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

const deleteBlobVersionsByBlob = `DELETE FROM blob_versions WHERE blob_id = ?`

func (q *Queries) DeleteBlobVersionsByBlob(ctx context.Context, blobID string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteBlobVersionsByBlob, blobID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanBlobVersionWithBlob(row rowScanner) (BlobVersionWithBlobRow, error) {
	var i BlobVersionWithBlobRow
	err := row.Scan(
		&i.ID,
		&i.DocumentName,
		&i.Version,
		&i.BlobID,
		&i.Description,
		&i.CreatedAt,
		&i.IsCurrent,
		&i.Name,
		&i.Size,
		&i.ContentType,
		&i.ContentPreview,
	)
	return i, err
}

const listDocumentNamesByBlob = `
SELECT DISTINCT document_name FROM blob_versions WHERE blob_id = ? ORDER BY document_name
`

func (q *Queries) ListDocumentNamesByBlob(ctx context.Context, blobID string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listDocumentNamesByBlob, blobID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var items []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		items = append(items, name)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countCurrentBlobVersions = `
SELECT COUNT(*) FROM blob_versions WHERE document_name = ? AND is_current = 1
`

func (q *Queries) CountCurrentBlobVersions(ctx context.Context, documentName string) (int64, error) {
	row := q.db.QueryRowContext(ctx, countCurrentBlobVersions, documentName)
	var count int64
	err := row.Scan(&count)
	return count, err
}
