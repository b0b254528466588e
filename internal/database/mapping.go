package database

import (
	"database/sql"
	"encoding/json"
	"time"

	sqldb "github.com/vault-md/walrusdb/internal/database/sqlc"
)

// BlobUpsertParams creates upsert parameters from a blob record. Zero
// timestamps are replaced with now.
func BlobUpsertParams(rec BlobRecord, now time.Time) (sqldb.UpsertBlobParams, error) {
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return sqldb.UpsertBlobParams{}, err
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	contentType := rec.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}

	return sqldb.UpsertBlobParams{
		BlobID:            rec.BlobID,
		Name:              nullString(rec.Name),
		Description:       nullString(rec.Description),
		ContentType:       nullString(contentType),
		Size:              sql.NullInt64{Int64: rec.Size, Valid: true},
		CreatedAt:         nullTime(createdAt),
		UpdatedAt:         nullTime(updatedAt),
		Epochs:            sql.NullInt64{Int64: rec.Epochs, Valid: true},
		Deletable:         sql.NullInt64{Int64: boolToInt64(rec.Deletable), Valid: true},
		TransactionDigest: nullString(rec.TxDigest),
		ContentPreview:    nullString(rec.ContentPreview),
		Tags:              sql.NullString{String: string(encoded), Valid: true},
	}, nil
}

// BlobRecordFromRow converts a blobs row to a BlobRecord. A malformed tag
// column decodes as an empty tag list.
func BlobRecordFromRow(row sqldb.Blob) BlobRecord {
	var tags []string
	if row.Tags.Valid && row.Tags.String != "" {
		if err := json.Unmarshal([]byte(row.Tags.String), &tags); err != nil {
			tags = nil
		}
	}
	if tags == nil {
		tags = []string{}
	}

	return BlobRecord{
		BlobID:         row.BlobID,
		Name:           optionalString(row.Name),
		Description:    optionalString(row.Description),
		ContentType:    optionalString(row.ContentType),
		Size:           optionalInt64(row.Size),
		Epochs:         optionalInt64(row.Epochs),
		Deletable:      optionalInt64(row.Deletable) != 0,
		TxDigest:       optionalString(row.TransactionDigest),
		ContentPreview: optionalString(row.ContentPreview),
		Tags:           tags,
		CreatedAt:      optionalTime(row.CreatedAt),
		UpdatedAt:      optionalTime(row.UpdatedAt),
	}
}

// BlobRecordsFromRows converts a slice of blobs rows.
func BlobRecordsFromRows(rows []sqldb.Blob) []BlobRecord {
	result := make([]BlobRecord, 0, len(rows))
	for _, row := range rows {
		result = append(result, BlobRecordFromRow(row))
	}
	return result
}

// VersionRecordFromRow converts a joined ledger row to a VersionRecord.
func VersionRecordFromRow(row sqldb.BlobVersionWithBlobRow) VersionRecord {
	return VersionRecord{
		ID:             row.ID,
		DocumentName:   row.DocumentName,
		Version:        row.Version,
		BlobID:         row.BlobID,
		Description:    optionalString(row.Description),
		IsCurrent:      optionalInt64(row.IsCurrent) != 0,
		CreatedAt:      optionalTime(row.CreatedAt),
		Name:           optionalString(row.Name),
		Size:           optionalInt64(row.Size),
		ContentType:    optionalString(row.ContentType),
		ContentPreview: optionalString(row.ContentPreview),
	}
}

// VersionRecordFromPlainRow converts a bare ledger row without index columns.
func VersionRecordFromPlainRow(row sqldb.BlobVersion) VersionRecord {
	return VersionRecord{
		ID:           row.ID,
		DocumentName: row.DocumentName,
		Version:      row.Version,
		BlobID:       row.BlobID,
		Description:  optionalString(row.Description),
		IsCurrent:    optionalInt64(row.IsCurrent) != 0,
		CreatedAt:    optionalTime(row.CreatedAt),
	}
}

// DocumentSummaryFromRow converts a listDocuments row.
func DocumentSummaryFromRow(row sqldb.ListDocumentsRow) DocumentSummary {
	return DocumentSummary{
		DocumentName:   row.DocumentName,
		TotalVersions:  row.VersionCount,
		LatestVersion:  row.LatestVersion,
		CurrentVersion: row.CurrentVersion,
		CurrentBlobID:  row.BlobID,
		LastUpdated:    optionalTime(row.UpdatedAt),
	}
}

// VersionInsertParams builds the ledger insert for a new current version.
func VersionInsertParams(documentName string, version int64, blobID, description string, now time.Time) sqldb.InsertBlobVersionParams {
	return sqldb.InsertBlobVersionParams{
		DocumentName: documentName,
		Version:      version,
		BlobID:       blobID,
		Description:  nullString(description),
		CreatedAt:    nullTime(now),
		IsCurrent:    sql.NullInt64{Int64: 1, Valid: true},
	}
}

func tableSchemaRecordFromRow(row sqldb.TableSchema) TableSchemaRecord {
	return TableSchemaRecord{
		TableName:  row.TableName,
		SchemaJSON: row.SchemaJson,
		BlobID:     optionalString(row.BlobID),
		Version:    optionalInt64(row.Version),
		CreatedAt:  optionalTime(row.CreatedAt),
		UpdatedAt:  optionalTime(row.UpdatedAt),
	}
}

func chunkRecordFromRow(row sqldb.DataChunk) ChunkRecord {
	return ChunkRecord{
		ID:          row.ID,
		TableName:   row.TableName,
		ChunkID:     row.ChunkID,
		BlobID:      row.BlobID,
		Kind:        row.Kind,
		RecordCount: row.RecordCount,
		StartID:     row.StartID,
		EndID:       row.EndID,
		CreatedAt:   optionalTime(row.CreatedAt),
	}
}

func syncLogRecordFromRow(row sqldb.SyncLog) SyncLogRecord {
	return SyncLogRecord{
		ID:          row.ID,
		Operation:   row.Operation,
		TableName:   optionalString(row.TableName),
		Description: optionalString(row.Description),
		BlobID:      optionalString(row.BlobID),
		Timestamp:   optionalTime(row.Timestamp),
	}
}

func boolToInt64(value bool) int64 {
	if value {
		return 1
	}
	return 0
}
