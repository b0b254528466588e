package sqldb

import "database/sql"

type Blob struct {
	ID                int64
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

type BlobVersion struct {
	ID           int64
	DocumentName string
	Version      int64
	BlobID       string
	Description  sql.NullString
	CreatedAt    sql.NullTime
	IsCurrent    sql.NullInt64
}

type DatabaseInfo struct {
	Key       string
	Value     sql.NullString
	BlobID    sql.NullString
	UpdatedAt sql.NullTime
}

type TableSchema struct {
	TableName  string
	SchemaJson string
	BlobID     sql.NullString
	Version    sql.NullInt64
	CreatedAt  sql.NullTime
	UpdatedAt  sql.NullTime
}

type DataChunk struct {
	ID          int64
	TableName   string
	ChunkID     string
	BlobID      string
	Kind        string
	RecordCount int64
	StartID     int64
	EndID       int64
	CreatedAt   sql.NullTime
}

type SyncLog struct {
	ID          int64
	Operation   string
	TableName   sql.NullString
	Description sql.NullString
	BlobID      sql.NullString
	Timestamp   sql.NullTime
}
