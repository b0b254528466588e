package database

import "time"

// BlobRecord represents a row in the blobs table. It caches display metadata
// for a blob stored remotely and is never the source of truth for content.
type BlobRecord struct {
	BlobID         string
	Name           string
	Description    string
	ContentType    string
	Size           int64
	Epochs         int64
	Deletable      bool
	TxDigest       string
	ContentPreview string
	Tags           []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// VersionRecord corresponds to a row in blob_versions joined with the index
// columns of its blob, when present.
type VersionRecord struct {
	ID             int64
	DocumentName   string
	Version        int64
	BlobID         string
	Description    string
	IsCurrent      bool
	CreatedAt      time.Time
	Name           string
	Size           int64
	ContentType    string
	ContentPreview string
}

// DocumentSummary aggregates the ledger rows of one document.
type DocumentSummary struct {
	DocumentName   string
	TotalVersions  int64
	LatestVersion  int64
	CurrentVersion int64
	CurrentBlobID  string
	LastUpdated    time.Time
}

// TableSchemaRecord mirrors a row of the per-database table_schemas ledger.
type TableSchemaRecord struct {
	TableName  string
	SchemaJSON string
	BlobID     string
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Chunk kinds recorded in data_chunks.
const (
	ChunkKindData   = "data"
	ChunkKindUpdate = "update"
	ChunkKindDelete = "delete"
)

// ChunkRecord mirrors a row of the data_chunks ledger. Rows are appended in
// creation order, which is the order replay must follow.
type ChunkRecord struct {
	ID          int64
	TableName   string
	ChunkID     string
	BlobID      string
	Kind        string
	RecordCount int64
	StartID     int64
	EndID       int64
	CreatedAt   time.Time
}

// SyncLogRecord is one entry of the operation log.
type SyncLogRecord struct {
	ID          int64
	Operation   string
	TableName   string
	Description string
	BlobID      string
	Timestamp   time.Time
}

// DatabaseInfoRecord is a key/value row of database_info.
type DatabaseInfoRecord struct {
	Key       string
	Value     string
	BlobID    string
	UpdatedAt time.Time
}
