package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/vault-md/walrusdb/internal/database"
	sqldb "github.com/vault-md/walrusdb/internal/database/sqlc"
	"github.com/vault-md/walrusdb/internal/logging"
)

const (
	defaultListLimit   = 50
	defaultCleanupDays = 30
)

// ListOptions filters IndexService.List. Search matches name, description and
// content preview by substring; every tag in Tags must be present.
type ListOptions struct {
	Limit  int
	Offset int
	Search string
	Tags   []string
}

// ExportOptions control where IndexService.Export writes its snapshot.
type ExportOptions struct {
	Dir      string
	Filename string
	Network  string
	Address  string
}

// IndexService is the local metadata index over stored blobs. It is a cache:
// a nil database context disables it, reads degrade to empty results and
// writes become no-ops.
type IndexService struct {
	ctx    *database.Context
	logger *slog.Logger
}

// NewIndexService creates an index over ctx. Pass nil to disable the index.
func NewIndexService(ctx *database.Context, logger *slog.Logger) *IndexService {
	return &IndexService{
		ctx:    ctx,
		logger: logging.OrDefault(logger),
	}
}

// Enabled reports whether a local database backs the index.
func (s *IndexService) Enabled() bool {
	return s != nil && s.ctx != nil && s.ctx.DB != nil
}

// Upsert inserts or refreshes the record for rec.BlobID.
func (s *IndexService) Upsert(ctx context.Context, rec database.BlobRecord) error {
	if !s.Enabled() {
		return nil
	}
	q, err := s.queries()
	if err != nil {
		return err
	}

	params, err := database.BlobUpsertParams(rec, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("index: encode record %s: %w", rec.BlobID, err)
	}
	if err := q.UpsertBlob(ctx, params); err != nil {
		return fmt.Errorf("index: upsert %s: %w", rec.BlobID, err)
	}
	return nil
}

// Get returns the cached record for blobID, or nil when absent or when the
// index cannot answer.
func (s *IndexService) Get(ctx context.Context, blobID string) (*database.BlobRecord, error) {
	if !s.Enabled() {
		return nil, nil
	}
	q, err := s.queries()
	if err != nil {
		return nil, nil
	}

	row, err := q.GetBlob(ctx, blobID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.WarnContext(ctx, "index lookup failed", "blob_id", blobID, "err", err)
		}
		return nil, nil
	}
	record := database.BlobRecordFromRow(row)
	return &record, nil
}

// List returns records newest first.
func (s *IndexService) List(ctx context.Context, opts ListOptions) ([]database.BlobRecord, error) {
	if !s.Enabled() {
		return []database.BlobRecord{}, nil
	}
	q, err := s.queries()
	if err != nil {
		return []database.BlobRecord{}, nil
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := q.ListBlobs(ctx, sqldb.ListBlobsParams{
		Search: opts.Search,
		Tags:   opts.Tags,
		Limit:  int64(limit),
		Offset: int64(offset),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "index listing failed", "search", opts.Search, "err", err)
		return []database.BlobRecord{}, nil
	}
	return database.BlobRecordsFromRows(rows), nil
}

// Remove deletes the record for blobID and reports whether one existed.
func (s *IndexService) Remove(ctx context.Context, blobID string) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	q, err := s.queries()
	if err != nil {
		return false, err
	}

	n, err := q.DeleteBlob(ctx, blobID)
	if err != nil {
		return false, fmt.Errorf("index: remove %s: %w", blobID, err)
	}
	return n > 0, nil
}

// Cleanup removes records created more than olderThanDays ago that no
// document version references. Zero or negative means 30 days.
func (s *IndexService) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	if !s.Enabled() {
		return 0, nil
	}
	q, err := s.queries()
	if err != nil {
		return 0, err
	}
	if olderThanDays <= 0 {
		olderThanDays = defaultCleanupDays
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	removed, err := q.DeleteBlobsOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("index: cleanup: %w", err)
	}
	s.logger.InfoContext(ctx, "index cleanup", "older_than_days", olderThanDays, "removed", removed)
	return removed, nil
}

type exportBlob struct {
	BlobID         string    `json:"blob_id"`
	Name           string    `json:"name,omitempty"`
	Description    string    `json:"description,omitempty"`
	ContentType    string    `json:"content_type"`
	Size           int64     `json:"size"`
	Epochs         int64     `json:"epochs"`
	Deletable      bool      `json:"deletable"`
	TxDigest       string    `json:"transaction_digest,omitempty"`
	ContentPreview string    `json:"content_preview,omitempty"`
	Tags           []string  `json:"tags"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type exportVersion struct {
	DocumentName string    `json:"document_name"`
	Version      int64     `json:"version"`
	BlobID       string    `json:"blob_id"`
	Description  string    `json:"description,omitempty"`
	IsCurrent    bool      `json:"is_current"`
	CreatedAt    time.Time `json:"created_at"`
}

type exportFile struct {
	Blobs      []exportBlob    `json:"blobs"`
	Documents  []exportVersion `json:"documents"`
	ExportedAt time.Time       `json:"exportedAt"`
	Network    string          `json:"network"`
	Address    string          `json:"address"`
}

// Export writes every record and ledger row to a JSON file and returns its
// path. It fails with ErrCacheUnavailable when the index is disabled.
func (s *IndexService) Export(ctx context.Context, opts ExportOptions) (string, error) {
	if !s.Enabled() {
		return "", ErrCacheUnavailable
	}
	q, err := s.queries()
	if err != nil {
		return "", err
	}

	blobs, err := q.ListAllBlobs(ctx)
	if err != nil {
		return "", fmt.Errorf("index: export blobs: %w", err)
	}
	versions, err := q.ListAllBlobVersions(ctx)
	if err != nil {
		return "", fmt.Errorf("index: export versions: %w", err)
	}

	now := time.Now().UTC()
	out := exportFile{
		Blobs:      make([]exportBlob, 0, len(blobs)),
		Documents:  make([]exportVersion, 0, len(versions)),
		ExportedAt: now,
		Network:    opts.Network,
		Address:    opts.Address,
	}
	for _, rec := range database.BlobRecordsFromRows(blobs) {
		out.Blobs = append(out.Blobs, exportBlob{
			BlobID:         rec.BlobID,
			Name:           rec.Name,
			Description:    rec.Description,
			ContentType:    rec.ContentType,
			Size:           rec.Size,
			Epochs:         rec.Epochs,
			Deletable:      rec.Deletable,
			TxDigest:       rec.TxDigest,
			ContentPreview: rec.ContentPreview,
			Tags:           rec.Tags,
			CreatedAt:      rec.CreatedAt,
			UpdatedAt:      rec.UpdatedAt,
		})
	}
	for _, row := range versions {
		v := database.VersionRecordFromPlainRow(row)
		out.Documents = append(out.Documents, exportVersion{
			DocumentName: v.DocumentName,
			Version:      v.Version,
			BlobID:       v.BlobID,
			Description:  v.Description,
			IsCurrent:    v.IsCurrent,
			CreatedAt:    v.CreatedAt,
		})
	}

	name := opts.Filename
	if name == "" {
		name = fmt.Sprintf("walrus-export-%d.json", now.UnixMilli())
	}
	path := name
	if !filepath.IsAbs(path) && opts.Dir != "" {
		path = filepath.Join(opts.Dir, name)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("index: export dir: %w", err)
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("index: encode export: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("index: write export: %w", err)
	}
	return path, nil
}

func (s *IndexService) queries() (*sqldb.Queries, error) {
	if s.ctx == nil {
		return nil, fmt.Errorf("index service: missing database context")
	}
	if s.ctx.Queries == nil {
		if s.ctx.DB == nil {
			return nil, fmt.Errorf("index service: database handle not initialised")
		}
		s.ctx.Queries = sqldb.New(s.ctx.DB)
	}
	return s.ctx.Queries, nil
}
