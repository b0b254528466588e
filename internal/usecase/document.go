package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vault-md/walrusdb/internal/blobstore"
	"github.com/vault-md/walrusdb/internal/database"
	"github.com/vault-md/walrusdb/internal/logging"
	"github.com/vault-md/walrusdb/internal/services"
	"github.com/vault-md/walrusdb/internal/tracing"
)

var (
	// ErrDocumentNotFound is returned when a document has no versions.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrVersionNotFound is returned when a document has no such version.
	ErrVersionNotFound = errors.New("version not found")
)

// Document maps document names onto ordered blob versions with a single
// current pointer. The ledger lives in the local index database; without it
// versions are still stored remotely but not tracked.
type Document struct {
	blobs    *blobstore.Store
	versions *services.VersionService
	logger   *slog.Logger
}

func NewDocument(blobs *blobstore.Store, versions *services.VersionService, logger *slog.Logger) *Document {
	return &Document{
		blobs:    blobs,
		versions: versions,
		logger:   logging.OrDefault(logger),
	}
}

type StoreVersionInput struct {
	Description string
	ContentType string
	Deletable   bool
	Epochs      int
	Tags        []string
}

type StoreVersionResult struct {
	BlobID       string
	DocumentName string
	// Version is 0 when the ledger is unavailable.
	Version  int64
	Size     int64
	TxDigest string
}

// StoreVersion stores content as a new blob and records it as the next,
// current version of documentName.
func (u *Document) StoreVersion(ctx context.Context, documentName string, content []byte, input StoreVersionInput) (*StoreVersionResult, error) {
	ctx, span := tracing.Start(ctx, "document.store_version")
	defer span.End()
	span.SetAttributes(attribute.String(tracing.AttrKeyDocument, documentName))

	res, err := u.blobs.Store(ctx, content, blobstore.StoreOptions{
		Name:        documentName + " (version)",
		Description: input.Description,
		ContentType: input.ContentType,
		Deletable:   input.Deletable,
		Epochs:      input.Epochs,
		Tags:        input.Tags,
	})
	if err != nil {
		return nil, err
	}

	result := &StoreVersionResult{
		BlobID:       res.BlobID,
		DocumentName: documentName,
		Size:         res.Size,
		TxDigest:     res.TxDigest,
	}

	if !u.versions.Enabled() {
		u.logger.WarnContext(ctx, "version tracking unavailable, blob stored untracked", "document", documentName, "blob_id", res.BlobID)
		return result, nil
	}

	version, err := u.versions.Record(ctx, documentName, res.BlobID, input.Description)
	if err != nil {
		u.logger.WarnContext(ctx, "failed to record version", "document", documentName, "blob_id", res.BlobID, "err", err)
		return result, nil
	}
	result.Version = version
	u.logger.InfoContext(ctx, "created version", "document", documentName, "version", version, "blob_id", res.BlobID)
	return result, nil
}

type CurrentVersion struct {
	DocumentName string
	Version      int64
	BlobID       string
	Description  string
	Content      []byte
	ContentType  string
	Size         int64
	CreatedAt    time.Time
}

// GetCurrentVersion returns the current version with its content fetched
// from the remote store.
func (u *Document) GetCurrentVersion(ctx context.Context, documentName string) (*CurrentVersion, error) {
	if !u.versions.Enabled() {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentName)
	}

	rec, err := u.versions.Current(ctx, documentName)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentName)
		}
		return nil, err
	}

	content, err := u.blobs.Retrieve(ctx, rec.BlobID, blobstore.RetrieveOptions{})
	if err != nil {
		return nil, err
	}

	return &CurrentVersion{
		DocumentName: documentName,
		Version:      rec.Version,
		BlobID:       rec.BlobID,
		Description:  rec.Description,
		Content:      content.Content,
		ContentType:  content.ContentType,
		Size:         content.Size,
		CreatedAt:    rec.CreatedAt,
	}, nil
}

// GetHistory returns every version of documentName, newest first. It is
// empty when the ledger is unavailable.
func (u *Document) GetHistory(ctx context.Context, documentName string) ([]database.VersionRecord, error) {
	if !u.versions.Enabled() {
		return []database.VersionRecord{}, nil
	}
	return u.versions.History(ctx, documentName)
}

// ListDocuments summarises every tracked document.
func (u *Document) ListDocuments(ctx context.Context) ([]database.DocumentSummary, error) {
	if !u.versions.Enabled() {
		return []database.DocumentSummary{}, nil
	}
	return u.versions.Documents(ctx)
}

// SetCurrentVersion rolls documentName back or forward to version. No blob
// is written.
func (u *Document) SetCurrentVersion(ctx context.Context, documentName string, version int64) error {
	if !u.versions.Enabled() {
		return fmt.Errorf("%w: %s v%d", ErrVersionNotFound, documentName, version)
	}

	if err := u.versions.SetCurrent(ctx, documentName, version); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return fmt.Errorf("%w: %s v%d", ErrVersionNotFound, documentName, version)
		}
		return err
	}
	u.logger.InfoContext(ctx, "set current version", "document", documentName, "version", version)
	return nil
}
