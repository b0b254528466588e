package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vault-md/walrusdb/internal/database"
	sqldb "github.com/vault-md/walrusdb/internal/database/sqlc"
)

// VersionService maintains the document version ledger. Every mutation runs
// in one transaction so a document has exactly one current version after
// each call.
type VersionService struct {
	ctx *database.Context
}

// NewVersionService creates a new VersionService.
func NewVersionService(ctx *database.Context) *VersionService {
	return &VersionService{
		ctx: ctx,
	}
}

// Enabled reports whether a local database backs the ledger.
func (s *VersionService) Enabled() bool {
	return s != nil && s.ctx != nil && s.ctx.DB != nil
}

// Record appends blobID as the next version of documentName and makes it
// current. It returns the new version number.
func (s *VersionService) Record(ctx context.Context, documentName, blobID, description string) (version int64, err error) {
	err = s.withTx(ctx, func(txCtx context.Context, q *sqldb.Queries) error {
		maxVersion, err := q.GetMaxBlobVersion(txCtx, documentName)
		if err != nil {
			return err
		}
		version = maxVersion + 1

		if err := q.ClearCurrentBlobVersion(txCtx, documentName); err != nil {
			return err
		}

		_, err = q.InsertBlobVersion(txCtx, database.VersionInsertParams(documentName, version, blobID, description, time.Now().UTC()))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("version ledger: record %s: %w", documentName, err)
	}
	return version, nil
}

// Current returns the current version of documentName.
func (s *VersionService) Current(ctx context.Context, documentName string) (*database.VersionRecord, error) {
	q, err := s.queries()
	if err != nil {
		return nil, err
	}

	row, err := q.GetCurrentBlobVersion(ctx, documentName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	record := database.VersionRecordFromRow(row)
	return &record, nil
}

// History returns every version of documentName, newest first.
func (s *VersionService) History(ctx context.Context, documentName string) ([]database.VersionRecord, error) {
	q, err := s.queries()
	if err != nil {
		return nil, err
	}

	rows, err := q.ListBlobVersions(ctx, documentName)
	if err != nil {
		return nil, err
	}
	result := make([]database.VersionRecord, 0, len(rows))
	for _, row := range rows {
		result = append(result, database.VersionRecordFromRow(row))
	}
	return result, nil
}

// Documents summarises every document in the ledger, ordered by name.
func (s *VersionService) Documents(ctx context.Context) ([]database.DocumentSummary, error) {
	q, err := s.queries()
	if err != nil {
		return nil, err
	}

	rows, err := q.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]database.DocumentSummary, 0, len(rows))
	for _, row := range rows {
		result = append(result, database.DocumentSummaryFromRow(row))
	}
	return result, nil
}

// SetCurrent moves the current pointer of documentName to version. It
// returns ErrNotFound when the pair has no ledger row.
func (s *VersionService) SetCurrent(ctx context.Context, documentName string, version int64) error {
	return s.withTx(ctx, func(txCtx context.Context, q *sqldb.Queries) error {
		if _, err := q.GetBlobVersion(txCtx, sqldb.GetBlobVersionParams{
			DocumentName: documentName,
			Version:      version,
		}); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		if err := q.ClearCurrentBlobVersion(txCtx, documentName); err != nil {
			return err
		}
		_, err := q.MarkCurrentBlobVersion(txCtx, sqldb.MarkCurrentBlobVersionParams{
			DocumentName: documentName,
			Version:      version,
		})
		return err
	})
}

// ForgetBlob removes every ledger row pointing at blobID. A document that
// loses its current version falls back to its highest remaining version.
func (s *VersionService) ForgetBlob(ctx context.Context, blobID string) (removed int64, err error) {
	err = s.withTx(ctx, func(txCtx context.Context, q *sqldb.Queries) error {
		names, err := q.ListDocumentNamesByBlob(txCtx, blobID)
		if err != nil {
			return err
		}

		removed, err = q.DeleteBlobVersionsByBlob(txCtx, blobID)
		if err != nil {
			return err
		}

		for _, name := range names {
			current, err := q.CountCurrentBlobVersions(txCtx, name)
			if err != nil {
				return err
			}
			if current > 0 {
				continue
			}
			maxVersion, err := q.GetMaxBlobVersion(txCtx, name)
			if err != nil {
				return err
			}
			if maxVersion == 0 {
				continue
			}
			if _, err := q.MarkCurrentBlobVersion(txCtx, sqldb.MarkCurrentBlobVersionParams{
				DocumentName: name,
				Version:      maxVersion,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return removed, err
}

func (s *VersionService) withTx(ctx context.Context, fn func(context.Context, *sqldb.Queries) error) error {
	if s.ctx == nil || s.ctx.DB == nil {
		return fmt.Errorf("version service: missing database context")
	}

	tx, err := s.ctx.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	queries := sqldb.New(tx)

	if err := fn(ctx, queries); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return err
	}

	return nil
}

func (s *VersionService) queries() (*sqldb.Queries, error) {
	if s.ctx == nil {
		return nil, fmt.Errorf("version service: missing database context")
	}
	if s.ctx.Queries == nil {
		if s.ctx.DB == nil {
			return nil, fmt.Errorf("version service: database handle not initialised")
		}
		s.ctx.Queries = sqldb.New(s.ctx.DB)
	}
	return s.ctx.Queries, nil
}
