// Package blobstore writes, reads and deletes blobs on a remote store with
// bounded retry, and keeps the local metadata index in step.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/vault-md/walrusdb/internal/database"
	"github.com/vault-md/walrusdb/internal/logging"
	"github.com/vault-md/walrusdb/internal/remote"
	"github.com/vault-md/walrusdb/internal/services"
	"github.com/vault-md/walrusdb/internal/tracing"
)

var (
	// ErrStoreExhausted is returned when every write attempt failed.
	ErrStoreExhausted = errors.New("blobstore: store exhausted")
	// ErrNotFound is returned when the index holds no record for a blob.
	ErrNotFound = errors.New("blobstore: blob not found")
	// ErrNotDeletable is returned when a blob was not stored as deletable.
	ErrNotDeletable = errors.New("blobstore: blob is not deletable")
)

// Forgetter drops ledger references to a deleted blob.
type Forgetter interface {
	ForgetBlob(ctx context.Context, blobID string) (int64, error)
}

// Options tune the retry policy and bookkeeping. Zero MaxRetries, Timeout
// and LowBalance take their defaults; a zero RetryDelay retries immediately.
type Options struct {
	MaxRetries      int
	RetryDelay      time.Duration
	Timeout         time.Duration
	WritesPerSecond float64
	LowBalance      float64
	Forget          Forgetter
	Logger          *slog.Logger
}

// DefaultOptions returns the production retry policy.
func DefaultOptions() Options {
	return Options{
		MaxRetries: 5,
		RetryDelay: 5 * time.Second,
		Timeout:    120 * time.Second,
		LowBalance: 0.001,
	}
}

// StoreOptions describe a blob being stored. Epochs defaults to 3 and
// ContentType to text/plain.
type StoreOptions struct {
	Name        string
	Description string
	ContentType string
	Deletable   bool
	Epochs      int
	Tags        []string
}

type StoreResult struct {
	BlobID   string
	Size     int64
	TxDigest string
}

type RetrieveOptions struct {
	// ForceNetwork skips the index lookup for display metadata.
	ForceNetwork bool
}

type RetrieveResult struct {
	Content     []byte
	ContentType string
	Size        int64
	// Metadata is the cached index record, when one was consulted and found.
	Metadata *database.BlobRecord
}

// Store is a handle on one remote client. Calls are logically sequential.
type Store struct {
	client  remote.Client
	index   *services.IndexService
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a Store. index may be a disabled IndexService.
func New(client remote.Client, index *services.IndexService, opts Options) *Store {
	defaults := DefaultOptions()
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaults.MaxRetries
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.LowBalance <= 0 {
		opts.LowBalance = defaults.LowBalance
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if index == nil {
		index = services.NewIndexService(nil, opts.Logger)
	}

	s := &Store{
		client: client,
		index:  index,
		opts:   opts,
		logger: logging.OrDefault(opts.Logger),
	}
	if opts.WritesPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.WritesPerSecond), 1)
	}
	return s
}

// Index exposes the metadata index for listing, search, export and cleanup.
func (s *Store) Index() *services.IndexService {
	return s.index
}

// Address identifies the remote account or location.
func (s *Store) Address() string {
	return s.client.Address()
}

// StoreString stores s as UTF-8 bytes.
func (s *Store) StoreString(ctx context.Context, content string, opts StoreOptions) (StoreResult, error) {
	return s.Store(ctx, []byte(content), opts)
}

// Store writes content to the remote store, retrying up to MaxRetries times
// with RetryDelay between attempts. Every failure consumes an attempt;
// retryable failures also reset the client. The index is updated after a
// successful write and failures there are logged, not returned.
func (s *Store) Store(ctx context.Context, content []byte, opts StoreOptions) (StoreResult, error) {
	ctx, span := tracing.Start(ctx, "blobstore.store")
	defer span.End()
	span.SetAttributes(attribute.Int(tracing.AttrKeyBlobSize, len(content)))

	if opts.Epochs <= 0 {
		opts.Epochs = 3
	}
	if opts.ContentType == "" {
		opts.ContentType = contentTypeText
	}

	if _, err := s.CheckBalance(ctx); err != nil {
		s.logger.WarnContext(ctx, "balance check failed", "err", err)
	}

	var (
		res     remote.WriteResult
		lastErr error
	)
	for attempt := 1; attempt <= s.opts.MaxRetries; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, s.opts.RetryDelay); err != nil {
				lastErr = err
				break
			}
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				lastErr = err
				break
			}
		}

		s.logger.DebugContext(ctx, "storing blob", "name", opts.Name, "size", len(content), "attempt", attempt)
		span.SetAttributes(attribute.Int(tracing.AttrKeyAttempt, attempt))

		var err error
		res, err = s.write(ctx, content, opts)
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err

		if remote.IsRetryable(err) {
			s.logger.WarnContext(ctx, "retryable store failure, resetting client", "attempt", attempt, "max", s.opts.MaxRetries, "err", err)
			s.client.Reset()
		} else {
			s.logger.WarnContext(ctx, "store attempt failed", "attempt", attempt, "max", s.opts.MaxRetries, "err", err)
		}
	}
	if lastErr != nil {
		err := fmt.Errorf("%w after %d attempts: %w", ErrStoreExhausted, s.opts.MaxRetries, lastErr)
		tracing.SetSpanError(ctx, "store_exhausted", err)
		return StoreResult{}, err
	}

	span.SetAttributes(attribute.String(tracing.AttrKeyBlobID, res.BlobID))
	s.logger.InfoContext(ctx, "blob stored", "blob_id", res.BlobID, "name", opts.Name, "size", len(content))

	if err := s.index.Upsert(ctx, database.BlobRecord{
		BlobID:         res.BlobID,
		Name:           opts.Name,
		Description:    opts.Description,
		ContentType:    opts.ContentType,
		Size:           int64(len(content)),
		Epochs:         int64(opts.Epochs),
		Deletable:      opts.Deletable,
		TxDigest:       res.TxDigest,
		ContentPreview: Preview(content),
		Tags:           opts.Tags,
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to cache blob metadata", "blob_id", res.BlobID, "err", err)
	}

	return StoreResult{
		BlobID:   res.BlobID,
		Size:     int64(len(content)),
		TxDigest: res.TxDigest,
	}, nil
}

func (s *Store) write(ctx context.Context, content []byte, opts StoreOptions) (remote.WriteResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	return s.client.Write(ctx, content, remote.WriteOptions{
		Deletable: opts.Deletable,
		Epochs:    opts.Epochs,
	})
}

// Retrieve reads a blob from the remote store. Content is always fetched
// from the network; the index only supplies display metadata.
func (s *Store) Retrieve(ctx context.Context, blobID string, opts RetrieveOptions) (RetrieveResult, error) {
	ctx, span := tracing.Start(ctx, "blobstore.retrieve")
	defer span.End()
	span.SetAttributes(attribute.String(tracing.AttrKeyBlobID, blobID))

	var cached *database.BlobRecord
	if !opts.ForceNetwork {
		cached, _ = s.index.Get(ctx, blobID)
	}

	content, err := s.read(ctx, blobID)
	if err != nil {
		tracing.SetSpanError(ctx, "retrieve", err)
		if errors.Is(err, remote.ErrBlobNotFound) {
			return RetrieveResult{}, fmt.Errorf("%w: %s: %w", ErrNotFound, blobID, err)
		}
		return RetrieveResult{}, fmt.Errorf("blobstore: retrieve %s: %w", blobID, err)
	}

	contentType := SniffContentType(content)
	if cached == nil && !opts.ForceNetwork {
		if err := s.index.Upsert(ctx, database.BlobRecord{
			BlobID:         blobID,
			ContentType:    contentType,
			Size:           int64(len(content)),
			ContentPreview: Preview(content),
		}); err != nil {
			s.logger.WarnContext(ctx, "failed to back-fill blob metadata", "blob_id", blobID, "err", err)
		}
	}

	return RetrieveResult{
		Content:     content,
		ContentType: contentType,
		Size:        int64(len(content)),
		Metadata:    cached,
	}, nil
}

// read retries only retryable failures.
func (s *Store) read(ctx context.Context, blobID string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxRetries; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, s.opts.RetryDelay); err != nil {
				return nil, err
			}
		}
		attemptCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		data, err := s.client.Read(attemptCtx, blobID)
		cancel()
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !remote.IsRetryable(err) {
			return nil, err
		}
		s.logger.WarnContext(ctx, "retryable read failure, resetting client", "blob_id", blobID, "attempt", attempt, "err", err)
		s.client.Reset()
	}
	return nil, lastErr
}

// Delete removes a blob that was stored deletable through this index.
func (s *Store) Delete(ctx context.Context, blobID string) error {
	ctx, span := tracing.Start(ctx, "blobstore.delete")
	defer span.End()
	span.SetAttributes(attribute.String(tracing.AttrKeyBlobID, blobID))

	rec, err := s.index.Get(ctx, blobID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, blobID)
	}
	if !rec.Deletable {
		return fmt.Errorf("%w: %s", ErrNotDeletable, blobID)
	}

	deleteCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	if err := s.client.Delete(deleteCtx, blobID); err != nil {
		tracing.SetSpanError(ctx, "delete", err)
		return fmt.Errorf("blobstore: delete %s: %w", blobID, err)
	}
	s.logger.InfoContext(ctx, "blob deleted", "blob_id", blobID)

	if _, err := s.index.Remove(ctx, blobID); err != nil {
		s.logger.WarnContext(ctx, "failed to remove blob from index", "blob_id", blobID, "err", err)
	}
	if s.opts.Forget != nil {
		if _, err := s.opts.Forget.ForgetBlob(ctx, blobID); err != nil {
			s.logger.WarnContext(ctx, "failed to drop version references", "blob_id", blobID, "err", err)
		}
	}
	return nil
}

// CheckBalance queries the remote balance and warns when it is below the
// low-balance threshold. It never blocks a write.
func (s *Store) CheckBalance(ctx context.Context) (float64, error) {
	balance, err := s.client.Balance(ctx)
	if err != nil {
		return 0, err
	}
	if balance < s.opts.LowBalance {
		s.logger.WarnContext(ctx, "remote balance is low", "balance", balance, "threshold", s.opts.LowBalance, "address", s.client.Address())
	} else {
		s.logger.DebugContext(ctx, "remote balance", "balance", balance, "address", s.client.Address())
	}
	return balance, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
