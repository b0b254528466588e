// Package application wires configuration into the stores used by the CLI
// and the MCP server.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vault-md/walrusdb/db/migrations"
	"github.com/vault-md/walrusdb/internal/blobstore"
	"github.com/vault-md/walrusdb/internal/config"
	"github.com/vault-md/walrusdb/internal/database"
	"github.com/vault-md/walrusdb/internal/logging"
	"github.com/vault-md/walrusdb/internal/remote"
	"github.com/vault-md/walrusdb/internal/remote/fsremote"
	"github.com/vault-md/walrusdb/internal/remote/memremote"
	"github.com/vault-md/walrusdb/internal/remote/s3remote"
	"github.com/vault-md/walrusdb/internal/services"
	"github.com/vault-md/walrusdb/internal/tablestore"
	"github.com/vault-md/walrusdb/internal/usecase"
)

// App holds the long-lived handles for one process.
type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Index     *services.IndexService
	Versions  *services.VersionService
	Blobs     *blobstore.Store
	Documents *usecase.Document

	client    remote.Client
	indexDB   *database.Context
	indexPath string
}

// Option customises New.
type Option func(*App)

// WithClient uses client instead of the configured backend.
func WithClient(client remote.Client) Option {
	return func(a *App) { a.client = client }
}

// WithIndexPath stores the metadata index at path.
func WithIndexPath(path string) Option {
	return func(a *App) { a.indexPath = path }
}

// New builds the remote client, the metadata index and the stores on top.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{
		Config:    cfg,
		Logger:    logging.OrDefault(logger),
		indexPath: config.GetIndexPath(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.client == nil {
		client, err := NewClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.client = client
	}

	if !cfg.Cache.DisableLocalCache {
		indexDB, err := database.CreateDatabase(a.indexPath, migrations.Index)
		if err != nil {
			return nil, fmt.Errorf("open metadata index: %w", err)
		}
		a.indexDB = indexDB
	}

	a.Index = services.NewIndexService(a.indexDB, a.Logger)
	a.Versions = services.NewVersionService(a.indexDB)
	a.Blobs = blobstore.New(a.client, a.Index, blobstore.Options{
		MaxRetries:      cfg.Retry.MaxRetries,
		RetryDelay:      cfg.Retry.Delay,
		Timeout:         cfg.Timeout,
		WritesPerSecond: cfg.RateLimit.WritesPerSecond,
		Forget:          a.Versions,
		Logger:          a.Logger,
	})
	a.Documents = usecase.NewDocument(a.Blobs, a.Versions, a.Logger)
	return a, nil
}

// NewClient returns the remote backend selected by cfg.
func NewClient(ctx context.Context, cfg config.Config) (remote.Client, error) {
	switch cfg.Remote.Backend {
	case config.BackendFilesystem:
		return fsremote.New(config.GetObjectsDir(), cfg.Remote.QuotaBytes), nil
	case config.BackendMemory:
		return memremote.New(), nil
	case config.BackendS3:
		return s3remote.New(ctx, s3remote.Options{
			Bucket:   cfg.Remote.S3.Bucket,
			Region:   cfg.Remote.S3.Region,
			Endpoint: cfg.Remote.S3.Endpoint,
			Prefix:   cfg.Remote.S3.Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown remote backend %q", cfg.Remote.Backend)
	}
}

// OpenDatabase opens the named table store and waits until it is ready.
func (a *App) OpenDatabase(ctx context.Context, name string) (*tablestore.Store, error) {
	if name == "" {
		return nil, errors.New("database name is required")
	}
	store := tablestore.Open(ctx, name, a.Blobs, tablestore.Options{
		LedgerPath: config.GetLedgerPath(name),
		MirrorPath: config.GetMirrorPath(name),
		Driver:     a.Config.Mirror.Driver,
		Logger:     a.Logger,
	})
	if err := store.WaitReady(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the metadata index.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	return database.CloseDatabase(a.indexDB)
}
