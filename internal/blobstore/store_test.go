package blobstore

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vault-md/walrusdb/db/migrations"
	"github.com/vault-md/walrusdb/internal/database"
	"github.com/vault-md/walrusdb/internal/remote/memremote"
	"github.com/vault-md/walrusdb/internal/services"
)

type fixture struct {
	store    *Store
	client   *memremote.Client
	index    *services.IndexService
	versions *services.VersionService
}

func setupStore(t *testing.T, opts Options) fixture {
	t.Helper()
	dbCtx, err := database.CreateDatabase(":memory:", migrations.Index)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.CloseDatabase(dbCtx) })

	client := memremote.New()
	index := services.NewIndexService(dbCtx, nil)
	versions := services.NewVersionService(dbCtx)
	if opts.Forget == nil {
		opts.Forget = versions
	}
	return fixture{
		store:    New(client, index, opts),
		client:   client,
		index:    index,
		versions: versions,
	}
}

func TestStoreRetrieveRoundTrip(t *testing.T) {
	f := setupStore(t, Options{})
	ctx := context.Background()

	binary := make([]byte, 8*1024)
	_, err := rand.Read(binary)
	require.NoError(t, err)
	binary[0] = 0x00

	payloads := map[string][]byte{
		"empty":  {},
		"text":   []byte("hello walrus"),
		"binary": binary,
	}
	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			res, err := f.store.Store(ctx, payload, StoreOptions{Name: name})
			require.NoError(t, err)
			assert.Equal(t, int64(len(payload)), res.Size)

			got, err := f.store.Retrieve(ctx, res.BlobID, RetrieveOptions{})
			require.NoError(t, err)
			assert.True(t, bytes.Equal(payload, got.Content))
			require.NotNil(t, got.Metadata)
			assert.Equal(t, name, got.Metadata.Name)
		})
	}
}

func TestEmptyContentIsBinary(t *testing.T) {
	f := setupStore(t, Options{})
	ctx := context.Background()

	res, err := f.store.Store(ctx, []byte{}, StoreOptions{Name: "empty"})
	require.NoError(t, err)

	got, err := f.store.Retrieve(ctx, res.BlobID, RetrieveOptions{})
	require.NoError(t, err)
	assert.Empty(t, got.Content)
	assert.Equal(t, "application/octet-stream", got.ContentType)
}

func TestStoreRecordsMetadata(t *testing.T) {
	f := setupStore(t, Options{})
	ctx := context.Background()

	res, err := f.store.StoreString(ctx, "hello", StoreOptions{
		Name:        "greeting",
		Description: "a greeting",
		Deletable:   true,
		Tags:        []string{"demo"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.TxDigest)

	rec, err := f.index.Get(ctx, res.BlobID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "text/plain", rec.ContentType)
	assert.Equal(t, int64(3), rec.Epochs)
	assert.Equal(t, "hello", rec.ContentPreview)
	assert.Equal(t, []string{"demo"}, rec.Tags)
	assert.True(t, rec.Deletable)
}

func TestStoreRetryBound(t *testing.T) {
	f := setupStore(t, Options{MaxRetries: 3})
	f.client.FailNextWrites(10, true)

	_, err := f.store.StoreString(context.Background(), "doomed", StoreOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStoreExhausted))
	assert.True(t, errors.Is(err, memremote.ErrInjected))
	assert.Equal(t, 3, f.client.Writes())
	assert.Equal(t, 3, f.client.Resets())
}

func TestStoreNonRetryableFailuresConsumeAttempts(t *testing.T) {
	f := setupStore(t, Options{MaxRetries: 3})
	f.client.FailNextWrites(2, false)

	res, err := f.store.StoreString(context.Background(), "third time lucky", StoreOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.BlobID)
	assert.Equal(t, 3, f.client.Writes())
	assert.Zero(t, f.client.Resets())
}

func TestStoreWithRateLimit(t *testing.T) {
	f := setupStore(t, Options{WritesPerSecond: 1000})
	for i := 0; i < 3; i++ {
		_, err := f.store.StoreString(context.Background(), string(rune('a'+i)), StoreOptions{})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, f.client.Writes())
}

func TestStoreStopsOnCancelledContext(t *testing.T) {
	f := setupStore(t, Options{MaxRetries: 5})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.store.StoreString(ctx, "x", StoreOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStoreExhausted))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRetrieveForceNetworkSkipsIndex(t *testing.T) {
	f := setupStore(t, Options{})
	ctx := context.Background()

	res, err := f.store.StoreString(ctx, "payload", StoreOptions{Name: "named"})
	require.NoError(t, err)

	got, err := f.store.Retrieve(ctx, res.BlobID, RetrieveOptions{ForceNetwork: true})
	require.NoError(t, err)
	assert.Nil(t, got.Metadata)
	assert.Equal(t, "payload", string(got.Content))
	assert.Equal(t, "text/plain", got.ContentType)
}

func TestRetrieveBackfillsIndexOnMiss(t *testing.T) {
	f := setupStore(t, Options{})
	ctx := context.Background()

	res, err := f.store.StoreString(ctx, "orphan", StoreOptions{})
	require.NoError(t, err)
	_, err = f.index.Remove(ctx, res.BlobID)
	require.NoError(t, err)

	got, err := f.store.Retrieve(ctx, res.BlobID, RetrieveOptions{})
	require.NoError(t, err)
	assert.Nil(t, got.Metadata)

	rec, err := f.index.Get(ctx, res.BlobID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(6), rec.Size)
}

func TestRetrieveUnknownBlob(t *testing.T) {
	f := setupStore(t, Options{})
	_, err := f.store.Retrieve(context.Background(), "bafkreimissing", RetrieveOptions{})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDelete(t *testing.T) {
	f := setupStore(t, Options{})
	ctx := context.Background()

	err := f.store.Delete(ctx, "unknown")
	assert.True(t, errors.Is(err, ErrNotFound))

	kept, err := f.store.StoreString(ctx, "keep me", StoreOptions{})
	require.NoError(t, err)
	err = f.store.Delete(ctx, kept.BlobID)
	assert.True(t, errors.Is(err, ErrNotDeletable))

	gone, err := f.store.StoreString(ctx, "drop me", StoreOptions{Deletable: true})
	require.NoError(t, err)
	_, err = f.versions.Record(ctx, "doc", kept.BlobID, "")
	require.NoError(t, err)
	_, err = f.versions.Record(ctx, "doc", gone.BlobID, "")
	require.NoError(t, err)

	require.NoError(t, f.store.Delete(ctx, gone.BlobID))

	rec, err := f.index.Get(ctx, gone.BlobID)
	require.NoError(t, err)
	assert.Nil(t, rec)

	current, err := f.versions.Current(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, kept.BlobID, current.BlobID)

	_, err = f.store.Retrieve(ctx, gone.BlobID, RetrieveOptions{})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRestoringPermanentContentKeepsItPermanent(t *testing.T) {
	f := setupStore(t, Options{})
	ctx := context.Background()

	permanent, err := f.store.StoreString(ctx, "payroll", StoreOptions{})
	require.NoError(t, err)
	again, err := f.store.StoreString(ctx, "payroll", StoreOptions{Deletable: true})
	require.NoError(t, err)
	require.Equal(t, permanent.BlobID, again.BlobID)

	err = f.store.Delete(ctx, permanent.BlobID)
	assert.True(t, errors.Is(err, ErrNotDeletable))

	got, err := f.store.Retrieve(ctx, permanent.BlobID, RetrieveOptions{ForceNetwork: true})
	require.NoError(t, err)
	assert.Equal(t, "payroll", string(got.Content))
	assert.Error(t, f.client.Delete(ctx, permanent.BlobID))
}

func TestCacheNonAuthority(t *testing.T) {
	ctx := context.Background()
	client := memremote.New()
	store := New(client, services.NewIndexService(nil, nil), Options{})

	res, err := store.StoreString(ctx, "still works", StoreOptions{Name: "uncached"})
	require.NoError(t, err)

	got, err := store.Retrieve(ctx, res.BlobID, RetrieveOptions{})
	require.NoError(t, err)
	assert.Equal(t, "still works", string(got.Content))
	assert.Nil(t, got.Metadata)

	list, err := store.Index().List(ctx, services.ListOptions{Search: "uncached"})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCheckBalanceNeverBlocks(t *testing.T) {
	f := setupStore(t, Options{})
	f.client.SetBalance(0)

	balance, err := f.store.CheckBalance(context.Background())
	require.NoError(t, err)
	assert.Zero(t, balance)

	_, err = f.store.StoreString(context.Background(), "written anyway", StoreOptions{})
	require.NoError(t, err)
}
