package services

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vault-md/walrusdb/db/migrations"
	"github.com/vault-md/walrusdb/internal/database"
)

func setupServiceDB(t *testing.T) *database.Context {
	t.Helper()
	ctx, err := database.CreateDatabase(":memory:", migrations.Index)
	if err != nil {
		t.Fatalf("CreateDatabase error: %v", err)
	}

	t.Cleanup(func() {
		if err := database.CloseDatabase(ctx); err != nil {
			t.Fatalf("CloseDatabase error: %v", err)
		}
	})

	return ctx
}

func seedBlob(t *testing.T, svc *IndexService, rec database.BlobRecord) {
	t.Helper()
	if err := svc.Upsert(context.Background(), rec); err != nil {
		t.Fatalf("Upsert %s failed: %v", rec.BlobID, err)
	}
}

func TestIndexUpsertAndGet(t *testing.T) {
	svc := NewIndexService(setupServiceDB(t), nil)
	ctx := context.Background()

	seedBlob(t, svc, database.BlobRecord{
		BlobID:    "blob-1",
		Name:      "notes",
		Size:      5,
		Deletable: true,
		Tags:      []string{"a", "b"},
	})

	got, err := svc.Get(ctx, "blob-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "notes", got.Name)
	assert.Equal(t, "text/plain", got.ContentType)
	assert.True(t, got.Deletable)
	assert.Equal(t, []string{"a", "b"}, got.Tags)

	seedBlob(t, svc, database.BlobRecord{BlobID: "blob-1", Name: "renamed", Size: 5})
	got, err = svc.Get(ctx, "blob-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Empty(t, got.Tags)

	missing, err := svc.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestIndexUpsertKeepsPermanentFlag(t *testing.T) {
	svc := NewIndexService(setupServiceDB(t), nil)
	ctx := context.Background()

	seedBlob(t, svc, database.BlobRecord{BlobID: "blob-1", Name: "payroll", Size: 7})
	seedBlob(t, svc, database.BlobRecord{BlobID: "blob-1", Name: "payroll", Size: 7, Deletable: true})

	got, err := svc.Get(ctx, "blob-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.Deletable)
}

func TestIndexListOrdersNewestFirstAndPaginates(t *testing.T) {
	svc := NewIndexService(setupServiceDB(t), nil)
	base := time.Now().UTC().Add(-time.Hour)

	for i, id := range []string{"old", "mid", "new"} {
		seedBlob(t, svc, database.BlobRecord{
			BlobID:    id,
			Name:      id,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	all, err := svc.List(context.Background(), ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"new", "mid", "old"}, []string{all[0].BlobID, all[1].BlobID, all[2].BlobID})

	page, err := svc.List(context.Background(), ListOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "mid", page[0].BlobID)
}

func TestIndexListSearchAndTags(t *testing.T) {
	svc := NewIndexService(setupServiceDB(t), nil)

	seedBlob(t, svc, database.BlobRecord{BlobID: "1", Name: "Quarterly Report", Tags: []string{"finance", "q1"}})
	seedBlob(t, svc, database.BlobRecord{BlobID: "2", Name: "notes", Description: "about the REPORT", Tags: []string{"finance"}})
	seedBlob(t, svc, database.BlobRecord{BlobID: "3", Name: "misc", ContentPreview: "nothing here", Tags: []string{"q1"}})

	found, err := svc.List(context.Background(), ListOptions{Search: "report"})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	tagged, err := svc.List(context.Background(), ListOptions{Tags: []string{"finance", "q1"}})
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, "1", tagged[0].BlobID)

	preview, err := svc.List(context.Background(), ListOptions{Search: "nothing"})
	require.NoError(t, err)
	require.Len(t, preview, 1)
	assert.Equal(t, "3", preview[0].BlobID)
}

func TestIndexRemove(t *testing.T) {
	svc := NewIndexService(setupServiceDB(t), nil)
	seedBlob(t, svc, database.BlobRecord{BlobID: "gone"})

	removed, err := svc.Remove(context.Background(), "gone")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = svc.Remove(context.Background(), "gone")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestIndexCleanupKeepsVersionedBlobs(t *testing.T) {
	dbCtx := setupServiceDB(t)
	svc := NewIndexService(dbCtx, nil)
	versions := NewVersionService(dbCtx)
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -45)
	seedBlob(t, svc, database.BlobRecord{BlobID: "stale", CreatedAt: old})
	seedBlob(t, svc, database.BlobRecord{BlobID: "versioned", CreatedAt: old})
	seedBlob(t, svc, database.BlobRecord{BlobID: "fresh"})

	_, err := versions.Record(ctx, "doc", "versioned", "")
	require.NoError(t, err)

	removed, err := svc.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	rec, err := svc.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = svc.Get(ctx, "versioned")
	require.NoError(t, err)
	assert.NotNil(t, rec)

	removed, err = svc.Cleanup(ctx, 60)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestIndexExportWritesSnapshot(t *testing.T) {
	dbCtx := setupServiceDB(t)
	svc := NewIndexService(dbCtx, nil)
	ctx := context.Background()

	seedBlob(t, svc, database.BlobRecord{BlobID: "b1", Name: "doc (version)", Tags: []string{"x"}})
	_, err := NewVersionService(dbCtx).Record(ctx, "doc", "b1", "first")
	require.NoError(t, err)

	dir := t.TempDir()
	path, err := svc.Export(ctx, ExportOptions{Dir: dir, Network: "testnet", Address: "memory://local"})
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.Regexp(t, `walrus-export-\d+\.json$`, path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded struct {
		Blobs     []map[string]any `json:"blobs"`
		Documents []map[string]any `json:"documents"`
		Network   string           `json:"network"`
		Address   string           `json:"address"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Len(t, decoded.Blobs, 1)
	assert.Len(t, decoded.Documents, 1)
	assert.Equal(t, "testnet", decoded.Network)
	assert.Equal(t, "memory://local", decoded.Address)
}

func TestDisabledIndexDegrades(t *testing.T) {
	svc := NewIndexService(nil, nil)
	ctx := context.Background()

	assert.False(t, svc.Enabled())
	require.NoError(t, svc.Upsert(ctx, database.BlobRecord{BlobID: "x"}))

	rec, err := svc.Get(ctx, "x")
	require.NoError(t, err)
	assert.Nil(t, rec)

	list, err := svc.List(ctx, ListOptions{Search: "x"})
	require.NoError(t, err)
	assert.Empty(t, list)

	removed, err := svc.Cleanup(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, removed)

	_, err = svc.Export(ctx, ExportOptions{Dir: t.TempDir()})
	assert.True(t, errors.Is(err, ErrCacheUnavailable))
}

func seedBlobRecord(t *testing.T, svc *IndexService, blobID, name string, size int64) {
	t.Helper()
	seedBlob(t, svc, database.BlobRecord{BlobID: blobID, Name: name, Size: size})
}
