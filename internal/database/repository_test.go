package database

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vault-md/walrusdb/db/migrations"
)

func TestSchemaRepositorySaveBumpsVersion(t *testing.T) {
	dbCtx := setupTestDB(t, migrations.Ledger)
	repo := NewSchemaRepository(dbCtx)
	ctx := context.Background()

	missing, err := repo.Get(ctx, "users")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, repo.Save(ctx, "users", `{"columns":[]}`, "blob-a"))
	require.NoError(t, repo.Save(ctx, "users", `{"columns":[1]}`, "blob-b"))
	require.NoError(t, repo.Save(ctx, "accounts", `{}`, "blob-c"))

	got, err := repo.Get(ctx, "users")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "blob-b", got.BlobID)
	assert.Equal(t, `{"columns":[1]}`, got.SchemaJSON)
	assert.False(t, got.CreatedAt.IsZero())

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "accounts", all[0].TableName)
	assert.Equal(t, "users", all[1].TableName)
}

func TestChunkRepositoryKeepsCreationOrder(t *testing.T) {
	dbCtx := setupTestDB(t, migrations.Ledger)
	require.NoError(t, NewSchemaRepository(dbCtx).Save(context.Background(), "users", `{}`, ""))

	repo := NewChunkRepository(dbCtx)
	ctx := context.Background()

	_, err := repo.Append(ctx, ChunkRecord{TableName: "users", ChunkID: "b", BlobID: "blob-2", RecordCount: 2, StartID: 1, EndID: 2})
	require.NoError(t, err)
	_, err = repo.Append(ctx, ChunkRecord{TableName: "users", ChunkID: "a", BlobID: "blob-3", Kind: ChunkKindUpdate, RecordCount: 1, StartID: 2, EndID: 2})
	require.NoError(t, err)
	_, err = repo.Append(ctx, ChunkRecord{TableName: "users", ChunkID: "c", BlobID: "blob-4", Kind: ChunkKindDelete, RecordCount: 1})
	require.NoError(t, err)

	chunks, err := repo.ListByTable(ctx, "users")
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{chunks[0].ChunkID, chunks[1].ChunkID, chunks[2].ChunkID})
	assert.Equal(t, ChunkKindData, chunks[0].Kind)

	count, err := repo.RecordCount(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestChunkRepositoryRejectsUnknownTable(t *testing.T) {
	dbCtx := setupTestDB(t, migrations.Ledger)
	repo := NewChunkRepository(dbCtx)

	_, err := repo.Append(context.Background(), ChunkRecord{TableName: "ghost", ChunkID: "x", BlobID: "blob"})
	require.Error(t, err)
}

func TestSyncLogRepositoryNewestFirst(t *testing.T) {
	dbCtx := setupTestDB(t, migrations.Ledger)
	repo := NewSyncLogRepository(dbCtx)
	ctx := context.Background()

	require.NoError(t, repo.Record(ctx, "CREATE_TABLE", "users", "Created table users", "blob-1"))
	require.NoError(t, repo.Record(ctx, "INSERT", "users", "Inserted 2 records", "blob-2"))
	require.NoError(t, repo.Record(ctx, "BACKUP", "", "Backup", "blob-3"))

	entries, err := repo.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "BACKUP", entries[0].Operation)
	assert.Empty(t, entries[0].TableName)
	assert.Equal(t, "INSERT", entries[1].Operation)
}

func TestDatabaseInfoRepositoryPutAndGet(t *testing.T) {
	dbCtx := setupTestDB(t, migrations.Ledger)
	repo := NewDatabaseInfoRepository(dbCtx)
	ctx := context.Background()

	got, err := repo.Get(ctx, "metadata")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.Put(ctx, "metadata", `{"name":"shop"}`, "blob-1"))
	require.NoError(t, repo.Put(ctx, "metadata", `{"name":"shop","version":"1.0.0"}`, "blob-2"))

	got, err = repo.Get(ctx, "metadata")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "blob-2", got.BlobID)
	assert.Contains(t, got.Value, "1.0.0")
}

func TestRepositoriesRequireContext(t *testing.T) {
	ctx := context.Background()

	err := NewSyncLogRepository(nil).Record(ctx, "INSERT", "", "", "")
	assert.True(t, errors.Is(err, ErrMissingContext))

	_, err = NewChunkRepository(nil).ListByTable(ctx, "users")
	assert.True(t, errors.Is(err, ErrMissingContext))

	_, err = NewSchemaRepository(&Context{}).List(ctx)
	assert.True(t, errors.Is(err, ErrMissingContext))
}
