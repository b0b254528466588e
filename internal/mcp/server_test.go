package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vault-md/walrusdb/internal/application"
	"github.com/vault-md/walrusdb/internal/config"
	"github.com/vault-md/walrusdb/internal/remote/memremote"
	"github.com/vault-md/walrusdb/internal/tablestore"
)

func setupServer(t *testing.T) *Server {
	t.Helper()
	t.Setenv("WALRUSDB_DIR", t.TempDir())

	app, err := application.New(context.Background(), config.Default(), nil,
		application.WithClient(memremote.New()),
		application.WithIndexPath(":memory:"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	s, err := NewServer(app, "test")
	require.NoError(t, err)
	t.Cleanup(s.closeDatabases)
	return s
}

func ptr[T any](v T) *T { return &v }

func TestBlobTools(t *testing.T) {
	s := setupServer(t)
	ctx := context.Background()

	_, stored, err := s.handleBlobStore(ctx, nil, BlobStoreInput{
		Content: "hello walrus",
		Name:    ptr("greeting"),
		Tags:    []string{"demo"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, stored.BlobID)
	assert.Equal(t, int64(12), stored.Size)

	_, got, err := s.handleBlobGet(ctx, nil, BlobGetInput{BlobID: stored.BlobID})
	require.NoError(t, err)
	assert.Equal(t, "hello walrus", got.Content)
	assert.Equal(t, "greeting", got.Name)

	_, listed, err := s.handleBlobList(ctx, nil, BlobListInput{Tags: []string{"demo"}})
	require.NoError(t, err)
	require.Len(t, listed.Blobs, 1)
	assert.Equal(t, stored.BlobID, listed.Blobs[0].BlobID)
}

func TestDocumentTools(t *testing.T) {
	s := setupServer(t)
	ctx := context.Background()

	for _, body := range []string{"first", "second"} {
		_, _, err := s.handleDocVersion(ctx, nil, DocVersionInput{Document: "plan", Content: body})
		require.NoError(t, err)
	}

	_, cur, err := s.handleDocGet(ctx, nil, DocInput{Document: "plan"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), cur.Version)
	assert.Equal(t, "second", cur.Content)

	_, _, err = s.handleDocRollback(ctx, nil, DocRollbackInput{Document: "plan", Version: 1})
	require.NoError(t, err)

	_, history, err := s.handleDocHistory(ctx, nil, DocInput{Document: "plan"})
	require.NoError(t, err)
	require.Len(t, history.Versions, 2)
	assert.False(t, history.Versions[0].IsCurrent)
	assert.True(t, history.Versions[1].IsCurrent)

	_, _, err = s.handleDocGet(ctx, nil, DocInput{Document: "missing"})
	assert.Error(t, err)
}

func TestTableTools(t *testing.T) {
	s := setupServer(t)
	ctx := context.Background()

	db, err := s.database(ctx, "shop")
	require.NoError(t, err)
	require.NoError(t, db.CreateTable(ctx, "users", tablestore.Schema{Columns: []tablestore.ColumnDef{
		{Name: "id", Type: "integer", PrimaryKey: true},
		{Name: "email", Type: "text"},
	}}))

	_, inserted, err := s.handleTableInsert(ctx, nil, TableInsertInput{
		Database: "shop",
		Table:    "users",
		Rows:     []map[string]any{{"id": float64(1), "email": "a@x.com"}, {"id": float64(2), "email": "b@x.com"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, inserted.Inserted)

	_, selected, err := s.handleTableSelect(ctx, nil, TableSelectInput{Database: "shop", Table: "users", Where: ptr("id = 2")})
	require.NoError(t, err)
	require.Len(t, selected.Rows, 1)
	assert.Equal(t, "b@x.com", selected.Rows[0]["email"])

	_, _, err = s.handleTableSelect(ctx, nil, TableSelectInput{Database: "shop", Table: "ghosts"})
	assert.Error(t, err)
}
