package tablestore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vault-md/walrusdb/db/migrations"
	"github.com/vault-md/walrusdb/internal/blobstore"
	"github.com/vault-md/walrusdb/internal/database"
	"github.com/vault-md/walrusdb/internal/mirror"
	"github.com/vault-md/walrusdb/internal/remote/memremote"
	"github.com/vault-md/walrusdb/internal/services"
)

type fixture struct {
	dir    string
	client *memremote.Client
	blobs  *blobstore.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	idx, err := database.CreateDatabase(":memory:", migrations.Index)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.CloseDatabase(idx) })

	client := memremote.New()
	return &fixture{
		dir:    t.TempDir(),
		client: client,
		blobs:  blobstore.New(client, services.NewIndexService(idx, nil), blobstore.Options{}),
	}
}

// open starts a Store sharing the ledger but using its own mirror file.
func (f *fixture) open(t *testing.T, name, mirrorName string) *Store {
	t.Helper()
	s := Open(context.Background(), name, f.blobs, Options{
		LedgerPath: filepath.Join(f.dir, name+"-meta.db"),
		MirrorPath: filepath.Join(f.dir, mirrorName),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.WaitReady(ctx))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func usersSchema() Schema {
	return Schema{Columns: []ColumnDef{
		{Name: "id", Type: "integer", PrimaryKey: true, AutoIncrement: true},
		{Name: "email", Type: "text", Unique: true},
	}}
}

func TestUsersScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, "app", "first.db")

	require.NoError(t, s.CreateTable(ctx, "users", usersSchema()))
	n, err := s.Insert(ctx, "users", []Row{
		{"id": 1, "email": "a@x.com"},
		{"id": 2, "email": "b@x.com"},
	}, InsertOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := s.Select(ctx, "users", SelectOptions{Where: "id=2"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "b@x.com", rows[0]["email"])

	changed, err := s.Update(ctx, "users", Row{"email": "c@x.com"}, "id=2", SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed)

	rows, err = s.Select(ctx, "users", SelectOptions{Where: "id=2"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "c@x.com", rows[0]["email"])
	require.NoError(t, s.Close())

	fresh := f.open(t, "app", "second.db")
	rows, err = fresh.Select(ctx, "users", SelectOptions{Where: "id=2"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "c@x.com", rows[0]["email"])
}

func TestReplayConvergesOnOriginalRowSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, "inv", "a.db")

	require.NoError(t, s.CreateTable(ctx, "items", Schema{Columns: []ColumnDef{
		{Name: "id", Type: "integer", PrimaryKey: true},
		{Name: "name", Type: "text"},
		{Name: "qty", Type: "integer"},
		{Name: "price", Type: "real"},
	}}))
	_, err := s.Insert(ctx, "items", []Row{
		{"id": 1, "name": "bolt", "qty": 10, "price": 0.25},
		{"id": 2, "name": "nut", "qty": 5, "price": 0.1},
		{"id": 3, "name": "gear", "qty": 1, "price": 12.5},
	}, InsertOptions{})
	require.NoError(t, err)
	_, err = s.Update(ctx, "items", Row{"qty": 99}, "qty < 10", SyncOptions{})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "items", []Row{{"id": 4, "name": "cog", "qty": 7, "price": 3.0}}, InsertOptions{})
	require.NoError(t, err)
	_, err = s.Update(ctx, "items", Row{"name": "big gear"}, "id = 3", SyncOptions{})
	require.NoError(t, err)

	want, err := s.Select(ctx, "items", SelectOptions{OrderBy: "id"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	fresh := f.open(t, "inv", "b.db")
	got, err := fresh.Select(ctx, "items", SelectOptions{OrderBy: "id"})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestUpdateOfFilteredColumnReplays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, "work", "a.db")

	require.NoError(t, s.CreateTable(ctx, "tasks", Schema{Columns: []ColumnDef{
		{Name: "id", Type: "integer", PrimaryKey: true},
		{Name: "status", Type: "text"},
	}}))
	_, err := s.Insert(ctx, "tasks", []Row{{"id": 1, "status": "new"}, {"id": 2, "status": "open"}}, InsertOptions{})
	require.NoError(t, err)

	changed, err := s.Update(ctx, "tasks", Row{"status": "done"}, "status = 'new'", SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed)
	require.NoError(t, s.Close())

	fresh := f.open(t, "work", "b.db")
	rows, err := fresh.Select(ctx, "tasks", SelectOptions{OrderBy: "id"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "done", rows[0]["status"])
	assert.Equal(t, "open", rows[1]["status"])
}

func TestInsertRejectsUnknownColumns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, "app", "a.db")

	require.NoError(t, s.CreateTable(ctx, "users", usersSchema()))
	writes := f.client.Writes()
	_, err := s.Insert(ctx, "users", []Row{{"id": 1}, {"id": 2, "email": "b@x.com", "nickname": "bee"}}, InsertOptions{})
	require.ErrorIs(t, err, mirror.ErrUnknownColumn)
	assert.Equal(t, writes, f.client.Writes())

	info, err := s.GetTableInfo(ctx, "users")
	require.NoError(t, err)
	assert.Zero(t, info.LocalCount)
	assert.Zero(t, info.MetadataCount)
}

func TestInsertKeepsKeysOnlyInLaterRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, "app", "a.db")

	require.NoError(t, s.CreateTable(ctx, "users", Schema{Columns: []ColumnDef{
		{Name: "id", Type: "integer", PrimaryKey: true},
		{Name: "email", Type: "text"},
		{Name: "role", Type: "text", DefaultValue: "member"},
	}}))
	_, err := s.Insert(ctx, "users", []Row{{"id": 1}, {"id": 2, "email": "b@x.com"}}, InsertOptions{})
	require.NoError(t, err)

	rows, err := s.Select(ctx, "users", SelectOptions{OrderBy: "id"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Nil(t, rows[0]["email"])
	assert.Equal(t, "member", rows[0]["role"])
	assert.Equal(t, "b@x.com", rows[1]["email"])
	assert.Equal(t, "member", rows[1]["role"])
}

func TestTableInfoIsASnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, "app", "a.db")

	require.NoError(t, s.CreateTable(ctx, "users", usersSchema()))
	info, err := s.GetTableInfo(ctx, "users")
	require.NoError(t, err)

	_, err = s.Insert(ctx, "users", []Row{{"id": 1, "email": "a@x.com"}}, InsertOptions{SkipSync: true})
	require.NoError(t, err)
	assert.Zero(t, info.Schema.RecordCount)

	info.Schema.Columns[0].Name = "changed"
	meta, err := s.TableSchema(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, "id", meta.Columns[0].Name)
	assert.Equal(t, int64(1), meta.RecordCount)
}

func TestDeletionLogsAreReplayed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, "app", "a.db")

	require.NoError(t, s.CreateTable(ctx, "users", usersSchema()))
	_, err := s.Insert(ctx, "users", []Row{
		{"id": 1, "email": "a@x.com"},
		{"id": 2, "email": "b@x.com"},
		{"id": 3, "email": "c@x.com"},
	}, InsertOptions{})
	require.NoError(t, err)

	removed, err := s.Delete(ctx, "users", "id = 3", SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	info, err := s.GetTableInfo(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.LocalCount)
	assert.Equal(t, int64(2), info.MetadataCount)
	require.NoError(t, s.Close())

	fresh := f.open(t, "app", "b.db")
	rows, err := fresh.Select(ctx, "users", SelectOptions{OrderBy: "id"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b@x.com", rows[1]["email"])
}

func TestUnsyncedWritesStayLocal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, "app", "a.db")

	require.NoError(t, s.CreateTable(ctx, "users", usersSchema()))
	writes := f.client.Writes()
	_, err := s.Insert(ctx, "users", []Row{{"id": 1, "email": "a@x.com"}}, InsertOptions{SkipSync: true})
	require.NoError(t, err)
	_, err = s.Delete(ctx, "users", "id = 1", SyncOptions{SkipSync: true})
	require.NoError(t, err)
	assert.Equal(t, writes, f.client.Writes())
}

func TestInsertSplitsIntoChunks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, "bulk", "a.db")

	require.NoError(t, s.CreateTable(ctx, "points", Schema{Columns: []ColumnDef{
		{Name: "id", Type: "integer", PrimaryKey: true},
		{Name: "v", Type: "real"},
	}}))

	rows := make([]Row, 25)
	for i := range rows {
		rows[i] = Row{"id": i + 1, "v": float64(i) / 2}
	}
	writes := f.client.Writes()
	n, err := s.Insert(ctx, "points", rows, InsertOptions{ChunkSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 25, n)
	assert.Equal(t, writes+3, f.client.Writes())

	chunks, err := f.blobs.Index().List(ctx, services.ListOptions{Tags: []string{"chunk", "points"}})
	require.NoError(t, err)
	assert.Len(t, chunks, 3)
}

func TestUnknownTableAndInvalidSchema(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, "app", "a.db")

	_, err := s.Insert(ctx, "ghosts", []Row{{"id": 1}}, InsertOptions{})
	assert.True(t, errors.Is(err, ErrUnknownTable))
	_, err = s.Select(ctx, "ghosts", SelectOptions{})
	assert.True(t, errors.Is(err, ErrUnknownTable))
	_, err = s.Update(ctx, "ghosts", Row{"a": 1}, "", SyncOptions{})
	assert.True(t, errors.Is(err, ErrUnknownTable))
	_, err = s.Delete(ctx, "ghosts", "", SyncOptions{})
	assert.True(t, errors.Is(err, ErrUnknownTable))
	_, err = s.GetTableInfo(ctx, "ghosts")
	assert.True(t, errors.Is(err, ErrUnknownTable))

	assert.True(t, errors.Is(s.CreateTable(ctx, "empty", Schema{}), ErrInvalidSchema))
	assert.True(t, errors.Is(s.CreateTable(ctx, "bad-name", usersSchema()), ErrInvalidSchema))
	assert.True(t, errors.Is(s.CreateTable(ctx, "t", Schema{Columns: []ColumnDef{{Name: "a b", Type: "text"}}}), ErrInvalidSchema))
}

func TestFailedInitIsTerminal(t *testing.T) {
	s := Open(context.Background(), "broken", nil, Options{LedgerPath: ":memory:", MirrorPath: ":memory:"})
	err := s.WaitReady(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotReady))

	_, err = s.Tables(context.Background())
	assert.True(t, errors.Is(err, ErrNotReady))
	assert.NoError(t, s.Close())
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, "app", "a.db")
	require.NoError(t, s.Close())

	_, err := s.Tables(context.Background())
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestBackupStatsRawAndLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, "shop", "a.db")

	require.NoError(t, s.CreateTable(ctx, "users", usersSchema()))
	_, err := s.Insert(ctx, "users", []Row{{"id": 1, "email": "a@x.com"}}, InsertOptions{})
	require.NoError(t, err)

	blobID, err := s.Backup(ctx, "")
	require.NoError(t, err)
	rec, err := f.blobs.Index().Get(ctx, blobID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Contains(t, rec.Name, "shop-backup-")
	assert.ElementsMatch(t, []string{"backup", "database", "shop"}, rec.Tags)

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "shop", stats.Database)
	assert.Equal(t, 1, stats.Tables)
	assert.Equal(t, int64(1), stats.TotalRecords)
	assert.Positive(t, stats.RemoteBlobs)
	assert.Positive(t, stats.CacheSize)

	res, err := s.Raw(ctx, `SELECT COUNT(*) AS n FROM users`)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(1), res.Rows[0]["n"])

	res, err = s.Raw(ctx, `UPDATE users SET email = ? WHERE id = ?`, "z@x.com", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected)

	entries, err := s.SyncLog(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "BACKUP", entries[0].Operation)
	assert.Equal(t, "INSERT", entries[1].Operation)
	assert.Equal(t, "CREATE_TABLE", entries[2].Operation)

	tables, err := s.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, tables)

	meta, err := s.TableSchema(ctx, "users")
	require.NoError(t, err)
	assert.Len(t, meta.Columns, 2)
}

func TestMetadataBlobDrivesTableListOnFreshLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, "cat", "a.db")
	require.NoError(t, s.CreateTable(ctx, "books", Schema{Columns: []ColumnDef{{Name: "id", Type: "integer", PrimaryKey: true}}}))
	require.NoError(t, s.Close())

	other := Open(ctx, "cat", f.blobs, Options{
		LedgerPath: filepath.Join(f.dir, "elsewhere-meta.db"),
		MirrorPath: filepath.Join(f.dir, "b.db"),
	})
	require.NoError(t, other.WaitReady(ctx))
	defer func() { _ = other.Close() }()

	tables, err := other.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"books"}, tables)

	_, err = other.Insert(ctx, "books", []Row{{"id": 1}}, InsertOptions{SkipSync: true})
	require.NoError(t, err)
}

func TestSQLType(t *testing.T) {
	cases := map[string]string{
		"text": "TEXT", "String": "TEXT", "integer": "INTEGER", "int": "INTEGER",
		"real": "REAL", "float": "REAL", "boolean": "INTEGER", "datetime": "TEXT",
		"json": "TEXT", "uuid": "TEXT",
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, SQLType(in))
		})
	}
}

func TestDefaultLiteral(t *testing.T) {
	assert.Equal(t, "", defaultLiteral(nil))
	assert.Equal(t, "'it''s'", defaultLiteral("it's"))
	assert.Equal(t, "1", defaultLiteral(true))
	assert.Equal(t, "2.5", defaultLiteral(2.5))
	assert.Equal(t, "7", defaultLiteral(7))
}

func TestIDRange(t *testing.T) {
	lo, hi := idRange([]Row{{"id": 5}, {"id": float64(2)}, {"name": "x"}})
	assert.Equal(t, int64(0), lo)
	assert.Equal(t, int64(5), hi)

	lo, hi = idRange(nil)
	assert.Zero(t, lo)
	assert.Zero(t, hi)
	assert.Equal(t, "7", fmt.Sprint(numericID(int64(7))))
}
