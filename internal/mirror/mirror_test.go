package mirror

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestMirror(t *testing.T) *Mirror {
	t.Helper()
	m, err := Open(":memory:", DriverModernc)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func usersColumns() []Column {
	return []Column{
		{Name: "id", Type: "INTEGER", PrimaryKey: true, AutoIncrement: true},
		{Name: "email", Type: "TEXT", Unique: true},
		{Name: "active", Type: "INTEGER", Default: "1"},
	}
}

func TestCreateInsertQuery(t *testing.T) {
	m := openTestMirror(t)
	ctx := context.Background()

	require.NoError(t, m.CreateTable(ctx, "users", usersColumns()))
	n, err := m.InsertOrReplace(ctx, "users", []Row{
		{"id": float64(1), "email": "a@x.com"},
		{"id": float64(2), "email": "b@x.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rows, err := m.Query(ctx, `SELECT * FROM "users" WHERE id = ?`, 2)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "b@x.com", rows[0]["email"])
	assert.Equal(t, int64(2), rows[0]["id"])
	assert.Equal(t, int64(1), rows[0]["active"])

	count, err := m.Count(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestInsertOrReplaceOverwritesByPrimaryKey(t *testing.T) {
	m := openTestMirror(t)
	ctx := context.Background()

	require.NoError(t, m.CreateTable(ctx, "users", usersColumns()))
	_, err := m.InsertOrReplace(ctx, "users", []Row{{"id": 1, "email": "a@x.com"}})
	require.NoError(t, err)
	_, err = m.InsertOrReplace(ctx, "users", []Row{{"id": 1, "email": "z@x.com"}})
	require.NoError(t, err)

	rows, err := m.Query(ctx, `SELECT email FROM "users"`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "z@x.com", rows[0]["email"])
}

func TestInsertOrReplaceStoresNestedValuesAsJSON(t *testing.T) {
	m := openTestMirror(t)
	ctx := context.Background()

	require.NoError(t, m.CreateTable(ctx, "events", []Column{
		{Name: "id", Type: "INTEGER", PrimaryKey: true},
		{Name: "payload", Type: "TEXT"},
	}))
	_, err := m.InsertOrReplace(ctx, "events", []Row{{"id": 1, "payload": map[string]any{"k": "v"}}})
	require.NoError(t, err)

	rows, err := m.Query(ctx, `SELECT payload FROM "events"`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"v"}`, rows[0]["payload"].(string))
}

func TestInsertOrReplaceRollsBackOnUnknownColumn(t *testing.T) {
	m := openTestMirror(t)
	ctx := context.Background()

	require.NoError(t, m.CreateTable(ctx, "users", usersColumns()))
	_, err := m.InsertOrReplace(ctx, "users", []Row{
		{"id": 1, "email": "a@x.com"},
		{"id": 2, "email": "b@x.com"},
		{"id": 3, "nope": true},
	})
	require.ErrorIs(t, err, ErrUnknownColumn)

	count, err := m.Count(ctx, "users")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestInsertOrReplaceRollsBackOnConstraintFailure(t *testing.T) {
	m := openTestMirror(t)
	ctx := context.Background()

	require.NoError(t, m.CreateTable(ctx, "accounts", []Column{
		{Name: "id", Type: "INTEGER", PrimaryKey: true},
		{Name: "owner", Type: "TEXT", NotNull: true},
	}))
	_, err := m.InsertOrReplace(ctx, "accounts", []Row{
		{"id": 1, "owner": "ann"},
		{"id": 2, "owner": nil},
	})
	require.Error(t, err)

	count, err := m.Count(ctx, "accounts")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestInsertOrReplaceBindsEachRowsOwnKeys(t *testing.T) {
	m := openTestMirror(t)
	ctx := context.Background()

	require.NoError(t, m.CreateTable(ctx, "users", usersColumns()))
	n, err := m.InsertOrReplace(ctx, "users", []Row{
		{"id": 1},
		{"id": 2, "email": "b@x.com", "active": 0},
		{},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	rows, err := m.Query(ctx, `SELECT * FROM "users" ORDER BY id`)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Nil(t, rows[0]["email"])
	assert.Equal(t, int64(1), rows[0]["active"])
	assert.Equal(t, "b@x.com", rows[1]["email"])
	assert.Equal(t, int64(0), rows[1]["active"])
	assert.Equal(t, int64(3), rows[2]["id"])
	assert.Equal(t, int64(1), rows[2]["active"])
}

func TestInsertOrReplaceUnknownTable(t *testing.T) {
	m := openTestMirror(t)
	_, err := m.InsertOrReplace(context.Background(), "ghosts", []Row{{"id": 1}})
	assert.Error(t, err)
}

func TestIdentifierValidation(t *testing.T) {
	m := openTestMirror(t)
	ctx := context.Background()

	err := m.CreateTable(ctx, "users; DROP TABLE x", usersColumns())
	assert.True(t, errors.Is(err, ErrInvalidIdentifier))

	err = m.CreateTable(ctx, "t", []Column{{Name: "bad name", Type: "TEXT"}})
	assert.True(t, errors.Is(err, ErrInvalidIdentifier))

	err = m.CreateTable(ctx, "t", nil)
	assert.True(t, errors.Is(err, ErrNoColumns))

	_, err = m.Count(ctx, "1table")
	assert.True(t, errors.Is(err, ErrInvalidIdentifier))

	quoted, err := QuoteIdentifier("_users2")
	require.NoError(t, err)
	assert.Equal(t, `"_users2"`, quoted)
}

func TestDropTable(t *testing.T) {
	m := openTestMirror(t)
	ctx := context.Background()

	require.NoError(t, m.CreateTable(ctx, "users", usersColumns()))
	require.NoError(t, m.DropTable(ctx, "users"))
	require.NoError(t, m.DropTable(ctx, "users"))

	_, err := m.Count(ctx, "users")
	assert.Error(t, err)
}

func TestExecReportsAffectedRows(t *testing.T) {
	m := openTestMirror(t)
	ctx := context.Background()

	require.NoError(t, m.CreateTable(ctx, "users", usersColumns()))
	_, err := m.InsertOrReplace(ctx, "users", []Row{{"id": 1, "email": "a"}, {"id": 2, "email": "b"}})
	require.NoError(t, err)

	n, err := m.Exec(ctx, `UPDATE "users" SET active = 0`)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestOpenFilePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.db")
	ctx := context.Background()

	m, err := Open(path, "")
	require.NoError(t, err)
	require.NoError(t, m.CreateTable(ctx, "users", usersColumns()))
	_, err = m.InsertOrReplace(ctx, "users", []Row{{"id": 1, "email": "a"}})
	require.NoError(t, err)
	require.NoError(t, m.Close())

	reopened, err := Open(path, DriverModernc)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	count, err := reopened.Count(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, path, reopened.Path())
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(":memory:", "postgres")
	assert.Error(t, err)
}
