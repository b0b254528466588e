package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionRecordIsMonotonic(t *testing.T) {
	svc := NewVersionService(setupServiceDB(t))
	ctx := context.Background()

	for want := int64(1); want <= 4; want++ {
		got, err := svc.Record(ctx, "readme", "blob", "")
		require.NoError(t, err)
		assert.Equal(t, want, got)

		history, err := svc.History(ctx, "readme")
		require.NoError(t, err)
		current := 0
		for _, v := range history {
			if v.IsCurrent {
				current++
				assert.Equal(t, want, v.Version)
			}
		}
		assert.Equal(t, 1, current, "exactly one current version after record %d", want)
	}
}

func TestVersionHistoryNewestFirstWithIndexColumns(t *testing.T) {
	dbCtx := setupServiceDB(t)
	svc := NewVersionService(dbCtx)
	index := NewIndexService(dbCtx, nil)
	ctx := context.Background()

	seedBlobRecord(t, index, "b1", "readme (version)", 3)
	_, err := svc.Record(ctx, "readme", "b1", "first")
	require.NoError(t, err)
	_, err = svc.Record(ctx, "readme", "b2", "second")
	require.NoError(t, err)

	history, err := svc.History(ctx, "readme")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(2), history[0].Version)
	assert.Equal(t, "second", history[0].Description)
	assert.Empty(t, history[0].Name)
	assert.Equal(t, "readme (version)", history[1].Name)
	assert.Equal(t, int64(3), history[1].Size)
}

func TestVersionSetCurrent(t *testing.T) {
	svc := NewVersionService(setupServiceDB(t))
	ctx := context.Background()

	for _, blob := range []string{"b1", "b2", "b3"} {
		_, err := svc.Record(ctx, "doc", blob, "")
		require.NoError(t, err)
	}

	require.NoError(t, svc.SetCurrent(ctx, "doc", 1))
	current, err := svc.Current(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, int64(1), current.Version)
	assert.Equal(t, "b1", current.BlobID)

	err = svc.SetCurrent(ctx, "doc", 9)
	assert.True(t, errors.Is(err, ErrNotFound))

	current, err = svc.Current(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, int64(1), current.Version, "failed rollback must not move the pointer")

	next, err := svc.Record(ctx, "doc", "b4", "")
	require.NoError(t, err)
	assert.Equal(t, int64(4), next)
}

func TestVersionCurrentUnknownDocument(t *testing.T) {
	svc := NewVersionService(setupServiceDB(t))
	_, err := svc.Current(context.Background(), "ghost")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestVersionDocuments(t *testing.T) {
	svc := NewVersionService(setupServiceDB(t))
	ctx := context.Background()

	_, err := svc.Record(ctx, "b-doc", "x1", "")
	require.NoError(t, err)
	_, err = svc.Record(ctx, "a-doc", "y1", "")
	require.NoError(t, err)
	_, err = svc.Record(ctx, "a-doc", "y2", "")
	require.NoError(t, err)

	before, err := svc.Documents(ctx)
	require.NoError(t, err)
	require.Len(t, before, 2)
	require.NoError(t, svc.SetCurrent(ctx, "a-doc", 1))

	docs, err := svc.Documents(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a-doc", docs[0].DocumentName)
	assert.Equal(t, int64(2), docs[0].TotalVersions)
	assert.Equal(t, int64(2), docs[0].LatestVersion)
	assert.Equal(t, int64(1), docs[0].CurrentVersion)
	assert.False(t, docs[0].LastUpdated.IsZero())
	assert.True(t, docs[0].LastUpdated.Equal(before[0].LastUpdated))
	assert.Equal(t, "b-doc", docs[1].DocumentName)
}

func TestVersionForgetBlobRestoresCurrentPointer(t *testing.T) {
	svc := NewVersionService(setupServiceDB(t))
	ctx := context.Background()

	_, err := svc.Record(ctx, "doc", "b1", "")
	require.NoError(t, err)
	_, err = svc.Record(ctx, "doc", "b2", "")
	require.NoError(t, err)

	removed, err := svc.ForgetBlob(ctx, "b2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	current, err := svc.Current(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, int64(1), current.Version)
}

func TestVersionServiceWithoutDatabase(t *testing.T) {
	svc := NewVersionService(nil)
	assert.False(t, svc.Enabled())
	_, err := svc.Record(context.Background(), "doc", "b", "")
	assert.Error(t, err)
}
