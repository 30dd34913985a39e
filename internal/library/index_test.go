package library

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := OpenIndex(filepath.Join(t.TempDir(), "library.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestIndex_RecordAndGet(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	a := Asset{
		ID:        "asset-1",
		Name:      "video.mp4",
		Backend:   BackendDir,
		Location:  "/library/asset-1.mp4",
		Size:      1234,
		CreatedAt: time.Date(2024, 5, 6, 7, 8, 9, 10, time.UTC),
	}
	require.NoError(t, idx.Record(ctx, a))

	got, err := idx.Get(ctx, "asset-1")
	require.NoError(t, err)
	assert.Equal(t, a, got)

	assert.Error(t, idx.Record(ctx, a), "ids are unique")
}

func TestIndex_GetMissing(t *testing.T) {
	idx := openTestIndex(t)

	_, err := idx.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

func TestIndex_ListNewestFirst(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	empty, err := idx.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, idx.Record(ctx, Asset{
			ID: id, Name: "video.mp4", Backend: BackendS3, Location: "s3://" + id,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	assets, err := idx.List(ctx)
	require.NoError(t, err)
	require.Len(t, assets, 3)
	assert.Equal(t, "c", assets[0].ID)
	assert.Equal(t, "a", assets[2].ID)
}

func TestIndex_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "library.db")
	ctx := context.Background()

	idx, err := OpenIndex(path, nil)
	require.NoError(t, err)
	require.NoError(t, idx.Record(ctx, Asset{ID: "kept", Name: "v.mp4", Backend: BackendDir, Location: "/x", CreatedAt: time.Now()}))
	require.NoError(t, idx.Close())

	idx, err = OpenIndex(path, nil)
	require.NoError(t, err, "migrations are applied once")
	defer func() { _ = idx.Close() }()

	_, err = idx.Get(ctx, "kept")
	assert.NoError(t, err)
}
