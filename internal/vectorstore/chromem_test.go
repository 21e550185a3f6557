package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChromemStore(t *testing.T) *ChromemStore {
	t.Helper()
	store, err := NewChromemStore(ChromemConfig{Path: t.TempDir()})
	require.NoError(t, err)
	return store
}

func TestChromemStore_EnsureIndexDimensionGuard(t *testing.T) {
	ctx := context.Background()
	store := newTestChromemStore(t)

	require.NoError(t, store.EnsureIndex(ctx, "idx", 3))
	require.NoError(t, store.EnsureIndex(ctx, "idx", 3))

	err := store.EnsureIndex(ctx, "idx", 768)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestChromemStore_DimensionSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewChromemStore(ChromemConfig{Path: dir})
	require.NoError(t, err)
	require.NoError(t, store.EnsureIndex(ctx, "idx", 3))
	require.NoError(t, store.Close())

	reopened, err := NewChromemStore(ChromemConfig{Path: dir})
	require.NoError(t, err)
	assert.ErrorIs(t, reopened.EnsureIndex(ctx, "idx", 768), ErrDimensionMismatch)
}

func TestChromemStore_UpsertFetchDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestChromemStore(t)
	require.NoError(t, store.EnsureIndex(ctx, "idx", 3))

	rec := memRecord("11111111-1111-5111-8111-111111111111", "hash1", "alice")
	require.NoError(t, store.Upsert(ctx, "idx", []Record{rec}))

	got, err := store.Fetch(ctx, "idx", []string{rec.ID, "22222222-2222-5222-8222-222222222222"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hash1", got[rec.ID].Payload.ContentHash)
	assert.Equal(t, []string{"alice"}, got[rec.ID].Payload.AuthorizedUserIDs)
	assert.Equal(t, rec.Payload.Text, got[rec.ID].Payload.Text)

	// Replace with a grown authorized set.
	rec.Payload.AddUser("bob")
	require.NoError(t, store.Upsert(ctx, "idx", []Record{rec}))
	got, err = store.Fetch(ctx, "idx", []string{rec.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, got[rec.ID].Payload.AuthorizedUserIDs)

	require.NoError(t, store.Delete(ctx, "idx", []string{rec.ID}))
	got, err = store.Fetch(ctx, "idx", []string{rec.ID})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestChromemStore_UpsertRejectsSeparatorInUserID(t *testing.T) {
	ctx := context.Background()
	store := newTestChromemStore(t)
	require.NoError(t, store.EnsureIndex(ctx, "idx", 3))

	rec := memRecord("11111111-1111-5111-8111-111111111111", "hash1", "alice,bob")
	err := store.Upsert(ctx, "idx", []Record{rec})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidUserID)

	// Nothing was written.
	got, err := store.Fetch(ctx, "idx", []string{rec.ID})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestChromemStore_QueryFiltersByUser(t *testing.T) {
	ctx := context.Background()
	store := newTestChromemStore(t)
	require.NoError(t, store.EnsureIndex(ctx, "idx", 3))

	a := memRecord("11111111-1111-5111-8111-111111111111", "hash1", "alice")
	b := memRecord("22222222-2222-5222-8222-222222222222", "hash2", "bob")
	require.NoError(t, store.Upsert(ctx, "idx", []Record{a, b}))

	results, err := store.Query(ctx, "idx", []float32{1, 0, 0}, Filter{AuthorizedUserID: "alice"}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, a.ID, results[0].ID)
}
