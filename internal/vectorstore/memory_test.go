package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memRecord(id, hash string, users ...string) Record {
	return Record{
		ID:     id,
		Vector: []float32{1, 0, 0},
		Payload: Payload{
			ContentHash:       hash,
			Text:              "text for " + hash,
			AuthorizedUserIDs: users,
		},
	}
}

func TestMemoryStore_EnsureIndex(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.EnsureIndex(ctx, "prod-acme-drive-v1", 3))

	// Same dimension is idempotent.
	require.NoError(t, store.EnsureIndex(ctx, "prod-acme-drive-v1", 3))

	// Different dimension is fatal.
	err := store.EnsureIndex(ctx, "prod-acme-drive-v1", 768)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	assert.ErrorIs(t, store.EnsureIndex(ctx, "Bad_Name", 3), ErrInvalidIndexName)
	assert.ErrorIs(t, store.EnsureIndex(ctx, "ok-name", 0), ErrInvalidConfig)
}

func TestMemoryStore_UpsertFetchDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.EnsureIndex(ctx, "idx", 3))

	rec := memRecord("r1", "hash1", "alice")
	require.NoError(t, store.Upsert(ctx, "idx", []Record{rec}))

	got, err := store.Fetch(ctx, "idx", []string{"r1", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 1, "missing IDs are absent, not errors")
	assert.Equal(t, "hash1", got["r1"].Payload.ContentHash)
	assert.Equal(t, []string{"alice"}, got["r1"].Payload.AuthorizedUserIDs)

	// Upsert replaces.
	rec.Payload.AuthorizedUserIDs = []string{"alice", "bob"}
	require.NoError(t, store.Upsert(ctx, "idx", []Record{rec}))
	got, err = store.Fetch(ctx, "idx", []string{"r1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, got["r1"].Payload.AuthorizedUserIDs)

	require.NoError(t, store.Delete(ctx, "idx", []string{"r1", "missing"}))
	got, err = store.Fetch(ctx, "idx", []string{"r1"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryStore_FetchReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.EnsureIndex(ctx, "idx", 3))
	require.NoError(t, store.Upsert(ctx, "idx", []Record{memRecord("r1", "h", "alice")}))

	got, err := store.Fetch(ctx, "idx", []string{"r1"})
	require.NoError(t, err)

	rec := got["r1"]
	rec.Payload.AddUser("mallory")

	again, err := store.Fetch(ctx, "idx", []string{"r1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, again["r1"].Payload.AuthorizedUserIDs,
		"mutating a fetched record must not leak into the store")
}

func TestMemoryStore_QueryFilters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.EnsureIndex(ctx, "idx", 3))

	require.NoError(t, store.Upsert(ctx, "idx", []Record{
		memRecord("r1", "hash1", "alice"),
		memRecord("r2", "hash2", "bob"),
		memRecord("r3", "hash3", "alice", "bob"),
	}))

	results, err := store.Query(ctx, "idx", []float32{1, 0, 0}, Filter{AuthorizedUserID: "alice"}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Payload.HasUser("alice"))
	}

	results, err = store.Query(ctx, "idx", []float32{1, 0, 0}, Filter{ContentHash: "hash2"}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "r2", results[0].ID)

	results, err = store.Query(ctx, "idx", []float32{1, 0, 0}, Filter{}, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2, "topK caps results")
}

func TestMemoryStore_EmptyRecords(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.EnsureIndex(ctx, "idx", 3))

	assert.ErrorIs(t, store.Upsert(ctx, "idx", nil), ErrEmptyRecords)
}
