package accesssync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillstack/corpusd/internal/fingerprint"
	"github.com/quillstack/corpusd/internal/vectorstore"
)

const testIndex = "prod-acme-corp-drive-v1"

func newTestSynchronizer(t *testing.T) (*Synchronizer, *vectorstore.MemoryStore) {
	t.Helper()
	store := vectorstore.NewMemoryStore()
	require.NoError(t, store.EnsureIndex(context.Background(), testIndex, 3))

	writer, err := vectorstore.NewWriter(store, vectorstore.WriterConfig{
		BatchSize:    10,
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
	})
	require.NoError(t, err)

	return New(store, writer, nil), store
}

func chunk(hash string) ChunkRecord {
	return ChunkRecord{
		ContentHash: hash,
		Vector:      []float32{1, 0, 0},
		Text:        "text for " + hash,
		Title:       "Quarterly Report",
		SourceURL:   "https://example.com/doc",
	}
}

func fetchRecord(t *testing.T, store vectorstore.Store, hash string) (vectorstore.Record, bool) {
	t.Helper()
	id := fingerprint.RecordID(testIndex, hash)
	got, err := store.Fetch(context.Background(), testIndex, []string{id})
	require.NoError(t, err)
	rec, ok := got[id]
	return rec, ok
}

func TestMergeDocument_CreatesForFirstUser(t *testing.T) {
	ctx := context.Background()
	syncer, store := newTestSynchronizer(t)

	summary, err := syncer.MergeDocument(ctx, testIndex, "alice", []ChunkRecord{chunk("h1"), chunk("h2")})
	require.NoError(t, err)
	assert.Equal(t, Summary{Created: 2}, summary)

	rec, ok := fetchRecord(t, store, "h1")
	require.True(t, ok)
	assert.Equal(t, []string{"alice"}, rec.Payload.AuthorizedUserIDs)
	assert.Equal(t, "text for h1", rec.Payload.Text)
}

func TestMergeDocument_GrantsSecondUserWithoutReembedding(t *testing.T) {
	ctx := context.Background()
	syncer, store := newTestSynchronizer(t)

	_, err := syncer.MergeDocument(ctx, testIndex, "alice", []ChunkRecord{chunk("h1")})
	require.NoError(t, err)

	// Bob sees the same content but his pipeline produced a different
	// vector (provider drift). The stored vector must not change.
	bobChunk := chunk("h1")
	bobChunk.Vector = []float32{0, 1, 0}

	summary, err := syncer.MergeDocument(ctx, testIndex, "bob", []ChunkRecord{bobChunk})
	require.NoError(t, err)
	assert.Equal(t, Summary{Granted: 1}, summary)

	rec, ok := fetchRecord(t, store, "h1")
	require.True(t, ok)
	assert.Equal(t, []string{"alice", "bob"}, rec.Payload.AuthorizedUserIDs)
	assert.Equal(t, []float32{1, 0, 0}, rec.Vector, "first writer wins for the vector")
	assert.Equal(t, 1, store.Len(testIndex), "identical content is stored once")
}

func TestMergeDocument_Idempotent(t *testing.T) {
	ctx := context.Background()
	syncer, store := newTestSynchronizer(t)

	_, err := syncer.MergeDocument(ctx, testIndex, "alice", []ChunkRecord{chunk("h1")})
	require.NoError(t, err)

	summary, err := syncer.MergeDocument(ctx, testIndex, "alice", []ChunkRecord{chunk("h1")})
	require.NoError(t, err)
	assert.Equal(t, Summary{Unchanged: 1}, summary)

	rec, _ := fetchRecord(t, store, "h1")
	assert.Equal(t, []string{"alice"}, rec.Payload.AuthorizedUserIDs)
}

func TestMergeDocument_DeduplicatesWithinDocument(t *testing.T) {
	ctx := context.Background()
	syncer, store := newTestSynchronizer(t)

	// A document repeating the same paragraph yields repeated hashes.
	summary, err := syncer.MergeDocument(ctx, testIndex, "alice",
		[]ChunkRecord{chunk("h1"), chunk("h1"), chunk("h1")})
	require.NoError(t, err)
	assert.Equal(t, Summary{Created: 1}, summary)
	assert.Equal(t, 1, store.Len(testIndex))
}

func TestRevoke_RemovesUserKeepsRecord(t *testing.T) {
	ctx := context.Background()
	syncer, store := newTestSynchronizer(t)

	_, err := syncer.MergeDocument(ctx, testIndex, "alice", []ChunkRecord{chunk("h1")})
	require.NoError(t, err)
	_, err = syncer.MergeDocument(ctx, testIndex, "bob", []ChunkRecord{chunk("h1")})
	require.NoError(t, err)

	summary, err := syncer.Revoke(ctx, testIndex, "alice", []string{"h1"})
	require.NoError(t, err)
	assert.Equal(t, Summary{Revoked: 1}, summary)

	rec, ok := fetchRecord(t, store, "h1")
	require.True(t, ok, "record survives while other users remain")
	assert.Equal(t, []string{"bob"}, rec.Payload.AuthorizedUserIDs)
}

func TestRevoke_DeletesWhenSetEmpties(t *testing.T) {
	ctx := context.Background()
	syncer, store := newTestSynchronizer(t)

	_, err := syncer.MergeDocument(ctx, testIndex, "alice", []ChunkRecord{chunk("h1")})
	require.NoError(t, err)

	summary, err := syncer.Revoke(ctx, testIndex, "alice", []string{"h1"})
	require.NoError(t, err)
	assert.Equal(t, Summary{Deleted: 1}, summary)

	_, ok := fetchRecord(t, store, "h1")
	assert.False(t, ok, "last revocation deletes the record")
	assert.Equal(t, 0, store.Len(testIndex))
}

func TestRevoke_Idempotent(t *testing.T) {
	ctx := context.Background()
	syncer, _ := newTestSynchronizer(t)

	_, err := syncer.MergeDocument(ctx, testIndex, "alice", []ChunkRecord{chunk("h1")})
	require.NoError(t, err)

	_, err = syncer.Revoke(ctx, testIndex, "alice", []string{"h1"})
	require.NoError(t, err)

	// Re-revoking a gone record and a never-present hash changes nothing.
	summary, err := syncer.Revoke(ctx, testIndex, "alice", []string{"h1", "never-existed"})
	require.NoError(t, err)
	assert.Equal(t, Summary{}, summary)
}

func TestMergeDocument_ConcurrentUsersAllRetained(t *testing.T) {
	ctx := context.Background()
	syncer, store := newTestSynchronizer(t)

	users := []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8"}
	var wg sync.WaitGroup
	for _, user := range users {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			_, err := syncer.MergeDocument(ctx, testIndex, user, []ChunkRecord{chunk("h1")})
			assert.NoError(t, err)
		}(user)
	}
	wg.Wait()

	rec, ok := fetchRecord(t, store, "h1")
	require.True(t, ok)
	assert.ElementsMatch(t, users, rec.Payload.AuthorizedUserIDs,
		"no concurrent grant may be lost")
	assert.Equal(t, 1, store.Len(testIndex))
}

func TestMergeDocument_Empty(t *testing.T) {
	syncer, _ := newTestSynchronizer(t)
	summary, err := syncer.MergeDocument(context.Background(), testIndex, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, summary)
}
