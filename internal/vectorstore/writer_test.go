package vectorstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWriter(t *testing.T, store Store, batchSize int) *Writer {
	t.Helper()
	w, err := NewWriter(store, WriterConfig{
		BatchSize:    batchSize,
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
	})
	require.NoError(t, err)
	return w
}

func TestWriter_Apply(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.EnsureIndex(ctx, "idx", 3))

	var records []Record
	for i := 0; i < 7; i++ {
		records = append(records, memRecord(fmt.Sprintf("r%d", i), fmt.Sprintf("h%d", i), "alice"))
	}

	w := newTestWriter(t, store, 3)
	result, err := w.Apply(ctx, "idx", records, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, result.Upserted)
	assert.False(t, result.Failed())
	assert.Equal(t, 7, store.Len("idx"))
}

func TestWriter_DeletesAfterUpserts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.EnsureIndex(ctx, "idx", 3))
	require.NoError(t, store.Upsert(ctx, "idx", []Record{memRecord("old", "h-old", "alice")}))

	w := newTestWriter(t, store, 10)
	result, err := w.Apply(ctx, "idx", []Record{memRecord("new", "h-new", "alice")}, []string{"old"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Upserted)
	assert.Equal(t, 1, result.Deleted)

	got, err := store.Fetch(ctx, "idx", []string{"old", "new"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Contains(t, got, "new")
}

func TestWriter_SplitsIsolateFailingRecord(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.EnsureIndex(ctx, "idx", 3))
	store.FailUpsertIDs = map[string]bool{"r2": true}

	var records []Record
	for i := 0; i < 4; i++ {
		records = append(records, memRecord(fmt.Sprintf("r%d", i), fmt.Sprintf("h%d", i), "alice"))
	}

	w := newTestWriter(t, store, 10)
	result, err := w.Apply(ctx, "idx", records, nil)
	assert.ErrorIs(t, err, ErrWriteFailed)

	assert.Equal(t, 3, result.Upserted, "only the poisoned record fails")
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "r2", result.Failures[0].ID)
	assert.Equal(t, "upsert", result.Failures[0].Op)
	assert.ErrorIs(t, result.Failures[0].Err, ErrWriteFailed)

	got, err := store.Fetch(ctx, "idx", []string{"r0", "r1", "r3"})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestWriter_EmptyApply(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.EnsureIndex(ctx, "idx", 3))

	w := newTestWriter(t, store, 10)
	result, err := w.Apply(ctx, "idx", nil, nil)
	require.NoError(t, err)
	assert.Zero(t, result.Upserted)
	assert.Zero(t, result.Deleted)
}

func TestWriterConfig_Validate(t *testing.T) {
	err := WriterConfig{BatchSize: -1, MaxRetries: 1}.Validate()
	assert.ErrorIs(t, err, ErrInvalidConfig)

	err = WriterConfig{BatchSize: 10, MaxRetries: -1}.Validate()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
