package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Get("drive")
	assert.ErrorIs(t, err, ErrUnknownSource)

	registry.Register(NewStaticAdapter("drive"))
	registry.Register(NewStaticAdapter("confluence"))

	adapter, err := registry.Get("drive")
	require.NoError(t, err)
	assert.Equal(t, "drive", adapter.Name())

	assert.Equal(t, []string{"confluence", "drive"}, registry.Names())
}

func TestStaticAdapter_AccessIsPerUser(t *testing.T) {
	ctx := context.Background()
	adapter := NewStaticAdapter("drive")

	shared := Document{ID: "doc-1", Title: "Handbook"}
	adapter.AddDocument("alice", shared, "handbook text")
	adapter.AddDocument("bob", shared, "handbook text")
	adapter.AddDocument("alice", Document{ID: "doc-2", Title: "Alice only"}, "private text")

	aliceDocs, err := adapter.ListAccessibleDocuments(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, aliceDocs, 2)

	bobDocs, err := adapter.ListAccessibleDocuments(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, bobDocs, 1)
	assert.Equal(t, "doc-1", bobDocs[0].ID)

	// Bob cannot fetch what he cannot list.
	_, err = adapter.FetchContent(ctx, "bob", "doc-2")
	assert.ErrorIs(t, err, ErrNotFound)

	text, err := adapter.FetchContent(ctx, "alice", "doc-2")
	require.NoError(t, err)
	assert.Equal(t, "private text", text)
}

func TestStaticAdapter_RemoveDocument(t *testing.T) {
	ctx := context.Background()
	adapter := NewStaticAdapter("drive")
	adapter.AddDocument("alice", Document{ID: "doc-1"}, "text")

	adapter.RemoveDocument("alice", "doc-1")

	docs, err := adapter.ListAccessibleDocuments(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, docs)

	_, err = adapter.FetchContent(ctx, "alice", "doc-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
