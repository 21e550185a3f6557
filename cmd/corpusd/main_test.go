package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillstack/corpusd/internal/config"
)

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := expandHome("~/.local/share/corpusd/runs.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".local", "share", "corpusd", "runs.db"), got)

	got, err = expandHome("/var/lib/corpusd/runs.db")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/corpusd/runs.db", got)
}

func TestNewStore_UnknownBackend(t *testing.T) {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.VectorStore.Backend = "pinecone"

	_, err := newStore(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pinecone")
}

func TestNewStore_Chromem(t *testing.T) {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.VectorStore.Backend = "chromem"
	cfg.VectorStore.Chromem.Path = filepath.Join(t.TempDir(), "store")

	store, err := newStore(cfg)
	require.NoError(t, err)
	assert.NoError(t, store.Close())
}
