package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "chromem", cfg.VectorStore.Backend)
	assert.Equal(t, 6334, cfg.VectorStore.Qdrant.Port)
	assert.Equal(t, "tei", cfg.Embeddings.Provider)
	assert.Equal(t, 384, cfg.Embeddings.Dimension)
	assert.Equal(t, 1200, cfg.Indexing.ChunkSize)
	assert.Equal(t, 200, cfg.Indexing.ChunkOverlap)
	assert.Equal(t, 100, cfg.Indexing.WriteBatchSize)
	assert.Equal(t, "corpusd-indexing", cfg.Temporal.TaskQueue)
	assert.Equal(t, ":8787", cfg.Server.Addr)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: debug
vectorstore:
  backend: qdrant
  qdrant:
    host: qdrant.internal
indexing:
  chunk_size: 800
`), 0o600))

	t.Setenv("VECTORSTORE_QDRANT_HOST", "qdrant.override")
	t.Setenv("EMBEDDINGS_MODEL", "BAAI/bge-base-en-v1.5")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "qdrant", cfg.VectorStore.Backend)
	assert.Equal(t, "qdrant.override", cfg.VectorStore.Qdrant.Host, "env wins over file")
	assert.Equal(t, "BAAI/bge-base-en-v1.5", cfg.Embeddings.Model)
	assert.Equal(t, 800, cfg.Indexing.ChunkSize)
}

func TestLoad_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0o600))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		cfg.ApplyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(*Config) {}, false},
		{"unknown backend", func(c *Config) { c.VectorStore.Backend = "pinecone" }, true},
		{"unknown provider", func(c *Config) { c.Embeddings.Provider = "cohere" }, true},
		{"overlap >= chunk size", func(c *Config) { c.Indexing.ChunkOverlap = c.Indexing.ChunkSize }, true},
		{"max below min content length", func(c *Config) { c.Indexing.MaxContentLength = 5 }, true},
		{"openai without key", func(c *Config) { c.Embeddings.Provider = "openai" }, true},
		{"openai with key", func(c *Config) {
			c.Embeddings.Provider = "openai"
			c.Embeddings.APIKey = "sk-test"
		}, false},
		{"bad qdrant port", func(c *Config) {
			c.VectorStore.Backend = "qdrant"
			c.VectorStore.Qdrant.Port = 70000
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"LOGGING_LEVEL", "logging.level"},
		{"VECTORSTORE_BACKEND", "vectorstore.backend"},
		{"VECTORSTORE_QDRANT_HOST", "vectorstore.qdrant.host"},
		{"VECTORSTORE_CHROMEM_PATH", "vectorstore.chromem.path"},
		{"SOURCES_DRIVE_CLIENT_ID", "sources.drive.client_id"},
		{"INDEXING_CHUNK_SIZE", "indexing.chunk_size"},
		{"EMBEDDINGS_REQUESTS_PER_SECOND", "embeddings.requests_per_second"},
		{"PATH", ""},
		{"HOME", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, envTransform(tt.in), tt.in)
	}
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))

	out, err := json.Marshal(Duration(time.Second))
	require.NoError(t, err)
	assert.JSONEq(t, `"1s"`, string(out))
}

func TestSecret_Redaction(t *testing.T) {
	secret := Secret("hunter2")

	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", secret))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", secret))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", secret))
	assert.Equal(t, "hunter2", secret.Value())
	assert.True(t, secret.IsSet())

	out, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{Key: secret})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"[REDACTED]"}`, string(out))

	assert.False(t, Secret("").IsSet())
	assert.Equal(t, "", Secret("").String())
}
