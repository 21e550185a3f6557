package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTEIServer(t *testing.T, dim int, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embed", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}

		var req teiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		vectors := make([][]float32, len(req.Inputs))
		for i := range vectors {
			vectors[i] = make([]float32, dim)
			vectors[i][0] = float32(i + 1)
		}
		require.NoError(t, json.NewEncoder(w).Encode(vectors))
	}))
}

func TestTEIProvider_EmbedDocuments(t *testing.T) {
	srv := newTEIServer(t, 4, http.StatusOK)
	defer srv.Close()

	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL, Dimension: 4})
	require.NoError(t, err)

	vectors, err := p.EmbedDocuments(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Len(t, vectors[0], 4)
	assert.Equal(t, float32(1), vectors[0][0])
	assert.Equal(t, float32(2), vectors[1][0])
}

func TestTEIProvider_EmptyInput(t *testing.T) {
	p, err := NewTEIProvider(TEIConfig{BaseURL: "http://localhost:1", Dimension: 4})
	require.NoError(t, err)

	_, err = p.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestTEIProvider_ServerError(t *testing.T) {
	srv := newTEIServer(t, 4, http.StatusInternalServerError)
	defer srv.Close()

	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL, Dimension: 4})
	require.NoError(t, err)

	_, err = p.EmbedDocuments(context.Background(), []string{"one"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestTEIProvider_ConfigValidation(t *testing.T) {
	_, err := NewTEIProvider(TEIConfig{Dimension: 4})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewTEIProvider(TEIConfig{BaseURL: "http://localhost:8080"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewProvider_UnknownProvider(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Provider: "cohere"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDetectDimension(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"BAAI/bge-small-en-v1.5", 384},
		{"BAAI/bge-base-en-v1.5", 768},
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"some-large-model", 1024},
		{"unknown", 384},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, detectDimension(tt.model), tt.model)
	}
}
