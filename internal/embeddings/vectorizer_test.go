package embeddings

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider records batch sizes and returns positional embeddings.
type fakeProvider struct {
	dim     int
	batches [][]string
	failOn  int // 1-based call number to fail on; 0 never fails
	calls   int
}

func (f *fakeProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.failOn > 0 && f.calls == f.failOn {
		return nil, fmt.Errorf("%w: synthetic failure", ErrEmbeddingFailed)
	}
	f.batches = append(f.batches, texts)
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = make([]float32, f.dim)
	}
	return vectors, nil
}

func (f *fakeProvider) Dimension() int { return f.dim }
func (f *fakeProvider) Close() error   { return nil }

func TestVectorizer_Batching(t *testing.T) {
	provider := &fakeProvider{dim: 4}
	v := NewVectorizer(provider, VectorizerConfig{BatchSize: 3}, nil)

	texts := []string{"a", "b", "c", "d", "e", "f", "g"}
	vectors, err := v.Embed(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, vectors, 7)

	require.Len(t, provider.batches, 3)
	assert.Len(t, provider.batches[0], 3)
	assert.Len(t, provider.batches[1], 3)
	assert.Len(t, provider.batches[2], 1)
}

func TestVectorizer_SingleBatch(t *testing.T) {
	provider := &fakeProvider{dim: 4}
	v := NewVectorizer(provider, VectorizerConfig{BatchSize: 100}, nil)

	vectors, err := v.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
	assert.Equal(t, 1, provider.calls)
}

func TestVectorizer_ProviderFailurePropagates(t *testing.T) {
	provider := &fakeProvider{dim: 4, failOn: 2}
	v := NewVectorizer(provider, VectorizerConfig{BatchSize: 2}, nil)

	_, err := v.Embed(context.Background(), []string{"a", "b", "c", "d"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestVectorizer_EmptyInput(t *testing.T) {
	v := NewVectorizer(&fakeProvider{dim: 4}, VectorizerConfig{}, nil)
	_, err := v.Embed(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestVectorizer_Dimension(t *testing.T) {
	v := NewVectorizer(&fakeProvider{dim: 768}, VectorizerConfig{}, nil)
	assert.Equal(t, 768, v.Dimension())
}
