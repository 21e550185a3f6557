package embeddings

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quillstack/corpusd/internal/logging"
)

// VectorizerConfig tunes batching behavior.
type VectorizerConfig struct {
	// BatchSize is the number of texts sent per provider call.
	BatchSize int

	// RequestsPerSecond rate-limits provider calls. 0 disables limiting.
	RequestsPerSecond float64
}

// ApplyDefaults sets default values for unset fields.
func (c *VectorizerConfig) ApplyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 32
	}
}

// Vectorizer turns chunk texts into embeddings through a Provider, batching
// calls to amortize request overhead and rate-limiting to respect provider
// quotas.
type Vectorizer struct {
	provider Provider
	config   VectorizerConfig
	limiter  *rate.Limiter
	logger   *logging.Logger
}

// NewVectorizer creates a Vectorizer over the given provider.
func NewVectorizer(provider Provider, config VectorizerConfig, logger *logging.Logger) *Vectorizer {
	config.ApplyDefaults()
	if logger == nil {
		logger = logging.NewNop()
	}

	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}

	return &Vectorizer{
		provider: provider,
		config:   config,
		limiter:  limiter,
		logger:   logger.Named("vectorizer"),
	}
}

// Embed generates embeddings for all texts, in order, splitting the input
// into provider-sized batches. A failure in any batch fails the whole call;
// the caller owns retry policy per item.
func (v *Vectorizer) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += v.config.BatchSize {
		end := start + v.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		if v.limiter != nil {
			if err := v.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		started := time.Now()
		batchVectors, err := v.provider.EmbedDocuments(ctx, batch)
		observeEmbedBatch(len(batch), time.Since(started), err)
		if err != nil {
			return nil, err
		}

		v.logger.Debug(ctx, "embedded batch",
			zap.Int("batch_size", len(batch)),
			zap.Duration("elapsed", time.Since(started)),
		)
		vectors = append(vectors, batchVectors...)
	}

	return vectors, nil
}

// Dimension returns the provider's embedding dimension.
func (v *Vectorizer) Dimension() int {
	return v.provider.Dimension()
}
