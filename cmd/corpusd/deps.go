package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"

	"github.com/quillstack/corpusd/internal/accesssync"
	"github.com/quillstack/corpusd/internal/chunk"
	"github.com/quillstack/corpusd/internal/config"
	"github.com/quillstack/corpusd/internal/embeddings"
	"github.com/quillstack/corpusd/internal/events"
	"github.com/quillstack/corpusd/internal/logging"
	"github.com/quillstack/corpusd/internal/normalize"
	"github.com/quillstack/corpusd/internal/pipeline"
	"github.com/quillstack/corpusd/internal/runs"
	"github.com/quillstack/corpusd/internal/source"
	"github.com/quillstack/corpusd/internal/vectorstore"
	"github.com/quillstack/corpusd/internal/workflows"
)

// dependencies holds everything the pipeline needs, wired from config.
type dependencies struct {
	store    vectorstore.Store
	tracker  *runs.Tracker
	events   *events.Publisher
	sources  *source.Registry
	users    workflows.UserLister
	pipeline *pipeline.Pipeline
	logger   *logging.Logger
}

// Close releases infrastructure resources in reverse dependency order.
func (d *dependencies) Close() {
	if d.events != nil {
		d.events.Close()
	}
	if d.tracker != nil {
		_ = d.tracker.Close()
	}
	if d.store != nil {
		_ = d.store.Close()
	}
	if d.logger != nil {
		_ = d.logger.Sync()
	}
}

// initDependencies builds the indexing pipeline and its infrastructure:
// run tracker (SQLite), event publisher (NATS, optional), vector store
// (Qdrant or chromem), embedding provider, and datasource adapters.
func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	deps := &dependencies{logger: logger}

	dbPath, err := expandHome(cfg.Runs.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating run database directory: %w", err)
	}
	tracker, err := runs.NewTracker(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening run tracker: %w", err)
	}
	deps.tracker = tracker

	if cfg.Events.URL != "" {
		pub, err := events.Connect(cfg.Events.URL, cfg.Events.SubjectPrefix, logger)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.Events.URL, err)
		}
		deps.events = pub
		tracker.SetNotifier(pub)
		logger.Info(ctx, "connected to NATS", zap.String("url", cfg.Events.URL))
	}

	store, err := newStore(cfg)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.store = store
	logger.Info(ctx, "vector store initialized",
		zap.String("backend", cfg.VectorStore.Backend))

	provider, err := embeddings.NewProvider(embeddings.ProviderConfig{
		Provider:  cfg.Embeddings.Provider,
		Model:     cfg.Embeddings.Model,
		BaseURL:   cfg.Embeddings.BaseURL,
		APIKey:    cfg.Embeddings.APIKey.Value(),
		Dimension: cfg.Embeddings.Dimension,
	})
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}
	vectorizer := embeddings.NewVectorizer(provider, embeddings.VectorizerConfig{
		BatchSize:         cfg.Embeddings.BatchSize,
		RequestsPerSecond: cfg.Embeddings.RequestsPerSecond,
	}, logger)
	logger.Info(ctx, "embedding provider initialized",
		zap.String("provider", cfg.Embeddings.Provider),
		zap.String("model", cfg.Embeddings.Model),
		zap.Int("dimension", cfg.Embeddings.Dimension))

	writer, err := vectorstore.NewWriter(store, vectorstore.WriterConfig{
		BatchSize:    cfg.Indexing.WriteBatchSize,
		MaxRetries:   cfg.Indexing.MaxWriteRetries,
		RetryBackoff: time.Duration(cfg.Indexing.WriteRetryBackoff),
	})
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("creating batch writer: %w", err)
	}

	splitter, err := chunk.NewSplitter(chunk.Config{
		Size:      cfg.Indexing.ChunkSize,
		Overlap:   cfg.Indexing.ChunkOverlap,
		MaxChunks: cfg.Indexing.MaxChunks,
	})
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("creating splitter: %w", err)
	}

	sources, users, err := initSources(cfg, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.sources = sources
	deps.users = users

	deps.pipeline = pipeline.New(
		pipeline.Config{
			Environment:     cfg.Index.Environment,
			EnvironmentSlug: cfg.Index.EnvironmentSlug,
			Version:         cfg.Index.Version,
		},
		normalize.New(cfg.Indexing.MinContentLength, cfg.Indexing.MaxContentLength),
		splitter,
		vectorizer,
		store,
		accesssync.New(store, writer, logger),
		tracker,
		sources,
		logger,
	)

	return deps, nil
}

// newStore creates the configured vector store backend.
func newStore(cfg *config.Config) (vectorstore.Store, error) {
	switch cfg.VectorStore.Backend {
	case "qdrant":
		store, err := vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
			Host:                    cfg.VectorStore.Qdrant.Host,
			Port:                    cfg.VectorStore.Qdrant.Port,
			APIKey:                  cfg.VectorStore.Qdrant.APIKey.Value(),
			UseTLS:                  cfg.VectorStore.Qdrant.UseTLS,
			MaxRetries:              cfg.VectorStore.Qdrant.MaxRetries,
			RetryBackoff:            time.Duration(cfg.VectorStore.Qdrant.RetryBackoff),
			MaxMessageSize:          cfg.VectorStore.Qdrant.MaxMessageSize,
			CircuitBreakerThreshold: cfg.VectorStore.Qdrant.CircuitBreakerThreshold,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to qdrant: %w", err)
		}
		return store, nil
	case "chromem":
		path, err := expandHome(cfg.VectorStore.Chromem.Path)
		if err != nil {
			return nil, err
		}
		store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
			Path:     path,
			Compress: cfg.VectorStore.Chromem.Compress,
		})
		if err != nil {
			return nil, fmt.Errorf("opening chromem store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown vector store backend %q", cfg.VectorStore.Backend)
	}
}

// initSources registers the configured datasource adapters. The Drive token
// provider doubles as the user lister for org sweeps.
func initSources(cfg *config.Config, logger *logging.Logger) (*source.Registry, workflows.UserLister, error) {
	registry := source.NewRegistry()
	var users workflows.UserLister

	if cfg.Sources.Drive.Enabled {
		tokensPath, err := expandHome(cfg.Sources.Drive.TokensPath)
		if err != nil {
			return nil, nil, err
		}
		tokens, err := source.NewFileTokenProvider(tokensPath, &oauth2.Config{
			ClientID:     cfg.Sources.Drive.ClientID,
			ClientSecret: cfg.Sources.Drive.ClientSecret.Value(),
			Endpoint:     google.Endpoint,
			Scopes:       []string{drive.DriveReadonlyScope},
		})
		if err != nil {
			return nil, nil, fmt.Errorf("loading drive tokens: %w", err)
		}
		registry.Register(source.NewDriveAdapter(tokens, source.DriveConfig{
			PageSize: cfg.Sources.Drive.PageSize,
		}))
		users = tokens
		logger.Info(context.Background(), "drive adapter registered",
			zap.Int("users", len(tokens.Users())))
	}

	return registry, users, nil
}

// expandHome resolves a leading "~/" against the current user's home
// directory.
func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}
