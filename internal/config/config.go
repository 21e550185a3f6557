// Package config provides configuration loading for corpusd.
package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig indicates a configuration validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the root configuration for the corpusd worker.
type Config struct {
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	Index       IndexConfig       `koanf:"index"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	Indexing    IndexingConfig    `koanf:"indexing"`
	Runs        RunsConfig        `koanf:"runs"`
	Temporal    TemporalConfig    `koanf:"temporal"`
	Events      EventsConfig      `koanf:"events"`
	Server      ServerConfig      `koanf:"server"`
	Sources     SourcesConfig     `koanf:"sources"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `koanf:"level"`
	// Format is the output encoding: json or console.
	Format string `koanf:"format"`
}

// TelemetryConfig controls trace export.
type TelemetryConfig struct {
	// Enabled turns OTLP trace export on.
	Enabled bool `koanf:"enabled"`
	// Endpoint is the OTLP gRPC collector endpoint (host:port).
	Endpoint string `koanf:"endpoint"`
	// ServiceName overrides the reported service name.
	ServiceName string `koanf:"service_name"`
	// Insecure disables TLS on the collector connection.
	Insecure bool `koanf:"insecure"`
}

// IndexConfig identifies the deployment slice used to derive org index names.
// Index names follow {environment}-{environment_slug}-{org}-{datasource}-{version}.
type IndexConfig struct {
	Environment     string `koanf:"environment"`
	EnvironmentSlug string `koanf:"environment_slug"`
	Version         string `koanf:"version"`
}

// VectorStoreConfig selects and configures the vector store backend.
type VectorStoreConfig struct {
	// Backend is "qdrant" or "chromem".
	Backend string `koanf:"backend"`

	Qdrant  QdrantConfig  `koanf:"qdrant"`
	Chromem ChromemConfig `koanf:"chromem"`
}

// QdrantConfig configures the Qdrant gRPC client.
type QdrantConfig struct {
	Host                    string   `koanf:"host"`
	Port                    int      `koanf:"port"`
	UseTLS                  bool     `koanf:"use_tls"`
	APIKey                  Secret   `koanf:"api_key"`
	MaxMessageSize          int      `koanf:"max_message_size"`
	MaxRetries              int      `koanf:"max_retries"`
	RetryBackoff            Duration `koanf:"retry_backoff"`
	CircuitBreakerThreshold int      `koanf:"circuit_breaker_threshold"`
}

// ChromemConfig configures the embedded chromem-go store.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "tei" or "openai".
	Provider string `koanf:"provider"`
	// Model is the embedding model name.
	Model string `koanf:"model"`
	// BaseURL is the TEI endpoint (TEI provider only).
	BaseURL string `koanf:"base_url"`
	// APIKey authenticates against the provider (OpenAI only).
	APIKey Secret `koanf:"api_key"`
	// Dimension is the expected embedding dimension. Must match the
	// org index dimension; checked once at collection-ensure time.
	Dimension int `koanf:"dimension"`
	// BatchSize is the number of chunks sent per embed call.
	BatchSize int `koanf:"batch_size"`
	// RequestsPerSecond rate-limits provider calls. 0 disables limiting.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// IndexingConfig tunes the document pipeline.
type IndexingConfig struct {
	// ChunkSize is the sliding-window size in runes.
	ChunkSize int `koanf:"chunk_size"`
	// ChunkOverlap is the number of runes shared between consecutive chunks.
	ChunkOverlap int `koanf:"chunk_overlap"`
	// MaxChunks caps chunks per document; 0 means unlimited.
	MaxChunks int `koanf:"max_chunks"`
	// MinContentLength rejects documents shorter than this after normalization.
	MinContentLength int `koanf:"min_content_length"`
	// MaxContentLength rejects documents longer than this after normalization.
	MaxContentLength int `koanf:"max_content_length"`
	// WriteBatchSize is the vector store write batch size.
	WriteBatchSize int `koanf:"write_batch_size"`
	// MaxWriteRetries bounds retry attempts for failed write sub-batches.
	MaxWriteRetries int `koanf:"max_write_retries"`
	// WriteRetryBackoff is the initial backoff between write retries.
	WriteRetryBackoff Duration `koanf:"write_retry_backoff"`
}

// RunsConfig configures run tracker persistence.
type RunsConfig struct {
	// DatabasePath is the SQLite file for run/item bookkeeping.
	DatabasePath string `koanf:"database_path"`
}

// TemporalConfig configures the Temporal worker.
type TemporalConfig struct {
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// EventsConfig configures NATS run-event publishing.
type EventsConfig struct {
	// URL is the NATS server URL. Empty disables event publishing.
	URL string `koanf:"url"`
	// SubjectPrefix prefixes all published subjects.
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ServerConfig configures the operator HTTP server.
type ServerConfig struct {
	// Addr is the listen address for health, metrics and run status.
	Addr string `koanf:"addr"`
}

// SourcesConfig configures datasource adapters.
type SourcesConfig struct {
	Drive DriveConfig `koanf:"drive"`
}

// DriveConfig configures the Google Drive adapter.
type DriveConfig struct {
	// Enabled registers the Drive adapter at startup.
	Enabled bool `koanf:"enabled"`
	// ClientID and ClientSecret identify the OAuth application.
	// Per-user tokens come from the external credential store.
	ClientID     string `koanf:"client_id"`
	ClientSecret Secret `koanf:"client_secret"`
	// TokensPath is the JSON file holding per-user OAuth tokens.
	TokensPath string `koanf:"tokens_path"`
	// PageSize is the Drive list page size.
	PageSize int `koanf:"page_size"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "corpusd"
	}
	if c.Index.Environment == "" {
		c.Index.Environment = "dev"
	}
	if c.Index.EnvironmentSlug == "" {
		c.Index.EnvironmentSlug = "local"
	}
	if c.Index.Version == "" {
		c.Index.Version = "v1"
	}
	if c.VectorStore.Backend == "" {
		c.VectorStore.Backend = "chromem"
	}
	if c.VectorStore.Qdrant.Host == "" {
		c.VectorStore.Qdrant.Host = "localhost"
	}
	if c.VectorStore.Qdrant.Port == 0 {
		c.VectorStore.Qdrant.Port = 6334
	}
	if c.VectorStore.Chromem.Path == "" {
		c.VectorStore.Chromem.Path = "~/.local/share/corpusd/vectorstore"
	}
	if c.Embeddings.Provider == "" {
		c.Embeddings.Provider = "tei"
	}
	if c.Embeddings.BaseURL == "" {
		c.Embeddings.BaseURL = "http://localhost:8080"
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if c.Embeddings.Dimension == 0 {
		c.Embeddings.Dimension = 384
	}
	if c.Embeddings.BatchSize == 0 {
		c.Embeddings.BatchSize = 32
	}
	if c.Indexing.ChunkSize == 0 {
		c.Indexing.ChunkSize = 1200
	}
	if c.Indexing.ChunkOverlap == 0 {
		c.Indexing.ChunkOverlap = 200
	}
	if c.Indexing.MinContentLength == 0 {
		c.Indexing.MinContentLength = 10
	}
	if c.Indexing.MaxContentLength == 0 {
		c.Indexing.MaxContentLength = 1_000_000
	}
	if c.Indexing.WriteBatchSize == 0 {
		c.Indexing.WriteBatchSize = 100
	}
	if c.Indexing.MaxWriteRetries == 0 {
		c.Indexing.MaxWriteRetries = 3
	}
	if c.Indexing.WriteRetryBackoff == 0 {
		c.Indexing.WriteRetryBackoff = Duration(500_000_000) // 500ms
	}
	if c.Runs.DatabasePath == "" {
		c.Runs.DatabasePath = "~/.local/share/corpusd/runs.db"
	}
	if c.Temporal.HostPort == "" {
		c.Temporal.HostPort = "localhost:7233"
	}
	if c.Temporal.Namespace == "" {
		c.Temporal.Namespace = "default"
	}
	if c.Temporal.TaskQueue == "" {
		c.Temporal.TaskQueue = "corpusd-indexing"
	}
	if c.Events.SubjectPrefix == "" {
		c.Events.SubjectPrefix = "corpusd"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8787"
	}
	if c.Sources.Drive.TokensPath == "" {
		c.Sources.Drive.TokensPath = "~/.config/corpusd/drive-tokens.json"
	}
	if c.Sources.Drive.PageSize == 0 {
		c.Sources.Drive.PageSize = 100
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Logging.Format)
	}
	switch c.VectorStore.Backend {
	case "qdrant", "chromem":
	default:
		return fmt.Errorf("%w: unknown vector store backend %q", ErrInvalidConfig, c.VectorStore.Backend)
	}
	switch c.Embeddings.Provider {
	case "tei", "openai":
	default:
		return fmt.Errorf("%w: unknown embeddings provider %q", ErrInvalidConfig, c.Embeddings.Provider)
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("%w: embeddings dimension must be positive", ErrInvalidConfig)
	}
	if c.Indexing.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive", ErrInvalidConfig)
	}
	if c.Indexing.ChunkOverlap < 0 || c.Indexing.ChunkOverlap >= c.Indexing.ChunkSize {
		return fmt.Errorf("%w: chunk overlap must be in [0, chunk_size)", ErrInvalidConfig)
	}
	if c.Indexing.MinContentLength <= 0 {
		return fmt.Errorf("%w: min content length must be positive", ErrInvalidConfig)
	}
	if c.Indexing.MaxContentLength < c.Indexing.MinContentLength {
		return fmt.Errorf("%w: max content length must be >= min content length", ErrInvalidConfig)
	}
	if c.Indexing.WriteBatchSize <= 0 {
		return fmt.Errorf("%w: write batch size must be positive", ErrInvalidConfig)
	}
	if c.VectorStore.Backend == "qdrant" {
		if c.VectorStore.Qdrant.Port <= 0 || c.VectorStore.Qdrant.Port > 65535 {
			return fmt.Errorf("%w: invalid qdrant port: %d", ErrInvalidConfig, c.VectorStore.Qdrant.Port)
		}
	}
	if c.Embeddings.Provider == "openai" && !c.Embeddings.APIKey.IsSet() {
		return fmt.Errorf("%w: openai embeddings require an API key", ErrInvalidConfig)
	}
	return nil
}
