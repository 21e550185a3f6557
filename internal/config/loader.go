package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// Load loads configuration from a YAML file, then overrides with environment
// variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (VECTORSTORE_QDRANT_HOST, EMBEDDINGS_MODEL, ...)
//  2. YAML config file
//  3. Hardcoded defaults
//
// The configPath parameter specifies the YAML file to load. If empty, the
// default path ~/.config/corpusd/config.yaml is used; a missing file is not
// an error, defaults and environment apply.
//
// Environment variables use underscore separators and are uppercased. The
// first segment selects the config section:
//
//	VECTORSTORE_QDRANT_HOST -> vectorstore.qdrant.host
//	EMBEDDINGS_BATCH_SIZE   -> embeddings.batch_size
//	INDEXING_CHUNK_SIZE     -> indexing.chunk_size
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "corpusd", "config.yaml")
	}

	if f, err := os.Open(configPath); err == nil {
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("%w: config file exceeds %d bytes", ErrInvalidConfig, maxConfigFileSize)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// configSections are the recognized top-level section names. Environment
// variables not starting with one of these are ignored rather than polluting
// the config tree.
var configSections = []string{
	"logging", "telemetry", "index", "vectorstore", "embeddings",
	"indexing", "runs", "temporal", "events", "server", "sources",
}

// envTransform maps environment variable names to config keys.
// The first underscore after a known section (and, for nested sections,
// the sub-section) becomes a dot; remaining underscores stay literal.
//
//	LOGGING_LEVEL            -> logging.level
//	VECTORSTORE_QDRANT_HOST  -> vectorstore.qdrant.host
//	INDEXING_CHUNK_SIZE      -> indexing.chunk_size
func envTransform(s string) string {
	lower := strings.ToLower(s)

	var section string
	for _, sec := range configSections {
		if strings.HasPrefix(lower, sec+"_") {
			section = sec
			break
		}
	}
	if section == "" {
		return "" // not a corpusd variable
	}

	rest := lower[len(section)+1:]

	// Nested sections keep a second dotted segment.
	switch section {
	case "vectorstore":
		for _, sub := range []string{"qdrant", "chromem"} {
			if strings.HasPrefix(rest, sub+"_") {
				return section + "." + sub + "." + rest[len(sub)+1:]
			}
		}
	case "sources":
		for _, sub := range []string{"drive"} {
			if strings.HasPrefix(rest, sub+"_") {
				return section + "." + sub + "." + rest[len(sub)+1:]
			}
		}
	}

	return section + "." + rest
}
