// Package config loads codectx configuration from a YAML file with
// environment variable overrides. Precedence: defaults < file < environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	cerrors "github.com/codectx/codectx/internal/errors"
)

// Environment variable names. These are the interchange surface with
// deployment tooling and must not drift.
const (
	EnvIndexDir        = "CODEBASE_INDEX_DIR"
	EnvProvider        = "EMBEDDING_PROVIDER"
	EnvModel           = "EMBEDDING_MODEL"
	EnvAPIKey          = "EMBEDDING_API_KEY"
	EnvVectorStore     = "VECTOR_STORE"
	EnvRetrievalBudget = "RETRIEVAL_BUDGET_DEFAULT"
)

// DefaultConfigFile is the per-project configuration file name.
const DefaultConfigFile = ".codectx.yml"

// Config is the complete codectx configuration.
type Config struct {
	Index      IndexConfig      `yaml:"index"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Server     ServerConfig     `yaml:"server"`
}

// IndexConfig configures the indexing pipeline.
type IndexConfig struct {
	// Dir is where the extractor writes unit records and the indexer writes
	// its checkpoint and persisted stores.
	Dir string `yaml:"dir"`

	// BatchSize is the embedding batch size (default: 64).
	BatchSize int `yaml:"batch_size"`

	// MaxInFlight bounds concurrently pipelined embed batches (default: 4).
	MaxInFlight int `yaml:"max_in_flight"`

	// LockTimeout is when a stale pipeline lock may be reclaimed (default: 1h).
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// Cooldown is the minimum interval between index runs (default: 0, off).
	Cooldown time.Duration `yaml:"cooldown"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the backend: "openai", "ollama", or "static".
	Provider string `yaml:"provider"`

	// Model is the embedding model identifier.
	Model string `yaml:"model"`

	// APIKey authenticates hosted providers. Prefer EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`

	// Endpoint overrides the provider base URL.
	Endpoint string `yaml:"endpoint"`

	// Dimensions is the vector width; 0 uses the provider default.
	Dimensions int `yaml:"dimensions"`

	// Timeout is the per-call embedding timeout (default: 10s).
	Timeout time.Duration `yaml:"timeout"`
}

// RetrievalConfig configures the retrieval pipeline.
type RetrievalConfig struct {
	// Budget is the default token budget for retrieve (default: 8000).
	Budget int `yaml:"budget"`

	// Limit is the maximum number of ranked candidates (default: 10).
	Limit int `yaml:"limit"`

	// VectorStore selects the vector backend: "memory" (default), others are
	// adapter modules.
	VectorStore string `yaml:"vector_store"`

	// StoreTimeout is the per-store-call timeout (default: 5s).
	StoreTimeout time.Duration `yaml:"store_timeout"`

	// Formatter selects the output adapter: "", "xml", "markdown", "plain",
	// "human". Empty means the raw assembled context is returned.
	Formatter string `yaml:"formatter"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Index: IndexConfig{
			Dir:         defaultIndexDir(),
			BatchSize:   64,
			MaxInFlight: 4,
			LockTimeout: time.Hour,
		},
		Embeddings: EmbeddingsConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			Timeout:  10 * time.Second,
		},
		Retrieval: RetrievalConfig{
			Budget:       8000,
			Limit:        10,
			VectorStore:  "memory",
			StoreTimeout: 5 * time.Second,
		},
		Server: ServerConfig{
			LogLevel: "info",
		},
	}
}

func defaultIndexDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "codectx", "index")
	}
	return filepath.Join(home, ".codectx", "index")
}

// Load reads configuration from path (empty means DefaultConfigFile in the
// working directory), then applies environment overrides. A missing file is
// not an error; defaults are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigFile
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, cerrors.ConfigError(fmt.Sprintf("parse %s", path), err)
		}
	case os.IsNotExist(err):
		// Defaults apply.
	default:
		return nil, cerrors.ConfigError(fmt.Sprintf("read %s", path), err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the config.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvIndexDir); v != "" {
		c.Index.Dir = v
	}
	if v := os.Getenv(EnvProvider); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Embeddings.APIKey = v
	}
	if v := os.Getenv(EnvVectorStore); v != "" {
		c.Retrieval.VectorStore = v
	}
	if v := os.Getenv(EnvRetrievalBudget); v != "" {
		if budget, err := strconv.Atoi(v); err == nil && budget >= 0 {
			c.Retrieval.Budget = budget
		}
	}
}

// Validate checks invariants that would otherwise surface deep in the
// pipeline.
func (c *Config) Validate() error {
	if c.Index.BatchSize <= 0 {
		return cerrors.ConfigError("index.batch_size must be positive", nil)
	}
	if c.Index.MaxInFlight <= 0 {
		return cerrors.ConfigError("index.max_in_flight must be positive", nil)
	}
	if c.Retrieval.Budget < 0 {
		return cerrors.ConfigError("retrieval.budget must not be negative", nil)
	}
	switch c.Embeddings.Provider {
	case "openai", "ollama", "static":
	default:
		return cerrors.ConfigError(
			fmt.Sprintf("unknown embedding provider %q", c.Embeddings.Provider), nil)
	}
	return nil
}
