package anerkennung

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonathanglasmeyer/haw-modul-anerkennung/llm"
)

// Config holds all configuration for the recognition service.
type Config struct {
	// DataDir is where local databases live. Defaults to
	// ~/.anerkennung; "local" keeps them in the working directory.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// IndexPath overrides the sqlite-vec index location. If empty the
	// index is created as index.db inside DataDir.
	IndexPath string `json:"index_path" yaml:"index_path"`

	// DatabaseURL selects Postgres for the catalog when set; otherwise
	// the catalog lives in catalog.db inside DataDir.
	DatabaseURL string `json:"database_url" yaml:"database_url"`

	// CatalogPath overrides the SQLite catalog location.
	CatalogPath string `json:"catalog_path" yaml:"catalog_path"`

	// LLM endpoints. Embedding and Chat may point at different
	// providers.
	Chat      llm.Config `json:"chat" yaml:"chat"`
	Embedding llm.Config `json:"embedding" yaml:"embedding"`

	// EmbeddingDim must match the embedding model output size.
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`

	// TopK is the default number of retrieval results.
	TopK int `json:"top_k" yaml:"top_k"`

	// CompareConcurrency bounds parallel comparison calls.
	CompareConcurrency int `json:"compare_concurrency" yaml:"compare_concurrency"`

	// CompareTimeoutSeconds bounds each comparison call.
	CompareTimeoutSeconds int `json:"compare_timeout_seconds" yaml:"compare_timeout_seconds"`

	Server ServerConfig `json:"server" yaml:"server"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`

	// APIKey protects the public API when set. Empty disables the
	// check (local development).
	APIKey string `json:"api_key" yaml:"api_key"`

	// AdminPassword unlocks the admin session login. Bcrypt hashes
	// (prefix $2) and plain values are both accepted.
	AdminPassword string `json:"admin_password" yaml:"admin_password"`

	// CORSOrigins lists allowed browser origins. Empty allows all.
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins"`

	// SyncOnStartup runs an initial reconcile before serving.
	SyncOnStartup bool `json:"sync_on_startup" yaml:"sync_on_startup"`
}

// DefaultConfig returns a Config suitable for local development with
// the Gemini API.
func DefaultConfig() Config {
	return Config{
		DataDir: "home",
		Chat: llm.Config{
			Provider: "gemini",
			Model:    "gemini-2.0-flash",
		},
		Embedding: llm.Config{
			Provider: "gemini",
			Model:    "text-embedding-004",
		},
		EmbeddingDim:          768,
		TopK:                  5,
		CompareConcurrency:    10,
		CompareTimeoutSeconds: 120,
		Server: ServerConfig{
			Addr:          ":8000",
			SyncOnStartup: true,
		},
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("%w: embedding_dim must be positive", ErrInvalidConfig)
	}
	if c.Embedding.Provider == "" {
		return fmt.Errorf("%w: embedding provider not set", ErrInvalidConfig)
	}
	if c.Chat.Provider == "" {
		return fmt.Errorf("%w: chat provider not set", ErrInvalidConfig)
	}
	return nil
}

// CompareTimeout returns the per-comparison timeout as a Duration.
func (c *Config) CompareTimeout() time.Duration {
	if c.CompareTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.CompareTimeoutSeconds) * time.Second
}

// resolveDataDir computes the directory for local database files.
func (c *Config) resolveDataDir() string {
	switch c.DataDir {
	case "local", "cwd", ".":
		return "."
	case "", "home":
		home, err := os.UserHomeDir()
		if err != nil {
			return "."
		}
		return filepath.Join(home, ".anerkennung")
	default:
		return c.DataDir
	}
}

func (c *Config) resolveIndexPath() string {
	if c.IndexPath != "" {
		return c.IndexPath
	}
	return filepath.Join(c.resolveDataDir(), "index.db")
}

func (c *Config) resolveCatalogPath() string {
	if c.CatalogPath != "" {
		return c.CatalogPath
	}
	return filepath.Join(c.resolveDataDir(), "catalog.db")
}
