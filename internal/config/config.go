// Package config provides configuration loading and structs for the vidrag server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug    bool           `yaml:"debug"`
	Timezone string         `yaml:"timezone"`
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Search   SearchConfig   `yaml:"search"`
	Provider ProviderConfig `yaml:"provider"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Watch    WatchConfig    `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendQdrant   = "qdrant"
)

// StoreConfig selects and configures the vector store.
type StoreConfig struct {
	Backend     string       `yaml:"backend"`
	Dimensions  int          `yaml:"dimensions"`
	SQLitePath  string       `yaml:"sqlite_path"`
	PostgresDSN string       `yaml:"postgres_dsn"`
	Qdrant      QdrantConfig `yaml:"qdrant"`
}

// QdrantConfig holds gRPC connection settings for a Qdrant server.
type QdrantConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	APIKey           string `yaml:"api_key"`
	UseTLS           bool   `yaml:"use_tls"`
	CollectionPrefix string `yaml:"collection_prefix"`
}

// Roster modes for wildcard camera search.
const (
	RosterStatic  = "static"
	RosterDynamic = "dynamic"
)

// SearchConfig holds scatter-gather, dedup and rerank settings.
type SearchConfig struct {
	// Roster is "static" (use Cameras) or "dynamic" (list partitions in the store).
	Roster             string        `yaml:"roster"`
	Cameras            []string      `yaml:"cameras"`
	CandidateK         int           `yaml:"candidate_k"`
	ResultK            int           `yaml:"result_k"`
	MaxK               int           `yaml:"max_k"`
	DedupWindowSeconds float64       `yaml:"dedup_window_seconds"`
	BranchTimeout      time.Duration `yaml:"branch_timeout"`
	MaxConcurrency     int           `yaml:"max_concurrency"`
	RerankEnabled      *bool         `yaml:"rerank_enabled"`
	SemanticWeight     float64       `yaml:"semantic_weight"`
	LexicalWeight      float64       `yaml:"lexical_weight"`
}

// RerankOrDefault returns whether lexical rerank is on; defaults to true when unset.
func (s *SearchConfig) RerankOrDefault() bool {
	if s.RerankEnabled != nil {
		return *s.RerankEnabled
	}
	return true
}

// ProviderConfig configures the vision/embedding/chat model provider.
type ProviderConfig struct {
	Name           string        `yaml:"name"` // openai or mock
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	ChatModel      string        `yaml:"chat_model"`
	VisionModel    string        `yaml:"vision_model"`
	EmbeddingModel string        `yaml:"embedding_model"`
	Timeout        time.Duration `yaml:"timeout"`
	CacheSize      int           `yaml:"cache_size"`
}

// IngestConfig holds frame ingestion settings.
type IngestConfig struct {
	BatchSize             int     `yaml:"batch_size"`
	SampleIntervalSeconds float64 `yaml:"sample_interval_seconds"`
	VideoURLPrefix        string  `yaml:"video_url_prefix"`
	// MaxConcurrency bounds how many partitions one batch writes at once.
	MaxConcurrency int `yaml:"max_concurrency"`
}

// WatchConfig holds spool directories scanned for frame manifests.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Location resolves Timezone. Empty or "Local" means the process location.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Load reads and parses the config file at path, applies environment overrides and
// defaults, and expands paths. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyEnv(&cfg)
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Store.SQLitePath = expandPath(cfg.Store.SQLitePath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// ApplyEnv overrides secrets from the environment when set.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("VIDRAG_QDRANT_API_KEY"); v != "" {
		cfg.Store.Qdrant.APIKey = v
	}
	if v := os.Getenv("VIDRAG_POSTGRES_DSN"); v != "" {
		cfg.Store.PostgresDSN = v
	}
}

// Validate rejects settings that defaults cannot repair.
func Validate(cfg *Config) error {
	switch cfg.Store.Backend {
	case BackendMemory, BackendSQLite, BackendPostgres, BackendQdrant:
	default:
		return fmt.Errorf("unknown store backend %q (supported: memory, sqlite, postgres, qdrant)", cfg.Store.Backend)
	}
	switch cfg.Search.Roster {
	case RosterStatic, RosterDynamic:
	default:
		return fmt.Errorf("unknown roster mode %q (supported: static, dynamic)", cfg.Search.Roster)
	}
	if cfg.Search.DedupWindowSeconds < 0 {
		return fmt.Errorf("dedup_window_seconds must not be negative")
	}
	if _, err := cfg.Location(); err != nil {
		return err
	}
	return nil
}

// Save writes the config to path. Used for persisting watch directory add/remove.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. ":memory:" is left alone.
func expandPath(path string, configDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
