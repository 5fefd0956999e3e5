package config

import "time"

// DefaultDimensions is the embedding width of text-embedding-3-small.
const DefaultDimensions = 1536

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendSQLite
	}
	if cfg.Store.Dimensions == 0 {
		cfg.Store.Dimensions = DefaultDimensions
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = "/usr/local/var/vidrag/data/frames.db"
	}
	if cfg.Store.Qdrant.Host == "" {
		cfg.Store.Qdrant.Host = "localhost"
	}
	if cfg.Store.Qdrant.Port == 0 {
		cfg.Store.Qdrant.Port = 6334
	}
	if cfg.Store.Qdrant.CollectionPrefix == "" {
		cfg.Store.Qdrant.CollectionPrefix = "vidrag_"
	}
	if cfg.Search.Roster == "" {
		cfg.Search.Roster = RosterDynamic
	}
	if cfg.Search.CandidateK == 0 {
		cfg.Search.CandidateK = 20
	}
	if cfg.Search.ResultK == 0 {
		cfg.Search.ResultK = 3
	}
	if cfg.Search.MaxK == 0 {
		cfg.Search.MaxK = 100
	}
	if cfg.Search.DedupWindowSeconds == 0 {
		cfg.Search.DedupWindowSeconds = 5.0
	}
	if cfg.Search.BranchTimeout == 0 {
		cfg.Search.BranchTimeout = 10 * time.Second
	}
	if cfg.Search.MaxConcurrency == 0 {
		cfg.Search.MaxConcurrency = 8
	}
	if cfg.Search.SemanticWeight == 0 && cfg.Search.LexicalWeight == 0 {
		cfg.Search.SemanticWeight = 0.7
		cfg.Search.LexicalWeight = 0.3
	}
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = "openai"
	}
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Provider.ChatModel == "" {
		cfg.Provider.ChatModel = "gpt-4o-mini"
	}
	if cfg.Provider.VisionModel == "" {
		cfg.Provider.VisionModel = "gpt-4o-mini"
	}
	if cfg.Provider.EmbeddingModel == "" {
		cfg.Provider.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.Provider.Timeout == 0 {
		cfg.Provider.Timeout = 60 * time.Second
	}
	if cfg.Provider.CacheSize == 0 {
		cfg.Provider.CacheSize = 10000
	}
	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = 32
	}
	if cfg.Ingest.MaxConcurrency == 0 {
		cfg.Ingest.MaxConcurrency = 4
	}
	if cfg.Ingest.SampleIntervalSeconds == 0 {
		cfg.Ingest.SampleIntervalSeconds = 1
	}
	if cfg.Ingest.VideoURLPrefix == "" {
		cfg.Ingest.VideoURLPrefix = "/static/videos"
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".jsonl"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
