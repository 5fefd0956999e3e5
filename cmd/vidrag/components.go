package main

import (
	"context"
	"fmt"

	"github.com/hyperjump/vidrag/internal/config"
	"github.com/hyperjump/vidrag/internal/indexer"
	"github.com/hyperjump/vidrag/internal/partition"
	"github.com/hyperjump/vidrag/internal/provider"
	"github.com/hyperjump/vidrag/internal/rerank"
	"github.com/hyperjump/vidrag/internal/search"
	"github.com/hyperjump/vidrag/internal/service"
	"github.com/hyperjump/vidrag/internal/vectorstore"
	"go.uber.org/zap"
)

// components holds the process-wide services built from config.
type components struct {
	Store     vectorstore.Store
	Provider  provider.Provider
	Router    *partition.Router
	Indexer   *indexer.Indexer
	Engine    *search.Engine
	Ingestor  *service.Ingestor
	Assistant *service.Assistant
	logger    *zap.Logger
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	store, err := vectorstore.New(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}

	p, err := provider.New(cfg.Provider, cfg.Store.Dimensions)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	router := partition.NewRouter(store, cfg.Store.Dimensions, partition.WithLogger(logger))
	idx := indexer.NewIndexer(store, router,
		indexer.WithLogger(logger),
		indexer.WithLocation(loc),
		indexer.WithConcurrency(cfg.Ingest.MaxConcurrency),
	)
	engine := search.NewEngine(store, search.NewRoster(cfg.Search, store),
		search.WithLogger(logger),
		search.WithBranchTimeout(cfg.Search.BranchTimeout),
		search.WithMaxConcurrency(cfg.Search.MaxConcurrency),
		search.WithDedupWindow(cfg.Search.DedupWindowSeconds),
	)

	var reranker *rerank.Reranker
	if cfg.Search.RerankOrDefault() {
		reranker = rerank.New(cfg.Search.SemanticWeight, cfg.Search.LexicalWeight, rerank.WithLogger(logger))
	}

	ingestor := service.NewIngestor(p, idx,
		service.WithIngestLogger(logger),
		service.WithIngestLocation(loc),
		service.WithBatchSize(cfg.Ingest.BatchSize),
	)
	assistant := service.NewAssistant(p, engine, reranker, service.AssistantConfig{
		CandidateK:     cfg.Search.CandidateK,
		ResultK:        cfg.Search.ResultK,
		MaxK:           cfg.Search.MaxK,
		VideoURLPrefix: cfg.Ingest.VideoURLPrefix,
		Location:       loc,
	}, logger)

	return &components{
		Store:     store,
		Provider:  p,
		Router:    router,
		Indexer:   idx,
		Engine:    engine,
		Ingestor:  ingestor,
		Assistant: assistant,
		logger:    logger,
	}, nil
}

// Close releases the provider and the store.
func (c *components) Close() {
	if err := c.Provider.Close(); err != nil {
		c.logger.Warn("provider close failed", zap.Error(err))
	}
	if err := c.Store.Close(); err != nil {
		c.logger.Warn("store close failed", zap.Error(err))
	}
}
