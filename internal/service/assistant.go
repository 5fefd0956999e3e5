package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/vidrag/internal/models"
	"github.com/hyperjump/vidrag/internal/planner"
	"github.com/hyperjump/vidrag/internal/provider"
	"github.com/hyperjump/vidrag/internal/rerank"
	"github.com/hyperjump/vidrag/internal/search"
	"go.uber.org/zap"
)

// ErrInvalidRequest marks caller mistakes such as an empty query or bad date bounds.
var ErrInvalidRequest = errors.New("invalid request")

const (
	foundMessage   = "I found %d clips matching your description."
	nothingMessage = "I looked through the footage but couldn't find anything."
)

// AssistantConfig holds the retrieval knobs.
type AssistantConfig struct {
	CandidateK     int
	ResultK        int
	MaxK           int
	VideoURLPrefix string
	Location       *time.Location
}

// Assistant answers operator messages: chat is answered by the provider, searches are
// embedded, gathered across partitions, reranked and decorated with playable URLs.
type Assistant struct {
	provider provider.Provider
	engine   *search.Engine
	reranker *rerank.Reranker
	cfg      AssistantConfig
	logger   *zap.Logger
}

// NewAssistant creates an assistant. reranker may be nil to keep the semantic order.
func NewAssistant(p provider.Provider, engine *search.Engine, reranker *rerank.Reranker, cfg AssistantConfig, logger *zap.Logger) *Assistant {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultK <= 0 {
		cfg.ResultK = 3
	}
	if cfg.CandidateK <= 0 {
		cfg.CandidateK = 20
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Assistant{provider: p, engine: engine, reranker: reranker, cfg: cfg, logger: logger}
}

// Handle routes a message by intent. Classification failures fall back to search.
func (a *Assistant) Handle(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	if err := req.Validate(a.cfg.ResultK, a.cfg.MaxK); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	intent, err := a.provider.Intent(ctx, req.Query)
	if err != nil {
		a.logger.Warn("intent classification failed, searching", zap.Error(err))
		intent = provider.IntentSearch
	}
	if intent == provider.IntentChat {
		return a.chat(ctx, req.Query)
	}
	return a.Search(ctx, req)
}

// Search runs retrieval for req without intent routing.
func (a *Assistant) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	started := time.Now()
	if err := req.Validate(a.cfg.ResultK, a.cfg.MaxK); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	dates, err := planner.DateRangeFromDates(req.StartDate, req.EndDate, a.cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	clock, err := planner.ClockRangeFromTimes(req.StartTime, req.EndTime)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	vector, err := a.provider.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	candidates := a.cfg.CandidateK
	if req.K > candidates {
		candidates = req.K
	}
	hits := a.engine.Search(ctx, search.SearchParams{
		Vector:     vector,
		Cameras:    req.Cameras,
		DateRange:  dates,
		ClockRange: clock,
		K:          candidates,
	})

	var results []*models.SearchResult
	if a.reranker != nil {
		results = a.reranker.Rerank(ctx, req.Query, hits, req.K)
	} else {
		results = semanticResults(hits, req.K)
	}
	for _, r := range results {
		r.VideoURL = a.VideoURL(r.Payload)
	}

	msg := nothingMessage
	if len(results) > 0 {
		msg = fmt.Sprintf(foundMessage, len(results))
	}
	a.logger.Debug("search complete",
		zap.String("query", req.Query),
		zap.Int("candidates", len(hits)),
		zap.Int("results", len(results)))

	return &models.SearchResponse{
		Type:      models.ResponseSearch,
		Message:   msg,
		Results:   results,
		Query:     req.Query,
		QueryTime: time.Since(started).Milliseconds(),
	}, nil
}

func (a *Assistant) chat(ctx context.Context, query string) (*models.SearchResponse, error) {
	reply, err := a.provider.Chat(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("chat reply: %w", err)
	}
	return &models.SearchResponse{
		Type:    models.ResponseChat,
		Message: reply,
		Results: []*models.SearchResult{},
		Query:   query,
	}, nil
}

// VideoURL maps a stored frame onto its playable URL under the configured prefix.
func (a *Assistant) VideoURL(p models.Payload) string {
	name := p.VideoPath
	if name == "" {
		name = p.VideoID
	}
	if name == "" {
		return ""
	}
	return VideoURL(a.cfg.VideoURLPrefix, name)
}

// VideoURL joins prefix and the base name of videoPath.
func VideoURL(prefix, videoPath string) string {
	return strings.TrimRight(prefix, "/") + "/" + filepath.Base(videoPath)
}

func semanticResults(hits []models.Hit, k int) []*models.SearchResult {
	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]*models.SearchResult, len(hits))
	for i, h := range hits {
		out[i] = &models.SearchResult{
			Payload:       h.Payload,
			ID:            h.ID,
			Score:         h.Score,
			SemanticScore: h.Score,
			Rank:          i + 1,
		}
	}
	return out
}
