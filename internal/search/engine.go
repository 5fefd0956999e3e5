// Package search fans a similarity query out across camera partitions and merges the
// results into a ranked, temporally deduplicated top-k.
package search

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/vidrag/internal/models"
	"github.com/hyperjump/vidrag/internal/planner"
	"github.com/hyperjump/vidrag/internal/vectorstore"
)

// errSkip marks a branch whose partition does not exist.
var errSkip = errors.New("partition absent")

// Engine runs scatter-gather search over a vector store.
type Engine struct {
	store          vectorstore.Store
	roster         Roster
	branchTimeout  time.Duration
	maxConcurrency int
	dedupWindow    float64
	logger         *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for branch failures.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithBranchTimeout bounds each partition query. Defaults to 10s.
func WithBranchTimeout(d time.Duration) Option {
	return func(e *Engine) { e.branchTimeout = d }
}

// WithMaxConcurrency bounds how many partitions are queried at once. Defaults to 8.
func WithMaxConcurrency(n int) Option {
	return func(e *Engine) { e.maxConcurrency = n }
}

// WithDedupWindow sets the same-video spacing used by Finalize. Defaults to 5s.
func WithDedupWindow(seconds float64) Option {
	return func(e *Engine) { e.dedupWindow = seconds }
}

// NewEngine creates a search engine over store. roster resolves wildcard camera lists.
func NewEngine(store vectorstore.Store, roster Roster, opts ...Option) *Engine {
	e := &Engine{
		store:          store,
		roster:         roster,
		branchTimeout:  10 * time.Second,
		maxConcurrency: 8,
		dedupWindow:    DefaultDedupWindow,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.maxConcurrency <= 0 {
		e.maxConcurrency = 1
	}
	if e.roster == nil {
		e.roster = StaticRoster(nil)
	}
	return e
}

// SearchParams is one similarity search request.
type SearchParams struct {
	Vector     []float32
	Cameras    []string
	DateRange  *models.DateRange
	ClockRange *models.ClockRange
	K          int
}

// Search plans the filter, gathers hits from every target partition and finalizes them.
// It never fails: unavailable partitions contribute nothing and the result may be empty.
func (e *Engine) Search(ctx context.Context, p SearchParams) []models.Hit {
	filter := planner.Plan(p.DateRange, p.ClockRange)
	hits := e.Gather(ctx, p.Vector, p.Cameras, filter, p.K)
	return Finalize(hits, p.K, e.dedupWindow)
}

// Targets resolves cameras into the partitions to query. An empty list or one containing
// the wildcard uses the roster. Names are trimmed and deduplicated in order.
func (e *Engine) Targets(ctx context.Context, cameras []string) []string {
	if models.IsWildcard(cameras) {
		roster, err := e.roster.Cameras(ctx)
		if err != nil {
			e.logger.Warn("failed to resolve camera roster", zap.Error(err))
			return []string{}
		}
		cameras = roster
	}
	seen := make(map[string]bool, len(cameras))
	out := make([]string, 0, len(cameras))
	for _, c := range cameras {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// Gather queries each target partition with limit k and concatenates the hits in target
// order. Failed, timed-out and missing partitions contribute zero hits.
func (e *Engine) Gather(ctx context.Context, vector []float32, cameras []string, filter vectorstore.Filter, k int) []models.Hit {
	targets := e.Targets(ctx, cameras)
	if len(targets) == 0 || k <= 0 {
		return []models.Hit{}
	}

	results := make([][]models.Hit, len(targets))
	var g errgroup.Group
	g.SetLimit(e.maxConcurrency)
	for i, name := range targets {
		g.Go(func() error {
			hits, err := e.branch(ctx, name, vector, filter, k)
			switch {
			case err == nil:
				results[i] = hits
			case errors.Is(err, errSkip), errors.Is(err, vectorstore.ErrPartitionNotFound):
				e.logger.Debug("skipping absent partition", zap.String("camera_id", name))
			default:
				e.logger.Warn("partition query failed", zap.String("camera_id", name), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]models.Hit, 0)
	for _, hits := range results {
		out = append(out, hits...)
	}
	return out
}

type branchResult struct {
	hits []models.Hit
	err  error
}

// branch runs one partition query under the branch timeout. The store call runs in its
// own goroutine so a store that ignores its context still cannot hold up the search.
func (e *Engine) branch(ctx context.Context, name string, vector []float32, filter vectorstore.Filter, k int) ([]models.Hit, error) {
	bctx := ctx
	if e.branchTimeout > 0 {
		var cancel context.CancelFunc
		bctx, cancel = context.WithTimeout(ctx, e.branchTimeout)
		defer cancel()
	}

	done := make(chan branchResult, 1)
	go func() {
		exists, err := e.store.PartitionExists(bctx, name)
		if err != nil {
			done <- branchResult{err: err}
			return
		}
		if !exists {
			done <- branchResult{err: errSkip}
			return
		}
		hits, err := e.store.Query(bctx, name, vector, filter, k)
		done <- branchResult{hits: hits, err: err}
	}()

	select {
	case r := <-done:
		return r.hits, r.err
	case <-bctx.Done():
		return nil, bctx.Err()
	}
}
