// Package partition ensures that a camera's partition exists with the expected schema
// before frames are written to it.
package partition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hyperjump/vidrag/internal/vectorstore"
)

// DefaultEnsureTimeout bounds one shared partition creation.
const DefaultEnsureTimeout = 30 * time.Second

// Router lazily creates one partition per camera. Known partitions are memoised and
// concurrent first calls for the same camera share one creation.
type Router struct {
	store   vectorstore.Store
	spec    vectorstore.PartitionSpec
	logger  *zap.Logger
	timeout time.Duration
	known   sync.Map
	group   singleflight.Group
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithEnsureTimeout bounds the shared creation work, which outlives any single caller.
func WithEnsureTimeout(d time.Duration) Option {
	return func(r *Router) {
		r.timeout = d
	}
}

// NewRouter creates a router that creates partitions with the given dimensions and cosine metric.
func NewRouter(store vectorstore.Store, dimensions int, opts ...Option) *Router {
	r := &Router{
		store:   store,
		spec:    vectorstore.PartitionSpec{Dimensions: dimensions, Metric: vectorstore.MetricCosine},
		logger:  zap.NewNop(),
		timeout: DefaultEnsureTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.timeout <= 0 {
		r.timeout = DefaultEnsureTimeout
	}
	return r
}

// Ensure makes sure the partition for cameraID exists with its range indexes.
// Losing a creation race to another process counts as success.
//
// The shared work is detached from the caller that started it, so a cancelled caller
// returns its own ctx error without failing the others waiting on the same camera.
func (r *Router) Ensure(ctx context.Context, cameraID string) error {
	if _, ok := r.known.Load(cameraID); ok {
		return nil
	}
	ch := r.group.DoChan(cameraID, func() (interface{}, error) {
		if _, ok := r.known.Load(cameraID); ok {
			return nil, nil
		}
		workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		if err := r.ensure(workCtx, cameraID); err != nil {
			return nil, err
		}
		r.known.Store(cameraID, struct{}{})
		return nil, nil
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("ensure partition %s: %w", cameraID, ctx.Err())
	}
}

func (r *Router) ensure(ctx context.Context, cameraID string) error {
	exists, err := r.store.PartitionExists(ctx, cameraID)
	if err != nil {
		return fmt.Errorf("check partition %s: %w", cameraID, err)
	}
	if !exists {
		err := r.store.CreatePartition(ctx, cameraID, r.spec)
		switch {
		case err == nil:
			r.logger.Info("created partition", zap.String("camera_id", cameraID), zap.Int("dimensions", r.spec.Dimensions))
		case errors.Is(err, vectorstore.ErrPartitionExists):
			r.logger.Debug("partition created concurrently", zap.String("camera_id", cameraID))
		default:
			// Another writer may have won the race with an error we could not classify.
			if again, checkErr := r.store.PartitionExists(ctx, cameraID); checkErr != nil || !again {
				return fmt.Errorf("create partition %s: %w", cameraID, err)
			}
		}
	}
	for _, field := range vectorstore.RangeFields {
		if err := r.store.CreateRangeIndex(ctx, cameraID, field); err != nil {
			return fmt.Errorf("create %s index on %s: %w", field, cameraID, err)
		}
	}
	return nil
}

// Forget drops cameraID from the memo so the next Ensure re-checks the store.
// Writers call it when a memoised partition turns out to be gone.
func (r *Router) Forget(cameraID string) {
	r.known.Delete(cameraID)
}
