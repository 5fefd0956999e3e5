// Package indexer writes batches of embedded frames into per-camera partitions.
package indexer

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/vidrag/internal/models"
	"github.com/hyperjump/vidrag/internal/partition"
	"github.com/hyperjump/vidrag/internal/pointid"
	"github.com/hyperjump/vidrag/internal/timestamp"
	"github.com/hyperjump/vidrag/internal/vectorstore"
)

// Indexer groups items by camera, ensures each partition and upserts each group in
// one call. A failing partition does not stop the others.
type Indexer struct {
	store       vectorstore.Store
	router      *partition.Router
	loc         *time.Location
	concurrency int
	logger      *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for per-partition outcomes and timestamp diagnostics.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithLocation sets the location naive timestamps are read in. Defaults to time.Local.
func WithLocation(loc *time.Location) IndexerOption {
	return func(idx *Indexer) { idx.loc = loc }
}

// WithConcurrency bounds how many partitions are written at once. Defaults to 4.
func WithConcurrency(n int) IndexerOption {
	return func(idx *Indexer) { idx.concurrency = n }
}

// NewIndexer creates an indexer that writes to store through router.
func NewIndexer(store vectorstore.Store, router *partition.Router, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		store:       store,
		router:      router,
		loc:         time.Local,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.logger == nil {
		idx.logger = zap.NewNop()
	}
	if idx.loc == nil {
		idx.loc = time.Local
	}
	if idx.concurrency <= 0 {
		idx.concurrency = 1
	}
	return idx
}

// group is the points bound for one partition, in first-seen order.
type group struct {
	camera string
	points []vectorstore.Point
	seen   map[string]int
}

// Index writes items and reports one outcome per partition. Items without a frame id or
// vector are skipped. A frame id repeated within the batch keeps its last payload.
func (idx *Indexer) Index(ctx context.Context, items []models.IndexItem) *models.IngestResult {
	result := &models.IngestResult{}
	groups := idx.groupItems(items, result)

	outcomes := make([]models.PartitionOutcome, len(groups))
	var g errgroup.Group
	g.SetLimit(idx.concurrency)
	for i, grp := range groups {
		g.Go(func() error {
			outcomes[i] = idx.indexGroup(ctx, grp)
			return nil
		})
	}
	_ = g.Wait()

	result.Partitions = outcomes
	result.Finish()
	idx.logger.Info("indexed batch",
		zap.Int("items", len(items)),
		zap.Int("indexed", result.Indexed),
		zap.Int("skipped", result.Skipped),
		zap.String("status", result.Status))
	return result
}

func (idx *Indexer) groupItems(items []models.IndexItem, result *models.IngestResult) []*group {
	var groups []*group
	byCamera := make(map[string]*group)
	for _, item := range items {
		md := item.Metadata
		if md.FrameID == "" || len(item.Vector) == 0 {
			idx.logger.Warn("skipping frame without id or vector",
				zap.String("frame_id", md.FrameID), zap.String("video_id", md.VideoID))
			result.Skipped++
			continue
		}
		camera := strings.TrimSpace(md.CameraID)
		if camera == "" {
			camera = models.DefaultCameraID
		}
		grp, ok := byCamera[camera]
		if !ok {
			grp = &group{camera: camera, seen: make(map[string]int)}
			byCamera[camera] = grp
			groups = append(groups, grp)
		}
		pt := idx.point(camera, item)
		if pos, dup := grp.seen[md.FrameID]; dup {
			grp.points[pos] = pt
			continue
		}
		grp.seen[md.FrameID] = len(grp.points)
		grp.points = append(grp.points, pt)
	}
	return groups
}

func (idx *Indexer) point(camera string, item models.IndexItem) vectorstore.Point {
	md := item.Metadata
	sortable, err := timestamp.Normalize(md.TimestampStr, idx.loc)
	if err != nil {
		idx.logger.Warn("unparsed timestamp, indexing with epoch 0",
			zap.String("frame_id", md.FrameID), zap.String("timestamp", md.TimestampStr), zap.Error(err))
	}
	var offset, clock float64
	if md.RelativeOffset != nil {
		offset = *md.RelativeOffset
	}
	if md.ClockTimeSeconds != nil {
		clock = *md.ClockTimeSeconds
	}
	return vectorstore.Point{
		ID:     pointid.FromFrameID(md.FrameID),
		Vector: item.Vector,
		Payload: models.Payload{
			CameraID:          camera,
			VideoID:           md.VideoID,
			TimestampStr:      md.TimestampStr,
			TimestampSortable: sortable,
			RelativeOffset:    offset,
			ClockTimeSeconds:  clock,
			Description:       md.Description,
			VideoPath:         md.VideoPath,
			FrameID:           md.FrameID,
		},
	}
}

func (idx *Indexer) indexGroup(ctx context.Context, grp *group) models.PartitionOutcome {
	out := models.PartitionOutcome{Partition: grp.camera, Count: len(grp.points)}
	fail := func(stage string, err error) models.PartitionOutcome {
		idx.logger.Warn("partition batch failed",
			zap.String("camera_id", grp.camera), zap.String("stage", stage),
			zap.Int("points", len(grp.points)), zap.Error(err))
		out.Err = err
		out.Error = err.Error()
		return out
	}
	if err := idx.router.Ensure(ctx, grp.camera); err != nil {
		return fail("ensure", err)
	}
	if err := idx.store.Upsert(ctx, grp.camera, grp.points); err != nil {
		if errors.Is(err, vectorstore.ErrPartitionNotFound) {
			// Dropped behind our back; the next batch recreates it.
			idx.router.Forget(grp.camera)
		}
		return fail("upsert", err)
	}
	idx.logger.Debug("partition batch written", zap.String("camera_id", grp.camera), zap.Int("points", len(grp.points)))
	return out
}
