// Package service composes the provider, indexer and search engine into the
// ingest and assistant workflows used by the HTTP API and the CLI.
package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/vidrag/internal/frames"
	"github.com/hyperjump/vidrag/internal/indexer"
	"github.com/hyperjump/vidrag/internal/models"
	"github.com/hyperjump/vidrag/internal/provider"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchSize     = 32
	defaultDescribeLimit = 4
)

// VideoMeta is the caller-supplied context for a stream of frame records.
// Fields set on a record take precedence.
type VideoMeta struct {
	CameraID  string
	VideoID   string
	VideoPath string
	// Start is the capture time of offset 0, used for records without a timestamp.
	Start time.Time
}

// Ingestor turns frame records into indexed points: it describes frames that carry
// only an image, embeds descriptions in batches and hands them to the indexer.
type Ingestor struct {
	provider      provider.Provider
	indexer       *indexer.Indexer
	loc           *time.Location
	batchSize     int
	describeLimit int
	logger        *zap.Logger
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor)

// WithIngestLogger sets the ingestor logger.
func WithIngestLogger(l *zap.Logger) IngestorOption {
	return func(in *Ingestor) { in.logger = l }
}

// WithBatchSize sets how many records are embedded and indexed together.
func WithBatchSize(n int) IngestorOption {
	return func(in *Ingestor) { in.batchSize = n }
}

// WithIngestLocation sets the zone for timestamps without one.
func WithIngestLocation(loc *time.Location) IngestorOption {
	return func(in *Ingestor) { in.loc = loc }
}

// NewIngestor creates an ingestor.
func NewIngestor(p provider.Provider, idx *indexer.Indexer, opts ...IngestorOption) *Ingestor {
	in := &Ingestor{
		provider:      p,
		indexer:       idx,
		loc:           time.Local,
		batchSize:     defaultBatchSize,
		describeLimit: defaultDescribeLimit,
	}
	for _, opt := range opts {
		opt(in)
	}
	if in.logger == nil {
		in.logger = zap.NewNop()
	}
	if in.batchSize <= 0 {
		in.batchSize = defaultBatchSize
	}
	return in
}

// IngestItems indexes items that already carry vectors.
func (in *Ingestor) IngestItems(ctx context.Context, items []models.IndexItem) *models.IngestResult {
	return in.indexer.Index(ctx, items)
}

// IngestFrames drains src in batches. The returned result covers everything indexed
// before an error; the error is set when the source or the embedding provider fails.
func (in *Ingestor) IngestFrames(ctx context.Context, meta VideoMeta, src frames.Source) (*models.IngestResult, error) {
	total := &models.IngestResult{}
	total.Finish()

	batch := make([]models.FrameRecord, 0, in.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		res, err := in.ingestBatch(ctx, meta, batch)
		batch = batch[:0]
		total.Merge(res)
		return err
	}

	for {
		rec, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			if ferr := flush(); ferr != nil {
				in.logger.Warn("flush after source error failed", zap.Error(ferr))
			}
			return total, fmt.Errorf("reading frames: %w", err)
		}
		batch = append(batch, rec)
		if len(batch) >= in.batchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := flush(); err != nil {
		return total, err
	}

	in.logger.Info("frames ingested",
		zap.String("video_id", meta.VideoID),
		zap.Int("indexed", total.Indexed),
		zap.Int("skipped", total.Skipped),
		zap.String("status", total.Status))
	return total, nil
}

func (in *Ingestor) ingestBatch(ctx context.Context, meta VideoMeta, batch []models.FrameRecord) (*models.IngestResult, error) {
	recs := make([]models.FrameRecord, len(batch))
	copy(recs, batch)
	for i := range recs {
		applyMeta(&recs[i], meta)
		frames.Complete(&recs[i], meta.Start, in.loc)
	}

	in.describe(ctx, recs)

	result := &models.IngestResult{}
	var texts []string
	var textIdx []int
	kept := make([]int, 0, len(recs))
	for i, r := range recs {
		if r.FrameID == "" || (len(r.Vector) == 0 && strings.TrimSpace(r.Description) == "") {
			result.Skipped++
			in.logger.Debug("skipping incomplete frame", zap.String("frame_id", r.FrameID))
			continue
		}
		kept = append(kept, i)
		if len(r.Vector) == 0 {
			texts = append(texts, r.Description)
			textIdx = append(textIdx, i)
		}
	}

	if len(texts) > 0 {
		vecs, err := in.provider.EmbedBatch(ctx, texts)
		if err != nil {
			result.Skipped += len(kept)
			result.Finish()
			return result, fmt.Errorf("embedding %d descriptions: %w", len(texts), err)
		}
		for j, v := range vecs {
			recs[textIdx[j]].Vector = v
		}
	}

	items := make([]models.IndexItem, 0, len(kept))
	for _, i := range kept {
		items = append(items, toIndexItem(recs[i]))
	}
	res := in.indexer.Index(ctx, items)
	res.Skipped += result.Skipped
	return res, nil
}

// describe fills missing descriptions from frame images. Failures leave the
// description empty so the frame is skipped.
func (in *Ingestor) describe(ctx context.Context, recs []models.FrameRecord) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.describeLimit)
	for i := range recs {
		if recs[i].Description != "" || recs[i].Image == "" || len(recs[i].Vector) > 0 {
			continue
		}
		g.Go(func() error {
			desc, err := in.provider.Describe(gctx, recs[i].Image)
			if err != nil {
				in.logger.Warn("describe frame failed", zap.String("frame_id", recs[i].FrameID), zap.Error(err))
				return nil
			}
			recs[i].Description = desc
			return nil
		})
	}
	_ = g.Wait()
}

func applyMeta(rec *models.FrameRecord, meta VideoMeta) {
	if rec.CameraID == "" {
		rec.CameraID = meta.CameraID
	}
	if rec.VideoID == "" {
		rec.VideoID = meta.VideoID
	}
	if rec.VideoPath == "" {
		rec.VideoPath = meta.VideoPath
	}
	if rec.VideoID == "" && rec.VideoPath != "" {
		rec.VideoID = filepath.Base(rec.VideoPath)
	}
}

func toIndexItem(r models.FrameRecord) models.IndexItem {
	offset, clock := r.RelativeOffset, r.ClockTimeSeconds
	return models.IndexItem{
		Vector: r.Vector,
		Metadata: models.FrameMetadata{
			CameraID:         r.CameraID,
			VideoID:          r.VideoID,
			FrameID:          r.FrameID,
			TimestampStr:     r.TimestampStr,
			RelativeOffset:   &offset,
			ClockTimeSeconds: &clock,
			Description:      r.Description,
			VideoPath:        r.VideoPath,
		},
	}
}
