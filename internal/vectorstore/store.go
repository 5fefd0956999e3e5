// Package vectorstore defines the partitioned vector store used by the indexer and the
// search engine, with memory, SQLite, Postgres (pgvector) and Qdrant backends.
package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/vidrag/internal/models"
	"github.com/hyperjump/vidrag/internal/pointid"
)

var (
	// ErrPartitionNotFound is returned by operations on a partition that does not exist.
	ErrPartitionNotFound = errors.New("partition not found")
	// ErrPartitionExists is returned by CreatePartition when another caller created it first.
	ErrPartitionExists = errors.New("partition already exists")
)

// Range-indexed payload fields.
const (
	FieldTimestampSortable = "timestamp_sortable"
	FieldRelativeOffset    = "relative_offset"
	FieldClockTimeSeconds  = "clock_time_seconds"
)

// RangeFields lists the fields every partition indexes for range filtering.
var RangeFields = []string{FieldTimestampSortable, FieldRelativeOffset, FieldClockTimeSeconds}

// Metric is the similarity metric of a partition.
type Metric string

// MetricCosine is the only metric partitions are created with.
const MetricCosine Metric = "cosine"

// PartitionSpec describes the vector schema of a new partition.
type PartitionSpec struct {
	Dimensions int
	Metric     Metric
}

// Point is one vector with its payload, keyed by a UUID string.
type Point struct {
	ID      string
	Vector  []float32
	Payload models.Payload
}

// Store is a vector store holding one named partition per camera.
type Store interface {
	PartitionExists(ctx context.Context, name string) (bool, error)
	// CreatePartition returns ErrPartitionExists if the partition is already there.
	CreatePartition(ctx context.Context, name string, spec PartitionSpec) error
	// CreateRangeIndex is idempotent.
	CreateRangeIndex(ctx context.Context, name, field string) error
	// Upsert writes points atomically for the partition; existing ids are overwritten.
	Upsert(ctx context.Context, name string, points []Point) error
	// Query returns at most limit hits matching filter, best score first.
	// Returns ErrPartitionNotFound if the partition is absent.
	Query(ctx context.Context, name string, vector []float32, filter Filter, limit int) ([]models.Hit, error)
	ListPartitions(ctx context.Context) ([]string, error)
	Count(ctx context.Context, name string) (int, error)
	Close() error
}

// Range is an inclusive numeric range on one payload field. A nil bound is open.
type Range struct {
	Field string
	Gte   *float64
	Lte   *float64
}

// Contains reports whether v satisfies both bounds.
func (r Range) Contains(v float64) bool {
	if r.Gte != nil && v < *r.Gte {
		return false
	}
	if r.Lte != nil && v > *r.Lte {
		return false
	}
	return true
}

// Filter is a conjunction of ranges. The zero Filter matches everything.
type Filter struct {
	Must []Range
}

// IsEmpty reports whether the filter has no conditions.
func (f Filter) IsEmpty() bool {
	return len(f.Must) == 0
}

// Matches evaluates the filter against a payload. Unknown fields never match.
func (f Filter) Matches(p models.Payload) bool {
	for _, r := range f.Must {
		v, ok := p.NumericField(r.Field)
		if !ok || !r.Contains(v) {
			return false
		}
	}
	return true
}

func isRangeField(field string) bool {
	for _, f := range RangeFields {
		if f == field {
			return true
		}
	}
	return false
}

// checkPointIDs rejects points whose id is not a UUID. Backends that key points by a
// UUID column or UUID point id call it before writing.
func checkPointIDs(points []Point) error {
	for _, pt := range points {
		if !pointid.Valid(pt.ID) {
			return fmt.Errorf("point id %q is not a UUID", pt.ID)
		}
	}
	return nil
}
