package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/vidrag/internal/models"
)

// MemoryStore keeps partitions in memory and searches them by brute-force cosine.
// Suitable for tests and small deployments.
type MemoryStore struct {
	mu         sync.RWMutex
	partitions map[string]*memoryPartition
}

type memoryPartition struct {
	spec    PartitionSpec
	indexes map[string]bool
	order   []string
	points  map[string]Point
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{partitions: make(map[string]*memoryPartition)}
}

// PartitionExists reports whether name has been created.
func (m *MemoryStore) PartitionExists(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.partitions[name]
	return ok, nil
}

// CreatePartition adds an empty partition.
func (m *MemoryStore) CreatePartition(ctx context.Context, name string, spec PartitionSpec) error {
	if spec.Dimensions <= 0 {
		return fmt.Errorf("dimensions must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.partitions[name]; ok {
		return ErrPartitionExists
	}
	m.partitions[name] = &memoryPartition{
		spec:    spec,
		indexes: make(map[string]bool),
		points:  make(map[string]Point),
	}
	return nil
}

// CreateRangeIndex records the index; brute-force search does not need it.
func (m *MemoryStore) CreateRangeIndex(ctx context.Context, name, field string) error {
	if !isRangeField(field) {
		return fmt.Errorf("field %q is not range-indexable", field)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.partitions[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPartitionNotFound, name)
	}
	p.indexes[field] = true
	return nil
}

// Upsert validates every point before writing any, so a batch is all-or-nothing.
func (m *MemoryStore) Upsert(ctx context.Context, name string, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.partitions[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPartitionNotFound, name)
	}
	for _, pt := range points {
		if len(pt.Vector) != p.spec.Dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(pt.Vector), p.spec.Dimensions)
		}
	}
	for _, pt := range points {
		vec := make([]float32, len(pt.Vector))
		copy(vec, pt.Vector)
		if _, exists := p.points[pt.ID]; !exists {
			p.order = append(p.order, pt.ID)
		}
		p.points[pt.ID] = Point{ID: pt.ID, Vector: vec, Payload: pt.Payload}
	}
	return nil
}

// Query scans the partition, applies the filter and returns the top hits.
func (m *MemoryStore) Query(ctx context.Context, name string, vector []float32, filter Filter, limit int) ([]models.Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.partitions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPartitionNotFound, name)
	}
	if len(vector) != p.spec.Dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(vector), p.spec.Dimensions)
	}
	if limit <= 0 {
		return []models.Hit{}, nil
	}
	hits := make([]models.Hit, 0)
	for _, id := range p.order {
		pt := p.points[id]
		if !filter.Matches(pt.Payload) {
			continue
		}
		hits = append(hits, models.Hit{ID: id, Payload: pt.Payload, Score: CosineSimilarity(vector, pt.Vector)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// ListPartitions returns partition names in sorted order.
func (m *MemoryStore) ListPartitions(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.partitions))
	for name := range m.partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Count returns the number of points in the partition.
func (m *MemoryStore) Count(ctx context.Context, name string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.partitions[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrPartitionNotFound, name)
	}
	return len(p.points), nil
}

// hasRangeIndex reports whether CreateRangeIndex was called for field.
func (m *MemoryStore) hasRangeIndex(name, field string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.partitions[name]
	return ok && p.indexes[field]
}

// Close is a no-op for MemoryStore.
func (m *MemoryStore) Close() error {
	return nil
}
