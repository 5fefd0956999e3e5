package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/hyperjump/vidrag/internal/models"
)

// QdrantConfig holds gRPC connection settings for NewQdrantStore.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
	// CollectionPrefix namespaces partition collections on a shared server.
	// Collections without it are invisible to the store.
	CollectionPrefix string
}

// DefaultCollectionPrefix is used when QdrantConfig.CollectionPrefix is empty.
const DefaultCollectionPrefix = "vidrag_"

// QdrantStore maps each partition onto the Qdrant collection prefix+name.
type QdrantStore struct {
	client *qdrant.Client
	prefix string
}

// NewQdrantStore connects to a Qdrant server over gRPC.
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}
	prefix := cfg.CollectionPrefix
	if prefix == "" {
		prefix = DefaultCollectionPrefix
	}
	return &QdrantStore{client: client, prefix: prefix}, nil
}

func (s *QdrantStore) collection(name string) string {
	return s.prefix + name
}

// partitionsFromCollections keeps the collections carrying prefix and strips it.
func partitionsFromCollections(collections []string, prefix string) []string {
	names := make([]string, 0, len(collections))
	for _, c := range collections {
		if name, ok := strings.CutPrefix(c, prefix); ok && name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// PartitionExists reports whether the collection exists.
func (s *QdrantStore) PartitionExists(ctx context.Context, name string) (bool, error) {
	return s.client.CollectionExists(ctx, s.collection(name))
}

// CreatePartition creates a cosine collection. A create that fails because another
// writer won the race reports ErrPartitionExists.
func (s *QdrantStore) CreatePartition(ctx context.Context, name string, spec PartitionSpec) error {
	if spec.Dimensions <= 0 {
		return fmt.Errorf("dimensions must be positive")
	}
	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection(name),
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(spec.Dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err == nil {
		return nil
	}
	if exists, checkErr := s.client.CollectionExists(ctx, s.collection(name)); checkErr == nil && exists {
		return ErrPartitionExists
	}
	return fmt.Errorf("failed to create collection %s: %w", name, err)
}

// CreateRangeIndex creates a float payload index on field.
func (s *QdrantStore) CreateRangeIndex(ctx context.Context, name, field string) error {
	if !isRangeField(field) {
		return fmt.Errorf("field %q is not range-indexable", field)
	}
	_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collection(name),
		FieldName:      field,
		FieldType:      qdrant.FieldType_FieldTypeFloat.Enum(),
		Wait:           qdrant.PtrOf(true),
	})
	return err
}

// Upsert writes all points in one call and waits for them to be applied.
func (s *QdrantStore) Upsert(ctx context.Context, name string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := checkPointIDs(points); err != nil {
		return err
	}
	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, pt := range points {
		payload, err := qdrant.TryValueMap(pt.Payload.Fields())
		if err != nil {
			return fmt.Errorf("failed to encode payload for %s: %w", pt.ID, err)
		}
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewID(pt.ID),
			Vectors: qdrant.NewVectors(pt.Vector...),
			Payload: payload,
		})
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection(name),
		Wait:           qdrant.PtrOf(true),
		Points:         structs,
	})
	return err
}

// Query runs a filtered nearest-neighbour query against the collection.
func (s *QdrantStore) Query(ctx context.Context, name string, vector []float32, filter Filter, limit int) ([]models.Hit, error) {
	if limit <= 0 {
		return []models.Hit{}, nil
	}
	exists, err := s.client.CollectionExists(ctx, s.collection(name))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrPartitionNotFound, name)
	}
	req := &qdrant.QueryPoints{
		CollectionName: s.collection(name),
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if !filter.IsEmpty() {
		req.Filter = qdrantFilter(filter)
	}
	points, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, err
	}
	hits := make([]models.Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, models.Hit{
			ID:      p.GetId().GetUuid(),
			Payload: payloadFromQdrant(p.GetPayload()),
			Score:   float64(p.GetScore()),
		})
	}
	return hits, nil
}

func qdrantFilter(f Filter) *qdrant.Filter {
	conds := make([]*qdrant.Condition, 0, len(f.Must))
	for _, r := range f.Must {
		conds = append(conds, qdrant.NewRange(r.Field, &qdrant.Range{Gte: r.Gte, Lte: r.Lte}))
	}
	return &qdrant.Filter{Must: conds}
}

func payloadFromQdrant(m map[string]*qdrant.Value) models.Payload {
	fields := make(map[string]any, len(m))
	for k, v := range m {
		switch v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			fields[k] = v.GetStringValue()
		case *qdrant.Value_DoubleValue:
			fields[k] = v.GetDoubleValue()
		case *qdrant.Value_IntegerValue:
			fields[k] = v.GetIntegerValue()
		}
	}
	return models.PayloadFromFields(fields)
}

// ListPartitions returns the partitions whose collections carry the store prefix, sorted.
func (s *QdrantStore) ListPartitions(ctx context.Context) ([]string, error) {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	return partitionsFromCollections(collections, s.prefix), nil
}

// Count returns the exact number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context, name string) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection(name),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
