package search

import (
	"context"
	"fmt"
	"testing"

	"github.com/hyperjump/vidrag/internal/models"
	"github.com/hyperjump/vidrag/internal/provider"
	"github.com/hyperjump/vidrag/internal/vectorstore"
)

const benchDims = 384

func BenchmarkFinalize(b *testing.B) {
	hits := make([]models.Hit, 0, 300)
	for cam := 0; cam < 3; cam++ {
		for i := 0; i < 100; i++ {
			hits = append(hits, models.Hit{
				ID:    fmt.Sprintf("c%d-%d", cam, i),
				Score: float64((i*37+cam)%100) / 100,
				Payload: models.Payload{
					CameraID:       fmt.Sprintf("cam%d", cam),
					RelativeOffset: float64(i),
				},
			})
		}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Finalize(hits, 10, 5)
	}
}

func benchStore(b *testing.B, cameras, perCamera int) *vectorstore.MemoryStore {
	b.Helper()
	ctx := context.Background()
	store := vectorstore.NewMemoryStore()
	for c := 0; c < cameras; c++ {
		name := fmt.Sprintf("cam%d", c)
		if err := store.CreatePartition(ctx, name, vectorstore.PartitionSpec{Dimensions: benchDims, Metric: vectorstore.MetricCosine}); err != nil {
			b.Fatal(err)
		}
		points := make([]vectorstore.Point, perCamera)
		for i := range points {
			vec := make([]float32, benchDims)
			vec[0] = float32(i) / float32(perCamera)
			vec[1+c] = 1
			points[i] = vectorstore.Point{
				ID:      fmt.Sprintf("%s-%d", name, i),
				Vector:  vec,
				Payload: models.Payload{CameraID: name, RelativeOffset: float64(i), TimestampSortable: float64(1709280000 + i)},
			}
		}
		if err := store.Upsert(ctx, name, points); err != nil {
			b.Fatal(err)
		}
	}
	return store
}

func BenchmarkMemoryStoreQuery(b *testing.B) {
	store := benchStore(b, 1, 1000)
	ctx := context.Background()
	query := make([]float32, benchDims)
	query[0] = 1
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.Query(ctx, "cam0", query, vectorstore.Filter{}, 10)
	}
}

func BenchmarkEngineSearch(b *testing.B) {
	store := benchStore(b, 4, 1000)
	engine := NewEngine(store, DynamicRoster{Store: store})
	ctx := context.Background()
	query := make([]float32, benchDims)
	query[0] = 1
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = engine.Search(ctx, SearchParams{Vector: query, Cameras: []string{"all"}, K: 3})
	}
}

func BenchmarkMockEmbed(b *testing.B) {
	p := provider.NewMock(benchDims)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = p.Embed(ctx, "a red truck enters the loading dock")
	}
}
