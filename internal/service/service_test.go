package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/vidrag/internal/frames"
	"github.com/hyperjump/vidrag/internal/indexer"
	"github.com/hyperjump/vidrag/internal/models"
	"github.com/hyperjump/vidrag/internal/partition"
	"github.com/hyperjump/vidrag/internal/provider"
	"github.com/hyperjump/vidrag/internal/rerank"
	"github.com/hyperjump/vidrag/internal/search"
	"github.com/hyperjump/vidrag/internal/vectorstore"
)

const testDims = 64

type fixture struct {
	store     *vectorstore.MemoryStore
	provider  provider.Provider
	ingestor  *Ingestor
	assistant *Assistant
}

func newFixture(t *testing.T, p provider.Provider, opts ...IngestorOption) *fixture {
	t.Helper()
	store := vectorstore.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	if p == nil {
		p = provider.NewMock(testDims)
	}
	router := partition.NewRouter(store, testDims)
	idx := indexer.NewIndexer(store, router, indexer.WithLocation(time.UTC))
	engine := search.NewEngine(store, search.DynamicRoster{Store: store})
	opts = append([]IngestorOption{WithIngestLocation(time.UTC)}, opts...)
	return &fixture{
		store:    store,
		provider: p,
		ingestor: NewIngestor(p, idx, opts...),
		assistant: NewAssistant(p, engine, rerank.New(0.7, 0.3), AssistantConfig{
			CandidateK:     20,
			ResultK:        3,
			MaxK:           100,
			VideoURLPrefix: "/static/videos/",
			Location:       time.UTC,
		}, nil),
	}
}

func (f *fixture) count(t *testing.T, camera string) int {
	t.Helper()
	n, err := f.store.Count(context.Background(), camera)
	if err != nil {
		t.Fatalf("Count(%s): %v", camera, err)
	}
	return n
}

func TestIngestFrames(t *testing.T) {
	f := newFixture(t, nil)
	recs := []models.FrameRecord{
		{FrameID: "a_1", TimestampStr: "01032024080000000", Description: "red truck at the gate"},
		{FrameID: "a_2", TimestampStr: "01032024080001000", Description: "empty parking lot"},
		{FrameID: "b_1", TimestampStr: "01032024080000000", Description: "person with umbrella", CameraID: "cam2"},
	}
	res, err := f.ingestor.IngestFrames(context.Background(),
		VideoMeta{CameraID: "cam1", VideoPath: "/data/videos/a.mp4"}, frames.NewSliceSource(recs))
	if err != nil {
		t.Fatal(err)
	}
	if res.Indexed != 3 || res.Status != models.IngestIndexed {
		t.Errorf("result = %+v", res)
	}
	if f.count(t, "cam1") != 2 || f.count(t, "cam2") != 1 {
		t.Error("records not routed by camera")
	}

	hits, err := f.store.Query(context.Background(), "cam1", mustEmbed(t, f.provider, "red truck at the gate"), vectorstore.Filter{}, 1)
	if err != nil || len(hits) != 1 {
		t.Fatalf("query: %v %v", hits, err)
	}
	p := hits[0].Payload
	if p.VideoID != "a.mp4" || p.VideoPath != "/data/videos/a.mp4" || p.ClockTimeSeconds != 8*3600 {
		t.Errorf("payload = %+v", p)
	}
}

func TestIngestFrames_describesImages(t *testing.T) {
	f := newFixture(t, nil)
	recs := []models.FrameRecord{
		{RelativeOffset: 0, Image: "aW1hZ2Ux"},
		{RelativeOffset: 1, Image: "aW1hZ2Uy"},
		{RelativeOffset: 2},
	}
	start := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	res, err := f.ingestor.IngestFrames(context.Background(),
		VideoMeta{CameraID: "cam1", VideoPath: "lobby.mp4", Start: start}, frames.NewSliceSource(recs))
	if err != nil {
		t.Fatal(err)
	}
	if res.Indexed != 2 || res.Skipped != 1 {
		t.Errorf("indexed=%d skipped=%d, want 2 and 1", res.Indexed, res.Skipped)
	}
}

func TestIngestFrames_batches(t *testing.T) {
	f := newFixture(t, nil, WithBatchSize(2))
	var recs []models.FrameRecord
	for i := 0; i < 5; i++ {
		recs = append(recs, models.FrameRecord{
			FrameID:      "v_" + string(rune('a'+i)),
			TimestampStr: "2024-03-01T08:00:00",
			Description:  "frame",
		})
	}
	res, err := f.ingestor.IngestFrames(context.Background(), VideoMeta{CameraID: "cam1"}, frames.NewSliceSource(recs))
	if err != nil {
		t.Fatal(err)
	}
	if res.Indexed != 5 || len(res.Partitions) != 1 {
		t.Errorf("result = %+v", res)
	}
	if f.count(t, "cam1") != 5 {
		t.Errorf("count = %d, want 5", f.count(t, "cam1"))
	}
}

func TestIngestFrames_precomputedVectors(t *testing.T) {
	p := &failingProvider{Mock: provider.NewMock(testDims), embedErr: errors.New("should not embed")}
	f := newFixture(t, p)
	vec := mustEmbed(t, p.Mock, "x")
	res, err := f.ingestor.IngestFrames(context.Background(), VideoMeta{CameraID: "cam1"},
		frames.NewSliceSource([]models.FrameRecord{{FrameID: "f1", Vector: vec}}))
	if err != nil {
		t.Fatal(err)
	}
	if res.Indexed != 1 {
		t.Errorf("indexed = %d, want 1", res.Indexed)
	}
}

func TestIngestFrames_embedFailure(t *testing.T) {
	p := &failingProvider{Mock: provider.NewMock(testDims), embedErr: errors.New("quota exceeded")}
	f := newFixture(t, p)
	res, err := f.ingestor.IngestFrames(context.Background(), VideoMeta{CameraID: "cam1"},
		frames.NewSliceSource([]models.FrameRecord{{FrameID: "f1", Description: "car"}}))
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("err = %v", err)
	}
	if res.Indexed != 0 || res.Skipped != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestIngestFrames_sourceError(t *testing.T) {
	f := newFixture(t, nil)
	src := frames.NewManifestReader(strings.NewReader(
		`{"frame_id":"f1","description":"car"}` + "\n" + `{broken` + "\n"))
	res, err := f.ingestor.IngestFrames(context.Background(), VideoMeta{CameraID: "cam1"}, src)
	if err == nil {
		t.Fatal("expected source error")
	}
	if res.Indexed != 1 {
		t.Errorf("records read before the error should be indexed, got %d", res.Indexed)
	}
}

func TestAssistant_chat(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := f.assistant.Handle(context.Background(), models.SearchRequest{Query: "hello there"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Type != models.ResponseChat || resp.Message == "" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Errorf("chat results should be empty and non-nil")
	}
}

func TestAssistant_searchDedupsAndDecorates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	recs := []models.FrameRecord{
		{FrameID: "a_10", RelativeOffset: 10, TimestampStr: "2024-03-01T08:00:10", Description: "red truck at the gate"},
		{FrameID: "a_12", RelativeOffset: 12, TimestampStr: "2024-03-01T08:00:12", Description: "red truck at the gate"},
		{FrameID: "a_30", RelativeOffset: 30, TimestampStr: "2024-03-01T08:00:30", Description: "red truck at the gate"},
		{FrameID: "a_50", RelativeOffset: 50, TimestampStr: "2024-03-01T08:00:50", Description: "empty road"},
	}
	if _, err := f.ingestor.IngestFrames(ctx, VideoMeta{CameraID: "cam1", VideoPath: "/videos/a.mp4"},
		frames.NewSliceSource(recs)); err != nil {
		t.Fatal(err)
	}

	resp, err := f.assistant.Handle(ctx, models.SearchRequest{Query: "red truck at the gate", Cameras: []string{"all"}})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Type != models.ResponseSearch {
		t.Fatalf("type = %s", resp.Type)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(resp.Results))
	}
	if resp.Message != "I found 3 clips matching your description." {
		t.Errorf("message = %q", resp.Message)
	}
	for i, r := range resp.Results {
		if r.Rank != i+1 {
			t.Errorf("rank %d = %d", i, r.Rank)
		}
		if r.VideoURL != "/static/videos/a.mp4" {
			t.Errorf("video_url = %q", r.VideoURL)
		}
		for _, o := range resp.Results[:i] {
			if o.VideoID == r.VideoID && math.Abs(o.RelativeOffset-r.RelativeOffset) < 5 {
				t.Errorf("near-duplicate results at %v and %v", o.RelativeOffset, r.RelativeOffset)
			}
		}
	}
	for _, r := range resp.Results[:2] {
		if r.Description != "red truck at the gate" {
			t.Errorf("top results should match the query, got %q", r.Description)
		}
	}
}

func TestAssistant_searchFilters(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	recs := []models.FrameRecord{
		{FrameID: "m", TimestampStr: "2024-03-01T08:00:00", Description: "delivery van", CameraID: "cam1"},
		{FrameID: "n", TimestampStr: "2024-03-02T20:00:00", Description: "delivery van", CameraID: "cam2"},
	}
	if _, err := f.ingestor.IngestFrames(ctx, VideoMeta{VideoID: "v.mp4"}, frames.NewSliceSource(recs)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		req  models.SearchRequest
		want []string
	}{
		{"camera", models.SearchRequest{Query: "delivery van", Cameras: []string{"cam2"}}, []string{"n"}},
		{"date", models.SearchRequest{Query: "delivery van", StartDate: "2024-03-01", EndDate: "2024-03-01"}, []string{"m"}},
		{"clock", models.SearchRequest{Query: "delivery van", StartTime: "19:00", EndTime: "21:00"}, []string{"n"}},
		{"no match", models.SearchRequest{Query: "delivery van", StartDate: "2025-01-01"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := f.assistant.Search(ctx, tt.req)
			if err != nil {
				t.Fatal(err)
			}
			var got []string
			for _, r := range resp.Results {
				got = append(got, r.FrameID)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("got %v, want %v", got, tt.want)
			}
			if len(tt.want) == 0 && resp.Message != "I looked through the footage but couldn't find anything." {
				t.Errorf("message = %q", resp.Message)
			}
		})
	}
}

func TestAssistant_invalidRequest(t *testing.T) {
	f := newFixture(t, nil)
	tests := []models.SearchRequest{
		{Query: "  "},
		{Query: "car", StartDate: "yesterday"},
		{Query: "car", StartDate: "2024-03-02", EndDate: "2024-03-01"},
		{Query: "car", StartTime: "25:00"},
		{Query: "car", StartTime: "10:00", EndTime: "09:00"},
	}
	for _, req := range tests {
		if _, err := f.assistant.Handle(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("Handle(%+v) err = %v, want ErrInvalidRequest", req, err)
		}
	}
}

func TestAssistant_intentFailureFallsBackToSearch(t *testing.T) {
	p := &failingProvider{Mock: provider.NewMock(testDims), intentErr: errors.New("timeout")}
	f := newFixture(t, p)
	resp, err := f.assistant.Handle(context.Background(), models.SearchRequest{Query: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Type != models.ResponseSearch {
		t.Errorf("type = %s, want search", resp.Type)
	}
	if resp.Results == nil {
		t.Error("results should be non-nil")
	}
}

func TestVideoURL(t *testing.T) {
	tests := []struct{ prefix, path, want string }{
		{"/static/videos", "/app/data/videos/abc.mp4", "/static/videos/abc.mp4"},
		{"/static/videos/", "abc.mp4", "/static/videos/abc.mp4"},
		{"http://cdn/v", "x/y/z.mkv", "http://cdn/v/z.mkv"},
	}
	for _, tt := range tests {
		if got := VideoURL(tt.prefix, tt.path); got != tt.want {
			t.Errorf("VideoURL(%q, %q) = %q, want %q", tt.prefix, tt.path, got, tt.want)
		}
	}
}

type failingProvider struct {
	*provider.Mock
	embedErr  error
	intentErr error
}

func (p *failingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if p.embedErr != nil {
		return nil, p.embedErr
	}
	return p.Mock.EmbedBatch(ctx, texts)
}

func (p *failingProvider) Intent(ctx context.Context, text string) (provider.Intent, error) {
	if p.intentErr != nil {
		return provider.IntentSearch, p.intentErr
	}
	return p.Mock.Intent(ctx, text)
}

func mustEmbed(t *testing.T, p provider.Provider, text string) []float32 {
	t.Helper()
	v, err := p.Embed(context.Background(), text)
	if err != nil {
		t.Fatal(err)
	}
	return v
}
