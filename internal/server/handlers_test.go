package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/vidrag/internal/config"
	"github.com/hyperjump/vidrag/internal/indexer"
	"github.com/hyperjump/vidrag/internal/models"
	"github.com/hyperjump/vidrag/internal/partition"
	"github.com/hyperjump/vidrag/internal/provider"
	"github.com/hyperjump/vidrag/internal/rerank"
	"github.com/hyperjump/vidrag/internal/search"
	"github.com/hyperjump/vidrag/internal/service"
	"github.com/hyperjump/vidrag/internal/vectorstore"
	"go.uber.org/zap"
)

const testDims = 32

type mockWatchService struct {
	dirs []string
}

func (m *mockWatchService) Directories() []string {
	return append([]string(nil), m.dirs...)
}

func (m *mockWatchService) AddDirectory(path string, _ bool) error {
	for _, d := range m.dirs {
		if d == path {
			return nil
		}
	}
	m.dirs = append(m.dirs, path)
	return nil
}

func (m *mockWatchService) RemoveDirectory(path string) error {
	for i, d := range m.dirs {
		if d == path {
			m.dirs = append(m.dirs[:i], m.dirs[i+1:]...)
			return nil
		}
	}
	return nil
}

type brokenStore struct {
	*vectorstore.MemoryStore
}

func (brokenStore) ListPartitions(ctx context.Context) ([]string, error) {
	return nil, errors.New("store unreachable")
}

func newTestServer(t *testing.T, store vectorstore.Store, opts ...Option) *Server {
	t.Helper()
	if store == nil {
		store = vectorstore.NewMemoryStore()
	}
	cfg := &config.Config{Timezone: "UTC"}
	config.ApplyDefaults(cfg)
	cfg.Store.Backend = config.BackendMemory
	cfg.Store.Dimensions = testDims

	p := provider.NewMock(testDims)
	router := partition.NewRouter(store, testDims)
	idx := indexer.NewIndexer(store, router, indexer.WithLocation(time.UTC))
	engine := search.NewEngine(store, search.DynamicRoster{Store: store})
	assistant := service.NewAssistant(p, engine, rerank.New(0.7, 0.3), service.AssistantConfig{
		CandidateK:     cfg.Search.CandidateK,
		ResultK:        cfg.Search.ResultK,
		MaxK:           cfg.Search.MaxK,
		VideoURLPrefix: cfg.Ingest.VideoURLPrefix,
		Location:       time.UTC,
	}, nil)
	ingestor := service.NewIngestor(p, idx, service.WithIngestLocation(time.UTC))
	return NewServer(assistant, ingestor, store, cfg, zap.NewNop(), opts...)
}

func do(t *testing.T, srv *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	r := httptest.NewRequest(method, target, rd)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	return w
}

func TestHealth(t *testing.T) {
	w := do(t, newTestServer(t, nil), http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}

	w = do(t, newTestServer(t, brokenStore{vectorstore.NewMemoryStore()}), http.MethodGet, "/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("broken store status: got %d", w.Code)
	}
}

func TestIngestThenSearch(t *testing.T) {
	srv := newTestServer(t, nil)
	w := do(t, srv, http.MethodPost, "/api/v1/frames", map[string]any{
		"camera_id":  "cam1",
		"video_path": "/data/videos/gate.mp4",
		"frames": []models.FrameRecord{
			{FrameID: "g1", TimestampStr: "2024-03-01T08:00:00", RelativeOffset: 0, Description: "red truck enters the gate"},
			{FrameID: "g2", TimestampStr: "2024-03-01T08:00:40", RelativeOffset: 40, Description: "empty driveway"},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("ingest status: got %d, body: %s", w.Code, w.Body.String())
	}
	var ingest models.IngestResult
	if err := json.NewDecoder(w.Body).Decode(&ingest); err != nil {
		t.Fatal(err)
	}
	if ingest.Indexed != 2 || ingest.Status != models.IngestIndexed {
		t.Errorf("ingest result: %+v", ingest)
	}

	w = do(t, srv, http.MethodPost, "/api/v1/search", models.SearchRequest{Query: "red truck", Cameras: []string{"all"}, K: 1})
	if w.Code != http.StatusOK {
		t.Fatalf("search status: got %d, body: %s", w.Code, w.Body.String())
	}
	var resp models.SearchResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Type != models.ResponseSearch || len(resp.Results) != 1 {
		t.Fatalf("response: %+v", resp)
	}
	if resp.Results[0].FrameID != "g1" || resp.Results[0].VideoURL != "/static/videos/gate.mp4" {
		t.Errorf("result: %+v", resp.Results[0])
	}
}

func TestIngestManifest(t *testing.T) {
	srv := newTestServer(t, nil)
	manifest := `{"relative_offset":0,"description":"forklift moving pallets"}
{"relative_offset":1,"description":"forklift parked"}
`
	w := do(t, srv, http.MethodPost,
		"/api/v1/videos/dock.mp4/frames?camera_id=dock&start_timestamp=01032024080000000", manifest)
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}

	w = do(t, srv, http.MethodGet, "/api/v1/partitions", nil)
	var out struct {
		Partitions []partitionInfo `json:"partitions"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Partitions) != 1 || out.Partitions[0].Name != "dock" || out.Partitions[0].Points != 2 {
		t.Errorf("partitions: %+v", out.Partitions)
	}
}

func TestIngest_badRequests(t *testing.T) {
	srv := newTestServer(t, nil)
	tests := []struct {
		name   string
		target string
		body   any
	}{
		{"malformed body", "/api/v1/frames", "{"},
		{"no frames", "/api/v1/frames", map[string]any{"camera_id": "c"}},
		{"bad start", "/api/v1/frames", map[string]any{"start_timestamp": "soon", "frames": []models.FrameRecord{{FrameID: "a"}}}},
		{"bad manifest start", "/api/v1/videos/v/frames?start_timestamp=soon", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, http.MethodPost, tt.target, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, body: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestSearch_errors(t *testing.T) {
	srv := newTestServer(t, nil)
	tests := []struct {
		name string
		body any
	}{
		{"malformed", "not json"},
		{"empty query", models.SearchRequest{Query: ""}},
		{"bad date", models.SearchRequest{Query: "car", StartDate: "31/12/2024"}},
		{"reversed clock", models.SearchRequest{Query: "car", StartTime: "18:00", EndTime: "06:00"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, http.MethodPost, "/api/v1/search", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, body: %s", w.Code, w.Body.String())
			}
			var e map[string]string
			if err := json.NewDecoder(w.Body).Decode(&e); err != nil || e["error"] == "" {
				t.Errorf("expected error body, got %q", w.Body.String())
			}
		})
	}
}

func TestSearch_chat(t *testing.T) {
	w := do(t, newTestServer(t, nil), http.MethodPost, "/api/v1/search", models.SearchRequest{Query: "hello"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"type":"chat"`) || !strings.Contains(w.Body.String(), `"results":[]`) {
		t.Errorf("body: %s", w.Body.String())
	}
}

func TestClip(t *testing.T) {
	srv := newTestServer(t, nil)
	w := do(t, srv, http.MethodGet, "/api/v1/clips/gate.mp4?offset=10&duration=60", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out clipResponse
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Start != 9 || out.End != 12 || out.VideoURL != "/static/videos/gate.mp4" {
		t.Errorf("clip: %+v", out)
	}

	for _, q := range []string{"", "?offset=x", "?offset=-1", "?offset=1&duration=z"} {
		if w := do(t, srv, http.MethodGet, "/api/v1/clips/gate.mp4"+q, nil); w.Code != http.StatusBadRequest {
			t.Errorf("%q: status %d, want 400", q, w.Code)
		}
	}
}

func TestWatchDirectories(t *testing.T) {
	dir := t.TempDir()
	mock := &mockWatchService{}
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	srv := newTestServer(t, nil, WithWatch(mock, configPath))

	w := do(t, srv, http.MethodPost, "/api/v1/watch/directories", map[string]string{"path": dir})
	if w.Code != http.StatusCreated {
		t.Fatalf("add status: got %d, body: %s", w.Code, w.Body.String())
	}
	saved, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("config not persisted: %v", err)
	}
	if len(saved.Watch.Directories) != 1 {
		t.Errorf("persisted directories: %v", saved.Watch.Directories)
	}

	w = do(t, srv, http.MethodGet, "/api/v1/watch/directories", nil)
	var list struct {
		Directories []string `json:"directories"`
	}
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Directories) != 1 || list.Directories[0] != dir {
		t.Errorf("directories: %v", list.Directories)
	}

	w = do(t, srv, http.MethodPost, "/api/v1/watch/directories", map[string]string{"path": dir + "/missing"})
	if w.Code != http.StatusNotFound {
		t.Errorf("missing dir status: got %d", w.Code)
	}

	w = do(t, srv, http.MethodDelete, "/api/v1/watch/directories?path="+dir, nil)
	if w.Code != http.StatusOK || len(mock.Directories()) != 0 {
		t.Errorf("remove status %d, dirs %v", w.Code, mock.Directories())
	}
}

func TestWatchDirectories_notEnabled(t *testing.T) {
	w := do(t, newTestServer(t, nil), http.MethodGet, "/api/v1/watch/directories", nil)
	if w.Code != http.StatusNotImplemented {
		t.Errorf("status: got %d, want 501", w.Code)
	}
}
