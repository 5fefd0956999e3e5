package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/vidrag/internal/config"
	"github.com/hyperjump/vidrag/internal/frames"
	"github.com/hyperjump/vidrag/internal/models"
	"github.com/hyperjump/vidrag/internal/service"
	"github.com/hyperjump/vidrag/internal/timestamp"
	"go.uber.org/zap"
)

const maxIngestBody = 256 << 20

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", req.Query), zap.Strings("cameras", req.Cameras), zap.Int("k", req.K))
	resp, err := s.assistant.Handle(r.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type ingestFramesRequest struct {
	CameraID  string               `json:"camera_id"`
	VideoID   string               `json:"video_id"`
	VideoPath string               `json:"video_path"`
	Start     string               `json:"start_timestamp"`
	Frames    []models.FrameRecord `json:"frames"`
}

func (s *Server) handleIngestFrames(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxIngestBody)
	var req ingestFramesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Frames) == 0 {
		s.respondError(w, http.StatusBadRequest, "frames are required")
		return
	}
	meta, err := s.videoMeta(req.CameraID, req.VideoID, req.VideoPath, req.Start)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.ingest(w, r, meta, frames.NewSliceSource(req.Frames))
}

// handleIngestManifest ingests a JSONL manifest body for one video. Camera, path and
// start time come from the query string.
func (s *Server) handleIngestManifest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	meta, err := s.videoMeta(q.Get("camera_id"), chi.URLParam(r, "video_id"), q.Get("video_path"), q.Get("start_timestamp"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.ingest(w, r, meta, frames.NewManifestReader(http.MaxBytesReader(w, r.Body, maxIngestBody)))
}

func (s *Server) ingest(w http.ResponseWriter, r *http.Request, meta service.VideoMeta, src frames.Source) {
	s.logger.Debug("ingest request", zap.String("camera_id", meta.CameraID), zap.String("video_id", meta.VideoID))
	result, err := s.ingestor.IngestFrames(r.Context(), meta, src)
	if err != nil {
		s.logger.Error("ingest failed", zap.String("video_id", meta.VideoID), zap.Error(err))
		s.respondJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "result": result})
		return
	}
	switch result.Status {
	case models.IngestFailed:
		s.respondJSON(w, http.StatusInternalServerError, result)
	case models.IngestPartial:
		s.respondJSON(w, http.StatusMultiStatus, result)
	default:
		s.respondJSON(w, http.StatusCreated, result)
	}
}

func (s *Server) videoMeta(cameraID, videoID, videoPath, start string) (service.VideoMeta, error) {
	meta := service.VideoMeta{CameraID: cameraID, VideoID: videoID, VideoPath: videoPath}
	if start == "" {
		return meta, nil
	}
	loc, err := s.config.Location()
	if err != nil {
		return meta, err
	}
	t, err := timestamp.Parse(start, loc)
	if err != nil {
		return meta, err
	}
	meta.Start = t
	return meta, nil
}

type partitionInfo struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
}

func (s *Server) handlePartitions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	names, err := s.store.ListPartitions(ctx)
	if err != nil {
		s.logger.Error("list partitions failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]partitionInfo, 0, len(names))
	for _, name := range names {
		n, err := s.store.Count(ctx, name)
		if err != nil {
			s.logger.Warn("count partition failed", zap.String("partition", name), zap.Error(err))
		}
		out = append(out, partitionInfo{Name: name, Points: n})
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"partitions": out})
}

type clipResponse struct {
	frames.Clip
	VideoID  string `json:"video_id"`
	VideoURL string `json:"video_url"`
}

func (s *Server) handleClip(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "video_id")
	offset, err := strconv.ParseFloat(r.URL.Query().Get("offset"), 64)
	if err != nil || offset < 0 {
		s.respondError(w, http.StatusBadRequest, "offset must be a non-negative number of seconds")
		return
	}
	var duration float64
	if d := r.URL.Query().Get("duration"); d != "" {
		duration, err = strconv.ParseFloat(d, 64)
		if err != nil || duration < 0 {
			s.respondError(w, http.StatusBadRequest, "duration must be a non-negative number of seconds")
			return
		}
	}
	s.respondJSON(w, http.StatusOK, clipResponse{
		Clip:     frames.ClipWindow(offset, duration),
		VideoID:  videoID,
		VideoURL: service.VideoURL(s.config.Ingest.VideoURLPrefix, videoID),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
	if _, err := s.store.ListPartitions(ctx); err != nil {
		status["status"] = "degraded"
		status["store_error"] = err.Error()
		s.respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirs()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirs()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchDirs() {
	if s.configPath == "" || s.config == nil {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
