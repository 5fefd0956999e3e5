// Package watcher ingests frame manifests dropped into spool directories. A manifest
// at <root>/<camera_id>/<video>.jsonl is ingested for that camera and video; records
// naming their own camera or video take precedence.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Manifest identifies a spooled manifest file.
type Manifest struct {
	Path     string
	CameraID string
	VideoID  string
}

// IngestFunc ingests one manifest.
type IngestFunc func(ctx context.Context, m Manifest) error

// Spool watches directories for manifests and ingests each one once per modification.
type Spool struct {
	roots      []string
	extensions []string
	recursive  bool
	ingest     IngestFunc
	debounce   time.Duration
	logger     *zap.Logger

	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	pending   map[string]*time.Timer
	rootPaths map[string][]string // root -> watched dirs under it
	seen      map[string]time.Time
	ctx       context.Context
	done      chan struct{}
	started   bool
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// Option configures a Spool.
type Option func(*Spool)

// WithLogger sets the spool logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Spool) { s.logger = l }
}

// WithDebounce sets how long a manifest must be quiet before it is ingested.
func WithDebounce(d time.Duration) Option {
	return func(s *Spool) { s.debounce = d }
}

// NewSpool creates a spool over roots. Only files with one of extensions are
// ingested (all files when empty).
func NewSpool(roots, extensions []string, recursive bool, ingest IngestFunc, opts ...Option) *Spool {
	s := &Spool{
		roots:      absRoots(roots),
		extensions: extensions,
		recursive:  recursive,
		ingest:     ingest,
		debounce:   defaultDebounce,
		pending:    make(map[string]*time.Timer),
		rootPaths:  make(map[string][]string),
		seen:       make(map[string]time.Time),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// absRoots resolves roots against the working directory so they compare equal to
// the absolute paths AddDirectory and RemoveDirectory work with.
func absRoots(roots []string) []string {
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		if abs, err := filepath.Abs(r); err == nil {
			r = abs
		}
		out = append(out, filepath.Clean(r))
	}
	return out
}

// Start begins watching. It runs until ctx is cancelled or Stop is called.
func (s *Spool) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.watcher = w
	s.ctx = ctx
	s.started = true
	s.logger.Debug("spool starting", zap.Strings("roots", s.roots), zap.Strings("extensions", s.extensions))
	for _, root := range s.roots {
		if err := s.addRootLocked(root); err != nil {
			_ = s.watcher.Close()
			s.watcher = nil
			s.started = false
			s.mu.Unlock()
			return err
		}
	}
	s.mu.Unlock()
	go s.run(ctx, w)
	return nil
}

func (s *Spool) run(ctx context.Context, w *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-s.done:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			s.handleEvent(ev)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if err != nil {
				s.logger.Warn("spool watch error", zap.Error(err))
			}
		}
	}
}

func (s *Spool) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if s.rootOf(path) == "" {
		return
	}
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			s.handleNewDirectory(path)
			return
		}
		if matchExtension(path, s.extensions) {
			s.schedule(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		s.cancel(path)
		s.mu.Lock()
		delete(s.seen, path)
		s.mu.Unlock()
	}
}

// handleNewDirectory watches a directory created under a root (a new camera) and
// ingests anything already inside it.
func (s *Spool) handleNewDirectory(dir string) {
	s.mu.Lock()
	w := s.watcher
	recursive := s.recursive
	s.mu.Unlock()
	if w == nil || !recursive {
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.Add(path); err != nil {
				s.logger.Warn("spool failed to watch directory", zap.String("path", path), zap.Error(err))
			}
		}
		return nil
	})
	s.syncDirectory(dir)
}

// rootOf returns the watched root containing path, or "".
func (s *Spool) rootOf(path string) string {
	s.mu.Lock()
	roots := append([]string(nil), s.roots...)
	s.mu.Unlock()
	clean := filepath.Clean(path)
	for _, root := range roots {
		rc := filepath.Clean(root)
		if rc == clean || inDir(rc, clean) {
			return rc
		}
	}
	return ""
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

// ManifestFor derives camera and video ids from a manifest's place in the spool.
// Files directly under root carry no camera.
func ManifestFor(root, path string) Manifest {
	m := Manifest{
		Path:    path,
		VideoID: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return m
	}
	if parts := strings.Split(filepath.ToSlash(rel), "/"); len(parts) > 1 {
		m.CameraID = parts[0]
	}
	return m
}

func (s *Spool) schedule(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.pending[path]; ok {
		t.Stop()
	}
	s.pending[path] = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		delete(s.pending, path)
		s.mu.Unlock()
		s.process(path)
	})
}

func (s *Spool) cancel(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.pending[path]; ok {
		t.Stop()
		delete(s.pending, path)
	}
}

// process ingests path unless it was already ingested at its current mtime.
func (s *Spool) process(path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	root := s.rootOf(path)
	if root == "" {
		return
	}

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	if last, ok := s.seen[path]; ok && last.Equal(info.ModTime()) {
		s.mu.Unlock()
		return
	}
	s.seen[path] = info.ModTime()
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if ctx == nil {
		ctx = context.Background()
	}
	m := ManifestFor(root, path)
	s.logger.Info("ingesting manifest", zap.String("path", path), zap.String("camera_id", m.CameraID))
	if err := s.ingest(ctx, m); err != nil {
		s.logger.Error("manifest ingest failed", zap.String("path", path), zap.Error(err))
		// allow a retry on the next write
		s.mu.Lock()
		delete(s.seen, path)
		s.mu.Unlock()
	}
}

// AddDirectory adds a root and optionally ingests manifests already in it.
func (s *Spool) AddDirectory(root string, syncExisting bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	s.mu.Lock()
	for _, r := range s.roots {
		if filepath.Clean(r) == abs {
			s.mu.Unlock()
			return nil
		}
	}
	if s.watcher != nil {
		if err := s.addRootLocked(abs); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.roots = append(s.roots, abs)
	started := s.watcher != nil
	s.mu.Unlock()

	s.logger.Debug("spool directory added", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if started && syncExisting {
		go s.syncDirectory(abs)
	}
	return nil
}

func (s *Spool) addRootLocked(root string) error {
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	var paths []string
	if s.recursive {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			if err := s.watcher.Add(path); err != nil {
				return err
			}
			paths = append(paths, path)
			return nil
		})
		if err != nil {
			return err
		}
	} else {
		if err := s.watcher.Add(root); err != nil {
			return err
		}
		paths = append(paths, root)
	}
	s.rootPaths[root] = paths
	return nil
}

func (s *Spool) syncDirectory(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && !s.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if matchExtension(path, s.extensions) {
			s.process(path)
		}
		return nil
	})
}

// RemoveDirectory stops watching root. Frames already ingested stay indexed.
func (s *Spool) RemoveDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	for i, r := range s.roots {
		if filepath.Clean(r) == abs {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	if s.watcher != nil {
		for _, p := range s.rootPaths[abs] {
			_ = s.watcher.Remove(p)
		}
	}
	delete(s.rootPaths, abs)
	s.roots = append(s.roots[:idx], s.roots[idx+1:]...)
	s.logger.Debug("spool directory removed", zap.String("path", abs))
	return nil
}

// Directories returns the watched roots.
func (s *Spool) Directories() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.roots...)
}

// SyncExisting ingests manifests already present in every root. Call after Start.
func (s *Spool) SyncExisting() {
	for _, root := range s.Directories() {
		s.syncDirectory(root)
	}
}

// Stop stops watching and waits for in-flight ingests.
func (s *Spool) Stop() {
	s.mu.Lock()
	if !s.started || s.watcher == nil {
		s.mu.Unlock()
		return
	}
	for path, t := range s.pending {
		t.Stop()
		delete(s.pending, path)
	}
	_ = s.watcher.Close()
	s.watcher = nil
	s.started = false
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}
