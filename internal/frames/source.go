// Package frames produces the frame records fed into ingestion: JSONL manifests
// written by the extraction step, the sampling schedule for a video and clip windows.
package frames

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/hyperjump/vidrag/internal/models"
)

// maxLineSize bounds one manifest line. Lines carry a base64 frame at most.
const maxLineSize = 16 * 1024 * 1024

// Source is a single-pass iterator over frame records. Next returns io.EOF
// once exhausted.
type Source interface {
	Next(ctx context.Context) (models.FrameRecord, error)
}

// ManifestReader reads one JSON frame record per line. Blank lines are skipped.
type ManifestReader struct {
	scanner *bufio.Scanner
	line    int
}

// NewManifestReader returns a Source over a JSONL stream.
func NewManifestReader(r io.Reader) *ManifestReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &ManifestReader{scanner: s}
}

// Next decodes the next record.
func (m *ManifestReader) Next(ctx context.Context) (models.FrameRecord, error) {
	for {
		if err := ctx.Err(); err != nil {
			return models.FrameRecord{}, err
		}
		if !m.scanner.Scan() {
			if err := m.scanner.Err(); err != nil {
				return models.FrameRecord{}, fmt.Errorf("manifest line %d: %w", m.line+1, err)
			}
			return models.FrameRecord{}, io.EOF
		}
		m.line++
		raw := bytes.TrimSpace(m.scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec models.FrameRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return models.FrameRecord{}, fmt.Errorf("manifest line %d: %w", m.line, err)
		}
		return rec, nil
	}
}

// SliceSource serves records from memory.
type SliceSource struct {
	records []models.FrameRecord
	pos     int
}

// NewSliceSource returns a Source over records.
func NewSliceSource(records []models.FrameRecord) *SliceSource {
	return &SliceSource{records: records}
}

func (s *SliceSource) Next(ctx context.Context) (models.FrameRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.FrameRecord{}, err
	}
	if s.pos >= len(s.records) {
		return models.FrameRecord{}, io.EOF
	}
	rec := s.records[s.pos]
	s.pos++
	return rec, nil
}

// Collect drains src.
func Collect(ctx context.Context, src Source) ([]models.FrameRecord, error) {
	var out []models.FrameRecord
	for {
		rec, err := src.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
