package frames

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/hyperjump/vidrag/internal/models"
	"github.com/hyperjump/vidrag/internal/timestamp"
)

// Slot is one frame picked by Schedule.
type Slot struct {
	Index            int
	FrameID          string
	TimestampStr     string
	RelativeOffset   float64
	ClockTimeSeconds float64
}

// Schedule picks every stride-th frame of a video, where stride is fps*interval
// frames. start is the capture time of frame 0. A zero fps yields no slots.
func Schedule(videoPath string, start time.Time, fps float64, totalFrames int, interval float64) ([]Slot, error) {
	if fps < 0 || totalFrames < 0 {
		return nil, fmt.Errorf("invalid video geometry: fps=%v frames=%d", fps, totalFrames)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("sample interval must be positive, got %v", interval)
	}
	if fps == 0 {
		return []Slot{}, nil
	}
	stride := int(fps * interval)
	if stride < 1 {
		stride = 1
	}

	name := filepath.Base(videoPath)
	slots := make([]Slot, 0, totalFrames/stride+1)
	for i := 0; i < totalFrames; i += stride {
		offset := float64(i) / fps
		at := start.Add(time.Duration(offset * float64(time.Second)))
		ts := timestamp.FormatLegacy(at)
		slots = append(slots, Slot{
			Index:            i,
			FrameID:          FrameID(name, ts),
			TimestampStr:     ts,
			RelativeOffset:   offset,
			ClockTimeSeconds: timestamp.ClockSeconds(at),
		})
	}
	return slots, nil
}

// FrameID builds the stable id for a frame of a video captured at ts.
func FrameID(videoName, ts string) string {
	return filepath.Base(videoName) + "_" + ts
}

// Complete fills derivable fields of rec. When start is non-zero, a missing
// timestamp is computed from the relative offset, and a missing frame id from the
// video name and timestamp. Clock time is taken from the timestamp when unset.
func Complete(rec *models.FrameRecord, start time.Time, loc *time.Location) {
	if rec.TimestampStr == "" && !start.IsZero() {
		at := start.Add(time.Duration(rec.RelativeOffset * float64(time.Second)))
		rec.TimestampStr = timestamp.FormatLegacy(at)
	}
	if rec.FrameID == "" && rec.TimestampStr != "" {
		name := rec.VideoPath
		if name == "" {
			name = rec.VideoID
		}
		if name != "" {
			rec.FrameID = FrameID(name, rec.TimestampStr)
		}
	}
	if rec.ClockTimeSeconds == 0 && rec.TimestampStr != "" {
		if t, err := timestamp.Parse(rec.TimestampStr, loc); err == nil {
			rec.ClockTimeSeconds = timestamp.ClockSeconds(t)
		}
	}
}
