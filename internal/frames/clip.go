package frames

import "math"

const (
	// ClipSeconds is the length of a playback clip around a hit.
	ClipSeconds = 3.0
	// ClipLeadSeconds is how far before the hit a clip starts.
	ClipLeadSeconds = 1.0
)

// Clip is a playback window in seconds from the start of the video.
type Clip struct {
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
}

// ClipWindow returns the clip for a hit at offset. The clip starts ClipLeadSeconds
// early and is clamped to videoDuration when it is known (positive).
func ClipWindow(offset, videoDuration float64) Clip {
	start := math.Max(0, offset-ClipLeadSeconds)
	end := start + ClipSeconds
	if videoDuration > 0 {
		if end > videoDuration {
			end = videoDuration
		}
		if start >= end {
			start = math.Max(0, end-ClipSeconds)
		}
	}
	return Clip{Start: start, End: end, Duration: end - start}
}
