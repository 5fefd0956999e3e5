package search

import (
	"math"
	"sort"

	"github.com/hyperjump/vidrag/internal/models"
)

// DefaultDedupWindow is the minimum spacing in seconds between two results from the same video.
const DefaultDedupWindow = 5.0

// Finalize ranks hits by score and drops any hit whose relative offset lies strictly
// within window seconds of an already accepted hit from the same video. At most k hits
// are returned; ties keep their input order. The input slice is not modified.
func Finalize(hits []models.Hit, k int, window float64) []models.Hit {
	if k <= 0 || len(hits) == 0 {
		return []models.Hit{}
	}
	sorted := make([]models.Hit, len(hits))
	copy(sorted, hits)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	accepted := make(map[string][]float64)
	out := make([]models.Hit, 0, min(k, len(sorted)))
	for _, h := range sorted {
		if len(out) >= k {
			break
		}
		offsets := accepted[h.Payload.VideoID]
		if tooClose(h.Payload.RelativeOffset, offsets, window) {
			continue
		}
		accepted[h.Payload.VideoID] = append(offsets, h.Payload.RelativeOffset)
		out = append(out, h)
	}
	return out
}

func tooClose(offset float64, accepted []float64, window float64) bool {
	for _, a := range accepted {
		if math.Abs(offset-a) < window {
			return true
		}
	}
	return false
}
