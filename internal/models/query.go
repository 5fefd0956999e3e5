package models

import (
	"fmt"
	"strings"
)

// WildcardCamera selects every camera in the configured roster.
const WildcardCamera = "all"

// DateRange is an inclusive pair of epoch-second bounds on timestamp_sortable.
// A nil bound is open-ended.
type DateRange struct {
	Start *float64 `json:"start,omitempty"`
	End   *float64 `json:"end,omitempty"`
}

// ClockRange is an inclusive pair of seconds-of-day bounds (0-86400) on clock_time_seconds.
// A nil bound is open-ended.
type ClockRange struct {
	Start *float64 `json:"start,omitempty"`
	End   *float64 `json:"end,omitempty"`
}

// SearchRequest is an operator search over indexed frames.
type SearchRequest struct {
	Query     string   `json:"query"`
	Cameras   []string `json:"cameras,omitempty"`    // e.g. ["cam1"] or ["all"]
	StartDate string   `json:"start_date,omitempty"` // YYYY-MM-DD or full timestamp
	EndDate   string   `json:"end_date,omitempty"`   // YYYY-MM-DD or full timestamp
	StartTime string   `json:"start_time,omitempty"` // HH:MM[:SS] clock time
	EndTime   string   `json:"end_time,omitempty"`   // HH:MM[:SS] clock time
	K         int      `json:"k,omitempty"`
}

// Validate ensures the request has a query and normalizes k into [1, maxK].
// defaultK is used when k is unset.
func (r *SearchRequest) Validate(defaultK, maxK int) error {
	r.Query = strings.TrimSpace(r.Query)
	if r.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if r.K <= 0 {
		r.K = defaultK
	}
	if maxK > 0 && r.K > maxK {
		r.K = maxK
	}
	if len(r.Cameras) == 0 {
		r.Cameras = []string{WildcardCamera}
	}
	return nil
}

// IsWildcard reports whether cameras selects the whole roster.
func IsWildcard(cameras []string) bool {
	if len(cameras) == 0 {
		return true
	}
	for _, c := range cameras {
		if strings.EqualFold(strings.TrimSpace(c), WildcardCamera) {
			return true
		}
	}
	return false
}
