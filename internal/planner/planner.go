// Package planner turns date and clock-time constraints into store filters.
package planner

import (
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/vidrag/internal/models"
	"github.com/hyperjump/vidrag/internal/timestamp"
	"github.com/hyperjump/vidrag/internal/vectorstore"
)

const (
	dateOnlyLayout = "2006-01-02"
	secondsPerDay  = 86400
	// endOfDay is the last representable millisecond of a calendar day.
	endOfDay = 24*time.Hour - time.Millisecond
)

// Plan combines the date and clock ranges into a conjunctive filter. Nil ranges and
// nil bounds add no condition, so Plan(nil, nil) matches everything.
func Plan(date *models.DateRange, clock *models.ClockRange) vectorstore.Filter {
	var f vectorstore.Filter
	if date != nil && (date.Start != nil || date.End != nil) {
		f.Must = append(f.Must, vectorstore.Range{
			Field: vectorstore.FieldTimestampSortable,
			Gte:   date.Start,
			Lte:   date.End,
		})
	}
	if clock != nil && (clock.Start != nil || clock.End != nil) {
		f.Must = append(f.Must, vectorstore.Range{
			Field: vectorstore.FieldClockTimeSeconds,
			Gte:   clock.Start,
			Lte:   clock.End,
		})
	}
	return f
}

// DateRangeFromDates parses operator date bounds. A date-only start means 00:00:00 and a
// date-only end means 23:59:59.999 of that day. Either may be empty; both empty gives nil.
func DateRangeFromDates(start, end string, loc *time.Location) (*models.DateRange, error) {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if start == "" && end == "" {
		return nil, nil
	}
	r := &models.DateRange{}
	if start != "" {
		v, err := timestamp.Normalize(start, loc)
		if err != nil {
			return nil, fmt.Errorf("invalid start_date: %w", err)
		}
		r.Start = &v
	}
	if end != "" {
		t, err := timestamp.Parse(end, loc)
		if err != nil {
			return nil, fmt.Errorf("invalid end_date: %w", err)
		}
		if isDateOnly(end) {
			t = t.Add(endOfDay)
		}
		v := timestamp.Epoch(t)
		r.End = &v
	}
	if r.Start != nil && r.End != nil && *r.Start > *r.End {
		return nil, fmt.Errorf("start_date is after end_date")
	}
	return r, nil
}

// ClockRangeFromTimes parses "HH:MM[:SS]" bounds into seconds of day. Ranges that wrap
// past midnight are rejected; split them into two searches instead.
func ClockRangeFromTimes(start, end string) (*models.ClockRange, error) {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if start == "" && end == "" {
		return nil, nil
	}
	r := &models.ClockRange{}
	if start != "" {
		v, err := timestamp.ParseClock(start)
		if err != nil {
			return nil, fmt.Errorf("invalid start_time: %w", err)
		}
		r.Start = &v
	}
	if end != "" {
		v, err := timestamp.ParseClock(end)
		if err != nil {
			return nil, fmt.Errorf("invalid end_time: %w", err)
		}
		r.End = &v
	}
	if err := ValidateClock(r); err != nil {
		return nil, err
	}
	return r, nil
}

// ValidateClock checks that both bounds lie within a day and start <= end.
func ValidateClock(r *models.ClockRange) error {
	if r == nil {
		return nil
	}
	for _, b := range []*float64{r.Start, r.End} {
		if b != nil && (*b < 0 || *b > secondsPerDay) {
			return fmt.Errorf("clock bound %v outside 0-%d", *b, secondsPerDay)
		}
	}
	if r.Start != nil && r.End != nil && *r.Start > *r.End {
		return fmt.Errorf("start_time is after end_time")
	}
	return nil
}

func isDateOnly(s string) bool {
	if len(s) != len(dateOnlyLayout) {
		return false
	}
	_, err := time.Parse(dateOnlyLayout, s)
	return err == nil
}
