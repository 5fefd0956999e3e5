// Package timestamp parses capture-time strings into sortable epoch values.
//
// Two encodings are accepted. Strings containing '-' or 'T' are ISO-8601 date/times
// (seconds are padded to ":00" when missing, a bare date means midnight). Strings of
// exactly 17 characters are the legacy ingest token DDMMYYYYHHMMSS followed by three
// digits of milliseconds. Anything else is malformed.
package timestamp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformed is returned (wrapped) for strings in neither recognized encoding.
// Callers index such frames with epoch 0, which means "unparsed".
var ErrMalformed = errors.New("malformed timestamp")

const (
	legacyLen    = 17
	legacyLayout = "02012006150405"
)

var isoLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Parse converts ts to a time. Times without an explicit zone are read in loc
// (time.Local when loc is nil).
func Parse(ts string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	s := strings.TrimSpace(ts)
	switch {
	case strings.ContainsAny(s, "-T"):
		return parseISO(s, loc)
	case len(s) == legacyLen:
		return parseLegacy(s, loc)
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrMalformed, ts)
}

// Normalize returns the epoch seconds (with fractional milliseconds) for ts.
// On failure it returns 0 and an error wrapping ErrMalformed.
func Normalize(ts string, loc *time.Location) (float64, error) {
	t, err := Parse(ts, loc)
	if err != nil {
		return 0, err
	}
	return Epoch(t), nil
}

// Epoch converts t to fractional Unix seconds.
func Epoch(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

// FromEpoch is the inverse of Epoch.
func FromEpoch(epoch float64, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	sec := int64(epoch)
	nsec := int64((epoch - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).In(loc)
}

func parseISO(s string, loc *time.Location) (time.Time, error) {
	if strings.Count(s, ":") == 1 {
		s += ":00"
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q is not ISO-8601", ErrMalformed, s)
}

func parseLegacy(s string, loc *time.Location) (time.Time, error) {
	for _, r := range s {
		if r < '0' || r > '9' {
			return time.Time{}, fmt.Errorf("%w: legacy token %q has non-digit", ErrMalformed, s)
		}
	}
	t, err := time.ParseInLocation(legacyLayout, s[:legacyLen-3], loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	ms, _ := strconv.Atoi(s[legacyLen-3:])
	return t.Add(time.Duration(ms) * time.Millisecond), nil
}

// FormatLegacy renders t as the 17-character legacy token.
func FormatLegacy(t time.Time) string {
	return t.Format(legacyLayout) + fmt.Sprintf("%03d", t.Nanosecond()/int(time.Millisecond))
}

// ClockSeconds returns whole seconds since local midnight for t (0-86399).
func ClockSeconds(t time.Time) float64 {
	return float64(t.Hour()*3600 + t.Minute()*60 + t.Second())
}

// ParseClock converts "HH:MM" or "HH:MM:SS" to seconds of day. "24:00[:00]" is accepted
// as 86400 so a range can end at midnight.
func ParseClock(s string) (float64, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid clock time %q: want HH:MM[:SS]", s)
	}
	vals := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid clock time %q", s)
		}
		vals[i] = n
	}
	h, m, sec := vals[0], vals[1], vals[2]
	if m > 59 || sec > 59 {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	total := h*3600 + m*60 + sec
	if total > 86400 {
		return 0, fmt.Errorf("clock time %q past end of day", s)
	}
	return float64(total), nil
}
