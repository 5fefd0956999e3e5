package timestamp

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestNormalize_legacy(t *testing.T) {
	got, err := Normalize("15012026153045125", time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	want := Epoch(time.Date(2026, 1, 15, 15, 30, 45, 125*int(time.Millisecond), time.UTC))
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("Normalize = %f, want %f", got, want)
	}
}

func TestNormalize_isoPadsSeconds(t *testing.T) {
	got, err := Normalize("2026-01-15T09:00", time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	want := Epoch(time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC))
	if got != want {
		t.Errorf("Normalize = %f, want %f", got, want)
	}
}

func TestNormalize_localLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	got, err := Normalize("2026-01-15T09:00:00", loc)
	if err != nil {
		t.Fatal(err)
	}
	want := Epoch(time.Date(2026, 1, 15, 7, 0, 0, 0, time.UTC))
	if got != want {
		t.Errorf("naive time should be read in the given location: got %f, want %f", got, want)
	}
}

func TestParse_formats(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2026-01-15", time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"2026-01-15T09:30:15", time.Date(2026, 1, 15, 9, 30, 15, 0, time.UTC)},
		{"2026-01-15 09:30:15", time.Date(2026, 1, 15, 9, 30, 15, 0, time.UTC)},
		{"2026-01-15T09:30:15.250", time.Date(2026, 1, 15, 9, 30, 15, 250*int(time.Millisecond), time.UTC)},
		{"2026-01-15T09:30:15Z", time.Date(2026, 1, 15, 9, 30, 15, 0, time.UTC)},
		{"2026-01-15T11:30:15+02:00", time.Date(2026, 1, 15, 9, 30, 15, 0, time.UTC)},
		{"12022006152036125", time.Date(2006, 2, 12, 15, 20, 36, 125*int(time.Millisecond), time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in, time.UTC)
			if err != nil {
				t.Fatal(err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize_malformed(t *testing.T) {
	for _, in := range []string{"", "hello", "1501202615304512", "1501202615304512x", "2026-13-45T99:00", "99992026153045125"} {
		t.Run(in, func(t *testing.T) {
			got, err := Normalize(in, time.UTC)
			if err == nil {
				t.Fatalf("expected error for %q", in)
			}
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("error should wrap ErrMalformed: %v", err)
			}
			if got != 0 {
				t.Errorf("malformed input should give 0, got %f", got)
			}
		})
	}
}

func TestFormatLegacy(t *testing.T) {
	ts := time.Date(2026, 1, 15, 15, 30, 45, 125*int(time.Millisecond), time.UTC)
	if got := FormatLegacy(ts); got != "15012026153045125" {
		t.Errorf("FormatLegacy = %q", got)
	}
	back, err := Parse(FormatLegacy(ts), time.UTC)
	if err != nil || !back.Equal(ts) {
		t.Errorf("legacy token should parse back to %v, got %v (%v)", ts, back, err)
	}
}

func TestFromEpoch(t *testing.T) {
	ts := time.Date(2026, 1, 15, 15, 30, 45, 0, time.UTC)
	if got := FromEpoch(Epoch(ts), time.UTC); !got.Equal(ts) {
		t.Errorf("FromEpoch(Epoch(t)) = %v, want %v", got, ts)
	}
}

func TestClockSeconds(t *testing.T) {
	ts := time.Date(2026, 1, 15, 9, 0, 30, 0, time.UTC)
	if got := ClockSeconds(ts); got != 32430 {
		t.Errorf("ClockSeconds = %f, want 32430", got)
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"09:00:00", 32400, false},
		{"09:00", 32400, false},
		{"00:00:10", 10, false},
		{"23:59:59", 86399, false},
		{"24:00", 86400, false},
		{"24:00:01", 0, true},
		{"9", 0, true},
		{"09:61", 0, true},
		{"aa:bb", 0, true},
		{"-1:00", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseClock(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseClock(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseClock(%q) = %f, want %f", tt.in, got, tt.want)
		}
	}
}
