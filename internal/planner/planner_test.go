package planner

import (
	"testing"
	"time"

	"github.com/hyperjump/vidrag/internal/models"
	"github.com/hyperjump/vidrag/internal/timestamp"
	"github.com/hyperjump/vidrag/internal/vectorstore"
)

func f64(v float64) *float64 { return &v }

func TestPlan(t *testing.T) {
	tests := []struct {
		name   string
		date   *models.DateRange
		clock  *models.ClockRange
		fields []string
	}{
		{"nothing", nil, nil, nil},
		{"empty ranges", &models.DateRange{}, &models.ClockRange{}, nil},
		{"date only", &models.DateRange{Start: f64(1)}, nil, []string{vectorstore.FieldTimestampSortable}},
		{"clock only", nil, &models.ClockRange{End: f64(3600)}, []string{vectorstore.FieldClockTimeSeconds}},
		{"both", &models.DateRange{Start: f64(1), End: f64(2)}, &models.ClockRange{Start: f64(0), End: f64(60)},
			[]string{vectorstore.FieldTimestampSortable, vectorstore.FieldClockTimeSeconds}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Plan(tt.date, tt.clock)
			if len(f.Must) != len(tt.fields) {
				t.Fatalf("got %d conditions, want %d", len(f.Must), len(tt.fields))
			}
			for i, field := range tt.fields {
				if f.Must[i].Field != field {
					t.Errorf("condition %d field = %s, want %s", i, f.Must[i].Field, field)
				}
			}
		})
	}
}

func TestPlan_openBoundOmitted(t *testing.T) {
	f := Plan(&models.DateRange{Start: f64(100)}, nil)
	if f.Must[0].Gte == nil || *f.Must[0].Gte != 100 || f.Must[0].Lte != nil {
		t.Errorf("range = %+v", f.Must[0])
	}
}

func TestPlan_filterCorrectness(t *testing.T) {
	f := Plan(&models.DateRange{Start: f64(1000), End: f64(2000)}, &models.ClockRange{Start: f64(32400), End: f64(36000)})
	tests := []struct {
		ts, clock float64
		want      bool
	}{
		{1000, 32400, true},
		{2000, 36000, true},
		{1500, 30000, false},
		{999, 33000, false},
		{2001, 33000, false},
	}
	for _, tt := range tests {
		p := models.Payload{TimestampSortable: tt.ts, ClockTimeSeconds: tt.clock}
		if got := f.Matches(p); got != tt.want {
			t.Errorf("Matches(ts=%v, clock=%v) = %v, want %v", tt.ts, tt.clock, got, tt.want)
		}
	}
}

func TestDateRangeFromDates(t *testing.T) {
	r, err := DateRangeFromDates("2026-01-15", "2026-01-15", time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	wantStart := timestamp.Epoch(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))
	wantEnd := timestamp.Epoch(time.Date(2026, 1, 15, 23, 59, 59, 999*int(time.Millisecond), time.UTC))
	if *r.Start != wantStart {
		t.Errorf("start = %f, want %f", *r.Start, wantStart)
	}
	if *r.End-wantEnd > 1e-3 || wantEnd-*r.End > 1e-3 {
		t.Errorf("end = %f, want %f", *r.End, wantEnd)
	}

	r, err = DateRangeFromDates("", "2026-01-15T12:00", time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if r.Start != nil || *r.End != timestamp.Epoch(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("full timestamp end should not be expanded: %+v", r)
	}

	if r, err := DateRangeFromDates("", "", time.UTC); r != nil || err != nil {
		t.Errorf("empty input = %v, %v", r, err)
	}
	if _, err := DateRangeFromDates("yesterday", "", time.UTC); err == nil {
		t.Error("expected error for malformed date")
	}
	if _, err := DateRangeFromDates("2026-01-16", "2026-01-15", time.UTC); err == nil {
		t.Error("expected error when start is after end")
	}
}

func TestClockRangeFromTimes(t *testing.T) {
	tests := []struct {
		start, end string
		wantNil    bool
		wantErr    bool
	}{
		{"", "", true, false},
		{"09:00", "17:00", false, false},
		{"09:00", "", false, false},
		{"00:00", "24:00", false, false},
		{"22:00", "02:00", false, true},
		{"25:00", "", false, true},
		{"", "nope", false, true},
	}
	for _, tt := range tests {
		r, err := ClockRangeFromTimes(tt.start, tt.end)
		if (err != nil) != tt.wantErr {
			t.Errorf("ClockRangeFromTimes(%q, %q) error = %v, wantErr %v", tt.start, tt.end, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && (r == nil) != tt.wantNil {
			t.Errorf("ClockRangeFromTimes(%q, %q) = %v", tt.start, tt.end, r)
		}
	}
}

func TestValidateClock(t *testing.T) {
	if err := ValidateClock(&models.ClockRange{Start: f64(-1)}); err == nil {
		t.Error("negative bound should fail")
	}
	if err := ValidateClock(&models.ClockRange{End: f64(86401)}); err == nil {
		t.Error("bound past end of day should fail")
	}
	if err := ValidateClock(nil); err != nil {
		t.Error(err)
	}
}
