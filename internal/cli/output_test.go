package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/hyperjump/vidrag/internal/models"
)

func init() {
	color.NoColor = true
}

func sampleResponse() *models.SearchResponse {
	return &models.SearchResponse{
		Type:      models.ResponseSearch,
		Message:   "I found 1 clips matching your description.",
		Query:     "red truck",
		QueryTime: 12,
		Results: []*models.SearchResult{{
			Payload: models.Payload{
				CameraID:          "cam1",
				VideoID:           "gate.mp4",
				Description:       "A red truck enters the gate",
				RelativeOffset:    10,
				TimestampSortable: 1709280010,
				VideoURL:          "/static/videos/gate.mp4",
			},
			ID:            "p1",
			Score:         0.91,
			SemanticScore: 0.88,
			LexicalScore:  1,
			Rank:          1,
		}},
	}
}

func TestWriteSearchResponse_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResponse(&buf, sampleResponse(), OutputJSON, time.UTC); err != nil {
		t.Fatal(err)
	}
	var decoded models.SearchResponse
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if decoded.Query != "red truck" || len(decoded.Results) != 1 || decoded.Results[0].VideoURL != "/static/videos/gate.mp4" {
		t.Errorf("decoded: %+v", decoded)
	}
}

func TestWriteSearchResponse_text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResponse(&buf, sampleResponse(), OutputText, time.UTC); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"I found 1 clips",
		"#1 0.9100",
		"camera: cam1",
		"2024-03-01 08:00:10.000",
		"/static/videos/gate.mp4",
		"A red truck enters the gate",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteSearchResponse_chat(t *testing.T) {
	var buf bytes.Buffer
	resp := &models.SearchResponse{Type: models.ResponseChat, Message: "Hi there", Results: []*models.SearchResult{}}
	if err := WriteSearchResponse(&buf, resp, OutputText, time.UTC); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Hi there") || strings.Contains(buf.String(), "result(s)") {
		t.Errorf("chat output: %q", buf.String())
	}
}

func TestWriteIngestResult(t *testing.T) {
	res := &models.IngestResult{
		Partitions: []models.PartitionOutcome{
			{Partition: "cam1", Count: 4},
			{Partition: "cam3", Count: 2, Err: errors.New("boom"), Error: "boom"},
		},
		Skipped: 1,
	}
	res.Finish()
	var buf bytes.Buffer
	if err := WriteIngestResult(&buf, res, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"partial: 4 frame(s) indexed, 1 skipped", "cam1: 4", "cam3: boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWritePartitions(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePartitions(&buf, nil, OutputJSON); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"partitions": []`) {
		t.Errorf("empty JSON listing: %s", buf.String())
	}

	buf.Reset()
	if err := WritePartitions(&buf, []PartitionCount{{Name: "cam1", Points: 3}}, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "cam1") || !strings.Contains(buf.String(), "3") {
		t.Errorf("text listing: %s", buf.String())
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputText, false},
		{"text", OutputText, false},
		{"json", OutputJSON, false},
		{"compact", "", true},
	}
	for _, tt := range tests {
		got, err := ParseOutputFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseOutputFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}
