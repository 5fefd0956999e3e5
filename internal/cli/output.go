// Package cli renders vidrag command output for terminals and scripts.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/hyperjump/vidrag/internal/models"
	"github.com/hyperjump/vidrag/internal/timestamp"
	"github.com/hyperjump/vidrag/pkg/utils"
)

// OutputFormat selects how command results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is indented JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	scoreColor  = color.New(color.FgGreen)
	dimColor    = color.New(color.FgHiBlack)
	warnColor   = color.New(color.FgYellow)
	errColor    = color.New(color.FgRed, color.Bold)
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResponse writes a search or chat response in the given format.
func WriteSearchResponse(w io.Writer, resp *models.SearchResponse, format OutputFormat, loc *time.Location) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	fmt.Fprintln(w)
	headerColor.Fprintln(w, resp.Message)
	if resp.Type == models.ResponseChat {
		return nil
	}
	dimColor.Fprintf(w, "%d result(s) in %dms\n\n", len(resp.Results), resp.QueryTime)
	for _, r := range resp.Results {
		writeResult(w, r, loc)
	}
	return nil
}

func writeResult(w io.Writer, r *models.SearchResult, loc *time.Location) {
	fmt.Fprintf(w, "#%d ", r.Rank)
	scoreColor.Fprintf(w, "%.4f", r.Score)
	dimColor.Fprintf(w, " (semantic %.4f, lexical %.4f)\n", r.SemanticScore, r.LexicalScore)
	fmt.Fprintf(w, "  camera: %s  video: %s  offset: %.1fs\n", r.CameraID, r.VideoID, r.RelativeOffset)
	if r.TimestampSortable > 0 {
		fmt.Fprintf(w, "  time:   %s\n", timestamp.FromEpoch(r.TimestampSortable, loc).Format("2006-01-02 15:04:05.000"))
	}
	if r.VideoURL != "" {
		fmt.Fprintf(w, "  url:    %s\n", r.VideoURL)
	}
	fmt.Fprintf(w, "  %s\n\n", utils.Truncate(r.Description, 200))
}

// WriteIngestResult summarizes an ingest call.
func WriteIngestResult(w io.Writer, res *models.IngestResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	c := scoreColor
	switch res.Status {
	case models.IngestPartial:
		c = warnColor
	case models.IngestFailed:
		c = errColor
	}
	c.Fprintf(w, "%s: %d frame(s) indexed", res.Status, res.Indexed)
	if res.Skipped > 0 {
		fmt.Fprintf(w, ", %d skipped", res.Skipped)
	}
	fmt.Fprintln(w)
	for _, p := range res.Partitions {
		if p.Error != "" {
			errColor.Fprintf(w, "  %s: %s\n", p.Partition, p.Error)
			continue
		}
		fmt.Fprintf(w, "  %s: %d\n", p.Partition, p.Count)
	}
	return nil
}

// PartitionCount is one row of the partitions listing.
type PartitionCount struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
}

// WritePartitions lists partitions with their point counts.
func WritePartitions(w io.Writer, parts []PartitionCount, format OutputFormat) error {
	if format == OutputJSON {
		if parts == nil {
			parts = []PartitionCount{}
		}
		return writeJSON(w, map[string]any{"partitions": parts})
	}
	if len(parts) == 0 {
		dimColor.Fprintln(w, "no partitions")
		return nil
	}
	for _, p := range parts {
		fmt.Fprintf(w, "%-24s %d\n", p.Name, p.Points)
	}
	return nil
}
