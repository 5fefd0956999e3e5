// Package models defines core data structures for frames, queries, and search results.
package models

// DefaultCameraID is used when an indexed item carries no camera_id.
const DefaultCameraID = "unknown_cam"

// FrameRecord is one sampled frame emitted by the frame pipeline. CameraID, VideoID and
// VideoPath are optional hints; when empty the ingest caller supplies them.
type FrameRecord struct {
	FrameID          string    `json:"frame_id"`
	TimestampStr     string    `json:"timestamp_str"`
	RelativeOffset   float64   `json:"relative_offset"`
	ClockTimeSeconds float64   `json:"clock_time_seconds"`
	Description      string    `json:"description,omitempty"`
	Image            string    `json:"image,omitempty"` // base64 JPEG
	Vector           []float32 `json:"vector,omitempty"`
	CameraID         string    `json:"camera_id,omitempty"`
	VideoID          string    `json:"video_id,omitempty"`
	VideoPath        string    `json:"video_path,omitempty"`
}

// FrameMetadata is the metadata that accompanies a vector into the indexer.
// RelativeOffset and ClockTimeSeconds are optional and default to 0.
type FrameMetadata struct {
	CameraID         string   `json:"camera_id"`
	VideoID          string   `json:"video_id"`
	FrameID          string   `json:"frame_id"`
	TimestampStr     string   `json:"timestamp_str"`
	RelativeOffset   *float64 `json:"relative_offset,omitempty"`
	ClockTimeSeconds *float64 `json:"clock_time_seconds,omitempty"`
	Description      string   `json:"description"`
	VideoPath        string   `json:"video_path"`
}

// IndexItem pairs an embedding with its frame metadata.
type IndexItem struct {
	Vector   []float32     `json:"vector"`
	Metadata FrameMetadata `json:"metadata"`
}

// Payload is the stored snapshot of an indexed frame.
type Payload struct {
	CameraID          string  `json:"camera_id"`
	VideoID           string  `json:"video_id"`
	TimestampStr      string  `json:"timestamp_str"`
	TimestampSortable float64 `json:"timestamp_sortable"`
	RelativeOffset    float64 `json:"relative_offset"`
	ClockTimeSeconds  float64 `json:"clock_time_seconds"`
	Description       string  `json:"description"`
	VideoPath         string  `json:"video_path"`
	FrameID           string  `json:"frame_id"`
	VideoURL          string  `json:"video_url,omitempty"`
}

// NumericField returns the value of one of the range-indexed payload fields.
func (p Payload) NumericField(name string) (float64, bool) {
	switch name {
	case "timestamp_sortable":
		return p.TimestampSortable, true
	case "relative_offset":
		return p.RelativeOffset, true
	case "clock_time_seconds":
		return p.ClockTimeSeconds, true
	}
	return 0, false
}

// Fields flattens the payload into a generic map (stores with schemaless payloads).
func (p Payload) Fields() map[string]any {
	return map[string]any{
		"camera_id":          p.CameraID,
		"video_id":           p.VideoID,
		"timestamp_str":      p.TimestampStr,
		"timestamp_sortable": p.TimestampSortable,
		"relative_offset":    p.RelativeOffset,
		"clock_time_seconds": p.ClockTimeSeconds,
		"description":        p.Description,
		"video_path":         p.VideoPath,
		"frame_id":           p.FrameID,
	}
}

// PayloadFromFields is the inverse of Fields. Missing or mistyped keys are left zero.
func PayloadFromFields(m map[string]any) Payload {
	str := func(k string) string {
		s, _ := m[k].(string)
		return s
	}
	num := func(k string) float64 {
		switch v := m[k].(type) {
		case float64:
			return v
		case float32:
			return float64(v)
		case int64:
			return float64(v)
		case int:
			return float64(v)
		}
		return 0
	}
	return Payload{
		CameraID:          str("camera_id"),
		VideoID:           str("video_id"),
		TimestampStr:      str("timestamp_str"),
		TimestampSortable: num("timestamp_sortable"),
		RelativeOffset:    num("relative_offset"),
		ClockTimeSeconds:  num("clock_time_seconds"),
		Description:       str("description"),
		VideoPath:         str("video_path"),
		FrameID:           str("frame_id"),
	}
}

// Hit is a single similarity-search result from one partition.
type Hit struct {
	ID      string  `json:"id"`
	Payload Payload `json:"payload"`
	Score   float64 `json:"score"`
}
