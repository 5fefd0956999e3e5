package models

// Response types returned by the assistant.
const (
	ResponseSearch = "search"
	ResponseChat   = "chat"
)

// SearchResult is one ranked event returned to the operator.
type SearchResult struct {
	Payload
	ID            string  `json:"id"`
	Score         float64 `json:"score"`
	SemanticScore float64 `json:"semantic_score"`
	LexicalScore  float64 `json:"lexical_score"`
	Rank          int     `json:"rank"`
}

// SearchResponse is the response for a search request. Results is never nil.
type SearchResponse struct {
	Type      string          `json:"type"`
	Message   string          `json:"message"`
	Results   []*SearchResult `json:"results"`
	Query     string          `json:"query"`
	QueryTime int64           `json:"query_time_ms"`
}

// Ingest outcome statuses.
const (
	IngestIndexed = "indexed"
	IngestPartial = "partial"
	IngestFailed  = "failed"
)

// PartitionOutcome reports the result of one partition's batch upsert.
type PartitionOutcome struct {
	Partition string `json:"partition"`
	Count     int    `json:"count"`
	Error     string `json:"error,omitempty"`
	Err       error  `json:"-"`
}

// OK reports whether the partition batch was written.
func (o PartitionOutcome) OK() bool {
	return o.Err == nil
}

// IngestResult summarizes a batch-index call across partitions.
type IngestResult struct {
	Indexed    int                `json:"indexed_count"`
	Skipped    int                `json:"skipped_count,omitempty"`
	Partitions []PartitionOutcome `json:"partitions"`
	Status     string             `json:"status"`
}

// Errors returns the per-partition errors keyed by partition name.
func (r *IngestResult) Errors() map[string]error {
	out := make(map[string]error)
	for _, p := range r.Partitions {
		if p.Err != nil {
			out[p.Partition] = p.Err
		}
	}
	return out
}

// Merge folds other into r. Outcomes for the same partition accumulate counts and keep
// the latest error.
func (r *IngestResult) Merge(other *IngestResult) {
	if other == nil {
		return
	}
	r.Skipped += other.Skipped
	for _, o := range other.Partitions {
		merged := false
		for i := range r.Partitions {
			if r.Partitions[i].Partition != o.Partition {
				continue
			}
			if o.Err != nil {
				r.Partitions[i].Err = o.Err
				r.Partitions[i].Error = o.Error
			} else {
				r.Partitions[i].Count += o.Count
			}
			merged = true
			break
		}
		if !merged {
			r.Partitions = append(r.Partitions, o)
		}
	}
	r.Finish()
}

// Finish recomputes Indexed and Status from the partition outcomes.
func (r *IngestResult) Finish() {
	r.Indexed = 0
	failed := 0
	for _, p := range r.Partitions {
		if p.Err != nil {
			failed++
			continue
		}
		r.Indexed += p.Count
	}
	switch {
	case failed == 0:
		r.Status = IngestIndexed
	case failed == len(r.Partitions):
		r.Status = IngestFailed
	default:
		r.Status = IngestPartial
	}
	if r.Partitions == nil {
		r.Partitions = []PartitionOutcome{}
	}
}
