// Package rerank re-scores finalized search hits by blending vector similarity with a
// BM25 match of the query against each frame description.
package rerank

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"

	"github.com/hyperjump/vidrag/internal/models"
)

const descriptionField = "description"

// Reranker blends semantic and lexical scores. Weights need not sum to 1.
type Reranker struct {
	semanticWeight float64
	lexicalWeight  float64
	fuzziness      int
	logger         *zap.Logger
}

// Option configures a Reranker.
type Option func(*Reranker)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reranker) { r.logger = l }
}

// WithFuzziness enables typo-tolerant term matching with the given edit distance (1 or 2).
func WithFuzziness(n int) Option {
	return func(r *Reranker) { r.fuzziness = n }
}

// New creates a reranker with the given weights.
func New(semanticWeight, lexicalWeight float64, opts ...Option) *Reranker {
	r := &Reranker{semanticWeight: semanticWeight, lexicalWeight: lexicalWeight}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// Rerank scores hits against query and returns the best k as ranked results. When the
// lexical index cannot be built the semantic order is kept.
func (r *Reranker) Rerank(ctx context.Context, query string, hits []models.Hit, k int) []*models.SearchResult {
	if k <= 0 || len(hits) == 0 {
		return []*models.SearchResult{}
	}

	var lexical map[string]float64
	if r.lexicalWeight > 0 && strings.TrimSpace(query) != "" {
		scores, err := r.lexicalScores(query, hits)
		if err != nil {
			r.logger.Warn("lexical rerank failed, keeping semantic order", zap.Error(err))
		} else {
			lexical = NormalizeScores(scores)
		}
	}

	results := make([]*models.SearchResult, len(hits))
	for i, h := range hits {
		lex := lexical[strconv.Itoa(i)]
		results[i] = &models.SearchResult{
			Payload:       h.Payload,
			ID:            h.ID,
			SemanticScore: h.Score,
			LexicalScore:  lex,
			Score:         r.semanticWeight*h.Score + r.lexicalWeight*lex,
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	for i, res := range results {
		res.Rank = i + 1
	}
	return results
}

// lexicalScores indexes the hit descriptions in a throwaway in-memory index and runs
// the query over them. Keys are hit positions.
func (r *Reranker) lexicalScores(query string, hits []models.Hit) (map[string]float64, error) {
	index, err := bleve.NewMemOnly(newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank index: %w", err)
	}
	defer index.Close()

	batch := index.NewBatch()
	for i, h := range hits {
		if err := batch.Index(strconv.Itoa(i), map[string]interface{}{descriptionField: h.Payload.Description}); err != nil {
			return nil, fmt.Errorf("failed to index description: %w", err)
		}
	}
	if err := index.Batch(batch); err != nil {
		return nil, fmt.Errorf("failed to index descriptions: %w", err)
	}

	req := bleve.NewSearchRequest(r.buildQuery(query))
	req.Size = len(hits)
	res, err := index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("bleve search failed: %w", err)
	}
	scores := make(map[string]float64, len(res.Hits))
	for _, hit := range res.Hits {
		scores[hit.ID] = hit.Score
	}
	return scores, nil
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()
	text := bleve.NewTextFieldMapping()
	// Standard analyzer: lowercase and tokenize without stemming.
	text.Analyzer = standard.Name
	doc.AddFieldMappingsAt(descriptionField, text)
	im.DefaultMapping = doc
	return im
}

// buildQuery matches any query term in the description, fuzzily when configured.
func (r *Reranker) buildQuery(query string) blevequery.Query {
	if r.fuzziness <= 0 {
		mq := bleve.NewMatchQuery(query)
		mq.SetField(descriptionField)
		return mq
	}
	terms := strings.Fields(strings.ToLower(query))
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(r.fuzziness)
		fq.SetField(descriptionField)
		queries = append(queries, fq)
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// NormalizeScores scales scores into [0,1] by the maximum.
func NormalizeScores(scores map[string]float64) map[string]float64 {
	maxScore := 0.0
	for _, s := range scores {
		if s > maxScore {
			maxScore = s
		}
	}
	normalized := make(map[string]float64, len(scores))
	for id, s := range scores {
		if maxScore > 0 {
			normalized[id] = s / maxScore
		} else {
			normalized[id] = 0
		}
	}
	return normalized
}
