package provider

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/hyperjump/vidrag/pkg/utils"
)

// Mock is a deterministic offline provider for tests and demos. Embeddings are a
// normalized bag of hashed words, so texts sharing words are similar.
type Mock struct {
	dimensions int
}

// NewMock returns a mock provider producing embeddings of the given dimensions.
func NewMock(dimensions int) *Mock {
	if dimensions <= 0 {
		dimensions = 1536
	}
	return &Mock{dimensions: dimensions}
}

// Describe returns a stable placeholder description for the image.
func (m *Mock) Describe(ctx context.Context, imageBase64 string) (string, error) {
	if imageBase64 == "" {
		return "", fmt.Errorf("image is empty")
	}
	return fmt.Sprintf("security camera frame %d", utils.HashString(imageBase64)%100000), nil
}

// Embed returns a deterministic unit vector for text.
func (m *Mock) Embed(ctx context.Context, text string) ([]float32, error) {
	emb := make([]float32, m.dimensions)
	words := tokenize(text)
	if len(words) == 0 {
		words = []string{text}
	}
	for _, w := range words {
		h := utils.HashString(w)
		for i := 0; i < m.dimensions; i++ {
			emb[i] += float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
		}
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (m *Mock) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = emb
	}
	return out, nil
}

var greetings = map[string]bool{
	"hi": true, "hello": true, "hey": true, "thanks": true, "thank": true, "who": true, "help": true,
}

// Intent treats messages starting with a greeting or question about the assistant as chat.
func (m *Mock) Intent(ctx context.Context, text string) (Intent, error) {
	words := tokenize(text)
	if len(words) > 0 && greetings[words[0]] {
		return IntentChat, nil
	}
	return IntentSearch, nil
}

// Chat returns a canned reply.
func (m *Mock) Chat(ctx context.Context, text string) (string, error) {
	return "I can help you search camera footage. Describe what you are looking for.", nil
}

// Dimensions returns the embedding dimension.
func (m *Mock) Dimensions() int {
	return m.dimensions
}

// Close is a no-op for Mock.
func (m *Mock) Close() error {
	return nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
