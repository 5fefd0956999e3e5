package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// OpenAIConfig configures the OpenAI REST client.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	VisionModel    string
	EmbeddingModel string
	Timeout        time.Duration
}

// OpenAI implements Provider over the OpenAI REST API.
type OpenAI struct {
	cfg    OpenAIConfig
	client *http.Client
	dims   int
}

// NewOpenAI creates an OpenAI provider. The API key is required.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.ChatModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	dims := 1536
	if cfg.EmbeddingModel == "text-embedding-3-large" {
		dims = 3072
	}

	return &OpenAI{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		dims:   dims,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// post sends body as JSON to path and decodes a 200 response into out.
func (o *OpenAI) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e apiError
		_ = json.Unmarshal(raw, &e)
		return fmt.Errorf("OpenAI API error (status %d): %s", resp.StatusCode, e.Error.Message)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (o *OpenAI) complete(ctx context.Context, req chatRequest) (string, error) {
	var resp chatResponse
	if err := o.post(ctx, "/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from OpenAI API")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Describe asks the vision model to describe a base64 JPEG frame.
func (o *OpenAI) Describe(ctx context.Context, imageBase64 string) (string, error) {
	if imageBase64 == "" {
		return "", fmt.Errorf("image is empty")
	}
	return o.complete(ctx, chatRequest{
		Model: o.cfg.VisionModel,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: describePrompt},
				{Type: "image_url", ImageURL: &imageURL{URL: "data:image/jpeg;base64," + imageBase64}},
			},
		}},
		MaxTokens: 100,
	})
}

// Embed embeds a single text.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts in one request, preserving input order.
func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	var resp embeddingResponse
	if err := o.post(ctx, "/embeddings", embeddingRequest{Model: o.cfg.EmbeddingModel, Input: texts}, &resp); err != nil {
		return nil, err
	}
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for i, d := range resp.Data {
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding returned for input %d", i)
		}
		out[i] = d.Embedding
	}
	return out, nil
}

// Intent classifies text with a zero-temperature completion.
func (o *OpenAI) Intent(ctx context.Context, text string) (Intent, error) {
	zero := 0.0
	reply, err := o.complete(ctx, chatRequest{
		Model: o.cfg.ChatModel,
		Messages: []chatMessage{
			{Role: "system", Content: intentPrompt},
			{Role: "user", Content: text},
		},
		Temperature: &zero,
	})
	if err != nil {
		return IntentSearch, err
	}
	return ParseIntent(reply), nil
}

// Chat returns a short assistant reply.
func (o *OpenAI) Chat(ctx context.Context, text string) (string, error) {
	return o.complete(ctx, chatRequest{
		Model: o.cfg.ChatModel,
		Messages: []chatMessage{
			{Role: "system", Content: chatPrompt},
			{Role: "user", Content: text},
		},
	})
}

// Dimensions returns the embedding width of the configured model.
func (o *OpenAI) Dimensions() int {
	return o.dims
}

// Close releases idle connections.
func (o *OpenAI) Close() error {
	o.client.CloseIdleConnections()
	return nil
}
