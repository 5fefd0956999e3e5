package provider

import (
	"fmt"

	"github.com/hyperjump/vidrag/internal/config"
)

// New creates the provider named in cfg, wrapped in an embedding cache when
// cfg.CacheSize is positive. dimensions sizes the mock provider.
func New(cfg config.ProviderConfig, dimensions int) (Provider, error) {
	var p Provider
	switch cfg.Name {
	case "openai", "":
		o, err := NewOpenAI(OpenAIConfig{
			APIKey:         cfg.APIKey,
			BaseURL:        cfg.BaseURL,
			ChatModel:      cfg.ChatModel,
			VisionModel:    cfg.VisionModel,
			EmbeddingModel: cfg.EmbeddingModel,
			Timeout:        cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		p = o
	case "mock":
		p = NewMock(dimensions)
	default:
		return nil, fmt.Errorf("unknown provider: %s (supported: openai, mock)", cfg.Name)
	}
	if dimensions > 0 && p.Dimensions() != dimensions {
		_ = p.Close()
		return nil, fmt.Errorf("provider embeds %d dimensions but the store expects %d", p.Dimensions(), dimensions)
	}
	if cfg.CacheSize > 0 {
		return NewCached(p, cfg.CacheSize), nil
	}
	return p, nil
}
