package embed

import (
	"context"
	"fmt"

	"github.com/bwl/forest/internal/config"
)

// New creates an embedder from configuration, wrapped with the LRU cache.
// Provider selection is by string at process start; there is no runtime
// fallback between providers, and a misconfigured provider fails loudly.
func New(ctx context.Context, cfg config.EmbeddingsConfig) (Embedder, error) {
	var (
		inner Embedder
		err   error
	)

	switch cfg.Provider {
	case "ollama":
		inner, err = NewOllamaEmbedder(ctx, OllamaConfig{
			Host:       cfg.OllamaHost,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
		})
	case "openai":
		inner, err = NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.Model,
			KeyEnv:     cfg.OpenAIKeyEnv,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
		})
	case "static":
		inner = NewStaticEmbedder(cfg.Dimensions)
	case "none":
		inner = NewNoneEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
