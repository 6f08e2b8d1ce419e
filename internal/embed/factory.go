package embed

import (
	"fmt"

	"github.com/codectx/codectx/internal/config"
	cerrors "github.com/codectx/codectx/internal/errors"
)

// New builds the embedder stack from configuration:
// provider → cache → retry/breaker. The returned embedder is what the
// indexer and executor consume.
func New(cfg config.EmbeddingsConfig) (Embedder, error) {
	var provider Embedder

	switch cfg.Provider {
	case "static":
		provider = NewStaticEmbedder()
	case "ollama":
		provider = NewOllamaEmbedder(OllamaConfig{
			Host:       cfg.Endpoint,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		})
	case "openai":
		var err error
		provider, err = NewOpenAIEmbedder(OpenAIConfig{
			APIKey:     cfg.APIKey,
			Endpoint:   cfg.Endpoint,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, cerrors.ConfigError(
			fmt.Sprintf("unknown embedding provider %q", cfg.Provider), nil)
	}

	cached := NewCachedEmbedder(provider, DefaultEmbeddingCacheSize)
	opts := []ResilientOption{}
	if cfg.Timeout > 0 {
		opts = append(opts, WithCallTimeout(cfg.Timeout))
	}
	return NewResilientEmbedder(cached, opts...), nil
}
