// Package language turns message texts into embeddings, sentiment scores
// and 2-D cluster projections.
package language

import (
	"context"
	"fmt"
	"time"

	"gwi.com/chatvec/internal/errortypes"
)

const (
	ProviderHash   = "hash"
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Embedder maps texts to fixed-length vectors, one per text in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// EmbedderOptions selects and configures an Embedder.
type EmbedderOptions struct {
	Provider  string
	Dimension int
	Model     string

	GeminiAPIKey string

	OpenAIBaseURL string
	OpenAIAPIKey  string
	Timeout       time.Duration
}

// NewEmbedder builds the embedder named by opts.Provider.
func NewEmbedder(ctx context.Context, opts EmbedderOptions) (Embedder, error) {
	switch opts.Provider {
	case "", ProviderHash:
		return NewHashEmbedder(opts.Dimension), nil
	case ProviderGemini:
		g, err := NewGeminiEmbedder(ctx, opts.GeminiAPIKey, opts.Model, opts.Dimension)
		if err != nil {
			return nil, err
		}
		return g, nil
	case ProviderOpenAI:
		return NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:   opts.OpenAIBaseURL,
			APIKey:    opts.OpenAIAPIKey,
			Model:     opts.Model,
			Dimension: opts.Dimension,
			Timeout:   opts.Timeout,
		}), nil
	default:
		return nil, errortypes.ConfigError(fmt.Errorf("unknown provider %q", opts.Provider), "invalid embedding provider")
	}
}

func checkDimensions(vectors [][]float32, want int) error {
	for i, v := range vectors {
		if len(v) != want {
			return errortypes.ExternalError(
				fmt.Errorf("embedding %d has %d dimensions, want %d", i, len(v), want),
				"unexpected embedding size",
			)
		}
	}
	return nil
}
