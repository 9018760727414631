package language

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"gwi.com/chatvec/internal/errortypes"
)

const (
	defaultGeminiModel = "text-embedding-004"
	// the API rejects larger batches
	geminiBatchSize = 100
)

// GeminiEmbedder embeds texts with the Gemini embedding API.
type GeminiEmbedder struct {
	client *genai.Client
	model  *genai.EmbeddingModel
	dim    int
}

func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dim int) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, errortypes.ConfigError(errors.New("GEMINI_API_KEY is empty"), "gemini embedder needs an API key")
	}
	if model == "" {
		model = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errortypes.ExternalError(err, "failed to create GenAI client")
	}
	em := client.EmbeddingModel(model)
	em.TaskType = genai.TaskTypeSemanticSimilarity
	return &GeminiEmbedder{client: client, model: em, dim: dim}, nil
}

func (g *GeminiEmbedder) Dimension() int { return g.dim }

func (g *GeminiEmbedder) Close() error {
	return g.client.Close()
}

func (g *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += geminiBatchSize {
		end := min(start+geminiBatchSize, len(texts))

		batch := g.model.NewBatch()
		for _, t := range texts[start:end] {
			batch.AddContent(genai.Text(t))
		}
		res, err := g.model.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, errortypes.ExternalError(err, "gemini embedding request failed").WithField("offset", start)
		}
		if len(res.Embeddings) != end-start {
			return nil, errortypes.ExternalError(
				fmt.Errorf("got %d embeddings for %d texts", len(res.Embeddings), end-start),
				"incomplete gemini embedding response",
			)
		}
		for _, e := range res.Embeddings {
			if e == nil {
				return nil, errortypes.ExternalError(errors.New("nil embedding"), "incomplete gemini embedding response")
			}
			out = append(out, e.Values)
		}
	}
	if err := checkDimensions(out, g.dim); err != nil {
		return nil, err
	}
	return out, nil
}
