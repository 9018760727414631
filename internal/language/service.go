package language

import (
	"context"
	"io"
)

// Model is the language model contract used by the chat service.
type Model interface {
	// Embed returns one vector per text in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Sentiment returns one score in [-1, 1] per text.
	Sentiment(ctx context.Context, texts []string) ([]float64, error)
	// Project returns one projection per vector, or none for fewer than
	// two vectors.
	Project(ctx context.Context, vectors [][]float32, nClusters int) ([]Projection, error)
}

// Service implements Model on top of an Embedder, the sentiment lexicon and
// the PCA/k-means projection.
type Service struct {
	embedder Embedder
}

func NewService(embedder Embedder) *Service {
	return &Service{embedder: embedder}
}

func (s *Service) Dimension() int { return s.embedder.Dimension() }

func (s *Service) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	return s.embedder.Embed(ctx, texts)
}

func (s *Service) Sentiment(ctx context.Context, texts []string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scores := make([]float64, len(texts))
	for i, t := range texts {
		scores[i] = Sentiment(t)
	}
	return scores, nil
}

func (s *Service) Project(ctx context.Context, vectors [][]float32, nClusters int) ([]Projection, error) {
	return Project(ctx, vectors, nClusters)
}

// Close releases the embedder's client, if it holds one.
func (s *Service) Close() error {
	if c, ok := s.embedder.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
