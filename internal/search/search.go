// Package search answers "most similar messages in this chat" queries.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"gwi.com/chatvec/internal/errortypes"
	"gwi.com/chatvec/internal/store"
	"gwi.com/chatvec/internal/vector"
)

const (
	BackendBruteForce = "bruteforce"
	BackendVec        = "vec"
)

// Searcher ranks the messages of one chat by cosine similarity to a query.
// Results are ordered by similarity descending, ties broken by ascending
// message id. A k of zero or less, or an empty chat, yields no results.
type Searcher interface {
	SearchByVector(ctx context.Context, chatID string, query []float32, k int) ([]store.SearchResult, error)
	// SearchByMessageID uses the stored embedding of messageID as the query
	// and never returns messageID itself.
	SearchByMessageID(ctx context.Context, chatID string, messageID int64, k int) ([]store.SearchResult, error)
}

// Source is the read side of the store used by the brute-force backend.
type Source interface {
	Dimension() int
	GetEmbedding(ctx context.Context, messageID int64) ([]float32, error)
	ChatEmbeddings(ctx context.Context, chatID string, fn func(store.EmbeddedMessage) error) error
}

// IndexSource adds the vec0 nearest-neighbour query.
type IndexSource interface {
	Source
	HasVectorIndex() bool
	NearestByIndex(ctx context.Context, chatID string, query []float32, k int) ([]store.EmbeddedMessage, error)
	ZeroNormEmbeddings(ctx context.Context, chatID string) ([]store.EmbeddedMessage, error)
}

// New returns the searcher for backend. The vec backend falls back to brute
// force when src has no vector index.
func New(backend string, src IndexSource, logger *slog.Logger) (Searcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch backend {
	case "", BackendBruteForce:
		return NewBruteForce(src), nil
	case BackendVec:
		if !src.HasVectorIndex() {
			logger.Warn("sqlite-vec not available, using brute-force search")
			return NewBruteForce(src), nil
		}
		return NewIndexed(src), nil
	default:
		return nil, errortypes.ConfigError(fmt.Errorf("unknown search backend %q", backend), "invalid search backend")
	}
}

// noExclude is never a valid message id.
const noExclude int64 = 0

type scored struct {
	msg        store.EmbeddedMessage
	similarity float64
}

// rank sorts candidates and converts the best k into results.
func rank(candidates []scored, k int) []store.SearchResult {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].similarity != candidates[j].similarity {
			return candidates[i].similarity > candidates[j].similarity
		}
		return candidates[i].msg.ID < candidates[j].msg.ID
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	results := make([]store.SearchResult, len(candidates))
	for i, c := range candidates {
		results[i] = store.SearchResult{
			ID:         c.msg.ID,
			Timestamp:  c.msg.Timestamp,
			Sender:     c.msg.Sender,
			Text:       c.msg.Text,
			Similarity: c.similarity,
			Distance:   1 - c.similarity,
		}
	}
	return results
}

func checkQuery(src Source, query []float32) error {
	if len(query) != src.Dimension() {
		return errortypes.ValidationError(
			fmt.Errorf("query has %d dimensions, want %d", len(query), src.Dimension()),
			"invalid query embedding",
		)
	}
	return nil
}

// queryFor loads the embedding of messageID. A missing embedding is not an
// error; the caller returns an empty result.
func queryFor(ctx context.Context, src Source, messageID int64) ([]float32, bool, error) {
	query, err := src.GetEmbedding(ctx, messageID)
	if errortypes.IsNotFoundError(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return query, true, nil
}

func score(query []float32, em store.EmbeddedMessage) (scored, error) {
	sim, err := vector.CosineSimilarity(query, em.Embedding)
	if err != nil {
		return scored{}, err
	}
	return scored{msg: em, similarity: sim}, nil
}
