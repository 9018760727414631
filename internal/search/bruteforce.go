package search

import (
	"context"

	"gwi.com/chatvec/internal/store"
)

// BruteForce scores every embedding of the chat. It is the reference the
// indexed backend is checked against.
type BruteForce struct {
	src Source
}

func NewBruteForce(src Source) *BruteForce {
	return &BruteForce{src: src}
}

func (b *BruteForce) SearchByVector(ctx context.Context, chatID string, query []float32, k int) ([]store.SearchResult, error) {
	if k <= 0 {
		return []store.SearchResult{}, nil
	}
	if err := checkQuery(b.src, query); err != nil {
		return nil, err
	}
	return b.search(ctx, chatID, query, k, noExclude)
}

func (b *BruteForce) SearchByMessageID(ctx context.Context, chatID string, messageID int64, k int) ([]store.SearchResult, error) {
	if k <= 0 {
		return []store.SearchResult{}, nil
	}
	query, ok, err := queryFor(ctx, b.src, messageID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []store.SearchResult{}, nil
	}
	return b.search(ctx, chatID, query, k, messageID)
}

func (b *BruteForce) search(ctx context.Context, chatID string, query []float32, k int, exclude int64) ([]store.SearchResult, error) {
	var candidates []scored
	err := b.src.ChatEmbeddings(ctx, chatID, func(em store.EmbeddedMessage) error {
		if em.ID == exclude {
			return nil
		}
		c, err := score(query, em)
		if err != nil {
			return err
		}
		candidates = append(candidates, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rank(candidates, k), nil
}
