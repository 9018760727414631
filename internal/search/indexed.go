package search

import (
	"context"
	"math"

	"gwi.com/chatvec/internal/store"
	"gwi.com/chatvec/internal/vector"
)

// candidateSlack is how many extra neighbours are requested from the index
// on the first round so that ties at the cut-off can be resolved by message
// id without a second round.
const candidateSlack = 8

// tieEpsilon bounds the disagreement between the float32 distance vec0 sorts
// by and the float64 similarity results are ranked by.
const tieEpsilon = 1e-4

// Indexed asks the vec0 index for candidates and re-ranks them with the
// exact float64 cosine used by BruteForce. The request is widened until the
// weakest neighbour returned is strictly below the k-th result, so rows the
// index left out can not tie with or beat anything kept. Zero-norm rows are
// not in the index and join the candidates with similarity 0.
type Indexed struct {
	src      IndexSource
	fallback *BruteForce
}

func NewIndexed(src IndexSource) *Indexed {
	return &Indexed{src: src, fallback: NewBruteForce(src)}
}

func (x *Indexed) SearchByVector(ctx context.Context, chatID string, query []float32, k int) ([]store.SearchResult, error) {
	if k <= 0 {
		return []store.SearchResult{}, nil
	}
	if err := checkQuery(x.src, query); err != nil {
		return nil, err
	}
	return x.search(ctx, chatID, query, k, noExclude)
}

func (x *Indexed) SearchByMessageID(ctx context.Context, chatID string, messageID int64, k int) ([]store.SearchResult, error) {
	if k <= 0 {
		return []store.SearchResult{}, nil
	}
	query, ok, err := queryFor(ctx, x.src, messageID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []store.SearchResult{}, nil
	}
	return x.search(ctx, chatID, query, k, messageID)
}

func (x *Indexed) search(ctx context.Context, chatID string, query []float32, k int, exclude int64) ([]store.SearchResult, error) {
	// cosine distance is undefined for a zero query inside the index
	if vector.Norm(query) == 0 {
		return x.fallback.search(ctx, chatID, query, k, exclude)
	}

	zeros, err := x.src.ZeroNormEmbeddings(ctx, chatID)
	if err != nil {
		return nil, err
	}
	base := make([]scored, 0, len(zeros))
	for _, em := range zeros {
		if em.ID != exclude {
			base = append(base, scored{msg: em})
		}
	}

	want := k + candidateSlack
	if exclude != noExclude {
		want++
	}
	for {
		if want > store.MaxKNN {
			return x.fallback.search(ctx, chatID, query, k, exclude)
		}
		neighbours, err := x.src.NearestByIndex(ctx, chatID, query, want)
		if err != nil {
			return nil, err
		}

		candidates := make([]scored, len(base), len(base)+len(neighbours))
		copy(candidates, base)
		floor := math.Inf(1)
		for _, em := range neighbours {
			if em.ID == exclude {
				continue
			}
			c, err := score(query, em)
			if err != nil {
				return nil, err
			}
			floor = math.Min(floor, c.similarity)
			candidates = append(candidates, c)
		}
		results := rank(candidates, k)

		if len(neighbours) < want {
			return results, nil
		}
		if len(results) == k && floor < results[k-1].Similarity-tieEpsilon {
			return results, nil
		}
		want *= 2
	}
}
