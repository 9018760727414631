package vector

import (
	"fmt"
	"math"

	"gwi.com/chatvec/internal/errortypes"
)

// Norm returns the L2 norm of v computed in float64.
func Norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// CosineSimilarity computes dot(a,b)/(|a||b|) in float64. It is 0 when either
// vector has zero magnitude.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, errortypes.ValidationError(
			fmt.Errorf("dimension mismatch: %d vs %d", len(a), len(b)),
			"cannot compare embeddings",
		)
	}
	var dot, na2, nb2 float64
	for i := range a {
		va := float64(a[i])
		vb := float64(b[i])
		dot += va * vb
		na2 += va * va
		nb2 += vb * vb
	}
	if na2 == 0 || nb2 == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na2) * math.Sqrt(nb2)), nil
}

// CosineDistance is 1 - CosineSimilarity.
func CosineDistance(a, b []float32) (float64, error) {
	sim, err := CosineSimilarity(a, b)
	if err != nil {
		return 0, err
	}
	return 1 - sim, nil
}
