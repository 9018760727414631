package language

import (
	"context"
	"math"
	"math/rand"

	"github.com/viant/vec/search"
)

const (
	projectionSeed   = 42
	powerIterations  = 200
	kmeansIterations = 100
)

// Projection is the 2-D position of one vector and the cluster it falls in.
type Projection struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Cluster int     `json:"cluster"`
}

// Project reduces vectors to two principal components of their unit
// directions and groups the points with k-means, using min(nClusters, n)
// clusters. Fewer than two vectors produce no projection. The output is
// deterministic for a given input.
func Project(ctx context.Context, vectors [][]float32, nClusters int) ([]Projection, error) {
	n := len(vectors)
	if n < 2 {
		return []Projection{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows := centeredUnitRows(vectors)
	rng := rand.New(rand.NewSource(projectionSeed))
	pc1 := principalComponent(rows, nil, rng)
	pc2 := principalComponent(rows, pc1, rng)

	points := make([][]float32, n)
	out := make([]Projection, n)
	for i, row := range rows {
		out[i].X = dot(row, pc1)
		out[i].Y = dot(row, pc2)
		points[i] = []float32{float32(out[i].X), float32(out[i].Y)}
	}

	k := min(max(nClusters, 1), n)
	for i, c := range kmeans(points, k, rng) {
		out[i].Cluster = c
	}
	return out, nil
}

func centeredUnitRows(vectors [][]float32) [][]float64 {
	dim := 0
	for _, v := range vectors {
		dim = max(dim, len(v))
	}
	rows := make([][]float64, len(vectors))
	mean := make([]float64, dim)
	for i, v := range vectors {
		row := make([]float64, dim)
		if mag := search.Float32s(v).Magnitude(); mag > 0 {
			for j, f := range v {
				row[j] = float64(f / mag)
			}
		}
		for j := range row {
			mean[j] += row[j]
		}
		rows[i] = row
	}
	for j := range mean {
		mean[j] /= float64(len(rows))
	}
	for _, row := range rows {
		for j := range row {
			row[j] -= mean[j]
		}
	}
	return rows
}

// principalComponent finds the dominant eigenvector of XᵀX by power
// iteration, kept orthogonal to prev when given. A zero vector is returned
// when the remaining variance is zero.
func principalComponent(rows [][]float64, prev []float64, rng *rand.Rand) []float64 {
	dim := len(rows[0])
	v := make([]float64, dim)
	for j := range v {
		v[j] = rng.Float64() - 0.5
	}
	if !orthonormalize(v, prev) {
		return make([]float64, dim)
	}

	proj := make([]float64, len(rows))
	for iter := 0; iter < powerIterations; iter++ {
		for i, row := range rows {
			proj[i] = dot(row, v)
		}
		next := make([]float64, dim)
		for i, row := range rows {
			for j := range row {
				next[j] += proj[i] * row[j]
			}
		}
		if !orthonormalize(next, prev) {
			return make([]float64, dim)
		}
		delta := 0.0
		for j := range v {
			delta += math.Abs(next[j] - v[j])
		}
		v = next
		if delta < 1e-12 {
			break
		}
	}

	// fix the sign so the largest coordinate is positive
	largest := 0
	for j := range v {
		if math.Abs(v[j]) > math.Abs(v[largest]) {
			largest = j
		}
	}
	if v[largest] < 0 {
		for j := range v {
			v[j] = -v[j]
		}
	}
	return v
}

// orthonormalize removes the prev component from v and scales it to unit
// length. It reports false when nothing is left.
func orthonormalize(v, prev []float64) bool {
	if prev != nil {
		d := dot(v, prev)
		for j := range v {
			v[j] -= d * prev[j]
		}
	}
	norm := math.Sqrt(dot(v, v))
	if norm < 1e-12 {
		return false
	}
	for j := range v {
		v[j] /= norm
	}
	return true
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// kmeans clusters points into k groups with k-means++ seeding and returns
// the cluster index of every point.
func kmeans(points [][]float32, k int, rng *rand.Rand) []int {
	centers := seedCenters(points, k, rng)
	assign := make([]int, len(points))
	for i := range assign {
		assign[i] = -1
	}

	for iter := 0; iter < kmeansIterations; iter++ {
		changed := false
		for i, p := range points {
			best := nearest(p, centers)
			if best != assign[i] {
				assign[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}

		sums := make([][2]float64, k)
		counts := make([]int, k)
		for i, p := range points {
			c := assign[i]
			sums[c][0] += float64(p[0])
			sums[c][1] += float64(p[1])
			counts[c]++
		}
		for c := range centers {
			if counts[c] == 0 {
				continue
			}
			centers[c] = []float32{
				float32(sums[c][0] / float64(counts[c])),
				float32(sums[c][1] / float64(counts[c])),
			}
		}
	}
	return assign
}

func seedCenters(points [][]float32, k int, rng *rand.Rand) [][]float32 {
	chosen := make([]bool, len(points))
	first := rng.Intn(len(points))
	chosen[first] = true
	centers := [][]float32{points[first]}

	weights := make([]float64, len(points))
	for len(centers) < k {
		var total float64
		for i, p := range points {
			d := float64(search.Float32s(p).EuclideanDistance(centers[nearest(p, centers)]))
			weights[i] = d * d
			total += weights[i]
		}

		next := -1
		if total > 0 {
			target := rng.Float64() * total
			for i, w := range weights {
				target -= w
				if target < 0 && !chosen[i] {
					next = i
					break
				}
			}
		}
		if next < 0 {
			// all remaining points coincide with a center
			for i := range points {
				if !chosen[i] {
					next = i
					break
				}
			}
		}
		chosen[next] = true
		centers = append(centers, points[next])
	}
	return centers
}

func nearest(p []float32, centers [][]float32) int {
	best, bestDist := 0, float32(math.MaxFloat32)
	for c, center := range centers {
		if d := search.Float32s(p).EuclideanDistance(center); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}
