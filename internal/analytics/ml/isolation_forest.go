// Package ml implements the isolation-forest ensemble used to rank devices by
// anomalousness. It is a from-scratch implementation rather than a wrapper
// around a library detector, so scoring semantics, determinism, and
// parallelism are fully under our control.
package ml

import (
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"
)

// eulerMascheroni is used in the harmonic-number approximation H(i) = ln(i) + γ.
const eulerMascheroni = 0.5772156649

// isolationTree is a single randomized partitioning tree.
type isolationTree struct {
	splitFeature int
	splitValue   float64
	left         *isolationTree
	right        *isolationTree
	size         int
	isLeaf       bool
}

// Params configures a Forest. Zero values select the defaults documented on
// each field.
type Params struct {
	// Trees is the ensemble size T. Default 100.
	Trees int
	// SubSampleSize is the per-tree sub-sample size ψ. Default min(256, N);
	// values above N are clamped to N since sampling is without replacement.
	SubSampleSize int
	// Seed drives all random draws. Tree i uses an independent generator
	// seeded Seed+i, so results are reproducible regardless of how tree
	// construction is scheduled across workers.
	Seed int64
	// Workers bounds the number of goroutines building trees concurrently.
	// Default runtime.NumCPU(). Worker count never affects the output.
	Workers int
}

// DefaultSeed keeps repeated runs comparable when no seed is configured.
const DefaultSeed = 42

func (p Params) withDefaults() Params {
	if p.Trees == 0 {
		p.Trees = 100
	}
	if p.Workers <= 0 {
		p.Workers = runtime.NumCPU()
	}
	return p
}

// Forest is an ensemble of isolation trees. Build it with Fit, then score
// points with Score or DecisionFunction. A Forest is immutable after Fit and
// safe for concurrent scoring.
type Forest struct {
	trees       []*isolationTree
	params      Params
	subSample   int // effective ψ after clamping
	heightLimit int // ceil(log2(ψ))
	fitted      bool
}

// NewForest creates an unfitted forest with the given parameters.
func NewForest(p Params) *Forest {
	return &Forest{params: p.withDefaults()}
}

// Fit builds the ensemble over the given points. Each point is a feature
// vector; all points must share the same dimensionality. Trees are built in
// parallel across the configured worker pool; the per-tree seeding makes the
// result identical for any worker count.
func (f *Forest) Fit(points [][]float64) {
	n := len(points)
	if n == 0 {
		f.trees = nil
		f.fitted = false
		return
	}

	psi := f.params.SubSampleSize
	if psi <= 0 {
		psi = 256
	}
	if psi > n {
		psi = n
	}
	f.subSample = psi
	f.heightLimit = int(math.Ceil(math.Log2(float64(psi))))
	if f.heightLimit < 1 {
		f.heightLimit = 1
	}

	f.trees = make([]*isolationTree, f.params.Trees)

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < f.params.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				rng := rand.New(rand.NewSource(f.params.Seed + int64(i)))
				sample := subSample(points, psi, rng)
				f.trees[i] = buildTree(sample, 0, f.heightLimit, rng)
			}
		}()
	}
	for i := 0; i < f.params.Trees; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	f.fitted = true
}

// Score returns the isolation score s(x) = 2^(-E[h(x)]/c(ψ)) for one point.
// Scores close to 1 indicate easy isolation (anomalous); scores at or below
// 0.5 indicate normal points. Returns 0.5 if the forest is not fitted.
func (f *Forest) Score(point []float64) float64 {
	if !f.fitted || len(f.trees) == 0 {
		return 0.5
	}

	total := 0.0
	for _, tree := range f.trees {
		total += pathLength(tree, point, 0)
	}
	avg := total / float64(len(f.trees))

	c := averagePathLength(f.subSample)
	if c <= 0 {
		return 0.5
	}
	return math.Pow(2, -avg/c)
}

// DecisionFunction scores every point and returns raw scores in the
// decision-function orientation: raw = -s(x), so lower (more negative) means
// more anomalous. This is the convention consumed by the score normalizer.
func (f *Forest) DecisionFunction(points [][]float64) []float64 {
	raw := make([]float64, len(points))
	for i, p := range points {
		raw[i] = -f.Score(p)
	}
	return raw
}

// Classify marks the top contamination fraction of points as anomalous, given
// raw scores in decision-function orientation (lower = more anomalous). The
// cutoff count is round(contamination × N). Ties at the boundary are broken by
// input position: the first-seen point wins inclusion.
func Classify(raw []float64, contamination float64) []bool {
	n := len(raw)
	labels := make([]bool, n)
	if n == 0 {
		return labels
	}

	k := int(math.Round(contamination * float64(n)))
	if k <= 0 {
		return labels
	}
	if k > n {
		k = n
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	// Stable sort keeps ties in input order.
	sort.SliceStable(order, func(a, b int) bool {
		return raw[order[a]] < raw[order[b]]
	})
	for _, idx := range order[:k] {
		labels[idx] = true
	}
	return labels
}

// subSample draws psi points without replacement using a Fisher-Yates shuffle
// over indices, leaving the input untouched.
func subSample(points [][]float64, psi int, rng *rand.Rand) [][]float64 {
	indices := make([]int, len(points))
	for i := range indices {
		indices[i] = i
	}
	for i := len(indices) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		indices[i], indices[j] = indices[j], indices[i]
	}

	sample := make([][]float64, psi)
	for i := 0; i < psi; i++ {
		sample[i] = points[indices[i]]
	}
	return sample
}

// buildTree recursively partitions the sample by a random feature and a
// uniform split within that feature's observed range, until a node holds a
// single point or the height limit is reached.
func buildTree(data [][]float64, depth, heightLimit int, rng *rand.Rand) *isolationTree {
	if len(data) <= 1 || depth >= heightLimit || allIdentical(data) {
		return &isolationTree{size: len(data), isLeaf: true}
	}

	feature := rng.Intn(len(data[0]))
	minVal, maxVal := featureRange(data, feature)
	splitValue := minVal + rng.Float64()*(maxVal-minVal)

	var left, right [][]float64
	for _, point := range data {
		if point[feature] < splitValue {
			left = append(left, point)
		} else {
			right = append(right, point)
		}
	}

	// A split on a constant feature leaves one side empty; terminate.
	if len(left) == 0 || len(right) == 0 {
		return &isolationTree{size: len(data), isLeaf: true}
	}

	return &isolationTree{
		splitFeature: feature,
		splitValue:   splitValue,
		left:         buildTree(left, depth+1, heightLimit, rng),
		right:        buildTree(right, depth+1, heightLimit, rng),
		size:         len(data),
	}
}

// pathLength walks a point down a tree. Leaves holding more than one point
// were terminated early, so the expected extra depth c(size) is added.
func pathLength(tree *isolationTree, point []float64, depth int) float64 {
	if tree.isLeaf {
		return float64(depth) + averagePathLength(tree.size)
	}
	if point[tree.splitFeature] < tree.splitValue {
		return pathLength(tree.left, point, depth+1)
	}
	return pathLength(tree.right, point, depth+1)
}

// averagePathLength is c(n), the expected path length of an unsuccessful
// search in a binary search tree over n points:
//
//	c(n) = 2H(n-1) - 2(n-1)/n, with H(i) ≈ ln(i) + γ
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	h := math.Log(float64(n-1)) + eulerMascheroni
	return 2*h - 2*float64(n-1)/float64(n)
}

func allIdentical(data [][]float64) bool {
	first := data[0]
	for i := 1; i < len(data); i++ {
		for j := range first {
			if math.Abs(data[i][j]-first[j]) > 1e-10 {
				return false
			}
		}
	}
	return true
}

func featureRange(data [][]float64, feature int) (float64, float64) {
	minVal := data[0][feature]
	maxVal := data[0][feature]
	for _, point := range data {
		v := point[feature]
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	return minVal, maxVal
}
