// Package changepoint segments a device's scan-ordered discrepancy series into
// regions of stable behavior using PELT (Pruned Exact Linear Time) with an L2
// cost. The detected change points are decorative: they feed the plot-artifact
// exporter and never influence the anomaly classification.
package changepoint

import "errors"

// DefaultPenalty matches the segmentation penalty the fleet operators tuned
// for discrepancy series; larger values yield fewer change points.
const DefaultPenalty = 1000.0

// ErrSeriesTooShort is returned when the signal cannot hold even one segment
// of the minimum length.
var ErrSeriesTooShort = errors.New("changepoint: series shorter than minimum segment length")

// Detector finds change points in a one-dimensional signal.
type Detector struct {
	// Penalty is the per-change-point cost. Default DefaultPenalty.
	Penalty float64
	// MinSegmentLength is the smallest allowed segment. Default 2.
	MinSegmentLength int
}

// NewDetector returns a Detector with default penalty and segment length.
func NewDetector() *Detector {
	return &Detector{Penalty: DefaultPenalty, MinSegmentLength: 2}
}

// Detect returns the sorted end indices of each detected segment, excluding
// the final boundary at len(signal). An empty result means the series is one
// homogeneous segment.
func (d *Detector) Detect(signal []float64) ([]int, error) {
	minSeg := d.MinSegmentLength
	if minSeg < 1 {
		minSeg = 1
	}
	pen := d.Penalty
	if pen <= 0 {
		pen = DefaultPenalty
	}

	n := len(signal)
	if n < minSeg {
		return nil, ErrSeriesTooShort
	}

	// Prefix sums for O(1) L2 segment cost:
	// cost(s, e) = sum(x²) - (sum(x))²/(e-s) over [s, e).
	sum := make([]float64, n+1)
	sumSq := make([]float64, n+1)
	for i, v := range signal {
		sum[i+1] = sum[i] + v
		sumSq[i+1] = sumSq[i] + v*v
	}
	segCost := func(s, e int) float64 {
		length := float64(e - s)
		ds := sum[e] - sum[s]
		return sumSq[e] - sumSq[s] - ds*ds/length
	}

	// F[t] is the optimal cost of segmenting [0, t); prev[t] the last split.
	const inf = 1e300
	F := make([]float64, n+1)
	prev := make([]int, n+1)
	for i := range F {
		F[i] = inf
	}
	F[0] = -pen

	// Candidate split positions, pruned as PELT proceeds.
	candidates := []int{0}

	for t := minSeg; t <= n; t++ {
		bestCost := inf
		bestSplit := 0
		for _, s := range candidates {
			if t-s < minSeg {
				continue
			}
			c := F[s] + segCost(s, t) + pen
			if c < bestCost {
				bestCost = c
				bestSplit = s
			}
		}
		F[t] = bestCost
		prev[t] = bestSplit

		// Prune candidates that can never become optimal again.
		kept := candidates[:0]
		for _, s := range candidates {
			if t-s < minSeg || F[s]+segCost(s, t) <= F[t] {
				kept = append(kept, s)
			}
		}
		candidates = append(kept, t-minSeg+1)
	}

	// Backtrack to recover the segment boundaries.
	var bounds []int
	for t := n; t > 0; t = prev[t] {
		bounds = append(bounds, t)
	}
	// Reverse into ascending order and drop the final boundary at n.
	for i, j := 0, len(bounds)-1; i < j; i, j = i+1, j-1 {
		bounds[i], bounds[j] = bounds[j], bounds[i]
	}
	if len(bounds) > 0 && bounds[len(bounds)-1] == n {
		bounds = bounds[:len(bounds)-1]
	}
	return bounds, nil
}
