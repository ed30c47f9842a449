// Package score rescales raw detector output into a bounded, comparable range.
package score

// Normalize maps raw scores (decision-function orientation: lower = more
// anomalous) to [0,1] via min-max scaling of the negated values, so the result
// increases monotonically with anomalousness:
//
//	normalized = (-raw - min(-raw)) / (max(-raw) - min(-raw))
//
// A degenerate input where every raw score is equal maps every device to 0
// rather than dividing by zero.
func Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(raw))
	if len(raw) == 0 {
		return normalized
	}

	minNeg, maxNeg := -raw[0], -raw[0]
	for _, r := range raw[1:] {
		neg := -r
		if neg < minNeg {
			minNeg = neg
		}
		if neg > maxNeg {
			maxNeg = neg
		}
	}

	spread := maxNeg - minNeg
	if spread == 0 {
		return normalized
	}

	for i, r := range raw {
		normalized[i] = (-r - minNeg) / spread
	}
	return normalized
}
