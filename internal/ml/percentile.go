package ml

import (
	"math"
	"sort"
)

// Percentile returns the p-th percentile of values with linear interpolation
// between closest ranks. p is clamped to [0, 100]; empty input yields NaN.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	p = math.Max(0, math.Min(100, p))
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
