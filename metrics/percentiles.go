package metrics

import "sort"

// CalculatePercentiles computes the requested percentiles (0..100) over the
// given values using the nearest-rank method. It is a pure function: the
// input slice is not modified. An empty input yields an empty result.
func CalculatePercentiles(values []float64, percentiles []float64) map[float64]float64 {
	out := make(map[float64]float64, len(percentiles))
	if len(values) == 0 {
		return out
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	for _, p := range percentiles {
		out[p] = percentileOf(sorted, p)
	}
	return out
}

func percentileOf(sorted []float64, p float64) float64 {
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := int(p/100*float64(len(sorted)) + 0.5)
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
