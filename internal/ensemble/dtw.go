package ensemble

import "math"

// dtwDistance computes the dynamic-time-warping distance between two series
// with absolute point cost. DTW aligns the series non-linearly in time, so a
// forecaster whose curve has the right shape slightly shifted stays close to
// the consensus, while one with a genuinely different shape drifts far away.
func dtwDistance(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return math.Inf(1)
	}

	// Two-row dynamic program over the cumulative cost matrix.
	prev := make([]float64, len(b))
	curr := make([]float64, len(b))

	prev[0] = math.Abs(a[0] - b[0])
	for j := 1; j < len(b); j++ {
		prev[j] = prev[j-1] + math.Abs(a[0]-b[j])
	}

	for i := 1; i < len(a); i++ {
		curr[0] = prev[0] + math.Abs(a[i]-b[0])
		for j := 1; j < len(b); j++ {
			cost := math.Abs(a[i] - b[j])
			curr[j] = cost + math.Min(prev[j], math.Min(prev[j-1], curr[j-1]))
		}
		prev, curr = curr, prev
	}

	return prev[len(b)-1]
}

// detectOutliers flags forecasters whose DTW distance to the consensus
// exceeds median + k*MAD of all distances. The comparison is strict, so a
// tight cluster with near-zero spread never flags itself. Exclusion applies
// to the current run only and is re-evaluated from scratch every time.
func detectOutliers(distances map[string]float64, k float64) map[string]bool {
	if len(distances) == 0 {
		return nil
	}

	ds := make([]float64, 0, len(distances))
	for _, d := range distances {
		ds = append(ds, d)
	}
	med := medianOf(ds)

	deviations := make([]float64, len(ds))
	for i, d := range ds {
		deviations[i] = math.Abs(d - med)
	}
	mad := medianOf(deviations)

	threshold := med + k*mad
	outliers := make(map[string]bool)
	for id, d := range distances {
		if d > threshold {
			outliers[id] = true
		}
	}
	return outliers
}
