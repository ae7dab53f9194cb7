package ensemble

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test DTW distance of a series to itself is zero
func TestDTWDistance_Identical(t *testing.T) {
	xs := []float64{1, 4, 2, 8, 5}
	assert.InDelta(t, 0, dtwDistance(xs, xs), 1e-12)
}

// Test DTW absorbs a time shift that pointwise distance would punish
func TestDTWDistance_ShiftTolerance(t *testing.T) {
	a := []float64{0, 10, 0, 0}
	b := []float64{0, 0, 10, 0}

	var pointwise float64
	for i := range a {
		pointwise += math.Abs(a[i] - b[i])
	}
	require.InDelta(t, 20, pointwise, 1e-12)

	// Warping aligns the two peaks, so the same shape one step later stays
	// close to the consensus.
	assert.InDelta(t, 0, dtwDistance(a, b), 1e-12)
}

// Test a genuinely different shape stays far even under warping
func TestDTWDistance_DifferentShape(t *testing.T) {
	flat := []float64{100, 100, 100, 100}
	swing := []float64{40, 160, 40, 160}

	assert.Greater(t, dtwDistance(flat, swing), 200.0)
}

// Test empty inputs are infinitely far apart
func TestDTWDistance_Empty(t *testing.T) {
	assert.True(t, math.IsInf(dtwDistance(nil, []float64{1}), 1))
	assert.True(t, math.IsInf(dtwDistance([]float64{1}, nil), 1))
}

// Test outlier detection flags only the forecaster far from the cluster
func TestDetectOutliers_Sensitivity(t *testing.T) {
	n := 8
	cluster := map[string][]float64{
		"fc-a": make([]float64, n),
		"fc-b": make([]float64, n),
		"fc-c": make([]float64, n),
		"fc-d": make([]float64, n),
		"fc-e": make([]float64, n),
	}
	offsets := map[string]float64{"fc-a": 0, "fc-b": 0.5, "fc-c": -0.5, "fc-d": 1, "fc-e": -1}
	for id, off := range offsets {
		for i := range cluster[id] {
			cluster[id][i] = 100 + off
		}
	}
	adversarial := make([]float64, n)
	for i := range adversarial {
		if i%2 == 0 {
			adversarial[i] = 40
		} else {
			adversarial[i] = 160
		}
	}

	all := map[string][]float64{"fc-x": adversarial}
	ids := []string{"fc-a", "fc-b", "fc-c", "fc-d", "fc-e", "fc-x"}
	for id, vs := range cluster {
		all[id] = vs
	}

	// Consensus median per timestamp over everyone, then DTW per forecaster,
	// the same way the weighted strategy screens candidates.
	consensus := make([]float64, n)
	column := make([]float64, len(ids))
	for i := 0; i < n; i++ {
		for j, id := range ids {
			column[j] = all[id][i]
		}
		consensus[i] = medianOf(column)
	}
	distances := make(map[string]float64, len(ids))
	for _, id := range ids {
		distances[id] = dtwDistance(all[id], consensus)
	}

	outliers := detectOutliers(distances, 3.0)
	assert.Equal(t, map[string]bool{"fc-x": true}, outliers)
}

// Test a tight cluster with zero spread never flags itself
func TestDetectOutliers_StrictThreshold(t *testing.T) {
	distances := map[string]float64{"fc-a": 5, "fc-b": 5, "fc-c": 5}
	assert.Empty(t, detectOutliers(distances, 3.0))

	// Factor zero degenerates to a plain median cut, still strict.
	distances = map[string]float64{"fc-a": 1, "fc-b": 2, "fc-c": 3}
	assert.Equal(t, map[string]bool{"fc-c": true}, detectOutliers(distances, 0))
}

// Test empty input yields no outliers
func TestDetectOutliers_Empty(t *testing.T) {
	assert.Nil(t, detectOutliers(nil, 3.0))
	assert.Nil(t, detectOutliers(map[string]float64{}, 3.0))
}
