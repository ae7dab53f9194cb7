package simulator

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/prismcast/prismcast-go/internal/dataset"
	"github.com/prismcast/prismcast-go/internal/models"
)

const (
	syntheticDays = 60
	syntheticSeed = 42
)

// syntheticStart is a DST-free stretch so local days stay 96 points.
var syntheticStart = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

// Synthetic builds a deterministic in-memory dataset for engine comparison
// runs: one wind resource over 60 days with 15 forecasters in three groups.
// Five track the target closely, five run consistently high, five run
// consistently low. The bias is asymmetric on purpose: a plain mean over all
// fifteen keeps a residual offset that skill weighting removes, so the
// groups separate strategies instead of cancelling each other out.
func Synthetic() *dataset.Dataset {
	points := syntheticDays * int(24*time.Hour/models.DefaultResolution)
	rng := rand.New(rand.NewSource(syntheticSeed))

	target := make([]float64, points)
	noise := 0.0
	for i := range target {
		day := float64(i) / 96.0
		level := 40 + 25*math.Sin(2*math.Pi*day/11)
		diurnal := 10 * math.Sin(2*math.Pi*float64(i%96)/96.0)
		noise = 0.9*noise + rng.NormFloat64()*3
		target[i] = clamp(level+diurnal+noise, 0, 100)
	}

	groups := []struct {
		prefix string
		count  int
		bias   float64
		sigma  float64
		spread float64
	}{
		{prefix: "skilled", count: 5, bias: 0, sigma: 3, spread: 6},
		{prefix: "high", count: 5, bias: 15, sigma: 8, spread: 10},
		{prefix: "low", count: 5, bias: -9, sigma: 8, spread: 10},
	}

	forecasts := make(map[string]map[models.Variable]models.Series)
	for _, g := range groups {
		for n := 1; n <= g.count; n++ {
			id := fmt.Sprintf("%s_%02d", g.prefix, n)
			q50 := make([]float64, points)
			q10 := make([]float64, points)
			q90 := make([]float64, points)
			for i := range q50 {
				v := target[i] + g.bias + rng.NormFloat64()*g.sigma
				q50[i] = clamp(v, 0, math.Inf(1))
				q10[i] = clamp(v-g.spread, 0, math.Inf(1))
				q90[i] = clamp(v+g.spread, 0, math.Inf(1))
			}
			forecasts[id] = map[models.Variable]models.Series{
				models.VariableQ10: models.NewSeries(syntheticStart, models.DefaultResolution, q10),
				models.VariableQ50: models.NewSeries(syntheticStart, models.DefaultResolution, q50),
				models.VariableQ90: models.NewSeries(syntheticStart, models.DefaultResolution, q90),
			}
		}
	}

	return &dataset.Dataset{
		Config: dataset.Config{
			Timezone: "UTC",
			UseCase:  string(models.UseCaseWindPower),
			Resource: "Synthetic Ridge",
		},
		Measurements: models.NewSeries(syntheticStart, models.DefaultResolution, target),
		Forecasts:    forecasts,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
