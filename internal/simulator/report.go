package simulator

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
)

// skillEMAPeriod smooths daily forecaster scores before ranking so a single
// lucky day does not reorder the table.
const skillEMAPeriod = 7

// Render writes the comparison report: one accuracy row per strategy, then
// the forecaster skill table ordered best first.
func (r *Result) Render(w io.Writer) error {
	var err error
	p := func(format string, args ...interface{}) {
		if err != nil {
			return
		}
		_, err = fmt.Fprintf(w, format, args...)
	}

	p("Replay of %s (%s)\n", r.Resource, r.UseCase)
	p("held-out days: %d, forecasters: %d\n\n", len(r.Days), len(r.Forecasters))

	p("%-18s %10s %12s %12s %12s\n", "strategy", "rmse", "pinball_q10", "pinball_q90", "unavailable")
	for _, o := range r.Outcomes {
		p("%-18s %10s %12s %12s %12d\n",
			o.Strategy,
			fmtScore(o.MeanRMSE()),
			fmtScore(o.MeanPinballQ10()),
			fmtScore(o.MeanPinballQ90()),
			o.UnavailableTotal())
	}

	if len(r.Skill) == 0 {
		return err
	}

	type ranked struct {
		id    string
		days  int
		trend float64
	}
	table := make([]ranked, 0, len(r.Skill))
	for id, daily := range r.Skill {
		table = append(table, ranked{id: id, days: len(daily), trend: skillTrend(daily, skillEMAPeriod)})
	}
	sort.Slice(table, func(i, j int) bool {
		if table[i].trend != table[j].trend {
			return table[i].trend < table[j].trend
		}
		return table[i].id < table[j].id
	})

	p("\n%-24s %6s %12s\n", "forecaster", "days", "rmse_trend")
	for _, row := range table {
		p("%-24s %6d %12s\n", row.id, row.days, fmtScore(row.trend))
	}
	return err
}

func fmtScore(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", v)
}

// skillTrend condenses a forecaster's daily scores into one number. Short
// histories fall back to the plain mean; longer ones take the closing value
// of an EMA so recent form outweighs old results.
func skillTrend(daily []float64, period int) float64 {
	if len(daily) == 0 {
		return math.NaN()
	}
	if len(daily) < period {
		var sum float64
		for _, v := range daily {
			sum += v
		}
		return sum / float64(len(daily))
	}

	ema := trend.NewEmaWithPeriod[float64](period)
	values := helper.ChanToSlice(ema.Compute(helper.SliceToChan(daily)))
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}
