// Package scoring implements the market's forecast accuracy metrics and the
// ranking applied to them. Every metric is an error measure: lower is better.
package scoring

import (
	"fmt"
	"math"

	"github.com/prismcast/prismcast-go/internal/models"
)

// WinklerAlpha is the interval level for the q10-q90 band: an 80% central
// interval, so alpha = 0.20.
const WinklerAlpha = 0.20

func checkLengths(observed, forecast []float64) error {
	if len(observed) == 0 {
		return fmt.Errorf("no observations to score")
	}
	if len(observed) != len(forecast) {
		return fmt.Errorf("length mismatch: %d observations vs %d forecast points", len(observed), len(forecast))
	}
	return nil
}

// RMSE returns the root-mean-squared error between observations and forecast.
func RMSE(observed, forecast []float64) (float64, error) {
	if err := checkLengths(observed, forecast); err != nil {
		return 0, err
	}
	var sum float64
	for i := range observed {
		d := observed[i] - forecast[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(observed))), nil
}

// MAE returns the mean absolute error between observations and forecast.
func MAE(observed, forecast []float64) (float64, error) {
	if err := checkLengths(observed, forecast); err != nil {
		return 0, err
	}
	var sum float64
	for i := range observed {
		sum += math.Abs(observed[i] - forecast[i])
	}
	return sum / float64(len(observed)), nil
}

// Pinball returns the mean pinball loss for a single quantile forecast. The
// penalty is asymmetric: under-prediction costs q per unit, over-prediction
// costs (1-q), so a q10 forecast is punished hard for sitting above the
// observation and a q90 forecast for sitting below it.
func Pinball(observed, forecast []float64, quantile float64) (float64, error) {
	if err := checkLengths(observed, forecast); err != nil {
		return 0, err
	}
	if quantile <= 0 || quantile >= 1 {
		return 0, fmt.Errorf("quantile must be in (0,1), got %g", quantile)
	}
	var sum float64
	for i := range observed {
		if observed[i] > forecast[i] {
			sum += quantile * (observed[i] - forecast[i])
		} else {
			sum += (1 - quantile) * (forecast[i] - observed[i])
		}
	}
	return sum / float64(len(observed)), nil
}

// Winkler returns the mean Winkler interval score for the (lower, upper)
// band at level alpha: interval width, plus (2/alpha) times the distance by
// which the observation escapes either bound.
func Winkler(observed, lower, upper []float64, alpha float64) (float64, error) {
	if err := checkLengths(observed, lower); err != nil {
		return 0, err
	}
	if len(lower) != len(upper) {
		return 0, fmt.Errorf("length mismatch: %d lower vs %d upper points", len(lower), len(upper))
	}
	if alpha <= 0 || alpha >= 1 {
		return 0, fmt.Errorf("alpha must be in (0,1), got %g", alpha)
	}
	penalty := 2 / alpha
	var sum float64
	for i := range observed {
		score := upper[i] - lower[i]
		if observed[i] < lower[i] {
			score += penalty * (lower[i] - observed[i])
		}
		if observed[i] > upper[i] {
			score += penalty * (observed[i] - upper[i])
		}
		sum += score
	}
	return sum / float64(len(observed)), nil
}

// VariableScore returns the skill score used for weighting a quantile:
// RMSE for the median, pinball loss for the tails.
func VariableScore(observed, forecast []float64, v models.Variable) (float64, error) {
	if v == models.VariableQ50 {
		return RMSE(observed, forecast)
	}
	return Pinball(observed, forecast, v.Level())
}
