package ensemble

import (
	"io"
	"math"
	"time"

	"github.com/prismcast/prismcast-go/internal/models"
	"github.com/sirupsen/logrus"
)

var testDayStart = time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// constSeries builds n points of the same value.
func constSeries(start time.Time, n int, value float64) models.Series {
	values := make([]float64, n)
	for i := range values {
		values[i] = value
	}
	return models.NewSeries(start, models.DefaultResolution, values)
}

// rampSeries builds n points rising from base by step.
func rampSeries(start time.Time, n int, base, step float64) models.Series {
	values := make([]float64, n)
	for i := range values {
		values[i] = base + float64(i)*step
	}
	return models.NewSeries(start, models.DefaultResolution, values)
}

// withNaNAt returns a copy of the series with one point knocked out.
func withNaNAt(s models.Series, i int) models.Series {
	values := make([]float64, len(s.Values))
	copy(values, s.Values)
	values[i] = math.NaN()
	return models.NewSeries(s.Start, s.Resolution, values)
}

// hourInput builds a four-point challenge input from per-forecaster values.
func hourInput(forecasts map[string]models.Series) Input {
	return Input{
		Period:     models.Period{Start: testDayStart, End: testDayStart.Add(time.Hour)},
		Resolution: models.DefaultResolution,
		Forecasts:  forecasts,
	}
}

// dayTraining builds a one-day training window ending at testDayStart.
func dayTraining(forecasts map[models.Variable]map[string]models.Series, actuals models.Series) TrainingData {
	return TrainingData{
		Window:     models.TrailingWindow(testDayStart, 1),
		Resolution: models.DefaultResolution,
		Forecasts:  forecasts,
		Actuals:    actuals,
	}
}

func trainStart() time.Time {
	return testDayStart.Add(-24 * time.Hour)
}
