package ensemble

import (
	"context"
	"testing"
	"time"

	"github.com/prismcast/prismcast-go/internal/models"
	"github.com/prismcast/prismcast-go/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChallenge() models.Challenge {
	return models.Challenge{
		ID:         "ch-1",
		SessionID:  "sess-1",
		UseCase:    models.UseCaseWindPower,
		ResourceID: "res-1",
		StartAt:    testDayStart,
		EndAt:      testDayStart.Add(time.Hour),
	}
}

func weightedChallengeInput() ChallengeInput {
	challengeForecasts := func(a, b float64) map[string]models.Series {
		return map[string]models.Series{
			"fc-a": constSeries(testDayStart, 4, a),
			"fc-b": constSeries(testDayStart, 4, b),
		}
	}
	trainingForecasts := func(a, b float64) map[string]models.Series {
		return map[string]models.Series{
			"fc-a": constSeries(trainStart(), 96, a),
			"fc-b": constSeries(trainStart(), 96, b),
		}
	}
	return ChallengeInput{
		Variables: models.AllVariables(),
		Forecasts: map[models.Variable]map[string]models.Series{
			models.VariableQ10: challengeForecasts(5, 8),
			models.VariableQ50: challengeForecasts(20, 26),
			models.VariableQ90: challengeForecasts(40, 52),
		},
		Training: dayTraining(map[models.Variable]map[string]models.Series{
			models.VariableQ10: trainingForecasts(4, 7),
			models.VariableQ50: trainingForecasts(21, 24),
			models.VariableQ90: trainingForecasts(41, 50),
		}, constSeries(trainStart(), 96, 22)),
		Resolution: models.DefaultResolution,
	}
}

// Test recomputation over identical inputs yields bit-identical payloads
func TestEngine_Idempotence(t *testing.T) {
	cfg := oneDayConfig()
	engine, err := NewEngine(DefaultRegistry(), cfg, testLogger())
	require.NoError(t, err)

	challenge := testChallenge()
	in := weightedChallengeInput()

	first := engine.ComputeChallenge(context.Background(), challenge, in)
	second := engine.ComputeChallenge(context.Background(), challenge, in)
	require.Len(t, first, 3)
	require.Len(t, second, 3)

	for i := range first {
		require.True(t, first[i].Available, "variable %s", first[i].Variable)
		assert.Equal(t, first[i].Variable, second[i].Variable)
		assert.Equal(t, first[i].Series.Values, second[i].Series.Values, "values for %s", first[i].Variable)
		assert.Equal(t, first[i].Weights, second[i].Weights, "weights for %s", first[i].Variable)
	}
}

// Test one failing variable does not sink the others
func TestEngine_PerVariableIsolation(t *testing.T) {
	engine, err := NewEngine(DefaultRegistry(), oneDayConfig(), testLogger())
	require.NoError(t, err)

	in := weightedChallengeInput()
	// Nobody submitted q10 for this challenge.
	in.Forecasts[models.VariableQ10] = nil

	results := engine.ComputeChallenge(context.Background(), testChallenge(), in)
	require.Len(t, results, 3)

	byVariable := make(map[models.Variable]models.EnsembleResult, len(results))
	for _, r := range results {
		byVariable[r.Variable] = r
	}

	q10 := byVariable[models.VariableQ10]
	assert.False(t, q10.Available)
	assert.NotEmpty(t, q10.Reason)
	assert.Empty(t, q10.Series.Values)

	assert.True(t, byVariable[models.VariableQ50].Available)
	assert.True(t, byVariable[models.VariableQ90].Available)
}

// Test results carry record metadata and exact point counts
func TestEngine_ResultShape(t *testing.T) {
	engine, err := NewEngine(DefaultRegistry(), oneDayConfig(), testLogger())
	require.NoError(t, err)

	challenge := testChallenge()
	results := engine.ComputeChallenge(context.Background(), challenge, weightedChallengeInput())
	require.Len(t, results, 3)

	for _, r := range results {
		assert.NotEmpty(t, r.ID)
		assert.Equal(t, challenge.ID, r.ChallengeID)
		assert.Equal(t, StrategyWeightedAverage, r.Strategy)
		assert.Equal(t, 4, r.Series.Len())
		assert.False(t, r.ComputedAt.IsZero())
		assertWeightsSumToOne(t, r.Weights)
	}
}

// Test negative output is clipped at the floor unless the resource opts out
func TestEngine_Clipping(t *testing.T) {
	cfg := oneDayConfig()
	cfg.Strategy = StrategyMean

	engine, err := NewEngine(DefaultRegistry(), cfg, testLogger())
	require.NoError(t, err)

	in := ChallengeInput{
		Variables: []models.Variable{models.VariableQ50},
		Forecasts: map[models.Variable]map[string]models.Series{
			models.VariableQ50: {
				"fc-a": constSeries(testDayStart, 4, -6),
				"fc-b": constSeries(testDayStart, 4, 2),
			},
		},
		Resolution: models.DefaultResolution,
	}

	results := engine.ComputeChallenge(context.Background(), testChallenge(), in)
	require.Len(t, results, 1)
	require.True(t, results[0].Available)
	assert.InDeltaSlice(t, []float64{0, 0, 0, 0}, results[0].Series.Values, 1e-12)

	// Signed resources keep negative values.
	in.DisableClip = true
	results = engine.ComputeChallenge(context.Background(), testChallenge(), in)
	require.Len(t, results, 1)
	assert.InDeltaSlice(t, []float64{-2, -2, -2, -2}, results[0].Series.Values, 1e-12)
}

// Test a misconfigured strategy name fails at engine construction
func TestEngine_UnknownStrategy(t *testing.T) {
	cfg := oneDayConfig()
	cfg.Strategy = "no_such_strategy"

	_, err := NewEngine(DefaultRegistry(), cfg, testLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrUnknownStrategy)
}

// Test invalid tunables fail at engine construction
func TestEngine_InvalidConfig(t *testing.T) {
	cfg := oneDayConfig()
	cfg.Beta = -2

	_, err := NewEngine(DefaultRegistry(), cfg, testLogger())
	assert.ErrorContains(t, err, "beta")
}

// Test a failed fit marks every variable unavailable instead of panicking
func TestEngine_FitFailure(t *testing.T) {
	engine, err := NewEngine(DefaultRegistry(), oneDayConfig(), testLogger())
	require.NoError(t, err)

	in := weightedChallengeInput()
	in.Training.Resolution = 0

	results := engine.ComputeChallenge(context.Background(), testChallenge(), in)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.False(t, r.Available)
		assert.Contains(t, r.Reason, "fit failed")
	}
}

// Test stateless strategies run without training data
func TestEngine_StatelessStrategy(t *testing.T) {
	cfg := oneDayConfig()
	cfg.Strategy = StrategyMedian

	engine, err := NewEngine(DefaultRegistry(), cfg, testLogger())
	require.NoError(t, err)

	in := ChallengeInput{
		Variables: []models.Variable{models.VariableQ50},
		Forecasts: map[models.Variable]map[string]models.Series{
			models.VariableQ50: {
				"fc-a": constSeries(testDayStart, 4, 10),
				"fc-b": constSeries(testDayStart, 4, 30),
				"fc-c": constSeries(testDayStart, 4, 14),
			},
		},
		Resolution: models.DefaultResolution,
	}

	results := engine.ComputeChallenge(context.Background(), testChallenge(), in)
	require.Len(t, results, 1)
	require.True(t, results[0].Available)
	assert.InDeltaSlice(t, []float64{14, 14, 14, 14}, results[0].Series.Values, 1e-12)
}
