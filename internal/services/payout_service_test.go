package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prismcast/prismcast-go/internal/database"
	"github.com/prismcast/prismcast-go/internal/models"
	"github.com/prismcast/prismcast-go/internal/utils"
)

func seedRank(t *testing.T, store *database.MemoryStore, batchID string, variable models.Variable, metric models.Metric, forecasterID string, rank, total int) {
	t.Helper()
	require.NoError(t, store.SaveScores(context.Background(), []models.ScoreRecord{{
		ID:                batchID + "/" + string(variable) + "/" + string(metric) + "/" + forecasterID,
		BatchID:           batchID,
		ChallengeID:       "ch-1",
		ForecasterID:      forecasterID,
		Variable:          variable,
		Metric:            metric,
		Value:             float64(rank),
		Rank:              rank,
		TotalParticipants: total,
		CreatedAt:         gateClosure,
	}}))
}

func TestPayoutService_ComputeChallenge(t *testing.T) {
	store, challenge := newMarketFixture(t)
	svc := NewPayoutService(store, quietLogger())
	ctx := context.Background()

	seedRank(t, store, "batch-1", models.VariableQ50, models.MetricRMSE, "fc-a", 1, 2)
	seedRank(t, store, "batch-1", models.VariableQ50, models.MetricRMSE, "fc-b", 2, 2)
	// MAE ranks and Winkler-only quantiles never open a payout slice.
	seedRank(t, store, "batch-1", models.VariableQ50, models.MetricMAE, "fc-b", 1, 2)
	seedRank(t, store, "batch-1", models.VariableQ90, models.MetricWinkler, "fc-a", 1, 1)

	require.NoError(t, store.SaveEnsembleResults(ctx, []models.EnsembleResult{{
		ID:          "er-q50",
		ChallengeID: challenge.ID,
		Variable:    models.VariableQ50,
		Strategy:    "weighted_average",
		Available:   true,
		Contributions: map[string]float64{
			"fc-a": 0.75,
			"fc-b": 0.25,
		},
		ComputedAt: gateClosure,
	}}))

	payout, err := svc.ComputeChallenge(ctx, challenge.ID, decimal.NewFromInt(120))
	require.NoError(t, err)
	assert.Equal(t, "batch-1", payout.BatchID)
	require.Len(t, payout.Variables, 1)

	// Rank half 60: first place takes 2 of 3 parts. Contribution half 60:
	// split 75/25.
	vp := payout.Variables[0]
	assert.Equal(t, models.VariableQ50, vp.Variable)
	assert.Equal(t, "40", vp.RankShares["fc-a"].String())
	assert.Equal(t, "20", vp.RankShares["fc-b"].String())
	assert.Equal(t, "45", vp.ContributionShares["fc-a"].String())
	assert.Equal(t, "15", vp.ContributionShares["fc-b"].String())

	assert.Equal(t, "85", payout.Totals["fc-a"].String())
	assert.Equal(t, "35", payout.Totals["fc-b"].String())
}

func TestPayoutService_RankOnlyWithoutContributions(t *testing.T) {
	store, challenge := newMarketFixture(t)
	svc := NewPayoutService(store, quietLogger())
	ctx := context.Background()

	require.NoError(t, store.CreateForecaster(ctx, &models.Forecaster{ID: "fc-c", DisplayName: "Gamma"}))
	seedRank(t, store, "batch-1", models.VariableQ10, models.MetricPinball, "fc-a", 1, 3)
	seedRank(t, store, "batch-1", models.VariableQ10, models.MetricPinball, "fc-b", 2, 3)
	seedRank(t, store, "batch-1", models.VariableQ10, models.MetricPinball, "fc-c", 3, 3)

	payout, err := svc.ComputeChallenge(ctx, challenge.ID, decimal.NewFromInt(90))
	require.NoError(t, err)
	require.Len(t, payout.Variables, 1)

	// No stored contributions: the whole slice pays by inverse rank, 3:2:1.
	assert.Equal(t, "45", payout.Totals["fc-a"].String())
	assert.Equal(t, "30", payout.Totals["fc-b"].String())
	assert.Equal(t, "15", payout.Totals["fc-c"].String())
	assert.True(t, payout.Variables[0].ContributionShares["fc-a"].IsZero())
}

func TestPayoutService_ConservesPool(t *testing.T) {
	store, challenge := newMarketFixture(t)
	svc := NewPayoutService(store, quietLogger())
	ctx := context.Background()

	ids := []string{"fc-a", "fc-b", "fc-c", "fc-d", "fc-e", "fc-f"}
	for i, id := range ids {
		if i >= 2 {
			require.NoError(t, store.CreateForecaster(ctx, &models.Forecaster{ID: id, DisplayName: id}))
		}
		seedRank(t, store, "batch-1", models.VariableQ50, models.MetricRMSE, id, i+1, len(ids))
	}

	pool := decimal.NewFromInt(100)
	payout, err := svc.ComputeChallenge(ctx, challenge.ID, pool)
	require.NoError(t, err)

	allocated := decimal.Zero
	for _, amount := range payout.Totals {
		allocated = allocated.Add(amount)
	}
	assert.True(t, allocated.Equal(pool), "allocated %s of pool %s", allocated, pool)
	assert.True(t, payout.Totals["fc-a"].GreaterThan(payout.Totals["fc-b"]))
	assert.True(t, payout.Totals["fc-e"].GreaterThan(payout.Totals["fc-f"]))
}

func TestPayoutService_Rejections(t *testing.T) {
	store, challenge := newMarketFixture(t)
	svc := NewPayoutService(store, quietLogger())
	ctx := context.Background()

	_, err := svc.ComputeChallenge(ctx, challenge.ID, decimal.Zero)
	assert.True(t, utils.IsValidationError(err))

	_, err = svc.ComputeChallenge(ctx, challenge.ID, decimal.NewFromInt(100))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no score batch")
}

func TestPayoutService_ComputeSession(t *testing.T) {
	store, challenge := newMarketFixture(t)
	svc := NewPayoutService(store, quietLogger())
	ctx := context.Background()

	require.NoError(t, store.CreateChallenges(ctx, []models.Challenge{{
		ID:         "ch-2",
		SessionID:  "sess-1",
		UseCase:    models.UseCaseWindPower,
		ResourceID: "res-1",
		StartAt:    challengeDay.AddDate(0, 0, 1),
		EndAt:      challengeDay.AddDate(0, 0, 2),
		CreatedAt:  marketDay.Add(7 * time.Hour),
	}}))
	seedRank(t, store, "batch-1", models.VariableQ50, models.MetricRMSE, "fc-a", 1, 1)

	payouts, err := svc.ComputeSession(ctx, "sess-1", decimal.NewFromInt(240))
	require.NoError(t, err)
	require.Len(t, payouts, 1, "unscored challenge is skipped")
	assert.Equal(t, challenge.ID, payouts[0].ChallengeID)
	assert.Equal(t, "120", payouts[0].Totals["fc-a"].String())

	_, err = svc.ComputeSession(ctx, "sess-missing", decimal.NewFromInt(10))
	require.Error(t, err)
}
