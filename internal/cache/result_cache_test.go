package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prismcast/prismcast-go/internal/models"
)

// setupResultTestRedis creates a test Redis instance using miniredis
func setupResultTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis, func()) {
	s, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})

	cleanup := func() {
		client.Close()
		s.Close()
	}

	return client, s, cleanup
}

func launchedResult(challengeID string, variable models.Variable, value float64) models.EnsembleResult {
	start := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	return models.EnsembleResult{
		ID:          "er-" + challengeID + "-" + string(variable),
		ChallengeID: challengeID,
		Variable:    variable,
		Strategy:    "weighted_average",
		Series:      models.NewSeries(start, models.DefaultResolution, []float64{value, value, value, value}),
		Weights:     map[string]float64{"fc-a": 0.6, "fc-b": 0.4},
		Available:   true,
		ComputedAt:  start.Add(-13 * time.Hour),
	}
}

func TestRedisResultCache_PublishAndGet(t *testing.T) {
	client, _, cleanup := setupResultTestRedis(t)
	defer cleanup()

	cache := NewRedisResultCache(client, 48*time.Hour)
	results := []models.EnsembleResult{
		launchedResult("ch-1", models.VariableQ10, 8),
		launchedResult("ch-1", models.VariableQ50, 12),
	}
	require.NoError(t, cache.Publish(context.Background(), "sess-1", results))

	got, found := cache.Get(context.Background(), "ch-1", models.VariableQ50)
	require.True(t, found)
	assert.Equal(t, "er-ch-1-q50", got.ID)
	assert.Equal(t, []float64{12, 12, 12, 12}, got.Series.Values)
	assert.Equal(t, 0.6, got.Weights["fc-a"])

	stats := cache.GetStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses)
	assert.Equal(t, int64(2), stats.Puts)
}

func TestRedisResultCache_GetMiss(t *testing.T) {
	client, _, cleanup := setupResultTestRedis(t)
	defer cleanup()

	cache := NewRedisResultCache(client, 48*time.Hour)

	got, found := cache.Get(context.Background(), "ch-1", models.VariableQ90)
	assert.False(t, found)
	assert.Nil(t, got)

	stats := cache.GetStats()
	assert.Equal(t, int64(1), stats.Misses)
}

func TestRedisResultCache_Expiry(t *testing.T) {
	client, mr, cleanup := setupResultTestRedis(t)
	defer cleanup()

	cache := NewRedisResultCache(client, time.Hour)
	results := []models.EnsembleResult{launchedResult("ch-1", models.VariableQ50, 12)}
	require.NoError(t, cache.Publish(context.Background(), "sess-1", results))

	mr.FastForward(2 * time.Hour)

	_, found := cache.Get(context.Background(), "ch-1", models.VariableQ50)
	assert.False(t, found)
}

func TestRedisResultCache_Invalidate(t *testing.T) {
	client, _, cleanup := setupResultTestRedis(t)
	defer cleanup()

	cache := NewRedisResultCache(client, 48*time.Hour)
	results := []models.EnsembleResult{
		launchedResult("ch-1", models.VariableQ10, 8),
		launchedResult("ch-1", models.VariableQ50, 12),
		launchedResult("ch-2", models.VariableQ50, 30),
	}
	require.NoError(t, cache.Publish(context.Background(), "sess-1", results))

	require.NoError(t, cache.Invalidate(context.Background(), "ch-1"))

	_, found := cache.Get(context.Background(), "ch-1", models.VariableQ10)
	assert.False(t, found)
	_, found = cache.Get(context.Background(), "ch-1", models.VariableQ50)
	assert.False(t, found)
	_, found = cache.Get(context.Background(), "ch-2", models.VariableQ50)
	assert.True(t, found)
}

func TestRedisResultCache_Clear(t *testing.T) {
	client, _, cleanup := setupResultTestRedis(t)
	defer cleanup()

	cache := NewRedisResultCache(client, 48*time.Hour)
	results := []models.EnsembleResult{
		launchedResult("ch-1", models.VariableQ50, 12),
		launchedResult("ch-2", models.VariableQ50, 30),
	}
	require.NoError(t, cache.Publish(context.Background(), "sess-1", results))

	require.NoError(t, cache.Clear(context.Background()))

	_, found := cache.Get(context.Background(), "ch-1", models.VariableQ50)
	assert.False(t, found)
	_, found = cache.Get(context.Background(), "ch-2", models.VariableQ50)
	assert.False(t, found)
}

func TestRedisResultCache_UnavailableResultRoundTrip(t *testing.T) {
	client, _, cleanup := setupResultTestRedis(t)
	defer cleanup()

	cache := NewRedisResultCache(client, 48*time.Hour)
	unavailable := models.EnsembleResult{
		ID:          "er-1",
		ChallengeID: "ch-1",
		Variable:    models.VariableQ90,
		Strategy:    "weighted_average",
		Available:   false,
		Reason:      "no eligible forecasts",
		ComputedAt:  time.Date(2025, 6, 10, 10, 30, 0, 0, time.UTC),
	}
	require.NoError(t, cache.Publish(context.Background(), "sess-1", []models.EnsembleResult{unavailable}))

	got, found := cache.Get(context.Background(), "ch-1", models.VariableQ90)
	require.True(t, found)
	assert.False(t, got.Available)
	assert.Equal(t, "no eligible forecasts", got.Reason)
	assert.Nil(t, got.Weights)
}
