package services

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestResourceOptimizer_FixedWorkers tests that a configured pool size wins
// over the derived one.
func TestResourceOptimizer_FixedWorkers(t *testing.T) {
	ro := NewResourceOptimizer(ResourceOptimizerConfig{FixedWorkers: 3}, quietLogger())
	assert.Equal(t, 3, ro.ClosureWorkers())
}

// TestResourceOptimizer_DerivedWorkers tests the machine-derived sizing.
func TestResourceOptimizer_DerivedWorkers(t *testing.T) {
	ro := NewResourceOptimizer(ResourceOptimizerConfig{MinWorkers: 1, MaxWorkers: 64}, quietLogger())
	workers := ro.ClosureWorkers()
	assert.GreaterOrEqual(t, workers, 1)
	assert.LessOrEqual(t, workers, 2*runtime.NumCPU())
}

// TestResourceOptimizer_BoundsRespected tests min and max clamping.
func TestResourceOptimizer_BoundsRespected(t *testing.T) {
	ro := NewResourceOptimizer(ResourceOptimizerConfig{MinWorkers: 2, MaxWorkers: 2}, quietLogger())
	assert.Equal(t, 2, ro.ClosureWorkers())
}

// TestResourceOptimizer_LoadHaircut tests that high load shrinks the pool
// but never below the minimum.
func TestResourceOptimizer_LoadHaircut(t *testing.T) {
	ro := NewResourceOptimizer(ResourceOptimizerConfig{MinWorkers: 2, MaxWorkers: 10, CPUThreshold: 50}, quietLogger())
	relaxed := ro.ClosureWorkers()

	ro.mu.Lock()
	ro.currentCPUUsage = 95
	ro.mu.Unlock()
	busy := ro.ClosureWorkers()

	assert.LessOrEqual(t, busy, relaxed)
	assert.GreaterOrEqual(t, busy, 2)
}

// TestResourceOptimizer_Defaults tests zero-config fallbacks.
func TestResourceOptimizer_Defaults(t *testing.T) {
	ro := NewResourceOptimizer(ResourceOptimizerConfig{}, quietLogger())
	assert.Equal(t, 1, ro.cfg.MinWorkers)
	assert.Equal(t, 16, ro.cfg.MaxWorkers)
	assert.Equal(t, 80.0, ro.cfg.CPUThreshold)
	assert.Equal(t, 85.0, ro.cfg.MemoryThreshold)

	info := ro.SystemInfo()
	require.Contains(t, info, "closure_workers")
	assert.Equal(t, runtime.NumCPU(), info["cpu_cores"])
}
