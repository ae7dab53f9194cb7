package services

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

// ResourceOptimizerConfig bounds the gate-closure worker pool sizing.
type ResourceOptimizerConfig struct {
	// FixedWorkers pins the pool size when positive; zero means derive it
	// from the machine.
	FixedWorkers    int
	MinWorkers      int
	MaxWorkers      int
	CPUThreshold    float64
	MemoryThreshold float64
}

// ResourceOptimizer sizes the worker pool used to compute challenges in
// parallel at gate closure. Ensemble computation is CPU-bound over small
// series, so the pool follows the cores with a haircut on small or busy
// machines.
type ResourceOptimizer struct {
	mu                 sync.RWMutex
	cfg                ResourceOptimizerConfig
	cpuCores           int
	memoryGB           float64
	currentCPUUsage    float64
	currentMemoryUsage float64
	logger             *logrus.Logger
}

// NewResourceOptimizer creates an optimizer and reads the machine's memory
// once. Zero config fields fall back to defaults.
func NewResourceOptimizer(cfg ResourceOptimizerConfig, logger *logrus.Logger) *ResourceOptimizer {
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = 1
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 16
	}
	if cfg.CPUThreshold <= 0 {
		cfg.CPUThreshold = 80.0
	}
	if cfg.MemoryThreshold <= 0 {
		cfg.MemoryThreshold = 85.0
	}

	ro := &ResourceOptimizer{
		cfg:      cfg,
		cpuCores: runtime.NumCPU(),
		logger:   logger,
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		ro.memoryGB = float64(memInfo.Total) / (1024 * 1024 * 1024)
	} else {
		ro.logger.WithError(err).Warn("Could not read memory info, assuming 8GB")
		ro.memoryGB = 8.0
	}

	ro.logger.WithFields(logrus.Fields{
		"cpu_cores":     ro.cpuCores,
		"memory_gb":     ro.memoryGB,
		"fixed_workers": cfg.FixedWorkers,
	}).Info("Resource optimizer initialized")
	return ro
}

// ClosureWorkers returns the pool size for the next gate-closure run.
func (ro *ResourceOptimizer) ClosureWorkers() int {
	ro.mu.RLock()
	defer ro.mu.RUnlock()
	return ro.sizePool()
}

// Adaptive reports whether pool sizing reacts to live system load. A fixed
// worker count never needs a metrics refresh.
func (ro *ResourceOptimizer) Adaptive() bool {
	return ro.cfg.FixedWorkers <= 0
}

// sizePool derives the pool size from cores with a haircut on machines that
// are small or already under load. Callers hold at least a read lock.
func (ro *ResourceOptimizer) sizePool() int {
	if ro.cfg.FixedWorkers > 0 {
		return ro.cfg.FixedWorkers
	}

	workers := ro.cpuCores * 2
	if workers > ro.cfg.MaxWorkers {
		workers = ro.cfg.MaxWorkers
	}

	factor := 1.0
	if ro.memoryGB < 4.0 {
		factor = 0.5
	} else if ro.memoryGB < 8.0 {
		factor = 0.75
	}
	if ro.currentCPUUsage > ro.cfg.CPUThreshold {
		factor *= 0.7
	} else if ro.currentMemoryUsage > ro.cfg.MemoryThreshold {
		factor *= 0.8
	}

	workers = int(float64(workers) * factor)
	if workers < ro.cfg.MinWorkers {
		workers = ro.cfg.MinWorkers
	}
	return workers
}

// UpdateSystemMetrics refreshes current cpu and memory usage. Called before
// a closure run so the sizing sees the machine as it is now.
func (ro *ResourceOptimizer) UpdateSystemMetrics(ctx context.Context) error {
	cpuPercent, err := cpu.PercentWithContext(ctx, time.Second, false)
	if err != nil {
		return fmt.Errorf("failed to get CPU usage: %w", err)
	}
	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to get memory usage: %w", err)
	}

	ro.mu.Lock()
	if len(cpuPercent) > 0 {
		ro.currentCPUUsage = cpuPercent[0]
	}
	ro.currentMemoryUsage = memInfo.UsedPercent
	ro.mu.Unlock()
	return nil
}

// SystemInfo returns a snapshot of what the sizing is based on.
func (ro *ResourceOptimizer) SystemInfo() map[string]interface{} {
	ro.mu.RLock()
	defer ro.mu.RUnlock()
	return map[string]interface{}{
		"cpu_cores":       ro.cpuCores,
		"memory_gb":       ro.memoryGB,
		"current_cpu":     ro.currentCPUUsage,
		"current_memory":  ro.currentMemoryUsage,
		"goroutines":      runtime.NumGoroutine(),
		"closure_workers": ro.sizePool(),
	}
}
