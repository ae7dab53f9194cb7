package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/prismcast/prismcast-go/internal/config"
	"github.com/prismcast/prismcast-go/pkg/interfaces"
)

// CleanupService handles automatic cleanup of old data
type CleanupService struct {
	store  interfaces.MarketStore
	ctx    context.Context
	cancel context.CancelFunc
}

// NewCleanupService creates a new cleanup service
func NewCleanupService(store interfaces.MarketStore) *CleanupService {
	ctx, cancel := context.WithCancel(context.Background())
	return &CleanupService{
		store:  store,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins the cleanup service with periodic cleanup
func (c *CleanupService) Start(cfg config.CleanupConfig) {
	log.Printf("Starting cleanup service with %dd retention for historical submissions, %dd for scheduled sessions",
		cfg.HistoricalRetentionDays, cfg.SessionRetentionDays)

	// Run initial cleanup
	go func() {
		if err := c.runCleanup(cfg); err != nil {
			log.Printf("Initial cleanup failed: %v", err)
		}
	}()

	// Start periodic cleanup
	ticker := time.NewTicker(time.Duration(cfg.CleanupIntervalMinutes) * time.Minute)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-c.ctx.Done():
				return
			case <-ticker.C:
				if err := c.runCleanup(cfg); err != nil {
					log.Printf("Cleanup failed: %v", err)
				}
			}
		}
	}()
}

// Stop stops the cleanup service
func (c *CleanupService) Stop() {
	log.Println("Stopping cleanup service")
	c.cancel()
}

// RunCleanup performs a manual cleanup operation
func (c *CleanupService) RunCleanup(cfg config.CleanupConfig) error {
	return c.runCleanup(cfg)
}

// runCleanup performs the actual cleanup operations
func (c *CleanupService) runCleanup(cfg config.CleanupConfig) error {
	log.Println("Running market data cleanup...")

	// Prune expired historical submissions
	if err := c.cleanupHistoricalSubmissions(cfg.HistoricalRetentionDays); err != nil {
		return fmt.Errorf("failed to cleanup historical submissions: %w", err)
	}

	// Prune scheduled sessions nobody ever opened
	if err := c.cleanupStaleSessions(cfg.SessionRetentionDays); err != nil {
		return fmt.Errorf("failed to cleanup stale sessions: %w", err)
	}

	log.Println("Market data cleanup completed successfully")
	return nil
}

// cleanupHistoricalSubmissions removes historical submissions whose series
// ended more than retentionDays ago. Challenge submissions are never pruned;
// they are the market record.
func (c *CleanupService) cleanupHistoricalSubmissions(retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	removed, err := c.store.DeleteHistoricalBefore(c.ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to delete expired historical submissions: %w", err)
	}

	if removed > 0 {
		log.Printf("Cleaned up %d expired historical submissions (older than %dd)", removed, retentionDays)
	}

	return nil
}

// cleanupStaleSessions removes sessions that were scheduled more than
// retentionDays ago but never opened.
func (c *CleanupService) cleanupStaleSessions(retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	removed, err := c.store.DeleteStaleScheduledSessions(c.ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to delete stale scheduled sessions: %w", err)
	}

	if removed > 0 {
		log.Printf("Cleaned up %d stale scheduled sessions (older than %dd)", removed, retentionDays)
	}

	return nil
}
