package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prismcast/prismcast-go/internal/models"
)

// ResultCacheEntry represents a cached ensemble result with metadata.
type ResultCacheEntry struct {
	// Result is the published ensemble result.
	Result models.EnsembleResult `json:"result"`
	// SessionID is the market session the result was launched under.
	SessionID string `json:"session_id"`
	// CachedAt is the time the entry was written.
	CachedAt time.Time `json:"cached_at"`
}

// ResultCacheStats tracks cache performance metrics.
type ResultCacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Puts   int64 `json:"puts"`
	mu     sync.RWMutex
}

// RedisResultCache serves launched ensemble results from Redis so board
// reads do not hit postgres. Entries expire on their own; the database
// stays the source of truth.
type RedisResultCache struct {
	redis  *redis.Client
	ttl    time.Duration
	stats  *ResultCacheStats
	prefix string
}

// NewRedisResultCache creates a new Redis-based result cache.
func NewRedisResultCache(redisClient *redis.Client, ttl time.Duration) *RedisResultCache {
	return &RedisResultCache{
		redis:  redisClient,
		ttl:    ttl,
		stats:  &ResultCacheStats{},
		prefix: "ensemble_result:",
	}
}

func (c *RedisResultCache) key(challengeID string, variable models.Variable) string {
	return c.prefix + challengeID + ":" + string(variable)
}

// Publish stores every result of a launched challenge.
func (c *RedisResultCache) Publish(ctx context.Context, sessionID string, results []models.EnsembleResult) error {
	now := time.Now()
	pipe := c.redis.Pipeline()
	for _, result := range results {
		entry := ResultCacheEntry{
			Result:    result,
			SessionID: sessionID,
			CachedAt:  now,
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("error serializing result for %s/%s: %w", result.ChallengeID, result.Variable, err)
		}
		pipe.Set(ctx, c.key(result.ChallengeID, result.Variable), data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("error publishing %d results: %w", len(results), err)
	}

	c.stats.mu.Lock()
	c.stats.Puts += int64(len(results))
	c.stats.mu.Unlock()

	log.Printf("Published %d ensemble results for session %s (TTL: %v)", len(results), sessionID, c.ttl)
	return nil
}

// Get retrieves a launched result for one (challenge, variable).
func (c *RedisResultCache) Get(ctx context.Context, challengeID string, variable models.Variable) (*models.EnsembleResult, bool) {
	data, err := c.redis.Get(ctx, c.key(challengeID, variable)).Result()
	if err == redis.Nil {
		c.miss()
		return nil, false
	}
	if err != nil {
		log.Printf("Redis error getting result for %s/%s: %v", challengeID, variable, err)
		c.miss()
		return nil, false
	}

	var entry ResultCacheEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		log.Printf("Error deserializing cached result for %s/%s: %v", challengeID, variable, err)
		c.miss()
		return nil, false
	}

	c.stats.mu.Lock()
	c.stats.Hits++
	c.stats.mu.Unlock()
	return &entry.Result, true
}

func (c *RedisResultCache) miss() {
	c.stats.mu.Lock()
	c.stats.Misses++
	c.stats.mu.Unlock()
}

// Invalidate drops a challenge's cached results after a recompute so reads
// fall through to the fresh rows.
func (c *RedisResultCache) Invalidate(ctx context.Context, challengeID string) error {
	keys := make([]string, 0, len(models.AllVariables()))
	for _, variable := range models.AllVariables() {
		keys = append(keys, c.key(challengeID, variable))
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("error invalidating results for %s: %w", challengeID, err)
	}
	return nil
}

// Clear removes all cached results.
func (c *RedisResultCache) Clear(ctx context.Context) error {
	var keys []string
	iter := c.redis.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("error scanning cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("error clearing cache: %w", err)
	}
	log.Printf("Cleared %d result cache entries", len(keys))
	return nil
}

// GetStats returns current cache statistics.
func (c *RedisResultCache) GetStats() ResultCacheStats {
	c.stats.mu.RLock()
	defer c.stats.mu.RUnlock()
	return ResultCacheStats{
		Hits:   c.stats.Hits,
		Misses: c.stats.Misses,
		Puts:   c.stats.Puts,
	}
}

// LogStats logs current cache performance statistics.
func (c *RedisResultCache) LogStats() {
	stats := c.GetStats()
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	log.Printf("Result Cache Stats - Hits: %d, Misses: %d, Puts: %d, Hit Rate: %.2f%%",
		stats.Hits, stats.Misses, stats.Puts, hitRate)
}
