package cache

import (
	"context"
	"sync"
	"time"

	"github.com/mailsentinel/mailsentinel/internal/core"
	"go.uber.org/zap"
)

type memoryEntry struct {
	analysis  *core.EmailAnalysis
	expiresAt time.Time
}

// MemoryCache is an in-memory implementation of the AnalysisCache interface.
type MemoryCache struct {
	entries     map[string]*memoryEntry
	mu          sync.RWMutex
	logger      *zap.Logger
	cleanupFreq time.Duration
	stopCh      chan struct{}
}

// NewMemoryCache creates a new in-memory analysis cache.
func NewMemoryCache(logger *zap.Logger, cleanupFreq time.Duration) *MemoryCache {
	cache := &MemoryCache{
		entries:     make(map[string]*memoryEntry),
		logger:      logger,
		cleanupFreq: cleanupFreq,
		stopCh:      make(chan struct{}),
	}

	// Start background cleanup
	go cache.startCleanupTask()

	return cache
}

// Get retrieves a cached verdict for a message. Expired entries behave
// like misses.
func (c *MemoryCache) Get(ctx context.Context, messageID string) (*core.EmailAnalysis, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[messageID]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, nil
	}
	return entry.analysis, nil
}

// Set stores a classifier verdict.
func (c *MemoryCache) Set(ctx context.Context, messageID string, analysis *core.EmailAnalysis, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[messageID] = &memoryEntry{
		analysis:  analysis,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Delete removes a cache entry.
func (c *MemoryCache) Delete(ctx context.Context, messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, messageID)
	return nil
}

// Cleanup removes expired entries.
func (c *MemoryCache) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	expiredCount := 0

	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			expiredCount++
		}
	}

	c.logger.Debug("Cleaned up expired cache entries", zap.Int("expired_count", expiredCount))
	return nil
}

// startCleanupTask starts a background task to clean up expired entries
func (c *MemoryCache) startCleanupTask() {
	ticker := time.NewTicker(c.cleanupFreq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.Cleanup(context.Background()); err != nil {
				c.logger.Error("Failed to clean up cache", zap.Error(err))
			}
		case <-c.stopCh:
			return
		}
	}
}

// Stop stops the background cleanup task
func (c *MemoryCache) Stop() {
	close(c.stopCh)
}
