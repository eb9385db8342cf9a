// services/anti-cheat/internal/service/trust_cache.go
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"trust-defense/services/anti-cheat/internal/models"
	"trust-defense/shared/pkg/redis"
)

// PermissionCache keeps trust summaries for permission checks. With Redis it
// is shared by every instance; without it a process cache stands in. Entries
// carry the record version and a write never replaces a newer one, so a
// reader that loaded a record before a ban cannot re-cache the pre-ban flags.
type PermissionCache struct {
	redis    *redis.Client
	logger   *zap.Logger
	memCache *MemoryCache
	ttl      time.Duration
}

// MemoryCache is the in-process layer
type MemoryCache struct {
	mu     sync.RWMutex
	data   map[string]*CacheEntry
	maxAge time.Duration
	stop   chan struct{}
	once   sync.Once
}

type CacheEntry struct {
	Summary  models.TrustSummary
	CachedAt time.Time
}

// NewPermissionCache builds the cache. redisClient may be nil for a
// process-only cache.
func NewPermissionCache(redisClient *redis.Client, ttl time.Duration, logger *zap.Logger) *PermissionCache {
	return &PermissionCache{
		redis:    redisClient,
		logger:   logger,
		memCache: NewMemoryCache(ttl),
		ttl:      ttl,
	}
}

func NewMemoryCache(maxAge time.Duration) *MemoryCache {
	cache := &MemoryCache{
		data:   make(map[string]*CacheEntry),
		maxAge: maxAge,
		stop:   make(chan struct{}),
	}

	go cache.cleanup()

	return cache
}

// Get returns a cached summary. Entries whose temporary ban has expired are
// treated as misses.
func (pc *PermissionCache) Get(ctx context.Context, userID string) (*models.TrustSummary, bool) {
	key := pc.cacheKey(userID)
	now := time.Now()

	if pc.redis == nil {
		s := pc.memCache.Get(key)
		if s == nil || banExpired(s, now) {
			return nil, false
		}
		return s, true
	}

	data, err := pc.redis.GetVersioned(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.ErrKeyNotFound) {
			pc.logger.Warn("permission cache read failed", zap.String("user_id", userID), zap.Error(err))
		}
		return nil, false
	}

	var s models.TrustSummary
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		pc.logger.Warn("permission cache entry corrupt", zap.String("user_id", userID), zap.Error(err))
		return nil, false
	}
	if banExpired(&s, now) {
		return nil, false
	}
	return &s, true
}

// Set stores a summary unless the cache already holds a newer version. When
// the write fails the entry is dropped so no older version lingers.
func (pc *PermissionCache) Set(ctx context.Context, s models.TrustSummary) {
	key := pc.cacheKey(s.UserID)

	if pc.redis == nil {
		pc.memCache.SetIfNewer(key, &s)
		return
	}
	data, err := json.Marshal(s)
	if err != nil {
		pc.logger.Error("failed to marshal trust summary", zap.Error(err))
		pc.Invalidate(ctx, s.UserID)
		return
	}
	if _, err := pc.redis.SetIfNewer(ctx, key, s.Version, data, pc.ttl); err != nil {
		pc.logger.Warn("permission cache write failed", zap.String("key", key), zap.Error(err))
		pc.Invalidate(ctx, s.UserID)
	}
}

// Invalidate drops a user's entry
func (pc *PermissionCache) Invalidate(ctx context.Context, userID string) {
	key := pc.cacheKey(userID)
	pc.memCache.Delete(key)

	if pc.redis == nil {
		return
	}
	if err := pc.redis.Delete(ctx, key); err != nil {
		pc.logger.Warn("permission cache invalidation failed", zap.String("key", key), zap.Error(err))
	}
}

// Stats describes the cache for the readiness probe.
func (pc *PermissionCache) Stats() map[string]interface{} {
	pc.memCache.mu.RLock()
	defer pc.memCache.mu.RUnlock()

	backend := "memory"
	if pc.redis != nil {
		backend = "redis"
	}
	return map[string]interface{}{
		"backend":           backend,
		"ttl":               pc.ttl.String(),
		"memory_cache_size": len(pc.memCache.data),
	}
}

func (pc *PermissionCache) Close() {
	pc.memCache.Close()
}

func (pc *PermissionCache) cacheKey(userID string) string {
	return fmt.Sprintf("trust:summary:%s", userID)
}

func banExpired(s *models.TrustSummary, now time.Time) bool {
	return s.Flags.IsTemporarilyBanned && s.BanExpiresAt != nil && !now.Before(*s.BanExpiresAt)
}

func (mc *MemoryCache) Get(key string) *models.TrustSummary {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	entry, exists := mc.data[key]
	if !exists || time.Since(entry.CachedAt) > mc.maxAge {
		return nil
	}
	s := entry.Summary
	return &s
}

// SetIfNewer stores s unless a live entry already has the same or a later
// version.
func (mc *MemoryCache) SetIfNewer(key string, s *models.TrustSummary) bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if cur, ok := mc.data[key]; ok && time.Since(cur.CachedAt) <= mc.maxAge && cur.Summary.Version >= s.Version {
		return false
	}
	mc.data[key] = &CacheEntry{
		Summary:  *s,
		CachedAt: time.Now(),
	}
	return true
}

func (mc *MemoryCache) Delete(key string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	delete(mc.data, key)
}

func (mc *MemoryCache) Close() {
	mc.once.Do(func() { close(mc.stop) })
}

// cleanup periodically removes expired entries
func (mc *MemoryCache) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-mc.stop:
			return
		case <-ticker.C:
			mc.mu.Lock()
			now := time.Now()
			for key, entry := range mc.data {
				if now.Sub(entry.CachedAt) > mc.maxAge {
					delete(mc.data, key)
				}
			}
			mc.mu.Unlock()
		}
	}
}
