// services/anti-cheat/internal/repository/memory_trust.go
package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"trust-defense/services/anti-cheat/internal/models"
)

type MemoryTrustRepository struct {
	mu     sync.RWMutex
	scores map[string]*models.TrustScore
}

func NewMemoryTrustRepository() *MemoryTrustRepository {
	return &MemoryTrustRepository{scores: make(map[string]*models.TrustScore)}
}

func (r *MemoryTrustRepository) Get(ctx context.Context, userID string) (*models.TrustScore, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ts, ok := r.scores[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return ts.Clone(), nil
}

func (r *MemoryTrustRepository) Save(ctx context.Context, ts *models.TrustScore) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.scores[ts.UserID]
	switch {
	case ts.Version == 0 && exists:
		return ErrVersionConflict
	case ts.Version != 0 && (!exists || current.Version != ts.Version):
		return ErrVersionConflict
	}

	ts.Version++
	r.scores[ts.UserID] = ts.Clone()
	return nil
}

func (r *MemoryTrustRepository) List(ctx context.Context, filter TrustFilter) ([]*models.TrustScore, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*models.TrustScore, 0)
	for _, ts := range r.scores {
		if filter.Level != "" && ts.Level != filter.Level {
			continue
		}
		if filter.ShadowBanned != nil && ts.Flags.IsShadowBanned != *filter.ShadowBanned {
			continue
		}
		if filter.Banned != nil && ts.IsBanned() != *filter.Banned {
			continue
		}
		matched = append(matched, ts)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Score != matched[j].Score {
			return matched[i].Score < matched[j].Score
		}
		return matched[i].UserID < matched[j].UserID
	})

	page := paginate(matched, filter.Limit, filter.Offset)
	out := make([]*models.TrustScore, len(page))
	for i, ts := range page {
		out[i] = ts.Clone()
	}
	return out, len(matched), nil
}

func (r *MemoryTrustRepository) ListExpiredTemporaryBans(ctx context.Context, now time.Time, limit int) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0)
	for id, ts := range r.scores {
		if ts.TemporaryBanExpired(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r *MemoryTrustRepository) ListAll(ctx context.Context, afterUserID string, limit int) ([]*models.TrustScore, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.scores))
	for id := range r.scores {
		if id > afterUserID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]*models.TrustScore, len(ids))
	for i, id := range ids {
		out[i] = r.scores[id].Clone()
	}
	return out, nil
}

func (r *MemoryTrustRepository) Stats(ctx context.Context) (models.TrustStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := models.TrustStats{ByLevel: make(map[models.TrustLevel]int)}
	var total int
	for _, ts := range r.scores {
		stats.Total++
		total += ts.Score
		stats.ByLevel[ts.Level]++
		if ts.Flags.IsShadowBanned {
			stats.ShadowBanned++
		}
		if ts.Flags.IsTemporarilyBanned {
			stats.TempBanned++
		}
		if ts.Flags.IsPermanentlyBanned {
			stats.PermBanned++
		}
	}
	if stats.Total > 0 {
		stats.AverageScore = float64(total) / float64(stats.Total)
	}
	return stats, nil
}
