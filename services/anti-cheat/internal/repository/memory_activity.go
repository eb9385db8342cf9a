// services/anti-cheat/internal/repository/memory_activity.go
package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"trust-defense/services/anti-cheat/internal/models"
)

type MemoryActivityRepository struct {
	mu      sync.RWMutex
	votes   map[string]*models.Vote
	battles []*models.Battle
}

func NewMemoryActivityRepository() *MemoryActivityRepository {
	return &MemoryActivityRepository{votes: make(map[string]*models.Vote)}
}

func voteKey(userID, battleID string) string {
	return userID + "|" + battleID
}

func (r *MemoryActivityRepository) RecordVote(ctx context.Context, v *models.Vote) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := voteKey(v.UserID, v.BattleID)
	if _, exists := r.votes[key]; exists {
		return ErrDuplicate
	}
	cp := *v
	r.votes[key] = &cp
	return nil
}

func (r *MemoryActivityRepository) HasVoted(ctx context.Context, userID, battleID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.votes[voteKey(userID, battleID)]
	return ok, nil
}

func (r *MemoryActivityRepository) RecordBattle(ctx context.Context, b *models.Battle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *b
	r.battles = append(r.battles, &cp)
	return nil
}

func (r *MemoryActivityRepository) CountBattlesSince(ctx context.Context, userID string, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, b := range r.battles {
		if b.CreatorID == userID && !b.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

type MemoryModerationLogRepository struct {
	mu   sync.RWMutex
	logs []*models.ModerationLog
}

func NewMemoryModerationLogRepository() *MemoryModerationLogRepository {
	return &MemoryModerationLogRepository{}
}

func (r *MemoryModerationLogRepository) Create(ctx context.Context, log *models.ModerationLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *log
	r.logs = append(r.logs, &cp)
	return nil
}

func (r *MemoryModerationLogRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.ModerationLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.ModerationLog, 0)
	for i := len(r.logs) - 1; i >= 0; i-- {
		if r.logs[i].UserID != userID {
			continue
		}
		cp := *r.logs[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryModerationLogRepository) CountByCategory(ctx context.Context, from, to time.Time) (map[models.ModerationCategory]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[models.ModerationCategory]int)
	for _, l := range r.logs {
		if l.Violated && inRange(l.CreatedAt, from, to) {
			counts[l.Category]++
		}
	}
	return counts, nil
}

type MemoryAuditRepository struct {
	mu      sync.RWMutex
	entries []*models.AuditEntry
}

func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{}
}

func (r *MemoryAuditRepository) Append(ctx context.Context, entry *models.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *entry
	cp.ChangedFields = append([]string(nil), entry.ChangedFields...)
	r.entries = append(r.entries, &cp)
	return nil
}

func (r *MemoryAuditRepository) List(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*models.AuditEntry, 0)
	for _, e := range r.entries {
		if filter.Actor != "" && e.Actor != filter.Actor {
			continue
		}
		if filter.TargetType != "" && e.TargetType != filter.TargetType {
			continue
		}
		if filter.Target != "" && e.Target != filter.Target {
			continue
		}
		cp := *e
		matched = append(matched, &cp)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginate(matched, filter.Limit, filter.Offset), nil
}

// MemoryCounter is a process-local CounterStore for tests and single-node runs.
type MemoryCounter struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]time.Time
	nowFn   func() time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		counts:  make(map[string]int64),
		expires: make(map[string]time.Time),
		nowFn:   time.Now,
	}
}

func (c *MemoryCounter) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFn()
	if exp, ok := c.expires[key]; ok && !now.Before(exp) {
		delete(c.counts, key)
		delete(c.expires, key)
	}
	c.counts[key]++
	if c.counts[key] == 1 {
		c.expires[key] = now.Add(window)
	}
	return c.counts[key], nil
}
