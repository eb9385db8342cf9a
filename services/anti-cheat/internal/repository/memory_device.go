// services/anti-cheat/internal/repository/memory_device.go
package repository

import (
	"context"
	"sort"
	"sync"

	"trust-defense/services/anti-cheat/internal/models"
)

type MemoryDeviceRepository struct {
	mu      sync.RWMutex
	devices map[string]*models.DeviceFingerprint
}

func NewMemoryDeviceRepository() *MemoryDeviceRepository {
	return &MemoryDeviceRepository{devices: make(map[string]*models.DeviceFingerprint)}
}

func (r *MemoryDeviceRepository) Get(ctx context.Context, fingerprint string) (*models.DeviceFingerprint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[fingerprint]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

func (r *MemoryDeviceRepository) Save(ctx context.Context, d *models.DeviceFingerprint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.devices[d.Fingerprint]
	switch {
	case d.Version == 0 && exists:
		return ErrVersionConflict
	case d.Version != 0 && (!exists || current.Version != d.Version):
		return ErrVersionConflict
	}

	d.Version++
	r.devices[d.Fingerprint] = d.Clone()
	return nil
}

func (r *MemoryDeviceRepository) CountUsersByIP(ctx context.Context, ip string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make(map[string]struct{})
	for _, d := range r.devices {
		for _, rec := range d.IPAddresses {
			if rec.Address != ip {
				continue
			}
			for _, id := range d.UserIDs {
				users[id] = struct{}{}
			}
			break
		}
	}
	return len(users), nil
}

func (r *MemoryDeviceRepository) List(ctx context.Context, filter DeviceFilter) ([]*models.DeviceFingerprint, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*models.DeviceFingerprint, 0)
	for _, d := range r.devices {
		if filter.MultiAccountOnly && !d.Flags.IsMultiAccount {
			continue
		}
		if filter.SuspiciousOnly && !d.Flags.IsSuspicious {
			continue
		}
		if filter.BlockedOnly && !d.Flags.IsBlocked {
			continue
		}
		if d.RiskScore < filter.MinRisk {
			continue
		}
		matched = append(matched, d)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].RiskScore != matched[j].RiskScore {
			return matched[i].RiskScore > matched[j].RiskScore
		}
		return matched[i].Fingerprint < matched[j].Fingerprint
	})

	page := paginate(matched, filter.Limit, filter.Offset)
	out := make([]*models.DeviceFingerprint, len(page))
	for i, d := range page {
		out[i] = d.Clone()
	}
	return out, len(matched), nil
}

func (r *MemoryDeviceRepository) Stats(ctx context.Context) (models.DeviceStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats models.DeviceStats
	var risk int
	for _, d := range r.devices {
		stats.Total++
		risk += d.RiskScore
		if d.Flags.IsMultiAccount {
			stats.MultiAccount++
		}
		if d.Flags.IsSuspicious {
			stats.Suspicious++
		}
		if d.Flags.IsBlocked {
			stats.Blocked++
		}
		if d.Flags.IsBot {
			stats.Bots++
		}
		if d.RiskScore > models.HighRiskThreshold {
			stats.HighRisk++
		}
	}
	if stats.Total > 0 {
		stats.AverageRisk = float64(risk) / float64(stats.Total)
	}
	return stats, nil
}
