// services/anti-cheat/internal/repository/memory_detection.go
package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"trust-defense/services/anti-cheat/internal/models"
)

type MemoryDetectionRepository struct {
	mu         sync.RWMutex
	detections map[string]*models.FraudDetection
	byEvidence map[string]string
}

func NewMemoryDetectionRepository() *MemoryDetectionRepository {
	return &MemoryDetectionRepository{
		detections: make(map[string]*models.FraudDetection),
		byEvidence: make(map[string]string),
	}
}

func (r *MemoryDetectionRepository) CreateIfAbsent(ctx context.Context, d *models.FraudDetection) (*models.FraudDetection, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d.EvidenceKey != "" {
		if id, ok := r.byEvidence[d.EvidenceKey]; ok {
			return r.detections[id].Clone(), false, nil
		}
	}
	if _, exists := r.detections[d.ID]; exists {
		return nil, false, ErrDuplicate
	}

	d.Version = 1
	r.detections[d.ID] = d.Clone()
	if d.EvidenceKey != "" {
		r.byEvidence[d.EvidenceKey] = d.ID
	}
	return d.Clone(), true, nil
}

func (r *MemoryDetectionRepository) Get(ctx context.Context, id string) (*models.FraudDetection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.detections[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

func (r *MemoryDetectionRepository) Update(ctx context.Context, d *models.FraudDetection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.detections[d.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != d.Version {
		return ErrVersionConflict
	}

	d.Version++
	r.detections[d.ID] = d.Clone()
	return nil
}

func (r *MemoryDetectionRepository) List(ctx context.Context, filter DetectionFilter) ([]*models.FraudDetection, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*models.FraudDetection, 0)
	for _, d := range r.detections {
		if matchesDetection(d, filter) {
			matched = append(matched, d)
		}
	}
	sortNewestFirst(matched)

	page := paginate(matched, filter.Limit, filter.Offset)
	out := make([]*models.FraudDetection, len(page))
	for i, d := range page {
		out[i] = d.Clone()
	}
	return out, len(matched), nil
}

func (r *MemoryDetectionRepository) Tally(ctx context.Context, from, to time.Time) (models.DetectionTallies, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*models.FraudDetection, 0)
	for _, d := range r.detections {
		if inRange(d.CreatedAt, from, to) {
			matched = append(matched, d)
		}
	}
	return models.TallyDetections(matched), nil
}

func matchesDetection(d *models.FraudDetection, f DetectionFilter) bool {
	switch {
	case f.UserID != "" && d.UserID != f.UserID:
		return false
	case f.Type != "" && d.Type != f.Type:
		return false
	case f.Status != "" && d.Status != f.Status:
		return false
	case f.Severity != "" && d.Severity != f.Severity:
		return false
	case f.ActiveOnly && !d.IsActive:
		return false
	}
	return inRange(d.CreatedAt, f.From, f.To)
}

// inRange treats zero bounds as open.
func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

func sortNewestFirst(ds []*models.FraudDetection) {
	sort.Slice(ds, func(i, j int) bool {
		if !ds[i].CreatedAt.Equal(ds[j].CreatedAt) {
			return ds[i].CreatedAt.After(ds[j].CreatedAt)
		}
		return ds[i].ID < ds[j].ID
	})
}
