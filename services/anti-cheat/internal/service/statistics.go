// services/anti-cheat/internal/service/statistics.go
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trust-defense/services/anti-cheat/internal/models"
	"trust-defense/services/anti-cheat/internal/repository"
)

type StatisticsService struct {
	detections repository.DetectionRepository
	moderation repository.ModerationLogRepository
	trust      *TrustEngine
	devices    *DeviceRegistry
	logger     *zap.Logger
}

func NewStatisticsService(detections repository.DetectionRepository, moderation repository.ModerationLogRepository, trust *TrustEngine, devices *DeviceRegistry, logger *zap.Logger) *StatisticsService {
	return &StatisticsService{
		detections: detections,
		moderation: moderation,
		trust:      trust,
		devices:    devices,
		logger:     logger,
	}
}

// Compute builds the admin dashboard for detections created in [from, to).
// Counts are aggregated by the stores and the four sources are read
// concurrently.
func (s *StatisticsService) Compute(ctx context.Context, from, to time.Time) (*models.Statistics, error) {
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return nil, invalidf("from must be before to")
	}

	var (
		out     models.Statistics
		tallies models.DetectionTallies
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tallies, err = s.detections.Tally(gctx, from, to)
		if err != nil {
			return fmt.Errorf("tally detections: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		out.Trust, err = s.trust.Stats(gctx)
		if err != nil {
			return fmt.Errorf("trust stats: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		out.Devices, err = s.devices.Stats(gctx)
		if err != nil {
			return fmt.Errorf("device stats: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		out.Moderation, err = s.moderation.CountByCategory(gctx, from, to)
		if err != nil {
			return fmt.Errorf("moderation stats: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out.Detections = models.BuildDetectionStats(tallies, from, to)
	return &out, nil
}
