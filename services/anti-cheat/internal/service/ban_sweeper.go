// services/anti-cheat/internal/service/ban_sweeper.go
package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// BanSweeper lifts expired temporary bans on a fixed interval. Expiry lives
// on the record, so a restart loses nothing.
type BanSweeper struct {
	engine   *TrustEngine
	interval time.Duration
	logger   *zap.Logger
}

func NewBanSweeper(engine *TrustEngine, interval time.Duration, logger *zap.Logger) *BanSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &BanSweeper{engine: engine, interval: interval, logger: logger}
}

// Run sweeps until ctx is cancelled.
func (s *BanSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("ban sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ban sweeper stopped")
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns the number of bans lifted.
func (s *BanSweeper) Sweep(ctx context.Context) int {
	lifted, err := s.engine.LiftExpiredBans(ctx)
	if err != nil {
		s.logger.Error("ban sweep failed", zap.Error(err))
	}
	if lifted > 0 {
		s.logger.Info("lifted expired temporary bans", zap.Int("count", lifted))
	}
	return lifted
}
