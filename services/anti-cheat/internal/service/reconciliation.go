// services/anti-cheat/internal/service/reconciliation.go
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trust-defense/services/anti-cheat/internal/models"
)

const reconcilePageSize = 200

// TrustReconciler checks every trust record for derived-state drift: level
// and flags that disagree with the score, and history that does not sum to
// the score.
type TrustReconciler struct {
	engine *TrustEngine
	logger *zap.Logger
}

func NewTrustReconciler(engine *TrustEngine, logger *zap.Logger) *TrustReconciler {
	return &TrustReconciler{engine: engine, logger: logger}
}

// Reconcile walks all records. With repair set, drifted records are rewritten
// and history gaps are closed with a reconciliation entry.
func (r *TrustReconciler) Reconcile(ctx context.Context, repair bool) (*models.ReconciliationReport, error) {
	r.logger.Info("starting trust reconciliation", zap.Bool("repair", repair))

	report := &models.ReconciliationReport{
		ID:            uuid.New().String(),
		Discrepancies: []string{},
		IsConsistent:  true,
		CreatedAt:     time.Now(),
	}

	after := ""
	for {
		page, err := r.engine.repo.ListAll(ctx, after, reconcilePageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list trust scores: %w", err)
		}
		if len(page) == 0 {
			break
		}

		for _, ts := range page {
			report.Checked++
			drift, gap := inspect(ts)
			if !drift && gap == 0 {
				continue
			}

			report.IsConsistent = false
			if drift {
				report.Drifted++
				report.Discrepancies = append(report.Discrepancies,
					fmt.Sprintf("%s: stored level %s, score %d implies %s", ts.UserID, ts.Level, ts.Score, models.LevelForScore(models.ClampScore(ts.Score))))
			}
			if gap != 0 {
				report.HistoryGaps++
				report.Discrepancies = append(report.Discrepancies,
					fmt.Sprintf("%s: history sums to %d, score is %d", ts.UserID, ts.HistorySum(), ts.Score))
			}

			if repair {
				if err := r.repair(ctx, ts.UserID); err != nil {
					r.logger.Error("failed to repair trust score", zap.String("user_id", ts.UserID), zap.Error(err))
					continue
				}
				report.Repaired++
			}
		}

		after = page[len(page)-1].UserID
		if len(page) < reconcilePageSize {
			break
		}
	}

	r.logger.Info("trust reconciliation completed",
		zap.Int("checked", report.Checked),
		zap.Int("drifted", report.Drifted),
		zap.Int("history_gaps", report.HistoryGaps),
		zap.Int("repaired", report.Repaired))

	return report, nil
}

func (r *TrustReconciler) repair(ctx context.Context, userID string) error {
	_, err := r.engine.mutate(ctx, userID, HistoryReconciliation, func(ts *models.TrustScore, now time.Time) (bool, error) {
		drift, gap := inspect(ts)
		if !drift && gap == 0 {
			return false, nil
		}
		ts.Recompute()
		if gap := ts.Score - ts.HistorySum(); gap != 0 {
			ts.History = append(ts.History, models.HistoryEntry{
				Action:    HistoryReconciliation,
				Points:    gap,
				Reason:    "History realigned with stored score",
				Timestamp: now,
			})
		}
		return true, nil
	})
	return err
}

// inspect reports level/flag drift and the score minus the history sum.
func inspect(ts *models.TrustScore) (drift bool, gap int) {
	want := ts.Clone()
	want.Recompute()
	drift = want.Score != ts.Score || want.Level != ts.Level || want.Flags != ts.Flags
	return drift, ts.Score - ts.HistorySum()
}

// Run reconciles with repair on every interval until ctx is cancelled.
func (r *TrustReconciler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Reconcile(ctx, true); err != nil {
				r.logger.Error("scheduled reconciliation failed", zap.Error(err))
			}
		}
	}
}
