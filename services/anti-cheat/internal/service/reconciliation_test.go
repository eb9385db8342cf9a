// services/anti-cheat/internal/service/reconciliation_test.go
package service

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"trust-defense/services/anti-cheat/internal/models"
)

func TestTrustReconcilerFindsAndRepairsDrift(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.score(t, "healthy")
	drifted := env.score(t, "drifted")

	// Simulate a partial write: score moved without level, flags or history.
	drifted.Score = 10
	if err := env.trustRepo.Save(ctx, drifted); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reconciler := NewTrustReconciler(env.trust, zap.NewNop())

	report, err := reconciler.Reconcile(ctx, false)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if report.Checked != 2 || report.Drifted != 1 || report.HistoryGaps != 1 || report.IsConsistent {
		t.Errorf("dry run report = %+v, want one drifted record with a history gap", report)
	}
	if report.Repaired != 0 {
		t.Errorf("dry run Repaired = %d, want 0", report.Repaired)
	}

	report, err = reconciler.Reconcile(ctx, true)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if report.Repaired != 1 {
		t.Errorf("Repaired = %d, want 1", report.Repaired)
	}

	ts := env.score(t, "drifted")
	if ts.Level != models.TrustLevelBanned || ts.Flags.CanVote {
		t.Errorf("after repair level %s flags %+v, want banned", ts.Level, ts.Flags)
	}
	if ts.HistorySum() != ts.Score {
		t.Errorf("HistorySum() = %d, want %d", ts.HistorySum(), ts.Score)
	}

	report, err = reconciler.Reconcile(ctx, false)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if !report.IsConsistent {
		t.Errorf("report after repair = %+v, want consistent", report)
	}
}
