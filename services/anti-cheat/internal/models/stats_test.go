// services/anti-cheat/internal/models/stats_test.go
package models

import (
	"math"
	"testing"
	"time"
)

func TestBuildDetectionStats(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	reviewed := func(d time.Duration) *time.Time {
		at := base.Add(d)
		return &at
	}

	detections := []*FraudDetection{
		{Type: FraudTypeVote, Status: StatusConfirmed, Severity: SeverityHigh, ReviewedBy: "a1", ReviewedAt: reviewed(30 * time.Minute), CreatedAt: base},
		{Type: FraudTypeVote, Status: StatusFalsePositive, Severity: SeverityHigh, ReviewedBy: "a1", ReviewedAt: reviewed(90 * time.Minute), CreatedAt: base},
		{Type: FraudTypeVote, Status: StatusConfirmed, Severity: SeverityMedium, ReviewedBy: "a2", ReviewedAt: reviewed(10 * time.Minute), CreatedAt: base},
		{Type: FraudTypeMultiAccount, Status: StatusPending, Severity: SeverityHigh, IsActive: true, CreatedAt: base.Add(24 * time.Hour)},
	}

	stats := BuildDetectionStats(TallyDetections(detections), time.Time{}, time.Time{})

	if stats.Total != 4 || stats.Active != 1 {
		t.Errorf("Total %d Active %d, want 4 and 1", stats.Total, stats.Active)
	}
	if stats.AccuracyRate != 0.5 {
		t.Errorf("AccuracyRate = %v, want 0.5", stats.AccuracyRate)
	}
	if stats.FalsePositiveRate != 0.25 {
		t.Errorf("FalsePositiveRate = %v, want 0.25", stats.FalsePositiveRate)
	}

	var votePrecision float64
	for _, p := range stats.Precision {
		if p.Type == FraudTypeVote {
			votePrecision = p.Precision
		}
	}
	if math.Abs(votePrecision-2.0/3.0) > 1e-9 {
		t.Errorf("vote precision = %v, want 2/3", votePrecision)
	}

	if len(stats.DailyTrend) != 2 || stats.DailyTrend[0].Date != "2024-03-01" || stats.DailyTrend[0].Count != 3 {
		t.Errorf("DailyTrend = %+v, want two days starting 2024-03-01 with 3", stats.DailyTrend)
	}

	if len(stats.Reviewers) != 2 {
		t.Fatalf("len(Reviewers) = %d, want 2", len(stats.Reviewers))
	}
	a1 := stats.Reviewers[0]
	if a1.ReviewerID != "a1" || a1.Reviews != 2 || a1.AvgMinutesToReview != 60 {
		t.Errorf("a1 = %+v, want 2 reviews averaging 60 minutes", a1)
	}
}
