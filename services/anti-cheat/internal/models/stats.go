// services/anti-cheat/internal/models/stats.go
package models

import (
	"sort"
	"time"
)

type DailyCount struct {
	Date  string `json:"date" bson:"_id"`
	Count int    `json:"count" bson:"count"`
}

type ReviewerPerformance struct {
	ReviewerID         string  `json:"reviewer_id"`
	Reviews            int     `json:"reviews"`
	Confirmed          int     `json:"confirmed"`
	FalsePositives     int     `json:"false_positives"`
	AvgMinutesToReview float64 `json:"avg_minutes_to_review"`
}

type TypePrecision struct {
	Type           FraudType `json:"type"`
	Confirmed      int       `json:"confirmed"`
	FalsePositives int       `json:"false_positives"`
	Precision      float64   `json:"precision"`
}

type DetectionStats struct {
	From              time.Time               `json:"from"`
	To                time.Time               `json:"to"`
	Total             int                     `json:"total"`
	Active            int                     `json:"active"`
	ByType            map[FraudType]int       `json:"by_type"`
	ByStatus          map[DetectionStatus]int `json:"by_status"`
	BySeverity        map[Severity]int        `json:"by_severity"`
	AccuracyRate      float64                 `json:"accuracy_rate"`
	FalsePositiveRate float64                 `json:"false_positive_rate"`
	Precision         []TypePrecision         `json:"precision"`
	DailyTrend        []DailyCount            `json:"daily_trend"`
	Reviewers         []ReviewerPerformance   `json:"reviewers"`
}

// DetectionTally is one group of a store-side count of detections, keyed by
// type, status, severity and UTC creation day.
type DetectionTally struct {
	Type     FraudType       `bson:"type"`
	Status   DetectionStatus `bson:"status"`
	Severity Severity        `bson:"severity"`
	Day      string          `bson:"day"`
	Count    int             `bson:"count"`
	Active   int             `bson:"active"`
}

// ReviewerTally counts one reviewer's decisions of one status.
type ReviewerTally struct {
	ReviewerID string          `bson:"reviewer"`
	Status     DetectionStatus `bson:"status"`
	Count      int             `bson:"count"`
	Minutes    float64         `bson:"minutes"`
}

type DetectionTallies struct {
	Groups    []DetectionTally `bson:"groups"`
	Reviewers []ReviewerTally  `bson:"reviewers"`
}

// TallyDetections groups detections the way the store aggregation does.
func TallyDetections(detections []*FraudDetection) DetectionTallies {
	type groupKey struct {
		t   FraudType
		st  DetectionStatus
		sev Severity
		day string
	}
	type reviewerKey struct {
		id string
		st DetectionStatus
	}
	groups := make(map[groupKey]*DetectionTally)
	reviewers := make(map[reviewerKey]*ReviewerTally)

	for _, d := range detections {
		k := groupKey{d.Type, d.Status, d.Severity, d.CreatedAt.UTC().Format("2006-01-02")}
		g := groups[k]
		if g == nil {
			g = &DetectionTally{Type: k.t, Status: k.st, Severity: k.sev, Day: k.day}
			groups[k] = g
		}
		g.Count++
		if d.IsActive {
			g.Active++
		}

		if d.ReviewedBy == "" || d.ReviewedAt == nil {
			continue
		}
		rk := reviewerKey{d.ReviewedBy, d.Status}
		r := reviewers[rk]
		if r == nil {
			r = &ReviewerTally{ReviewerID: rk.id, Status: rk.st}
			reviewers[rk] = r
		}
		r.Count++
		r.Minutes += d.ReviewedAt.Sub(d.CreatedAt).Minutes()
	}

	var out DetectionTallies
	for _, g := range groups {
		out.Groups = append(out.Groups, *g)
	}
	for _, r := range reviewers {
		out.Reviewers = append(out.Reviewers, *r)
	}
	return out
}

// BuildDetectionStats turns tallies into the dashboard figures.
func BuildDetectionStats(t DetectionTallies, from, to time.Time) DetectionStats {
	stats := DetectionStats{
		From:       from,
		To:         to,
		ByType:     make(map[FraudType]int),
		ByStatus:   make(map[DetectionStatus]int),
		BySeverity: make(map[Severity]int),
		Precision:  []TypePrecision{},
		DailyTrend: []DailyCount{},
		Reviewers:  []ReviewerPerformance{},
	}

	perType := make(map[FraudType]*TypePrecision)
	daily := make(map[string]int)
	for _, g := range t.Groups {
		stats.Total += g.Count
		stats.Active += g.Active
		stats.ByType[g.Type] += g.Count
		stats.ByStatus[g.Status] += g.Count
		stats.BySeverity[g.Severity] += g.Count
		daily[g.Day] += g.Count

		p := perType[g.Type]
		if p == nil {
			p = &TypePrecision{Type: g.Type}
			perType[g.Type] = p
		}
		switch g.Status {
		case StatusConfirmed:
			p.Confirmed += g.Count
		case StatusFalsePositive:
			p.FalsePositives += g.Count
		}
	}

	if stats.Total > 0 {
		stats.AccuracyRate = float64(stats.ByStatus[StatusConfirmed]) / float64(stats.Total)
		stats.FalsePositiveRate = float64(stats.ByStatus[StatusFalsePositive]) / float64(stats.Total)
	}

	for _, p := range perType {
		if n := p.Confirmed + p.FalsePositives; n > 0 {
			p.Precision = float64(p.Confirmed) / float64(n)
		}
		stats.Precision = append(stats.Precision, *p)
	}
	sort.Slice(stats.Precision, func(i, j int) bool { return stats.Precision[i].Type < stats.Precision[j].Type })

	for day, n := range daily {
		stats.DailyTrend = append(stats.DailyTrend, DailyCount{Date: day, Count: n})
	}
	sort.Slice(stats.DailyTrend, func(i, j int) bool { return stats.DailyTrend[i].Date < stats.DailyTrend[j].Date })

	type reviewer struct {
		perf    ReviewerPerformance
		minutes float64
	}
	byReviewer := make(map[string]*reviewer)
	for _, r := range t.Reviewers {
		rv := byReviewer[r.ReviewerID]
		if rv == nil {
			rv = &reviewer{perf: ReviewerPerformance{ReviewerID: r.ReviewerID}}
			byReviewer[r.ReviewerID] = rv
		}
		rv.perf.Reviews += r.Count
		rv.minutes += r.Minutes
		switch r.Status {
		case StatusConfirmed:
			rv.perf.Confirmed += r.Count
		case StatusFalsePositive:
			rv.perf.FalsePositives += r.Count
		}
	}
	for _, rv := range byReviewer {
		if rv.perf.Reviews > 0 {
			rv.perf.AvgMinutesToReview = rv.minutes / float64(rv.perf.Reviews)
		}
		stats.Reviewers = append(stats.Reviewers, rv.perf)
	}
	sort.Slice(stats.Reviewers, func(i, j int) bool { return stats.Reviewers[i].ReviewerID < stats.Reviewers[j].ReviewerID })

	return stats
}

type TrustStats struct {
	Total        int                `json:"total"`
	AverageScore float64            `json:"average_score"`
	ByLevel      map[TrustLevel]int `json:"by_level"`
	ShadowBanned int                `json:"shadow_banned"`
	TempBanned   int                `json:"temporarily_banned"`
	PermBanned   int                `json:"permanently_banned"`
}

type DeviceStats struct {
	Total        int     `json:"total"`
	MultiAccount int     `json:"multi_account"`
	Suspicious   int     `json:"suspicious"`
	Blocked      int     `json:"blocked"`
	Bots         int     `json:"bots"`
	HighRisk     int     `json:"high_risk"`
	AverageRisk  float64 `json:"average_risk"`
}

type Statistics struct {
	Detections DetectionStats             `json:"detections"`
	Trust      TrustStats                 `json:"trust"`
	Devices    DeviceStats                `json:"devices"`
	Moderation map[ModerationCategory]int `json:"moderation"`
}

// ReconciliationReport lists trust records whose derived state drifted.
type ReconciliationReport struct {
	ID            string    `json:"id"`
	Checked       int       `json:"checked"`
	Drifted       int       `json:"drifted"`
	Repaired      int       `json:"repaired"`
	HistoryGaps   int       `json:"history_gaps"`
	Discrepancies []string  `json:"discrepancies"`
	IsConsistent  bool      `json:"is_consistent"`
	CreatedAt     time.Time `json:"created_at"`
}
