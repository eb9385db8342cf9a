// services/anti-cheat/internal/models/fraud.go
package models

import "time"

type FraudType string
type Severity string
type DetectionStatus string
type ReviewAction string

const (
	FraudTypeVote               FraudType = "vote_fraud"
	FraudTypeMultiAccount       FraudType = "multi_account"
	FraudTypeNSFWContent        FraudType = "nsfw_content"
	FraudTypeSpamBattle         FraudType = "spam_battle"
	FraudTypeAIAbuse            FraudType = "ai_abuse"
	FraudTypeSuspiciousActivity FraudType = "suspicious_activity"

	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"

	StatusPending       DetectionStatus = "pending"
	StatusReviewed      DetectionStatus = "reviewed"
	StatusConfirmed     DetectionStatus = "confirmed"
	StatusFalsePositive DetectionStatus = "false_positive"
	StatusResolved      DetectionStatus = "resolved"

	ReviewActionNone           ReviewAction = "none"
	ReviewActionWarning        ReviewAction = "warning"
	ReviewActionShadowban      ReviewAction = "shadowban"
	ReviewActionTemporaryBan   ReviewAction = "temporary_ban"
	ReviewActionPermanentBan   ReviewAction = "permanent_ban"
	ReviewActionContentRemoval ReviewAction = "content_removal"
)

var FraudTypes = []FraudType{
	FraudTypeVote, FraudTypeMultiAccount, FraudTypeNSFWContent,
	FraudTypeSpamBattle, FraudTypeAIAbuse, FraudTypeSuspiciousActivity,
}

func (t FraudType) Valid() bool {
	for _, known := range FraudTypes {
		if t == known {
			return true
		}
	}
	return false
}

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Escalate returns the next severity up, saturating at critical.
func (s Severity) Escalate() Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

func (s DetectionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusReviewed, StatusConfirmed, StatusFalsePositive, StatusResolved:
		return true
	}
	return false
}

func (a ReviewAction) Valid() bool {
	switch a {
	case ReviewActionNone, ReviewActionWarning, ReviewActionShadowban,
		ReviewActionTemporaryBan, ReviewActionPermanentBan, ReviewActionContentRemoval:
		return true
	}
	return false
}

type Geo struct {
	Country     string    `json:"country,omitempty" bson:"country,omitempty"`
	Region      string    `json:"region,omitempty" bson:"region,omitempty"`
	City        string    `json:"city,omitempty" bson:"city,omitempty"`
	Coordinates []float64 `json:"coordinates,omitempty" bson:"coordinates,omitempty"`
}

type DetectionMetadata struct {
	DeviceID  string `json:"device_id,omitempty" bson:"device_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty" bson:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty" bson:"user_agent,omitempty"`
	SessionID string `json:"session_id,omitempty" bson:"session_id,omitempty"`
	Geo       *Geo   `json:"geo,omitempty" bson:"geo,omitempty"`
}

// FraudDetection is the evidence record kept for human review. ActionPending
// is set when a confirm or false-positive decision is saved and cleared once
// its ban or refund has been applied.
type FraudDetection struct {
	ID              string                 `json:"id" bson:"_id"`
	UserID          string                 `json:"user_id" bson:"user_id"`
	Type            FraudType              `json:"type" bson:"type"`
	Severity        Severity               `json:"severity" bson:"severity"`
	Description     string                 `json:"description" bson:"description"`
	Evidence        map[string]interface{} `json:"evidence" bson:"evidence"`
	Metadata        DetectionMetadata      `json:"metadata" bson:"metadata"`
	EvidenceKey     string                 `json:"evidence_key" bson:"evidence_key"`
	PointsDeducted  int                    `json:"points_deducted" bson:"points_deducted"`
	Penalties       []Penalty              `json:"penalties,omitempty" bson:"penalties,omitempty"`
	Status          DetectionStatus        `json:"status" bson:"status"`
	Action          ReviewAction           `json:"action" bson:"action"`
	ReviewedBy      string                 `json:"reviewed_by,omitempty" bson:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time             `json:"reviewed_at,omitempty" bson:"reviewed_at,omitempty"`
	ReviewNotes     string                 `json:"review_notes,omitempty" bson:"review_notes,omitempty"`
	EscalationCount int                    `json:"escalation_count" bson:"escalation_count"`
	IsActive        bool                   `json:"is_active" bson:"is_active"`
	ActionPending   bool                   `json:"action_pending" bson:"action_pending"`
	Version         int64                  `json:"version" bson:"version"`
	CreatedAt       time.Time              `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at" bson:"updated_at"`
}

func (d *FraudDetection) Clone() *FraudDetection {
	if d == nil {
		return nil
	}
	cp := *d
	if d.Evidence != nil {
		cp.Evidence = make(map[string]interface{}, len(d.Evidence))
		for k, v := range d.Evidence {
			cp.Evidence[k] = v
		}
	}
	if d.Metadata.Geo != nil {
		geo := *d.Metadata.Geo
		geo.Coordinates = append([]float64(nil), d.Metadata.Geo.Coordinates...)
		cp.Metadata.Geo = &geo
	}
	cp.Penalties = append([]Penalty(nil), d.Penalties...)
	if d.ReviewedAt != nil {
		at := *d.ReviewedAt
		cp.ReviewedAt = &at
	}
	return &cp
}

// Penalty is a trust debit applied when a detection is first recorded.
type Penalty struct {
	UserID string `json:"user_id" bson:"user_id"`
	Points int    `json:"points" bson:"points"`
	Reason string `json:"reason" bson:"reason"`
}

// DetectionResult is the verdict of a single rule.
type DetectionResult struct {
	IsFraud     bool                   `json:"is_fraud"`
	Type        FraudType              `json:"type,omitempty"`
	Severity    Severity               `json:"severity,omitempty"`
	Reason      string                 `json:"reason,omitempty"`
	Evidence    map[string]interface{} `json:"evidence,omitempty"`
	DetectionID string                 `json:"detection_id,omitempty"`
	EvidenceKey string                 `json:"-"`
	Penalties   []Penalty              `json:"-"`
}

// Clean is the negative verdict.
func Clean() DetectionResult {
	return DetectionResult{IsFraud: false}
}
