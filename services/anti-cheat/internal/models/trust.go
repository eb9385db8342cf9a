// services/anti-cheat/internal/models/trust.go
package models

import (
	"fmt"
	"time"
)

type TrustLevel string
type Action string

const (
	TrustLevelTrusted    TrustLevel = "trusted"
	TrustLevelNormal     TrustLevel = "normal"
	TrustLevelSuspicious TrustLevel = "suspicious"
	TrustLevelBanned     TrustLevel = "banned"

	DefaultTrustScore = 50
	MinTrustScore     = 0
	MaxTrustScore     = 100

	// Lower bounds, inclusive.
	TrustedThreshold    = 80
	NormalThreshold     = 50
	SuspiciousThreshold = 20
)

const (
	ActionVote          Action = "vote"
	ActionCreateBattle  Action = "create_battle"
	ActionTransform     Action = "transform"
	ActionJoinTribe     Action = "join_tribe"
	ActionComment       Action = "comment"
	ActionUpdateProfile Action = "update_profile"
	ActionRegister      Action = "register"
	ActionLogin         Action = "login"
)

// GatewayActions lists every action the gateway can protect.
var GatewayActions = []Action{
	ActionVote, ActionCreateBattle, ActionTransform, ActionJoinTribe,
	ActionComment, ActionUpdateProfile, ActionRegister, ActionLogin,
}

func (a Action) Valid() bool {
	for _, known := range GatewayActions {
		if a == known {
			return true
		}
	}
	return false
}

type TrustFlags struct {
	CanVote             bool `json:"can_vote" bson:"can_vote"`
	CanCreateBattles    bool `json:"can_create_battles" bson:"can_create_battles"`
	CanTransform        bool `json:"can_transform" bson:"can_transform"`
	CanJoinTribe        bool `json:"can_join_tribe" bson:"can_join_tribe"`
	IsShadowBanned      bool `json:"is_shadow_banned" bson:"is_shadow_banned"`
	IsTemporarilyBanned bool `json:"is_temporarily_banned" bson:"is_temporarily_banned"`
	IsPermanentlyBanned bool `json:"is_permanently_banned" bson:"is_permanently_banned"`
}

type HistoryEntry struct {
	Action    string            `json:"action" bson:"action"`
	Points    int               `json:"points" bson:"points"`
	Reason    string            `json:"reason" bson:"reason"`
	Metadata  map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp" bson:"timestamp"`
}

type Violation struct {
	Type        string    `json:"type" bson:"type"`
	Severity    Severity  `json:"severity" bson:"severity"`
	Description string    `json:"description" bson:"description"`
	Points      int       `json:"points" bson:"points"`
	Timestamp   time.Time `json:"timestamp" bson:"timestamp"`
}

type TrustScore struct {
	UserID                string         `json:"user_id" bson:"_id"`
	Score                 int            `json:"score" bson:"score"`
	Level                 TrustLevel     `json:"level" bson:"level"`
	Flags                 TrustFlags     `json:"flags" bson:"flags"`
	History               []HistoryEntry `json:"history" bson:"history"`
	Violations            []Violation    `json:"violations" bson:"violations"`
	LastDecay             time.Time      `json:"last_decay" bson:"last_decay"`
	LastActivity          time.Time      `json:"last_activity" bson:"last_activity"`
	TemporaryBanExpiresAt *time.Time     `json:"temporary_ban_expires_at,omitempty" bson:"temporary_ban_expires_at,omitempty"`
	BanReason             string         `json:"ban_reason,omitempty" bson:"ban_reason,omitempty"`
	ShadowbanReason       string         `json:"shadowban_reason,omitempty" bson:"shadowban_reason,omitempty"`
	Version               int64          `json:"version" bson:"version"`
	CreatedAt             time.Time      `json:"created_at" bson:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at" bson:"updated_at"`
}

// NewTrustScore returns the default record for a user seen for the first time.
func NewTrustScore(userID string, now time.Time) *TrustScore {
	ts := &TrustScore{
		UserID:       userID,
		Score:        DefaultTrustScore,
		History:      []HistoryEntry{},
		Violations:   []Violation{},
		LastDecay:    now,
		LastActivity: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	ts.Recompute()
	return ts
}

func ClampScore(score int) int {
	switch {
	case score < MinTrustScore:
		return MinTrustScore
	case score > MaxTrustScore:
		return MaxTrustScore
	default:
		return score
	}
}

func LevelForScore(score int) TrustLevel {
	switch {
	case score >= TrustedThreshold:
		return TrustLevelTrusted
	case score >= NormalThreshold:
		return TrustLevelNormal
	case score >= SuspiciousThreshold:
		return TrustLevelSuspicious
	default:
		return TrustLevelBanned
	}
}

// DeriveFlags computes capability flags from a level and the explicit ban
// state already recorded in flags.
func DeriveFlags(level TrustLevel, bans TrustFlags) TrustFlags {
	out := TrustFlags{
		IsShadowBanned:      bans.IsShadowBanned,
		IsTemporarilyBanned: bans.IsTemporarilyBanned,
		IsPermanentlyBanned: bans.IsPermanentlyBanned,
	}

	out.CanVote = level == TrustLevelTrusted || level == TrustLevelNormal
	out.CanCreateBattles = level != TrustLevelBanned
	out.CanTransform = level != TrustLevelBanned
	out.CanJoinTribe = level != TrustLevelBanned

	if out.IsShadowBanned {
		out.CanVote = false
	}
	if out.IsTemporarilyBanned || out.IsPermanentlyBanned {
		out.CanVote = false
		out.CanCreateBattles = false
		out.CanTransform = false
		out.CanJoinTribe = false
	}
	return out
}

// Recompute re-derives level and flags from score and ban state.
func (t *TrustScore) Recompute() {
	t.Score = ClampScore(t.Score)
	t.Level = LevelForScore(t.Score)
	t.Flags = DeriveFlags(t.Level, t.Flags)
}

// IsBanned reports an explicit temporary or permanent ban.
func (t *TrustScore) IsBanned() bool {
	return t.Flags.IsTemporarilyBanned || t.Flags.IsPermanentlyBanned
}

// TemporaryBanExpired reports whether a temporary ban has run out at now.
func (t *TrustScore) TemporaryBanExpired(now time.Time) bool {
	return t.Flags.IsTemporarilyBanned &&
		t.TemporaryBanExpiresAt != nil &&
		!now.Before(*t.TemporaryBanExpiresAt)
}

// HistorySum is the score implied by the history log.
func (t *TrustScore) HistorySum() int {
	sum := DefaultTrustScore
	for _, h := range t.History {
		sum += h.Points
	}
	return sum
}

// Allows answers a permission check from the stored state.
func (t *TrustScore) Allows(action Action) (allowed bool, reason string, known bool) {
	return t.Summary().Allows(action)
}

func (t *TrustScore) Clone() *TrustScore {
	if t == nil {
		return nil
	}
	cp := *t
	cp.History = make([]HistoryEntry, len(t.History))
	for i, h := range t.History {
		cp.History[i] = h
		if h.Metadata != nil {
			md := make(map[string]string, len(h.Metadata))
			for k, v := range h.Metadata {
				md[k] = v
			}
			cp.History[i].Metadata = md
		}
	}
	cp.Violations = append([]Violation(nil), t.Violations...)
	if cp.Violations == nil {
		cp.Violations = []Violation{}
	}
	if t.TemporaryBanExpiresAt != nil {
		exp := *t.TemporaryBanExpiresAt
		cp.TemporaryBanExpiresAt = &exp
	}
	return &cp
}

// TrustSummary is the public view of a trust record, also what the
// permission cache stores.
type TrustSummary struct {
	UserID       string     `json:"user_id"`
	Score        int        `json:"score"`
	Level        TrustLevel `json:"level"`
	Flags        TrustFlags `json:"flags"`
	BanExpiresAt *time.Time `json:"ban_expires_at,omitempty"`
	Version      int64      `json:"version"`
}

func (t *TrustScore) Summary() TrustSummary {
	return TrustSummary{
		UserID:       t.UserID,
		Score:        t.Score,
		Level:        t.Level,
		Flags:        t.Flags,
		BanExpiresAt: t.TemporaryBanExpiresAt,
		Version:      t.Version,
	}
}

// Allows reports whether the flags permit action. Unmodeled actions are
// allowed and reported through known=false.
func (s TrustSummary) Allows(action Action) (allowed bool, reason string, known bool) {
	var can bool
	switch action {
	case ActionVote:
		can = s.Flags.CanVote
	case ActionCreateBattle:
		can = s.Flags.CanCreateBattles
	case ActionTransform:
		can = s.Flags.CanTransform
	case ActionJoinTribe:
		can = s.Flags.CanJoinTribe
	default:
		return true, "", false
	}
	if can {
		return true, "", true
	}

	switch {
	case s.Flags.IsPermanentlyBanned:
		reason = "Account is permanently banned"
	case s.Flags.IsTemporarilyBanned:
		reason = "Account is temporarily banned"
	case action == ActionVote && s.Flags.IsShadowBanned:
		reason = "Voting is restricted for this account"
	default:
		reason = fmt.Sprintf("Trust level %s does not allow %s", s.Level, action)
	}
	return false, reason, true
}

type PermissionResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}
