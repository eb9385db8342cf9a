// services/anti-cheat/internal/service/fraud_rules.go
// Fraud rules. Pure functions over evidence gathered by FraudDetector.
package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"trust-defense/services/anti-cheat/internal/models"
)

type VoteEvidence struct {
	UserID       string
	BattleID     string
	AlreadyVoted bool
	Device       *models.DeviceFingerprint
	CanVote      bool
	DenyReason   string
}

// EvaluateVote checks, in order: a repeated vote, a risky device, and the
// voter's permission. The first hit wins.
func EvaluateVote(ev VoteEvidence) models.DetectionResult {
	penalty := []models.Penalty{{UserID: ev.UserID, Points: CostVoteFraud}}

	if ev.AlreadyVoted {
		penalty[0].Reason = "Multiple votes on same battle"
		return models.DetectionResult{
			IsFraud:  true,
			Type:     models.FraudTypeVote,
			Severity: models.SeverityHigh,
			Reason:   "Multiple votes on same battle",
			Evidence: map[string]interface{}{
				"battle_id": ev.BattleID,
			},
			EvidenceKey: fmt.Sprintf("vote:dup:%s:%s", ev.UserID, ev.BattleID),
			Penalties:   penalty,
		}
	}

	if d := ev.Device; d != nil && d.IsRisky() {
		severity := models.SeverityMedium
		if d.Flags.IsBlocked || d.Flags.IsBot {
			severity = models.SeverityHigh
		}
		reason := fmt.Sprintf("Vote from high-risk device (risk %d)", d.RiskScore)
		penalty[0].Reason = reason
		return models.DetectionResult{
			IsFraud:  true,
			Type:     models.FraudTypeVote,
			Severity: severity,
			Reason:   reason,
			Evidence: map[string]interface{}{
				"battle_id":   ev.BattleID,
				"fingerprint": d.Fingerprint,
				"risk_score":  d.RiskScore,
				"blocked":     d.Flags.IsBlocked,
				"bot":         d.Flags.IsBot,
				"suspicious":  d.Flags.IsSuspicious,
			},
			EvidenceKey: fmt.Sprintf("vote:device:%s:%s:%s", d.Fingerprint, ev.UserID, ev.BattleID),
			Penalties:   penalty,
		}
	}

	if !ev.CanVote {
		reason := "User not permitted to vote"
		if ev.DenyReason != "" {
			reason = ev.DenyReason
		}
		penalty[0].Reason = reason
		return models.DetectionResult{
			IsFraud:  true,
			Type:     models.FraudTypeVote,
			Severity: models.SeverityMedium,
			Reason:   reason,
			Evidence: map[string]interface{}{
				"battle_id": ev.BattleID,
			},
			EvidenceKey: fmt.Sprintf("vote:denied:%s:%s", ev.UserID, ev.BattleID),
			Penalties:   penalty,
		}
	}

	return models.Clean()
}

type MultiAccountEvidence struct {
	UserID      string
	Fingerprint string
	IPAddress   string

	// NewToDevice is true when this sighting added the user to the device.
	NewToDevice  bool
	OtherUsers   []string
	AccountsOnIP int
}

// EvaluateMultiAccount fires when a user joins a device that already carries
// other accounts, or when an IP hosts more accounts than allowed.
func EvaluateMultiAccount(ev MultiAccountEvidence, maxAccountsPerIP int) models.DetectionResult {
	if ev.NewToDevice && len(ev.OtherUsers) > 0 {
		others := append([]string{}, ev.OtherUsers...)
		sort.Strings(others)

		penalties := []models.Penalty{{
			UserID: ev.UserID,
			Points: CostMultiAccountActor,
			Reason: "Multiple accounts on same device",
		}}
		for _, other := range others {
			penalties = append(penalties, models.Penalty{
				UserID: other,
				Points: CostMultiAccountOther,
				Reason: "Device shared with another account",
			})
		}
		return models.DetectionResult{
			IsFraud:  true,
			Type:     models.FraudTypeMultiAccount,
			Severity: models.SeverityHigh,
			Reason:   "Multiple accounts on same device",
			Evidence: map[string]interface{}{
				"fingerprint": ev.Fingerprint,
				"other_users": others,
				"user_count":  len(others) + 1,
			},
			EvidenceKey: fmt.Sprintf("multi:device:%s:%s", ev.Fingerprint, ev.UserID),
			Penalties:   penalties,
		}
	}

	if ev.IPAddress != "" && ev.AccountsOnIP > maxAccountsPerIP {
		reason := fmt.Sprintf("%d accounts seen from one IP address", ev.AccountsOnIP)
		return models.DetectionResult{
			IsFraud:  true,
			Type:     models.FraudTypeMultiAccount,
			Severity: models.SeverityMedium,
			Reason:   reason,
			Evidence: map[string]interface{}{
				"ip_address":     ev.IPAddress,
				"accounts_on_ip": ev.AccountsOnIP,
			},
			EvidenceKey: fmt.Sprintf("multi:ip:%s:%s", ev.IPAddress, ev.UserID),
			Penalties:   []models.Penalty{{UserID: ev.UserID, Points: CostMultiAccountActor, Reason: reason}},
		}
	}

	return models.Clean()
}

type BattleEvidence struct {
	UserID        string
	ChallengerID  string
	DefenderID    string
	RecentBattles int
	Now           time.Time
}

// EvaluateBattle flags self-battles and battle spam over the trailing day.
func EvaluateBattle(ev BattleEvidence, maxPerDay int) models.DetectionResult {
	day := ev.Now.UTC().Format("2006-01-02")

	if ev.ChallengerID != "" && ev.ChallengerID == ev.DefenderID {
		reason := "Battle against self"
		return models.DetectionResult{
			IsFraud:  true,
			Type:     models.FraudTypeSpamBattle,
			Severity: models.SeverityMedium,
			Reason:   reason,
			Evidence: map[string]interface{}{
				"challenger_id": ev.ChallengerID,
				"defender_id":   ev.DefenderID,
			},
			EvidenceKey: fmt.Sprintf("battle:self:%s:%s", ev.UserID, day),
			Penalties:   []models.Penalty{{UserID: ev.UserID, Points: CostSpamBattle, Reason: reason}},
		}
	}

	if ev.RecentBattles > maxPerDay {
		reason := fmt.Sprintf("%d battles created in 24 hours", ev.RecentBattles)
		return models.DetectionResult{
			IsFraud:  true,
			Type:     models.FraudTypeSpamBattle,
			Severity: models.SeverityMedium,
			Reason:   reason,
			Evidence: map[string]interface{}{
				"battles_24h": ev.RecentBattles,
				"limit":       maxPerDay,
			},
			EvidenceKey: fmt.Sprintf("battle:spam:%s:%s", ev.UserID, day),
			Penalties:   []models.Penalty{{UserID: ev.UserID, Points: CostSpamBattle, Reason: reason}},
		}
	}

	return models.Clean()
}

// EvaluatePrompt matches the prompt against harmful keyword categories.
func EvaluatePrompt(userID, prompt string, keywords map[string][]string) models.DetectionResult {
	category, keyword, ok := matchKeywords(prompt, keywords)
	if !ok {
		return models.Clean()
	}

	reason := fmt.Sprintf("Prompt contains %s content", category)
	return models.DetectionResult{
		IsFraud:  true,
		Type:     models.FraudTypeAIAbuse,
		Severity: models.SeverityHigh,
		Reason:   reason,
		Evidence: map[string]interface{}{
			"category": category,
			"keyword":  keyword,
			"prompt":   prompt,
		},
		EvidenceKey: "ai:" + userID + ":" + contentDigest(prompt),
		Penalties:   []models.Penalty{{UserID: userID, Points: CostAIAbuse, Reason: reason}},
	}
}

type ActivityEvidence struct {
	UserID       string
	Action       models.Action
	MinuteCount  int64
	HourCount    int64
	MinuteBucket string
	HourBucket   string
}

// EvaluateActivityRate flags bursts of one action and sustained volume.
func EvaluateActivityRate(ev ActivityEvidence, perMinute, perHour int) models.DetectionResult {
	if ev.HourCount > int64(perHour) {
		reason := fmt.Sprintf("%d actions in one hour", ev.HourCount)
		return models.DetectionResult{
			IsFraud:  true,
			Type:     models.FraudTypeSuspiciousActivity,
			Severity: models.SeverityHigh,
			Reason:   reason,
			Evidence: map[string]interface{}{
				"hour_count": ev.HourCount,
				"limit":      perHour,
			},
			EvidenceKey: fmt.Sprintf("activity:hour:%s:%s", ev.UserID, ev.HourBucket),
			Penalties:   []models.Penalty{{UserID: ev.UserID, Points: CostSuspiciousActivity, Reason: reason}},
		}
	}

	if ev.MinuteCount > int64(perMinute) {
		reason := fmt.Sprintf("%s repeated %d times in one minute", ev.Action, ev.MinuteCount)
		return models.DetectionResult{
			IsFraud:  true,
			Type:     models.FraudTypeSuspiciousActivity,
			Severity: models.SeverityMedium,
			Reason:   reason,
			Evidence: map[string]interface{}{
				"action":       ev.Action,
				"minute_count": ev.MinuteCount,
				"limit":        perMinute,
			},
			EvidenceKey: fmt.Sprintf("activity:burst:%s:%s:%s", ev.UserID, ev.Action, ev.MinuteBucket),
			Penalties:   []models.Penalty{{UserID: ev.UserID, Points: CostSuspiciousActivity, Reason: reason}},
		}
	}

	return models.Clean()
}

// matchKeywords does a case-insensitive substring search. Categories are
// visited in sorted order so the result is deterministic.
func matchKeywords(text string, keywords map[string][]string) (category, keyword string, ok bool) {
	if text == "" {
		return "", "", false
	}
	lower := strings.ToLower(text)

	categories := make([]string, 0, len(keywords))
	for c := range keywords {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	for _, c := range categories {
		for _, kw := range keywords[c] {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return c, kw, true
			}
		}
	}
	return "", "", false
}

func contentDigest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
