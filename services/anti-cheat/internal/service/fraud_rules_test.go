// services/anti-cheat/internal/service/fraud_rules_test.go
package service

import (
	"testing"
	"time"

	"trust-defense/services/anti-cheat/internal/models"
)

func TestEvaluateVote(t *testing.T) {
	risky := models.NewDeviceFingerprint("fp-risky", time.Now())
	risky.SetFlag(models.DeviceFlagBot, true, "automation", "system", time.Now())
	suspicious := models.NewDeviceFingerprint("fp-sus", time.Now())
	suspicious.SetFlag(models.DeviceFlagSuspicious, true, "manual", "admin", time.Now())
	clean := models.NewDeviceFingerprint("fp-clean", time.Now())

	tests := []struct {
		name         string
		ev           VoteEvidence
		wantFraud    bool
		wantSeverity models.Severity
		wantReason   string
	}{
		{
			name:      "clean vote",
			ev:        VoteEvidence{UserID: "u1", BattleID: "b1", Device: clean, CanVote: true},
			wantFraud: false,
		},
		{
			name:         "duplicate vote wins over device",
			ev:           VoteEvidence{UserID: "u1", BattleID: "b1", AlreadyVoted: true, Device: risky, CanVote: true},
			wantFraud:    true,
			wantSeverity: models.SeverityHigh,
			wantReason:   "Multiple votes on same battle",
		},
		{
			name:         "bot device",
			ev:           VoteEvidence{UserID: "u1", BattleID: "b1", Device: risky, CanVote: true},
			wantFraud:    true,
			wantSeverity: models.SeverityHigh,
		},
		{
			name:         "suspicious device",
			ev:           VoteEvidence{UserID: "u1", BattleID: "b1", Device: suspicious, CanVote: true},
			wantFraud:    true,
			wantSeverity: models.SeverityMedium,
		},
		{
			name:         "voting not permitted",
			ev:           VoteEvidence{UserID: "u1", BattleID: "b1", CanVote: false, DenyReason: "Voting is restricted for this account"},
			wantFraud:    true,
			wantSeverity: models.SeverityMedium,
			wantReason:   "Voting is restricted for this account",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateVote(tt.ev)
			if got.IsFraud != tt.wantFraud {
				t.Fatalf("EvaluateVote().IsFraud = %v, want %v", got.IsFraud, tt.wantFraud)
			}
			if !tt.wantFraud {
				return
			}
			if got.Type != models.FraudTypeVote {
				t.Errorf("Type = %s, want %s", got.Type, models.FraudTypeVote)
			}
			if got.Severity != tt.wantSeverity {
				t.Errorf("Severity = %s, want %s", got.Severity, tt.wantSeverity)
			}
			if tt.wantReason != "" && got.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", got.Reason, tt.wantReason)
			}
			if len(got.Penalties) != 1 || got.Penalties[0].Points != CostVoteFraud {
				t.Errorf("Penalties = %+v, want one -%d", got.Penalties, CostVoteFraud)
			}
		})
	}
}

func TestEvaluateMultiAccount(t *testing.T) {
	tests := []struct {
		name          string
		ev            MultiAccountEvidence
		wantFraud     bool
		wantSeverity  models.Severity
		wantPenalties int
	}{
		{"first user on device", MultiAccountEvidence{UserID: "u1", Fingerprint: "fp", NewToDevice: true}, false, "", 0},
		{"returning user", MultiAccountEvidence{UserID: "u1", Fingerprint: "fp", OtherUsers: []string{"u2"}}, false, "", 0},
		{"second user joins", MultiAccountEvidence{UserID: "u2", Fingerprint: "fp", NewToDevice: true, OtherUsers: []string{"u1"}}, true, models.SeverityHigh, 2},
		{"third user joins", MultiAccountEvidence{UserID: "u3", Fingerprint: "fp", NewToDevice: true, OtherUsers: []string{"u2", "u1"}}, true, models.SeverityHigh, 3},
		{"crowded ip", MultiAccountEvidence{UserID: "u1", IPAddress: "10.0.0.1", AccountsOnIP: 6}, true, models.SeverityMedium, 1},
		{"ip at limit", MultiAccountEvidence{UserID: "u1", IPAddress: "10.0.0.1", AccountsOnIP: 5}, false, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateMultiAccount(tt.ev, 5)
			if got.IsFraud != tt.wantFraud {
				t.Fatalf("IsFraud = %v, want %v", got.IsFraud, tt.wantFraud)
			}
			if got.Severity != tt.wantSeverity {
				t.Errorf("Severity = %s, want %s", got.Severity, tt.wantSeverity)
			}
			if len(got.Penalties) != tt.wantPenalties {
				t.Errorf("len(Penalties) = %d, want %d", len(got.Penalties), tt.wantPenalties)
			}
		})
	}
}

func TestEvaluateMultiAccountPenalties(t *testing.T) {
	got := EvaluateMultiAccount(MultiAccountEvidence{
		UserID:      "u2",
		Fingerprint: "fp",
		NewToDevice: true,
		OtherUsers:  []string{"u1"},
	}, 5)

	want := map[string]int{"u2": CostMultiAccountActor, "u1": CostMultiAccountOther}
	for _, p := range got.Penalties {
		if want[p.UserID] != p.Points {
			t.Errorf("penalty for %s = %d, want %d", p.UserID, p.Points, want[p.UserID])
		}
	}
}

func TestEvaluateBattle(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		ev        BattleEvidence
		wantFraud bool
	}{
		{"normal", BattleEvidence{UserID: "u1", ChallengerID: "u1", DefenderID: "u2", RecentBattles: 2, Now: now}, false},
		{"at limit", BattleEvidence{UserID: "u1", ChallengerID: "u1", DefenderID: "u2", RecentBattles: 5, Now: now}, false},
		{"over limit", BattleEvidence{UserID: "u1", ChallengerID: "u1", DefenderID: "u2", RecentBattles: 6, Now: now}, true},
		{"self battle", BattleEvidence{UserID: "u1", ChallengerID: "u1", DefenderID: "u1", Now: now}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateBattle(tt.ev, 5)
			if got.IsFraud != tt.wantFraud {
				t.Errorf("EvaluateBattle().IsFraud = %v, want %v", got.IsFraud, tt.wantFraud)
			}
			if got.IsFraud && got.Type != models.FraudTypeSpamBattle {
				t.Errorf("Type = %s, want %s", got.Type, models.FraudTypeSpamBattle)
			}
		})
	}
}

func TestEvaluatePrompt(t *testing.T) {
	keywords := defaultHarmfulKeywords()
	tests := []struct {
		prompt    string
		wantFraud bool
	}{
		{"turn me into a medieval knight", false},
		{"make me NAKED on a beach", true},
		{"add lots of Gore and blood", true},
		{"", false},
	}

	for _, tt := range tests {
		got := EvaluatePrompt("u1", tt.prompt, keywords)
		if got.IsFraud != tt.wantFraud {
			t.Errorf("EvaluatePrompt(%q).IsFraud = %v, want %v", tt.prompt, got.IsFraud, tt.wantFraud)
		}
	}

	a := EvaluatePrompt("u1", "naked", keywords)
	b := EvaluatePrompt("u1", "naked", keywords)
	if a.EvidenceKey != b.EvidenceKey || a.Reason != b.Reason {
		t.Error("EvaluatePrompt() is not deterministic")
	}
}

func TestEvaluateActivityRate(t *testing.T) {
	tests := []struct {
		name         string
		minute, hour int64
		wantFraud    bool
		wantSeverity models.Severity
	}{
		{"quiet", 3, 20, false, ""},
		{"burst", 11, 30, true, models.SeverityMedium},
		{"sustained volume", 2, 121, true, models.SeverityHigh},
		{"at limits", 10, 120, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateActivityRate(ActivityEvidence{
				UserID:      "u1",
				Action:      models.ActionVote,
				MinuteCount: tt.minute,
				HourCount:   tt.hour,
			}, 10, 120)
			if got.IsFraud != tt.wantFraud {
				t.Fatalf("IsFraud = %v, want %v", got.IsFraud, tt.wantFraud)
			}
			if got.Severity != tt.wantSeverity {
				t.Errorf("Severity = %s, want %s", got.Severity, tt.wantSeverity)
			}
		})
	}
}
