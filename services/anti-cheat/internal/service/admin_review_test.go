// services/anti-cheat/internal/service/admin_review_test.go
package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"trust-defense/services/anti-cheat/internal/models"
	"trust-defense/services/anti-cheat/internal/repository"
)

// seedMultiAccount produces one pending multi-account detection for u2 that
// also debited u1.
func seedMultiAccount(t *testing.T, env *testEnv) *models.FraudDetection {
	t.Helper()
	ctx := context.Background()
	for _, user := range []string{"u1", "u2"} {
		if _, err := env.gateway.Check(ctx, &models.ActivityContext{UserID: user, DeviceID: "fp", Action: models.ActionRegister}); err != nil {
			t.Fatalf("Check(%s) error = %v", user, err)
		}
	}
	pending, _, err := env.admin.ListPending(ctx, repository.DetectionFilter{UserID: "u2"})
	if err != nil || len(pending) != 1 {
		t.Fatalf("ListPending() = %d, %v, want 1", len(pending), err)
	}
	return pending[0]
}

func TestAdminReviewNoDoubleReview(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := seedMultiAccount(t, env)

	reviewed, err := env.admin.Review(ctx, d.ID, ReviewRequest{AdminID: "admin1", Action: models.ReviewActionWarning, Notes: "looks shared"})
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}
	if reviewed.Status != models.StatusReviewed || reviewed.ReviewedBy != "admin1" || reviewed.ReviewedAt == nil {
		t.Errorf("Review() = %+v, want reviewed by admin1", reviewed)
	}

	if _, err := env.admin.Review(ctx, d.ID, ReviewRequest{AdminID: "admin2"}); !errors.Is(err, ErrAlreadyReviewed) {
		t.Errorf("second Review() error = %v, want ErrAlreadyReviewed", err)
	}
	if _, err := env.admin.Confirm(ctx, d.ID, ReviewRequest{AdminID: "admin2"}); !errors.Is(err, ErrAlreadyReviewed) {
		t.Errorf("Confirm() after review error = %v, want ErrAlreadyReviewed", err)
	}
	if _, err := env.admin.MarkFalsePositive(ctx, d.ID, "admin2", ""); !errors.Is(err, ErrAlreadyReviewed) {
		t.Errorf("MarkFalsePositive() after review error = %v, want ErrAlreadyReviewed", err)
	}

	resolved, err := env.admin.Resolve(ctx, d.ID, "admin1", "done")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolved.Status != models.StatusResolved || resolved.IsActive {
		t.Errorf("Resolve() = %+v, want resolved and inactive", resolved)
	}
}

func TestAdminReviewRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	d := seedMultiAccount(t, env)

	if _, err := env.admin.Review(context.Background(), d.ID, ReviewRequest{}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Review() without admin error = %v, want ErrInvalidInput", err)
	}
	if _, err := env.admin.ShadowbanUser(context.Background(), "", "u1", "x"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("ShadowbanUser() without admin error = %v, want ErrInvalidInput", err)
	}
}

func TestAdminResolvePendingRejected(t *testing.T) {
	env := newTestEnv(t)
	d := seedMultiAccount(t, env)

	if _, err := env.admin.Resolve(context.Background(), d.ID, "admin1", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Resolve() on pending error = %v, want ErrInvalidTransition", err)
	}
}

func TestAdminFalsePositiveRefunds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := seedMultiAccount(t, env)

	if got := env.score(t, "u1").Score; got != 30 {
		t.Fatalf("u1 Score before refund = %d, want 30", got)
	}

	fp, err := env.admin.MarkFalsePositive(ctx, d.ID, "admin1", "siblings sharing a tablet")
	if err != nil {
		t.Fatalf("MarkFalsePositive() error = %v", err)
	}
	if fp.Status != models.StatusFalsePositive || fp.IsActive {
		t.Errorf("MarkFalsePositive() = %+v, want inactive false positive", fp)
	}
	if got := env.score(t, "u1").Score; got != 50 {
		t.Errorf("u1 Score after refund = %d, want 50", got)
	}
	if got := env.score(t, "u2").Score; got != 50 {
		t.Errorf("u2 Score after refund = %d, want 50", got)
	}
}

func TestAdminConfirmAppliesAction(t *testing.T) {
	tests := []struct {
		action models.ReviewAction
		check  func(t *testing.T, ts *models.TrustScore)
	}{
		{models.ReviewActionWarning, func(t *testing.T, ts *models.TrustScore) {
			if ts.IsBanned() || ts.Flags.IsShadowBanned {
				t.Errorf("warning changed flags: %+v", ts.Flags)
			}
		}},
		{models.ReviewActionShadowban, func(t *testing.T, ts *models.TrustScore) {
			if !ts.Flags.IsShadowBanned {
				t.Error("shadowban not applied")
			}
		}},
		{models.ReviewActionTemporaryBan, func(t *testing.T, ts *models.TrustScore) {
			if !ts.Flags.IsTemporarilyBanned || ts.TemporaryBanExpiresAt == nil {
				t.Error("temporary ban not applied")
			}
		}},
		{models.ReviewActionPermanentBan, func(t *testing.T, ts *models.TrustScore) {
			if !ts.Flags.IsPermanentlyBanned {
				t.Error("permanent ban not applied")
			}
		}},
	}

	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			env := newTestEnv(t)
			d := seedMultiAccount(t, env)

			confirmed, err := env.admin.Confirm(context.Background(), d.ID, ReviewRequest{AdminID: "admin1", Action: tt.action})
			if err != nil {
				t.Fatalf("Confirm() error = %v", err)
			}
			if confirmed.Status != models.StatusConfirmed || confirmed.Action != tt.action {
				t.Errorf("Confirm() = %+v, want confirmed %s", confirmed, tt.action)
			}
			tt.check(t, env.score(t, "u2"))
		})
	}
}

func TestAdminConfirmContentRemovalEmits(t *testing.T) {
	env := newTestEnv(t)
	d := seedMultiAccount(t, env)

	if _, err := env.admin.Confirm(context.Background(), d.ID, ReviewRequest{AdminID: "admin1", Action: models.ReviewActionContentRemoval}); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if n := env.publisher.count(EventContentRemoval); n != 1 {
		t.Errorf("content removal events = %d, want 1", n)
	}
}

func TestAdminEscalate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := seedMultiAccount(t, env)

	esc, err := env.admin.Escalate(ctx, d.ID, "admin1", "needs senior review")
	if err != nil {
		t.Fatalf("Escalate() error = %v", err)
	}
	if esc.Severity != models.SeverityCritical || esc.EscalationCount != 1 || esc.Status != models.StatusPending {
		t.Errorf("Escalate() = %+v, want pending critical with one escalation", esc)
	}

	esc, err = env.admin.Escalate(ctx, d.ID, "admin1", "")
	if err != nil {
		t.Fatalf("Escalate() error = %v", err)
	}
	if esc.Severity != models.SeverityCritical || esc.EscalationCount != 2 {
		t.Errorf("second Escalate() = %+v, want critical with two escalations", esc)
	}
}

func TestAdminAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := seedMultiAccount(t, env)

	if _, err := env.admin.Confirm(ctx, d.ID, ReviewRequest{AdminID: "admin1", Action: models.ReviewActionTemporaryBan, BanDuration: 48 * time.Hour}); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if _, err := env.admin.MarkDevice(ctx, "admin1", "fp", models.DeviceFlagBlocked, "ban evasion"); err != nil {
		t.Fatalf("MarkDevice() error = %v", err)
	}

	entries, err := env.admin.ListAudit(ctx, repository.AuditFilter{Actor: "admin1"})
	if err != nil {
		t.Fatalf("ListAudit() error = %v", err)
	}

	actions := make(map[string]*models.AuditEntry)
	for _, e := range entries {
		actions[e.Action] = e
	}
	for _, want := range []string{AuditConfirm, AuditTemporaryBan, AuditMarkDevice} {
		if actions[want] == nil {
			t.Errorf("audit entry %s missing", want)
		}
	}

	if e := actions[AuditConfirm]; e != nil {
		if e.Before["status"] != "pending" || e.After["status"] != "confirmed" {
			t.Errorf("confirm audit before %v after %v", e.Before["status"], e.After["status"])
		}
	}
	if e := actions[AuditMarkDevice]; e != nil {
		if e.After["risk_score"] != models.MaxDeviceRisk {
			t.Errorf("device audit risk_score = %v, want %d", e.After["risk_score"], models.MaxDeviceRisk)
		}
		found := false
		for _, f := range e.ChangedFields {
			if f == "is_blocked" {
				found = true
			}
		}
		if !found {
			t.Errorf("ChangedFields = %v, want is_blocked", e.ChangedFields)
		}
	}
}

func TestAdminUnknownDetection(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.admin.Review(context.Background(), "missing", ReviewRequest{AdminID: "admin1"}); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Review() error = %v, want ErrNotFound", err)
	}
}

func TestAdminDeviceFlagsRequireKnownDevice(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.admin.MarkDevice(context.Background(), "admin1", "nope", models.DeviceFlagBot, ""); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("MarkDevice() error = %v, want ErrNotFound", err)
	}
}

// flakyTrustRepo fails Save for one user, or for everyone when failUser is "*".
type flakyTrustRepo struct {
	repository.TrustScoreRepository
	failUser string
}

func (r *flakyTrustRepo) Save(ctx context.Context, ts *models.TrustScore) error {
	if r.failUser == "*" || r.failUser == ts.UserID {
		return errors.New("mongo unavailable")
	}
	return r.TrustScoreRepository.Save(ctx, ts)
}

func newFlakyAdmin(env *testEnv, repo *flakyTrustRepo) *AdminReviewService {
	logger := zap.NewNop()
	trust := NewTrustEngine(repo, nil, env.publisher, logger)
	trust.nowFn = env.clock.Now
	admin := NewAdminReviewService(env.detections, env.audit, trust, env.devices, 0, env.publisher, logger)
	admin.nowFn = env.clock.Now
	return admin
}

func TestAdminFalsePositiveRefundsOnlyAppliedPoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.trust.Adjust(ctx, "u1", -40, "earlier strikes", "", nil); err != nil {
		t.Fatalf("Adjust() error = %v", err)
	}
	res, err := env.moderation.ModerateImage(ctx, "u1", models.Content{Ref: "img-n", Labels: []string{"nudity:0.95"}, FaceDetected: boolPtr(true)})
	if err != nil || res.Approved {
		t.Fatalf("ModerateImage() = %+v, %v, want rejection", res, err)
	}
	if res.PointsDeducted != 10 {
		t.Errorf("PointsDeducted = %d, want 10", res.PointsDeducted)
	}

	d, err := env.admin.Get(ctx, res.DetectionID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if d.PointsDeducted != 10 || len(d.Penalties) != 1 || d.Penalties[0].Points != 10 {
		t.Errorf("detection = %d points, %+v, want 10 applied", d.PointsDeducted, d.Penalties)
	}

	if _, err := env.admin.MarkFalsePositive(ctx, d.ID, "admin1", ""); err != nil {
		t.Fatalf("MarkFalsePositive() error = %v", err)
	}
	if got := env.score(t, "u1").Score; got != 10 {
		t.Errorf("Score after refund = %d, want 10", got)
	}
}

func TestAdminConfirmRetriesFailedAction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := seedMultiAccount(t, env)

	repo := &flakyTrustRepo{TrustScoreRepository: env.trustRepo, failUser: "*"}
	admin := newFlakyAdmin(env, repo)
	req := ReviewRequest{AdminID: "admin1", Action: models.ReviewActionTemporaryBan, BanDuration: time.Hour}

	if _, err := admin.Confirm(ctx, d.ID, req); err == nil {
		t.Fatal("Confirm() error = nil, want failure from trust store")
	}
	stored, _ := env.detections.Get(ctx, d.ID)
	if stored.Status != models.StatusConfirmed || !stored.ActionPending {
		t.Errorf("after failed Confirm() = %s pending=%v, want confirmed with action pending", stored.Status, stored.ActionPending)
	}
	if env.score(t, "u2").Flags.IsTemporarilyBanned {
		t.Fatal("ban applied despite store failure")
	}

	repo.failUser = ""
	confirmed, err := admin.Confirm(ctx, d.ID, req)
	if err != nil {
		t.Fatalf("retried Confirm() error = %v", err)
	}
	if confirmed.ActionPending {
		t.Error("ActionPending still set after retry")
	}
	if !env.score(t, "u2").Flags.IsTemporarilyBanned {
		t.Error("temporary ban not applied on retry")
	}
	if _, err := admin.Confirm(ctx, d.ID, req); !errors.Is(err, ErrAlreadyReviewed) {
		t.Errorf("third Confirm() error = %v, want ErrAlreadyReviewed", err)
	}
}

func TestAdminFalsePositiveRetriesFailedRefund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := seedMultiAccount(t, env)

	repo := &flakyTrustRepo{TrustScoreRepository: env.trustRepo, failUser: "u1"}
	admin := newFlakyAdmin(env, repo)

	if _, err := admin.MarkFalsePositive(ctx, d.ID, "admin1", ""); err == nil {
		t.Fatal("MarkFalsePositive() error = nil, want failure refunding u1")
	}
	if got := env.score(t, "u2").Score; got != 50 {
		t.Errorf("u2 Score after partial refund = %d, want 50", got)
	}
	if got := env.score(t, "u1").Score; got != 30 {
		t.Errorf("u1 Score after failed refund = %d, want 30", got)
	}

	repo.failUser = ""
	if _, err := admin.MarkFalsePositive(ctx, d.ID, "admin1", ""); err != nil {
		t.Fatalf("retried MarkFalsePositive() error = %v", err)
	}
	if got := env.score(t, "u1").Score; got != 50 {
		t.Errorf("u1 Score after retry = %d, want 50", got)
	}
	if got := env.score(t, "u2").Score; got != 50 {
		t.Errorf("u2 Score after retry = %d, want 50 (refunded once)", got)
	}
	if _, err := admin.MarkFalsePositive(ctx, d.ID, "admin1", ""); !errors.Is(err, ErrAlreadyReviewed) {
		t.Errorf("third MarkFalsePositive() error = %v, want ErrAlreadyReviewed", err)
	}
}
