// services/anti-cheat/internal/service/admin_review.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trust-defense/services/anti-cheat/internal/models"
	"trust-defense/services/anti-cheat/internal/repository"
	"trust-defense/shared/pkg/events"
)

// Audit actions
const (
	AuditReview          = "detection.review"
	AuditConfirm         = "detection.confirm"
	AuditFalsePositive   = "detection.false_positive"
	AuditResolve         = "detection.resolve"
	AuditEscalate        = "detection.escalate"
	AuditAdjustTrust     = "trust.adjust"
	AuditShadowban       = "trust.shadowban"
	AuditLiftShadowban   = "trust.lift_shadowban"
	AuditTemporaryBan    = "trust.temporary_ban"
	AuditPermanentBan    = "trust.permanent_ban"
	AuditRevokePermanent = "trust.revoke_permanent_ban"
	AuditMarkDevice      = "device.mark"
	AuditUnmarkDevice    = "device.unmark"

	DefaultTemporaryBan = 7 * 24 * time.Hour
)

type ReviewRequest struct {
	AdminID     string
	Action      models.ReviewAction
	Notes       string
	BanDuration time.Duration
}

// AdminReviewService is the human side of fraud handling: detection review
// and audited manual overrides.
type AdminReviewService struct {
	detections repository.DetectionRepository
	audit      repository.AuditRepository
	trust      *TrustEngine
	devices    *DeviceRegistry
	events     emitter
	logger     *zap.Logger
	nowFn      func() time.Time
	defaultBan time.Duration
	maxRetries int
}

func NewAdminReviewService(
	detections repository.DetectionRepository,
	audit repository.AuditRepository,
	trust *TrustEngine,
	devices *DeviceRegistry,
	defaultBan time.Duration,
	publisher events.Publisher,
	logger *zap.Logger,
) *AdminReviewService {
	if defaultBan <= 0 {
		defaultBan = DefaultTemporaryBan
	}
	return &AdminReviewService{
		detections: detections,
		audit:      audit,
		trust:      trust,
		devices:    devices,
		events:     newEmitter(publisher, logger),
		logger:     logger,
		nowFn:      time.Now,
		defaultBan: defaultBan,
		maxRetries: defaultMaxRetries,
	}
}

func (s *AdminReviewService) ListPending(ctx context.Context, filter repository.DetectionFilter) ([]*models.FraudDetection, int, error) {
	filter.Status = models.StatusPending
	return s.detections.List(ctx, filter)
}

func (s *AdminReviewService) List(ctx context.Context, filter repository.DetectionFilter) ([]*models.FraudDetection, int, error) {
	return s.detections.List(ctx, filter)
}

func (s *AdminReviewService) Get(ctx context.Context, id string) (*models.FraudDetection, error) {
	if id == "" {
		return nil, invalidf("detection id is required")
	}
	return s.detections.Get(ctx, id)
}

// Review marks a pending detection as looked at without applying the action.
func (s *AdminReviewService) Review(ctx context.Context, id string, req ReviewRequest) (*models.FraudDetection, error) {
	action, err := reviewAction(req.Action)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, id, req.AdminID, AuditReview, req.Notes, func(d *models.FraudDetection) error {
		if d.Status != models.StatusPending {
			return ErrAlreadyReviewed
		}
		d.Status = models.StatusReviewed
		d.Action = action
		return nil
	})
}

// Confirm upholds a pending detection and applies the chosen action to the
// detected user. The decision is saved with ActionPending set; if the action
// fails, calling Confirm again completes it instead of returning
// ErrAlreadyReviewed.
func (s *AdminReviewService) Confirm(ctx context.Context, id string, req ReviewRequest) (*models.FraudDetection, error) {
	action, err := reviewAction(req.Action)
	if err != nil {
		return nil, err
	}
	d, err := s.transition(ctx, id, req.AdminID, AuditConfirm, req.Notes, func(d *models.FraudDetection) error {
		if d.Status == models.StatusConfirmed && d.ActionPending {
			return nil
		}
		if d.Status != models.StatusPending {
			return ErrAlreadyReviewed
		}
		d.Status = models.StatusConfirmed
		d.Action = action
		d.ActionPending = action != models.ReviewActionNone
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !d.ActionPending {
		return d, nil
	}

	if err := s.applyAction(ctx, d, req); err != nil {
		s.logger.Error("failed to apply review action",
			zap.String("detection_id", d.ID),
			zap.String("action", string(d.Action)),
			zap.Error(err))
		return d, fmt.Errorf("apply %s: %w", d.Action, err)
	}
	return s.settle(ctx, d)
}

// MarkFalsePositive closes a pending detection and refunds every penalty it
// applied. Refunds are keyed by detection, so a retry after a failed refund
// only credits what is still owed.
func (s *AdminReviewService) MarkFalsePositive(ctx context.Context, id, adminID, notes string) (*models.FraudDetection, error) {
	d, err := s.transition(ctx, id, adminID, AuditFalsePositive, notes, func(d *models.FraudDetection) error {
		if d.Status == models.StatusFalsePositive && d.ActionPending {
			return nil
		}
		if d.Status != models.StatusPending {
			return ErrAlreadyReviewed
		}
		d.Status = models.StatusFalsePositive
		d.IsActive = false
		d.ActionPending = len(refunds(d)) > 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !d.ActionPending {
		return d, nil
	}

	for _, p := range refunds(d) {
		if _, err := s.trust.Refund(ctx, p.UserID, d.ID, p.Points, map[string]string{"admin_id": adminID}); err != nil {
			s.logger.Error("failed to refund penalty",
				zap.String("detection_id", d.ID),
				zap.String("user_id", p.UserID),
				zap.Error(err))
			return d, fmt.Errorf("refund %s: %w", p.UserID, err)
		}
	}
	return s.settle(ctx, d)
}

// settle clears ActionPending once the side effect of a decision is done.
func (s *AdminReviewService) settle(ctx context.Context, d *models.FraudDetection) (*models.FraudDetection, error) {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if !d.ActionPending {
			return d, nil
		}
		d.ActionPending = false
		d.UpdatedAt = s.nowFn()

		err := s.detections.Update(ctx, d)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, fmt.Errorf("update detection: %w", err)
		}
		casRetries.WithLabelValues("detection").Inc()
		if err := sleepCtx(ctx, backoff(attempt)); err != nil {
			return nil, err
		}
		if d, err = s.detections.Get(ctx, d.ID); err != nil {
			return nil, err
		}
	}
	return nil, ErrTooManyConflicts
}

// Resolve closes a reviewed or confirmed detection.
func (s *AdminReviewService) Resolve(ctx context.Context, id, adminID, notes string) (*models.FraudDetection, error) {
	return s.transition(ctx, id, adminID, AuditResolve, notes, func(d *models.FraudDetection) error {
		if d.Status != models.StatusReviewed && d.Status != models.StatusConfirmed {
			return fmt.Errorf("%w: cannot resolve a %s detection", ErrInvalidTransition, d.Status)
		}
		d.Status = models.StatusResolved
		d.IsActive = false
		return nil
	})
}

// Escalate raises severity one step and leaves the detection pending.
func (s *AdminReviewService) Escalate(ctx context.Context, id, adminID, notes string) (*models.FraudDetection, error) {
	return s.transition(ctx, id, adminID, AuditEscalate, notes, func(d *models.FraudDetection) error {
		if d.Status != models.StatusPending {
			return ErrAlreadyReviewed
		}
		d.Severity = d.Severity.Escalate()
		d.EscalationCount++
		return nil
	})
}

// transition loads the detection, applies fn, stamps the reviewer and saves
// under version compare-and-swap. The audit entry is written after the save.
func (s *AdminReviewService) transition(ctx context.Context, id, adminID, auditAction, notes string, fn func(d *models.FraudDetection) error) (*models.FraudDetection, error) {
	if adminID == "" {
		return nil, invalidf("admin id is required")
	}
	if id == "" {
		return nil, invalidf("detection id is required")
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		d, err := s.detections.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		before := detectionSnapshot(d)

		if err := fn(d); err != nil {
			return nil, err
		}
		now := s.nowFn()
		d.ReviewedBy = adminID
		d.ReviewedAt = &now
		if notes != "" {
			d.ReviewNotes = notes
		}
		d.UpdatedAt = now

		err = s.detections.Update(ctx, d)
		if errors.Is(err, repository.ErrVersionConflict) {
			casRetries.WithLabelValues("detection").Inc()
			if err := sleepCtx(ctx, backoff(attempt)); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update detection: %w", err)
		}

		s.record(ctx, adminID, auditAction, models.AuditTargetDetection, d.ID, before, detectionSnapshot(d), notes)
		s.events.emit(ctx, EventDetectionReviewed, d.UserID, map[string]interface{}{
			"detection_id": d.ID,
			"user_id":      d.UserID,
			"status":       d.Status,
			"action":       d.Action,
			"admin_id":     adminID,
		})
		return d, nil
	}
	return nil, ErrTooManyConflicts
}

func (s *AdminReviewService) applyAction(ctx context.Context, d *models.FraudDetection, req ReviewRequest) error {
	reason := fmt.Sprintf("Confirmed %s detection %s", d.Type, d.ID)
	if req.Notes != "" {
		reason = req.Notes
	}

	var err error
	switch d.Action {
	case models.ReviewActionNone:
		return nil
	case models.ReviewActionWarning:
		_, err = s.trustChange(ctx, req.AdminID, d.UserID, AuditAdjustTrust, reason, func() (*models.TrustScore, error) {
			return s.trust.Adjust(ctx, d.UserID, 0, "Warning: "+reason, "warning", map[string]string{"detection_id": d.ID})
		})
	case models.ReviewActionShadowban:
		_, err = s.ShadowbanUser(ctx, req.AdminID, d.UserID, reason)
	case models.ReviewActionTemporaryBan:
		duration := req.BanDuration
		if duration <= 0 {
			duration = s.defaultBan
		}
		_, err = s.TemporaryBanUser(ctx, req.AdminID, d.UserID, duration, reason)
	case models.ReviewActionPermanentBan:
		_, err = s.PermanentBanUser(ctx, req.AdminID, d.UserID, reason)
	case models.ReviewActionContentRemoval:
		s.events.emit(ctx, EventContentRemoval, d.UserID, map[string]interface{}{
			"detection_id": d.ID,
			"user_id":      d.UserID,
			"type":         d.Type,
			"content_ref":  d.Evidence["content_ref"],
			"admin_id":     req.AdminID,
		})
	}
	return err
}

func (s *AdminReviewService) AdjustTrustScore(ctx context.Context, adminID, userID string, points int, reason string) (*models.TrustScore, error) {
	return s.trustChange(ctx, adminID, userID, AuditAdjustTrust, reason, func() (*models.TrustScore, error) {
		return s.trust.Adjust(ctx, userID, points, reason, "admin_adjust", map[string]string{"admin_id": adminID})
	})
}

func (s *AdminReviewService) ShadowbanUser(ctx context.Context, adminID, userID, reason string) (*models.TrustScore, error) {
	return s.trustChange(ctx, adminID, userID, AuditShadowban, reason, func() (*models.TrustScore, error) {
		return s.trust.Shadowban(ctx, userID, reason)
	})
}

func (s *AdminReviewService) LiftShadowban(ctx context.Context, adminID, userID, reason string) (*models.TrustScore, error) {
	return s.trustChange(ctx, adminID, userID, AuditLiftShadowban, reason, func() (*models.TrustScore, error) {
		return s.trust.LiftShadowban(ctx, userID, reason)
	})
}

func (s *AdminReviewService) TemporaryBanUser(ctx context.Context, adminID, userID string, duration time.Duration, reason string) (*models.TrustScore, error) {
	if duration <= 0 {
		duration = s.defaultBan
	}
	return s.trustChange(ctx, adminID, userID, AuditTemporaryBan, reason, func() (*models.TrustScore, error) {
		return s.trust.TemporaryBan(ctx, userID, duration, reason)
	})
}

func (s *AdminReviewService) PermanentBanUser(ctx context.Context, adminID, userID, reason string) (*models.TrustScore, error) {
	return s.trustChange(ctx, adminID, userID, AuditPermanentBan, reason, func() (*models.TrustScore, error) {
		return s.trust.PermanentBan(ctx, userID, reason)
	})
}

func (s *AdminReviewService) RevokePermanentBan(ctx context.Context, adminID, userID, reason string) (*models.TrustScore, error) {
	return s.trustChange(ctx, adminID, userID, AuditRevokePermanent, reason, func() (*models.TrustScore, error) {
		return s.trust.RevokePermanentBan(ctx, userID, reason)
	})
}

func (s *AdminReviewService) MarkDevice(ctx context.Context, adminID, fingerprint string, flag models.DeviceFlag, reason string) (*models.DeviceFingerprint, error) {
	return s.deviceChange(ctx, adminID, fingerprint, AuditMarkDevice, reason, func() (*models.DeviceFingerprint, error) {
		switch flag {
		case models.DeviceFlagSuspicious:
			return s.devices.MarkSuspicious(ctx, fingerprint, reason, adminID)
		case models.DeviceFlagBlocked:
			return s.devices.MarkBlocked(ctx, fingerprint, reason, adminID)
		case models.DeviceFlagBot:
			return s.devices.MarkBot(ctx, fingerprint, reason, adminID)
		}
		return nil, invalidf("unknown device flag %q", flag)
	})
}

func (s *AdminReviewService) UnmarkDevice(ctx context.Context, adminID, fingerprint string, flag models.DeviceFlag, reason string) (*models.DeviceFingerprint, error) {
	return s.deviceChange(ctx, adminID, fingerprint, AuditUnmarkDevice, reason, func() (*models.DeviceFingerprint, error) {
		return s.devices.Unmark(ctx, fingerprint, flag, reason, adminID)
	})
}

func (s *AdminReviewService) ListAudit(ctx context.Context, filter repository.AuditFilter) ([]*models.AuditEntry, error) {
	return s.audit.List(ctx, filter)
}

func (s *AdminReviewService) trustChange(ctx context.Context, adminID, userID, action, notes string, fn func() (*models.TrustScore, error)) (*models.TrustScore, error) {
	if adminID == "" {
		return nil, invalidf("admin id is required")
	}
	current, err := s.trust.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	before := trustSnapshot(current)

	ts, err := fn()
	if err != nil {
		return nil, err
	}
	s.record(ctx, adminID, action, models.AuditTargetTrust, userID, before, trustSnapshot(ts), notes)
	return ts, nil
}

func (s *AdminReviewService) deviceChange(ctx context.Context, adminID, fingerprint, action, notes string, fn func() (*models.DeviceFingerprint, error)) (*models.DeviceFingerprint, error) {
	if adminID == "" {
		return nil, invalidf("admin id is required")
	}
	current, err := s.devices.Get(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	before := deviceSnapshot(current)

	d, err := fn()
	if err != nil {
		return nil, err
	}
	s.record(ctx, adminID, action, models.AuditTargetDevice, fingerprint, before, deviceSnapshot(d), notes)
	return d, nil
}

// record appends an audit entry. A failed audit write does not undo the
// change; it is logged and counted.
func (s *AdminReviewService) record(ctx context.Context, actor, action, targetType, target string, before, after map[string]interface{}, notes string) {
	entry := &models.AuditEntry{
		ID:            uuid.New().String(),
		Actor:         actor,
		Action:        action,
		TargetType:    targetType,
		Target:        target,
		Before:        before,
		After:         after,
		ChangedFields: changedFields(before, after),
		Notes:         notes,
		CreatedAt:     s.nowFn(),
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		auditFailures.Inc()
		s.logger.Error("failed to write audit entry",
			zap.String("actor", actor),
			zap.String("action", action),
			zap.String("target", target),
			zap.Error(err))
	}
}

func reviewAction(a models.ReviewAction) (models.ReviewAction, error) {
	if a == "" {
		return models.ReviewActionNone, nil
	}
	if !a.Valid() {
		return "", invalidf("unknown review action %q", a)
	}
	return a, nil
}

// refunds returns the penalties to give back, merged per user.
func refunds(d *models.FraudDetection) []models.Penalty {
	if len(d.Penalties) == 0 {
		if d.PointsDeducted == 0 {
			return nil
		}
		return []models.Penalty{{UserID: d.UserID, Points: d.PointsDeducted}}
	}

	byUser := make(map[string]int)
	var order []string
	for _, p := range d.Penalties {
		if _, seen := byUser[p.UserID]; !seen {
			order = append(order, p.UserID)
		}
		byUser[p.UserID] += p.Points
	}
	out := make([]models.Penalty, 0, len(order))
	for _, id := range order {
		if byUser[id] > 0 {
			out = append(out, models.Penalty{UserID: id, Points: byUser[id]})
		}
	}
	return out
}

func detectionSnapshot(d *models.FraudDetection) map[string]interface{} {
	return map[string]interface{}{
		"status":           string(d.Status),
		"action":           string(d.Action),
		"severity":         string(d.Severity),
		"reviewed_by":      d.ReviewedBy,
		"review_notes":     d.ReviewNotes,
		"escalation_count": d.EscalationCount,
		"is_active":        d.IsActive,
	}
}

func trustSnapshot(ts *models.TrustScore) map[string]interface{} {
	snap := map[string]interface{}{
		"score":                 ts.Score,
		"level":                 string(ts.Level),
		"can_vote":              ts.Flags.CanVote,
		"can_create_battles":    ts.Flags.CanCreateBattles,
		"can_transform":         ts.Flags.CanTransform,
		"can_join_tribe":        ts.Flags.CanJoinTribe,
		"is_shadow_banned":      ts.Flags.IsShadowBanned,
		"is_temporarily_banned": ts.Flags.IsTemporarilyBanned,
		"is_permanently_banned": ts.Flags.IsPermanentlyBanned,
	}
	if ts.TemporaryBanExpiresAt != nil {
		snap["temporary_ban_expires_at"] = ts.TemporaryBanExpiresAt.UTC().Format(time.RFC3339)
	}
	return snap
}

func deviceSnapshot(d *models.DeviceFingerprint) map[string]interface{} {
	return map[string]interface{}{
		"is_suspicious":    d.Flags.IsSuspicious,
		"is_blocked":       d.Flags.IsBlocked,
		"is_bot":           d.Flags.IsBot,
		"is_multi_account": d.Flags.IsMultiAccount,
		"risk_score":       d.RiskScore,
	}
}

func changedFields(before, after map[string]interface{}) []string {
	changed := []string{}
	for k, v := range after {
		if old, ok := before[k]; !ok || fmt.Sprint(old) != fmt.Sprint(v) {
			changed = append(changed, k)
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}
