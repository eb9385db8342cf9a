// services/anti-cheat/internal/service/trust_engine.go
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"trust-defense/services/anti-cheat/internal/models"
	"trust-defense/services/anti-cheat/internal/repository"
	"trust-defense/shared/pkg/events"
)

const (
	ShadowbanPenalty    = 30
	ShadowbanLiftReward = 20
	TemporaryBanPenalty = 40
	PermanentBanPenalty = 50
	MaxPointDelta       = 100

	decayPeriod         = 24 * time.Hour
	touchInterval       = time.Hour
	maxTemporaryBan     = 365 * 24 * time.Hour
	defaultMaxRetries   = 64
	expiredBanBatchSize = 100
)

// History actions
const (
	HistoryAdjust           = "adjust"
	HistoryViolation        = "violation"
	HistoryShadowban        = "shadowban"
	HistoryShadowbanLifted  = "shadowban_lifted"
	HistoryTemporaryBan     = "temporary_ban"
	HistoryTemporaryLifted  = "temporary_ban_lifted"
	HistoryPermanentBan     = "permanent_ban"
	HistoryPermanentRevoked = "permanent_ban_revoked"
	HistoryDecay            = "decay"
	HistoryReconciliation   = "reconciliation"
	HistoryRefund           = "false_positive_refund"
)

// TrustEngine owns every write to trust records. Each mutation is a
// read-modify-write guarded by the record version and retried on conflict.
type TrustEngine struct {
	repo       repository.TrustScoreRepository
	cache      *PermissionCache
	events     emitter
	logger     *zap.Logger
	nowFn      func() time.Time
	maxRetries int
}

// NewTrustEngine wires the engine. cache may be nil.
func NewTrustEngine(repo repository.TrustScoreRepository, cache *PermissionCache, publisher events.Publisher, logger *zap.Logger) *TrustEngine {
	return &TrustEngine{
		repo:       repo,
		cache:      cache,
		events:     newEmitter(publisher, logger),
		logger:     logger,
		nowFn:      time.Now,
		maxRetries: defaultMaxRetries,
	}
}

// Get returns the user's record, creating the default one on first
// reference. Pending decay and expired temporary bans are applied first.
func (e *TrustEngine) Get(ctx context.Context, userID string) (*models.TrustScore, error) {
	if userID == "" {
		return nil, invalidf("user id is required")
	}

	ts, err := e.repo.Get(ctx, userID)
	if err == nil && !e.needsMaintenance(ts, e.nowFn()) {
		return ts, nil
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load trust score: %w", err)
	}
	return e.mutate(ctx, userID, "", func(ts *models.TrustScore, now time.Time) (bool, error) {
		return false, nil
	})
}

// Adjust applies a signed point delta. Positive and negative deltas take the
// same path so history always sums to the score.
func (e *TrustEngine) Adjust(ctx context.Context, userID string, points int, reason, action string, metadata map[string]string) (*models.TrustScore, error) {
	if userID == "" {
		return nil, invalidf("user id is required")
	}
	if points > MaxPointDelta || points < -MaxPointDelta {
		return nil, invalidf("points must be within [-%d, %d], got %d", MaxPointDelta, MaxPointDelta, points)
	}
	if action == "" {
		action = HistoryAdjust
	}

	return e.mutate(ctx, userID, action, func(ts *models.TrustScore, now time.Time) (bool, error) {
		applyPoints(ts, action, points, reason, metadata, now)
		return true, nil
	})
}

// RecordViolation appends a violation and debits its points.
func (e *TrustEngine) RecordViolation(ctx context.Context, userID, violationType string, severity models.Severity, description string, points int) (*models.TrustScore, error) {
	ts, _, err := e.Penalize(ctx, userID, violationType, severity, description, points)
	return ts, err
}

// Penalize is RecordViolation that also reports the points actually taken,
// which is less than requested when the score bottoms out at zero.
func (e *TrustEngine) Penalize(ctx context.Context, userID, violationType string, severity models.Severity, description string, points int) (*models.TrustScore, int, error) {
	if userID == "" {
		return nil, 0, invalidf("user id is required")
	}
	if points < 0 || points > MaxPointDelta {
		return nil, 0, invalidf("violation points must be within [0, %d], got %d", MaxPointDelta, points)
	}
	if !severity.Valid() {
		return nil, 0, invalidf("unknown severity %q", severity)
	}

	applied := 0
	ts, err := e.mutate(ctx, userID, HistoryViolation, func(ts *models.TrustScore, now time.Time) (bool, error) {
		recordViolation(ts, violationType, severity, description, points, now)
		applied = -ts.History[len(ts.History)-1].Points
		return true, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return ts, applied, nil
}

// Refund credits points back for a detection. A refund already recorded for
// the same detection is not applied twice, so a failed review can be retried.
func (e *TrustEngine) Refund(ctx context.Context, userID, detectionID string, points int, metadata map[string]string) (*models.TrustScore, error) {
	if userID == "" || detectionID == "" {
		return nil, invalidf("user id and detection id are required")
	}
	if points <= 0 || points > MaxPointDelta {
		return nil, invalidf("refund points must be within (0, %d], got %d", MaxPointDelta, points)
	}

	md := map[string]string{"detection_id": detectionID}
	for k, v := range metadata {
		md[k] = v
	}
	return e.mutate(ctx, userID, HistoryRefund, func(ts *models.TrustScore, now time.Time) (bool, error) {
		for _, h := range ts.History {
			if h.Action == HistoryRefund && h.Metadata["detection_id"] == detectionID {
				return false, nil
			}
		}
		applyPoints(ts, HistoryRefund, points, "False positive refund", md, now)
		return true, nil
	})
}

// Shadowban blocks voting regardless of score and costs 30 points.
// Repeating it on a shadowbanned user changes nothing.
func (e *TrustEngine) Shadowban(ctx context.Context, userID, reason string) (*models.TrustScore, error) {
	if userID == "" {
		return nil, invalidf("user id is required")
	}
	return e.mutate(ctx, userID, HistoryShadowban, func(ts *models.TrustScore, now time.Time) (bool, error) {
		if ts.Flags.IsShadowBanned {
			return false, nil
		}
		ts.Flags.IsShadowBanned = true
		ts.ShadowbanReason = reason
		applyPoints(ts, HistoryShadowban, -ShadowbanPenalty, reason, nil, now)
		return true, nil
	})
}

func (e *TrustEngine) LiftShadowban(ctx context.Context, userID, reason string) (*models.TrustScore, error) {
	if userID == "" {
		return nil, invalidf("user id is required")
	}
	return e.mutate(ctx, userID, HistoryShadowbanLifted, func(ts *models.TrustScore, now time.Time) (bool, error) {
		if !ts.Flags.IsShadowBanned {
			return false, nil
		}
		ts.Flags.IsShadowBanned = false
		ts.ShadowbanReason = ""
		applyPoints(ts, HistoryShadowbanLifted, ShadowbanLiftReward, reason, nil, now)
		return true, nil
	})
}

// TemporaryBan disables every capability until now+duration. The expiry is
// stored on the record; BanSweeper and lazy reads lift it.
func (e *TrustEngine) TemporaryBan(ctx context.Context, userID string, duration time.Duration, reason string) (*models.TrustScore, error) {
	if userID == "" {
		return nil, invalidf("user id is required")
	}
	if duration <= 0 || duration > maxTemporaryBan {
		return nil, invalidf("ban duration must be within (0, %s], got %s", maxTemporaryBan, duration)
	}

	return e.mutate(ctx, userID, HistoryTemporaryBan, func(ts *models.TrustScore, now time.Time) (bool, error) {
		if ts.Flags.IsPermanentlyBanned {
			return false, ErrPermanentBan
		}
		expires := now.Add(duration)
		if ts.Flags.IsTemporarilyBanned && ts.TemporaryBanExpiresAt != nil && ts.TemporaryBanExpiresAt.After(expires) {
			expires = *ts.TemporaryBanExpiresAt
		}
		ts.Flags.IsTemporarilyBanned = true
		ts.TemporaryBanExpiresAt = &expires
		ts.BanReason = reason
		recordViolation(ts, HistoryTemporaryBan, models.SeverityHigh,
			fmt.Sprintf("Temporary ban for %s: %s", duration, reason), TemporaryBanPenalty, now)
		return true, nil
	})
}

func (e *TrustEngine) LiftTemporaryBan(ctx context.Context, userID, reason string) (*models.TrustScore, error) {
	if userID == "" {
		return nil, invalidf("user id is required")
	}
	return e.mutate(ctx, userID, HistoryTemporaryLifted, func(ts *models.TrustScore, now time.Time) (bool, error) {
		if !ts.Flags.IsTemporarilyBanned {
			return false, nil
		}
		liftTemporaryBan(ts, reason, now)
		return true, nil
	})
}

// PermanentBan is terminal. Only RevokePermanentBan, reserved for admins,
// reverses it.
func (e *TrustEngine) PermanentBan(ctx context.Context, userID, reason string) (*models.TrustScore, error) {
	if userID == "" {
		return nil, invalidf("user id is required")
	}
	return e.mutate(ctx, userID, HistoryPermanentBan, func(ts *models.TrustScore, now time.Time) (bool, error) {
		if ts.Flags.IsPermanentlyBanned {
			return false, nil
		}
		ts.Flags.IsPermanentlyBanned = true
		ts.Flags.IsTemporarilyBanned = false
		ts.TemporaryBanExpiresAt = nil
		ts.BanReason = reason
		recordViolation(ts, HistoryPermanentBan, models.SeverityCritical,
			fmt.Sprintf("Permanent ban: %s", reason), PermanentBanPenalty, now)
		return true, nil
	})
}

func (e *TrustEngine) RevokePermanentBan(ctx context.Context, userID, reason string) (*models.TrustScore, error) {
	if userID == "" {
		return nil, invalidf("user id is required")
	}
	return e.mutate(ctx, userID, HistoryPermanentRevoked, func(ts *models.TrustScore, now time.Time) (bool, error) {
		if !ts.Flags.IsPermanentlyBanned {
			return false, nil
		}
		ts.Flags.IsPermanentlyBanned = false
		ts.BanReason = ""
		applyPoints(ts, HistoryPermanentRevoked, 0, reason, nil, now)
		return true, nil
	})
}

// ApplyDecay subtracts one point per whole day since the last decay.
func (e *TrustEngine) ApplyDecay(ctx context.Context, userID string) (*models.TrustScore, error) {
	if userID == "" {
		return nil, invalidf("user id is required")
	}
	return e.mutate(ctx, userID, HistoryDecay, func(ts *models.TrustScore, now time.Time) (bool, error) {
		return false, nil
	})
}

// Touch marks the user active. Decay accrued up to now is applied and the
// decay clock restarts, so only inactive days cost points.
func (e *TrustEngine) Touch(ctx context.Context, userID string) error {
	if userID == "" {
		return invalidf("user id is required")
	}
	ts, err := e.repo.Get(ctx, userID)
	if err == nil && e.nowFn().Sub(ts.LastActivity) < touchInterval {
		return nil
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("load trust score: %w", err)
	}

	_, err = e.mutate(ctx, userID, "", func(ts *models.TrustScore, now time.Time) (bool, error) {
		ts.LastActivity = now
		ts.LastDecay = now
		return true, nil
	})
	return err
}

// CheckPermission is a read over current flags. Actions outside the modeled
// set are allowed.
func (e *TrustEngine) CheckPermission(ctx context.Context, userID string, action models.Action) (models.PermissionResult, error) {
	if userID == "" {
		return models.PermissionResult{}, invalidf("user id is required")
	}

	summary, err := e.summary(ctx, userID)
	if err != nil {
		return models.PermissionResult{}, err
	}

	allowed, reason, known := summary.Allows(action)
	if !known {
		e.logger.Warn("permission check for unmodeled action, allowing",
			zap.String("user_id", userID),
			zap.String("action", string(action)))
	}
	return models.PermissionResult{Allowed: allowed, Reason: reason}, nil
}

func (e *TrustEngine) summary(ctx context.Context, userID string) (models.TrustSummary, error) {
	if e.cache != nil {
		if s, ok := e.cache.Get(ctx, userID); ok {
			return *s, nil
		}
	}
	ts, err := e.Get(ctx, userID)
	if err != nil {
		return models.TrustSummary{}, err
	}
	s := ts.Summary()
	if e.cache != nil {
		e.cache.Set(ctx, s)
	}
	return s, nil
}

func (e *TrustEngine) List(ctx context.Context, filter repository.TrustFilter) ([]*models.TrustScore, int, error) {
	return e.repo.List(ctx, filter)
}

func (e *TrustEngine) Stats(ctx context.Context) (models.TrustStats, error) {
	return e.repo.Stats(ctx)
}

// LiftExpiredBans lifts every temporary ban whose expiry has passed.
func (e *TrustEngine) LiftExpiredBans(ctx context.Context) (int, error) {
	lifted := 0
	for {
		ids, err := e.repo.ListExpiredTemporaryBans(ctx, e.nowFn(), expiredBanBatchSize)
		if err != nil {
			return lifted, fmt.Errorf("list expired bans: %w", err)
		}
		if len(ids) == 0 {
			return lifted, nil
		}

		progress := 0
		for _, id := range ids {
			ts, err := e.mutate(ctx, id, HistoryTemporaryLifted, func(ts *models.TrustScore, now time.Time) (bool, error) {
				return false, nil
			})
			if err != nil {
				e.logger.Error("failed to lift expired ban", zap.String("user_id", id), zap.Error(err))
				continue
			}
			if !ts.Flags.IsTemporarilyBanned {
				lifted++
				progress++
			}
		}
		if progress == 0 || len(ids) < expiredBanBatchSize {
			return lifted, nil
		}
	}
}

// mutate runs fn against a fresh copy of the record until the versioned save
// succeeds. fn reports whether it changed anything; lazy maintenance counts
// as a change too.
func (e *TrustEngine) mutate(ctx context.Context, userID, action string, fn func(ts *models.TrustScore, now time.Time) (bool, error)) (*models.TrustScore, error) {
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		now := e.nowFn()

		ts, err := e.repo.Get(ctx, userID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			ts = models.NewTrustScore(userID, now)
		case err != nil:
			return nil, fmt.Errorf("load trust score: %w", err)
		}

		maintained := e.maintain(ts, now)
		changed, err := fn(ts, now)
		if err != nil {
			return nil, err
		}
		if !changed && !maintained && ts.Version != 0 {
			return ts, nil
		}

		ts.UpdatedAt = now
		err = e.repo.Save(ctx, ts)
		if err == nil {
			e.afterWrite(ctx, ts, action)
			return ts, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, fmt.Errorf("save trust score: %w", err)
		}

		casRetries.WithLabelValues("trust_score").Inc()
		if err := sleepCtx(ctx, backoff(attempt)); err != nil {
			return nil, err
		}
	}

	e.logger.Error("trust score update gave up after conflicts", zap.String("user_id", userID))
	return nil, ErrTooManyConflicts
}

func (e *TrustEngine) afterWrite(ctx context.Context, ts *models.TrustScore, action string) {
	if e.cache != nil {
		e.cache.Set(ctx, ts.Summary())
	}
	if action == "" {
		return
	}
	trustAdjustments.WithLabelValues(action).Inc()
	e.events.emit(ctx, EventTrustChanged, ts.UserID, map[string]interface{}{
		"user_id": ts.UserID,
		"action":  action,
		"score":   ts.Score,
		"level":   ts.Level,
		"flags":   ts.Flags,
	})
}

func (e *TrustEngine) needsMaintenance(ts *models.TrustScore, now time.Time) bool {
	return ts.TemporaryBanExpired(now) || now.Sub(ts.LastDecay) >= decayPeriod
}

// maintain applies pending decay and lifts an expired temporary ban.
func (e *TrustEngine) maintain(ts *models.TrustScore, now time.Time) bool {
	changed := false
	if ts.TemporaryBanExpired(now) {
		liftTemporaryBan(ts, "Temporary ban expired", now)
		bansLifted.Inc()
		changed = true
	}
	if days := int(now.Sub(ts.LastDecay) / decayPeriod); days > 0 {
		decay := days
		if decay > ts.Score {
			decay = ts.Score
		}
		if decay > 0 {
			applyPoints(ts, HistoryDecay, -decay, fmt.Sprintf("Inactive for %d day(s)", days), nil, now)
		}
		ts.LastDecay = ts.LastDecay.Add(time.Duration(days) * decayPeriod)
		changed = true
	}
	return changed
}

// applyPoints clamps the score and records the delta actually applied.
func applyPoints(ts *models.TrustScore, action string, points int, reason string, metadata map[string]string, now time.Time) {
	before := ts.Score
	ts.Score = models.ClampScore(before + points)
	applied := ts.Score - before

	if applied != points {
		md := make(map[string]string, len(metadata)+1)
		for k, v := range metadata {
			md[k] = v
		}
		md["requested_points"] = strconv.Itoa(points)
		metadata = md
	}

	ts.History = append(ts.History, models.HistoryEntry{
		Action:    action,
		Points:    applied,
		Reason:    reason,
		Metadata:  metadata,
		Timestamp: now,
	})
	ts.Recompute()
}

func recordViolation(ts *models.TrustScore, violationType string, severity models.Severity, description string, points int, now time.Time) {
	ts.Violations = append(ts.Violations, models.Violation{
		Type:        violationType,
		Severity:    severity,
		Description: description,
		Points:      points,
		Timestamp:   now,
	})
	applyPoints(ts, HistoryViolation, -points, description, map[string]string{"type": violationType}, now)
}

func liftTemporaryBan(ts *models.TrustScore, reason string, now time.Time) {
	ts.Flags.IsTemporarilyBanned = false
	ts.TemporaryBanExpiresAt = nil
	if !ts.Flags.IsPermanentlyBanned {
		ts.BanReason = ""
	}
	applyPoints(ts, HistoryTemporaryLifted, 0, reason, nil, now)
}

func backoff(attempt int) time.Duration {
	if attempt > 5 {
		attempt = 5
	}
	return time.Duration(attempt) * time.Millisecond
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
