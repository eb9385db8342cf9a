// services/anti-cheat/internal/service/fraud_detector.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trust-defense/services/anti-cheat/internal/models"
	"trust-defense/services/anti-cheat/internal/repository"
	"trust-defense/shared/pkg/events"
)

// FraudDetector gathers evidence, runs the fraud rules and records positive
// verdicts. A detection is stored once per evidence key and only the call
// that stores it debits trust.
type FraudDetector struct {
	detections repository.DetectionRepository
	activity   repository.ActivityRepository
	devices    *DeviceRegistry
	trust      *TrustEngine
	counters   repository.CounterStore
	thresholds DetectionThresholds
	events     emitter
	logger     *zap.Logger
	nowFn      func() time.Time
}

func NewFraudDetector(
	detections repository.DetectionRepository,
	activity repository.ActivityRepository,
	devices *DeviceRegistry,
	trust *TrustEngine,
	counters repository.CounterStore,
	thresholds DetectionThresholds,
	publisher events.Publisher,
	logger *zap.Logger,
) *FraudDetector {
	return &FraudDetector{
		detections: detections,
		activity:   activity,
		devices:    devices,
		trust:      trust,
		counters:   counters,
		thresholds: thresholds.WithDefaults(),
		events:     newEmitter(publisher, logger),
		logger:     logger,
		nowFn:      time.Now,
	}
}

// CheckVote evaluates a vote before it is counted.
func (f *FraudDetector) CheckVote(ctx context.Context, ac *models.ActivityContext) (models.DetectionResult, error) {
	battleID := ac.Payload.BattleID
	if battleID == "" {
		return models.DetectionResult{}, invalidf("battle id is required")
	}

	voted, err := f.activity.HasVoted(ctx, ac.UserID, battleID)
	if err != nil {
		return models.DetectionResult{}, fmt.Errorf("check prior vote: %w", err)
	}

	ev := VoteEvidence{
		UserID:       ac.UserID,
		BattleID:     battleID,
		AlreadyVoted: voted,
		CanVote:      true,
	}
	if !voted {
		if ac.DeviceID != "" {
			device, err := f.devices.Get(ctx, ac.DeviceID)
			if err != nil && !isNotFound(err) {
				return models.DetectionResult{}, fmt.Errorf("load device: %w", err)
			}
			ev.Device = device
		}
		perm, err := f.trust.CheckPermission(ctx, ac.UserID, models.ActionVote)
		if err != nil {
			return models.DetectionResult{}, fmt.Errorf("check vote permission: %w", err)
		}
		ev.CanVote = perm.Allowed
		ev.DenyReason = perm.Reason
	}

	return f.check(ctx, ac, EvaluateVote(ev))
}

// CheckMultiAccount evaluates a device sighting. upsert is the result of the
// registry write for the same request.
func (f *FraudDetector) CheckMultiAccount(ctx context.Context, ac *models.ActivityContext, upsert *UpsertResult) (models.DetectionResult, error) {
	ev := MultiAccountEvidence{
		UserID:      ac.UserID,
		Fingerprint: ac.DeviceID,
		IPAddress:   ac.IPAddress,
	}
	if upsert != nil {
		ev.NewToDevice = upsert.UserAdded
		for _, id := range upsert.PreviousUsers {
			if id != ac.UserID {
				ev.OtherUsers = append(ev.OtherUsers, id)
			}
		}
	}
	if ac.IPAddress != "" {
		n, err := f.devices.UsersByIP(ctx, ac.IPAddress)
		if err != nil {
			return models.DetectionResult{}, fmt.Errorf("count accounts on ip: %w", err)
		}
		ev.AccountsOnIP = n
	}

	return f.check(ctx, ac, EvaluateMultiAccount(ev, f.thresholds.MaxAccountsPerIP))
}

// CheckBattle evaluates a battle creation.
func (f *FraudDetector) CheckBattle(ctx context.Context, ac *models.ActivityContext) (models.DetectionResult, error) {
	now := f.nowFn()
	count, err := f.activity.CountBattlesSince(ctx, ac.UserID, now.Add(-24*time.Hour))
	if err != nil {
		return models.DetectionResult{}, fmt.Errorf("count recent battles: %w", err)
	}

	ev := BattleEvidence{
		UserID:        ac.UserID,
		ChallengerID:  ac.Payload.ChallengerID,
		DefenderID:    ac.Payload.DefenderID,
		RecentBattles: count,
		Now:           now,
	}
	return f.check(ctx, ac, EvaluateBattle(ev, f.thresholds.MaxBattlesPerDay))
}

// CheckPrompt evaluates a transformation prompt.
func (f *FraudDetector) CheckPrompt(ctx context.Context, ac *models.ActivityContext) (models.DetectionResult, error) {
	return f.check(ctx, ac, EvaluatePrompt(ac.UserID, ac.Payload.Prompt, f.thresholds.HarmfulKeywords))
}

// CheckActivity counts the action in shared fixed windows and flags bursts.
func (f *FraudDetector) CheckActivity(ctx context.Context, ac *models.ActivityContext) (models.DetectionResult, error) {
	now := f.nowFn().UTC()
	minute := now.Truncate(time.Minute).Format("200601021504")
	hour := now.Truncate(time.Hour).Format("2006010215")

	perMinute, err := f.counters.IncrWindow(ctx, fmt.Sprintf("activity:%s:%s:%s", ac.UserID, ac.Action, minute), time.Minute)
	if err != nil {
		return models.DetectionResult{}, fmt.Errorf("count minute activity: %w", err)
	}
	perHour, err := f.counters.IncrWindow(ctx, fmt.Sprintf("activity:%s:all:%s", ac.UserID, hour), time.Hour)
	if err != nil {
		return models.DetectionResult{}, fmt.Errorf("count hourly activity: %w", err)
	}

	ev := ActivityEvidence{
		UserID:       ac.UserID,
		Action:       ac.Action,
		MinuteCount:  perMinute,
		HourCount:    perHour,
		MinuteBucket: minute,
		HourBucket:   hour,
	}
	return f.check(ctx, ac, EvaluateActivityRate(ev, f.thresholds.ActionBurstPerMinute, f.thresholds.ActionsPerHour))
}

func (f *FraudDetector) check(ctx context.Context, ac *models.ActivityContext, result models.DetectionResult) (models.DetectionResult, error) {
	result, _, err := f.Record(ctx, ac, result)
	return result, err
}

// Record stores a positive verdict, including ones produced outside the
// detector such as moderation violations. created reports whether this call
// stored the detection and applied its penalties.
func (f *FraudDetector) Record(ctx context.Context, ac *models.ActivityContext, result models.DetectionResult) (models.DetectionResult, bool, error) {
	if !result.IsFraud {
		return result, false, nil
	}

	now := f.nowFn()
	points := 0
	for _, p := range result.Penalties {
		if p.UserID == ac.UserID {
			points += p.Points
		}
	}

	d := &models.FraudDetection{
		ID:             uuid.New().String(),
		UserID:         ac.UserID,
		Type:           result.Type,
		Severity:       result.Severity,
		Description:    result.Reason,
		Evidence:       result.Evidence,
		Metadata:       ac.Metadata(),
		EvidenceKey:    result.EvidenceKey,
		PointsDeducted: points,
		Penalties:      result.Penalties,
		Status:         models.StatusPending,
		Action:         models.ReviewActionNone,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	stored, created, err := f.detections.CreateIfAbsent(ctx, d)
	if err != nil {
		return result, false, fmt.Errorf("store detection: %w", err)
	}
	result.DetectionID = stored.ID

	if !created {
		f.logger.Debug("detection already recorded",
			zap.String("evidence_key", result.EvidenceKey),
			zap.String("detection_id", stored.ID))
		return result, false, nil
	}

	applied := make([]models.Penalty, 0, len(result.Penalties))
	for _, p := range result.Penalties {
		_, points, err := f.trust.Penalize(ctx, p.UserID, string(result.Type), result.Severity, p.Reason, p.Points)
		if err != nil {
			f.logger.Error("failed to debit trust for detection",
				zap.String("detection_id", stored.ID),
				zap.String("user_id", p.UserID),
				zap.Error(err))
		}
		p.Points = points
		applied = append(applied, p)
	}
	result.Penalties = applied
	if err := f.storeApplied(ctx, stored.ID, ac.UserID, applied); err != nil {
		f.logger.Error("failed to record applied penalties",
			zap.String("detection_id", stored.ID),
			zap.Error(err))
	}

	detectionsTotal.WithLabelValues(string(result.Type), string(result.Severity)).Inc()
	f.logger.Warn("fraud detected",
		zap.String("detection_id", stored.ID),
		zap.String("user_id", ac.UserID),
		zap.String("type", string(result.Type)),
		zap.String("severity", string(result.Severity)),
		zap.String("reason", result.Reason))
	f.events.emit(ctx, EventFraudDetected, ac.UserID, stored)

	return result, true, nil
}

// storeApplied rewrites the detection's penalties with the points actually
// taken, so a false-positive refund never gives back more than was debited.
func (f *FraudDetector) storeApplied(ctx context.Context, id, userID string, applied []models.Penalty) error {
	points := 0
	for _, p := range applied {
		if p.UserID == userID {
			points += p.Points
		}
	}

	for attempt := 0; attempt < defaultMaxRetries; attempt++ {
		d, err := f.detections.Get(ctx, id)
		if err != nil {
			return err
		}
		if d.PointsDeducted == points && penaltiesEqual(d.Penalties, applied) {
			return nil
		}
		d.PointsDeducted = points
		d.Penalties = applied
		d.UpdatedAt = f.nowFn()

		err = f.detections.Update(ctx, d)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return err
		}
		casRetries.WithLabelValues("detection").Inc()
		if err := sleepCtx(ctx, backoff(attempt)); err != nil {
			return err
		}
	}
	return ErrTooManyConflicts
}

func penaltiesEqual(a, b []models.Penalty) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
