// services/anti-cheat/internal/service/gateway.go
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trust-defense/services/anti-cheat/internal/models"
)

const (
	StageDevice     = "device"
	StageActivity   = "activity"
	StageDetector   = "detector"
	StageModeration = "moderation"
	StagePermission = "permission"

	MessageBlocked  = "Action blocked by anti-cheat"
	MessageRejected = "Content rejected by moderation"
	MessageDenied   = "Action not permitted"
)

// Gateway is the request-boundary check. Detection infrastructure failing
// never blocks a user: any stage error is logged, counted and skipped.
type Gateway struct {
	devices    *DeviceRegistry
	detector   *FraudDetector
	moderation *ModerationPipeline
	trust      *TrustEngine
	logger     *zap.Logger
}

func NewGateway(devices *DeviceRegistry, detector *FraudDetector, moderation *ModerationPipeline, trust *TrustEngine, logger *zap.Logger) *Gateway {
	return &Gateway{
		devices:    devices,
		detector:   detector,
		moderation: moderation,
		trust:      trust,
		logger:     logger,
	}
}

// Check decides whether the action in ac may proceed. Only malformed input
// returns an error.
func (g *Gateway) Check(ctx context.Context, ac *models.ActivityContext) (*models.GatewayDecision, error) {
	if ac == nil || ac.UserID == "" {
		return nil, invalidf("user id is required")
	}
	if !ac.Action.Valid() {
		return nil, fmt.Errorf("%w: %w %q", ErrInvalidInput, ErrUnknownAction, ac.Action)
	}

	start := time.Now()
	decision := &models.GatewayDecision{Allowed: true, Signals: []models.Signal{}}
	defer func() {
		outcome := "allowed"
		if !decision.Allowed {
			outcome = "denied"
		}
		gatewayDecisions.WithLabelValues(string(ac.Action), outcome).Inc()
		gatewayLatency.WithLabelValues(string(ac.Action)).Observe(time.Since(start).Seconds())
	}()

	var upsert *UpsertResult
	if ac.DeviceID != "" {
		if ac.DeviceInfo.UserAgent == "" {
			ac.DeviceInfo.UserAgent = ac.UserAgent
		}
		res, err := g.devices.Upsert(ctx, DeviceSighting{
			Fingerprint: ac.DeviceID,
			UserID:      ac.UserID,
			IPAddress:   ac.IPAddress,
			SessionID:   ac.SessionID,
			Geo:         ac.Geo,
			Info:        ac.DeviceInfo,
			Action:      ac.Action,
		})
		if err != nil {
			g.failOpen(decision, ac, StageDevice, err)
		} else {
			upsert = res
			decision.DeviceRisk = res.Device.RiskScore
		}
	}

	result, err := g.detector.CheckActivity(ctx, ac)
	if err != nil {
		g.failOpen(decision, ac, StageActivity, err)
	} else if g.deny(decision, StageActivity, result) {
		return decision, nil
	}

	for _, check := range g.detectorsFor(ac.Action, upsert) {
		result, err := check(ctx, ac)
		if err != nil {
			g.failOpen(decision, ac, StageDetector, err)
			continue
		}
		if g.deny(decision, StageDetector, result) {
			return decision, nil
		}
	}

	for _, content := range contentFor(ac) {
		mod, err := g.moderation.Moderate(ctx, ac, content)
		if err != nil {
			g.failOpen(decision, ac, StageModeration, err)
			continue
		}
		if !mod.Approved {
			decision.Allowed = false
			decision.Reason = mod.Description
			decision.Message = MessageRejected
			decision.Signals = append(decision.Signals, models.Signal{
				Stage:       StageModeration,
				IsFraud:     true,
				Severity:    mod.Severity,
				Reason:      mod.Description,
				DetectionID: mod.DetectionID,
			})
			return decision, nil
		}
	}

	perm, err := g.trust.CheckPermission(ctx, ac.UserID, ac.Action)
	if err != nil {
		g.failOpen(decision, ac, StagePermission, err)
	} else if !perm.Allowed {
		decision.Allowed = false
		decision.Reason = perm.Reason
		decision.Message = MessageDenied
		return decision, nil
	}

	if err := g.trust.Touch(ctx, ac.UserID); err != nil {
		g.logger.Warn("failed to record activity", zap.String("user_id", ac.UserID), zap.Error(err))
	}
	if ts, err := g.trust.Get(ctx, ac.UserID); err == nil {
		decision.TrustLevel = ts.Level
	}
	return decision, nil
}

type detectorFunc func(ctx context.Context, ac *models.ActivityContext) (models.DetectionResult, error)

// detectorsFor lists the detectors for an action. A user joining a device
// that already carries other accounts is checked whatever the action, so the
// first sighting cannot slip in through a non-login route.
func (g *Gateway) detectorsFor(action models.Action, upsert *UpsertResult) []detectorFunc {
	multiAccount := func(ctx context.Context, ac *models.ActivityContext) (models.DetectionResult, error) {
		return g.detector.CheckMultiAccount(ctx, ac, upsert)
	}

	var checks []detectorFunc
	switch action {
	case models.ActionRegister, models.ActionLogin:
		return []detectorFunc{multiAccount}
	case models.ActionVote:
		checks = []detectorFunc{g.detector.CheckVote}
	case models.ActionCreateBattle:
		checks = []detectorFunc{g.detector.CheckBattle}
	case models.ActionTransform:
		checks = []detectorFunc{g.detector.CheckPrompt}
	}
	if joinedSharedDevice(upsert) {
		checks = append([]detectorFunc{multiAccount}, checks...)
	}
	return checks
}

func joinedSharedDevice(upsert *UpsertResult) bool {
	if upsert == nil || !upsert.UserAdded {
		return false
	}
	return len(upsert.PreviousUsers) > 0
}

// contentFor lists the content-bearing parts of the payload.
func contentFor(ac *models.ActivityContext) []models.Content {
	var out []models.Content
	p := ac.Payload

	switch ac.Action {
	case models.ActionTransform:
		if len(p.ImageLabels) > 0 || p.FaceDetected != nil {
			out = append(out, models.Content{
				Type:         models.ContentTypeImage,
				Ref:          p.ImageRef,
				Labels:       p.ImageLabels,
				FaceDetected: p.FaceDetected,
			})
		}
	case models.ActionComment, models.ActionUpdateProfile:
		if p.Text != "" {
			out = append(out, models.Content{Type: models.ContentTypeText, Text: p.Text})
		}
	}
	return out
}

func (g *Gateway) deny(decision *models.GatewayDecision, stage string, result models.DetectionResult) bool {
	if !result.IsFraud {
		return false
	}
	decision.Allowed = false
	decision.Reason = result.Reason
	decision.Message = MessageBlocked
	decision.Signals = append(decision.Signals, models.Signal{
		Stage:       stage,
		IsFraud:     true,
		Type:        result.Type,
		Severity:    result.Severity,
		Reason:      result.Reason,
		DetectionID: result.DetectionID,
	})
	return true
}

func (g *Gateway) failOpen(decision *models.GatewayDecision, ac *models.ActivityContext, stage string, err error) {
	failOpenTotal.WithLabelValues(stage).Inc()
	decision.FailOpenStages = append(decision.FailOpenStages, stage)
	g.logger.Error("anti-cheat stage failed, allowing",
		zap.String("stage", stage),
		zap.String("user_id", ac.UserID),
		zap.String("action", string(ac.Action)),
		zap.Error(err))
}
