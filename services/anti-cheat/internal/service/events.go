// services/anti-cheat/internal/service/events.go
package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"trust-defense/shared/pkg/events"
)

const (
	EventTrustChanged        = "trust.score_changed"
	EventFraudDetected       = "fraud.detected"
	EventModerationViolation = "moderation.violation"
	EventContentRemoval      = "moderation.content_removal"
	EventDetectionReviewed   = "fraud.detection_reviewed"
	EventDeviceFlagged       = "device.flagged"
)

type envelope struct {
	Type       string      `json:"type"`
	Key        string      `json:"key"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

// emitter publishes best-effort; failures are logged and never returned.
type emitter struct {
	publisher events.Publisher
	logger    *zap.Logger
}

func newEmitter(publisher events.Publisher, logger *zap.Logger) emitter {
	if publisher == nil {
		publisher = events.NewLogPublisher(logger)
	}
	return emitter{publisher: publisher, logger: logger}
}

func (e emitter) emit(ctx context.Context, eventType, key string, data interface{}) {
	payload, err := json.Marshal(envelope{
		Type:       eventType,
		Key:        key,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	if err != nil {
		e.logger.Error("failed to encode event", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	if err := e.publisher.Publish(ctx, eventType, payload, key); err != nil {
		e.logger.Warn("failed to publish event",
			zap.String("event_type", eventType),
			zap.String("key", key),
			zap.Error(err))
	}
}
