// services/anti-cheat/internal/service/env_test.go
package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"trust-defense/services/anti-cheat/internal/models"
	"trust-defense/services/anti-cheat/internal/repository"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordedEvent struct {
	Type string
	Key  string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, eventType string, payload []byte, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{Type: eventType, Key: key})
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// testEnv wires every component over in-memory repositories and one clock.
type testEnv struct {
	clock      *testClock
	publisher  *recordingPublisher
	trustRepo  *repository.MemoryTrustRepository
	deviceRepo *repository.MemoryDeviceRepository
	detections *repository.MemoryDetectionRepository
	activity   *repository.MemoryActivityRepository
	modLogs    *repository.MemoryModerationLogRepository
	audit      *repository.MemoryAuditRepository
	counter    *repository.MemoryCounter

	trust      *TrustEngine
	devices    *DeviceRegistry
	detector   *FraudDetector
	moderation *ModerationPipeline
	gateway    *Gateway
	admin      *AdminReviewService
	stats      *StatisticsService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	env := &testEnv{
		clock:      newTestClock(),
		publisher:  &recordingPublisher{},
		trustRepo:  repository.NewMemoryTrustRepository(),
		deviceRepo: repository.NewMemoryDeviceRepository(),
		detections: repository.NewMemoryDetectionRepository(),
		activity:   repository.NewMemoryActivityRepository(),
		modLogs:    repository.NewMemoryModerationLogRepository(),
		audit:      repository.NewMemoryAuditRepository(),
		counter:    repository.NewMemoryCounter(),
	}

	env.trust = NewTrustEngine(env.trustRepo, nil, env.publisher, logger)
	env.trust.nowFn = env.clock.Now

	env.devices = NewDeviceRegistry(env.deviceRepo, env.publisher, logger)
	env.devices.nowFn = env.clock.Now

	env.detector = NewFraudDetector(env.detections, env.activity, env.devices, env.trust, env.counter,
		DefaultDetectionThresholds(), env.publisher, logger)
	env.detector.nowFn = env.clock.Now

	env.moderation = NewModerationPipeline(env.modLogs, env.trust, env.detector,
		DefaultModerationRules(), nil, env.publisher, logger)
	env.moderation.nowFn = env.clock.Now

	env.gateway = NewGateway(env.devices, env.detector, env.moderation, env.trust, logger)

	env.admin = NewAdminReviewService(env.detections, env.audit, env.trust, env.devices, 0, env.publisher, logger)
	env.admin.nowFn = env.clock.Now

	env.stats = NewStatisticsService(env.detections, env.modLogs, env.trust, env.devices, logger)
	return env
}

func (e *testEnv) score(t *testing.T, userID string) *models.TrustScore {
	t.Helper()
	ts, err := e.trust.Get(context.Background(), userID)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", userID, err)
	}
	return ts
}

func boolPtr(b bool) *bool { return &b }
