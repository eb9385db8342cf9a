// services/anti-cheat/internal/service/device_registry.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trust-defense/services/anti-cheat/internal/models"
	"trust-defense/services/anti-cheat/internal/repository"
	"trust-defense/shared/pkg/events"
)

const systemActor = "system"

// DeviceSighting is one observation of a device at the request boundary.
type DeviceSighting struct {
	Fingerprint string
	UserID      string
	IPAddress   string
	SessionID   string
	Geo         *models.Geo
	Info        models.DeviceInfo
	Action      models.Action
}

type UpsertResult struct {
	Device *models.DeviceFingerprint
	// Created is true when the fingerprint was first seen by this call.
	Created bool
	// UserAdded is true when the user was not yet associated with the device.
	UserAdded bool
	// PreviousUsers holds the users on the device before this sighting.
	PreviousUsers []string
}

// DeviceRegistry maintains device fingerprints and their risk.
type DeviceRegistry struct {
	repo       repository.DeviceRepository
	events     emitter
	logger     *zap.Logger
	nowFn      func() time.Time
	maxRetries int
}

func NewDeviceRegistry(repo repository.DeviceRepository, publisher events.Publisher, logger *zap.Logger) *DeviceRegistry {
	return &DeviceRegistry{
		repo:       repo,
		events:     newEmitter(publisher, logger),
		logger:     logger,
		nowFn:      time.Now,
		maxRetries: defaultMaxRetries,
	}
}

// Upsert records a sighting: the user, IP, session and activity are merged
// into the device and risk is recomputed, all in one versioned write.
func (r *DeviceRegistry) Upsert(ctx context.Context, s DeviceSighting) (*UpsertResult, error) {
	if s.Fingerprint == "" {
		return nil, invalidf("device fingerprint is required")
	}

	agent := parseUserAgent(s.Info.UserAgent)
	var result UpsertResult

	device, err := r.mutate(ctx, s.Fingerprint, true, func(d *models.DeviceFingerprint, now time.Time) (bool, error) {
		result = UpsertResult{
			Created:       d.Version == 0,
			PreviousUsers: append([]string{}, d.UserIDs...),
		}

		d.DeviceInfo = mergeDeviceInfo(d.DeviceInfo, s.Info, agent)
		if agent.Bot && !d.Flags.IsBot {
			d.SetFlag(models.DeviceFlagBot, true, "Automated user agent: "+s.Info.UserAgent, systemActor, now)
		}
		result.UserAdded = d.AddUser(s.UserID)
		d.RecordIP(s.IPAddress, s.Geo, now)
		d.RecordSession(s.SessionID, s.UserID, now)
		countActivity(d, s.Action)
		d.LastSeen = now
		d.RecomputeRisk()
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	result.Device = device
	if result.UserAdded && len(result.PreviousUsers) > 0 {
		r.logger.Info("user joined shared device",
			zap.String("fingerprint", s.Fingerprint),
			zap.String("user_id", s.UserID),
			zap.Int("users", len(device.UserIDs)))
	}
	return &result, nil
}

func (r *DeviceRegistry) Get(ctx context.Context, fingerprint string) (*models.DeviceFingerprint, error) {
	if fingerprint == "" {
		return nil, invalidf("device fingerprint is required")
	}
	return r.repo.Get(ctx, fingerprint)
}

func (r *DeviceRegistry) AddUser(ctx context.Context, fingerprint, userID string) (*models.DeviceFingerprint, error) {
	if userID == "" {
		return nil, invalidf("user id is required")
	}
	return r.mutate(ctx, fingerprint, true, func(d *models.DeviceFingerprint, now time.Time) (bool, error) {
		return d.AddUser(userID), nil
	})
}

func (r *DeviceRegistry) RemoveUser(ctx context.Context, fingerprint, userID string) (*models.DeviceFingerprint, error) {
	return r.mutate(ctx, fingerprint, false, func(d *models.DeviceFingerprint, now time.Time) (bool, error) {
		return d.RemoveUser(userID), nil
	})
}

func (r *DeviceRegistry) MarkSuspicious(ctx context.Context, fingerprint, reason, actor string) (*models.DeviceFingerprint, error) {
	return r.setFlag(ctx, fingerprint, models.DeviceFlagSuspicious, true, reason, actor)
}

func (r *DeviceRegistry) MarkBlocked(ctx context.Context, fingerprint, reason, actor string) (*models.DeviceFingerprint, error) {
	return r.setFlag(ctx, fingerprint, models.DeviceFlagBlocked, true, reason, actor)
}

func (r *DeviceRegistry) MarkBot(ctx context.Context, fingerprint, reason, actor string) (*models.DeviceFingerprint, error) {
	return r.setFlag(ctx, fingerprint, models.DeviceFlagBot, true, reason, actor)
}

// Unmark clears a manual flag. The clearing is kept in the flag history.
func (r *DeviceRegistry) Unmark(ctx context.Context, fingerprint string, flag models.DeviceFlag, reason, actor string) (*models.DeviceFingerprint, error) {
	return r.setFlag(ctx, fingerprint, flag, false, reason, actor)
}

func (r *DeviceRegistry) setFlag(ctx context.Context, fingerprint string, flag models.DeviceFlag, set bool, reason, actor string) (*models.DeviceFingerprint, error) {
	if !flag.Valid() {
		return nil, invalidf("unknown device flag %q", flag)
	}
	if actor == "" {
		actor = systemActor
	}

	d, err := r.mutate(ctx, fingerprint, false, func(d *models.DeviceFingerprint, now time.Time) (bool, error) {
		d.SetFlag(flag, set, reason, actor, now)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	r.events.emit(ctx, EventDeviceFlagged, fingerprint, map[string]interface{}{
		"fingerprint": fingerprint,
		"flag":        flag,
		"set":         set,
		"reason":      reason,
		"actor":       actor,
		"risk_score":  d.RiskScore,
	})
	return d, nil
}

// RecomputeRisk re-derives the stored risk score from current state.
func (r *DeviceRegistry) RecomputeRisk(ctx context.Context, fingerprint string) (*models.DeviceFingerprint, error) {
	return r.mutate(ctx, fingerprint, false, func(d *models.DeviceFingerprint, now time.Time) (bool, error) {
		before := d.RiskScore
		d.RecomputeRisk()
		return d.RiskScore != before, nil
	})
}

// RecordActivity bumps the per-kind activity counter.
func (r *DeviceRegistry) RecordActivity(ctx context.Context, fingerprint string, action models.Action) (*models.DeviceFingerprint, error) {
	return r.mutate(ctx, fingerprint, false, func(d *models.DeviceFingerprint, now time.Time) (bool, error) {
		countActivity(d, action)
		d.LastSeen = now
		d.RecomputeRisk()
		return true, nil
	})
}

func (r *DeviceRegistry) UsersByIP(ctx context.Context, ip string) (int, error) {
	if ip == "" {
		return 0, nil
	}
	return r.repo.CountUsersByIP(ctx, ip)
}

func (r *DeviceRegistry) List(ctx context.Context, filter repository.DeviceFilter) ([]*models.DeviceFingerprint, int, error) {
	return r.repo.List(ctx, filter)
}

func (r *DeviceRegistry) Stats(ctx context.Context) (models.DeviceStats, error) {
	return r.repo.Stats(ctx)
}

// mutate applies fn under version compare-and-swap. Unknown fingerprints are
// created only when create is set, otherwise ErrNotFound is returned.
func (r *DeviceRegistry) mutate(ctx context.Context, fingerprint string, create bool, fn func(d *models.DeviceFingerprint, now time.Time) (bool, error)) (*models.DeviceFingerprint, error) {
	if fingerprint == "" {
		return nil, invalidf("device fingerprint is required")
	}

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		now := r.nowFn()

		d, err := r.repo.Get(ctx, fingerprint)
		switch {
		case errors.Is(err, repository.ErrNotFound) && create:
			d = models.NewDeviceFingerprint(fingerprint, now)
		case err != nil:
			return nil, fmt.Errorf("load device: %w", err)
		}

		changed, err := fn(d, now)
		if err != nil {
			return nil, err
		}
		if !changed && d.Version != 0 {
			return d, nil
		}

		err = r.repo.Save(ctx, d)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, fmt.Errorf("save device: %w", err)
		}

		casRetries.WithLabelValues("device").Inc()
		if err := sleepCtx(ctx, backoff(attempt)); err != nil {
			return nil, err
		}
	}

	r.logger.Error("device update gave up after conflicts", zap.String("fingerprint", fingerprint))
	return nil, ErrTooManyConflicts
}

func countActivity(d *models.DeviceFingerprint, action models.Action) {
	switch action {
	case models.ActionVote:
		d.Activity.Votes++
	case models.ActionCreateBattle:
		d.Activity.Battles++
	case models.ActionTransform:
		d.Activity.Transforms++
	case models.ActionLogin, models.ActionRegister:
		d.Activity.Logins++
	case "":
		return
	}
	d.Activity.Total++
}
