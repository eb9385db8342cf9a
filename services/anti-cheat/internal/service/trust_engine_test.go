// services/anti-cheat/internal/service/trust_engine_test.go
package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"trust-defense/services/anti-cheat/internal/models"
	"trust-defense/shared/pkg/redis"
)

func TestTrustEngineGetDefault(t *testing.T) {
	env := newTestEnv(t)

	ts := env.score(t, "u1")
	if ts.Score != models.DefaultTrustScore {
		t.Errorf("Score = %d, want %d", ts.Score, models.DefaultTrustScore)
	}
	if ts.Level != models.TrustLevelNormal {
		t.Errorf("Level = %s, want %s", ts.Level, models.TrustLevelNormal)
	}
	if !ts.Flags.CanVote || !ts.Flags.CanCreateBattles {
		t.Errorf("Flags = %+v, want voting and battles allowed", ts.Flags)
	}

	if _, err := env.trust.Get(context.Background(), ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Get(\"\") error = %v, want ErrInvalidInput", err)
	}
}

func TestTrustEngineAdjust(t *testing.T) {
	tests := []struct {
		name      string
		points    int
		wantScore int
		wantLevel models.TrustLevel
		wantErr   bool
	}{
		{"raise to trusted", 30, 80, models.TrustLevelTrusted, false},
		{"clamp at max", 100, 100, models.TrustLevelTrusted, false},
		{"drop to suspicious", -30, 20, models.TrustLevelSuspicious, false},
		{"clamp at min", -100, 0, models.TrustLevelBanned, false},
		{"too large", 101, 0, "", true},
		{"too small", -101, 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ts, err := env.trust.Adjust(context.Background(), "u1", tt.points, tt.name, "", nil)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("Adjust() error = %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Adjust() error = %v", err)
			}
			if ts.Score != tt.wantScore {
				t.Errorf("Score = %d, want %d", ts.Score, tt.wantScore)
			}
			if ts.Level != tt.wantLevel {
				t.Errorf("Level = %s, want %s", ts.Level, tt.wantLevel)
			}
			if got := ts.HistorySum(); got != ts.Score {
				t.Errorf("HistorySum() = %d, want %d", got, ts.Score)
			}
		})
	}
}

func TestTrustEngineRepeatedViolationsBan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := env.trust.RecordViolation(ctx, "u1", "nsfw", models.SeverityHigh, "NSFW image", CostNSFW); err != nil {
			t.Fatalf("RecordViolation() error = %v", err)
		}
	}

	ts := env.score(t, "u1")
	if ts.Score != 0 {
		t.Errorf("Score = %d, want 0", ts.Score)
	}
	if ts.Level != models.TrustLevelBanned {
		t.Errorf("Level = %s, want banned", ts.Level)
	}
	if ts.Flags.CanVote || ts.Flags.CanCreateBattles || ts.Flags.CanTransform || ts.Flags.CanJoinTribe {
		t.Errorf("Flags = %+v, want every capability off", ts.Flags)
	}
	if len(ts.Violations) != 3 {
		t.Errorf("len(Violations) = %d, want 3", len(ts.Violations))
	}
	if got := ts.HistorySum(); got != 0 {
		t.Errorf("HistorySum() = %d, want 0", got)
	}
}

func TestTrustEngineRecordViolationValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.trust.RecordViolation(ctx, "u1", "x", models.SeverityLow, "", -1); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("negative points error = %v, want ErrInvalidInput", err)
	}
	if _, err := env.trust.RecordViolation(ctx, "u1", "x", "extreme", "", 5); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("bad severity error = %v, want ErrInvalidInput", err)
	}
}

func TestTrustEngineConcurrentViolations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.trust.RecordViolation(ctx, "u1", "spam", models.SeverityLow, "spam", 1); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("RecordViolation() error = %v", err)
	}

	ts := env.score(t, "u1")
	if ts.Score != models.DefaultTrustScore-workers {
		t.Errorf("Score = %d, want %d", ts.Score, models.DefaultTrustScore-workers)
	}
	if len(ts.Violations) != workers {
		t.Errorf("len(Violations) = %d, want %d", len(ts.Violations), workers)
	}
}

func TestTrustEngineShadowban(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ts, err := env.trust.Shadowban(ctx, "u1", "vote ring")
	if err != nil {
		t.Fatalf("Shadowban() error = %v", err)
	}
	if ts.Score != 20 || !ts.Flags.IsShadowBanned || ts.Flags.CanVote {
		t.Errorf("after Shadowban: score %d flags %+v", ts.Score, ts.Flags)
	}

	ts, err = env.trust.Shadowban(ctx, "u1", "again")
	if err != nil {
		t.Fatalf("Shadowban() error = %v", err)
	}
	if ts.Score != 20 {
		t.Errorf("repeated Shadowban score = %d, want 20", ts.Score)
	}

	ts, err = env.trust.LiftShadowban(ctx, "u1", "appeal")
	if err != nil {
		t.Fatalf("LiftShadowban() error = %v", err)
	}
	if ts.Score != 40 || ts.Flags.IsShadowBanned {
		t.Errorf("after LiftShadowban: score %d flags %+v", ts.Score, ts.Flags)
	}
}

func TestTrustEngineShadowbanOverridesVoting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.trust.Adjust(ctx, "u1", 50, "good standing", "", nil); err != nil {
		t.Fatalf("Adjust() error = %v", err)
	}
	if _, err := env.trust.Shadowban(ctx, "u1", "review"); err != nil {
		t.Fatalf("Shadowban() error = %v", err)
	}

	res, err := env.trust.CheckPermission(ctx, "u1", models.ActionVote)
	if err != nil {
		t.Fatalf("CheckPermission() error = %v", err)
	}
	if res.Allowed {
		t.Error("CheckPermission(vote) allowed for shadowbanned trusted user")
	}
	res, _ = env.trust.CheckPermission(ctx, "u1", models.ActionCreateBattle)
	if !res.Allowed {
		t.Errorf("CheckPermission(create_battle) = %+v, want allowed", res)
	}
}

func TestTrustEngineTemporaryBanExpires(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sweeper := NewBanSweeper(env.trust, time.Minute, zap.NewNop())

	if _, err := env.trust.Adjust(ctx, "u1", 40, "setup", "", nil); err != nil {
		t.Fatalf("Adjust() error = %v", err)
	}
	ts, err := env.trust.TemporaryBan(ctx, "u1", time.Hour, "cooldown")
	if err != nil {
		t.Fatalf("TemporaryBan() error = %v", err)
	}
	if ts.Score != 50 || !ts.Flags.IsTemporarilyBanned || ts.Flags.CanVote || ts.Flags.CanJoinTribe {
		t.Errorf("after TemporaryBan: score %d flags %+v", ts.Score, ts.Flags)
	}
	if ts.TemporaryBanExpiresAt == nil || !ts.TemporaryBanExpiresAt.Equal(env.clock.Now().Add(time.Hour)) {
		t.Errorf("TemporaryBanExpiresAt = %v, want now+1h", ts.TemporaryBanExpiresAt)
	}

	if n := sweeper.Sweep(ctx); n != 0 {
		t.Errorf("Sweep() before expiry = %d, want 0", n)
	}

	env.clock.Advance(2 * time.Hour)
	if n := sweeper.Sweep(ctx); n != 1 {
		t.Errorf("Sweep() after expiry = %d, want 1", n)
	}

	ts = env.score(t, "u1")
	if ts.Flags.IsTemporarilyBanned || !ts.Flags.CanVote {
		t.Errorf("after expiry: flags %+v, want ban lifted", ts.Flags)
	}
	if ts.TemporaryBanExpiresAt != nil {
		t.Errorf("TemporaryBanExpiresAt = %v, want nil", ts.TemporaryBanExpiresAt)
	}
}

func TestTrustEngineTemporaryBanLiftedOnRead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.trust.TemporaryBan(ctx, "u1", time.Hour, "cooldown"); err != nil {
		t.Fatalf("TemporaryBan() error = %v", err)
	}
	env.clock.Advance(time.Hour)

	ts := env.score(t, "u1")
	if ts.Flags.IsTemporarilyBanned {
		t.Error("expired temporary ban still set after Get")
	}
}

func TestTrustEnginePermanentBan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sweeper := NewBanSweeper(env.trust, time.Minute, zap.NewNop())

	ts, err := env.trust.PermanentBan(ctx, "u1", "fraud ring")
	if err != nil {
		t.Fatalf("PermanentBan() error = %v", err)
	}
	if ts.Score != 0 || !ts.Flags.IsPermanentlyBanned {
		t.Errorf("after PermanentBan: score %d flags %+v", ts.Score, ts.Flags)
	}

	if _, err := env.trust.TemporaryBan(ctx, "u1", time.Hour, "x"); !errors.Is(err, ErrPermanentBan) {
		t.Errorf("TemporaryBan() on permanent ban error = %v, want ErrPermanentBan", err)
	}

	env.clock.Advance(400 * 24 * time.Hour)
	sweeper.Sweep(ctx)
	if ts := env.score(t, "u1"); !ts.Flags.IsPermanentlyBanned {
		t.Error("permanent ban lifted without admin action")
	}

	ts, err = env.trust.RevokePermanentBan(ctx, "u1", "appeal granted")
	if err != nil {
		t.Fatalf("RevokePermanentBan() error = %v", err)
	}
	if ts.Flags.IsPermanentlyBanned {
		t.Error("RevokePermanentBan() left the ban in place")
	}
}

func TestTrustEngineDecay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	start := env.score(t, "u1").LastDecay
	env.clock.Advance(3*24*time.Hour + time.Hour)

	ts, err := env.trust.ApplyDecay(ctx, "u1")
	if err != nil {
		t.Fatalf("ApplyDecay() error = %v", err)
	}
	if ts.Score != 47 {
		t.Errorf("Score = %d, want 47", ts.Score)
	}
	if want := start.Add(3 * 24 * time.Hour); !ts.LastDecay.Equal(want) {
		t.Errorf("LastDecay = %v, want %v", ts.LastDecay, want)
	}

	ts, _ = env.trust.ApplyDecay(ctx, "u1")
	if ts.Score != 47 {
		t.Errorf("second ApplyDecay() Score = %d, want 47", ts.Score)
	}
}

func TestTrustEngineDecayStopsAtZero(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.trust.Adjust(ctx, "u1", -48, "setup", "", nil); err != nil {
		t.Fatalf("Adjust() error = %v", err)
	}
	env.clock.Advance(10 * 24 * time.Hour)

	ts, err := env.trust.ApplyDecay(ctx, "u1")
	if err != nil {
		t.Fatalf("ApplyDecay() error = %v", err)
	}
	if ts.Score != 0 {
		t.Errorf("Score = %d, want 0", ts.Score)
	}
	if ts.HistorySum() != ts.Score {
		t.Errorf("HistorySum() = %d, want %d", ts.HistorySum(), ts.Score)
	}
}

func TestTrustEngineTouchResetsDecayClock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.score(t, "u1")
	env.clock.Advance(2*24*time.Hour + 30*time.Minute)
	if err := env.trust.Touch(ctx, "u1"); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}

	ts := env.score(t, "u1")
	if ts.Score != 48 {
		t.Errorf("Score = %d, want 48", ts.Score)
	}
	if !ts.LastActivity.Equal(env.clock.Now()) || !ts.LastDecay.Equal(env.clock.Now()) {
		t.Errorf("LastActivity %v LastDecay %v, want %v", ts.LastActivity, ts.LastDecay, env.clock.Now())
	}
}

func TestCheckPermissionUnknownActionAllowed(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.trust.CheckPermission(context.Background(), "u1", models.Action("teleport"))
	if err != nil {
		t.Fatalf("CheckPermission() error = %v", err)
	}
	if !res.Allowed {
		t.Errorf("CheckPermission(teleport) = %+v, want allowed", res)
	}
}

func TestPermissionCacheRefreshedOnWrite(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewRedisClient(mr.Addr())
	t.Cleanup(func() { client.Close() })

	env := newTestEnv(t)
	cache := NewPermissionCache(client, time.Minute, zap.NewNop())
	t.Cleanup(cache.Close)
	env.trust.cache = cache
	ctx := context.Background()

	res, err := env.trust.CheckPermission(ctx, "u1", models.ActionVote)
	if err != nil || !res.Allowed {
		t.Fatalf("CheckPermission() = %+v, %v, want allowed", res, err)
	}
	if !mr.Exists("trust:summary:u1") {
		t.Error("summary not written to redis")
	}

	if _, err := env.trust.Shadowban(ctx, "u1", "test"); err != nil {
		t.Fatalf("Shadowban() error = %v", err)
	}
	cached, ok := cache.Get(ctx, "u1")
	if !ok || !cached.Flags.IsShadowBanned {
		t.Errorf("cached summary after write = %+v, %v, want shadowbanned", cached, ok)
	}

	res, err = env.trust.CheckPermission(ctx, "u1", models.ActionVote)
	if err != nil {
		t.Fatalf("CheckPermission() error = %v", err)
	}
	if res.Allowed {
		t.Error("CheckPermission(vote) served a stale allow after shadowban")
	}
}

func TestPermissionCacheIgnoresStaleFill(t *testing.T) {
	tests := []struct {
		name      string
		withRedis bool
	}{
		{"redis", true},
		{"memory", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var client *redis.Client
			if tt.withRedis {
				client = redis.NewRedisClient(miniredis.RunT(t).Addr())
				t.Cleanup(func() { client.Close() })
			}

			env := newTestEnv(t)
			cache := NewPermissionCache(client, time.Minute, zap.NewNop())
			t.Cleanup(cache.Close)
			env.trust.cache = cache
			ctx := context.Background()

			// a reader loads the record, then a ban lands before it fills the cache
			before := env.score(t, "u1").Summary()
			if _, err := env.trust.TemporaryBan(ctx, "u1", time.Hour, "cooldown"); err != nil {
				t.Fatalf("TemporaryBan() error = %v", err)
			}
			cache.Set(ctx, before)

			res, err := env.trust.CheckPermission(ctx, "u1", models.ActionJoinTribe)
			if err != nil {
				t.Fatalf("CheckPermission() error = %v", err)
			}
			if res.Allowed {
				t.Error("CheckPermission() allowed a banned user from a stale cache fill")
			}
		})
	}
}

func TestPermissionCacheStats(t *testing.T) {
	cache := NewPermissionCache(nil, 30*time.Second, zap.NewNop())
	t.Cleanup(cache.Close)
	cache.Set(context.Background(), models.TrustSummary{UserID: "u1", Version: 1})

	stats := cache.Stats()
	if stats["backend"] != "memory" || stats["memory_cache_size"] != 1 || stats["ttl"] != "30s" {
		t.Errorf("Stats() = %v", stats)
	}
}

func TestTrustEngineEmitsEvents(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.trust.Adjust(context.Background(), "u1", 5, "bonus", "", nil); err != nil {
		t.Fatalf("Adjust() error = %v", err)
	}
	if n := env.publisher.count(EventTrustChanged); n != 1 {
		t.Errorf("trust events = %d, want 1", n)
	}
}
