// services/anti-cheat/internal/repository/repository.go
package repository

import (
	"context"
	"errors"
	"time"

	"trust-defense/services/anti-cheat/internal/models"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrDuplicate       = errors.New("duplicate record")
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// NormalizePage clamps paging parameters.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

type TrustFilter struct {
	Level        models.TrustLevel
	ShadowBanned *bool
	Banned       *bool
	Limit        int
	Offset       int
}

type DeviceFilter struct {
	MultiAccountOnly bool
	SuspiciousOnly   bool
	BlockedOnly      bool
	MinRisk          int
	Limit            int
	Offset           int
}

type DetectionFilter struct {
	UserID     string
	Type       models.FraudType
	Status     models.DetectionStatus
	Severity   models.Severity
	ActiveOnly bool
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

type AuditFilter struct {
	Actor      string
	TargetType string
	Target     string
	Limit      int
	Offset     int
}

// Save on the versioned repositories inserts when Version is zero and
// otherwise compare-and-swaps on Version. On success the record's Version
// is advanced in place.

type TrustScoreRepository interface {
	Get(ctx context.Context, userID string) (*models.TrustScore, error)
	Save(ctx context.Context, ts *models.TrustScore) error
	List(ctx context.Context, filter TrustFilter) ([]*models.TrustScore, int, error)
	ListExpiredTemporaryBans(ctx context.Context, now time.Time, limit int) ([]string, error)
	ListAll(ctx context.Context, afterUserID string, limit int) ([]*models.TrustScore, error)
	Stats(ctx context.Context) (models.TrustStats, error)
}

type DeviceRepository interface {
	Get(ctx context.Context, fingerprint string) (*models.DeviceFingerprint, error)
	Save(ctx context.Context, d *models.DeviceFingerprint) error
	CountUsersByIP(ctx context.Context, ip string) (int, error)
	List(ctx context.Context, filter DeviceFilter) ([]*models.DeviceFingerprint, int, error)
	Stats(ctx context.Context) (models.DeviceStats, error)
}

type DetectionRepository interface {
	// CreateIfAbsent stores d unless a record with the same evidence key
	// exists, in which case that record is returned with created=false.
	CreateIfAbsent(ctx context.Context, d *models.FraudDetection) (stored *models.FraudDetection, created bool, err error)
	Get(ctx context.Context, id string) (*models.FraudDetection, error)
	Update(ctx context.Context, d *models.FraudDetection) error
	List(ctx context.Context, filter DetectionFilter) ([]*models.FraudDetection, int, error)
	Tally(ctx context.Context, from, to time.Time) (models.DetectionTallies, error)
}

type ModerationLogRepository interface {
	Create(ctx context.Context, log *models.ModerationLog) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.ModerationLog, error)
	CountByCategory(ctx context.Context, from, to time.Time) (map[models.ModerationCategory]int, error)
}

type ActivityRepository interface {
	// RecordVote returns ErrDuplicate when the user already voted on the battle.
	RecordVote(ctx context.Context, v *models.Vote) error
	HasVoted(ctx context.Context, userID, battleID string) (bool, error)
	RecordBattle(ctx context.Context, b *models.Battle) error
	CountBattlesSince(ctx context.Context, userID string, since time.Time) (int, error)
}

type AuditRepository interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
	List(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error)
}

// CounterStore is a fixed-window counter shared between instances.
type CounterStore interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

func paginate[T any](items []T, limit, offset int) []T {
	limit, offset = NormalizePage(limit, offset)
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
