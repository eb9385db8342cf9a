// services/anti-cheat/internal/repository/mongo_integration_test.go
//go:build integration
// +build integration

package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"trust-defense/services/anti-cheat/internal/models"
	"trust-defense/shared/pkg/database"
)

func testMongo(t *testing.T) *database.MongoDB {
	t.Helper()

	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}
	ctx := context.Background()
	db, err := database.NewMongoDB(ctx, uri, "anticheat_test_"+uuid.New().String()[:8])
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := EnsureIndexes(ctx, db.Database()); err != nil {
		t.Fatalf("Failed to create indexes: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Database().Drop(context.Background())
		_ = db.Close(context.Background())
	})
	return db
}

func TestMongoTrustRepository(t *testing.T) {
	db := testMongo(t)
	repo := NewMongoTrustRepository(db.Database())
	ctx := context.Background()

	ts := models.NewTrustScore("u1", time.Now().UTC())
	if err := repo.Save(ctx, ts); err != nil {
		t.Fatalf("Save() insert error = %v", err)
	}

	stale, _ := repo.Get(ctx, "u1")
	ts.Score = 10
	ts.Recompute()
	if err := repo.Save(ctx, ts); err != nil {
		t.Fatalf("Save() update error = %v", err)
	}
	stale.Score = 90
	if err := repo.Save(ctx, stale); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("Save() stale error = %v, want ErrVersionConflict", err)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 1 || stats.ByLevel[models.TrustLevelBanned] != 1 {
		t.Errorf("Stats() = %+v, want one banned record", stats)
	}
}

func TestMongoDetectionRepositoryDedup(t *testing.T) {
	db := testMongo(t)
	repo := NewMongoDetectionRepository(db.Database())
	ctx := context.Background()

	d := &models.FraudDetection{ID: uuid.New().String(), UserID: "u1", EvidenceKey: "vote:u1:b1", Status: models.StatusPending, CreatedAt: time.Now().UTC()}
	if _, created, err := repo.CreateIfAbsent(ctx, d); err != nil || !created {
		t.Fatalf("CreateIfAbsent() = %v, %v", created, err)
	}

	dup := &models.FraudDetection{ID: uuid.New().String(), UserID: "u1", EvidenceKey: "vote:u1:b1", Status: models.StatusPending, CreatedAt: time.Now().UTC()}
	stored, created, err := repo.CreateIfAbsent(ctx, dup)
	if err != nil {
		t.Fatal(err)
	}
	if created || stored.ID != d.ID {
		t.Errorf("CreateIfAbsent() duplicate = %s created=%v, want %s", stored.ID, created, d.ID)
	}
}

func TestMongoDetectionRepositoryTally(t *testing.T) {
	db := testMongo(t)
	repo := NewMongoDetectionRepository(db.Database())
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	reviewedAt := base.Add(30 * time.Minute)

	detections := []*models.FraudDetection{
		{Type: models.FraudTypeVote, Status: models.StatusConfirmed, Severity: models.SeverityHigh, ReviewedBy: "a1", ReviewedAt: &reviewedAt, CreatedAt: base},
		{Type: models.FraudTypeVote, Status: models.StatusPending, Severity: models.SeverityHigh, IsActive: true, CreatedAt: base.Add(time.Hour)},
		{Type: models.FraudTypeMultiAccount, Status: models.StatusPending, Severity: models.SeverityMedium, IsActive: true, CreatedAt: base.Add(48 * time.Hour)},
	}
	for i, d := range detections {
		d.ID = uuid.New().String()
		d.UserID = "u1"
		d.EvidenceKey = "tally:" + string(rune('a'+i))
		if _, _, err := repo.CreateIfAbsent(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	tallies, err := repo.Tally(ctx, base, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Tally() error = %v", err)
	}
	stats := models.BuildDetectionStats(tallies, time.Time{}, time.Time{})
	if stats.Total != 2 || stats.Active != 1 || stats.ByType[models.FraudTypeVote] != 2 {
		t.Errorf("Tally() stats = %+v, want two vote detections", stats)
	}
	if len(stats.Reviewers) != 1 || stats.Reviewers[0].AvgMinutesToReview != 30 {
		t.Errorf("Reviewers = %+v, want a1 averaging 30 minutes", stats.Reviewers)
	}
}

func TestMongoDeviceRepositoryUsersByIP(t *testing.T) {
	db := testMongo(t)
	repo := NewMongoDeviceRepository(db.Database())
	ctx := context.Background()
	now := time.Now().UTC()

	d := models.NewDeviceFingerprint("fp-1", now)
	d.AddUser("u1")
	d.AddUser("u2")
	d.RecordIP("10.1.1.1", &models.Geo{Country: "US"}, now)
	if err := repo.Save(ctx, d); err != nil {
		t.Fatal(err)
	}

	n, err := repo.CountUsersByIP(ctx, "10.1.1.1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("CountUsersByIP() = %d, want 2", n)
	}
}
