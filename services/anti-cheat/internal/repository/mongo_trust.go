// services/anti-cheat/internal/repository/mongo_trust.go
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"trust-defense/services/anti-cheat/internal/models"
)

type MongoTrustRepository struct {
	coll *mongo.Collection
}

func NewMongoTrustRepository(db *mongo.Database) *MongoTrustRepository {
	return &MongoTrustRepository{coll: db.Collection(trustCollection)}
}

func (r *MongoTrustRepository) Get(ctx context.Context, userID string) (*models.TrustScore, error) {
	var ts models.TrustScore
	err := r.coll.FindOne(ctx, bson.M{"_id": userID}).Decode(&ts)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find trust score: %w", err)
	}
	return &ts, nil
}

func (r *MongoTrustRepository) Save(ctx context.Context, ts *models.TrustScore) error {
	expected := ts.Version
	ts.Version = expected + 1

	if expected == 0 {
		if _, err := r.coll.InsertOne(ctx, ts); err != nil {
			ts.Version = expected
			if mongo.IsDuplicateKeyError(err) {
				return ErrVersionConflict
			}
			return fmt.Errorf("insert trust score: %w", err)
		}
		return nil
	}

	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": ts.UserID, "version": expected}, ts)
	if err != nil {
		ts.Version = expected
		return fmt.Errorf("replace trust score: %w", err)
	}
	if res.MatchedCount == 0 {
		ts.Version = expected
		return ErrVersionConflict
	}
	return nil
}

func (r *MongoTrustRepository) List(ctx context.Context, filter TrustFilter) ([]*models.TrustScore, int, error) {
	query := bson.M{}
	if filter.Level != "" {
		query["level"] = filter.Level
	}
	if filter.ShadowBanned != nil {
		query["flags.is_shadow_banned"] = *filter.ShadowBanned
	}
	if filter.Banned != nil {
		banned := bson.A{
			bson.M{"flags.is_temporarily_banned": true},
			bson.M{"flags.is_permanently_banned": true},
		}
		if *filter.Banned {
			query["$or"] = banned
		} else {
			query["$nor"] = banned
		}
	}

	total, err := r.coll.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("count trust scores: %w", err)
	}

	cur, err := r.coll.Find(ctx, query, findPage(filter.Limit, filter.Offset,
		bson.D{{Key: "score", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, 0, fmt.Errorf("find trust scores: %w", err)
	}
	out, err := decodeAll[models.TrustScore](ctx, cur)
	if err != nil {
		return nil, 0, fmt.Errorf("decode trust scores: %w", err)
	}
	return out, int(total), nil
}

func (r *MongoTrustRepository) ListExpiredTemporaryBans(ctx context.Context, now time.Time, limit int) ([]string, error) {
	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := r.coll.Find(ctx, bson.M{
		"flags.is_temporarily_banned": true,
		"temporary_ban_expires_at":    bson.M{"$lte": now},
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("find expired bans: %w", err)
	}
	defer cur.Close(ctx)

	ids := make([]string, 0)
	for cur.Next(ctx) {
		var row struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		ids = append(ids, row.ID)
	}
	return ids, cur.Err()
}

func (r *MongoTrustRepository) ListAll(ctx context.Context, afterUserID string, limit int) ([]*models.TrustScore, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.coll.Find(ctx, bson.M{"_id": bson.M{"$gt": afterUserID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("scan trust scores: %w", err)
	}
	return decodeAll[models.TrustScore](ctx, cur)
}

func (r *MongoTrustRepository) Stats(ctx context.Context) (models.TrustStats, error) {
	stats := models.TrustStats{ByLevel: make(map[models.TrustLevel]int)}

	cur, err := r.coll.Aggregate(ctx, []bson.M{
		{"$group": bson.M{
			"_id":    nil,
			"total":  bson.M{"$sum": 1},
			"avg":    bson.M{"$avg": "$score"},
			"shadow": bson.M{"$sum": bson.M{"$cond": bson.A{"$flags.is_shadow_banned", 1, 0}}},
			"temp":   bson.M{"$sum": bson.M{"$cond": bson.A{"$flags.is_temporarily_banned", 1, 0}}},
			"perm":   bson.M{"$sum": bson.M{"$cond": bson.A{"$flags.is_permanently_banned", 1, 0}}},
		}},
	})
	if err != nil {
		return stats, fmt.Errorf("aggregate trust totals: %w", err)
	}
	var totals []struct {
		Total  int     `bson:"total"`
		Avg    float64 `bson:"avg"`
		Shadow int     `bson:"shadow"`
		Temp   int     `bson:"temp"`
		Perm   int     `bson:"perm"`
	}
	if err := cur.All(ctx, &totals); err != nil {
		return stats, fmt.Errorf("decode trust totals: %w", err)
	}
	if len(totals) == 1 {
		stats.Total = totals[0].Total
		stats.AverageScore = totals[0].Avg
		stats.ShadowBanned = totals[0].Shadow
		stats.TempBanned = totals[0].Temp
		stats.PermBanned = totals[0].Perm
	}

	cur, err = r.coll.Aggregate(ctx, []bson.M{
		{"$group": bson.M{"_id": "$level", "count": bson.M{"$sum": 1}}},
	})
	if err != nil {
		return stats, fmt.Errorf("aggregate trust levels: %w", err)
	}
	var levels []struct {
		Level models.TrustLevel `bson:"_id"`
		Count int               `bson:"count"`
	}
	if err := cur.All(ctx, &levels); err != nil {
		return stats, fmt.Errorf("decode trust levels: %w", err)
	}
	for _, l := range levels {
		stats.ByLevel[l.Level] = l.Count
	}
	return stats, nil
}
