// services/anti-cheat/internal/repository/mongo_activity.go
package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"trust-defense/services/anti-cheat/internal/models"
)

type MongoActivityRepository struct {
	votes   *mongo.Collection
	battles *mongo.Collection
}

func NewMongoActivityRepository(db *mongo.Database) *MongoActivityRepository {
	return &MongoActivityRepository{
		votes:   db.Collection(voteCollection),
		battles: db.Collection(battleCollection),
	}
}

func (r *MongoActivityRepository) RecordVote(ctx context.Context, v *models.Vote) error {
	if _, err := r.votes.InsertOne(ctx, v); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert vote: %w", err)
	}
	return nil
}

func (r *MongoActivityRepository) HasVoted(ctx context.Context, userID, battleID string) (bool, error) {
	n, err := r.votes.CountDocuments(ctx,
		bson.M{"user_id": userID, "battle_id": battleID},
		options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("count votes: %w", err)
	}
	return n > 0, nil
}

func (r *MongoActivityRepository) RecordBattle(ctx context.Context, b *models.Battle) error {
	if _, err := r.battles.InsertOne(ctx, b); err != nil {
		return fmt.Errorf("insert battle: %w", err)
	}
	return nil
}

func (r *MongoActivityRepository) CountBattlesSince(ctx context.Context, userID string, since time.Time) (int, error) {
	n, err := r.battles.CountDocuments(ctx, bson.M{
		"creator_id": userID,
		"created_at": bson.M{"$gte": since},
	})
	if err != nil {
		return 0, fmt.Errorf("count battles: %w", err)
	}
	return int(n), nil
}

type MongoModerationLogRepository struct {
	coll *mongo.Collection
}

func NewMongoModerationLogRepository(db *mongo.Database) *MongoModerationLogRepository {
	return &MongoModerationLogRepository{coll: db.Collection(moderationCollection)}
}

func (r *MongoModerationLogRepository) Create(ctx context.Context, log *models.ModerationLog) error {
	if _, err := r.coll.InsertOne(ctx, log); err != nil {
		return fmt.Errorf("insert moderation log: %w", err)
	}
	return nil
}

func (r *MongoModerationLogRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.ModerationLog, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.coll.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find moderation logs: %w", err)
	}
	return decodeAll[models.ModerationLog](ctx, cur)
}

func (r *MongoModerationLogRepository) CountByCategory(ctx context.Context, from, to time.Time) (map[models.ModerationCategory]int, error) {
	match := bson.M{"violated": true}
	timeRange(match, "created_at", from, to)

	cur, err := r.coll.Aggregate(ctx, []bson.M{
		{"$match": match},
		{"$group": bson.M{"_id": "$category", "count": bson.M{"$sum": 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate moderation logs: %w", err)
	}

	var rows []struct {
		Category models.ModerationCategory `bson:"_id"`
		Count    int                       `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode moderation counts: %w", err)
	}

	counts := make(map[models.ModerationCategory]int, len(rows))
	for _, row := range rows {
		counts[row.Category] = row.Count
	}
	return counts, nil
}
