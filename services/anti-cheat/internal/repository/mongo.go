// services/anti-cheat/internal/repository/mongo.go
package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	trustCollection      = "trust_scores"
	deviceCollection     = "device_fingerprints"
	detectionCollection  = "fraud_detections"
	moderationCollection = "moderation_logs"
	voteCollection       = "votes"
	battleCollection     = "battles"
)

// EnsureIndexes creates the indexes the Mongo repositories rely on.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		trustCollection: {
			{Keys: bson.D{{Key: "level", Value: 1}, {Key: "score", Value: 1}}},
			{Keys: bson.D{{Key: "temporary_ban_expires_at", Value: 1}},
				Options: options.Index().SetSparse(true)},
		},
		deviceCollection: {
			{Keys: bson.D{{Key: "ip_addresses.address", Value: 1}}},
			{Keys: bson.D{{Key: "user_ids", Value: 1}}},
			{Keys: bson.D{{Key: "risk_score", Value: -1}}},
		},
		detectionCollection: {
			{Keys: bson.D{{Key: "evidence_key", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"evidence_key": bson.M{"$gt": ""}})},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		moderationCollection: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
		},
		voteCollection: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "battle_id", Value: 1}},
				Options: options.Index().SetUnique(true)},
		},
		battleCollection: {
			{Keys: bson.D{{Key: "creator_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
	}

	for name, idx := range indexes {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("create indexes on %s: %w", name, err)
		}
	}
	return nil
}

// timeRange builds a half-open [from, to) filter; zero bounds are open.
func timeRange(filter bson.M, field string, from, to time.Time) {
	cond := bson.M{}
	if !from.IsZero() {
		cond["$gte"] = from
	}
	if !to.IsZero() {
		cond["$lt"] = to
	}
	if len(cond) > 0 {
		filter[field] = cond
	}
}

func findPage(limit, offset int, sort bson.D) *options.FindOptions {
	limit, offset = NormalizePage(limit, offset)
	return options.Find().
		SetSort(sort).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
}

func decodeAll[T any](ctx context.Context, cur *mongo.Cursor) ([]*T, error) {
	defer cur.Close(ctx)

	out := make([]*T, 0)
	for cur.Next(ctx) {
		var item T
		if err := cur.Decode(&item); err != nil {
			return nil, err
		}
		out = append(out, &item)
	}
	return out, cur.Err()
}
