// services/anti-cheat/internal/repository/mongo_device.go
package repository

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"trust-defense/services/anti-cheat/internal/models"
)

type MongoDeviceRepository struct {
	coll *mongo.Collection
}

func NewMongoDeviceRepository(db *mongo.Database) *MongoDeviceRepository {
	return &MongoDeviceRepository{coll: db.Collection(deviceCollection)}
}

func (r *MongoDeviceRepository) Get(ctx context.Context, fingerprint string) (*models.DeviceFingerprint, error) {
	var d models.DeviceFingerprint
	err := r.coll.FindOne(ctx, bson.M{"_id": fingerprint}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find device: %w", err)
	}
	return &d, nil
}

func (r *MongoDeviceRepository) Save(ctx context.Context, d *models.DeviceFingerprint) error {
	expected := d.Version
	d.Version = expected + 1

	if expected == 0 {
		if _, err := r.coll.InsertOne(ctx, d); err != nil {
			d.Version = expected
			if mongo.IsDuplicateKeyError(err) {
				return ErrVersionConflict
			}
			return fmt.Errorf("insert device: %w", err)
		}
		return nil
	}

	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": d.Fingerprint, "version": expected}, d)
	if err != nil {
		d.Version = expected
		return fmt.Errorf("replace device: %w", err)
	}
	if res.MatchedCount == 0 {
		d.Version = expected
		return ErrVersionConflict
	}
	return nil
}

func (r *MongoDeviceRepository) CountUsersByIP(ctx context.Context, ip string) (int, error) {
	users, err := r.coll.Distinct(ctx, "user_ids", bson.M{"ip_addresses.address": ip})
	if err != nil {
		return 0, fmt.Errorf("distinct users by ip: %w", err)
	}
	return len(users), nil
}

func (r *MongoDeviceRepository) List(ctx context.Context, filter DeviceFilter) ([]*models.DeviceFingerprint, int, error) {
	query := bson.M{}
	if filter.MultiAccountOnly {
		query["flags.is_multi_account"] = true
	}
	if filter.SuspiciousOnly {
		query["flags.is_suspicious"] = true
	}
	if filter.BlockedOnly {
		query["flags.is_blocked"] = true
	}
	if filter.MinRisk > 0 {
		query["risk_score"] = bson.M{"$gte": filter.MinRisk}
	}

	total, err := r.coll.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("count devices: %w", err)
	}
	cur, err := r.coll.Find(ctx, query, findPage(filter.Limit, filter.Offset,
		bson.D{{Key: "risk_score", Value: -1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, 0, fmt.Errorf("find devices: %w", err)
	}
	out, err := decodeAll[models.DeviceFingerprint](ctx, cur)
	if err != nil {
		return nil, 0, fmt.Errorf("decode devices: %w", err)
	}
	return out, int(total), nil
}

func (r *MongoDeviceRepository) Stats(ctx context.Context) (models.DeviceStats, error) {
	var stats models.DeviceStats

	countIf := func(field string) bson.M {
		return bson.M{"$sum": bson.M{"$cond": bson.A{field, 1, 0}}}
	}
	highRisk := bson.M{"$sum": bson.M{"$cond": bson.A{
		bson.M{"$gt": bson.A{"$risk_score", models.HighRiskThreshold}}, 1, 0,
	}}}
	cur, err := r.coll.Aggregate(ctx, []bson.M{
		{"$group": bson.M{
			"_id":           nil,
			"total":         bson.M{"$sum": 1},
			"avg_risk":      bson.M{"$avg": "$risk_score"},
			"multi_account": countIf("$flags.is_multi_account"),
			"suspicious":    countIf("$flags.is_suspicious"),
			"blocked":       countIf("$flags.is_blocked"),
			"bots":          countIf("$flags.is_bot"),
			"high_risk":     highRisk,
		}},
	})
	if err != nil {
		return stats, fmt.Errorf("aggregate devices: %w", err)
	}

	var rows []struct {
		Total        int     `bson:"total"`
		AvgRisk      float64 `bson:"avg_risk"`
		MultiAccount int     `bson:"multi_account"`
		Suspicious   int     `bson:"suspicious"`
		Blocked      int     `bson:"blocked"`
		Bots         int     `bson:"bots"`
		HighRisk     int     `bson:"high_risk"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return stats, fmt.Errorf("decode device stats: %w", err)
	}
	if len(rows) == 1 {
		row := rows[0]
		stats = models.DeviceStats{
			Total:        row.Total,
			MultiAccount: row.MultiAccount,
			Suspicious:   row.Suspicious,
			Blocked:      row.Blocked,
			Bots:         row.Bots,
			HighRisk:     row.HighRisk,
			AverageRisk:  row.AvgRisk,
		}
	}
	return stats, nil
}
