// services/anti-cheat/internal/repository/mongo_detection.go
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

type MongoDetectionRepository struct {
	coll *mongo.Collection
}

func NewMongoDetectionRepository(db *mongo.Database) *MongoDetectionRepository {
	return &MongoDetectionRepository{coll: db.Collection(detectionCollection)}
}

func (r *MongoDetectionRepository) CreateIfAbsent(ctx context.Context, d *models.FraudDetection) (*models.FraudDetection, bool, error) {
	d.Version = 1
	_, err := r.coll.InsertOne(ctx, d)
	if err == nil {
		return d.Clone(), true, nil
	}
	if !mongo.IsDuplicateKeyError(err) || d.EvidenceKey == "" {
		return nil, false, fmt.Errorf("insert detection: %w", err)
	}

	var existing models.FraudDetection
	if err := r.coll.FindOne(ctx, bson.M{"evidence_key": d.EvidenceKey}).Decode(&existing); err != nil {
		return nil, false, fmt.Errorf("find detection by evidence: %w", err)
	}
	return &existing, false, nil
}

func (r *MongoDetectionRepository) Get(ctx context.Context, id string) (*models.FraudDetection, error) {
	var d models.FraudDetection
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find detection: %w", err)
	}
	return &d, nil
}

func (r *MongoDetectionRepository) Update(ctx context.Context, d *models.FraudDetection) error {
	expected := d.Version
	d.Version = expected + 1

	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": d.ID, "version": expected}, d)
	if err != nil {
		d.Version = expected
		return fmt.Errorf("replace detection: %w", err)
	}
	if res.MatchedCount == 0 {
		d.Version = expected
		if n, _ := r.coll.CountDocuments(ctx, bson.M{"_id": d.ID}, options.Count().SetLimit(1)); n == 0 {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

func detectionQuery(f DetectionFilter) bson.M {
	query := bson.M{}
	if f.UserID != "" {
		query["user_id"] = f.UserID
	}
	if f.Type != "" {
		query["type"] = f.Type
	}
	if f.Status != "" {
		query["status"] = f.Status
	}
	if f.Severity != "" {
		query["severity"] = f.Severity
	}
	if f.ActiveOnly {
		query["is_active"] = true
	}
	timeRange(query, "created_at", f.From, f.To)
	return query
}

func (r *MongoDetectionRepository) List(ctx context.Context, filter DetectionFilter) ([]*models.FraudDetection, int, error) {
	query := detectionQuery(filter)

	total, err := r.coll.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("count detections: %w", err)
	}
	cur, err := r.coll.Find(ctx, query, findPage(filter.Limit, filter.Offset,
		bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, 0, fmt.Errorf("find detections: %w", err)
	}
	out, err := decodeAll[models.FraudDetection](ctx, cur)
	if err != nil {
		return nil, 0, fmt.Errorf("decode detections: %w", err)
	}
	return out, int(total), nil
}

// Tally counts detections created in [from, to) in one $facet aggregation:
// per type, status, severity and UTC day, plus per reviewer and status.
func (r *MongoDetectionRepository) Tally(ctx context.Context, from, to time.Time) (models.DetectionTallies, error) {
	match := bson.M{}
	timeRange(match, "created_at", from, to)

	cur, err := r.coll.Aggregate(ctx, []bson.M{
		{"$match": match},
		{"$facet": bson.M{
			"groups": []bson.M{
				{"$group": bson.M{
					"_id": bson.M{
						"type":     "$type",
						"status":   "$status",
						"severity": "$severity",
						"day":      bson.M{"$dateToString": bson.M{"format": "%Y-%m-%d", "date": "$created_at", "timezone": "UTC"}},
					},
					"count":  bson.M{"$sum": 1},
					"active": bson.M{"$sum": bson.M{"$cond": bson.A{"$is_active", 1, 0}}},
				}},
				{"$project": bson.M{
					"_id": 0, "type": "$_id.type", "status": "$_id.status", "severity": "$_id.severity",
					"day": "$_id.day", "count": 1, "active": 1,
				}},
			},
			"reviewers": []bson.M{
				{"$match": bson.M{
					"reviewed_by": bson.M{"$exists": true, "$ne": ""},
					"reviewed_at": bson.M{"$type": "date"},
				}},
				{"$group": bson.M{
					"_id":   bson.M{"reviewer": "$reviewed_by", "status": "$status"},
					"count": bson.M{"$sum": 1},
					"minutes": bson.M{"$sum": bson.M{"$divide": bson.A{
						bson.M{"$subtract": bson.A{"$reviewed_at", "$created_at"}}, 60000,
					}}},
				}},
				{"$project": bson.M{
					"_id": 0, "reviewer": "$_id.reviewer", "status": "$_id.status", "count": 1, "minutes": 1,
				}},
			},
		}},
	})
	if err != nil {
		return models.DetectionTallies{}, fmt.Errorf("aggregate detections: %w", err)
	}

	var rows []models.DetectionTallies
	if err := cur.All(ctx, &rows); err != nil {
		return models.DetectionTallies{}, fmt.Errorf("decode detection tallies: %w", err)
	}
	if len(rows) == 0 {
		return models.DetectionTallies{}, nil
	}
	return rows[0], nil
}
