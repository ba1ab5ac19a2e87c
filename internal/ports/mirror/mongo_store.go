package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"attendance.service/internal/core/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const statusCollection = "attendance_status"

// MongoStore keeps one document per user in the attendance_status collection.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoStore connects, pings and makes sure the dateKey index exists.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetTimeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	coll := client.Database(database).Collection(statusCollection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "dateKey", Value: 1}, {Key: "status", Value: 1}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create mirror index: %w", err)
	}
	return &MongoStore{client: client, coll: coll}, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Publish upserts only over an older snapshot. When a newer document already exists the
// filter does not match, the upsert collides on _id and the write is skipped.
func (s *MongoStore) Publish(ctx context.Context, snap model.MirrorSnapshot) (bool, error) {
	filter := bson.M{
		"_id": snap.UserID,
		"$or": bson.A{
			bson.M{"dateKey": bson.M{"$lt": snap.DateKey}},
			bson.M{"dateKey": snap.DateKey, "sourceVersion": bson.M{"$lte": snap.SourceVersion}},
		},
	}
	res, err := s.coll.ReplaceOne(ctx, filter, normalize(snap), options.Replace().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to publish snapshot: %w", err)
	}
	return res.MatchedCount > 0 || res.UpsertedCount > 0, nil
}

func (s *MongoStore) Replace(ctx context.Context, snap model.MirrorSnapshot) error {
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": snap.UserID}, normalize(snap), options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, userID string) (*model.MirrorSnapshot, error) {
	var snap model.MirrorSnapshot
	err := s.coll.FindOne(ctx, bson.M{"_id": userID}).Decode(&snap)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, model.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return &snap, nil
}

func (s *MongoStore) List(ctx context.Context) ([]model.MirrorSnapshot, error) {
	cur, err := s.coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	snaps := []model.MirrorSnapshot{}
	if err := cur.All(ctx, &snaps); err != nil {
		return nil, fmt.Errorf("failed to decode snapshots: %w", err)
	}
	return snaps, nil
}

// Summary counts the day's snapshots by status server-side.
func (s *MongoStore) Summary(ctx context.Context, dateKey string) (model.StatusSummary, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"dateKey": dateKey}}},
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	}
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return model.StatusSummary{}, fmt.Errorf("failed to aggregate snapshots: %w", err)
	}
	var rows []struct {
		Status model.SessionStatus `bson:"_id"`
		Count  int                 `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return model.StatusSummary{}, fmt.Errorf("failed to decode summary: %w", err)
	}

	sum := model.Summarize(dateKey, nil)
	for _, r := range rows {
		sum.Counts[r.Status] += r.Count
		sum.Total += r.Count
	}
	return sum, nil
}

// normalize truncates timestamps to the millisecond precision BSON stores.
func normalize(snap model.MirrorSnapshot) model.MirrorSnapshot {
	out := copySnapshot(snap)
	out.UpdatedAt = out.UpdatedAt.UTC().Truncate(time.Millisecond)
	if out.CheckInTime != nil {
		t := out.CheckInTime.UTC().Truncate(time.Millisecond)
		out.CheckInTime = &t
	}
	if out.CheckOutTime != nil {
		t := out.CheckOutTime.UTC().Truncate(time.Millisecond)
		out.CheckOutTime = &t
	}
	return out
}

var _ Store = (*MongoStore)(nil)
