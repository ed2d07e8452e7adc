// Package mongostore implements the feedback, version and user stores on
// MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names
const (
	FeedbackCollection = "feedbacks"
	VersionCollection  = "versions"
	UserCollection     = "users"
	CounterCollection  = "counters"
)

// EnsureIndexes creates the indexes every store relies on
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		FeedbackCollection: {
			{Keys: bson.D{{Key: "feedback", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		},
		VersionCollection: {
			{Keys: bson.D{{Key: "version", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "version", Value: -1}}},
		},
		UserCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}

	for name, models := range indexes {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("creating %s indexes: %w", name, err)
		}
	}
	return SeedVersionCounter(ctx, db)
}

// SeedVersionCounter raises the version counter to the highest version
// already stored, so ledgers written before the counter existed continue
// at max+1. It never lowers the counter.
func SeedVersionCounter(ctx context.Context, db *mongo.Database) error {
	var latest struct {
		Version int `bson:"version"`
	}
	err := db.Collection(VersionCollection).FindOne(ctx, bson.M{},
		options.FindOne().SetSort(bson.D{{Key: "version", Value: -1}}).SetProjection(bson.M{"version": 1}),
	).Decode(&latest)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading highest version: %w", err)
	}

	_, err = db.Collection(CounterCollection).UpdateOne(ctx,
		bson.M{"_id": versionCounterID},
		bson.M{"$max": bson.M{"seq": latest.Version}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("seeding version counter: %w", err)
	}
	return nil
}
