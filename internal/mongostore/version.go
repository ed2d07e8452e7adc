package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dili-feedback-server/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const versionCounterID = "versions"

type versionDoc struct {
	ID                   primitive.ObjectID `bson:"_id,omitempty"`
	domain.VersionRecord `bson:",inline"`
}

func (d versionDoc) record() *domain.VersionRecord {
	rec := d.VersionRecord
	rec.ID = d.ID.Hex()
	// Ledgers that predate statuses only ever held active versions.
	if rec.Status == "" {
		rec.Status = domain.VersionActive
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec
}

// VersionStore implements domain.VersionStore. Numbers come from an atomic
// $inc on a counters document; the unique index on version backs it up.
type VersionStore struct {
	coll     *mongo.Collection
	counters *mongo.Collection
	now      func() time.Time
}

// NewVersionStore returns a store over the versions collection
func NewVersionStore(db *mongo.Database) *VersionStore {
	return &VersionStore{
		coll:     db.Collection(VersionCollection),
		counters: db.Collection(CounterCollection),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Next inserts the next version number with the given status
func (s *VersionStore) Next(ctx context.Context, status domain.VersionStatus, createdBy, runID string) (*domain.VersionRecord, error) {
	var counter struct {
		Seq int `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": versionCounterID},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return nil, fmt.Errorf("incrementing version counter: %w", err)
	}

	now := s.now()
	doc := versionDoc{VersionRecord: domain.VersionRecord{
		Version:       counter.Seq,
		Status:        status,
		CreatedBy:     createdBy,
		TrainingRunID: runID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}}
	res, err := s.coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("inserting version: %w", err)
	}
	doc.ID, _ = res.InsertedID.(primitive.ObjectID)
	return doc.record(), nil
}

// Transition moves a record from one status to another
func (s *VersionStore) Transition(ctx context.Context, id string, from, to domain.VersionStatus) (*domain.VersionRecord, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.ErrNotFound
	}

	var doc versionDoc
	err = s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": oid, "status": string(from)},
		bson.M{"$set": bson.M{"status": string(to), "updatedAt": s.now()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		return doc.record(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("updating version: %w", err)
	}

	n, err := s.coll.CountDocuments(ctx, bson.M{"_id": oid})
	if err != nil {
		return nil, fmt.Errorf("loading version: %w", err)
	}
	if n == 0 {
		return nil, domain.ErrNotFound
	}
	return nil, domain.ErrNotPending
}

// List returns every record, highest version first
func (s *VersionStore) List(ctx context.Context) ([]*domain.VersionRecord, error) {
	cursor, err := s.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "version", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("finding versions: %w", err)
	}
	defer cursor.Close(ctx)

	result := []*domain.VersionRecord{}
	for cursor.Next(ctx) {
		var doc versionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding version: %w", err)
		}
		result = append(result, doc.record())
	}
	return result, cursor.Err()
}

// Active returns the highest active record
func (s *VersionStore) Active(ctx context.Context) (*domain.VersionRecord, error) {
	var doc versionDoc
	err := s.coll.FindOne(ctx,
		bson.M{"status": bson.M{"$in": bson.A{string(domain.VersionActive), nil}}},
		options.FindOne().SetSort(bson.D{{Key: "version", Value: -1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading active version: %w", err)
	}
	return doc.record(), nil
}
