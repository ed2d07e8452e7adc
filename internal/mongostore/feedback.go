package mongostore

import (
	"context"
	"fmt"
	"io"

	"github.com/dili-feedback-server/internal/domain"
	"github.com/dili-feedback-server/internal/feedback"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type feedbackDoc struct {
	ID                    primitive.ObjectID `bson:"_id,omitempty"`
	domain.FeedbackRecord `bson:",inline"`
}

// FeedbackStore implements domain.FeedbackStore
type FeedbackStore struct {
	coll *mongo.Collection
}

// NewFeedbackStore returns a store over the feedbacks collection
func NewFeedbackStore(db *mongo.Database) *FeedbackStore {
	return &FeedbackStore{coll: db.Collection(FeedbackCollection)}
}

// Insert appends a record. The caller sets CreatedAt and UpdatedAt.
func (s *FeedbackStore) Insert(ctx context.Context, rec *domain.FeedbackRecord) error {
	res, err := s.coll.InsertOne(ctx, feedbackDoc{FeedbackRecord: *rec})
	if err != nil {
		return fmt.Errorf("inserting feedback: %w", err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		rec.ID = oid.Hex()
	}
	return nil
}

func verdictFilter(verdict *domain.Verdict) bson.M {
	if verdict == nil {
		return bson.M{}
	}
	return bson.M{"feedback": string(*verdict)}
}

// List returns records newest first, optionally filtered by verdict
func (s *FeedbackStore) List(ctx context.Context, verdict *domain.Verdict) ([]*domain.FeedbackRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	cursor, err := s.coll.Find(ctx, verdictFilter(verdict), opts)
	if err != nil {
		return nil, fmt.Errorf("finding feedback: %w", err)
	}
	defer cursor.Close(ctx)

	result := []*domain.FeedbackRecord{}
	for cursor.Next(ctx) {
		var doc feedbackDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding feedback: %w", err)
		}
		rec := doc.FeedbackRecord
		rec.ID = doc.ID.Hex()
		rec.CreatedAt = rec.CreatedAt.UTC()
		rec.UpdatedAt = rec.UpdatedAt.UTC()
		if rec.Medications == nil {
			rec.Medications = []string{}
		}
		if rec.Symptoms == nil {
			rec.Symptoms = []string{}
		}
		result = append(result, &rec)
	}
	return result, cursor.Err()
}

// Count returns the number of records matching the verdict filter
func (s *FeedbackStore) Count(ctx context.Context, verdict *domain.Verdict) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, verdictFilter(verdict))
	if err != nil {
		return 0, fmt.Errorf("counting feedback: %w", err)
	}
	return n, nil
}

// ExportJSON exports all feedback to a JSON writer
func (s *FeedbackStore) ExportJSON(ctx context.Context, w io.Writer) error {
	all, err := s.List(ctx, nil)
	if err != nil {
		return err
	}
	return feedback.WriteExport(w, all)
}
