package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dili-feedback-server/internal/domain"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type userDoc struct {
	ID          string `bson:"_id"`
	domain.User `bson:",inline"`
}

// UserStore implements domain.UserStore
type UserStore struct {
	coll *mongo.Collection
}

// NewUserStore returns a store over the users collection
func NewUserStore(db *mongo.Database) *UserStore {
	return &UserStore{coll: db.Collection(UserCollection)}
}

// Create inserts a user
func (s *UserStore) Create(ctx context.Context, u *domain.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	if _, err := s.coll.InsertOne(ctx, userDoc{ID: u.ID, User: *u}); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrEmailExists
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// GetByEmail looks a user up by normalized email
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.findOne(ctx, bson.M{"email": email})
}

// GetByID looks a user up by id
func (s *UserStore) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *UserStore) findOne(ctx context.Context, filter bson.M) (*domain.User, error) {
	var doc userDoc
	err := s.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	u := doc.User
	u.ID = doc.ID
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

// SetRole changes the role of the user with the given email
func (s *UserStore) SetRole(ctx context.Context, email string, role domain.Role) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"email": email},
		bson.M{"$set": bson.M{"role": string(role), "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("updating role: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}
