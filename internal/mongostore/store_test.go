package mongostore

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dili-feedback-server/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoURI returns TEST_MONGO_URI, or starts a throwaway MongoDB container.
// Skip test under -short when no URI is configured.
func mongoURI(t *testing.T) string {
	t.Helper()
	if uri := os.Getenv("TEST_MONGO_URI"); uri != "" {
		return uri
	}
	if testing.Short() {
		t.Skip("TEST_MONGO_URI not set, skipping MongoDB tests in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "mongodb")
	require.NoError(t, err)
	return endpoint
}

// getTestDB returns a scratch database with indexes in place
func getTestDB(t *testing.T) *mongo.Database {
	t.Helper()
	db := getEmptyDB(t)
	require.NoError(t, EnsureIndexes(context.Background(), db))
	return db
}

func getEmptyDB(t *testing.T) *mongo.Database {
	t.Helper()
	ctx := context.Background()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI(t)))
	require.NoError(t, err)

	db := client.Database("dili_test_" + uuid.NewString()[:8])
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})
	return db
}

func sampleRecord(verdict domain.Verdict, at time.Time) *domain.FeedbackRecord {
	return &domain.FeedbackRecord{
		ClinicalInputs: domain.ClinicalInputs{
			Age: domain.Float(54), Sex: domain.SexMale, BMI: domain.Float(24.1),
			ALT: domain.Float(30), AST: domain.Float(28), ALP: domain.Float(80),
			Bilirubin: domain.Float(0.9), Albumin: domain.Float(4.0), DrugRiskScore: domain.Float(3),
			AlcoholUse: domain.No, Medications: []string{"Paracetamol"}, Symptoms: []string{"Fatigue"},
		},
		ModelOutput: domain.ModelOutput{
			PredictedClass: domain.Int(1), Label: "High Risk of Hepatotoxicity",
			Confidence: domain.Float(0.87), IsDisease: domain.Bool(true),
		},
		Feedback:  domain.VerdictPtr(verdict),
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestFeedbackStore(t *testing.T) {
	db := getTestDB(t)
	store := NewFeedbackStore(db)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	older := sampleRecord(domain.VerdictDisagree, base)
	require.NoError(t, store.Insert(ctx, older))
	require.NoError(t, store.Insert(ctx, sampleRecord(domain.VerdictAgree, base.Add(time.Minute))))
	newer := sampleRecord(domain.VerdictDisagree, base.Add(2*time.Minute))
	require.NoError(t, store.Insert(ctx, newer))

	negatives, err := store.List(ctx, domain.VerdictPtr(domain.VerdictDisagree))
	require.NoError(t, err)
	require.Len(t, negatives, 2)
	assert.Equal(t, newer.ID, negatives[0].ID)
	assert.Equal(t, older.ID, negatives[1].ID)
	assert.Equal(t, older.ClinicalInputs, negatives[1].ClinicalInputs)

	n, err := store.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestVersionStore(t *testing.T) {
	db := getTestDB(t)
	store := NewVersionStore(db)
	ctx := context.Background()

	_, err := store.Active(ctx)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Next(ctx, domain.VersionActive, "admin", "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 10)
	for i, rec := range list {
		assert.Equal(t, 10-i, rec.Version)
	}

	pending, err := store.Next(ctx, domain.VersionPending, "admin", "run-1")
	require.NoError(t, err)
	assert.Equal(t, 11, pending.Version)

	active, err := store.Transition(ctx, pending.ID, domain.VersionPending, domain.VersionActive)
	require.NoError(t, err)
	assert.Equal(t, domain.VersionActive, active.Status)

	_, err = store.Transition(ctx, pending.ID, domain.VersionPending, domain.VersionFailed)
	assert.True(t, errors.Is(err, domain.ErrNotPending))

	latest, err := store.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, 11, latest.Version)
}

func TestUserStore(t *testing.T) {
	db := getTestDB(t)
	store := NewUserStore(db)
	ctx := context.Background()

	u := &domain.User{Fullname: "Ada", Email: "ada@example.com", Password: "hash", Role: domain.RoleClinician}
	require.NoError(t, store.Create(ctx, u))

	err := store.Create(ctx, &domain.User{Fullname: "Ada 2", Email: "ada@example.com", Password: "x", Role: domain.RoleClinician})
	assert.True(t, errors.Is(err, domain.ErrEmailExists))

	require.NoError(t, store.SetRole(ctx, "ada@example.com", domain.RoleAdmin))
	got, err := store.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, got.Role)
	assert.Equal(t, "hash", got.Password)

	_, err = store.GetByEmail(ctx, "ghost@example.com")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestVersionStore_ContinuesLegacyLedger(t *testing.T) {
	db := getEmptyDB(t)
	ctx := context.Background()
	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	// Documents written before statuses and the counter existed.
	_, err := db.Collection(VersionCollection).InsertMany(ctx, []interface{}{
		bson.M{"version": 1, "createdAt": created, "updatedAt": created},
		bson.M{"version": 5, "createdAt": created.Add(time.Hour), "updatedAt": created.Add(time.Hour)},
	})
	require.NoError(t, err)
	require.NoError(t, EnsureIndexes(ctx, db))

	store := NewVersionStore(db)
	active, err := store.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, active.Version)
	assert.Equal(t, domain.VersionActive, active.Status)

	rec, err := store.Next(ctx, domain.VersionActive, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, 6, rec.Version)

	// Seeding again must not move the counter backwards.
	require.NoError(t, SeedVersionCounter(ctx, db))
	rec, err = store.Next(ctx, domain.VersionPending, "u1", "run-1")
	require.NoError(t, err)
	assert.Equal(t, 7, rec.Version)

	active, err = store.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, active.Version)
}
