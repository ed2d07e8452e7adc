package feedback

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dili-feedback-server/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func anyArgs(n int) []driver.Value {
	args := make([]driver.Value, n)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	return args
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	return store, mock
}

func TestNewPostgresStore_RequiresDB(t *testing.T) {
	_, err := NewPostgresStore(nil)
	assert.Error(t, err)
}

func TestPostgresStore_Insert(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO feedback")).
		WithArgs(anyArgs(26)...).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	rec := scenarioRecord()
	rec.CreatedAt = time.Now().UTC()
	rec.UpdatedAt = rec.CreatedAt
	require.NoError(t, store.Insert(context.Background(), rec))

	assert.Equal(t, "42", rec.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO feedback")).
		WithArgs(anyArgs(26)...).
		WillReturnError(errors.New("connection reset"))

	err := store.Insert(context.Background(), scenarioRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func feedbackColumns() []string {
	return []string{
		"id", "age", "sex", "bmi", "alt", "ast", "alp", "bilirubin", "albumin", "drug_risk_score",
		"alcohol_use", "medications", "symptoms", "preexisting_liver_disease", "dili",
		"daily_dose_mg", "drug_duration_days", "predicted_class", "label", "confidence",
		"probability_dili", "raw_prediction", "is_disease", "feedback", "created_by",
		"created_at", "updated_at",
	}
}

func TestPostgresStore_ListNegative(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(feedbackColumns()).AddRow(
		int64(7), 54.0, "Male", 24.1, 30.0, 28.0, 80.0, 0.9, 4.0, 3.0,
		"No", "{Paracetamol,Isoniazid}", "{Fatigue}", nil, "No",
		500.0, 14.0, int64(1), "High Risk of Hepatotoxicity", 0.87,
		0.87, nil, true, "no", "user-1",
		at, at,
	)
	mock.ExpectQuery(regexp.QuoteMeta("FROM feedback WHERE feedback = $1 ORDER BY created_at DESC, id DESC")).
		WithArgs("no").
		WillReturnRows(rows)

	records, err := store.List(context.Background(), domain.VerdictPtr(domain.VerdictDisagree))
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[0]
	assert.Equal(t, "7", got.ID)
	assert.Equal(t, []string{"Paracetamol", "Isoniazid"}, got.Medications)
	assert.Equal(t, []string{"Fatigue"}, got.Symptoms)
	assert.Equal(t, 1, *got.PredictedClass)
	assert.True(t, *got.IsDisease)
	assert.Nil(t, got.PreexistingLiverDisease)
	assert.Equal(t, domain.No, *got.DILI)
	assert.True(t, got.IsDisagreement())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Count(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM feedback WHERE feedback = $1")).
		WithArgs("no").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(23)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM feedback")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(40)))

	n, err := store.Count(context.Background(), domain.VerdictPtr(domain.VerdictDisagree))
	require.NoError(t, err)
	assert.Equal(t, int64(23), n)

	n, err = store.Count(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(40), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
