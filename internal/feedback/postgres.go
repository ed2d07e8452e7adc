package feedback

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/dili-feedback-server/internal/domain"
	"github.com/lib/pq"
)

// PostgresStore implements domain.FeedbackStore using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL feedback store.
// It expects the schema to already exist (created via migrations).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &PostgresStore{db: db}, nil
}

// Insert appends a record. The caller sets CreatedAt and UpdatedAt.
func (s *PostgresStore) Insert(ctx context.Context, rec *domain.FeedbackRecord) error {
	query := `
		INSERT INTO feedback (
			age, sex, bmi, alt, ast, alp, bilirubin, albumin, drug_risk_score,
			alcohol_use, medications, symptoms, preexisting_liver_disease, dili,
			daily_dose_mg, drug_duration_days, predicted_class, label, confidence,
			probability_dili, raw_prediction, is_disease, feedback, created_by,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
		RETURNING id
	`

	var id int64
	args := values(rec, pq.Array(nonNil(rec.Medications)), pq.Array(nonNil(rec.Symptoms)))
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return fmt.Errorf("failed to save feedback: %w", err)
	}
	rec.ID = formatID(id)
	return nil
}

// List returns records newest first, optionally filtered by verdict.
func (s *PostgresStore) List(ctx context.Context, verdict *domain.Verdict) ([]*domain.FeedbackRecord, error) {
	query := "SELECT " + columns + " FROM feedback"
	var args []interface{}
	if verdict != nil {
		query += " WHERE feedback = $1"
		args = append(args, string(*verdict))
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	defer rows.Close()

	result := []*domain.FeedbackRecord{}
	for rows.Next() {
		var meds, symptoms pq.StringArray
		rec, err := scanRecord(rows, &meds, &symptoms, func() ([]string, []string, error) {
			return nonNil(meds), nonNil(symptoms), nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// Count returns the number of records matching the verdict filter.
func (s *PostgresStore) Count(ctx context.Context, verdict *domain.Verdict) (int64, error) {
	var count int64
	var err error
	if verdict == nil {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM feedback").Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM feedback WHERE feedback = $1", string(*verdict)).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count feedback: %w", err)
	}
	return count, nil
}

// ExportJSON exports all feedback to a JSON writer.
func (s *PostgresStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	all, err := s.List(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to list feedback: %w", err)
	}
	return WriteExport(writer, all)
}
