package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dili-feedback-server/internal/domain"
)

// SQLiteStore implements domain.FeedbackStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite feedback store on an open handle.
// It creates the table and indexes if they don't exist.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// createSchema creates the feedback table and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		age REAL NOT NULL,
		sex TEXT NOT NULL CHECK (sex IN ('Male', 'Female')),
		bmi REAL NOT NULL,
		alt REAL NOT NULL,
		ast REAL NOT NULL,
		alp REAL NOT NULL,
		bilirubin REAL NOT NULL,
		albumin REAL NOT NULL,
		drug_risk_score REAL NOT NULL,
		alcohol_use TEXT NOT NULL CHECK (alcohol_use IN ('Yes', 'No')),
		medications TEXT NOT NULL DEFAULT '[]',
		symptoms TEXT NOT NULL DEFAULT '[]',
		preexisting_liver_disease TEXT,
		dili TEXT,
		daily_dose_mg REAL,
		drug_duration_days REAL,
		predicted_class INTEGER NOT NULL,
		label TEXT NOT NULL,
		confidence REAL NOT NULL,
		probability_dili REAL,
		raw_prediction REAL,
		is_disease INTEGER NOT NULL,
		feedback TEXT CHECK (feedback IN ('yes', 'no')),
		created_by TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_feedback_verdict_created ON feedback(feedback, created_at);
	CREATE INDEX IF NOT EXISTS idx_feedback_created ON feedback(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Insert appends a record. The caller sets CreatedAt and UpdatedAt.
func (s *SQLiteStore) Insert(ctx context.Context, rec *domain.FeedbackRecord) error {
	meds, err := json.Marshal(nonNil(rec.Medications))
	if err != nil {
		return fmt.Errorf("failed to encode medications: %w", err)
	}
	symptoms, err := json.Marshal(nonNil(rec.Symptoms))
	if err != nil {
		return fmt.Errorf("failed to encode symptoms: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback (
			age, sex, bmi, alt, ast, alp, bilirubin, albumin, drug_risk_score,
			alcohol_use, medications, symptoms, preexisting_liver_disease, dili,
			daily_dose_mg, drug_duration_days, predicted_class, label, confidence,
			probability_dili, raw_prediction, is_disease, feedback, created_by,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, values(rec, string(meds), string(symptoms))...)
	if err != nil {
		return fmt.Errorf("failed to insert: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	rec.ID = formatID(id)
	return nil
}

// List returns records newest first, optionally filtered by verdict.
func (s *SQLiteStore) List(ctx context.Context, verdict *domain.Verdict) ([]*domain.FeedbackRecord, error) {
	query := "SELECT " + columns + " FROM feedback"
	var args []interface{}
	if verdict != nil {
		query += " WHERE feedback = ?"
		args = append(args, string(*verdict))
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	result := []*domain.FeedbackRecord{}
	for rows.Next() {
		rec, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func scanSQLite(s scanner) (*domain.FeedbackRecord, error) {
	var meds, symptoms string
	return scanRecord(s, &meds, &symptoms, func() ([]string, []string, error) {
		var m, sy []string
		if err := json.Unmarshal([]byte(meds), &m); err != nil {
			return nil, nil, fmt.Errorf("decoding medications: %w", err)
		}
		if err := json.Unmarshal([]byte(symptoms), &sy); err != nil {
			return nil, nil, fmt.Errorf("decoding symptoms: %w", err)
		}
		return nonNil(m), nonNil(sy), nil
	})
}

// Count returns the number of records matching the verdict filter.
func (s *SQLiteStore) Count(ctx context.Context, verdict *domain.Verdict) (int64, error) {
	var count int64
	var err error
	if verdict == nil {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM feedback").Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM feedback WHERE feedback = ?", string(*verdict)).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count feedback: %w", err)
	}
	return count, nil
}

// ExportJSON exports all feedback to a JSON writer.
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	all, err := s.List(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to list feedback: %w", err)
	}
	return WriteExport(writer, all)
}
