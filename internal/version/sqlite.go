package version

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dili-feedback-server/internal/domain"
)

// SQLiteStore implements domain.VersionStore using SQLite
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates the versions table if needed and returns a store
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS versions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		version INTEGER NOT NULL UNIQUE CHECK (version > 0),
		status TEXT NOT NULL CHECK (status IN ('pending', 'active', 'failed')),
		created_by TEXT NOT NULL DEFAULT '',
		training_run_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_versions_status ON versions(status, version);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

const versionColumns = "id, version, status, created_by, training_run_id, created_at, updated_at"

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanVersion(s scanner) (*domain.VersionRecord, error) {
	var (
		rec    domain.VersionRecord
		id     int64
		status string
	)
	if err := s.Scan(&id, &rec.Version, &status, &rec.CreatedBy, &rec.TrainingRunID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.ID = strconv.FormatInt(id, 10)
	rec.Status = domain.VersionStatus(status)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

// Next inserts max(version)+1 in a single statement
func (s *SQLiteStore) Next(ctx context.Context, status domain.VersionStatus, createdBy, runID string) (*domain.VersionRecord, error) {
	now := s.now()
	rec := &domain.VersionRecord{
		Status:        status,
		CreatedBy:     createdBy,
		TrainingRunID: runID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO versions (version, status, created_by, training_run_id, created_at, updated_at)
		SELECT COALESCE(MAX(version), 0) + 1, ?, ?, ?, ?, ? FROM versions
		RETURNING id, version`,
		string(status), createdBy, runID, now, now,
	).Scan(&id, &rec.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to insert version: %w", err)
	}
	rec.ID = strconv.FormatInt(id, 10)
	return rec, nil
}

// Transition moves a record from one status to another
func (s *SQLiteStore) Transition(ctx context.Context, id string, from, to domain.VersionStatus) (*domain.VersionRecord, error) {
	rowID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, domain.ErrNotFound
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE versions SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(to), s.now(), rowID, string(from),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update version: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to update version: %w", err)
	}

	rec, err := scanVersion(s.db.QueryRowContext(ctx, "SELECT "+versionColumns+" FROM versions WHERE id = ?", rowID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load version: %w", err)
	}
	if affected == 0 {
		return nil, domain.ErrNotPending
	}
	return rec, nil
}

// List returns every record, highest version first
func (s *SQLiteStore) List(ctx context.Context) ([]*domain.VersionRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+versionColumns+" FROM versions ORDER BY version DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	result := []*domain.VersionRecord{}
	for rows.Next() {
		rec, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// Active returns the highest active record
func (s *SQLiteStore) Active(ctx context.Context) (*domain.VersionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+versionColumns+" FROM versions WHERE status = ? ORDER BY version DESC LIMIT 1",
		string(domain.VersionActive),
	)
	rec, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active version: %w", err)
	}
	return rec, nil
}
