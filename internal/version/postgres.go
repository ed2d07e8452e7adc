package version

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dili-feedback-server/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ledgerLockKey is the advisory lock serializing version number assignment.
const ledgerLockKey int64 = 0x64696c69

// PostgresStore implements domain.VersionStore on a pgx pool. The schema is
// created by migrations.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore creates a PostgreSQL version store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// Next inserts max(version)+1 inside a transaction holding the ledger lock
func (s *PostgresStore) Next(ctx context.Context, status domain.VersionStatus, createdBy, runID string) (*domain.VersionRecord, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", ledgerLockKey); err != nil {
		return nil, fmt.Errorf("acquiring ledger lock: %w", err)
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO versions (version, status, created_by, training_run_id, created_at, updated_at)
		SELECT COALESCE(MAX(version), 0) + 1, $1, $2, $3, $4, $4 FROM versions
		RETURNING `+versionColumns,
		string(status), createdBy, runID, s.now(),
	)
	rec, err := scanVersion(row)
	if err != nil {
		return nil, fmt.Errorf("inserting version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing version: %w", err)
	}
	return rec, nil
}

// Transition moves a record from one status to another
func (s *PostgresStore) Transition(ctx context.Context, id string, from, to domain.VersionStatus) (*domain.VersionRecord, error) {
	rowID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, domain.ErrNotFound
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE versions SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
		RETURNING `+versionColumns,
		string(to), s.now(), rowID, string(from),
	)
	rec, err := scanVersion(row)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("updating version: %w", err)
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM versions WHERE id = $1)", rowID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("loading version: %w", err)
	}
	if !exists {
		return nil, domain.ErrNotFound
	}
	return nil, domain.ErrNotPending
}

// List returns every record, highest version first
func (s *PostgresStore) List(ctx context.Context) ([]*domain.VersionRecord, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+versionColumns+" FROM versions ORDER BY version DESC")
	if err != nil {
		return nil, fmt.Errorf("querying versions: %w", err)
	}
	defer rows.Close()

	result := []*domain.VersionRecord{}
	for rows.Next() {
		rec, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning version: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// Active returns the highest active record
func (s *PostgresStore) Active(ctx context.Context) (*domain.VersionRecord, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+versionColumns+" FROM versions WHERE status = $1 ORDER BY version DESC LIMIT 1",
		string(domain.VersionActive),
	)
	rec, err := scanVersion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading active version: %w", err)
	}
	return rec, nil
}
