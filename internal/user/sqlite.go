// Package user persists operator accounts for the SQL backends.
package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dili-feedback-server/internal/domain"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStore implements domain.UserStore using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the users table if needed and returns a store
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		fullname TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'clinician',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

const userColumns = "id, fullname, email, password, role, created_at, updated_at"

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(s scanner) (*domain.User, error) {
	var u domain.User
	var role string
	if err := s.Scan(&u.ID, &u.Fullname, &u.Email, &u.Password, &role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = domain.Role(role)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

// prepare fills in the id and timestamps of a new user
func prepare(u *domain.User) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
}

// Create inserts a user
func (s *SQLiteStore) Create(ctx context.Context, u *domain.User) error {
	prepare(u)
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users ("+userColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		u.ID, u.Fullname, u.Email, u.Password, string(u.Role), u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrEmailExists
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	if se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")
}

// GetByEmail looks a user up by normalized email
func (s *SQLiteStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.get(ctx, "email", email)
}

// GetByID looks a user up by id
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return s.get(ctx, "id", id)
}

func (s *SQLiteStore) get(ctx context.Context, column, value string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE "+column+" = ?", value)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return u, nil
}

// SetRole changes the role of the user with the given email
func (s *SQLiteStore) SetRole(ctx context.Context, email string, role domain.Role) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE users SET role = ?, updated_at = ? WHERE email = ?",
		string(role), time.Now().UTC(), email,
	)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
