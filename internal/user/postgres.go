package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dili-feedback-server/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// PostgresStore implements domain.UserStore on a pgx pool
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL user store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Create inserts a user
func (s *PostgresStore) Create(ctx context.Context, u *domain.User) error {
	prepare(u)
	_, err := s.pool.Exec(ctx,
		"INSERT INTO users ("+userColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7)",
		u.ID, u.Fullname, u.Email, u.Password, string(u.Role), u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrEmailExists
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// GetByEmail looks a user up by normalized email
func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.get(ctx, "email", email)
}

// GetByID looks a user up by id
func (s *PostgresStore) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return s.get(ctx, "id", id)
}

func (s *PostgresStore) get(ctx context.Context, column, value string) (*domain.User, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE "+column+" = $1", value)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	return u, nil
}

// SetRole changes the role of the user with the given email
func (s *PostgresStore) SetRole(ctx context.Context, email string, role domain.Role) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE users SET role = $1, updated_at = $2 WHERE email = $3",
		string(role), time.Now().UTC(), email,
	)
	if err != nil {
		return fmt.Errorf("updating role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
