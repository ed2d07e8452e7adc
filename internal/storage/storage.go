// Package storage opens the configured backend and builds its stores.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dili-feedback-server/internal/database"
	"github.com/dili-feedback-server/internal/domain"
	"github.com/dili-feedback-server/internal/feedback"
	"github.com/dili-feedback-server/internal/mongostore"
	"github.com/dili-feedback-server/internal/user"
	"github.com/dili-feedback-server/internal/version"
	"github.com/sirupsen/logrus"
)

// Stores are the persistence ports of the server over one backend
type Stores struct {
	Feedback domain.FeedbackStore
	Versions domain.VersionStore
	Users    domain.UserStore

	health func(ctx context.Context) error
	close  func(ctx context.Context) error
}

// Health pings the backend
func (s *Stores) Health(ctx context.Context) error {
	return s.health(ctx)
}

// Close releases the backend connections
func (s *Stores) Close(ctx context.Context) error {
	return s.close(ctx)
}

// Open connects to the backend selected by cfg.Driver. PostgreSQL schemas
// come from migrations; SQLite and MongoDB are prepared on open.
func Open(ctx context.Context, cfg domain.StorageConfig, logger *logrus.Logger) (*Stores, error) {
	switch cfg.Driver {
	case "sqlite":
		db, err := database.OpenSQLite(cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		stores, err := SQLite(db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return stores, nil

	case "postgres":
		pool, err := database.NewConnection(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		sqlDB, err := database.OpenSQL(ctx, cfg.Postgres)
		if err != nil {
			pool.Close()
			return nil, err
		}
		feedbackStore, err := feedback.NewPostgresStore(sqlDB)
		if err != nil {
			sqlDB.Close()
			pool.Close()
			return nil, err
		}
		return &Stores{
			Feedback: feedbackStore,
			Versions: version.NewPostgresStore(pool.Pool),
			Users:    user.NewPostgresStore(pool.Pool),
			health:   pool.Health,
			close: func(context.Context) error {
				pool.Close()
				return sqlDB.Close()
			},
		}, nil

	case "mongo":
		m, err := database.ConnectMongo(ctx, cfg.Mongo, logger)
		if err != nil {
			return nil, err
		}
		if err := mongostore.EnsureIndexes(ctx, m.DB); err != nil {
			_ = m.Close(ctx)
			return nil, err
		}
		return &Stores{
			Feedback: mongostore.NewFeedbackStore(m.DB),
			Versions: mongostore.NewVersionStore(m.DB),
			Users:    mongostore.NewUserStore(m.DB),
			health:   func(ctx context.Context) error { return m.Client.Ping(ctx, nil) },
			close:    m.Close,
		}, nil
	}
	return nil, fmt.Errorf("unsupported storage driver: %q", cfg.Driver)
}

// SQLite builds the stores over an open SQLite handle, creating the tables
func SQLite(db *sql.DB) (*Stores, error) {
	feedbackStore, err := feedback.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	versionStore, err := version.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	userStore, err := user.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return &Stores{
		Feedback: feedbackStore,
		Versions: versionStore,
		Users:    userStore,
		health:   db.PingContext,
		close:    func(context.Context) error { return db.Close() },
	}, nil
}
