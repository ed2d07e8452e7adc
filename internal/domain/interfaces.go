package domain

import (
	"context"
	"io"
)

// Stores share a connection owned by the database package and do not close it.

// FeedbackStore persists immutable feedback snapshots
type FeedbackStore interface {
	// Insert appends a record and fills in ID and timestamps.
	Insert(ctx context.Context, record *FeedbackRecord) error

	// List returns records newest first. A nil verdict returns every record.
	List(ctx context.Context, verdict *Verdict) ([]*FeedbackRecord, error)

	// Count returns the number of records matching the verdict filter.
	Count(ctx context.Context, verdict *Verdict) (int64, error)

	// ExportJSON writes every record to w.
	ExportJSON(ctx context.Context, w io.Writer) error
}

// VersionStore is the model version ledger. Every method that assigns a
// version number does so atomically.
type VersionStore interface {
	// Next inserts max(version)+1 with the given status.
	Next(ctx context.Context, status VersionStatus, createdBy, runID string) (*VersionRecord, error)

	// Transition moves a record from one status to another.
	// It returns ErrNotPending if the record is not in status from.
	Transition(ctx context.Context, id string, from, to VersionStatus) (*VersionRecord, error)

	// List returns every record, highest version first.
	List(ctx context.Context) ([]*VersionRecord, error)

	// Active returns the highest active record or ErrNotFound.
	Active(ctx context.Context) (*VersionRecord, error)
}

// UserStore persists user accounts
type UserStore interface {
	// Create inserts a user; ErrEmailExists when the email is taken.
	Create(ctx context.Context, user *User) error

	// GetByEmail returns ErrNotFound when no user has the email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByID returns ErrNotFound when the id is unknown.
	GetByID(ctx context.Context, id string) (*User, error)

	// SetRole changes the role of the user with the given email.
	SetRole(ctx context.Context, email string, role Role) error
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetStorageConfig() *StorageConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetDatabaseURL() string
	IsProduction() bool
	IsDevelopment() bool
}
