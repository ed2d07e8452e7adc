// Package version maintains the model version ledger. Version numbers are
// assigned by the store in a single atomic step, so concurrent creators
// never observe the same maximum.
package version

import (
	"context"
	"errors"

	"github.com/dili-feedback-server/internal/domain"
	"github.com/dili-feedback-server/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Ledger creates and transitions version records
type Ledger struct {
	store   domain.VersionStore
	metrics *metrics.VersionMetrics
	log     *logrus.Logger
}

// NewLedger creates a Ledger over store. m may be nil.
func NewLedger(store domain.VersionStore, m *metrics.VersionMetrics, logger *logrus.Logger) *Ledger {
	return &Ledger{store: store, metrics: m, log: logger}
}

// CreateNext appends an active record numbered max+1, or 1 on an empty ledger
func (l *Ledger) CreateNext(ctx context.Context, actor domain.Actor) (*domain.VersionRecord, error) {
	rec, err := l.store.Next(ctx, domain.VersionActive, actor.UserID, "")
	if err != nil {
		return nil, domain.StorageError("creating version", err)
	}
	l.recorded(rec, "Version created")
	return rec, nil
}

// Reserve appends a pending record for a training run
func (l *Ledger) Reserve(ctx context.Context, actor domain.Actor, runID string) (*domain.VersionRecord, error) {
	rec, err := l.store.Next(ctx, domain.VersionPending, actor.UserID, runID)
	if err != nil {
		return nil, domain.StorageError("reserving version", err)
	}
	l.recorded(rec, "Version reserved")
	return rec, nil
}

// Commit activates a pending record
func (l *Ledger) Commit(ctx context.Context, id string) (*domain.VersionRecord, error) {
	return l.transition(ctx, id, domain.VersionActive, "Version committed")
}

// MarkFailed marks a pending record as failed. Its number stays consumed.
func (l *Ledger) MarkFailed(ctx context.Context, id string) (*domain.VersionRecord, error) {
	return l.transition(ctx, id, domain.VersionFailed, "Version marked failed")
}

func (l *Ledger) transition(ctx context.Context, id string, to domain.VersionStatus, msg string) (*domain.VersionRecord, error) {
	rec, err := l.store.Transition(ctx, id, domain.VersionPending, to)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrNotPending) {
			return nil, err
		}
		return nil, domain.StorageError("updating version", err)
	}
	l.recorded(rec, msg)
	return rec, nil
}

// List returns every record, highest version first
func (l *Ledger) List(ctx context.Context) ([]*domain.VersionRecord, error) {
	records, err := l.store.List(ctx)
	if err != nil {
		return nil, domain.StorageError("listing versions", err)
	}
	return records, nil
}

// Active returns the highest active record, or domain.ErrNotFound
func (l *Ledger) Active(ctx context.Context) (*domain.VersionRecord, error) {
	rec, err := l.store.Active(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, domain.StorageError("loading active version", err)
	}
	return rec, nil
}

func (l *Ledger) recorded(rec *domain.VersionRecord, msg string) {
	l.metrics.RecordStatus(string(rec.Status))
	l.log.WithFields(logrus.Fields{
		"version_id":      rec.ID,
		"version":         rec.Version,
		"status":          rec.Status,
		"training_run_id": rec.TrainingRunID,
	}).Info(msg)
}
