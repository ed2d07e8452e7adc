// Package feedback records clinician reactions to DILI predictions. Each
// agree or disagree appends an immutable snapshot of the clinical inputs,
// the model output and the verdict.
package feedback

import (
	"context"
	"io"
	"time"

	"github.com/dili-feedback-server/internal/domain"
	"github.com/dili-feedback-server/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Recorder validates and persists feedback records
type Recorder struct {
	store   domain.FeedbackStore
	metrics *metrics.FeedbackMetrics
	log     *logrus.Logger
	now     func() time.Time
}

// NewRecorder creates a Recorder over store. m may be nil.
func NewRecorder(store domain.FeedbackStore, m *metrics.FeedbackMetrics, logger *logrus.Logger) *Recorder {
	return &Recorder{
		store:   store,
		metrics: m,
		log:     logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Record validates rec, stamps the author and timestamps and stores it.
// Any client supplied id, author or timestamps are overwritten.
func (r *Recorder) Record(ctx context.Context, rec *domain.FeedbackRecord, actor domain.Actor) (*domain.FeedbackRecord, error) {
	if err := domain.ValidateFeedback(rec); err != nil {
		return nil, err
	}

	stored := *rec
	stored.ID = ""
	stored.CreatedBy = actor.UserID
	stored.Medications = nonNil(rec.Medications)
	stored.Symptoms = nonNil(rec.Symptoms)
	now := r.now()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	if err := r.store.Insert(ctx, &stored); err != nil {
		r.log.WithError(err).WithField("created_by", actor.UserID).Error("Failed to store feedback")
		return nil, domain.StorageError("storing feedback", err)
	}

	verdict := "none"
	if stored.Feedback != nil {
		verdict = string(*stored.Feedback)
	}
	r.metrics.RecordFeedback(verdict)
	r.log.WithFields(logrus.Fields{
		"feedback_id": stored.ID,
		"verdict":     verdict,
		"created_by":  actor.UserID,
	}).Info("Feedback recorded")

	return &stored, nil
}

// ListAll returns every record, newest first
func (r *Recorder) ListAll(ctx context.Context) ([]*domain.FeedbackRecord, error) {
	records, err := r.store.List(ctx, nil)
	if err != nil {
		return nil, domain.StorageError("listing feedback", err)
	}
	return records, nil
}

// ListDisagreements returns the records whose verdict is "no", newest first
func (r *Recorder) ListDisagreements(ctx context.Context) ([]*domain.FeedbackRecord, error) {
	records, err := r.store.List(ctx, domain.VerdictPtr(domain.VerdictDisagree))
	if err != nil {
		return nil, domain.StorageError("listing disagreements", err)
	}
	return records, nil
}

// CountDisagreements returns how many records carry a "no" verdict
func (r *Recorder) CountDisagreements(ctx context.Context) (int64, error) {
	n, err := r.store.Count(ctx, domain.VerdictPtr(domain.VerdictDisagree))
	if err != nil {
		return 0, domain.StorageError("counting disagreements", err)
	}
	return n, nil
}

// Count returns the number of records matching verdict, or all records when nil
func (r *Recorder) Count(ctx context.Context, verdict *domain.Verdict) (int64, error) {
	n, err := r.store.Count(ctx, verdict)
	if err != nil {
		return 0, domain.StorageError("counting feedback", err)
	}
	return n, nil
}

// Export writes every record in the JSON export format
func (r *Recorder) Export(ctx context.Context, w io.Writer) error {
	if err := r.store.ExportJSON(ctx, w); err != nil {
		return domain.StorageError("exporting feedback", err)
	}
	return nil
}
