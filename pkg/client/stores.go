package client

import (
	"context"
	"net/http"
)

// FeedbackClient records and reads clinician verdicts
type FeedbackClient struct {
	c *Client
}

// NewFeedbackClient creates a feedback store over c
func NewFeedbackClient(c *Client) *FeedbackClient {
	return &FeedbackClient{c: c}
}

// Record submits one verdict and returns the stored record
func (f *FeedbackClient) Record(ctx context.Context, rec *FeedbackRecord) (*FeedbackRecord, error) {
	var stored FeedbackRecord
	if _, err := f.c.do(ctx, http.MethodPost, "/api/feedback", rec, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// ListAll returns every record, newest first
func (f *FeedbackClient) ListAll(ctx context.Context) ([]*FeedbackRecord, error) {
	return f.list(ctx, "/api/feedback")
}

// ListDisagreements returns the "no" verdicts, newest first
func (f *FeedbackClient) ListDisagreements(ctx context.Context) ([]*FeedbackRecord, error) {
	return f.list(ctx, "/api/feedback/negative")
}

func (f *FeedbackClient) list(ctx context.Context, path string) ([]*FeedbackRecord, error) {
	var records []*FeedbackRecord
	if _, err := f.c.do(ctx, http.MethodGet, path, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Batches returns the disagreements grouped into training batches
func (f *FeedbackClient) Batches(ctx context.Context) ([]Batch, error) {
	var batches []Batch
	if _, err := f.c.do(ctx, http.MethodGet, "/api/feedback/negative/batches", nil, &batches); err != nil {
		return nil, err
	}
	return batches, nil
}

// Stats returns how many verdicts have been recorded, split by verdict
func (f *FeedbackClient) Stats(ctx context.Context) (*FeedbackStats, error) {
	var stats FeedbackStats
	if _, err := f.c.do(ctx, http.MethodGet, "/api/feedback/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// VersionClient reads and appends to the model version ledger
type VersionClient struct {
	c *Client
}

// NewVersionClient creates a version store over c
func NewVersionClient(c *Client) *VersionClient {
	return &VersionClient{c: c}
}

// Create appends the next version
func (v *VersionClient) Create(ctx context.Context) (*VersionRecord, error) {
	var rec VersionRecord
	if _, err := v.c.do(ctx, http.MethodPost, "/api/versions", nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns the ledger, newest first
func (v *VersionClient) List(ctx context.Context) ([]*VersionRecord, error) {
	var records []*VersionRecord
	if _, err := v.c.do(ctx, http.MethodGet, "/api/versions", nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Active returns the newest active version. A ledger without one yields
// an *APIError with status 404.
func (v *VersionClient) Active(ctx context.Context) (*VersionRecord, error) {
	var rec VersionRecord
	if _, err := v.c.do(ctx, http.MethodGet, "/api/versions/active", nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// TrainingClient starts and observes retraining runs
type TrainingClient struct {
	c *Client
}

// NewTrainingClient creates a training store over c
func NewTrainingClient(c *Client) *TrainingClient {
	return &TrainingClient{c: c}
}

// Start begins a run. A run already in flight yields an *APIError with
// status 409.
func (t *TrainingClient) Start(ctx context.Context, opts StartOptions) (*Run, error) {
	var run Run
	if _, err := t.c.do(ctx, http.MethodPost, "/api/training/runs", opts, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// Get returns a run by id
func (t *TrainingClient) Get(ctx context.Context, id string) (*Run, error) {
	var run Run
	if _, err := t.c.do(ctx, http.MethodGet, "/api/training/runs/"+id, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// Readiness reports how close the next run is
func (t *TrainingClient) Readiness(ctx context.Context) (*Readiness, error) {
	var r Readiness
	if _, err := t.c.do(ctx, http.MethodGet, "/api/training/readiness", nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
