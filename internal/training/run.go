// Package training orchestrates model retraining runs.
package training

import (
	"time"
)

// State is a step of the retraining state machine
type State string

const (
	StateIdle           State = "Idle"
	StateVersionBumping State = "VersionBumping"
	StateApiTraining    State = "ApiTraining"
	StateCompleted      State = "Completed"
)

// Outcome is set once a run reaches Completed
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// PhaseSource says where the current phase came from
type PhaseSource string

const (
	SourceScripted PhaseSource = "scripted"
	SourceBackend  PhaseSource = "backend"
)

// Messages shown for a finished run. Failures never carry diagnostics.
const (
	MessageSuccess = "Training completed successfully"
	MessageFailed  = "Training failed, check server logs"
)

// PhaseNames are the estimated steps shown until the service reports its own
var PhaseNames = []string{
	"Dataset Preparation",
	"Data Preprocessing",
	"Train-Test Split",
	"Model Fitting & Training",
	"Model Evaluation",
	"Deploying Model to Production",
}

// Phase is the step a run is currently in. Index is -1 for a phase name
// the service reported that is not one of PhaseNames.
type Phase struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Total  int    `json:"total"`
	Status string `json:"status,omitempty"`
}

// Run is one retraining attempt
type Run struct {
	ID                string      `json:"id"`
	State             State       `json:"state"`
	Outcome           Outcome     `json:"outcome,omitempty"`
	Phase             *Phase      `json:"phase,omitempty"`
	PhaseSource       PhaseSource `json:"phase_source,omitempty"`
	Version           int         `json:"version,omitempty"`
	VersionID         string      `json:"version_id,omitempty"`
	TargetVersion     int64       `json:"target_version"`
	DisagreementCount int64       `json:"disagreement_count"`
	AutoTrain         bool        `json:"auto_train"`
	StartedBy         string      `json:"started_by"`
	StartedAt         time.Time   `json:"started_at"`
	FinishedAt        *time.Time  `json:"finished_at,omitempty"`
	Message           string      `json:"message,omitempty"`
}

func (r *Run) snapshot() *Run {
	c := *r
	if r.Phase != nil {
		p := *r.Phase
		c.Phase = &p
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// StartOptions carry what the operator asked for
type StartOptions struct {
	AutoTrain     bool   `json:"auto_train"`
	TargetVersion *int64 `json:"target_version,omitempty"`
}

// Readiness summarizes whether enough feedback has accumulated to retrain
type Readiness struct {
	DisagreementCount int64 `json:"disagreement_count"`
	BatchSize         int   `json:"batch_size"`
	CompleteBatches   int64 `json:"complete_batches"`
	TargetVersion     int64 `json:"target_version"`
	ActiveVersion     *int  `json:"active_version"`
	RunInFlight       bool  `json:"run_in_flight"`
	CurrentRun        *Run  `json:"current_run,omitempty"`
}

// IdleStatus is published when the orchestrator becomes available again
type IdleStatus struct {
	State   State `json:"state"`
	LastRun *Run  `json:"last_run,omitempty"`
}
