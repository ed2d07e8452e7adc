package client

import (
	"github.com/dili-feedback-server/internal/batching"
	"github.com/dili-feedback-server/internal/domain"
	"github.com/dili-feedback-server/internal/training"
)

// Wire types shared with the server. They are aliases so callers outside
// this module can name them.
type (
	FeedbackRecord = domain.FeedbackRecord
	ClinicalInputs = domain.ClinicalInputs
	ModelOutput    = domain.ModelOutput
	VersionRecord  = domain.VersionRecord
	User           = domain.User

	Sex           = domain.Sex
	YesNo         = domain.YesNo
	Verdict       = domain.Verdict
	Role          = domain.Role
	VersionStatus = domain.VersionStatus

	Batch        = batching.Batch
	Run          = training.Run
	Phase        = training.Phase
	State        = training.State
	Outcome      = training.Outcome
	StartOptions = training.StartOptions
	Readiness    = training.Readiness
)

const (
	SexMale   = domain.SexMale
	SexFemale = domain.SexFemale

	Yes = domain.Yes
	No  = domain.No

	VerdictAgree    = domain.VerdictAgree
	VerdictDisagree = domain.VerdictDisagree

	RoleClinician  = domain.RoleClinician
	RolePharmacist = domain.RolePharmacist
	RoleAdmin      = domain.RoleAdmin

	VersionPending = domain.VersionPending
	VersionActive  = domain.VersionActive
	VersionFailed  = domain.VersionFailed

	StateIdle           = training.StateIdle
	StateVersionBumping = training.StateVersionBumping
	StateApiTraining    = training.StateApiTraining
	StateCompleted      = training.StateCompleted

	OutcomeSuccess = training.OutcomeSuccess
	OutcomeFailed  = training.OutcomeFailed
)

// FeedbackStats is the verdict tally reported by the server
type FeedbackStats struct {
	Total    int64 `json:"total"`
	Agree    int64 `json:"agree"`
	Disagree int64 `json:"disagree"`
}

// Float returns a pointer to v, for optional numeric fields
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v
func Int(v int) *int { return &v }

// Bool returns a pointer to v
func Bool(v bool) *bool { return &v }

// YesNoPtr returns a pointer to v
func YesNoPtr(v YesNo) *YesNo { return &v }

// VerdictPtr returns a pointer to v
func VerdictPtr(v Verdict) *Verdict { return &v }
