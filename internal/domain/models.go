package domain

import (
	"strings"
	"time"
)

// Sex of the patient as recorded on the clinical form
type Sex string

const (
	SexMale   Sex = "Male"
	SexFemale Sex = "Female"
)

// YesNo is the capitalized enum used by clinical form fields
type YesNo string

const (
	Yes YesNo = "Yes"
	No  YesNo = "No"
)

// Verdict is the clinician's reaction to a prediction
type Verdict string

const (
	VerdictAgree    Verdict = "yes"
	VerdictDisagree Verdict = "no"
)

// Role gates access to feedback, version and training endpoints
type Role string

const (
	RoleClinician  Role = "clinician"
	RolePharmacist Role = "pharmacist"
	RoleAdmin      Role = "admin"
)

// ParseRole normalizes a role name
func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleClinician, RolePharmacist, RoleAdmin:
		return r, true
	}
	return "", false
}

// VersionStatus tracks a ledger entry through a training run
type VersionStatus string

const (
	VersionPending VersionStatus = "pending"
	VersionActive  VersionStatus = "active"
	VersionFailed  VersionStatus = "failed"
)

// ClinicalInputs are the patient fields submitted on the prediction form
type ClinicalInputs struct {
	Age                     *float64 `json:"age" bson:"age"`
	Sex                     Sex      `json:"sex" bson:"sex"`
	BMI                     *float64 `json:"bmi" bson:"bmi"`
	ALT                     *float64 `json:"alt" bson:"alt"`
	AST                     *float64 `json:"ast" bson:"ast"`
	ALP                     *float64 `json:"alp" bson:"alp"`
	Bilirubin               *float64 `json:"bilirubin" bson:"bilirubin"`
	Albumin                 *float64 `json:"albumin" bson:"albumin"`
	DrugRiskScore           *float64 `json:"drug_risk_score" bson:"drug_risk_score"`
	AlcoholUse              YesNo    `json:"alcohol_use" bson:"alcohol_use"`
	Medications             []string `json:"medications" bson:"medications"`
	Symptoms                []string `json:"symptoms" bson:"symptoms"`
	PreexistingLiverDisease *YesNo   `json:"preexisting_liver_disease,omitempty" bson:"preexisting_liver_disease,omitempty"`
	DILI                    *YesNo   `json:"dili,omitempty" bson:"dili,omitempty"`
	DailyDoseMg             *float64 `json:"daily_dose_mg,omitempty" bson:"daily_dose_mg,omitempty"`
	DrugDurationDays        *float64 `json:"drug_duration_days,omitempty" bson:"drug_duration_days,omitempty"`
}

// ModelOutput is the prediction shown to the clinician
type ModelOutput struct {
	PredictedClass  *int     `json:"predicted_class" bson:"predicted_class"`
	Label           string   `json:"label" bson:"label"`
	Confidence      *float64 `json:"confidence" bson:"confidence"`
	ProbabilityDILI *float64 `json:"probability_dili,omitempty" bson:"probability_dili,omitempty"`
	RawPrediction   *float64 `json:"raw_prediction,omitempty" bson:"raw_prediction,omitempty"`
	IsDisease       *bool    `json:"is_disease" bson:"is_disease"`
}

// FeedbackRecord is an immutable snapshot of inputs, prediction and verdict.
// Required numeric fields are pointers so that a missing field can be told
// apart from a zero value during validation.
type FeedbackRecord struct {
	ID string `json:"_id,omitempty" bson:"-"`
	ClinicalInputs `bson:",inline"`
	ModelOutput    `bson:",inline"`
	Feedback       *Verdict  `json:"feedback" bson:"feedback"`
	CreatedBy      string    `json:"created_by,omitempty" bson:"created_by,omitempty"`
	CreatedAt      time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt" bson:"updatedAt"`
}

// IsDisagreement reports whether the clinician rejected the prediction
func (f *FeedbackRecord) IsDisagreement() bool {
	return f.Feedback != nil && *f.Feedback == VerdictDisagree
}

// VersionRecord is one entry of the model version ledger
type VersionRecord struct {
	ID            string        `json:"_id" bson:"-"`
	Version       int           `json:"version" bson:"version"`
	Status        VersionStatus `json:"status" bson:"status"`
	CreatedBy     string        `json:"created_by,omitempty" bson:"created_by,omitempty"`
	TrainingRunID string        `json:"training_run_id,omitempty" bson:"training_run_id,omitempty"`
	CreatedAt     time.Time     `json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt" bson:"updatedAt"`
}

// User is an authenticated operator of the system. Password holds the bcrypt hash.
type User struct {
	ID        string    `json:"_id" bson:"-"`
	Fullname  string    `json:"fullname" bson:"fullname"`
	Email     string    `json:"email" bson:"email"`
	Password  string    `json:"-" bson:"password"`
	Role      Role      `json:"role" bson:"role"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Actor identifies the authenticated caller of an operation
type Actor struct {
	UserID string
	Email  string
	Role   Role
}

// Float is a convenience for building optional numeric fields
func Float(v float64) *float64 { return &v }

// Int is a convenience for building optional integer fields
func Int(v int) *int { return &v }

// Bool is a convenience for building optional boolean fields
func Bool(v bool) *bool { return &v }

// YesNoPtr is a convenience for building optional Yes/No fields
func YesNoPtr(v YesNo) *YesNo { return &v }

// VerdictPtr is a convenience for building a verdict
func VerdictPtr(v Verdict) *Verdict { return &v }
