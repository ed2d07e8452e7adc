package domain

import (
	"math"
	"net/mail"
	"strings"
)

// ValidateFeedback checks presence and enum membership of the schema fields.
// It returns nil or a ValidationErrors listing every failing field.
func ValidateFeedback(f *FeedbackRecord) error {
	var errs ValidationErrors

	required := []struct {
		field string
		value *float64
	}{
		{"age", f.Age},
		{"bmi", f.BMI},
		{"alt", f.ALT},
		{"ast", f.AST},
		{"alp", f.ALP},
		{"bilirubin", f.Bilirubin},
		{"albumin", f.Albumin},
		{"drug_risk_score", f.DrugRiskScore},
		{"confidence", f.Confidence},
	}
	for _, r := range required {
		if r.value == nil {
			errs = append(errs, NewValidationError(r.field, "is required", nil))
			continue
		}
		if math.IsNaN(*r.value) || math.IsInf(*r.value, 0) {
			errs = append(errs, NewValidationError(r.field, "must be a finite number", *r.value))
		}
	}

	optional := []struct {
		field string
		value *float64
	}{
		{"daily_dose_mg", f.DailyDoseMg},
		{"drug_duration_days", f.DrugDurationDays},
		{"probability_dili", f.ProbabilityDILI},
		{"raw_prediction", f.RawPrediction},
	}
	for _, o := range optional {
		if o.value != nil && (math.IsNaN(*o.value) || math.IsInf(*o.value, 0)) {
			errs = append(errs, NewValidationError(o.field, "must be a finite number", *o.value))
		}
	}

	if f.Confidence != nil && (*f.Confidence < 0 || *f.Confidence > 1) {
		errs = append(errs, NewValidationError("confidence", "must be between 0 and 1", *f.Confidence))
	}

	switch f.Sex {
	case SexMale, SexFemale:
	case "":
		errs = append(errs, NewValidationError("sex", "is required", nil))
	default:
		errs = append(errs, NewValidationError("sex", "must be one of Male, Female", f.Sex))
	}

	switch f.AlcoholUse {
	case Yes, No:
	case "":
		errs = append(errs, NewValidationError("alcohol_use", "is required", nil))
	default:
		errs = append(errs, NewValidationError("alcohol_use", "must be one of Yes, No", f.AlcoholUse))
	}

	for _, o := range []struct {
		field string
		value *YesNo
	}{
		{"preexisting_liver_disease", f.PreexistingLiverDisease},
		{"dili", f.DILI},
	} {
		if o.value != nil && *o.value != Yes && *o.value != No {
			errs = append(errs, NewValidationError(o.field, "must be one of Yes, No", *o.value))
		}
	}

	if f.PredictedClass == nil {
		errs = append(errs, NewValidationError("predicted_class", "is required", nil))
	}
	if strings.TrimSpace(f.Label) == "" {
		errs = append(errs, NewValidationError("label", "is required", nil))
	}
	if f.IsDisease == nil {
		errs = append(errs, NewValidationError("is_disease", "is required", nil))
	}

	if f.Feedback != nil && *f.Feedback != VerdictAgree && *f.Feedback != VerdictDisagree {
		errs = append(errs, NewValidationError("feedback", "must be one of yes, no", *f.Feedback))
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// NormalizeEmail lower-cases and trims an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateSignup checks the fields required to register a user
func ValidateSignup(fullname, email, password string) error {
	var errs ValidationErrors
	if strings.TrimSpace(fullname) == "" {
		errs = append(errs, NewValidationError("fullname", "is required", nil))
	}
	if strings.TrimSpace(email) == "" {
		errs = append(errs, NewValidationError("email", "is required", nil))
	} else if _, err := mail.ParseAddress(email); err != nil {
		errs = append(errs, NewValidationError("email", "is not a valid address", email))
	}
	if password == "" {
		errs = append(errs, NewValidationError("password", "is required", nil))
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}
