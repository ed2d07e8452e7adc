package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRecord() *FeedbackRecord {
	return &FeedbackRecord{
		ClinicalInputs: ClinicalInputs{
			Age:           Float(54),
			Sex:           SexMale,
			BMI:           Float(24.1),
			ALT:           Float(30),
			AST:           Float(28),
			ALP:           Float(80),
			Bilirubin:     Float(0.9),
			Albumin:       Float(4.0),
			DrugRiskScore: Float(3),
			AlcoholUse:    No,
			Medications:   []string{"Paracetamol"},
			Symptoms:      []string{"Fatigue"},
		},
		ModelOutput: ModelOutput{
			PredictedClass: Int(1),
			Label:          "High Risk of Hepatotoxicity",
			Confidence:     Float(0.87),
			IsDisease:      Bool(true),
		},
		Feedback: VerdictPtr(VerdictDisagree),
	}
}

func fieldsOf(t *testing.T, err error) []string {
	t.Helper()
	var errs ValidationErrors
	require.True(t, errors.As(err, &errs), "expected ValidationErrors, got %v", err)
	fields := make([]string, 0, len(errs))
	for _, e := range errs {
		fields = append(fields, e.Field)
	}
	return fields
}

func TestValidateFeedback_Valid(t *testing.T) {
	assert.NoError(t, ValidateFeedback(validRecord()))

	// Verdict is optional: an unreviewed record is still valid.
	rec := validRecord()
	rec.Feedback = nil
	assert.NoError(t, ValidateFeedback(rec))
}

func TestValidateFeedback_ZeroIsNotMissing(t *testing.T) {
	rec := validRecord()
	rec.DrugRiskScore = Float(0)
	rec.PredictedClass = Int(0)
	rec.IsDisease = Bool(false)
	rec.Confidence = Float(0)

	assert.NoError(t, ValidateFeedback(rec))
}

func TestValidateFeedback_MissingRequired(t *testing.T) {
	rec := validRecord()
	rec.Age = nil
	rec.Albumin = nil
	rec.Label = "  "
	rec.IsDisease = nil

	fields := fieldsOf(t, ValidateFeedback(rec))
	assert.ElementsMatch(t, []string{"age", "albumin", "label", "is_disease"}, fields)
}

func TestValidateFeedback_Enums(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*FeedbackRecord)
		field  string
	}{
		{"sex", func(r *FeedbackRecord) { r.Sex = "male" }, "sex"},
		{"alcohol", func(r *FeedbackRecord) { r.AlcoholUse = "yes" }, "alcohol_use"},
		{"preexisting", func(r *FeedbackRecord) { r.PreexistingLiverDisease = YesNoPtr("Maybe") }, "preexisting_liver_disease"},
		{"dili", func(r *FeedbackRecord) { r.DILI = YesNoPtr("no") }, "dili"},
		{"verdict", func(r *FeedbackRecord) { r.Feedback = VerdictPtr("No") }, "feedback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord()
			tt.mutate(rec)
			assert.Equal(t, []string{tt.field}, fieldsOf(t, ValidateFeedback(rec)))
		})
	}
}

func TestValidateFeedback_Numbers(t *testing.T) {
	rec := validRecord()
	rec.Confidence = Float(1.2)
	rec.BMI = Float(math.NaN())

	assert.ElementsMatch(t, []string{"confidence", "bmi"}, fieldsOf(t, ValidateFeedback(rec)))
}

func TestValidateSignup(t *testing.T) {
	assert.NoError(t, ValidateSignup("Ada Lovelace", "ada@example.com", "secret"))

	fields := fieldsOf(t, ValidateSignup("", "not-an-email", ""))
	assert.Equal(t, []string{"fullname", "email", "password"}, fields)
}

func TestParseRole(t *testing.T) {
	r, ok := ParseRole(" Pharmacist ")
	assert.True(t, ok)
	assert.Equal(t, RolePharmacist, r)

	_, ok = ParseRole("superuser")
	assert.False(t, ok)
}
