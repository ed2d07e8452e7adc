package feedback

import (
	"database/sql"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/dili-feedback-server/internal/domain"
)

// columns is the shared column order of the SQL backends.
const columns = `id, age, sex, bmi, alt, ast, alp, bilirubin, albumin, drug_risk_score,
	alcohol_use, medications, symptoms, preexisting_liver_disease, dili,
	daily_dose_mg, drug_duration_days, predicted_class, label, confidence,
	probability_dili, raw_prediction, is_disease, feedback, created_by,
	created_at, updated_at`

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// row holds one scanned feedback row before conversion
type row struct {
	id                                                    int64
	age, bmi, alt, ast, alp, bilirubin, albumin, drugRisk sql.NullFloat64
	sex, alcohol                                          string
	preexisting, dili                                     sql.NullString
	dose, duration                                        sql.NullFloat64
	predictedClass                                        sql.NullInt64
	label                                                 string
	confidence, probability, raw                          sql.NullFloat64
	isDisease                                             sql.NullBool
	verdict                                               sql.NullString
	createdBy                                             string
	createdAt, updatedAt                                  time.Time
}

// scanRecord scans one row. meds and symptoms are backend specific scan
// targets for the two list columns; decode turns them into string slices.
func scanRecord(s scanner, meds, symptoms interface{}, decode func() ([]string, []string, error)) (*domain.FeedbackRecord, error) {
	var r row
	err := s.Scan(
		&r.id, &r.age, &r.sex, &r.bmi, &r.alt, &r.ast, &r.alp, &r.bilirubin, &r.albumin, &r.drugRisk,
		&r.alcohol, meds, symptoms, &r.preexisting, &r.dili,
		&r.dose, &r.duration, &r.predictedClass, &r.label, &r.confidence,
		&r.probability, &r.raw, &r.isDisease, &r.verdict, &r.createdBy,
		&r.createdAt, &r.updatedAt,
	)
	if err != nil {
		return nil, err
	}

	m, sy, err := decode()
	if err != nil {
		return nil, err
	}

	rec := &domain.FeedbackRecord{
		ID: formatID(r.id),
		ClinicalInputs: domain.ClinicalInputs{
			Age:                     floatPtr(r.age),
			Sex:                     domain.Sex(r.sex),
			BMI:                     floatPtr(r.bmi),
			ALT:                     floatPtr(r.alt),
			AST:                     floatPtr(r.ast),
			ALP:                     floatPtr(r.alp),
			Bilirubin:               floatPtr(r.bilirubin),
			Albumin:                 floatPtr(r.albumin),
			DrugRiskScore:           floatPtr(r.drugRisk),
			AlcoholUse:              domain.YesNo(r.alcohol),
			Medications:             m,
			Symptoms:                sy,
			PreexistingLiverDisease: yesNoPtr(r.preexisting),
			DILI:                    yesNoPtr(r.dili),
			DailyDoseMg:             floatPtr(r.dose),
			DrugDurationDays:        floatPtr(r.duration),
		},
		ModelOutput: domain.ModelOutput{
			Label:           r.label,
			Confidence:      floatPtr(r.confidence),
			ProbabilityDILI: floatPtr(r.probability),
			RawPrediction:   floatPtr(r.raw),
		},
		CreatedBy: r.createdBy,
		CreatedAt: r.createdAt.UTC(),
		UpdatedAt: r.updatedAt.UTC(),
	}
	if r.predictedClass.Valid {
		rec.PredictedClass = domain.Int(int(r.predictedClass.Int64))
	}
	if r.isDisease.Valid {
		rec.IsDisease = domain.Bool(r.isDisease.Bool)
	}
	if r.verdict.Valid {
		rec.Feedback = domain.VerdictPtr(domain.Verdict(r.verdict.String))
	}
	return rec, nil
}

// values returns the insert arguments in column order, without id.
func values(rec *domain.FeedbackRecord, meds, symptoms interface{}) []interface{} {
	return []interface{}{
		nullFloat(rec.Age), string(rec.Sex), nullFloat(rec.BMI), nullFloat(rec.ALT), nullFloat(rec.AST),
		nullFloat(rec.ALP), nullFloat(rec.Bilirubin), nullFloat(rec.Albumin), nullFloat(rec.DrugRiskScore),
		string(rec.AlcoholUse), meds, symptoms, nullYesNo(rec.PreexistingLiverDisease), nullYesNo(rec.DILI),
		nullFloat(rec.DailyDoseMg), nullFloat(rec.DrugDurationDays), nullInt(rec.PredictedClass), rec.Label,
		nullFloat(rec.Confidence), nullFloat(rec.ProbabilityDILI), nullFloat(rec.RawPrediction),
		nullBool(rec.IsDisease), nullVerdict(rec.Feedback), rec.CreatedBy,
		rec.CreatedAt, rec.UpdatedAt,
	}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullBool(p *bool) sql.NullBool {
	if p == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *p, Valid: true}
}

func nullYesNo(p *domain.YesNo) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*p), Valid: true}
}

func nullVerdict(p *domain.Verdict) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*p), Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	return domain.Float(n.Float64)
}

func yesNoPtr(n sql.NullString) *domain.YesNo {
	if !n.Valid {
		return nil
	}
	return domain.YesNoPtr(domain.YesNo(n.String))
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

// Export is the JSON export format.
type Export struct {
	Version    string                   `json:"version"`
	ExportedAt time.Time                `json:"exported_at"`
	Count      int                      `json:"count"`
	Feedback   []*domain.FeedbackRecord `json:"feedback"`
}

// WriteExport encodes records in the export format.
func WriteExport(w io.Writer, records []*domain.FeedbackRecord) error {
	export := &Export{
		Version:    "1.0",
		ExportedAt: time.Now().UTC(),
		Count:      len(records),
		Feedback:   records,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}
