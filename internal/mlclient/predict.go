package mlclient

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/dili-feedback-server/internal/domain"
)

const (
	labelToxic = "DILI (Toxic)"
	labelSafe  = "No DILI (Safe)"
)

// wireInput is the feature row the inference service expects. Enums are
// encoded as 0/1 and count-like features as integers.
type wireInput struct {
	Age                     int     `json:"Age"`
	Sex                     int     `json:"Sex"`
	BMI                     float64 `json:"BMI"`
	AlcoholUse              int     `json:"Alcohol_Use"`
	PreexistingLiverDisease int     `json:"Preexisting_Liver_Disease"`
	ALT                     float64 `json:"ALT"`
	AST                     float64 `json:"AST"`
	ALP                     float64 `json:"ALP"`
	Bilirubin               float64 `json:"Bilirubin"`
	Albumin                 float64 `json:"Albumin"`
	DrugRiskScore           int     `json:"Drug_Risk_Score"`
	DailyDoseMg             int     `json:"Daily_Dose_mg"`
	DrugDurationDays        int     `json:"Drug_Duration_Days"`
}

// wireOutput accepts every response shape the service has used
type wireOutput struct {
	PredictedClass  *float64 `json:"predicted_class"`
	Prediction      *float64 `json:"prediction"`
	Label           string   `json:"label"`
	ProbabilityDILI *float64 `json:"probability_dili"`
	Confidence      *float64 `json:"confidence"`
	Probability     *float64 `json:"probability"`
}

func flag(ok bool) int {
	if ok {
		return 1
	}
	return 0
}

func round(v float64) int {
	return int(math.Round(v))
}

func toWire(in domain.ClinicalInputs) (wireInput, error) {
	var errs domain.ValidationErrors
	need := func(field string, v *float64) float64 {
		if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
			errs = append(errs, domain.NewValidationError(field, "is required", nil))
			return 0
		}
		return *v
	}
	optional := func(v *float64) float64 {
		if v == nil {
			return 0
		}
		return *v
	}

	w := wireInput{
		Age:              round(need("age", in.Age)),
		BMI:              need("bmi", in.BMI),
		ALT:              need("alt", in.ALT),
		AST:              need("ast", in.AST),
		ALP:              need("alp", in.ALP),
		Bilirubin:        need("bilirubin", in.Bilirubin),
		Albumin:          need("albumin", in.Albumin),
		DrugRiskScore:    round(need("drug_risk_score", in.DrugRiskScore)),
		DailyDoseMg:      round(optional(in.DailyDoseMg)),
		DrugDurationDays: round(optional(in.DrugDurationDays)),
	}

	switch in.Sex {
	case domain.SexMale, domain.SexFemale:
		w.Sex = flag(in.Sex == domain.SexMale)
	default:
		errs = append(errs, domain.NewValidationError("sex", "must be one of Male, Female", in.Sex))
	}
	switch in.AlcoholUse {
	case domain.Yes, domain.No:
		w.AlcoholUse = flag(in.AlcoholUse == domain.Yes)
	default:
		errs = append(errs, domain.NewValidationError("alcohol_use", "must be one of Yes, No", in.AlcoholUse))
	}
	if in.PreexistingLiverDisease != nil {
		w.PreexistingLiverDisease = flag(*in.PreexistingLiverDisease == domain.Yes)
	}

	if len(errs) > 0 {
		return wireInput{}, errs
	}
	return w, nil
}

func firstOf(values ...*float64) (float64, bool) {
	for _, v := range values {
		if v != nil {
			return *v, true
		}
	}
	return 0, false
}

// normalize maps a service response onto the model output shown to clinicians
func normalize(out wireOutput) *domain.ModelOutput {
	prob, _ := firstOf(out.ProbabilityDILI, out.Confidence, out.Probability)
	raw, _ := firstOf(out.PredictedClass, out.Prediction)
	class := round(raw)

	label := out.Label
	if label == "" {
		label = labelSafe
		if class == 1 {
			label = labelToxic
		}
	}

	result := &domain.ModelOutput{
		PredictedClass: domain.Int(class),
		Label:          label,
		Confidence:     domain.Float(prob),
		RawPrediction:  domain.Float(raw),
		IsDisease:      domain.Bool(class == 1),
	}
	if out.ProbabilityDILI != nil {
		result.ProbabilityDILI = domain.Float(*out.ProbabilityDILI)
	}
	return result
}

func cloneOutput(o domain.ModelOutput) *domain.ModelOutput {
	c := o
	if o.PredictedClass != nil {
		c.PredictedClass = domain.Int(*o.PredictedClass)
	}
	if o.Confidence != nil {
		c.Confidence = domain.Float(*o.Confidence)
	}
	if o.ProbabilityDILI != nil {
		c.ProbabilityDILI = domain.Float(*o.ProbabilityDILI)
	}
	if o.RawPrediction != nil {
		c.RawPrediction = domain.Float(*o.RawPrediction)
	}
	if o.IsDisease != nil {
		c.IsDisease = domain.Bool(*o.IsDisease)
	}
	return &c
}

// Predict scores one patient. Identical inputs are answered from cache
// until the cache entry expires.
func (c *Client) Predict(ctx context.Context, in domain.ClinicalInputs) (*domain.ModelOutput, error) {
	wire, err := toWire(in)
	if err != nil {
		return nil, err
	}

	keyBytes, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to encode prediction request: %w", err)
	}
	key := string(keyBytes)
	if c.cache != nil {
		if cached, ok := c.cache.Get(key); ok {
			return cloneOutput(cached), nil
		}
	}

	result, err := c.call(ctx, endpointPredict, "Prediction", c.predictBreaker, func() (interface{}, error) {
		req, err := c.postJSON(ctx, endpointPredict, wire)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if err := checkStatus(endpointPredict, resp); err != nil {
			return nil, err
		}
		var out wireOutput
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("failed to decode prediction: %w", err)
		}
		if out.PredictedClass == nil && out.Prediction == nil {
			return nil, fmt.Errorf("prediction response carries no class")
		}
		return normalize(out), nil
	})
	if err != nil {
		return nil, err
	}

	prediction := result.(*domain.ModelOutput)
	if c.cache != nil {
		c.cache.Add(key, *cloneOutput(*prediction))
	}
	return prediction, nil
}
