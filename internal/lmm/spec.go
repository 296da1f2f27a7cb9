// Package lmm fits linear mixed-effects models of per-player shooting
// efficiency with a random intercept per player, and provides the
// comparison and diagnostic tools used to choose between functional forms.
package lmm

import "fmt"

// ResponseScale selects the response transformation.
type ResponseScale string

const (
	ResponseRaw   ResponseScale = "ts_pct"
	ResponseLogit ResponseScale = "ts_pct_logit"
)

// SeasonTerm selects how season enters the fixed effects.
type SeasonTerm string

const (
	SeasonContinuous  SeasonTerm = "season_continuous"
	SeasonCategorical SeasonTerm = "season_categorical"
)

// AgeTerm selects the aging covariate.
type AgeTerm string

const (
	AgeRaw         AgeTerm = "age"
	AgeCareerStage AgeTerm = "career_stage"
)

// Shape selects the functional form of the height and weight effects.
type Shape string

const (
	ShapeLinear    Shape = "linear"
	ShapeQuadratic Shape = "quadratic"
	ShapeSpline    Shape = "spline" // natural cubic spline, 3 df
)

// ModelSpec declares one model variant:
//
//	response ~ season*draft_round + f(height) + f(weight) + age_term
//	           + (1 | player_name)
//
// Variants are declared up front and fit independently rather than
// refit ad hoc.
type ModelSpec struct {
	Name     string
	Response ResponseScale
	Season   SeasonTerm
	Age      AgeTerm
	Shape    Shape
}

// DefaultCatalog is the model sequence the pipeline fits: the continuous-
// season baseline, the alternate season/age encodings, the logit-response
// variant, and the nonlinear height/weight shapes nested over the baseline.
func DefaultCatalog() []ModelSpec {
	return []ModelSpec{
		{Name: "baseline_linear", Response: ResponseRaw, Season: SeasonContinuous, Age: AgeRaw, Shape: ShapeLinear},
		{Name: "season_factor", Response: ResponseRaw, Season: SeasonCategorical, Age: AgeRaw, Shape: ShapeLinear},
		{Name: "career_stage", Response: ResponseRaw, Season: SeasonContinuous, Age: AgeCareerStage, Shape: ShapeLinear},
		{Name: "logit_response", Response: ResponseLogit, Season: SeasonContinuous, Age: AgeRaw, Shape: ShapeLinear},
		{Name: "quadratic_anthro", Response: ResponseRaw, Season: SeasonContinuous, Age: AgeRaw, Shape: ShapeQuadratic},
		{Name: "spline_anthro", Response: ResponseRaw, Season: SeasonContinuous, Age: AgeRaw, Shape: ShapeSpline},
	}
}

// ModelFitError indicates the optimizer failed to converge or the fixed-
// effect design is rank deficient. It is fatal to the variant, never
// silently retried.
type ModelFitError struct {
	Model  string
	Reason string
	Err    error
}

func (e *ModelFitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model %s: %s: %v", e.Model, e.Reason, e.Err)
	}
	return fmt.Sprintf("model %s: %s", e.Model, e.Reason)
}

func (e *ModelFitError) Unwrap() error { return e.Err }

// DomainError indicates a response value outside the domain of the
// requested transformation (TS% of exactly 0 or 1 under the logit).
type DomainError struct {
	Value  float64
	Reason string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("domain error: %s (value %g)", e.Reason, e.Value)
}
