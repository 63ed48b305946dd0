// Package sampling implements attribute-sampling mathematics for control
// testing: sample sizing with finite-population correction, risk-weighted
// parameter optimization, mid-test adaptive expansion, and result evaluation
// with confidence bounds. Every operation is a pure function over its
// inputs; rates cross the API in percent.
package sampling

import (
	"fmt"
	"math"

	dErrors "veritas/pkg/domain-errors"
)

// Method names a supported sample-selection method.
type Method string

const (
	MethodAttribute  Method = "statistical_attribute"
	MethodRandom     Method = "random"
	MethodSystematic Method = "systematic"
	MethodJudgmental Method = "judgmental"
)

// IsValid reports whether the method is supported.
func (m Method) IsValid() bool {
	switch m {
	case MethodAttribute, MethodRandom, MethodSystematic, MethodJudgmental:
		return true
	}
	return false
}

// MethodInfo describes one selection method for the catalog endpoint.
type MethodInfo struct {
	Method      Method `json:"method"`
	Description string `json:"description"`
	Statistical bool   `json:"statistical"`
}

// Methods returns the selection-method catalog.
func Methods() []MethodInfo {
	return []MethodInfo{
		{MethodAttribute, "attribute sampling sized from confidence level and tolerable deviation rate", true},
		{MethodRandom, "simple random selection over the population", true},
		{MethodSystematic, "every k-th item from a random start", true},
		{MethodJudgmental, "auditor-selected items, no statistical projection", false},
	}
}

// MinimumSampleSize is the floor applied whenever the population allows it.
const MinimumSampleSize = 25

// SampleSizeParams are the inputs to CalculateSampleSize. Rates are percent.
type SampleSizeParams struct {
	PopulationSize     int     `json:"population_size"`
	ConfidenceLevel    float64 `json:"confidence_level"`
	TolerableErrorRate float64 `json:"tolerable_error_rate"`
	ExpectedErrorRate  float64 `json:"expected_error_rate"`
	Method             Method  `json:"method"`
}

// SampleSizePlan is the sizing result. CalculatedSize is the uncorrected
// attribute-sampling size; AdjustedSize applies the finite-population
// correction plus the floor and ceiling.
type SampleSizePlan struct {
	CalculatedSize            int     `json:"calculated_size"`
	AdjustedSize              int     `json:"adjusted_size"`
	SamplingPercentage        float64 `json:"sampling_percentage"`
	ZScore                    float64 `json:"z_score"`
	RiskOfIncorrectAcceptance float64 `json:"risk_of_incorrect_acceptance"`
	RiskOfIncorrectRejection  float64 `json:"risk_of_incorrect_rejection"`
	Method                    Method  `json:"method"`
}

func (p SampleSizeParams) validate() error {
	if p.PopulationSize < 1 {
		return dErrors.Newf(dErrors.CodeInvalidInput, "population_size must be at least 1, got %d", p.PopulationSize)
	}
	if p.ConfidenceLevel <= 0 || p.ConfidenceLevel >= 100 {
		return dErrors.Newf(dErrors.CodeInvalidInput, "confidence_level must be between 0 and 100 exclusive, got %g", p.ConfidenceLevel)
	}
	if p.ExpectedErrorRate < 0 {
		return dErrors.Newf(dErrors.CodeInvalidInput, "expected_error_rate cannot be negative, got %g", p.ExpectedErrorRate)
	}
	if p.TolerableErrorRate <= p.ExpectedErrorRate {
		return dErrors.Newf(dErrors.CodeInvalidInput,
			"tolerable_error_rate (%g) must exceed expected_error_rate (%g)", p.TolerableErrorRate, p.ExpectedErrorRate)
	}
	if p.TolerableErrorRate >= 100 {
		return dErrors.Newf(dErrors.CodeInvalidInput, "tolerable_error_rate must be below 100, got %g", p.TolerableErrorRate)
	}
	if p.Method != "" && !p.Method.IsValid() {
		return dErrors.Newf(dErrors.CodeInvalidInput, "unknown sampling method %q", p.Method)
	}
	return nil
}

// rawAttributeSize solves n = z^2 * p(1-p) / e^2 and rounds up. p and e are
// fractions.
func rawAttributeSize(z, p, e float64) int {
	return int(math.Ceil(z * z * p * (1 - p) / (e * e)))
}

// CalculateSampleSize sizes an attribute sample. The tolerable deviation
// rate serves as both the planning proportion and the precision, so for
// 95% confidence and 5% tolerable the uncorrected size is 73; the
// finite-population correction n / (1 + (n-1)/N) then shrinks it for small
// populations. The expected error rate feeds the risk-of-incorrect-rejection
// estimate.
func CalculateSampleSize(params SampleSizeParams) (*SampleSizePlan, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	method := params.Method
	if method == "" {
		method = MethodAttribute
	}

	z := zForConfidence(params.ConfidenceLevel)
	tolerable := params.TolerableErrorRate / 100
	expected := params.ExpectedErrorRate / 100

	raw := rawAttributeSize(z, tolerable, tolerable)

	n := float64(params.PopulationSize)
	adjusted := int(math.Round(float64(raw) / (1 + float64(raw-1)/n)))
	if adjusted < MinimumSampleSize {
		adjusted = MinimumSampleSize
	}
	if adjusted > params.PopulationSize {
		adjusted = params.PopulationSize
	}

	plan := &SampleSizePlan{
		CalculatedSize:            raw,
		AdjustedSize:              adjusted,
		SamplingPercentage:        round2(float64(adjusted) / n * 100),
		ZScore:                    math.Round(z*1000) / 1000,
		RiskOfIncorrectAcceptance: round2(100 - params.ConfidenceLevel),
		Method:                    method,
	}
	if expected > 0 {
		se := math.Sqrt(expected * (1 - expected) / float64(adjusted))
		plan.RiskOfIncorrectRejection = round2(100 * (1 - normalCDF((tolerable-expected)/se)))
	}
	return plan, nil
}

// AdaptiveParams are the inputs to AdaptiveAdjustment.
type AdaptiveParams struct {
	InitialSampleSize  int     `json:"initial_sample_size"`
	ErrorsFound        int     `json:"errors_found"`
	TestsCompleted     int     `json:"tests_completed"`
	TolerableErrorRate float64 `json:"tolerable_error_rate"`
}

// AdaptiveResult reports whether mid-test findings force a sample expansion.
// Expansion is never silent: RequiresCPAApproval accompanies every
// adjustment.
type AdaptiveResult struct {
	AdjustmentNeeded        bool    `json:"adjustment_needed"`
	CurrentErrorRate        float64 `json:"current_error_rate"`
	RevisedSampleSize       int     `json:"revised_sample_size,omitempty"`
	AdditionalSamplesNeeded int     `json:"additional_samples_needed,omitempty"`
	RequiresCPAApproval     bool    `json:"requires_cpa_approval"`
	Reason                  string  `json:"reason,omitempty"`
}

// adaptiveConfidence is the confidence level used when re-solving the
// sample size after excess deviations.
const adaptiveConfidence = 95

// AdaptiveAdjustment projects the observed deviation rate over the tests
// completed so far. Within tolerance it reports no adjustment; beyond it,
// the sample size is re-solved with the observed rate as the planning
// proportion and the expansion is flagged for CPA approval.
func AdaptiveAdjustment(params AdaptiveParams) (*AdaptiveResult, error) {
	if params.InitialSampleSize < 1 {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "initial_sample_size must be at least 1, got %d", params.InitialSampleSize)
	}
	if params.TestsCompleted < 1 {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "tests_completed must be at least 1, got %d", params.TestsCompleted)
	}
	if params.ErrorsFound < 0 || params.ErrorsFound > params.TestsCompleted {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput,
			"errors_found must be between 0 and tests_completed (%d), got %d", params.TestsCompleted, params.ErrorsFound)
	}
	if params.TolerableErrorRate <= 0 || params.TolerableErrorRate >= 100 {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "tolerable_error_rate must be between 0 and 100 exclusive, got %g", params.TolerableErrorRate)
	}

	observed := float64(params.ErrorsFound) / float64(params.TestsCompleted)
	result := &AdaptiveResult{CurrentErrorRate: round2(observed * 100)}

	if observed*100 <= params.TolerableErrorRate {
		return result, nil
	}

	z := zForConfidence(adaptiveConfidence)
	tolerable := params.TolerableErrorRate / 100
	revised := rawAttributeSize(z, observed, tolerable)
	if revised < params.InitialSampleSize {
		revised = params.InitialSampleSize
	}

	result.AdjustmentNeeded = true
	result.RequiresCPAApproval = true
	result.RevisedSampleSize = revised
	result.AdditionalSamplesNeeded = revised - params.TestsCompleted
	result.Reason = fmt.Sprintf(
		"observed deviation rate %.2f%% exceeds the tolerable rate %.2f%%; sample must expand to %d items",
		result.CurrentErrorRate, params.TolerableErrorRate, revised,
	)
	return result, nil
}

// ResultsParams are the inputs to CalculateResults. TolerableErrorRate is
// optional; when nil only the bounds are reported.
type ResultsParams struct {
	SampleSize         int      `json:"sample_size"`
	ErrorsFound        int      `json:"errors_found"`
	ConfidenceLevel    float64  `json:"confidence_level"`
	TolerableErrorRate *float64 `json:"tolerable_error_rate,omitempty"`
}

// TestConclusion is the PASS/FAIL verdict of a completed test.
type TestConclusion string

const (
	ConclusionPass TestConclusion = "PASS"
	ConclusionFail TestConclusion = "FAIL"
)

// SampleResults evaluates a completed sample.
type SampleResults struct {
	ErrorRate  float64        `json:"error_rate"`
	LowerBound float64        `json:"lower_bound"`
	UpperBound float64        `json:"upper_bound"`
	Conclusion TestConclusion `json:"conclusion,omitempty"`
}

// smallSampleThreshold selects the Wilson score interval below this n; the
// normal approximation is fine at or above it.
const smallSampleThreshold = 30

// CalculateResults computes the observed deviation rate and its confidence
// bounds, plus a PASS/FAIL conclusion when a tolerable rate is supplied.
func CalculateResults(params ResultsParams) (*SampleResults, error) {
	if params.SampleSize < 1 {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "sample_size must be at least 1, got %d", params.SampleSize)
	}
	if params.ErrorsFound < 0 || params.ErrorsFound > params.SampleSize {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput,
			"errors_found must be between 0 and sample_size (%d), got %d", params.SampleSize, params.ErrorsFound)
	}
	if params.ConfidenceLevel <= 0 || params.ConfidenceLevel >= 100 {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "confidence_level must be between 0 and 100 exclusive, got %g", params.ConfidenceLevel)
	}

	p := float64(params.ErrorsFound) / float64(params.SampleSize)
	z := zForConfidence(params.ConfidenceLevel)

	var lower, upper float64
	if params.SampleSize < smallSampleThreshold {
		lower, upper = wilsonInterval(p, params.SampleSize, z)
	} else {
		lower, upper = normalInterval(p, params.SampleSize, z)
	}

	results := &SampleResults{
		ErrorRate:  round2(p * 100),
		LowerBound: round2(lower * 100),
		UpperBound: round2(upper * 100),
	}
	if params.TolerableErrorRate != nil {
		if results.ErrorRate <= *params.TolerableErrorRate {
			results.Conclusion = ConclusionPass
		} else {
			results.Conclusion = ConclusionFail
		}
	}
	return results, nil
}
