package sampling

import (
	"fmt"
	"strings"

	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
)

// ControlRiskInfo is what the optimizer knows about the control under test.
type ControlRiskInfo struct {
	Criticality  id.Severity `json:"criticality"`
	IsKeyControl bool        `json:"is_key_control"`
	IsAutomated  bool        `json:"is_automated"`
}

// HistoricalData summarizes prior-period testing of the control.
type HistoricalData struct {
	PriorTests    int `json:"prior_tests"`
	PriorFailures int `json:"prior_failures"`
}

// FailureRate is the prior-period failure percentage, zero when untested.
func (h HistoricalData) FailureRate() float64 {
	if h.PriorTests == 0 {
		return 0
	}
	return float64(h.PriorFailures) / float64(h.PriorTests) * 100
}

// OptimizeParams are the inputs to Optimize.
type OptimizeParams struct {
	PopulationSize int             `json:"population_size"`
	Control        ControlRiskInfo `json:"control"`
	History        HistoricalData  `json:"history"`
}

// RiskFactor is one rule that fired during optimization, in evaluation
// order. Every parameter the optimizer moves must be traceable to the
// factors listed here.
type RiskFactor struct {
	Name   string `json:"name"`
	Detail string `json:"detail"`
}

// OptimizedPlan carries the adjusted parameters, the resulting sample plan,
// and the audit-defensibility trail: ordered risk factors plus a
// human-readable rationale.
type OptimizedPlan struct {
	ConfidenceLevel    float64        `json:"confidence_level"`
	TolerableErrorRate float64        `json:"tolerable_error_rate"`
	ExpectedErrorRate  float64        `json:"expected_error_rate"`
	Plan               SampleSizePlan `json:"plan"`
	RiskFactors        []RiskFactor   `json:"risk_factors"`
	Rationale          string         `json:"rationale"`
}

// Baseline and risk-adjusted parameter bounds. Deviation-rate thresholds
// are percent.
const (
	baselineConfidence = 95.0
	baselineTolerable  = 5.0
	elevatedConfidence = 99.0
	floorTolerable     = 3.0

	// Prior failure rate above this marks the control as historically
	// unreliable.
	historicalFailureThreshold = 10.0
)

// Optimize applies a fixed, ordered rule set to the baseline sampling
// parameters. High criticality or a poor testing history pushes confidence
// toward 99% and tolerable error toward 3%; key and manual controls tighten
// tolerable error one point. The rules are deterministic so the same inputs
// always produce the same parameters and the same explanation.
func Optimize(params OptimizeParams) (*OptimizedPlan, error) {
	if params.PopulationSize < 1 {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "population_size must be at least 1, got %d", params.PopulationSize)
	}
	if params.Control.Criticality != "" && !params.Control.Criticality.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown criticality %q", params.Control.Criticality)
	}
	if params.History.PriorFailures < 0 || params.History.PriorTests < 0 || params.History.PriorFailures > params.History.PriorTests {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "prior_failures must be between 0 and prior_tests")
	}

	confidence := baselineConfidence
	tolerable := baselineTolerable
	var factors []RiskFactor

	if crit := params.Control.Criticality; crit == id.SeverityHigh || crit == id.SeverityCritical {
		confidence = elevatedConfidence
		tolerable = floorTolerable
		factors = append(factors, RiskFactor{
			Name:   "control_criticality",
			Detail: fmt.Sprintf("criticality %s raises confidence to %g%% and lowers tolerable error to %g%%", crit, elevatedConfidence, floorTolerable),
		})
	}

	if rate := params.History.FailureRate(); rate > historicalFailureThreshold {
		confidence = elevatedConfidence
		tolerable = floorTolerable
		factors = append(factors, RiskFactor{
			Name:   "historical_failure_rate",
			Detail: fmt.Sprintf("prior failure rate %.1f%% exceeds the %.0f%% threshold", rate, historicalFailureThreshold),
		})
	}

	if params.Control.IsKeyControl && tolerable > floorTolerable {
		tolerable--
		factors = append(factors, RiskFactor{
			Name:   "key_control",
			Detail: fmt.Sprintf("key control lowers tolerable error to %g%%", tolerable),
		})
	}

	if !params.Control.IsAutomated && tolerable > floorTolerable {
		tolerable--
		factors = append(factors, RiskFactor{
			Name:   "manual_execution",
			Detail: fmt.Sprintf("manual control lowers tolerable error to %g%%", tolerable),
		})
	}

	// Expected rate follows observed history but must stay below tolerable
	// for the sizing formula to be solvable.
	expected := params.History.FailureRate()
	if expected >= tolerable {
		expected = tolerable - 1
	}

	plan, err := CalculateSampleSize(SampleSizeParams{
		PopulationSize:     params.PopulationSize,
		ConfidenceLevel:    confidence,
		TolerableErrorRate: tolerable,
		ExpectedErrorRate:  expected,
		Method:             MethodAttribute,
	})
	if err != nil {
		return nil, err
	}

	return &OptimizedPlan{
		ConfidenceLevel:    confidence,
		TolerableErrorRate: tolerable,
		ExpectedErrorRate:  expected,
		Plan:               *plan,
		RiskFactors:        factors,
		Rationale:          rationale(factors, confidence, tolerable, plan.AdjustedSize),
	}, nil
}

func rationale(factors []RiskFactor, confidence, tolerable float64, sampleSize int) string {
	if len(factors) == 0 {
		return fmt.Sprintf("no elevated risk factors identified; baseline parameters retained (%g%% confidence, %g%% tolerable error) for a sample of %d items", confidence, tolerable, sampleSize)
	}
	names := make([]string, len(factors))
	for i, f := range factors {
		names[i] = f.Name
	}
	return fmt.Sprintf("risk factors [%s] adjusted parameters to %g%% confidence and %g%% tolerable error, yielding a sample of %d items",
		strings.Join(names, ", "), confidence, tolerable, sampleSize)
}
