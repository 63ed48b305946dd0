// Package prediction trains and serves the control-failure classifier:
// interchangeable estimators behind a strategy interface, versioned model
// registry with an explicit active version, and explainable risk
// assessments with deterministic recommendations.
package prediction

import (
	"time"

	id "veritas/pkg/domain"
)

// FeatureNames fixes the feature-vector column order. Every sample and every
// stored control feature set uses exactly these columns.
var FeatureNames = []string{
	"past_failure_rate",
	"control_complexity",
	"days_since_last_test",
	"change_frequency",
	"manual_intervention",
	"prior_deviations",
}

// RiskLevel buckets a risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// LevelForScore maps a 0-100 risk score onto its bucket.
func LevelForScore(score int) RiskLevel {
	switch {
	case score >= 85:
		return RiskCritical
	case score >= 70:
		return RiskHigh
	case score >= 40:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Factor is one feature's contribution to an assessment, ranked by
// importance times observed value.
type Factor struct {
	Name         string  `json:"name"`
	Importance   float64 `json:"importance"`
	Value        float64 `json:"value"`
	Contribution float64 `json:"contribution"`
}

// ConfidenceInterval bounds the failure probability.
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// RiskAssessment is the full explainable output of a prediction.
type RiskAssessment struct {
	ControlID          id.ControlID       `json:"control_id"`
	ModelVersion       int                `json:"model_version"`
	FailureProbability float64            `json:"failure_probability"`
	RiskScore          int                `json:"risk_score"`
	RiskLevel          RiskLevel          `json:"risk_level"`
	ConfidenceInterval ConfidenceInterval `json:"confidence_interval"`
	TopFactors         []Factor           `json:"top_factors"`
	Recommendations    []string           `json:"recommendations"`
	AssessedAt         time.Time          `json:"assessed_at"`
}

// ControlRiskSummary is one row of the at-risk ranking.
type ControlRiskSummary struct {
	ControlID   id.ControlID `json:"control_id"`
	ControlCode string       `json:"control_code"`
	RiskScore   int          `json:"risk_score"`
	RiskLevel   RiskLevel    `json:"risk_level"`
	TopFactor   string       `json:"top_factor"`
}

// TrainingReport summarizes a completed training run.
type TrainingReport struct {
	Version       int                `json:"version"`
	ModelType     string             `json:"model_type"`
	Samples       int                `json:"samples"`
	TrainSamples  int                `json:"train_samples"`
	TestSamples   int                `json:"test_samples"`
	Accuracy      float64            `json:"accuracy"`
	Precision     float64            `json:"precision"`
	Recall        float64            `json:"recall"`
	F1            float64            `json:"f1"`
	Importances   map[string]float64 `json:"importances"`
	TrainedAt     time.Time          `json:"trained_at"`
	TrainDuration time.Duration      `json:"train_duration"`
}

// ControlFeatures is the observed feature vector for one control, in
// FeatureNames order.
type ControlFeatures struct {
	ControlID    id.ControlID
	EngagementID id.EngagementID
	ControlCode  string
	Values       []float64
}
