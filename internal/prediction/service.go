package prediction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"time"

	"veritas/internal/prediction/metrics"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
	"veritas/pkg/platform/sentinel"
)

// FeatureStore supplies control observations.
type FeatureStore interface {
	ControlFeatures(ctx context.Context, controlID id.ControlID) (*ControlFeatures, error)
	EngagementControls(ctx context.Context, engagementID id.EngagementID) ([]ControlFeatures, error)
}

// AssessmentCache memoizes served assessments per control and model version.
// Implementations degrade to misses on any failure; the cache is an
// optimization, never a dependency.
type AssessmentCache interface {
	Get(ctx context.Context, controlID id.ControlID, version int) (*RiskAssessment, bool)
	Set(ctx context.Context, assessment *RiskAssessment)
	Flush(ctx context.Context)
}

type nopCache struct{}

func (nopCache) Get(context.Context, id.ControlID, int) (*RiskAssessment, bool) { return nil, false }
func (nopCache) Set(context.Context, *RiskAssessment)                           {}
func (nopCache) Flush(context.Context)                                          {}

// TrainRequest carries a labeled dataset. Samples are rows in FeatureNames
// column order; labels are 1 for a control failure.
type TrainRequest struct {
	ModelType string      `json:"model_type"`
	Samples   [][]float64 `json:"samples"`
	Labels    []int       `json:"labels"`
}

// minTrainingSamples is the smallest dataset the 80/20 split makes sense
// for.
const minTrainingSamples = 10

// Service trains and serves the control-failure classifier.
type Service struct {
	registry   *Registry
	features   FeatureStore
	cache      AssessmentCache
	estimators map[string]Estimator
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
	splitSeed  int64
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithCache enables the assessment cache.
func WithCache(c AssessmentCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithMetrics enables instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the timestamp source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSplitSeed fixes the train/test shuffle for reproducible reports.
func WithSplitSeed(seed int64) Option {
	return func(s *Service) { s.splitSeed = seed }
}

// WithEstimator registers an additional model type.
func WithEstimator(modelType string, estimator Estimator) Option {
	return func(s *Service) { s.estimators[modelType] = estimator }
}

// NewService builds the prediction service with the two built-in
// estimators.
func NewService(registry *Registry, features FeatureStore, opts ...Option) *Service {
	s := &Service{
		registry: registry,
		features: features,
		estimators: map[string]Estimator{
			ModelTypeLogistic:      NewLogisticRegression(),
			ModelTypeBoostedStumps: NewGradientBoostedStumps(),
		},
		cache:     nopCache{},
		logger:    slog.Default(),
		now:       time.Now,
		splitSeed: time.Now().UnixNano(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Train fits the requested estimator on an 80/20 held-out split, registers
// the artifact as a new version, activates it, and flushes the assessment
// cache. A cancelled run registers nothing and leaves the active version
// untouched.
func (s *Service) Train(ctx context.Context, req TrainRequest) (*TrainingReport, error) {
	if err := s.validateTrain(req); err != nil {
		return nil, err
	}
	estimator := s.estimators[req.ModelType]

	started := s.now()

	trainX, trainY, testX, testY := split(req.Samples, req.Labels, s.splitSeed)

	fitted, err := estimator.Fit(ctx, trainX, trainY)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.counted("cancelled")
			s.logger.InfoContext(ctx, "training run cancelled, active model unchanged", "model_type", req.ModelType)
			return nil, err
		}
		s.counted("failed")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "model training failed")
	}

	report := evaluate(fitted, testX, testY)
	report.ModelType = req.ModelType
	report.Samples = len(req.Samples)
	report.TrainSamples = len(trainX)
	report.TestSamples = len(testX)
	report.Importances = namedImportances(fitted.Importances())
	report.TrainedAt = started.UTC()
	report.TrainDuration = s.now().Sub(started)

	version := s.registry.Add(req.ModelType, fitted, report)
	if err := s.registry.Activate(version); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to activate trained model")
	}
	s.cache.Flush(ctx)

	s.counted("completed")
	if s.metrics != nil {
		s.metrics.TrainingDuration.Observe(report.TrainDuration.Seconds())
	}
	s.logger.InfoContext(ctx, "model trained and activated",
		"model_type", req.ModelType,
		"version", version,
		"samples", report.Samples,
		"f1", report.F1,
	)
	return report, nil
}

// ValidateTrainingRequest checks a dataset without running it, so callers
// queueing background training can reject bad input synchronously instead of
// failing later in the worker.
func (s *Service) ValidateTrainingRequest(req TrainRequest) error {
	return s.validateTrain(req)
}

func (s *Service) validateTrain(req TrainRequest) error {
	if _, ok := s.estimators[req.ModelType]; !ok {
		return dErrors.Newf(dErrors.CodeInvalidInput, "unknown model_type %q", req.ModelType)
	}
	if len(req.Samples) < minTrainingSamples {
		return dErrors.Newf(dErrors.CodeInvalidInput, "at least %d samples required, got %d", minTrainingSamples, len(req.Samples))
	}
	if len(req.Labels) != len(req.Samples) {
		return dErrors.Newf(dErrors.CodeInvalidInput, "got %d labels for %d samples", len(req.Labels), len(req.Samples))
	}
	var positives, negatives int
	for i, label := range req.Labels {
		if label != 0 && label != 1 {
			return dErrors.Newf(dErrors.CodeInvalidInput, "labels must be 0 or 1, got %d at index %d", label, i)
		}
		if label == 1 {
			positives++
		} else {
			negatives++
		}
	}
	if positives == 0 || negatives == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "training data must contain both failed and passing examples")
	}
	for i, row := range req.Samples {
		if len(row) != len(FeatureNames) {
			return dErrors.Newf(dErrors.CodeInvalidInput, "sample %d has %d features, want %d", i, len(row), len(FeatureNames))
		}
	}
	return nil
}

// Predict serves a risk assessment for one control from the active model.
func (s *Service) Predict(ctx context.Context, controlID id.ControlID) (*RiskAssessment, error) {
	active, err := s.registry.Active()
	if err != nil {
		return nil, dErrors.New(dErrors.CodeModelNotTrained, "no trained model is active; run training first")
	}

	if cached, ok := s.cache.Get(ctx, controlID, active.Version); ok {
		if s.metrics != nil {
			s.metrics.CacheHits.Inc()
		}
		return cached, nil
	}
	if s.metrics != nil {
		s.metrics.CacheMisses.Inc()
	}

	features, err := s.features.ControlFeatures(ctx, controlID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "control %s not found", controlID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load control features")
	}

	assessment := s.assess(active, features)
	s.cache.Set(ctx, assessment)
	if s.metrics != nil {
		s.metrics.PredictionsTotal.Inc()
	}
	return assessment, nil
}

// AtRiskControls ranks an engagement's controls by risk score descending
// and returns the top n with their dominant factor as a one-line summary.
func (s *Service) AtRiskControls(ctx context.Context, engagementID id.EngagementID, topN int) ([]ControlRiskSummary, error) {
	if topN < 1 {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "top_n must be at least 1, got %d", topN)
	}
	active, err := s.registry.Active()
	if err != nil {
		return nil, dErrors.New(dErrors.CodeModelNotTrained, "no trained model is active; run training first")
	}

	controls, err := s.features.EngagementControls(ctx, engagementID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load engagement controls")
	}

	summaries := make([]ControlRiskSummary, 0, len(controls))
	for i := range controls {
		assessment := s.assess(active, &controls[i])
		summary := ControlRiskSummary{
			ControlID:   controls[i].ControlID,
			ControlCode: controls[i].ControlCode,
			RiskScore:   assessment.RiskScore,
			RiskLevel:   assessment.RiskLevel,
		}
		if len(assessment.TopFactors) > 0 {
			top := assessment.TopFactors[0]
			summary.TopFactor = fmt.Sprintf("%s (importance %.2f, observed %.2f)", top.Name, top.Importance, top.Value)
		}
		summaries = append(summaries, summary)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].RiskScore > summaries[j].RiskScore
	})
	if len(summaries) > topN {
		summaries = summaries[:topN]
	}
	return summaries, nil
}

func (s *Service) assess(active *ModelVersion, features *ControlFeatures) *RiskAssessment {
	p := active.Fitted.PredictProba(features.Values)
	score := int(math.Round(p * 100))

	return &RiskAssessment{
		ControlID:          features.ControlID,
		ModelVersion:       active.Version,
		FailureProbability: p,
		RiskScore:          score,
		RiskLevel:          LevelForScore(score),
		ConfidenceInterval: interval(p, active.Report.TestSamples),
		TopFactors:         topFactors(active.Fitted.Importances(), features.Values, 3),
		Recommendations:    recommendations(active.Fitted.Importances(), features.Values),
		AssessedAt:         s.now().UTC(),
	}
}

func (s *Service) counted(outcome string) {
	if s.metrics != nil {
		s.metrics.TrainingsTotal.WithLabelValues(outcome).Inc()
	}
}

// interval is a normal-approximation bound around the predicted probability
// sized by the held-out sample the model was evaluated on.
func interval(p float64, testSamples int) ConfidenceInterval {
	if testSamples < 1 {
		testSamples = 1
	}
	margin := 1.96 * math.Sqrt(p*(1-p)/float64(testSamples))
	return ConfidenceInterval{
		Lower: math.Max(0, p-margin),
		Upper: math.Min(1, p+margin),
	}
}

// topFactors ranks features by importance times observed value.
func topFactors(importances, values []float64, n int) []Factor {
	factors := make([]Factor, len(FeatureNames))
	for i, name := range FeatureNames {
		factors[i] = Factor{
			Name:         name,
			Importance:   importances[i],
			Value:        values[i],
			Contribution: importances[i] * math.Abs(values[i]),
		}
	}
	sort.SliceStable(factors, func(i, j int) bool {
		return factors[i].Contribution > factors[j].Contribution
	})
	if len(factors) > n {
		factors = factors[:n]
	}
	return factors
}

// factorRecommendations maps each dominant factor to its remediation
// guidance. Keyed lookups keep the output deterministic and defensible.
var factorRecommendations = map[string][]string{
	"past_failure_rate":    {"review the control design for recurring failure causes", "increase testing frequency for this control"},
	"control_complexity":   {"decompose the control into simpler verifiable steps", "document the control procedure end to end"},
	"days_since_last_test": {"schedule testing for this control in the current period"},
	"change_frequency":     {"review recent changes to the control for unassessed impact"},
	"manual_intervention":  {"evaluate automating the control to reduce execution risk"},
	"prior_deviations":     {"verify remediation of prior deviations before relying on this control"},
}

func recommendations(importances, values []float64) []string {
	factors := topFactors(importances, values, 2)
	var out []string
	for _, f := range factors {
		if f.Contribution == 0 {
			continue
		}
		out = append(out, factorRecommendations[f.Name]...)
	}
	if len(out) == 0 {
		out = []string{"maintain the current testing cadence"}
	}
	return out
}

// split shuffles deterministically under seed and holds out 20% for
// evaluation, keeping at least one sample on each side.
func split(samples [][]float64, labels []int, seed int64) (trainX [][]float64, trainY []int, testX [][]float64, testY []int) {
	n := len(samples)
	perm := rand.New(rand.NewSource(seed)).Perm(n)

	testN := n / 5
	if testN < 1 {
		testN = 1
	}

	for i, idx := range perm {
		if i < testN {
			testX = append(testX, samples[idx])
			testY = append(testY, labels[idx])
		} else {
			trainX = append(trainX, samples[idx])
			trainY = append(trainY, labels[idx])
		}
	}
	return trainX, trainY, testX, testY
}

// evaluate computes the held-out classification metrics at a 0.5 threshold.
func evaluate(fitted Fitted, testX [][]float64, testY []int) *TrainingReport {
	var tp, tn, fp, fn float64
	for i, row := range testX {
		predicted := 0
		if fitted.PredictProba(row) >= 0.5 {
			predicted = 1
		}
		switch {
		case predicted == 1 && testY[i] == 1:
			tp++
		case predicted == 0 && testY[i] == 0:
			tn++
		case predicted == 1 && testY[i] == 0:
			fp++
		default:
			fn++
		}
	}

	report := &TrainingReport{}
	total := tp + tn + fp + fn
	if total > 0 {
		report.Accuracy = (tp + tn) / total
	}
	if tp+fp > 0 {
		report.Precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		report.Recall = tp / (tp + fn)
	}
	if report.Precision+report.Recall > 0 {
		report.F1 = 2 * report.Precision * report.Recall / (report.Precision + report.Recall)
	}
	return report
}

func namedImportances(importances []float64) map[string]float64 {
	out := make(map[string]float64, len(FeatureNames))
	for i, name := range FeatureNames {
		out[name] = importances[i]
	}
	return out
}
