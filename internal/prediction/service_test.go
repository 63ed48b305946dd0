package prediction_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veritas/internal/prediction"
	"veritas/internal/prediction/store"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
)

// riskyFeatures describes a control with a poor history: high failure rate,
// complex, long-untested, manual, repeat deviations.
func riskyFeatures() []float64 { return []float64{0.8, 8, 300, 12, 1, 5} }

// cleanFeatures describes a reliable automated control tested recently.
func cleanFeatures() []float64 { return []float64{0.02, 2, 15, 1, 0, 0} }

// dataset builds a separable training set by jittering the two prototypes.
func dataset(n int) ([][]float64, []int) {
	var samples [][]float64
	var labels []int
	for i := 0; i < n; i++ {
		jitter := float64(i%5) / 10
		risky := riskyFeatures()
		risky[0] -= jitter / 10
		risky[2] -= jitter * 20
		samples = append(samples, risky)
		labels = append(labels, 1)

		clean := cleanFeatures()
		clean[0] += jitter / 20
		clean[2] += jitter * 10
		samples = append(samples, clean)
		labels = append(labels, 0)
	}
	return samples, labels
}

func newService(features prediction.FeatureStore) *prediction.Service {
	return prediction.NewService(prediction.NewRegistry(), features,
		prediction.WithSplitSeed(42),
		prediction.WithClock(func() time.Time {
			return time.Date(2026, time.April, 2, 9, 0, 0, 0, time.UTC)
		}),
	)
}

func trainOn(t *testing.T, svc *prediction.Service, modelType string) *prediction.TrainingReport {
	t.Helper()
	samples, labels := dataset(30)
	report, err := svc.Train(context.Background(), prediction.TrainRequest{
		ModelType: modelType,
		Samples:   samples,
		Labels:    labels,
	})
	require.NoError(t, err)
	return report
}

func TestTrain(t *testing.T) {
	ctx := context.Background()

	for _, modelType := range []string{prediction.ModelTypeLogistic, prediction.ModelTypeBoostedStumps} {
		t.Run(modelType+" separates the classes", func(t *testing.T) {
			svc := newService(store.NewInMemoryFeatureStore())
			report := trainOn(t, svc, modelType)

			assert.Equal(t, 1, report.Version)
			assert.Equal(t, 60, report.Samples)
			assert.Equal(t, report.Samples, report.TrainSamples+report.TestSamples)
			assert.GreaterOrEqual(t, report.Accuracy, 0.9, "dataset is cleanly separable")
			assert.GreaterOrEqual(t, report.F1, 0.9)
			assert.Len(t, report.Importances, len(prediction.FeatureNames))

			var totalImportance float64
			for _, v := range report.Importances {
				assert.GreaterOrEqual(t, v, 0.0)
				totalImportance += v
			}
			assert.InDelta(t, 1.0, totalImportance, 0.001)
		})
	}

	t.Run("each run gets a fresh version", func(t *testing.T) {
		svc := newService(store.NewInMemoryFeatureStore())
		first := trainOn(t, svc, prediction.ModelTypeLogistic)
		second := trainOn(t, svc, prediction.ModelTypeBoostedStumps)
		assert.Equal(t, first.Version+1, second.Version)
	})

	t.Run("rejects bad datasets", func(t *testing.T) {
		svc := newService(store.NewInMemoryFeatureStore())
		samples, labels := dataset(30)

		cases := map[string]prediction.TrainRequest{
			"unknown model type": {ModelType: "random_forest", Samples: samples, Labels: labels},
			"too few samples":    {ModelType: prediction.ModelTypeLogistic, Samples: samples[:4], Labels: labels[:4]},
			"label mismatch":     {ModelType: prediction.ModelTypeLogistic, Samples: samples, Labels: labels[:10]},
			"single class": {
				ModelType: prediction.ModelTypeLogistic,
				Samples:   samples[:20],
				Labels:    make([]int, 20),
			},
		}
		for name, req := range cases {
			_, err := svc.Train(ctx, req)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput), name)
		}
	})

	t.Run("cancellation leaves the active model untouched", func(t *testing.T) {
		features := store.NewInMemoryFeatureStore()
		svc := newService(features)
		trainOn(t, svc, prediction.ModelTypeLogistic)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		samples, labels := dataset(30)
		_, err := svc.Train(cancelled, prediction.TrainRequest{
			ModelType: prediction.ModelTypeLogistic,
			Samples:   samples,
			Labels:    labels,
		})
		require.ErrorIs(t, err, context.Canceled)

		// The first trained version still serves.
		controlID := id.NewControlID()
		features.Put(prediction.ControlFeatures{
			ControlID: controlID, EngagementID: id.NewEngagementID(), ControlCode: "AC-01", Values: cleanFeatures(),
		})
		assessment, err := svc.Predict(ctx, controlID)
		require.NoError(t, err)
		assert.Equal(t, 1, assessment.ModelVersion)
	})
}

func TestPredict(t *testing.T) {
	ctx := context.Background()

	t.Run("requires a trained model", func(t *testing.T) {
		svc := newService(store.NewInMemoryFeatureStore())
		_, err := svc.Predict(ctx, id.NewControlID())
		assert.True(t, dErrors.HasCode(err, dErrors.CodeModelNotTrained))
	})

	t.Run("scores a risky control high and a clean control low", func(t *testing.T) {
		features := store.NewInMemoryFeatureStore()
		svc := newService(features)
		trainOn(t, svc, prediction.ModelTypeLogistic)

		engagementID := id.NewEngagementID()
		riskyID, cleanID := id.NewControlID(), id.NewControlID()
		features.Put(prediction.ControlFeatures{
			ControlID: riskyID, EngagementID: engagementID, ControlCode: "AC-01", Values: riskyFeatures(),
		})
		features.Put(prediction.ControlFeatures{
			ControlID: cleanID, EngagementID: engagementID, ControlCode: "AC-02", Values: cleanFeatures(),
		})

		risky, err := svc.Predict(ctx, riskyID)
		require.NoError(t, err)
		clean, err := svc.Predict(ctx, cleanID)
		require.NoError(t, err)

		assert.Greater(t, risky.RiskScore, clean.RiskScore)
		assert.GreaterOrEqual(t, risky.RiskScore, 85)
		assert.Equal(t, prediction.RiskCritical, risky.RiskLevel)
		assert.Equal(t, prediction.RiskLow, clean.RiskLevel)

		assert.GreaterOrEqual(t, risky.FailureProbability, 0.0)
		assert.LessOrEqual(t, risky.FailureProbability, 1.0)
		assert.LessOrEqual(t, risky.ConfidenceInterval.Lower, risky.FailureProbability)
		assert.GreaterOrEqual(t, risky.ConfidenceInterval.Upper, risky.FailureProbability)

		require.Len(t, risky.TopFactors, 3)
		assert.GreaterOrEqual(t, risky.TopFactors[0].Contribution, risky.TopFactors[1].Contribution)
		assert.NotEmpty(t, risky.Recommendations)
	})

	t.Run("unknown control is 404", func(t *testing.T) {
		svc := newService(store.NewInMemoryFeatureStore())
		trainOn(t, svc, prediction.ModelTypeLogistic)
		_, err := svc.Predict(ctx, id.NewControlID())
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	t.Run("risk level buckets follow the fixed thresholds", func(t *testing.T) {
		assert.Equal(t, prediction.RiskLow, prediction.LevelForScore(0))
		assert.Equal(t, prediction.RiskLow, prediction.LevelForScore(39))
		assert.Equal(t, prediction.RiskMedium, prediction.LevelForScore(40))
		assert.Equal(t, prediction.RiskMedium, prediction.LevelForScore(69))
		assert.Equal(t, prediction.RiskHigh, prediction.LevelForScore(70))
		assert.Equal(t, prediction.RiskHigh, prediction.LevelForScore(84))
		assert.Equal(t, prediction.RiskCritical, prediction.LevelForScore(85))
		assert.Equal(t, prediction.RiskCritical, prediction.LevelForScore(100))
	})
}

func TestAtRiskControls(t *testing.T) {
	ctx := context.Background()

	features := store.NewInMemoryFeatureStore()
	svc := newService(features)
	trainOn(t, svc, prediction.ModelTypeBoostedStumps)

	engagementID := id.NewEngagementID()
	features.Put(prediction.ControlFeatures{
		ControlID: id.NewControlID(), EngagementID: engagementID, ControlCode: "AC-01", Values: cleanFeatures(),
	})
	features.Put(prediction.ControlFeatures{
		ControlID: id.NewControlID(), EngagementID: engagementID, ControlCode: "AC-02", Values: riskyFeatures(),
	})
	features.Put(prediction.ControlFeatures{
		ControlID: id.NewControlID(), EngagementID: engagementID, ControlCode: "AC-03",
		Values: []float64{0.3, 5, 120, 4, 1, 1},
	})

	t.Run("ranks by risk score descending", func(t *testing.T) {
		summaries, err := svc.AtRiskControls(ctx, engagementID, 10)
		require.NoError(t, err)
		require.Len(t, summaries, 3)

		assert.Equal(t, "AC-02", summaries[0].ControlCode)
		for i := 1; i < len(summaries); i++ {
			assert.GreaterOrEqual(t, summaries[i-1].RiskScore, summaries[i].RiskScore)
		}
		assert.NotEmpty(t, summaries[0].TopFactor)
	})

	t.Run("caps at top_n", func(t *testing.T) {
		summaries, err := svc.AtRiskControls(ctx, engagementID, 2)
		require.NoError(t, err)
		assert.Len(t, summaries, 2)
	})

	t.Run("rejects non-positive top_n", func(t *testing.T) {
		_, err := svc.AtRiskControls(ctx, engagementID, 0)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("empty engagement yields an empty ranking", func(t *testing.T) {
		summaries, err := svc.AtRiskControls(ctx, id.NewEngagementID(), 5)
		require.NoError(t, err)
		assert.Empty(t, summaries)
	})
}

// fakeCache is an in-process AssessmentCache recording flushes, so caching
// behavior is testable without Redis.
type fakeCache struct {
	entries map[string]*prediction.RiskAssessment
	flushes int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]*prediction.RiskAssessment{}}
}

func cacheKey(controlID id.ControlID, version int) string {
	return fmt.Sprintf("v%d:%s", version, controlID)
}

func (c *fakeCache) Get(_ context.Context, controlID id.ControlID, version int) (*prediction.RiskAssessment, bool) {
	a, ok := c.entries[cacheKey(controlID, version)]
	return a, ok
}

func (c *fakeCache) Set(_ context.Context, a *prediction.RiskAssessment) {
	c.entries[cacheKey(a.ControlID, a.ModelVersion)] = a
}

func (c *fakeCache) Flush(context.Context) {
	c.flushes++
	c.entries = map[string]*prediction.RiskAssessment{}
}

func TestPredictCaching(t *testing.T) {
	ctx := context.Background()
	features := store.NewInMemoryFeatureStore()
	cached := newFakeCache()
	svc := prediction.NewService(prediction.NewRegistry(), features,
		prediction.WithSplitSeed(42),
		prediction.WithCache(cached),
	)
	trainOn(t, svc, prediction.ModelTypeLogistic)
	assert.Equal(t, 1, cached.flushes, "activation flushes the previous generation")

	controlID := id.NewControlID()
	features.Put(prediction.ControlFeatures{
		ControlID: controlID, EngagementID: id.NewEngagementID(), ControlCode: "AC-01", Values: riskyFeatures(),
	})

	first, err := svc.Predict(ctx, controlID)
	require.NoError(t, err)
	require.Len(t, cached.entries, 1)

	second, err := svc.Predict(ctx, controlID)
	require.NoError(t, err)
	assert.Same(t, first, second, "repeat prediction is served from the cache")

	trainOn(t, svc, prediction.ModelTypeLogistic)
	assert.Equal(t, 2, cached.flushes)
	assert.Empty(t, cached.entries)
}

// countingEstimator wraps a real estimator to show training ran through it.
type countingEstimator struct {
	inner prediction.Estimator
	fits  int
}

func (c *countingEstimator) Fit(ctx context.Context, samples [][]float64, labels []int) (prediction.Fitted, error) {
	c.fits++
	return c.inner.Fit(ctx, samples, labels)
}

func TestWithEstimatorOverridesBuiltIn(t *testing.T) {
	// Deployment tunes the logistic epoch count and registers the tuned
	// estimator under the built-in model type; training must run through it.
	tuned := prediction.NewLogisticRegression()
	tuned.Epochs = 50
	counting := &countingEstimator{inner: tuned}

	svc := prediction.NewService(prediction.NewRegistry(), store.NewInMemoryFeatureStore(),
		prediction.WithSplitSeed(42),
		prediction.WithEstimator(prediction.ModelTypeLogistic, counting),
	)
	report := trainOn(t, svc, prediction.ModelTypeLogistic)

	assert.Equal(t, 1, counting.fits)
	assert.GreaterOrEqual(t, report.Accuracy, 0.9, "a tuned epoch count still separates the classes")
}
