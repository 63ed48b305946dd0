package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the risk prediction model.
type Metrics struct {
	TrainingsTotal   *prometheus.CounterVec
	TrainingDuration prometheus.Histogram
	PredictionsTotal prometheus.Counter
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
}

// New creates and registers the prediction metrics.
func New() *Metrics {
	return &Metrics{
		TrainingsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veritas_prediction_trainings_total",
			Help: "Training runs by outcome",
		}, []string{"outcome"}),
		TrainingDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "veritas_prediction_training_duration_seconds",
			Help:    "Wall time of completed training runs",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		PredictionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veritas_prediction_predictions_total",
			Help: "Total risk assessments served",
		}),
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veritas_prediction_cache_hits_total",
			Help: "Assessments served from the cache",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veritas_prediction_cache_misses_total",
			Help: "Assessments computed on a cache miss",
		}),
	}
}
