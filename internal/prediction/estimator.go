package prediction

import (
	"context"
	"math"
)

// Estimator fits a binary classifier. Implementations must honor context
// cancellation between training epochs so a background run can be stopped
// without corrupting the active model.
type Estimator interface {
	Fit(ctx context.Context, samples [][]float64, labels []int) (Fitted, error)
}

// Fitted is a trained classifier. PredictProba is read-only and safe for
// concurrent use.
type Fitted interface {
	// PredictProba returns the failure probability in [0,1].
	PredictProba(features []float64) float64
	// Importances returns one non-negative weight per feature, summing to 1.
	Importances() []float64
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// standardize computes per-column mean and standard deviation and returns
// the scaled matrix. Columns with zero variance scale to zero.
func standardize(samples [][]float64) (scaled [][]float64, means, stds []float64) {
	n := len(samples)
	cols := len(samples[0])
	means = make([]float64, cols)
	stds = make([]float64, cols)

	for _, row := range samples {
		for j, v := range row {
			means[j] += v
		}
	}
	for j := range means {
		means[j] /= float64(n)
	}
	for _, row := range samples {
		for j, v := range row {
			d := v - means[j]
			stds[j] += d * d
		}
	}
	for j := range stds {
		stds[j] = math.Sqrt(stds[j] / float64(n))
	}

	scaled = make([][]float64, n)
	for i, row := range samples {
		scaled[i] = make([]float64, cols)
		for j, v := range row {
			if stds[j] > 0 {
				scaled[i][j] = (v - means[j]) / stds[j]
			}
		}
	}
	return scaled, means, stds
}

// normalizeWeights converts arbitrary non-negative weights into a
// distribution summing to 1. All-zero weights become uniform.
func normalizeWeights(weights []float64) []float64 {
	out := make([]float64, len(weights))
	var total float64
	for _, w := range weights {
		total += w
	}
	if total == 0 {
		for i := range out {
			out[i] = 1 / float64(len(out))
		}
		return out
	}
	for i, w := range weights {
		out[i] = w / total
	}
	return out
}
