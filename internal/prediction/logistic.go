package prediction

import (
	"context"
	"math"
)

// ModelTypeLogistic selects the logistic-regression estimator.
const ModelTypeLogistic = "logistic_regression"

// LogisticRegression is a binary classifier fit by full-batch gradient
// descent with L2 regularization over standardized features.
type LogisticRegression struct {
	LearningRate float64
	Epochs       int
	L2           float64
}

// NewLogisticRegression returns an estimator with defaults that converge on
// small audit datasets.
func NewLogisticRegression() *LogisticRegression {
	return &LogisticRegression{LearningRate: 0.1, Epochs: 500, L2: 0.01}
}

type fittedLogistic struct {
	weights     []float64
	bias        float64
	means       []float64
	stds        []float64
	importances []float64
}

// Fit trains the model. The context is checked once per epoch; cancellation
// abandons the run without a partial model.
func (lr *LogisticRegression) Fit(ctx context.Context, samples [][]float64, labels []int) (Fitted, error) {
	scaled, means, stds := standardize(samples)
	n := len(scaled)
	cols := len(scaled[0])

	weights := make([]float64, cols)
	var bias float64
	grad := make([]float64, cols)

	for epoch := 0; epoch < lr.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for j := range grad {
			grad[j] = 0
		}
		var biasGrad float64

		for i, row := range scaled {
			z := bias
			for j, v := range row {
				z += weights[j] * v
			}
			residual := sigmoid(z) - float64(labels[i])
			for j, v := range row {
				grad[j] += residual * v
			}
			biasGrad += residual
		}

		for j := range weights {
			weights[j] -= lr.LearningRate * (grad[j]/float64(n) + lr.L2*weights[j])
		}
		bias -= lr.LearningRate * biasGrad / float64(n)
	}

	abs := make([]float64, cols)
	for j, w := range weights {
		abs[j] = math.Abs(w)
	}

	return &fittedLogistic{
		weights:     weights,
		bias:        bias,
		means:       means,
		stds:        stds,
		importances: normalizeWeights(abs),
	}, nil
}

func (f *fittedLogistic) PredictProba(features []float64) float64 {
	z := f.bias
	for j, v := range features {
		if f.stds[j] > 0 {
			z += f.weights[j] * (v - f.means[j]) / f.stds[j]
		}
	}
	return sigmoid(z)
}

func (f *fittedLogistic) Importances() []float64 {
	return f.importances
}
