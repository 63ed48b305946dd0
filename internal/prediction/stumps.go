package prediction

import (
	"context"
	"math"
	"sort"
)

// ModelTypeBoostedStumps selects the gradient-boosted tree-stump ensemble.
const ModelTypeBoostedStumps = "gradient_boosted_stumps"

// GradientBoostedStumps fits an additive ensemble of depth-1 regression
// trees to the log-loss gradient. Each round greedily picks the single
// feature/threshold split that best explains the current pseudo-residuals.
type GradientBoostedStumps struct {
	Rounds       int
	LearningRate float64
}

// NewGradientBoostedStumps returns an estimator with defaults suited to
// small tabular datasets.
func NewGradientBoostedStumps() *GradientBoostedStumps {
	return &GradientBoostedStumps{Rounds: 100, LearningRate: 0.1}
}

type stump struct {
	feature    int
	threshold  float64
	leftValue  float64 // score added when feature <= threshold
	rightValue float64
}

type fittedStumps struct {
	baseScore   float64
	stumps      []stump
	rate        float64
	importances []float64
}

// Fit trains the ensemble. The context is checked once per boosting round.
func (gb *GradientBoostedStumps) Fit(ctx context.Context, samples [][]float64, labels []int) (Fitted, error) {
	n := len(samples)
	cols := len(samples[0])

	var positives float64
	for _, y := range labels {
		positives += float64(y)
	}
	prior := positives / float64(n)
	prior = math.Min(math.Max(prior, 1e-6), 1-1e-6)
	base := math.Log(prior / (1 - prior))

	scores := make([]float64, n)
	for i := range scores {
		scores[i] = base
	}

	stumps := make([]stump, 0, gb.Rounds)
	gains := make([]float64, cols)
	residuals := make([]float64, n)

	for round := 0; round < gb.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for i := range residuals {
			residuals[i] = float64(labels[i]) - sigmoid(scores[i])
		}

		best, gain, ok := bestStump(samples, residuals)
		if !ok {
			break
		}
		gains[best.feature] += gain
		stumps = append(stumps, best)

		for i, row := range samples {
			if row[best.feature] <= best.threshold {
				scores[i] += gb.LearningRate * best.leftValue
			} else {
				scores[i] += gb.LearningRate * best.rightValue
			}
		}
	}

	return &fittedStumps{
		baseScore:   base,
		stumps:      stumps,
		rate:        gb.LearningRate,
		importances: normalizeWeights(gains),
	}, nil
}

// bestStump scans every feature's candidate thresholds (midpoints of sorted
// distinct values) for the split minimizing squared residual error.
func bestStump(samples [][]float64, residuals []float64) (stump, float64, bool) {
	n := len(samples)
	cols := len(samples[0])

	var total float64
	for _, r := range residuals {
		total += r * r
	}

	var best stump
	bestGain := 0.0
	found := false

	values := make([]float64, n)
	for j := 0; j < cols; j++ {
		for i, row := range samples {
			values[i] = row[j]
		}
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)

		for k := 0; k < n-1; k++ {
			if sorted[k] == sorted[k+1] {
				continue
			}
			threshold := (sorted[k] + sorted[k+1]) / 2

			var leftSum, rightSum float64
			var leftN, rightN int
			for i, v := range values {
				if v <= threshold {
					leftSum += residuals[i]
					leftN++
				} else {
					rightSum += residuals[i]
					rightN++
				}
			}
			if leftN == 0 || rightN == 0 {
				continue
			}

			leftMean := leftSum / float64(leftN)
			rightMean := rightSum / float64(rightN)

			var sse float64
			for i, v := range values {
				var fit float64
				if v <= threshold {
					fit = leftMean
				} else {
					fit = rightMean
				}
				d := residuals[i] - fit
				sse += d * d
			}

			if gain := total - sse; gain > bestGain {
				bestGain = gain
				best = stump{feature: j, threshold: threshold, leftValue: leftMean * 4, rightValue: rightMean * 4}
				found = true
			}
		}
	}
	return best, bestGain, found
}

func (f *fittedStumps) PredictProba(features []float64) float64 {
	score := f.baseScore
	for _, s := range f.stumps {
		if features[s.feature] <= s.threshold {
			score += f.rate * s.leftValue
		} else {
			score += f.rate * s.rightValue
		}
	}
	return sigmoid(score)
}

func (f *fittedStumps) Importances() []float64 {
	return f.importances
}
