package model

import (
	"errors"
	"fmt"
	"math"
)

// LogisticConfig controls classifier training.
type LogisticConfig struct {
	LearningRate float64
	Iterations   int
	L2           float64
}

// DefaultLogisticConfig is tuned for standardized inputs.
func DefaultLogisticConfig() LogisticConfig {
	return LogisticConfig{LearningRate: 0.1, Iterations: 500, L2: 1e-4}
}

// LogisticRegression is a binary presence classifier.
type LogisticRegression struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// FitLogistic trains with full-batch gradient descent on labels in {0, 1}.
func FitLogistic(x [][]float64, y []float64, cfg LogisticConfig) (*LogisticRegression, error) {
	if len(x) == 0 || len(x) != len(y) {
		return nil, fmt.Errorf("fit logistic: %d rows, %d labels", len(x), len(y))
	}
	cols := len(x[0])
	m := &LogisticRegression{Weights: make([]float64, cols)}
	grad := make([]float64, cols)
	n := float64(len(x))

	for it := 0; it < cfg.Iterations; it++ {
		for j := range grad {
			grad[j] = 0
		}
		var gradB float64
		for i, row := range x {
			diff := sigmoid(m.logit(row)) - y[i]
			for j, v := range row {
				grad[j] += diff * v
			}
			gradB += diff
		}
		for j := range m.Weights {
			m.Weights[j] -= cfg.LearningRate * (grad[j]/n + cfg.L2*m.Weights[j])
		}
		m.Bias -= cfg.LearningRate * gradB / n
	}
	return m, nil
}

// PredictProba returns the probability that a cell is present.
func (m *LogisticRegression) PredictProba(x []float64) (float64, error) {
	if len(x) != len(m.Weights) {
		return 0, fmt.Errorf("classifier expects %d features, got %d", len(m.Weights), len(x))
	}
	return sigmoid(m.logit(x)), nil
}

func (m *LogisticRegression) logit(x []float64) float64 {
	z := m.Bias
	for j, v := range x {
		z += m.Weights[j] * v
	}
	return z
}

func (m *LogisticRegression) validate(inputs int) error {
	if len(m.Weights) == 0 {
		return errors.New("classifier has no weights")
	}
	if len(m.Weights) != inputs {
		return fmt.Errorf("classifier has %d weights, envelope declares %d features", len(m.Weights), inputs)
	}
	if !finite(m.Weights) || !finite([]float64{m.Bias}) {
		return errors.New("classifier has non-finite weights")
	}
	return nil
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
