package model

import (
	"errors"
	"fmt"
	"math"
)

// LassoConfig controls coordinate descent.
type LassoConfig struct {
	Alpha     float64
	MaxIter   int
	Tolerance float64
}

// DefaultLassoConfig uses alpha 0.1.
func DefaultLassoConfig() LassoConfig {
	return LassoConfig{Alpha: 0.1, MaxIter: 1000, Tolerance: 1e-4}
}

// Lasso is an L1-regularized linear regressor, the linear baseline variant.
type Lasso struct {
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
}

// FitLasso minimizes (1/2n)||y - Xw - b||^2 + alpha*||w||_1 by cyclic
// coordinate descent. The intercept is fit by centering.
func FitLasso(x [][]float64, y []float64, cfg LassoConfig) (*Lasso, error) {
	if len(x) == 0 || len(x) != len(y) {
		return nil, fmt.Errorf("fit lasso: %d rows, %d targets", len(x), len(y))
	}
	n := len(x)
	cols := len(x[0])

	xMean := make([]float64, cols)
	var yMean float64
	for i, row := range x {
		for j, v := range row {
			xMean[j] += v
		}
		yMean += y[i]
	}
	for j := range xMean {
		xMean[j] /= float64(n)
	}
	yMean /= float64(n)

	// Column-major centered copy.
	xc := make([][]float64, cols)
	norms := make([]float64, cols)
	for j := 0; j < cols; j++ {
		xc[j] = make([]float64, n)
		for i := 0; i < n; i++ {
			v := x[i][j] - xMean[j]
			xc[j][i] = v
			norms[j] += v * v
		}
		norms[j] /= float64(n)
	}
	resid := make([]float64, n)
	for i := range y {
		resid[i] = y[i] - yMean
	}

	w := make([]float64, cols)
	for iter := 0; iter < cfg.MaxIter; iter++ {
		var maxDelta float64
		for j := 0; j < cols; j++ {
			if norms[j] == 0 {
				continue
			}
			old := w[j]
			var rho float64
			for i := 0; i < n; i++ {
				rho += xc[j][i] * (resid[i] + old*xc[j][i])
			}
			rho /= float64(n)
			w[j] = softThreshold(rho, cfg.Alpha) / norms[j]
			if d := w[j] - old; d != 0 {
				for i := 0; i < n; i++ {
					resid[i] -= d * xc[j][i]
				}
				maxDelta = math.Max(maxDelta, math.Abs(d))
			}
		}
		if maxDelta < cfg.Tolerance {
			break
		}
	}

	intercept := yMean
	for j := range w {
		intercept -= w[j] * xMean[j]
	}
	return &Lasso{Coef: w, Intercept: intercept}, nil
}

// Predict returns the regression output for one row.
func (m *Lasso) Predict(x []float64) (float64, error) {
	if len(x) != len(m.Coef) {
		return 0, fmt.Errorf("lasso expects %d features, got %d", len(m.Coef), len(x))
	}
	out := m.Intercept
	for j, v := range x {
		out += m.Coef[j] * v
	}
	return out, nil
}

func (m *Lasso) validate(inputs int) error {
	if len(m.Coef) == 0 {
		return errors.New("lasso has no coefficients")
	}
	if len(m.Coef) != inputs {
		return fmt.Errorf("lasso has %d coefficients, envelope declares %d features", len(m.Coef), inputs)
	}
	if !finite(m.Coef) || !finite([]float64{m.Intercept}) {
		return errors.New("lasso has non-finite coefficients")
	}
	return nil
}

func softThreshold(v, lambda float64) float64 {
	switch {
	case v > lambda:
		return v - lambda
	case v < -lambda:
		return v + lambda
	default:
		return 0
	}
}
