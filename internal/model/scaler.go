package model

import (
	"errors"
	"fmt"
	"math"
)

// StandardScaler standardizes each column to zero mean and unit variance.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitScaler computes per-column mean and population standard deviation.
// Columns with zero variance get a scale of 1 so they pass through centered.
func FitScaler(x [][]float64) (*StandardScaler, error) {
	if len(x) == 0 {
		return nil, errors.New("fit scaler: no rows")
	}
	cols := len(x[0])
	mean := make([]float64, cols)
	for _, row := range x {
		if len(row) != cols {
			return nil, fmt.Errorf("fit scaler: ragged row of width %d, want %d", len(row), cols)
		}
		for j, v := range row {
			mean[j] += v
		}
	}
	n := float64(len(x))
	for j := range mean {
		mean[j] /= n
	}
	scale := make([]float64, cols)
	for _, row := range x {
		for j, v := range row {
			d := v - mean[j]
			scale[j] += d * d
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / n)
		if scale[j] == 0 {
			scale[j] = 1
		}
	}
	return &StandardScaler{Mean: mean, Scale: scale}, nil
}

// FitColumnScaler fits a single-column scaler on a target vector.
func FitColumnScaler(y []float64) (*StandardScaler, error) {
	return FitScaler(Column(y))
}

// Width is the number of columns the scaler was fit on.
func (s *StandardScaler) Width() int { return len(s.Mean) }

// Transform returns a standardized copy of x.
func (s *StandardScaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.Mean) {
		return nil, fmt.Errorf("scaler expects %d features, got %d", len(s.Mean), len(x))
	}
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out, nil
}

// TransformAll standardizes every row.
func (s *StandardScaler) TransformAll(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i, row := range x {
		t, err := s.Transform(row)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

// InverseValue maps a standardized single-column value back to original units.
func (s *StandardScaler) InverseValue(v float64) (float64, error) {
	if len(s.Mean) != 1 {
		return 0, fmt.Errorf("inverse of a single value needs a 1-column scaler, have %d", len(s.Mean))
	}
	return v*s.Scale[0] + s.Mean[0], nil
}

// TransformValue standardizes a single-column value.
func (s *StandardScaler) TransformValue(v float64) (float64, error) {
	if len(s.Mean) != 1 {
		return 0, fmt.Errorf("single value transform needs a 1-column scaler, have %d", len(s.Mean))
	}
	return (v - s.Mean[0]) / s.Scale[0], nil
}

func (s *StandardScaler) validate(inputs int) error {
	if len(s.Mean) == 0 || len(s.Mean) != len(s.Scale) {
		return errors.New("scaler mean and scale are empty or mismatched")
	}
	if len(s.Mean) != inputs {
		return fmt.Errorf("scaler has %d columns, envelope declares %d", len(s.Mean), inputs)
	}
	if !finite(s.Mean) {
		return errors.New("scaler has a non-finite mean")
	}
	for _, v := range s.Scale {
		if v == 0 || math.IsNaN(v) {
			return errors.New("scaler has a zero or NaN scale")
		}
	}
	return nil
}

// Column turns a vector into an n x 1 matrix.
func Column(y []float64) [][]float64 {
	out := make([][]float64, len(y))
	for i, v := range y {
		out[i] = []float64{v}
	}
	return out
}
