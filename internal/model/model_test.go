package model

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFitScaler(t *testing.T) {
	s, err := FitScaler([][]float64{{1, 10}, {3, 10}, {5, 10}})
	require.NoError(t, err)

	assert.InDeltaSlice(t, []float64{3, 10}, s.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(8.0/3.0), s.Scale[0], 1e-12)
	assert.Equal(t, 1.0, s.Scale[1], "zero variance column keeps unit scale")

	out, err := s.Transform([]float64{3, 10})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0}, out, 1e-12)

	_, err = s.Transform([]float64{1})
	require.Error(t, err)

	_, err = FitScaler(nil)
	require.Error(t, err)
	_, err = FitScaler([][]float64{{1, 2}, {3}})
	require.Error(t, err)
}

func TestColumnScaler_RoundTrip(t *testing.T) {
	s := &StandardScaler{Mean: []float64{20}, Scale: []float64{5}}

	scaled, err := s.TransformValue(45)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, scaled, 1e-12)

	back, err := s.InverseValue(scaled)
	require.NoError(t, err)
	assert.InDelta(t, 45.0, back, 1e-12)

	wide := &StandardScaler{Mean: []float64{1, 2}, Scale: []float64{1, 1}}
	_, err = wide.InverseValue(1)
	require.Error(t, err)
}

func TestFitLogistic_SeparatesClasses(t *testing.T) {
	x := [][]float64{{-2}, {-1.5}, {-1}, {-0.5}, {0.5}, {1}, {1.5}, {2}}
	y := []float64{0, 0, 0, 0, 1, 1, 1, 1}

	m, err := FitLogistic(x, y, DefaultLogisticConfig())
	require.NoError(t, err)

	low, err := m.PredictProba([]float64{-2})
	require.NoError(t, err)
	high, err := m.PredictProba([]float64{2})
	require.NoError(t, err)
	assert.Less(t, low, 0.5)
	assert.Greater(t, high, 0.5)

	_, err = m.PredictProba([]float64{1, 2})
	require.Error(t, err)
}

func linearData(n int, seed uint64) ([][]float64, []float64) {
	rng := rand.New(rand.NewPCG(seed, seed))
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := range x {
		a, b, c := rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()
		x[i] = []float64{a, b, c}
		y[i] = 3*a - 2*b + 1
	}
	return x, y
}

func TestFitLasso_RecoversSparseWeights(t *testing.T) {
	x, y := linearData(200, 7)

	m, err := FitLasso(x, y, LassoConfig{Alpha: 0.01, MaxIter: 1000, Tolerance: 1e-6})
	require.NoError(t, err)

	assert.InDelta(t, 3.0, m.Coef[0], 0.05)
	assert.InDelta(t, -2.0, m.Coef[1], 0.05)
	assert.InDelta(t, 0.0, m.Coef[2], 0.05)
	assert.InDelta(t, 1.0, m.Intercept, 0.05)

	// Strong regularization drives every coefficient to zero.
	flat, err := FitLasso(x, y, LassoConfig{Alpha: 100, MaxIter: 100, Tolerance: 1e-6})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, flat.Coef)
}

func TestFitMLP_LearnsLinearTarget(t *testing.T) {
	x, y := linearData(128, 11)
	cfg := MLPConfig{Hidden: []int{8}, LearningRate: 0.01, Epochs: 150, BatchSize: 16, Seed: 42}

	m, err := FitMLP(x, y, cfg)
	require.NoError(t, err)
	require.NoError(t, m.validate(len(x[0])))

	var sse float64
	for i := range x {
		p, err := m.Predict(x[i])
		require.NoError(t, err)
		sse += (p - y[i]) * (p - y[i])
	}
	rmse := math.Sqrt(sse / float64(len(x)))
	assert.Less(t, rmse, 1.0)

	again, err := FitMLP(x, y, cfg)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(m, again), "same seed gives the same network")
}

func TestEnvelope(t *testing.T) {
	key := domain.NewModelKey(domain.CategoryCC, domain.Horizon30, domain.RoleRegressorTop10)
	features := domain.RegressorFeatures()
	lasso := &Lasso{Coef: make([]float64, len(features)), Intercept: 2}

	data, err := Encode(KindLasso, key, features, lasso)
	require.NoError(t, err)

	t.Run("round trip", func(t *testing.T) {
		var got Lasso
		env, err := Decode(data, KindLasso, key, features, &got)
		require.NoError(t, err)
		assert.Equal(t, key.String(), env.Key)
		assert.Empty(t, cmp.Diff(*lasso, got, cmpopts.EquateEmpty()))
	})

	t.Run("key mismatch", func(t *testing.T) {
		other := domain.NewModelKey(domain.CategoryMSL, domain.Horizon30, domain.RoleRegressorTop10)
		var got Lasso
		_, err := Decode(data, KindLasso, other, features, &got)
		require.Error(t, err)
	})

	t.Run("feature order mismatch", func(t *testing.T) {
		swapped := append([]string(nil), features...)
		swapped[0], swapped[1] = swapped[1], swapped[0]
		var got Lasso
		_, err := Decode(data, KindLasso, key, swapped, &got)
		require.Error(t, err)
	})

	t.Run("kind mismatch", func(t *testing.T) {
		var got MLP
		_, err := Decode(data, KindMLP, key, features, &got)
		require.Error(t, err)
	})

	t.Run("corrupt bytes", func(t *testing.T) {
		var got Lasso
		_, err := Decode([]byte("{not json"), KindLasso, key, features, &got)
		require.Error(t, err)
	})

	t.Run("empty payload fails validation", func(t *testing.T) {
		empty, err := Encode(KindLasso, key, features, &Lasso{})
		require.NoError(t, err)
		var got Lasso
		_, err = Decode(empty, KindLasso, key, features, &got)
		require.Error(t, err)
	})
}

func TestValidate_DeclaredWidth(t *testing.T) {
	ones := func(n int) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = 1
		}
		return out
	}
	tests := []struct {
		name    string
		v       validator
		wantErr bool
	}{
		{"scaler ok", &StandardScaler{Mean: ones(3), Scale: ones(3)}, false},
		{"scaler too narrow", &StandardScaler{Mean: ones(2), Scale: ones(2)}, true},
		{"classifier ok", &LogisticRegression{Weights: ones(3)}, false},
		{"classifier too wide", &LogisticRegression{Weights: ones(4)}, true},
		{"classifier infinite bias", &LogisticRegression{Weights: ones(3), Bias: math.Inf(1)}, true},
		{"lasso ok", &Lasso{Coef: ones(3)}, false},
		{"lasso too narrow", &Lasso{Coef: ones(2)}, true},
		{"lasso NaN coefficient", &Lasso{Coef: []float64{1, math.NaN(), 1}}, true},
		{"mlp ok", &MLP{Layers: []Layer{
			{W: [][]float64{ones(3), ones(3)}, B: ones(2)},
			{W: [][]float64{ones(2)}, B: ones(1)},
		}}, false},
		{"mlp ragged first layer", &MLP{Layers: []Layer{
			{W: [][]float64{ones(3), ones(4)}, B: ones(2)},
			{W: [][]float64{ones(2)}, B: ones(1)},
		}}, true},
		{"mlp first layer too wide", &MLP{Layers: []Layer{
			{W: [][]float64{ones(4), ones(4)}, B: ones(2)},
			{W: [][]float64{ones(2)}, B: ones(1)},
		}}, true},
		{"mlp ragged hidden layer", &MLP{Layers: []Layer{
			{W: [][]float64{ones(3), ones(3)}, B: ones(2)},
			{W: [][]float64{ones(1)}, B: ones(1)},
		}}, true},
		{"mlp infinite weight", &MLP{Layers: []Layer{
			{W: [][]float64{ones(3), {1, math.Inf(-1), 1}}, B: ones(2)},
			{W: [][]float64{ones(2)}, B: ones(1)},
		}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.v.validate(3)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDecode_RejectsWidthMismatch(t *testing.T) {
	key := domain.NewModelKey(domain.CategoryCC, domain.Horizon30, domain.RoleRegressorTop10)
	features := domain.RegressorFeatures()
	data, err := Encode(KindLasso, key, features, &Lasso{Coef: make([]float64, len(features)-1)})
	require.NoError(t, err)

	var got Lasso
	_, err = Decode(data, KindLasso, key, features, &got)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declares 17 features")
}
