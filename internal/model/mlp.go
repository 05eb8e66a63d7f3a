package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// MLPConfig controls network shape and Adam optimization.
type MLPConfig struct {
	Hidden       []int
	LearningRate float64
	Epochs       int
	BatchSize    int
	Seed         uint64
}

// DefaultMLPConfig is the deeper nonlinear variant.
func DefaultMLPConfig() MLPConfig {
	return MLPConfig{
		Hidden:       []int{64, 32},
		LearningRate: 1e-3,
		Epochs:       200,
		BatchSize:    32,
		Seed:         42,
	}
}

// Layer is a dense layer; W is out x in.
type Layer struct {
	W [][]float64 `json:"w"`
	B []float64   `json:"b"`
}

// MLP is a feed-forward regressor with ReLU hidden layers and a linear output.
type MLP struct {
	Layers []Layer `json:"layers"`
}

// FitMLP trains on mean squared error with mini-batch Adam.
func FitMLP(x [][]float64, y []float64, cfg MLPConfig) (*MLP, error) {
	if len(x) == 0 || len(x) != len(y) {
		return nil, fmt.Errorf("fit mlp: %d rows, %d targets", len(x), len(y))
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = len(x)
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	sizes := append([]int{len(x[0])}, cfg.Hidden...)
	sizes = append(sizes, 1)
	m := &MLP{Layers: make([]Layer, len(sizes)-1)}
	for l := range m.Layers {
		in, out := sizes[l], sizes[l+1]
		bound := math.Sqrt(6.0 / float64(in+out))
		layer := Layer{W: make([][]float64, out), B: make([]float64, out)}
		for o := range layer.W {
			layer.W[o] = make([]float64, in)
			for i := range layer.W[o] {
				layer.W[o][i] = (rng.Float64()*2 - 1) * bound
			}
		}
		m.Layers[l] = layer
	}

	opt := newAdam(m, cfg.LearningRate)
	grads := zeroLike(m)
	order := make([]int, len(x))
	for i := range order {
		order[i] = i
	}

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for start := 0; start < len(order); start += cfg.BatchSize {
			end := min(start+cfg.BatchSize, len(order))
			resetGrads(grads)
			for _, idx := range order[start:end] {
				m.backprop(x[idx], y[idx], grads)
			}
			opt.step(m, grads, float64(end-start))
		}
	}
	return m, nil
}

// Predict returns the network output for one row.
func (m *MLP) Predict(x []float64) (float64, error) {
	if len(m.Layers) == 0 {
		return 0, errors.New("mlp has no layers")
	}
	if len(x) != len(m.Layers[0].W[0]) {
		return 0, fmt.Errorf("mlp expects %d features, got %d", len(m.Layers[0].W[0]), len(x))
	}
	acts := m.forward(x)
	return acts[len(acts)-1][0], nil
}

func (m *MLP) validate(inputs int) error {
	if len(m.Layers) == 0 {
		return errors.New("mlp has no layers")
	}
	width := inputs
	for l, layer := range m.Layers {
		if len(layer.W) == 0 || len(layer.W) != len(layer.B) {
			return fmt.Errorf("mlp layer %d is malformed", l)
		}
		if !finite(layer.B) {
			return fmt.Errorf("mlp layer %d has non-finite biases", l)
		}
		for o, row := range layer.W {
			if len(row) != width {
				return fmt.Errorf("mlp layer %d unit %d has %d inputs, want %d", l, o, len(row), width)
			}
			if !finite(row) {
				return fmt.Errorf("mlp layer %d unit %d has non-finite weights", l, o)
			}
		}
		width = len(layer.W)
	}
	if len(m.Layers[len(m.Layers)-1].W) != 1 {
		return errors.New("mlp output layer must have one unit")
	}
	return nil
}

// forward returns activations per layer, input first.
func (m *MLP) forward(x []float64) [][]float64 {
	acts := make([][]float64, 0, len(m.Layers)+1)
	acts = append(acts, x)
	cur := x
	for l, layer := range m.Layers {
		next := make([]float64, len(layer.W))
		for o, row := range layer.W {
			z := layer.B[o]
			for i, w := range row {
				z += w * cur[i]
			}
			if l < len(m.Layers)-1 && z < 0 {
				z = 0
			}
			next[o] = z
		}
		acts = append(acts, next)
		cur = next
	}
	return acts
}

func (m *MLP) backprop(x []float64, y float64, grads []Layer) {
	acts := m.forward(x)
	last := len(m.Layers) - 1
	delta := []float64{acts[last+1][0] - y}
	for l := last; l >= 0; l-- {
		in := acts[l]
		for o, d := range delta {
			grads[l].B[o] += d
			for i, v := range in {
				grads[l].W[o][i] += d * v
			}
		}
		if l == 0 {
			break
		}
		prev := make([]float64, len(in))
		for i := range prev {
			if in[i] <= 0 {
				continue
			}
			var s float64
			for o, d := range delta {
				s += m.Layers[l].W[o][i] * d
			}
			prev[i] = s
		}
		delta = prev
	}
}

type adam struct {
	lr, beta1, beta2, eps float64
	t                     int
	m, v                  []Layer
}

func newAdam(net *MLP, lr float64) *adam {
	return &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-8, m: zeroLike(net), v: zeroLike(net)}
}

func (a *adam) step(net *MLP, grads []Layer, batch float64) {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	update := func(p, g, m, v *float64) {
		grad := *g / batch
		*m = a.beta1**m + (1-a.beta1)*grad
		*v = a.beta2**v + (1-a.beta2)*grad*grad
		*p -= a.lr * (*m / c1) / (math.Sqrt(*v/c2) + a.eps)
	}
	for l := range net.Layers {
		for o := range net.Layers[l].W {
			for i := range net.Layers[l].W[o] {
				update(&net.Layers[l].W[o][i], &grads[l].W[o][i], &a.m[l].W[o][i], &a.v[l].W[o][i])
			}
			update(&net.Layers[l].B[o], &grads[l].B[o], &a.m[l].B[o], &a.v[l].B[o])
		}
	}
}

func zeroLike(net *MLP) []Layer {
	out := make([]Layer, len(net.Layers))
	for l, layer := range net.Layers {
		out[l] = Layer{W: make([][]float64, len(layer.W)), B: make([]float64, len(layer.B))}
		for o := range layer.W {
			out[l].W[o] = make([]float64, len(layer.W[o]))
		}
	}
	return out
}

func resetGrads(g []Layer) {
	for l := range g {
		for o := range g[l].W {
			for i := range g[l].W[o] {
				g[l].W[o][i] = 0
			}
			g[l].B[o] = 0
		}
	}
}
