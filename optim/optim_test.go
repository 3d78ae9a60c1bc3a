package optim

import (
	"math"
	"testing"

	"converter_lib/nn/layers"
	"converter_lib/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func scalarParam(name string, v float64) *layers.Param {
	p := layers.NewParam(name, 1)
	p.Value.Data[0] = v
	return p
}

func TestParseKind(t *testing.T) {
	for i, name := range kindNames {
		k, err := ParseKind(name)
		require.NoError(t, err)
		assert.Equal(t, Kind(i), k)
	}
	k, err := ParseKind("SOPHIA")
	require.NoError(t, err)
	assert.Equal(t, Sophia, k)

	_, err = ParseKind("adafactor")
	assert.ErrorIs(t, err, layers.ErrInvalidConfig)
}

func TestNewRejects(t *testing.T) {
	a, b := scalarParam("w", 0), scalarParam("w", 0)
	_, err := New(AdamW, []*layers.Param{a, b}, Options{})
	assert.ErrorIs(t, err, layers.ErrInvalidConfig)

	_, err = New(Sophia, []*layers.Param{a}, Options{})
	assert.ErrorIs(t, err, layers.ErrInvalidConfig)

	_, err = New(Lion, []*layers.Param{a}, Options{WeightDecay: -1})
	assert.ErrorIs(t, err, layers.ErrInvalidConfig)
}

// Every optimizer drives a quadratic bowl towards its minimum.
func TestOptimizersMinimiseQuadratic(t *testing.T) {
	const target = 3.0
	for _, kind := range []Kind{AdamW, NAdamW, Adan, Lion, Tiger, Sophia} {
		p := layers.NewParam("w", 4)
		copy(p.Value.Data, []float64{-2, 0, 5, 8})
		start := distance(p.Value.Data, target)

		opt, err := New(kind, []*layers.Param{p}, Options{BatchSize: 1})
		require.NoError(t, err)
		for step := 0; step < 300; step++ {
			for j, w := range p.Value.Data {
				p.Grad.Data[j] = w - target
			}
			if h, ok := opt.(HessianEstimator); ok && step%10 == 0 {
				h.UpdateHessian()
			}
			opt.Step(0.05)
		}
		assert.Less(t, distance(p.Value.Data, target), start/10, opt.Name())
		opt.Reset()
	}
}

func distance(ws []float64, target float64) float64 {
	d := 0.0
	for _, w := range ws {
		d = math.Max(d, math.Abs(w-target))
	}
	return d
}

func TestAdamWFirstStep(t *testing.T) {
	p := scalarParam("w", 1)
	p.Grad.Data[0] = 2
	opt := NewAdamW([]*layers.Param{p}, 0.9, 0.999, 1e-8, 0)
	opt.Step(0.1)
	assert.InDelta(t, 1-0.1*2/(2+1e-8), p.Value.Data[0], 1e-12)
}

func TestDecoupledWeightDecay(t *testing.T) {
	for _, kind := range []Kind{AdamW, NAdamW, Lion} {
		p := scalarParam("w", 2)
		opt, err := New(kind, []*layers.Param{p}, Options{WeightDecay: 0.5})
		require.NoError(t, err)
		opt.Step(0.1)
		assert.InDelta(t, 2*(1-0.05), p.Value.Data[0], 1e-9, opt.Name())
	}
}

func TestSignOptimizersStepByLR(t *testing.T) {
	lion := scalarParam("w", 1)
	lion.Grad.Data[0] = 1e-3
	NewLion([]*layers.Param{lion}, 0.9, 0.99, 0).Step(0.01)
	assert.InDelta(t, 0.99, lion.Value.Data[0], 1e-12)

	tiger := scalarParam("w", 1)
	tiger.Grad.Data[0] = -5
	NewTiger([]*layers.Param{tiger}, 0.945, 0.1).Step(0.01)
	assert.InDelta(t, 1+0.01-0.01*0.1, tiger.Value.Data[0], 1e-12)
}

func TestSophiaClipsUpdate(t *testing.T) {
	p := scalarParam("w", 0)
	opt := NewSophiaG([]*layers.Param{p}, 0.965, 0.99, 0.04, 0, 8)
	p.Grad.Data[0] = 100
	opt.UpdateHessian()
	opt.Step(0.1)
	// |m| / (rho·bs·h) is far below 1 here, so the step is not clipped.
	m := (1 - 0.965) * 100.0
	h := (1 - 0.99) * 100.0 * 100.0
	assert.InDelta(t, -0.1*m/(0.04*8*h), p.Value.Data[0], 1e-9)

	q := scalarParam("w", 0)
	opt = NewSophiaG([]*layers.Param{q}, 0.965, 0.99, 0.04, 0, 8)
	q.Grad.Data[0] = -1
	opt.Step(0.1)
	assert.InDelta(t, 0.1, q.Value.Data[0], 1e-12, "no curvature yet: full sign step")
}

func TestSampleLabels(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	logp, err := tensor.FromSlice([]float64{
		math.Inf(-1), math.Inf(-1), 0,
		0, math.Inf(-1), math.Inf(-1),
	}, 2, 3)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		labels, err := SampleLabels(logp, rng)
		require.NoError(t, err)
		assert.Equal(t, []int{2, 0}, labels)
	}

	_, err = SampleLabels(tensor.New(3), rng)
	assert.ErrorIs(t, err, layers.ErrShapeMismatch)
}

func TestCosineAnnealing(t *testing.T) {
	s, err := NewCosineAnnealing(1e-3, 5e-4, 3)
	require.NoError(t, err)
	assert.InDelta(t, 1e-3, s.LR(0), 1e-15)
	assert.InDelta(t, 8.75e-4, s.LR(1), 1e-15)
	assert.InDelta(t, 6.25e-4, s.LR(2), 1e-15)
	assert.InDelta(t, 5e-4, s.LR(3), 1e-15)
	assert.InDelta(t, 1e-3, s.LR(6), 1e-15)
	for e := 0; e < 3; e++ {
		assert.Greater(t, s.LR(e), s.LR(e+1))
	}

	_, err = NewCosineAnnealing(1e-3, 0, 0)
	assert.ErrorIs(t, err, layers.ErrInvalidConfig)
}
