package layers

import (
	"math"
	"testing"

	"converter_lib/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinear_ForwardMatchesReference(t *testing.T) {
	l := NewLinear(3, 2, true)
	copy(l.W.Value.Data, []float64{1, 2, 3, -1, 0, 1})
	copy(l.B.Value.Data, []float64{0.5, -0.5})
	x, _ := tensor.FromSlice([]float64{1, 1, 1, 2, 0, -1}, 2, 3)
	out, err := l.ForwardPlain(x)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, out.Shape)
	assert.InDeltaSlice(t, []float64{6.5, -0.5, -0.5, -3.5}, out.Data, 1e-12)
}

func TestLinear_Gradients(t *testing.T) {
	rng := testRNG()
	l := NewLinear(4, 3, true).InitFanIn(rng)
	x := randTensor(rng, 2, 5, 4)
	w := randTensor(rng, 2, 5, 3)
	loss := func() float64 {
		out, err := l.ForwardPlain(x)
		require.NoError(t, err)
		l.ResetCache()
		return dot(out.Data, w.Data)
	}
	_, err := l.ForwardPlain(x)
	require.NoError(t, err)
	gx, err := l.BackwardPlain(w)
	require.NoError(t, err)
	checkGrad(t, "x", loss, x.Data, gx.Data, 1e-6)
	checkGrad(t, "weight", loss, l.W.Value.Data, l.W.Grad.Data, 1e-6)
	checkGrad(t, "bias", loss, l.B.Value.Data, l.B.Grad.Data, 1e-6)
}

func TestLinear_RejectsWrongWidth(t *testing.T) {
	_, err := NewLinear(3, 2, false).ForwardPlain(tensor.New(2, 4))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestLinear_SharedForwardUnwindsInReverse(t *testing.T) {
	rng := testRNG()
	l := NewLinear(2, 2, false).InitFanIn(rng)
	a, b := randTensor(rng, 1, 2), randTensor(rng, 1, 2)
	_, err := l.ForwardPlain(a)
	require.NoError(t, err)
	_, err = l.ForwardPlain(b)
	require.NoError(t, err)
	g, _ := tensor.FromSlice([]float64{1, 0}, 1, 2)
	_, err = l.BackwardPlain(g)
	require.NoError(t, err)
	// dW row 0 equals the most recent input.
	assert.InDeltaSlice(t, b.Data, l.W.Grad.Data[:2], 1e-12)
	_, err = l.BackwardPlain(g)
	require.NoError(t, err)
	_, err = l.BackwardPlain(g)
	assert.ErrorIs(t, err, ErrNoCache)
}

func TestActivation_Derivatives(t *testing.T) {
	for _, k := range []ActKind{LeakyReLU, GELU, Sin} {
		rng := testRNG()
		a := NewActivation(k)
		x := randTensor(rng, 6)
		w := randTensor(rng, 6)
		loss := func() float64 {
			out := a.ForwardPlain(x)
			a.ResetCache()
			return dot(out.Data, w.Data)
		}
		a.ForwardPlain(x)
		gx, err := a.BackwardPlain(w)
		require.NoError(t, err)
		checkGrad(t, k.String(), loss, x.Data, gx.Data, 1e-6)
	}
	assert.Equal(t, -0.02, LeakyReLU.apply(-2))
}

func TestDropout_TrainAndEval(t *testing.T) {
	_, err := NewDropout(1.5, testRNG())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	d, err := NewDropout(0.5, testRNG())
	require.NoError(t, err)
	x := tensor.Full(1, 1000)
	out := d.ForwardPlain(x)
	kept := 0
	for _, v := range out.Data {
		if v != 0 {
			assert.Equal(t, 2.0, v)
			kept++
		}
	}
	assert.InDelta(t, 500, kept, 80)
	g, err := d.BackwardPlain(tensor.Full(1, 1000))
	require.NoError(t, err)
	assert.Equal(t, out.Data, g.Data)

	d.SetTraining(false)
	assert.Equal(t, x.Data, d.ForwardPlain(x).Data)
}

func TestAvgPool1D_Axes(t *testing.T) {
	x, _ := tensor.FromSlice([]float64{1, 2, 3, 4, 5, 6, 7, 8}, 1, 2, 4)
	p, err := NewAvgPool1D(PoolFeature, 2)
	require.NoError(t, err)
	out, err := p.ForwardPlain(x)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 2}, out.Shape)
	assert.Equal(t, []float64{1.5, 3.5, 5.5, 7.5}, out.Data)

	q, err := NewAvgPool1D(PoolSequence, 2)
	require.NoError(t, err)
	out, err = q.ForwardPlain(x)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 4}, out.Shape)
	assert.Equal(t, []float64{3, 4, 5, 6}, out.Data)

	g, err := q.BackwardPlain(tensor.Full(1, 1, 1, 4))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5}, g.Data)

	r, _ := NewAvgPool1D(PoolFeature, 3)
	_, err = r.ForwardPlain(x)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestBFFN_Gradients(t *testing.T) {
	rng := testRNG()
	f, err := NewBFFN(3, 0, rng)
	require.NoError(t, err)
	x := &tensor.Complex{Re: randTensor(rng, 2, 4, 3), Im: randTensor(rng, 2, 4, 3)}
	w := randTensor(rng, 2, 4, 3)
	loss := func() float64 {
		out, err := f.ForwardComplex(x)
		require.NoError(t, err)
		f.ResetCache()
		return dot(out.Data, w.Data)
	}
	out, err := f.ForwardComplex(x)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 3}, out.Shape)
	gx, err := f.BackwardComplex(w)
	require.NoError(t, err)
	checkGrad(t, "re", loss, x.Re.Data, gx.Re.Data, 1e-6)
	checkGrad(t, "im", loss, x.Im.Data, gx.Im.Data, 1e-6)
	for _, p := range f.Params() {
		checkGrad(t, p.Name, loss, p.Value.Data, p.Grad.Data, 1e-6)
	}
}

func TestLogSoftmax_RowsAreDistributions(t *testing.T) {
	rng := testRNG()
	s := NewLogSoftmax()
	x := randTensor(rng, 3, 5)
	out, err := s.ForwardPlain(x)
	require.NoError(t, err)
	for r := 0; r < 3; r++ {
		sum := 0.0
		for _, v := range out.Data[r*5 : (r+1)*5] {
			assert.LessOrEqual(t, v, 0.0)
			sum += math.Exp(v)
		}
		assert.InDelta(t, 1.0, sum, 1e-12)
	}

	w := randTensor(rng, 3, 5)
	loss := func() float64 {
		y, err := s.ForwardPlain(x)
		require.NoError(t, err)
		s.ResetCache()
		return dot(y.Data, w.Data)
	}
	gx, err := s.BackwardPlain(w)
	require.NoError(t, err)
	checkGrad(t, "x", loss, x.Data, gx.Data, 1e-6)
}
