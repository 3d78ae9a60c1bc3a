package nn

import (
	"errors"
	"testing"

	"converter_lib/nn/layers"
	"converter_lib/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dummy layer: adds a constant
type addLayer struct {
	c     float64
	tag   string
	calls *[]string
}

func (l *addLayer) Forward(input interface{}) (interface{}, error) {
	x, ok := input.(*tensor.Tensor)
	if !ok {
		return nil, errors.New("addLayer expects *tensor.Tensor input")
	}
	return tensor.Add(x, tensor.Full(l.c, x.Shape...))
}

func (l *addLayer) Backward(gradOut interface{}) (interface{}, error) {
	grad, ok := gradOut.(*tensor.Tensor)
	if !ok {
		return nil, errors.New("addLayer expects *tensor.Tensor gradOut")
	}
	if l.calls != nil {
		*l.calls = append(*l.calls, l.tag)
	}
	return grad, nil
}

func (l *addLayer) Params() []*layers.Param { return nil }
func (l *addLayer) ResetCache()             {}
func (l *addLayer) Tag() string             { return "add" + l.tag }

// dummy layer: error on forward
type errLayer struct{}

func (l *errLayer) Forward(input interface{}) (interface{}, error) {
	return nil, errors.New("fail")
}
func (l *errLayer) Backward(gradOut interface{}) (interface{}, error) { return nil, nil }
func (l *errLayer) Params() []*layers.Param                        { return nil }
func (l *errLayer) ResetCache()                                    {}
func (l *errLayer) Tag() string                                    { return "err" }

func TestSequentialPlain(t *testing.T) {
	a := tensor.New(1)
	a.Data[0] = 1
	seq := &Sequential{Layers: []Module{&addLayer{c: 2}, &addLayer{c: 3}}}
	outAny, err := seq.Forward(a)
	require.NoError(t, err)
	out, ok := outAny.(*tensor.Tensor)
	require.True(t, ok, "expected *tensor.Tensor output, got %T", outAny)
	assert.Equal(t, 6.0, out.Data[0])
}

func TestSequentialStopsOnError(t *testing.T) {
	seq := &Sequential{Layers: []Module{&addLayer{c: 0}, &errLayer{}, &addLayer{c: 1}}}
	_, err := seq.Forward(tensor.New(1))
	assert.EqualError(t, err, "fail")
}

func TestSequentialBackwardReverseOrder(t *testing.T) {
	var calls []string
	seq := &Sequential{Layers: []Module{
		&addLayer{tag: "a", calls: &calls},
		&addLayer{tag: "b", calls: &calls},
	}}
	_, err := seq.Backward(tensor.New(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, calls)
	assert.Equal(t, "Sequential[adda,addb]", seq.Tag())
}

func TestSequentialParamsAndTraining(t *testing.T) {
	rng := testRNG()
	drop, err := layers.NewDropout(0.5, rng)
	require.NoError(t, err)
	lin := layers.NewLinear(3, 2, true)
	seq := &Sequential{Layers: []Module{lin, drop}}
	assert.Len(t, seq.Params(), 2)

	seq.SetTraining(false)
	x := tensor.Full(1, 4, 3)
	out, err := seq.Forward(x)
	require.NoError(t, err)
	// Zero weights and bias with dropout disabled.
	assert.Equal(t, make([]float64, 8), out.(*tensor.Tensor).Data)
}
