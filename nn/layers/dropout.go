package layers

import (
	"fmt"

	"converter_lib/tensor"

	"golang.org/x/exp/rand"
)

// Dropout zeroes elements with probability P in training mode and rescales
// the survivors by 1/(1-P). It is the identity in evaluation mode.
type Dropout struct {
	P        float64
	rng      *rand.Rand
	training bool
	cache    Cache[[]float64] // nil entry = identity pass
}

func NewDropout(p float64, rng *rand.Rand) (*Dropout, error) {
	if p < 0 || p > 1 {
		return nil, fmt.Errorf("%w: dropout probability %v outside [0, 1]", ErrInvalidConfig, p)
	}
	return &Dropout{P: p, rng: rng, training: true}, nil
}

func (d *Dropout) SetTraining(training bool) { d.training = training }

func (d *Dropout) active() bool { return d.training && d.P > 0 }

func (d *Dropout) Forward(x interface{}) (interface{}, error) {
	t, ok := x.(*tensor.Tensor)
	if !ok {
		return nil, ErrType
	}
	return d.ForwardPlain(t), nil
}

// ForwardPlain applies the mask and records it for backward.
func (d *Dropout) ForwardPlain(x *tensor.Tensor) *tensor.Tensor {
	if !d.active() {
		d.cache.Push(nil)
		return x.Clone()
	}
	mask := make([]float64, len(x.Data))
	keep := 0.0
	if d.P < 1 {
		keep = 1 / (1 - d.P)
	}
	out := tensor.New(x.Shape...)
	for i, v := range x.Data {
		if d.rng.Float64() >= d.P {
			mask[i] = keep
			out.Data[i] = v * keep
		}
	}
	d.cache.Push(mask)
	return out
}

func (d *Dropout) Backward(gradOut interface{}) (interface{}, error) {
	g, ok := gradOut.(*tensor.Tensor)
	if !ok {
		return nil, ErrType
	}
	return d.BackwardPlain(g)
}

func (d *Dropout) BackwardPlain(g *tensor.Tensor) (*tensor.Tensor, error) {
	mask, err := d.cache.Pop()
	if err != nil {
		return nil, fmt.Errorf("Dropout: %w", err)
	}
	if mask == nil {
		return g.Clone(), nil
	}
	if len(mask) != len(g.Data) {
		return nil, fmt.Errorf("%w: Dropout grad has %d elements, mask %d", ErrShapeMismatch, len(g.Data), len(mask))
	}
	out := tensor.New(g.Shape...)
	for i, v := range g.Data {
		out.Data[i] = v * mask[i]
	}
	return out, nil
}

func (d *Dropout) Params() []*Param { return nil }

func (d *Dropout) ResetCache() { d.cache.Reset() }

func (d *Dropout) Tag() string { return fmt.Sprintf("Dropout_%.2f", d.P) }
