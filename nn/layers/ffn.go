package layers

import (
	"fmt"

	"converter_lib/tensor"

	"golang.org/x/exp/rand"
)

// BFFN is the feed-forward block after spectral mixing. It reads the real and
// imaginary parts as 2·D paired channels and returns a real [.., D] tensor:
//
//	[Re, Im] → Linear(2D→D) → GELU → dropout → Linear(D→D) → dropout
type BFFN struct {
	In    *Linear
	Act   *Activation
	Drop1 *Dropout
	Out   *Linear
	Drop2 *Dropout

	dim   int
	cache Cache[[]int]
}

func NewBFFN(dim int, dropProb float64, rng *rand.Rand) (*BFFN, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: BFFN dim must be positive, got %d", ErrInvalidConfig, dim)
	}
	d1, err := NewDropout(dropProb, rng)
	if err != nil {
		return nil, err
	}
	d2, err := NewDropout(dropProb, rng)
	if err != nil {
		return nil, err
	}
	f := &BFFN{
		In:    NewLinear(2*dim, dim, true).InitFanIn(rng),
		Act:   NewActivation(GELU),
		Drop1: d1,
		Out:   NewLinear(dim, dim, true).InitFanIn(rng),
		Drop2: d2,
		dim:   dim,
	}
	Prefix("fc1", f.In.Params())
	Prefix("fc2", f.Out.Params())
	return f, nil
}

func (f *BFFN) SetTraining(training bool) {
	f.Drop1.SetTraining(training)
	f.Drop2.SetTraining(training)
}

func (f *BFFN) Forward(x interface{}) (interface{}, error) {
	switch v := x.(type) {
	case *tensor.Complex:
		return f.ForwardComplex(v)
	case *tensor.Tensor:
		return f.ForwardComplex(tensor.FromReal(v))
	default:
		return nil, ErrComplexType
	}
}

func (f *BFFN) ForwardComplex(x *tensor.Complex) (_ *tensor.Tensor, err error) {
	defer ResetOnError(f, &err)
	if err := x.Validate(); err != nil {
		return nil, err
	}
	shape := x.Shape()
	if len(shape) == 0 || shape[len(shape)-1] != f.dim {
		return nil, fmt.Errorf("%w: BFFN expects last dim %d, got shape %v", ErrShapeMismatch, f.dim, shape)
	}
	rows := len(x.Re.Data) / f.dim
	outer := shape[:len(shape)-1]
	cat := tensor.New(append(append([]int(nil), outer...), 2*f.dim)...)
	for r := 0; r < rows; r++ {
		copy(cat.Data[r*2*f.dim:], x.Re.Data[r*f.dim:(r+1)*f.dim])
		copy(cat.Data[r*2*f.dim+f.dim:], x.Im.Data[r*f.dim:(r+1)*f.dim])
	}

	h, err := f.In.ForwardPlain(cat)
	if err != nil {
		return nil, err
	}
	h = f.Act.ForwardPlain(h)
	h = f.Drop1.ForwardPlain(h)
	if h, err = f.Out.ForwardPlain(h); err != nil {
		return nil, err
	}
	f.cache.Push(append([]int(nil), shape...))
	return f.Drop2.ForwardPlain(h), nil
}

func (f *BFFN) Backward(gradOut interface{}) (interface{}, error) {
	g, ok := gradOut.(*tensor.Tensor)
	if !ok {
		return nil, ErrType
	}
	return f.BackwardComplex(g)
}

// BackwardComplex returns the gradient with respect to both input parts.
// For real forward input the Im part can be discarded.
func (f *BFFN) BackwardComplex(g *tensor.Tensor) (*tensor.Complex, error) {
	shape, err := f.cache.Pop()
	if err != nil {
		return nil, fmt.Errorf("BFFN: %w", err)
	}
	h, err := f.Drop2.BackwardPlain(g)
	if err != nil {
		return nil, err
	}
	if h, err = f.Out.BackwardPlain(h); err != nil {
		return nil, err
	}
	if h, err = f.Drop1.BackwardPlain(h); err != nil {
		return nil, err
	}
	if h, err = f.Act.BackwardPlain(h); err != nil {
		return nil, err
	}
	gCat, err := f.In.BackwardPlain(h)
	if err != nil {
		return nil, err
	}
	out := tensor.NewComplex(shape...)
	rows := len(out.Re.Data) / f.dim
	for r := 0; r < rows; r++ {
		copy(out.Re.Data[r*f.dim:(r+1)*f.dim], gCat.Data[r*2*f.dim:])
		copy(out.Im.Data[r*f.dim:(r+1)*f.dim], gCat.Data[r*2*f.dim+f.dim:])
	}
	return out, nil
}

func (f *BFFN) Params() []*Param {
	return append(append([]*Param(nil), f.In.Params()...), f.Out.Params()...)
}

func (f *BFFN) ResetCache() {
	f.cache.Reset()
	f.In.ResetCache()
	f.Act.ResetCache()
	f.Drop1.ResetCache()
	f.Out.ResetCache()
	f.Drop2.ResetCache()
}

func (f *BFFN) Tag() string { return fmt.Sprintf("BFFN_%d", f.dim) }
