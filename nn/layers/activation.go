package layers

import (
	"fmt"
	"math"

	"converter_lib/tensor"
)

// ActKind enumerates the pointwise nonlinearities.
type ActKind int

const (
	LeakyReLU ActKind = iota
	GELU
	Sin
)

// LeakySlope is the negative slope of LeakyReLU.
const LeakySlope = 0.01

func (k ActKind) String() string {
	switch k {
	case LeakyReLU:
		return "LeakyReLU"
	case GELU:
		return "GELU"
	case Sin:
		return "Sin"
	}
	return fmt.Sprintf("ActKind(%d)", int(k))
}

const geluC = 0.7978845608028654 // sqrt(2/π)

func (k ActKind) apply(x float64) float64 {
	switch k {
	case LeakyReLU:
		if x < 0 {
			return LeakySlope * x
		}
		return x
	case GELU:
		return 0.5 * x * (1 + math.Tanh(geluC*(x+0.044715*x*x*x)))
	case Sin:
		return math.Sin(x)
	}
	panic(fmt.Sprintf("unknown activation %d", int(k)))
}

func (k ActKind) deriv(x float64) float64 {
	switch k {
	case LeakyReLU:
		if x < 0 {
			return LeakySlope
		}
		return 1
	case GELU:
		th := math.Tanh(geluC * (x + 0.044715*x*x*x))
		return 0.5*(1+th) + 0.5*x*(1-th*th)*geluC*(1+3*0.044715*x*x)
	case Sin:
		return math.Cos(x)
	}
	panic(fmt.Sprintf("unknown activation %d", int(k)))
}

// Activation is a layer that applies a pointwise function.
type Activation struct {
	Kind  ActKind
	cache Cache[*tensor.Tensor]
}

func NewActivation(kind ActKind) *Activation { return &Activation{Kind: kind} }

func (a *Activation) Forward(x interface{}) (interface{}, error) {
	t, ok := x.(*tensor.Tensor)
	if !ok {
		return nil, ErrType
	}
	return a.ForwardPlain(t), nil
}

func (a *Activation) ForwardPlain(x *tensor.Tensor) *tensor.Tensor {
	out := tensor.New(x.Shape...)
	for i, v := range x.Data {
		out.Data[i] = a.Kind.apply(v)
	}
	a.cache.Push(x)
	return out
}

func (a *Activation) Backward(gradOut interface{}) (interface{}, error) {
	g, ok := gradOut.(*tensor.Tensor)
	if !ok {
		return nil, ErrType
	}
	return a.BackwardPlain(g)
}

func (a *Activation) BackwardPlain(g *tensor.Tensor) (*tensor.Tensor, error) {
	x, err := a.cache.Pop()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.Kind, err)
	}
	if len(x.Data) != len(g.Data) {
		return nil, fmt.Errorf("%w: %s grad has %d elements, input %d", ErrShapeMismatch, a.Kind, len(g.Data), len(x.Data))
	}
	gradIn := tensor.New(x.Shape...)
	for i, v := range x.Data {
		gradIn.Data[i] = g.Data[i] * a.Kind.deriv(v)
	}
	return gradIn, nil
}

func (a *Activation) Params() []*Param { return nil }

func (a *Activation) ResetCache() { a.cache.Reset() }

func (a *Activation) Tag() string { return a.Kind.String() }
