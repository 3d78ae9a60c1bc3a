package layers

import (
	"fmt"

	"converter_lib/tensor"
)

// PoolAxis selects which axis of a [B, L, D] tensor is pooled.
type PoolAxis int

const (
	// PoolSequence averages along L.
	PoolSequence PoolAxis = iota
	// PoolFeature averages along D.
	PoolFeature
)

func (a PoolAxis) String() string {
	if a == PoolSequence {
		return "sequence"
	}
	return "feature"
}

// AvgPool1D averages non-overlapping windows (stride = Window) along one axis
// of a [B, L, D] tensor.
type AvgPool1D struct {
	Axis   PoolAxis
	Window int
	cache  Cache[[]int]
}

func NewAvgPool1D(axis PoolAxis, window int) (*AvgPool1D, error) {
	if window <= 0 {
		return nil, fmt.Errorf("%w: pool window must be positive, got %d", ErrInvalidConfig, window)
	}
	return &AvgPool1D{Axis: axis, Window: window}, nil
}

func (p *AvgPool1D) Forward(x interface{}) (interface{}, error) {
	t, ok := x.(*tensor.Tensor)
	if !ok {
		return nil, ErrType
	}
	return p.ForwardPlain(t)
}

func (p *AvgPool1D) ForwardPlain(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 3 {
		return nil, fmt.Errorf("%w: AvgPool1D expects [B, L, D], got %v", ErrShapeMismatch, x.Shape)
	}
	B, L, D := x.Shape[0], x.Shape[1], x.Shape[2]
	n := L
	if p.Axis == PoolFeature {
		n = D
	}
	if n%p.Window != 0 {
		return nil, fmt.Errorf("%w: pool window %d does not divide %s length %d", ErrShapeMismatch, p.Window, p.Axis, n)
	}
	inv := 1 / float64(p.Window)

	var out *tensor.Tensor
	switch p.Axis {
	case PoolFeature:
		outD := D / p.Window
		out = tensor.New(B, L, outD)
		for r := 0; r < B*L; r++ {
			for j := 0; j < outD; j++ {
				sum := 0.0
				for t := 0; t < p.Window; t++ {
					sum += x.Data[r*D+j*p.Window+t]
				}
				out.Data[r*outD+j] = sum * inv
			}
		}
	case PoolSequence:
		outL := L / p.Window
		out = tensor.New(B, outL, D)
		for b := 0; b < B; b++ {
			for i := 0; i < outL; i++ {
				dst := out.Data[(b*outL+i)*D : (b*outL+i+1)*D]
				for t := 0; t < p.Window; t++ {
					src := x.Data[(b*L+i*p.Window+t)*D:]
					for d := 0; d < D; d++ {
						dst[d] += src[d]
					}
				}
				for d := range dst {
					dst[d] *= inv
				}
			}
		}
	}
	p.cache.Push(append([]int(nil), x.Shape...))
	return out, nil
}

func (p *AvgPool1D) Backward(g interface{}) (interface{}, error) {
	t, ok := g.(*tensor.Tensor)
	if !ok {
		return nil, ErrType
	}
	return p.BackwardPlain(t)
}

func (p *AvgPool1D) BackwardPlain(g *tensor.Tensor) (*tensor.Tensor, error) {
	shape, err := p.cache.Pop()
	if err != nil {
		return nil, fmt.Errorf("AvgPool1D: %w", err)
	}
	B, L, D := shape[0], shape[1], shape[2]
	gradIn := tensor.New(shape...)
	inv := 1 / float64(p.Window)
	switch p.Axis {
	case PoolFeature:
		outD := D / p.Window
		if len(g.Data) != B*L*outD {
			return nil, fmt.Errorf("%w: AvgPool1D grad has %d elements, want %d", ErrShapeMismatch, len(g.Data), B*L*outD)
		}
		for r := 0; r < B*L; r++ {
			for j := 0; j < outD; j++ {
				v := g.Data[r*outD+j] * inv
				for t := 0; t < p.Window; t++ {
					gradIn.Data[r*D+j*p.Window+t] = v
				}
			}
		}
	case PoolSequence:
		outL := L / p.Window
		if len(g.Data) != B*outL*D {
			return nil, fmt.Errorf("%w: AvgPool1D grad has %d elements, want %d", ErrShapeMismatch, len(g.Data), B*outL*D)
		}
		for b := 0; b < B; b++ {
			for i := 0; i < outL; i++ {
				src := g.Data[(b*outL+i)*D : (b*outL+i+1)*D]
				for t := 0; t < p.Window; t++ {
					dst := gradIn.Data[(b*L+i*p.Window+t)*D:]
					for d := 0; d < D; d++ {
						dst[d] = src[d] * inv
					}
				}
			}
		}
	}
	return gradIn, nil
}

func (p *AvgPool1D) Params() []*Param { return nil }

func (p *AvgPool1D) ResetCache() { p.cache.Reset() }

func (p *AvgPool1D) Tag() string {
	return fmt.Sprintf("AvgPool1D_%s_%d", p.Axis, p.Window)
}
