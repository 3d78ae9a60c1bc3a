package layers

import (
	"fmt"
	"math"

	"converter_lib/tensor"

	"gonum.org/v1/gonum/floats"
)

// ScaleNorm rescales each row of the last axis to a learned length:
// y = g · x / max(‖x‖, eps). Complex rows use ‖x‖² = Σ Re² + Im².
type ScaleNorm struct {
	G   *Param // [1]
	Eps float64

	dim   int
	cache Cache[*normState]
}

type normState struct {
	re, im *tensor.Tensor // im is nil for real input
	norms  []float64
}

// NewScaleNorm initialises g to sqrt(dim).
func NewScaleNorm(dim int, eps float64) *ScaleNorm {
	g := NewParam("scale", 1)
	g.Value.Data[0] = math.Sqrt(float64(dim))
	return &ScaleNorm{G: g, Eps: eps, dim: dim}
}

func (s *ScaleNorm) Forward(x interface{}) (interface{}, error) {
	switch v := x.(type) {
	case *tensor.Tensor:
		re, _, err := s.forward(v, nil)
		return re, err
	case *tensor.Complex:
		if err := v.Validate(); err != nil {
			return nil, err
		}
		re, im, err := s.forward(v.Re, v.Im)
		if err != nil {
			return nil, err
		}
		return &tensor.Complex{Re: re, Im: im}, nil
	default:
		return nil, ErrComplexType
	}
}

// ForwardPlain normalises a real tensor.
func (s *ScaleNorm) ForwardPlain(x *tensor.Tensor) (*tensor.Tensor, error) {
	re, _, err := s.forward(x, nil)
	return re, err
}

// ForwardComplex normalises a complex tensor over its paired parts.
func (s *ScaleNorm) ForwardComplex(x *tensor.Complex) (*tensor.Complex, error) {
	out, err := s.Forward(x)
	if err != nil {
		return nil, err
	}
	return out.(*tensor.Complex), nil
}

func (s *ScaleNorm) forward(re, im *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if len(re.Shape) == 0 || re.Shape[len(re.Shape)-1] != s.dim {
		return nil, nil, fmt.Errorf("%w: ScaleNorm expects last dim %d, got shape %v", ErrShapeMismatch, s.dim, re.Shape)
	}
	rows := len(re.Data) / s.dim
	norms := make([]float64, rows)
	g := s.G.Value.Data[0]
	outRe := tensor.New(re.Shape...)
	var outIm *tensor.Tensor
	if im != nil {
		outIm = tensor.New(im.Shape...)
	}
	for r := 0; r < rows; r++ {
		lo, hi := r*s.dim, (r+1)*s.dim
		x := re.Data[lo:hi]
		sq := floats.Dot(x, x)
		if im != nil {
			sq += floats.Dot(im.Data[lo:hi], im.Data[lo:hi])
		}
		n := math.Sqrt(sq)
		norms[r] = n
		k := g / math.Max(n, s.Eps)
		floats.ScaleTo(outRe.Data[lo:hi], k, x)
		if im != nil {
			floats.ScaleTo(outIm.Data[lo:hi], k, im.Data[lo:hi])
		}
	}
	s.cache.Push(&normState{re: re, im: im, norms: norms})
	return outRe, outIm, nil
}

func (s *ScaleNorm) Backward(gradOut interface{}) (interface{}, error) {
	switch v := gradOut.(type) {
	case *tensor.Tensor:
		re, _, err := s.backward(v, nil)
		return re, err
	case *tensor.Complex:
		re, im, err := s.backward(v.Re, v.Im)
		if err != nil {
			return nil, err
		}
		return &tensor.Complex{Re: re, Im: im}, nil
	default:
		return nil, ErrComplexType
	}
}

// BackwardPlain is Backward for a real forward pass.
func (s *ScaleNorm) BackwardPlain(g *tensor.Tensor) (*tensor.Tensor, error) {
	re, _, err := s.backward(g, nil)
	return re, err
}

// BackwardComplex is Backward for a complex forward pass.
func (s *ScaleNorm) BackwardComplex(g *tensor.Complex) (*tensor.Complex, error) {
	re, im, err := s.backward(g.Re, g.Im)
	if err != nil {
		return nil, err
	}
	return &tensor.Complex{Re: re, Im: im}, nil
}

func (s *ScaleNorm) backward(gRe, gIm *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	st, err := s.cache.Pop()
	if err != nil {
		return nil, nil, fmt.Errorf("ScaleNorm: %w", err)
	}
	if (st.im == nil) != (gIm == nil) {
		return nil, nil, fmt.Errorf("%w: ScaleNorm gradient and forward input disagree on complexity", ErrShapeMismatch)
	}
	if len(gRe.Data) != len(st.re.Data) || (gIm != nil && len(gIm.Data) != len(gRe.Data)) {
		return nil, nil, fmt.Errorf("%w: ScaleNorm grad has %d elements, want %d", ErrShapeMismatch, len(gRe.Data), len(st.re.Data))
	}
	g := s.G.Value.Data[0]
	dRe := tensor.New(st.re.Shape...)
	var dIm *tensor.Tensor
	if st.im != nil {
		dIm = tensor.New(st.im.Shape...)
	}
	dg := 0.0
	for r, n := range st.norms {
		lo, hi := r*s.dim, (r+1)*s.dim
		dot := floats.Dot(gRe.Data[lo:hi], st.re.Data[lo:hi])
		if st.im != nil {
			dot += floats.Dot(gIm.Data[lo:hi], st.im.Data[lo:hi])
		}
		c := math.Max(n, s.Eps)
		dg += dot / c
		k := g / c
		// Below eps the denominator is constant and only the scale term remains.
		proj := 0.0
		if n > s.Eps {
			proj = dot / (n * n)
		}
		floats.ScaleTo(dRe.Data[lo:hi], k, gRe.Data[lo:hi])
		floats.AddScaled(dRe.Data[lo:hi], -k*proj, st.re.Data[lo:hi])
		if st.im != nil {
			floats.ScaleTo(dIm.Data[lo:hi], k, gIm.Data[lo:hi])
			floats.AddScaled(dIm.Data[lo:hi], -k*proj, st.im.Data[lo:hi])
		}
	}
	s.G.Grad.Data[0] += dg
	return dRe, dIm, nil
}

func (s *ScaleNorm) Params() []*Param { return []*Param{s.G} }

func (s *ScaleNorm) ResetCache() { s.cache.Reset() }

func (s *ScaleNorm) Tag() string { return fmt.Sprintf("ScaleNorm_%d", s.dim) }
