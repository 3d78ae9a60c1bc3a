package layers

import (
	"fmt"

	"converter_lib/tensor"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Linear is a fully-connected layer applied to the last axis: y = x·Wᵀ + b.
// Leading axes are treated as independent rows, so a [B, L, in] input yields
// [B, L, out].
type Linear struct {
	W *Param // [out, in]
	B *Param // [out], nil without bias

	inDim, outDim int
	cache         Cache[*tensor.Tensor]
}

// NewLinear(inDim→outDim, bias) allocates zeroed weights; see InitFanIn et al.
func NewLinear(inDim, outDim int, bias bool) *Linear {
	l := &Linear{W: NewParam("weight", outDim, inDim), inDim: inDim, outDim: outDim}
	if bias {
		l.B = NewParam("bias", outDim)
	}
	return l
}

// InitFanIn applies the default uniform init to the weight and bias.
func (l *Linear) InitFanIn(rng *rand.Rand) *Linear {
	FanInUniform(l.W, l.inDim, rng)
	if l.B != nil {
		FanInUniform(l.B, l.inDim, rng)
	}
	return l
}

// InDim returns the input feature width.
func (l *Linear) InDim() int { return l.inDim }

// OutDim returns the output feature width.
func (l *Linear) OutDim() int { return l.outDim }

func (l *Linear) Forward(x interface{}) (interface{}, error) {
	t, ok := x.(*tensor.Tensor)
	if !ok {
		return nil, ErrType
	}
	return l.ForwardPlain(t)
}

// ForwardPlain returns x·Wᵀ + b.
func (l *Linear) ForwardPlain(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) == 0 || x.Shape[len(x.Shape)-1] != l.inDim {
		return nil, fmt.Errorf("%w: Linear expects last dim %d, got shape %v", ErrShapeMismatch, l.inDim, x.Shape)
	}
	rows := len(x.Data) / l.inDim
	outShape := append(append([]int(nil), x.Shape[:len(x.Shape)-1]...), l.outDim)
	out := tensor.New(outShape...)
	if rows > 0 {
		xm := mat.NewDense(rows, l.inDim, x.Data)
		wm := mat.NewDense(l.outDim, l.inDim, l.W.Value.Data)
		om := mat.NewDense(rows, l.outDim, out.Data)
		om.Mul(xm, wm.T())
		if l.B != nil {
			for r := 0; r < rows; r++ {
				floats.Add(out.Data[r*l.outDim:(r+1)*l.outDim], l.B.Value.Data)
			}
		}
	}
	l.cache.Push(x)
	return out, nil
}

func (l *Linear) Backward(gradOut interface{}) (interface{}, error) {
	g, ok := gradOut.(*tensor.Tensor)
	if !ok {
		return nil, ErrType
	}
	return l.BackwardPlain(g)
}

// BackwardPlain accumulates dW, dB and returns dL/dx.
func (l *Linear) BackwardPlain(g *tensor.Tensor) (*tensor.Tensor, error) {
	x, err := l.cache.Pop()
	if err != nil {
		return nil, fmt.Errorf("Linear: %w", err)
	}
	rows := len(x.Data) / l.inDim
	if len(g.Data) != rows*l.outDim {
		return nil, fmt.Errorf("%w: Linear grad has %d elements, want %d", ErrShapeMismatch, len(g.Data), rows*l.outDim)
	}
	gradIn := tensor.New(x.Shape...)
	if rows == 0 {
		return gradIn, nil
	}
	gm := mat.NewDense(rows, l.outDim, g.Data)
	xm := mat.NewDense(rows, l.inDim, x.Data)
	wm := mat.NewDense(l.outDim, l.inDim, l.W.Value.Data)

	dx := mat.NewDense(rows, l.inDim, gradIn.Data)
	dx.Mul(gm, wm)

	var dw mat.Dense
	dw.Mul(gm.T(), xm)
	floats.Add(l.W.Grad.Data, dw.RawMatrix().Data)

	if l.B != nil {
		for r := 0; r < rows; r++ {
			floats.Add(l.B.Grad.Data, g.Data[r*l.outDim:(r+1)*l.outDim])
		}
	}
	return gradIn, nil
}

func (l *Linear) Params() []*Param {
	if l.B == nil {
		return []*Param{l.W}
	}
	return []*Param{l.W, l.B}
}

func (l *Linear) ResetCache() { l.cache.Reset() }

func (l *Linear) Tag() string {
	return fmt.Sprintf("Linear_%dx%d", l.inDim, l.outDim)
}
