package layers

import (
	"fmt"
	"math"

	"converter_lib/tensor"

	"gonum.org/v1/gonum/floats"
)

// LogSoftmax normalises the last axis to log-probabilities.
type LogSoftmax struct {
	cache Cache[*tensor.Tensor]
}

func NewLogSoftmax() *LogSoftmax { return &LogSoftmax{} }

func (s *LogSoftmax) Forward(x interface{}) (interface{}, error) {
	t, ok := x.(*tensor.Tensor)
	if !ok {
		return nil, ErrType
	}
	return s.ForwardPlain(t)
}

func (s *LogSoftmax) ForwardPlain(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) == 0 {
		return nil, fmt.Errorf("%w: LogSoftmax needs at least one axis", ErrShapeMismatch)
	}
	n := x.Shape[len(x.Shape)-1]
	out := tensor.New(x.Shape...)
	if n == 0 {
		s.cache.Push(out)
		return out, nil
	}
	for r := 0; r < len(x.Data)/n; r++ {
		row := x.Data[r*n : (r+1)*n]
		lse := floats.LogSumExp(row)
		dst := out.Data[r*n : (r+1)*n]
		for i, v := range row {
			dst[i] = v - lse
		}
	}
	s.cache.Push(out)
	return out, nil
}

func (s *LogSoftmax) Backward(gradOut interface{}) (interface{}, error) {
	g, ok := gradOut.(*tensor.Tensor)
	if !ok {
		return nil, ErrType
	}
	return s.BackwardPlain(g)
}

// BackwardPlain returns g − softmax·Σg per row.
func (s *LogSoftmax) BackwardPlain(g *tensor.Tensor) (*tensor.Tensor, error) {
	y, err := s.cache.Pop()
	if err != nil {
		return nil, fmt.Errorf("LogSoftmax: %w", err)
	}
	if len(g.Data) != len(y.Data) {
		return nil, fmt.Errorf("%w: LogSoftmax grad has %d elements, want %d", ErrShapeMismatch, len(g.Data), len(y.Data))
	}
	n := y.Shape[len(y.Shape)-1]
	gradIn := tensor.New(y.Shape...)
	if n == 0 {
		return gradIn, nil
	}
	for r := 0; r < len(y.Data)/n; r++ {
		gr := g.Data[r*n : (r+1)*n]
		sum := floats.Sum(gr)
		for i := range gr {
			gradIn.Data[r*n+i] = gr[i] - math.Exp(y.Data[r*n+i])*sum
		}
	}
	return gradIn, nil
}

func (s *LogSoftmax) Params() []*Param { return nil }

func (s *LogSoftmax) ResetCache() { s.cache.Reset() }

func (s *LogSoftmax) Tag() string { return "LogSoftmax" }
