package layers

import (
	"fmt"

	"converter_lib/tensor"

	"golang.org/x/exp/rand"
)

// GenerateEigenvalue projects a [B, L, D] sequence onto one scalar per
// remaining position: pointwise conv → sin → dropout → full average pool.
// Pooling the feature axis yields [B, L]; pooling the sequence axis yields [B, D].
type GenerateEigenvalue struct {
	Conv *Linear // 1×1 channel convolution, D→D with bias
	Act  *Activation
	Drop *Dropout
	Pool *AvgPool1D

	cache Cache[[]int]
}

// NewGenerateEigenvalue pools along axis with kernel targetSize, which must
// equal the size of that axis at forward time.
func NewGenerateEigenvalue(featDim int, axis PoolAxis, targetSize int, dropProb float64, rng *rand.Rand) (*GenerateEigenvalue, error) {
	pool, err := NewAvgPool1D(axis, targetSize)
	if err != nil {
		return nil, err
	}
	drop, err := NewDropout(dropProb, rng)
	if err != nil {
		return nil, err
	}
	conv := NewLinear(featDim, featDim, true).InitFanIn(rng)
	Prefix("conv", conv.Params())
	return &GenerateEigenvalue{
		Conv: conv,
		Act:  NewActivation(Sin),
		Drop: drop,
		Pool: pool,
	}, nil
}

func (g *GenerateEigenvalue) SetTraining(training bool) { g.Drop.SetTraining(training) }

func (g *GenerateEigenvalue) Forward(x interface{}) (interface{}, error) {
	t, ok := x.(*tensor.Tensor)
	if !ok {
		return nil, ErrType
	}
	return g.ForwardPlain(t)
}

func (g *GenerateEigenvalue) ForwardPlain(x *tensor.Tensor) (_ *tensor.Tensor, err error) {
	defer ResetOnError(g, &err)
	if len(x.Shape) != 3 {
		return nil, fmt.Errorf("%w: GenerateEigenvalue expects [B, L, D], got %v", ErrShapeMismatch, x.Shape)
	}
	B, L, D := x.Shape[0], x.Shape[1], x.Shape[2]
	reduced, kept := L, D
	if g.Pool.Axis == PoolFeature {
		reduced, kept = D, L
	}
	if reduced != g.Pool.Window {
		return nil, fmt.Errorf("%w: pool kernel %d must cover the full %s axis of size %d", ErrShapeMismatch, g.Pool.Window, g.Pool.Axis, reduced)
	}

	h, err := g.Conv.ForwardPlain(x)
	if err != nil {
		return nil, err
	}
	h = g.Act.ForwardPlain(h)
	h = g.Drop.ForwardPlain(h)
	pooled, err := g.Pool.ForwardPlain(h)
	if err != nil {
		return nil, err
	}
	g.cache.Push(append([]int(nil), pooled.Shape...))
	return pooled.Reshape(B, kept)
}

func (g *GenerateEigenvalue) Backward(gradOut interface{}) (interface{}, error) {
	t, ok := gradOut.(*tensor.Tensor)
	if !ok {
		return nil, ErrType
	}
	return g.BackwardPlain(t)
}

func (g *GenerateEigenvalue) BackwardPlain(grad *tensor.Tensor) (*tensor.Tensor, error) {
	pooledShape, err := g.cache.Pop()
	if err != nil {
		return nil, fmt.Errorf("GenerateEigenvalue: %w", err)
	}
	gp, err := grad.Reshape(pooledShape...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}
	h, err := g.Pool.BackwardPlain(gp)
	if err != nil {
		return nil, err
	}
	if h, err = g.Drop.BackwardPlain(h); err != nil {
		return nil, err
	}
	if h, err = g.Act.BackwardPlain(h); err != nil {
		return nil, err
	}
	return g.Conv.BackwardPlain(h)
}

func (g *GenerateEigenvalue) Params() []*Param { return g.Conv.Params() }

func (g *GenerateEigenvalue) ResetCache() {
	g.cache.Reset()
	g.Conv.ResetCache()
	g.Act.ResetCache()
	g.Drop.ResetCache()
	g.Pool.ResetCache()
}

func (g *GenerateEigenvalue) Tag() string {
	return fmt.Sprintf("GenerateEigenvalue_%s", g.Pool.Axis)
}
