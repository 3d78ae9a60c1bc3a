package nn

import (
	"errors"
	"fmt"
	"strings"

	"converter_lib/nn/layers"
	"converter_lib/tensor"

	"golang.org/x/exp/rand"
)

// ErrUnsupportedPoolingMode is returned for pooling names outside CLS, MEAN,
// SUM and FLATTEN.
var ErrUnsupportedPoolingMode = errors.New("pooling type is not supported")

// PoolingType reduces a [B, L, D] encoding to one vector per sample.
type PoolingType int

const (
	PoolCLS PoolingType = iota
	PoolMean
	PoolSum
	PoolFlatten
)

var poolingNames = [...]string{PoolCLS: "CLS", PoolMean: "MEAN", PoolSum: "SUM", PoolFlatten: "FLATTEN"}

func (p PoolingType) String() string {
	if p >= 0 && int(p) < len(poolingNames) {
		return poolingNames[p]
	}
	return fmt.Sprintf("PoolingType(%d)", int(p))
}

func ParsePoolingType(name string) (PoolingType, error) {
	for i, n := range poolingNames {
		if strings.EqualFold(n, name) {
			return PoolingType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedPoolingMode, name)
}

// Interaction combines the two pooled encodings of the dual head.
type Interaction int

const (
	// InteractionConcat is [a, b].
	InteractionConcat Interaction = iota
	// InteractionNLI is [a, b, a⊙b, a−b].
	InteractionNLI
)

func (i Interaction) String() string {
	if i == InteractionNLI {
		return "NLI"
	}
	return "concat"
}

// width is the multiple of the pooled width fed to the first layer.
func (i Interaction) width() int {
	if i == InteractionNLI {
		return 4
	}
	return 2
}

func ParseInteraction(name string) (Interaction, error) {
	switch strings.ToLower(name) {
	case "concat":
		return InteractionConcat, nil
	case "nli":
		return InteractionNLI, nil
	}
	return 0, fmt.Errorf("%w: unknown interaction %q", layers.ErrInvalidConfig, name)
}

// Pooler applies a PoolingType. FLATTEN requires the full max_seq_len.
type Pooler struct {
	Mode   PoolingType
	MaxLen int

	cache layers.Cache[[]int]
}

// Width returns the pooled vector width for a feature width d.
func (p *Pooler) Width(d int) int {
	if p.Mode == PoolFlatten {
		return p.MaxLen * d
	}
	return d
}

func (p *Pooler) Forward(x interface{}) (interface{}, error) {
	t, ok := x.(*tensor.Tensor)
	if !ok {
		return nil, layers.ErrType
	}
	return p.ForwardPlain(t)
}

func (p *Pooler) ForwardPlain(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 3 {
		return nil, fmt.Errorf("%w: pooling expects [B, L, D], got %v", layers.ErrShapeMismatch, x.Shape)
	}
	B, L, D := x.Shape[0], x.Shape[1], x.Shape[2]
	var out *tensor.Tensor
	switch p.Mode {
	case PoolCLS:
		if L == 0 {
			return nil, fmt.Errorf("%w: CLS pooling of an empty sequence", layers.ErrShapeMismatch)
		}
		out = tensor.New(B, D)
		for b := 0; b < B; b++ {
			copy(out.Data[b*D:(b+1)*D], x.Data[b*L*D:])
		}
	case PoolMean, PoolSum:
		out = tensor.New(B, D)
		scale := 1.0
		if p.Mode == PoolMean && L > 0 {
			scale = 1 / float64(L)
		}
		for b := 0; b < B; b++ {
			dst := out.Data[b*D : (b+1)*D]
			for l := 0; l < L; l++ {
				src := x.Data[(b*L+l)*D:]
				for d := range dst {
					dst[d] += src[d]
				}
			}
			for d := range dst {
				dst[d] *= scale
			}
		}
	case PoolFlatten:
		if L != p.MaxLen {
			return nil, fmt.Errorf("%w: FLATTEN pooling needs length %d, got %d", layers.ErrShapeMismatch, p.MaxLen, L)
		}
		out = x.Clone()
		out.Shape = []int{B, L * D}
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedPoolingMode, p.Mode)
	}
	p.cache.Push(append([]int(nil), x.Shape...))
	return out, nil
}

func (p *Pooler) Backward(gradOut interface{}) (interface{}, error) {
	g, ok := gradOut.(*tensor.Tensor)
	if !ok {
		return nil, layers.ErrType
	}
	return p.BackwardPlain(g)
}

func (p *Pooler) BackwardPlain(g *tensor.Tensor) (*tensor.Tensor, error) {
	shape, err := p.cache.Pop()
	if err != nil {
		return nil, fmt.Errorf("Pooler: %w", err)
	}
	B, L, D := shape[0], shape[1], shape[2]
	gradIn := tensor.New(shape...)
	want := B * p.Width(D)
	if p.Mode == PoolFlatten {
		want = B * L * D
	}
	if len(g.Data) != want {
		return nil, fmt.Errorf("%w: pooling grad has %d elements, want %d", layers.ErrShapeMismatch, len(g.Data), want)
	}
	switch p.Mode {
	case PoolCLS:
		for b := 0; b < B; b++ {
			copy(gradIn.Data[b*L*D:b*L*D+D], g.Data[b*D:(b+1)*D])
		}
	case PoolMean, PoolSum:
		scale := 1.0
		if p.Mode == PoolMean && L > 0 {
			scale = 1 / float64(L)
		}
		for b := 0; b < B; b++ {
			src := g.Data[b*D : (b+1)*D]
			for l := 0; l < L; l++ {
				dst := gradIn.Data[(b*L+l)*D : (b*L+l+1)*D]
				for d := range dst {
					dst[d] = src[d] * scale
				}
			}
		}
	case PoolFlatten:
		copy(gradIn.Data, g.Data)
	}
	return gradIn, nil
}

func (p *Pooler) Params() []*layers.Param { return nil }

func (p *Pooler) ResetCache() { p.cache.Reset() }

func (p *Pooler) Tag() string { return "Pool_" + p.Mode.String() }

// newHead builds the MLP of a classifier: Linear layers without bias joined by
// LeakyReLU, then log-softmax. Hidden layers use Kaiming normal init and the
// output layer Xavier normal.
func newHead(widths []int, rng *rand.Rand) *Sequential {
	seq := &Sequential{}
	for i := 0; i+1 < len(widths); i++ {
		l := layers.NewLinear(widths[i], widths[i+1], false)
		layers.Prefix(fmt.Sprintf("linear%d", i+1), l.Params())
		last := i+2 == len(widths)
		if last {
			layers.XavierNormal(l.W, widths[i], widths[i+1], 1, rng)
		} else {
			layers.KaimingNormal(l.W, widths[i], rng)
		}
		seq.Layers = append(seq.Layers, l)
		if !last {
			seq.Layers = append(seq.Layers, layers.NewActivation(layers.LeakyReLU))
		}
	}
	seq.Layers = append(seq.Layers, layers.NewLogSoftmax())
	return seq
}

// SingleClassifier maps one encoding to class log-probabilities.
type SingleClassifier struct {
	Pool *Pooler
	Head *Sequential
}

func NewSingleClassifier(pooling PoolingType, maxLen, encoderDim, mlpDim, numClass int, rng *rand.Rand) (*SingleClassifier, error) {
	if encoderDim <= 0 || mlpDim <= 0 || numClass <= 0 {
		return nil, fmt.Errorf("%w: classifier widths must be positive", layers.ErrInvalidConfig)
	}
	pool := &Pooler{Mode: pooling, MaxLen: maxLen}
	return &SingleClassifier{
		Pool: pool,
		Head: newHead([]int{pool.Width(encoderDim), mlpDim, numClass}, rng),
	}, nil
}

// ForwardPlain returns [B, num_class] log-probabilities.
func (c *SingleClassifier) ForwardPlain(x *tensor.Tensor) (_ *tensor.Tensor, err error) {
	defer layers.ResetOnError(c, &err)
	pooled, err := c.Pool.ForwardPlain(x)
	if err != nil {
		return nil, err
	}
	out, err := c.Head.Forward(pooled)
	if err != nil {
		return nil, err
	}
	return out.(*tensor.Tensor), nil
}

func (c *SingleClassifier) BackwardPlain(g *tensor.Tensor) (*tensor.Tensor, error) {
	gp, err := c.Head.Backward(g)
	if err != nil {
		return nil, err
	}
	return c.Pool.BackwardPlain(gp.(*tensor.Tensor))
}

func (c *SingleClassifier) Params() []*layers.Param { return c.Head.Params() }

func (c *SingleClassifier) ResetCache() {
	c.Pool.ResetCache()
	c.Head.ResetCache()
}

// DualClassifier scores a pair of encodings.
type DualClassifier struct {
	Pool        *Pooler
	Interaction Interaction
	Head        *Sequential

	cache layers.Cache[[2]*tensor.Tensor]
}

func NewDualClassifier(pooling PoolingType, maxLen, encoderDim, mlpDim, numClass int, inter Interaction, rng *rand.Rand) (*DualClassifier, error) {
	if encoderDim <= 0 || mlpDim < 2 || numClass <= 0 {
		return nil, fmt.Errorf("%w: dual classifier needs positive widths and mlp_dim >= 2", layers.ErrInvalidConfig)
	}
	pool := &Pooler{Mode: pooling, MaxLen: maxLen}
	in := inter.width() * pool.Width(encoderDim)
	return &DualClassifier{
		Pool:        pool,
		Interaction: inter,
		Head:        newHead([]int{in, mlpDim, mlpDim / 2, numClass}, rng),
	}, nil
}

// FirstLayerWidth returns the input width of the first linear layer.
func (c *DualClassifier) FirstLayerWidth() int {
	return c.Head.Layers[0].(*layers.Linear).InDim()
}

func (c *DualClassifier) ForwardPlain(x1, x2 *tensor.Tensor) (_ *tensor.Tensor, err error) {
	defer layers.ResetOnError(c, &err)
	a, err := c.Pool.ForwardPlain(x1)
	if err != nil {
		return nil, err
	}
	b, err := c.Pool.ForwardPlain(x2)
	if err != nil {
		return nil, err
	}
	if !tensor.SameShape(a, b) {
		return nil, fmt.Errorf("%w: paired encodings pool to %v and %v", layers.ErrShapeMismatch, a.Shape, b.Shape)
	}
	B, W := a.Shape[0], a.Shape[1]
	k := c.Interaction.width()
	cat := tensor.New(B, k*W)
	for n := 0; n < B; n++ {
		ra, rb := a.Data[n*W:(n+1)*W], b.Data[n*W:(n+1)*W]
		row := cat.Data[n*k*W : (n+1)*k*W]
		copy(row, ra)
		copy(row[W:], rb)
		if c.Interaction == InteractionNLI {
			for i := 0; i < W; i++ {
				row[2*W+i] = ra[i] * rb[i]
				row[3*W+i] = ra[i] - rb[i]
			}
		}
	}
	c.cache.Push([2]*tensor.Tensor{a, b})
	out, err := c.Head.Forward(cat)
	if err != nil {
		return nil, err
	}
	return out.(*tensor.Tensor), nil
}

// BackwardPlain returns the gradients for the first and second encoding.
func (c *DualClassifier) BackwardPlain(g *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	ab, err := c.cache.Pop()
	if err != nil {
		return nil, nil, fmt.Errorf("DualClassifier: %w", err)
	}
	a, b := ab[0], ab[1]
	gAny, err := c.Head.Backward(g)
	if err != nil {
		return nil, nil, err
	}
	gc := gAny.(*tensor.Tensor)
	B, W := a.Shape[0], a.Shape[1]
	k := c.Interaction.width()
	ga, gb := tensor.New(B, W), tensor.New(B, W)
	for n := 0; n < B; n++ {
		row := gc.Data[n*k*W : (n+1)*k*W]
		for i := 0; i < W; i++ {
			da, db := row[i], row[W+i]
			if c.Interaction == InteractionNLI {
				prod, diff := row[2*W+i], row[3*W+i]
				da += prod*b.Data[n*W+i] + diff
				db += prod*a.Data[n*W+i] - diff
			}
			ga.Data[n*W+i] = da
			gb.Data[n*W+i] = db
		}
	}
	// The pooler is shared; its cache unwinds the second input first.
	g2, err := c.Pool.BackwardPlain(gb)
	if err != nil {
		return nil, nil, err
	}
	g1, err := c.Pool.BackwardPlain(ga)
	if err != nil {
		return nil, nil, err
	}
	return g1, g2, nil
}

func (c *DualClassifier) Params() []*layers.Param { return c.Head.Params() }

func (c *DualClassifier) ResetCache() {
	c.cache.Reset()
	c.Pool.ResetCache()
	c.Head.ResetCache()
}
