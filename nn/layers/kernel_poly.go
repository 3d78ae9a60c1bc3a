package layers

import (
	"fmt"
	"math"
	"strings"

	"converter_lib/tensor"
)

// KernelType names a Gibbs damping family of the kernel polynomial method.
type KernelType int

const (
	KernelNone KernelType = iota
	KernelDirichlet
	KernelFejer
	KernelJackson
	KernelLanczos
	KernelLorentz
	KernelVekic
	KernelWang
)

var kernelNames = [...]string{
	KernelNone:      "none",
	KernelDirichlet: "dirichlet",
	KernelFejer:     "fejer",
	KernelJackson:   "jackson",
	KernelLanczos:   "lanczos",
	KernelLorentz:   "lorentz",
	KernelVekic:     "vekic",
	KernelWang:      "wang",
}

func (k KernelType) String() string {
	if k >= 0 && int(k) < len(kernelNames) {
		return kernelNames[k]
	}
	return fmt.Sprintf("KernelType(%d)", int(k))
}

// ParseKernelType maps a config name to its KernelType.
func ParseKernelType(name string) (KernelType, error) {
	for i, n := range kernelNames {
		if strings.EqualFold(n, name) {
			return KernelType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown kernel type %q", ErrInvalidConfig, name)
}

// Undamped reports whether the family leaves every order at weight 1.
func (k KernelType) Undamped() bool { return k == KernelNone || k == KernelDirichlet }

// KernelConfig holds the family and its scalars.
type KernelConfig struct {
	Type     KernelType
	MaxOrder int
	Mu       float64 // lanczos exponent
	Xi       float64 // lorentz width
	Stigma   float64 // wang scale
	Heta     float64 // wang exponent
}

// DefaultKernelConfig mirrors the LRA task defaults.
func DefaultKernelConfig() KernelConfig {
	return KernelConfig{Type: KernelNone, MaxOrder: 2, Mu: 3, Xi: 4, Stigma: 0.5, Heta: 2}
}

func (c KernelConfig) Validate() error {
	if c.Type < KernelNone || c.Type > KernelWang {
		return fmt.Errorf("%w: unknown kernel type %d", ErrInvalidConfig, int(c.Type))
	}
	if c.MaxOrder < 0 {
		return fmt.Errorf("%w: max_order must be >= 0, got %d", ErrInvalidConfig, c.MaxOrder)
	}
	if c.Mu < 1 {
		return fmt.Errorf("%w: mu must be >= 1, got %v", ErrInvalidConfig, c.Mu)
	}
	if c.Type == KernelLorentz && c.Xi == 0 {
		return fmt.Errorf("%w: lorentz kernel needs a non-zero xi", ErrInvalidConfig)
	}
	if c.Type == KernelWang && c.Stigma <= 0 {
		return fmt.Errorf("%w: wang kernel needs stigma > 0, got %v", ErrInvalidConfig, c.Stigma)
	}
	return nil
}

// dampingRow returns the max_order+1 damping weights of one slot.
func (c KernelConfig) dampingRow() []float64 {
	n := c.MaxOrder
	g := make([]float64, n+1)
	g[0] = 1
	for k := 1; k <= n; k++ {
		x := float64(k) / float64(n+1)
		switch c.Type {
		case KernelNone, KernelDirichlet:
			g[k] = 1
		case KernelFejer:
			g[k] = 1 - x
		case KernelJackson:
			// Weiße, Wellein, Alvermann & Fehske, Rev. Mod. Phys. 78, 275 (2006).
			m := float64(n + 2)
			th := math.Pi / m
			kk := float64(k)
			g[k] = ((m-kk)*math.Sin(th)*math.Cos(kk*th) + math.Cos(th)*math.Sin(kk*th)) / (m * math.Sin(th))
		case KernelLanczos:
			g[k] = math.Pow(sinc(x), c.Mu)
		case KernelLorentz:
			// Vijay, Kouri & Hoffman, J. Phys. Chem. A 108, 8987 (2004).
			g[k] = math.Sinh(c.Xi*(1-x)) / math.Sinh(c.Xi)
		case KernelVekic:
			// Vekić & White, Phys. Rev. Lett. 71, 4283 (1993).
			g[k] = 0.5 * (1 - math.Tanh((x-0.5)/(x*(1-x))))
		case KernelWang:
			// Wang, Phys. Rev. B 49, 10154 (1994).
			g[k] = math.Exp(-math.Pow(float64(k)/(c.Stigma*float64(n+1)), c.Heta))
		}
	}
	return g
}

// sinc is the normalised sinc, sin(πx)/(πx).
func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

// DampingTable builds the [slots, max_order+1] Gibbs damping table.
func DampingTable(c KernelConfig, slots int) (*tensor.Tensor, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if slots <= 0 {
		return nil, fmt.Errorf("%w: damping table needs at least one slot, got %d", ErrInvalidConfig, slots)
	}
	row := c.dampingRow()
	t := tensor.New(slots, len(row))
	for s := 0; s < slots; s++ {
		copy(t.Data[s*len(row):], row)
	}
	return t, nil
}

// KernelPolynomial expands a spectral profile x through the Chebyshev
// recurrence, weighting each order by a learned coefficient and its damping:
//
//	T0 = coef0, T1 = x, Tk = 2·x·T(k-1) − T(k-2)
//	out = T0 + Σ_{k≥1} coef_k·damp_k·Tk
//
// Coefficients live in "slots": one shared row, or one row per batch index.
type KernelPolynomial struct {
	Config KernelConfig
	Coef   *Param         // [slots, max_order+1]
	Damp   *tensor.Tensor // [slots, max_order+1], constant

	cache Cache[*kpState]
}

type kpState struct {
	x     *tensor.Tensor
	terms [][]float64 // terms[k][i] = Tk at element i
}

func NewKernelPolynomial(c KernelConfig, slots int) (*KernelPolynomial, error) {
	damp, err := DampingTable(c, slots)
	if err != nil {
		return nil, err
	}
	coef := NewParam("cheb_coef", slots, c.MaxOrder+1)
	for i := range coef.Value.Data {
		coef.Value.Data[i] = 1
	}
	return &KernelPolynomial{Config: c, Coef: coef, Damp: damp}, nil
}

// Slots returns the number of coefficient rows.
func (k *KernelPolynomial) Slots() int { return k.Coef.Value.Shape[0] }

func (k *KernelPolynomial) slotOf(b int) int {
	if k.Slots() == 1 {
		return 0
	}
	return b
}

func (k *KernelPolynomial) Forward(x interface{}) (interface{}, error) {
	t, ok := x.(*tensor.Tensor)
	if !ok {
		return nil, ErrType
	}
	return k.ForwardPlain(t)
}

// ForwardPlain maps a [B, N] profile to its [B, N] damped expansion.
func (k *KernelPolynomial) ForwardPlain(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 2 {
		return nil, fmt.Errorf("%w: KernelPolynomial expects [B, N], got %v", ErrShapeMismatch, x.Shape)
	}
	B, N := x.Shape[0], x.Shape[1]
	if slots := k.Slots(); slots != 1 && slots != B {
		return nil, fmt.Errorf("%w: coefficients are bound to %d batch slots, got batch %d", ErrShapeMismatch, slots, B)
	}
	order := k.Config.MaxOrder
	width := order + 1
	coef, damp := k.Coef.Value.Data, k.Damp.Data

	terms := make([][]float64, width)
	for i := range terms {
		terms[i] = make([]float64, B*N)
	}
	out := tensor.New(B, N)
	for b := 0; b < B; b++ {
		s := k.slotOf(b) * width
		for n := 0; n < N; n++ {
			i := b*N + n
			v := x.Data[i]
			terms[0][i] = coef[s]
			acc := coef[s]
			if order >= 1 {
				terms[1][i] = v
				acc += v * coef[s+1] * damp[s+1]
			}
			for o := 2; o <= order; o++ {
				tk := 2*v*terms[o-1][i] - terms[o-2][i]
				terms[o][i] = tk
				acc += tk * coef[s+o] * damp[s+o]
			}
			out.Data[i] = acc
		}
	}
	k.cache.Push(&kpState{x: x, terms: terms})
	return out, nil
}

func (k *KernelPolynomial) Backward(gradOut interface{}) (interface{}, error) {
	g, ok := gradOut.(*tensor.Tensor)
	if !ok {
		return nil, ErrType
	}
	return k.BackwardPlain(g)
}

// BackwardPlain accumulates dL/dcoef and returns dL/dx by unwinding the recurrence.
func (k *KernelPolynomial) BackwardPlain(g *tensor.Tensor) (*tensor.Tensor, error) {
	st, err := k.cache.Pop()
	if err != nil {
		return nil, fmt.Errorf("KernelPolynomial: %w", err)
	}
	x := st.x
	if len(g.Data) != len(x.Data) {
		return nil, fmt.Errorf("%w: KernelPolynomial grad has %d elements, want %d", ErrShapeMismatch, len(g.Data), len(x.Data))
	}
	B, N := x.Shape[0], x.Shape[1]
	order := k.Config.MaxOrder
	width := order + 1
	coef, damp, dcoef := k.Coef.Value.Data, k.Damp.Data, k.Coef.Grad.Data

	gradIn := tensor.New(B, N)
	adj := make([]float64, width)
	for b := 0; b < B; b++ {
		s := k.slotOf(b) * width
		for n := 0; n < N; n++ {
			i := b*N + n
			gi := g.Data[i]
			v := x.Data[i]
			adj[0] = gi
			for o := 1; o <= order; o++ {
				adj[o] = gi * coef[s+o] * damp[s+o]
				dcoef[s+o] += gi * damp[s+o] * st.terms[o][i]
			}
			dx := 0.0
			for o := order; o >= 2; o-- {
				adj[o-1] += 2 * v * adj[o]
				adj[o-2] -= adj[o]
				dx += 2 * st.terms[o-1][i] * adj[o]
			}
			if order >= 1 {
				dx += adj[1]
			}
			dcoef[s] += adj[0]
			gradIn.Data[i] = dx
		}
	}
	return gradIn, nil
}

func (k *KernelPolynomial) Params() []*Param { return []*Param{k.Coef} }

func (k *KernelPolynomial) ResetCache() { k.cache.Reset() }

func (k *KernelPolynomial) Tag() string {
	return fmt.Sprintf("KernelPolynomial_%s_%d", k.Config.Type, k.Config.MaxOrder)
}
