package layers

import (
	"fmt"

	"converter_lib/tensor"

	"golang.org/x/exp/rand"
)

// ChsyConvConfig configures the spectral mixing layer.
type ChsyConvConfig struct {
	Length        int      // sequence length, needed when EigenAxis is PoolSequence
	FeatDim       int      // feature width D
	EigenAxis     PoolAxis // PoolFeature gives one filter weight per frequency
	EigenDropProb float64
	ValueDropProb float64
	EnableKPM     bool
	Kernel        KernelConfig
	CoefSlots     int // Chebyshev coefficient rows; 1 shares them across the batch
}

// ChsyConv mixes a sequence in the frequency domain. An eigenvalue profile,
// optionally expanded by the kernel polynomial, filters the DFT of a value
// projection; the inverse DFT is returned as a complex tensor:
//
//	out = IFFT(filter ⊙ FFT(dropout(x·Wv)))
type ChsyConv struct {
	Eigen     *GenerateEigenvalue
	Kernel    *KernelPolynomial // nil when KPM is disabled
	Value     *Linear           // D→D, no bias
	ValueDrop *Dropout

	axis  PoolAxis
	cache Cache[*chsyState]
}

type chsyState struct {
	spectrum *tensor.Complex // FFT of the projected values
	filter   *tensor.Tensor
}

func NewChsyConv(c ChsyConvConfig, rng *rand.Rand) (*ChsyConv, error) {
	if c.FeatDim <= 0 {
		return nil, fmt.Errorf("%w: feature dim must be positive, got %d", ErrInvalidConfig, c.FeatDim)
	}
	target := c.FeatDim
	if c.EigenAxis == PoolSequence {
		if c.Length <= 0 {
			return nil, fmt.Errorf("%w: sequence pooling needs a positive length, got %d", ErrInvalidConfig, c.Length)
		}
		target = c.Length
	}
	eigen, err := NewGenerateEigenvalue(c.FeatDim, c.EigenAxis, target, c.EigenDropProb, rng)
	if err != nil {
		return nil, err
	}
	Prefix("eigenvalue", eigen.Params())

	layer := &ChsyConv{Eigen: eigen, axis: c.EigenAxis}
	if c.EnableKPM {
		slots := c.CoefSlots
		if slots <= 0 {
			slots = 1
		}
		if layer.Kernel, err = NewKernelPolynomial(c.Kernel, slots); err != nil {
			return nil, err
		}
		Prefix("kernel_poly", layer.Kernel.Params())
	}

	layer.Value = NewLinear(c.FeatDim, c.FeatDim, false)
	XavierUniform(layer.Value.W, c.FeatDim, c.FeatDim, 1, rng)
	Prefix("value", layer.Value.Params())
	if layer.ValueDrop, err = NewDropout(c.ValueDropProb, rng); err != nil {
		return nil, err
	}
	return layer, nil
}

func (c *ChsyConv) SetTraining(training bool) {
	c.Eigen.SetTraining(training)
	c.ValueDrop.SetTraining(training)
}

func (c *ChsyConv) Forward(x interface{}) (interface{}, error) {
	t, ok := x.(*tensor.Tensor)
	if !ok {
		return nil, ErrType
	}
	return c.ForwardPlain(t)
}

// ForwardPlain maps a real [B, L, D] tensor to a complex [B, L, D] tensor.
func (c *ChsyConv) ForwardPlain(x *tensor.Tensor) (_ *tensor.Complex, err error) {
	defer ResetOnError(c, &err)
	filter, err := c.Eigen.ForwardPlain(x)
	if err != nil {
		return nil, err
	}
	if c.Kernel != nil {
		if filter, err = c.Kernel.ForwardPlain(filter); err != nil {
			return nil, err
		}
	}
	value, err := c.Value.ForwardPlain(x)
	if err != nil {
		return nil, err
	}
	value = c.ValueDrop.ForwardPlain(value)

	out, spectrum, err := spectralMix(value, filter, c.axis)
	if err != nil {
		return nil, err
	}
	c.cache.Push(&chsyState{spectrum: spectrum, filter: filter})
	return out, nil
}

// SpectralMix filters the DFT of value along the sequence axis and inverts it.
// filter is [B, L] for PoolFeature or [B, D] for PoolSequence.
func SpectralMix(value, filter *tensor.Tensor, axis PoolAxis) (*tensor.Complex, error) {
	out, _, err := spectralMix(value, filter, axis)
	return out, err
}

func filterShape(shape []int, axis PoolAxis) []int {
	if axis == PoolFeature {
		return []int{shape[0], shape[1]}
	}
	return []int{shape[0], shape[2]}
}

func spectralMix(value, filter *tensor.Tensor, axis PoolAxis) (*tensor.Complex, *tensor.Complex, error) {
	if len(value.Shape) != 3 {
		return nil, nil, fmt.Errorf("%w: spectral mix expects [B, L, D], got %v", ErrShapeMismatch, value.Shape)
	}
	want := filterShape(value.Shape, axis)
	if len(filter.Shape) != 2 || filter.Shape[0] != want[0] || filter.Shape[1] != want[1] {
		return nil, nil, fmt.Errorf("%w: filter shape %v, want %v", ErrShapeMismatch, filter.Shape, want)
	}
	spectrum, err := tensor.FFT(tensor.FromReal(value))
	if err != nil {
		return nil, nil, err
	}
	mixed := applyFilter(spectrum, filter, axis)
	out, err := tensor.IFFT(mixed)
	if err != nil {
		return nil, nil, err
	}
	return out, spectrum, nil
}

// applyFilter scales Re and Im of x independently by the broadcast filter.
func applyFilter(x *tensor.Complex, filter *tensor.Tensor, axis PoolAxis) *tensor.Complex {
	shape := x.Shape()
	B, L, D := shape[0], shape[1], shape[2]
	out := tensor.NewComplex(B, L, D)
	for b := 0; b < B; b++ {
		for k := 0; k < L; k++ {
			base := (b*L + k) * D
			for d := 0; d < D; d++ {
				var f float64
				if axis == PoolSequence {
					f = filter.Data[b*D+d]
				} else {
					f = filter.Data[b*L+k]
				}
				out.Re.Data[base+d] = f * x.Re.Data[base+d]
				out.Im.Data[base+d] = f * x.Im.Data[base+d]
			}
		}
	}
	return out
}

func (c *ChsyConv) Backward(gradOut interface{}) (interface{}, error) {
	g, ok := gradOut.(*tensor.Complex)
	if !ok {
		return nil, ErrComplexType
	}
	return c.BackwardComplex(g)
}

// BackwardComplex takes g = dL/dRe + i·dL/dIm of the output and returns dL/dx.
func (c *ChsyConv) BackwardComplex(g *tensor.Complex) (*tensor.Tensor, error) {
	st, err := c.cache.Pop()
	if err != nil {
		return nil, fmt.Errorf("ChsyConv: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	shape := st.spectrum.Shape()
	if !tensor.SameShape(g.Re, st.spectrum.Re) {
		return nil, fmt.Errorf("%w: ChsyConv grad shape %v, want %v", ErrShapeMismatch, g.Re.Shape, shape)
	}
	B, L, D := shape[0], shape[1], shape[2]

	// The adjoint of IFFT is FFT/L.
	gMixed, err := tensor.FFT(g)
	if err != nil {
		return nil, err
	}
	invL := 1 / float64(L)
	gFilter := tensor.New(st.filter.Shape...)
	for b := 0; b < B; b++ {
		for k := 0; k < L; k++ {
			base := (b*L + k) * D
			for d := 0; d < D; d++ {
				i := base + d
				gMixed.Re.Data[i] *= invL
				gMixed.Im.Data[i] *= invL
				v := gMixed.Re.Data[i]*st.spectrum.Re.Data[i] + gMixed.Im.Data[i]*st.spectrum.Im.Data[i]
				if c.axis == PoolFeature {
					gFilter.Data[b*L+k] += v
				} else {
					gFilter.Data[b*D+d] += v
				}
			}
		}
	}

	// The adjoint of FFT is L·IFFT; the projected values are real.
	gSpec := applyFilter(gMixed, st.filter, c.axis)
	gValueC, err := tensor.IFFT(gSpec)
	if err != nil {
		return nil, err
	}
	gValue := tensor.Scale(float64(L), gValueC.Re)

	if gValue, err = c.ValueDrop.BackwardPlain(gValue); err != nil {
		return nil, err
	}
	gradIn, err := c.Value.BackwardPlain(gValue)
	if err != nil {
		return nil, err
	}

	if c.Kernel != nil {
		if gFilter, err = c.Kernel.BackwardPlain(gFilter); err != nil {
			return nil, err
		}
	}
	gEigen, err := c.Eigen.BackwardPlain(gFilter)
	if err != nil {
		return nil, err
	}
	if err := tensor.AddInPlace(gradIn, gEigen); err != nil {
		return nil, err
	}
	return gradIn, nil
}

// KernelCoefficients returns the Chebyshev coefficients, or nil without KPM.
func (c *ChsyConv) KernelCoefficients() *Param {
	if c.Kernel == nil {
		return nil
	}
	return c.Kernel.Coef
}

func (c *ChsyConv) Params() []*Param {
	ps := append([]*Param(nil), c.Eigen.Params()...)
	if c.Kernel != nil {
		ps = append(ps, c.Kernel.Params()...)
	}
	return append(ps, c.Value.Params()...)
}

func (c *ChsyConv) ResetCache() {
	c.cache.Reset()
	c.Eigen.ResetCache()
	if c.Kernel != nil {
		c.Kernel.ResetCache()
	}
	c.Value.ResetCache()
	c.ValueDrop.ResetCache()
}

func (c *ChsyConv) Tag() string {
	if c.Kernel != nil {
		return "ChsyConv[" + c.Kernel.Tag() + "]"
	}
	return "ChsyConv"
}
