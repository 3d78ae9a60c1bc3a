package optim

import (
	"fmt"
	"math"

	"converter_lib/nn/layers"
	"converter_lib/tensor"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// ============================================================================
// SophiaG (clipped second-order update with a Gauss-Newton-Bartlett Hessian)
// ============================================================================

type SophiaGOptimizer struct {
	params      []*layers.Param
	beta1       float64
	beta2       float64
	rho         float64
	weightDecay float64
	batchSize   int

	m moments
	h moments // diagonal Hessian EMA
}

func NewSophiaG(params []*layers.Param, beta1, beta2, rho, weightDecay float64, batchSize int) *SophiaGOptimizer {
	return &SophiaGOptimizer{
		params:      params,
		beta1:       beta1,
		beta2:       beta2,
		rho:         rho,
		weightDecay: weightDecay,
		batchSize:   batchSize,
		m:           moments{},
		h:           moments{},
	}
}

// UpdateHessian folds g² of the current gradients into the Hessian EMA. The
// gradients must come from a loss on labels sampled from the model itself.
func (opt *SophiaGOptimizer) UpdateHessian() {
	for _, p := range opt.params {
		h := opt.h.get(p)
		for j, g := range p.Grad.Data {
			h[j] = opt.beta2*h[j] + (1-opt.beta2)*g*g
		}
	}
}

func (opt *SophiaGOptimizer) Step(lr float64) {
	scale := opt.rho * float64(opt.batchSize)
	for _, p := range opt.params {
		m, h := opt.m.get(p), opt.h.get(p)
		w := p.Value.Data
		for j, g := range p.Grad.Data {
			m[j] = opt.beta1*m[j] + (1-opt.beta1)*g
			w[j] *= 1 - lr*opt.weightDecay
			ratio := math.Min(math.Abs(m[j])/(scale*h[j]+1e-15), 1)
			w[j] -= lr * sign(m[j]) * ratio
		}
	}
}

func (opt *SophiaGOptimizer) Reset() {
	opt.m = moments{}
	opt.h = moments{}
}

func (opt *SophiaGOptimizer) Name() string { return "SophiaG" }

// SampleLabels draws one label per row of a [B, C] log-probability tensor from
// the categorical distribution it describes.
func SampleLabels(logp *tensor.Tensor, rng *rand.Rand) ([]int, error) {
	if len(logp.Shape) != 2 {
		return nil, fmt.Errorf("%w: expected [B, C] log-probabilities, got %v", layers.ErrShapeMismatch, logp.Shape)
	}
	B, C := logp.Shape[0], logp.Shape[1]
	labels := make([]int, B)
	w := make([]float64, C)
	for b := range labels {
		for c := range w {
			w[c] = math.Exp(logp.Data[b*C+c])
		}
		labels[b] = int(distuv.NewCategorical(w, rng).Rand())
	}
	return labels, nil
}
