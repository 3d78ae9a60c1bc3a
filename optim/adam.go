package optim

import (
	"math"

	"converter_lib/nn/layers"
)

// ============================================================================
// AdamW (Adam with decoupled weight decay)
// ============================================================================

type AdamWOptimizer struct {
	params      []*layers.Param
	beta1       float64
	beta2       float64
	epsilon     float64
	weightDecay float64
	step        int

	m moments // first moment
	v moments // second moment
}

func NewAdamW(params []*layers.Param, beta1, beta2, epsilon, weightDecay float64) *AdamWOptimizer {
	return &AdamWOptimizer{
		params:      params,
		beta1:       beta1,
		beta2:       beta2,
		epsilon:     epsilon,
		weightDecay: weightDecay,
		m:           moments{},
		v:           moments{},
	}
}

func (opt *AdamWOptimizer) Step(lr float64) {
	opt.step++
	bc1 := 1 - math.Pow(opt.beta1, float64(opt.step))
	bc2 := 1 - math.Pow(opt.beta2, float64(opt.step))

	for _, p := range opt.params {
		m, v := opt.m.get(p), opt.v.get(p)
		w := p.Value.Data
		for j, g := range p.Grad.Data {
			w[j] *= 1 - lr*opt.weightDecay
			m[j] = opt.beta1*m[j] + (1-opt.beta1)*g
			v[j] = opt.beta2*v[j] + (1-opt.beta2)*g*g
			w[j] -= lr * (m[j] / bc1) / (math.Sqrt(v[j]/bc2) + opt.epsilon)
		}
	}
}

func (opt *AdamWOptimizer) Reset() {
	opt.step = 0
	opt.m = moments{}
	opt.v = moments{}
}

func (opt *AdamWOptimizer) Name() string { return "AdamW" }

// ============================================================================
// NAdamW (NAdam with decoupled weight decay and momentum decay)
// ============================================================================

// nadamMomentumDecay is ψ in μ_t = β1·(1 − ½·0.96^(t·ψ)).
const nadamMomentumDecay = 0.004

type NAdamWOptimizer struct {
	params      []*layers.Param
	beta1       float64
	beta2       float64
	epsilon     float64
	weightDecay float64
	step        int
	muProduct   float64

	m moments
	v moments
}

func NewNAdamW(params []*layers.Param, beta1, beta2, epsilon, weightDecay float64) *NAdamWOptimizer {
	return &NAdamWOptimizer{
		params:      params,
		beta1:       beta1,
		beta2:       beta2,
		epsilon:     epsilon,
		weightDecay: weightDecay,
		muProduct:   1,
		m:           moments{},
		v:           moments{},
	}
}

func (opt *NAdamWOptimizer) mu(t int) float64 {
	return opt.beta1 * (1 - 0.5*math.Pow(0.96, float64(t)*nadamMomentumDecay))
}

func (opt *NAdamWOptimizer) Step(lr float64) {
	opt.step++
	bc2 := 1 - math.Pow(opt.beta2, float64(opt.step))
	mu, muNext := opt.mu(opt.step), opt.mu(opt.step+1)
	opt.muProduct *= mu
	gradCoef := lr * (1 - mu) / (1 - opt.muProduct)
	momCoef := lr * muNext / (1 - opt.muProduct*muNext)

	for _, p := range opt.params {
		m, v := opt.m.get(p), opt.v.get(p)
		w := p.Value.Data
		for j, g := range p.Grad.Data {
			w[j] *= 1 - lr*opt.weightDecay
			m[j] = opt.beta1*m[j] + (1-opt.beta1)*g
			v[j] = opt.beta2*v[j] + (1-opt.beta2)*g*g
			denom := math.Sqrt(v[j]/bc2) + opt.epsilon
			w[j] -= (gradCoef*g + momCoef*m[j]) / denom
		}
	}
}

func (opt *NAdamWOptimizer) Reset() {
	opt.step = 0
	opt.muProduct = 1
	opt.m = moments{}
	opt.v = moments{}
}

func (opt *NAdamWOptimizer) Name() string { return "NAdamW" }

// ============================================================================
// Adan (adaptive Nesterov momentum)
// ============================================================================

type AdanOptimizer struct {
	params      []*layers.Param
	beta1       float64
	beta2       float64
	beta3       float64
	epsilon     float64
	weightDecay float64
	step        int

	m, diff, n, prev moments
}

func NewAdan(params []*layers.Param, beta1, beta2, beta3, epsilon, weightDecay float64) *AdanOptimizer {
	opt := &AdanOptimizer{
		params:      params,
		beta1:       beta1,
		beta2:       beta2,
		beta3:       beta3,
		epsilon:     epsilon,
		weightDecay: weightDecay,
	}
	opt.Reset()
	return opt
}

func (opt *AdanOptimizer) Step(lr float64) {
	opt.step++
	bc1 := 1 - math.Pow(opt.beta1, float64(opt.step))
	bc2 := 1 - math.Pow(opt.beta2, float64(opt.step))
	bc3 := 1 - math.Pow(opt.beta3, float64(opt.step))

	for _, p := range opt.params {
		m, d, n, prev := opt.m.get(p), opt.diff.get(p), opt.n.get(p), opt.prev.get(p)
		w := p.Value.Data
		for j, g := range p.Grad.Data {
			delta := 0.0
			if opt.step > 1 {
				delta = g - prev[j]
			}
			m[j] = opt.beta1*m[j] + (1-opt.beta1)*g
			d[j] = opt.beta2*d[j] + (1-opt.beta2)*delta
			u := g + opt.beta2*delta
			n[j] = opt.beta3*n[j] + (1-opt.beta3)*u*u
			denom := math.Sqrt(n[j]/bc3) + opt.epsilon
			update := (m[j]/bc1 + opt.beta2*d[j]/bc2) / denom
			w[j] = (w[j] - lr*update) / (1 + lr*opt.weightDecay)
			prev[j] = g
		}
	}
}

func (opt *AdanOptimizer) Reset() {
	opt.step = 0
	opt.m, opt.diff, opt.n, opt.prev = moments{}, moments{}, moments{}, moments{}
}

func (opt *AdanOptimizer) Name() string { return "Adan" }
