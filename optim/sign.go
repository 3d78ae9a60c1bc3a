package optim

import "converter_lib/nn/layers"

// ============================================================================
// Lion (sign of interpolated momentum)
// ============================================================================

type LionOptimizer struct {
	params      []*layers.Param
	beta1       float64
	beta2       float64
	weightDecay float64

	m moments
}

func NewLion(params []*layers.Param, beta1, beta2, weightDecay float64) *LionOptimizer {
	return &LionOptimizer{params: params, beta1: beta1, beta2: beta2, weightDecay: weightDecay, m: moments{}}
}

func (opt *LionOptimizer) Step(lr float64) {
	for _, p := range opt.params {
		m := opt.m.get(p)
		w := p.Value.Data
		for j, g := range p.Grad.Data {
			w[j] *= 1 - lr*opt.weightDecay
			w[j] -= lr * sign(opt.beta1*m[j]+(1-opt.beta1)*g)
			m[j] = opt.beta2*m[j] + (1-opt.beta2)*g
		}
	}
}

func (opt *LionOptimizer) Reset() { opt.m = moments{} }

func (opt *LionOptimizer) Name() string { return "Lion" }

// ============================================================================
// Tiger (sign of a single momentum, decay added to the update)
// ============================================================================

type TigerOptimizer struct {
	params      []*layers.Param
	beta        float64
	weightDecay float64

	m moments
}

func NewTiger(params []*layers.Param, beta, weightDecay float64) *TigerOptimizer {
	return &TigerOptimizer{params: params, beta: beta, weightDecay: weightDecay, m: moments{}}
}

func (opt *TigerOptimizer) Step(lr float64) {
	for _, p := range opt.params {
		m := opt.m.get(p)
		w := p.Value.Data
		for j, g := range p.Grad.Data {
			m[j] = opt.beta*m[j] + (1-opt.beta)*g
			w[j] -= lr * (sign(m[j]) + opt.weightDecay*w[j])
		}
	}
}

func (opt *TigerOptimizer) Reset() { opt.m = moments{} }

func (opt *TigerOptimizer) Name() string { return "Tiger" }
