package nn

import (
	"fmt"
	"math"

	"converter_lib/nn/layers"
	"converter_lib/tensor"
	"converter_lib/utils"

	"golang.org/x/exp/rand"
)

// normEps is the ScaleNorm floor used throughout the encoder.
const normEps = 1e-8

// Converter is the encoder block:
//
//	e  = embed(ids)
//	r  = chsyconv(norm(e)) + e                      (complex)
//	h  = bffn(norm(r)) + α·Re(r) + sqrt(1−α²)·Im(r)  (real)
//	out = norm(h)
//
// α is a learned scalar clamped to [0, 1] on every forward pass.
type Converter struct {
	Embed     *layers.Embedding
	EmbedNorm *layers.ScaleNorm
	Chsy      *layers.ChsyConv
	ChsyNorm  *layers.ScaleNorm
	FFN       *layers.BFFN
	FFNNorm   *layers.ScaleNorm
	Alpha     *layers.Param // raw, unclamped

	cache layers.Cache[*converterState]
}

type converterState struct {
	r *tensor.Complex
}

// NewConverter builds the encoder from a validated config.
func NewConverter(cfg *utils.Config, rng *rand.Rand) (*Converter, error) {
	pe, err := layers.ParsePEType(cfg.PEType)
	if err != nil {
		return nil, err
	}
	kc, err := cfg.KernelConfig()
	if err != nil {
		return nil, err
	}
	embed, err := layers.NewEmbedding(pe, cfg.VocabSize, cfg.MaxSeqLen, cfg.EmbedDim, cfg.EmbedDropProb, rng)
	if err != nil {
		return nil, err
	}
	slots := 1
	if cfg.CoefPerBatch {
		slots = cfg.BatchSize
	}
	chsy, err := layers.NewChsyConv(layers.ChsyConvConfig{
		Length:        cfg.MaxSeqLen,
		FeatDim:       cfg.EmbedDim,
		EigenAxis:     layers.PoolFeature,
		EigenDropProb: cfg.EigenvalueDropProb,
		ValueDropProb: cfg.ChsyConvDropProb,
		EnableKPM:     cfg.EnableKPM,
		Kernel:        kc,
		CoefSlots:     slots,
	}, rng)
	if err != nil {
		return nil, err
	}
	ffn, err := layers.NewBFFN(cfg.EmbedDim, cfg.BFFNDropProb, rng)
	if err != nil {
		return nil, err
	}

	c := &Converter{
		Embed:     embed,
		EmbedNorm: layers.NewScaleNorm(cfg.EmbedDim, normEps),
		Chsy:      chsy,
		ChsyNorm:  layers.NewScaleNorm(cfg.EmbedDim, normEps),
		FFN:       ffn,
		FFNNorm:   layers.NewScaleNorm(cfg.EmbedDim, normEps),
		Alpha:     layers.NewParam("alpha", 1),
	}
	c.Alpha.Value.Data[0] = 1
	layers.Prefix("embedding", c.Embed.Params())
	layers.Prefix("embed_norm", c.EmbedNorm.Params())
	layers.Prefix("chsyconv", c.Chsy.Params())
	layers.Prefix("chsyconv_norm", c.ChsyNorm.Params())
	layers.Prefix("bffn", c.FFN.Params())
	layers.Prefix("bffn_norm", c.FFNNorm.Params())
	return c, nil
}

// EffectiveAlpha returns α clamped to [0, 1].
func (c *Converter) EffectiveAlpha() float64 {
	return math.Min(1, math.Max(0, c.Alpha.Value.Data[0]))
}

func (c *Converter) Forward(x interface{}) (interface{}, error) {
	ids, ok := x.(*tensor.IntTensor)
	if !ok {
		return nil, fmt.Errorf("Converter: input must be *tensor.IntTensor, got %T", x)
	}
	return c.ForwardIDs(ids)
}

// ForwardIDs encodes [B, L] token ids into a real [B, L, D] tensor.
func (c *Converter) ForwardIDs(ids *tensor.IntTensor) (_ *tensor.Tensor, err error) {
	defer layers.ResetOnError(c, &err)
	e, err := c.Embed.ForwardIDs(ids)
	if err != nil {
		return nil, err
	}
	en, err := c.EmbedNorm.ForwardPlain(e)
	if err != nil {
		return nil, err
	}
	z, err := c.Chsy.ForwardPlain(en)
	if err != nil {
		return nil, err
	}
	r, err := z.AddReal(e)
	if err != nil {
		return nil, err
	}
	rn, err := c.ChsyNorm.ForwardComplex(r)
	if err != nil {
		return nil, err
	}
	h, err := c.FFN.ForwardComplex(rn)
	if err != nil {
		return nil, err
	}

	alpha := c.EffectiveAlpha()
	beta := math.Sqrt(1 - alpha*alpha)
	for i := range h.Data {
		h.Data[i] += alpha*r.Re.Data[i] + beta*r.Im.Data[i]
	}
	out, err := c.FFNNorm.ForwardPlain(h)
	if err != nil {
		return nil, err
	}
	c.cache.Push(&converterState{r: r})
	return out, nil
}

func (c *Converter) Backward(gradOut interface{}) (interface{}, error) {
	g, ok := gradOut.(*tensor.Tensor)
	if !ok {
		return nil, layers.ErrType
	}
	return nil, c.BackwardPlain(g)
}

// BackwardPlain accumulates every encoder gradient. Token ids have no
// gradient of their own.
func (c *Converter) BackwardPlain(g *tensor.Tensor) error {
	st, err := c.cache.Pop()
	if err != nil {
		return fmt.Errorf("Converter: %w", err)
	}
	gh, err := c.FFNNorm.BackwardPlain(g)
	if err != nil {
		return err
	}

	raw := c.Alpha.Value.Data[0]
	alpha := c.EffectiveAlpha()
	beta := math.Sqrt(1 - alpha*alpha)
	if raw >= 0 && raw <= 1 {
		da := 0.0
		for i, v := range gh.Data {
			da += v * st.r.Re.Data[i]
			// d sqrt(1−α²)/dα is unbounded at α = 1; that branch is skipped there.
			if beta > 0 {
				da -= v * st.r.Im.Data[i] * alpha / beta
			}
		}
		c.Alpha.Grad.Data[0] += da
	}

	gr := tensor.NewComplex(st.r.Shape()...)
	for i, v := range gh.Data {
		gr.Re.Data[i] = alpha * v
		gr.Im.Data[i] = beta * v
	}
	grn, err := c.FFN.BackwardComplex(gh)
	if err != nil {
		return err
	}
	gNorm, err := c.ChsyNorm.BackwardComplex(grn)
	if err != nil {
		return err
	}
	if err := tensor.AddInPlace(gr.Re, gNorm.Re); err != nil {
		return err
	}
	if err := tensor.AddInPlace(gr.Im, gNorm.Im); err != nil {
		return err
	}

	// r = z + e: e receives Re(gr) directly and the rest through the mixer.
	ge := gr.Re.Clone()
	gen, err := c.Chsy.BackwardComplex(gr)
	if err != nil {
		return err
	}
	gEmbed, err := c.EmbedNorm.BackwardPlain(gen)
	if err != nil {
		return err
	}
	if err := tensor.AddInPlace(ge, gEmbed); err != nil {
		return err
	}
	return c.Embed.BackwardPlain(ge)
}

// KernelCoefficients returns the Chebyshev coefficients, or nil without KPM.
func (c *Converter) KernelCoefficients() *layers.Param { return c.Chsy.KernelCoefficients() }

func (c *Converter) SetTraining(training bool) {
	c.Embed.SetTraining(training)
	c.Chsy.SetTraining(training)
	c.FFN.SetTraining(training)
}

func (c *Converter) Params() []*layers.Param {
	var ps []*layers.Param
	ps = append(ps, c.Embed.Params()...)
	ps = append(ps, c.EmbedNorm.Params()...)
	ps = append(ps, c.Chsy.Params()...)
	ps = append(ps, c.ChsyNorm.Params()...)
	ps = append(ps, c.FFN.Params()...)
	ps = append(ps, c.FFNNorm.Params()...)
	return append(ps, c.Alpha)
}

func (c *Converter) ResetCache() {
	c.cache.Reset()
	c.Embed.ResetCache()
	c.EmbedNorm.ResetCache()
	c.Chsy.ResetCache()
	c.ChsyNorm.ResetCache()
	c.FFN.ResetCache()
	c.FFNNorm.ResetCache()
}

func (c *Converter) Tag() string {
	return fmt.Sprintf("Converter_%d[%s]", c.Embed.Dim(), c.Chsy.Tag())
}
