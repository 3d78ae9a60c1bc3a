package nn

import (
	"testing"

	"converter_lib/nn/layers"
	"converter_lib/tensor"
	"converter_lib/utils"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func testRNG() *rand.Rand { return rand.New(rand.NewSource(11)) }

func randTensor(rng *rand.Rand, shape ...int) *tensor.Tensor {
	t := tensor.New(shape...)
	for i := range t.Data {
		t.Data[i] = rng.Float64()*2 - 1
	}
	return t
}

func randIDs(rng *rand.Rand, vocab, b, l int) *tensor.IntTensor {
	ids := tensor.NewInt(b, l)
	for i := range ids.Data {
		ids.Data[i] = rng.Intn(vocab)
	}
	return ids
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// tinyConfig is a small deterministic model: no dropout, global coefficients.
func tinyConfig(t *testing.T) *utils.Config {
	t.Helper()
	cfg, err := utils.TaskConfig("listops")
	require.NoError(t, err)
	cfg.VocabSize = 9
	cfg.EmbedDim, cfg.EncoderDim, cfg.MLPDim = 4, 4, 6
	cfg.MaxSeqLen = 5
	cfg.NumClass = 3
	cfg.BatchSize = 2
	cfg.EmbedDropProb, cfg.EigenvalueDropProb, cfg.ChsyConvDropProb, cfg.BFFNDropProb = 0, 0, 0, 0
	require.NoError(t, utils.ValidateConfig(cfg))
	return cfg
}

// checkParamGrads compares every accumulated parameter gradient against
// central differences of loss. analytic must already hold the gradients.
func checkParamGrads(t *testing.T, ps []*layers.Param, loss func() float64, tol float64) {
	t.Helper()
	const h = 1e-5
	for _, p := range ps {
		analytic := append([]float64(nil), p.Grad.Data...)
		for i := range p.Value.Data {
			orig := p.Value.Data[i]
			p.Value.Data[i] = orig + h
			up := loss()
			p.Value.Data[i] = orig - h
			down := loss()
			p.Value.Data[i] = orig
			require.InDeltaf(t, (up-down)/(2*h), analytic[i], tol, "%s[%d]", p.Name, i)
		}
	}
}

// checkInputGrad does the same for an input tensor.
func checkInputGrad(t *testing.T, name string, x *tensor.Tensor, analytic *tensor.Tensor, loss func() float64, tol float64) {
	t.Helper()
	const h = 1e-5
	require.Len(t, analytic.Data, len(x.Data), name)
	for i := range x.Data {
		orig := x.Data[i]
		x.Data[i] = orig + h
		up := loss()
		x.Data[i] = orig - h
		down := loss()
		x.Data[i] = orig
		require.InDeltaf(t, (up-down)/(2*h), analytic.Data[i], tol, "%s[%d]", name, i)
	}
}
