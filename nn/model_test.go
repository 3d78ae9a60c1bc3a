package nn

import (
	"strings"
	"testing"

	"converter_lib/nn/layers"
	"converter_lib/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewModelKinds(t *testing.T) {
	cfg := tinyConfig(t)
	m, err := NewModel(cfg, testRNG())
	require.NoError(t, err)
	assert.IsType(t, &LRASingle{}, m)
	assert.Equal(t, 1, m.Inputs())

	cfg.ClassifierType = "dual"
	cfg.Interaction = "NLI"
	m, err = NewModel(cfg, testRNG())
	require.NoError(t, err)
	require.IsType(t, &LRADual{}, m)
	assert.Equal(t, 4*cfg.EncoderDim, m.(*LRADual).Head.FirstLayerWidth())
	assert.Equal(t, 2, m.Inputs())
}

func TestNewModelRejects(t *testing.T) {
	cfg := tinyConfig(t)
	cfg.PoolingType = "MAX"
	_, err := NewModel(cfg, testRNG())
	assert.ErrorIs(t, err, ErrUnsupportedPoolingMode)

	cfg = tinyConfig(t)
	cfg.ClassifierType = "triple"
	_, err = NewModel(cfg, testRNG())
	assert.ErrorIs(t, err, layers.ErrInvalidConfig)

	cfg = tinyConfig(t)
	m, err := NewModel(cfg, testRNG())
	require.NoError(t, err)
	_, err = m.Forward()
	assert.ErrorIs(t, err, layers.ErrShapeMismatch)
}

func TestModelParamNamesUnique(t *testing.T) {
	cfg := tinyConfig(t)
	cfg.ClassifierType = "dual"
	m, err := NewModel(cfg, testRNG())
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, p := range m.Params() {
		assert.False(t, seen[p.Name], "duplicate %s", p.Name)
		seen[p.Name] = true
	}
	assert.True(t, seen["alpha"])
	assert.True(t, seen["chsyconv.kernel_poly.cheb_coef"])
	assert.True(t, hasPrefix(seen, "classifier.linear3."))
}

func hasPrefix(names map[string]bool, prefix string) bool {
	for n := range names {
		if strings.HasPrefix(n, prefix) {
			return true
		}
	}
	return false
}

func TestModelGradients(t *testing.T) {
	for _, kind := range []string{"single", "dual"} {
		cfg := tinyConfig(t)
		cfg.ClassifierType = kind
		cfg.Interaction = "NLI"
		cfg.PoolingType = "MEAN"
		rng := testRNG()
		m, err := NewModel(cfg, rng)
		require.NoError(t, err)
		switch mm := m.(type) {
		case *LRASingle:
			mm.Encoder.Alpha.Value.Data[0] = 0.4
		case *LRADual:
			mm.Encoder.Alpha.Value.Data[0] = 0.4
		}
		inputs := make([]*tensor.IntTensor, m.Inputs())
		for i := range inputs {
			inputs[i] = randIDs(rng, cfg.VocabSize, 2, 4)
		}
		labels := []int{0, 2}

		var nll NLLLoss
		loss := func() float64 {
			m.ResetCache()
			out, err := m.Forward(inputs...)
			require.NoError(t, err)
			l, _, err := nll.Forward(out, labels)
			require.NoError(t, err)
			return l
		}
		m.ZeroGrad()
		out, err := m.Forward(inputs...)
		require.NoError(t, err)
		_, g, err := nll.Forward(out, labels)
		require.NoError(t, err)
		require.NoError(t, m.Backward(g))
		checkParamGrads(t, m.Params(), loss, 1e-5)
	}
}

func TestModelEvalIsDeterministic(t *testing.T) {
	cfg := tinyConfig(t)
	cfg.EmbedDropProb, cfg.BFFNDropProb = 0.3, 0.3
	rng := testRNG()
	m, err := NewModel(cfg, rng)
	require.NoError(t, err)
	ids := randIDs(rng, cfg.VocabSize, 2, cfg.MaxSeqLen)
	m.SetTraining(false)
	a, err := m.Forward(ids)
	require.NoError(t, err)
	b, err := m.Forward(ids)
	require.NoError(t, err)
	assert.Equal(t, a.Data, b.Data)
	m.ResetCache()
}

func TestFailedForwardLeavesNoCache(t *testing.T) {
	cfg := tinyConfig(t)
	cfg.ClassifierType = "dual"
	cfg.PoolingType = "FLATTEN"
	rng := testRNG()
	m, err := NewModel(cfg, rng)
	require.NoError(t, err)
	dual := m.(*LRADual)

	// Both encoder passes succeed; FLATTEN then rejects the short second input.
	_, err = m.Forward(randIDs(rng, cfg.VocabSize, 2, cfg.MaxSeqLen), randIDs(rng, cfg.VocabSize, 2, cfg.MaxSeqLen-1))
	require.ErrorIs(t, err, layers.ErrShapeMismatch)
	assert.Zero(t, dual.Encoder.cache.Depth())
	assert.Zero(t, dual.Head.Pool.cache.Depth())
	assert.ErrorIs(t, m.Backward(randTensor(rng, 2, cfg.NumClass)), layers.ErrNoCache)

	logp, err := m.Forward(randIDs(rng, cfg.VocabSize, 2, cfg.MaxSeqLen), randIDs(rng, cfg.VocabSize, 2, cfg.MaxSeqLen))
	require.NoError(t, err)
	require.NoError(t, m.Backward(tensor.ZerosLike(logp)))
	assert.Zero(t, dual.Encoder.cache.Depth())
}
