package nn

import (
	"fmt"
	"strings"

	"converter_lib/nn/layers"
	"converter_lib/tensor"
	"converter_lib/utils"

	"golang.org/x/exp/rand"
)

// ClassifierType selects between one and two input sequences per sample.
type ClassifierType int

const (
	ClassifierSingle ClassifierType = iota
	ClassifierDual
)

func (c ClassifierType) String() string {
	if c == ClassifierDual {
		return "dual"
	}
	return "single"
}

// Inputs returns how many id tensors the model consumes.
func (c ClassifierType) Inputs() int {
	if c == ClassifierDual {
		return 2
	}
	return 1
}

func ParseClassifierType(name string) (ClassifierType, error) {
	switch strings.ToLower(name) {
	case "single":
		return ClassifierSingle, nil
	case "dual":
		return ClassifierDual, nil
	}
	return 0, fmt.Errorf("%w: unknown classifier_type %q", layers.ErrInvalidConfig, name)
}

// Model is a full LRA network: encoder plus classifier head.
type Model interface {
	// Forward returns [B, num_class] log-probabilities.
	Forward(inputs ...*tensor.IntTensor) (*tensor.Tensor, error)
	// Backward takes dLoss/dlogp and accumulates every parameter gradient.
	Backward(g *tensor.Tensor) error
	Params() []*layers.Param
	ZeroGrad()
	ResetCache()
	SetTraining(training bool)
	// KernelCoefficients is nil when KPM is disabled.
	KernelCoefficients() *layers.Param
	Inputs() int
}

// NewModel builds the single or dual model named by cfg.ClassifierType.
func NewModel(cfg *utils.Config, rng *rand.Rand) (Model, error) {
	kind, err := ParseClassifierType(cfg.ClassifierType)
	if err != nil {
		return nil, err
	}
	pooling, err := ParsePoolingType(cfg.PoolingType)
	if err != nil {
		return nil, err
	}
	enc, err := NewConverter(cfg, rng)
	if err != nil {
		return nil, err
	}
	switch kind {
	case ClassifierDual:
		inter, err := ParseInteraction(cfg.Interaction)
		if err != nil {
			return nil, err
		}
		head, err := NewDualClassifier(pooling, cfg.MaxSeqLen, cfg.EncoderDim, cfg.MLPDim, cfg.NumClass, inter, rng)
		if err != nil {
			return nil, err
		}
		layers.Prefix("classifier", head.Params())
		return &LRADual{Encoder: enc, Head: head}, nil
	default:
		head, err := NewSingleClassifier(pooling, cfg.MaxSeqLen, cfg.EncoderDim, cfg.MLPDim, cfg.NumClass, rng)
		if err != nil {
			return nil, err
		}
		layers.Prefix("classifier", head.Params())
		return &LRASingle{Encoder: enc, Head: head}, nil
	}
}

func zeroGrad(ps []*layers.Param) {
	for _, p := range ps {
		p.ZeroGrad()
	}
}

// LRASingle classifies one token sequence per sample.
type LRASingle struct {
	Encoder *Converter
	Head    *SingleClassifier
}

func (m *LRASingle) Inputs() int { return 1 }

func (m *LRASingle) Forward(inputs ...*tensor.IntTensor) (_ *tensor.Tensor, err error) {
	defer layers.ResetOnError(m, &err)
	if len(inputs) != 1 {
		return nil, fmt.Errorf("%w: single model takes 1 input, got %d", layers.ErrShapeMismatch, len(inputs))
	}
	enc, err := m.Encoder.ForwardIDs(inputs[0])
	if err != nil {
		return nil, err
	}
	return m.Head.ForwardPlain(enc)
}

func (m *LRASingle) Backward(g *tensor.Tensor) error {
	gEnc, err := m.Head.BackwardPlain(g)
	if err != nil {
		return err
	}
	return m.Encoder.BackwardPlain(gEnc)
}

func (m *LRASingle) Params() []*layers.Param {
	return append(m.Encoder.Params(), m.Head.Params()...)
}

func (m *LRASingle) ZeroGrad() { zeroGrad(m.Params()) }

func (m *LRASingle) ResetCache() {
	m.Encoder.ResetCache()
	m.Head.ResetCache()
}

func (m *LRASingle) SetTraining(training bool) { m.Encoder.SetTraining(training) }

func (m *LRASingle) KernelCoefficients() *layers.Param { return m.Encoder.KernelCoefficients() }

// LRADual runs one shared encoder over both sequences of a pair.
type LRADual struct {
	Encoder *Converter
	Head    *DualClassifier
}

func (m *LRADual) Inputs() int { return 2 }

func (m *LRADual) Forward(inputs ...*tensor.IntTensor) (_ *tensor.Tensor, err error) {
	defer layers.ResetOnError(m, &err)
	if len(inputs) != 2 {
		return nil, fmt.Errorf("%w: dual model takes 2 inputs, got %d", layers.ErrShapeMismatch, len(inputs))
	}
	e1, err := m.Encoder.ForwardIDs(inputs[0])
	if err != nil {
		return nil, err
	}
	e2, err := m.Encoder.ForwardIDs(inputs[1])
	if err != nil {
		return nil, err
	}
	return m.Head.ForwardPlain(e1, e2)
}

// Backward unwinds the encoder caches in reverse: second input, then first.
func (m *LRADual) Backward(g *tensor.Tensor) error {
	g1, g2, err := m.Head.BackwardPlain(g)
	if err != nil {
		return err
	}
	if err := m.Encoder.BackwardPlain(g2); err != nil {
		return err
	}
	return m.Encoder.BackwardPlain(g1)
}

func (m *LRADual) Params() []*layers.Param {
	return append(m.Encoder.Params(), m.Head.Params()...)
}

func (m *LRADual) ZeroGrad() { zeroGrad(m.Params()) }

func (m *LRADual) ResetCache() {
	m.Encoder.ResetCache()
	m.Head.ResetCache()
}

func (m *LRADual) SetTraining(training bool) { m.Encoder.SetTraining(training) }

func (m *LRADual) KernelCoefficients() *layers.Param { return m.Encoder.KernelCoefficients() }
