// Package optim holds the first- and second-order optimizers and the
// learning-rate schedule used by the trainer.
package optim

import (
	"fmt"
	"strings"

	"converter_lib/nn/layers"
)

// Optimizer applies accumulated parameter gradients.
type Optimizer interface {
	// Step updates every parameter in place using learning rate lr. Gradients
	// are read, not cleared.
	Step(lr float64)

	// Reset clears optimizer state (moments, step counter).
	Reset()

	// Name returns the optimizer name
	Name() string
}

// HessianEstimator is implemented by optimizers that keep a diagonal
// curvature estimate. UpdateHessian reads the current gradients as one
// Gauss-Newton-Bartlett sample.
type HessianEstimator interface {
	UpdateHessian()
}

// Kind enumerates the supported optimizers.
type Kind int

const (
	AdamW Kind = iota
	NAdamW
	Adan
	Lion
	Tiger
	Sophia
)

var kindNames = [...]string{
	AdamW:  "adamw",
	NAdamW: "nadamw",
	Adan:   "adan",
	Lion:   "lion",
	Tiger:  "tiger",
	Sophia: "sophia",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a config name to its Kind.
func ParseKind(name string) (Kind, error) {
	for i, n := range kindNames {
		if strings.EqualFold(n, name) {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: the %s optimizer is undefined (want one of %v)", layers.ErrInvalidConfig, name, kindNames)
}

// Options carries the settings shared by every optimizer.
type Options struct {
	WeightDecay float64
	// BatchSize scales the Sophia curvature term.
	BatchSize int
}

// New builds the optimizer of the given kind over params with its default
// hyper-parameters.
func New(kind Kind, params []*layers.Param, opts Options) (Optimizer, error) {
	if opts.WeightDecay < 0 {
		return nil, fmt.Errorf("%w: weight decay must be non-negative, got %v", layers.ErrInvalidConfig, opts.WeightDecay)
	}
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if seen[p.Name] {
			return nil, fmt.Errorf("%w: duplicate parameter %q", layers.ErrInvalidConfig, p.Name)
		}
		seen[p.Name] = true
	}
	switch kind {
	case AdamW:
		return NewAdamW(params, 0.9, 0.999, 1e-8, opts.WeightDecay), nil
	case NAdamW:
		return NewNAdamW(params, 0.9, 0.999, 1e-8, opts.WeightDecay), nil
	case Adan:
		return NewAdan(params, 0.98, 0.92, 0.99, 1e-8, opts.WeightDecay), nil
	case Lion:
		return NewLion(params, 0.9, 0.99, opts.WeightDecay), nil
	case Tiger:
		return NewTiger(params, 0.945, opts.WeightDecay), nil
	case Sophia:
		bs := opts.BatchSize
		if bs <= 0 {
			return nil, fmt.Errorf("%w: sophia needs a positive batch size, got %d", layers.ErrInvalidConfig, bs)
		}
		return NewSophiaG(params, 0.965, 0.99, 0.04, opts.WeightDecay, bs), nil
	}
	return nil, fmt.Errorf("%w: optimizer kind %d", layers.ErrInvalidConfig, int(kind))
}

// moments lazily allocates one buffer per parameter, keyed by name.
type moments map[string][]float64

func (m moments) get(p *layers.Param) []float64 {
	buf, ok := m[p.Name]
	if !ok {
		buf = make([]float64, len(p.Value.Data))
		m[p.Name] = buf
	}
	return buf
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
