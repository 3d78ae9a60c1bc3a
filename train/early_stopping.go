package train

import (
	"fmt"
	"math"

	"converter_lib/nn/layers"
)

// EarlyStopping watches the validation loss. An epoch whose loss does not
// exceed best − Delta counts as an improvement and calls Save; Patience
// consecutive epochs above it set Stop.
type EarlyStopping struct {
	Patience int
	Delta    float64
	Save     func(valLoss float64) error

	best    float64
	counter int
	started bool
	Stop    bool
}

func NewEarlyStopping(patience int, delta float64, save func(float64) error) (*EarlyStopping, error) {
	if patience <= 0 {
		return nil, fmt.Errorf("%w: patience must be positive, got %d", layers.ErrInvalidConfig, patience)
	}
	return &EarlyStopping{Patience: patience, Delta: delta, Save: save, best: math.Inf(1)}, nil
}

// Step records one epoch's validation loss and reports whether it improved.
func (e *EarlyStopping) Step(valLoss float64) (bool, error) {
	if e.started && valLoss > e.best-e.Delta {
		e.counter++
		if e.counter >= e.Patience {
			e.Stop = true
		}
		return false, nil
	}
	e.started = true
	e.best = valLoss
	e.counter = 0
	if e.Save != nil {
		if err := e.Save(valLoss); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Best returns the lowest validation loss seen so far.
func (e *EarlyStopping) Best() float64 { return e.best }

// Counter returns the current run of non-improving epochs.
func (e *EarlyStopping) Counter() int { return e.counter }
