package optim

import (
	"fmt"
	"math"

	"converter_lib/nn/layers"
)

// LRScheduler interface defines learning rate scheduling strategies
type LRScheduler interface {
	// LR returns the learning rate for the given epoch
	LR(epoch int) float64

	// Name returns the scheduler name
	Name() string
}

// ============================================================================
// Cosine Annealing, closed form
// ============================================================================

// CosineAnnealing follows
//
//	lr(t) = eta_min + (base − eta_min)·(1 + cos(π·t/t_max))/2
//
// without restarts, so past t_max the rate climbs back towards base.
type CosineAnnealing struct {
	baseLR float64
	etaMin float64
	tMax   int
}

func NewCosineAnnealing(baseLR, etaMin float64, tMax int) (*CosineAnnealing, error) {
	if tMax <= 0 {
		return nil, fmt.Errorf("%w: t_max must be positive, got %d", layers.ErrInvalidConfig, tMax)
	}
	return &CosineAnnealing{baseLR: baseLR, etaMin: etaMin, tMax: tMax}, nil
}

func (s *CosineAnnealing) LR(epoch int) float64 {
	return s.etaMin + (s.baseLR-s.etaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(s.tMax)))/2
}

func (s *CosineAnnealing) Name() string {
	return fmt.Sprintf("CosineAnnealing(t_max=%d)", s.tMax)
}
