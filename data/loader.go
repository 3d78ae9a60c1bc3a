package data

import (
	"fmt"

	"converter_lib/nn/layers"
	"converter_lib/tensor"

	"golang.org/x/exp/rand"
)

// Batch is one step of input: each stream is [B, L].
type Batch struct {
	Inputs []*tensor.IntTensor
	Labels []int
}

// Loader yields fixed-size batches and drops the final partial batch.
type Loader struct {
	ds        *Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
}

// NewLoader builds a loader. rng is only used when shuffle is set.
func NewLoader(ds *Dataset, batchSize int, shuffle bool, rng *rand.Rand) (*Loader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be positive, got %d", layers.ErrInvalidConfig, batchSize)
	}
	if shuffle && rng == nil {
		return nil, fmt.Errorf("%w: shuffling loader needs an rng", layers.ErrInvalidConfig)
	}
	return &Loader{ds: ds, batchSize: batchSize, shuffle: shuffle, rng: rng}, nil
}

// NumBatches returns the number of full batches per epoch.
func (l *Loader) NumBatches() int { return l.ds.Len() / l.batchSize }

// Each calls fn for every batch of one epoch, in shuffled order for a
// shuffling loader. It stops at the first error.
func (l *Loader) Each(fn func(b *Batch) error) error {
	n := l.ds.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if l.shuffle {
		l.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	for start := 0; start+l.batchSize <= n; start += l.batchSize {
		idx := order[start : start+l.batchSize]
		b := &Batch{Labels: make([]int, len(idx))}
		for k, i := range idx {
			b.Labels[k] = l.ds.Labels[i]
		}
		for _, in := range l.ds.Inputs {
			w := in.Shape[1]
			out := tensor.NewInt(len(idx), w)
			for k, i := range idx {
				copy(out.Data[k*w:(k+1)*w], in.Row(i))
			}
			b.Inputs = append(b.Inputs, out)
		}
		if err := fn(b); err != nil {
			return err
		}
	}
	return nil
}
