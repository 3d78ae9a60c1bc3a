package layers

import "converter_lib/tensor"

// Param is a learnable tensor and its accumulated gradient.
type Param struct {
	Name  string
	Value *tensor.Tensor
	Grad  *tensor.Tensor
}

// NewParam allocates a zeroed parameter of the given shape.
func NewParam(name string, shape ...int) *Param {
	return &Param{Name: name, Value: tensor.New(shape...), Grad: tensor.New(shape...)}
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() { p.Grad.Zero() }

// Prefix renames every parameter as prefix.name. Owners call it once, at
// construction, on the parameters of each child.
func Prefix(prefix string, ps []*Param) []*Param {
	for _, p := range ps {
		p.Name = prefix + "." + p.Name
	}
	return ps
}

// Cache records forward state for backward. Forward pushes and Backward
// pops, so a layer shared by several forward calls unwinds in reverse order.
type Cache[T any] struct {
	items []T
}

func (s *Cache[T]) Push(v T) { s.items = append(s.items, v) }

// Pop returns ErrNoCache when nothing was pushed.
func (s *Cache[T]) Pop() (T, error) {
	var zero T
	if len(s.items) == 0 {
		return zero, ErrNoCache
	}
	v := s.items[len(s.items)-1]
	s.items[len(s.items)-1] = zero
	s.items = s.items[:len(s.items)-1]
	return v, nil
}

func (s *Cache[T]) Reset() {
	clear(s.items)
	s.items = s.items[:0]
}

func (s *Cache[T]) Depth() int { return len(s.items) }

// ResetOnError clears every cache under m when *err is set. Composite
// forwards defer it so a pass that fails partway leaves no state behind.
func ResetOnError(m interface{ ResetCache() }, err *error) {
	if *err != nil {
		m.ResetCache()
	}
}
