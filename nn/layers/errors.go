package layers

import "errors"

var (
	// ErrInvalidConfig marks construction-time configuration errors.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrShapeMismatch marks tensors whose shape a layer cannot accept.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrNoCache is returned by Backward when no matching Forward was recorded.
	ErrNoCache = errors.New("backward called without a cached forward pass")
)

var ErrType = &TypeError{"input must be *tensor.Tensor"}

var ErrComplexType = &TypeError{"input must be *tensor.Tensor or *tensor.Complex"}

type TypeError struct{ msg string }

func (e *TypeError) Error() string { return e.msg }
