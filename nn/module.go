package nn

import (
	"strings"

	"converter_lib/nn/layers"
)

// Module defines a single layer/unit in the network.
type Module interface {
	Forward(input interface{}) (interface{}, error)
	// Backward computes gradients and propagates them.
	// It takes the gradient of the loss with respect to the module's output,
	// and returns the gradient of the loss with respect to the module's input.
	Backward(gradOut interface{}) (interface{}, error)
	Params() []*layers.Param
	ResetCache()
	Tag() string
}

// Trainable is implemented by modules that behave differently in training
// and evaluation (dropout).
type Trainable interface {
	SetTraining(training bool)
}

// Sequential chains multiple Modules in order.
type Sequential struct {
	Layers []Module
}

// Forward applies each layer in sequence.
func (s *Sequential) Forward(x interface{}) (_ interface{}, err error) {
	defer layers.ResetOnError(s, &err)
	out := x
	for _, layer := range s.Layers {
		out, err = layer.Forward(out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Backward applies Backward in reverse order.
func (s *Sequential) Backward(grad interface{}) (interface{}, error) {
	var err error
	out := grad
	for i := len(s.Layers) - 1; i >= 0; i-- {
		out, err = s.Layers[i].Backward(out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Params concatenates the parameters of all layers.
func (s *Sequential) Params() []*layers.Param {
	var ps []*layers.Param
	for _, layer := range s.Layers {
		ps = append(ps, layer.Params()...)
	}
	return ps
}

func (s *Sequential) ResetCache() {
	for _, layer := range s.Layers {
		layer.ResetCache()
	}
}

// SetTraining forwards the mode to every Trainable layer.
func (s *Sequential) SetTraining(training bool) {
	for _, layer := range s.Layers {
		if t, ok := layer.(Trainable); ok {
			t.SetTraining(training)
		}
	}
}

func (s *Sequential) Tag() string {
	tags := make([]string, len(s.Layers))
	for i, layer := range s.Layers {
		tags[i] = layer.Tag()
	}
	return "Sequential[" + strings.Join(tags, ",") + "]"
}
