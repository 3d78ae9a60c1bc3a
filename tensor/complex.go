package tensor

import "fmt"

// Complex is a complex-valued tensor stored as paired real and imaginary parts
// of identical shape.
type Complex struct {
	Re, Im *Tensor
}

// NewComplex allocates a zeroed complex tensor.
func NewComplex(shape ...int) *Complex {
	return &Complex{Re: New(shape...), Im: New(shape...)}
}

// FromReal promotes a real tensor to complex with a zero imaginary part.
// Re shares storage with t.
func FromReal(t *Tensor) *Complex {
	return &Complex{Re: t, Im: New(t.Shape...)}
}

// Shape returns the shared shape of both parts.
func (c *Complex) Shape() []int { return c.Re.Shape }

// Clone returns a deep copy.
func (c *Complex) Clone() *Complex {
	return &Complex{Re: c.Re.Clone(), Im: c.Im.Clone()}
}

// AddReal returns c + r where r is real.
func (c *Complex) AddReal(r *Tensor) (*Complex, error) {
	re, err := Add(c.Re, r)
	if err != nil {
		return nil, err
	}
	return &Complex{Re: re, Im: c.Im.Clone()}, nil
}

// Validate checks the two parts agree in shape.
func (c *Complex) Validate() error {
	if c.Re == nil || c.Im == nil {
		return fmt.Errorf("complex tensor has a nil part")
	}
	if !SameShape(c.Re, c.Im) {
		return fmt.Errorf("complex parts disagree: %v vs %v", c.Re.Shape, c.Im.Shape)
	}
	return nil
}
