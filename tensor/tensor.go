package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Tensor is a simple n-D array backed by a flat, row-major []float64.
type Tensor struct {
	Data  []float64
	Shape []int
}

// New allocates a zeroed Tensor of given shape (product of dims = len(Data)).
func New(shape ...int) *Tensor {
	return &Tensor{
		Data:  make([]float64, numel(shape)),
		Shape: append([]int(nil), shape...),
	}
}

// NewWithData creates a 1-D tensor from existing data slice.
func NewWithData(data []float64) *Tensor {
	return &Tensor{
		Data:  append([]float64(nil), data...),
		Shape: []int{len(data)},
	}
}

// FromSlice wraps a copy of data with the given shape.
func FromSlice(data []float64, shape ...int) (*Tensor, error) {
	if numel(shape) != len(data) {
		return nil, fmt.Errorf("shape %v needs %d elements, got %d", shape, numel(shape), len(data))
	}
	return &Tensor{
		Data:  append([]float64(nil), data...),
		Shape: append([]int(nil), shape...),
	}, nil
}

// Full allocates a tensor with every element set to v.
func Full(v float64, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

func numel(shape []int) int {
	total := 1
	for _, d := range shape {
		total *= d
	}
	return total
}

// Len returns the number of elements.
func (t *Tensor) Len() int { return len(t.Data) }

// Dims returns the rank of the tensor.
func (t *Tensor) Dims() int { return len(t.Shape) }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Data:  append([]float64(nil), t.Data...),
		Shape: append([]int(nil), t.Shape...),
	}
}

// ZerosLike allocates a zeroed tensor with t's shape.
func ZerosLike(t *Tensor) *Tensor { return New(t.Shape...) }

// Zero sets every element to 0 in place.
func (t *Tensor) Zero() {
	for i := range t.Data {
		t.Data[i] = 0
	}
}

// Reshape returns a view sharing Data with a new shape.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	if numel(shape) != len(t.Data) {
		return nil, fmt.Errorf("cannot reshape %v into %v", t.Shape, shape)
	}
	return &Tensor{Data: t.Data, Shape: append([]int(nil), shape...)}, nil
}

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b *Tensor) bool {
	if len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}

// Add returns a+b (same shape), or error if shapes differ.
func Add(a, b *Tensor) (*Tensor, error) {
	if !SameShape(a, b) {
		return nil, fmt.Errorf("shape mismatch: %v vs %v", a.Shape, b.Shape)
	}
	out := New(a.Shape...)
	for i := range a.Data {
		out.Data[i] = a.Data[i] + b.Data[i]
	}
	return out, nil
}

// AddInPlace accumulates src into dst.
func AddInPlace(dst, src *Tensor) error {
	if !SameShape(dst, src) {
		return fmt.Errorf("shape mismatch: %v vs %v", dst.Shape, src.Shape)
	}
	for i, v := range src.Data {
		dst.Data[i] += v
	}
	return nil
}

// Scale returns s·a.
func Scale(s float64, a *Tensor) *Tensor {
	out := New(a.Shape...)
	for i, v := range a.Data {
		out.Data[i] = s * v
	}
	return out
}

// Mul returns the elementwise product a⊙b.
func Mul(a, b *Tensor) (*Tensor, error) {
	if !SameShape(a, b) {
		return nil, fmt.Errorf("shape mismatch: %v vs %v", a.Shape, b.Shape)
	}
	out := New(a.Shape...)
	for i := range a.Data {
		out.Data[i] = a.Data[i] * b.Data[i]
	}
	return out, nil
}

// Dense views a 2-D tensor as a gonum matrix without copying.
func (t *Tensor) Dense() (*mat.Dense, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("Dense requires a 2-D tensor, got %v", t.Shape)
	}
	return mat.NewDense(t.Shape[0], t.Shape[1], t.Data), nil
}

// MatMul returns a×b (2-D only), or error if dims mismatch.
func MatMul(a, b *Tensor) (*Tensor, error) {
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		return nil, fmt.Errorf("MatMul requires 2-D tensors, got %v and %v", a.Shape, b.Shape)
	}
	r, k := a.Shape[0], a.Shape[1]
	k2, c := b.Shape[0], b.Shape[1]
	if k != k2 {
		return nil, fmt.Errorf("inner dimensions must match: %d vs %d", k, k2)
	}
	out := New(r, c)
	am, _ := a.Dense()
	bm, _ := b.Dense()
	om, _ := out.Dense()
	om.Mul(am, bm)
	return out, nil
}

// At returns the element at the given indices.
// For a 3D tensor [b, n, d], At(i, j, k) returns the element at position [i][j][k].
func (t *Tensor) At(indices ...int) float64 {
	return t.Data[t.offset("At", indices)]
}

// Set sets the element at the given indices to the given value.
func (t *Tensor) Set(value float64, indices ...int) {
	t.Data[t.offset("Set", indices)] = value
}

func (t *Tensor) offset(op string, indices []int) int {
	if len(indices) != len(t.Shape) {
		panic(fmt.Sprintf("%s: expected %d indices, got %d", op, len(t.Shape), len(indices)))
	}
	idx := 0
	stride := 1
	for i := len(indices) - 1; i >= 0; i-- {
		if indices[i] < 0 || indices[i] >= t.Shape[i] {
			panic(fmt.Sprintf("%s: index %d out of bounds for dimension %d (shape: %v)", op, indices[i], i, t.Shape))
		}
		idx += indices[i] * stride
		stride *= t.Shape[i]
	}
	return idx
}

// IntTensor holds integer token ids, row-major like Tensor.
type IntTensor struct {
	Data  []int
	Shape []int
}

// NewInt allocates a zeroed IntTensor.
func NewInt(shape ...int) *IntTensor {
	return &IntTensor{
		Data:  make([]int, numel(shape)),
		Shape: append([]int(nil), shape...),
	}
}

// IntFromRows builds a (len(rows), width) IntTensor; all rows must share a width.
func IntFromRows(rows [][]int) (*IntTensor, error) {
	if len(rows) == 0 {
		return NewInt(0, 0), nil
	}
	width := len(rows[0])
	out := NewInt(len(rows), width)
	for i, r := range rows {
		if len(r) != width {
			return nil, fmt.Errorf("row %d has %d columns, want %d", i, len(r), width)
		}
		copy(out.Data[i*width:], r)
	}
	return out, nil
}

// Row returns a view of row i of a 2-D IntTensor.
func (t *IntTensor) Row(i int) []int {
	w := t.Shape[1]
	return t.Data[i*w : (i+1)*w]
}
