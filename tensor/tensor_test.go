package tensor

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShape(t *testing.T) {
	t1 := New(2, 3)
	if len(t1.Data) != 6 {
		t.Fatalf("expected 6 elements, got %d", len(t1.Data))
	}
	if len(t1.Shape) != 2 || t1.Shape[0] != 2 || t1.Shape[1] != 3 {
		t.Fatalf("unexpected shape: %v", t1.Shape)
	}
}

func TestAdd(t *testing.T) {
	a := &Tensor{Data: []float64{1, 2, 3}, Shape: []int{3}}
	b := &Tensor{Data: []float64{4, 5, 6}, Shape: []int{3}}
	c, err := Add(a, b)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{5, 7, 9}
	for i := range want {
		if c.Data[i] != want[i] {
			t.Errorf("at %d, got %f, want %f", i, c.Data[i], want[i])
		}
	}

	_, err = Add(a, New(2))
	assert.Error(t, err)
}

func TestMatMul(t *testing.T) {
	a := &Tensor{Data: []float64{1, 2, 3, 4}, Shape: []int{2, 2}}
	b := &Tensor{Data: []float64{5, 6, 7, 8}, Shape: []int{2, 2}}
	c, err := MatMul(a, b)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{19, 22, 43, 50}
	for i := range want {
		if c.Data[i] != want[i] {
			t.Errorf("at %d, got %f, want %f", i, c.Data[i], want[i])
		}
	}
}

func TestReshapeSharesData(t *testing.T) {
	a := New(2, 6)
	v, err := a.Reshape(3, 4)
	require.NoError(t, err)
	v.Data[5] = 7
	assert.Equal(t, 7.0, a.Data[5])

	_, err = a.Reshape(5)
	assert.Error(t, err)
}

func TestAtSet(t *testing.T) {
	a := New(2, 3, 4)
	a.Set(3.5, 1, 2, 3)
	assert.Equal(t, 3.5, a.At(1, 2, 3))
	assert.Equal(t, 3.5, a.Data[1*12+2*4+3])
	assert.Panics(t, func() { a.At(2, 0, 0) })
}

func TestIntFromRows(t *testing.T) {
	it, err := IntFromRows([][]int{{1, 2}, {3, 4}, {5, 6}})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, it.Shape)
	assert.Equal(t, []int{3, 4}, it.Row(1))

	_, err = IntFromRows([][]int{{1, 2}, {3}})
	assert.Error(t, err)
}

func TestFFTMatchesDirectDFT(t *testing.T) {
	B, L, D := 2, 5, 3
	x := NewComplex(B, L, D)
	for i := range x.Re.Data {
		x.Re.Data[i] = math.Sin(float64(i) * 0.7)
		x.Im.Data[i] = math.Cos(float64(i) * 0.3)
	}
	got, err := FFT(x)
	require.NoError(t, err)

	for b := 0; b < B; b++ {
		for d := 0; d < D; d++ {
			for k := 0; k < L; k++ {
				var want complex128
				for n := 0; n < L; n++ {
					v := complex(x.Re.At(b, n, d), x.Im.At(b, n, d))
					want += v * cmplx.Exp(complex(0, -2*math.Pi*float64(k*n)/float64(L)))
				}
				assert.InDelta(t, real(want), got.Re.At(b, k, d), 1e-9)
				assert.InDelta(t, imag(want), got.Im.At(b, k, d), 1e-9)
			}
		}
	}
}

func TestIFFTInvertsFFT(t *testing.T) {
	x := NewComplex(3, 8, 4)
	for i := range x.Re.Data {
		x.Re.Data[i] = float64(i%7) - 3
		x.Im.Data[i] = float64(i%3) * 0.5
	}
	f, err := FFT(x)
	require.NoError(t, err)
	back, err := IFFT(f)
	require.NoError(t, err)
	for i := range x.Re.Data {
		assert.InDelta(t, x.Re.Data[i], back.Re.Data[i], 1e-9)
		assert.InDelta(t, x.Im.Data[i], back.Im.Data[i], 1e-9)
	}
}

func TestFFTRejectsRank(t *testing.T) {
	_, err := FFT(NewComplex(4, 4))
	assert.Error(t, err)
}
