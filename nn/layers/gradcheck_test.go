package layers

import (
	"testing"

	"converter_lib/tensor"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func testRNG() *rand.Rand { return rand.New(rand.NewSource(7)) }

func randTensor(rng *rand.Rand, shape ...int) *tensor.Tensor {
	t := tensor.New(shape...)
	for i := range t.Data {
		t.Data[i] = rng.Float64()*2 - 1
	}
	return t
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// checkGrad compares analytic against central-difference gradients of a
// scalar loss at every coordinate of data.
func checkGrad(t *testing.T, name string, loss func() float64, data, analytic []float64, tol float64) {
	t.Helper()
	const h = 1e-5
	require.Len(t, analytic, len(data), name)
	for i := range data {
		orig := data[i]
		data[i] = orig + h
		up := loss()
		data[i] = orig - h
		down := loss()
		data[i] = orig
		num := (up - down) / (2 * h)
		require.InDeltaf(t, num, analytic[i], tol, "%s[%d]", name, i)
	}
}
