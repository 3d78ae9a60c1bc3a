package tensor

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/dsp/fourier"
)

// FFT returns the discrete Fourier transform of x along axis 1 of a
// [B, L, D] tensor: X[b,k,d] = Σ_n x[b,n,d]·exp(-2πi·kn/L).
func FFT(x *Complex) (*Complex, error) {
	return transformSeq(x, false)
}

// IFFT is the inverse of FFT, scaled by 1/L.
func IFFT(x *Complex) (*Complex, error) {
	return transformSeq(x, true)
}

func transformSeq(x *Complex, inverse bool) (*Complex, error) {
	if err := x.Validate(); err != nil {
		return nil, err
	}
	shape := x.Shape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("sequence transform expects [B, L, D], got %v", shape)
	}
	B, L, D := shape[0], shape[1], shape[2]
	out := NewComplex(B, L, D)
	if L == 0 {
		return out, nil
	}

	// One batch row per worker; CmplxFFT keeps scratch space and is not shared.
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for b := 0; b < B; b++ {
		g.Go(func() error {
			fft := fourier.NewCmplxFFT(L)
			seq := make([]complex128, L)
			res := make([]complex128, L)
			inv := 1 / float64(L)
			base := b * L * D
			for d := 0; d < D; d++ {
				for n := 0; n < L; n++ {
					i := base + n*D + d
					seq[n] = complex(x.Re.Data[i], x.Im.Data[i])
				}
				if inverse {
					res = fft.Sequence(res, seq)
				} else {
					res = fft.Coefficients(res, seq)
				}
				for n := 0; n < L; n++ {
					i := base + n*D + d
					v := res[n]
					if inverse {
						v *= complex(inv, 0)
					}
					out.Re.Data[i] = real(v)
					out.Im.Data[i] = imag(v)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
