package nn

import (
	"fmt"
	"math"

	"converter_lib/nn/layers"
	"converter_lib/tensor"
)

// NLLLoss is the mean negative log-likelihood over a batch of log-probabilities.
type NLLLoss struct{}

// Forward returns −mean_b logp[b, y_b] and its gradient with respect to logp.
func (NLLLoss) Forward(logp *tensor.Tensor, labels []int) (float64, *tensor.Tensor, error) {
	if len(logp.Shape) != 2 {
		return 0, nil, fmt.Errorf("%w: NLLLoss expects [B, C] log-probabilities, got %v", layers.ErrShapeMismatch, logp.Shape)
	}
	B, C := logp.Shape[0], logp.Shape[1]
	if len(labels) != B {
		return 0, nil, fmt.Errorf("%w: %d labels for a batch of %d", layers.ErrShapeMismatch, len(labels), B)
	}
	grad := tensor.New(B, C)
	if B == 0 {
		return 0, grad, nil
	}
	loss := 0.0
	inv := 1 / float64(B)
	for b, y := range labels {
		if y < 0 || y >= C {
			return 0, nil, fmt.Errorf("%w: label %d outside %d classes", layers.ErrShapeMismatch, y, C)
		}
		loss -= logp.Data[b*C+y]
		grad.Data[b*C+y] = -inv
	}
	return loss * inv, grad, nil
}

// KernelPolynomialLoss penalises high-order Chebyshev coefficients:
//
//	eta · mean_slots Σ_{k≥1} k²·c_k²
//
// The gradient is accumulated straight into the coefficient Param.
type KernelPolynomialLoss struct {
	Eta float64
}

func (l KernelPolynomialLoss) Forward(coef *layers.Param) (float64, error) {
	if coef == nil {
		return 0, nil
	}
	shape := coef.Value.Shape
	if len(shape) != 2 {
		return 0, fmt.Errorf("%w: coefficients must be [slots, order+1], got %v", layers.ErrShapeMismatch, shape)
	}
	slots, n := shape[0], shape[1]
	if slots == 0 {
		return 0, nil
	}
	loss := 0.0
	for s := 0; s < slots; s++ {
		for k := 1; k < n; k++ {
			c := coef.Value.Data[s*n+k]
			kk := float64(k * k)
			loss += kk * c * c
			coef.Grad.Data[s*n+k] += 2 * l.Eta * kk * c / float64(slots)
		}
	}
	return l.Eta * loss / float64(slots), nil
}

// Softmax exponentiates and normalises each row of a log-probability or logit
// tensor along its last axis.
func Softmax(logits *tensor.Tensor) *tensor.Tensor {
	out := tensor.New(logits.Shape...)
	if len(logits.Shape) == 0 {
		return out
	}
	n := logits.Shape[len(logits.Shape)-1]
	if n == 0 {
		return out
	}
	for r := 0; r < len(logits.Data)/n; r++ {
		row := logits.Data[r*n : (r+1)*n]
		maxLogit := row[0]
		for _, v := range row {
			if v > maxLogit {
				maxLogit = v
			}
		}
		expSum := 0.0
		dst := out.Data[r*n : (r+1)*n]
		for i, v := range row {
			dst[i] = math.Exp(v - maxLogit)
			expSum += dst[i]
		}
		for i := range dst {
			dst[i] /= expSum
		}
	}
	return out
}
