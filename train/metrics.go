// Package train runs the optimisation loop, evaluation and early stopping
// for the LRA models.
package train

import (
	"fmt"
	"math"

	"converter_lib/nn/layers"
	"converter_lib/tensor"

	"gonum.org/v1/gonum/floats"
)

// AverageMeter keeps a sample-weighted running mean.
type AverageMeter struct {
	Sum   float64
	Count int
	Avg   float64
}

func (m *AverageMeter) Update(v float64, n int) {
	m.Sum += v * float64(n)
	m.Count += n
	if m.Count > 0 {
		m.Avg = m.Sum / float64(m.Count)
	}
}

func (m *AverageMeter) Reset() { *m = AverageMeter{} }

// Predictions returns the arg-max class of every row of a [B, C] tensor.
func Predictions(logp *tensor.Tensor) ([]int, error) {
	if len(logp.Shape) != 2 || logp.Shape[1] == 0 {
		return nil, fmt.Errorf("%w: expected [B, C] scores, got %v", layers.ErrShapeMismatch, logp.Shape)
	}
	B, C := logp.Shape[0], logp.Shape[1]
	preds := make([]int, B)
	for b := range preds {
		preds[b] = floats.MaxIdx(logp.Data[b*C : (b+1)*C])
	}
	return preds, nil
}

func checkLabels(preds, labels []int) error {
	if len(preds) != len(labels) {
		return fmt.Errorf("%w: %d predictions for %d labels", layers.ErrShapeMismatch, len(preds), len(labels))
	}
	return nil
}

// Accuracy returns the top-1 accuracy in percent.
func Accuracy(logp *tensor.Tensor, labels []int) (float64, error) {
	preds, err := Predictions(logp)
	if err != nil {
		return 0, err
	}
	if err := checkLabels(preds, labels); err != nil {
		return 0, err
	}
	if len(labels) == 0 {
		return 0, nil
	}
	correct := 0
	for i, p := range preds {
		if p == labels[i] {
			correct++
		}
	}
	return 100 * float64(correct) / float64(len(labels)), nil
}

// MCC returns the binary Matthews correlation with class 1 as positive. A
// degenerate confusion matrix yields 1.
func MCC(preds, labels []int) (float64, error) {
	if err := checkLabels(preds, labels); err != nil {
		return 0, err
	}
	var tp, tn, fp, fn float64
	for i, p := range preds {
		switch y := labels[i]; {
		case y == 1 && p == 1:
			tp++
		case y != 1 && p != 1:
			tn++
		case y != 1 && p == 1:
			fp++
		default:
			fn++
		}
	}
	denom := math.Sqrt((tp + fp) * (tp + fn) * (tn + fp) * (tn + fn))
	if denom == 0 {
		return 1, nil
	}
	return (tp*tn - fp*fn) / denom, nil
}

// MicroF1 pools true positives, false positives and false negatives over all
// classes. For single-label data it equals the accuracy fraction.
func MicroF1(preds, labels []int) (float64, error) {
	if err := checkLabels(preds, labels); err != nil {
		return 0, err
	}
	var tp, fp, fn float64
	for i, p := range preds {
		if p == labels[i] {
			tp++
		} else {
			fp++
			fn++
		}
	}
	if tp == 0 {
		return 0, nil
	}
	precision, recall := tp/(tp+fp), tp/(tp+fn)
	return 2 * precision * recall / (precision + recall), nil
}
