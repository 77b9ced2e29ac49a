package evaluation

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/mrs-eval/images"
)

// IoUScore holds per-class intersection (A) and union (B) pixel counts, one
// entry per evaluated class.
type IoUScore struct {
	A []float64
	B []float64
}

// NewIoUScore returns a zero score for n classes.
func NewIoUScore(n int) IoUScore {
	return IoUScore{A: make([]float64, n), B: make([]float64, n)}
}

// Add accumulates another score of the same length.
func (s IoUScore) Add(o IoUScore) {
	for i := range s.A {
		s.A[i] += o.A[i]
		s.B[i] += o.B[i]
	}
}

// SumA returns the total intersection.
func (s IoUScore) SumA() float64 {
	return floats.Sum(s.A)
}

// SumB returns the total union.
func (s IoUScore) SumB() float64 {
	return floats.Sum(s.B)
}

// Class returns the IoU percentage of class i.
func (s IoUScore) Class(i int, delta float64) float64 {
	return s.A[i] / (s.B[i] + delta) * 100
}

// Mean returns the mean per-class IoU percentage, mean(A / (B + delta)) * 100.
func (s IoUScore) Mean(delta float64) float64 {
	if len(s.A) == 0 {
		return 0
	}
	var total float64
	for i := range s.A {
		total += s.Class(i, delta)
	}
	return total / float64(len(s.A))
}

// IoUMetric counts, for each class in evalClass, the pixels where both truth
// and pred equal the class (A) and where either does (B).
//
// Arguments:
//   - truth: An int (rows, cols) class map.
//   - pred: An int (rows, cols) class map of the same size.
//   - evalClass: The classes to score.
//
// Returns:
//   - IoUScore: One A/B pair per class in evalClass order.
//   - error: images.ErrInvalidInput when the maps differ in size or dtype.
func IoUMetric(truth, pred *tensor.Dense, evalClass []int) (IoUScore, error) {
	t, err := images.IntData(truth)
	if err != nil {
		return IoUScore{}, errors.Wrap(err, "truth")
	}
	p, err := images.IntData(pred)
	if err != nil {
		return IoUScore{}, errors.Wrap(err, "prediction")
	}
	if !truth.Shape().Eq(pred.Shape()) {
		return IoUScore{}, errors.Wrapf(images.ErrInvalidInput, "truth shape %v differs from prediction shape %v",
			truth.Shape(), pred.Shape())
	}
	score := NewIoUScore(len(evalClass))
	for k, c := range evalClass {
		var a, b int
		for i := range t {
			inT, inP := t[i] == c, p[i] == c
			if inT && inP {
				a++
			}
			if inT || inP {
				b++
			}
		}
		score.A[k], score.B[k] = float64(a), float64(b)
	}
	return score, nil
}
