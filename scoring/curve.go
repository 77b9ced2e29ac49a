package scoring

import (
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"

	"github.com/nvr-ai/mrs-eval/images"
)

// apPoints is the number of recall points AP is interpolated at.
const apPoints = 101

// ClassifierCurve holds cumulative counts at each distinct threshold, highest
// threshold first.
type ClassifierCurve struct {
	FalsePositives []float64
	TruePositives  []float64
	Thresholds     []float64
}

// BinaryCurve sorts records by decreasing confidence and accumulates true and
// false positives at every distinct confidence.
//
// Returns images.ErrInvalidInput when records is empty.
func BinaryCurve(records []MatchRecord) (*ClassifierCurve, error) {
	if len(records) == 0 {
		return nil, errors.Wrap(images.ErrInvalidInput, "no match records")
	}
	sorted := make([]MatchRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })

	curve := &ClassifierCurve{}
	var tp float64
	for i, r := range sorted {
		if r.Label != 0 {
			tp++
		}
		if i+1 < len(sorted) && sorted[i+1].Confidence == r.Confidence {
			continue
		}
		curve.TruePositives = append(curve.TruePositives, tp)
		curve.FalsePositives = append(curve.FalsePositives, float64(i+1)-tp)
		curve.Thresholds = append(curve.Thresholds, r.Confidence)
	}
	return curve, nil
}

// fullRecall returns the index of the first threshold reaching every positive.
func (c *ClassifierCurve) fullRecall() (int, error) {
	total := c.TruePositives[len(c.TruePositives)-1]
	if total == 0 {
		return 0, errors.Wrap(images.ErrInvalidInput, "no positive records")
	}
	return sort.SearchFloat64s(c.TruePositives, total), nil
}

// PRCurve is a precision/recall curve ordered by increasing threshold, so
// recall decreases along it. The final point (precision 1, recall 0) has no
// threshold.
type PRCurve struct {
	Precision  []float64
	Recall     []float64
	Thresholds []float64
}

// PrecisionRecallCurve computes precision and recall at each distinct
// confidence, stopping at the first threshold with full recall.
//
// Returns images.ErrInvalidInput when records is empty or has no positives.
func PrecisionRecallCurve(records []MatchRecord) (*PRCurve, error) {
	c, err := BinaryCurve(records)
	if err != nil {
		return nil, err
	}
	last, err := c.fullRecall()
	if err != nil {
		return nil, err
	}
	total := c.TruePositives[len(c.TruePositives)-1]

	pr := &PRCurve{}
	for i := last; i >= 0; i-- {
		tp, fp := c.TruePositives[i], c.FalsePositives[i]
		precision := 0.0
		if tp+fp > 0 {
			precision = tp / (tp + fp)
		}
		pr.Precision = append(pr.Precision, precision)
		pr.Recall = append(pr.Recall, tp/total)
		pr.Thresholds = append(pr.Thresholds, c.Thresholds[i])
	}
	pr.Precision = append(pr.Precision, 1)
	pr.Recall = append(pr.Recall, 0)
	return pr, nil
}

// AveragePrecision computes the 101-point interpolated average precision.
//
// The curve's lowest-threshold point is anchored at precision 0 and recall
// just past its neighbour, precision is linearly interpolated over recall at
// 101 evenly spaced points in [0, 1] and integrated with the trapezoidal rule.
//
// Arguments:
//   - records: Match records from Score or BatchScore.
//
// Returns:
//   - float64: AP in [0, 1].
//   - *PRCurve: The anchored curve.
//   - error: images.ErrInvalidInput when records is empty or has no positives.
func AveragePrecision(records []MatchRecord) (float64, *PRCurve, error) {
	pr, err := PrecisionRecallCurve(records)
	if err != nil {
		return 0, nil, err
	}
	pr.Precision[0] = 0
	pr.Recall[0] = pr.Recall[1] + 0.01

	// Reverse into increasing recall for interpolation.
	n := len(pr.Recall)
	xp := make([]float64, n)
	fp := make([]float64, n)
	for i := range xp {
		xp[i] = pr.Recall[n-1-i]
		fp[i] = pr.Precision[n-1-i]
	}

	x := floats.Span(make([]float64, apPoints), 0, 1)
	y := make([]float64, apPoints)
	for i, v := range x {
		y[i] = interp(v, xp, fp)
	}
	return integrate.Trapezoidal(x, y), pr, nil
}

// interp linearly interpolates (xp, fp) at x. xp must be non-decreasing.
// Values outside the range take the nearest end value.
func interp(x float64, xp, fp []float64) float64 {
	n := len(xp)
	if x < xp[0] {
		return fp[0]
	}
	if x >= xp[n-1] {
		return fp[n-1]
	}
	// j is the last index with xp[j] <= x, so xp[j+1] > x.
	j := sort.Search(n, func(i int) bool { return xp[i] > x }) - 1
	slope := (fp[j+1] - fp[j]) / (xp[j+1] - xp[j])
	return fp[j] + slope*(x-xp[j])
}

// FalsePositives returns the cumulative false-positive counts from the first
// threshold with full recall back to the highest threshold.
//
// Returns images.ErrInvalidInput when records is empty or has no positives.
func FalsePositives(records []MatchRecord) ([]float64, error) {
	c, err := BinaryCurve(records)
	if err != nil {
		return nil, err
	}
	last, err := c.fullRecall()
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, last+1)
	for i := last; i >= 0; i-- {
		out = append(out, c.FalsePositives[i])
	}
	return out, nil
}
