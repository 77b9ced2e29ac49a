package evaluation

import (
	"gorgonia.org/tensor"
)

// CRFParams are the pairwise bilateral parameters of a dense CRF.
type CRFParams struct {
	SXY    float64 `json:"sxy"    yaml:"sxy"`
	SRGB   float64 `json:"srgb"   yaml:"srgb"`
	Compat float64 `json:"compat" yaml:"compat"`
}

// DefaultCRFParams returns sxy 3, srgb 3, compat 5.
func DefaultCRFParams() CRFParams {
	return CRFParams{SXY: 3, SRGB: 3, Compat: 5}
}

// Refiner replaces the argmax of a stitched tile with a refined labelling.
//
// Refine receives the uint8 (rows, cols, 3) tile and the float32
// (rows, cols, classes) probabilities and returns an int (rows, cols) map.
type Refiner interface {
	Refine(rgb, probs *tensor.Dense, params CRFParams) (*tensor.Dense, error)
}

// RefinerFunc adapts a function to Refiner.
type RefinerFunc func(rgb, probs *tensor.Dense, params CRFParams) (*tensor.Dense, error)

// Refine implements Refiner.
func (f RefinerFunc) Refine(rgb, probs *tensor.Dense, params CRFParams) (*tensor.Dense, error) {
	return f(rgb, probs, params)
}
