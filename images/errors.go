// Package images - Error values shared by the raster and scoring packages.
package images

import "github.com/pkg/errors"

var (
	// ErrInvalidConfig is returned when a grouping, grid or stitching configuration
	// cannot produce a valid result (negative dilation size, overlap not smaller than
	// the patch, patches that leave output pixels uncovered).
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidInput is returned for degenerate inputs such as an empty coordinate
	// set, a coordinate outside its canvas, or tensors of the wrong type or shape.
	ErrInvalidInput = errors.New("invalid input")
)
