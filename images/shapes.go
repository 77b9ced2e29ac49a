// Package images - Raster geometry: coordinates, boxes and object IoU.
package images

import (
	"github.com/pkg/errors"
)

// Size is the spatial extent of a raster in rows and columns.
type Size struct {
	Rows int `json:"rows" yaml:"rows"`
	Cols int `json:"cols" yaml:"cols"`
}

// Area returns the number of pixels covered by the size.
func (s Size) Area() int {
	return s.Rows * s.Cols
}

// Coord is a pixel position in (row, col) order.
type Coord struct {
	Row, Col int
}

// Rect is a lightweight bounding box.
type Rect struct {
	// X2,Y2 are exclusive (like image.Rectangle).
	X1, Y1, X2, Y2 int
}

// Empty reports whether the rectangle covers no pixels.
func (r Rect) Empty() bool {
	return r.X2 <= r.X1 || r.Y2 <= r.Y1
}

// Area returns the pixel area of the rectangle.
func (r Rect) Area() int {
	if r.Empty() {
		return 0
	}
	return (r.X2 - r.X1) * (r.Y2 - r.Y1)
}

// CalculateIoU computes Intersection over Union of two exclusive rectangles:
//
//	IoU = Area of Intersection / Area of Union
//
// Rectangles that only touch along an edge do not overlap and score 0.
//
// Arguments:
//   - r: The first rectangle.
//   - o: The other rectangle to compare against.
//
// Returns:
//   - float64: A value in [0, 1].
//
// Example Usage:
//
//	rect1 := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	rect2 := Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}
//	iou := CalculateIoU(rect1, rect2) // 25 / 175 = 0.142857
func CalculateIoU(r, o Rect) float64 {
	ix1 := max(r.X1, o.X1)
	iy1 := max(r.Y1, o.Y1)
	ix2 := min(r.X2, o.X2)
	iy2 := min(r.Y2, o.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0.0
	}
	interArea := interW * interH

	unionArea := r.Area() + o.Area() - interArea
	if unionArea <= 0 {
		return 0.0
	}
	iou := float64(interArea) / float64(unionArea)
	return min(max(iou, 0), 1)
}

// BoundsOf returns the pixel-inclusive bounding box of a coordinate set as an
// exclusive Rect, so a single pixel has area 1.
//
// Returns ErrInvalidInput when coords is empty.
func BoundsOf(coords []Coord) (Rect, error) {
	if len(coords) == 0 {
		return Rect{}, errors.Wrap(ErrInvalidInput, "bounding box of empty coordinate set")
	}
	r := Rect{X1: coords[0].Col, Y1: coords[0].Row, X2: coords[0].Col, Y2: coords[0].Row}
	for _, c := range coords[1:] {
		r.X1 = min(r.X1, c.Col)
		r.Y1 = min(r.Y1, c.Row)
		r.X2 = max(r.X2, c.Col)
		r.Y2 = max(r.Y2, c.Row)
	}
	r.X2++
	r.Y2++
	return r, nil
}

// BBoxIoU computes the IoU of the bounding boxes around two coordinate sets.
//
// Arguments:
//   - a: The first coordinate set.
//   - b: The second coordinate set.
//
// Returns:
//   - float64: 0 when the boxes do not overlap, otherwise the box IoU in [0, 1].
//   - error: ErrInvalidInput if either set is empty.
func BBoxIoU(a, b []Coord) (float64, error) {
	ra, err := BoundsOf(a)
	if err != nil {
		return 0, err
	}
	rb, err := BoundsOf(b)
	if err != nil {
		return 0, err
	}
	return CalculateIoU(ra, rb), nil
}

// MaskIoU rasterizes both coordinate sets onto a zeroed canvas of the given size
// and returns the exact pixel-wise intersection over union.
//
// Arguments:
//   - a: The first coordinate set.
//   - b: The second coordinate set.
//   - size: The canvas both sets live on.
//
// Returns:
//   - float64: The mask IoU in [0, 1].
//   - error: ErrInvalidInput if a set is empty or a coordinate falls outside the canvas.
func MaskIoU(a, b []Coord, size Size) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, errors.Wrap(ErrInvalidInput, "mask IoU of empty coordinate set")
	}
	canvas := make([]uint8, size.Area())
	paint := func(coords []Coord, bit uint8) error {
		for _, c := range coords {
			if c.Row < 0 || c.Row >= size.Rows || c.Col < 0 || c.Col >= size.Cols {
				return errors.Wrapf(ErrInvalidInput, "coordinate (%d,%d) outside %dx%d canvas",
					c.Row, c.Col, size.Rows, size.Cols)
			}
			canvas[c.Row*size.Cols+c.Col] |= bit
		}
		return nil
	}
	if err := paint(a, 1); err != nil {
		return 0, err
	}
	if err := paint(b, 2); err != nil {
		return 0, err
	}

	// Only the union of both boxes can hold painted pixels.
	ra, _ := BoundsOf(a)
	rb, _ := BoundsOf(b)
	var inter, union int
	for row := min(ra.Y1, rb.Y1); row < max(ra.Y2, rb.Y2); row++ {
		for col := min(ra.X1, rb.X1); col < max(ra.X2, rb.X2); col++ {
			switch canvas[row*size.Cols+col] {
			case 3:
				inter++
				union++
			case 1, 2:
				union++
			}
		}
	}
	return float64(inter) / float64(union), nil
}

// maskIoU is swapped out by tests to observe the bounding-box fast path.
var maskIoU = MaskIoU

// ObjectIoU computes the object-wise IoU of two coordinate sets. Box IoU is used
// as a fast reject: when the bounding boxes do not overlap the result is 0 and
// nothing is rasterized.
func ObjectIoU(a, b []Coord, size Size) (float64, error) {
	iou, err := BBoxIoU(a, b)
	if err != nil {
		return 0, err
	}
	if iou <= 0 {
		return 0, nil
	}
	return maskIoU(a, b, size)
}
