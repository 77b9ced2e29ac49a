// Package images - Binary mask morphology using OpenCV (via gocv).
//
// The region grouping pipeline runs the same stages a motion segmenter does,
// on a confidence map instead of a background-subtracted frame:
//
// ┌──────────────────┐
// │ Confidence map   │
// └──────┬───────────┘
// ┌────────────────────────────┐
// │ Thresholding (binary mask) │
// └──────┬─────────────────────┘
// ┌────────────────────────────┐
// │ Connected components       │
// └──────┬─────────────────────┘
// ┌────────────────────────────┐
// │ Morphology (disk dilate)   │
// └──────┬─────────────────────┘
// ┌────────────────────────────┐
// │ Relabel merged blobs       │
// └────────────────────────────┘
//
// Mats are created and released inside each call; no native memory escapes.
package images

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"gorgonia.org/tensor"
)

// Mask is a binary raster stored one byte per pixel (0 or 1) in row-major order.
type Mask struct {
	Size
	Pix []uint8
}

// NewMask allocates an empty mask.
func NewMask(size Size) *Mask {
	return &Mask{Size: size, Pix: make([]uint8, size.Area())}
}

// Set marks a pixel as foreground.
func (m *Mask) Set(row, col int) {
	m.Pix[row*m.Cols+col] = 1
}

// At reports whether a pixel is foreground.
func (m *Mask) At(row, col int) bool {
	return m.Pix[row*m.Cols+col] != 0
}

// Count returns the number of foreground pixels.
func (m *Mask) Count() int {
	n := 0
	for _, p := range m.Pix {
		if p != 0 {
			n++
		}
	}
	return n
}

// Labels is a connected-component label image. Label 0 is background and
// labels 1..Count are components.
type Labels struct {
	Size
	Count int
	IDs   []int32
}

// Threshold binarizes a float32 (rows, cols) confidence map: a pixel is
// foreground iff its value is >= threshold.
//
// Arguments:
//   - conf: The confidence map.
//   - threshold: Minimum confidence for a foreground pixel.
//
// Returns:
//   - *Mask: The binary mask.
//   - error: ErrInvalidInput if conf is not a 2D float32 tensor.
func Threshold(conf *tensor.Dense, threshold float32) (*Mask, error) {
	data, err := Float32Data(conf)
	if err != nil {
		return nil, err
	}
	if conf.Dims() != 2 {
		return nil, errors.Wrapf(ErrInvalidInput, "confidence map must be 2D, got shape %v", conf.Shape())
	}
	size, _ := SizeOf(conf)
	mask := NewMask(size)
	for i, v := range data {
		if v >= threshold {
			mask.Pix[i] = 1
		}
	}
	return mask, nil
}

// toMat copies the mask into an OpenCV-owned 8-bit single channel Mat.
// The caller must Close the result.
func (m *Mask) toMat() (gocv.Mat, error) {
	view, err := gocv.NewMatFromBytes(m.Rows, m.Cols, gocv.MatTypeCV8UC1, m.Pix)
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "mask to mat")
	}
	defer view.Close()
	return view.Clone(), nil
}

// LabelComponents labels the 8-connected components of a mask.
//
// Arguments:
//   - m: The binary mask.
//
// Returns:
//   - *Labels: Label image, 0 for background.
//   - error: An error if OpenCV fails.
func LabelComponents(m *Mask) (*Labels, error) {
	if m.Area() == 0 {
		return &Labels{Size: m.Size}, nil
	}
	src, err := m.toMat()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	labels := gocv.NewMat()
	defer labels.Close()

	// Connectivity 8, CV_32S labels.
	n := gocv.ConnectedComponents(src, &labels)

	if labels.Rows() != m.Rows || labels.Cols() != m.Cols {
		return nil, errors.Errorf("component labels are %dx%d, mask is %dx%d",
			labels.Rows(), labels.Cols(), m.Rows, m.Cols)
	}
	out := &Labels{Size: m.Size, Count: max(n-1, 0), IDs: make([]int32, m.Area())}
	for row := 0; row < m.Rows; row++ {
		for col := 0; col < m.Cols; col++ {
			out.IDs[row*m.Cols+col] = labels.GetIntAt(row, col)
		}
	}
	return out, nil
}

// DiskKernel builds a disk-shaped structuring element of the given radius:
// a (2r+1)x(2r+1) kernel whose cells satisfy dx*dx + dy*dy <= r*r.
// The caller must Close the result.
func DiskKernel(radius int) (gocv.Mat, error) {
	side := 2*radius + 1
	cells := make([]uint8, side*side)
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				cells[(dy+radius)*side+dx+radius] = 1
			}
		}
	}
	view, err := gocv.NewMatFromBytes(side, side, gocv.MatTypeCV8UC1, cells)
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "disk kernel")
	}
	defer view.Close()
	return view.Clone(), nil
}

// Dilate grows the foreground of a mask with a disk of the given radius.
// Radius 0 returns a copy of the mask.
//
// Arguments:
//   - m: The binary mask.
//   - radius: Disk radius in pixels.
//
// Returns:
//   - *Mask: The dilated mask.
//   - error: ErrInvalidConfig for a negative radius, or an OpenCV error.
func Dilate(m *Mask, radius int) (*Mask, error) {
	if radius < 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "dilation radius must be non-negative, got %d", radius)
	}
	out := NewMask(m.Size)
	if radius == 0 || m.Area() == 0 {
		copy(out.Pix, m.Pix)
		return out, nil
	}

	src, err := m.toMat()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	kernel, err := DiskKernel(radius)
	if err != nil {
		return nil, err
	}
	defer kernel.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	if err := gocv.Dilate(src, &dst, kernel); err != nil {
		return nil, errors.Wrap(err, "dilate mask")
	}

	pix, err := dst.DataPtrUint8()
	if err != nil {
		return nil, errors.Wrap(err, "read dilated mask")
	}
	for i, p := range pix {
		if p != 0 {
			out.Pix[i] = 1
		}
	}
	return out, nil
}
