// Package images - Colour-coded label maps.
package images

import (
	"image/color"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ColorMap assigns a display colour to each class index. The last entry is
// used for colours that match no class.
type ColorMap []color.RGBA

// Decode converts a uint8 (rows, cols, 3) colour label into an int (rows, cols)
// class map. Each channel is binarized at 128 before lookup so compression
// noise does not create unknown colours.
func (cm ColorMap) Decode(t *tensor.Dense) (*tensor.Dense, error) {
	if len(cm) == 0 {
		return nil, errors.Wrap(ErrInvalidConfig, "empty colour map")
	}
	data, err := Uint8Data(t)
	if err != nil {
		return nil, err
	}
	if t.Dims() != 3 || Channels(t) != 3 {
		return nil, errors.Wrapf(ErrInvalidInput, "colour label must be (rows, cols, 3), got shape %v", t.Shape())
	}
	size, _ := SizeOf(t)
	lookup := make(map[[3]uint8]int, len(cm))
	for i, c := range cm {
		lookup[[3]uint8{binarize(c.R), binarize(c.G), binarize(c.B)}] = i
	}
	out := make([]int, size.Area())
	for i := range out {
		key := [3]uint8{binarize(data[i*3]), binarize(data[i*3+1]), binarize(data[i*3+2])}
		idx, ok := lookup[key]
		if !ok {
			idx = len(cm) - 1
		}
		out[i] = idx
	}
	return tensor.New(tensor.WithShape(size.Rows, size.Cols), tensor.WithBacking(out)), nil
}

// Encode renders an int (rows, cols) class map as a uint8 (rows, cols, 3)
// colour image. Out-of-range classes use the last entry.
func (cm ColorMap) Encode(t *tensor.Dense) (*tensor.Dense, error) {
	if len(cm) == 0 {
		return nil, errors.Wrap(ErrInvalidConfig, "empty colour map")
	}
	labels, err := ToInt(t)
	if err != nil {
		return nil, err
	}
	data, _ := IntData(labels)
	size, err := SizeOf(labels)
	if err != nil {
		return nil, err
	}
	out := make([]uint8, size.Area()*3)
	for i, v := range data {
		if v < 0 || v >= len(cm) {
			v = len(cm) - 1
		}
		out[i*3], out[i*3+1], out[i*3+2] = cm[v].R, cm[v].G, cm[v].B
	}
	return tensor.New(tensor.WithShape(size.Rows, size.Cols, 3), tensor.WithBacking(out)), nil
}

func binarize(v uint8) uint8 {
	if v >= 128 {
		return 255
	}
	return 0
}

// ScaleLabels multiplies every class index by factor and returns a uint8
// raster, for binary maps saved as 0/255 images.
func ScaleLabels(t *tensor.Dense, factor int) (*tensor.Dense, error) {
	labels, err := ToInt(t)
	if err != nil {
		return nil, err
	}
	data, _ := IntData(labels)
	out := make([]uint8, len(data))
	for i, v := range data {
		out[i] = uint8(Clamp(float64(v*factor), 0, 255))
	}
	return tensor.New(tensor.WithShape(t.Shape().Clone()...), tensor.WithBacking(out)), nil
}
