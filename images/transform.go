// Package images - Flips, quarter turns and channel reordering.
package images

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// remap builds a new float32 raster of the given size where each output pixel
// copies every channel of the source pixel chosen by at.
func remap(t *tensor.Dense, size Size, at func(row, col int) (int, int)) (*tensor.Dense, error) {
	data, err := Float32Data(t)
	if err != nil {
		return nil, err
	}
	src, err := SizeOf(t)
	if err != nil {
		return nil, err
	}
	nc := Channels(t)
	out := make([]float32, size.Area()*nc)
	for row := 0; row < size.Rows; row++ {
		for col := 0; col < size.Cols; col++ {
			sr, sc := at(row, col)
			copy(out[(row*size.Cols+col)*nc:(row*size.Cols+col+1)*nc], data[(sr*src.Cols+sc)*nc:(sr*src.Cols+sc+1)*nc])
		}
	}
	shape := []int{size.Rows, size.Cols}
	if t.Dims() == 3 {
		shape = append(shape, nc)
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(out)), nil
}

// FlipUD reverses the row order of a (rows, cols[, channels]) raster.
func FlipUD(t *tensor.Dense) (*tensor.Dense, error) {
	size, err := SizeOf(t)
	if err != nil {
		return nil, err
	}
	return remap(t, size, func(row, col int) (int, int) { return size.Rows - 1 - row, col })
}

// FlipLR reverses the column order of a (rows, cols[, channels]) raster.
func FlipLR(t *tensor.Dense) (*tensor.Dense, error) {
	size, err := SizeOf(t)
	if err != nil {
		return nil, err
	}
	return remap(t, size, func(row, col int) (int, int) { return row, size.Cols - 1 - col })
}

// Rot90 rotates a raster by k quarter turns counter-clockwise in the
// (rows, cols) plane. Negative k rotates clockwise.
//
// Arguments:
//   - t: A float32 (rows, cols[, channels]) raster.
//   - k: Number of quarter turns.
//
// Returns:
//   - *tensor.Dense: The rotated raster; rows and cols swap for odd k.
//   - error: ErrInvalidInput for a non-raster tensor.
func Rot90(t *tensor.Dense, k int) (*tensor.Dense, error) {
	size, err := SizeOf(t)
	if err != nil {
		return nil, err
	}
	switch ((k % 4) + 4) % 4 {
	case 1:
		return remap(t, Size{Rows: size.Cols, Cols: size.Rows}, func(row, col int) (int, int) {
			return col, size.Cols - 1 - row
		})
	case 2:
		return remap(t, size, func(row, col int) (int, int) {
			return size.Rows - 1 - row, size.Cols - 1 - col
		})
	case 3:
		return remap(t, Size{Rows: size.Cols, Cols: size.Rows}, func(row, col int) (int, int) {
			return size.Rows - 1 - col, row
		})
	default:
		return remap(t, size, func(row, col int) (int, int) { return row, col })
	}
}

// ChannelFirst converts a float32 (rows, cols, channels) tensor to
// (channels, rows, cols), the layout models consume.
func ChannelFirst(t *tensor.Dense) (*tensor.Dense, error) {
	data, err := Float32Data(t)
	if err != nil {
		return nil, err
	}
	if t.Dims() != 3 {
		return nil, errors.Wrapf(ErrInvalidInput, "expected (rows, cols, channels), got shape %v", t.Shape())
	}
	rows, cols, nc := t.Shape()[0], t.Shape()[1], t.Shape()[2]
	out := make([]float32, len(data))
	plane := rows * cols
	for i := 0; i < plane; i++ {
		for c := 0; c < nc; c++ {
			out[c*plane+i] = data[i*nc+c]
		}
	}
	return tensor.New(tensor.WithShape(nc, rows, cols), tensor.WithBacking(out)), nil
}

// ChannelLast converts a float32 (channels, rows, cols) tensor to
// (rows, cols, channels).
func ChannelLast(t *tensor.Dense) (*tensor.Dense, error) {
	data, err := Float32Data(t)
	if err != nil {
		return nil, err
	}
	if t.Dims() != 3 {
		return nil, errors.Wrapf(ErrInvalidInput, "expected (channels, rows, cols), got shape %v", t.Shape())
	}
	nc, rows, cols := t.Shape()[0], t.Shape()[1], t.Shape()[2]
	out := make([]float32, len(data))
	plane := rows * cols
	for c := 0; c < nc; c++ {
		for i := 0; i < plane; i++ {
			out[i*nc+c] = data[c*plane+i]
		}
	}
	return tensor.New(tensor.WithShape(rows, cols, nc), tensor.WithBacking(out)), nil
}
