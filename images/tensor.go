// Package images - Helpers for the dense tensors every raster is stored in.
package images

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// NewFloat32 allocates a zeroed float32 tensor with the given shape.
func NewFloat32(shape ...int) *tensor.Dense {
	return tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(shape...))
}

// NewInt allocates a zeroed int tensor with the given shape.
func NewInt(shape ...int) *tensor.Dense {
	return tensor.New(tensor.Of(tensor.Int), tensor.WithShape(shape...))
}

// Float32Data returns the backing slice of a float32 tensor.
func Float32Data(t *tensor.Dense) ([]float32, error) {
	if t == nil {
		return nil, errors.Wrap(ErrInvalidInput, "nil tensor")
	}
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidInput, "expected float32 tensor, got %v", t.Dtype())
	}
	return data, nil
}

// IntData returns the backing slice of an int tensor.
func IntData(t *tensor.Dense) ([]int, error) {
	if t == nil {
		return nil, errors.Wrap(ErrInvalidInput, "nil tensor")
	}
	data, ok := t.Data().([]int)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidInput, "expected int tensor, got %v", t.Dtype())
	}
	return data, nil
}

// Uint8Data returns the backing slice of a uint8 tensor.
func Uint8Data(t *tensor.Dense) ([]uint8, error) {
	if t == nil {
		return nil, errors.Wrap(ErrInvalidInput, "nil tensor")
	}
	data, ok := t.Data().([]uint8)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidInput, "expected uint8 tensor, got %v", t.Dtype())
	}
	return data, nil
}

// SizeOf returns the spatial size of a (rows, cols[, channels]) tensor.
func SizeOf(t *tensor.Dense) (Size, error) {
	shape := t.Shape()
	if len(shape) < 2 || len(shape) > 3 {
		return Size{}, errors.Wrapf(ErrInvalidInput, "expected a 2D or 3D raster, got shape %v", shape)
	}
	return Size{Rows: shape[0], Cols: shape[1]}, nil
}

// Channels returns the trailing channel count of a raster, 1 for 2D rasters.
func Channels(t *tensor.Dense) int {
	shape := t.Shape()
	if len(shape) == 3 {
		return shape[2]
	}
	return 1
}

// ToFloat32 converts a numeric tensor of any supported dtype into a new float32
// tensor of the same shape. Float32 input is returned as is.
func ToFloat32(t *tensor.Dense) (*tensor.Dense, error) {
	if t == nil {
		return nil, errors.Wrap(ErrInvalidInput, "nil tensor")
	}
	shape := append([]int(nil), t.Shape()...)
	var out []float32
	switch data := t.Data().(type) {
	case []float32:
		return t, nil
	case []float64:
		out = make([]float32, len(data))
		for i, v := range data {
			out[i] = float32(v)
		}
	case []uint8:
		out = make([]float32, len(data))
		for i, v := range data {
			out[i] = float32(v)
		}
	case []int:
		out = make([]float32, len(data))
		for i, v := range data {
			out[i] = float32(v)
		}
	case []int64:
		out = make([]float32, len(data))
		for i, v := range data {
			out[i] = float32(v)
		}
	case []int32:
		out = make([]float32, len(data))
		for i, v := range data {
			out[i] = float32(v)
		}
	case []bool:
		out = make([]float32, len(data))
		for i, v := range data {
			if v {
				out[i] = 1
			}
		}
	default:
		return nil, errors.Wrapf(ErrInvalidInput, "unsupported tensor dtype %v", t.Dtype())
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(out)), nil
}

// Channel extracts one channel of a float32 (rows, cols, channels) tensor as a
// (rows, cols) tensor.
func Channel(t *tensor.Dense, c int) (*tensor.Dense, error) {
	data, err := Float32Data(t)
	if err != nil {
		return nil, err
	}
	size, err := SizeOf(t)
	if err != nil {
		return nil, err
	}
	nc := Channels(t)
	if c < 0 || c >= nc {
		return nil, errors.Wrapf(ErrInvalidInput, "channel %d out of range for %d channels", c, nc)
	}
	out := make([]float32, size.Area())
	for i := range out {
		out[i] = data[i*nc+c]
	}
	return tensor.New(tensor.WithShape(size.Rows, size.Cols), tensor.WithBacking(out)), nil
}

// Argmax returns the per-pixel index of the largest channel of a float32
// (rows, cols, channels) tensor. Ties resolve to the lowest channel index.
func Argmax(t *tensor.Dense) (*tensor.Dense, error) {
	data, err := Float32Data(t)
	if err != nil {
		return nil, err
	}
	size, err := SizeOf(t)
	if err != nil {
		return nil, err
	}
	nc := Channels(t)
	out := make([]int, size.Area())
	for i := range out {
		px := data[i*nc : (i+1)*nc]
		best := 0
		for c := 1; c < nc; c++ {
			if px[c] > px[best] {
				best = c
			}
		}
		out[i] = best
	}
	return tensor.New(tensor.WithShape(size.Rows, size.Cols), tensor.WithBacking(out)), nil
}
