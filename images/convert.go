// Package images - Conversion between Go images and dense rasters.
package images

import (
	"image"
	"image/color"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// FromImage converts any image into a uint8 (rows, cols, 3) RGB tensor.
// Alpha is dropped.
func FromImage(img image.Image) *tensor.Dense {
	b := img.Bounds()
	rows, cols := b.Dy(), b.Dx()
	out := make([]uint8, rows*cols*3)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := (y*cols + x) * 3
			out[i], out[i+1], out[i+2] = uint8(r>>8), uint8(g>>8), uint8(bl>>8)
		}
	}
	return tensor.New(tensor.WithShape(rows, cols, 3), tensor.WithBacking(out))
}

// FromGray converts any image into a uint8 (rows, cols) tensor using the
// luminance of each pixel.
func FromGray(img image.Image) *tensor.Dense {
	b := img.Bounds()
	rows, cols := b.Dy(), b.Dx()
	out := make([]uint8, rows*cols)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			out[y*cols+x] = color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y
		}
	}
	return tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(out))
}

// IsGray reports whether an image carries a single luminance channel.
func IsGray(img image.Image) bool {
	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model:
		return true
	}
	return false
}

// ToUint8 converts a numeric raster into uint8, clamping to [0, 255].
func ToUint8(t *tensor.Dense) (*tensor.Dense, error) {
	if data, ok := t.Data().([]uint8); ok {
		out := make([]uint8, len(data))
		copy(out, data)
		return tensor.New(tensor.WithShape(t.Shape().Clone()...), tensor.WithBacking(out)), nil
	}
	f, err := ToFloat32(t)
	if err != nil {
		return nil, err
	}
	data, _ := Float32Data(f)
	out := make([]uint8, len(data))
	for i, v := range data {
		out[i] = uint8(Clamp(float64(v), 0, 255) + 0.5)
	}
	return tensor.New(tensor.WithShape(t.Shape().Clone()...), tensor.WithBacking(out)), nil
}

// ToInt converts a numeric raster into an int tensor, truncating floats.
func ToInt(t *tensor.Dense) (*tensor.Dense, error) {
	if _, ok := t.Data().([]int); ok {
		return t, nil
	}
	f, err := ToFloat32(t)
	if err != nil {
		return nil, err
	}
	data, _ := Float32Data(f)
	out := make([]int, len(data))
	for i, v := range data {
		out[i] = int(v)
	}
	return tensor.New(tensor.WithShape(t.Shape().Clone()...), tensor.WithBacking(out)), nil
}

// ToImage converts a uint8 (rows, cols) raster into a Gray image and a uint8
// (rows, cols, 3) raster into an RGBA image. Other dtypes are clamped first.
func ToImage(t *tensor.Dense) (image.Image, error) {
	u, err := ToUint8(t)
	if err != nil {
		return nil, err
	}
	size, err := SizeOf(u)
	if err != nil {
		return nil, err
	}
	data, _ := Uint8Data(u)
	rect := image.Rect(0, 0, size.Cols, size.Rows)
	switch Channels(u) {
	case 1:
		img := image.NewGray(rect)
		copy(img.Pix, data)
		return img, nil
	case 3:
		img := image.NewRGBA(rect)
		for i := 0; i < size.Area(); i++ {
			img.Pix[i*4] = data[i*3]
			img.Pix[i*4+1] = data[i*3+1]
			img.Pix[i*4+2] = data[i*3+2]
			img.Pix[i*4+3] = 255
		}
		return img, nil
	default:
		return nil, errors.Wrapf(ErrInvalidInput, "cannot render %d channels as an image", Channels(u))
	}
}

// ResizeRGB rescales a float32 (rows, cols, 3) raster holding 0-255 colour
// values with bilinear interpolation. Rasters with another channel count fall
// back to ResizeTensor.
func ResizeRGB(t *tensor.Dense, size Size) (*tensor.Dense, error) {
	if _, err := Float32Data(t); err != nil {
		return nil, err
	}
	if t.Dims() != 3 || Channels(t) != 3 {
		return ResizeTensor(t, size, BilinearFilter)
	}
	if size.Rows <= 0 || size.Cols <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "resize target must be positive, got %dx%d", size.Rows, size.Cols)
	}
	img, err := ToImage(t)
	if err != nil {
		return nil, err
	}
	resized := resize.Resize(uint(size.Cols), uint(size.Rows), img, resize.Bilinear)
	return ToFloat32(FromImage(resized))
}
