package patch

import (
	"iter"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/mrs-eval/images"
)

// PadMode selects how pixels outside the image are filled.
type PadMode string

const (
	// PadSymmetric mirrors the image including the edge pixel (numpy "symmetric").
	PadSymmetric PadMode = "symmetric"
	// PadReflect mirrors the image excluding the edge pixel (numpy "reflect").
	PadReflect PadMode = "reflect"
	// PadZero fills with zeros.
	PadZero PadMode = "zero"
)

func (m PadMode) edgeMode() (images.EdgeMode, error) {
	switch m {
	case PadSymmetric, "":
		return images.SymmetricEdgeMode, nil
	case PadReflect:
		return images.ReflectEdgeMode, nil
	case PadZero:
		return images.ConstantEdgeMode, nil
	default:
		return "", errors.Wrapf(images.ErrInvalidConfig, "unknown pad mode %q", m)
	}
}

// Patch is a float32 (rows, cols, channels) raster cut at a grid origin.
type Patch struct {
	Origin
	Data *tensor.Dense
}

// Patches is a lazy, restartable sequence of patches over one image. Nothing
// is copied until a patch is requested.
type Patches struct {
	data   []float32
	size   images.Size
	nc     int
	margin int
	grid   Grid
	patch  images.Size
	edge   images.EdgeMode
}

// PatchBlock prepares patch extraction from an image that is virtually padded
// by margin pixels on every side.
//
// Arguments:
//   - img: A (rows, cols) or (rows, cols, channels) raster of any numeric dtype.
//   - margin: Virtual padding on each side, >= 0.
//   - grid: Origins in padded coordinates, usually from MakeGrid.
//   - patch: The size of every patch.
//   - mode: How to fill pixels outside the image.
//
// Returns:
//   - *Patches: The sequence, one patch per grid origin in grid order.
//   - error: images.ErrInvalidConfig or images.ErrInvalidInput for bad arguments.
func PatchBlock(img *tensor.Dense, margin int, grid Grid, patch images.Size, mode PadMode) (*Patches, error) {
	if margin < 0 {
		return nil, errors.Wrapf(images.ErrInvalidConfig, "margin must be non-negative, got %d", margin)
	}
	if patch.Rows <= 0 || patch.Cols <= 0 {
		return nil, errors.Wrapf(images.ErrInvalidConfig, "patch size must be positive, got %dx%d", patch.Rows, patch.Cols)
	}
	edge, err := mode.edgeMode()
	if err != nil {
		return nil, err
	}
	f, err := images.ToFloat32(img)
	if err != nil {
		return nil, err
	}
	size, err := images.SizeOf(f)
	if err != nil {
		return nil, err
	}
	if size.Rows == 0 || size.Cols == 0 {
		return nil, errors.Wrap(images.ErrInvalidInput, "empty image")
	}
	data, _ := images.Float32Data(f)
	return &Patches{
		data:   data,
		size:   size,
		nc:     images.Channels(f),
		margin: margin,
		grid:   grid,
		patch:  patch,
		edge:   edge,
	}, nil
}

// Len returns the number of patches.
func (p *Patches) Len() int {
	return len(p.grid)
}

// At cuts the i-th patch.
func (p *Patches) At(i int) Patch {
	o := p.grid[i]
	out := make([]float32, p.patch.Area()*p.nc)
	for r := 0; r < p.patch.Rows; r++ {
		sr := images.MapCoord(o.Row+r-p.margin, p.size.Rows, p.edge)
		for c := 0; c < p.patch.Cols; c++ {
			sc := images.MapCoord(o.Col+c-p.margin, p.size.Cols, p.edge)
			if sr < 0 || sc < 0 {
				continue
			}
			dst := (r*p.patch.Cols + c) * p.nc
			src := (sr*p.size.Cols + sc) * p.nc
			copy(out[dst:dst+p.nc], p.data[src:src+p.nc])
		}
	}
	return Patch{
		Origin: o,
		Data:   tensor.New(tensor.WithShape(p.patch.Rows, p.patch.Cols, p.nc), tensor.WithBacking(out)),
	}
}

// All yields every patch with its index, in grid order. It may be ranged over
// any number of times.
func (p *Patches) All() iter.Seq2[int, Patch] {
	return func(yield func(int, Patch) bool) {
		for i := range p.grid {
			if !yield(i, p.At(i)) {
				return
			}
		}
	}
}
