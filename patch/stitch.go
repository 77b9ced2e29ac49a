package patch

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/mrs-eval/images"
)

// Geometry describes how patch predictions map back onto a tile.
type Geometry struct {
	// Padded is the padded tile size the grid was laid over.
	Padded images.Size `json:"padded" yaml:"padded"`
	// Patch is the size of the patches the grid cut.
	Patch images.Size `json:"patch" yaml:"patch"`
	// Original is the unpadded tile size; the padded border is cropped evenly.
	Original images.Size `json:"original" yaml:"original"`
	// Inner is the part of each patch prediction that is kept, centred in the patch.
	// A zero Inner means Patch minus Overlap.
	Inner images.Size `json:"inner" yaml:"inner"`
	// Overlap is the total border trimmed from each patch axis when Inner is zero.
	Overlap int `json:"overlap" yaml:"overlap"`
}

// inner resolves the kept region size.
func (g Geometry) inner() images.Size {
	if g.Inner.Rows == 0 && g.Inner.Cols == 0 {
		return images.Size{Rows: g.Patch.Rows - g.Overlap, Cols: g.Patch.Cols - g.Overlap}
	}
	return g.Inner
}

// Validate checks that the sizes nest: Inner <= Patch, Original <= Padded.
func (g Geometry) Validate() error {
	inner := g.inner()
	switch {
	case g.Patch.Rows <= 0 || g.Patch.Cols <= 0:
		return errors.Wrapf(images.ErrInvalidConfig, "patch size must be positive, got %dx%d", g.Patch.Rows, g.Patch.Cols)
	case g.Overlap < 0:
		return errors.Wrapf(images.ErrInvalidConfig, "overlap must be non-negative, got %d", g.Overlap)
	case inner.Rows <= 0 || inner.Cols <= 0 || inner.Rows > g.Patch.Rows || inner.Cols > g.Patch.Cols:
		return errors.Wrapf(images.ErrInvalidConfig, "inner size %dx%d does not fit patch %dx%d",
			inner.Rows, inner.Cols, g.Patch.Rows, g.Patch.Cols)
	case g.Original.Rows <= 0 || g.Original.Cols <= 0 ||
		g.Original.Rows > g.Padded.Rows || g.Original.Cols > g.Padded.Cols:
		return errors.Wrapf(images.ErrInvalidConfig, "original size %dx%d does not fit padded %dx%d",
			g.Original.Rows, g.Original.Cols, g.Padded.Rows, g.Padded.Cols)
	}
	return nil
}

// UnpatchBlock stitches patch predictions into a tile, averaging overlaps.
//
// Each prediction is either patch-sized, in which case its centred inner
// region is kept, or already inner-sized. The kept region is placed at the
// patch origin shifted by the trimmed border, summed with every other
// contribution and divided by the per-pixel count. The padded result is
// cropped evenly to Original.
//
// Arguments:
//   - patches: float32 (rows, cols, channels) predictions with their grid origins.
//   - g: The stitching geometry.
//
// Returns:
//   - *tensor.Dense: A float32 (Original.Rows, Original.Cols, channels) tile.
//   - error: images.ErrInvalidConfig for a bad geometry or an output pixel no
//     patch covers, images.ErrInvalidInput for mismatched patches.
func UnpatchBlock(patches []Patch, g Geometry) (*tensor.Dense, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if len(patches) == 0 {
		return nil, errors.Wrap(images.ErrInvalidConfig, "no patches to stitch")
	}
	inner := g.inner()
	trimRow := (g.Patch.Rows - inner.Rows) / 2
	trimCol := (g.Patch.Cols - inner.Cols) / 2

	nc := 0
	var sum []float64
	count := make([]int, g.Padded.Area())
	for i, p := range patches {
		data, err := images.Float32Data(p.Data)
		if err != nil {
			return nil, errors.Wrapf(err, "patch %d", i)
		}
		size, err := images.SizeOf(p.Data)
		if err != nil {
			return nil, errors.Wrapf(err, "patch %d", i)
		}
		pc := images.Channels(p.Data)
		if nc == 0 {
			nc = pc
			sum = make([]float64, g.Padded.Area()*nc)
		} else if pc != nc {
			return nil, errors.Wrapf(images.ErrInvalidInput, "patch %d has %d channels, expected %d", i, pc, nc)
		}

		// Offset of the kept region inside this prediction.
		var offRow, offCol int
		switch size {
		case g.Patch:
			offRow, offCol = trimRow, trimCol
		case inner:
		default:
			return nil, errors.Wrapf(images.ErrInvalidInput, "patch %d is %dx%d, expected %dx%d or %dx%d",
				i, size.Rows, size.Cols, g.Patch.Rows, g.Patch.Cols, inner.Rows, inner.Cols)
		}

		for r := 0; r < inner.Rows; r++ {
			pr := p.Row + trimRow + r
			if pr < 0 || pr >= g.Padded.Rows {
				continue
			}
			for c := 0; c < inner.Cols; c++ {
				pcol := p.Col + trimCol + c
				if pcol < 0 || pcol >= g.Padded.Cols {
					continue
				}
				src := ((offRow+r)*size.Cols + offCol + c) * nc
				dst := pr*g.Padded.Cols + pcol
				for ch := 0; ch < nc; ch++ {
					sum[dst*nc+ch] += float64(data[src+ch])
				}
				count[dst]++
			}
		}
	}

	cropRow := (g.Padded.Rows - g.Original.Rows) / 2
	cropCol := (g.Padded.Cols - g.Original.Cols) / 2
	out := make([]float32, g.Original.Area()*nc)
	for r := 0; r < g.Original.Rows; r++ {
		for c := 0; c < g.Original.Cols; c++ {
			src := (r+cropRow)*g.Padded.Cols + c + cropCol
			n := count[src]
			if n == 0 {
				return nil, errors.Wrapf(images.ErrInvalidConfig,
					"output pixel (%d,%d) is covered by no patch; check patch size, overlap and margin", r, c)
			}
			for ch := 0; ch < nc; ch++ {
				out[(r*g.Original.Cols+c)*nc+ch] = float32(sum[src*nc+ch] / float64(n))
			}
		}
	}
	return tensor.New(tensor.WithShape(g.Original.Rows, g.Original.Cols, nc), tensor.WithBacking(out)), nil
}
