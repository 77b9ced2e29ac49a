// Package patch - Tiling large rasters into fixed-size patches and stitching
// patch predictions back together.
//
// A tile of size H x W is padded by the model's label margin m on each side.
// The grid lays patches over the padded tile with stride patch - overlap; the
// last origin on each axis is clamped so the final patch ends exactly at the
// padded border:
//
//	padded:  |<------------------ H + 2m ------------------>|
//	patches: [0 ........ p)
//	                 [s ........ s+p)
//	                              [H+2m-p ........ H+2m)
//
// Each patch prediction keeps only its inner p - 2m pixels, which land on the
// unpadded tile at the patch origin. Where inner regions overlap, the stitched
// value is the mean of every contribution.
package patch

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/mrs-eval/images"
)

// Origin is the top-left corner of a patch in padded-tile coordinates.
type Origin struct {
	Row int `json:"row" yaml:"row"`
	Col int `json:"col" yaml:"col"`
}

// Grid is an ordered list of patch origins, row-major.
type Grid []Origin

// MakeGrid lays patches over a padded tile.
//
// Arguments:
//   - padded: The padded tile size.
//   - patch: The patch size; both dimensions must be positive.
//   - overlap: Pixels shared by consecutive patches, 0 <= overlap < min(patch).
//
// Returns:
//   - Grid: Origins spaced patch - overlap apart, the last clamped to padded - patch.
//     An axis no longer than the patch has the single origin 0.
//   - error: images.ErrInvalidConfig for an invalid patch or overlap.
//
// Example:
//
//	grid, _ := MakeGrid(images.Size{Rows: 100, Cols: 100}, images.Size{Rows: 50, Cols: 50}, 10)
//	// rows and cols each take origins 0, 40, 50
func MakeGrid(padded, patch images.Size, overlap int) (Grid, error) {
	if patch.Rows <= 0 || patch.Cols <= 0 {
		return nil, errors.Wrapf(images.ErrInvalidConfig, "patch size must be positive, got %dx%d", patch.Rows, patch.Cols)
	}
	if overlap < 0 || overlap >= patch.Rows || overlap >= patch.Cols {
		return nil, errors.Wrapf(images.ErrInvalidConfig, "overlap %d must be in [0, %d)", overlap, min(patch.Rows, patch.Cols))
	}
	rows := axisOrigins(padded.Rows, patch.Rows, patch.Rows-overlap)
	cols := axisOrigins(padded.Cols, patch.Cols, patch.Cols-overlap)

	grid := make(Grid, 0, len(rows)*len(cols))
	for _, r := range rows {
		for _, c := range cols {
			grid = append(grid, Origin{Row: r, Col: c})
		}
	}
	return grid, nil
}

func axisOrigins(n, patch, stride int) []int {
	if n <= patch {
		return []int{0}
	}
	var out []int
	o := 0
	for ; o+patch < n; o += stride {
		out = append(out, o)
	}
	// Clamp the last origin so the patch ends on the border.
	if last := n - patch; out[len(out)-1] != last {
		out = append(out, last)
	}
	return out
}
