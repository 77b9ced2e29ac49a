package patch

import (
	"context"
	"fmt"
	"io"
	"iter"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/mrs-eval/images"
	"github.com/nvr-ai/mrs-eval/util"
)

// TilePatch is an aligned image/label patch pair.
type TilePatch struct {
	Origin
	RGB   *tensor.Dense
	Label *tensor.Dense
}

// PatchTile cuts an image and its label into aligned patches over a grid laid
// on the tile padded by pad pixels per side.
//
// Arguments:
//   - rgb: The (rows, cols, channels) image.
//   - lbl: The (rows, cols[, channels]) label, same spatial size as rgb.
//   - patch: Patch size.
//   - pad: Symmetric padding on each side.
//   - overlap: Overlap between consecutive patches.
//
// Returns:
//   - iter.Seq[TilePatch]: Patch pairs in grid order; restartable.
//   - error: images.ErrInvalidInput when the sizes differ, or a grid error.
func PatchTile(rgb, lbl *tensor.Dense, patch images.Size, pad, overlap int) (iter.Seq[TilePatch], error) {
	rgbSize, err := images.SizeOf(rgb)
	if err != nil {
		return nil, err
	}
	lblSize, err := images.SizeOf(lbl)
	if err != nil {
		return nil, err
	}
	if rgbSize != lblSize {
		return nil, errors.Wrapf(images.ErrInvalidInput, "image is %dx%d but label is %dx%d",
			rgbSize.Rows, rgbSize.Cols, lblSize.Rows, lblSize.Cols)
	}
	padded := images.Size{Rows: rgbSize.Rows + 2*pad, Cols: rgbSize.Cols + 2*pad}
	grid, err := MakeGrid(padded, patch, overlap)
	if err != nil {
		return nil, err
	}
	rgbPatches, err := PatchBlock(rgb, pad, grid, patch, PadSymmetric)
	if err != nil {
		return nil, err
	}
	lblPatches, err := PatchBlock(lbl, pad, grid, patch, PadSymmetric)
	if err != nil {
		return nil, err
	}
	return func(yield func(TilePatch) bool) {
		for i := range grid {
			p, l := rgbPatches.At(i), lblPatches.At(i)
			if !yield(TilePatch{Origin: p.Origin, RGB: p.Data, Label: l.Data}) {
				return
			}
		}
	}, nil
}

// FilePair is an image file and its label file.
type FilePair struct {
	RGB   string `json:"rgb" yaml:"rgb"`
	Label string `json:"label" yaml:"label"`
}

// DatasetOptions configures WritePatchDataset.
type DatasetOptions struct {
	Patch   images.Size `json:"patch" yaml:"patch"`
	Pad     int         `json:"pad" yaml:"pad"`
	Overlap int         `json:"overlap" yaml:"overlap"`

	// Progress receives a progress bar per split; nil disables it.
	Progress io.Writer
	Logger   logrus.FieldLogger
}

// WritePatchDataset cuts every pair into patches under saveDir/patches and
// lists them in saveDir/file_list_train.txt and saveDir/file_list_valid.txt.
// Patches are named <stem>_y<row>x<col>.jpg for images and .png for labels;
// each list line is "<image patch> <label patch>".
//
// Arguments:
//   - ctx: Checked between files.
//   - saveDir: Output directory, created if missing.
//   - train: Training pairs.
//   - valid: Validation pairs.
//   - opts: Patch geometry.
//
// Returns:
//   - error: The first load, grid or write error.
func WritePatchDataset(ctx context.Context, saveDir string, train, valid []FilePair, opts DatasetOptions) error {
	patchDir := filepath.Join(saveDir, "patches")
	if err := util.MakeDir(patchDir); err != nil {
		return err
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	splits := []struct {
		name  string
		pairs []FilePair
	}{
		{"train", train},
		{"valid", valid},
	}
	for _, split := range splits {
		bar := util.NewProgressBar(opts.Progress, len(split.pairs), "Patching "+split.name)
		var lines []string
		for _, pair := range split.pairs {
			if err := ctx.Err(); err != nil {
				return err
			}
			written, err := writeTilePatches(patchDir, pair, opts)
			if err != nil {
				return err
			}
			lines = append(lines, written...)
			_ = bar.Add(1)
		}
		_ = bar.Finish()

		list := filepath.Join(saveDir, fmt.Sprintf("file_list_%s.txt", split.name))
		if err := util.WriteLines(list, lines); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"split": split.name, "files": len(split.pairs), "patches": len(lines)}).
			Info("wrote patch list")
	}
	return nil
}

func writeTilePatches(patchDir string, pair FilePair, opts DatasetOptions) ([]string, error) {
	rgb, err := util.LoadRGB(pair.RGB)
	if err != nil {
		return nil, err
	}
	lbl, err := util.LoadLabel(pair.Label)
	if err != nil {
		return nil, err
	}
	seq, err := PatchTile(rgb, lbl, opts.Patch, opts.Pad, opts.Overlap)
	if err != nil {
		return nil, errors.Wrapf(err, "patch %s", pair.RGB)
	}

	prefix := util.Stem(pair.RGB)
	var lines []string
	for p := range seq {
		rgbName := fmt.Sprintf("%s_y%dx%d.jpg", prefix, p.Row, p.Col)
		lblName := fmt.Sprintf("%s_y%dx%d.png", prefix, p.Row, p.Col)
		if err := util.SaveImage(filepath.Join(patchDir, rgbName), p.RGB); err != nil {
			return nil, err
		}
		lblData := p.Label
		if images.Channels(lblData) == 1 && lblData.Dims() == 3 {
			lblData = tensor.New(tensor.WithShape(opts.Patch.Rows, opts.Patch.Cols), tensor.WithBacking(lblData.Data()))
		}
		if err := util.SaveImage(filepath.Join(patchDir, lblName), lblData); err != nil {
			return nil, err
		}
		lines = append(lines, rgbName+" "+lblName)
	}
	return lines, nil
}
