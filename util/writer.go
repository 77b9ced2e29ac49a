package util

import (
	"bufio"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v2"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/mrs-eval/images"
)

// MakeDir creates a directory and its parents if they do not exist.
func MakeDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}
	return nil
}

// create opens path for writing, creating its parent directory.
func create(path string) (*os.File, error) {
	if err := MakeDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}
	return f, nil
}

// LoadNpy reads a NumPy .npy file. float64 arrays are narrowed to float32.
func LoadNpy(path string) (*tensor.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	t := new(tensor.Dense)
	if err := t.ReadNpy(bufio.NewReader(f)); err != nil {
		return nil, errors.Wrapf(err, "read npy %s", path)
	}
	if t.Dtype() == tensor.Float64 {
		return images.ToFloat32(t)
	}
	return t, nil
}

// SaveNpy writes a tensor as a NumPy .npy file.
func SaveNpy(path string, t *tensor.Dense) error {
	f, err := create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := t.WriteNpy(w); err != nil {
		f.Close()
		return errors.Wrapf(err, "write npy %s", path)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return errors.Wrapf(err, "write npy %s", path)
	}
	return f.Close()
}

// SaveImage encodes a (rows, cols) or (rows, cols, 3) raster in the format its
// extension names. Values are clamped to [0, 255].
func SaveImage(path string, t *tensor.Dense) error {
	format, err := images.FormatFromPath(path)
	if err != nil {
		return err
	}
	if format == images.FormatNPY {
		return errors.Wrapf(images.ErrInvalidInput, "cannot encode %s as an image", path)
	}
	img, err := images.ToImage(t)
	if err != nil {
		return errors.Wrapf(err, "render %s", path)
	}
	f, err := create(path)
	if err != nil {
		return err
	}
	switch format {
	case images.FormatPNG:
		err = png.Encode(f, img)
	case images.FormatJPEG:
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 95})
	case images.FormatTIFF:
		err = tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate})
	case images.FormatBMP:
		err = bmp.Encode(f, img)
	}
	if err != nil {
		f.Close()
		return errors.Wrapf(err, "encode %s", path)
	}
	return f.Close()
}

// WriteLines writes one line per entry, each terminated by a newline.
func WriteLines(path string, lines []string) error {
	f, err := create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, l := range lines {
		if _, err := w.WriteString(l + "\n"); err != nil {
			f.Close()
			return errors.Wrapf(err, "write %s", path)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	return f.Close()
}

// NewProgressBar renders progress over total steps to w. A nil writer
// discards the output so callers can always Add and Finish.
func NewProgressBar(w io.Writer, total int, description string) *progressbar.ProgressBar {
	if w == nil {
		w = io.Discard
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetRenderBlankState(true),
	)
}
