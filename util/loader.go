// Package util - File I/O for rasters, NumPy arrays and text lists.
package util

import (
	"bufio"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/maruel/natural"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/mrs-eval/images"
)

// ListFiles returns the files in dir whose extension is one of exts (case
// insensitive, with dot), in natural order so tile_2 sorts before tile_10.
//
// Arguments:
//   - dir: Directory to scan; subdirectories are skipped.
//   - exts: Accepted extensions such as ".tif". Empty accepts every file.
//
// Returns:
//   - []string: Full paths.
//   - error: Error if the directory cannot be read.
func ListFiles(dir string, exts ...string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", dir)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if len(exts) > 0 && !hasExt(e.Name(), exts) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Sort(natural.StringSlice(names))

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}
	return paths, nil
}

func hasExt(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

// Stem returns the file name without directory and extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	img, _, err := image.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return img, nil
}

// LoadRGB reads a raster file as a uint8 (rows, cols, 3) tensor. Extra bands
// such as alpha are dropped.
func LoadRGB(path string) (*tensor.Dense, error) {
	img, err := decodeImage(path)
	if err != nil {
		return nil, err
	}
	return images.FromImage(img), nil
}

// LoadLabel reads a ground-truth raster. Single-band images load as uint8
// (rows, cols); colour images load as uint8 (rows, cols, 3) for a colour-map
// decoder. .npy labels load unchanged.
func LoadLabel(path string) (*tensor.Dense, error) {
	format, err := images.FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	if format == images.FormatNPY {
		return LoadNpy(path)
	}
	img, err := decodeImage(path)
	if err != nil {
		return nil, err
	}
	if images.IsGray(img) {
		return images.FromGray(img), nil
	}
	return images.FromImage(img), nil
}

// LoadMap reads a 2D map as float32 (rows, cols): a confidence .npy or a
// single-band raster. A trailing channel axis of size 1 is dropped.
func LoadMap(path string) (*tensor.Dense, error) {
	format, err := images.FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	var t *tensor.Dense
	if format == images.FormatNPY {
		if t, err = LoadNpy(path); err != nil {
			return nil, err
		}
	} else {
		img, err := decodeImage(path)
		if err != nil {
			return nil, err
		}
		t = images.FromGray(img)
	}
	if t.Dims() == 3 && t.Shape()[2] == 1 {
		t = tensor.New(tensor.WithShape(t.Shape()[0], t.Shape()[1]), tensor.WithBacking(t.Data()))
	}
	if t.Dims() != 2 {
		return nil, errors.Wrapf(images.ErrInvalidInput, "%s: expected a 2D map, got shape %v", path, t.Shape())
	}
	return images.ToFloat32(t)
}

// ReadLines reads a text file into lines, trailing newline characters removed.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return lines, nil
}
