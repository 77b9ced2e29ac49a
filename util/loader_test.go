package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/mrs-eval/images"
)

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"tile_10.tif", "tile_2.tif", "tile_1.TIF", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.tif"), 0o755))

	files, err := ListFiles(dir, ".tif")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "tile_1.TIF"),
		filepath.Join(dir, "tile_2.tif"),
		filepath.Join(dir, "tile_10.tif"),
	}, files, "natural order, case-insensitive extension, directories skipped")

	_, err = ListFiles(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestStem(t *testing.T) {
	assert.Equal(t, "austin1", Stem("/data/inria/gt/austin1.tif"))
}

func TestNpyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "austin1.npy")
	src := tensor.New(tensor.WithShape(2, 3), tensor.WithBacking([]float32{0, 0.25, 0.5, 0.75, 1, 0.125}))
	require.NoError(t, SaveNpy(path, src))

	got, err := LoadNpy(path)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, []int(got.Shape()))
	assert.Equal(t, src.Data(), got.Data())

	m, err := LoadMap(path)
	require.NoError(t, err)
	assert.Equal(t, src.Data(), m.Data())
}

func TestLoadNpy_NarrowsFloat64(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.npy")
	src := tensor.New(tensor.WithShape(1, 2), tensor.WithBacking([]float64{0.5, 1}))
	require.NoError(t, SaveNpy(path, src))

	got, err := LoadNpy(path)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 1}, got.Data())
}

func TestImageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	rgb := tensor.New(tensor.WithShape(2, 2, 3), tensor.WithBacking([]uint8{
		255, 0, 0, 0, 255, 0,
		0, 0, 255, 10, 20, 30,
	}))
	gray := tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]uint8{0, 255, 128, 7}))

	for _, ext := range []string{"png", "tif", "bmp"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(dir, "rgb."+ext)
			require.NoError(t, SaveImage(path, rgb))
			got, err := LoadRGB(path)
			require.NoError(t, err)
			assert.Equal(t, rgb.Data(), got.Data())
		})
	}

	path := filepath.Join(dir, "lbl.png")
	require.NoError(t, SaveImage(path, gray))
	lbl, err := LoadLabel(path)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, []int(lbl.Shape()), "gray labels load single band")
	assert.Equal(t, gray.Data(), lbl.Data())

	m, err := LoadMap(path)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 255, 128, 7}, m.Data())

	err = SaveImage(filepath.Join(dir, "x.npy"), gray)
	assert.True(t, errors.Is(err, images.ErrInvalidInput))
}

func TestLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list", "file_list_train.txt")
	require.NoError(t, WriteLines(path, []string{"a.jpg a.png", "b.jpg b.png"}))
	lines, err := ReadLines(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg a.png", "b.jpg b.png"}, lines)
}
