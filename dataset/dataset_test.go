package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/mrs-eval/images"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o644))
	}
}

func bases(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = filepath.Base(p)
	}
	return out
}

func TestStem(t *testing.T) {
	tests := map[string]string{
		"inria":          "inria",
		"DeepGlobe-Road": "deepgloberoad",
		"deepglobe_land": "deepglobeland",
		" MNIH ":         "mnih",
		"ct_finetune":    "ctfinetune",
	}
	for in, want := range tests {
		assert.Equal(t, want, Stem(in), in)
	}
}

func TestLookup(t *testing.T) {
	for _, name := range []string{"inria", "deepglobe", "DeepGlobe Road", "deepglobe-land", "mnih", "SPCA", "ct_finetune"} {
		a, err := Lookup(name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, a.ClassNames, name)
		assert.NotZero(t, a.TruthVal, name)
	}

	_, err := Lookup("cityscapes")
	assert.ErrorIs(t, err, ErrUnsupportedDataset)
	assert.Contains(t, Names(), "deepglobeland")
}

func TestRegister(t *testing.T) {
	Register(Adapter{Name: "My-Tiles", TruthVal: 7})
	a, err := Lookup("mytiles")
	require.NoError(t, err)
	assert.Equal(t, 7, a.TruthVal)
}

func TestAdapterFiles(t *testing.T) {
	_, _, err := Adapter{Name: "empty"}.Files(t.TempDir(), Options{}, false)
	assert.ErrorIs(t, err, ErrUnsupportedDataset)

	dir := t.TempDir()
	touch(t, dir, "a_sat.jpg", "a_mask.png", "b_sat.jpg")
	land, err := Lookup("deepglobeland")
	require.NoError(t, err)

	_, _, err = land.Files(dir, Options{}, false)
	assert.ErrorIs(t, err, os.ErrNotExist)

	rgb, lbl, err := land.Files(dir, Options{}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"a_sat.jpg", "b_sat.jpg"}, bases(rgb))
	assert.Empty(t, lbl)
}

func TestInria(t *testing.T) {
	dir := t.TempDir()
	names := []string{"austin1.tif", "austin2.tif", "austin10.tif", "vienna3.tif", "vienna6.tif"}
	touch(t, filepath.Join(dir, "images"), names...)
	touch(t, filepath.Join(dir, "gt"), names...)

	a, err := Lookup("inria")
	require.NoError(t, err)

	rgb, lbl, err := a.GetImages(dir, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"austin1.tif", "austin2.tif", "austin10.tif", "vienna3.tif", "vienna6.tif"}, bases(rgb))
	assert.Equal(t, bases(rgb), bases(lbl))
	assert.Equal(t, "gt", filepath.Base(filepath.Dir(lbl[0])))

	rgb, _, err = a.GetImages(dir, Options{Valid: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"austin1.tif", "austin2.tif", "vienna3.tif"}, bases(rgb))

	rgb, _, err = a.GetImages(dir, Options{Cities: []string{"Vienna"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"vienna3.tif", "vienna6.tif"}, bases(rgb))
}

func TestPairDirs_MissingLabel(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "sat"), "t1.tiff", "t2.tiff")
	touch(t, filepath.Join(dir, "map"), "t1.tif")
	a, err := Lookup("mnih")
	require.NoError(t, err)
	_, _, err = a.GetImages(dir, Options{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSplitPairs(t *testing.T) {
	rgb := []string{"0.jpg", "1.jpg", "2.jpg", "3.jpg", "4.jpg", "5.jpg", "6.jpg", "7.jpg", "8.jpg", "9.jpg"}
	lbl := []string{"0.png", "1.png", "2.png", "3.png", "4.png", "5.png", "6.png", "7.png", "8.png", "9.png"}

	tests := []struct {
		percent    float64
		valid      int
		firstTrain string
	}{
		{0, 1, "1.jpg"},
		{0.3, 4, "4.jpg"},
		{0.55, 6, "6.jpg"},
	}
	for _, tt := range tests {
		train, valid, err := SplitPairs(rgb, lbl, tt.percent)
		require.NoError(t, err)
		assert.Len(t, valid, tt.valid, "percent %g", tt.percent)
		assert.Len(t, train, len(rgb)-tt.valid)
		assert.Equal(t, tt.firstTrain, train[0].RGB)
		assert.Equal(t, "0.png", valid[0].Label)
	}

	_, _, err := SplitPairs(rgb, lbl[:3], 0.3)
	assert.ErrorIs(t, err, images.ErrInvalidInput)
	_, _, err = SplitPairs(rgb, lbl, 1.5)
	assert.ErrorIs(t, err, images.ErrInvalidConfig)
}

func TestCTFinetune(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "t1.jpg", "t1.png", "t2.jpg", "t2.png", "t3.jpg", "t3.png")
	a, err := Lookup("ct_finetune")
	require.NoError(t, err)

	rgb, lbl, err := a.GetImages(dir, Options{ValidPercent: 0.3})
	require.NoError(t, err)
	assert.Equal(t, []string{"t2.jpg", "t3.jpg"}, bases(rgb))
	assert.Equal(t, []string{"t2.png", "t3.png"}, bases(lbl))

	rgb, _, err = a.GetImages(dir, Options{ValidPercent: 0.3, Valid: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"t1.jpg"}, bases(rgb))
}

func TestDecodeRoad(t *testing.T) {
	mask := tensor.New(tensor.WithShape(1, 3, 3), tensor.WithBacking([]uint8{
		255, 255, 255, 0, 0, 0, 200, 10, 10,
	}))
	out, err := decodeRoad(mask)
	require.NoError(t, err)
	assert.Equal(t, []int{255, 0, 255}, out.Data().([]int))
}

func TestDeepGlobeLandRoundTrip(t *testing.T) {
	a, err := Lookup("deepglobeland")
	require.NoError(t, err)
	assert.Equal(t, []string{"urban", "agriculture", "rangeland", "forest", "water", "barren"}, a.ClassNames)

	classes := tensor.New(tensor.WithShape(1, 7), tensor.WithBacking([]int{0, 1, 2, 3, 4, 5, 6}))
	encoded, err := a.EncodeLabel(classes)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 7, 3}, encoded.Shape())
	decoded, err := a.DecodeLabel(encoded)
	require.NoError(t, err)
	assert.Equal(t, classes.Data(), decoded.Data())
}

func TestIdentityLabelFuncs(t *testing.T) {
	lbl := images.NewInt(2, 2)
	a := Adapter{}
	out, err := a.DecodeLabel(lbl)
	require.NoError(t, err)
	assert.Same(t, lbl, out)
	out, err = a.EncodeLabel(lbl)
	require.NoError(t, err)
	assert.Same(t, lbl, out)
}

func TestCustom(t *testing.T) {
	loader := func(dir string, _ Options) ([]string, []string, error) {
		return []string{dir + "/a.png"}, []string{dir + "/a_gt.png"}, nil
	}
	a := Custom(loader, 0, nil, nil, nil)
	assert.Equal(t, 1, a.TruthVal)
	assert.Equal(t, []string{"building"}, a.ClassNames)

	rgb, lbl, err := a.Files("/data", Options{}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/a.png"}, rgb)
	assert.Equal(t, []string{"/data/a_gt.png"}, lbl)

	a = Custom(loader, 255, nil, nil, []string{"tree", "car"})
	assert.Equal(t, 255, a.TruthVal)
	assert.Len(t, a.ClassNames, 2)
}
