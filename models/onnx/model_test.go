package onnx

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/mrs-eval/images"
	"github.com/nvr-ai/mrs-eval/models/model"
)

func TestSharedLibPath(t *testing.T) {
	p, err := SharedLibPath("/opt/ort/libonnxruntime.so")
	require.NoError(t, err)
	assert.Equal(t, "/opt/ort/libonnxruntime.so", p)

	t.Setenv(LibraryEnv, "/env/onnxruntime.so")
	p, err = SharedLibPath("")
	require.NoError(t, err)
	assert.Equal(t, "/env/onnxruntime.so", p)

	t.Setenv(LibraryEnv, "")
	p, err = SharedLibPath("")
	if runtime.GOOS == "linux" || runtime.GOOS == "darwin" {
		require.NoError(t, err)
		assert.Contains(t, p, "third_party")
	}
}

func TestNewModel_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  model.Config
	}{
		{"no path", model.Config{Input: images.Size{Rows: 8, Cols: 8}, Classes: 2}},
		{"one class", model.Config{Path: "m.onnx", Input: images.Size{Rows: 8, Cols: 8}, Classes: 1}},
		{"margin eats input", model.Config{Path: "m.onnx", Input: images.Size{Rows: 8, Cols: 8}, Classes: 2, Margin: 4, Cropped: true}},
		{"linear kind", model.Config{Kind: model.KindLinear, Path: "w.npy", Classes: 2}},
		{"bad provider", model.Config{Path: "m.onnx", Input: images.Size{Rows: 8, Cols: 8}, Classes: 2,
			Provider: model.ProviderConfig{Backend: "tpu"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewModel(tt.cfg)
			assert.ErrorIs(t, err, images.ErrInvalidConfig)
		})
	}
}

func TestNewModel_MissingLibrary(t *testing.T) {
	cfg := model.Config{
		Path:     "m.onnx",
		Input:    images.Size{Rows: 8, Cols: 8},
		Classes:  2,
		Provider: model.ProviderConfig{LibraryPath: t.TempDir() + "/missing.so"},
	}
	_, err := NewModel(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "library not found")
}

func TestFillInput(t *testing.T) {
	size := images.Size{Rows: 2, Cols: 2}
	patch := tensor.New(tensor.WithShape(3, 2, 2), tensor.WithBacking([]float32{
		1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12,
	}))
	dst := make([]float32, 12)
	require.NoError(t, fillInput(dst, patch, size))
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, dst)

	wrong := images.NewFloat32(3, 4, 4)
	assert.ErrorIs(t, fillInput(dst, wrong, size), images.ErrInvalidInput)
	assert.ErrorIs(t, fillInput(dst, nil, size), images.ErrInvalidInput)
	assert.ErrorIs(t, fillInput(dst, images.NewInt(3, 2, 2), size), images.ErrInvalidInput)
}

func TestCopyOutput(t *testing.T) {
	src := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	out := copyOutput(src, 2, images.Size{Rows: 2, Cols: 2})
	assert.Equal(t, tensor.Shape{2, 2, 2}, out.Shape())

	src[0] = 100
	assert.Equal(t, float32(1), out.Data().([]float32)[0])
}

func TestStatsMean(t *testing.T) {
	assert.Zero(t, Stats{}.Mean())
	assert.Equal(t, 2*time.Millisecond, Stats{Inferences: 3, Total: 6 * time.Millisecond}.Mean())
}
