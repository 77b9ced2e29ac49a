package evaluation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/mrs-eval/images"
)

func TestSoftmax(t *testing.T) {
	logits := tensor.New(tensor.WithShape(2, 1, 2), tensor.WithBacking([]float32{
		0, 1000,
		float32(math.Log(3)), 1000,
	}))
	probs, err := Softmax(logits)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.25, 0.5, 0.75, 0.5}, probs.Data(), 1e-6)

	_, err = Softmax(images.NewFloat32(2, 2))
	assert.ErrorIs(t, err, images.ErrInvalidInput)
	_, err = Softmax(images.NewInt(2, 2, 2))
	assert.ErrorIs(t, err, images.ErrInvalidInput)
}

func TestNormalize(t *testing.T) {
	patch := tensor.New(tensor.WithShape(1, 2, 3), tensor.WithBacking([]float32{
		10, 20, 30,
		0, 0, 0,
	}))
	out, err := Normalize([]float32{10, 10, 10}, []float32{1, 2, 4})(patch)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 5, 5, -10, -5, -2.5}, out.Data())
	assert.Equal(t, float32(10), patch.Data().([]float32)[0])

	_, err = Normalize([]float32{0}, []float32{1})(patch)
	assert.ErrorIs(t, err, images.ErrInvalidConfig)
	_, err = Normalize([]float32{0, 0, 0}, []float32{1, 0, 1})(patch)
	assert.ErrorIs(t, err, images.ErrInvalidConfig)
}

func TestApplyTransforms(t *testing.T) {
	patch := tensor.New(tensor.WithShape(1, 1, 3), tensor.WithBacking([]float32{255, 0, 51}))
	out, err := applyTransforms(patch, []Transform{Scale(1.0 / 255), Normalize([]float32{0, 0, 0}, []float32{0.5, 0.5, 0.5})})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{2, 0, 0.4}, out.Data(), 1e-6)

	_, err = applyTransforms(images.NewInt(1, 1, 3), []Transform{Scale(2)})
	assert.ErrorIs(t, err, images.ErrInvalidInput)

	same, err := applyTransforms(patch, nil)
	require.NoError(t, err)
	assert.Same(t, patch, same)
}
