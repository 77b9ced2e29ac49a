package evaluation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/mrs-eval/images"
)

// asymmetric returns a float32 (n, n, channels) raster with no symmetry.
func asymmetric(n, channels int) *tensor.Dense {
	data := make([]float32, n*n*channels)
	for i := range data {
		data[i] = float32(i*7%31) / 31
	}
	return tensor.New(tensor.WithShape(n, n, channels), tensor.WithBacking(data))
}

func TestViewInverse(t *testing.T) {
	src := asymmetric(4, 2)
	for v := 0; v < views; v++ {
		out, err := view(src, v)
		require.NoError(t, err)
		back, err := unview(out, v)
		require.NoError(t, err)
		assert.Equal(t, src.Data(), back.Data(), "view %d", v)
	}
}

func TestBaseEnsemble(t *testing.T) {
	patch := asymmetric(3, 3)
	var e BaseEnsemble
	views, err := e.Augment(patch)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Same(t, patch, views[0])

	fused, err := e.Fuse(views)
	require.NoError(t, err)
	assert.Same(t, patch, fused)

	_, err = e.Fuse(nil)
	assert.ErrorIs(t, err, images.ErrInvalidInput)
}

func TestMultiResEnsemble_AugmentCount(t *testing.T) {
	patch := tensor.New(tensor.WithShape(8, 8, 3), tensor.WithBacking(make([]float32, 8*8*3)))

	e, err := NewMultiResEnsemble([]int{4, 8}, 0, true, false)
	require.NoError(t, err)
	assert.Equal(t, 8, e.FuseSize)
	views, err := e.Augment(patch)
	require.NoError(t, err)
	require.Len(t, views, 12)
	assert.Equal(t, tensor.Shape{4, 4, 3}, views[0].Shape())
	assert.Equal(t, tensor.Shape{8, 8, 3}, views[11].Shape())

	e, err = NewMultiResEnsemble([]int{6}, 0, false, false)
	require.NoError(t, err)
	views, err = e.Augment(patch)
	require.NoError(t, err)
	assert.Len(t, views, 1)
}

func TestMultiResEnsemble_FuseUndoesViews(t *testing.T) {
	pred := asymmetric(4, 2)
	e := &MultiResEnsemble{AugSizes: []int{4}, Rotate: true}

	preds := make([]*tensor.Dense, views)
	for v := range preds {
		var err error
		preds[v], err = view(pred, v)
		require.NoError(t, err)
	}
	fused, err := e.Fuse(preds)
	require.NoError(t, err)
	assert.Equal(t, pred.Shape(), fused.Shape())
	assert.InDeltaSlice(t, pred.Data(), fused.Data(), 1e-5)
}

func TestMultiResEnsemble_FuseAcrossScales(t *testing.T) {
	constant := func(v float32) *tensor.Dense {
		data := make([]float32, 2*2*2)
		for i := range data {
			data[i] = v
		}
		return tensor.New(tensor.WithShape(2, 2, 2), tensor.WithBacking(data))
	}

	mean := &MultiResEnsemble{AugSizes: []int{2, 2}}
	fused, err := mean.Fuse([]*tensor.Dense{constant(0.2), constant(0.6)})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.4, 0.4, 0.4, 0.4, 0.4, 0.4, 0.4, 0.4}, fused.Data(), 1e-6)

	maxed := &MultiResEnsemble{AugSizes: []int{2, 2}, UseMax: true}
	fused, err = maxed.Fuse([]*tensor.Dense{constant(0.2), constant(0.6)})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.6, 0.6, 0.6, 0.6, 0.6, 0.6, 0.6, 0.6}, fused.Data(), 1e-6)

	_, err = mean.Fuse([]*tensor.Dense{constant(0.2)})
	assert.ErrorIs(t, err, images.ErrInvalidInput)
}

func TestMultiResEnsemble_Validate(t *testing.T) {
	_, err := NewMultiResEnsemble(nil, 0, false, false)
	assert.ErrorIs(t, err, images.ErrInvalidConfig)
	_, err = NewMultiResEnsemble([]int{4, 0}, 0, false, false)
	assert.ErrorIs(t, err, images.ErrInvalidConfig)
	_, err = NewMultiResEnsemble([]int{4}, -1, false, false)
	assert.ErrorIs(t, err, images.ErrInvalidConfig)
}
