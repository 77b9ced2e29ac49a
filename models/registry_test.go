package models

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/mrs-eval/images"
	"github.com/nvr-ai/mrs-eval/models/model"
	"github.com/nvr-ai/mrs-eval/util"
)

func writeWeights(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "w.npy")
	w := tensor.New(tensor.WithShape(4, 2), tensor.WithBacking([]float32{1, 0, 0, 1, 0, 0, 0, 0}))
	require.NoError(t, util.SaveNpy(path, w))
	return path
}

func TestNewModel(t *testing.T) {
	path := writeWeights(t)

	m, err := NewModel(model.Config{Kind: model.KindLinear, Path: path, Classes: 2, Margin: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, m.LabelMargin())
	require.NoError(t, m.Close())

	_, err = NewModel(model.Config{Kind: "torch", Path: path, Classes: 2})
	assert.ErrorIs(t, err, images.ErrInvalidConfig)
}

func TestNewModels_ClosesOnFailure(t *testing.T) {
	path := writeWeights(t)
	cfgs := []model.Config{
		{Kind: model.KindLinear, Path: path, Classes: 2},
		{Kind: model.KindLinear, Path: path, Classes: 5},
	}
	_, err := NewModels(cfgs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model 1")

	ms, err := NewModels(cfgs[:1])
	require.NoError(t, err)
	assert.Len(t, ms, 1)
	assert.NoError(t, CloseAll(ms))
}
