// Package models - Model factory.
package models

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/mrs-eval/images"
	"github.com/nvr-ai/mrs-eval/models/linear"
	"github.com/nvr-ai/mrs-eval/models/model"
	"github.com/nvr-ai/mrs-eval/models/onnx"
)

// NewModel creates a segmentation model of the configured kind.
//
// Arguments:
//   - cfg: The model configuration.
//
// Returns:
//   - model.Model: The loaded model; the caller must Close it.
//   - error: images.ErrInvalidConfig for an unknown kind, or the load error.
//
// Example:
//
//	m, err := NewModel(model.Config{
//	    Kind:    model.KindONNX,
//	    Path:    "/models/unet_inria.onnx",
//	    Input:   images.Size{Rows: 572, Cols: 572},
//	    Classes: 2,
//	    Margin:  92,
//	})
func NewModel(cfg model.Config) (model.Model, error) {
	switch cfg.Kind {
	case model.KindONNX:
		m, err := onnx.NewModel(cfg)
		if err != nil {
			return nil, err
		}
		return m, nil
	case model.KindLinear:
		m, err := linear.NewModel(cfg)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, errors.Wrapf(images.ErrInvalidConfig, "unsupported model kind %q", cfg.Kind)
	}
}

// NewModels loads every config, closing the ones already loaded on failure.
func NewModels(cfgs []model.Config) ([]model.Model, error) {
	out := make([]model.Model, 0, len(cfgs))
	for i, cfg := range cfgs {
		m, err := NewModel(cfg)
		if err != nil {
			CloseAll(out)
			return nil, errors.Wrapf(err, "model %d", i)
		}
		out = append(out, m)
	}
	return out, nil
}

// CloseAll closes every model and returns the first error.
func CloseAll(ms []model.Model) error {
	var first error
	for _, m := range ms {
		if err := m.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
