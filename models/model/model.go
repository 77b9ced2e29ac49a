// Package model - The segmentation model contract and its configuration.
package model

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/mrs-eval/images"
)

// Kind selects the model implementation.
type Kind string

const (
	// KindONNX runs an exported network through ONNX Runtime.
	KindONNX Kind = "onnx"
	// KindLinear is a pixel-wise linear classifier evaluated with gorgonia.
	KindLinear Kind = "linear"
)

// Model is a trained segmentation network.
//
// Inference takes one float32 (3, rows, cols) patch and returns float32
// (classes, rows', cols') logits. rows' and cols' are either the patch size or
// the patch size minus 2*LabelMargin when the network crops its own border.
type Model interface {
	Inference(patch *tensor.Dense) (*tensor.Dense, error)
	// LabelMargin is the number of border pixels per side the network cannot
	// predict reliably.
	LabelMargin() int
	Close() error
}

// Config describes how to build a model.
type Config struct {
	// Kind selects the implementation.
	Kind Kind `json:"kind"       yaml:"kind"`
	// Path is the .onnx file for KindONNX, or a (4, classes) .npy weight
	// matrix for KindLinear (rows: r, g, b, bias).
	Path string `json:"path"       yaml:"path"`
	// Input is the patch size the network expects.
	Input images.Size `json:"input"      yaml:"input"`
	// Classes is the number of output channels.
	Classes int `json:"classes"    yaml:"classes"`
	// Margin is the label margin in pixels.
	Margin int `json:"margin"     yaml:"margin"`
	// Cropped reports that the network output is already Input minus 2*Margin.
	Cropped bool `json:"cropped"    yaml:"cropped"`
	// InputName and OutputName are the ONNX graph node names.
	InputName  string `json:"inputName"  yaml:"inputName"`
	OutputName string `json:"outputName" yaml:"outputName"`
	// Provider selects and configures the ONNX Runtime execution provider.
	Provider ProviderConfig `json:"provider"   yaml:"provider"`
}

// OutputSize returns the spatial size of the logits for an input patch.
func (c Config) OutputSize() images.Size {
	if c.Cropped {
		return images.Size{Rows: c.Input.Rows - 2*c.Margin, Cols: c.Input.Cols - 2*c.Margin}
	}
	return c.Input
}

// Validate checks the fields every kind depends on.
func (c Config) Validate() error {
	switch {
	case c.Kind != KindONNX && c.Kind != KindLinear:
		return errors.Wrapf(images.ErrInvalidConfig, "unknown model kind %q", c.Kind)
	case c.Path == "":
		return errors.Wrap(images.ErrInvalidConfig, "model path is required")
	case c.Classes < 2:
		return errors.Wrapf(images.ErrInvalidConfig, "model needs at least 2 classes, got %d", c.Classes)
	case c.Margin < 0:
		return errors.Wrapf(images.ErrInvalidConfig, "label margin must be non-negative, got %d", c.Margin)
	}
	if c.Kind == KindONNX {
		out := c.OutputSize()
		if c.Input.Rows <= 0 || c.Input.Cols <= 0 || out.Rows <= 0 || out.Cols <= 0 {
			return errors.Wrapf(images.ErrInvalidConfig, "input size %dx%d does not fit margin %d",
				c.Input.Rows, c.Input.Cols, c.Margin)
		}
	}
	return c.Provider.Validate()
}
