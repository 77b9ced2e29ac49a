package evaluation

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/mrs-eval/images"
)

// Transform prepares a float32 (rows, cols, 3) patch for the model. Transforms
// run in order after ensemble augmentation and before the patch is converted
// to channel-first layout.
type Transform func(*tensor.Dense) (*tensor.Dense, error)

// Normalize standardizes each channel: (x - mean[c]) / std[c].
//
// Example:
//
//	// ImageNet statistics on 0-255 pixels.
//	norm := Normalize([]float32{123.675, 116.28, 103.53}, []float32{58.395, 57.12, 57.375})
func Normalize(mean, std []float32) Transform {
	return func(t *tensor.Dense) (*tensor.Dense, error) {
		data, err := images.Float32Data(t)
		if err != nil {
			return nil, err
		}
		nc := images.Channels(t)
		if len(mean) != nc || len(std) != nc {
			return nil, errors.Wrapf(images.ErrInvalidConfig, "normalize has %d means and %d stds for %d channels",
				len(mean), len(std), nc)
		}
		for _, s := range std {
			if s == 0 {
				return nil, errors.Wrap(images.ErrInvalidConfig, "normalize std must be non-zero")
			}
		}
		out := make([]float32, len(data))
		for i, v := range data {
			c := i % nc
			out[i] = (v - mean[c]) / std[c]
		}
		return tensor.New(tensor.WithShape(t.Shape().Clone()...), tensor.WithBacking(out)), nil
	}
}

// Scale multiplies every value by factor, e.g. 1/255 to map pixels to [0, 1].
func Scale(factor float32) Transform {
	return func(t *tensor.Dense) (*tensor.Dense, error) {
		data, err := images.Float32Data(t)
		if err != nil {
			return nil, err
		}
		out := make([]float32, len(data))
		for i, v := range data {
			out[i] = v * factor
		}
		return tensor.New(tensor.WithShape(t.Shape().Clone()...), tensor.WithBacking(out)), nil
	}
}

// Softmax converts float32 (classes, rows, cols) logits into per-pixel class
// probabilities.
func Softmax(logits *tensor.Dense) (*tensor.Dense, error) {
	data, err := images.Float32Data(logits)
	if err != nil {
		return nil, err
	}
	if logits.Dims() != 3 {
		return nil, errors.Wrapf(images.ErrInvalidInput, "expected (classes, rows, cols) logits, got %v", logits.Shape())
	}
	nc := logits.Shape()[0]
	plane := logits.Shape()[1] * logits.Shape()[2]
	out := make([]float32, len(data))
	for i := 0; i < plane; i++ {
		top := math32.Inf(-1)
		for c := 0; c < nc; c++ {
			top = math32.Max(top, data[c*plane+i])
		}
		var sum float32
		for c := 0; c < nc; c++ {
			e := math32.Exp(data[c*plane+i] - top)
			out[c*plane+i] = e
			sum += e
		}
		for c := 0; c < nc; c++ {
			out[c*plane+i] /= sum
		}
	}
	return tensor.New(tensor.WithShape(logits.Shape().Clone()...), tensor.WithBacking(out)), nil
}

func applyTransforms(patch *tensor.Dense, transforms []Transform) (*tensor.Dense, error) {
	var err error
	for i, tf := range transforms {
		if patch, err = tf(patch); err != nil {
			return nil, errors.Wrapf(err, "transform %d", i)
		}
	}
	return patch, nil
}
