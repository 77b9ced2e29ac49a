package evaluation

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/mrs-eval/images"
)

// Ensemble expands a patch into several views before inference and merges
// the per-view predictions back into one.
//
// Augment receives a float32 (rows, cols, 3) patch. Fuse receives one
// float32 (rows', cols', classes) probability map per view, in Augment order,
// and returns a single (rows'', cols'', classes) map.
type Ensemble interface {
	Augment(patch *tensor.Dense) ([]*tensor.Dense, error)
	Fuse(preds []*tensor.Dense) (*tensor.Dense, error)
}

// BaseEnsemble runs the patch as is.
type BaseEnsemble struct{}

// Augment implements Ensemble.
func (BaseEnsemble) Augment(patch *tensor.Dense) ([]*tensor.Dense, error) {
	return []*tensor.Dense{patch}, nil
}

// Fuse implements Ensemble.
func (BaseEnsemble) Fuse(preds []*tensor.Dense) (*tensor.Dense, error) {
	if len(preds) == 0 {
		return nil, errors.Wrap(images.ErrInvalidInput, "no predictions to fuse")
	}
	return preds[0], nil
}

// views is the number of flip/rotation views per scale when Rotate is set.
const views = 6

// MultiResEnsemble runs each patch at several square sizes, optionally with
// six flip/rotation views per size, and averages the predictions.
//
// The views per size are, in order: identity, flipud, fliplr, rot90,
// flipud(rot90), fliplr(rot90). Fuse resizes each prediction to FuseSize,
// undoes its view, averages within each size, then takes the mean (or the
// maximum when UseMax is set) across sizes.
type MultiResEnsemble struct {
	AugSizes []int `json:"augSizes" yaml:"augSizes"`
	// FuseSize defaults to the last of AugSizes.
	FuseSize int  `json:"fuseSize" yaml:"fuseSize"`
	Rotate   bool `json:"rotate"   yaml:"rotate"`
	UseMax   bool `json:"useMax"   yaml:"useMax"`
}

// NewMultiResEnsemble validates sizes and fills the default FuseSize.
func NewMultiResEnsemble(augSizes []int, fuseSize int, rotate, useMax bool) (*MultiResEnsemble, error) {
	e := &MultiResEnsemble{AugSizes: augSizes, FuseSize: fuseSize, Rotate: rotate, UseMax: useMax}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	e.FuseSize = e.fuseSize()
	return e, nil
}

// Validate checks the sizes.
func (e *MultiResEnsemble) Validate() error {
	if len(e.AugSizes) == 0 {
		return errors.Wrap(images.ErrInvalidConfig, "multi-resolution ensemble needs at least one size")
	}
	for _, s := range e.AugSizes {
		if s <= 0 {
			return errors.Wrapf(images.ErrInvalidConfig, "augment size must be positive, got %d", s)
		}
	}
	if e.FuseSize < 0 {
		return errors.Wrapf(images.ErrInvalidConfig, "fuse size must be non-negative, got %d", e.FuseSize)
	}
	return nil
}

func (e *MultiResEnsemble) fuseSize() int {
	if e.FuseSize > 0 {
		return e.FuseSize
	}
	return e.AugSizes[len(e.AugSizes)-1]
}

func (e *MultiResEnsemble) perSize() int {
	if e.Rotate {
		return views
	}
	return 1
}

// Augment implements Ensemble.
func (e *MultiResEnsemble) Augment(patch *tensor.Dense) ([]*tensor.Dense, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	out := make([]*tensor.Dense, 0, len(e.AugSizes)*e.perSize())
	for _, s := range e.AugSizes {
		rgb, err := images.ResizeRGB(patch, images.Size{Rows: s, Cols: s})
		if err != nil {
			return nil, errors.Wrapf(err, "resize to %d", s)
		}
		out = append(out, rgb)
		if !e.Rotate {
			continue
		}
		for v := 1; v < views; v++ {
			aug, err := view(rgb, v)
			if err != nil {
				return nil, err
			}
			out = append(out, aug)
		}
	}
	return out, nil
}

// Fuse implements Ensemble.
func (e *MultiResEnsemble) Fuse(preds []*tensor.Dense) (*tensor.Dense, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	per := e.perSize()
	if want := len(e.AugSizes) * per; len(preds) != want {
		return nil, errors.Wrapf(images.ErrInvalidInput, "fuse got %d predictions, expected %d", len(preds), want)
	}
	fs := e.fuseSize()
	size := images.Size{Rows: fs, Cols: fs}

	var (
		fused []float32
		shape tensor.Shape
	)
	for s := range e.AugSizes {
		var mean []float32
		for v := 0; v < per; v++ {
			pred, err := images.ResizeTensor(preds[s*per+v], size, images.BilinearFilter)
			if err != nil {
				return nil, errors.Wrapf(err, "resize prediction %d", s*per+v)
			}
			if pred, err = unview(pred, v); err != nil {
				return nil, err
			}
			data, _ := images.Float32Data(pred)
			if mean == nil {
				mean = make([]float32, len(data))
				shape = pred.Shape().Clone()
			} else if len(data) != len(mean) {
				return nil, errors.Wrapf(images.ErrInvalidInput, "prediction %d has shape %v, expected %v",
					s*per+v, pred.Shape(), shape)
			}
			for i, x := range data {
				mean[i] += x / float32(per)
			}
		}
		switch {
		case fused == nil:
			fused = mean
		case len(mean) != len(fused):
			return nil, errors.Wrapf(images.ErrInvalidInput, "predictions for size %d differ in classes", e.AugSizes[s])
		case e.UseMax:
			for i, x := range mean {
				fused[i] = max(fused[i], x)
			}
		default:
			for i, x := range mean {
				fused[i] += x
			}
		}
	}
	if !e.UseMax {
		for i := range fused {
			fused[i] /= float32(len(e.AugSizes))
		}
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(fused)), nil
}

// view applies flip/rotation view v.
func view(t *tensor.Dense, v int) (*tensor.Dense, error) {
	switch v {
	case 0:
		return t, nil
	case 1:
		return images.FlipUD(t)
	case 2:
		return images.FlipLR(t)
	}
	rot, err := images.Rot90(t, 1)
	if err != nil {
		return nil, err
	}
	switch v {
	case 3:
		return rot, nil
	case 4:
		return images.FlipUD(rot)
	default:
		return images.FlipLR(rot)
	}
}

// unview inverts view v.
func unview(t *tensor.Dense, v int) (*tensor.Dense, error) {
	var err error
	switch v {
	case 0:
		return t, nil
	case 1:
		return images.FlipUD(t)
	case 2:
		return images.FlipLR(t)
	case 4:
		t, err = images.FlipUD(t)
	case 5:
		t, err = images.FlipLR(t)
	}
	if err != nil {
		return nil, err
	}
	return images.Rot90(t, -1)
}
