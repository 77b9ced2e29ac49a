// Package scoring - Object-wise scoring of segmentation confidence maps.
//
// A confidence map is binarized, its connected components are filtered by
// size, nearby components are merged through disk dilation, and the resulting
// region groups are matched against ground-truth groups by IoU. The matches
// feed a precision/recall curve.
package scoring

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/mrs-eval/images"
)

// RegionGroup is a set of foreground pixels treated as one object.
type RegionGroup struct {
	// Label is the group id in the grouped label image.
	Label int `json:"label" yaml:"label"`
	// Coords lists the member pixels in row-major order. Never empty.
	Coords []images.Coord `json:"coords" yaml:"coords"`
	// Area is len(Coords).
	Area int `json:"area" yaml:"area"`
	// MeanConfidence is the mean of the confidence map over Coords.
	MeanConfidence float64 `json:"meanConfidence" yaml:"meanConfidence"`
	// Bounds is the pixel-inclusive bounding box of Coords.
	Bounds images.Rect `json:"bounds" yaml:"bounds"`
}

// ObjectScorer groups confidence-map pixels into objects.
type ObjectScorer struct {
	// MinRegion is the smallest number of pixels that forms an object.
	MinRegion int `json:"minRegion" yaml:"minRegion"`
	// MinThreshold binarizes the confidence map: foreground iff conf >= MinThreshold.
	MinThreshold float32 `json:"minThreshold" yaml:"minThreshold"`
	// DilationSize is the disk radius used to merge nearby components. 0 disables merging.
	DilationSize int `json:"dilationSize" yaml:"dilationSize"`
}

// DefaultObjectScorer returns the scorer defaults: 5 pixels, 0.5, radius 12.
func DefaultObjectScorer() ObjectScorer {
	return ObjectScorer{MinRegion: 5, MinThreshold: 0.5, DilationSize: 12}
}

// NewObjectScorer builds a validated scorer.
//
// Arguments:
//   - minRegion: Smallest object area in pixels, > 0.
//   - minThreshold: Binarization threshold in [0, 1].
//   - dilationSize: Merge radius in pixels, >= 0.
//
// Returns:
//   - *ObjectScorer: The scorer.
//   - error: images.ErrInvalidConfig if any parameter is out of range.
func NewObjectScorer(minRegion int, minThreshold float32, dilationSize int) (*ObjectScorer, error) {
	s := &ObjectScorer{MinRegion: minRegion, MinThreshold: minThreshold, DilationSize: dilationSize}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the scorer parameters.
func (s ObjectScorer) Validate() error {
	if s.MinRegion <= 0 {
		return errors.Wrapf(images.ErrInvalidConfig, "min region must be positive, got %d", s.MinRegion)
	}
	if s.MinThreshold < 0 || s.MinThreshold > 1 {
		return errors.Wrapf(images.ErrInvalidConfig, "min threshold must be in [0, 1], got %v", s.MinThreshold)
	}
	if s.DilationSize < 0 {
		return errors.Wrapf(images.ErrInvalidConfig, "dilation size must be non-negative, got %d", s.DilationSize)
	}
	return nil
}

// Group extracts the region groups of a (rows, cols) confidence map.
//
// Components smaller than MinRegion are dropped before dilation, so they can
// neither form an object nor bridge two others. Dilation only decides which
// surviving pixels belong together; the groups themselves keep their
// undilated pixels, and a group whose undilated area is below MinRegion is
// dropped.
//
// Arguments:
//   - conf: A 2D numeric confidence map; non-float32 maps are converted.
//
// Returns:
//   - []RegionGroup: Groups in label order.
//   - error: images.ErrInvalidConfig for a bad scorer, images.ErrInvalidInput for a bad map.
//
// Example:
//
//	s := scoring.DefaultObjectScorer()
//	groups, err := s.Group(conf)
func (s ObjectScorer) Group(conf *tensor.Dense) ([]RegionGroup, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	conf, err := images.ToFloat32(conf)
	if err != nil {
		return nil, err
	}
	values, _ := images.Float32Data(conf)

	binary, err := images.Threshold(conf, s.MinThreshold)
	if err != nil {
		return nil, err
	}
	components, err := images.LabelComponents(binary)
	if err != nil {
		return nil, err
	}

	// Rasterize the components that survive the size filter.
	areas := make([]int, components.Count+1)
	for _, id := range components.IDs {
		areas[id]++
	}
	cleaned := images.NewMask(binary.Size)
	for i, id := range components.IDs {
		if id != 0 && areas[id] >= s.MinRegion {
			cleaned.Pix[i] = 1
		}
	}

	grouping := components
	if s.DilationSize > 0 {
		dilated, err := images.Dilate(cleaned, s.DilationSize)
		if err != nil {
			return nil, err
		}
		if grouping, err = images.LabelComponents(dilated); err != nil {
			return nil, err
		}
	}

	byLabel := make([]*RegionGroup, grouping.Count+1)
	sums := make([]float64, grouping.Count+1)
	for i, p := range cleaned.Pix {
		if p == 0 {
			continue
		}
		id := grouping.IDs[i]
		g := byLabel[id]
		if g == nil {
			g = &RegionGroup{Label: int(id)}
			byLabel[id] = g
		}
		g.Coords = append(g.Coords, images.Coord{Row: i / cleaned.Cols, Col: i % cleaned.Cols})
		sums[id] += float64(values[i])
	}

	var groups []RegionGroup
	for id, g := range byLabel {
		if g == nil || len(g.Coords) < s.MinRegion {
			continue
		}
		g.Area = len(g.Coords)
		g.MeanConfidence = sums[id] / float64(g.Area)
		g.Bounds, _ = images.BoundsOf(g.Coords)
		groups = append(groups, *g)
	}
	return groups, nil
}
