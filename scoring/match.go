package scoring

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/mrs-eval/images"
)

// MissedConfidence is the confidence recorded for a ground-truth object no
// prediction was linked to. It sorts below every real confidence.
const MissedConfidence = -1.0

// MatchRecord is one scored object.
//
//   - (conf, 1): a prediction linked to a ground-truth object (true positive).
//   - (-1, 1):   a ground-truth object with no linked prediction (false negative).
//   - (conf, 0): a prediction linked to nothing (false positive).
type MatchRecord struct {
	Confidence float64 `json:"confidence" yaml:"confidence"`
	Label      int     `json:"label" yaml:"label"`
}

// ScoreOptions configures ScoreMaps and BatchScore.
type ScoreOptions struct {
	MinRegion    int     `json:"minRegion" yaml:"minRegion"`
	MinThreshold float32 `json:"minThreshold" yaml:"minThreshold"`
	DilationSize int     `json:"dilationSize" yaml:"dilationSize"`
	IoUThreshold float64 `json:"iouThreshold" yaml:"iouThreshold"`
}

// DefaultScoreOptions returns 5 pixels, 0.5, radius 5 and IoU 0.5.
func DefaultScoreOptions() ScoreOptions {
	return ScoreOptions{MinRegion: 5, MinThreshold: 0.5, DilationSize: 5, IoUThreshold: 0.5}
}

// Scorer returns the object scorer the options describe.
func (o ScoreOptions) Scorer() ObjectScorer {
	return ObjectScorer{MinRegion: o.MinRegion, MinThreshold: o.MinThreshold, DilationSize: o.DilationSize}
}

// Score links predicted groups to ground-truth groups in one greedy pass.
//
// For each ground-truth group in order, the first not-yet-linked prediction
// whose object IoU reaches iouThreshold is linked and a (confidence, 1) record
// is emitted; without such a prediction a (-1, 1) record is emitted. Every
// prediction left unlinked afterwards yields a (confidence, 0) record. The
// first qualifying prediction wins even when a later one overlaps better.
//
// Arguments:
//   - pred: Predicted groups.
//   - gt: Ground-truth groups.
//   - predConf: The (rows, cols) map predictions were grouped from; a
//     prediction's confidence is its mean over the group's pixels.
//   - iouThreshold: Minimum object IoU for a link.
//
// Returns:
//   - []MatchRecord: len(gt) records in gt order, then one per unlinked prediction.
//   - error: images.ErrInvalidInput if a group does not fit the map.
func Score(pred, gt []RegionGroup, predConf *tensor.Dense, iouThreshold float64) ([]MatchRecord, error) {
	conf, err := images.ToFloat32(predConf)
	if err != nil {
		return nil, err
	}
	size, err := images.SizeOf(conf)
	if err != nil {
		return nil, err
	}
	values, _ := images.Float32Data(conf)

	predConfs := make([]float64, len(pred))
	for i, g := range pred {
		if predConfs[i], err = meanOver(values, size, g.Coords); err != nil {
			return nil, errors.Wrapf(err, "prediction group %d", g.Label)
		}
	}

	records := make([]MatchRecord, 0, len(gt)+len(pred))
	matched := make(map[int]bool, len(pred))
	for _, g := range gt {
		linked := false
		for i, p := range pred {
			if matched[i] {
				continue
			}
			iou, err := images.ObjectIoU(p.Coords, g.Coords, size)
			if err != nil {
				return nil, err
			}
			if iou >= iouThreshold {
				matched[i] = true
				records = append(records, MatchRecord{Confidence: predConfs[i], Label: 1})
				linked = true
				break
			}
		}
		if !linked {
			records = append(records, MatchRecord{Confidence: MissedConfidence, Label: 1})
		}
	}
	for i := range pred {
		if !matched[i] {
			records = append(records, MatchRecord{Confidence: predConfs[i], Label: 0})
		}
	}
	return records, nil
}

func meanOver(values []float32, size images.Size, coords []images.Coord) (float64, error) {
	if len(coords) == 0 {
		return 0, errors.Wrap(images.ErrInvalidInput, "empty region group")
	}
	var sum float64
	for _, c := range coords {
		if c.Row < 0 || c.Row >= size.Rows || c.Col < 0 || c.Col >= size.Cols {
			return 0, errors.Wrapf(images.ErrInvalidInput, "coordinate (%d,%d) outside %dx%d map",
				c.Row, c.Col, size.Rows, size.Cols)
		}
		sum += float64(values[c.Row*size.Cols+c.Col])
	}
	return sum / float64(len(coords)), nil
}

// ScoreMaps groups a prediction map and a label map with the same scorer and
// matches the groups.
//
// Arguments:
//   - pred: The (rows, cols) prediction confidence map.
//   - lbl: The (rows, cols) ground-truth map, foreground >= MinThreshold.
//   - opts: Grouping and matching options.
//
// Returns:
//   - []MatchRecord: See Score.
//   - error: images.ErrInvalidInput if the maps differ in size.
func ScoreMaps(pred, lbl *tensor.Dense, opts ScoreOptions) ([]MatchRecord, error) {
	if !pred.Shape().Eq(lbl.Shape()) {
		return nil, errors.Wrapf(images.ErrInvalidInput, "prediction shape %v does not match label shape %v",
			pred.Shape(), lbl.Shape())
	}
	scorer := opts.Scorer()
	predGroups, err := scorer.Group(pred)
	if err != nil {
		return nil, errors.Wrap(err, "group prediction")
	}
	lblGroups, err := scorer.Group(lbl)
	if err != nil {
		return nil, errors.Wrap(err, "group label")
	}
	return Score(predGroups, lblGroups, pred, opts.IoUThreshold)
}

// Split separates records into parallel confidence and label slices.
func Split(records []MatchRecord) ([]float64, []int) {
	confs := make([]float64, len(records))
	labels := make([]int, len(records))
	for i, r := range records {
		confs[i] = r.Confidence
		labels[i] = r.Label
	}
	return confs, labels
}
