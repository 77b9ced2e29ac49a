package scoring

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/nvr-ai/mrs-eval/images"
	"github.com/nvr-ai/mrs-eval/util"
)

// BatchScore scores prediction/label file pairs and concatenates their
// records in file order. Files may be .npy arrays or rasters; the first load
// failure aborts the batch.
//
// Arguments:
//   - ctx: Checked between pairs.
//   - predFiles: Prediction confidence maps.
//   - lblFiles: Ground-truth maps, paired by index with predFiles.
//   - opts: Grouping and matching options.
//   - progress: Where to render a progress bar; nil disables it.
//
// Returns:
//   - []MatchRecord: All records.
//   - error: images.ErrInvalidInput for unequal lists, or the first load or scoring error.
func BatchScore(ctx context.Context, predFiles, lblFiles []string, opts ScoreOptions, progress io.Writer) ([]MatchRecord, error) {
	if len(predFiles) != len(lblFiles) {
		return nil, errors.Wrapf(images.ErrInvalidInput, "%d prediction files but %d label files",
			len(predFiles), len(lblFiles))
	}
	bar := util.NewProgressBar(progress, len(predFiles), "Scoring")

	var records []MatchRecord
	for i := range predFiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pred, err := util.LoadMap(predFiles[i])
		if err != nil {
			return nil, err
		}
		lbl, err := util.LoadMap(lblFiles[i])
		if err != nil {
			return nil, err
		}
		recs, err := ScoreMaps(pred, lbl, opts)
		if err != nil {
			return nil, errors.Wrapf(err, "score %s", predFiles[i])
		}
		records = append(records, recs...)
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	return records, nil
}
