package scoring

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/mrs-eval/images"
)

func group(label int, row, col, h, w int) RegionGroup {
	g := RegionGroup{Label: label}
	for r := row; r < row+h; r++ {
		for c := col; c < col+w; c++ {
			g.Coords = append(g.Coords, images.Coord{Row: r, Col: c})
		}
	}
	g.Area = len(g.Coords)
	g.Bounds, _ = images.BoundsOf(g.Coords)
	return g
}

func TestScore(t *testing.T) {
	conf := newCanvas(20, 20).fill(0, 0, 4, 4, 0.8).fill(10, 10, 4, 4, 0.6).tensor()

	t.Run("matching prediction is a true positive", func(t *testing.T) {
		records, err := Score([]RegionGroup{group(1, 0, 0, 4, 4)}, []RegionGroup{group(1, 0, 0, 4, 4)}, conf, 0.5)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, 1, records[0].Label)
		assert.InDelta(t, 0.8, records[0].Confidence, 1e-6)
		assert.GreaterOrEqual(t, records[0].Confidence, 0.0)
	})

	t.Run("unmatched ground truth is a false negative", func(t *testing.T) {
		records, err := Score(nil, []RegionGroup{group(1, 5, 5, 3, 3)}, conf, 0.5)
		require.NoError(t, err)
		assert.Equal(t, []MatchRecord{{Confidence: MissedConfidence, Label: 1}}, records)
	})

	t.Run("unmatched prediction is a false positive", func(t *testing.T) {
		pred := []RegionGroup{group(1, 0, 0, 4, 4), group(2, 10, 10, 4, 4)}
		records, err := Score(pred, []RegionGroup{group(1, 0, 0, 4, 4)}, conf, 0.5)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, 1, records[0].Label)
		assert.Equal(t, 0, records[1].Label)
		assert.InDelta(t, 0.6, records[1].Confidence, 1e-6)
	})

	t.Run("IoU below threshold does not link", func(t *testing.T) {
		// 4x4 vs 4x4 shifted by two columns: IoU 8/24.
		records, err := Score([]RegionGroup{group(1, 0, 0, 4, 4)}, []RegionGroup{group(1, 0, 2, 4, 4)}, conf, 0.5)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, MatchRecord{Confidence: MissedConfidence, Label: 1}, records[0])
		assert.Equal(t, 0, records[1].Label)
	})
}

func TestScore_FirstQualifyingPredictionWins(t *testing.T) {
	conf := newCanvas(10, 10).fill(0, 0, 4, 5, 0.9).tensor()
	// Both predictions qualify for the ground truth; the second is the exact
	// match but the first is claimed.
	first := group(1, 0, 0, 4, 5)
	exact := group(2, 0, 0, 4, 4)
	gt := group(1, 0, 0, 4, 4)

	records, err := Score([]RegionGroup{first, exact}, []RegionGroup{gt}, conf, 0.5)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 1, records[0].Label)
	assert.Equal(t, 0, records[1].Label, "the better match is left unlinked")
}

func TestScore_EachPredictionClaimedOnce(t *testing.T) {
	conf := newCanvas(10, 10).fill(0, 0, 4, 4, 0.9).tensor()
	pred := []RegionGroup{group(1, 0, 0, 4, 4)}
	gt := []RegionGroup{group(1, 0, 0, 4, 4), group(2, 0, 0, 4, 4)}

	records, err := Score(pred, gt, conf, 0.5)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 1, records[0].Label)
	assert.Equal(t, MatchRecord{Confidence: MissedConfidence, Label: 1}, records[1])
}

func TestScore_GroupOutsideMap(t *testing.T) {
	conf := newCanvas(4, 4).tensor()
	_, err := Score([]RegionGroup{group(1, 2, 2, 4, 4)}, nil, conf, 0.5)
	assert.True(t, errors.Is(err, images.ErrInvalidInput))
}

func TestScoreMaps(t *testing.T) {
	// Blobs sit further apart than twice the default dilation radius.
	pred := newCanvas(20, 30).fill(2, 2, 4, 4, 0.75).fill(12, 22, 3, 3, 0.9).tensor()
	lbl := newCanvas(20, 30).fill(2, 2, 4, 4, 1).fill(2, 20, 3, 3, 1).tensor()

	records, err := ScoreMaps(pred, lbl, DefaultScoreOptions())
	require.NoError(t, err)
	assert.Equal(t, []MatchRecord{
		{Confidence: 0.75, Label: 1},
		{Confidence: MissedConfidence, Label: 1},
		{Confidence: float64(float32(0.9)), Label: 0},
	}, records)

	confs, labels := Split(records)
	assert.Equal(t, []int{1, 1, 0}, labels)
	assert.Equal(t, MissedConfidence, confs[1])

	_, err = ScoreMaps(pred, newCanvas(10, 10).tensor(), DefaultScoreOptions())
	assert.True(t, errors.Is(err, images.ErrInvalidInput))
}
