package scoring

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/mrs-eval/images"
)

// canvas is a float32 confidence map under construction.
type canvas struct {
	rows, cols int
	data       []float32
}

func newCanvas(rows, cols int) *canvas {
	return &canvas{rows: rows, cols: cols, data: make([]float32, rows*cols)}
}

// fill paints a rectangle [row, row+h) x [col, col+w) with a value.
func (c *canvas) fill(row, col, h, w int, v float32) *canvas {
	for r := row; r < row+h; r++ {
		for cc := col; cc < col+w; cc++ {
			c.data[r*c.cols+cc] = v
		}
	}
	return c
}

func (c *canvas) tensor() *tensor.Dense {
	data := make([]float32, len(c.data))
	copy(data, c.data)
	return tensor.New(tensor.WithShape(c.rows, c.cols), tensor.WithBacking(data))
}

func TestNewObjectScorer(t *testing.T) {
	tests := []struct {
		name      string
		minRegion int
		threshold float32
		dilation  int
		wantErr   bool
	}{
		{"defaults", 5, 0.5, 12, false},
		{"no dilation", 1, 0, 0, false},
		{"zero min region", 0, 0.5, 1, true},
		{"threshold above one", 5, 1.5, 1, true},
		{"negative dilation", 5, 0.5, -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewObjectScorer(tt.minRegion, tt.threshold, tt.dilation)
			if tt.wantErr {
				assert.True(t, errors.Is(err, images.ErrInvalidConfig))
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.dilation, s.DilationSize)
		})
	}
}

func TestGroup_DropsSmallRegions(t *testing.T) {
	conf := newCanvas(10, 10).fill(1, 1, 3, 3, 0.9).fill(7, 7, 1, 2, 0.8).tensor()

	s := ObjectScorer{MinRegion: 5, MinThreshold: 0.5, DilationSize: 0}
	groups, err := s.Group(conf)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, 9, groups[0].Area)
	assert.Len(t, groups[0].Coords, 9)
	assert.InDelta(t, 0.9, groups[0].MeanConfidence, 1e-6)
	assert.Equal(t, images.Rect{X1: 1, Y1: 1, X2: 4, Y2: 4}, groups[0].Bounds)
	assert.Equal(t, images.Coord{Row: 1, Col: 1}, groups[0].Coords[0], "coords are row-major")
}

func TestGroup_DilationMergesNearbyBlobs(t *testing.T) {
	const radius = 2
	tests := []struct {
		name       string
		gap        int
		wantGroups int
	}{
		{"separated by more than twice the radius", 2*radius + 2, 2},
		{"within twice the radius", 2, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := newCanvas(10, 20).
				fill(3, 1, 3, 3, 0.9).
				fill(3, 4+tt.gap, 3, 3, 0.7).
				tensor()
			s := ObjectScorer{MinRegion: 5, MinThreshold: 0.5, DilationSize: radius}
			groups, err := s.Group(conf)
			require.NoError(t, err)
			require.Len(t, groups, tt.wantGroups)

			total := 0
			for _, g := range groups {
				total += g.Area
			}
			assert.Equal(t, 18, total, "groups keep only undilated pixels")
			if tt.wantGroups == 1 {
				assert.InDelta(t, 0.8, groups[0].MeanConfidence, 1e-6)
			}
		})
	}
}

func TestGroup_SmallBlobNeverBridges(t *testing.T) {
	// A 4-pixel blob between two large ones is removed before dilation.
	conf := newCanvas(10, 30).
		fill(3, 1, 3, 3, 0.9).
		fill(3, 10, 2, 2, 0.9).
		fill(3, 18, 3, 3, 0.9).
		tensor()
	s := ObjectScorer{MinRegion: 5, MinThreshold: 0.5, DilationSize: 3}
	groups, err := s.Group(conf)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	for _, g := range groups {
		assert.Equal(t, 9, g.Area)
	}
}

func TestGroup_Errors(t *testing.T) {
	conf := newCanvas(4, 4).tensor()

	_, err := ObjectScorer{MinRegion: 5, MinThreshold: 0.5, DilationSize: -3}.Group(conf)
	assert.True(t, errors.Is(err, images.ErrInvalidConfig), "negative dilation is rejected, not coerced")

	flat := tensor.New(tensor.WithShape(16), tensor.WithBacking(make([]float32, 16)))
	_, err = DefaultObjectScorer().Group(flat)
	assert.True(t, errors.Is(err, images.ErrInvalidInput))
}

func TestGroup_EmptyMap(t *testing.T) {
	groups, err := DefaultObjectScorer().Group(newCanvas(8, 8).tensor())
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestGroup_IntegerLabelMap(t *testing.T) {
	data := make([]int, 36)
	for _, i := range []int{7, 8, 9, 13, 14, 15} {
		data[i] = 1
	}
	lbl := tensor.New(tensor.WithShape(6, 6), tensor.WithBacking(data))
	groups, err := ObjectScorer{MinRegion: 5, MinThreshold: 0.5}.Group(lbl)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, 6, groups[0].Area)
	assert.Equal(t, 1.0, groups[0].MeanConfidence)
}
