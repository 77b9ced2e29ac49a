// Package linear - A pixel-wise linear classifier evaluated as a gorgonia graph.
//
// Every pixel's (r, g, b, 1) vector is multiplied by a (4, classes) weight
// matrix, giving per-class logits. It is a baseline for smoke runs and a
// deterministic model for tests of the tiling pipeline.
package linear

import (
	"sync"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/mrs-eval/images"
	"github.com/nvr-ai/mrs-eval/models/model"
	"github.com/nvr-ai/mrs-eval/util"
)

// Model is a linear per-pixel classifier.
type Model struct {
	weights *tensor.Dense
	classes int
	margin  int
	cropped bool

	mu     sync.Mutex
	graphs map[int]*graph
}

// graph is a compiled x(n,4) * w(4,classes) program for one pixel count.
type graph struct {
	g   *G.ExprGraph
	x   *G.Node
	y   *G.Node
	vm  G.VM
	buf []float32
}

// New builds a classifier from a float32 (4, classes) weight matrix.
//
// Arguments:
//   - weights: Rows are the r, g, b and bias coefficients.
//   - margin: The label margin reported to the tiler.
//   - cropped: Crop margin pixels from each side of the output.
//
// Returns:
//   - *Model: The classifier.
//   - error: images.ErrInvalidConfig for a bad weight shape or margin.
func New(weights *tensor.Dense, margin int, cropped bool) (*Model, error) {
	w, err := images.ToFloat32(weights)
	if err != nil {
		return nil, err
	}
	shape := w.Shape()
	if len(shape) != 2 || shape[0] != 4 || shape[1] < 2 {
		return nil, errors.Wrapf(images.ErrInvalidConfig, "weights must be (4, classes>=2), got %v", shape)
	}
	if margin < 0 {
		return nil, errors.Wrapf(images.ErrInvalidConfig, "label margin must be non-negative, got %d", margin)
	}
	return &Model{
		weights: w,
		classes: shape[1],
		margin:  margin,
		cropped: cropped,
		graphs:  make(map[int]*graph),
	}, nil
}

// NewModel loads the weight matrix named by cfg.Path.
func NewModel(cfg model.Config) (*Model, error) {
	if cfg.Kind == "" {
		cfg.Kind = model.KindLinear
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Kind != model.KindLinear {
		return nil, errors.Wrapf(images.ErrInvalidConfig, "linear model cannot load kind %q", cfg.Kind)
	}
	w, err := util.LoadNpy(cfg.Path)
	if err != nil {
		return nil, err
	}
	m, err := New(w, cfg.Margin, cfg.Cropped)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", cfg.Path)
	}
	if m.classes != cfg.Classes {
		return nil, errors.Wrapf(images.ErrInvalidConfig, "%s has %d classes, config says %d", cfg.Path, m.classes, cfg.Classes)
	}
	return m, nil
}

// LabelMargin implements model.Model.
func (m *Model) LabelMargin() int {
	return m.margin
}

// Classes returns the number of output channels.
func (m *Model) Classes() int {
	return m.classes
}

func (m *Model) compile(n int) (*graph, error) {
	if gr, ok := m.graphs[n]; ok {
		return gr, nil
	}
	g := G.NewGraph()
	x := G.NewMatrix(g, tensor.Float32, G.WithShape(n, 4), G.WithName("x"))
	w := G.NewMatrix(g, tensor.Float32, G.WithShape(4, m.classes), G.WithName("w"), G.WithValue(m.weights))
	y, err := G.Mul(x, w)
	if err != nil {
		return nil, errors.Wrap(err, "build linear graph")
	}
	gr := &graph{g: g, x: x, y: y, vm: G.NewTapeMachine(g), buf: make([]float32, n*4)}
	m.graphs[n] = gr
	return gr, nil
}

// Inference implements model.Model.
func (m *Model) Inference(patch *tensor.Dense) (*tensor.Dense, error) {
	if patch == nil {
		return nil, errors.Wrap(images.ErrInvalidInput, "nil patch")
	}
	shape := patch.Shape()
	if len(shape) != 3 || shape[0] != 3 {
		return nil, errors.Wrapf(images.ErrInvalidInput, "expected a (3, rows, cols) patch, got %v", shape)
	}
	rows, cols := shape[1], shape[2]
	if m.cropped && (rows <= 2*m.margin || cols <= 2*m.margin) {
		return nil, errors.Wrapf(images.ErrInvalidInput, "patch %dx%d is smaller than margin %d", rows, cols, m.margin)
	}
	data, err := images.Float32Data(patch)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	n := rows * cols
	gr, err := m.compile(n)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		gr.buf[i*4] = data[i]
		gr.buf[i*4+1] = data[n+i]
		gr.buf[i*4+2] = data[2*n+i]
		gr.buf[i*4+3] = 1
	}
	if err := G.Let(gr.x, tensor.New(tensor.WithShape(n, 4), tensor.WithBacking(gr.buf))); err != nil {
		return nil, errors.Wrap(err, "bind linear input")
	}
	defer gr.vm.Reset()
	if err := gr.vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "run linear graph")
	}
	logits, ok := gr.y.Value().Data().([]float32)
	if !ok {
		return nil, errors.Errorf("unexpected logits type %T", gr.y.Value().Data())
	}

	crop := 0
	if m.cropped {
		crop = m.margin
	}
	outRows, outCols := rows-2*crop, cols-2*crop
	out := make([]float32, m.classes*outRows*outCols)
	for r := 0; r < outRows; r++ {
		for c := 0; c < outCols; c++ {
			px := (r+crop)*cols + c + crop
			for k := 0; k < m.classes; k++ {
				out[(k*outRows+r)*outCols+c] = logits[px*m.classes+k]
			}
		}
	}
	return tensor.New(tensor.WithShape(m.classes, outRows, outCols), tensor.WithBacking(out)), nil
}

// Close implements model.Model.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var first error
	for n, gr := range m.graphs {
		if err := gr.vm.Close(); err != nil && first == nil {
			first = errors.Wrap(err, "close tape machine")
		}
		delete(m.graphs, n)
	}
	return first
}
