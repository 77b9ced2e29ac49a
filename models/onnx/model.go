package onnx

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/mrs-eval/images"
	"github.com/nvr-ai/mrs-eval/models/model"
)

// Model runs a segmentation network exported to ONNX. The native session is
// bound to fixed-size tensors, so every patch must match Config.Input.
type Model struct {
	cfg     model.Config
	session *session

	mu    sync.Mutex
	stats Stats
}

// Stats are cumulative inference timings.
type Stats struct {
	Inferences int64
	Total      time.Duration
}

// Mean returns the average inference time.
func (s Stats) Mean() time.Duration {
	if s.Inferences == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Inferences)
}

// NewModel loads an ONNX segmentation network.
//
// Arguments:
//   - cfg: A KindONNX model config.
//
// Returns:
//   - *Model: The model; the caller must Close it.
//   - error: images.ErrInvalidConfig for a bad config, or the runtime error.
func NewModel(cfg model.Config) (*Model, error) {
	if cfg.Kind == "" {
		cfg.Kind = model.KindONNX
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Kind != model.KindONNX {
		return nil, errors.Wrapf(images.ErrInvalidConfig, "onnx model cannot load kind %q", cfg.Kind)
	}
	s, err := newSession(cfg)
	if err != nil {
		return nil, err
	}
	return &Model{cfg: cfg, session: s}, nil
}

// LabelMargin implements model.Model.
func (m *Model) LabelMargin() int {
	return m.cfg.Margin
}

// Stats returns the timings so far.
func (m *Model) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Inference implements model.Model. Calls are serialized on the bound tensors.
func (m *Model) Inference(patch *tensor.Dense) (*tensor.Dense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, errors.New("onnx model is closed")
	}
	if err := fillInput(m.session.input.GetData(), patch, m.cfg.Input); err != nil {
		return nil, err
	}

	start := time.Now()
	if err := m.session.run(); err != nil {
		return nil, errors.Wrap(err, "run ORT session")
	}
	m.stats.Inferences++
	m.stats.Total += time.Since(start)

	return copyOutput(m.session.output.GetData(), m.cfg.Classes, m.cfg.OutputSize()), nil
}

// Close implements model.Model.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	err := m.session.close()
	m.session = nil
	return err
}

// fillInput copies a (3, rows, cols) float32 patch into the bound input.
func fillInput(dst []float32, patch *tensor.Dense, size images.Size) error {
	if patch == nil {
		return errors.Wrap(images.ErrInvalidInput, "nil patch")
	}
	if want := (tensor.Shape{3, size.Rows, size.Cols}); !patch.Shape().Eq(want) {
		return errors.Wrapf(images.ErrInvalidInput, "patch shape %v, model expects %v", patch.Shape(), want)
	}
	data, err := images.Float32Data(patch)
	if err != nil {
		return err
	}
	if len(dst) != len(data) {
		return errors.Wrapf(images.ErrInvalidInput, "input tensor holds %d values, patch has %d", len(dst), len(data))
	}
	copy(dst, data)
	return nil
}

// copyOutput detaches the logits from the bound output tensor.
func copyOutput(src []float32, classes int, size images.Size) *tensor.Dense {
	out := make([]float32, len(src))
	copy(out, src)
	return tensor.New(tensor.WithShape(classes, size.Rows, size.Cols), tensor.WithBacking(out))
}
