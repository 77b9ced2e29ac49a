// Package config - Run configuration for mrs-eval.
//
// A run is described by a YAML file. Load applies defaults first, then the
// file, then variables from a .env file and the process environment
// (MRS_* names, see ApplyEnv), and validates the result.
//
// Example:
//
//	dataset:
//	  name: inria
//	  dir: /data/inria
//	models:
//	  - kind: onnx
//	    path: models/unet.onnx
//	    input: {rows: 572, cols: 572}
//	    classes: 2
//	    margin: 92
//	    cropped: true
//	evaluate:
//	  patch: {rows: 572, cols: 572}
//	  overlap: 184
//	  reportDir: out
//	logging:
//	  level: debug
package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/mrs-eval/dataset"
	"github.com/nvr-ai/mrs-eval/evaluation"
	"github.com/nvr-ai/mrs-eval/images"
	"github.com/nvr-ai/mrs-eval/logging"
	"github.com/nvr-ai/mrs-eval/models/model"
	"github.com/nvr-ai/mrs-eval/scoring"
)

// DefaultEnvFile is read by Load when it exists.
const DefaultEnvFile = ".env"

// Config is a complete run description.
type Config struct {
	Dataset  DatasetConfig        `json:"dataset"  yaml:"dataset"`
	Models   []model.Config       `json:"models"   yaml:"models"`
	Evaluate EvaluateConfig       `json:"evaluate" yaml:"evaluate"`
	Ensemble EnsembleConfig       `json:"ensemble" yaml:"ensemble"`
	Score    scoring.ScoreOptions `json:"score"    yaml:"score"`
	Logging  logging.Config       `json:"logging"  yaml:"logging"`
}

// DatasetConfig names the registered dataset and its root directory.
type DatasetConfig struct {
	Name    string          `json:"name"    yaml:"name"`
	Dir     string          `json:"dir"     yaml:"dir"`
	Options dataset.Options `json:"options" yaml:"options"`
}

// EvaluateConfig holds the tiling, output and scoring settings shared by the
// evaluate and infer commands.
type EvaluateConfig struct {
	Patch     images.Size          `json:"patch"     yaml:"patch"`
	Overlap   int                  `json:"overlap"   yaml:"overlap"`
	PredDir   string               `json:"predDir"   yaml:"predDir"`
	ReportDir string               `json:"reportDir" yaml:"reportDir"`
	SaveConf  bool                 `json:"saveConf"  yaml:"saveConf"`
	Delta     float64              `json:"delta"     yaml:"delta"`
	EvalClass []int                `json:"evalClass" yaml:"evalClass"`
	DenseCRF  bool                 `json:"denseCRF"  yaml:"denseCRF"`
	CRF       evaluation.CRFParams `json:"crf"       yaml:"crf"`
	Verbose   bool                 `json:"verbose"   yaml:"verbose"`
	// Ext and FileExt name infer outputs: <name><Ext>.<FileExt>.
	Ext     string `json:"ext"     yaml:"ext"`
	FileExt string `json:"fileExt" yaml:"fileExt"`
	// Scale multiplies pixels before Mean/Std normalization; 0 disables it.
	Scale float32   `json:"scale" yaml:"scale"`
	Mean  []float32 `json:"mean"  yaml:"mean"`
	Std   []float32 `json:"std"   yaml:"std"`
}

// EnsembleConfig selects the test-time ensemble.
type EnsembleConfig struct {
	// Kind is "base" (default) or "multires".
	Kind     string `json:"kind"     yaml:"kind"`
	AugSizes []int  `json:"augSizes" yaml:"augSizes"`
	FuseSize int    `json:"fuseSize" yaml:"fuseSize"`
	Rotate   bool   `json:"rotate"   yaml:"rotate"`
	UseMax   bool   `json:"useMax"   yaml:"useMax"`
}

// Ensemble kinds.
const (
	EnsembleBase     = "base"
	EnsembleMultiRes = "multires"
)

// Default returns the configuration used for any field a file leaves out.
func Default() Config {
	return Config{
		Evaluate: EvaluateConfig{
			Patch:     images.Size{Rows: 512, Cols: 512},
			Delta:     evaluation.DefaultDelta,
			EvalClass: []int{1},
			CRF:       evaluation.DefaultCRFParams(),
			Ext:       "_mask",
			FileExt:   "png",
		},
		Ensemble: EnsembleConfig{Kind: EnsembleBase},
		Score:    scoring.DefaultScoreOptions(),
		Logging:  logging.Config{Level: "info"},
	}
}

// Load reads a YAML file over the defaults, applies .env and MRS_*
// environment overrides and validates.
//
// Arguments:
//   - path: The YAML file; empty means defaults plus environment only.
//
// Returns:
//   - *Config: The validated configuration.
//   - error: A read or parse error, or images.ErrInvalidConfig.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrapf(images.ErrInvalidConfig, "parse %s: %v", path, err)
		}
	}
	if err := LoadEnvFile(DefaultEnvFile); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	for i := range cfg.Models {
		if cfg.Models[i].Kind == "" {
			cfg.Models[i].Kind = model.KindONNX
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnvFile loads variables from a dotenv file without overriding ones
// already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return errors.Wrapf(err, "load %s", path)
	}
	return nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if c.Dataset.Name != "" {
		if _, err := dataset.Lookup(c.Dataset.Name); err != nil {
			return err
		}
	}
	if p := c.Dataset.Options.ValidPercent; p < 0 || p > 1 {
		return errors.Wrapf(images.ErrInvalidConfig, "dataset validPercent must be in [0, 1], got %v", p)
	}
	for i, m := range c.Models {
		if err := m.Validate(); err != nil {
			return errors.Wrapf(err, "model %d", i)
		}
	}
	if err := c.Evaluate.Validate(); err != nil {
		return err
	}
	if _, err := c.Ensemble.Build(); err != nil {
		return err
	}
	if err := c.Score.Scorer().Validate(); err != nil {
		return err
	}
	if c.Score.IoUThreshold < 0 || c.Score.IoUThreshold > 1 {
		return errors.Wrapf(images.ErrInvalidConfig, "score iouThreshold must be in [0, 1], got %v", c.Score.IoUThreshold)
	}
	_, err := logging.ParseLevel(c.Logging.Level)
	return err
}

// Validate checks the tiling and normalization settings.
func (e EvaluateConfig) Validate() error {
	switch {
	case e.Patch.Rows <= 0 || e.Patch.Cols <= 0:
		return errors.Wrapf(images.ErrInvalidConfig, "evaluate patch must be positive, got %dx%d", e.Patch.Rows, e.Patch.Cols)
	case e.Overlap < 0 || e.Overlap >= min(e.Patch.Rows, e.Patch.Cols):
		return errors.Wrapf(images.ErrInvalidConfig, "evaluate overlap %d must be in [0, %d)", e.Overlap,
			min(e.Patch.Rows, e.Patch.Cols))
	case e.Delta < 0:
		return errors.Wrapf(images.ErrInvalidConfig, "evaluate delta must be non-negative, got %v", e.Delta)
	case len(e.Mean) != len(e.Std):
		return errors.Wrapf(images.ErrInvalidConfig, "evaluate has %d means and %d stds", len(e.Mean), len(e.Std))
	case e.FileExt != "" && e.FileExt != "png" && e.FileExt != "npy" && e.FileExt != "tif" && e.FileExt != "jpg":
		return errors.Wrapf(images.ErrInvalidConfig, "unsupported prediction file extension %q", e.FileExt)
	}
	for _, c := range e.EvalClass {
		if c < 0 {
			return errors.Wrapf(images.ErrInvalidConfig, "evaluate class must be non-negative, got %d", c)
		}
	}
	return nil
}

// Transforms returns the pixel transforms the settings describe: an optional
// scale followed by an optional normalization.
func (e EvaluateConfig) Transforms() []evaluation.Transform {
	var out []evaluation.Transform
	if e.Scale != 0 && e.Scale != 1 {
		out = append(out, evaluation.Scale(e.Scale))
	}
	if len(e.Mean) > 0 {
		out = append(out, evaluation.Normalize(e.Mean, e.Std))
	}
	return out
}

// EvaluateOptions converts the settings for Evaluator.Evaluate.
func (e EvaluateConfig) EvaluateOptions() evaluation.EvaluateOptions {
	return evaluation.EvaluateOptions{
		Patch:     e.Patch,
		Overlap:   e.Overlap,
		PredDir:   e.PredDir,
		SaveConf:  e.SaveConf,
		ReportDir: e.ReportDir,
		Delta:     e.Delta,
		EvalClass: e.EvalClass,
		DenseCRF:  e.DenseCRF,
		CRF:       e.CRF,
		Verbose:   e.Verbose,
	}
}

// InferOptions converts the settings for Evaluator.Infer.
func (e EvaluateConfig) InferOptions() evaluation.InferOptions {
	return evaluation.InferOptions{
		Patch:    e.Patch,
		Overlap:  e.Overlap,
		PredDir:  e.PredDir,
		Ext:      e.Ext,
		FileExt:  e.FileExt,
		SaveConf: e.SaveConf,
		DenseCRF: e.DenseCRF,
		CRF:      e.CRF,
	}
}

// Build returns the configured ensemble.
func (e EnsembleConfig) Build() (evaluation.Ensemble, error) {
	switch e.Kind {
	case "", EnsembleBase:
		return evaluation.BaseEnsemble{}, nil
	case EnsembleMultiRes:
		return evaluation.NewMultiResEnsemble(e.AugSizes, e.FuseSize, e.Rotate, e.UseMax)
	default:
		return nil, errors.Wrapf(images.ErrInvalidConfig, "unknown ensemble kind %q", e.Kind)
	}
}
