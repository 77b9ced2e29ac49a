package config

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/mrs-eval/images"
	"github.com/nvr-ai/mrs-eval/models/model"
)

// Environment overrides.
const (
	EnvDataset    = "MRS_DATASET"
	EnvDataDir    = "MRS_DATA_DIR"
	EnvModelPath  = "MRS_MODEL_PATH"
	EnvORTLibrary = "MRS_ORT_LIBRARY"
	EnvPatch      = "MRS_PATCH"
	EnvOverlap    = "MRS_OVERLAP"
	EnvPredDir    = "MRS_PRED_DIR"
	EnvReportDir  = "MRS_REPORT_DIR"
	EnvLogLevel   = "MRS_LOG_LEVEL"
	EnvLogJSON    = "MRS_LOG_JSON"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from MRS_* variables. MRS_MODEL_PATH replaces the
// path of the first model, adding a model when none is configured;
// MRS_ORT_LIBRARY sets the runtime library of every model. MRS_PATCH accepts
// "512" or "512x640".
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str(EnvDataset, &c.Dataset.Name)
	str(EnvDataDir, &c.Dataset.Dir)
	str(EnvPredDir, &c.Evaluate.PredDir)
	str(EnvReportDir, &c.Evaluate.ReportDir)
	str(EnvLogLevel, &c.Logging.Level)

	if v, ok := lookup(EnvModelPath); ok && v != "" {
		if len(c.Models) == 0 {
			c.Models = append(c.Models, defaultModel())
		}
		c.Models[0].Path = v
	}
	if v, ok := lookup(EnvORTLibrary); ok && v != "" {
		for i := range c.Models {
			c.Models[i].Provider.LibraryPath = v
		}
	}
	if v, ok := lookup(EnvPatch); ok && v != "" {
		size, err := ParseSize(v)
		if err != nil {
			return errors.Wrap(err, EnvPatch)
		}
		c.Evaluate.Patch = size
	}
	if v, ok := lookup(EnvOverlap); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(images.ErrInvalidConfig, "%s=%q is not an integer", EnvOverlap, v)
		}
		c.Evaluate.Overlap = n
	}
	if v, ok := lookup(EnvLogJSON); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(images.ErrInvalidConfig, "%s=%q is not a boolean", EnvLogJSON, v)
		}
		c.Logging.JSON = b
	}
	return nil
}

// ParseSize parses "N" as an N x N size or "RxC" as rows x cols.
func ParseSize(s string) (images.Size, error) {
	rows, cols, found := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !found {
		cols = rows
	}
	r, err1 := strconv.Atoi(rows)
	c, err2 := strconv.Atoi(cols)
	if err1 != nil || err2 != nil || r <= 0 || c <= 0 {
		return images.Size{}, errors.Wrapf(images.ErrInvalidConfig, "size %q must be N or RxC with positive integers", s)
	}
	return images.Size{Rows: r, Cols: c}, nil
}

// defaultModel is the model an environment-only run builds: a two-class ONNX
// network at the default patch size.
func defaultModel() model.Config {
	return model.Config{
		Kind:    model.KindONNX,
		Input:   images.Size{Rows: 512, Cols: 512},
		Classes: 2,
	}
}
