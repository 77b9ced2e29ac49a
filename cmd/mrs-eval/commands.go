package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/mrs-eval/config"
	"github.com/nvr-ai/mrs-eval/dataset"
	"github.com/nvr-ai/mrs-eval/evaluation"
	"github.com/nvr-ai/mrs-eval/images"
	"github.com/nvr-ai/mrs-eval/logging"
	"github.com/nvr-ai/mrs-eval/models"
	"github.com/nvr-ai/mrs-eval/models/model"
	"github.com/nvr-ai/mrs-eval/patch"
	"github.com/nvr-ai/mrs-eval/profiler"
	"github.com/nvr-ai/mrs-eval/scoring"
	"github.com/nvr-ai/mrs-eval/util"
)

var errUsage = errors.New("invalid usage")

// Split modes for prepare.
const (
	splitPercent = "percent"
	splitDataset = "dataset"
)

var mapExts = []string{".npy", ".png", ".tif", ".tiff"}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// parse treats -h as success.
func parse(fs *flag.FlagSet, args []string) (bool, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return false, nil
		}
		return false, errors.Wrap(errUsage, err.Error())
	}
	return true, nil
}

// setFlags returns the names of the flags given on the command line.
func setFlags(fs *flag.FlagSet) map[string]bool {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// runFlags are shared by evaluate and infer.
type runFlags struct {
	config    string
	dataset   string
	dataDir   string
	predDir   string
	reportDir string
	saveConf  bool
	verbose   bool
	logLevel  string
	profile   bool
	interval  time.Duration
}

func (f *runFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.config, "config", "", "Path to the YAML run configuration")
	fs.StringVar(&f.dataset, "dataset", "", "Registered dataset name, overrides the config")
	fs.StringVar(&f.dataDir, "data-dir", "", "Dataset root directory, overrides the config")
	fs.StringVar(&f.predDir, "pred-dir", "", "Directory for predictions, overrides the config")
	fs.StringVar(&f.reportDir, "report-dir", "", "Directory for result.txt, overrides the config")
	fs.BoolVar(&f.saveConf, "save-conf", false, "Save class 1 confidence maps")
	fs.BoolVar(&f.verbose, "verbose", false, "Log every tile's score at info level")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level, overrides the config")
	fs.BoolVar(&f.profile, "profile", false, "Log stage timings and memory usage when the run ends")
	fs.DurationVar(&f.interval, "profile-interval", 0, "Also log timings periodically during the run (implies -profile)")
}

// newProfiler returns nil unless profiling was requested.
func (f *runFlags) newProfiler() *profiler.Profiler {
	if !f.profile && f.interval <= 0 {
		return nil
	}
	return profiler.New()
}

// load reads the configuration and applies the flags given on the command line.
func (f *runFlags) load(set map[string]bool) (*config.Config, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return nil, err
	}
	if f.dataset != "" {
		cfg.Dataset.Name = f.dataset
	}
	if f.dataDir != "" {
		cfg.Dataset.Dir = f.dataDir
	}
	if f.predDir != "" {
		cfg.Evaluate.PredDir = f.predDir
	}
	if f.reportDir != "" {
		cfg.Evaluate.ReportDir = f.reportDir
	}
	if set["save-conf"] {
		cfg.Evaluate.SaveConf = f.saveConf
	}
	if set["verbose"] {
		cfg.Evaluate.Verbose = f.verbose
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case cfg.Dataset.Name == "":
		return nil, errors.Wrap(images.ErrInvalidConfig, "a dataset name is required")
	case len(cfg.Models) == 0:
		return nil, errors.Wrap(images.ErrInvalidConfig, "at least one model is required")
	}
	return cfg, nil
}

// pipeline is everything evaluate and infer share.
type pipeline struct {
	cfg       *config.Config
	log       *logrus.Logger
	logCloser io.Closer
	models    []model.Model
	eval      *evaluation.Evaluator
	prof      *profiler.Profiler
	stopProf  func()
}

func newPipeline(ctx context.Context, cfg *config.Config, f *runFlags, stderr io.Writer, infer bool) (*pipeline, error) {
	p := &pipeline{cfg: cfg, prof: f.newProfiler(), stopProf: func() {}}
	var err error
	if cfg.Logging.File != "" {
		p.log, p.logCloser, err = logging.FromConfig(cfg.Logging)
	} else {
		p.log, err = logging.NewWithWriter(stderr, cfg.Logging.Level, cfg.Logging.JSON)
	}
	if err != nil {
		return nil, err
	}
	ens, err := cfg.Ensemble.Build()
	if err != nil {
		p.Close()
		return nil, err
	}
	var progress io.Writer
	if infer {
		progress = stderr
	}
	ev, err := evaluation.NewFromRegistry(cfg.Dataset.Name, cfg.Dataset.Dir, evaluation.Options{
		Transforms: cfg.Evaluate.Transforms(),
		Ensemble:   ens,
		Dataset:    cfg.Dataset.Options,
		Infer:      infer,
		Logger:     p.log,
		Progress:   progress,
		Profiler:   p.prof,
	})
	if err != nil {
		p.Close()
		return nil, err
	}
	if p.models, err = models.NewModels(cfg.Models); err != nil {
		p.Close()
		return nil, err
	}
	p.eval = ev
	p.stopProf = p.prof.Start(ctx, f.interval, p.log)
	p.log.WithFields(logrus.Fields{"run_id": ev.RunID(), "models": len(p.models), "dataset": cfg.Dataset.Name}).
		Info("pipeline ready")
	return p, nil
}

func (p *pipeline) Close() error {
	p.stopProf()
	if p.log != nil {
		p.prof.Report(p.log)
	}
	err := models.CloseAll(p.models)
	if p.logCloser != nil {
		if cerr := p.logCloser.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func runEvaluate(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("evaluate", stderr)
	var f runFlags
	f.register(fs)
	if ok, err := parse(fs, args); !ok {
		return err
	}
	cfg, err := f.load(setFlags(fs))
	if err != nil {
		return err
	}
	p, err := newPipeline(ctx, cfg, &f, stderr, false)
	if err != nil {
		return err
	}
	defer p.Close()

	iou, err := p.eval.Evaluate(ctx, p.models, cfg.Evaluate.EvaluateOptions())
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Overall IoU: %.2f\n", iou)
	return nil
}

func runInfer(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("infer", stderr)
	var f runFlags
	f.register(fs)
	if ok, err := parse(fs, args); !ok {
		return err
	}
	cfg, err := f.load(setFlags(fs))
	if err != nil {
		return err
	}
	if cfg.Evaluate.PredDir == "" {
		return errors.Wrap(images.ErrInvalidConfig, "infer needs -pred-dir or evaluate.predDir")
	}
	p, err := newPipeline(ctx, cfg, &f, stderr, true)
	if err != nil {
		return err
	}
	defer p.Close()

	if err := p.eval.Infer(ctx, p.models, cfg.Evaluate.InferOptions()); err != nil {
		return err
	}
	rgb, _ := p.eval.Files()
	fmt.Fprintf(stdout, "Wrote %d predictions to %s\n", len(rgb), cfg.Evaluate.PredDir)
	return nil
}

func runScore(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("score", stderr)
	var (
		configFile   = fs.String("config", "", "Path to the YAML run configuration; its score section is used")
		predDir      = fs.String("pred-dir", "", "Directory of prediction confidence maps (.npy or rasters)")
		gtDir        = fs.String("gt-dir", "", "Directory of ground-truth maps, paired with predictions in natural order")
		minRegion    = fs.Int("min-region", 0, "Minimum object area in pixels")
		minThreshold = fs.Float64("min-threshold", 0, "Foreground confidence threshold")
		dilation     = fs.Int("dilation", 0, "Disk radius used to merge nearby blobs")
		iouThreshold = fs.Float64("iou", 0, "Object IoU needed for a match")
		curveFile    = fs.String("curve", "", "Write threshold,precision,recall lines to this file")
	)
	if ok, err := parse(fs, args); !ok {
		return err
	}
	if *predDir == "" || *gtDir == "" {
		return errors.Wrap(errUsage, "score needs -pred-dir and -gt-dir")
	}
	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	opts := cfg.Score
	set := setFlags(fs)
	if set["min-region"] {
		opts.MinRegion = *minRegion
	}
	if set["min-threshold"] {
		opts.MinThreshold = float32(*minThreshold)
	}
	if set["dilation"] {
		opts.DilationSize = *dilation
	}
	if set["iou"] {
		opts.IoUThreshold = *iouThreshold
	}
	if err := opts.Scorer().Validate(); err != nil {
		return err
	}

	preds, err := util.ListFiles(*predDir, mapExts...)
	if err != nil {
		return err
	}
	gts, err := util.ListFiles(*gtDir, mapExts...)
	if err != nil {
		return err
	}
	records, err := scoring.BatchScore(ctx, preds, gts, opts, stderr)
	if err != nil {
		return err
	}
	ap, curve, err := scoring.AveragePrecision(records)
	if err != nil {
		return err
	}
	fps, err := scoring.FalsePositives(records)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Records: %d\nAP: %.4f\nFalse positives at full recall: %.0f\n", len(records), ap, fps[0])

	if *curveFile != "" {
		lines := []string{"threshold,precision,recall"}
		for i, t := range curve.Thresholds {
			lines = append(lines, fmt.Sprintf("%s,%s,%s", ftoa(t), ftoa(curve.Precision[i]), ftoa(curve.Recall[i])))
		}
		if err := util.WriteLines(*curveFile, lines); err != nil {
			return err
		}
	}
	return nil
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func runPrepare(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("prepare", stderr)
	var (
		name         = fs.String("dataset", "ct_finetune", "Registered dataset name")
		dataDir      = fs.String("data-dir", "", "Dataset root directory")
		saveDir      = fs.String("save-dir", "", "Output directory for patches and file lists")
		patchSize    = fs.String("patch", "500", "Patch size, N or RxC")
		pad          = fs.Int("pad", 0, "Symmetric padding added around each tile")
		overlap      = fs.Int("overlap", 0, "Pixels shared by neighbouring patches")
		validPercent = fs.Float64("valid-percent", 0.2, "Fraction of tiles held out for validation")
		split        = fs.String("split", splitDataset, `"dataset" uses the dataset's validation split, "percent" holds out -valid-percent of all tiles`)
		logLevel     = fs.String("log-level", "info", "Log level")
	)
	if ok, err := parse(fs, args); !ok {
		return err
	}
	if *dataDir == "" || *saveDir == "" {
		return errors.Wrap(errUsage, "prepare needs -data-dir and -save-dir")
	}
	size, err := config.ParseSize(*patchSize)
	if err != nil {
		return err
	}
	log, err := logging.NewWithWriter(stderr, *logLevel, false)
	if err != nil {
		return err
	}
	adapter, err := dataset.Lookup(*name)
	if err != nil {
		return err
	}
	train, valid, err := splitDatasetFiles(adapter, *dataDir, *validPercent, *split)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"dataset": adapter.Name, "train": len(train), "valid": len(valid)}).Info("splitting tiles")

	if err := patch.WritePatchDataset(ctx, *saveDir, train, valid, patch.DatasetOptions{
		Patch:    size,
		Pad:      *pad,
		Overlap:  *overlap,
		Progress: stderr,
		Logger:   log,
	}); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Wrote %d training and %d validation tiles to %s\n", len(train), len(valid), *saveDir)
	return nil
}

// splitDatasetFiles lists training and validation pairs. In dataset mode the
// adapter's own validation option picks the held-out tiles and training gets
// the rest.
func splitDatasetFiles(a dataset.Adapter, dir string, validPercent float64, mode string) ([]patch.FilePair, []patch.FilePair, error) {
	opts := dataset.Options{ValidPercent: validPercent}
	switch mode {
	case splitPercent:
		rgb, lbl, err := a.Files(dir, opts, false)
		if err != nil {
			return nil, nil, err
		}
		return dataset.SplitPairs(rgb, lbl, validPercent)
	case splitDataset:
		trainRGB, trainLbl, err := a.Files(dir, opts, false)
		if err != nil {
			return nil, nil, err
		}
		opts.Valid = true
		validRGB, validLbl, err := a.Files(dir, opts, false)
		if err != nil {
			return nil, nil, err
		}
		held := make(map[string]bool, len(validRGB))
		valid := make([]patch.FilePair, len(validRGB))
		for i := range validRGB {
			held[validRGB[i]] = true
			valid[i] = patch.FilePair{RGB: validRGB[i], Label: validLbl[i]}
		}
		var train []patch.FilePair
		for i := range trainRGB {
			if !held[trainRGB[i]] {
				train = append(train, patch.FilePair{RGB: trainRGB[i], Label: trainLbl[i]})
			}
		}
		if len(train) == 0 && len(valid) > 0 {
			return nil, nil, errors.Wrapf(images.ErrInvalidConfig,
				"dataset %s has no separate validation split; use -split %s", a.Name, splitPercent)
		}
		return train, valid, nil
	default:
		return nil, nil, errors.Wrapf(errUsage, "unknown split mode %q", mode)
	}
}

func runResults(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("results", stderr)
	var (
		report  = fs.String("report", "", "Path to a result.txt report")
		pattern = fs.String("pattern", "", "Summarize the rows whose names match this regular expression")
		classes = fs.String("classes", "", "Comma-separated class names for multi-class reports")
		delta   = fs.Float64("delta", 0, "Added to every union")
	)
	if ok, err := parse(fs, args); !ok {
		return err
	}
	if *report == "" {
		return errors.Wrap(errUsage, "results needs -report")
	}
	var names []string
	if *classes != "" {
		names = strings.Split(*classes, ",")
	}
	results, err := evaluation.ReadResults(*report, names)
	if err != nil {
		return err
	}

	var sum evaluation.Summary
	label := evaluation.OverallName
	if *pattern != "" {
		sum, err = evaluation.SummarizeResults(results, *pattern, *delta)
		label = *pattern
	} else {
		sum, err = evaluation.OverallResult(results, *delta)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s (%s): IoU=%.2f\n", filepath.Base(*report), label, sum.IoU)
	for _, r := range results {
		for _, c := range r.Classes {
			if v, ok := sum.Classes[c.Name]; ok {
				fmt.Fprintf(stdout, "  %s: IoU=%.2f\n", c.Name, v)
				delete(sum.Classes, c.Name)
			}
		}
	}
	return nil
}
