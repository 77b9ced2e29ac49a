// Package evaluation - Tiled inference over large rasters and pixel IoU
// evaluation against a dataset's ground truth.
//
// An Evaluator owns a dataset's file lists. For every tile it pads by the
// model's label margin, cuts a patch grid, runs each patch through the
// ensemble, the transforms and the model, stitches the softmax outputs, and
// either scores the argmax against the label (Evaluate) or writes it out
// (Infer).
package evaluation

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/mrs-eval/dataset"
	"github.com/nvr-ai/mrs-eval/images"
	"github.com/nvr-ai/mrs-eval/models/model"
	"github.com/nvr-ai/mrs-eval/patch"
	"github.com/nvr-ai/mrs-eval/profiler"
	"github.com/nvr-ai/mrs-eval/util"
)

// Options configures an Evaluator.
type Options struct {
	// Transforms run on every augmented patch before inference.
	Transforms []Transform
	// Ensemble defaults to BaseEnsemble.
	Ensemble Ensemble
	// Refiner is used when a run asks for CRF refinement.
	Refiner Refiner
	// Dataset tunes file discovery.
	Dataset dataset.Options
	// Infer lists the adapter's unlabelled test tiles.
	Infer bool
	// Logger defaults to the logrus standard logger.
	Logger logrus.FieldLogger
	// Progress receives the Infer progress bar; nil disables it.
	Progress io.Writer
	// Profiler times the load, predict, classify and write stages; nil disables it.
	Profiler *profiler.Profiler
}

// Evaluator runs models over a dataset's tiles.
type Evaluator struct {
	adapter    dataset.Adapter
	rgbFiles   []string
	lblFiles   []string
	transforms []Transform
	ensemble   Ensemble
	refiner    Refiner
	progress   io.Writer
	prof       *profiler.Profiler
	runID      string
	log        logrus.FieldLogger
}

// New lists the dataset's files and prepares an Evaluator.
//
// Arguments:
//   - adapter: The dataset adapter, from dataset.Lookup or dataset.Custom.
//   - dataDir: The dataset root.
//   - opts: Pipeline options.
//
// Returns:
//   - *Evaluator: The evaluator.
//   - error: images.ErrInvalidInput when image and label lists differ in
//     length, or the listing error.
func New(adapter dataset.Adapter, dataDir string, opts Options) (*Evaluator, error) {
	rgb, lbl, err := adapter.Files(dataDir, opts.Dataset, opts.Infer)
	if err != nil {
		return nil, err
	}
	if len(lbl) > 0 && len(rgb) != len(lbl) {
		return nil, errors.Wrapf(images.ErrInvalidInput, "%s: %d images but %d labels", adapter.Name, len(rgb), len(lbl))
	}
	ens := opts.Ensemble
	if ens == nil {
		ens = BaseEnsemble{}
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	runID := uuid.NewString()
	e := &Evaluator{
		adapter:    adapter,
		rgbFiles:   rgb,
		lblFiles:   lbl,
		transforms: opts.Transforms,
		ensemble:   ens,
		refiner:    opts.Refiner,
		progress:   opts.Progress,
		prof:       opts.Profiler,
		runID:      runID,
		log:        log.WithFields(logrus.Fields{"run_id": runID, "dataset": adapter.Name}),
	}
	e.log.WithField("tiles", len(rgb)).Debug("listed dataset")
	return e, nil
}

// NewFromRegistry looks the adapter up by name and calls New.
func NewFromRegistry(name, dataDir string, opts Options) (*Evaluator, error) {
	a, err := dataset.Lookup(name)
	if err != nil {
		return nil, err
	}
	return New(a, dataDir, opts)
}

// RunID identifies this evaluator's log lines.
func (e *Evaluator) RunID() string {
	return e.runID
}

// Files returns the image and label lists.
func (e *Evaluator) Files() ([]string, []string) {
	return e.rgbFiles, e.lblFiles
}

// EvaluateOptions configures Evaluate.
type EvaluateOptions struct {
	Patch   images.Size `json:"patch"     yaml:"patch"`
	Overlap int         `json:"overlap"   yaml:"overlap"`
	// PredDir receives <name>.png predictions and, with SaveConf, <name>.npy
	// class 1 probabilities.
	PredDir  string `json:"predDir"   yaml:"predDir"`
	SaveConf bool   `json:"saveConf"  yaml:"saveConf"`
	// ReportDir receives result.txt.
	ReportDir string `json:"reportDir" yaml:"reportDir"`
	// Delta of 0 means DefaultDelta.
	Delta float64 `json:"delta"     yaml:"delta"`
	// EvalClass lists the scored classes; empty means {1}.
	EvalClass []int     `json:"evalClass" yaml:"evalClass"`
	DenseCRF  bool      `json:"denseCRF"  yaml:"denseCRF"`
	CRF       CRFParams `json:"crf"       yaml:"crf"`
	// Verbose logs per-tile scores at info level instead of debug.
	Verbose bool `json:"verbose"   yaml:"verbose"`
}

func (o EvaluateOptions) withDefaults() EvaluateOptions {
	if o.Delta == 0 {
		o.Delta = DefaultDelta
	}
	if len(o.EvalClass) == 0 {
		o.EvalClass = []int{1}
	}
	if o.CRF == (CRFParams{}) {
		o.CRF = DefaultCRFParams()
	}
	return o
}

// Evaluate scores the summed predictions of models on every labelled tile.
//
// Arguments:
//   - ctx: Checked between tiles and patches.
//   - models: One or more models sharing a label margin; their probabilities
//     are summed.
//   - opts: Tiling, output and scoring options.
//
// Returns:
//   - float64: The overall mean(A / (B + delta)) * 100 across EvalClass.
//   - error: The first load, inference or write error; the run stops there.
func (e *Evaluator) Evaluate(ctx context.Context, models []model.Model, opts EvaluateOptions) (float64, error) {
	if len(models) == 0 {
		return 0, errors.Wrap(images.ErrInvalidConfig, "no models to evaluate")
	}
	if len(e.lblFiles) != len(e.rgbFiles) {
		return 0, errors.Wrap(images.ErrInvalidInput, "evaluation needs a label for every tile")
	}
	if opts.SaveConf && opts.PredDir == "" {
		return 0, errors.Wrap(images.ErrInvalidConfig, "saving confidences needs a prediction directory")
	}
	opts = opts.withDefaults()
	margin := models[0].LabelMargin()
	if opts.PredDir != "" {
		if err := util.MakeDir(opts.PredDir); err != nil {
			return 0, err
		}
	}

	total := NewIoUScore(len(opts.EvalClass))
	var report []string
	for i, rgbFile := range e.rgbFiles {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		lblFile := e.lblFiles[i]
		name := util.Stem(lblFile)

		done := e.prof.StartOperation("load")
		rgb, err := util.LoadRGB(rgbFile)
		if err != nil {
			return 0, err
		}
		truth, err := e.loadTruth(lblFile)
		if err != nil {
			return 0, err
		}
		done()
		done = e.prof.StartOperation("predict")
		probs, err := e.predictTile(ctx, models, rgb, opts.Patch, opts.Overlap, margin)
		if err != nil {
			return 0, errors.Wrapf(err, "infer %s", rgbFile)
		}
		done()
		if opts.SaveConf {
			done = e.prof.StartOperation("write")
			conf, err := images.Channel(probs, 1)
			if err != nil {
				return 0, err
			}
			if err := util.SaveNpy(filepath.Join(opts.PredDir, name+".npy"), conf); err != nil {
				return 0, err
			}
			done()
		}
		done = e.prof.StartOperation("classify")
		pred, err := e.classify(rgb, probs, opts.DenseCRF, opts.CRF)
		if err != nil {
			return 0, errors.Wrapf(err, "classify %s", rgbFile)
		}
		done()
		score, err := IoUMetric(truth, pred, opts.EvalClass)
		if err != nil {
			return 0, errors.Wrapf(err, "score %s", name)
		}
		pstr, rstr := ResultStrings(name, score, e.adapter.ClassNames, opts.Delta)
		e.logScore(name, pstr, score.Mean(opts.Delta), opts.Verbose)
		report = append(report, rstr)
		total.Add(score)

		if opts.PredDir != "" {
			done = e.prof.StartOperation("write")
			if err := e.savePrediction(filepath.Join(opts.PredDir, name+".png"), pred); err != nil {
				return 0, err
			}
			done()
		}
	}

	pstr, rstr := ResultStrings(OverallName, total, e.adapter.ClassNames, opts.Delta)
	e.logScore(OverallName, pstr, total.Mean(opts.Delta), true)
	report = append(report, rstr)
	if opts.ReportDir != "" {
		if err := WriteReport(opts.ReportDir, report); err != nil {
			return 0, err
		}
	}
	return total.Mean(opts.Delta), nil
}

// InferOptions configures Infer.
type InferOptions struct {
	Patch   images.Size `json:"patch"    yaml:"patch"`
	Overlap int         `json:"overlap"  yaml:"overlap"`
	// PredDir receives <name><Ext>.<FileExt> and, with SaveConf, <name>_conf.png.
	PredDir string `json:"predDir"  yaml:"predDir"`
	// Ext defaults to "_mask".
	Ext string `json:"ext"      yaml:"ext"`
	// FileExt defaults to "png"; "npy" writes the raw class map.
	FileExt  string    `json:"fileExt"  yaml:"fileExt"`
	SaveConf bool      `json:"saveConf" yaml:"saveConf"`
	DenseCRF bool      `json:"denseCRF" yaml:"denseCRF"`
	CRF      CRFParams `json:"crf"      yaml:"crf"`
}

// Infer writes predictions for every tile without scoring them.
func (e *Evaluator) Infer(ctx context.Context, models []model.Model, opts InferOptions) error {
	if len(models) == 0 {
		return errors.Wrap(images.ErrInvalidConfig, "no models to run")
	}
	if opts.PredDir == "" {
		return errors.Wrap(images.ErrInvalidConfig, "inference needs a prediction directory")
	}
	if opts.Ext == "" {
		opts.Ext = "_mask"
	}
	if opts.FileExt == "" {
		opts.FileExt = "png"
	}
	if opts.CRF == (CRFParams{}) {
		opts.CRF = DefaultCRFParams()
	}
	if err := util.MakeDir(opts.PredDir); err != nil {
		return err
	}
	margin := models[0].LabelMargin()

	bar := util.NewProgressBar(e.progress, len(e.rgbFiles), "Inferring")
	for _, rgbFile := range e.rgbFiles {
		if err := ctx.Err(); err != nil {
			return err
		}
		name, _, _ := strings.Cut(util.Stem(rgbFile), ".")

		done := e.prof.StartOperation("load")
		rgb, err := util.LoadRGB(rgbFile)
		if err != nil {
			return err
		}
		done()
		done = e.prof.StartOperation("predict")
		probs, err := e.predictTile(ctx, models, rgb, opts.Patch, opts.Overlap, margin)
		if err != nil {
			return errors.Wrapf(err, "infer %s", rgbFile)
		}
		done()
		if opts.SaveConf {
			done = e.prof.StartOperation("write")
			if err := saveConfidence(filepath.Join(opts.PredDir, name+"_conf.png"), probs); err != nil {
				return err
			}
			done()
		}
		done = e.prof.StartOperation("classify")
		pred, err := e.classify(rgb, probs, opts.DenseCRF, opts.CRF)
		if err != nil {
			return errors.Wrapf(err, "classify %s", rgbFile)
		}
		done()
		done = e.prof.StartOperation("write")
		out := filepath.Join(opts.PredDir, name+opts.Ext+"."+opts.FileExt)
		if opts.FileExt == "npy" {
			err = util.SaveNpy(out, pred)
		} else {
			err = e.savePrediction(out, pred)
		}
		if err != nil {
			return err
		}
		done()
		e.log.WithField("image", name).Debug("wrote prediction")
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	return nil
}

// InferTile runs one model over a tile and stitches the class probabilities.
//
// Arguments:
//   - ctx: Checked between patches.
//   - m: The model. Patches are cut with its own label margin.
//   - rgb: The uint8 or float32 (rows, cols, 3) tile.
//   - grid: Patch origins over the padded tile.
//   - patchSize: The model input size.
//   - tileDim: The unpadded tile size.
//   - paddedDim: The tile size plus 2*margin per axis.
//   - margin: The label margin; each prediction keeps its inner
//     patchSize - 2*margin pixels.
//
// Returns:
//   - *tensor.Dense: float32 (tileDim.Rows, tileDim.Cols, classes) probabilities.
//   - error: images.ErrInvalidConfig when the grid leaves pixels uncovered,
//     or the first inference error.
func (e *Evaluator) InferTile(ctx context.Context, m model.Model, rgb *tensor.Dense, grid patch.Grid,
	patchSize, tileDim, paddedDim images.Size, margin int,
) (*tensor.Dense, error) {
	patches, err := patch.PatchBlock(rgb, m.LabelMargin(), grid, patchSize, patch.PadSymmetric)
	if err != nil {
		return nil, err
	}
	preds := make([]patch.Patch, 0, patches.Len())
	for i, p := range patches.All() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		probs, err := e.inferPatch(m, p.Data)
		if err != nil {
			return nil, errors.Wrapf(err, "patch %d at (%d,%d)", i, p.Row, p.Col)
		}
		preds = append(preds, patch.Patch{Origin: p.Origin, Data: probs})
	}
	return patch.UnpatchBlock(preds, patch.Geometry{
		Padded:   paddedDim,
		Patch:    patchSize,
		Original: tileDim,
		Inner:    images.Size{Rows: patchSize.Rows - 2*margin, Cols: patchSize.Cols - 2*margin},
		Overlap:  2 * margin,
	})
}

// inferPatch runs every ensemble view and fuses the channel-last probabilities.
func (e *Evaluator) inferPatch(m model.Model, data *tensor.Dense) (*tensor.Dense, error) {
	views, err := e.ensemble.Augment(data)
	if err != nil {
		return nil, errors.Wrap(err, "augment")
	}
	probs := make([]*tensor.Dense, len(views))
	for i, v := range views {
		x, err := applyTransforms(v, e.transforms)
		if err != nil {
			return nil, err
		}
		if x, err = images.ChannelFirst(x); err != nil {
			return nil, err
		}
		done := e.prof.StartOperation("model")
		logits, err := m.Inference(x)
		done()
		if err != nil {
			return nil, errors.Wrap(err, "model inference")
		}
		p, err := Softmax(logits)
		if err != nil {
			return nil, err
		}
		if probs[i], err = images.ChannelLast(p); err != nil {
			return nil, err
		}
	}
	return e.ensemble.Fuse(probs)
}

// predictTile sums InferTile over models.
func (e *Evaluator) predictTile(ctx context.Context, models []model.Model, rgb *tensor.Dense,
	patchSize images.Size, overlap, margin int,
) (*tensor.Dense, error) {
	tileDim, err := images.SizeOf(rgb)
	if err != nil {
		return nil, err
	}
	padded := images.Size{Rows: tileDim.Rows + 2*margin, Cols: tileDim.Cols + 2*margin}
	grid, err := patch.MakeGrid(padded, patchSize, overlap)
	if err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{"rows": tileDim.Rows, "cols": tileDim.Cols, "patches": len(grid)}).
		Debug("tiling")

	var (
		sum   []float32
		shape tensor.Shape
	)
	for i, m := range models {
		probs, err := e.InferTile(ctx, m, rgb, grid, patchSize, tileDim, padded, margin)
		if err != nil {
			return nil, errors.Wrapf(err, "model %d", i)
		}
		data, _ := images.Float32Data(probs)
		if sum == nil {
			sum = make([]float32, len(data))
			shape = probs.Shape().Clone()
		} else if !probs.Shape().Eq(shape) {
			return nil, errors.Wrapf(images.ErrInvalidInput, "model %d predicts shape %v, model 0 predicts %v",
				i, probs.Shape(), shape)
		}
		for j, v := range data {
			sum[j] += v
		}
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(sum)), nil
}

// classify refines or takes the argmax of stitched probabilities.
func (e *Evaluator) classify(rgb, probs *tensor.Dense, denseCRF bool, params CRFParams) (*tensor.Dense, error) {
	if !denseCRF {
		return images.Argmax(probs)
	}
	if e.refiner == nil {
		return nil, errors.Wrap(images.ErrInvalidConfig, "CRF refinement requested but no refiner is configured")
	}
	u, err := images.ToUint8(rgb)
	if err != nil {
		return nil, err
	}
	return e.refiner.Refine(u, probs, params)
}

// loadTruth reads, decodes and scales a label to class indices.
func (e *Evaluator) loadTruth(path string) (*tensor.Dense, error) {
	raw, err := util.LoadLabel(path)
	if err != nil {
		return nil, err
	}
	decoded, err := e.adapter.DecodeLabel(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	truth, err := images.ToInt(decoded)
	if err != nil {
		return nil, err
	}
	if tv := e.adapter.TruthVal; tv > 1 {
		data, _ := images.IntData(truth)
		for i := range data {
			data[i] /= tv
		}
	}
	return truth, nil
}

func (e *Evaluator) savePrediction(path string, pred *tensor.Dense) error {
	enc, err := e.adapter.EncodeLabel(pred)
	if err != nil {
		return errors.Wrapf(err, "encode %s", path)
	}
	return util.SaveImage(path, enc)
}

// saveConfidence writes class 1 probabilities scaled to 0-255.
func saveConfidence(path string, probs *tensor.Dense) error {
	conf, err := images.Channel(probs, 1)
	if err != nil {
		return err
	}
	data, _ := images.Float32Data(conf)
	for i := range data {
		data[i] *= 255
	}
	return util.SaveImage(path, conf)
}

func (e *Evaluator) logScore(name, msg string, iou float64, verbose bool) {
	entry := e.log.WithFields(logrus.Fields{"image": name, "iou": iou})
	msg = strings.ReplaceAll(msg, "\n\t", "")
	if verbose {
		entry.Info(msg)
	} else {
		entry.Debug(msg)
	}
}
