package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/mrs-eval/dataset"
	"github.com/nvr-ai/mrs-eval/evaluation"
	"github.com/nvr-ai/mrs-eval/images"
	"github.com/nvr-ai/mrs-eval/util"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), err
}

// writeTile saves a 10x12 tile with a red 4x6 block and its 0/255 mask.
func writeTile(t *testing.T, rgbPath, lblPath string) {
	t.Helper()
	const rows, cols = 10, 12
	rgb := make([]uint8, rows*cols*3)
	lbl := make([]uint8, rows*cols)
	for r := 2; r < 6; r++ {
		for c := 3; c < 9; c++ {
			rgb[(r*cols+c)*3] = 255
			lbl[r*cols+c] = 255
		}
	}
	require.NoError(t, util.SaveImage(rgbPath, tensor.New(tensor.WithShape(rows, cols, 3), tensor.WithBacking(rgb))))
	require.NoError(t, util.SaveImage(lblPath, tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(lbl))))
}

func writeRunConfig(t *testing.T, dir string) string {
	t.Helper()
	weights := filepath.Join(dir, "weights.npy")
	require.NoError(t, util.SaveNpy(weights, tensor.New(tensor.WithShape(4, 2), tensor.WithBacking([]float32{
		0, 0.1,
		0, 0,
		0, 0,
		0, -5,
	}))))
	body := fmt.Sprintf(`
dataset:
  name: inria
  dir: %s
models:
  - kind: linear
    path: %s
    classes: 2
    margin: 2
evaluate:
  patch: {rows: 8, cols: 8}
  overlap: 4
`, filepath.Join(dir, "data"), weights)
	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRun_Usage(t *testing.T) {
	_, err := runCLI(t)
	assert.ErrorIs(t, err, errUsage)
	_, err = runCLI(t, "train")
	assert.ErrorIs(t, err, errUsage)
	out, err := runCLI(t, "help")
	require.NoError(t, err)
	assert.Contains(t, out, "evaluate")
	_, err = runCLI(t, "results", "-bogus")
	assert.ErrorIs(t, err, errUsage)
	_, err = runCLI(t, "results", "-h")
	assert.NoError(t, err)
}

func TestRun_EvaluateAndInfer(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "data")
	writeTile(t, filepath.Join(data, "images", "austin1.png"), filepath.Join(data, "gt", "austin1.png"))
	cfg := writeRunConfig(t, dir)

	reportDir := filepath.Join(dir, "report")
	out, err := runCLI(t, "evaluate", "-config", cfg, "-report-dir", reportDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Overall IoU: 100.00")

	results, err := evaluation.ReadResults(filepath.Join(reportDir, evaluation.ReportFile), nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "austin1", results[0].Name)

	out, err = runCLI(t, "results", "-report", filepath.Join(reportDir, evaluation.ReportFile))
	require.NoError(t, err)
	assert.Contains(t, out, "IoU=100.00")

	predDir := filepath.Join(dir, "pred")
	out, err = runCLI(t, "infer", "-config", cfg, "-pred-dir", predDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 1 predictions")
	assert.FileExists(t, filepath.Join(predDir, "austin1_mask.png"))

	_, err = runCLI(t, "infer", "-config", cfg)
	assert.ErrorIs(t, err, images.ErrInvalidConfig)
	_, err = runCLI(t, "evaluate", "-config", cfg, "-dataset", "landsat")
	assert.ErrorIs(t, err, dataset.ErrUnsupportedDataset)
}

func TestRun_EvaluateProfile(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "data")
	writeTile(t, filepath.Join(data, "images", "austin1.png"), filepath.Join(data, "gt", "austin1.png"))
	cfg := writeRunConfig(t, dir)

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"evaluate", "-config", cfg, "-profile"}, &stdout, &stderr)
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "Overall IoU")
	assert.Contains(t, stderr.String(), "operation timing")
	assert.Contains(t, stderr.String(), "operation=predict")
}

func TestRun_Score(t *testing.T) {
	dir := t.TempDir()
	predDir, gtDir := filepath.Join(dir, "conf"), filepath.Join(dir, "gt")

	conf := make([]float32, 20*20)
	mask := make([]uint8, 20*20)
	for r := 4; r < 10; r++ {
		for c := 4; c < 10; c++ {
			conf[r*20+c] = 0.9
			mask[r*20+c] = 255
		}
	}
	require.NoError(t, util.SaveNpy(filepath.Join(predDir, "tile1.npy"),
		tensor.New(tensor.WithShape(20, 20), tensor.WithBacking(conf))))
	require.NoError(t, util.SaveImage(filepath.Join(gtDir, "tile1.png"),
		tensor.New(tensor.WithShape(20, 20), tensor.WithBacking(mask))))

	curve := filepath.Join(dir, "curve.csv")
	out, err := runCLI(t, "score", "-pred-dir", predDir, "-gt-dir", gtDir, "-dilation", "0", "-curve", curve)
	require.NoError(t, err)
	assert.Contains(t, out, "Records: 1\n")
	assert.Contains(t, out, "False positives at full recall: 0")

	lines, err := util.ReadLines(curve)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "threshold,precision,recall", lines[0])
	fields := strings.Split(lines[1], ",")
	require.Len(t, fields, 3)
	threshold, err := strconv.ParseFloat(fields[0], 64)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, threshold, 1e-6)
	assert.Equal(t, []string{"1", "1"}, fields[1:])

	_, err = runCLI(t, "score", "-pred-dir", predDir)
	assert.ErrorIs(t, err, errUsage)
	_, err = runCLI(t, "score", "-pred-dir", predDir, "-gt-dir", gtDir, "-min-region", "0")
	assert.ErrorIs(t, err, images.ErrInvalidConfig)
}

func TestRun_Prepare(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "ct")
	for _, name := range []string{"a", "b", "c"} {
		writeTile(t, filepath.Join(data, name+".jpg"), filepath.Join(data, name+".png"))
	}
	save := filepath.Join(dir, "ps")
	out, err := runCLI(t, "prepare", "-data-dir", data, "-save-dir", save, "-patch", "5x6")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 2 training and 1 validation tiles")

	train, err := util.ReadLines(filepath.Join(save, "file_list_train.txt"))
	require.NoError(t, err)
	assert.NotEmpty(t, train)
	valid, err := util.ReadLines(filepath.Join(save, "file_list_valid.txt"))
	require.NoError(t, err)
	assert.NotEmpty(t, valid)
	assert.Contains(t, valid[0], "a_y0x0.jpg")

	_, err = runCLI(t, "prepare", "-dataset", "deepglobe", "-data-dir", data, "-save-dir", save)
	assert.Error(t, err)
	_, err = runCLI(t, "prepare", "-data-dir", data, "-save-dir", save, "-split", "random")
	assert.ErrorIs(t, err, errUsage)
}
