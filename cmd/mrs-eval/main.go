// Command mrs-eval runs tiled segmentation inference over remote-sensing
// datasets, scores the predictions and prepares training patches.
//
// Usage:
//
//	mrs-eval evaluate -config run.yaml
//	mrs-eval infer    -config run.yaml -pred-dir out/pred
//	mrs-eval score    -pred-dir out/conf -gt-dir data/gt
//	mrs-eval prepare  -dataset ct_finetune -data-dir data/ct -save-dir data/ps512
//	mrs-eval results  -report out/result.txt -pattern '^austin'
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
)

const usage = `usage: mrs-eval <command> [flags]

commands:
  evaluate  run models over a labelled dataset and report IoU
  infer     run models over a dataset and write predictions
  score     object-level precision/recall from confidence maps
  prepare   cut a dataset into training patches
  results   summarize a result.txt report

run "mrs-eval <command> -h" for command flags
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "mrs-eval: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "evaluate":
		return runEvaluate(ctx, rest, stdout, stderr)
	case "infer":
		return runInfer(ctx, rest, stdout, stderr)
	case "score":
		return runScore(ctx, rest, stdout, stderr)
	case "prepare":
		return runPrepare(ctx, rest, stdout, stderr)
	case "results":
		return runResults(rest, stdout, stderr)
	case "-h", "-help", "--help", "help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprint(stderr, usage)
		return errors.Wrapf(errUsage, "unknown command %q", cmd)
	}
}
