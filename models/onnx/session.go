// Package onnx - ONNX Runtime backed segmentation models.
package onnx

import (
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/mrs-eval/images"
	"github.com/nvr-ai/mrs-eval/models/model"
)

// LibraryEnv overrides the shared library path when set.
const LibraryEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

var (
	envOnce sync.Once
	envErr  error
)

// SharedLibPath returns the ONNX Runtime shared library for the current
// platform. An explicit path wins over LibraryEnv, which wins over the
// platform default under ./third_party.
func SharedLibPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if p := os.Getenv(LibraryEnv); p != "" {
		return p, nil
	}
	switch runtime.GOOS {
	case "windows":
		if runtime.GOARCH == "amd64" {
			return "./third_party/onnxruntime.dll", nil
		}
	case "darwin":
		return "./third_party/libonnxruntime.dylib", nil
	case "linux":
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so", nil
		}
		return "./third_party/onnxruntime.so", nil
	}
	return "", errors.Wrapf(images.ErrInvalidConfig, "no ONNX Runtime library for %s/%s", runtime.GOOS, runtime.GOARCH)
}

// initEnvironment loads the native library once per process.
func initEnvironment(libPath string) error {
	envOnce.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		envErr = ort.InitializeEnvironment()
	})
	return errors.Wrap(envErr, "initialize ONNX Runtime environment")
}

// session is an ONNX Runtime session bound to preallocated tensors.
type session struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (s *session) run() error {
	return s.session.Run()
}

// close releases the native session and tensors.
func (s *session) close() error {
	if s.input != nil {
		s.input.Destroy()
		s.input = nil
	}
	if s.output != nil {
		s.output.Destroy()
		s.output = nil
	}
	if s.session != nil {
		err := s.session.Destroy()
		s.session = nil
		if err != nil {
			return errors.Wrap(err, "destroy ORT session")
		}
	}
	return nil
}

// newSession creates a session with a (1, 3, rows, cols) input and a
// (1, classes, rows', cols') output.
//
// Order of operations:
//  1. Library path check.
//  2. Environment setup, once per process.
//  3. Tensor allocation.
//  4. Session options and execution provider.
//  5. Session creation; tensors are released if it fails.
func newSession(cfg model.Config) (*session, error) {
	libPath, err := SharedLibPath(cfg.Provider.LibraryPath)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(libPath); err != nil {
		return nil, errors.Wrapf(err, "ONNX Runtime library not found at %s", libPath)
	}
	if err := initEnvironment(libPath); err != nil {
		return nil, err
	}

	out := cfg.OutputSize()
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(cfg.Input.Rows), int64(cfg.Input.Cols)))
	if err != nil {
		return nil, errors.Wrap(err, "create input tensor")
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.Classes), int64(out.Rows), int64(out.Cols)))
	if err != nil {
		input.Destroy()
		return nil, errors.Wrap(err, "create output tensor")
	}

	options, err := sessionOptions(cfg.Provider)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, err
	}
	defer options.Destroy()

	s, err := ort.NewAdvancedSession(
		cfg.Path,
		[]string{nodeName(cfg.InputName, "input")},
		[]string{nodeName(cfg.OutputName, "output")},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrapf(err, "create ORT session for %s", cfg.Path)
	}
	return &session{session: s, input: input, output: output}, nil
}

func sessionOptions(p model.ProviderConfig) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "create ORT session options")
	}
	fail := func(err error, msg string) (*ort.SessionOptions, error) {
		options.Destroy()
		return nil, errors.Wrap(err, msg)
	}
	if err := options.SetIntraOpNumThreads(p.IntraOpThreads); err != nil {
		return fail(err, "set intra-op threads")
	}
	if err := options.SetInterOpNumThreads(p.InterOpThreads); err != nil {
		return fail(err, "set inter-op threads")
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return fail(err, "set graph optimization level")
	}

	switch p.Backend {
	case model.BackendCoreML:
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			return fail(err, "enable CoreML")
		}
	case model.BackendCUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return fail(err, "create CUDA options")
		}
		defer cuda.Destroy()
		if err := cuda.Update(p.CUDA.Map()); err != nil {
			return fail(err, "update CUDA options")
		}
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return fail(err, "enable CUDA")
		}
	}
	return options, nil
}

func nodeName(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
