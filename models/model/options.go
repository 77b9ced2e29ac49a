// Package model - Execution provider options.
//
// See:
// https://onnxruntime.ai/docs/execution-providers/CUDA-ExecutionProvider.html#configuration-options
package model

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/nvr-ai/mrs-eval/images"
)

// Backend is an ONNX Runtime execution provider.
type Backend string

const (
	// BackendCPU runs on the default CPU provider.
	BackendCPU Backend = "cpu"
	// BackendCUDA uses NVIDIA CUDA for GPU acceleration.
	BackendCUDA Backend = "cuda"
	// BackendCoreML uses Apple CoreML for macOS acceleration.
	BackendCoreML Backend = "coreml"
)

// ProviderConfig selects the execution provider and the session threading.
type ProviderConfig struct {
	// Backend defaults to BackendCPU when empty.
	Backend Backend `json:"backend"     yaml:"backend"`
	// LibraryPath overrides the platform default ONNX Runtime shared library.
	LibraryPath string `json:"libraryPath" yaml:"libraryPath"`
	// IntraOpThreads and InterOpThreads of 0 let ONNX Runtime decide.
	IntraOpThreads int `json:"intraOpThreads" yaml:"intraOpThreads"`
	InterOpThreads int `json:"interOpThreads" yaml:"interOpThreads"`
	// CUDA is used when Backend is BackendCUDA.
	CUDA CUDAOptions `json:"cuda"        yaml:"cuda"`
}

// Validate checks the backend name.
func (p ProviderConfig) Validate() error {
	switch p.Backend {
	case "", BackendCPU, BackendCUDA, BackendCoreML:
	default:
		return errors.Wrapf(images.ErrInvalidConfig, "unknown execution provider %q", p.Backend)
	}
	if p.IntraOpThreads < 0 || p.InterOpThreads < 0 {
		return errors.Wrap(images.ErrInvalidConfig, "thread counts must be non-negative")
	}
	return nil
}

// CUDAOptions contains the CUDA provider settings a segmentation run tunes.
type CUDAOptions struct {
	// The device ID.
	DeviceID int `json:"deviceID"            yaml:"deviceID"`
	// The size limit of the device memory arena in bytes; 0 leaves it unset.
	GPUMemLimit int64 `json:"gpuMemLimit"         yaml:"gpuMemLimit"`
	// The type of search done for cuDNN convolution algorithms.
	// 0: EXHAUSTIVE, 1: HEURISTIC, 2: DEFAULT.
	CudnnConvAlgoSearch int `json:"cudnnConvAlgoSearch" yaml:"cudnnConvAlgoSearch"`
	// Whether to do copies in the default stream.
	DoCopyInDefaultStream bool `json:"doCopyInDefaultStream" yaml:"doCopyInDefaultStream"`
}

// Map renders the options as ONNX Runtime provider key/value pairs.
func (o CUDAOptions) Map() map[string]string {
	algo := [...]string{"EXHAUSTIVE", "HEURISTIC", "DEFAULT"}
	m := map[string]string{
		"device_id":                 strconv.Itoa(o.DeviceID),
		"cudnn_conv_algo_search":    algo[min(max(o.CudnnConvAlgoSearch, 0), len(algo)-1)],
		"do_copy_in_default_stream": boolString(o.DoCopyInDefaultStream),
	}
	if o.GPUMemLimit > 0 {
		m["gpu_mem_limit"] = strconv.FormatInt(o.GPUMemLimit, 10)
	}
	return m
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
