// Package images - Separable resampling of float32 (rows, cols, channels) tensors.
//
// Probability maps are resized in two passes (columns, then rows) with
// precomputed per-output contributions, the same way RGB frames are.
package images

import (
	"math"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ResampleFilter defines the resampling algorithm used for scaling.
type ResampleFilter int

const (
	// NearestNeighborFilter picks the closest source pixel.
	NearestNeighborFilter ResampleFilter = iota
	// BilinearFilter uses a triangle kernel.
	BilinearFilter
	// BicubicFilter uses Catmull-Rom cubic interpolation.
	BicubicFilter
)

// kernel represents a resampling kernel function.
type kernel struct {
	// Support is the radius of the kernel in source pixels.
	Support float64
	// At evaluates the kernel weight at distance x.
	At func(x float64) float64
}

var kernels = map[ResampleFilter]kernel{
	NearestNeighborFilter: {
		Support: 0.5,
		At: func(x float64) float64 {
			if x >= -0.5 && x < 0.5 {
				return 1.0
			}
			return 0.0
		},
	},
	BilinearFilter: {
		Support: 1.0,
		At: func(x float64) float64 {
			x = math.Abs(x)
			if x < 1.0 {
				return 1.0 - x
			}
			return 0.0
		},
	},
	BicubicFilter: {
		Support: 2.0,
		At: func(x float64) float64 {
			x = math.Abs(x)
			if x < 1.0 {
				return (1.5*x-2.5)*x*x + 1.0
			}
			if x < 2.0 {
				return ((-0.5*x+2.5)*x-4.0)*x + 2.0
			}
			return 0.0
		},
	},
}

// contribution is one source pixel's weight in an output pixel.
type contribution struct {
	pixel  int
	weight float64
}

// contributions precomputes the normalized source weights of every output
// position along one axis.
func contributions(src, dst int, filter ResampleFilter) [][]contribution {
	k := kernels[filter]
	scale := float64(src) / float64(dst)

	// Downsampling widens the kernel so every source pixel is covered.
	filterScale := math.Max(scale, 1.0)
	support := k.Support * filterScale

	out := make([][]contribution, dst)
	for x := 0; x < dst; x++ {
		center := (float64(x) + 0.5) * scale
		left := max(int(math.Floor(center-support)), 0)
		right := min(int(math.Ceil(center+support)), src-1)

		var weights []contribution
		var sum float64
		for s := left; s <= right; s++ {
			w := k.At((float64(s) + 0.5 - center) / filterScale)
			if w != 0 {
				weights = append(weights, contribution{pixel: s, weight: w})
				sum += w
			}
		}
		if sum != 0 {
			for i := range weights {
				weights[i].weight /= sum
			}
		}
		out[x] = weights
	}
	return out
}

// ResizeTensor resizes a float32 (rows, cols[, channels]) tensor to the given
// spatial size. Channels are resampled independently; the output keeps the
// input's rank.
//
// Arguments:
//   - t: The source tensor.
//   - size: The output size.
//   - filter: The resampling filter.
//
// Returns:
//   - *tensor.Dense: A new float32 tensor.
//   - error: ErrInvalidInput for a non-float32 tensor, ErrInvalidConfig for an empty size.
//
// Example:
//
//	probs, _ := ResizeTensor(fused, Size{Rows: 512, Cols: 512}, BilinearFilter)
func ResizeTensor(t *tensor.Dense, size Size, filter ResampleFilter) (*tensor.Dense, error) {
	data, err := Float32Data(t)
	if err != nil {
		return nil, err
	}
	src, err := SizeOf(t)
	if err != nil {
		return nil, err
	}
	if size.Rows <= 0 || size.Cols <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "resize target must be positive, got %dx%d", size.Rows, size.Cols)
	}
	if _, ok := kernels[filter]; !ok {
		return nil, errors.Wrapf(ErrInvalidConfig, "unknown resample filter %d", filter)
	}
	nc := Channels(t)
	shape := []int{size.Rows, size.Cols}
	if t.Dims() == 3 {
		shape = append(shape, nc)
	}
	if src == size {
		out := make([]float32, len(data))
		copy(out, data)
		return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(out)), nil
	}

	// Horizontal pass: (src.Rows, size.Cols).
	colWeights := contributions(src.Cols, size.Cols, filter)
	mid := make([]float32, src.Rows*size.Cols*nc)
	Parallel(src.Rows, func(start, end int) {
		for row := start; row < end; row++ {
			for col := 0; col < size.Cols; col++ {
				for c := 0; c < nc; c++ {
					var acc float64
					for _, w := range colWeights[col] {
						acc += float64(data[(row*src.Cols+w.pixel)*nc+c]) * w.weight
					}
					mid[(row*size.Cols+col)*nc+c] = float32(acc)
				}
			}
		}
	})

	// Vertical pass: (size.Rows, size.Cols).
	rowWeights := contributions(src.Rows, size.Rows, filter)
	out := make([]float32, size.Area()*nc)
	Parallel(size.Rows, func(start, end int) {
		for row := start; row < end; row++ {
			for col := 0; col < size.Cols; col++ {
				for c := 0; c < nc; c++ {
					var acc float64
					for _, w := range rowWeights[row] {
						acc += float64(mid[(w.pixel*size.Cols+col)*nc+c]) * w.weight
					}
					out[(row*size.Cols+col)*nc+c] = float32(acc)
				}
			}
		}
	})
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(out)), nil
}

// Clamp restricts a value to the range [lo, hi].
//
// Example:
//
//	Clamp(300.5, 0, 255) // 255
func Clamp(value, lo, hi float64) float64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

// Parallel splits [0, dataSize) into one contiguous partition per CPU and runs
// fn on each concurrently. Small inputs run on the calling goroutine.
//
// Example:
//
//	Parallel(rows, func(start, end int) {
//	    for row := start; row < end; row++ {
//	        // process row
//	    }
//	})
func Parallel(dataSize int, fn func(partStart, partEnd int)) {
	workers := runtime.NumCPU()
	if dataSize < workers*2 {
		fn(0, dataSize)
		return
	}
	partSize := dataSize / workers

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		start := i * partSize
		end := start + partSize
		if i == workers-1 {
			end = dataSize
		}
		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(start, end)
	}
	wg.Wait()
}

// EdgeMode defines how out-of-range coordinates map back into a raster.
type EdgeMode string

const (
	// SymmetricEdgeMode mirrors including the edge pixel: ... b a | a b c ...
	SymmetricEdgeMode EdgeMode = "symmetric"
	// ReflectEdgeMode mirrors excluding the edge pixel: ... c b | a b c ...
	ReflectEdgeMode EdgeMode = "reflect"
	// ClampEdgeMode repeats the edge pixel.
	ClampEdgeMode EdgeMode = "clamp"
	// ConstantEdgeMode maps every outside coordinate to -1 (a zero fill).
	ConstantEdgeMode EdgeMode = "constant"
)

// MapCoord maps a coordinate into [0, n) according to the edge mode. For
// ConstantEdgeMode an outside coordinate returns -1.
//
// Arguments:
//   - coord: The coordinate to map.
//   - n: The extent of the axis.
//   - mode: The edge mode to use.
func MapCoord(coord, n int, mode EdgeMode) int {
	if coord >= 0 && coord < n {
		return coord
	}
	switch mode {
	case SymmetricEdgeMode:
		period := 2 * n
		coord = ((coord % period) + period) % period
		if coord >= n {
			coord = period - coord - 1
		}
		return coord
	case ReflectEdgeMode:
		if n == 1 {
			return 0
		}
		period := 2 * (n - 1)
		coord = ((coord % period) + period) % period
		if coord >= n {
			coord = period - coord
		}
		return coord
	case ConstantEdgeMode:
		return -1
	default:
		return min(max(coord, 0), n-1)
	}
}
