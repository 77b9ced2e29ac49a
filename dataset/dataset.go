// Package dataset - Registry of dataset adapters: where a dataset keeps its
// tiles and how its labels map to class indices.
package dataset

import (
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ErrUnsupportedDataset is returned for a dataset name no adapter is registered under.
var ErrUnsupportedDataset = errors.New("unsupported dataset")

// Options tunes file discovery. Adapters ignore fields that do not apply to them.
type Options struct {
	// Cities keeps only tiles whose name starts with one of these prefixes.
	Cities []string `json:"cities"       yaml:"cities"`
	// ValidPercent is the share of files held out for validation by splitting adapters.
	ValidPercent float64 `json:"validPercent" yaml:"validPercent"`
	// Valid selects the validation split instead of the training split.
	Valid bool `json:"valid"        yaml:"valid"`
}

// LabelFunc converts between a label raster and a class index map.
type LabelFunc func(*tensor.Dense) (*tensor.Dense, error)

// LoaderFunc lists paired image and label files under a data directory.
type LoaderFunc func(dir string, opts Options) (rgb, lbl []string, err error)

// Adapter describes one dataset.
type Adapter struct {
	Name string
	// GetImages lists the labelled tiles. The lists are paired by index.
	GetImages LoaderFunc
	// TestImages lists tiles for inference without labels. Nil falls back to
	// GetImages.
	TestImages LoaderFunc
	// TruthVal is the label value of the foreground class; labels are divided
	// by it before scoring.
	TruthVal int
	// Decode turns a loaded label into class indices; nil is the identity.
	Decode LabelFunc
	// Encode turns a class map into a saveable image; nil is the identity.
	Encode LabelFunc
	// ClassNames names the evaluated classes, in order.
	ClassNames []string
}

// DecodeLabel applies Decode, or returns the label unchanged.
func (a Adapter) DecodeLabel(t *tensor.Dense) (*tensor.Dense, error) {
	if a.Decode == nil {
		return t, nil
	}
	return a.Decode(t)
}

// EncodeLabel applies Encode, or returns the map unchanged.
func (a Adapter) EncodeLabel(t *tensor.Dense) (*tensor.Dense, error) {
	if a.Encode == nil {
		return t, nil
	}
	return a.Encode(t)
}

// Files lists the tiles to evaluate, or to infer when infer is set.
func (a Adapter) Files(dir string, opts Options, infer bool) ([]string, []string, error) {
	get := a.GetImages
	if infer && a.TestImages != nil {
		get = a.TestImages
	}
	if get == nil {
		return nil, nil, errors.Wrapf(ErrUnsupportedDataset, "%s has no file loader", a.Name)
	}
	rgb, lbl, err := get(dir, opts)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "list %s files in %s", a.Name, dir)
	}
	return rgb, lbl, nil
}

var (
	mu       sync.RWMutex
	adapters = map[string]Adapter{}
)

// Register adds or replaces an adapter under its stemmed name.
func Register(a Adapter) {
	mu.Lock()
	defer mu.Unlock()
	adapters[Stem(a.Name)] = a
}

// Lookup finds an adapter by name. The name is stemmed first, so "DeepGlobe-Road"
// finds "deepgloberoad".
func Lookup(name string) (Adapter, error) {
	mu.RLock()
	defer mu.RUnlock()
	a, ok := adapters[Stem(name)]
	if !ok {
		return Adapter{}, errors.Wrapf(ErrUnsupportedDataset, "%q", name)
	}
	return a, nil
}

// Names lists the registered adapters, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(adapters))
	for n := range adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Stem lower-cases name and drops everything but letters and digits.
func Stem(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Custom builds an adapter around a caller-supplied loader. A zero truthVal
// means 1 and no class names mean a single "building" class.
func Custom(loader LoaderFunc, truthVal int, decode, encode LabelFunc, classNames []string) Adapter {
	if truthVal == 0 {
		truthVal = 1
	}
	if len(classNames) == 0 {
		classNames = []string{"building"}
	}
	return Adapter{
		Name:       "custom",
		GetImages:  loader,
		TruthVal:   truthVal,
		Decode:     decode,
		Encode:     encode,
		ClassNames: classNames,
	}
}
