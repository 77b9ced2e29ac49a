package dataset

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/mrs-eval/images"
	"github.com/nvr-ai/mrs-eval/patch"
	"github.com/nvr-ai/mrs-eval/util"
)

var rasterExts = []string{".tif", ".tiff", ".png", ".jpg", ".jpeg", ".bmp"}

// DeepGlobeLand is the DeepGlobe land cover palette. Index 6 is "unknown".
var DeepGlobeLand = images.ColorMap{
	{R: 0, G: 255, B: 255, A: 255},   // urban
	{R: 255, G: 255, B: 0, A: 255},   // agriculture
	{R: 255, G: 0, B: 255, A: 255},   // rangeland
	{R: 0, G: 255, B: 0, A: 255},     // forest
	{R: 0, G: 0, B: 255, A: 255},     // water
	{R: 255, G: 255, B: 255, A: 255}, // barren
	{R: 0, G: 0, B: 0, A: 255},       // unknown
}

// DeepGlobeLandClasses names the DeepGlobe land cover classes.
var DeepGlobeLandClasses = []string{"urban", "agriculture", "rangeland", "forest", "water", "barren", "unknown"}

// inriaValidTiles are the tile numbers of each city held out for validation.
const inriaValidTiles = 5

func init() {
	Register(Adapter{
		Name:       "inria",
		GetImages:  inria,
		TruthVal:   255,
		ClassNames: []string{"building"},
	})
	Register(Adapter{
		Name:       "deepglobe",
		GetImages:  pairDirs("images", "labels"),
		TruthVal:   1,
		Encode:     scaleBy(255),
		ClassNames: []string{"building"},
	})
	Register(Adapter{
		Name:       "deepgloberoad",
		GetImages:  pairSuffix("_sat.jpg", "_mask.png"),
		TruthVal:   255,
		Decode:     decodeRoad,
		ClassNames: []string{"road"},
	})
	Register(Adapter{
		Name:       "deepglobeland",
		GetImages:  pairSuffix("_sat.jpg", "_mask.png"),
		TestImages: unlabelled("_sat.jpg"),
		TruthVal:   1,
		Decode:     decodeColor(DeepGlobeLand),
		Encode:     encodeColor(DeepGlobeLand),
		ClassNames: DeepGlobeLandClasses[:6],
	})
	Register(Adapter{
		Name:       "mnih",
		GetImages:  pairDirs("sat", "map"),
		TruthVal:   255,
		ClassNames: []string{"road"},
	})
	Register(Adapter{
		Name:       "spca",
		GetImages:  pairDirs("images", "annotations"),
		TruthVal:   1,
		ClassNames: []string{"panel"},
	})
	Register(Adapter{
		Name:       "ct_finetune",
		GetImages:  ctFinetune,
		TruthVal:   1,
		Encode:     scaleBy(255),
		ClassNames: []string{"building"},
	})
}

// inria lists images/<city><n>.tif with gt/<city><n>.tif. With opts.Valid
// only tiles 1-5 of each city are kept.
func inria(dir string, opts Options) ([]string, []string, error) {
	rgb, lbl, err := pairDirs("images", "gt")(dir, opts)
	if err != nil {
		return nil, nil, err
	}
	if !opts.Valid {
		return rgb, lbl, nil
	}
	var vr, vl []string
	for i, p := range rgb {
		if n, ok := tileNumber(util.Stem(p)); ok && n <= inriaValidTiles {
			vr, vl = append(vr, p), append(vl, lbl[i])
		}
	}
	return vr, vl, nil
}

// tileNumber parses the trailing digits of names like "austin12".
func tileNumber(name string) (int, bool) {
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}
	n, err := strconv.Atoi(name[i:])
	return n, err == nil
}

// pairDirs pairs <dir>/<rgbDir>/<stem>.* with <dir>/<lblDir>/<stem>.*.
func pairDirs(rgbDir, lblDir string) LoaderFunc {
	return func(dir string, opts Options) ([]string, []string, error) {
		rgb, err := util.ListFiles(filepath.Join(dir, rgbDir), rasterExts...)
		if err != nil {
			return nil, nil, err
		}
		labels, err := util.ListFiles(filepath.Join(dir, lblDir), rasterExts...)
		if err != nil {
			return nil, nil, err
		}
		byStem := make(map[string]string, len(labels))
		for _, l := range labels {
			byStem[util.Stem(l)] = l
		}
		rgb = filterCities(rgb, opts.Cities)
		lbl := make([]string, len(rgb))
		for i, p := range rgb {
			l, ok := byStem[util.Stem(p)]
			if !ok {
				return nil, nil, errors.Wrapf(os.ErrNotExist, "no label for %s in %s", p, lblDir)
			}
			lbl[i] = l
		}
		return rgb, lbl, nil
	}
}

// pairSuffix pairs <dir>/<id><rgbSuffix> with <dir>/<id><lblSuffix>.
func pairSuffix(rgbSuffix, lblSuffix string) LoaderFunc {
	return func(dir string, opts Options) ([]string, []string, error) {
		rgb, err := withSuffix(dir, rgbSuffix, opts.Cities)
		if err != nil {
			return nil, nil, err
		}
		lbl := make([]string, len(rgb))
		for i, p := range rgb {
			l := strings.TrimSuffix(p, rgbSuffix) + lblSuffix
			if _, err := os.Stat(l); err != nil {
				return nil, nil, errors.Wrapf(err, "label for %s", p)
			}
			lbl[i] = l
		}
		return rgb, lbl, nil
	}
}

// unlabelled lists test tiles that have no ground truth.
func unlabelled(rgbSuffix string) LoaderFunc {
	return func(dir string, opts Options) ([]string, []string, error) {
		rgb, err := withSuffix(dir, rgbSuffix, opts.Cities)
		return rgb, nil, err
	}
}

func withSuffix(dir, suffix string, cities []string) ([]string, error) {
	files, err := util.ListFiles(dir, filepath.Ext(suffix))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, f := range files {
		if strings.HasSuffix(f, suffix) {
			out = append(out, f)
		}
	}
	return filterCities(out, cities), nil
}

func filterCities(files, cities []string) []string {
	if len(cities) == 0 {
		return files
	}
	var out []string
	for _, f := range files {
		name := strings.ToLower(filepath.Base(f))
		for _, c := range cities {
			if strings.HasPrefix(name, strings.ToLower(c)) {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// ctFinetune lists <id>.jpg with <id>.png and returns the split opts.Valid asks for.
func ctFinetune(dir string, opts Options) ([]string, []string, error) {
	rgb, err := util.ListFiles(dir, ".jpg")
	if err != nil {
		return nil, nil, err
	}
	lbl, err := util.ListFiles(dir, ".png")
	if err != nil {
		return nil, nil, err
	}
	train, valid, err := SplitPairs(rgb, lbl, opts.ValidPercent)
	if err != nil {
		return nil, nil, err
	}
	pairs := train
	if opts.Valid {
		pairs = valid
	}
	rgb, lbl = make([]string, len(pairs)), make([]string, len(pairs))
	for i, p := range pairs {
		rgb[i], lbl[i] = p.RGB, p.Label
	}
	return rgb, lbl, nil
}

// SplitPairs pairs files by index and holds out the first files for
// validation: pair i is validation when i <= int(validPercent*n), so at least
// one pair is always held out.
func SplitPairs(rgb, lbl []string, validPercent float64) (train, valid []patch.FilePair, err error) {
	if len(rgb) != len(lbl) {
		return nil, nil, errors.Wrapf(images.ErrInvalidInput, "%d images but %d labels", len(rgb), len(lbl))
	}
	if validPercent < 0 || validPercent > 1 {
		return nil, nil, errors.Wrapf(images.ErrInvalidConfig, "valid percent must be in [0, 1], got %g", validPercent)
	}
	cut := int(validPercent * float64(len(rgb)))
	for i := range rgb {
		p := patch.FilePair{RGB: rgb[i], Label: lbl[i]}
		if i <= cut {
			valid = append(valid, p)
		} else {
			train = append(train, p)
		}
	}
	return train, valid, nil
}

// decodeRoad binarizes a road mask to 0/255, reading the first band of colour masks.
func decodeRoad(t *tensor.Dense) (*tensor.Dense, error) {
	u, err := images.ToUint8(t)
	if err != nil {
		return nil, err
	}
	data, _ := images.Uint8Data(u)
	size, err := images.SizeOf(u)
	if err != nil {
		return nil, err
	}
	nc := images.Channels(u)
	out := make([]int, size.Area())
	for i := range out {
		if data[i*nc] >= 128 {
			out[i] = 255
		}
	}
	return tensor.New(tensor.WithShape(size.Rows, size.Cols), tensor.WithBacking(out)), nil
}

func decodeColor(cm images.ColorMap) LabelFunc {
	return func(t *tensor.Dense) (*tensor.Dense, error) {
		u, err := images.ToUint8(t)
		if err != nil {
			return nil, err
		}
		return cm.Decode(u)
	}
}

func encodeColor(cm images.ColorMap) LabelFunc {
	return cm.Encode
}

func scaleBy(factor int) LabelFunc {
	return func(t *tensor.Dense) (*tensor.Dense, error) {
		return images.ScaleLabels(t, factor)
	}
}
