package images

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ImageFormat represents supported raster file formats.
type ImageFormat string

const (
	FormatJPEG ImageFormat = "jpeg"
	FormatPNG  ImageFormat = "png"
	FormatTIFF ImageFormat = "tiff"
	FormatBMP  ImageFormat = "bmp"
	// FormatNPY is a NumPy array file, used for confidence maps.
	FormatNPY ImageFormat = "npy"
)

// FormatFromPath infers the raster format from a file extension.
func FormatFromPath(path string) (ImageFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return FormatJPEG, nil
	case ".png":
		return FormatPNG, nil
	case ".tif", ".tiff":
		return FormatTIFF, nil
	case ".bmp":
		return FormatBMP, nil
	case ".npy":
		return FormatNPY, nil
	default:
		return "", errors.Wrapf(ErrInvalidInput, "unsupported raster extension %q", filepath.Ext(path))
	}
}

// Extension returns the canonical file extension for the format, without dot.
func (f ImageFormat) Extension() string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatTIFF:
		return "tif"
	default:
		return string(f)
	}
}
