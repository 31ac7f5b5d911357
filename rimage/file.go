package rimage

import (
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	// register ppm.
	_ "github.com/lmittmann/ppm"
	"github.com/pkg/errors"
	// register bmp and tiff.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"go.viam.com/stereocam/utils"
)

// ImageExtensions are the frame file extensions recognized by the dataset loaders.
var ImageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".ppm":  true,
}

// IsImageFile returns whether the path has a recognized frame extension.
func IsImageFile(path string) bool {
	return ImageExtensions[filepath.Ext(path)]
}

// ReadImageFromFile decodes the image stored at path.
func ReadImageFromFile(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read image %q", path)
	}
	return img, nil
}

// WriteImageToFile encodes img to path, choosing the format from the extension. The file is
// replaced atomically.
func WriteImageToFile(path string, img image.Image) error {
	format, err := imaging.FormatFromFilename(path)
	if err != nil {
		return errors.Wrapf(err, "cannot write image %q", path)
	}
	return utils.WriteFileAtomic(path, func(f *os.File) error {
		return imaging.Encode(f, img, format)
	})
}
