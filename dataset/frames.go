package dataset

import (
	"github.com/pkg/errors"

	"go.viam.com/stereocam/rimage"
)

// FramePairs is a dataset of left/right frame pairs. Files are paired in modification order:
// the first file of each pair is the left frame.
type FramePairs struct {
	sliceDataset[rimage.ImagePair]
	paths []string
}

// LoadFramePairs reads every image file of dir.
func LoadFramePairs(dir string) (*FramePairs, error) {
	paths, err := filesByModTime(dir, rimage.IsImageFile)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 || len(paths)%2 != 0 {
		return nil, errors.Wrapf(ErrInvalidDatasetShape, "%q holds %d frames, need a positive even count", dir, len(paths))
	}
	ds := &FramePairs{paths: paths}
	for i := 0; i < len(paths); i += 2 {
		left, err := rimage.ReadImageFromFile(paths[i])
		if err != nil {
			return nil, err
		}
		right, err := rimage.ReadImageFromFile(paths[i+1])
		if err != nil {
			return nil, err
		}
		pair := rimage.ImagePair{Left: left, Right: right}
		if err := pair.Validate(); err != nil {
			return nil, errors.Wrapf(err, "pair %d (%s, %s)", i/2, paths[i], paths[i+1])
		}
		ds.items = append(ds.items, pair)
	}
	return ds, nil
}

// Paths returns the left and right file of pair i.
func (d *FramePairs) Paths(i int) (string, string, error) {
	if i < 0 || i >= d.Len() {
		return "", "", errors.Wrapf(ErrIndexOutOfRange, "index %d, length %d", i, d.Len())
	}
	return d.paths[2*i], d.paths[2*i+1], nil
}
