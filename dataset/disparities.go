package dataset

import (
	"path/filepath"

	"github.com/pkg/errors"

	"go.viam.com/stereocam/rimage"
)

// FramesDir is the sub-directory of a disparity dataset holding the frames the maps were
// computed from.
const FramesDir = "frames"

// DisparityFrame is a disparity map together with the frame pair it was computed from.
type DisparityFrame[M any] struct {
	Frames    rimage.ImagePair
	Disparity M
	// Path is the archive the map was read from.
	Path string
}

// DisparityFrames is a dataset of disparity maps and their frames. M is the map type produced
// by the loader passed to LoadDisparityFrames.
type DisparityFrames[M any] struct {
	sliceDataset[DisparityFrame[M]]
}

// LoadDisparityFrames reads every *.npz archive of dir, in modification order, with load and
// pairs archive i with frame pair i of dir/frames.
func LoadDisparityFrames[M any](dir string, load func(path string) (M, error)) (*DisparityFrames[M], error) {
	paths, err := filesByModTime(dir, func(name string) bool {
		return filepath.Ext(name) == ".npz"
	})
	if err != nil {
		return nil, err
	}
	frames, err := LoadFramePairs(filepath.Join(dir, FramesDir))
	if err != nil {
		return nil, err
	}
	if len(paths) != frames.Len() {
		return nil, errors.Wrapf(ErrInvalidDatasetShape, "%q holds %d disparity maps but %d frame pairs",
			dir, len(paths), frames.Len())
	}

	ds := &DisparityFrames[M]{}
	for i, p := range paths {
		m, err := load(p)
		if err != nil {
			return nil, err
		}
		ds.items = append(ds.items, DisparityFrame[M]{Frames: frames.items[i], Disparity: m, Path: p})
	}
	return ds, nil
}
