// Package dataset loads recorded stereo sessions from disk: frame pairs saved by a capture run
// and disparity maps saved together with their frames.
package dataset

import (
	"iter"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidDatasetShape is returned when a directory holds no frames or an odd number of
	// them, or when the parts of a dataset disagree in length.
	ErrInvalidDatasetShape = errors.New("invalid dataset shape")
	// ErrIndexOutOfRange is returned by At for an index outside [0, Len).
	ErrIndexOutOfRange = errors.New("dataset index out of range")
)

// Dataset is an indexed, finite sequence of samples.
type Dataset[T any] interface {
	// Len returns the number of samples.
	Len() int
	// At returns sample i.
	At(i int) (T, error)
	// All iterates the samples in order.
	All() iter.Seq2[int, T]
}

// sliceDataset backs a Dataset with samples loaded up front.
type sliceDataset[T any] struct {
	items []T
}

func (d *sliceDataset[T]) Len() int {
	return len(d.items)
}

func (d *sliceDataset[T]) At(i int) (T, error) {
	if i < 0 || i >= len(d.items) {
		var zero T
		return zero, errors.Wrapf(ErrIndexOutOfRange, "index %d, length %d", i, len(d.items))
	}
	return d.items[i], nil
}

func (d *sliceDataset[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for i, item := range d.items {
			if !yield(i, item) {
				return
			}
		}
	}
}

// filesByModTime lists the regular files of dir accepted by keep, oldest first. Files with equal
// modification times are ordered by name.
func filesByModTime(dir string, keep func(name string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read dataset directory %q", dir)
	}
	type file struct {
		path string
		mod  int64
	}
	var files []file
	for _, e := range entries {
		if !e.Type().IsRegular() || !keep(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		files = append(files, file{filepath.Join(dir, e.Name()), info.ModTime().UnixNano()})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].mod != files[j].mod {
			return files[i].mod < files[j].mod
		}
		return files[i].path < files[j].path
	})
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

// FromSlice wraps samples already in memory.
func FromSlice[T any](items []T) Dataset[T] {
	return &sliceDataset[T]{items: items}
}
