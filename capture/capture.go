// Package capture acquires frame pairs from a source and stores them as a dataset.
package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.viam.com/stereocam/dataset"
	"go.viam.com/stereocam/logging"
	"go.viam.com/stereocam/rimage"
)

// FrameSource delivers synchronized frame pairs. Read blocks until both frames are available
// and returns io.EOF once the source is exhausted. Every pair of a session has the same size.
type FrameSource interface {
	Read(ctx context.Context) (rimage.ImagePair, error)
	Close() error
}

// DatasetSource replays a frame pair dataset as a FrameSource.
type DatasetSource struct {
	ds   dataset.Dataset[rimage.ImagePair]
	loop bool

	mu   sync.Mutex
	next int
}

// NewDatasetSource returns a source that reads the pairs of ds in order. With loop set it starts
// over after the last pair instead of returning io.EOF.
func NewDatasetSource(ds dataset.Dataset[rimage.ImagePair], loop bool) *DatasetSource {
	return &DatasetSource{ds: ds, loop: loop}
}

// Read returns the next pair.
func (s *DatasetSource) Read(ctx context.Context) (rimage.ImagePair, error) {
	if err := ctx.Err(); err != nil {
		return rimage.ImagePair{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= s.ds.Len() {
		if !s.loop || s.ds.Len() == 0 {
			return rimage.ImagePair{}, io.EOF
		}
		s.next = 0
	}
	pair, err := s.ds.At(s.next)
	if err != nil {
		return rimage.ImagePair{}, err
	}
	s.next++
	return pair, nil
}

// Close does nothing.
func (s *DatasetSource) Close() error {
	return nil
}

// FrameSaver writes frame pairs into a directory as <n>_left.png and <n>_right.png. It is safe
// for concurrent use: every pair gets its own number and the two files of a pair are written
// back to back, so a dataset loaded from the directory pairs them again.
type FrameSaver struct {
	dir    string
	count  atomic.Int64
	mu     sync.Mutex
	logger logging.Logger
}

// NewFrameSaver creates dir if needed. Numbering starts at start.
func NewFrameSaver(dir string, start int, logger logging.Logger) (*FrameSaver, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "cannot create output directory %q", dir)
	}
	s := &FrameSaver{dir: dir, logger: logger}
	s.count.Store(int64(start))
	return s, nil
}

// FramePaths returns the files pair n is saved to.
func (s *FrameSaver) FramePaths(n int) (string, string) {
	return filepath.Join(s.dir, fmt.Sprintf("%d_left.png", n)), filepath.Join(s.dir, fmt.Sprintf("%d_right.png", n))
}

// Save writes pair and returns its number.
func (s *FrameSaver) Save(pair rimage.ImagePair) (int, error) {
	if err := pair.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int(s.count.Inc() - 1)
	left, right := s.FramePaths(n)
	if err := rimage.WriteImageToFile(left, pair.Left); err != nil {
		return 0, err
	}
	if err := rimage.WriteImageToFile(right, pair.Right); err != nil {
		return 0, err
	}
	s.logger.Debugw("frames saved", "number", n, "dir", s.dir)
	return n, nil
}

// Count returns the number the next saved pair gets.
func (s *FrameSaver) Count() int {
	return int(s.count.Load())
}
