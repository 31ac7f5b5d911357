package capture

import (
	"context"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/stereocam/dataset"
	"go.viam.com/stereocam/logging"
	"go.viam.com/stereocam/rimage"
	"go.viam.com/stereocam/rimage/detection/chessboard"
	"go.viam.com/stereocam/testutils"
)

func blankPair(size image.Point) rimage.ImagePair {
	img := image.NewGray(image.Rect(0, 0, size.X, size.Y))
	return rimage.ImagePair{Left: img, Right: img}
}

func TestDatasetSource(t *testing.T) {
	size := image.Point{4, 3}
	pairs := []rimage.ImagePair{blankPair(size), blankPair(image.Point{5, 3})}
	ctx := context.Background()

	src := NewDatasetSource(dataset.FromSlice(pairs), false)
	for _, want := range pairs {
		got, err := src.Read(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got.Size(), test.ShouldResemble, want.Size())
	}
	_, err := src.Read(ctx)
	test.That(t, err, test.ShouldEqual, io.EOF)
	test.That(t, src.Close(), test.ShouldBeNil)

	looping := NewDatasetSource(dataset.FromSlice(pairs), true)
	for i := 0; i < 5; i++ {
		got, err := looping.Read(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got.Size(), test.ShouldResemble, pairs[i%2].Size())
	}
	_, err = NewDatasetSource(dataset.FromSlice([]rimage.ImagePair{}), true).Read(ctx)
	test.That(t, err, test.ShouldEqual, io.EOF)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = looping.Read(cancelled)
	test.That(t, err, test.ShouldEqual, context.Canceled)
}

func TestFrameSaver(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "frames")
	saver, err := NewFrameSaver(dir, 3, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, saver.Count(), test.ShouldEqual, 3)

	n, err := saver.Save(blankPair(image.Point{6, 4}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 3)
	left, right := saver.FramePaths(3)
	test.That(t, filepath.Base(left), test.ShouldEqual, "3_left.png")
	test.That(t, filepath.Base(right), test.ShouldEqual, "3_right.png")
	for _, p := range []string{left, right} {
		_, err := os.Stat(p)
		test.That(t, err, test.ShouldBeNil)
	}

	_, err = saver.Save(rimage.ImagePair{Left: image.NewGray(image.Rect(0, 0, 2, 2))})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, saver.Count(), test.ShouldEqual, 4)
}

func TestFrameSaverConcurrent(t *testing.T) {
	dir := t.TempDir()
	saver, err := NewFrameSaver(dir, 0, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	const workers = 8
	numbers := make([]int, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			numbers[i], errs[i] = saver.Save(blankPair(image.Point{3, 3}))
		}(i)
	}
	wg.Wait()

	seen := map[int]bool{}
	for i := 0; i < workers; i++ {
		test.That(t, errs[i], test.ShouldBeNil)
		test.That(t, seen[numbers[i]], test.ShouldBeFalse)
		seen[numbers[i]] = true
	}
	test.That(t, saver.Count(), test.ShouldEqual, workers)

	ds, err := dataset.LoadFramePairs(dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ds.Len(), test.ShouldEqual, workers)
}

func TestChessboardCapture(t *testing.T) {
	logger := logging.NewTestLogger(t)
	rig := testutils.NewSyntheticRig()
	pattern := chessboard.Pattern{Rows: 6, Cols: 9, SquareSize: 2}
	poses := testutils.CalibrationPoses(pattern, 15)
	blank := blankPair(rig.Size)
	pairs := []rimage.ImagePair{
		blank,
		rig.RenderChessboardPair(pattern, poses[0]),
		blank,
		blank,
		rig.RenderChessboardPair(pattern, poses[1]),
	}

	dir := t.TempDir()
	saver, err := NewFrameSaver(dir, 0, logger)
	test.That(t, err, test.ShouldBeNil)
	worker := &ChessboardCapture{
		Source:   NewDatasetSource(dataset.FromSlice(pairs), false),
		Saver:    saver,
		Detector: chessboard.NewDetector(chessboard.DefaultDetectionConf, logger),
		Pattern:  pattern,
		Amount:   2,
		Delay:    time.Millisecond,
		Logger:   logger,
	}
	saved, err := worker.Run(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, saved, test.ShouldEqual, 2)

	ds, err := dataset.LoadFramePairs(dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ds.Len(), test.ShouldEqual, 2)
	left, right, err := ds.Paths(1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, filepath.Base(left), test.ShouldEqual, "1_left.png")
	test.That(t, filepath.Base(right), test.ShouldEqual, "1_right.png")

	// The source runs dry before a third board shows up.
	worker.Source = NewDatasetSource(dataset.FromSlice(pairs[:2]), false)
	worker.Amount = 2
	saved, err = worker.Run(context.Background())
	test.That(t, saved, test.ShouldEqual, 1)
	test.That(t, errors.Is(err, io.EOF), test.ShouldBeTrue)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	worker.Source = NewDatasetSource(dataset.FromSlice(pairs), true)
	saved, err = worker.Run(ctx)
	test.That(t, saved, test.ShouldEqual, 0)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)

	worker.Amount = 0
	_, err = worker.Run(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
}
