package chessboard_test

import (
	"errors"
	"image"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/stereocam/logging"
	"go.viam.com/stereocam/rimage/detection/chessboard"
	"go.viam.com/stereocam/testutils"
)

func TestPatternValidate(t *testing.T) {
	test.That(t, chessboard.Pattern{Rows: 6, Cols: 9, SquareSize: 2}.Validate(), test.ShouldBeNil)
	test.That(t, chessboard.Pattern{Rows: 1, Cols: 9, SquareSize: 2}.Validate(), test.ShouldNotBeNil)
	test.That(t, chessboard.Pattern{Rows: 6, Cols: 1, SquareSize: 2}.Validate(), test.ShouldNotBeNil)
	test.That(t, chessboard.Pattern{Rows: 6, Cols: 9}.Validate(), test.ShouldNotBeNil)
}

func TestObjectPoints(t *testing.T) {
	p := chessboard.Pattern{Rows: 2, Cols: 3, SquareSize: 2.5}
	pts := p.ObjectPoints()
	test.That(t, pts, test.ShouldHaveLength, 6)
	test.That(t, pts[0], test.ShouldResemble, r3.Vector{})
	test.That(t, pts[2], test.ShouldResemble, r3.Vector{X: 5})
	test.That(t, pts[3], test.ShouldResemble, r3.Vector{Y: 2.5})
	test.That(t, pts[5], test.ShouldResemble, r3.Vector{X: 5, Y: 2.5})
}

func TestFindCornersSynthetic(t *testing.T) {
	rig := testutils.NewSyntheticRig()
	pattern := chessboard.Pattern{Rows: 6, Cols: 9, SquareSize: 2}
	detector := chessboard.NewDetector(chessboard.DefaultDetectionConf, logging.NewTestLogger(t))

	for i, pose := range testutils.CalibrationPoses(pattern, 15)[:4] {
		pair := rig.RenderChessboardPair(pattern, pose)
		wantLeft, wantRight := rig.BoardCorners(pattern, pose)

		left, err := detector.FindCorners(pair.Left, pattern)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, left, test.ShouldHaveLength, pattern.NumCorners())
		test.That(t, testutils.MaxCornerError(left, wantLeft), test.ShouldBeLessThan, 0.25)

		right, err := detector.FindCorners(pair.Right, pattern)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, testutils.MaxCornerError(right, wantRight), test.ShouldBeLessThan, 0.25)
		t.Logf("pose %d ok", i)
	}
}

func TestFindCornersSquarePattern(t *testing.T) {
	rig := testutils.NewSyntheticRig()
	pattern := chessboard.Pattern{Rows: 5, Cols: 5, SquareSize: 2}
	pose := testutils.BoardPose(pattern, r3.Vector{Z: 0.1}, r3.Vector{X: 1, Y: 1, Z: 45})
	pair := rig.RenderChessboardPair(pattern, pose)
	want, _ := rig.BoardCorners(pattern, pose)

	corners, err := chessboard.FindCorners(pair.Left, pattern, chessboard.DefaultDetectionConf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, testutils.MaxCornerError(corners, want), test.ShouldBeLessThan, 0.25)
}

func TestFindCornersFastCheck(t *testing.T) {
	rig := testutils.NewSyntheticRig()
	pattern := chessboard.Pattern{Rows: 6, Cols: 9, SquareSize: 2}
	pose := testutils.CalibrationPoses(pattern, 15)[0]
	pair := rig.RenderChessboardPair(pattern, pose)
	want, _ := rig.BoardCorners(pattern, pose)

	cfg := chessboard.DefaultDetectionConf
	cfg.FastCheck = true
	corners, err := chessboard.FindCorners(pair.Left, pattern, cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, testutils.MaxCornerError(corners, want), test.ShouldBeLessThan, 1.5)

	detector := chessboard.NewDetector(chessboard.DefaultDetectionConf, logging.NewTestLogger(t))
	test.That(t, detector.Found(pair.Left, pattern), test.ShouldBeTrue)
}

func TestFindCornersFailure(t *testing.T) {
	pattern := chessboard.Pattern{Rows: 6, Cols: 9, SquareSize: 2}
	blank := image.NewGray(image.Rect(0, 0, 320, 240))
	_, err := chessboard.FindCorners(blank, pattern, chessboard.DefaultDetectionConf)
	test.That(t, err, test.ShouldWrap, chessboard.ErrDetectionFailed)

	rig := testutils.NewSyntheticRig()
	pair := rig.RenderChessboardPair(pattern, testutils.CalibrationPoses(pattern, 15)[2])
	_, err = chessboard.FindCorners(pair.Left, chessboard.Pattern{Rows: 7, Cols: 10, SquareSize: 2}, chessboard.DefaultDetectionConf)
	test.That(t, err, test.ShouldWrap, chessboard.ErrDetectionFailed)

	_, err = chessboard.FindCorners(pair.Left, chessboard.Pattern{Rows: 6, Cols: 9}, chessboard.DefaultDetectionConf)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, chessboard.ErrDetectionFailed), test.ShouldBeFalse)
}

func TestDrawCorners(t *testing.T) {
	rig := testutils.NewSyntheticRig()
	pattern := chessboard.Pattern{Rows: 6, Cols: 9, SquareSize: 2}
	pose := testutils.CalibrationPoses(pattern, 15)[1]
	pair := rig.RenderChessboardPair(pattern, pose)
	corners, _ := rig.BoardCorners(pattern, pose)

	out := chessboard.DrawCorners(pair.Left, pattern, corners)
	test.That(t, out.Bounds(), test.ShouldResemble, pair.Left.Bounds())
	saddles := chessboard.PlotSaddleMap(pair.Left, &chessboard.DefaultSaddleConf)
	test.That(t, saddles.Bounds(), test.ShouldResemble, pair.Left.Bounds())
}
