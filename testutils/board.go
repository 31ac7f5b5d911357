package testutils

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"go.viam.com/stereocam/rimage"
	"go.viam.com/stereocam/rimage/detection/chessboard"
	"go.viam.com/stereocam/rimage/transform"
)

// Gray levels of the rendered scenes.
const (
	BlackLevel      = 20.
	WhiteLevel      = 235.
	BackgroundLevel = 128.
)

// BoardShader shades a chessboard with pattern placed at pose. Squares extend one square beyond
// the interior corners and are surrounded by a white margin one square wide.
func BoardShader(pattern chessboard.Pattern, pose Pose) func(origin, dir r3.Vector) float64 {
	normal := transform.MulVec(pose.R, r3.Vector{Z: 1})
	rt := pose.R.T()
	s := pattern.SquareSize
	return func(origin, dir r3.Vector) float64 {
		hit, ok := intersectPlane(origin, dir, pose.T, normal)
		if !ok {
			return BackgroundLevel
		}
		b := transform.MulVec(rt, hit.Sub(pose.T))
		cols, rows := float64(pattern.Cols), float64(pattern.Rows)
		switch {
		case b.X < -2*s || b.Y < -2*s || b.X > (cols+1)*s || b.Y > (rows+1)*s:
			return BackgroundLevel
		case b.X < -s || b.Y < -s || b.X > cols*s || b.Y > rows*s:
			return WhiteLevel
		}
		if (int(math.Floor(b.X/s))+int(math.Floor(b.Y/s)))%2 == 0 {
			return BlackLevel
		}
		return WhiteLevel
	}
}

// BoardPose places the center of the interior corner grid of pattern at center and tilts the
// board by the axis-angle rotation rvec.
func BoardPose(pattern chessboard.Pattern, rvec, center r3.Vector) Pose {
	r := transform.Rodrigues(rvec)
	mid := r3.Vector{
		X: float64(pattern.Cols-1) * pattern.SquareSize / 2,
		Y: float64(pattern.Rows-1) * pattern.SquareSize / 2,
	}
	return Pose{R: r, T: center.Sub(transform.MulVec(r, mid))}
}

// CalibrationPoses returns n pose-diverse board placements that keep the whole board of pattern
// inside both images of the default rig while spreading its corners toward the image edges.
func CalibrationPoses(pattern chessboard.Pattern, n int) []Pose {
	poses := make([]Pose, 0, n)
	for k := 0; k < n; k++ {
		phase := 2 * math.Pi * float64(k) / float64(n)
		rvec := r3.Vector{
			X: 0.35 * math.Sin(phase),
			Y: 0.35 * math.Cos(1.7*phase+0.4),
			Z: 0.12 * math.Sin(2.3*phase+1),
		}
		center := r3.Vector{
			X: 2.5 + 9*math.Cos(phase+0.3),
			Y: 7 * math.Sin(1.3*phase),
			Z: 52 + 6*math.Sin(0.9*phase+0.5),
		}
		poses = append(poses, BoardPose(pattern, rvec, center))
	}
	return poses
}

// BoardCorners returns the ground truth corners of pattern at pose in both images.
func (rig *SyntheticRig) BoardCorners(pattern chessboard.Pattern, pose Pose) (left, right chessboard.CornerSet) {
	for _, p := range pattern.ObjectPoints() {
		x := pose.Apply(p)
		left = append(left, rig.ProjectLeft(x))
		right = append(right, rig.ProjectRight(x))
	}
	return left, right
}

// RenderChessboardPair renders pattern at pose from both cameras.
func (rig *SyntheticRig) RenderChessboardPair(pattern chessboard.Pattern, pose Pose) rimage.ImagePair {
	return rig.RenderPair(BoardShader(pattern, pose))
}

// MaxCornerError returns the largest distance between matching corners.
func MaxCornerError(got, want []r2.Point) float64 {
	worst := 0.
	for k := range got {
		worst = math.Max(worst, got[k].Sub(want[k]).Norm())
	}
	return worst
}
