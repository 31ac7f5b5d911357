// Package testutils provides a synthetic stereo rig with known geometry for tests: rendered
// chessboards at known poses and textured planar scenes.
package testutils

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocam/rimage"
	"go.viam.com/stereocam/rimage/transform"
	"go.viam.com/stereocam/utils"
)

// Pose maps points from an object frame into the left camera frame: X_cam = R * X_obj + T.
type Pose struct {
	R *mat.Dense
	T r3.Vector
}

// Apply transforms p by the pose.
func (p Pose) Apply(v r3.Vector) r3.Vector {
	return transform.MulVec(p.R, v).Add(p.T)
}

// SyntheticRig is a stereo pair with known intrinsics, distortion and extrinsics. The right
// camera sees X_r = R * X_l + T.
type SyntheticRig struct {
	Size  image.Point
	Left  *transform.PinholeCameraModel
	Right *transform.PinholeCameraModel
	R     *mat.Dense
	T     r3.Vector
	// Supersampling is the per-axis number of samples averaged into each rendered pixel.
	Supersampling int
}

// NewSyntheticRig returns a 480x360 rig with a 6 unit baseline, mild barrel distortion and a
// slight toe-in.
func NewSyntheticRig() *SyntheticRig {
	size := image.Point{480, 360}
	kl := mat.NewDense(3, 3, []float64{
		420, 0, 238,
		0, 420, 182,
		0, 0, 1,
	})
	kr := mat.NewDense(3, 3, []float64{
		415, 0, 243,
		0, 416, 178,
		0, 0, 1,
	})
	left, err := transform.NewPinholeCameraModel(kl, []float64{-0.08, 0.02, 0.0005, -0.0004, 0}, size)
	if err != nil {
		panic(err)
	}
	right, err := transform.NewPinholeCameraModel(kr, []float64{-0.06, 0.015, -0.0003, 0.0002, 0}, size)
	if err != nil {
		panic(err)
	}
	return &SyntheticRig{
		Size:          size,
		Left:          left,
		Right:         right,
		R:             transform.Rodrigues(r3.Vector{X: 0.004, Y: -0.03, Z: 0.006}),
		T:             r3.Vector{X: -6, Y: 0.08, Z: 0.05},
		Supersampling: 3,
	}
}

// RightCenter is the right camera center in the left camera frame.
func (rig *SyntheticRig) RightCenter() r3.Vector {
	return transform.MulVec(rig.R.T(), rig.T).Mul(-1)
}

// ProjectLeft projects a left camera frame point into the left image.
func (rig *SyntheticRig) ProjectLeft(p r3.Vector) r2.Point {
	return rig.Left.ProjectPoint(p)
}

// ProjectRight projects a left camera frame point into the right image.
func (rig *SyntheticRig) ProjectRight(p r3.Vector) r2.Point {
	return rig.Right.ProjectPoint(transform.MulVec(rig.R, p).Add(rig.T))
}

// shader returns the gray level seen along a ray given in the left camera frame.
type shader func(origin, dir r3.Vector) float64

// render traces every pixel of a camera through shade, averaging a grid of samples per pixel.
// Pixel centers lie at integer coordinates.
func (rig *SyntheticRig) render(model *transform.PinholeCameraModel, toLeft *mat.Dense, origin r3.Vector, shade shader) *mat.Dense {
	n := max(rig.Supersampling, 1)
	out := mat.NewDense(rig.Size.Y, rig.Size.X, nil)
	data := out.RawMatrix().Data
	utils.ParallelForEachRow(rig.Size.Y, func(y int) {
		for x := 0; x < rig.Size.X; x++ {
			var sum float64
			for sy := 0; sy < n; sy++ {
				for sx := 0; sx < n; sx++ {
					u := float64(x) - 0.5 + (float64(sx)+0.5)/float64(n)
					v := float64(y) - 0.5 + (float64(sy)+0.5)/float64(n)
					ray := model.UndistortPixel(r2.Point{X: u, Y: v})
					dir := r3.Vector{X: ray.X, Y: ray.Y, Z: 1}
					if toLeft != nil {
						dir = transform.MulVec(toLeft, dir)
					}
					sum += shade(origin, dir)
				}
			}
			data[y*rig.Size.X+x] = sum / float64(n*n)
		}
	})
	return out
}

// RenderPair renders the same scene from both cameras.
func (rig *SyntheticRig) RenderPair(shade shader) rimage.ImagePair {
	left := rig.render(rig.Left, nil, r3.Vector{}, shade)
	right := rig.render(rig.Right, mat.DenseCopyOf(rig.R.T()), rig.RightCenter(), shade)
	return rimage.ImagePair{Left: rimage.GrayFloatToImage(left), Right: rimage.GrayFloatToImage(right)}
}

// intersectPlane returns the point where the ray hits the plane through p0 with normal n.
func intersectPlane(origin, dir, p0, n r3.Vector) (r3.Vector, bool) {
	den := n.Dot(dir)
	if math.Abs(den) < 1e-12 {
		return r3.Vector{}, false
	}
	s := n.Dot(p0.Sub(origin)) / den
	if s <= 0 {
		return r3.Vector{}, false
	}
	return origin.Add(dir.Mul(s)), true
}
