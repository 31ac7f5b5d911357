package calibration

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocam/rimage/transform"
)

// CameraCalibration is the result of calibrating a single camera against a planar pattern.
type CameraCalibration struct {
	// CameraMatrix is the 3x3 intrinsic matrix.
	CameraMatrix *mat.Dense
	// Distortion holds (k1, k2, p1, p2, k3).
	Distortion []float64
	// RMS is the root mean square reprojection error over all corners, in pixels.
	RMS float64
	// PerViewRMS is the reprojection error of each view.
	PerViewRMS []float64
	// Poses maps board coordinates into the camera frame, one per view.
	Poses []ViewPose
	// FixedK3 is set when the corners did not cover enough of the image to estimate k3, which
	// was then held at zero.
	FixedK3 bool
}

// k3Coverage is the fraction of the image half diagonal the observed corners must reach, as a
// distance from the image center, for k3 to be estimated. Closer in, the sixth order term
// trades off against k1 and k2 and fits noise.
const k3Coverage = 0.8

// cornerCoverage returns the largest distance of any image point from the image center as a
// fraction of the half diagonal.
func cornerCoverage(imagePts [][]r2.Point, size image.Point) float64 {
	center := r2.Point{X: float64(size.X-1) / 2, Y: float64(size.Y-1) / 2}
	halfDiag := math.Hypot(float64(size.X), float64(size.Y)) / 2
	reach := 0.
	for _, view := range imagePts {
		for _, p := range view {
			reach = math.Max(reach, p.Sub(center).Norm())
		}
	}
	return reach / halfDiag
}

// ViewPose is a board pose as an axis-angle rotation and a translation.
type ViewPose struct {
	Rotation    r3.Vector
	Translation r3.Vector
}

func (p ViewPose) params() []float64 {
	return []float64{p.Rotation.X, p.Rotation.Y, p.Rotation.Z, p.Translation.X, p.Translation.Y, p.Translation.Z}
}

func viewPoseFromParams(p []float64) ViewPose {
	return ViewPose{Rotation: r3.Vector{X: p[0], Y: p[1], Z: p[2]}, Translation: r3.Vector{X: p[3], Y: p[4], Z: p[5]}}
}

// Model returns the camera as a pinhole model with distortion.
func (c *CameraCalibration) Model(size image.Point) (*transform.PinholeCameraModel, error) {
	return transform.NewPinholeCameraModel(c.CameraMatrix, c.Distortion, size)
}

func checkViews(objectPts [][]r3.Vector, imagePts ...[][]r2.Point) (int, error) {
	if len(objectPts) == 0 {
		return 0, errors.New("calibration needs at least one view")
	}
	total := 0
	for v, obj := range objectPts {
		if len(obj) < 4 {
			return 0, errors.Errorf("view %d has %d points, need at least 4", v, len(obj))
		}
		for _, set := range imagePts {
			if len(set) != len(objectPts) {
				return 0, errors.Errorf("got %d image point views for %d object point views", len(set), len(objectPts))
			}
			if len(set[v]) != len(obj) {
				return 0, errors.Errorf("view %d has %d image points for %d object points", v, len(set[v]), len(obj))
			}
		}
		total += len(obj)
	}
	return total, nil
}

// CalibrateCamera estimates the intrinsics, distortion and per-view board poses of one camera
// from planar pattern observations. Object points must lie in the Z = 0 plane of the board.
// The initial guess assumes a centered principal point and no distortion; everything is then
// refined jointly by minimizing the reprojection error. k3 is held at zero unless the corners
// reach far enough toward the image corners to constrain it.
func CalibrateCamera(objectPts [][]r3.Vector, imagePts [][]r2.Point, size image.Point) (*CameraCalibration, error) {
	total, err := checkViews(objectPts, imagePts)
	if err != nil {
		return nil, err
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, errors.Errorf("invalid image size %v", size)
	}

	homographies := make([]*mat.Dense, len(objectPts))
	for v := range objectPts {
		board := make([]r2.Point, len(objectPts[v]))
		for k, p := range objectPts[v] {
			if math.Abs(p.Z) > 1e-9 {
				return nil, errors.Errorf("object point %d of view %d is not on the Z = 0 plane", k, v)
			}
			board[k] = r2.Point{X: p.X, Y: p.Y}
		}
		h, err := transform.EstimateHomography(board, imagePts[v])
		if err != nil {
			return nil, errors.Wrapf(err, "view %d", v)
		}
		homographies[v] = h
	}

	guess := initIntrinsics(homographies, size)
	params := guess.params()
	for _, h := range homographies {
		params = append(params, poseFromHomography(h, guess).params()...)
	}

	fixK3 := cornerCoverage(imagePts, size) < k3Coverage
	residuals := func(dst, p []float64) {
		l := lensFromParams(p)
		if fixK3 {
			l.k3 = 0
		}
		off := 0
		for v, obj := range objectPts {
			g := rigidFromParams(p[numIntrinsicParams+numDistortionParams+numPoseParams*v:])
			for k, x := range obj {
				proj := l.project(g.apply(x))
				dst[2*(off+k)] = proj.X - imagePts[v][k].X
				dst[2*(off+k)+1] = proj.Y - imagePts[v][k].Y
			}
			off += len(obj)
		}
	}
	res, err := levenbergMarquardt(residuals, params, 2*total, defaultLMSettings)
	if err != nil {
		return nil, err
	}

	l := lensFromParams(res.Params)
	if fixK3 {
		l.k3 = 0
	}
	out := &CameraCalibration{
		CameraMatrix: mat.NewDense(3, 3, []float64{l.fx, 0, l.cx, 0, l.fy, l.cy, 0, 0, 1}),
		Distortion:   []float64{l.k1, l.k2, l.p1, l.p2, l.k3},
		FixedK3:      fixK3,
	}
	var sum float64
	off := 0
	for v, obj := range objectPts {
		out.Poses = append(out.Poses, viewPoseFromParams(res.Params[numIntrinsicParams+numDistortionParams+numPoseParams*v:]))
		var viewSum float64
		for k := range obj {
			viewSum += res.Residuals[2*(off+k)]*res.Residuals[2*(off+k)] + res.Residuals[2*(off+k)+1]*res.Residuals[2*(off+k)+1]
		}
		out.PerViewRMS = append(out.PerViewRMS, math.Sqrt(viewSum/float64(len(obj))))
		sum += viewSum
		off += len(obj)
	}
	out.RMS = math.Sqrt(sum / float64(total))
	return out, nil
}

// initIntrinsics solves for the focal lengths from the orthogonality of the board axes in every
// view, with the principal point fixed at the image center.
func initIntrinsics(homographies []*mat.Dense, size image.Point) lens {
	cx, cy := float64(size.X-1)/2, float64(size.Y-1)/2
	a := mat.NewDense(2*len(homographies), 2, nil)
	b := mat.NewVecDense(2*len(homographies), nil)
	for v, h := range homographies {
		var col [2]r3.Vector
		for c := 0; c < 2; c++ {
			z := h.At(2, c)
			col[c] = r3.Vector{X: h.At(0, c) - cx*z, Y: h.At(1, c) - cy*z, Z: z}
		}
		// Scale each view so its rows weigh about the same.
		scale := 1 / math.Max(col[0].Norm()*col[1].Norm(), 1e-12)
		h1, h2 := col[0], col[1]
		a.SetRow(2*v, []float64{scale * h1.X * h2.X, scale * h1.Y * h2.Y})
		b.SetVec(2*v, -scale*h1.Z*h2.Z)
		a.SetRow(2*v+1, []float64{scale * (h1.X*h1.X - h2.X*h2.X), scale * (h1.Y*h1.Y - h2.Y*h2.Y)})
		b.SetVec(2*v+1, -scale*(h1.Z*h1.Z-h2.Z*h2.Z))
	}
	fallback := 0.9 * float64(max(size.X, size.Y))
	l := lens{fx: fallback, fy: fallback, cx: cx, cy: cy}
	var sol mat.VecDense
	if err := sol.SolveVec(a, b); err != nil {
		return l
	}
	if inv := sol.AtVec(0); inv > 0 {
		l.fx = 1 / math.Sqrt(inv)
	}
	if inv := sol.AtVec(1); inv > 0 {
		l.fy = 1 / math.Sqrt(inv)
	}
	return l
}

// poseFromHomography decomposes H = K [r1 r2 t] into a board pose in front of the camera.
func poseFromHomography(h *mat.Dense, l lens) ViewPose {
	kInv := mat.NewDense(3, 3, []float64{
		1 / l.fx, 0, -l.cx / l.fx,
		0, 1 / l.fy, -l.cy / l.fy,
		0, 0, 1,
	})
	var m mat.Dense
	m.Mul(kInv, h)
	r1 := transform.DenseToVec(m.ColView(0))
	r2v := transform.DenseToVec(m.ColView(1))
	t := transform.DenseToVec(m.ColView(2))
	lambda := 2 / (r1.Norm() + r2v.Norm())
	if t.Z < 0 {
		lambda = -lambda
	}
	r1, r2v, t = r1.Mul(lambda), r2v.Mul(lambda), t.Mul(lambda)
	r3v := r1.Cross(r2v)
	rot := mat.NewDense(3, 3, []float64{
		r1.X, r2v.X, r3v.X,
		r1.Y, r2v.Y, r3v.Y,
		r1.Z, r2v.Z, r3v.Z,
	})
	return ViewPose{Rotation: transform.RotationToRodrigues(transform.NearestRotation(rot)), Translation: t}
}
