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

// NoScaling keeps the focal length chosen by rectification as is.
const NoScaling = -1.

// rectGridSize is the number of samples per image side used to bound the rectified image.
const rectGridSize = 9

// floatRect is an axis aligned rectangle with float corners.
type floatRect struct {
	x0, y0, x1, y1 float64
}

// StereoRectify computes rotations that make both image planes coplanar and parallel to the
// baseline, the projection matrices of the rectified cameras and the disparity-to-depth matrix
//
//	Q = [1 0 0 -cx; 0 1 0 -cy; 0 0 0 f; 0 0 -1/Tx (cx - cx')/Tx]
//
// Both cameras are rotated by half the relative rotation, then together about the axis that
// aligns the baseline with the image rows (or columns for a vertical rig). Principal points are
// shared so that points at infinity have zero disparity.
//
// alpha in [0, 1] scales the rectified focal length between keeping only valid pixels (0) and
// keeping every source pixel (1). A negative alpha keeps the unscaled focal length.
func StereoRectify(calib *CalibrationData, size image.Point, alpha float64) (*RectificationData, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, errors.Errorf("invalid image size %v", size)
	}
	if calib.TranslationVector.Norm() == 0 {
		return nil, errors.New("stereo baseline is zero")
	}
	left, err := transform.NewPinholeCameraModel(calib.CameraMatrixLeft, calib.DistCoeffsLeft, size)
	if err != nil {
		return nil, err
	}
	right, err := transform.NewPinholeCameraModel(calib.CameraMatrixRight, calib.DistCoeffsRight, size)
	if err != nil {
		return nil, err
	}

	om := transform.RotationToRodrigues(calib.RotationMatrix).Mul(-0.5)
	halfRot := transform.Rodrigues(om)
	t := transform.MulVec(halfRot, calib.TranslationVector)

	// idx is the axis the baseline is mostly along.
	idx := 0
	tc := []float64{t.X, t.Y, t.Z}
	if math.Abs(t.X) <= math.Abs(t.Y) {
		idx = 1
	}
	c := tc[idx]
	uu := r3.Vector{}
	sign := 1.
	if c <= 0 {
		sign = -1
	}
	if idx == 0 {
		uu.X = sign
	} else {
		uu.Y = sign
	}
	ww := t.Cross(uu)
	if nw := ww.Norm(); nw > 0 {
		ww = ww.Mul(math.Acos(math.Abs(c)/t.Norm()) / nw)
	}
	wR := transform.Rodrigues(ww)

	var rotL, rotR mat.Dense
	rotL.Mul(wR, halfRot.T())
	rotR.Mul(wR, halfRot)
	t = transform.MulVec(&rotR, calib.TranslationVector)
	tc = []float64{t.X, t.Y, t.Z}

	// The focal length along the axis orthogonal to the baseline is shared.
	other := 1 - idx
	fc := (calib.CameraMatrixLeft.At(other, other) + calib.CameraMatrixRight.At(other, other)) / 2

	nx, ny := float64(size.X), float64(size.Y)
	var cc [2]r2.Point
	for k, model := range []*transform.PinholeCameraModel{left, right} {
		rot := &rotL
		if k == 1 {
			rot = &rotR
		}
		var avg r2.Point
		for i := 0; i < 4; i++ {
			corner := r2.Point{X: float64(i%2) * (nx - 1), Y: float64(i/2) * (ny - 1)}
			n := model.UndistortPixel(corner)
			p := transform.MulVec(rot, r3.Vector{X: n.X, Y: n.Y, Z: 1})
			avg = avg.Add(r2.Point{X: fc * p.X / p.Z, Y: fc * p.Y / p.Z})
		}
		avg = avg.Mul(0.25)
		cc[k] = r2.Point{X: (nx-1)/2 - avg.X, Y: (ny-1)/2 - avg.Y}
	}
	shared := cc[0].Add(cc[1]).Mul(0.5)
	cc[0], cc[1] = shared, shared

	inner1, outer1 := rectifiedBounds(left, &rotL, fc, cc[0], size)
	inner2, outer2 := rectifiedBounds(right, &rotR, fc, cc[1], size)

	s := 1.
	if alpha >= 0 {
		alpha = math.Min(alpha, 1)
		cx1, cy1 := cc[0].X, cc[0].Y
		cx2, cy2 := cc[1].X, cc[1].Y
		s0 := math.Max(
			scaleToFit(inner1, cx1, cy1, nx, ny, math.Max),
			scaleToFit(inner2, cx2, cy2, nx, ny, math.Max),
		)
		s1 := math.Min(
			scaleToFit(outer1, cx1, cy1, nx, ny, math.Min),
			scaleToFit(outer2, cx2, cy2, nx, ny, math.Min),
		)
		s = s0*(1-alpha) + s1*alpha
	}

	fNew := fc * s
	p1 := mat.NewDense(3, 4, []float64{
		fNew, 0, cc[0].X, 0,
		0, fNew, cc[0].Y, 0,
		0, 0, 1, 0,
	})
	p2 := mat.NewDense(3, 4, []float64{
		fNew, 0, cc[1].X, 0,
		0, fNew, cc[1].Y, 0,
		0, 0, 1, 0,
	})
	p2.Set(idx, 3, s*tc[idx]*fc)

	disparityOffset := cc[0].X - cc[1].X
	if idx == 1 {
		disparityOffset = cc[0].Y - cc[1].Y
	}
	q := mat.NewDense(4, 4, []float64{
		1, 0, 0, -cc[0].X,
		0, 1, 0, -cc[0].Y,
		0, 0, 0, fNew,
		0, 0, -1 / tc[idx], disparityOffset / tc[idx],
	})

	bounds := image.Rect(0, 0, size.X, size.Y)
	return &RectificationData{
		RectificationLeft:  mat.DenseCopyOf(&rotL),
		RectificationRight: mat.DenseCopyOf(&rotR),
		ProjectionLeft:     p1,
		ProjectionRight:    p2,
		DisparityToDepth:   q,
		ValidROILeft:       validROI(inner1, cc[0], s).Intersect(bounds),
		ValidROIRight:      validROI(inner2, cc[1], s).Intersect(bounds),
	}, nil
}

// rectifiedBounds maps a grid over the source image into the rectified image and returns the
// largest rectangle inside the mapped image border and the bounding box of every mapped point.
func rectifiedBounds(model *transform.PinholeCameraModel, rot mat.Matrix, fc float64, cc r2.Point, size image.Point) (inner, outer floatRect) {
	inner = floatRect{math.Inf(-1), math.Inf(-1), math.Inf(1), math.Inf(1)}
	outer = floatRect{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for y := 0; y < rectGridSize; y++ {
		for x := 0; x < rectGridSize; x++ {
			src := r2.Point{
				X: float64(x) * float64(size.X) / (rectGridSize - 1),
				Y: float64(y) * float64(size.Y) / (rectGridSize - 1),
			}
			n := model.UndistortPixel(src)
			q := transform.MulVec(rot, r3.Vector{X: n.X, Y: n.Y, Z: 1})
			p := r2.Point{X: fc*q.X/q.Z + cc.X, Y: fc*q.Y/q.Z + cc.Y}
			outer.x0, outer.x1 = math.Min(outer.x0, p.X), math.Max(outer.x1, p.X)
			outer.y0, outer.y1 = math.Min(outer.y0, p.Y), math.Max(outer.y1, p.Y)
			if x == 0 {
				inner.x0 = math.Max(inner.x0, p.X)
			}
			if x == rectGridSize-1 {
				inner.x1 = math.Min(inner.x1, p.X)
			}
			if y == 0 {
				inner.y0 = math.Max(inner.y0, p.Y)
			}
			if y == rectGridSize-1 {
				inner.y1 = math.Min(inner.y1, p.Y)
			}
		}
	}
	return inner, outer
}

// scaleToFit returns the focal scale at which r, centered on (cx, cy), touches the image border
// on each side, combined with pick.
func scaleToFit(r floatRect, cx, cy, nx, ny float64, pick func(a, b float64) float64) float64 {
	return pick(pick(cx/(cx-r.x0), cy/(cy-r.y0)), pick((nx-1-cx)/(r.x1-cx), (ny-1-cy)/(r.y1-cy)))
}

func validROI(inner floatRect, cc r2.Point, s float64) image.Rectangle {
	x0 := int(math.Ceil((inner.x0-cc.X)*s + cc.X))
	y0 := int(math.Ceil((inner.y0-cc.Y)*s + cc.Y))
	w := int(math.Floor((inner.x1 - inner.x0) * s))
	h := int(math.Floor((inner.y1 - inner.y0) * s))
	return image.Rect(x0, y0, x0+w, y0+h)
}
