package calibration

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocam/rimage/transform"
)

// StereoCalibrate solves for the rotation R and translation T with X_right = R * X_left + T,
// holding both cameras' intrinsics fixed, and derives the essential and fundamental matrices.
// The initial guess is the per-component median of the relative poses implied by the single
// camera calibrations; the left board poses are refined together with R and T.
func StereoCalibrate(
	objectPts [][]r3.Vector,
	leftPts, rightPts [][]r2.Point,
	left, right *CameraCalibration,
	size image.Point,
) (*CalibrationData, error) {
	total, err := checkViews(objectPts, leftPts, rightPts)
	if err != nil {
		return nil, err
	}
	if len(left.Poses) != len(objectPts) || len(right.Poses) != len(objectPts) {
		return nil, errors.New("single camera calibrations must come from the same views")
	}

	relRot := make([][]float64, 3)
	relTrans := make([][]float64, 3)
	for v := range objectPts {
		rl := transform.Rodrigues(left.Poses[v].Rotation)
		rr := transform.Rodrigues(right.Poses[v].Rotation)
		var rel mat.Dense
		rel.Mul(rr, rl.T())
		rvec := transform.RotationToRodrigues(&rel)
		tvec := right.Poses[v].Translation.Sub(transform.MulVec(&rel, left.Poses[v].Translation))
		for i, c := range []float64{rvec.X, rvec.Y, rvec.Z} {
			relRot[i] = append(relRot[i], c)
		}
		for i, c := range []float64{tvec.X, tvec.Y, tvec.Z} {
			relTrans[i] = append(relTrans[i], c)
		}
	}
	params := make([]float64, 0, numPoseParams*(len(objectPts)+1))
	for _, comps := range append(relRot, relTrans...) {
		m, err := stats.Median(comps)
		if err != nil {
			return nil, err
		}
		params = append(params, m)
	}
	for _, p := range left.Poses {
		params = append(params, p.params()...)
	}

	lensL := lensFromMatrix(left.CameraMatrix, left.Distortion)
	lensR := lensFromMatrix(right.CameraMatrix, right.Distortion)
	residuals := func(dst, p []float64) {
		rel := rigidFromParams(p)
		off := 0
		for v, obj := range objectPts {
			board := rigidFromParams(p[numPoseParams*(v+1):])
			for k, x := range obj {
				xl := board.apply(x)
				pl := lensL.project(xl)
				pr := lensR.project(rel.apply(xl))
				i := 4 * (off + k)
				dst[i] = pl.X - leftPts[v][k].X
				dst[i+1] = pl.Y - leftPts[v][k].Y
				dst[i+2] = pr.X - rightPts[v][k].X
				dst[i+3] = pr.Y - rightPts[v][k].Y
			}
			off += len(obj)
		}
	}
	res, err := levenbergMarquardt(residuals, params, 4*total, defaultLMSettings)
	if err != nil {
		return nil, err
	}

	rot := transform.Rodrigues(r3.Vector{X: res.Params[0], Y: res.Params[1], Z: res.Params[2]})
	trans := r3.Vector{X: res.Params[3], Y: res.Params[4], Z: res.Params[5]}
	essential := transform.EssentialFromPose(rot, trans)
	fundamental, err := transform.FundamentalFromEssential(left.CameraMatrix, right.CameraMatrix, essential)
	if err != nil {
		return nil, err
	}
	return &CalibrationData{
		ImageSize:         size,
		ReprojectionError: math.Sqrt(res.SumOfSquares() / float64(2*total)),
		CameraMatrixLeft:  mat.DenseCopyOf(left.CameraMatrix),
		DistCoeffsLeft:    append([]float64(nil), left.Distortion...),
		CameraMatrixRight: mat.DenseCopyOf(right.CameraMatrix),
		DistCoeffsRight:   append([]float64(nil), right.Distortion...),
		RotationMatrix:    rot,
		TranslationVector: trans,
		EssentialMatrix:   essential,
		FundamentalMatrix: fundamental,
	}, nil
}

func lensFromMatrix(k mat.Matrix, dist []float64) lens {
	l := lens{fx: k.At(0, 0), fy: k.At(1, 1), cx: k.At(0, 2), cy: k.At(1, 2)}
	coeffs := make([]float64, numDistortionParams)
	copy(coeffs, dist)
	l.k1, l.k2, l.p1, l.p2, l.k3 = coeffs[0], coeffs[1], coeffs[2], coeffs[3], coeffs[4]
	return l
}
