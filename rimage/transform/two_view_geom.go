package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// EssentialFromPose returns E = [t]x * R for the pose X_2 = R * X_1 + t.
func EssentialFromPose(r mat.Matrix, t r3.Vector) *mat.Dense {
	var e mat.Dense
	e.Mul(CrossProductMatrix(t), r)
	return &e
}

// FundamentalFromEssential returns F = K2^-T * E * K1^-1.
func FundamentalFromEssential(k1, k2, e mat.Matrix) (*mat.Dense, error) {
	var k1Inv, k2Inv mat.Dense
	if err := k1Inv.Inverse(k1); err != nil {
		return nil, errors.Wrap(err, "first camera matrix is singular")
	}
	if err := k2Inv.Inverse(k2); err != nil {
		return nil, errors.Wrap(err, "second camera matrix is singular")
	}
	var f mat.Dense
	f.Mul(k2Inv.T(), e)
	f.Mul(&f, &k1Inv)
	if s := f.At(2, 2); math.Abs(s) > 1e-12 {
		f.Scale(1/s, &f)
	}
	return &f, nil
}

// GetEssentialMatrixFromFundamental returns the essential matrix from the fundamental matrix and intrinsics parameters.
func GetEssentialMatrixFromFundamental(k1, k2, f mat.Matrix) (*mat.Dense, error) {
	var essMat, tmp mat.Dense
	tmp.Mul(k2.T(), f)
	essMat.Mul(&tmp, k1)
	// enforce rank 2
	mats := performSVD(&essMat)
	if mats == nil {
		return nil, errors.New("failed to factorize essential matrix")
	}
	S := Eye(3)
	S.Set(2, 2, 0)

	essMat.Mul(mats.U, S)
	essMat.Mul(&essMat, mats.VT)
	return &essMat, nil
}

// EpipolarDistance returns the distance of p2 to the epipolar line F * p1.
func EpipolarDistance(f mat.Matrix, p1, p2 r2.Point) float64 {
	a := f.At(0, 0)*p1.X + f.At(0, 1)*p1.Y + f.At(0, 2)
	b := f.At(1, 0)*p1.X + f.At(1, 1)*p1.Y + f.At(1, 2)
	c := f.At(2, 0)*p1.X + f.At(2, 1)*p1.Y + f.At(2, 2)
	return math.Abs(a*p2.X+b*p2.Y+c) / math.Hypot(a, b)
}

// ComputeFundamentalMatrixAllPoints compute the fundamental matrix from all points.
func ComputeFundamentalMatrixAllPoints(pts1, pts2 []r2.Point, normalize bool) (*mat.Dense, error) {
	if len(pts1) != len(pts2) {
		return nil, errors.New("sets of points pts1 and pts2 must have the same number of elements")
	}
	if len(pts1) < 8 {
		return nil, errors.New("sets of points must have at least 8 elements")
	}
	nPoints := len(pts1)

	var points1, points2 []r2.Point
	var T1, T2 *mat.Dense
	if normalize {
		points1, T1 = normalizePoints(pts1)
		points2, T2 = normalizePoints(pts2)
	} else {
		points1 = append([]r2.Point(nil), pts1...)
		points2 = append([]r2.Point(nil), pts2...)
		T1 = Eye(3)
		T2 = Eye(3)
	}

	m := mat.NewDense(nPoints, 9, nil)
	for i := range points1 {
		v1 := points1[i]
		v2 := points2[i]
		m.SetRow(i, []float64{
			v2.X * v1.X, v2.X * v1.Y, v2.X,
			v2.Y * v1.X, v2.Y * v1.Y, v2.Y,
			v1.X, v1.Y, 1,
		})
	}

	f := nullVector(m)
	if f == nil {
		return nil, errors.New("failed to factorize fundamental system")
	}
	F := mat.NewDense(3, 3, f)

	// enforce rank 2 of F
	mats2 := performSVD(F)
	S := mats2.S
	S.Set(2, 2, 0)
	Fhat := mat.NewDense(3, 3, nil)
	Fhat.Mul(mats2.U, S)
	F.Mul(Fhat, mats2.VT)

	// rescale F: T2^T @ F @ T1
	F.Mul(T2.T(), F)
	F.Mul(F, T1)
	F.Scale(1/F.At(2, 2), F)

	return F, nil
}

// normalizePoints normalizes points as described in Multiple View Geometry, Alg 11.1.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense) {
	nPoints := len(pts)
	mu := r2.Point{X: 0, Y: 0}
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1. / float64(nPoints))

	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / float64(nPoints)
	}
	scale := 1.
	if d > 0 {
		scale = math.Sqrt(2) / d
	}
	T := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	})
	pointsTransformed := make([]r2.Point, nPoints)
	for i := range pointsTransformed {
		pointsTransformed[i] = pts[i].Sub(mu).Mul(scale)
	}
	return pointsTransformed, T
}

// TriangulatePoint computes the 3D point seen at x1 through projection p1 and at x2 through p2
// with the linear method.
func TriangulatePoint(p1, p2 mat.Matrix, x1, x2 r2.Point) (r3.Vector, error) {
	p1Cross := CrossProductMatrix(r3.Vector{X: x1.X, Y: x1.Y, Z: 1})
	p2Cross := CrossProductMatrix(r3.Vector{X: x2.X, Y: x2.Y, Z: 1})
	var a1, a2, a mat.Dense
	a1.Mul(p1Cross, p1)
	a2.Mul(p2Cross, p2)
	a.Stack(&a1, &a2)

	x := nullVector(&a)
	if x == nil {
		return r3.Vector{}, errors.New("failed to factorize triangulation system")
	}
	if math.Abs(x[3]) < 1e-15 {
		return r3.Vector{}, errors.New("point at infinity")
	}
	return r3.Vector{X: x[0] / x[3], Y: x[1] / x[3], Z: x[2] / x[3]}, nil
}
