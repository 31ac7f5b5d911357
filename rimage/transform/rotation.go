package transform

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Rodrigues converts an axis-angle rotation vector, whose norm is the angle in radians, to a 3x3
// rotation matrix.
func Rodrigues(rvec r3.Vector) *mat.Dense {
	theta := rvec.Norm()
	if theta < 1e-12 {
		// First order expansion keeps the map smooth around zero.
		r := Eye(3)
		r.Add(r, CrossProductMatrix(rvec))
		return NearestRotation(r)
	}
	axis := rvec.Mul(1 / theta)
	c, s := math.Cos(theta), math.Sin(theta)
	k := CrossProductMatrix(axis)

	var kk mat.Dense
	kk.Mul(k, k)

	r := Eye(3)
	var tmp mat.Dense
	tmp.Scale(s, k)
	r.Add(r, &tmp)
	tmp.Scale(1-c, &kk)
	r.Add(r, &tmp)
	return r
}

// RotationToRodrigues converts a 3x3 rotation matrix to its axis-angle vector.
func RotationToRodrigues(r mat.Matrix) r3.Vector {
	rot := NearestRotation(r)
	trace := rot.At(0, 0) + rot.At(1, 1) + rot.At(2, 2)
	cosTheta := math.Max(-1, math.Min(1, (trace-1)/2))
	theta := math.Acos(cosTheta)
	sinAxis := r3.Vector{
		X: rot.At(2, 1) - rot.At(1, 2),
		Y: rot.At(0, 2) - rot.At(2, 0),
		Z: rot.At(1, 0) - rot.At(0, 1),
	}

	switch {
	case theta < 1e-12:
		return r3.Vector{}
	case math.Pi-theta < 1e-6:
		// sin(theta) vanishes; recover the axis from the symmetric part R = 2aa^T - I.
		axis := r3.Vector{
			X: math.Sqrt(math.Max(0, (rot.At(0, 0)+1)/2)),
			Y: math.Sqrt(math.Max(0, (rot.At(1, 1)+1)/2)),
			Z: math.Sqrt(math.Max(0, (rot.At(2, 2)+1)/2)),
		}
		switch {
		case axis.X >= axis.Y && axis.X >= axis.Z:
			axis.Y = math.Copysign(axis.Y, rot.At(0, 1))
			axis.Z = math.Copysign(axis.Z, rot.At(0, 2))
		case axis.Y >= axis.Z:
			axis.X = math.Copysign(axis.X, rot.At(0, 1))
			axis.Z = math.Copysign(axis.Z, rot.At(1, 2))
		default:
			axis.X = math.Copysign(axis.X, rot.At(0, 2))
			axis.Y = math.Copysign(axis.Y, rot.At(1, 2))
		}
		return axis.Normalize().Mul(theta)
	default:
		return sinAxis.Mul(theta / (2 * math.Sin(theta)))
	}
}
