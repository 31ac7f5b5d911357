package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Plane is a plane n·p + Offset = 0 with a unit normal, together with the point it was
// centered on.
type Plane struct {
	Normal r3.Vector
	Center r3.Vector
	Offset float64
}

// NewPlane returns the plane through center with the given normal. The normal is normalized.
func NewPlane(normal, center r3.Vector) Plane {
	n := normal.Normalize()
	return Plane{Normal: n, Center: center, Offset: -n.Dot(center)}
}

// Equation returns the coefficients of the plane equation.
func (p Plane) Equation() [4]float64 {
	return [4]float64{p.Normal.X, p.Normal.Y, p.Normal.Z, p.Offset}
}

// Distance is the signed distance of pt to the plane.
func (p Plane) Distance(pt r3.Vector) float64 {
	return p.Normal.Dot(pt) + p.Offset
}

// Intersect returns where the line through p0 and p1 crosses the plane, or nil if the line is
// parallel to it.
func (p Plane) Intersect(p0, p1 r3.Vector) *r3.Vector {
	line := p1.Sub(p0)
	denom := p.Normal.Dot(line)
	if math.Abs(denom) < 1e-12 {
		return nil
	}
	t := -p.Distance(p0) / denom
	out := p0.Add(line.Mul(t))
	return &out
}

// FitPlane fits a plane to the positions of cloud in the total least squares sense and returns
// it along with the RMS of the point distances to it. The normal points towards the origin side
// of the plane it is seen from, that is its z component is not positive.
func FitPlane(cloud PointCloud) (Plane, float64, error) {
	pts := Points(cloud)
	if len(pts) < 3 {
		return Plane{}, 0, errors.Errorf("need at least 3 points to fit a plane, got %d", len(pts))
	}
	xs, ys, zs := make([]float64, len(pts)), make([]float64, len(pts)), make([]float64, len(pts))
	for i, p := range pts {
		xs[i], ys[i], zs[i] = p.X, p.Y, p.Z
	}
	center := r3.Vector{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil), Z: stat.Mean(zs, nil)}

	centered := mat.NewDense(len(pts), 3, nil)
	for i, p := range pts {
		d := p.Sub(center)
		centered.SetRow(i, []float64{d.X, d.Y, d.Z})
	}
	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThinV); !ok {
		return Plane{}, 0, errors.New("plane fit did not converge")
	}
	var v mat.Dense
	svd.VTo(&v)
	// Singular values are sorted in decreasing order.
	normal := r3.Vector{X: v.At(0, 2), Y: v.At(1, 2), Z: v.At(2, 2)}
	if normal.Z > 0 {
		normal = normal.Mul(-1)
	}
	plane := NewPlane(normal, center)

	var sumSq float64
	for _, p := range pts {
		d := plane.Distance(p)
		sumSq += d * d
	}
	return plane, math.Sqrt(sumSq / float64(len(pts))), nil
}
