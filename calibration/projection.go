package calibration

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// Parameter counts of the packed optimization vectors.
const (
	numIntrinsicParams  = 4
	numDistortionParams = 5
	numPoseParams       = 6
)

// lens is the unpacked camera model used inside residual evaluation: fx, fy, cx, cy and
// distortion in (k1, k2, p1, p2, k3) order.
type lens struct {
	fx, fy, cx, cy     float64
	k1, k2, p1, p2, k3 float64
}

func lensFromParams(p []float64) lens {
	return lens{
		fx: p[0], fy: p[1], cx: p[2], cy: p[3],
		k1: p[4], k2: p[5], p1: p[6], p2: p[7], k3: p[8],
	}
}

func (l lens) params() []float64 {
	return []float64{l.fx, l.fy, l.cx, l.cy, l.k1, l.k2, l.p1, l.p2, l.k3}
}

// project maps a camera frame point to a distorted pixel.
func (l lens) project(p r3.Vector) r2.Point {
	return l.projectNormalized(p.X/p.Z, p.Y/p.Z)
}

// projectNormalized distorts the normalized image point (x, y) and maps it to pixels.
func (l lens) projectNormalized(x, y float64) r2.Point {
	rsq := x*x + y*y
	radial := 1 + l.k1*rsq + l.k2*rsq*rsq + l.k3*rsq*rsq*rsq
	xd := x*radial + 2*l.p1*x*y + l.p2*(rsq+2*x*x)
	yd := y*radial + l.p1*(rsq+2*y*y) + 2*l.p2*x*y
	return r2.Point{X: l.fx*xd + l.cx, Y: l.fy*yd + l.cy}
}

// rigid is a rotation in row-major order plus a translation.
type rigid struct {
	r [9]float64
	t r3.Vector
}

// rigidFromParams unpacks an axis-angle rotation and a translation.
func rigidFromParams(p []float64) rigid {
	return rigid{r: rodriguesArray(r3.Vector{X: p[0], Y: p[1], Z: p[2]}), t: r3.Vector{X: p[3], Y: p[4], Z: p[5]}}
}

func (g rigid) apply(p r3.Vector) r3.Vector {
	return r3.Vector{
		X: g.r[0]*p.X + g.r[1]*p.Y + g.r[2]*p.Z + g.t.X,
		Y: g.r[3]*p.X + g.r[4]*p.Y + g.r[5]*p.Z + g.t.Y,
		Z: g.r[6]*p.X + g.r[7]*p.Y + g.r[8]*p.Z + g.t.Z,
	}
}

// rodriguesArray is transform.Rodrigues without allocation, for the inner solver loop.
func rodriguesArray(v r3.Vector) [9]float64 {
	theta := v.Norm()
	if theta < 1e-12 {
		return [9]float64{1, -v.Z, v.Y, v.Z, 1, -v.X, -v.Y, v.X, 1}
	}
	kx, ky, kz := v.X/theta, v.Y/theta, v.Z/theta
	c, s := math.Cos(theta), math.Sin(theta)
	t := 1 - c
	return [9]float64{
		c + kx*kx*t, kx*ky*t - kz*s, kx*kz*t + ky*s,
		ky*kx*t + kz*s, c + ky*ky*t, ky*kz*t - kx*s,
		kz*kx*t - ky*s, kz*ky*t + kx*s, c + kz*kz*t,
	}
}
