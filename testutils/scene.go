package testutils

import (
	"image"
	"image/color"
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/stereocam/rimage"
)

// latticeValue hashes an integer lattice point to [0, 1).
func latticeValue(ix, iy, octave int) float64 {
	h := uint32(ix)*0x8da6b343 ^ uint32(iy)*0xd8163841 ^ uint32(octave)*0xcb1ab31f
	h ^= h >> 13
	h *= 0x5bd1e995
	h ^= h >> 15
	return float64(h&0xffffff) / float64(1<<24)
}

func smoothstep(t float64) float64 {
	return t * t * (3 - 2*t)
}

// Texture is deterministic multi-octave value noise in [0, 255]. Its features are about cell
// units wide at the coarsest octave, and it is continuous so resampled views match.
func Texture(x, y, cell float64) float64 {
	var v, norm float64
	amp := 1.
	for o := 0; o < 3; o++ {
		fx, fy := x/cell, y/cell
		ix, iy := int(math.Floor(fx)), int(math.Floor(fy))
		tx, ty := smoothstep(fx-float64(ix)), smoothstep(fy-float64(iy))
		a := latticeValue(ix, iy, o)*(1-tx) + latticeValue(ix+1, iy, o)*tx
		b := latticeValue(ix, iy+1, o)*(1-tx) + latticeValue(ix+1, iy+1, o)*tx
		v += amp * (a*(1-ty) + b*ty)
		norm += amp
		amp /= 2
		cell /= 2
	}
	return 255 * v / norm
}

// PlaneShader shades the plane through p0 with normal n using Texture over left camera frame
// X and Y coordinates.
func PlaneShader(p0, n r3.Vector, cell float64) func(origin, dir r3.Vector) float64 {
	return func(origin, dir r3.Vector) float64 {
		hit, ok := intersectPlane(origin, dir, p0, n)
		if !ok {
			return BackgroundLevel
		}
		return Texture(hit.X, hit.Y, cell)
	}
}

// RenderRectifiedPlanePair renders an already rectified view of a fronto-parallel textured plane
// with a constant disparity: the right image at x shows what the left image shows at x+d.
// Colors are tinted so that red and blue differ.
func RenderRectifiedPlanePair(size image.Point, disparity float64) rimage.ImagePair {
	left := image.NewNRGBA(image.Rect(0, 0, size.X, size.Y))
	right := image.NewNRGBA(image.Rect(0, 0, size.X, size.Y))
	tint := func(v float64) color.NRGBA {
		return color.NRGBA{R: uint8(v), G: uint8(0.8 * v), B: uint8(0.5 * v), A: 255}
	}
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			left.SetNRGBA(x, y, tint(Texture(float64(x), float64(y), 6)))
			right.SetNRGBA(x, y, tint(Texture(float64(x)+disparity, float64(y), 6)))
		}
	}
	return rimage.ImagePair{Left: left, Right: right}
}
