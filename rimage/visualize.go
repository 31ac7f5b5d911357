package rimage

import (
	"image"
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/mat"
)

// ValueRange returns the min and max of the entries of m strictly greater than floor. ok is false
// when there are none.
func ValueRange(m mat.Matrix, floor float64) (lo, hi float64, ok bool) {
	h, w := m.Dims()
	lo, hi = math.Inf(1), math.Inf(-1)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := m.At(y, x)
			if v <= floor || math.IsNaN(v) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
			ok = true
		}
	}
	return lo, hi, ok
}

// NormalizeToGray stretches the entries of m above floor to [0, 255]; the rest are black.
func NormalizeToGray(m mat.Matrix, floor float64) *image.Gray {
	h, w := m.Dims()
	out := image.NewGray(image.Rect(0, 0, w, h))
	lo, hi, ok := ValueRange(m, floor)
	if !ok {
		return out
	}
	scale := 0.
	if hi > lo {
		scale = 255 / (hi - lo)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := m.At(y, x)
			if v <= floor {
				continue
			}
			out.Pix[y*out.Stride+x] = clampUint8((v - lo) * scale)
		}
	}
	return out
}

// NormalizeToColor maps the entries of m above floor onto a blue (far) to red (near) hue ramp;
// the rest are black.
func NormalizeToColor(m mat.Matrix, floor float64) *image.NRGBA {
	h, w := m.Dims()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	lo, hi, ok := ValueRange(m, floor)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := m.At(y, x)
			if !ok || v <= floor {
				out.SetNRGBA(x, y, color.NRGBA{0, 0, 0, 255})
				continue
			}
			t := 0.
			if hi > lo {
				t = (v - lo) / (hi - lo)
			}
			r, g, b := colorful.Hsv(240*(1-t), 1, 1).Clamped().RGB255()
			out.SetNRGBA(x, y, color.NRGBA{r, g, b, 255})
		}
	}
	return out
}
