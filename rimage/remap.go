package rimage

import (
	"image"
	"math"

	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocam/utils"
)

// Remap samples img at (mapX(y, x), mapY(y, x)) for every output pixel using bilinear
// interpolation. Samples falling outside img are black. The output has the map dimensions.
func Remap(img image.Image, mapX, mapY *mat.Dense) *image.NRGBA {
	h, w := mapX.Dims()
	src := toNRGBA(img)
	sw, sh := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	mx, my := mapX.RawMatrix(), mapY.RawMatrix()

	utils.ParallelForEachRow(h, func(y int) {
		for x := 0; x < w; x++ {
			fx, fy := mx.Data[y*mx.Stride+x], my.Data[y*my.Stride+x]
			dst := out.Pix[y*out.Stride+4*x:]
			x0, y0 := int(math.Floor(fx)), int(math.Floor(fy))
			if x0 < -1 || y0 < -1 || x0 >= sw || y0 >= sh || math.IsNaN(fx) || math.IsNaN(fy) {
				continue
			}
			ax, ay := fx-float64(x0), fy-float64(y0)
			var acc [4]float64
			for _, tap := range [4]struct {
				dx, dy int
				wgt    float64
			}{
				{0, 0, (1 - ax) * (1 - ay)},
				{1, 0, ax * (1 - ay)},
				{0, 1, (1 - ax) * ay},
				{1, 1, ax * ay},
			} {
				sx, sy := x0+tap.dx, y0+tap.dy
				if sx < 0 || sy < 0 || sx >= sw || sy >= sh {
					continue
				}
				p := src.Pix[sy*src.Stride+4*sx:]
				for c := 0; c < 4; c++ {
					acc[c] += tap.wgt * float64(p[c])
				}
			}
			for c := 0; c < 4; c++ {
				dst[c] = clampUint8(acc[c])
			}
		}
	})
	return out
}

// RemapGrayFloat is Remap for a single channel float plane.
func RemapGrayFloat(m *mat.Dense, mapX, mapY *mat.Dense) *mat.Dense {
	h, w := mapX.Dims()
	sh, sw := m.Dims()
	out := mat.NewDense(h, w, nil)
	src := m.RawMatrix()
	dst := out.RawMatrix().Data
	mx, my := mapX.RawMatrix(), mapY.RawMatrix()

	utils.ParallelForEachRow(h, func(y int) {
		for x := 0; x < w; x++ {
			fx, fy := mx.Data[y*mx.Stride+x], my.Data[y*my.Stride+x]
			dst[y*w+x] = BilinearAt(src.Data, src.Stride, sw, sh, fx, fy)
		}
	})
	return out
}

// BilinearAt interpolates a row-major plane at (fx, fy) with zero outside the plane.
func BilinearAt(data []float64, stride, w, h int, fx, fy float64) float64 {
	if math.IsNaN(fx) || math.IsNaN(fy) {
		return 0
	}
	x0, y0 := int(math.Floor(fx)), int(math.Floor(fy))
	ax, ay := fx-float64(x0), fy-float64(y0)
	at := func(x, y int) float64 {
		if x < 0 || y < 0 || x >= w || y >= h {
			return 0
		}
		return data[y*stride+x]
	}
	return (1-ay)*((1-ax)*at(x0, y0)+ax*at(x0+1, y0)) + ay*((1-ax)*at(x0, y0+1)+ax*at(x0+1, y0+1))
}

// SourceMask reports, for every output pixel of Remap with these maps, whether its sample lies
// inside a source image of size src, so that no black fill enters it.
func SourceMask(mapX, mapY *mat.Dense, src image.Point) []bool {
	h, w := mapX.Dims()
	mask := make([]bool, w*h)
	mx, my := mapX.RawMatrix(), mapY.RawMatrix()
	maxX, maxY := float64(src.X-1), float64(src.Y-1)
	utils.ParallelForEachRow(h, func(y int) {
		for x := 0; x < w; x++ {
			fx, fy := mx.Data[y*mx.Stride+x], my.Data[y*my.Stride+x]
			// NaN fails every comparison.
			mask[y*w+x] = fx >= 0 && fy >= 0 && fx <= maxX && fy <= maxY
		}
	})
	return mask
}
