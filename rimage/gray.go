package rimage

import (
	"image"
	"image/color"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Luma weights for 8-bit RGB to gray conversion.
const (
	lumaR = 0.299
	lumaG = 0.587
	lumaB = 0.114
)

// ToGrayFloat converts img to a height x width matrix of intensities in [0, 255].
func ToGrayFloat(img image.Image) *mat.Dense {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := mat.NewDense(h, w, nil)
	data := out.RawMatrix().Data

	switch src := img.(type) {
	case *image.Gray:
		for y := 0; y < h; y++ {
			row := src.Pix[(y)*src.Stride:]
			for x := 0; x < w; x++ {
				data[y*w+x] = float64(row[x])
			}
		}
	case *image.NRGBA:
		for y := 0; y < h; y++ {
			row := src.Pix[y*src.Stride:]
			for x := 0; x < w; x++ {
				p := row[4*x : 4*x+3]
				data[y*w+x] = lumaR*float64(p[0]) + lumaG*float64(p[1]) + lumaB*float64(p[2])
			}
		}
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
				data[y*w+x] = lumaR*float64(c.R) + lumaG*float64(c.G) + lumaB*float64(c.B)
			}
		}
	}
	return out
}

// GrayFloatToImage rounds and clamps m into an 8-bit gray image.
func GrayFloatToImage(m mat.Matrix) *image.Gray {
	h, w := m.Dims()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Pix[y*out.Stride+x] = clampUint8(m.At(y, x))
		}
	}
	return out
}

func clampUint8(v float64) uint8 {
	switch {
	case v <= 0 || math.IsNaN(v):
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(math.Round(v))
	}
}
