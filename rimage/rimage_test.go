package rimage

import (
	"image"
	"image/color"
	"math"
	"path/filepath"
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func checkerImage(w, h, square int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(30)
			if (x/square+y/square)%2 == 0 {
				v = 220
			}
			img.SetNRGBA(x, y, color.NRGBA{v, uint8(x), uint8(y), 255})
		}
	}
	return img
}

func TestToGrayFloat(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{255, 255, 255, 255})
	img.SetNRGBA(1, 0, color.NRGBA{100, 0, 0, 255})
	gray := ToGrayFloat(img)
	test.That(t, gray.At(0, 0), test.ShouldAlmostEqual, 255, 1e-9)
	test.That(t, gray.At(0, 1), test.ShouldAlmostEqual, 29.9, 1e-9)

	// Non NRGBA inputs go through the generic path.
	rgba := image.NewRGBA(image.Rect(0, 0, 2, 1))
	rgba.Set(0, 0, color.RGBA{255, 255, 255, 255})
	rgba.Set(1, 0, color.RGBA{100, 0, 0, 255})
	test.That(t, mat.EqualApprox(ToGrayFloat(rgba), gray, 1e-9), test.ShouldBeTrue)

	back := GrayFloatToImage(gray)
	test.That(t, back.GrayAt(0, 0).Y, test.ShouldEqual, uint8(255))
	test.That(t, back.GrayAt(1, 0).Y, test.ShouldEqual, uint8(30))
}

func TestSwapRB(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.SetNRGBA(0, 0, color.NRGBA{10, 20, 30, 255})
	swapped := SwapRB(img)
	test.That(t, swapped.NRGBAAt(0, 0), test.ShouldResemble, color.NRGBA{30, 20, 10, 255})
	test.That(t, SwapRB(swapped).NRGBAAt(0, 0), test.ShouldResemble, color.NRGBA{10, 20, 30, 255})
}

func TestImagePairValidate(t *testing.T) {
	a := image.NewGray(image.Rect(0, 0, 4, 3))
	b := image.NewGray(image.Rect(0, 0, 4, 4))
	test.That(t, ImagePair{a, a}.Validate(), test.ShouldBeNil)
	test.That(t, ImagePair{a, b}.Validate(), test.ShouldNotBeNil)
	test.That(t, ImagePair{a, nil}.Validate(), test.ShouldNotBeNil)
	test.That(t, ImagePair{a, a}.Size(), test.ShouldResemble, image.Point{4, 3})
}

func TestRemap(t *testing.T) {
	img := checkerImage(16, 12, 4)
	h, w := 12, 16
	mapX, mapY := mat.NewDense(h, w, nil), mat.NewDense(h, w, nil)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			mapX.Set(y, x, float64(x))
			mapY.Set(y, x, float64(y))
		}
	}
	identity := Remap(img, mapX, mapY)
	test.That(t, identity.Pix, test.ShouldResemble, img.Pix)

	// Shift right by one pixel: column 0 samples outside the source and is black.
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			mapX.Set(y, x, float64(x-1))
		}
	}
	shifted := Remap(img, mapX, mapY)
	test.That(t, shifted.NRGBAAt(5, 5), test.ShouldResemble, img.NRGBAAt(4, 5))
	test.That(t, shifted.NRGBAAt(0, 5).A, test.ShouldEqual, uint8(0))

	mask := SourceMask(mapX, mapY, image.Pt(w, h))
	test.That(t, mask, test.ShouldHaveLength, w*h)
	test.That(t, mask[5*w], test.ShouldBeFalse)
	test.That(t, mask[5*w+1], test.ShouldBeTrue)
	test.That(t, mask[5*w+w-1], test.ShouldBeTrue)
	mapY.Set(3, 3, float64(h-1)+0.5)
	mapX.Set(4, 4, math.NaN())
	mask = SourceMask(mapX, mapY, image.Pt(w, h))
	test.That(t, mask[3*w+3], test.ShouldBeFalse)
	test.That(t, mask[4*w+4], test.ShouldBeFalse)

	// Half pixel samples average their neighbors.
	plane := mat.NewDense(1, 2, []float64{10, 20})
	half := RemapGrayFloat(plane, mat.NewDense(1, 1, []float64{0.5}), mat.NewDense(1, 1, []float64{0}))
	test.That(t, half.At(0, 0), test.ShouldAlmostEqual, 15, 1e-9)
}

func TestConvolveSobel(t *testing.T) {
	ramp := mat.NewDense(5, 6, nil)
	for y := 0; y < 5; y++ {
		for x := 0; x < 6; x++ {
			ramp.Set(y, x, float64(3*x))
		}
	}
	sobelX, sobelY := GetSobelX(), GetSobelY()
	gx := ConvolveGrayFloat64(ramp, &sobelX)
	gy := ConvolveGrayFloat64(ramp, &sobelY)
	test.That(t, gx.At(2, 2), test.ShouldAlmostEqual, 24, 1e-9)
	test.That(t, gy.At(2, 2), test.ShouldAlmostEqual, 0, 1e-9)
	// Replicated border halves the central difference on the edge.
	test.That(t, gx.At(2, 0), test.ShouldAlmostEqual, 12, 1e-9)

	box := GetBox(3)
	smoothed := ConvolveGrayFloat64(ramp, &box)
	test.That(t, smoothed.At(2, 2), test.ShouldAlmostEqual, 6, 1e-9)
}

func TestNormalize(t *testing.T) {
	m := mat.NewDense(1, 4, []float64{-1, 2, 4, 6})
	gray := NormalizeToGray(m, -1)
	test.That(t, gray.Pix, test.ShouldResemble, []uint8{0, 0, 128, 255})

	colored := NormalizeToColor(m, -1)
	test.That(t, colored.NRGBAAt(0, 0), test.ShouldResemble, color.NRGBA{0, 0, 0, 255})
	test.That(t, colored.NRGBAAt(1, 0).B, test.ShouldEqual, uint8(255))
	test.That(t, colored.NRGBAAt(3, 0).R, test.ShouldEqual, uint8(255))

	_, _, ok := ValueRange(mat.NewDense(1, 1, []float64{-1}), -1)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestImageFileRoundTrip(t *testing.T) {
	img := checkerImage(8, 6, 2)
	for _, name := range []string{"frame.png", "frame.bmp", "frame.tiff"} {
		path := filepath.Join(t.TempDir(), name)
		test.That(t, IsImageFile(path), test.ShouldBeTrue)
		test.That(t, WriteImageToFile(path, img), test.ShouldBeNil)
		read, err := ReadImageFromFile(path)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, read.Bounds(), test.ShouldResemble, img.Bounds())
		r, g, b, _ := read.At(3, 4).RGBA()
		er, eg, eb, _ := img.At(3, 4).RGBA()
		test.That(t, []uint32{r >> 8, g >> 8, b >> 8}, test.ShouldResemble, []uint32{er >> 8, eg >> 8, eb >> 8})
	}
	test.That(t, IsImageFile("notes.txt"), test.ShouldBeFalse)

	_, err := ReadImageFromFile(filepath.Join(t.TempDir(), "missing.png"))
	test.That(t, err, test.ShouldNotBeNil)

	side := SideBySide(ImagePair{img, img})
	test.That(t, side.Bounds().Size(), test.ShouldResemble, image.Point{16, 6})
}
