// Package rimage holds the image primitives of the stereo pipeline: frame pairs, file I/O,
// grayscale float planes, convolution, remapping and visualization.
package rimage

import (
	"image"

	"github.com/pkg/errors"
)

// ChannelOrder describes how a frame source lays out color channels.
type ChannelOrder int

const (
	// RGB frames store red in the first channel.
	RGB ChannelOrder = iota
	// BGR frames store blue in the first channel, as many camera stacks deliver them.
	BGR
)

func (o ChannelOrder) String() string {
	if o == BGR {
		return "bgr"
	}
	return "rgb"
}

// ImagePair is a synchronized left/right frame pair. Both frames share dimensions.
type ImagePair struct {
	Left  image.Image
	Right image.Image
}

// Size returns the dimensions shared by both frames.
func (p ImagePair) Size() image.Point {
	return p.Left.Bounds().Size()
}

// Validate ensures both frames are present and equally sized.
func (p ImagePair) Validate() error {
	if p.Left == nil || p.Right == nil {
		return errors.New("frame pair is missing a frame")
	}
	if !SameImgSize(p.Left, p.Right) {
		return errors.Errorf("frame sizes differ: left %v, right %v", p.Left.Bounds().Size(), p.Right.Bounds().Size())
	}
	return nil
}

// SameImgSize compares image 1 and image 2 to see if they are the same size.
func SameImgSize(g1, g2 image.Image) bool {
	return g1.Bounds().Size() == g2.Bounds().Size()
}

// SwapRB returns a copy of img with its first and third channels exchanged. It converts between
// RGB and BGR orderings.
func SwapRB(img image.Image) *image.NRGBA {
	bounds := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	src := toNRGBA(img)
	for i := 0; i < len(out.Pix); i += 4 {
		out.Pix[i+0] = src.Pix[i+2]
		out.Pix[i+1] = src.Pix[i+1]
		out.Pix[i+2] = src.Pix[i+0]
		out.Pix[i+3] = src.Pix[i+3]
	}
	return out
}

// toNRGBA returns img as a zero-origin *image.NRGBA, copying only when needed.
func toNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Rect.Min == (image.Point{}) &&
		nrgba.Stride == 4*nrgba.Rect.Dx() {
		return nrgba
	}
	bounds := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			out.Set(x, y, img.At(bounds.Min.X+x, bounds.Min.Y+y))
		}
	}
	return out
}
