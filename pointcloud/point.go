package pointcloud

import (
	"image"
	"image/color"
)

// Data is what a point carries besides its position.
type Data interface {
	// HasColor returns whether the point is colored.
	HasColor() bool

	// RGB255 returns the color components. Uncolored points are black.
	RGB255() (uint8, uint8, uint8)

	// Color returns the color of the point.
	Color() color.Color

	// HasPixel returns whether the point knows the image pixel it was reprojected from.
	HasPixel() bool

	// Pixel returns the source pixel in rectified image coordinates.
	Pixel() image.Point
}

type pointData struct {
	c        color.NRGBA
	hasColor bool

	px       image.Point
	hasPixel bool
}

// NewBasicData returns data for a point known only by its position.
func NewBasicData() Data {
	return &pointData{}
}

// NewColoredData returns data for a colored point.
func NewColoredData(c color.NRGBA) Data {
	return &pointData{c: c, hasColor: true}
}

// NewPixelData returns data for a colored point reprojected from pixel px.
func NewPixelData(c color.NRGBA, px image.Point) Data {
	return &pointData{c: c, hasColor: true, px: px, hasPixel: true}
}

func (d *pointData) HasColor() bool {
	return d.hasColor
}

func (d *pointData) RGB255() (uint8, uint8, uint8) {
	return d.c.R, d.c.G, d.c.B
}

func (d *pointData) Color() color.Color {
	return d.c
}

func (d *pointData) HasPixel() bool {
	return d.hasPixel
}

func (d *pointData) Pixel() image.Point {
	return d.px
}
