package rimage

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

var font *truetype.Font

// init sets up the fonts we want to use.
func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Font returns the font we use for drawing.
func Font() *truetype.Font {
	return font
}

// DrawString writes a string to the given context at a particular point.
func DrawString(dc *gg.Context, text string, p image.Point, c color.Color, size float64) {
	dc.SetFontFace(truetype.NewFace(Font(), &truetype.Options{Size: size}))
	dc.SetColor(c)
	dc.DrawString(text, float64(p.X), float64(p.Y))
}

// DrawCross draws a plus shaped marker centered on (x, y).
func DrawCross(dc *gg.Context, x, y, radius float64, c color.Color, width float64) {
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.DrawLine(x-radius, y, x+radius, y)
	dc.DrawLine(x, y-radius, x, y+radius)
	dc.Stroke()
}

// SideBySide places left and right next to each other on one canvas.
func SideBySide(pair ImagePair) *image.NRGBA {
	lb, rb := pair.Left.Bounds(), pair.Right.Bounds()
	dc := gg.NewContext(lb.Dx()+rb.Dx(), max(lb.Dy(), rb.Dy()))
	dc.DrawImage(pair.Left, 0, 0)
	dc.DrawImage(pair.Right, lb.Dx(), 0)
	return toNRGBA(dc.Image())
}
