package chessboard

import (
	"image"
	"image/color"
	"strconv"

	"github.com/fogleman/gg"
	"github.com/lucasb-eyer/go-colorful"

	"go.viam.com/stereocam/rimage"
)

// DrawCorners overlays a detected board on img: one color per row, consecutive corners joined,
// and the row index written next to the first corner of each row.
func DrawCorners(img image.Image, pattern Pattern, corners CornerSet) image.Image {
	dc := gg.NewContextForImage(img)
	for r := 0; r < pattern.Rows; r++ {
		hue := 300 * float64(r) / float64(max(pattern.Rows-1, 1))
		c := colorful.Hsv(hue, 1, 1)
		dc.SetColor(c)
		dc.SetLineWidth(1)
		for col := 0; col < pattern.Cols; col++ {
			p := corners.At(pattern, r, col)
			if col == 0 {
				dc.MoveTo(p.X, p.Y)
			} else {
				dc.LineTo(p.X, p.Y)
			}
		}
		dc.Stroke()
		for col := 0; col < pattern.Cols; col++ {
			p := corners.At(pattern, r, col)
			rimage.DrawCross(dc, p.X, p.Y, 4, c, 1.5)
		}
		first := corners.At(pattern, r, 0)
		rimage.DrawString(dc, strconv.Itoa(r), image.Point{int(first.X) - 14, int(first.Y) - 4}, c, 10)
	}
	return dc.Image()
}

// PlotSaddleMap renders the saddle score of img with its candidate corners marked, for tuning
// SaddleConfiguration.
func PlotSaddleMap(img image.Image, conf *SaddleConfiguration) image.Image {
	gray := rimage.ToGrayFloat(img)
	blur := rimage.GetGaussian(conf.BlurSigma)
	score := computePixelWiseHessianDeterminant(rimage.ConvolveGrayFloat64(gray, &blur))
	score.Scale(-1, score)
	dc := gg.NewContextForImage(rimage.NormalizeToColor(score, 0))
	for _, p := range GetSaddlePoints(gray, conf) {
		rimage.DrawCross(dc, p.X, p.Y, 3, color.White, 1)
	}
	return dc.Image()
}
