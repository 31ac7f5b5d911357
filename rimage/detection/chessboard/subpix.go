package chessboard

import (
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocam/rimage"
	"go.viam.com/stereocam/utils"
)

const (
	subPixMaxIterations = 100
	subPixEpsilon       = 1e-5
	subPixStep          = 0.5
)

// gradientField holds the image gradients sampled by the corner refinement.
type gradientField struct {
	gx, gy *mat.Dense
	w, h   int
}

func newGradientField(gray *mat.Dense) *gradientField {
	sobelX := rimage.GetSobelX()
	sobelY := rimage.GetSobelY()
	gx := rimage.ConvolveGrayFloat64(gray, &sobelX)
	gy := rimage.ConvolveGrayFloat64(gray, &sobelY)
	gx.Scale(1./8, gx)
	gy.Scale(1./8, gy)
	h, w := gray.Dims()
	return &gradientField{gx: gx, gy: gy, w: w, h: h}
}

func (f *gradientField) at(x, y float64) (float64, float64) {
	rx, ry := f.gx.RawMatrix(), f.gy.RawMatrix()
	return rimage.BilinearAt(rx.Data, rx.Stride, f.w, f.h, x, y), rimage.BilinearAt(ry.Data, ry.Stride, f.w, f.h, x, y)
}

// refineCorner moves pt to the point where the image gradients of its neighborhood are most
// orthogonal to the vectors joining them to it. The window is sampled every subPixStep pixels
// so that the samples do not all share one sub-pixel phase. The corner is left in place if the
// solution leaves the window.
func refineCorner(f *gradientField, pt r2.Point, half int) r2.Point {
	cur := pt
	hf := float64(half)
	n := int(hf / subPixStep)
	for iter := 0; iter < subPixMaxIterations; iter++ {
		var a11, a12, a22, b1, b2 float64
		for j := -n; j <= n; j++ {
			dy := float64(j) * subPixStep
			wy := math.Exp(-utils.Square(dy / hf))
			for i := -n; i <= n; i++ {
				dx := float64(i) * subPixStep
				w := wy * math.Exp(-utils.Square(dx/hf))
				qx, qy := cur.X+dx, cur.Y+dy
				gx, gy := f.at(qx, qy)
				gxx, gxy, gyy := w*gx*gx, w*gx*gy, w*gy*gy
				a11 += gxx
				a12 += gxy
				a22 += gyy
				b1 += gxx*qx + gxy*qy
				b2 += gxy*qx + gyy*qy
			}
		}
		det := a11*a22 - a12*a12
		if math.Abs(det) <= 1e-12*(a11*a22+1) {
			break
		}
		next := r2.Point{X: (a22*b1 - a12*b2) / det, Y: (a11*b2 - a12*b1) / det}
		move := next.Sub(cur).Norm()
		cur = next
		if cur.Sub(pt).Norm() > hf {
			return pt
		}
		if move < subPixEpsilon {
			break
		}
	}
	return cur
}

// refineWindows picks a half window for every corner from the distance to its nearest grid
// neighbor, so that no window reaches the next row or column of corners.
func refineWindows(corners CornerSet, pattern Pattern) []int {
	halves := make([]int, len(corners))
	for r := 0; r < pattern.Rows; r++ {
		for c := 0; c < pattern.Cols; c++ {
			pt := corners.At(pattern, r, c)
			spacing := math.Inf(1)
			for _, d := range [4][2]int{{0, 1}, {0, -1}, {1, 0}, {-1, 0}} {
				rr, cc := r+d[0], c+d[1]
				if rr < 0 || cc < 0 || rr >= pattern.Rows || cc >= pattern.Cols {
					continue
				}
				spacing = math.Min(spacing, corners.At(pattern, rr, cc).Sub(pt).Norm())
			}
			halves[r*pattern.Cols+c] = utils.ClampInt(int(0.4*spacing), 2, 11)
		}
	}
	return halves
}
