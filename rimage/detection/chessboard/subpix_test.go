package chessboard

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

// rotatedCorner renders an X junction at corner whose edges are turned by theta, averaging an
// 8x8 grid of samples per pixel.
func rotatedCorner(size int, corner r2.Point, theta float64) *mat.Dense {
	const n = 8
	m := mat.NewDense(size, size, nil)
	cs, sn := math.Cos(theta), math.Sin(theta)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			var sum float64
			for sy := 0; sy < n; sy++ {
				for sx := 0; sx < n; sx++ {
					dx := float64(x) - 0.5 + (float64(sx)+0.5)/n - corner.X
					dy := float64(y) - 0.5 + (float64(sy)+0.5)/n - corner.Y
					u, v := cs*dx+sn*dy, -sn*dx+cs*dy
					if (u < 0) == (v < 0) {
						sum += 30
					} else {
						sum += 220
					}
				}
			}
			m.Set(y, x, sum/(n*n))
		}
	}
	return m
}

func TestRefineCornerSubPixel(t *testing.T) {
	for _, tc := range []struct {
		corner r2.Point
		theta  float64
	}{
		{r2.Point{X: 20.25, Y: 19.625}, 0},
		{r2.Point{X: 19.55, Y: 20.45}, 0.3},
		{r2.Point{X: 20.2, Y: 20.1}, -0.6},
	} {
		field := newGradientField(rotatedCorner(41, tc.corner, tc.theta))
		start := r2.Point{X: math.Round(tc.corner.X), Y: math.Round(tc.corner.Y)}
		got := refineCorner(field, start, 6)
		test.That(t, got.Sub(tc.corner).Norm(), test.ShouldBeLessThan, 0.1)
	}
}

func TestRefineCornerFlatPatch(t *testing.T) {
	m := mat.NewDense(30, 30, nil)
	for i := range m.RawMatrix().Data {
		m.RawMatrix().Data[i] = 128
	}
	start := r2.Point{X: 14.25, Y: 15}
	test.That(t, refineCorner(newGradientField(m), start, 5), test.ShouldResemble, start)
}

func TestRefineWindows(t *testing.T) {
	pattern := Pattern{Rows: 2, Cols: 3, SquareSize: 1}
	corners := CornerSet{
		{X: 0, Y: 0}, {X: 20, Y: 0}, {X: 26, Y: 0},
		{X: 0, Y: 20}, {X: 20, Y: 20}, {X: 26, Y: 20},
	}
	halves := refineWindows(corners, pattern)
	test.That(t, halves, test.ShouldResemble, []int{8, 2, 2, 8, 2, 2})

	wide := CornerSet{
		{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 200, Y: 0},
		{X: 0, Y: 100}, {X: 100, Y: 100}, {X: 200, Y: 100},
	}
	for _, h := range refineWindows(wide, pattern) {
		test.That(t, h, test.ShouldEqual, 11)
	}
}
