package chessboard

import (
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

// quadrants returns an image whose top-left and bottom-right quarters are dark.
func quadrants(size int) *mat.Dense {
	m := mat.NewDense(size, size, nil)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if (x < size/2) == (y < size/2) {
				m.Set(y, x, 30)
			} else {
				m.Set(y, x, 220)
			}
		}
	}
	return m
}

func TestComputePixelWiseHessianDeterminant(t *testing.T) {
	m := quadrants(40)
	det := computePixelWiseHessianDeterminant(m)
	h, w := det.Dims()
	test.That(t, h, test.ShouldEqual, 40)
	test.That(t, w, test.ShouldEqual, 40)
	// Flat regions have no curvature; the junction is a saddle.
	test.That(t, det.At(5, 5), test.ShouldEqual, 0)
	test.That(t, det.At(20, 20), test.ShouldBeLessThan, 0)
}

func TestNonMaxSuppression(t *testing.T) {
	score := mat.NewDense(20, 20, nil)
	score.Set(5, 5, 10)
	score.Set(5, 6, 9)
	score.Set(14, 12, 4)
	score.Set(14, 13, 4)
	peaks := nonMaxSuppression(score, 3, 1)
	test.That(t, peaks, test.ShouldHaveLength, 2)
	test.That(t, peaks[0].score, test.ShouldEqual, 10)
	test.That(t, peaks[0].pt.X, test.ShouldBeBetween, 5, 5.5)
	test.That(t, peaks[0].pt.Y, test.ShouldEqual, 5)
	test.That(t, peaks[1].score, test.ShouldEqual, 4)
}

func TestIsXJunction(t *testing.T) {
	m := quadrants(40)
	test.That(t, isXJunction(m, r2.Point{X: 19.5, Y: 19.5}, 5, 20), test.ShouldBeTrue)
	// An edge crosses the circle twice.
	test.That(t, isXJunction(m, r2.Point{X: 19.5, Y: 8}, 5, 20), test.ShouldBeFalse)
	// A flat patch has no contrast.
	test.That(t, isXJunction(m, r2.Point{X: 8, Y: 8}, 5, 20), test.ShouldBeFalse)
}

func TestGetSaddlePoints(t *testing.T) {
	pts := GetSaddlePoints(quadrants(40), &DefaultSaddleConf)
	test.That(t, pts, test.ShouldHaveLength, 0)

	// Two junctions are needed to derive a sampling radius.
	m := mat.NewDense(40, 80, nil)
	for y := 0; y < 40; y++ {
		for x := 0; x < 80; x++ {
			if ((x/20)+(y/20))%2 == 0 {
				m.Set(y, x, 30)
			} else {
				m.Set(y, x, 220)
			}
		}
	}
	pts = GetSaddlePoints(m, &DefaultSaddleConf)
	test.That(t, len(pts), test.ShouldBeGreaterThanOrEqualTo, 3)
	found := 0
	for _, want := range []r2.Point{{X: 19.5, Y: 19.5}, {X: 39.5, Y: 19.5}, {X: 59.5, Y: 19.5}} {
		for _, p := range pts {
			if p.Sub(want).Norm() < 1 {
				found++
				break
			}
		}
	}
	test.That(t, found, test.ShouldEqual, 3)
}
