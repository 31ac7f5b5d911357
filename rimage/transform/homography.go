package transform

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// EstimateHomography computes H such that dst ~ H * src with the normalized direct linear
// transform. At least 4 correspondences are needed. H is scaled so that H[2][2] = 1.
func EstimateHomography(src, dst []r2.Point) (*mat.Dense, error) {
	if len(src) != len(dst) {
		return nil, errors.New("sets of points src and dst must have the same number of elements")
	}
	if len(src) < 4 {
		return nil, errors.New("sets of points must have at least 4 elements")
	}
	points1, t1 := normalizePoints(src)
	points2, t2 := normalizePoints(dst)

	a := mat.NewDense(2*len(src), 9, nil)
	for i := range points1 {
		x, y := points1[i].X, points1[i].Y
		u, v := points2[i].X, points2[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}
	h := nullVector(a)
	if h == nil {
		return nil, errors.New("failed to factorize homography system")
	}
	hn := mat.NewDense(3, 3, h)

	// Undo the normalization: H = T2^-1 * Hn * T1.
	var t2Inv mat.Dense
	if err := t2Inv.Inverse(t2); err != nil {
		return nil, errors.Wrap(err, "degenerate point configuration")
	}
	var out mat.Dense
	out.Mul(&t2Inv, hn)
	out.Mul(&out, t1)
	if out.At(2, 2) == 0 {
		return nil, errors.New("degenerate homography")
	}
	out.Scale(1/out.At(2, 2), &out)
	return &out, nil
}

// ApplyHomography maps pt through h.
func ApplyHomography(h mat.Matrix, pt r2.Point) r2.Point {
	x := h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)
	y := h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)
	w := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
	return r2.Point{X: x / w, Y: y / w}
}
