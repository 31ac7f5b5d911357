package chessboard

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// ErrDetectionFailed is returned when the full pattern cannot be located in an image. Callers
// retry with another frame.
var ErrDetectionFailed = errors.New("chessboard not found")

// NewDetectionFailedError wraps ErrDetectionFailed with the reason.
func NewDetectionFailedError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrDetectionFailed, format, args...)
}

// Pattern describes a calibration chessboard by its interior corner counts and its square edge
// length.
type Pattern struct {
	Rows       int
	Cols       int
	SquareSize float64
}

// Validate ensures both grid dimensions are at least 2 and the square size is positive.
func (p Pattern) Validate() error {
	if p.Rows < 2 || p.Cols < 2 {
		return errors.Errorf("chessboard pattern must have at least 2x2 interior corners, got %dx%d", p.Rows, p.Cols)
	}
	if p.SquareSize <= 0 {
		return errors.Errorf("chessboard square size must be positive, got %v", p.SquareSize)
	}
	return nil
}

// NumCorners returns Rows * Cols.
func (p Pattern) NumCorners() int {
	return p.Rows * p.Cols
}

// ObjectPoints returns the board frame coordinates of the interior corners in CornerSet order:
// row by row, with point (c, r) at (c * SquareSize, r * SquareSize, 0).
func (p Pattern) ObjectPoints() []r3.Vector {
	pts := make([]r3.Vector, 0, p.NumCorners())
	for r := 0; r < p.Rows; r++ {
		for c := 0; c < p.Cols; c++ {
			pts = append(pts, r3.Vector{X: float64(c) * p.SquareSize, Y: float64(r) * p.SquareSize})
		}
	}
	return pts
}

// CornerSet holds the refined interior corners of one detected board, row by row. Its length is
// always Rows * Cols of the pattern it was detected with.
type CornerSet []r2.Point

// At returns the corner in row r and column c.
func (cs CornerSet) At(p Pattern, r, c int) r2.Point {
	return cs[r*p.Cols+c]
}
