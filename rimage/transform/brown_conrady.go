package transform

import (
	"math"

	"github.com/pkg/errors"
)

// NumDistortionCoefficients is the length of a (k1, k2, p1, p2, k3) coefficient vector.
const NumDistortionCoefficients = 5

// BrownConrady is the radial (k1, k2, k3) and tangential (p1, p2) lens distortion model acting
// on normalized image coordinates.
type BrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	RadialK3     float64 `json:"rk3"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
}

// NewBrownConradyFromCoefficients reads a distortion coefficient vector in (k1, k2, p1, p2, k3)
// order. Shorter vectors are zero padded.
func NewBrownConradyFromCoefficients(coeffs []float64) (*BrownConrady, error) {
	if len(coeffs) > NumDistortionCoefficients {
		return nil, errors.Errorf("expected at most %d distortion coefficients, got %d",
			NumDistortionCoefficients, len(coeffs))
	}
	c := make([]float64, NumDistortionCoefficients)
	copy(c, coeffs)
	return &BrownConrady{RadialK1: c[0], RadialK2: c[1], TangentialP1: c[2], TangentialP2: c[3], RadialK3: c[4]}, nil
}

// CheckValid checks if the fields for BrownConrady have valid inputs.
func (bc *BrownConrady) CheckValid() error {
	if bc == nil {
		return InvalidDistortionError("BrownConrady shaped distortion_parameters not provided")
	}
	for _, p := range bc.Parameters() {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return InvalidDistortionError("BrownConrady parameters must be finite")
		}
	}
	return nil
}

// ModelType returns the type of distortion model.
func (bc *BrownConrady) ModelType() DistortionType {
	return BrownConradyDistortionType
}

// Parameters returns the parameters of the distortion model as a list of floats.
func (bc *BrownConrady) Parameters() []float64 {
	if bc == nil {
		return []float64{}
	}
	return []float64{bc.RadialK1, bc.RadialK2, bc.RadialK3, bc.TangentialP1, bc.TangentialP2}
}

// Coefficients returns the parameters in (k1, k2, p1, p2, k3) order.
func (bc *BrownConrady) Coefficients() []float64 {
	if bc == nil {
		return make([]float64, NumDistortionCoefficients)
	}
	return []float64{bc.RadialK1, bc.RadialK2, bc.TangentialP1, bc.TangentialP2, bc.RadialK3}
}

// Transform distorts the undistorted normalized point (x, y).
func (bc *BrownConrady) Transform(x, y float64) (float64, float64) {
	if bc == nil {
		return x, y
	}
	r2 := x*x + y*y
	radDist := 1 + bc.RadialK1*r2 + bc.RadialK2*r2*r2 + bc.RadialK3*r2*r2*r2
	xd := x*radDist + 2*bc.TangentialP1*x*y + bc.TangentialP2*(r2+2*x*x)
	yd := y*radDist + 2*bc.TangentialP2*x*y + bc.TangentialP1*(r2+2*y*y)
	return xd, yd
}

// Inverse returns the model that undoes bc.
func (bc *BrownConrady) Inverse() *InverseBrownConrady {
	if bc == nil {
		return nil
	}
	return &InverseBrownConrady{*bc}
}
