package transform

import "github.com/pkg/errors"

// DistortionType is the name of the distortion model.
type DistortionType string

const (
	// BrownConradyDistortionType is for simple lenses of narrow field easily modeled as a pinhole camera.
	BrownConradyDistortionType = DistortionType("brown_conrady")
	// InverseBrownConradyDistortionType undoes BrownConradyDistortionType.
	InverseBrownConradyDistortionType = DistortionType("inverse_brown_conrady")
)

// Distorter defines a Transform that takes an undistorted image and distorts it according to the model.
type Distorter interface {
	ModelType() DistortionType
	CheckValid() error
	Parameters() []float64
	Transform(x, y float64) (float64, float64)
}

// InvalidDistortionError is used when the distortion_parameters are invalid.
func InvalidDistortionError(msg string) error {
	return errors.Wrap(errors.New("invalid distortion_parameters"), msg)
}

// NewDistorter returns a Distorter given a valid DistortionType and its distortion coefficients
// in (k1, k2, p1, p2, k3) order. Non-finite coefficients are rejected.
func NewDistorter(distortionType DistortionType, coeffs []float64) (Distorter, error) {
	bc, err := NewBrownConradyFromCoefficients(coeffs)
	if err != nil {
		return nil, err
	}
	var d Distorter
	switch distortionType {
	case BrownConradyDistortionType:
		d = bc
	case InverseBrownConradyDistortionType:
		d = bc.Inverse()
	default:
		return nil, errors.Errorf("do not know how to parse %q distortion model", distortionType)
	}
	if err := d.CheckValid(); err != nil {
		return nil, err
	}
	return d, nil
}
