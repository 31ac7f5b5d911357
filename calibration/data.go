// Package calibration turns chessboard observations from a stereo rig into camera intrinsics,
// the rig extrinsics, rectification transforms and the lookup tables that undistort and
// rectify raw frames.
package calibration

import (
	"image"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocam/artifact"
	"go.viam.com/stereocam/rimage/transform"
)

// Artifact field names.
const (
	fieldReprojectionError = "reprojection_error"
	fieldImageSize         = "image_size"
	fieldCameraMatrixLeft  = "camera_matrix_left"
	fieldDistCoeffsLeft    = "dist_coeffs_left"
	fieldCameraMatrixRight = "camera_matrix_right"
	fieldDistCoeffsRight   = "dist_coeffs_right"
	fieldRotation          = "rotation_matrix"
	fieldTranslation       = "translation_vector"
	fieldEssential         = "essential_matrix"
	fieldFundamental       = "fundamental_matrix"

	fieldRectificationLeft  = "left_rectification_matrix"
	fieldRectificationRight = "right_rectification_matrix"
	fieldProjectionLeft     = "left_projection_matrix"
	fieldProjectionRight    = "right_projection_matrix"
	fieldDisparityToDepth   = "disparity_to_depth_matrix"
	fieldValidROILeft       = "left_valid_roi"
	fieldValidROIRight      = "right_valid_roi"

	fieldLeftMapX  = "left_undistortion_map"
	fieldLeftMapY  = "left_rectification_map"
	fieldRightMapX = "right_undistortion_map"
	fieldRightMapY = "right_rectification_map"
)

// CalibrationData describes a calibrated stereo rig. The right camera sees
// X_right = RotationMatrix * X_left + TranslationVector.
type CalibrationData struct {
	ImageSize         image.Point
	ReprojectionError float64
	CameraMatrixLeft  *mat.Dense
	DistCoeffsLeft    []float64
	CameraMatrixRight *mat.Dense
	DistCoeffsRight   []float64
	RotationMatrix    *mat.Dense
	TranslationVector r3.Vector
	EssentialMatrix   *mat.Dense
	FundamentalMatrix *mat.Dense
}

// LeftModel returns the left camera as a pinhole model.
func (c *CalibrationData) LeftModel() (*transform.PinholeCameraModel, error) {
	return transform.NewPinholeCameraModel(c.CameraMatrixLeft, c.DistCoeffsLeft, c.ImageSize)
}

// RightModel returns the right camera as a pinhole model.
func (c *CalibrationData) RightModel() (*transform.PinholeCameraModel, error) {
	return transform.NewPinholeCameraModel(c.CameraMatrixRight, c.DistCoeffsRight, c.ImageSize)
}

// Record converts the calibration into artifact fields. The reprojection error is a scalar.
func (c *CalibrationData) Record() artifact.Record {
	var rec artifact.Record
	rec.Add(
		artifact.Scalar(fieldReprojectionError, c.ReprojectionError),
		artifact.Vector(fieldImageSize, []float64{float64(c.ImageSize.X), float64(c.ImageSize.Y)}),
		artifact.Matrix(fieldCameraMatrixLeft, c.CameraMatrixLeft),
		artifact.Matrix(fieldDistCoeffsLeft, mat.NewDense(1, len(c.DistCoeffsLeft), c.DistCoeffsLeft)),
		artifact.Matrix(fieldCameraMatrixRight, c.CameraMatrixRight),
		artifact.Matrix(fieldDistCoeffsRight, mat.NewDense(1, len(c.DistCoeffsRight), c.DistCoeffsRight)),
		artifact.Matrix(fieldRotation, c.RotationMatrix),
		artifact.Matrix(fieldTranslation, transform.VecToDense(c.TranslationVector)),
		artifact.Matrix(fieldEssential, c.EssentialMatrix),
		artifact.Matrix(fieldFundamental, c.FundamentalMatrix),
	)
	return rec
}

// Save writes the calibration to path atomically.
func (c *CalibrationData) Save(path string) error {
	return artifact.Save(path, c.Record())
}

// LoadCalibrationData reads a calibration written by Save.
func LoadCalibrationData(path string) (*CalibrationData, error) {
	rec, err := artifact.Load(path)
	if err != nil {
		return nil, err
	}
	c := &CalibrationData{}
	loader := recordLoader{rec: rec}
	c.ReprojectionError = loader.scalar(fieldReprojectionError)
	if size := loader.vector(fieldImageSize, 2); size != nil {
		c.ImageSize = image.Point{int(size[0]), int(size[1])}
	}
	c.CameraMatrixLeft = loader.matrix(fieldCameraMatrixLeft, 3, 3)
	c.DistCoeffsLeft = loader.vector(fieldDistCoeffsLeft, transform.NumDistortionCoefficients)
	c.CameraMatrixRight = loader.matrix(fieldCameraMatrixRight, 3, 3)
	c.DistCoeffsRight = loader.vector(fieldDistCoeffsRight, transform.NumDistortionCoefficients)
	c.RotationMatrix = loader.matrix(fieldRotation, 3, 3)
	if t := loader.vector(fieldTranslation, 3); t != nil {
		c.TranslationVector = r3.Vector{X: t[0], Y: t[1], Z: t[2]}
	}
	c.EssentialMatrix = loader.matrix(fieldEssential, 3, 3)
	c.FundamentalMatrix = loader.matrix(fieldFundamental, 3, 3)
	if loader.err != nil {
		return nil, artifact.NewLoadFailedError(path, loader.err)
	}
	return c, nil
}

// RectificationData holds the rectifying rotations, the projection matrices of the rectified
// cameras, the disparity-to-depth matrix Q and the region of each rectified image in which every
// pixel is valid.
type RectificationData struct {
	RectificationLeft  *mat.Dense
	RectificationRight *mat.Dense
	ProjectionLeft     *mat.Dense
	ProjectionRight    *mat.Dense
	DisparityToDepth   *mat.Dense
	ValidROILeft       image.Rectangle
	ValidROIRight      image.Rectangle
}

func roiFields(r image.Rectangle) []float64 {
	return []float64{float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy())}
}

func roiFromFields(v []float64) image.Rectangle {
	if v == nil {
		return image.Rectangle{}
	}
	return image.Rect(int(v[0]), int(v[1]), int(v[0]+v[2]), int(v[1]+v[3]))
}

// Record converts the rectification into artifact fields. ROIs are stored as (x, y, w, h).
func (r *RectificationData) Record() artifact.Record {
	var rec artifact.Record
	rec.Add(
		artifact.Matrix(fieldRectificationLeft, r.RectificationLeft),
		artifact.Matrix(fieldRectificationRight, r.RectificationRight),
		artifact.Matrix(fieldProjectionLeft, r.ProjectionLeft),
		artifact.Matrix(fieldProjectionRight, r.ProjectionRight),
		artifact.Matrix(fieldDisparityToDepth, r.DisparityToDepth),
		artifact.Vector(fieldValidROILeft, roiFields(r.ValidROILeft)),
		artifact.Vector(fieldValidROIRight, roiFields(r.ValidROIRight)),
	)
	return rec
}

// Save writes the rectification to path atomically.
func (r *RectificationData) Save(path string) error {
	return artifact.Save(path, r.Record())
}

// LoadRectificationData reads a rectification written by Save.
func LoadRectificationData(path string) (*RectificationData, error) {
	rec, err := artifact.Load(path)
	if err != nil {
		return nil, err
	}
	loader := recordLoader{rec: rec}
	r := &RectificationData{
		RectificationLeft:  loader.matrix(fieldRectificationLeft, 3, 3),
		RectificationRight: loader.matrix(fieldRectificationRight, 3, 3),
		ProjectionLeft:     loader.matrix(fieldProjectionLeft, 3, 4),
		ProjectionRight:    loader.matrix(fieldProjectionRight, 3, 4),
		DisparityToDepth:   loader.matrix(fieldDisparityToDepth, 4, 4),
		ValidROILeft:       roiFromFields(loader.vector(fieldValidROILeft, 4)),
		ValidROIRight:      roiFromFields(loader.vector(fieldValidROIRight, 4)),
	}
	if loader.err != nil {
		return nil, artifact.NewLoadFailedError(path, loader.err)
	}
	return r, nil
}

// TransformationMap holds, per camera, the source x and y coordinates to sample for every
// rectified pixel.
type TransformationMap struct {
	LeftMapX  *mat.Dense
	LeftMapY  *mat.Dense
	RightMapX *mat.Dense
	RightMapY *mat.Dense
}

// Size returns the dimensions of the rectified frames.
func (m *TransformationMap) Size() image.Point {
	h, w := m.LeftMapX.Dims()
	return image.Point{w, h}
}

// Record converts the maps into artifact fields.
func (m *TransformationMap) Record() artifact.Record {
	var rec artifact.Record
	rec.Add(
		artifact.Matrix(fieldLeftMapX, m.LeftMapX),
		artifact.Matrix(fieldLeftMapY, m.LeftMapY),
		artifact.Matrix(fieldRightMapX, m.RightMapX),
		artifact.Matrix(fieldRightMapY, m.RightMapY),
	)
	return rec
}

// Save writes the maps to path atomically.
func (m *TransformationMap) Save(path string) error {
	return artifact.Save(path, m.Record())
}

// LoadTransformationMap reads maps written by Save. All four maps must share one size.
func LoadTransformationMap(path string) (*TransformationMap, error) {
	rec, err := artifact.Load(path)
	if err != nil {
		return nil, err
	}
	loader := recordLoader{rec: rec}
	m := &TransformationMap{LeftMapX: loader.anyMatrix(fieldLeftMapX)}
	if m.LeftMapX != nil {
		h, w := m.LeftMapX.Dims()
		m.LeftMapY = loader.matrix(fieldLeftMapY, h, w)
		m.RightMapX = loader.matrix(fieldRightMapX, h, w)
		m.RightMapY = loader.matrix(fieldRightMapY, h, w)
	}
	if loader.err != nil {
		return nil, artifact.NewLoadFailedError(path, loader.err)
	}
	return m, nil
}

// recordLoader reads fields until the first error, which it keeps.
type recordLoader struct {
	rec artifact.Record
	err error
}

func (l *recordLoader) scalar(name string) float64 {
	if l.err != nil {
		return 0
	}
	v, err := l.rec.Scalar(name)
	l.err = err
	return v
}

func (l *recordLoader) vector(name string, n int) []float64 {
	if l.err != nil {
		return nil
	}
	v, err := l.rec.Vector(name, n)
	if err != nil {
		l.err = err
		return nil
	}
	return append([]float64(nil), v...)
}

func (l *recordLoader) matrix(name string, rows, cols int) *mat.Dense {
	if l.err != nil {
		return nil
	}
	m, err := l.rec.Matrix(name, rows, cols)
	l.err = err
	return m
}

func (l *recordLoader) anyMatrix(name string) *mat.Dense {
	if l.err != nil {
		return nil
	}
	m, err := l.rec.AnyMatrix(name)
	l.err = err
	return m
}
