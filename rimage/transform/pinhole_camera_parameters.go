// Package transform contains the camera geometry of the stereo rig: pinhole intrinsics, lens
// distortion, rotations, homographies and two-view relations.
package transform

import (
	"fmt"
	"image"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intriniscs are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// NewPinholeCameraIntrinsicsFromMatrix reads fx, fy, ppx and ppy from a 3x3 camera matrix.
func NewPinholeCameraIntrinsicsFromMatrix(k mat.Matrix, size image.Point) (*PinholeCameraIntrinsics, error) {
	if r, c := k.Dims(); r != 3 || c != 3 {
		return nil, errors.Errorf("camera matrix must be 3x3, got %dx%d", r, c)
	}
	params := &PinholeCameraIntrinsics{
		Width:  size.X,
		Height: size.Y,
		Fx:     k.At(0, 0),
		Fy:     k.At(1, 1),
		Ppx:    k.At(0, 2),
		Ppy:    k.At(1, 2),
	}
	return params, params.CheckValid()
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width == 0 || params.Height == 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	return nil
}

// GetCameraMatrix creates a new camera matrix and returns it.
// Camera matrix:
// [[fx 0 ppx],
//
//	[0 fy ppy],
//	[0 0  1]]
func (params *PinholeCameraIntrinsics) GetCameraMatrix() *mat.Dense {
	if params == nil {
		return nil
	}
	cameraMatrix := mat.NewDense(3, 3, nil)
	cameraMatrix.Set(0, 0, params.Fx)
	cameraMatrix.Set(1, 1, params.Fy)
	cameraMatrix.Set(0, 2, params.Ppx)
	cameraMatrix.Set(1, 2, params.Ppy)
	cameraMatrix.Set(2, 2, 1)
	return cameraMatrix
}

// PixelToNormalized maps a pixel to the z = 1 plane of the camera frame.
func (params *PinholeCameraIntrinsics) PixelToNormalized(u, v float64) (float64, float64) {
	return (u - params.Ppx) / params.Fx, (v - params.Ppy) / params.Fy
}

// NormalizedToPixel maps a z = 1 plane point to pixel coordinates.
func (params *PinholeCameraIntrinsics) NormalizedToPixel(x, y float64) (float64, float64) {
	return x*params.Fx + params.Ppx, y*params.Fy + params.Ppy
}

// PixelToPoint transforms a pixel with depth to a 3D point.
func (params *PinholeCameraIntrinsics) PixelToPoint(x, y, z float64) (float64, float64, float64) {
	if params == nil {
		return 0, 0, 0
	}
	xOverZ, yOverZ := params.PixelToNormalized(x, y)
	return xOverZ * z, yOverZ * z, z
}

// PointToPixel projects a 3D point to sub-pixel image coordinates. Points with zero depth map to
// (-1, -1) so that cropping to the image bounds filters them out.
func (params *PinholeCameraIntrinsics) PointToPixel(x, y, z float64) (float64, float64) {
	if z == 0 {
		return -1, -1
	}
	return params.NormalizedToPixel(x/z, y/z)
}

// PinholeCameraModel is the model of a pinhole camera with lens distortion.
type PinholeCameraModel struct {
	*PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	Distortion               *BrownConrady `json:"distortion"`
}

// NewPinholeCameraModel builds a model from a camera matrix and distortion coefficients in
// (k1, k2, p1, p2, k3) order.
func NewPinholeCameraModel(k mat.Matrix, coeffs []float64, size image.Point) (*PinholeCameraModel, error) {
	intrinsics, err := NewPinholeCameraIntrinsicsFromMatrix(k, size)
	if err != nil {
		return nil, err
	}
	distortion, err := NewBrownConradyFromCoefficients(coeffs)
	if err != nil {
		return nil, err
	}
	return &PinholeCameraModel{intrinsics, distortion}, nil
}

// DistortionMap is a function that transforms the undistorted input points (u,v) to the distorted points (x,y)
// according to the model in PinholeCameraModel.Distortion.
func (params *PinholeCameraModel) DistortionMap() func(u, v float64) (float64, float64) {
	return func(u, v float64) (float64, float64) {
		x, y := params.PixelToNormalized(u, v)
		x, y = params.Distortion.Transform(x, y)
		return params.NormalizedToPixel(x, y)
	}
}

// ProjectPoint projects a camera frame point through the lens to a distorted pixel.
func (params *PinholeCameraModel) ProjectPoint(p r3.Vector) r2.Point {
	x, y := params.Distortion.Transform(p.X/p.Z, p.Y/p.Z)
	u, v := params.NormalizedToPixel(x, y)
	return r2.Point{X: u, Y: v}
}

// UndistortPixel maps a distorted pixel to undistorted normalized coordinates.
func (params *PinholeCameraModel) UndistortPixel(pt r2.Point) r2.Point {
	x, y := params.PixelToNormalized(pt.X, pt.Y)
	x, y = params.Distortion.Inverse().Transform(x, y)
	return r2.Point{X: x, Y: y}
}
