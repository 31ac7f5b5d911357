package calibration

import (
	"image"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocam/rimage/transform"
	"go.viam.com/stereocam/utils"
)

// InitUndistortRectifyMap computes, for every pixel of the rectified image described by the
// projection p, the source pixel of the raw camera (k, dist) it comes from after the rectifying
// rotation r. The maps are size.Y x size.X.
func InitUndistortRectifyMap(k mat.Matrix, dist []float64, r, p mat.Matrix, size image.Point) (mapX, mapY *mat.Dense, err error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, nil, errors.Errorf("invalid image size %v", size)
	}
	newK := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			newK.Set(i, j, p.At(i, j))
		}
	}
	var kr mat.Dense
	kr.Mul(newK, r)
	var ir mat.Dense
	if err := ir.Inverse(&kr); err != nil {
		return nil, nil, errors.Wrap(err, "rectified camera is singular")
	}
	distorter, err := transform.NewDistorter(transform.BrownConradyDistortionType, dist)
	if err != nil {
		return nil, nil, err
	}
	fx, fy, cx, cy := k.At(0, 0), k.At(1, 1), k.At(0, 2), k.At(1, 2)
	inv := ir.RawMatrix()
	ir00, ir01, ir02 := inv.Data[0], inv.Data[1], inv.Data[2]
	ir10, ir11, ir12 := inv.Data[inv.Stride], inv.Data[inv.Stride+1], inv.Data[inv.Stride+2]
	ir20, ir21, ir22 := inv.Data[2*inv.Stride], inv.Data[2*inv.Stride+1], inv.Data[2*inv.Stride+2]

	mapX = mat.NewDense(size.Y, size.X, nil)
	mapY = mat.NewDense(size.Y, size.X, nil)
	mx, my := mapX.RawMatrix().Data, mapY.RawMatrix().Data
	utils.ParallelForEachRow(size.Y, func(v int) {
		fv := float64(v)
		for u := 0; u < size.X; u++ {
			fu := float64(u)
			x := ir00*fu + ir01*fv + ir02
			y := ir10*fu + ir11*fv + ir12
			w := ir20*fu + ir21*fv + ir22
			if w == 0 {
				mx[v*size.X+u], my[v*size.X+u] = -1, -1
				continue
			}
			xd, yd := distorter.Transform(x/w, y/w)
			mx[v*size.X+u], my[v*size.X+u] = fx*xd+cx, fy*yd+cy
		}
	})
	return mapX, mapY, nil
}

// BuildTransformationMap computes the undistort-rectify maps of both cameras.
func BuildTransformationMap(calib *CalibrationData, rect *RectificationData, size image.Point) (*TransformationMap, error) {
	lx, ly, err := InitUndistortRectifyMap(calib.CameraMatrixLeft, calib.DistCoeffsLeft, rect.RectificationLeft, rect.ProjectionLeft, size)
	if err != nil {
		return nil, errors.Wrap(err, "left camera")
	}
	rx, ry, err := InitUndistortRectifyMap(calib.CameraMatrixRight, calib.DistCoeffsRight, rect.RectificationRight, rect.ProjectionRight, size)
	if err != nil {
		return nil, errors.Wrap(err, "right camera")
	}
	return &TransformationMap{LeftMapX: lx, LeftMapY: ly, RightMapX: rx, RightMapY: ry}, nil
}
