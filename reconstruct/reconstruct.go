// Package reconstruct turns disparity maps into colored point clouds.
package reconstruct

import (
	"image"
	"image/color"
	"math"
	"time"

	"github.com/disintegration/imaging"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocam/calibration"
	"go.viam.com/stereocam/disparity"
	"go.viam.com/stereocam/logging"
	"go.viam.com/stereocam/pointcloud"
	"go.viam.com/stereocam/rimage"
	"go.viam.com/stereocam/utils"
)

// Reconstructor reprojects disparity maps into 3D with the disparity-to-depth matrix of a
// rectified rig. Points are expressed in the rectified left camera frame, in the units of the
// calibration pattern.
type Reconstructor struct {
	q      [4][4]float64
	order  rimage.ChannelOrder
	logger logging.Logger

	// Binary selects binary_little_endian bodies for saved ply files.
	Binary bool
}

// NewReconstructor returns a reconstructor for frames delivered in the given channel order.
func NewReconstructor(rect *calibration.RectificationData, order rimage.ChannelOrder, logger logging.Logger) (*Reconstructor, error) {
	if rect == nil || rect.DisparityToDepth == nil {
		return nil, errors.New("disparity-to-depth matrix is required")
	}
	if r, c := rect.DisparityToDepth.Dims(); r != 4 || c != 4 {
		return nil, errors.Errorf("disparity-to-depth matrix must be 4x4, got %dx%d", r, c)
	}
	rec := &Reconstructor{order: order, logger: logger, Binary: true}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			rec.q[i][j] = rect.DisparityToDepth.At(i, j)
		}
	}
	return rec, nil
}

// reproject maps pixel (x, y) with disparity d through Q. ok is false for points at infinity
// and for points that do not lie in front of the camera.
func (r *Reconstructor) reproject(x, y, d float64) (r3.Vector, bool) {
	var h [4]float64
	for i := range h {
		h[i] = r.q[i][0]*x + r.q[i][1]*y + r.q[i][2]*d + r.q[i][3]
	}
	if h[3] <= 0 {
		return r3.Vector{}, false
	}
	p := r3.Vector{X: h[0] / h[3], Y: h[1] / h[3], Z: h[2] / h[3]}
	if !(p.Z > 0) || math.IsInf(p.Z, 0) {
		return r3.Vector{}, false
	}
	return p, true
}

// colorFrame crops the rectified left frame to size and converts it to RGB.
func (r *Reconstructor) colorFrame(left image.Image, size image.Point) (*image.NRGBA, error) {
	bounds := left.Bounds()
	if size.X > bounds.Dx() || size.Y > bounds.Dy() {
		return nil, errors.Errorf("disparity map %v is larger than the frame %v", size, bounds.Size())
	}
	cropped := imaging.Crop(left, image.Rectangle{Min: bounds.Min, Max: bounds.Min.Add(size)})
	if r.order == rimage.BGR {
		cropped = rimage.SwapRB(cropped)
	}
	return cropped, nil
}

// Reconstruct returns one colored point per valid pixel of dmap, in row-major order. Each point
// remembers its pixel. Invalid pixels are dropped, and so are pixels whose disparity puts them
// at infinity or behind the camera. pair holds the rectified frames the map was
// computed from.
func (r *Reconstructor) Reconstruct(pair rimage.ImagePair, dmap *disparity.Map) (pointcloud.PointCloud, error) {
	if pair.Left == nil {
		return nil, errors.New("left frame is required")
	}
	if dmap == nil || dmap.Values == nil {
		return nil, errors.New("disparity map is required")
	}
	start := time.Now()
	size := dmap.Size()
	frame, err := r.colorFrame(pair.Left, size)
	if err != nil {
		return nil, err
	}

	rows := make([][]pointcloud.PointAndData, size.Y)
	utils.ParallelForEachRow(size.Y, func(y int) {
		for x := 0; x < size.X; x++ {
			if !dmap.Valid(x, y) {
				continue
			}
			p, ok := r.reproject(float64(x), float64(y), dmap.Values.At(y, x))
			if !ok {
				continue
			}
			c := frame.NRGBAAt(x, y)
			rows[y] = append(rows[y], pointcloud.PointAndData{
				P: p,
				D: pointcloud.NewPixelData(color.NRGBA{R: c.R, G: c.G, B: c.B, A: 255}, image.Point{x, y}),
			})
		}
	})

	count := 0
	for _, row := range rows {
		count += len(row)
	}
	cloud := pointcloud.NewWithPrealloc(count)
	for _, row := range rows {
		for _, pd := range row {
			if err := cloud.Add(pd.P, pd.D); err != nil {
				return nil, errors.Wrap(err, "reprojected point")
			}
		}
	}
	r.logger.Debugw("point cloud reconstructed", "points", count, "valid", dmap.ValidCount(), "pixels", size.X*size.Y,
		"elapsed", time.Since(start))
	return cloud, nil
}

// SavePointCloud reconstructs dmap, writes the cloud to path, a .ply or .pcd file, and returns
// it.
func (r *Reconstructor) SavePointCloud(pair rimage.ImagePair, dmap *disparity.Map, path string) (pointcloud.PointCloud, error) {
	cloud, err := r.Reconstruct(pair, dmap)
	if err != nil {
		return nil, err
	}
	if err := pointcloud.WriteToFile(cloud, path, r.Binary); err != nil {
		return nil, err
	}
	r.logger.Infow("point cloud saved", "path", path, "points", cloud.Size())
	return cloud, nil
}

// DisparityToDepth returns a copy of the reprojection matrix.
func (r *Reconstructor) DisparityToDepth() *mat.Dense {
	out := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		out.SetRow(i, r.q[i][:])
	}
	return out
}
