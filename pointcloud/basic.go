package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// PointAndData is a point and its data.
type PointAndData struct {
	P r3.Vector
	D Data
}

// basicPointCloud is the basic implementation of the PointCloud interface backed by
// a slice of points in insertion order.
type basicPointCloud struct {
	points []PointAndData
	meta   MetaData
}

// New returns an empty PointCloud backed by a basicPointCloud.
func New() PointCloud {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty, preallocated PointCloud backed by a basicPointCloud.
func NewWithPrealloc(size int) PointCloud {
	return &basicPointCloud{
		points: make([]PointAndData, 0, size),
		meta:   NewMetaData(),
	}
}

func (cloud *basicPointCloud) Size() int {
	return len(cloud.points)
}

func (cloud *basicPointCloud) MetaData() MetaData {
	return cloud.meta
}

func (cloud *basicPointCloud) Add(p r3.Vector, d Data) error {
	for _, v := range []float64{p.X, p.Y, p.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Errorf("point %v is not finite", p)
		}
	}
	cloud.points = append(cloud.points, PointAndData{P: p, D: d})
	cloud.meta.Merge(p, d)
	return nil
}

func (cloud *basicPointCloud) Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool) {
	lo, hi := 0, len(cloud.points)
	if numBatches > 0 {
		batchSize := (len(cloud.points) + numBatches - 1) / numBatches
		lo = min(myBatch*batchSize, hi)
		hi = min(lo+batchSize, hi)
	}
	for _, pd := range cloud.points[lo:hi] {
		if !fn(pd.P, pd.D) {
			return
		}
	}
}

// Points collects the positions of every point of cloud.
func Points(cloud PointCloud) []r3.Vector {
	out := make([]r3.Vector, 0, cloud.Size())
	cloud.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		out = append(out, p)
		return true
	})
	return out
}
