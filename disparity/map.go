package disparity

import (
	"image"
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocam/artifact"
	"go.viam.com/stereocam/rimage"
)

// FieldDisparity is the archive field a Map is stored under.
const FieldDisparity = "disparity"

// Map is a dense disparity map in pixels. Entries at or below Invalid mark unmatched pixels.
type Map struct {
	Values  *mat.Dense
	Invalid float64
}

// Size returns the map dimensions.
func (m *Map) Size() image.Point {
	h, w := m.Values.Dims()
	return image.Point{w, h}
}

// Valid returns whether the pixel (x, y) holds a disparity.
func (m *Map) Valid(x, y int) bool {
	v := m.Values.At(y, x)
	return v > m.Invalid && !math.IsNaN(v)
}

// ValidCount returns the number of valid pixels.
func (m *Map) ValidCount() int {
	h, w := m.Values.Dims()
	n := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if m.Valid(x, y) {
				n++
			}
		}
	}
	return n
}

// ValidValues returns every valid disparity in row-major order.
func (m *Map) ValidValues() []float64 {
	h, w := m.Values.Dims()
	var out []float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if m.Valid(x, y) {
				out = append(out, m.Values.At(y, x))
			}
		}
	}
	return out
}

// Summary describes the valid disparities of a map.
type Summary struct {
	ValidFraction float64
	Min           float64
	Median        float64
	Max           float64
}

// Summarize computes a Summary. A map without valid pixels has a zero summary.
func (m *Map) Summarize() Summary {
	values := m.ValidValues()
	if len(values) == 0 {
		return Summary{}
	}
	size := m.Size()
	lo, _ := stats.Min(values)
	med, _ := stats.Median(values)
	hi, _ := stats.Max(values)
	return Summary{
		ValidFraction: float64(len(values)) / float64(size.X*size.Y),
		Min:           lo,
		Median:        med,
		Max:           hi,
	}
}

// Visualize stretches the valid disparities over the full output range, either as gray levels
// or as a blue (far) to red (near) color ramp. Invalid pixels are black.
func (m *Map) Visualize(colorize bool) image.Image {
	if colorize {
		return rimage.NormalizeToColor(m.Values, m.Invalid)
	}
	return rimage.NormalizeToGray(m.Values, m.Invalid)
}

// Save writes the map to path as an archive with a single field.
func (m *Map) Save(path string) error {
	var rec artifact.Record
	rec.Add(artifact.Matrix(FieldDisparity, m.Values))
	return artifact.Save(path, rec)
}

// LoadMap reads a map written by Save. The archive does not record the invalid marker, so the
// caller passes the one of the matching configuration the map was computed with.
func LoadMap(path string, invalid float64) (*Map, error) {
	rec, err := artifact.LoadFields(path, FieldDisparity)
	if err != nil {
		return nil, err
	}
	values, err := rec.AnyMatrix(FieldDisparity)
	if err != nil {
		return nil, artifact.NewLoadFailedError(path, err)
	}
	return &Map{Values: values, Invalid: invalid}, nil
}
