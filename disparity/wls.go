package disparity

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocam/utils"
)

// WLSConfiguration configures the weighted least squares disparity filter.
type WLSConfiguration struct {
	// Lambda is the smoothness weight. Larger values spread disparities further.
	Lambda float64 `json:"lambda"`
	// SigmaColor is how sensitive smoothing is to guide image edges, in gray levels.
	SigmaColor float64 `json:"sigma_color"`
	// LRCThreshold is the largest left-right disagreement, in 1/Scale pixels, of a trusted pixel.
	LRCThreshold int `json:"lrc_threshold"`
	// Iterations is the number of horizontal plus vertical smoothing sweeps.
	Iterations int `json:"iterations"`
}

// DefaultWLSConf is the filter setup used for one-shot captures.
var DefaultWLSConf = WLSConfiguration{
	Lambda:       8000,
	SigmaColor:   1.5,
	LRCThreshold: 24,
	Iterations:   3,
}

// minSupport is the smallest smoothed confidence at which a filtered value replaces the raw one.
// Below it the pixel has no confident neighbor.
const minSupport = 1e-9

// confidenceMap is 1 where the left disparity is valid and agrees with the right-reference
// disparity, and 0 elsewhere.
func confidenceMap(left, right *fixedMap, threshold int) []float64 {
	conf := make([]float64, left.w*left.h)
	for y := 0; y < left.h; y++ {
		for x := 0; x < left.w; x++ {
			if !left.valid(x, y) {
				continue
			}
			dl := left.at(x, y)
			xr := x - int(math.Round(float64(dl)/Scale))
			if xr < 0 || xr >= right.w || !right.valid(xr, y) {
				continue
			}
			// Right-reference disparities are negative.
			if diff := dl + right.at(xr, y); diff <= int32(threshold) && diff >= -int32(threshold) {
				conf[y*left.w+x] = 1
			}
		}
	}
	return conf
}

// smoother is a fast global smoother: it approximates the weighted least squares solution with
// alternating one-dimensional solves along rows and columns.
type smoother struct {
	w, h  int
	guide []float64
	conf  WLSConfiguration
}

// solveLine solves (I + L) u = f in place for one line, where L is the weighted graph
// Laplacian of the line with edge weights lambda*exp(-|g_i - g_i+1| / sigma). Element i of the
// line is at offset + i*stride in both vals and the guide.
func (s *smoother) solveLine(vals []float64, offset, n, stride int, lambda float64, c, d []float64) {
	at := func(i int) int { return offset + i*stride }
	weight := func(i int) float64 {
		if i < 0 || i >= n-1 {
			return 0
		}
		return lambda * math.Exp(-math.Abs(s.guide[at(i)]-s.guide[at(i+1)])/s.conf.SigmaColor)
	}
	// Thomas algorithm with sub and super diagonal -weight.
	prevW := 0.
	for i := 0; i < n; i++ {
		nextW := weight(i)
		diag := 1 + prevW + nextW
		if i > 0 {
			denom := diag + prevW*c[i-1]
			c[i] = -nextW / denom
			d[i] = (vals[at(i)] + prevW*d[i-1]) / denom
		} else {
			c[i] = -nextW / diag
			d[i] = vals[at(i)] / diag
		}
		prevW = nextW
	}
	vals[at(n-1)] = d[n-1]
	for i := n - 2; i >= 0; i-- {
		vals[at(i)] = d[i] - c[i]*vals[at(i+1)]
	}
}

// smooth filters vals in place.
func (s *smoother) smooth(vals []float64) {
	iters := max(s.conf.Iterations, 1)
	for t := 0; t < iters; t++ {
		lambda := 1.5 * s.conf.Lambda * math.Pow(4, float64(iters-t-1)) / (math.Pow(4, float64(iters)) - 1)
		utils.ParallelForEachRow(s.h, func(y int) {
			c, d := make([]float64, s.w), make([]float64, s.w)
			s.solveLine(vals, y*s.w, s.w, 1, lambda, c, d)
		})
		utils.ParallelForEachRow(s.w, func(x int) {
			c, d := make([]float64, s.h), make([]float64, s.h)
			s.solveLine(vals, x, s.h, s.w, lambda, c, d)
		})
	}
}

// filterWLS smooths the left-reference disparity guided by the left gray image, trusting only
// pixels the right-reference disparity confirms. The result is in pixels. Pixels outside
// support or left of firstColumn are invalid. Elsewhere a pixel without confident neighbors keeps
// its raw value, or is invalid when it had none.
func filterWLS(left, right *fixedMap, guide *mat.Dense, support []bool, firstColumn int, invalid float64, conf WLSConfiguration) *mat.Dense {
	w, h := left.w, left.h
	s := &smoother{w: w, h: h, guide: mat.DenseCopyOf(guide).RawMatrix().Data, conf: conf}

	weights := confidenceMap(left, right, conf.LRCThreshold)
	vals := make([]float64, w*h)
	for i, c := range weights {
		if c > 0 {
			vals[i] = float64(left.data[i]) / Scale
		}
	}
	s.smooth(vals)
	s.smooth(weights)

	out := mat.NewDense(h, w, nil)
	data := out.RawMatrix().Data
	for i := range data {
		switch {
		case i%w < firstColumn || !support[i]:
			data[i] = invalid
		case weights[i] > minSupport:
			data[i] = vals[i] / weights[i]
		case left.data[i] != left.invalid:
			data[i] = float64(left.data[i]) / Scale
		default:
			data[i] = invalid
		}
	}
	return out
}
