package chessboard

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocam/rimage"
	"go.viam.com/stereocam/utils"
)

// SaddleConfiguration stores the parameters to process the Hessian determinant image into saddle
// point candidates.
type SaddleConfiguration struct {
	BlurSigma         float64 `json:"blur-sigma"` // Gaussian pre-smoothing of the gray image
	RelativeThreshold float64 `json:"rel-thresh"` // minimum saddle score as a fraction of the strongest score
	NMSWindowSize     int     `json:"win-size"`   // half window for non-maximum suppression
	MinContrast       float64 `json:"contrast"`   // minimum gray level swing around an accepted saddle
}

// DefaultSaddleConf stores the default parameters for saddle detection.
var DefaultSaddleConf = SaddleConfiguration{
	BlurSigma:         1.0,
	RelativeThreshold: 0.1,
	NMSWindowSize:     3,
	MinContrast:       20,
}

type saddle struct {
	pt    r2.Point
	score float64
}

// computePixelWiseHessianDeterminant computes the determinant of the Hessian for each pixel.
// Saddle points have a negative determinant.
func computePixelWiseHessianDeterminant(img *mat.Dense) *mat.Dense {
	nRows, nCols := img.Dims()
	sobelX := rimage.GetSobelX()
	sobelY := rimage.GetSobelY()
	gX := rimage.ConvolveGrayFloat64(img, &sobelX)
	gY := rimage.ConvolveGrayFloat64(img, &sobelY)
	gXX := rimage.ConvolveGrayFloat64(gX, &sobelX)
	gYY := rimage.ConvolveGrayFloat64(gY, &sobelY)
	gXY := rimage.ConvolveGrayFloat64(gX, &sobelY)

	m1 := mat.NewDense(nRows, nCols, nil)
	m2 := mat.NewDense(nRows, nCols, nil)
	out := mat.NewDense(nRows, nCols, nil)
	m1.MulElem(gXX, gYY)
	m2.MulElem(gXY, gXY)
	out.Sub(m1, m2)
	return out
}

// nonMaxSuppression returns the pixels of score that are the strict maximum of their
// (2*winSize+1)^2 neighborhood and at least minScore, strongest first.
func nonMaxSuppression(score *mat.Dense, winSize int, minScore float64) []saddle {
	h, w := score.Dims()
	raw := score.RawMatrix()
	rows := make([][]saddle, h)
	utils.ParallelForEachRow(h, func(y int) {
		for x := 0; x < w; x++ {
			v := raw.Data[y*raw.Stride+x]
			if v < minScore || v <= 0 {
				continue
			}
			isMax := true
			for yy := max(0, y-winSize); yy <= min(h-1, y+winSize) && isMax; yy++ {
				for xx := max(0, x-winSize); xx <= min(w-1, x+winSize); xx++ {
					o := raw.Data[yy*raw.Stride+xx]
					// Ties resolve to the first pixel in raster order.
					if o > v || (o == v && (yy < y || (yy == y && xx < x))) {
						isMax = false
						break
					}
				}
			}
			if isMax {
				rows[y] = append(rows[y], saddle{pt: refinePeak(raw.Data, raw.Stride, w, h, x, y), score: v})
			}
		}
	})
	var out []saddle
	for _, r := range rows {
		out = append(out, r...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}

// refinePeak fits a parabola through the peak and its neighbors along each axis.
func refinePeak(data []float64, stride, w, h, x, y int) r2.Point {
	pt := r2.Point{X: float64(x), Y: float64(y)}
	if x > 0 && x < w-1 {
		l, c, r := data[y*stride+x-1], data[y*stride+x], data[y*stride+x+1]
		if den := l - 2*c + r; den < 0 {
			pt.X += utils.Clamp(0.5*(l-r)/den, -0.5, 0.5)
		}
	}
	if y > 0 && y < h-1 {
		t, c, b := data[(y-1)*stride+x], data[y*stride+x], data[(y+1)*stride+x]
		if den := t - 2*c + b; den < 0 {
			pt.Y += utils.Clamp(0.5*(t-b)/den, -0.5, 0.5)
		}
	}
	return pt
}

// isXJunction samples the gray image on a circle around pt and accepts points where the circle
// crosses exactly four alternating dark and bright sectors with opposite sectors matching, as
// around an interior chessboard corner.
func isXJunction(gray *mat.Dense, pt r2.Point, radius, minContrast float64) bool {
	const nSamples = 24
	h, w := gray.Dims()
	raw := gray.RawMatrix()
	samples := make([]float64, nSamples)
	lo, hi, mean := math.Inf(1), math.Inf(-1), 0.
	for k := range samples {
		theta := 2 * math.Pi * float64(k) / nSamples
		x, y := pt.X+radius*math.Cos(theta), pt.Y+radius*math.Sin(theta)
		if x < 0 || y < 0 || x > float64(w-1) || y > float64(h-1) {
			return false
		}
		v := rimage.BilinearAt(raw.Data, raw.Stride, w, h, x, y)
		samples[k] = v
		lo, hi = math.Min(lo, v), math.Max(hi, v)
		mean += v / nSamples
	}
	contrast := hi - lo
	if contrast < minContrast {
		return false
	}

	transitions := 0
	asymmetry := 0.
	for k := range samples {
		a := samples[k] > mean
		b := samples[(k+1)%nSamples] > mean
		if a != b {
			transitions++
		}
		asymmetry += math.Abs(samples[k]-samples[(k+nSamples/2)%nSamples]) / nSamples
	}
	return transitions == 4 && asymmetry < 0.3*contrast
}

// GetSaddlePoints returns the interior chessboard corner candidates of a gray image, strongest
// first.
func GetSaddlePoints(gray *mat.Dense, conf *SaddleConfiguration) []r2.Point {
	blur := rimage.GetGaussian(conf.BlurSigma)
	smoothed := rimage.ConvolveGrayFloat64(gray, &blur)

	// Saddle points have a negative Hessian determinant; work with its opposite.
	score := computePixelWiseHessianDeterminant(smoothed)
	score.Scale(-1, score)
	peak := mat.Max(score)
	if peak <= 0 {
		return nil
	}
	candidates := nonMaxSuppression(score, conf.NMSWindowSize, conf.RelativeThreshold*peak)
	if len(candidates) < 2 {
		return nil
	}

	radius := utils.Clamp(0.3*medianNeighborDistance(candidates), 2, 8)
	out := make([]r2.Point, 0, len(candidates))
	for _, c := range candidates {
		if isXJunction(smoothed, c.pt, radius, conf.MinContrast) {
			out = append(out, c.pt)
		}
	}
	return out
}

func medianNeighborDistance(candidates []saddle) float64 {
	dists := make([]float64, 0, len(candidates))
	for i, a := range candidates {
		best := math.Inf(1)
		for j, b := range candidates {
			if i != j {
				best = math.Min(best, a.pt.Sub(b.pt).Norm())
			}
		}
		dists = append(dists, best)
	}
	median, err := stats.Median(dists)
	if err != nil {
		return 0
	}
	return median
}
