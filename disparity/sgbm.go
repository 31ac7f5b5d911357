// Package disparity estimates dense disparity maps from rectified frame pairs with semi-global
// block matching and refines them with a weighted least squares filter.
package disparity

import (
	"image"
	"math"

	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocam/config"
	"go.viam.com/stereocam/utils"
)

// Scale is the fixed point precision of raw matcher output: one pixel is Scale units.
const Scale = 16

// grayCostShift scales down the intensity term of the pixel cost.
const grayCostShift = 2

// noDisparity marks right image pixels no left pixel was matched to.
const noDisparity = math.MinInt32

// fixedMap is a disparity map in 1/Scale pixel units.
type fixedMap struct {
	w, h    int
	data    []int32
	invalid int32
}

func newFixedMap(w, h int, invalid int32) *fixedMap {
	data := make([]int32, w*h)
	for i := range data {
		data[i] = invalid
	}
	return &fixedMap{w: w, h: h, data: data, invalid: invalid}
}

func (f *fixedMap) at(x, y int) int32 {
	return f.data[y*f.w+x]
}

func (f *fixedMap) valid(x, y int) bool {
	return f.data[y*f.w+x] != f.invalid
}

// toDense converts to disparity units.
func (f *fixedMap) toDense() *mat.Dense {
	out := mat.NewDense(f.h, f.w, nil)
	data := out.RawMatrix().Data
	for i, v := range f.data {
		data[i] = float64(v) / Scale
	}
	return out
}

// flipped mirrors the map horizontally and negates every value. A map matched on mirrored
// frames becomes a map of the unmirrored frames with the opposite reference view.
func (f *fixedMap) flipped() *fixedMap {
	out := &fixedMap{w: f.w, h: f.h, data: make([]int32, len(f.data)), invalid: -f.invalid}
	for y := 0; y < f.h; y++ {
		row := f.data[y*f.w : (y+1)*f.w]
		dst := out.data[y*f.w : (y+1)*f.w]
		for x, v := range row {
			dst[f.w-1-x] = -v
		}
	}
	return out
}

// aggregationPaths returns the scan directions of mode. A direction r means each pixel p is
// reached from p - r.
func aggregationPaths(mode config.Mode) []image.Point {
	switch mode {
	case config.ModeHH:
		return []image.Point{{1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}, {0, -1}, {1, -1}}
	case config.ModeSGBM3Way:
		return []image.Point{{1, 0}, {-1, 0}, {0, 1}}
	case config.ModeHH4:
		return []image.Point{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	default:
		return []image.Point{{1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}}
	}
}

// matcher is an immutable semi-global block matcher. The left frame is the reference.
type matcher struct {
	cfg   config.MatchingConfig
	paths []image.Point
}

func newMatcher(cfg config.MatchingConfig) (*matcher, error) {
	if err := cfg.Validate("matching config"); err != nil {
		return nil, err
	}
	return &matcher{cfg: cfg, paths: aggregationPaths(cfg.Mode)}, nil
}

// prefilterXSobel returns the horizontal Sobel response clipped to [-cap, cap] and shifted
// to [0, 2*cap].
func prefilterXSobel(gray *mat.Dense, preFilterCap int) []int32 {
	h, w := gray.Dims()
	raw := gray.RawMatrix()
	px := func(x, y int) int32 {
		x = utils.ClampInt(x, 0, w-1)
		y = utils.ClampInt(y, 0, h-1)
		return int32(math.Round(raw.Data[y*raw.Stride+x]))
	}
	out := make([]int32, w*h)
	limit := int32(preFilterCap)
	utils.ParallelForEachRow(h, func(y int) {
		for x := 0; x < w; x++ {
			v := px(x+1, y-1) - px(x-1, y-1) + 2*(px(x+1, y)-px(x-1, y)) + px(x+1, y+1) - px(x-1, y+1)
			if v < -limit {
				v = -limit
			} else if v > limit {
				v = limit
			}
			out[y*w+x] = v + limit
		}
	})
	return out
}

func roundGray(gray *mat.Dense) []int32 {
	h, w := gray.Dims()
	raw := gray.RawMatrix()
	out := make([]int32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out[y*w+x] = int32(math.Round(raw.Data[y*raw.Stride+x]))
		}
	}
	return out
}

// btRange returns the min and max of the half-sample interpolated values around x.
func btRange(row []int32, x int) (int32, int32) {
	v := row[x]
	lo, hi := v, v
	if x > 0 {
		m := (v + row[x-1]) / 2
		lo, hi = min(lo, m), max(hi, m)
	}
	if x < len(row)-1 {
		m := (v + row[x+1]) / 2
		lo, hi = min(lo, m), max(hi, m)
	}
	return lo, hi
}

// btCost is the sampling-insensitive dissimilarity of Birchfield and Tomasi between left[xl]
// and right[xr].
func btCost(left, right []int32, xl, xr int) int32 {
	il, ir := left[xl], right[xr]
	lLo, lHi := btRange(left, xl)
	rLo, rHi := btRange(right, xr)
	c0 := max(0, ir-lHi, lLo-ir)
	c1 := max(0, il-rHi, rLo-il)
	return min(c0, c1)
}

// costVolume holds one cost per pixel and disparity index, laid out as (y, x, d).
type costVolume struct {
	w, h, nd int
	data     []uint16
}

func (v *costVolume) cell(x, y int) []uint16 {
	i := (y*v.w + x) * v.nd
	return v.data[i : i+v.nd]
}

// computeCosts builds the block-summed matching cost volume.
func (m *matcher) computeCosts(left, right *mat.Dense) *costVolume {
	h, w := left.Dims()
	nd := m.cfg.NumDisparities
	minD := m.cfg.MinDisparity
	sobelL, sobelR := prefilterXSobel(left, m.cfg.PreFilterCap), prefilterXSobel(right, m.cfg.PreFilterCap)
	grayL, grayR := roundGray(left), roundGray(right)
	outOfRange := uint16(2*m.cfg.PreFilterCap + 255>>grayCostShift)

	// Pixel costs summed horizontally over the block.
	half := m.cfg.BlockSize / 2
	rowSums := &costVolume{w: w, h: h, nd: nd, data: make([]uint16, w*h*nd)}
	utils.ParallelForEachRow(h, func(y int) {
		sl, sr := sobelL[y*w:(y+1)*w], sobelR[y*w:(y+1)*w]
		gl, gr := grayL[y*w:(y+1)*w], grayR[y*w:(y+1)*w]
		pixel := make([]uint16, w*nd)
		for x := 0; x < w; x++ {
			for k := 0; k < nd; k++ {
				xr := x - (minD + k)
				if xr < 0 || xr >= w {
					pixel[x*nd+k] = outOfRange
					continue
				}
				c := btCost(sl, sr, x, xr) + btCost(gl, gr, x, xr)>>grayCostShift
				pixel[x*nd+k] = uint16(c)
			}
		}
		for x := 0; x < w; x++ {
			dst := rowSums.cell(x, y)
			for dx := -half; dx <= half; dx++ {
				src := pixel[utils.ClampInt(x+dx, 0, w-1)*nd:]
				for k := 0; k < nd; k++ {
					dst[k] += src[k]
				}
			}
		}
	})
	if half == 0 {
		return rowSums
	}

	out := &costVolume{w: w, h: h, nd: nd, data: make([]uint16, w*h*nd)}
	utils.ParallelForEachRow(h, func(y int) {
		for dy := -half; dy <= half; dy++ {
			sy := utils.ClampInt(y+dy, 0, h-1)
			src := rowSums.data[sy*w*nd : (sy+1)*w*nd]
			dst := out.data[y*w*nd : (y+1)*w*nd]
			for i, c := range src {
				dst[i] += c
			}
		}
	})
	return out
}

// pathStep computes the aggregated cost along one path at a pixel from the predecessor costs.
// prev is nil at the start of a path.
func pathStep(cur []int32, cost []uint16, prev []int32, p1, p2 int32) {
	if prev == nil {
		for k, c := range cost {
			cur[k] = int32(c)
		}
		return
	}
	minPrev := prev[0]
	for _, v := range prev[1:] {
		minPrev = min(minPrev, v)
	}
	nd := len(cost)
	for k := 0; k < nd; k++ {
		best := min(prev[k], minPrev+p2)
		if k > 0 {
			best = min(best, prev[k-1]+p1)
		}
		if k < nd-1 {
			best = min(best, prev[k+1]+p1)
		}
		cur[k] = int32(cost[k]) + best - minPrev
	}
}

// aggregate sums the path costs of every direction of the matcher.
func (m *matcher) aggregate(costs *costVolume) []int32 {
	w, h, nd := costs.w, costs.h, costs.nd
	p1, p2 := int32(m.cfg.P1()), int32(m.cfg.P2())
	sum := make([]int32, w*h*nd)
	add := func(x, y int, l []int32) {
		dst := sum[(y*w+x)*nd:]
		for k, v := range l {
			dst[k] += v
		}
	}

	for _, r := range m.paths {
		if r.Y == 0 {
			utils.ParallelForEachRow(h, func(y int) {
				prev, cur := make([]int32, nd), make([]int32, nd)
				x0, x1 := 0, w
				if r.X < 0 {
					x0, x1 = w-1, -1
				}
				first := true
				for x := x0; x != x1; x += r.X {
					if first {
						pathStep(cur, costs.cell(x, y), nil, p1, p2)
						first = false
					} else {
						pathStep(cur, costs.cell(x, y), prev, p1, p2)
					}
					add(x, y, cur)
					prev, cur = cur, prev
				}
			})
			continue
		}

		prevRow, curRow := make([]int32, w*nd), make([]int32, w*nd)
		y0, y1 := 0, h
		if r.Y < 0 {
			y0, y1 = h-1, -1
		}
		for y := y0; y != y1; y += r.Y {
			for x := 0; x < w; x++ {
				cur := curRow[x*nd : (x+1)*nd]
				px := x - r.X
				if y == y0 || px < 0 || px >= w {
					pathStep(cur, costs.cell(x, y), nil, p1, p2)
				} else {
					pathStep(cur, costs.cell(x, y), prevRow[px*nd:(px+1)*nd], p1, p2)
				}
				add(x, y, cur)
			}
			prevRow, curRow = curRow, prevRow
		}
	}
	return sum
}

// selectDisparities picks the winning disparity of every pixel with sub-pixel refinement, the
// uniqueness test and the left-right consistency check.
func (m *matcher) selectDisparities(sum []int32, w, h int) *fixedMap {
	nd := m.cfg.NumDisparities
	minD, maxD := m.cfg.MinDisparity, m.cfg.MaxDisparity()
	out := newFixedMap(w, h, int32((minD-1)*Scale))
	uniqueness := int64(m.cfg.UniquenessRatio)

	utils.ParallelForEachRow(h, func(y int) {
		// Best disparity seen from each right image pixel.
		rightDisp := make([]int, w)
		rightCost := make([]int32, w)
		for i := range rightCost {
			rightCost[i] = math.MaxInt32
			rightDisp[i] = noDisparity
		}
		bestIdx := make([]int, w)
		for x := 0; x < w; x++ {
			s := sum[(y*w+x)*nd : (y*w+x+1)*nd]
			best, minS := 0, s[0]
			for k, v := range s {
				if v < minS {
					best, minS = k, v
				}
			}
			bestIdx[x] = best
			if xr := x - (minD + best); xr >= 0 && xr < w && minS < rightCost[xr] {
				rightCost[xr], rightDisp[xr] = minS, minD+best
			}

			// Only pixels that see every candidate are matched.
			if x-(maxD-1) < 0 || x-minD >= w {
				continue
			}
			// An exact tie with a distant candidate, as on a flat patch where every cost is
			// zero, is never unique.
			unique := true
			for k, v := range s {
				if utils.AbsInt(k-best) > 1 && (v == minS || int64(v)*(100-uniqueness) < int64(minS)*100) {
					unique = false
					break
				}
			}
			if !unique {
				continue
			}
			d := int32(best * Scale)
			if best > 0 && best < nd-1 {
				denom := max(s[best-1]+s[best+1]-2*s[best], 1)
				d += ((s[best-1]-s[best+1])*Scale + denom) / (denom * 2)
			}
			out.data[y*w+x] = int32(minD*Scale) + d
		}

		if m.cfg.Disp12MaxDiff < 0 {
			return
		}
		for x := 0; x < w; x++ {
			v := out.data[y*w+x]
			if v == out.invalid {
				continue
			}
			lo := int(math.Floor(float64(v) / Scale))
			hi := int(math.Ceil(float64(v) / Scale))
			failed := func(d int) bool {
				xr := x - d
				return xr >= 0 && xr < w && rightDisp[xr] != noDisparity &&
					utils.AbsInt(rightDisp[xr]-d) > m.cfg.Disp12MaxDiff
			}
			if failed(lo) && failed(hi) {
				out.data[y*w+x] = out.invalid
			}
		}
	})
	return out
}

// compute matches left against right. Both are gray planes of equal size.
func (m *matcher) compute(left, right *mat.Dense) *fixedMap {
	h, w := left.Dims()
	sum := m.aggregate(m.computeCosts(left, right))
	disp := m.selectDisparities(sum, w, h)
	filterSpeckles(disp, m.cfg.SpeckleWindowSize, m.cfg.SpeckleRange*Scale)
	return disp
}
