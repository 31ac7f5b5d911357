package chessboard

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
)

// gridCell indexes a recovered corner along the two board axes found from the seed.
type gridCell struct {
	i, j int
}

func (c gridCell) add(o gridCell) gridCell {
	return gridCell{c.i + o.i, c.j + o.j}
}

var gridSteps = []gridCell{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}

// chessGrid is a set of saddle points assigned to integer lattice positions.
type chessGrid struct {
	pts   []r2.Point
	cells map[gridCell]int
	used  []bool
	axes  [2]r2.Point
}

// getMinSaddleDistance returns the index of the unused saddle point closest to pt and its
// distance.
func (g *chessGrid) getMinSaddleDistance(pt r2.Point) (int, float64) {
	best, bestDist := -1, math.Inf(1)
	for k, p := range g.pts {
		if g.used[k] {
			continue
		}
		if d := pt.Sub(p).Norm(); d < bestDist {
			best, bestDist = k, d
		}
	}
	return best, bestDist
}

func (g *chessGrid) at(c gridCell) (r2.Point, bool) {
	k, ok := g.cells[c]
	if !ok {
		return r2.Point{}, false
	}
	return g.pts[k], true
}

// predictStep estimates the image displacement from cell c to c+dir. It prefers extrapolating
// along the same line, then a parallel edge of an adjacent cell, then the seed axes.
func (g *chessGrid) predictStep(c, dir gridCell) r2.Point {
	p, _ := g.at(c)
	if back, ok := g.at(gridCell{c.i - dir.i, c.j - dir.j}); ok {
		return p.Sub(back)
	}
	side := gridCell{dir.j, dir.i}
	for _, s := range []gridCell{side, {-side.i, -side.j}} {
		a, okA := g.at(c.add(s))
		b, okB := g.at(c.add(s).add(dir))
		if okA && okB {
			return b.Sub(a)
		}
	}
	if dir.i != 0 {
		return g.axes[0].Mul(float64(dir.i))
	}
	return g.axes[1].Mul(float64(dir.j))
}

// grow assigns saddle points to lattice cells breadth first, starting from the seed.
func (g *chessGrid) grow(seed int, maxCells int) {
	g.cells[gridCell{}] = seed
	g.used[seed] = true
	queue := []gridCell{{}}
	for len(queue) > 0 && len(g.cells) <= maxCells {
		c := queue[0]
		queue = queue[1:]
		p, _ := g.at(c)
		for _, dir := range gridSteps {
			n := c.add(dir)
			if _, ok := g.cells[n]; ok {
				continue
			}
			step := g.predictStep(c, dir)
			k, dist := g.getMinSaddleDistance(p.Add(step))
			if k < 0 || dist > 0.3*step.Norm() {
				continue
			}
			g.cells[n] = k
			g.used[k] = true
			queue = append(queue, n)
		}
	}
}

// bounds returns the minimum cell and the extent of the grid along each axis.
func (g *chessGrid) bounds() (gridCell, int, int) {
	lo := gridCell{math.MaxInt32, math.MaxInt32}
	hi := gridCell{math.MinInt32, math.MinInt32}
	for c := range g.cells {
		lo.i, lo.j = min(lo.i, c.i), min(lo.j, c.j)
		hi.i, hi.j = max(hi.i, c.i), max(hi.j, c.j)
	}
	return lo, hi.i - lo.i + 1, hi.j - lo.j + 1
}

// seedAxes returns the directions to the nearest neighbor of the seed and to the nearest
// neighbor roughly perpendicular to it.
func seedAxes(pts []r2.Point, seed int) ([2]r2.Point, bool) {
	idx := make([]int, 0, len(pts)-1)
	for k := range pts {
		if k != seed {
			idx = append(idx, k)
		}
	}
	sort.Slice(idx, func(a, b int) bool {
		return pts[idx[a]].Sub(pts[seed]).Norm() < pts[idx[b]].Sub(pts[seed]).Norm()
	})
	if len(idx) < 2 {
		return [2]r2.Point{}, false
	}
	d1 := pts[idx[0]].Sub(pts[seed])
	for _, k := range idx[1:] {
		d2 := pts[k].Sub(pts[seed])
		if math.Abs(d1.Dot(d2))/(d1.Norm()*d2.Norm()) < 0.5 {
			return [2]r2.Point{d1, d2}, true
		}
	}
	return [2]r2.Point{}, false
}

// recoverGrid searches for a complete rows x cols lattice of saddle points and returns it in
// row-major order, columns running left to right and rows running top to bottom.
func recoverGrid(pts []r2.Point, pattern Pattern, maxSeeds int) (CornerSet, bool) {
	if len(pts) < pattern.NumCorners() {
		return nil, false
	}
	center := centroid(pts)
	seeds := make([]int, len(pts))
	for k := range seeds {
		seeds[k] = k
	}
	sort.Slice(seeds, func(a, b int) bool {
		return pts[seeds[a]].Sub(center).Norm() < pts[seeds[b]].Sub(center).Norm()
	})
	if len(seeds) > maxSeeds {
		seeds = seeds[:maxSeeds]
	}

	for _, seed := range seeds {
		axes, ok := seedAxes(pts, seed)
		if !ok {
			continue
		}
		g := &chessGrid{pts: pts, cells: map[gridCell]int{}, used: make([]bool, len(pts)), axes: axes}
		g.grow(seed, pattern.NumCorners())
		if len(g.cells) != pattern.NumCorners() {
			continue
		}
		if corners, ok := g.order(pattern); ok {
			return corners, true
		}
	}
	return nil, false
}

// order maps the lattice onto pattern rows and columns.
func (g *chessGrid) order(pattern Pattern) (CornerSet, bool) {
	lo, ni, nj := g.bounds()
	if ni*nj != len(g.cells) {
		return nil, false
	}
	var colsAlongI bool
	switch {
	case ni == pattern.Cols && nj == pattern.Rows && ni != nj:
		colsAlongI = true
	case ni == pattern.Rows && nj == pattern.Cols && ni != nj:
		colsAlongI = false
	case ni == nj && ni == pattern.Rows:
		alongI, _ := g.at(gridCell{lo.i + ni - 1, lo.j})
		alongJ, _ := g.at(gridCell{lo.i, lo.j + nj - 1})
		origin, _ := g.at(lo)
		di, dj := alongI.Sub(origin), alongJ.Sub(origin)
		colsAlongI = math.Abs(di.X)/di.Norm() >= math.Abs(dj.X)/dj.Norm()
	default:
		return nil, false
	}

	flipR, flipC := false, false
	get := func(r, c int) r2.Point {
		if flipR {
			r = pattern.Rows - 1 - r
		}
		if flipC {
			c = pattern.Cols - 1 - c
		}
		var cell gridCell
		if colsAlongI {
			cell = gridCell{lo.i + c, lo.j + r}
		} else {
			cell = gridCell{lo.i + r, lo.j + c}
		}
		p, _ := g.at(cell)
		return p
	}
	if colDir := get(0, pattern.Cols-1).Sub(get(0, 0)); colDir.X < 0 {
		flipC = true
	}
	colDir := get(0, pattern.Cols-1).Sub(get(0, 0))
	rowDir := get(pattern.Rows-1, 0).Sub(get(0, 0))
	// Image y points down, so columns to the right and rows downward give a positive cross product.
	if colDir.Cross(rowDir) < 0 {
		flipR = true
	}

	corners := make(CornerSet, 0, pattern.NumCorners())
	for r := 0; r < pattern.Rows; r++ {
		for c := 0; c < pattern.Cols; c++ {
			corners = append(corners, get(r, c))
		}
	}
	return corners, true
}
