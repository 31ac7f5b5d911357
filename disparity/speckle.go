package disparity

import "image"

var speckleNeighbors = []image.Point{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}

// filterSpeckles invalidates connected regions of at most maxSize pixels. Neighbors belong to
// the same region when their values differ by at most maxDiff.
func filterSpeckles(disp *fixedMap, maxSize, maxDiff int) {
	if maxSize <= 0 {
		return
	}
	w, h := disp.w, disp.h
	labels := make([]int32, w*h)
	var label int32
	var stack []image.Point
	region := make([]int, 0, maxSize+1)

	for start := range disp.data {
		if disp.data[start] == disp.invalid || labels[start] != 0 {
			continue
		}
		label++
		labels[start] = label
		region = region[:0]
		stack = append(stack[:0], image.Point{start % w, start / w})
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			i := p.Y*w + p.X
			region = append(region, i)
			v := disp.data[i]
			for _, n := range speckleNeighbors {
				q := p.Add(n)
				if q.X < 0 || q.Y < 0 || q.X >= w || q.Y >= h {
					continue
				}
				j := q.Y*w + q.X
				nv := disp.data[j]
				if labels[j] != 0 || nv == disp.invalid {
					continue
				}
				if d := nv - v; d > int32(maxDiff) || d < -int32(maxDiff) {
					continue
				}
				labels[j] = label
				stack = append(stack, q)
			}
		}
		if len(region) <= maxSize {
			for _, i := range region {
				disp.data[i] = disp.invalid
			}
		}
	}
}
