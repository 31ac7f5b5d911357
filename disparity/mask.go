package disparity

import (
	"image"

	"go.viam.com/stereocam/calibration"
	"go.viam.com/stereocam/rimage"
)

// sourceMasks returns, for both rectified frames, which pixels have a whole matching block of
// samples inside the raw frames of size src.
func sourceMasks(maps *calibration.TransformationMap, src image.Point, radius int) (left, right []bool) {
	size := maps.Size()
	left = erode(rimage.SourceMask(maps.LeftMapX, maps.LeftMapY, src), size.X, size.Y, radius)
	right = erode(rimage.SourceMask(maps.RightMapX, maps.RightMapY, src), size.X, size.Y, radius)
	return left, right
}

// erode keeps the pixels of mask whose (2r+1) x (2r+1) neighborhood is entirely set. Pixels
// beyond the image edge count as set.
func erode(mask []bool, w, h, r int) []bool {
	if r <= 0 {
		return mask
	}
	rows := make([]bool, len(mask))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			ok := true
			for dx := max(x-r, 0); dx <= min(x+r, w-1) && ok; dx++ {
				ok = mask[y*w+dx]
			}
			rows[y*w+x] = ok
		}
	}
	out := make([]bool, len(mask))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			ok := true
			for dy := max(y-r, 0); dy <= min(y+r, h-1) && ok; dy++ {
				ok = rows[dy*w+x]
			}
			out[y*w+x] = ok
		}
	}
	return out
}

// restrict invalidates every disparity of f whose own pixel is not in own, or whose matched
// pixel in the other frame is not in other. Both left and right reference maps match pixel x
// to x - d, right reference disparities being negative.
func (f *fixedMap) restrict(own, other []bool) {
	for y := 0; y < f.h; y++ {
		for x := 0; x < f.w; x++ {
			i := y*f.w + x
			v := f.data[i]
			if v == f.invalid {
				continue
			}
			if !own[i] {
				f.data[i] = f.invalid
				continue
			}
			// Round half away from zero in 1/Scale units.
			d := (int(v) + Scale/2) / Scale
			if v < 0 {
				d = (int(v) - Scale/2) / Scale
			}
			if xm := x - d; xm < 0 || xm >= f.w || !other[y*f.w+xm] {
				f.data[i] = f.invalid
			}
		}
	}
}
