package rimage

import (
	"image"
	"math"

	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocam/utils"
)

// Kernel is a convolution filter given row by row.
type Kernel struct {
	Content [][]float64
	Width   int
	Height  int
}

// Size returns the kernel dimensions.
func (k *Kernel) Size() image.Point {
	return image.Point{k.Width, k.Height}
}

// At returns the kernel coefficient at column x, row y.
func (k *Kernel) At(x, y int) float64 {
	return k.Content[y][x]
}

// GetSobelX returns the Kernel corresponding to the Sobel kernel in the x direction.
func GetSobelX() Kernel {
	return Kernel{[][]float64{
		{-1, 0, 1},
		{-2, 0, 2},
		{-1, 0, 1},
	}, 3, 3}
}

// GetSobelY returns the Kernel corresponding to the Sobel kernel in the y direction.
func GetSobelY() Kernel {
	return Kernel{[][]float64{
		{-1, -2, -1},
		{0, 0, 0},
		{1, 2, 1},
	}, 3, 3}
}

// GetBox returns a size x size averaging kernel.
func GetBox(size int) Kernel {
	content := make([][]float64, size)
	v := 1 / float64(size*size)
	for i := range content {
		content[i] = make([]float64, size)
		for j := range content[i] {
			content[i][j] = v
		}
	}
	return Kernel{content, size, size}
}

// ConvolveGrayFloat64 correlates m with the kernel, anchored at the kernel center. Pixels outside
// m replicate the nearest edge pixel. There is no clamping of the result.
func ConvolveGrayFloat64(m *mat.Dense, filter *Kernel) *mat.Dense {
	h, w := m.Dims()
	result := mat.NewDense(h, w, nil)
	src := m.RawMatrix()
	dst := result.RawMatrix().Data
	ax, ay := filter.Width/2, filter.Height/2

	utils.ParallelForEachRow(h, func(y int) {
		for x := 0; x < w; x++ {
			sum := 0.
			for ky := 0; ky < filter.Height; ky++ {
				sy := utils.ClampInt(y+ky-ay, 0, h-1)
				row := src.Data[sy*src.Stride:]
				for kx := 0; kx < filter.Width; kx++ {
					sx := utils.ClampInt(x+kx-ax, 0, w-1)
					sum += row[sx] * filter.At(kx, ky)
				}
			}
			dst[y*w+x] = sum
		}
	})
	return result
}

// GetGaussian returns a normalized square Gaussian kernel covering three standard deviations.
func GetGaussian(sigma float64) Kernel {
	if sigma <= 0 {
		return Kernel{[][]float64{{1}}, 1, 1}
	}
	radius := int(math.Ceil(3 * sigma))
	if radius < 1 {
		radius = 1
	}
	size := 2*radius + 1
	content := make([][]float64, size)
	sum := 0.
	for i := range content {
		content[i] = make([]float64, size)
		for j := range content[i] {
			dx, dy := float64(j-radius), float64(i-radius)
			content[i][j] = math.Exp(-(dx*dx + dy*dy) / (2 * sigma * sigma))
			sum += content[i][j]
		}
	}
	for i := range content {
		for j := range content[i] {
			content[i][j] /= sum
		}
	}
	return Kernel{content, size, size}
}
