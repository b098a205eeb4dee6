package filter

import (
	"math"

	"ctalign/pkg/volume"
)

// GaussianSmooth convolves im with a separable Gaussian whose standard
// deviation sigma is given in physical units (mm). A non-positive sigma
// returns a copy. Edges are handled by clamping to the nearest voxel. The
// output is Float64 so that smoothing does not quantize.
func GaussianSmooth(im *volume.Image, sigma float64) *volume.Image {
	return GaussianSmoothPerAxis(im, [3]float64{sigma, sigma, sigma})
}

// GaussianSmoothPerAxis is GaussianSmooth with a physical sigma per axis.
// Axes with a non-positive sigma are left alone.
func GaussianSmoothPerAxis(im *volume.Image, sigmas [3]float64) *volume.Image {
	out := volume.Cast(im, volume.Float64)
	for axis := 0; axis < 3; axis++ {
		if sigmas[axis] <= 0 || im.Size[axis] < 2 {
			continue
		}
		convolveAxis(out, axis, gaussianKernel(sigmas[axis]/im.Spacing[axis]))
	}
	return out
}

// gaussianKernel samples a normalized Gaussian with sigma in voxels,
// truncated at four standard deviations.
func gaussianKernel(sigma float64) []float64 {
	radius := int(math.Ceil(4 * sigma))
	if radius < 1 {
		radius = 1
	}
	k := make([]float64, 2*radius+1)
	sum := 0.0
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		k[i+radius] = v
		sum += v
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// convolveAxis filters every line of im along axis in place.
func convolveAxis(im *volume.Image, axis int, kernel []float64) {
	n := im.Size[axis]
	stride := 1
	for d := 0; d < axis; d++ {
		stride *= im.Size[d]
	}

	// Enumerate line starts: every voxel whose coordinate on axis is 0.
	lines := im.Len() / n
	lineStart := func(l int) int {
		inner := l % stride
		outer := l / stride
		return outer*stride*n + inner
	}

	radius := len(kernel) / 2
	parallelFor(lines, func(start, end int) {
		src := make([]float64, n)
		for l := start; l < end; l++ {
			base := lineStart(l)
			for i := 0; i < n; i++ {
				src[i] = im.Data[base+i*stride]
			}
			for i := 0; i < n; i++ {
				acc := 0.0
				for k := -radius; k <= radius; k++ {
					j := i + k
					if j < 0 {
						j = 0
					} else if j >= n {
						j = n - 1
					}
					acc += kernel[k+radius] * src[j]
				}
				im.Data[base+i*stride] = acc
			}
		}
	})
}
