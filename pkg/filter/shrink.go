package filter

import (
	"fmt"

	"ctalign/pkg/volume"
)

// Shrink subsamples im by integer factors per axis. Output voxel i takes
// the input voxel at i*f + (f-1)/2, and the output origin is moved onto
// that voxel so both images describe the same physical region. Smooth
// first to avoid aliasing.
func Shrink(im *volume.Image, factors [3]int) (*volume.Image, error) {
	var size [3]int
	var offset [3]int
	for d := 0; d < 3; d++ {
		if factors[d] < 1 {
			return nil, fmt.Errorf("filter: shrink factor must be at least 1, got %v", factors)
		}
		size[d] = im.Size[d] / factors[d]
		if size[d] < 1 {
			size[d] = 1
		}
		offset[d] = (factors[d] - 1) / 2
		if offset[d] > im.Size[d]-1 {
			offset[d] = im.Size[d] - 1
		}
	}

	out := volume.New(size, im.PixelType)
	out.Direction = im.Direction
	for d := 0; d < 3; d++ {
		out.Spacing[d] = im.Spacing[d] * float64(factors[d])
	}
	out.Origin = im.IndexToPhysical([3]float64{float64(offset[0]), float64(offset[1]), float64(offset[2])})

	parallelFor(size[2], func(start, end int) {
		for z := start; z < end; z++ {
			iz := z*factors[2] + offset[2]
			for y := 0; y < size[1]; y++ {
				iy := y*factors[1] + offset[1]
				for x := 0; x < size[0]; x++ {
					ix := x*factors[0] + offset[0]
					out.Data[out.Index(x, y, z)] = im.Data[im.Index(ix, iy, iz)]
				}
			}
		}
	})
	return out, nil
}

// ShrinkIsotropic shrinks every axis by f.
func ShrinkIsotropic(im *volume.Image, f int) (*volume.Image, error) {
	return Shrink(im, [3]int{f, f, f})
}
