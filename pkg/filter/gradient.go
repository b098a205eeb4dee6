package filter

import (
	"ctalign/pkg/volume"
)

// Gradient returns the physical-space gradient of im as three Float64
// images (d/dx, d/dy, d/dz in physical coordinates). Interior voxels use
// central differences; border voxels use one-sided differences.
func Gradient(im *volume.Image) ([3]*volume.Image, error) {
	var out [3]*volume.Image
	g, err := im.Geometry()
	if err != nil {
		return out, err
	}
	for d := 0; d < 3; d++ {
		out[d] = volume.NewLike(im, volume.Float64)
	}

	nx, ny, nz := im.Size[0], im.Size[1], im.Size[2]
	strides := [3]int{1, nx, nx * ny}
	parallelFor(nz, func(start, end int) {
		for z := start; z < end; z++ {
			for y := 0; y < ny; y++ {
				for x := 0; x < nx; x++ {
					idx := [3]int{x, y, z}
					i := im.Index(x, y, z)
					var gi [3]float64
					for d := 0; d < 3; d++ {
						n := im.Size[d]
						if n < 2 {
							continue
						}
						s := strides[d]
						switch idx[d] {
						case 0:
							gi[d] = im.Data[i+s] - im.Data[i]
						case n - 1:
							gi[d] = im.Data[i] - im.Data[i-s]
						default:
							gi[d] = (im.Data[i+s] - im.Data[i-s]) / 2
						}
					}
					gp := g.IndexGradientToPhysical(gi)
					out[0].Data[i] = gp[0]
					out[1].Data[i] = gp[1]
					out[2].Data[i] = gp[2]
				}
			}
		}
	})
	return out, nil
}
