package filter

import (
	"fmt"

	"ctalign/pkg/interpolation"
	"ctalign/pkg/transform"
	"ctalign/pkg/volume"
)

// Resample produces an image on ref's grid. Each output voxel is mapped
// to physical space, through xfm into the moving space, and evaluated in
// mov with interp. Points outside mov get defaultValue. Values are
// converted to pt.
func Resample(mov, ref *volume.Image, xfm transform.Transform, interp interpolation.Interpolator,
	defaultValue float64, pt volume.PixelType) (*volume.Image, error) {
	if err := mov.Validate(); err != nil {
		return nil, fmt.Errorf("moving image: %w", err)
	}
	if err := ref.Validate(); err != nil {
		return nil, fmt.Errorf("reference image: %w", err)
	}
	refGeom, err := ref.Geometry()
	if err != nil {
		return nil, err
	}
	movGeom, err := mov.Geometry()
	if err != nil {
		return nil, err
	}

	out := volume.NewLike(ref, pt)
	fill := pt.Convert(defaultValue)
	nx, ny := ref.Size[0], ref.Size[1]

	parallelFor(ref.Size[2], func(start, end int) {
		for z := start; z < end; z++ {
			for y := 0; y < ny; y++ {
				for x := 0; x < nx; x++ {
					p := refGeom.Point([3]float64{float64(x), float64(y), float64(z)})
					q := xfm.TransformPoint(p)
					v, ok := interp.Evaluate(mov, movGeom.ContinuousIndex(q))
					i := (z*ny+y)*nx + x
					if !ok {
						out.Data[i] = fill
						continue
					}
					out.Data[i] = pt.Convert(v)
				}
			}
		}
	})
	return out, nil
}
