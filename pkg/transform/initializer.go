package transform

import "ctalign/pkg/volume"

// CenteredGeometryInitializer returns an affine whose center is the
// geometric center of the reference grid and whose translation moves that
// center onto the geometric center of the moving grid. The linear part is
// the identity. Intensities are not used.
func CenteredGeometryInitializer(ref, mov *volume.Image) *Affine {
	a := NewAffine()
	a.Center = ref.Center()
	mc := mov.Center()
	for d := 0; d < 3; d++ {
		a.Translation[d] = mc[d] - a.Center[d]
	}
	return a
}
