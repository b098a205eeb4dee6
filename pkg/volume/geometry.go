package volume

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Geometry caches the index/physical mappings of an image grid. Hot loops
// use it instead of recomputing the direction inverse per point.
type Geometry struct {
	Size   [3]int
	Origin [3]float64

	// toPhysical is Direction * diag(Spacing), row-major.
	toPhysical [9]float64

	// toIndex is the inverse of toPhysical.
	toIndex [9]float64
}

// Geometry builds the cached mappings for im.
func (im *Image) Geometry() (*Geometry, error) {
	g := &Geometry{Size: im.Size, Origin: im.Origin}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			g.toPhysical[r*3+c] = im.Direction[r*3+c] * im.Spacing[c]
		}
	}

	var inv mat.Dense
	if err := inv.Inverse(mat.NewDense(3, 3, g.toPhysical[:])); err != nil {
		return nil, fmt.Errorf("volume: grid is not invertible: %w", err)
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			g.toIndex[r*3+c] = inv.At(r, c)
		}
	}
	return g, nil
}

// Point maps a continuous index to a physical point.
func (g *Geometry) Point(ci [3]float64) [3]float64 {
	m := &g.toPhysical
	return [3]float64{
		g.Origin[0] + m[0]*ci[0] + m[1]*ci[1] + m[2]*ci[2],
		g.Origin[1] + m[3]*ci[0] + m[4]*ci[1] + m[5]*ci[2],
		g.Origin[2] + m[6]*ci[0] + m[7]*ci[1] + m[8]*ci[2],
	}
}

// ContinuousIndex maps a physical point to a continuous index.
func (g *Geometry) ContinuousIndex(p [3]float64) [3]float64 {
	m := &g.toIndex
	d0, d1, d2 := p[0]-g.Origin[0], p[1]-g.Origin[1], p[2]-g.Origin[2]
	return [3]float64{
		m[0]*d0 + m[1]*d1 + m[2]*d2,
		m[3]*d0 + m[4]*d1 + m[5]*d2,
		m[6]*d0 + m[7]*d1 + m[8]*d2,
	}
}

// IndexGradientToPhysical converts a gradient taken with respect to index
// coordinates into one taken with respect to physical coordinates.
func (g *Geometry) IndexGradientToPhysical(gi [3]float64) [3]float64 {
	m := &g.toIndex
	// dI/dp = (dI/di) * (di/dp), i.e. toIndex transposed times gi.
	return [3]float64{
		m[0]*gi[0] + m[3]*gi[1] + m[6]*gi[2],
		m[1]*gi[0] + m[4]*gi[1] + m[7]*gi[2],
		m[2]*gi[0] + m[5]*gi[1] + m[8]*gi[2],
	}
}

// IsInside reports whether a continuous index lies within the buffer, that
// is within half a voxel of the outermost voxel centers.
func (g *Geometry) IsInside(ci [3]float64) bool {
	for d := 0; d < 3; d++ {
		if ci[d] < -0.5 || ci[d] >= float64(g.Size[d])-0.5 {
			return false
		}
	}
	return true
}

// Corners returns the physical positions of the eight corner voxel centers.
func (g *Geometry) Corners() [][3]float64 {
	out := make([][3]float64, 0, 8)
	for k := 0; k < 8; k++ {
		var ci [3]float64
		for d := 0; d < 3; d++ {
			if k&(1<<d) != 0 {
				ci[d] = float64(g.Size[d] - 1)
			}
		}
		out = append(out, g.Point(ci))
	}
	return out
}
