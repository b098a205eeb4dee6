// Package interpolation evaluates images between voxel centers.
//
// Interpolators work on continuous indices; callers map physical points
// through volume.Geometry first. A continuous index is inside the buffer
// when every component lies in [-0.5, size-0.5).
package interpolation

import (
	"fmt"
	"math"
	"strings"

	"ctalign/pkg/volume"
)

// Interpolator evaluates an image at a continuous index.
type Interpolator interface {
	// Evaluate returns the interpolated value and false when ci is outside
	// the buffer.
	Evaluate(im *volume.Image, ci [3]float64) (float64, bool)
}

// Method names an interpolation scheme.
type Method int

const (
	Linear Method = iota
	NearestNeighbor
)

func (m Method) String() string {
	switch m {
	case Linear:
		return "linear"
	case NearestNeighbor:
		return "nearest"
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// ParseMethod accepts "linear" and "nearest".
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(s) {
	case "linear", "trilinear":
		return Linear, nil
	case "nearest", "nearestneighbor", "nn":
		return NearestNeighbor, nil
	}
	return 0, fmt.Errorf("interpolation: unknown method %q", s)
}

// New returns the interpolator for m.
func New(m Method) Interpolator {
	if m == NearestNeighbor {
		return NearestNeighborInterpolator{}
	}
	return LinearInterpolator{}
}

func inside(im *volume.Image, ci [3]float64) bool {
	for d := 0; d < 3; d++ {
		if ci[d] < -0.5 || ci[d] >= float64(im.Size[d])-0.5 {
			return false
		}
	}
	return true
}

// NearestNeighborInterpolator returns the value of the closest voxel. It
// never produces values absent from the image.
type NearestNeighborInterpolator struct{}

func (NearestNeighborInterpolator) Evaluate(im *volume.Image, ci [3]float64) (float64, bool) {
	if !inside(im, ci) {
		return 0, false
	}
	x := nearest(ci[0], im.Size[0])
	y := nearest(ci[1], im.Size[1])
	z := nearest(ci[2], im.Size[2])
	return im.Data[im.Index(x, y, z)], true
}

// nearest rounds half up and clamps into [0, n-1].
func nearest(c float64, n int) int {
	i := int(math.Floor(c + 0.5))
	if i < 0 {
		return 0
	}
	if i > n-1 {
		return n - 1
	}
	return i
}

// LinearInterpolator blends the eight surrounding voxels. Neighbors beyond
// the last voxel are clamped to it, so values within half a voxel of the
// border stay defined.
type LinearInterpolator struct{}

func (LinearInterpolator) Evaluate(im *volume.Image, ci [3]float64) (float64, bool) {
	if !inside(im, ci) {
		return 0, false
	}
	return trilinear(im.Data, im.Size, ci), true
}

// Trilinear interpolates data laid out on a grid of the given size. ci must
// already be inside the buffer.
func Trilinear(data []float64, size [3]int, ci [3]float64) float64 {
	return trilinear(data, size, ci)
}

func trilinear(data []float64, size [3]int, ci [3]float64) float64 {
	var base [3]int
	var frac [3]float64
	var next [3]int
	for d := 0; d < 3; d++ {
		f := math.Floor(ci[d])
		b := int(f)
		frac[d] = ci[d] - f
		n := b + 1
		if b < 0 {
			b = 0
		}
		if n > size[d]-1 {
			n = size[d] - 1
		}
		if b > size[d]-1 {
			b = size[d] - 1
		}
		base[d], next[d] = b, n
	}

	nx, nxy := size[0], size[0]*size[1]
	x0, x1 := base[0], next[0]
	y0, y1 := base[1]*nx, next[1]*nx
	z0, z1 := base[2]*nxy, next[2]*nxy
	fx, fy, fz := frac[0], frac[1], frac[2]

	c00 := data[z0+y0+x0]*(1-fx) + data[z0+y0+x1]*fx
	c10 := data[z0+y1+x0]*(1-fx) + data[z0+y1+x1]*fx
	c01 := data[z1+y0+x0]*(1-fx) + data[z1+y0+x1]*fx
	c11 := data[z1+y1+x0]*(1-fx) + data[z1+y1+x1]*fx

	c0 := c00*(1-fy) + c10*fy
	c1 := c01*(1-fy) + c11*fy
	return c0*(1-fz) + c1*fz
}
