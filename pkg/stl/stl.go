// Package stl exports binary masks as triangle meshes in the STL format.
package stl

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"ctalign/pkg/volume"
)

// Triangle is one facet of a mesh in physical coordinates (mm).
type Triangle struct {
	Normal  [3]float32
	Vertex1 [3]float32
	Vertex2 [3]float32
	Vertex3 [3]float32
}

// SurfaceExtractor turns the foreground voxels of a mask into the closed
// surface of their union. Every voxel face between foreground and
// background (or the outside of the image) becomes two triangles with an
// outward normal.
type SurfaceExtractor struct {
	mask *volume.Image
	geom *volume.Geometry
	fg   float64
}

// NewSurfaceExtractor prepares a mask whose foreground value is fg.
func NewSurfaceExtractor(mask *volume.Image, fg float64) (*SurfaceExtractor, error) {
	if err := mask.Validate(); err != nil {
		return nil, fmt.Errorf("stl: %w", err)
	}
	g, err := mask.Geometry()
	if err != nil {
		return nil, err
	}
	return &SurfaceExtractor{mask: mask, geom: g, fg: fg}, nil
}

func (s *SurfaceExtractor) isForeground(x, y, z int) bool {
	sz := s.mask.Size
	if x < 0 || y < 0 || z < 0 || x >= sz[0] || y >= sz[1] || z >= sz[2] {
		return false
	}
	return s.mask.At(x, y, z) == s.fg
}

// GenerateTriangles returns the boundary mesh.
func (s *SurfaceExtractor) GenerateTriangles() []Triangle {
	var triangles []Triangle
	sz := s.mask.Size
	for z := 0; z < sz[2]; z++ {
		for y := 0; y < sz[1]; y++ {
			for x := 0; x < sz[0]; x++ {
				if !s.isForeground(x, y, z) {
					continue
				}
				idx := [3]int{x, y, z}
				for axis := 0; axis < 3; axis++ {
					for _, side := range []int{-1, 1} {
						n := idx
						n[axis] += side
						if s.isForeground(n[0], n[1], n[2]) {
							continue
						}
						triangles = append(triangles, s.face(idx, axis, side)...)
					}
				}
			}
		}
	}
	return triangles
}

// face returns the two triangles of the voxel face on the given side of
// axis.
func (s *SurfaceExtractor) face(idx [3]int, axis, side int) []Triangle {
	u, v := (axis+1)%3, (axis+2)%3
	corner := func(du, dv float64) [3]float32 {
		var ci [3]float64
		ci[axis] = float64(idx[axis]) + 0.5*float64(side)
		ci[u] = float64(idx[u]) + du
		ci[v] = float64(idx[v]) + dv
		p := s.geom.Point(ci)
		return [3]float32{float32(p[0]), float32(p[1]), float32(p[2])}
	}
	quad := [4][3]float32{corner(-0.5, -0.5), corner(0.5, -0.5), corner(0.5, 0.5), corner(-0.5, 0.5)}

	// Outward normal in index space, mapped to physical space.
	var in [3]float64
	in[axis] = float64(side)
	outward := s.geom.IndexGradientToPhysical(in)

	tris := []Triangle{
		newTriangle(quad[0], quad[1], quad[2]),
		newTriangle(quad[0], quad[2], quad[3]),
	}
	for i := range tris {
		t := &tris[i]
		dot := float64(t.Normal[0])*outward[0] + float64(t.Normal[1])*outward[1] + float64(t.Normal[2])*outward[2]
		if dot < 0 {
			t.Vertex2, t.Vertex3 = t.Vertex3, t.Vertex2
			t.Normal = [3]float32{-t.Normal[0], -t.Normal[1], -t.Normal[2]}
		}
	}
	return tris
}

// newTriangle computes the unit normal from the counter-clockwise winding
// a, b, c.
func newTriangle(a, b, c [3]float32) Triangle {
	e1 := [3]float64{float64(b[0] - a[0]), float64(b[1] - a[1]), float64(b[2] - a[2])}
	e2 := [3]float64{float64(c[0] - a[0]), float64(c[1] - a[1]), float64(c[2] - a[2])}
	n := [3]float64{
		e1[1]*e2[2] - e1[2]*e2[1],
		e1[2]*e2[0] - e1[0]*e2[2],
		e1[0]*e2[1] - e1[1]*e2[0],
	}
	if l := math.Sqrt(n[0]*n[0] + n[1]*n[1] + n[2]*n[2]); l > 0 {
		n[0], n[1], n[2] = n[0]/l, n[1]/l, n[2]/l
	}
	return Triangle{
		Normal:  [3]float32{float32(n[0]), float32(n[1]), float32(n[2])},
		Vertex1: a,
		Vertex2: b,
		Vertex3: c,
	}
}

// FromMask is NewSurfaceExtractor followed by GenerateTriangles.
func FromMask(mask *volume.Image, fg float64) ([]Triangle, error) {
	s, err := NewSurfaceExtractor(mask, fg)
	if err != nil {
		return nil, err
	}
	return s.GenerateTriangles(), nil
}

// SaveToSTL writes triangles to path as binary STL.
func SaveToSTL(path string, triangles []Triangle) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)

	var header [80]byte
	copy(header[:], "ctalign binary STL")
	if _, err := w.Write(header[:]); err != nil {
		f.Close()
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(triangles))); err != nil {
		f.Close()
		return err
	}

	var rec [50]byte
	for _, t := range triangles {
		off := 0
		for _, vec := range [4][3]float32{t.Normal, t.Vertex1, t.Vertex2, t.Vertex3} {
			for _, c := range vec {
				binary.LittleEndian.PutUint32(rec[off:], math.Float32bits(c))
				off += 4
			}
		}
		// rec[48:50] is the unused attribute byte count.
		if _, err := w.Write(rec[:]); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
