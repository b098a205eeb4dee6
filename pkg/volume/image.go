// Package volume provides the 3D image model shared by every ctalign package.
// An Image is a regular grid of samples with physical spacing, origin and
// direction cosines, stored as a flat slice with x varying fastest.
package volume

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrEmptyImage is returned when an image has a zero-sized axis or no data.
	ErrEmptyImage = errors.New("volume: empty image")

	// ErrGridMismatch is returned when two images are expected to share a grid.
	ErrGridMismatch = errors.New("volume: image grids do not match")
)

// Image is a 3D scalar image.
type Image struct {
	// Size is the number of voxels along x, y and z.
	Size [3]int

	// Spacing is the physical voxel size in mm along each index axis.
	Spacing [3]float64

	// Origin is the physical position of voxel (0, 0, 0).
	Origin [3]float64

	// Direction holds the direction cosines row-major; column j is the
	// physical direction of index axis j.
	Direction [9]float64

	// PixelType is the nominal storage type. Values in Data always lie in
	// the range of this type.
	PixelType PixelType

	// Data holds Size[0]*Size[1]*Size[2] samples, index z*nx*ny + y*nx + x.
	Data []float64
}

// IdentityDirection is the axis-aligned direction matrix.
var IdentityDirection = [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}

// New allocates a zero-filled image with unit spacing, zero origin and
// identity direction.
func New(size [3]int, pt PixelType) *Image {
	n := size[0] * size[1] * size[2]
	if n < 0 {
		n = 0
	}
	return &Image{
		Size:      size,
		Spacing:   [3]float64{1, 1, 1},
		Direction: IdentityDirection,
		PixelType: pt,
		Data:      make([]float64, n),
	}
}

// NewLike allocates a zero-filled image on the same grid as ref.
func NewLike(ref *Image, pt PixelType) *Image {
	im := New(ref.Size, pt)
	im.CopyInformation(ref)
	return im
}

// CopyInformation copies spacing, origin and direction from src.
func (im *Image) CopyInformation(src *Image) {
	im.Spacing = src.Spacing
	im.Origin = src.Origin
	im.Direction = src.Direction
}

// Len returns the number of voxels.
func (im *Image) Len() int {
	return im.Size[0] * im.Size[1] * im.Size[2]
}

// Index returns the offset of voxel (x, y, z) in Data.
func (im *Image) Index(x, y, z int) int {
	return (z*im.Size[1]+y)*im.Size[0] + x
}

// Coords is the inverse of Index.
func (im *Image) Coords(i int) (x, y, z int) {
	nx, ny := im.Size[0], im.Size[1]
	x = i % nx
	y = (i / nx) % ny
	z = i / (nx * ny)
	return
}

// At returns the sample at (x, y, z).
func (im *Image) At(x, y, z int) float64 {
	return im.Data[im.Index(x, y, z)]
}

// Set stores v at (x, y, z), converted to the image's pixel type.
func (im *Image) Set(x, y, z int, v float64) {
	im.Data[im.Index(x, y, z)] = im.PixelType.Convert(v)
}

// Clone returns a deep copy.
func (im *Image) Clone() *Image {
	out := *im
	out.Data = make([]float64, len(im.Data))
	copy(out.Data, im.Data)
	return &out
}

// Validate checks that the image has data matching its size, positive
// spacing and an invertible direction matrix.
func (im *Image) Validate() error {
	if im == nil {
		return ErrEmptyImage
	}
	for d := 0; d < 3; d++ {
		if im.Size[d] <= 0 {
			return fmt.Errorf("%w: size %v", ErrEmptyImage, im.Size)
		}
		if !(im.Spacing[d] > 0) {
			return fmt.Errorf("volume: spacing must be positive, got %v", im.Spacing)
		}
	}
	if len(im.Data) != im.Len() {
		return fmt.Errorf("volume: data length %d does not match size %v", len(im.Data), im.Size)
	}
	if math.Abs(mat.Det(mat.NewDense(3, 3, im.Direction[:]))) < 1e-9 {
		return fmt.Errorf("volume: direction matrix is singular")
	}
	return nil
}

// SameGrid reports whether both images have the same size and, within tol,
// the same spacing, origin and direction.
func (im *Image) SameGrid(other *Image, tol float64) bool {
	if im.Size != other.Size {
		return false
	}
	for d := 0; d < 3; d++ {
		if math.Abs(im.Spacing[d]-other.Spacing[d]) > tol || math.Abs(im.Origin[d]-other.Origin[d]) > tol {
			return false
		}
	}
	for i := range im.Direction {
		if math.Abs(im.Direction[i]-other.Direction[i]) > tol {
			return false
		}
	}
	return true
}

// IndexToPhysical maps a (possibly fractional) index to a physical point.
func (im *Image) IndexToPhysical(ci [3]float64) [3]float64 {
	var p [3]float64
	for r := 0; r < 3; r++ {
		p[r] = im.Origin[r]
		for c := 0; c < 3; c++ {
			p[r] += im.Direction[r*3+c] * im.Spacing[c] * ci[c]
		}
	}
	return p
}

// PhysicalToContinuousIndex maps a physical point to a continuous index.
// Loops over many points should build a Geometry once instead.
func (im *Image) PhysicalToContinuousIndex(p [3]float64) ([3]float64, error) {
	g, err := im.Geometry()
	if err != nil {
		return [3]float64{}, err
	}
	return g.ContinuousIndex(p), nil
}

// Center returns the physical center of the grid, the midpoint between the
// first and last voxel centers.
func (im *Image) Center() [3]float64 {
	var ci [3]float64
	for d := 0; d < 3; d++ {
		ci[d] = float64(im.Size[d]-1) / 2
	}
	return im.IndexToPhysical(ci)
}

// MinSpacing returns the smallest voxel extent.
func (im *Image) MinSpacing() float64 {
	return math.Min(im.Spacing[0], math.Min(im.Spacing[1], im.Spacing[2]))
}

// MinMax returns the smallest and largest sample.
func (im *Image) MinMax() (lo, hi float64) {
	if len(im.Data) == 0 {
		return 0, 0
	}
	lo, hi = im.Data[0], im.Data[0]
	for _, v := range im.Data[1:] {
		if v < lo {
			lo = v
		} else if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// CountNonZero returns the number of non-zero samples.
func (im *Image) CountNonZero() int {
	n := 0
	for _, v := range im.Data {
		if v != 0 {
			n++
		}
	}
	return n
}

// Cast returns a copy of im converted to pt.
func Cast(im *Image, pt PixelType) *Image {
	out := NewLike(im, pt)
	for i, v := range im.Data {
		out.Data[i] = pt.Convert(v)
	}
	return out
}

// CheckSameGrid returns ErrGridMismatch when a and b do not share a grid.
func CheckSameGrid(a, b *Image) error {
	if !a.SameGrid(b, 1e-6) {
		return fmt.Errorf("%w: %v vs %v", ErrGridMismatch, a.Size, b.Size)
	}
	return nil
}
