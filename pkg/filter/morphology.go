package filter

import (
	"errors"
	"fmt"
	"strings"

	"ctalign/pkg/volume"
)

// ErrInvalidRadius is returned for negative structuring element radii.
var ErrInvalidRadius = errors.New("filter: invalid structuring element radius")

// KernelType is the shape of a structuring element.
type KernelType int

const (
	// Box is the (2r+1)^3 cuboid.
	Box KernelType = iota
	// Ball is the ellipsoid inscribed in the box.
	Ball
	// Cross holds the center and the voxels along each axis.
	Cross
)

func (k KernelType) String() string {
	switch k {
	case Box:
		return "box"
	case Ball:
		return "ball"
	case Cross:
		return "cross"
	}
	return fmt.Sprintf("KernelType(%d)", int(k))
}

// ParseKernelType accepts "box", "ball" and "cross".
func ParseKernelType(s string) (KernelType, error) {
	switch strings.ToLower(s) {
	case "box", "cube":
		return Box, nil
	case "ball", "sphere":
		return Ball, nil
	case "cross":
		return Cross, nil
	}
	return 0, fmt.Errorf("filter: unknown kernel type %q", s)
}

// StructuringElement describes a binary morphology kernel by radius in
// voxels along each axis.
type StructuringElement struct {
	Type   KernelType
	Radius [3]int
}

// NewBox returns an isotropic box of radius r.
func NewBox(r int) StructuringElement {
	return StructuringElement{Type: Box, Radius: [3]int{r, r, r}}
}

func (se StructuringElement) validate() error {
	for _, r := range se.Radius {
		if r < 0 {
			return fmt.Errorf("%w: %v", ErrInvalidRadius, se.Radius)
		}
	}
	return nil
}

func (se StructuringElement) isEmpty() bool {
	return se.Radius == [3]int{}
}

// Offsets lists the voxel offsets covered by the element.
func (se StructuringElement) Offsets() [][3]int {
	r := se.Radius
	var out [][3]int
	for dz := -r[2]; dz <= r[2]; dz++ {
		for dy := -r[1]; dy <= r[1]; dy++ {
			for dx := -r[0]; dx <= r[0]; dx++ {
				d := [3]int{dx, dy, dz}
				if se.contains(d) {
					out = append(out, d)
				}
			}
		}
	}
	return out
}

func (se StructuringElement) contains(d [3]int) bool {
	switch se.Type {
	case Cross:
		nonZero := 0
		for _, v := range d {
			if v != 0 {
				nonZero++
			}
		}
		return nonZero <= 1
	case Ball:
		sum := 0.0
		for a := 0; a < 3; a++ {
			if se.Radius[a] == 0 {
				if d[a] != 0 {
					return false
				}
				continue
			}
			// Half a voxel of slack keeps the axis tips in the ball.
			f := float64(d[a]) / (float64(se.Radius[a]) + 0.5)
			sum += f * f
		}
		return sum <= 1
	}
	return true
}

// isFg reports whether v is the foreground value.
func isFg(v, fg float64) bool { return v == fg }

// Dilate grows the foreground of a binary image. Voxels outside the image
// count as background. The output has the input's pixel type and holds fg
// or 0.
func Dilate(mask *volume.Image, se StructuringElement, fg float64) (*volume.Image, error) {
	if err := se.validate(); err != nil {
		return nil, err
	}
	bin := binarize(mask, fg)
	if se.Type == Box {
		for axis := 0; axis < 3; axis++ {
			sweepAxis(bin, axis, se.Radius[axis], true)
		}
	} else {
		bin = bruteForce(bin, se, true)
	}
	return fromBinary(mask, bin, fg), nil
}

// Erode shrinks the foreground of a binary image. Voxels outside the image
// count as foreground so objects touching the border are not eaten from
// outside.
func Erode(mask *volume.Image, se StructuringElement, fg float64) (*volume.Image, error) {
	if err := se.validate(); err != nil {
		return nil, err
	}
	bin := binarize(mask, fg)
	if se.Type == Box {
		for axis := 0; axis < 3; axis++ {
			sweepAxis(bin, axis, se.Radius[axis], false)
		}
	} else {
		bin = bruteForce(bin, se, false)
	}
	return fromBinary(mask, bin, fg), nil
}

// Closing is dilation followed by erosion. With safeBorder the image is
// padded with background by the kernel radius first, so the result equals
// the closing of the mask embedded in an infinite background.
func Closing(mask *volume.Image, se StructuringElement, fg float64, safeBorder bool) (*volume.Image, error) {
	if err := se.validate(); err != nil {
		return nil, err
	}
	if se.isEmpty() {
		return fromBinary(mask, binarize(mask, fg), fg), nil
	}
	src := mask
	if safeBorder {
		src = pad(mask, se.Radius)
	}
	dilated, err := Dilate(src, se, fg)
	if err != nil {
		return nil, err
	}
	closed, err := Erode(dilated, se, fg)
	if err != nil {
		return nil, err
	}
	if safeBorder {
		closed = crop(closed, se.Radius, mask)
	}
	return closed, nil
}

// Opening is erosion followed by dilation.
func Opening(mask *volume.Image, se StructuringElement, fg float64) (*volume.Image, error) {
	eroded, err := Erode(mask, se, fg)
	if err != nil {
		return nil, err
	}
	return Dilate(eroded, se, fg)
}

func binarize(mask *volume.Image, fg float64) *binaryImage {
	b := &binaryImage{size: mask.Size, data: make([]bool, len(mask.Data))}
	for i, v := range mask.Data {
		b.data[i] = isFg(v, fg)
	}
	return b
}

func fromBinary(like *volume.Image, b *binaryImage, fg float64) *volume.Image {
	out := volume.NewLike(like, like.PixelType)
	for i, on := range b.data {
		if on {
			out.Data[i] = fg
		}
	}
	return out
}

type binaryImage struct {
	size [3]int
	data []bool
}

// sweepAxis applies a 1D window of radius r along axis in place. With
// dilate the output is any(window), otherwise all(window), where the part
// of the window outside the image is ignored.
func sweepAxis(b *binaryImage, axis, r int, dilate bool) {
	if r == 0 {
		return
	}
	n := b.size[axis]
	stride := 1
	for d := 0; d < axis; d++ {
		stride *= b.size[d]
	}
	lines := len(b.data) / n

	parallelFor(lines, func(start, end int) {
		counts := make([]int, n+1)
		for l := start; l < end; l++ {
			base := (l/stride)*stride*n + l%stride
			for i := 0; i < n; i++ {
				counts[i+1] = counts[i]
				if b.data[base+i*stride] {
					counts[i+1]++
				}
			}
			for i := 0; i < n; i++ {
				lo, hi := i-r, i+r
				if lo < 0 {
					lo = 0
				}
				if hi > n-1 {
					hi = n - 1
				}
				on := counts[hi+1] - counts[lo]
				if dilate {
					b.data[base+i*stride] = on > 0
				} else {
					b.data[base+i*stride] = on == hi-lo+1
				}
			}
		}
	})
}

// bruteForce evaluates an arbitrary element voxel by voxel.
func bruteForce(b *binaryImage, se StructuringElement, dilate bool) *binaryImage {
	offsets := se.Offsets()
	out := &binaryImage{size: b.size, data: make([]bool, len(b.data))}
	nx, ny, nz := b.size[0], b.size[1], b.size[2]

	parallelFor(nz, func(start, end int) {
		for z := start; z < end; z++ {
			for y := 0; y < ny; y++ {
				for x := 0; x < nx; x++ {
					i := (z*ny+y)*nx + x
					if dilate && b.data[i] {
						out.data[i] = true
						continue
					}
					if !dilate && !b.data[i] {
						continue
					}
					result := !dilate
					for _, o := range offsets {
						px, py, pz := x+o[0], y+o[1], z+o[2]
						if px < 0 || py < 0 || pz < 0 || px >= nx || py >= ny || pz >= nz {
							continue
						}
						v := b.data[(pz*ny+py)*nx+px]
						if dilate && v {
							result = true
							break
						}
						if !dilate && !v {
							result = false
							break
						}
					}
					out.data[i] = result
				}
			}
		}
	})
	return out
}

// pad embeds mask in a background border of r voxels per side.
func pad(mask *volume.Image, r [3]int) *volume.Image {
	size := [3]int{mask.Size[0] + 2*r[0], mask.Size[1] + 2*r[1], mask.Size[2] + 2*r[2]}
	out := volume.New(size, mask.PixelType)
	out.Spacing = mask.Spacing
	out.Direction = mask.Direction
	out.Origin = mask.IndexToPhysical([3]float64{float64(-r[0]), float64(-r[1]), float64(-r[2])})
	for z := 0; z < mask.Size[2]; z++ {
		for y := 0; y < mask.Size[1]; y++ {
			src := mask.Index(0, y, z)
			dst := out.Index(r[0], y+r[1], z+r[2])
			copy(out.Data[dst:dst+mask.Size[0]], mask.Data[src:src+mask.Size[0]])
		}
	}
	return out
}

// crop undoes pad, returning an image on like's grid.
func crop(padded *volume.Image, r [3]int, like *volume.Image) *volume.Image {
	out := volume.NewLike(like, padded.PixelType)
	for z := 0; z < like.Size[2]; z++ {
		for y := 0; y < like.Size[1]; y++ {
			src := padded.Index(r[0], y+r[1], z+r[2])
			dst := out.Index(0, y, z)
			copy(out.Data[dst:dst+like.Size[0]], padded.Data[src:src+like.Size[0]])
		}
	}
	return out
}
