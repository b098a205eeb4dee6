// Package visualization renders 2D views of CT volumes and registration
// results for visual review.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"

	"ctalign/pkg/volume"
)

// Window maps intensities to display gray levels. Values at or below
// Level-Width/2 are black and values at or above Level+Width/2 are white.
type Window struct {
	Level float64
	Width float64
}

// Common CT display windows in HU.
var (
	BoneWindow       = Window{Level: 400, Width: 1800}
	SoftTissueWindow = Window{Level: 40, Width: 400}
	LungWindow       = Window{Level: -600, Width: 1500}
)

// FullRange returns the window spanning the intensity range of im.
func FullRange(im *volume.Image) Window {
	lo, hi := im.MinMax()
	return Window{Level: (lo + hi) / 2, Width: hi - lo}
}

// Gray16 maps v into the window.
func (w Window) Gray16(v float64) uint16 {
	if w.Width <= 0 {
		if v >= w.Level {
			return 65535
		}
		return 0
	}
	t := (v - (w.Level - w.Width/2)) / w.Width
	switch {
	case t <= 0 || t != t:
		return 0
	case t >= 1:
		return 65535
	}
	return uint16(t*65535 + 0.5)
}

// Viewer extracts and saves slices of a volume.
type Viewer struct {
	volume *volume.Image
	window Window
}

// NewViewer creates a viewer for im displayed through window.
func NewViewer(im *volume.Image, window Window) *Viewer {
	return &Viewer{volume: im, window: window}
}

// SetWindow changes the display window.
func (v *Viewer) SetWindow(w Window) { v.window = w }

// axisLength returns the number of slices along axis.
func (v *Viewer) axisLength(axis string) (int, error) {
	switch axis {
	case "x", "X":
		return v.volume.Size[0], nil
	case "y", "Y":
		return v.volume.Size[1], nil
	case "z", "Z":
		return v.volume.Size[2], nil
	}
	return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// ExtractSlice extracts a 2D slice from the volume along the specified
// axis. An x slice is laid out (z, y), a y slice (x, z) and a z slice
// (x, y).
func (v *Viewer) ExtractSlice(axis string, position int) (*image.Gray16, error) {
	n, err := v.axisLength(axis)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= n {
		return nil, fmt.Errorf("position %d outside [0, %d) along %s", position, n, axis)
	}

	im := v.volume
	nx, ny, nz := im.Size[0], im.Size[1], im.Size[2]
	var img *image.Gray16
	switch axis {
	case "x", "X":
		img = image.NewGray16(image.Rect(0, 0, nz, ny))
		for y := 0; y < ny; y++ {
			for z := 0; z < nz; z++ {
				img.SetGray16(z, y, color.Gray16{Y: v.window.Gray16(im.At(position, y, z))})
			}
		}
	case "y", "Y":
		img = image.NewGray16(image.Rect(0, 0, nx, nz))
		for z := 0; z < nz; z++ {
			for x := 0; x < nx; x++ {
				img.SetGray16(x, z, color.Gray16{Y: v.window.Gray16(im.At(x, position, z))})
			}
		}
	default:
		img = image.NewGray16(image.Rect(0, 0, nx, ny))
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				img.SetGray16(x, y, color.Gray16{Y: v.window.Gray16(im.At(x, y, position))})
			}
		}
	}
	return img, nil
}

// ExtractRegion copies the box [start, start+size) into a new image whose
// origin keeps every voxel at its physical position.
func (v *Viewer) ExtractRegion(start, size [3]int) (*volume.Image, error) {
	for d := 0; d < 3; d++ {
		if start[d] < 0 {
			return nil, fmt.Errorf("start coordinates must be non-negative")
		}
		if size[d] <= 0 {
			return nil, fmt.Errorf("size dimensions must be positive")
		}
		if start[d]+size[d] > v.volume.Size[d] {
			return nil, fmt.Errorf("region extends beyond volume boundaries")
		}
	}

	src := v.volume
	out := volume.New(size, src.PixelType)
	out.Spacing = src.Spacing
	out.Direction = src.Direction
	out.Origin = src.IndexToPhysical([3]float64{float64(start[0]), float64(start[1]), float64(start[2])})
	for z := 0; z < size[2]; z++ {
		for y := 0; y < size[1]; y++ {
			for x := 0; x < size[0]; x++ {
				out.Set(x, y, z, src.At(start[0]+x, start[1]+y, start[2]+z))
			}
		}
	}
	return out, nil
}

// SaveSlice writes img in the format named by the file extension: .png,
// .tif/.tiff (16-bit) or .jpg/.jpeg.
func SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		err = png.Encode(file, img)
	case ".tif", ".tiff":
		err = tiff.Encode(file, img, &tiff.Options{Compression: tiff.Deflate})
	case ".jpg", ".jpeg":
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	default:
		err = fmt.Errorf("unsupported slice format %q", filepath.Ext(filename))
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	return err
}

// SaveSliceSequence extracts and saves every slice along axis into
// outputDir as slice_<axis>_<nnn>.<format>.
func (v *Viewer) SaveSliceSequence(axis, outputDir, format string) error {
	n, err := v.axisLength(axis)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}
	format = strings.TrimPrefix(strings.ToLower(format), ".")

	for pos := 0; pos < n; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.%s", strings.ToLower(axis), pos, format))
		if err := SaveSlice(img, filename); err != nil {
			return err
		}
	}
	return nil
}

// Checkerboard interleaves cubes of tile voxels from a and b, starting with
// a at the origin corner. Misalignment shows up as broken edges between
// tiles. Both images must share a grid.
func Checkerboard(a, b *volume.Image, tile int) (*volume.Image, error) {
	if err := volume.CheckSameGrid(a, b); err != nil {
		return nil, err
	}
	if tile < 1 {
		return nil, fmt.Errorf("checkerboard tile must be positive, got %d", tile)
	}
	out := volume.NewLike(a, a.PixelType)
	for i := range out.Data {
		x, y, z := a.Coords(i)
		if (x/tile+y/tile+z/tile)%2 == 0 {
			out.Data[i] = a.Data[i]
		} else {
			out.Data[i] = a.PixelType.Convert(b.Data[i])
		}
	}
	return out, nil
}
