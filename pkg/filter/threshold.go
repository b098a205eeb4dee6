package filter

import (
	"math"

	"ctalign/pkg/volume"
)

// BinaryThreshold returns a UInt8 image holding inside where lower <= v <=
// upper and outside elsewhere. Use math.Inf for an open bound.
func BinaryThreshold(im *volume.Image, lower, upper float64, inside, outside uint8) *volume.Image {
	out := volume.NewLike(im, volume.UInt8)
	in, outV := float64(inside), float64(outside)
	parallelFor(len(im.Data), func(start, end int) {
		for i := start; i < end; i++ {
			v := im.Data[i]
			if v >= lower && v <= upper {
				out.Data[i] = in
			} else {
				out.Data[i] = outV
			}
		}
	})
	return out
}

// ThresholdAtLeast marks voxels with v >= lower as 1.
func ThresholdAtLeast(im *volume.Image, lower float64) *volume.Image {
	return BinaryThreshold(im, lower, math.Inf(1), 1, 0)
}
