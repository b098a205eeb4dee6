// Package segmentation builds binary anatomical masks from CT volumes in
// Hounsfield units.
package segmentation

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"ctalign/pkg/filter"
	"ctalign/pkg/volume"
)

const (
	// DefaultHUMin keeps dense bone-like structures.
	DefaultHUMin = 206.0
	// DefaultClosingKernelSize is the closing radius in voxels per axis.
	DefaultClosingKernelSize = 4
)

// Options configure MaskFromHUWithOptions.
type Options struct {
	// HUMin is the lowest intensity counted as foreground.
	HUMin float64

	// ClosingKernelSize is the closing radius in voxels along every axis.
	// Zero skips the closing.
	ClosingKernelSize int
	// ClosingKernel defaults to a box; filter.Ball gives a rounded closing.
	ClosingKernel filter.KernelType

	// OpeningRadius, when positive, removes specks smaller than the
	// kernel after the closing.
	OpeningRadius int

	// FullyConnectedFill uses 26-connected background when filling holes.
	FullyConnectedFill bool

	Logger *logrus.Logger
}

// DefaultOptions returns the options used by MaskFromHU with the default
// threshold and kernel size.
func DefaultOptions() Options {
	return Options{
		HUMin:             DefaultHUMin,
		ClosingKernelSize: DefaultClosingKernelSize,
		ClosingKernel:     filter.Box,
	}
}

// MaskFromHU thresholds img at huMin, closes the result with a cube of
// radius closingKernelSize and fills enclosed holes. The mask has img's grid
// and UInt8 values 0 and 1.
func MaskFromHU(img *volume.Image, huMin float64, closingKernelSize int) (*volume.Image, error) {
	opts := DefaultOptions()
	opts.HUMin = huMin
	opts.ClosingKernelSize = closingKernelSize
	return MaskFromHUWithOptions(img, opts)
}

// MaskFromHUWithOptions is MaskFromHU with every step configurable.
func MaskFromHUWithOptions(img *volume.Image, opts Options) (*volume.Image, error) {
	if err := img.Validate(); err != nil {
		return nil, fmt.Errorf("segmentation: %w", err)
	}
	if opts.ClosingKernelSize < 0 || opts.OpeningRadius < 0 {
		return nil, fmt.Errorf("segmentation: %w: closing %d, opening %d",
			filter.ErrInvalidRadius, opts.ClosingKernelSize, opts.OpeningRadius)
	}

	mask := filter.ThresholdAtLeast(img, opts.HUMin)
	thresholded := mask.CountNonZero()

	var err error
	if opts.ClosingKernelSize > 0 {
		se := filter.StructuringElement{
			Type:   opts.ClosingKernel,
			Radius: [3]int{opts.ClosingKernelSize, opts.ClosingKernelSize, opts.ClosingKernelSize},
		}
		mask, err = filter.Closing(mask, se, 1, true)
		if err != nil {
			return nil, fmt.Errorf("segmentation: closing: %w", err)
		}
	}
	if opts.OpeningRadius > 0 {
		mask, err = filter.Opening(mask, filter.NewBox(opts.OpeningRadius), 1)
		if err != nil {
			return nil, fmt.Errorf("segmentation: opening: %w", err)
		}
	}
	mask = filter.FillHole(mask, 1, opts.FullyConnectedFill)

	if opts.Logger != nil {
		opts.Logger.WithFields(logrus.Fields{
			"huMin":       opts.HUMin,
			"kernel":      opts.ClosingKernel.String(),
			"radius":      opts.ClosingKernelSize,
			"thresholded": thresholded,
			"foreground":  mask.CountNonZero(),
		}).Debug("Built HU mask")
	}
	return mask, nil
}
