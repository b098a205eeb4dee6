package models

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"ctalign/pkg/volume"
)

// ErrInconsistentSeries is returned when slices of a series disagree on
// their in-plane geometry.
var ErrInconsistentSeries = errors.New("models: inconsistent slice geometry")

// Slice represents a single CT slice with the geometry needed to place it
// in patient space.
type Slice struct {
	// Path is the file the slice was read from
	Path string

	// SeriesUID groups slices acquired together
	SeriesUID string

	// InstanceNumber is the scanner's ordering of the slice
	InstanceNumber int

	// Position is the patient-space position (mm) of the first pixel
	Position [3]float64

	// Orientation holds the row direction cosines followed by the column
	// direction cosines
	Orientation [6]float64

	// PixelSpacing is the distance between rows then between columns, in mm
	PixelSpacing [2]float64

	// Thickness is the nominal slice thickness in mm
	Thickness float64

	Rows    int
	Columns int

	// Pixels holds Rows*Columns intensities in Hounsfield units, row by row
	Pixels []float64
}

// Normal is the unit slice normal, row direction cross column direction.
func (s *Slice) Normal() [3]float64 {
	r := s.Orientation[:3]
	c := s.Orientation[3:]
	n := [3]float64{
		r[1]*c[2] - r[2]*c[1],
		r[2]*c[0] - r[0]*c[2],
		r[0]*c[1] - r[1]*c[0],
	}
	l := math.Sqrt(n[0]*n[0] + n[1]*n[1] + n[2]*n[2])
	if l == 0 {
		return [3]float64{0, 0, 1}
	}
	return [3]float64{n[0] / l, n[1] / l, n[2] / l}
}

// Distance is the slice position projected on its normal.
func (s *Slice) Distance() float64 {
	n := s.Normal()
	return s.Position[0]*n[0] + s.Position[1]*n[1] + s.Position[2]*n[2]
}

// Series is an ordered stack of slices forming one volume.
type Series struct {
	Slices []*Slice
}

// Sort orders slices by position along the normal, falling back to the
// instance number for slices at the same position.
func (s *Series) Sort() {
	sort.SliceStable(s.Slices, func(i, j int) bool {
		di, dj := s.Slices[i].Distance(), s.Slices[j].Distance()
		if math.Abs(di-dj) > 1e-6 {
			return di < dj
		}
		return s.Slices[i].InstanceNumber < s.Slices[j].InstanceNumber
	})
}

// Validate checks that every slice shares the first slice's size,
// orientation and pixel spacing.
func (s *Series) Validate() error {
	if len(s.Slices) == 0 {
		return fmt.Errorf("%w: empty series", ErrInconsistentSeries)
	}
	first := s.Slices[0]
	for _, sl := range s.Slices {
		if sl.Rows != first.Rows || sl.Columns != first.Columns {
			return fmt.Errorf("%w: %s is %dx%d, expected %dx%d",
				ErrInconsistentSeries, sl.Path, sl.Columns, sl.Rows, first.Columns, first.Rows)
		}
		if len(sl.Pixels) != sl.Rows*sl.Columns {
			return fmt.Errorf("%w: %s has %d pixels for %dx%d",
				ErrInconsistentSeries, sl.Path, len(sl.Pixels), sl.Columns, sl.Rows)
		}
		for i := range sl.Orientation {
			if math.Abs(sl.Orientation[i]-first.Orientation[i]) > 1e-4 {
				return fmt.Errorf("%w: %s has orientation %v, expected %v",
					ErrInconsistentSeries, sl.Path, sl.Orientation, first.Orientation)
			}
		}
		for i := range sl.PixelSpacing {
			if math.Abs(sl.PixelSpacing[i]-first.PixelSpacing[i]) > 1e-4 {
				return fmt.Errorf("%w: %s has pixel spacing %v, expected %v",
					ErrInconsistentSeries, sl.Path, sl.PixelSpacing, first.PixelSpacing)
			}
		}
	}
	return nil
}

// SliceSpacing is the median distance between consecutive sorted slices.
// A single slice uses its thickness, or 1 mm without one.
func (s *Series) SliceSpacing() float64 {
	if len(s.Slices) < 2 {
		if len(s.Slices) == 1 && s.Slices[0].Thickness > 0 {
			return s.Slices[0].Thickness
		}
		return 1
	}
	gaps := make([]float64, 0, len(s.Slices)-1)
	for i := 1; i < len(s.Slices); i++ {
		gaps = append(gaps, math.Abs(s.Slices[i].Distance()-s.Slices[i-1].Distance()))
	}
	gap := median(gaps)
	if gap <= 0 {
		return 1
	}
	return gap
}

// Volume sorts and validates the series, then stacks it into a Float32
// image in patient (LPS) space.
func (s *Series) Volume() (*volume.Image, error) {
	s.Sort()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	first := s.Slices[0]
	im := volume.New([3]int{first.Columns, first.Rows, len(s.Slices)}, volume.Float32)
	im.Spacing = [3]float64{first.PixelSpacing[1], first.PixelSpacing[0], s.SliceSpacing()}
	for d := 0; d < 2; d++ {
		if im.Spacing[d] <= 0 {
			im.Spacing[d] = 1
		}
	}
	im.Origin = first.Position

	r, c, n := first.Orientation[:3], first.Orientation[3:], first.Normal()
	for row := 0; row < 3; row++ {
		im.Direction[row*3+0] = r[row]
		im.Direction[row*3+1] = c[row]
		im.Direction[row*3+2] = n[row]
	}

	plane := first.Rows * first.Columns
	for z, sl := range s.Slices {
		for i, v := range sl.Pixels {
			im.Data[z*plane+i] = volume.Float32.Convert(v)
		}
	}
	return im, nil
}

// median returns the median of values without modifying them.
func median(values []float64) float64 {
	valuesCopy := make([]float64, len(values))
	copy(valuesCopy, values)
	sort.Float64s(valuesCopy)

	n := len(valuesCopy)
	if n == 0 {
		return 0
	}
	if n%2 == 0 {
		return (valuesCopy[n/2-1] + valuesCopy[n/2]) / 2
	}
	return valuesCopy[n/2]
}
