package registration

import (
	"math"

	"ctalign/pkg/transform"
	"ctalign/pkg/volume"
)

// PhysicalShiftScales estimates optimizer scales and step sizes from how
// far a parameter change moves points of the reference domain. Points are
// the eight corners of the reference grid, which bound the shift of any
// transform that is linear in its parameters.
type PhysicalShiftScales struct {
	transform transform.Parametric
	points    [][3]float64
}

// NewPhysicalShiftScales samples the corners of the virtual domain.
func NewPhysicalShiftScales(xfm transform.Parametric, virtual *volume.Image) (*PhysicalShiftScales, error) {
	g, err := virtual.Geometry()
	if err != nil {
		return nil, err
	}
	return &PhysicalShiftScales{transform: xfm, points: g.Corners()}, nil
}

// EstimateScales returns, per parameter, the squared largest physical shift
// caused by a unit change of that parameter. Translations get 1; matrix
// entries get the squared extent of the domain about the center, so
// rotations and translations take comparable steps.
func (s *PhysicalShiftScales) EstimateScales() []float64 {
	n := s.transform.NumberOfParameters()
	jac := make([]float64, 3*n)
	scales := make([]float64, n)
	for _, p := range s.points {
		s.transform.JacobianWRTParameters(p, jac)
		for j := 0; j < n; j++ {
			sq := 0.0
			for r := 0; r < 3; r++ {
				v := jac[r*n+j]
				sq += v * v
			}
			scales[j] = math.Max(scales[j], sq)
		}
	}
	for j := range scales {
		if scales[j] <= 0 {
			scales[j] = 1
		}
	}
	return scales
}

// MaximumShift returns the largest physical displacement of the sample
// points when params move by step.
func (s *PhysicalShiftScales) MaximumShift(params, step []float64) float64 {
	n := s.transform.NumberOfParameters()
	jac := make([]float64, 3*n)
	maxShift := 0.0
	for _, p := range s.points {
		s.transform.JacobianWRTParameters(p, jac)
		sq := 0.0
		for r := 0; r < 3; r++ {
			d := 0.0
			for j := 0; j < n; j++ {
				d += jac[r*n+j] * step[j]
			}
			sq += d * d
		}
		maxShift = math.Max(maxShift, math.Sqrt(sq))
	}
	return maxShift
}
