// Package transform provides parametric spatial mappings between physical
// spaces. A Transform maps points of the reference (fixed) space into the
// moving space, which is the direction resampling needs: each output voxel
// asks where its value lives in the moving image.
package transform

import (
	"errors"
	"fmt"
)

// ErrParameterCount is returned when a parameter vector has the wrong length.
var ErrParameterCount = errors.New("transform: wrong number of parameters")

// Transform is a spatial mapping of 3D physical points.
type Transform interface {
	// TransformPoint maps p from the reference space to the moving space.
	TransformPoint(p [3]float64) [3]float64
}

// Parametric is a Transform that an optimizer can drive.
type Parametric interface {
	Transform

	// NumberOfParameters is the length of the parameter vector.
	NumberOfParameters() int

	// Parameters returns a copy of the current parameters.
	Parameters() []float64

	// SetParameters replaces the current parameters.
	SetParameters(params []float64) error

	// JacobianWRTParameters writes dT(p)/dparams into jac, a 3 x
	// NumberOfParameters row-major matrix.
	JacobianWRTParameters(p [3]float64, jac []float64)
}

// Identity maps every point to itself.
type Identity struct{}

func (Identity) TransformPoint(p [3]float64) [3]float64 { return p }

// Composite applies its transforms back to front, so the last one added is
// applied first, matching how a chain of resampling steps composes.
type Composite struct {
	Transforms []Transform
}

// NewComposite builds a composite from transforms listed in the order they
// were estimated; the last is applied first.
func NewComposite(transforms ...Transform) *Composite {
	return &Composite{Transforms: transforms}
}

// Add appends t, which will be applied before the existing transforms.
func (c *Composite) Add(t Transform) {
	c.Transforms = append(c.Transforms, t)
}

func (c *Composite) TransformPoint(p [3]float64) [3]float64 {
	for i := len(c.Transforms) - 1; i >= 0; i-- {
		p = c.Transforms[i].TransformPoint(p)
	}
	return p
}

func checkParameterCount(got, want int) error {
	if got != want {
		return fmt.Errorf("%w: got %d, want %d", ErrParameterCount, got, want)
	}
	return nil
}
