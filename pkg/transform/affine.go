package transform

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// AffineParameters is the number of parameters of a 3D affine transform:
// nine matrix entries followed by three translation components.
const AffineParameters = 12

// Affine is a 3D affine transform with a fixed center of rotation:
//
//	T(x) = A(x - c) + c + t
//
// Parameters are A in row-major order followed by t. The center c is a
// fixed parameter and is not optimized.
type Affine struct {
	Matrix      [9]float64
	Translation [3]float64
	Center      [3]float64
}

// NewAffine returns the identity affine centered at the origin.
func NewAffine() *Affine {
	return &Affine{Matrix: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// NewTranslation returns an affine that only translates by t.
func NewTranslation(t [3]float64) *Affine {
	a := NewAffine()
	a.Translation = t
	return a
}

// Clone returns a copy.
func (a *Affine) Clone() *Affine {
	c := *a
	return &c
}

// Offset returns the effective translation o such that T(x) = A x + o.
func (a *Affine) Offset() [3]float64 {
	var o [3]float64
	for r := 0; r < 3; r++ {
		o[r] = a.Translation[r] + a.Center[r]
		for c := 0; c < 3; c++ {
			o[r] -= a.Matrix[r*3+c] * a.Center[c]
		}
	}
	return o
}

func (a *Affine) TransformPoint(p [3]float64) [3]float64 {
	var q [3]float64
	for r := 0; r < 3; r++ {
		q[r] = a.Center[r] + a.Translation[r]
		for c := 0; c < 3; c++ {
			q[r] += a.Matrix[r*3+c] * (p[c] - a.Center[c])
		}
	}
	return q
}

func (a *Affine) NumberOfParameters() int { return AffineParameters }

func (a *Affine) Parameters() []float64 {
	params := make([]float64, AffineParameters)
	copy(params, a.Matrix[:])
	copy(params[9:], a.Translation[:])
	return params
}

func (a *Affine) SetParameters(params []float64) error {
	if err := checkParameterCount(len(params), AffineParameters); err != nil {
		return err
	}
	copy(a.Matrix[:], params[:9])
	copy(a.Translation[:], params[9:])
	return nil
}

// JacobianWRTParameters fills jac (3 x 12, row-major). Row r has (p - c) in
// the columns of matrix row r and a one in translation column r.
func (a *Affine) JacobianWRTParameters(p [3]float64, jac []float64) {
	for i := range jac[:3*AffineParameters] {
		jac[i] = 0
	}
	for r := 0; r < 3; r++ {
		row := jac[r*AffineParameters : (r+1)*AffineParameters]
		for c := 0; c < 3; c++ {
			row[r*3+c] = p[c] - a.Center[c]
		}
		row[9+r] = 1
	}
}

// Inverse returns the affine mapping moving points back to reference points.
// It fails when the linear part is singular.
func (a *Affine) Inverse() (*Affine, error) {
	var inv mat.Dense
	if err := inv.Inverse(mat.NewDense(3, 3, a.Matrix[:])); err != nil {
		return nil, fmt.Errorf("transform: affine is not invertible: %w", err)
	}

	// Keep the same center: T^-1(y) = A^-1 (y - c) + c + t' with
	// t' = -A^-1 t.
	out := &Affine{Center: a.Center}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out.Matrix[r*3+c] = inv.At(r, c)
		}
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out.Translation[r] -= out.Matrix[r*3+c] * a.Translation[c]
		}
	}
	return out, nil
}

// Compose returns the affine equivalent to applying inner first and then a,
// that is a(inner(x)). The result keeps inner's center.
func (a *Affine) Compose(inner *Affine) *Affine {
	var prod mat.Dense
	prod.Mul(mat.NewDense(3, 3, a.Matrix[:]), mat.NewDense(3, 3, inner.Matrix[:]))

	out := &Affine{Center: inner.Center}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out.Matrix[r*3+c] = prod.At(r, c)
		}
	}

	// a(inner(c)) = c + t for the new center.
	q := a.TransformPoint(inner.TransformPoint(inner.Center))
	for r := 0; r < 3; r++ {
		out.Translation[r] = q[r] - inner.Center[r]
	}
	return out
}

// IsIdentity reports whether the transform is the identity within tol.
func (a *Affine) IsIdentity(tol float64) bool {
	id := NewAffine()
	for i := range a.Matrix {
		if math.Abs(a.Matrix[i]-id.Matrix[i]) > tol {
			return false
		}
	}
	o := a.Offset()
	for r := 0; r < 3; r++ {
		if math.Abs(o[r]) > tol {
			return false
		}
	}
	return true
}

func (a *Affine) String() string {
	var b strings.Builder
	b.WriteString("AffineTransform\n")
	b.WriteString("  Matrix:\n")
	for r := 0; r < 3; r++ {
		fmt.Fprintf(&b, "    %10.6f %10.6f %10.6f\n", a.Matrix[r*3], a.Matrix[r*3+1], a.Matrix[r*3+2])
	}
	o := a.Offset()
	fmt.Fprintf(&b, "  Offset: [%g, %g, %g]\n", o[0], o[1], o[2])
	fmt.Fprintf(&b, "  Center: [%g, %g, %g]\n", a.Center[0], a.Center[1], a.Center[2])
	fmt.Fprintf(&b, "  Translation: [%g, %g, %g]", a.Translation[0], a.Translation[1], a.Translation[2])
	return b.String()
}
