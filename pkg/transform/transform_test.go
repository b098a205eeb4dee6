package transform

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctalign/pkg/volume"
)

// rotationZ builds an affine rotating by angle radians about z around center.
func rotationZ(angle float64, center [3]float64) *Affine {
	a := NewAffine()
	c, s := math.Cos(angle), math.Sin(angle)
	a.Matrix = [9]float64{c, -s, 0, s, c, 0, 0, 0, 1}
	a.Center = center
	return a
}

func TestAffineTransformPoint(t *testing.T) {
	a := rotationZ(math.Pi/2, [3]float64{1, 1, 0})
	a.Translation = [3]float64{0, 0, 5}

	p := a.TransformPoint([3]float64{2, 1, 0})
	assert.InDeltaSlice(t, []float64{1, 2, 5}, p[:], 1e-12)

	// Offset form must agree with the centered form.
	o := a.Offset()
	q := [3]float64{2, 1, 0}
	var viaOffset [3]float64
	for r := 0; r < 3; r++ {
		viaOffset[r] = o[r]
		for c := 0; c < 3; c++ {
			viaOffset[r] += a.Matrix[r*3+c] * q[c]
		}
	}
	assert.InDeltaSlice(t, p[:], viaOffset[:], 1e-12)
}

func TestAffineParameters(t *testing.T) {
	a := NewAffine()
	params := []float64{1, 2, 3, 4, 5, 6, 7, 8, 10, -1, -2, -3}
	require.NoError(t, a.SetParameters(params))
	assert.Equal(t, params, a.Parameters())
	assert.Equal(t, [3]float64{-1, -2, -3}, a.Translation)

	assert.ErrorIs(t, a.SetParameters(params[:5]), ErrParameterCount)
}

func TestAffineJacobianMatchesFiniteDifference(t *testing.T) {
	a := rotationZ(0.3, [3]float64{4, -2, 1})
	a.Translation = [3]float64{1, 2, 3}
	p := [3]float64{7, 3, -5}

	jac := make([]float64, 3*AffineParameters)
	a.JacobianWRTParameters(p, jac)

	base := a.Parameters()
	const h = 1e-6
	for i := 0; i < AffineParameters; i++ {
		params := append([]float64(nil), base...)
		params[i] += h
		b := a.Clone()
		require.NoError(t, b.SetParameters(params))
		q1 := b.TransformPoint(p)
		q0 := a.TransformPoint(p)
		for r := 0; r < 3; r++ {
			fd := (q1[r] - q0[r]) / h
			assert.InDelta(t, fd, jac[r*AffineParameters+i], 1e-5, "param %d row %d", i, r)
		}
	}
}

func TestAffineInverse(t *testing.T) {
	a := rotationZ(0.4, [3]float64{10, 5, -3})
	a.Matrix[8] = 1.2
	a.Translation = [3]float64{3, -1, 2}

	inv, err := a.Inverse()
	require.NoError(t, err)

	for _, p := range [][3]float64{{0, 0, 0}, {12, -7, 3}, {-4, 8, 40}} {
		back := inv.TransformPoint(a.TransformPoint(p))
		assert.InDeltaSlice(t, p[:], back[:], 1e-9)
	}
	assert.True(t, a.Compose(inv).IsIdentity(1e-9))

	singular := NewAffine()
	singular.Matrix = [9]float64{}
	_, err = singular.Inverse()
	assert.Error(t, err)
}

func TestAffineCompose(t *testing.T) {
	outer := rotationZ(0.2, [3]float64{1, 2, 3})
	outer.Translation = [3]float64{5, 0, 0}
	inner := NewTranslation([3]float64{0, -3, 1})
	inner.Center = [3]float64{-4, 4, 0}

	composed := outer.Compose(inner)
	for _, p := range [][3]float64{{0, 0, 0}, {3, 9, -1}} {
		want := outer.TransformPoint(inner.TransformPoint(p))
		got := composed.TransformPoint(p)
		assert.InDeltaSlice(t, want[:], got[:], 1e-9)
	}
	assert.Equal(t, inner.Center, composed.Center)
}

func TestCompositeOrder(t *testing.T) {
	scale := NewAffine()
	scale.Matrix = [9]float64{2, 0, 0, 0, 2, 0, 0, 0, 2}
	shift := NewTranslation([3]float64{1, 0, 0})

	// shift is added last, so it runs first: scale(shift(p)).
	c := NewComposite(scale)
	c.Add(shift)
	got := c.TransformPoint([3]float64{1, 1, 1})
	assert.Equal(t, [3]float64{4, 2, 2}, got)

	assert.Equal(t, [3]float64{1, 2, 3}, Identity{}.TransformPoint([3]float64{1, 2, 3}))
}

func TestCenteredGeometryInitializer(t *testing.T) {
	ref := volume.New([3]int{11, 11, 11}, volume.Float32)
	mov := volume.New([3]int{21, 11, 5}, volume.Float32)
	mov.Origin = [3]float64{-5, 2, 0}
	mov.Spacing = [3]float64{0.5, 1, 2}

	a := CenteredGeometryInitializer(ref, mov)
	assert.Equal(t, [3]float64{5, 5, 5}, a.Center)

	got := a.TransformPoint(ref.Center())
	want := mov.Center()
	assert.InDeltaSlice(t, want[:], got[:], 1e-12)
	assert.Equal(t, NewAffine().Matrix, a.Matrix)
}

func TestSaveLoad(t *testing.T) {
	a := rotationZ(0.1, [3]float64{1, 2, 3})
	a.Translation = [3]float64{-0.5, 0.25, 7}

	path := filepath.Join(t.TempDir(), "xfm", "affine.yaml")
	require.NoError(t, Save(a, path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, a.Parameters(), got.Parameters())
	assert.Equal(t, a.Center, got.Center)

	_, err = Unmarshal([]byte("type: BSplineTransform\nparameters: []\n"))
	assert.Error(t, err)
}
