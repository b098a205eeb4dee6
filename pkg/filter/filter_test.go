package filter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctalign/pkg/interpolation"
	"ctalign/pkg/transform"
	"ctalign/pkg/volume"
)

// createCubeMask returns a UInt8 mask of the given size with a solid cube
// of ones spanning [lo, hi) on every axis.
func createCubeMask(size, lo, hi int) *volume.Image {
	m := volume.New([3]int{size, size, size}, volume.UInt8)
	for z := lo; z < hi; z++ {
		for y := lo; y < hi; y++ {
			for x := lo; x < hi; x++ {
				m.Set(x, y, z, 1)
			}
		}
	}
	return m
}

func TestGaussianKernelIsNormalized(t *testing.T) {
	for _, sigma := range []float64{0.3, 1, 2.5} {
		k := gaussianKernel(sigma)
		sum := 0.0
		for _, v := range k {
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-12)
		assert.Equal(t, k[0], k[len(k)-1])
	}
}

func TestGaussianSmoothPreservesConstantAndMean(t *testing.T) {
	im := volume.New([3]int{9, 9, 9}, volume.Float32)
	for i := range im.Data {
		im.Data[i] = 42
	}
	out := GaussianSmooth(im, 2)
	for _, v := range out.Data {
		assert.InDelta(t, 42.0, v, 1e-9)
	}

	// A point source spreads out but keeps its peak at the center.
	impulse := volume.New([3]int{15, 15, 15}, volume.Float64)
	impulse.Set(7, 7, 7, 1000)
	blurred := GaussianSmooth(impulse, 1.5)
	assert.Less(t, blurred.At(7, 7, 7), 1000.0)
	assert.Greater(t, blurred.At(7, 7, 7), blurred.At(8, 7, 7))
	assert.InDelta(t, blurred.At(6, 7, 7), blurred.At(8, 7, 7), 1e-9)

	same := GaussianSmooth(impulse, 0)
	assert.Equal(t, impulse.Data, same.Data)
}

func TestGaussianSigmaIsPhysical(t *testing.T) {
	// With spacing 2 along x a 2mm sigma is one voxel; along y it is two.
	impulse := volume.New([3]int{21, 21, 1}, volume.Float64)
	impulse.Spacing = [3]float64{2, 1, 1}
	impulse.Set(10, 10, 0, 1)
	out := GaussianSmooth(impulse, 2)
	assert.Less(t, out.At(11, 10, 0), out.At(10, 10, 0))
	// One voxel along x equals 2mm, the same distance as two voxels along y.
	assert.InDelta(t, out.At(11, 10, 0), out.At(10, 12, 0), 1e-9)
}

func TestShrink(t *testing.T) {
	im := volume.New([3]int{9, 8, 4}, volume.Int16)
	im.Spacing = [3]float64{1, 0.5, 2}
	for i := range im.Data {
		im.Data[i] = float64(i)
	}

	out, err := Shrink(im, [3]int{4, 2, 1})
	require.NoError(t, err)
	assert.Equal(t, [3]int{2, 4, 4}, out.Size)
	assert.Equal(t, [3]float64{4, 1, 2}, out.Spacing)

	// Output voxel (1, 1, 2) samples input voxel (5, 2, 2).
	assert.Equal(t, im.At(5, 2, 2), out.At(1, 1, 2))
	// Origins line up with the sampled voxel centers.
	p := out.IndexToPhysical([3]float64{1, 1, 2})
	q := im.IndexToPhysical([3]float64{5, 2, 2})
	assert.InDeltaSlice(t, q[:], p[:], 1e-12)

	_, err = Shrink(im, [3]int{0, 1, 1})
	assert.Error(t, err)
}

func TestBinaryThreshold(t *testing.T) {
	im := volume.New([3]int{4, 1, 1}, volume.Int16)
	im.Data = []float64{-1000, 205, 206, 1200}
	out := ThresholdAtLeast(im, 206)
	assert.Equal(t, volume.UInt8, out.PixelType)
	assert.Equal(t, []float64{0, 0, 1, 1}, out.Data)

	band := BinaryThreshold(im, 0, 500, 7, 3)
	assert.Equal(t, []float64{3, 7, 7, 3}, band.Data)
}

func TestGradientOfRamp(t *testing.T) {
	im := volume.New([3]int{6, 6, 6}, volume.Float64)
	im.Spacing = [3]float64{2, 1, 0.5}
	for z := 0; z < 6; z++ {
		for y := 0; y < 6; y++ {
			for x := 0; x < 6; x++ {
				p := im.IndexToPhysical([3]float64{float64(x), float64(y), float64(z)})
				im.Set(x, y, z, 3*p[0]-p[1]+2*p[2])
			}
		}
	}
	g, err := Gradient(im)
	require.NoError(t, err)
	for _, i := range []int{0, im.Index(3, 2, 4), im.Len() - 1} {
		assert.InDelta(t, 3.0, g[0].Data[i], 1e-9)
		assert.InDelta(t, -1.0, g[1].Data[i], 1e-9)
		assert.InDelta(t, 2.0, g[2].Data[i], 1e-9)
	}
}

func TestStructuringElements(t *testing.T) {
	assert.Len(t, NewBox(1).Offsets(), 27)
	assert.Len(t, StructuringElement{Type: Cross, Radius: [3]int{1, 1, 1}}.Offsets(), 7)

	ball := StructuringElement{Type: Ball, Radius: [3]int{2, 2, 2}}.Offsets()
	assert.Less(t, len(ball), 125)
	assert.Contains(t, ball, [3]int{2, 0, 0})
	assert.NotContains(t, ball, [3]int{2, 2, 2})

	k, err := ParseKernelType("Ball")
	require.NoError(t, err)
	assert.Equal(t, Ball, k)
	_, err = ParseKernelType("diamond")
	assert.Error(t, err)
}

func TestDilateErodeBox(t *testing.T) {
	m := volume.New([3]int{7, 7, 7}, volume.UInt8)
	m.Set(3, 3, 3, 1)

	d, err := Dilate(m, NewBox(1), 1)
	require.NoError(t, err)
	assert.Equal(t, 27, d.CountNonZero())
	assert.Equal(t, 1.0, d.At(2, 2, 2))
	assert.Equal(t, 0.0, d.At(1, 3, 3))

	e, err := Erode(d, NewBox(1), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, e.CountNonZero())
	assert.Equal(t, 1.0, e.At(3, 3, 3))

	_, err = Dilate(m, StructuringElement{Radius: [3]int{-1, 0, 0}}, 1)
	assert.ErrorIs(t, err, ErrInvalidRadius)
}

func TestBoxMatchesBruteForce(t *testing.T) {
	m := volume.New([3]int{10, 9, 8}, volume.UInt8)
	for i := range m.Data {
		if (i*7919)%13 < 3 {
			m.Data[i] = 1
		}
	}
	se := StructuringElement{Type: Box, Radius: [3]int{2, 1, 1}}

	for _, dilate := range []bool{true, false} {
		fast := binarize(m, 1)
		for axis := 0; axis < 3; axis++ {
			sweepAxis(fast, axis, se.Radius[axis], dilate)
		}
		slow := bruteForce(binarize(m, 1), se, dilate)
		assert.Equal(t, slow.data, fast.data, "dilate=%v", dilate)
	}
}

func TestErodeKeepsBorderObjects(t *testing.T) {
	m := volume.New([3]int{5, 5, 5}, volume.UInt8)
	for i := range m.Data {
		m.Data[i] = 1
	}
	e, err := Erode(m, NewBox(2), 1)
	require.NoError(t, err)
	assert.Equal(t, m.Len(), e.CountNonZero())
}

func TestClosingFillsGap(t *testing.T) {
	// Two slabs separated by a one-voxel gap along x.
	m := volume.New([3]int{12, 8, 8}, volume.UInt8)
	for z := 2; z < 6; z++ {
		for y := 2; y < 6; y++ {
			for x := 2; x < 10; x++ {
				if x != 6 {
					m.Set(x, y, z, 1)
				}
			}
		}
	}
	c, err := Closing(m, NewBox(1), 1, true)
	require.NoError(t, err)
	assert.Equal(t, 1.0, c.At(6, 3, 3))
	assert.Equal(t, 8*4*4, c.CountNonZero())
}

func TestClosingOfCubeIsCube(t *testing.T) {
	m := createCubeMask(20, 6, 14)
	for _, safe := range []bool{true, false} {
		c, err := Closing(m, NewBox(4), 1, safe)
		require.NoError(t, err)
		assert.Equal(t, m.Data, c.Data, "safeBorder=%v", safe)
	}

	ball := StructuringElement{Type: Ball, Radius: [3]int{2, 2, 2}}
	c, err := Closing(m, ball, 1, true)
	require.NoError(t, err)
	assert.Equal(t, m.Data, c.Data)
}

func TestClosingSafeBorder(t *testing.T) {
	// A cube touching the x=0 face: with a safe border nothing is added
	// along the image edge.
	m := volume.New([3]int{10, 10, 10}, volume.UInt8)
	for z := 3; z < 7; z++ {
		for y := 3; y < 7; y++ {
			for x := 0; x < 4; x++ {
				m.Set(x, y, z, 1)
			}
		}
	}
	c, err := Closing(m, NewBox(2), 1, true)
	require.NoError(t, err)
	assert.Equal(t, m.Data, c.Data)
}

func TestOpeningRemovesSpeck(t *testing.T) {
	m := createCubeMask(16, 4, 12)
	m.Set(0, 0, 0, 1)
	o, err := Opening(m, NewBox(1), 1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, o.At(0, 0, 0))
	assert.Equal(t, 8*8*8, o.CountNonZero())
}

func TestFillHole(t *testing.T) {
	// Hollow cube shell with a cavity.
	m := createCubeMask(12, 2, 10)
	for z := 4; z < 8; z++ {
		for y := 4; y < 8; y++ {
			for x := 4; x < 8; x++ {
				m.Set(x, y, z, 0)
			}
		}
	}
	filled := FillHole(m, 1, false)
	assert.Equal(t, 8*8*8, filled.CountNonZero())

	// Open the shell to the outside: the cavity is no longer a hole.
	for x := 0; x < 4; x++ {
		m.Set(x, 5, 5, 0)
	}
	open := FillHole(m, 1, false)
	assert.Equal(t, 0.0, open.At(5, 5, 5))
}

func TestFillHoleConnectivity(t *testing.T) {
	// The cavity voxel only touches the outside through an edge.
	m := volume.New([3]int{5, 5, 3}, volume.UInt8)
	for i := range m.Data {
		m.Data[i] = 1
	}
	m.Set(0, 0, 1, 0)
	m.Set(1, 1, 1, 0)

	face := FillHole(m, 1, false)
	assert.Equal(t, 1.0, face.At(1, 1, 1))

	full := FillHole(m, 1, true)
	assert.Equal(t, 0.0, full.At(1, 1, 1))
}

func TestResampleIdentityAndShift(t *testing.T) {
	im := volume.New([3]int{8, 8, 8}, volume.Int16)
	for i := range im.Data {
		im.Data[i] = float64(i % 100)
	}

	same, err := Resample(im, im, transform.Identity{}, interpolation.New(interpolation.Linear), 0, im.PixelType)
	require.NoError(t, err)
	assert.Equal(t, im.Data, same.Data)

	// Translating by +1mm along x samples the next voxel.
	shift := transform.NewTranslation([3]float64{1, 0, 0})
	out, err := Resample(im, im, shift, interpolation.New(interpolation.NearestNeighbor), -7, im.PixelType)
	require.NoError(t, err)
	assert.Equal(t, im.At(4, 2, 3), out.At(3, 2, 3))
	assert.Equal(t, -7.0, out.At(7, 2, 3))
}

func TestResampleOntoFinerGrid(t *testing.T) {
	im := volume.New([3]int{4, 4, 4}, volume.Float32)
	for z := 0; z < 4; z++ {
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				im.Set(x, y, z, float64(x))
			}
		}
	}
	ref := volume.New([3]int{7, 7, 7}, volume.UInt8)
	ref.Spacing = [3]float64{0.5, 0.5, 0.5}

	out, err := Resample(im, ref, transform.Identity{}, interpolation.New(interpolation.Linear), 0, im.PixelType)
	require.NoError(t, err)
	assert.Equal(t, volume.Float32, out.PixelType)
	assert.True(t, out.SameGrid(ref, 1e-12))
	assert.InDelta(t, 1.5, out.At(3, 0, 0), 1e-6)
	assert.False(t, math.IsNaN(out.At(6, 6, 6)))
}
