package quality

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctalign/pkg/volume"
)

func createRamp(n int, fn func(x, y, z int) float64) *volume.Image {
	im := volume.New([3]int{n, n, n}, volume.Float32)
	for i := range im.Data {
		x, y, z := im.Coords(i)
		im.Data[i] = fn(x, y, z)
	}
	return im
}

func TestCompareIdenticalImages(t *testing.T) {
	a := createRamp(8, func(x, y, z int) float64 { return float64(x*x + 3*y - z) })
	m, err := Compare(a, a.Clone(), nil)
	require.NoError(t, err)

	assert.Equal(t, a.Len(), m.Voxels)
	assert.Equal(t, 0.0, m.RMSE)
	assert.InDelta(t, 1.0, m.Correlation, 1e-12)
	assert.InDelta(t, 1.0, m.SSIM, 1e-12)
	assert.Equal(t, 0.0, m.EntropyDiff)
	assert.InDelta(t, Entropy(a.Data, histogramBins), m.MutualInformation, 1e-9)
}

func TestCompareShiftedIntensities(t *testing.T) {
	a := createRamp(6, func(x, y, z int) float64 { return float64(x + y + z) })
	b := createRamp(6, func(x, y, z int) float64 { return float64(x+y+z) + 2 })
	m, err := Compare(a, b, nil)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, m.RMSE, 1e-12)
	assert.InDelta(t, 1.0, m.Correlation, 1e-12)
	assert.Less(t, m.SSIM, 1.0)

	inv := createRamp(6, func(x, y, z int) float64 { return -float64(x + y + z) })
	m, err = Compare(a, inv, nil)
	require.NoError(t, err)
	assert.InDelta(t, -1.0, m.Correlation, 1e-12)
	// Information does not care about the sign of the relationship.
	assert.Greater(t, m.MutualInformation, 1.0)
}

func TestCompareWithMask(t *testing.T) {
	a := createRamp(4, func(x, y, z int) float64 { return float64(x) })
	b := createRamp(4, func(x, y, z int) float64 {
		if x < 2 {
			return float64(x)
		}
		return 100
	})
	mask := createRamp(4, func(x, y, z int) float64 {
		if x < 2 {
			return 1
		}
		return 0
	})
	mask = volume.Cast(mask, volume.UInt8)

	m, err := Compare(a, b, mask)
	require.NoError(t, err)
	assert.Equal(t, 32, m.Voxels)
	assert.Equal(t, 0.0, m.RMSE)

	_, err = Compare(a, b, volume.New([3]int{4, 4, 4}, volume.UInt8))
	assert.ErrorIs(t, err, ErrNoOverlap)

	_, err = Compare(a, volume.New([3]int{3, 4, 4}, volume.Float32), nil)
	assert.Error(t, err)
}

func TestMutualInformationOfIndependentData(t *testing.T) {
	// x takes every value for every y, so the joint histogram factorizes.
	var x, y []float64
	for i := 0; i < 16; i++ {
		for j := 0; j < 16; j++ {
			x = append(x, float64(i))
			y = append(y, float64(j))
		}
	}
	assert.InDelta(t, 0.0, MutualInformation(x, y, 16), 1e-12)
	assert.InDelta(t, math.Log(16), MutualInformation(x, x, 16), 1e-12)
}

func TestEntropy(t *testing.T) {
	assert.Equal(t, 0.0, Entropy(nil, 8))
	assert.Equal(t, 0.0, Entropy([]float64{3, 3, 3}, 8))
	assert.InDelta(t, math.Log(2), Entropy([]float64{0, 1, 0, 1}, 8), 1e-12)
}

func TestRMSE(t *testing.T) {
	assert.InDelta(t, math.Sqrt(12.5), RMSE([]float64{0, 0}, []float64{3, 4}), 1e-12)
	assert.Equal(t, 0.0, RMSE([]float64{1}, []float64{1, 2}))
}

func TestDice(t *testing.T) {
	a := volume.New([3]int{4, 1, 1}, volume.UInt8)
	b := volume.NewLike(a, volume.UInt8)
	d, err := Dice(a, b)
	require.NoError(t, err)
	assert.Equal(t, 1.0, d)

	a.Data = []float64{1, 1, 0, 0}
	b.Data = []float64{0, 1, 1, 0}
	d, err = Dice(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, d, 1e-12)

	_, err = Dice(a, volume.New([3]int{2, 2, 1}, volume.UInt8))
	assert.Error(t, err)
}
