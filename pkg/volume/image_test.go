package volume

import (
	"bytes"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestVolume fills a volume with a ramp so every voxel is distinct.
func createTestVolume(size [3]int, pt PixelType) *Image {
	im := New(size, pt)
	for i := range im.Data {
		im.Data[i] = pt.Convert(float64(i%251) - 100)
	}
	return im
}

func TestIndexAndCoords(t *testing.T) {
	im := New([3]int{4, 3, 2}, Float32)
	for z := 0; z < 2; z++ {
		for y := 0; y < 3; y++ {
			for x := 0; x < 4; x++ {
				i := im.Index(x, y, z)
				gx, gy, gz := im.Coords(i)
				assert.Equal(t, [3]int{x, y, z}, [3]int{gx, gy, gz})
			}
		}
	}
	assert.Equal(t, 4*3*2, im.Len())
}

func TestPixelTypeConvert(t *testing.T) {
	tests := []struct {
		pt   PixelType
		in   float64
		want float64
	}{
		{UInt8, -3, 0},
		{UInt8, 300, 255},
		{UInt8, 1.5, 2},
		{Int16, -40000, math.MinInt16},
		{Int16, -2.5, -3},
		{UInt16, 70000, math.MaxUint16},
		{Float64, 0.1, 0.1},
		{Float32, 0.1, float64(float32(0.1))},
		{Int32, math.NaN(), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.pt.Convert(tt.in), "%s(%v)", tt.pt, tt.in)
	}

	pt, err := ParsePixelType("Float32")
	require.NoError(t, err)
	assert.Equal(t, Float32, pt)
	_, err = ParsePixelType("complex")
	assert.Error(t, err)
}

func TestGeometryRoundTrip(t *testing.T) {
	im := New([3]int{10, 12, 8}, Float32)
	im.Spacing = [3]float64{0.7, 0.9, 2.5}
	im.Origin = [3]float64{-12, 30, 4}
	// 90 degree rotation about z.
	im.Direction = [9]float64{0, -1, 0, 1, 0, 0, 0, 0, 1}

	g, err := im.Geometry()
	require.NoError(t, err)

	ci := [3]float64{2.25, 7.5, 3}
	p := g.Point(ci)
	q := im.IndexToPhysical(ci)
	assert.InDeltaSlice(t, q[:], p[:], 1e-12)

	back := g.ContinuousIndex(p)
	assert.InDeltaSlice(t, ci[:], back[:], 1e-9)

	viaImage, err := im.PhysicalToContinuousIndex(p)
	require.NoError(t, err)
	assert.InDeltaSlice(t, ci[:], viaImage[:], 1e-9)

	assert.True(t, g.IsInside([3]float64{-0.5, 0, 0}))
	assert.False(t, g.IsInside([3]float64{9.5, 0, 0}))
	assert.Len(t, g.Corners(), 8)
}

func TestCenter(t *testing.T) {
	im := New([3]int{11, 21, 5}, UInt8)
	im.Spacing = [3]float64{2, 1, 3}
	im.Origin = [3]float64{1, 1, 1}
	assert.Equal(t, [3]float64{11, 11, 7}, im.Center())
}

func TestValidate(t *testing.T) {
	im := New([3]int{2, 2, 2}, UInt8)
	require.NoError(t, im.Validate())

	bad := im.Clone()
	bad.Size = [3]int{0, 2, 2}
	assert.ErrorIs(t, bad.Validate(), ErrEmptyImage)

	bad = im.Clone()
	bad.Direction = [9]float64{}
	assert.Error(t, bad.Validate())

	bad = im.Clone()
	bad.Data = bad.Data[:3]
	assert.Error(t, bad.Validate())
}

func TestCastAndStats(t *testing.T) {
	im := New([3]int{3, 1, 1}, Float64)
	im.Data = []float64{-1.2, 0, 300.7}

	u8 := Cast(im, UInt8)
	assert.Equal(t, []float64{0, 0, 255}, u8.Data)
	assert.Equal(t, 1, u8.CountNonZero())

	lo, hi := im.MinMax()
	assert.Equal(t, -1.2, lo)
	assert.Equal(t, 300.7, hi)
}

func TestSameGrid(t *testing.T) {
	a := New([3]int{4, 4, 4}, UInt8)
	b := NewLike(a, Float32)
	assert.True(t, a.SameGrid(b, 1e-9))
	assert.NoError(t, CheckSameGrid(a, b))

	b.Origin[2] = 0.5
	assert.False(t, a.SameGrid(b, 1e-9))
	assert.ErrorIs(t, CheckSameGrid(a, b), ErrGridMismatch)
}

func TestNRRDRoundTrip(t *testing.T) {
	for _, pt := range []PixelType{UInt8, Int16, UInt16, Int32, Float32, Float64} {
		for _, compress := range []bool{false, true} {
			im := createTestVolume([3]int{5, 4, 3}, pt)
			im.Spacing = [3]float64{0.5, 0.75, 2}
			im.Origin = [3]float64{-10, 20.5, 3}

			var buf bytes.Buffer
			require.NoError(t, EncodeNRRD(&buf, im, compress))

			got, err := DecodeNRRD(&buf)
			require.NoError(t, err, "%s compress=%v", pt, compress)
			assert.Equal(t, pt, got.PixelType)
			assert.True(t, im.SameGrid(got, 1e-9))
			assert.Equal(t, im.Data, got.Data)
		}
	}
}

func TestNRRDReadWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ct.nrrd")
	im := createTestVolume([3]int{6, 6, 6}, Int16)
	require.NoError(t, WriteNRRD(path, im, true))

	got, err := ReadNRRD(path)
	require.NoError(t, err)
	assert.Equal(t, im.Data, got.Data)
}

func TestNRRDRASConversion(t *testing.T) {
	hdr := "NRRD0004\n" +
		"type: uchar\n" +
		"dimension: 3\n" +
		"space: right-anterior-superior\n" +
		"sizes: 1 1 1\n" +
		"space directions: (2,0,0) (0,3,0) (0,0,4)\n" +
		"encoding: raw\n" +
		"space origin: (10,20,30)\n\n"
	im, err := DecodeNRRD(bytes.NewReader(append([]byte(hdr), 7)))
	require.NoError(t, err)

	assert.Equal(t, [3]float64{2, 3, 4}, im.Spacing)
	assert.Equal(t, [3]float64{-10, -20, 30}, im.Origin)
	assert.Equal(t, -1.0, im.Direction[0])
	assert.Equal(t, -1.0, im.Direction[4])
	assert.Equal(t, 1.0, im.Direction[8])
	assert.Equal(t, []float64{7}, im.Data)
}

func TestNRRDRejectsBadInput(t *testing.T) {
	_, err := DecodeNRRD(bytes.NewReader([]byte("P5\n")))
	assert.Error(t, err)

	hdr := "NRRD0004\ntype: uchar\ndimension: 2\nsizes: 1 1\nencoding: raw\n\n"
	_, err = DecodeNRRD(bytes.NewReader([]byte(hdr)))
	assert.Error(t, err)
}
