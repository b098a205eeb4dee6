package registration

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"ctalign/pkg/interpolation"
	"ctalign/pkg/volume"
)

// SamplingStrategy selects which reference points feed the metric.
type SamplingStrategy int

const (
	// SampleAll uses every reference voxel center.
	SampleAll SamplingStrategy = iota
	// SampleRandom draws points uniformly inside randomly chosen voxels.
	SampleRandom
	// SampleRegular takes every k-th voxel center.
	SampleRegular
)

func (s SamplingStrategy) String() string {
	switch s {
	case SampleAll:
		return "none"
	case SampleRandom:
		return "random"
	case SampleRegular:
		return "regular"
	}
	return fmt.Sprintf("SamplingStrategy(%d)", int(s))
}

// ParseSamplingStrategy accepts "none", "random" and "regular".
func ParseSamplingStrategy(s string) (SamplingStrategy, error) {
	switch strings.ToLower(s) {
	case "none", "all", "":
		return SampleAll, nil
	case "random":
		return SampleRandom, nil
	case "regular":
		return SampleRegular, nil
	}
	return 0, fmt.Errorf("registration: unknown sampling strategy %q", s)
}

// WallClockSeed asks for a seed taken from the current time.
const WallClockSeed int64 = 0

func newRand(seed int64) *rand.Rand {
	if seed == WallClockSeed {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// sample is a reference point with its reference intensity.
type sample struct {
	point [3]float64
	value float64
}

// samplePoints picks metric sample points on the reference image. Points
// outside fixedMask (when set) are dropped.
func samplePoints(fixed *volume.Image, fixedMask *maskLookup, strategy SamplingStrategy,
	percentage float64, rng *rand.Rand) ([]sample, error) {
	g, err := fixed.Geometry()
	if err != nil {
		return nil, err
	}
	n := fixed.Len()

	want := n
	if strategy != SampleAll {
		if percentage <= 0 || percentage > 1 {
			return nil, fmt.Errorf("registration: sampling percentage must be in (0, 1], got %g", percentage)
		}
		want = int(float64(n) * percentage)
		if want < 1 {
			want = 1
		}
	}

	out := make([]sample, 0, want)
	add := func(ci [3]float64) {
		p := g.Point(ci)
		if fixedMask != nil && !fixedMask.contains(p) {
			return
		}
		v := interpolation.Trilinear(fixed.Data, fixed.Size, ci)
		out = append(out, sample{point: p, value: v})
	}

	switch strategy {
	case SampleAll:
		for i := 0; i < n; i++ {
			x, y, z := fixed.Coords(i)
			add([3]float64{float64(x), float64(y), float64(z)})
		}
	case SampleRegular:
		step := float64(n) / float64(want)
		for k := 0; k < want; k++ {
			x, y, z := fixed.Coords(int(float64(k) * step))
			add([3]float64{float64(x), float64(y), float64(z)})
		}
	case SampleRandom:
		for k := 0; k < want; k++ {
			x, y, z := fixed.Coords(rng.Intn(n))
			ci := [3]float64{
				jitter(x, fixed.Size[0], rng),
				jitter(y, fixed.Size[1], rng),
				jitter(z, fixed.Size[2], rng),
			}
			add(ci)
		}
	}
	return out, nil
}

// jitter moves an index uniformly within its voxel, staying on the grid
// side of the outermost voxel centers.
func jitter(i, n int, rng *rand.Rand) float64 {
	c := float64(i) + rng.Float64() - 0.5
	if c < 0 {
		c = 0
	}
	if c > float64(n-1) {
		c = float64(n - 1)
	}
	return c
}

// maskLookup tests physical points against a binary mask on its own grid.
type maskLookup struct {
	mask *volume.Image
	geom *volume.Geometry
}

func newMaskLookup(mask *volume.Image) (*maskLookup, error) {
	if mask == nil {
		return nil, nil
	}
	if err := mask.Validate(); err != nil {
		return nil, fmt.Errorf("mask: %w", err)
	}
	g, err := mask.Geometry()
	if err != nil {
		return nil, err
	}
	return &maskLookup{mask: mask, geom: g}, nil
}

// contains reports whether p falls on a non-zero mask voxel.
func (m *maskLookup) contains(p [3]float64) bool {
	v, ok := interpolation.NearestNeighborInterpolator{}.Evaluate(m.mask, m.geom.ContinuousIndex(p))
	return ok && v != 0
}
