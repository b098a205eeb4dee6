// Package quality scores how well two images on the same grid agree. It is
// used after registration to report the similarity of the reference image
// and the resampled moving image, and to compare masks.
package quality

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"ctalign/pkg/volume"
)

// ErrNoOverlap is returned when the region being compared has no voxels.
var ErrNoOverlap = errors.New("quality: no voxels to compare")

// histogramBins is the number of bins per axis of the histograms behind
// MutualInformation and Entropy.
const histogramBins = 64

// Metrics holds similarity measures between a reference image and an image
// resampled onto its grid.
type Metrics struct {
	// Voxels is the number of voxels compared.
	Voxels int

	// RMSE is the root mean square intensity difference. Lower is better.
	RMSE float64

	// Correlation is Pearson's correlation of the intensities, in [-1, 1].
	Correlation float64

	// MutualInformation in nats, from a joint histogram. Higher values mean
	// one image predicts the other better.
	MutualInformation float64

	// SSIM is a global structural similarity index with the dynamic range
	// taken from the reference.
	SSIM float64

	// EntropyDiff is the absolute difference of the Shannon entropies.
	EntropyDiff float64
}

// Compare computes Metrics over the voxels of a and b. When mask is not nil
// only voxels where mask is non-zero count. All images must share a grid.
func Compare(a, b, mask *volume.Image) (Metrics, error) {
	if err := volume.CheckSameGrid(a, b); err != nil {
		return Metrics{}, err
	}
	x, y := a.Data, b.Data
	if mask != nil {
		if err := volume.CheckSameGrid(a, mask); err != nil {
			return Metrics{}, fmt.Errorf("mask: %w", err)
		}
		x = make([]float64, 0, mask.CountNonZero())
		y = make([]float64, 0, cap(x))
		for i, m := range mask.Data {
			if m != 0 {
				x = append(x, a.Data[i])
				y = append(y, b.Data[i])
			}
		}
	}
	if len(x) == 0 {
		return Metrics{}, ErrNoOverlap
	}

	return Metrics{
		Voxels:            len(x),
		RMSE:              RMSE(x, y),
		Correlation:       correlation(x, y),
		MutualInformation: MutualInformation(x, y, histogramBins),
		SSIM:              SSIM(x, y),
		EntropyDiff:       math.Abs(Entropy(x, histogramBins) - Entropy(y, histogramBins)),
	}, nil
}

// RMSE is the root mean square difference of x and y.
func RMSE(x, y []float64) float64 {
	if len(x) == 0 || len(x) != len(y) {
		return 0
	}
	return floats.Distance(x, y, 2) / math.Sqrt(float64(len(x)))
}

// correlation is zero when either input is constant.
func correlation(x, y []float64) float64 {
	if stat.Variance(x, nil) == 0 || stat.Variance(y, nil) == 0 {
		return 0
	}
	return stat.Correlation(x, y, nil)
}

// SSIM is the structural similarity of x and y computed over the whole
// sample set, with the dynamic range L taken from x.
func SSIM(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return 0
	}
	lo, hi := floats.Min(x), floats.Max(x)
	l := hi - lo
	if l == 0 {
		l = 1
	}
	c1 := (0.01 * l) * (0.01 * l)
	c2 := (0.03 * l) * (0.03 * l)

	muX := stat.Mean(x, nil)
	muY := stat.Mean(y, nil)
	sigmaX := stat.Variance(x, nil)
	sigmaY := stat.Variance(y, nil)
	sigmaXY := stat.Covariance(x, y, nil)

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)
	return num / den
}

// binner maps values into [0, bins).
type binner struct {
	lo, width float64
	bins      int
}

func newBinner(data []float64, bins int) binner {
	lo, hi := floats.Min(data), floats.Max(data)
	width := (hi - lo) / float64(bins)
	if width == 0 {
		width = 1
	}
	return binner{lo: lo, width: width, bins: bins}
}

func (b binner) bin(v float64) int {
	i := int((v - b.lo) / b.width)
	if i >= b.bins {
		return b.bins - 1
	}
	if i < 0 {
		return 0
	}
	return i
}

// Entropy is the Shannon entropy in nats of data binned into bins bins.
func Entropy(data []float64, bins int) float64 {
	if len(data) == 0 {
		return 0
	}
	b := newBinner(data, bins)
	hist := make([]float64, bins)
	for _, v := range data {
		hist[b.bin(v)]++
	}
	floats.Scale(1/float64(len(data)), hist)
	return stat.Entropy(hist)
}

// MutualInformation is the mutual information in nats of x and y estimated
// from a bins x bins joint histogram.
func MutualInformation(x, y []float64, bins int) float64 {
	if len(x) == 0 || len(x) != len(y) {
		return 0
	}
	bx, by := newBinner(x, bins), newBinner(y, bins)
	joint := make([]float64, bins*bins)
	px := make([]float64, bins)
	py := make([]float64, bins)
	n := float64(len(x))
	for i := range x {
		ix, iy := bx.bin(x[i]), by.bin(y[i])
		joint[ix*bins+iy] += 1 / n
		px[ix] += 1 / n
		py[iy] += 1 / n
	}

	mi := 0.0
	for ix := 0; ix < bins; ix++ {
		for iy := 0; iy < bins; iy++ {
			p := joint[ix*bins+iy]
			if p > 0 {
				mi += p * math.Log(p/(px[ix]*py[iy]))
			}
		}
	}
	return mi
}

// Dice is the overlap 2|A∩B| / (|A|+|B|) of the non-zero voxels of two
// masks on the same grid. Two empty masks overlap perfectly.
func Dice(a, b *volume.Image) (float64, error) {
	if err := volume.CheckSameGrid(a, b); err != nil {
		return 0, err
	}
	var both, na, nb int
	for i := range a.Data {
		inA, inB := a.Data[i] != 0, b.Data[i] != 0
		if inA {
			na++
		}
		if inB {
			nb++
		}
		if inA && inB {
			both++
		}
	}
	if na+nb == 0 {
		return 1, nil
	}
	return 2 * float64(both) / float64(na+nb), nil
}
