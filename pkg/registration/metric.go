package registration

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	"ctalign/pkg/filter"
	"ctalign/pkg/interpolation"
	"ctalign/pkg/transform"
	"ctalign/pkg/volume"
)

// ErrTooFewSamples is returned when too few sample points map inside the
// moving image (and moving mask) to evaluate the metric.
var ErrTooFewSamples = errors.New("registration: too few samples map inside the moving image")

// histogramPadding is the number of empty bins kept on each side of the
// intensity range so that Parzen windows never fall off the histogram.
const histogramPadding = 2

// MattesMutualInformation is the negated mutual information between
// reference and moving intensities, estimated from a joint histogram with
// zero-order Parzen windows on the reference axis and cubic B-spline
// windows on the moving axis. Lower is better.
type MattesMutualInformation struct {
	// NumberOfHistogramBins per axis of the joint histogram.
	NumberOfHistogramBins int

	// Workers is the number of goroutines used per evaluation. Zero means
	// runtime.NumCPU().
	Workers int

	transform   transform.Parametric
	interp      interpolation.Interpolator
	moving      *volume.Image
	movingGeom  *volume.Geometry
	gradient    [3]*volume.Image
	movingMask  *maskLookup
	samples     []sample
	fixedScale  binScale
	movingScale binScale

	// Statistics of the last evaluation.
	lastValid int
}

// binScale maps intensities to continuous histogram bin positions.
type binScale struct {
	size       float64
	normalized float64
}

func newBinScale(lo, hi float64, bins int) binScale {
	size := (hi - lo) / float64(bins-2*histogramPadding)
	if size <= 0 {
		size = 1
	}
	return binScale{size: size, normalized: lo/size - histogramPadding}
}

func (b binScale) position(v float64) float64 {
	return v/b.size - b.normalized
}

// initialize prepares the metric for one pyramid level.
func (m *MattesMutualInformation) initialize(fixed, moving *volume.Image, samples []sample,
	xfm transform.Parametric, interp interpolation.Interpolator, movingMask *maskLookup) error {
	if m.NumberOfHistogramBins < 2*histogramPadding+1 {
		return fmt.Errorf("registration: need at least %d histogram bins, got %d",
			2*histogramPadding+1, m.NumberOfHistogramBins)
	}
	if len(samples) == 0 {
		return ErrTooFewSamples
	}
	g, err := moving.Geometry()
	if err != nil {
		return err
	}
	grad, err := filter.Gradient(moving)
	if err != nil {
		return err
	}

	fixedLo, fixedHi := samples[0].value, samples[0].value
	for _, s := range samples {
		fixedLo = math.Min(fixedLo, s.value)
		fixedHi = math.Max(fixedHi, s.value)
	}
	movingLo, movingHi := moving.MinMax()

	m.transform = xfm
	m.interp = interp
	m.moving = moving
	m.movingGeom = g
	m.gradient = grad
	m.movingMask = movingMask
	m.samples = samples
	m.fixedScale = newBinScale(fixedLo, fixedHi, m.NumberOfHistogramBins)
	m.movingScale = newBinScale(movingLo, movingHi, m.NumberOfHistogramBins)
	return nil
}

// NumberOfParameters is the transform's parameter count.
func (m *MattesMutualInformation) NumberOfParameters() int {
	return m.transform.NumberOfParameters()
}

// NumberOfValidPoints is the number of samples used by the last evaluation.
func (m *MattesMutualInformation) NumberOfValidPoints() int {
	return m.lastValid
}

// partial holds one worker's share of the joint histogram.
type partial struct {
	pdf   []float64 // bins*bins
	dpdf  []float64 // bins*bins*params
	valid int
}

// ValueAndDerivative sets the transform parameters, then returns the metric
// value and its gradient with respect to the parameters.
func (m *MattesMutualInformation) ValueAndDerivative(params []float64) (float64, []float64, error) {
	if err := m.transform.SetParameters(params); err != nil {
		return 0, nil, err
	}

	bins := m.NumberOfHistogramBins
	nParams := m.transform.NumberOfParameters()

	workers := m.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(m.samples) {
		workers = len(m.samples)
	}
	chunk := (len(m.samples) + workers - 1) / workers

	partials := make([]*partial, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > len(m.samples) {
			end = len(m.samples)
		}
		p := &partial{
			pdf:  make([]float64, bins*bins),
			dpdf: make([]float64, bins*bins*nParams),
		}
		partials[w] = p
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			m.accumulate(m.samples[start:end], p, nParams)
		}(start, end)
	}
	wg.Wait()

	// Reduce in worker order so results do not depend on scheduling.
	pdf := make([]float64, bins*bins)
	dpdf := make([]float64, bins*bins*nParams)
	valid := 0
	for _, p := range partials {
		valid += p.valid
		for i, v := range p.pdf {
			pdf[i] += v
		}
		for i, v := range p.dpdf {
			dpdf[i] += v
		}
	}
	m.lastValid = valid

	minValid := len(m.samples) / 100
	if minValid < 1 {
		minValid = 1
	}
	if valid < minValid {
		return 0, nil, fmt.Errorf("%w: %d of %d", ErrTooFewSamples, valid, len(m.samples))
	}

	total := 0.0
	for _, v := range pdf {
		total += v
	}
	if total <= 0 {
		return 0, nil, ErrTooFewSamples
	}

	fixedMarginal := make([]float64, bins)
	movingMarginal := make([]float64, bins)
	for f := 0; f < bins; f++ {
		for mv := 0; mv < bins; mv++ {
			p := pdf[f*bins+mv] / total
			pdf[f*bins+mv] = p
			fixedMarginal[f] += p
			movingMarginal[mv] += p
		}
	}

	mi := 0.0
	derivative := make([]float64, nParams)
	for f := 0; f < bins; f++ {
		if fixedMarginal[f] <= 0 {
			continue
		}
		for mv := 0; mv < bins; mv++ {
			p := pdf[f*bins+mv]
			if p <= 0 || movingMarginal[mv] <= 0 {
				continue
			}
			ratio := math.Log(p / (fixedMarginal[f] * movingMarginal[mv]))
			mi += p * ratio
			d := dpdf[(f*bins+mv)*nParams : (f*bins+mv+1)*nParams]
			for j := range derivative {
				derivative[j] += d[j] / total * ratio
			}
		}
	}

	for j := range derivative {
		derivative[j] = -derivative[j]
	}
	return -mi, derivative, nil
}

// accumulate adds the Parzen-windowed contributions of samples to p.
func (m *MattesMutualInformation) accumulate(samples []sample, p *partial, nParams int) {
	bins := m.NumberOfHistogramBins
	jac := make([]float64, 3*nParams)
	dmdp := make([]float64, nParams)

	for _, s := range samples {
		q := m.transform.TransformPoint(s.point)
		if m.movingMask != nil && !m.movingMask.contains(q) {
			continue
		}
		ci := m.movingGeom.ContinuousIndex(q)
		mv, ok := m.interp.Evaluate(m.moving, ci)
		if !ok {
			continue
		}
		var grad [3]float64
		for d := 0; d < 3; d++ {
			grad[d] = interpolation.Trilinear(m.gradient[d].Data, m.moving.Size, ci)
		}

		m.transform.JacobianWRTParameters(s.point, jac)
		for j := 0; j < nParams; j++ {
			dmdp[j] = grad[0]*jac[j] + grad[1]*jac[nParams+j] + grad[2]*jac[2*nParams+j]
		}

		fixedBin := clampBin(int(math.Floor(m.fixedScale.position(s.value))), bins)
		u := m.movingScale.position(mv)
		movingBin := clampBin(int(math.Floor(u)), bins)

		for bin := movingBin - 1; bin <= movingBin+2; bin++ {
			arg := float64(bin) - u
			w := cubicBSpline(arg)
			dw := cubicBSplineDerivative(arg)
			cell := fixedBin*bins + bin
			p.pdf[cell] += w
			if dw == 0 {
				continue
			}
			// d(bin - u)/dparams = -(1/size) dm/dparams.
			scale := -dw / m.movingScale.size
			d := p.dpdf[cell*nParams : (cell+1)*nParams]
			for j := 0; j < nParams; j++ {
				d[j] += scale * dmdp[j]
			}
		}
		p.valid++
	}
}

// clampBin keeps a window base inside the padded histogram.
func clampBin(b, bins int) int {
	if b < histogramPadding {
		return histogramPadding
	}
	if b > bins-histogramPadding-1 {
		return bins - histogramPadding - 1
	}
	return b
}

func cubicBSpline(x float64) float64 {
	ax := math.Abs(x)
	switch {
	case ax < 1:
		return (4 - 6*ax*ax + 3*ax*ax*ax) / 6
	case ax < 2:
		t := 2 - ax
		return t * t * t / 6
	}
	return 0
}

func cubicBSplineDerivative(x float64) float64 {
	ax := math.Abs(x)
	switch {
	case ax < 1:
		return -2*x + 1.5*x*ax
	case ax < 2:
		t := 2 - ax
		if x < 0 {
			return t * t / 2
		}
		return -t * t / 2
	}
	return 0
}
