package registration

import (
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"ctalign/pkg/filter"
	"ctalign/pkg/interpolation"
	"ctalign/pkg/transform"
	"ctalign/pkg/volume"
)

// MetricSettings configures the Mattes mutual information metric.
type MetricSettings struct {
	NumberOfHistogramBins int
	SamplingStrategy      SamplingStrategy
	SamplingPercentage    float64

	// Seed for random sampling; WallClockSeed picks one from the clock.
	Seed int64
}

// Method runs a multi-resolution intensity registration of a moving image
// onto a reference image. Configure the exported fields, call Execute, then
// read the diagnostics accessors.
type Method struct {
	Metric    MetricSettings
	Optimizer GradientDescent

	// Interpolator used to evaluate the moving image in the metric.
	Interpolator interpolation.Method

	// FixedMask and MovingMask restrict sampling to non-zero voxels. They
	// may live on any grid; lookups are by physical position.
	FixedMask  *volume.Image
	MovingMask *volume.Image

	// ShrinkFactors and SmoothingSigmas define the pyramid, one entry per
	// level from coarse to fine.
	ShrinkFactors   []int
	SmoothingSigmas []float64

	// SmoothingSigmasInPhysicalUnits interprets sigmas in mm instead of
	// voxels.
	SmoothingSigmasInPhysicalUnits bool

	// InitialTransform is copied, never modified. Nil means the centered
	// geometry initializer.
	InitialTransform *transform.Affine

	// Workers bounds metric evaluation goroutines. Zero means NumCPU.
	Workers int

	Logger *logrus.Logger

	stopDescription string
	iteration       int
	metricValue     float64
	levels          []OptimizeResult
}

// NewMethod returns a Method configured as the CT affine registration
// default: 50-bin Mattes MI on a random 20% sample, pyramid [4,2,1] with
// sigmas [2,1,0] mm, gradient descent with learning rate 1, 500
// iterations per level, convergence 1e-6 over 10 iterations, scales from
// physical shift and linear interpolation. The learning rate is estimated
// once per level and halved whenever the gradient reverses.
func NewMethod() *Method {
	return &Method{
		Metric: MetricSettings{
			NumberOfHistogramBins: 50,
			SamplingStrategy:      SampleRandom,
			SamplingPercentage:    0.2,
			Seed:                  WallClockSeed,
		},
		Optimizer: GradientDescent{
			LearningRate:            1.0,
			NumberOfIterations:      500,
			ConvergenceMinimumValue: 1e-6,
			ConvergenceWindowSize:   10,
			EstimateLearningRate:    EstimateOnce,
			RelaxationFactor:        0.5,
		},
		Interpolator:                   interpolation.Linear,
		ShrinkFactors:                  []int{4, 2, 1},
		SmoothingSigmas:                []float64{2, 1, 0},
		SmoothingSigmasInPhysicalUnits: true,
	}
}

// StopConditionDescription explains why the last level stopped.
func (m *Method) StopConditionDescription() string { return m.stopDescription }

// Iteration is the iteration count of the last level.
func (m *Method) Iteration() int { return m.iteration }

// MetricValue is the last metric value evaluated.
func (m *Method) MetricValue() float64 { return m.metricValue }

// LevelResults returns the optimizer result of every completed level.
func (m *Method) LevelResults() []OptimizeResult { return m.levels }

func (m *Method) logger() *logrus.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Execute estimates the affine mapping reference points into the moving
// space. Both images are cast to Float32 first.
func (m *Method) Execute(fixed, moving *volume.Image) (*transform.Affine, error) {
	log := m.logger()
	if err := fixed.Validate(); err != nil {
		return nil, fmt.Errorf("reference image: %w", err)
	}
	if err := moving.Validate(); err != nil {
		return nil, fmt.Errorf("moving image: %w", err)
	}
	if len(m.ShrinkFactors) == 0 || len(m.ShrinkFactors) != len(m.SmoothingSigmas) {
		return nil, fmt.Errorf("registration: %d shrink factors and %d smoothing sigmas",
			len(m.ShrinkFactors), len(m.SmoothingSigmas))
	}

	fixedMask, err := newMaskLookup(m.FixedMask)
	if err != nil {
		return nil, fmt.Errorf("reference mask: %w", err)
	}
	movingMask, err := newMaskLookup(m.MovingMask)
	if err != nil {
		return nil, fmt.Errorf("moving mask: %w", err)
	}

	fixed32 := volume.Cast(fixed, volume.Float32)
	moving32 := volume.Cast(moving, volume.Float32)

	var xfm *transform.Affine
	if m.InitialTransform != nil {
		xfm = m.InitialTransform.Clone()
	} else {
		xfm = transform.CenteredGeometryInitializer(fixed32, moving32)
	}

	rng := newRand(m.Metric.Seed)
	m.levels = m.levels[:0]
	m.stopDescription = ""
	m.iteration = 0

	for level := range m.ShrinkFactors {
		start := time.Now()
		fixedLevel, err := m.pyramidLevel(fixed32, level)
		if err != nil {
			return nil, err
		}
		movingLevel, err := m.pyramidLevel(moving32, level)
		if err != nil {
			return nil, err
		}

		samples, err := samplePoints(fixedLevel, fixedMask, m.Metric.SamplingStrategy, m.Metric.SamplingPercentage, rng)
		if err != nil {
			return nil, err
		}

		metric := &MattesMutualInformation{
			NumberOfHistogramBins: m.Metric.NumberOfHistogramBins,
			Workers:               m.Workers,
		}
		if err := metric.initialize(fixedLevel, movingLevel, samples, xfm, interpolation.New(m.Interpolator), movingMask); err != nil {
			return nil, fmt.Errorf("level %d: %w", level, err)
		}

		scales, err := NewPhysicalShiftScales(xfm, fixedLevel)
		if err != nil {
			return nil, err
		}
		opt := m.Optimizer
		opt.Scales = scales.EstimateScales()
		if opt.MaximumStepSizeInPhysicalUnits <= 0 {
			opt.MaximumStepSizeInPhysicalUnits = fixedLevel.MinSpacing()
		}

		log.WithFields(logrus.Fields{
			"level":   level,
			"shrink":  m.ShrinkFactors[level],
			"sigma":   m.SmoothingSigmas[level],
			"size":    fixedLevel.Size,
			"samples": len(samples),
		}).Debug("Starting registration level")

		res, err := opt.Optimize(metric, xfm.Parameters(), scales, level)
		m.levels = append(m.levels, res)
		m.stopDescription = res.Description
		m.iteration = res.Iterations
		m.metricValue = res.Value
		if err != nil {
			return nil, fmt.Errorf("level %d: %w", level, err)
		}
		if err := xfm.SetParameters(res.Parameters); err != nil {
			return nil, err
		}

		log.WithFields(logrus.Fields{
			"level":       level,
			"iterations":  res.Iterations,
			"metric":      res.Value,
			"stop":        res.StopCondition.String(),
			"validPoints": metric.NumberOfValidPoints(),
			"elapsed":     time.Since(start).Round(time.Millisecond).String(),
		}).Debug("Finished registration level")
	}
	return xfm, nil
}

// pyramidLevel smooths and shrinks im for level.
func (m *Method) pyramidLevel(im *volume.Image, level int) (*volume.Image, error) {
	sigma := m.SmoothingSigmas[level]
	var sigmas [3]float64
	for d := 0; d < 3; d++ {
		sigmas[d] = sigma
		if !m.SmoothingSigmasInPhysicalUnits {
			sigmas[d] = sigma * im.Spacing[d]
		}
	}
	smoothed := volume.Cast(filter.GaussianSmoothPerAxis(im, sigmas), volume.Float32)
	f := m.ShrinkFactors[level]
	if f <= 1 {
		return smoothed, nil
	}
	return filter.ShrinkIsotropic(smoothed, f)
}
