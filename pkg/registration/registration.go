// Package registration estimates affine alignments between 3D images and
// resamples images through them.
//
// EstimateAffine runs a three-level Mattes mutual information registration
// with gradient descent; ApplyTransform brings a moving image (or label
// mask) onto a reference grid. Method exposes every knob of the
// registration for callers that need something other than the defaults.
package registration

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"ctalign/pkg/filter"
	"ctalign/pkg/interpolation"
	"ctalign/pkg/transform"
	"ctalign/pkg/volume"
)

// Option customizes EstimateAffine.
type Option func(*Method, *estimateOptions)

type estimateOptions struct {
	verbose bool
}

// WithFixedMask restricts metric sampling to the reference mask.
func WithFixedMask(mask *volume.Image) Option {
	return func(m *Method, _ *estimateOptions) { m.FixedMask = mask }
}

// WithMovingMask rejects samples that map outside the moving mask.
func WithMovingMask(mask *volume.Image) Option {
	return func(m *Method, _ *estimateOptions) { m.MovingMask = mask }
}

// WithVerbose logs the final transform, stop condition, iteration count and
// metric value once registration finishes. The summary is logged at Info,
// or at Warn when the logger has Info disabled.
func WithVerbose(verbose bool) Option {
	return func(_ *Method, o *estimateOptions) { o.verbose = verbose }
}

// WithLogger sends diagnostics to logger instead of stdout.
func WithLogger(logger *logrus.Logger) Option {
	return func(m *Method, _ *estimateOptions) { m.Logger = logger }
}

// WithSeed fixes the sampling seed so repeated runs agree.
func WithSeed(seed int64) Option {
	return func(m *Method, _ *estimateOptions) { m.Metric.Seed = seed }
}

// WithObserver is called after every optimizer iteration.
func WithObserver(fn func(IterationEvent)) Option {
	return func(m *Method, _ *estimateOptions) { m.Optimizer.Observer = fn }
}

// WithMethod replaces the default configuration. Options applied after it
// still take effect.
func WithMethod(configure func(*Method)) Option {
	return func(m *Method, _ *estimateOptions) { configure(m) }
}

// EstimateAffine estimates the affine transform aligning mov onto ref. The
// returned transform maps reference points into the moving space and is
// not applied to any image. Failing to converge is not an error; the
// optimizer's last estimate is returned.
func EstimateAffine(ref, mov *volume.Image, opts ...Option) (*transform.Affine, error) {
	m := NewMethod()
	var o estimateOptions
	for _, opt := range opts {
		opt(m, &o)
	}
	if o.verbose && m.Logger == nil {
		m.Logger = logrus.New()
		m.Logger.SetOutput(os.Stdout)
	}

	xfm, err := m.Execute(ref, mov)
	if err != nil {
		return nil, fmt.Errorf("affine registration failed: %w", err)
	}

	if o.verbose {
		level := logrus.InfoLevel
		if !m.Logger.IsLevelEnabled(level) {
			level = logrus.WarnLevel
		}
		m.Logger.WithFields(logrus.Fields{
			"parameters": xfm.Parameters(),
			"center":     xfm.Center,
		}).Log(level, "Final transform:\n"+xfm.String())
		m.Logger.WithField("stop", m.StopConditionDescription()).Log(level, "Optimizer stop condition")
		m.Logger.WithField("iterations", m.Iteration()).Log(level, "Iterations")
		m.Logger.WithField("metric", m.MetricValue()).Log(level, "Final metric value")
	}
	return xfm, nil
}

// ApplyTransform resamples mov onto ref's grid through xfm. Label images
// (isMask) use nearest neighbor interpolation so no new label values
// appear; intensity images use linear interpolation. Points mapping outside
// mov become 0 and the output keeps mov's pixel type.
func ApplyTransform(mov *volume.Image, xfm transform.Transform, ref *volume.Image, isMask bool) (*volume.Image, error) {
	method := interpolation.Linear
	if isMask {
		method = interpolation.NearestNeighbor
	}
	return filter.Resample(mov, ref, xfm, interpolation.New(method), 0, mov.PixelType)
}
