package registration

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// CostFunction is what the optimizer minimizes.
type CostFunction interface {
	NumberOfParameters() int
	ValueAndDerivative(params []float64) (float64, []float64, error)
}

// StepShiftEstimator reports the largest physical displacement a parameter
// step would cause. It drives learning-rate estimation.
type StepShiftEstimator interface {
	MaximumShift(params, step []float64) float64
}

// LearningRateEstimation says when the optimizer rescales its learning rate
// from the physical shift of the first step.
type LearningRateEstimation int

const (
	EstimateNever LearningRateEstimation = iota
	EstimateOnce
	EstimateEachIteration
)

func (e LearningRateEstimation) String() string {
	switch e {
	case EstimateNever:
		return "never"
	case EstimateOnce:
		return "once"
	case EstimateEachIteration:
		return "each-iteration"
	}
	return fmt.Sprintf("LearningRateEstimation(%d)", int(e))
}

// ParseLearningRateEstimation accepts the names returned by String.
func ParseLearningRateEstimation(s string) (LearningRateEstimation, error) {
	switch strings.ToLower(s) {
	case "never", "":
		return EstimateNever, nil
	case "once":
		return EstimateOnce, nil
	case "each-iteration", "eachiteration":
		return EstimateEachIteration, nil
	}
	return 0, fmt.Errorf("registration: unknown learning rate estimation %q", s)
}

// StopCondition records why an optimization ended.
type StopCondition int

const (
	StopNotStarted StopCondition = iota
	StopMaximumIterations
	StopConverged
	StopStepTooSmall
	StopMetricError
)

func (s StopCondition) String() string {
	switch s {
	case StopNotStarted:
		return "not started"
	case StopMaximumIterations:
		return "maximum iterations"
	case StopConverged:
		return "converged"
	case StopStepTooSmall:
		return "step too small"
	case StopMetricError:
		return "metric error"
	}
	return fmt.Sprintf("StopCondition(%d)", int(s))
}

// GradientDescent is a first-order optimizer with per-parameter scales and
// a windowed convergence check. A run stops at NumberOfIterations or once
// the convergence value over the last ConvergenceWindowSize metric values
// drops below ConvergenceMinimumValue.
type GradientDescent struct {
	LearningRate            float64
	NumberOfIterations      int
	ConvergenceMinimumValue float64
	ConvergenceWindowSize   int

	// EstimateLearningRate rescales LearningRate so the first step (or
	// every step) moves some point by MaximumStepSizeInPhysicalUnits.
	EstimateLearningRate LearningRateEstimation

	// MaximumStepSizeInPhysicalUnits bounds the physical shift of an
	// estimated step; zero lets the caller supply a default.
	MaximumStepSizeInPhysicalUnits float64

	// RelaxationFactor in (0, 1) multiplies the learning rate and the step
	// cap whenever the scaled gradient reverses direction. Other values
	// disable relaxation.
	RelaxationFactor float64

	// Scales divide the gradient component-wise. Nil means all ones.
	Scales []float64

	// Observer, when set, is called after every iteration.
	Observer func(IterationEvent)
}

// IterationEvent describes one optimizer iteration.
type IterationEvent struct {
	Level            int
	Iteration        int
	Value            float64
	ConvergenceValue float64
	LearningRate     float64
	Parameters       []float64
}

// OptimizeResult is the outcome of one optimizer run.
type OptimizeResult struct {
	Parameters       []float64
	Value            float64
	Iterations       int
	ConvergenceValue float64
	LearningRate     float64
	StopCondition    StopCondition
	Description      string
}

// Optimize minimizes cost starting at initial. shift may be nil when
// EstimateLearningRate is EstimateNever; when set, no step moves a point
// further than MaximumStepSizeInPhysicalUnits. level is only reported to
// the observer. The returned parameters are the best evaluated ones.
func (o *GradientDescent) Optimize(cost CostFunction, initial []float64, shift StepShiftEstimator, level int) (OptimizeResult, error) {
	n := cost.NumberOfParameters()
	if len(initial) != n {
		return OptimizeResult{}, fmt.Errorf("registration: %d initial parameters for %d-parameter cost", len(initial), n)
	}
	scales := o.Scales
	if scales == nil {
		scales = make([]float64, n)
		for i := range scales {
			scales[i] = 1
		}
	}
	if len(scales) != n {
		return OptimizeResult{}, fmt.Errorf("registration: %d scales for %d parameters", len(scales), n)
	}
	if o.EstimateLearningRate != EstimateNever && shift == nil {
		return OptimizeResult{}, fmt.Errorf("registration: learning rate estimation needs a shift estimator")
	}

	params := append([]float64(nil), initial...)
	best := append([]float64(nil), initial...)
	bestValue := math.Inf(1)
	monitor := newConvergenceMonitor(o.ConvergenceWindowSize)
	lr := o.LearningRate
	stepCap := o.MaximumStepSizeInPhysicalUnits
	step := make([]float64, n)
	var prevStep []float64

	res := OptimizeResult{StopCondition: StopMaximumIterations, ConvergenceValue: math.MaxFloat64}
	for it := 0; it < o.NumberOfIterations; it++ {
		value, grad, err := cost.ValueAndDerivative(params)
		if err != nil {
			res.Parameters = params
			res.Value = value
			res.Iterations = it
			res.LearningRate = lr
			res.StopCondition = StopMetricError
			res.Description = fmt.Sprintf("GradientDescent: metric error at iteration %d: %v", it, err)
			return res, err
		}
		if value < bestValue {
			bestValue = value
			copy(best, params)
		}

		monitor.add(value)
		if conv, ok := monitor.value(); ok {
			res.ConvergenceValue = conv
			if conv < o.ConvergenceMinimumValue {
				res.Iterations = it
				res.StopCondition = StopConverged
				res.Description = fmt.Sprintf("GradientDescent: Convergence checker passed at iteration %d.", it)
				break
			}
		}

		for i := range step {
			step[i] = grad[i] / scales[i]
		}
		if floats.Norm(step, 2) == 0 {
			res.Iterations = it
			res.StopCondition = StopStepTooSmall
			res.Description = fmt.Sprintf("GradientDescent: zero gradient at iteration %d.", it)
			break
		}

		estimate := o.EstimateLearningRate == EstimateEachIteration || (o.EstimateLearningRate == EstimateOnce && it == 0)
		if estimate {
			if s := shift.MaximumShift(params, step); s > 1e-12 {
				lr = o.MaximumStepSizeInPhysicalUnits / s
			}
		} else if prevStep != nil && o.RelaxationFactor > 0 && o.RelaxationFactor < 1 && floats.Dot(step, prevStep) < 0 {
			lr *= o.RelaxationFactor
			stepCap *= o.RelaxationFactor
		}

		scale := lr
		if shift != nil && stepCap > 0 {
			if s := lr * shift.MaximumShift(params, step); s > stepCap {
				scale = lr * stepCap / s
			}
		}
		floats.AddScaled(params, -scale, step)
		prevStep = append(prevStep[:0], step...)
		res.Iterations = it + 1

		if o.Observer != nil {
			o.Observer(IterationEvent{
				Level:            level,
				Iteration:        it,
				Value:            value,
				ConvergenceValue: res.ConvergenceValue,
				LearningRate:     lr,
				Parameters:       append([]float64(nil), params...),
			})
		}
	}

	if res.StopCondition == StopMaximumIterations {
		res.Description = fmt.Sprintf("GradientDescent: Maximum number of iterations (%d) exceeded.", o.NumberOfIterations)
		// The last step has not been evaluated yet.
		if value, _, err := cost.ValueAndDerivative(params); err == nil && value < bestValue {
			bestValue = value
			copy(best, params)
		}
	}
	res.Parameters = best
	res.Value = bestValue
	res.LearningRate = lr
	return res, nil
}

// convergenceMonitor keeps the last window metric values and reports how
// steeply they are still falling.
type convergenceMonitor struct {
	window int
	values []float64
}

func newConvergenceMonitor(window int) *convergenceMonitor {
	if window < 2 {
		window = 2
	}
	return &convergenceMonitor{window: window}
}

func (c *convergenceMonitor) add(v float64) {
	c.values = append(c.values, v)
	if len(c.values) > c.window {
		c.values = c.values[1:]
	}
}

// value is the negated slope of a least-squares line through the window,
// with values normalized to [0, 1] by their range and time to [0, 1]. A
// window that is still descending gives a positive value; flat or rising
// windows give zero or less. ok is false until the window is full.
func (c *convergenceMonitor) value() (float64, bool) {
	if len(c.values) < c.window {
		return 0, false
	}
	lo, hi := floats.Min(c.values), floats.Max(c.values)
	if hi-lo <= 1e-12*math.Max(1, math.Abs(hi)) {
		return 0, true
	}

	xs := make([]float64, c.window)
	ys := make([]float64, c.window)
	for i, v := range c.values {
		xs[i] = float64(i) / float64(c.window-1)
		ys[i] = (v - lo) / (hi - lo)
	}
	_, slope := stat.LinearRegression(xs, ys, nil, false)
	return -slope, true
}
