// Package config provides configuration loading and management for ctalign.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"ctalign/pkg/filter"
	"ctalign/pkg/interpolation"
	"ctalign/pkg/registration"
	"ctalign/pkg/segmentation"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores filters and the metric use
		NumCores int `yaml:"numCores"`
	} `yaml:"processing"`

	// Registration parameters
	Registration struct {
		HistogramBins      int     `yaml:"histogramBins"`
		SamplingStrategy   string  `yaml:"samplingStrategy"`
		SamplingPercentage float64 `yaml:"samplingPercentage"`

		// Seed fixes metric sampling; 0 uses the wall clock
		Seed int64 `yaml:"seed"`

		LearningRate            float64 `yaml:"learningRate"`
		Iterations              int     `yaml:"iterations"`
		ConvergenceMinimumValue float64 `yaml:"convergenceMinimumValue"`
		ConvergenceWindowSize   int     `yaml:"convergenceWindowSize"`
		EstimateLearningRate    string  `yaml:"estimateLearningRate"`
		RelaxationFactor        float64 `yaml:"relaxationFactor"`

		// ShrinkFactors and SmoothingSigmas (mm) define the pyramid
		ShrinkFactors   []int     `yaml:"shrinkFactors"`
		SmoothingSigmas []float64 `yaml:"smoothingSigmas"`

		Interpolator string `yaml:"interpolator"`
	} `yaml:"registration"`

	// Mask parameters
	Mask struct {
		HUMin             float64 `yaml:"huMin"`
		ClosingKernelSize int     `yaml:"closingKernelSize"`
		ClosingKernel     string  `yaml:"closingKernel"`
		OpeningRadius     int     `yaml:"openingRadius"`
	} `yaml:"mask"`

	// Output parameters
	Output struct {
		// Compress writes gzip-encoded NRRD files
		Compress bool `yaml:"compress"`

		// SliceFormat is png, tif or jpg
		SliceFormat string `yaml:"sliceFormat"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// LogFormat is text or json
		LogFormat string `yaml:"logFormat"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU()

	m := registration.NewMethod()
	cfg.Registration.HistogramBins = m.Metric.NumberOfHistogramBins
	cfg.Registration.SamplingStrategy = m.Metric.SamplingStrategy.String()
	cfg.Registration.SamplingPercentage = m.Metric.SamplingPercentage
	cfg.Registration.Seed = m.Metric.Seed
	cfg.Registration.LearningRate = m.Optimizer.LearningRate
	cfg.Registration.Iterations = m.Optimizer.NumberOfIterations
	cfg.Registration.ConvergenceMinimumValue = m.Optimizer.ConvergenceMinimumValue
	cfg.Registration.ConvergenceWindowSize = m.Optimizer.ConvergenceWindowSize
	cfg.Registration.EstimateLearningRate = m.Optimizer.EstimateLearningRate.String()
	cfg.Registration.RelaxationFactor = m.Optimizer.RelaxationFactor
	cfg.Registration.ShrinkFactors = m.ShrinkFactors
	cfg.Registration.SmoothingSigmas = m.SmoothingSigmas
	cfg.Registration.Interpolator = m.Interpolator.String()

	cfg.Mask.HUMin = segmentation.DefaultHUMin
	cfg.Mask.ClosingKernelSize = segmentation.DefaultClosingKernelSize
	cfg.Mask.ClosingKernel = filter.Box.String()

	cfg.Output.SliceFormat = "png"
	cfg.Output.Verbose = true
	cfg.Output.LogFormat = "text"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate checks that enumerated settings parse and the pyramid is well formed.
func (c *Config) Validate() error {
	if _, err := c.RegistrationMethod(); err != nil {
		return err
	}
	if _, err := c.MaskOptions(); err != nil {
		return err
	}
	switch c.Output.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Output.LogFormat)
	}
	return nil
}

// RegistrationMethod builds a registration.Method from the registration section.
func (c *Config) RegistrationMethod() (*registration.Method, error) {
	r := c.Registration
	strategy, err := registration.ParseSamplingStrategy(r.SamplingStrategy)
	if err != nil {
		return nil, err
	}
	estimate, err := registration.ParseLearningRateEstimation(r.EstimateLearningRate)
	if err != nil {
		return nil, err
	}
	interp, err := interpolation.ParseMethod(r.Interpolator)
	if err != nil {
		return nil, err
	}
	if len(r.ShrinkFactors) == 0 || len(r.ShrinkFactors) != len(r.SmoothingSigmas) {
		return nil, fmt.Errorf("registration needs one smoothing sigma per shrink factor, got %d and %d",
			len(r.ShrinkFactors), len(r.SmoothingSigmas))
	}

	m := registration.NewMethod()
	m.Metric.NumberOfHistogramBins = r.HistogramBins
	m.Metric.SamplingStrategy = strategy
	m.Metric.SamplingPercentage = r.SamplingPercentage
	m.Metric.Seed = r.Seed
	m.Optimizer.LearningRate = r.LearningRate
	m.Optimizer.NumberOfIterations = r.Iterations
	m.Optimizer.ConvergenceMinimumValue = r.ConvergenceMinimumValue
	m.Optimizer.ConvergenceWindowSize = r.ConvergenceWindowSize
	m.Optimizer.EstimateLearningRate = estimate
	m.Optimizer.RelaxationFactor = r.RelaxationFactor
	m.ShrinkFactors = append([]int(nil), r.ShrinkFactors...)
	m.SmoothingSigmas = append([]float64(nil), r.SmoothingSigmas...)
	m.Interpolator = interp
	m.Workers = c.Processing.NumCores
	return m, nil
}

// MaskOptions builds segmentation options from the mask section.
func (c *Config) MaskOptions() (segmentation.Options, error) {
	kernel, err := filter.ParseKernelType(c.Mask.ClosingKernel)
	if err != nil {
		return segmentation.Options{}, err
	}
	opts := segmentation.DefaultOptions()
	opts.HUMin = c.Mask.HUMin
	opts.ClosingKernelSize = c.Mask.ClosingKernelSize
	opts.ClosingKernel = kernel
	opts.OpeningRadius = c.Mask.OpeningRadius
	return opts, nil
}
