package commands

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ctalign/pkg/quality"
	"ctalign/pkg/registration"
	"ctalign/pkg/segmentation"
	"ctalign/pkg/transform"
	"ctalign/pkg/volume"
)

func registerCmd() *cobra.Command {
	var (
		output        string
		resampledPath string
		fixedMaskPath string
		movingMask    string
		autoMask      bool
		seed          int64
		iterations    int
	)
	cmd := &cobra.Command{
		Use:   "register <reference> <moving>",
		Short: "Estimate the affine transform aligning moving onto reference",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := loadVolume(args[0])
			if err != nil {
				return err
			}
			mov, err := loadVolume(args[1])
			if err != nil {
				return err
			}

			method, err := cfg.RegistrationMethod()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("seed") {
				method.Metric.Seed = seed
			}
			if cmd.Flags().Changed("iterations") {
				method.Optimizer.NumberOfIterations = iterations
			}

			opts := []registration.Option{
				registration.WithMethod(func(m *registration.Method) { *m = *method }),
				registration.WithLogger(logger),
				registration.WithVerbose(cfg.Output.Verbose),
				registration.WithObserver(func(ev registration.IterationEvent) {
					logger.WithFields(logrus.Fields{
						"level":        ev.Level,
						"iteration":    ev.Iteration,
						"metric":       ev.Value,
						"learningRate": ev.LearningRate,
					}).Debug("Optimizer iteration")
				}),
			}

			fixedMask, movMask, err := registrationMasks(ref, mov, fixedMaskPath, movingMask, autoMask)
			if err != nil {
				return err
			}
			if fixedMask != nil {
				opts = append(opts, registration.WithFixedMask(fixedMask))
			}
			if movMask != nil {
				opts = append(opts, registration.WithMovingMask(movMask))
			}

			start := time.Now()
			xfm, err := registration.EstimateAffine(ref, mov, opts...)
			if err != nil {
				return err
			}
			logger.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Info("Registration finished")

			if err := transform.Save(xfm, output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Transform saved to: %s\n%s\n", output, xfm)

			resampled, err := registration.ApplyTransform(mov, xfm, ref, false)
			if err != nil {
				return err
			}
			if resampledPath != "" {
				if err := saveVolume(resampledPath, resampled); err != nil {
					return err
				}
			}
			return reportQuality(cmd, ref, resampled, fixedMask)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "transform.yaml", "where to save the estimated transform")
	cmd.Flags().StringVar(&resampledPath, "resampled", "", "also save the moving image resampled onto the reference grid (.nrrd)")
	cmd.Flags().StringVar(&fixedMaskPath, "fixed-mask", "", "reference mask volume restricting metric sampling")
	cmd.Flags().StringVar(&movingMask, "moving-mask", "", "moving mask volume")
	cmd.Flags().BoolVar(&autoMask, "auto-mask", false, "build HU masks for images without an explicit mask")
	cmd.Flags().Int64Var(&seed, "seed", 0, "sampling seed (0 uses the clock)")
	cmd.Flags().IntVar(&iterations, "iterations", 0, "maximum iterations per pyramid level")
	return cmd
}

// registrationMasks loads the requested masks, building missing ones from
// the HU threshold when auto is set.
func registrationMasks(ref, mov *volume.Image, fixedPath, movingPath string, auto bool) (*volume.Image, *volume.Image, error) {
	build := func(path string, im *volume.Image) (*volume.Image, error) {
		if path != "" {
			return loadVolume(path)
		}
		if !auto {
			return nil, nil
		}
		opts, err := cfg.MaskOptions()
		if err != nil {
			return nil, err
		}
		opts.Logger = logger
		return segmentation.MaskFromHUWithOptions(im, opts)
	}
	fixed, err := build(fixedPath, ref)
	if err != nil {
		return nil, nil, err
	}
	moving, err := build(movingPath, mov)
	if err != nil {
		return nil, nil, err
	}
	return fixed, moving, nil
}

func reportQuality(cmd *cobra.Command, ref, resampled, mask *volume.Image) error {
	if mask != nil && !ref.SameGrid(mask, 1e-6) {
		onRef, err := registration.ApplyTransform(mask, transform.Identity{}, ref, true)
		if err != nil {
			return err
		}
		mask = onRef
	}
	m, err := quality.Compare(ref, resampled, mask)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nAlignment quality (%d voxels):\n", m.Voxels)
	fmt.Fprintf(out, "Mutual Information: %.4f\n", m.MutualInformation)
	fmt.Fprintf(out, "Correlation: %.4f\n", m.Correlation)
	fmt.Fprintf(out, "RMSE: %.3f\n", m.RMSE)
	fmt.Fprintf(out, "SSIM: %.4f\n", m.SSIM)
	fmt.Fprintf(out, "Entropy Difference: %.4f\n", m.EntropyDiff)
	return nil
}
