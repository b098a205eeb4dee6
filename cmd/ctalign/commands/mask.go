package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"ctalign/pkg/filter"
	"ctalign/pkg/segmentation"
)

func maskCmd() *cobra.Command {
	var (
		output      string
		huMin       float64
		kernelSize  int
		kernel      string
		openRadius  int
		fullConnect bool
	)
	cmd := &cobra.Command{
		Use:   "mask <input>",
		Short: "Build a binary mask of voxels at or above a HU threshold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				return errors.New("output path required (-o)")
			}
			opts, err := cfg.MaskOptions()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("hu-min") {
				opts.HUMin = huMin
			}
			if flags.Changed("kernel-size") {
				opts.ClosingKernelSize = kernelSize
			}
			if flags.Changed("kernel") {
				if opts.ClosingKernel, err = filter.ParseKernelType(kernel); err != nil {
					return err
				}
			}
			if flags.Changed("opening") {
				opts.OpeningRadius = openRadius
			}
			opts.FullyConnectedFill = fullConnect
			opts.Logger = logger

			im, err := loadVolume(args[0])
			if err != nil {
				return err
			}
			mask, err := segmentation.MaskFromHUWithOptions(im, opts)
			if err != nil {
				return err
			}
			if err := saveVolume(output, mask); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Mask saved to: %s (%d foreground voxels)\n", output, mask.CountNonZero())
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output mask (.nrrd)")
	cmd.Flags().Float64Var(&huMin, "hu-min", segmentation.DefaultHUMin, "lowest HU kept in the mask")
	cmd.Flags().IntVar(&kernelSize, "kernel-size", segmentation.DefaultClosingKernelSize, "closing radius in voxels (0 disables)")
	cmd.Flags().StringVar(&kernel, "kernel", "box", "closing kernel: box, ball or cross")
	cmd.Flags().IntVar(&openRadius, "opening", 0, "opening radius removing small specks (0 disables)")
	cmd.Flags().BoolVar(&fullConnect, "fully-connected", false, "use 26-connected background when filling holes")
	return cmd
}
