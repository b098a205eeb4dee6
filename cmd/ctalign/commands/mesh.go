package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"ctalign/pkg/segmentation"
	"ctalign/pkg/stl"
)

func meshCmd() *cobra.Command {
	var (
		output string
		huMin  float64
		isMask bool
	)
	cmd := &cobra.Command{
		Use:   "mesh <input>",
		Short: "Write the surface of a HU mask as a binary STL mesh",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				return errors.New("output path required (-o)")
			}
			im, err := loadVolume(args[0])
			if err != nil {
				return err
			}

			mask := im
			if !isMask {
				opts, err := cfg.MaskOptions()
				if err != nil {
					return err
				}
				if cmd.Flags().Changed("hu-min") {
					opts.HUMin = huMin
				}
				opts.Logger = logger
				if mask, err = segmentation.MaskFromHUWithOptions(im, opts); err != nil {
					return err
				}
			}

			triangles, err := stl.FromMask(mask, 1)
			if err != nil {
				return err
			}
			if len(triangles) == 0 {
				return errors.New("mask is empty, nothing to mesh")
			}
			if err := stl.SaveToSTL(output, triangles); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Mesh saved to: %s (%d triangles)\n", output, len(triangles))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output STL file")
	cmd.Flags().Float64Var(&huMin, "hu-min", segmentation.DefaultHUMin, "lowest HU kept in the mask")
	cmd.Flags().BoolVar(&isMask, "is-mask", false, "input is already a 0/1 mask")
	return cmd
}
