package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"ctalign/pkg/registration"
	"ctalign/pkg/transform"
)

func resampleCmd() *cobra.Command {
	var (
		xfmPath string
		output  string
		isMask  bool
		invert  bool
	)
	cmd := &cobra.Command{
		Use:   "resample <moving> <reference>",
		Short: "Resample a moving image onto the reference grid through a saved transform",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				return errors.New("output path required (-o)")
			}
			mov, err := loadVolume(args[0])
			if err != nil {
				return err
			}
			ref, err := loadVolume(args[1])
			if err != nil {
				return err
			}

			var xfm transform.Transform = transform.Identity{}
			if xfmPath != "" {
				affine, err := transform.Load(xfmPath)
				if err != nil {
					return err
				}
				if invert {
					if affine, err = affine.Inverse(); err != nil {
						return err
					}
				}
				xfm = affine
			}

			out, err := registration.ApplyTransform(mov, xfm, ref, isMask)
			if err != nil {
				return err
			}
			return saveVolume(output, out)
		},
	}
	cmd.Flags().StringVarP(&xfmPath, "transform", "t", "", "transform file written by register (identity when empty)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output volume (.nrrd)")
	cmd.Flags().BoolVar(&isMask, "mask", false, "treat the moving image as labels (nearest neighbor)")
	cmd.Flags().BoolVar(&invert, "invert", false, "apply the inverse transform")
	return cmd
}
