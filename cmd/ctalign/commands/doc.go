// Package commands defines the ctalign CLI.
//
// Commands
//
//   - register   Estimate the affine aligning a moving CT to a reference CT
//   - resample   Apply a saved transform onto a reference grid
//   - mask       Build a body mask from a HU threshold
//   - slices     Export windowed 2D slices of a volume
//   - mesh       Write the surface of a HU mask as binary STL
//   - config     Write a default configuration file
//
// Volumes are read from NRRD files or from directories holding one DICOM
// file per slice.
//
// # Implementation
//
// The root command loads the YAML configuration, applies flag overrides and
// builds the shared logger before any subcommand runs.
package commands
