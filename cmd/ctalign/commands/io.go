package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"ctalign/internal/dicomseries"
	"ctalign/pkg/volume"
)

// loadVolume reads a NRRD file, or a DICOM series when path is a directory.
func loadVolume(path string) (*volume.Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	var im *volume.Image
	if info.IsDir() {
		loader := &dicomseries.Loader{Workers: cfg.Processing.NumCores, Logger: logger}
		im, err = loader.Load(path)
	} else {
		im, err = volume.ReadNRRD(path)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	logger.WithFields(logrus.Fields{
		"path":    path,
		"size":    im.Size,
		"spacing": im.Spacing,
		"type":    im.PixelType,
	}).Info("Loaded volume")
	return im, nil
}

// saveVolume writes im as NRRD, gzip-encoded when the configuration asks
// for it.
func saveVolume(path string, im *volume.Image) error {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".nrrd" {
		return fmt.Errorf("unsupported output format %q, expected .nrrd", ext)
	}
	if err := volume.WriteNRRD(path, im, cfg.Output.Compress); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	logger.WithField("path", path).Info("Saved volume")
	return nil
}
