package transform

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// transformFile is the YAML layout of a saved transform.
type transformFile struct {
	Type            string    `yaml:"type"`
	Parameters      []float64 `yaml:"parameters"`
	FixedParameters []float64 `yaml:"fixedParameters"`
}

const affineType = "AffineTransform_double_3_3"

// Marshal encodes an affine as YAML.
func Marshal(a *Affine) ([]byte, error) {
	tf := transformFile{
		Type:            affineType,
		Parameters:      a.Parameters(),
		FixedParameters: a.Center[:],
	}
	return yaml.Marshal(&tf)
}

// Unmarshal decodes an affine written by Marshal.
func Unmarshal(data []byte) (*Affine, error) {
	var tf transformFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("error parsing transform: %w", err)
	}
	if tf.Type != affineType {
		return nil, fmt.Errorf("transform: unsupported type %q", tf.Type)
	}
	a := NewAffine()
	if err := a.SetParameters(tf.Parameters); err != nil {
		return nil, err
	}
	if err := checkParameterCount(len(tf.FixedParameters), 3); err != nil {
		return nil, fmt.Errorf("fixed parameters: %w", err)
	}
	copy(a.Center[:], tf.FixedParameters)
	return a, nil
}

// Save writes a to path, creating parent directories.
func Save(a *Affine, path string) error {
	data, err := Marshal(a)
	if err != nil {
		return fmt.Errorf("error marshaling transform: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating transform directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing transform file: %w", err)
	}
	return nil
}

// Load reads an affine saved with Save.
func Load(path string) (*Affine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading transform file: %w", err)
	}
	return Unmarshal(data)
}
