package commands

import (
	"bytes"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctalign/pkg/config"
	"ctalign/pkg/transform"
	"ctalign/pkg/visualization"
	"ctalign/pkg/volume"
)

// cubeVolume is air with a 300 HU cube in the middle.
func cubeVolume(t *testing.T, dir string) string {
	t.Helper()
	im := volume.New([3]int{16, 16, 16}, volume.Int16)
	im.Spacing = [3]float64{1.5, 1.5, 2}
	for i := range im.Data {
		x, y, z := im.Coords(i)
		if x >= 5 && x < 11 && y >= 5 && y < 11 && z >= 5 && z < 11 {
			im.Data[i] = 300
		} else {
			im.Data[i] = -1000
		}
	}
	path := filepath.Join(dir, "cube.nrrd")
	require.NoError(t, volume.WriteNRRD(path, im, false))
	return path
}

// texturedVolume is soft tissue with a fixed random pattern of dense and
// dark spots, so only the identity aligns it with itself.
func texturedVolume(t *testing.T, dir string) string {
	t.Helper()
	const size, spacing = 20, 1.5
	rng := rand.New(rand.NewSource(11))
	type spot struct {
		center [3]float64
		sigma  float64
		amp    float64
	}
	var spots []spot
	for i := 0; i < 40; i++ {
		var s spot
		for d := 0; d < 3; d++ {
			s.center[d] = float64(size-1) * spacing * (0.1 + 0.8*rng.Float64())
		}
		s.sigma = 2.5 + 1.5*rng.Float64()
		s.amp = -400 + 1200*rng.Float64()
		spots = append(spots, s)
	}

	im := volume.New([3]int{size, size, size}, volume.Int16)
	im.Spacing = [3]float64{spacing, spacing, spacing}
	for i := range im.Data {
		x, y, z := im.Coords(i)
		p := [3]float64{float64(x) * spacing, float64(y) * spacing, float64(z) * spacing}
		v := 40.0
		for _, s := range spots {
			e := 0.0
			for d := 0; d < 3; d++ {
				u := (p[d] - s.center[d]) / s.sigma
				e += u * u
			}
			v += s.amp * math.Exp(-e/2)
		}
		im.Data[i] = volume.Int16.Convert(v)
	}
	path := filepath.Join(dir, "textured.nrrd")
	require.NoError(t, volume.WriteNRRD(path, im, false))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	cfgPath := filepath.Join(t.TempDir(), "missing.yaml")
	root.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctalign.yaml")
	out, err := run(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Mask, cfg.Mask)
}

func TestMaskCommand(t *testing.T) {
	dir := t.TempDir()
	in := cubeVolume(t, dir)
	out := filepath.Join(dir, "mask.nrrd")

	stdout, err := run(t, "mask", in, "-o", out, "--kernel-size", "1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "216 foreground voxels")

	mask, err := volume.ReadNRRD(out)
	require.NoError(t, err)
	assert.Equal(t, 216, mask.CountNonZero())

	_, err = run(t, "mask", in)
	assert.Error(t, err)
	_, err = run(t, "mask", in, "-o", filepath.Join(dir, "mask.png"))
	assert.Error(t, err)
}

func TestResampleIdentity(t *testing.T) {
	dir := t.TempDir()
	in := cubeVolume(t, dir)
	xfmPath := filepath.Join(dir, "identity.yaml")
	require.NoError(t, transform.Save(transform.NewAffine(), xfmPath))
	out := filepath.Join(dir, "out.nrrd")

	_, err := run(t, "resample", in, in, "-t", xfmPath, "-o", out)
	require.NoError(t, err)

	orig, err := volume.ReadNRRD(in)
	require.NoError(t, err)
	got, err := volume.ReadNRRD(out)
	require.NoError(t, err)
	assert.Equal(t, orig.Data, got.Data)
}

func TestResampleTranslatedMask(t *testing.T) {
	dir := t.TempDir()
	in := cubeVolume(t, dir)
	xfmPath := filepath.Join(dir, "shift.yaml")
	require.NoError(t, transform.Save(transform.NewTranslation([3]float64{1.5, 0, 0}), xfmPath))
	out := filepath.Join(dir, "out.nrrd")

	_, err := run(t, "resample", in, in, "-t", xfmPath, "-o", out, "--mask")
	require.NoError(t, err)

	got, err := volume.ReadNRRD(out)
	require.NoError(t, err)
	// Output x=4 reads input x=5, the first cube column.
	assert.Equal(t, 300.0, got.At(4, 8, 8))
	assert.Equal(t, -1000.0, got.At(10, 8, 8))
}

func TestRegisterCommand(t *testing.T) {
	if testing.Short() {
		t.Skip("registration is slow")
	}
	dir := t.TempDir()
	in := texturedVolume(t, dir)

	cfg := config.DefaultConfig()
	cfg.Registration.SamplingStrategy = "none"
	cfg.Registration.Seed = 1
	cfg.Registration.Iterations = 5
	cfg.Registration.ShrinkFactors = []int{2, 1}
	cfg.Registration.SmoothingSigmas = []float64{1, 0}
	cfg.Output.Verbose = false
	cfgPath := filepath.Join(dir, "ctalign.yaml")
	require.NoError(t, config.SaveConfig(cfg, cfgPath))

	xfmPath := filepath.Join(dir, "xfm.yaml")
	resampled := filepath.Join(dir, "resampled.nrrd")
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"--config", cfgPath, "register", in, in, "-o", xfmPath, "--resampled", resampled})
	require.NoError(t, root.Execute())

	assert.Contains(t, out.String(), "Alignment quality")
	xfm, err := transform.Load(xfmPath)
	require.NoError(t, err)
	assert.True(t, xfm.IsIdentity(0.5), xfm.String())
	_, err = os.Stat(resampled)
	assert.NoError(t, err)
}

func TestSlicesCommand(t *testing.T) {
	dir := t.TempDir()
	in := cubeVolume(t, dir)
	outDir := filepath.Join(dir, "slices")

	_, err := run(t, "slices", in, "-o", outDir, "--axis", "y", "--window", "full")
	require.NoError(t, err)
	files, err := filepath.Glob(filepath.Join(outDir, "slice_y_*.png"))
	require.NoError(t, err)
	assert.Len(t, files, 16)

	_, err = run(t, "slices", in, "-o", outDir, "--position", "8", "--format", "tif", "--overlay", in)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(outDir, "slice_z_008.tif"))
	assert.NoError(t, err)

	_, err = run(t, "slices", in, "-o", outDir, "--window", "wide")
	assert.Error(t, err)
}

func TestMeshCommand(t *testing.T) {
	dir := t.TempDir()
	in := cubeVolume(t, dir)
	out := filepath.Join(dir, "cube.stl")

	stdout, err := run(t, "mesh", in, "-o", out)
	require.NoError(t, err)
	// A 6^3 cube exposes 6*36 faces of two triangles each.
	assert.Contains(t, stdout, "432 triangles")

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, int64(84+50*432), info.Size())

	_, err = run(t, "mesh", in, "-o", out, "--hu-min", "5000")
	assert.Error(t, err)
}

func TestParseWindow(t *testing.T) {
	im := volume.New([3]int{2, 1, 1}, volume.Float32)
	im.Data[0], im.Data[1] = -100, 300

	w, err := parseWindow("bone", im)
	require.NoError(t, err)
	assert.Equal(t, visualization.BoneWindow, w)

	w, err = parseWindow("full", im)
	require.NoError(t, err)
	assert.Equal(t, visualization.Window{Level: 100, Width: 400}, w)

	w, err = parseWindow("50/350", im)
	require.NoError(t, err)
	assert.Equal(t, visualization.Window{Level: 50, Width: 350}, w)

	_, err = parseWindow("50/0", im)
	assert.Error(t, err)
}

func TestLoadVolumeMissing(t *testing.T) {
	_, err := run(t, "mask", filepath.Join(t.TempDir(), "absent.nrrd"), "-o", "x.nrrd")
	assert.Error(t, err)
}
