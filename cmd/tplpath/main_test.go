package main

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--log-level", "error"))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestBuildShape(t *testing.T) {
	for _, shape := range []string{"cube", "sphere", "cylinder", "cone", "torus", "grating", "woodpile"} {
		t.Run(shape, func(t *testing.T) {
			fs := pflag.NewFlagSet(shape, pflag.ContinueOnError)
			addShapeFlags(fs)
			require.NoError(t, fs.Parse([]string{"--shape", shape, "--size", "4", "--segments", "16"}))
			m, err := buildShape(fs)
			require.NoError(t, err)
			lo, hi := m.Bounds()
			assert.InDelta(t, 0, lo.Z, 1e-9, "sits on the substrate")
			assert.LessOrEqual(t, hi.Z, 4+1e-9)
			assert.InDelta(t, 0, (lo.X+hi.X)/2, 1e-9)
			assert.Greater(t, m.Volume(), 0.0)
		})
	}

	fs := pflag.NewFlagSet("bad", pflag.ContinueOnError)
	addShapeFlags(fs)
	require.NoError(t, fs.Parse([]string{"--shape", "pyramid"}))
	_, err := buildShape(fs)
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "tplpath dev")
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tplpath.yaml")
	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote")
	_, err = os.Stat(path)
	require.NoError(t, err)

	_, err = execute(t, "config", "init", path)
	assert.ErrorContains(t, err, "already exists")
}

func TestPrimitive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cube.stl")
	out, err := execute(t, "primitive", path, "--shape", "cube", "--size", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "12 triangles")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(84+12*50), info.Size())
}

func TestPlan(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "plan", "--shape", "cube", "--size", "2", "--power", "20", "--out", dir, "--format", "gcode")
	require.NoError(t, err)
	assert.Contains(t, out, "Layers:         7")
	assert.Contains(t, out, "Segments:       28")

	for _, name := range []string{"toolpath.gcode", "report.json"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestPlanCSV(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "plan", "--shape", "cube", "--size", "2", "--power", "20", "--out", dir, "--format", "csv")
	require.NoError(t, err)

	f, err := os.Open(filepath.Join(dir, "toolpath.csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Greater(t, len(rows), 1)
	assert.Equal(t, []string{"x", "y", "z", "power", "speed", "shutter", "layer"}, rows[0])
}

func TestExplicitConfigErrors(t *testing.T) {
	t.Cleanup(func() {
		_ = rootCmd.PersistentFlags().Set("config", "")
		viper.Reset()
	})
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("process: [power\n"), 0o644))
	_, err := execute(t, "plan", "--config", bad, "--shape", "cube", "--size", "2", "--out", dir)
	assert.ErrorContains(t, err, "reading config")

	_, err = execute(t, "plan", "--config", filepath.Join(dir, "missing.yaml"), "--shape", "cube", "--size", "2", "--out", dir)
	assert.ErrorContains(t, err, "reading config")
}
