package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/lherman-cs/bag2mat"
	"github.com/lherman-cs/bag2mat/matfile"
	"github.com/lherman-cs/bag2mat/rosbag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(args ...string) (string, error) {
	var stderr bytes.Buffer
	cmd := newRootCmd()
	// a nil slice makes cobra fall back to os.Args
	cmd.SetArgs(append([]string{}, args...))
	cmd.SetOut(&stderr)
	cmd.SetErr(&stderr)

	err := cmd.Execute()
	return stderr.String(), err
}

func TestUsage(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	for _, args := range [][]string{{}, {"a.bag", "b.bag"}} {
		stderr, err := execute(args...)
		require.ErrorIs(t, err, bag2mat.ErrUsage)
		assert.Contains(t, stderr, "bag2mat <rosbag>")
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no output is written on usage errors")
}

func TestConvert(t *testing.T) {
	dir := t.TempDir()
	bagPath := filepath.Join(dir, "empty.bag")

	var buf bytes.Buffer
	require.NoError(t, rosbag.NewEncoder(&buf).Close())
	require.NoError(t, os.WriteFile(bagPath, buf.Bytes(), 0o644))

	_, err := execute(bagPath)
	require.NoError(t, err)

	matrices, err := matfile.ReadFile(filepath.Join(dir, "empty.mat"))
	require.NoError(t, err)
	for _, c := range bag2mat.Categories {
		m, ok := matrices[c.Variable()]
		require.True(t, ok, c.Variable())
		assert.Zero(t, m.Rows)
		assert.Equal(t, c.Width(), m.Cols)
	}
}

func TestConvertMissingBag(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(filepath.Join(dir, "missing.bag"))
	require.ErrorIs(t, err, bag2mat.ErrLogOpen)
	assert.NoFileExists(t, filepath.Join(dir, "missing.mat"))
}
