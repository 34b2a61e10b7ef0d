package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsEDFFile(t *testing.T) {
	assert.True(t, isEDFFile("study.edf"))
	assert.True(t, isEDFFile("STUDY.EDF"))
	assert.True(t, isEDFFile("night1.bdf"))
	assert.True(t, isEDFFile("legacy.rec"))
	assert.False(t, isEDFFile("study.edf.md5"))
	assert.False(t, isEDFFile("notes.txt"))
}

func TestOutputPathFor(t *testing.T) {
	assert.Equal(t, filepath.Join("data", "study_anon.edf"), outputPathFor(filepath.Join("data", "study.edf"), ""))
	assert.Equal(t, filepath.Join("out", "study_anon.edf"), outputPathFor(filepath.Join("data", "study.edf"), "out"))
	assert.Equal(t, filepath.Join("data", "night1_anon.bdf"), outputPathFor(filepath.Join("data", "night1.bdf"), ""))
}

func TestFindEDFFiles(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "patient1")
	require.NoError(t, os.Mkdir(sub, 0755))
	for _, name := range []string{"a.edf", "b.BDF", "patient1/c.edf"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
	// Skipped: our own output, an empty file, a non-EDF file.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_anon.edf"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.edf"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0644))

	found, err := findEDFFiles(dir, time.UnixMilli(0))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "a.edf"),
		filepath.Join(dir, "b.BDF"),
		filepath.Join(sub, "c.edf"),
	}, found)

	// The watermark excludes files already handled by a previous run.
	found, err = findEDFFiles(dir, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestStateRoundTrip(t *testing.T) {
	file := filepath.Join(t.TempDir(), "state.yaml")
	// Missing file falls back to the epoch default.
	assert.Equal(t, time.UnixMilli(0), readState(file).LastRun)

	want := State{LastRun: time.Date(2026, 8, 25, 12, 30, 0, 0, time.UTC)}
	writeState(want, file)
	assert.True(t, want.LastRun.Equal(readState(file).LastRun))

	// Corrupt state also falls back rather than failing the run.
	require.NoError(t, os.WriteFile(file, []byte("{not yaml"), 0644))
	assert.Equal(t, time.UnixMilli(0), readState(file).LastRun)
}

func TestWriteMD5Sidecar(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "study_anon.edf")
	require.NoError(t, os.WriteFile(path, []byte("edf bytes"), 0644))
	require.NoError(t, writeMD5Sidecar(path))

	sidecar, err := os.ReadFile(path + ".md5")
	require.NoError(t, err)
	// "<hex-digest>  <filename>\n" with a two-space separator.
	assert.Equal(t, fmt.Sprintf("%s  study_anon.edf\n", "b56a69645db8000484b215ac69a5d1e1"), string(sidecar))
}

func TestReadConfigDefaults(t *testing.T) {
	config := readConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, 64, config.BufferSizeMB)
	assert.Equal(t, 4, config.Workers)
	assert.Nil(t, config.Influx)
}

func TestReadConfigFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "edf-anonymize.yaml")
	content := "buffer_size_mb: 16\nworkers: 2\nname_hints:\n  - Smith;John\ninflux:\n  host: http://localhost:8086\n  auth_token: secret\n  org: lab\n  bucket: edf\n"
	require.NoError(t, os.WriteFile(file, []byte(content), 0644))

	config := readConfig(file)
	assert.Equal(t, 16, config.BufferSizeMB)
	assert.Equal(t, 2, config.Workers)
	assert.Equal(t, []string{"Smith;John"}, config.NameHints)
	require.NotNil(t, config.Influx)
	assert.Equal(t, "http://localhost:8086", config.Influx.Host)
	assert.Equal(t, "secret", config.Influx.AuthToken)
}
