package main

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeHeaderOnly(t *testing.T, path, patient string) {
	t.Helper()
	b := testHeader(patient, 0, 1.0, eegSignal(4)).encode()
	require.NoError(t, os.WriteFile(path, b, 0644))
}

func TestCheckAnonymization(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name       string
		patient    string
		anonymized bool
	}{
		{"blank", "", true},
		{"standard wipe", "X X X X", true},
		{"explicit marker", "Anonymized", true},
		{"only x runs", "XXX XXXXX XXX", false}, // name-pair pattern fires first, like the original scanner
		{"name pair", "John Smith", false},
		{"long id", "LHSC441AB", false},
		{"birthdate", "x 01.02.1980 x", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			path := filepath.Join(dir, c.name+".edf")
			writeHeaderOnly(t, path, c.patient)
			result := checkAnonymization(path)
			assert.Empty(t, result.Err)
			assert.Equal(t, c.anonymized, result.Anonymized, "patient %q, reason %q", c.patient, result.Reason)
			if !c.anonymized {
				assert.NotEmpty(t, result.Reason)
			}
		})
	}
}

func TestCheckAnonymizationTooShort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stub.edf")
	require.NoError(t, os.WriteFile(path, []byte("tiny"), 0644))
	result := checkAnonymization(path)
	assert.NotEmpty(t, result.Err)
	assert.False(t, result.Anonymized)
}

func TestScanDirectory(t *testing.T) {
	dir := t.TempDir()
	writeHeaderOnly(t, filepath.Join(dir, "clean.edf"), "X X X X")
	writeHeaderOnly(t, filepath.Join(dir, "dirty.edf"), "12345 M 01-JAN-1980 Smith John")
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0755))
	writeHeaderOnly(t, filepath.Join(sub, "also_dirty.bdf"), "Jane Doe")

	reportPath := filepath.Join(dir, "report.csv")
	results, err := scanDirectory(dir, reportPath, 2)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	f, err := os.Open(reportPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	// Header row plus the two non-anonymized files.
	require.Len(t, rows, 3)
	assert.Equal(t, "file_path", rows[0][0])
	flagged := map[string]bool{rows[1][0]: true, rows[2][0]: true}
	assert.True(t, flagged[filepath.Join(dir, "dirty.edf")])
	assert.True(t, flagged[filepath.Join(sub, "also_dirty.bdf")])
}
