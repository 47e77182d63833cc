//go:build contract

package contract

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// testdataDir is the path to the testdata directory.
const testdataDir = "testdata"

var update = flag.Bool("update", false, "rewrite golden files with the current output")

// loadGoldenFile reads a golden file from testdata.
func loadGoldenFile(t *testing.T, path string) []byte {
	t.Helper()

	fullPath := filepath.Join(testdataDir, path)
	data, err := os.ReadFile(fullPath)
	require.NoError(t, err, "failed to read golden file %s", fullPath)
	return data
}

// assertGolden compares got with the golden file, or rewrites it with -update.
func assertGolden(t *testing.T, path string, got []byte) {
	t.Helper()

	if *update {
		fullPath := filepath.Join(testdataDir, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0o755))
		require.NoError(t, os.WriteFile(fullPath, got, 0o644))
		return
	}

	want := loadGoldenFile(t, path)
	require.Equal(t, string(want), string(got), "encoded body differs from %s", path)
}
