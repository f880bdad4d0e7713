package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveArchivePath(t *testing.T) {
	tests := map[string]struct {
		dataDir  string
		override string
		expPath  string
	}{
		"No override should use the conventional file under the data dir": {
			dataDir: "/home/u/.optrack",
			expPath: filepath.Join("/home/u/.optrack", "errors.db"),
		},
		"An override should win over the data dir": {
			dataDir:  "/home/u/.optrack",
			override: "/tmp/other.db",
			expPath:  "/tmp/other.db",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expPath, resolveArchivePath(tc.dataDir, tc.override))
		})
	}
}

func TestResolveScenarioPath(t *testing.T) {
	dataDir := t.TempDir()

	t.Run("Missing conventional file should mean the built-in scenario", func(t *testing.T) {
		assert.Equal(t, "", resolveScenarioPath(dataDir, ""))
	})

	t.Run("An override should win without touching the data dir", func(t *testing.T) {
		assert.Equal(t, "/tmp/demo.yaml", resolveScenarioPath(dataDir, "/tmp/demo.yaml"))
	})

	t.Run("An existing conventional file should be picked up", func(t *testing.T) {
		conventional := filepath.Join(dataDir, "scenario.yaml")
		require.NoError(t, os.WriteFile(conventional, []byte("name: demo\n"), 0o644))

		assert.Equal(t, conventional, resolveScenarioPath(dataDir, ""))
	})
}
