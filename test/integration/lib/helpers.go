package lib

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	sdklib "github.com/salerhq/optrack/pkg/lib"
)

// Config carries the environment-provided settings for the SDK integration
// suite.
type Config struct {
	// ArchiveDir is an optional directory the test archives are written under,
	// handy for inspecting them after a run. Empty means per-test temp dirs.
	ArchiveDir string
}

func (c *Config) defaults() error {
	if c.ArchiveDir == "" {
		return nil
	}

	// If relative, the caller should pass an absolute path via the env var,
	// because go test changes the CWD to the test package directory.
	if !filepath.IsAbs(c.ArchiveDir) {
		return fmt.Errorf("OPTRACK_INTEGRATION_ARCHIVE_DIR must be an absolute path, got %q", c.ArchiveDir)
	}
	info, err := os.Stat(c.ArchiveDir)
	if err != nil {
		return fmt.Errorf("archive directory not found at %q: %w", c.ArchiveDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%q is not a directory", c.ArchiveDir)
	}

	return nil
}

// NewConfig reads the suite settings from the environment and skips the test
// unless the suite has been switched on.
func NewConfig(t *testing.T) Config {
	t.Helper()

	const (
		envActivation = "OPTRACK_INTEGRATION"
		envArchiveDir = "OPTRACK_INTEGRATION_ARCHIVE_DIR"
	)

	if os.Getenv(envActivation) != "true" {
		t.Skipf("Integration tests disabled (set %s=true to enable)", envActivation)
	}

	c := Config{
		ArchiveDir: os.Getenv(envArchiveDir),
	}

	if err := c.defaults(); err != nil {
		t.Skipf("Invalid integration config: %s", err)
	}

	return c
}

// NewArchivePath returns a fresh SQLite archive path for the test.
func NewArchivePath(t *testing.T, config Config) string {
	t.Helper()

	if config.ArchiveDir != "" {
		return filepath.Join(config.ArchiveDir, fmt.Sprintf("optrack-test-%d.db", time.Now().UnixNano()))
	}
	return filepath.Join(t.TempDir(), "errors.db")
}

// UniqueKey generates a unique operation key for test isolation.
func UniqueKey(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// NewTestClient creates an SDK client writing its error archive to the given
// SQLite path. An empty path keeps the archive in memory.
func NewTestClient(t *testing.T, archivePath string) *sdklib.Client {
	t.Helper()

	ctx := context.Background()

	client, err := sdklib.New(ctx, sdklib.Config{
		DataDir:     t.TempDir(),
		ArchivePath: archivePath,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}
