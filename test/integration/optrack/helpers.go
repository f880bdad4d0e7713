package optrack

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/salerhq/optrack/test/integration/testutils"
)

// Config carries the environment-provided settings for the CLI integration
// suite.
type Config struct {
	Binary string
}

func (c *Config) defaults() error {
	if c.Binary == "" {
		c.Binary = "optrack"
	}

	// go test runs each package in its own directory, so a relative binary
	// path would resolve differently per package. Demand an absolute one.
	if !filepath.IsAbs(c.Binary) {
		return fmt.Errorf("OPTRACK_INTEGRATION_BINARY must be an absolute path, got %q", c.Binary)
	}
	if _, err := os.Stat(c.Binary); err != nil {
		return fmt.Errorf("optrack binary not found at %q: %w", c.Binary, err)
	}

	return nil
}

// NewConfig reads the suite settings from the environment and skips the test
// unless the suite has been switched on and points at a built binary.
func NewConfig(t *testing.T) Config {
	t.Helper()

	const (
		envActivation = "OPTRACK_INTEGRATION"
		envBinary     = "OPTRACK_INTEGRATION_BINARY"
	)

	if os.Getenv(envActivation) != "true" {
		t.Skipf("Integration tests disabled (set %s=true to enable)", envActivation)
	}

	c := Config{
		Binary: os.Getenv(envBinary),
	}

	if err := c.defaults(); err != nil {
		t.Skipf("Invalid integration config: %s", err)
	}

	return c
}

// RunOptrackCmd runs an optrack command with the given arguments and a specific
// data dir. It suppresses logging output for cleaner test output.
func RunOptrackCmd(ctx context.Context, config Config, dataDir, cmdArgs string) (stdout, stderr []byte, err error) {
	args := fmt.Sprintf("--no-log --no-color --data-dir %s %s", dataDir, cmdArgs)

	return testutils.RunOptrack(ctx, nil, config.Binary, args, true)
}

// RunScenario plays a scenario file until it settles.
func RunScenario(ctx context.Context, config Config, dataDir, scenarioPath string) (stdout, stderr []byte, err error) {
	return RunOptrackCmd(ctx, config, dataDir, fmt.Sprintf("run --scenario %s", scenarioPath))
}

// RunStatus fetches the status of a running optrack process in JSON format.
func RunStatus(ctx context.Context, config Config, dataDir, addr string) (stdout, stderr []byte, err error) {
	return RunOptrackCmd(ctx, config, dataDir, fmt.Sprintf("status --addr %s --format json", addr))
}

// RunErrorsList lists the local error archive in JSON format.
func RunErrorsList(ctx context.Context, config Config, dataDir string) (stdout, stderr []byte, err error) {
	return RunOptrackCmd(ctx, config, dataDir, "errors --format json")
}

// RunErrorsListRemote lists the errors of a running optrack process in JSON format.
func RunErrorsListRemote(ctx context.Context, config Config, dataDir, addr string) (stdout, stderr []byte, err error) {
	return RunOptrackCmd(ctx, config, dataDir, fmt.Sprintf("errors --addr %s --format json", addr))
}

// RunErrorsResolve marks an archived error event as resolved.
func RunErrorsResolve(ctx context.Context, config Config, dataDir, id string) (stdout, stderr []byte, err error) {
	return RunOptrackCmd(ctx, config, dataDir, fmt.Sprintf("errors --resolve %s", id))
}

// RunErrorsPurge removes archived events last seen longer than olderThan ago.
func RunErrorsPurge(ctx context.Context, config Config, dataDir, olderThan string) (stdout, stderr []byte, err error) {
	return RunOptrackCmd(ctx, config, dataDir, fmt.Sprintf("errors --purge-older %s", olderThan))
}

// RunDoctor runs the preflight checks against a scenario file.
func RunDoctor(ctx context.Context, config Config, dataDir, scenarioPath string) (stdout, stderr []byte, err error) {
	return RunOptrackCmd(ctx, config, dataDir, fmt.Sprintf("doctor --scenario %s", scenarioPath))
}

// WriteScenario writes a scenario YAML into a temp dir and returns its path.
func WriteScenario(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("could not write scenario file: %v", err)
	}
	return path
}

// GetFreePort asks the kernel for an unused TCP port on localhost.
func GetFreePort(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("could not reserve a port: %v", err)
	}
	defer l.Close()

	return l.Addr().(*net.TCPAddr).Port
}

// WaitForPort blocks until addr accepts TCP connections or the timeout runs
// out.
func WaitForPort(t *testing.T, addr string, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s did not accept connections within %s", addr, timeout)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// StartRun starts `optrack run` with the status API exposed, in the background.
// Returns the API address and a cancel function to stop the process.
func StartRun(t *testing.T, config Config, dataDir, scenarioPath string, port int) (addr string, cancel func()) {
	t.Helper()

	ctx, ctxCancel := context.WithCancel(context.Background())

	addr = fmt.Sprintf("127.0.0.1:%d", port)
	args := []string{
		"--no-log", "--no-color",
		"--data-dir", dataDir,
		"run",
		"--scenario", scenarioPath,
		"--listen", addr,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = testutils.RunOptrackArgs(ctx, nil, config.Binary, args, true)
	}()

	WaitForPort(t, addr, 10*time.Second)

	cancel = func() {
		ctxCancel()
		<-done
	}

	return addr, cancel
}
