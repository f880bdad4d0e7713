package optrack_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	intoptrack "github.com/salerhq/optrack/test/integration/optrack"
)

// statusOutput matches the JSON output of `optrack status --format json`.
type statusOutput struct {
	GlobalLoading bool            `json:"global_loading"`
	Counts        map[string]int  `json:"counts"`
	Operations    []operationItem `json:"operations"`
}

// operationItem matches one tracked operation in the status output.
type operationItem struct {
	Key        string `json:"key"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	Progress   int    `json:"progress"`
	Error      string `json:"error"`
	ErrorKind  string `json:"error_kind"`
	Priority   string `json:"priority"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
}

// errorItem matches one archived event in the JSON output of `optrack errors`.
type errorItem struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Source   string `json:"source"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Count    int    `json:"count"`
	Resolved bool   `json:"resolved"`
}

// parseStatus parses the JSON status output.
func parseStatus(t *testing.T, data []byte) statusOutput {
	t.Helper()
	var out statusOutput
	require.NoError(t, json.Unmarshal(data, &out), "status output: %s", data)
	return out
}

// parseErrorList parses the JSON errors output.
func parseErrorList(t *testing.T, data []byte) []errorItem {
	t.Helper()
	var items []errorItem
	require.NoError(t, json.Unmarshal(data, &items), "errors output: %s", data)
	return items
}

// findOperation finds an operation by key in the status output.
func findOperation(out statusOutput, key string) *operationItem {
	for _, op := range out.Operations {
		if op.Key == key {
			return &op
		}
	}
	return nil
}

func TestRunScenarioSettles(t *testing.T) {
	config := intoptrack.NewConfig(t)
	dataDir := t.TempDir()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	scenario := intoptrack.WriteScenario(t, `
name: smoke
workloads:
  - name: crm-sync
    type: network
    priority: high
    duration: 300ms
    timeout: 10s
    max_retries: 2
    retry:
      strategy: fixed
      delay: 50ms
    steps:
      - percent: 50
        message: Downloading lead pages
    failure:
      mode: fail_attempts
      attempts: 1
      kind: network
      message: upstream CRM unreachable
  - name: quota-check
    type: form_submit
    priority: medium
    duration: 150ms
    max_retries: 3
    failure:
      mode: always_fail
      kind: validation
      message: email is required
`)

	// Play the scenario to the end.
	stdout, stderr, err := intoptrack.RunScenario(ctx, config, dataDir, scenario)
	require.NoError(t, err, "run failed: stdout=%s stderr=%s", stdout, stderr)

	out := string(stdout)
	assert.Contains(t, out, `Scenario "smoke": 2 workloads`)
	assert.Contains(t, out, "retry 1/2 in 50ms")
	assert.Contains(t, out, "✔ crm-sync")
	assert.Contains(t, out, "✖ quota-check")
	assert.Contains(t, out, "settled: 1 succeeded, 1 failed, 0 timed out")

	// Only the terminal validation failure reached the archive: the CRM sync
	// recovered on its retry.
	stdout, stderr, err = intoptrack.RunErrorsList(ctx, config, dataDir)
	require.NoError(t, err, "errors failed: stdout=%s stderr=%s", stdout, stderr)
	events := parseErrorList(t, stdout)
	require.Len(t, events, 1)
	assert.Equal(t, "validation", events[0].Kind)
	assert.Equal(t, "quota-check", events[0].Source)
	assert.Equal(t, 1, events[0].Count)
	assert.False(t, events[0].Resolved)
}

func TestRunStatusServer(t *testing.T) {
	config := intoptrack.NewConfig(t)
	dataDir := t.TempDir()

	ctx, cancelCtx := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancelCtx()

	// The scan runs for long enough to observe it mid flight, the quota check
	// fails right away and feeds the remote error feed.
	scenario := intoptrack.WriteScenario(t, `
name: live
workloads:
  - name: warehouse-scan
    type: compute
    priority: high
    duration: 30s
    timeout: 2m
    steps:
      - percent: 10
        message: Scanning deals
  - name: quota-check
    type: form_submit
    priority: medium
    duration: 200ms
    failure:
      mode: always_fail
      kind: validation
      message: email is required
`)

	port := intoptrack.GetFreePort(t)
	addr, stop := intoptrack.StartRun(t, config, dataDir, scenario, port)
	defer stop()

	// The server may come up before the runner registers the workloads, so
	// poll until both records are visible.
	var status statusOutput
	deadline := time.Now().Add(10 * time.Second)
	for {
		stdout, stderr, err := intoptrack.RunStatus(ctx, config, dataDir, addr)
		require.NoError(t, err, "status failed: stdout=%s stderr=%s", stdout, stderr)
		status = parseStatus(t, stdout)
		if len(status.Operations) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("status never showed both operations, got: %+v", status)
		}
		time.Sleep(200 * time.Millisecond)
	}

	assert.True(t, status.GlobalLoading)
	assert.Equal(t, 1, status.Counts["high"])

	scan := findOperation(status, "warehouse-scan")
	require.NotNil(t, scan, "warehouse-scan not found in %+v", status)
	assert.Equal(t, "running", scan.Status)
	assert.Equal(t, "high", scan.Priority)

	// The quota check settles within a second, its failure shows up on the
	// remote error feed.
	var events []errorItem
	deadline = time.Now().Add(10 * time.Second)
	for {
		stdout, stderr, err := intoptrack.RunErrorsListRemote(ctx, config, dataDir, addr)
		require.NoError(t, err, "errors failed: stdout=%s stderr=%s", stdout, stderr)
		events = parseErrorList(t, stdout)
		if len(events) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("remote error feed never showed the quota-check failure")
		}
		time.Sleep(200 * time.Millisecond)
	}
	assert.Equal(t, "validation", events[0].Kind)
	assert.Equal(t, "quota-check", events[0].Source)

	// The settled record stays readable while the scan keeps running.
	stdout, stderr, err := intoptrack.RunStatus(ctx, config, dataDir, addr)
	require.NoError(t, err, "status failed: stdout=%s stderr=%s", stdout, stderr)
	status = parseStatus(t, stdout)
	quota := findOperation(status, "quota-check")
	require.NotNil(t, quota, "quota-check not found in %+v", status)
	assert.Equal(t, "failed", quota.Status)
	assert.Equal(t, "validation", quota.ErrorKind)

	// Table format sanity check.
	stdout, stderr, err = intoptrack.RunOptrackCmd(ctx, config, dataDir, "status --addr "+addr)
	require.NoError(t, err, "status failed: stdout=%s stderr=%s", stdout, stderr)
	assert.Contains(t, string(stdout), "warehouse-scan")
}

func TestErrorsResolveAndPurge(t *testing.T) {
	config := intoptrack.NewConfig(t)
	dataDir := t.TempDir()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	scenario := intoptrack.WriteScenario(t, `
name: flaky
workloads:
  - name: billing-sync
    type: network
    priority: medium
    duration: 150ms
    failure:
      mode: always_fail
      kind: network
      message: upstream billing unreachable
`)

	// Seed the archive with one failure.
	stdout, stderr, err := intoptrack.RunScenario(ctx, config, dataDir, scenario)
	require.NoError(t, err, "run failed: stdout=%s stderr=%s", stdout, stderr)
	assert.Contains(t, string(stdout), "settled: 0 succeeded, 1 failed, 0 timed out")

	stdout, stderr, err = intoptrack.RunErrorsList(ctx, config, dataDir)
	require.NoError(t, err, "errors failed: stdout=%s stderr=%s", stdout, stderr)
	events := parseErrorList(t, stdout)
	require.Len(t, events, 1)
	assert.Equal(t, "network", events[0].Kind)
	assert.Equal(t, "billing-sync", events[0].Source)

	// Resolve it.
	stdout, stderr, err = intoptrack.RunErrorsResolve(ctx, config, dataDir, events[0].ID)
	require.NoError(t, err, "resolve failed: stdout=%s stderr=%s", stdout, stderr)
	assert.Contains(t, string(stdout), "Resolved error event "+events[0].ID)

	stdout, stderr, err = intoptrack.RunErrorsList(ctx, config, dataDir)
	require.NoError(t, err, "errors failed: stdout=%s stderr=%s", stdout, stderr)
	events = parseErrorList(t, stdout)
	require.Len(t, events, 1)
	assert.True(t, events[0].Resolved)

	// Purge everything older than the blink of an eye. The archive stamps
	// whole seconds, so step past a full one before cutting.
	time.Sleep(1100 * time.Millisecond)
	stdout, stderr, err = intoptrack.RunErrorsPurge(ctx, config, dataDir, "50ms")
	require.NoError(t, err, "purge failed: stdout=%s stderr=%s", stdout, stderr)
	assert.Contains(t, string(stdout), "Purged 1 error events")

	stdout, stderr, err = intoptrack.RunErrorsList(ctx, config, dataDir)
	require.NoError(t, err, "errors failed: stdout=%s stderr=%s", stdout, stderr)
	events = parseErrorList(t, stdout)
	assert.Len(t, events, 0)
}

func TestDoctorChecks(t *testing.T) {
	config := intoptrack.NewConfig(t)
	dataDir := t.TempDir()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// A loadable scenario passes with a single warning for the missing probe
	// target.
	valid := intoptrack.WriteScenario(t, `
name: checkup
workloads:
  - name: ping
    duration: 50ms
`)
	stdout, stderr, err := intoptrack.RunDoctor(ctx, config, dataDir, valid)
	require.NoError(t, err, "doctor failed: stdout=%s stderr=%s", stdout, stderr)
	out := string(stdout)
	assert.Contains(t, out, "Checking optrack runtime...")
	assert.Contains(t, out, `Scenario "checkup" is valid`)
	assert.Contains(t, out, "1 warning(s)")

	// A scenario that does not validate turns the check into a hard failure.
	broken := intoptrack.WriteScenario(t, `
name: broken
workloads:
  - key: anonymous
    duration: 10ms
`)
	stdout, stderr, err = intoptrack.RunDoctor(ctx, config, dataDir, broken)
	require.Error(t, err, "doctor should fail: stdout=%s stderr=%s", stdout, stderr)
	assert.Contains(t, string(stdout), "not loadable")
	assert.Contains(t, string(stderr), "preflight checks failed")
}
