package io

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salerhq/optrack/internal/model"
	"github.com/salerhq/optrack/internal/workload"
)

func TestScenarioYAMLRepository_GetScenario(t *testing.T) {
	tests := map[string]struct {
		fs     fstest.MapFS
		path   string
		expScn workload.Scenario
		expErr bool
		errMsg string
	}{
		"Full scenario should load successfully": {
			fs: fstest.MapFS{
				"scenario.yaml": &fstest.MapFile{
					Data: []byte(`name: dashboard
workloads:
  - name: leads_refresh
    type: network
    priority: high
    duration: 1200ms
    timeout: 10s
    max_retries: 2
    steps:
      - percent: 25
        message: Contacting CRM
      - percent: 60
        message: Downloading lead pages
    retry:
      strategy: fixed
      delay: 250ms
    failure:
      mode: fail_attempts
      attempts: 1
      kind: network
      message: "fetch leads: upstream CRM unreachable"
`),
				},
			},
			path: "scenario.yaml",
			expScn: workload.Scenario{
				Name: "dashboard",
				Workloads: []workload.Workload{
					{
						Name:     "leads_refresh",
						Type:     model.OperationTypeNetwork,
						Priority: model.OperationPriorityHigh,
						Duration: 1200 * time.Millisecond,
						Steps: []workload.Step{
							{Percent: 25, Message: "Contacting CRM"},
							{Percent: 60, Message: "Downloading lead pages"},
						},
						Timeout:    10 * time.Second,
						MaxRetries: 2,
						Policy: &model.RetryPolicy{
							Strategy: model.RetryStrategyFixed,
							Delay:    250 * time.Millisecond,
						},
						Failure: &workload.Failure{
							Mode:     workload.FailureModeAttempts,
							Attempts: 1,
							Kind:     model.ErrorKindNetwork,
							Message:  "fetch leads: upstream CRM unreachable",
						},
					},
				},
			},
			expErr: false,
		},
		"Minimal scenario should load successfully": {
			fs: fstest.MapFS{
				"scenario.yaml": &fstest.MapFile{
					Data: []byte(`name: tiny
workloads:
  - name: ping
`),
				},
			},
			path: "scenario.yaml",
			expScn: workload.Scenario{
				Name:      "tiny",
				Workloads: []workload.Workload{{Name: "ping"}},
			},
			expErr: false,
		},
		"Missing file should return error": {
			fs:     fstest.MapFS{},
			path:   "nonexistent.yaml",
			expErr: true,
			errMsg: "reading scenario file",
		},
		"Invalid YAML should return error": {
			fs: fstest.MapFS{
				"invalid.yaml": &fstest.MapFile{
					Data: []byte(`invalid: yaml: content: {}`),
				},
			},
			path:   "invalid.yaml",
			expErr: true,
			errMsg: "parsing YAML",
		},
		"Unparseable duration should return error": {
			fs: fstest.MapFS{
				"scenario.yaml": &fstest.MapFile{
					Data: []byte(`name: dashboard
workloads:
  - name: leads_refresh
    duration: fast
`),
				},
			},
			path:   "scenario.yaml",
			expErr: true,
			errMsg: "duration",
		},
		"Missing scenario name should return error": {
			fs: fstest.MapFS{
				"scenario.yaml": &fstest.MapFile{
					Data: []byte(`workloads:
  - name: ping
`),
				},
			},
			path:   "scenario.yaml",
			expErr: true,
			errMsg: "name is required",
		},
		"Duplicate workload keys should return error": {
			fs: fstest.MapFS{
				"scenario.yaml": &fstest.MapFile{
					Data: []byte(`name: dashboard
workloads:
  - name: first
    key: same
  - name: second
    key: same
`),
				},
			},
			path:   "scenario.yaml",
			expErr: true,
			errMsg: "duplicate workload key",
		},
		"Unknown failure mode should return error": {
			fs: fstest.MapFS{
				"scenario.yaml": &fstest.MapFile{
					Data: []byte(`name: dashboard
workloads:
  - name: ping
    failure:
      mode: explode
`),
				},
			},
			path:   "scenario.yaml",
			expErr: true,
			errMsg: "unknown failure mode",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			repo := NewScenarioYAMLRepository(tc.fs)
			scn, err := repo.GetScenario(context.Background(), tc.path)

			if tc.expErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.errMsg)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expScn, scn)
		})
	}
}

func TestScenarioYAMLRepository_GetScenario_ContextCancellation(t *testing.T) {
	fs := fstest.MapFS{
		"scenario.yaml": &fstest.MapFile{
			Data: []byte(`name: dashboard
workloads:
  - name: ping
`),
		},
	}

	repo := NewScenarioYAMLRepository(fs)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	_, err := repo.GetScenario(ctx, "scenario.yaml")
	require.Error(t, err)
	assert.Equal(t, context.Canceled, err)
}
