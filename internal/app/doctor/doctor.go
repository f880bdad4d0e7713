// Package doctor runs the preflight checks of the tracking runtime: whether
// state can be written, whether the error archive is usable and whether the
// configured inputs parse.
package doctor

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/salerhq/optrack/internal/connectivity"
	"github.com/salerhq/optrack/internal/log"
	"github.com/salerhq/optrack/internal/model"
	"github.com/salerhq/optrack/internal/printer"
	"github.com/salerhq/optrack/internal/telemetry/sqlite/migrations"
	workloadio "github.com/salerhq/optrack/internal/workload/io"
)

// archiveSizeWarn is the archive file size above which the doctor suggests a
// purge.
const archiveSizeWarn = 64 << 20

// ServiceConfig is the configuration for the doctor service.
type ServiceConfig struct {
	// DataDir is the directory holding optrack state.
	DataDir string
	// ArchivePath is the SQLite error archive. Empty means the archive is
	// memory only and the schema checks are skipped.
	ArchivePath string
	// ScenarioPath is the workload scenario file. Empty means the built-in
	// scenario.
	ScenarioPath string
	// ProbeTarget is the connectivity probe URL. Empty means connectivity
	// watching is off.
	ProbeTarget string
	// Probe overrides the HTTP probe used for the probe target check.
	Probe func(ctx context.Context) error
	// ProbeTimeout bounds the probe target check.
	ProbeTimeout time.Duration
	// Policy is the retry policy the controller will run with. Nil means the
	// default policy.
	Policy *model.RetryPolicy
	Logger log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.DataDir == "" {
		return fmt.Errorf("data dir is required")
	}

	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 3 * time.Second
	}

	if c.Probe == nil && c.ProbeTarget != "" {
		c.Probe = connectivity.HTTPProbe(c.ProbeTarget, c.ProbeTimeout)
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "doctor.Service"})

	return nil
}

// Service runs the doctor checks.
type Service struct {
	dataDir      string
	archivePath  string
	scenarioPath string
	probeTarget  string
	probe        func(ctx context.Context) error
	probeTimeout time.Duration
	policy       *model.RetryPolicy
	logger       log.Logger
}

// NewService creates a new doctor service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		dataDir:      cfg.DataDir,
		archivePath:  cfg.ArchivePath,
		scenarioPath: cfg.ScenarioPath,
		probeTarget:  cfg.ProbeTarget,
		probe:        cfg.Probe,
		probeTimeout: cfg.ProbeTimeout,
		policy:       cfg.Policy,
		logger:       cfg.Logger,
	}, nil
}

// Check runs every doctor check and returns the results in a stable order.
func (s *Service) Check(ctx context.Context) []model.CheckResult {
	var results []model.CheckResult

	// Check 1: data directory writable.
	results = append(results, s.checkDataDir())

	// Check 2: archive schema and size.
	results = append(results, s.checkArchive(ctx)...)

	// Check 3: scenario file parses.
	results = append(results, s.checkScenario(ctx))

	// Check 4: probe target reachable.
	results = append(results, s.checkProbeTarget(ctx))

	// Check 5: retry policy valid.
	results = append(results, s.checkPolicy())

	return results
}

// checkDataDir checks the data directory exists and is writable.
func (s *Service) checkDataDir() model.CheckResult {
	info, err := os.Stat(s.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return model.CheckResult{
				ID:      "data_dir",
				Message: fmt.Sprintf("Data directory %s does not exist yet (created on first use)", s.dataDir),
				Status:  model.CheckStatusWarning,
			}
		}
		return model.CheckResult{
			ID:      "data_dir",
			Message: fmt.Sprintf("Cannot access data directory %s: %v", s.dataDir, err),
			Status:  model.CheckStatusError,
		}
	}

	if !info.IsDir() {
		return model.CheckResult{
			ID:      "data_dir",
			Message: fmt.Sprintf("%s is not a directory", s.dataDir),
			Status:  model.CheckStatusError,
		}
	}

	// Check writability by creating a probe file.
	probe := filepath.Join(s.dataDir, ".doctor")
	f, err := os.Create(probe)
	if err != nil {
		return model.CheckResult{
			ID:      "data_dir",
			Message: fmt.Sprintf("No write permission on %s: %v", s.dataDir, err),
			Status:  model.CheckStatusError,
		}
	}
	f.Close()
	os.Remove(probe)

	return model.CheckResult{
		ID:      "data_dir",
		Message: fmt.Sprintf("Data directory %s is writable", s.dataDir),
		Status:  model.CheckStatusOK,
	}
}

// checkArchive checks the error archive file, its schema version and its
// size.
func (s *Service) checkArchive(ctx context.Context) []model.CheckResult {
	if s.archivePath == "" {
		return []model.CheckResult{{
			ID:      "archive",
			Message: "Error archive is memory only (no archive file configured)",
			Status:  model.CheckStatusOK,
		}}
	}

	info, err := os.Stat(s.archivePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []model.CheckResult{{
				ID:      "archive",
				Message: fmt.Sprintf("Archive %s does not exist yet (created on first run)", s.archivePath),
				Status:  model.CheckStatusOK,
			}}
		}
		return []model.CheckResult{{
			ID:      "archive",
			Message: fmt.Sprintf("Cannot access archive %s: %v", s.archivePath, err),
			Status:  model.CheckStatusError,
		}}
	}

	results := []model.CheckResult{s.checkArchiveSchema(ctx)}

	size := model.CheckResult{
		ID:      "archive_size",
		Message: fmt.Sprintf("Archive is %s", printer.FormatBytes(info.Size())),
		Status:  model.CheckStatusOK,
	}
	if info.Size() > archiveSizeWarn {
		size.Message = fmt.Sprintf("Archive is %s, consider purging resolved errors", printer.FormatBytes(info.Size()))
		size.Status = model.CheckStatusWarning
	}
	results = append(results, size)

	return results
}

// checkArchiveSchema compares the archive schema version against the newest
// one shipped with the binary, without migrating anything.
func (s *Service) checkArchiveSchema(ctx context.Context) model.CheckResult {
	db, err := sql.Open("sqlite", s.archivePath)
	if err != nil {
		return model.CheckResult{
			ID:      "archive_schema",
			Message: fmt.Sprintf("Cannot open archive: %v", err),
			Status:  model.CheckStatusError,
		}
	}
	defer db.Close()

	migrator, err := migrations.NewMigrator(db, s.logger)
	if err != nil {
		return model.CheckResult{
			ID:      "archive_schema",
			Message: fmt.Sprintf("Cannot inspect archive schema: %v", err),
			Status:  model.CheckStatusError,
		}
	}

	version, dirty, err := migrator.Version(ctx)
	if err != nil {
		return model.CheckResult{
			ID:      "archive_schema",
			Message: fmt.Sprintf("Cannot read archive schema version: %v", err),
			Status:  model.CheckStatusError,
		}
	}

	latest, err := migrations.Latest()
	if err != nil {
		return model.CheckResult{
			ID:      "archive_schema",
			Message: fmt.Sprintf("Cannot determine newest schema version: %v", err),
			Status:  model.CheckStatusError,
		}
	}

	switch {
	case dirty:
		return model.CheckResult{
			ID:      "archive_schema",
			Message: fmt.Sprintf("Archive schema v%d is dirty, a migration was interrupted", version),
			Status:  model.CheckStatusError,
		}
	case version < latest:
		return model.CheckResult{
			ID:      "archive_schema",
			Message: fmt.Sprintf("Archive schema v%d is behind v%d (migrated on next run)", version, latest),
			Status:  model.CheckStatusWarning,
		}
	case version > latest:
		return model.CheckResult{
			ID:      "archive_schema",
			Message: fmt.Sprintf("Archive schema v%d is newer than this binary supports (v%d)", version, latest),
			Status:  model.CheckStatusWarning,
		}
	default:
		return model.CheckResult{
			ID:      "archive_schema",
			Message: fmt.Sprintf("Archive schema v%d is up to date", version),
			Status:  model.CheckStatusOK,
		}
	}
}

// checkScenario loads the scenario file through the regular loader.
func (s *Service) checkScenario(ctx context.Context) model.CheckResult {
	if s.scenarioPath == "" {
		return model.CheckResult{
			ID:      "scenario",
			Message: "Using the built-in scenario",
			Status:  model.CheckStatusOK,
		}
	}

	dir, file := filepath.Split(s.scenarioPath)
	if dir == "" {
		dir = "."
	}

	repo := workloadio.NewScenarioYAMLRepository(os.DirFS(dir))
	scenario, err := repo.GetScenario(ctx, file)
	if err != nil {
		return model.CheckResult{
			ID:      "scenario",
			Message: fmt.Sprintf("Scenario %s is not loadable: %v", s.scenarioPath, err),
			Status:  model.CheckStatusError,
		}
	}

	return model.CheckResult{
		ID:      "scenario",
		Message: fmt.Sprintf("Scenario %q is valid (%d workloads)", scenario.Name, len(scenario.Workloads)),
		Status:  model.CheckStatusOK,
	}
}

// checkProbeTarget probes the connectivity target once.
func (s *Service) checkProbeTarget(ctx context.Context) model.CheckResult {
	if s.probe == nil {
		return model.CheckResult{
			ID:      "probe_target",
			Message: "No probe target configured, connectivity watching is off",
			Status:  model.CheckStatusWarning,
		}
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	if err := s.probe(probeCtx); err != nil {
		return model.CheckResult{
			ID:      "probe_target",
			Message: fmt.Sprintf("Connectivity probe failed: %v", err),
			Status:  model.CheckStatusWarning,
		}
	}

	msg := "Connectivity probe succeeded"
	if s.probeTarget != "" {
		msg = fmt.Sprintf("Probe target %s is reachable", s.probeTarget)
	}
	return model.CheckResult{
		ID:      "probe_target",
		Message: msg,
		Status:  model.CheckStatusOK,
	}
}

// checkPolicy validates the configured retry policy.
func (s *Service) checkPolicy() model.CheckResult {
	if s.policy == nil {
		return model.CheckResult{
			ID:      "retry_policy",
			Message: "Using the default retry policy",
			Status:  model.CheckStatusOK,
		}
	}

	if err := s.policy.Validate(); err != nil {
		return model.CheckResult{
			ID:      "retry_policy",
			Message: fmt.Sprintf("Retry policy is invalid: %v", err),
			Status:  model.CheckStatusError,
		}
	}

	return model.CheckResult{
		ID:      "retry_policy",
		Message: fmt.Sprintf("Retry policy is valid (%s)", s.policy.Strategy),
		Status:  model.CheckStatusOK,
	}
}
