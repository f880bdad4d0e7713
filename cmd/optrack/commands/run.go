package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"

	"github.com/salerhq/optrack/internal/aggregator"
	"github.com/salerhq/optrack/internal/app/doctor"
	"github.com/salerhq/optrack/internal/connectivity"
	"github.com/salerhq/optrack/internal/controller"
	registrymemory "github.com/salerhq/optrack/internal/registry/memory"
	"github.com/salerhq/optrack/internal/statusserver"
	"github.com/salerhq/optrack/internal/telemetry"
	telememory "github.com/salerhq/optrack/internal/telemetry/memory"
	telesqlite "github.com/salerhq/optrack/internal/telemetry/sqlite"
	"github.com/salerhq/optrack/internal/workload"
	workloadio "github.com/salerhq/optrack/internal/workload/io"
)

type RunCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	scenarioPath  string
	archivePath   string
	noArchive     bool
	probeTarget   string
	probeInterval time.Duration
	listenAddr    string
	timeout       time.Duration
	maxConcurrent int
	ignore        []string
}

// NewRunCommand returns the run command.
func NewRunCommand(rootCmd *RootCommand, app *kingpin.Application) *RunCommand {
	c := &RunCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("run", "Play a workload scenario through the tracking stack.")
	c.Cmd.Flag("scenario", "Scenario YAML file (defaults to scenario.yaml under the data dir, then the built-in scenario).").Envar("OPTRACK_SCENARIO").StringVar(&c.scenarioPath)
	c.Cmd.Flag("archive", "SQLite error archive file (defaults to errors.db under the data dir).").StringVar(&c.archivePath)
	c.Cmd.Flag("no-archive", "Keep captured errors in memory instead of the SQLite archive.").BoolVar(&c.noArchive)
	c.Cmd.Flag("probe-target", "URL probed to watch connectivity. Empty disables the watcher.").Envar("OPTRACK_PROBE_TARGET").StringVar(&c.probeTarget)
	c.Cmd.Flag("probe-interval", "Time between connectivity probes.").Default("10s").DurationVar(&c.probeInterval)
	c.Cmd.Flag("listen", "Expose the read-only status API on this address (e.g. 127.0.0.1:7677). Empty disables it.").StringVar(&c.listenAddr)
	c.Cmd.Flag("timeout", "Default per-operation timeout. Zero means no deadline.").DurationVar(&c.timeout)
	c.Cmd.Flag("max-concurrent", "Soft cap on concurrently running operations. Starting past it logs a warning. Zero disables it.").IntVar(&c.maxConcurrent)
	c.Cmd.Flag("ignore", "Drop captured errors whose message or source contains this pattern. Repeatable.").StringsVar(&c.ignore)

	return c
}

func (c RunCommand) Name() string { return c.Cmd.FullCommand() }

func (c RunCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	// Load the scenario.
	scenario := workload.DefaultScenario()
	scenarioPath := resolveScenarioPath(c.rootCmd.DataDir, c.scenarioPath)
	if scenarioPath != "" {
		dir, file := filepath.Split(scenarioPath)
		if dir == "" {
			dir = "."
		}
		repo := workloadio.NewScenarioYAMLRepository(os.DirFS(dir))
		s, err := repo.GetScenario(ctx, file)
		if err != nil {
			return fmt.Errorf("could not load scenario: %w", err)
		}
		scenario = s
	}

	// Initialize the operation registry and its derived summary.
	store, err := registrymemory.NewStore(registrymemory.StoreConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create registry: %w", err)
	}

	agg, err := aggregator.NewAggregator(aggregator.AggregatorConfig{Store: store, Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create aggregator: %w", err)
	}
	defer agg.Close()

	// Initialize the error archive (SQLite unless disabled).
	var archive telemetry.Store
	archivePath := ""
	if c.noArchive {
		archive, err = telememory.NewStore(telememory.StoreConfig{Logger: logger})
		if err != nil {
			return fmt.Errorf("could not create error archive: %w", err)
		}
	} else {
		archivePath = resolveArchivePath(c.rootCmd.DataDir, c.archivePath)
		if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
			return fmt.Errorf("could not create data dir: %w", err)
		}

		repo, err := telesqlite.NewRepository(ctx, telesqlite.RepositoryConfig{
			Path:   archivePath,
			Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("could not open error archive: %w", err)
		}
		defer repo.Close()
		archive = repo
	}

	capture, err := telemetry.NewService(telemetry.ServiceConfig{
		Store:          archive,
		IgnorePatterns: c.ignore,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("could not create telemetry service: %w", err)
	}

	// Create the operation controller.
	ctrl, err := controller.NewController(controller.ControllerConfig{
		Store:          store,
		DefaultTimeout: c.timeout,
		MaxConcurrent:  c.maxConcurrent,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("could not create controller: %w", err)
	}

	// Create the scenario runner.
	runner, err := workload.NewRunner(workload.RunnerConfig{
		Scenario:   scenario,
		Controller: ctrl,
		Store:      store,
		Telemetry:  capture,
		Out:        c.rootCmd.Stdout,
		NoColor:    c.rootCmd.NoColor,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create runner: %w", err)
	}

	// Run everything using oklog/run for lifecycle management.
	var g run.Group

	// Scenario runner. Settling the scenario stops the whole group.
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				defer ctrl.Teardown()
				return runner.Run(ctx)
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// Connectivity watcher.
	if c.probeTarget != "" {
		watcher, err := connectivity.NewWatcher(connectivity.WatcherConfig{
			Target:   c.probeTarget,
			Interval: c.probeInterval,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("could not create connectivity watcher: %w", err)
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				return watcher.Run(ctx)
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// Status server.
	if c.listenAddr != "" {
		checker, err := doctor.NewService(doctor.ServiceConfig{
			DataDir:      c.rootCmd.DataDir,
			ArchivePath:  archivePath,
			ScenarioPath: scenarioPath,
			ProbeTarget:  c.probeTarget,
			Logger:       logger,
		})
		if err != nil {
			return fmt.Errorf("could not create doctor service: %w", err)
		}

		server, err := statusserver.NewServer(statusserver.ServerConfig{
			Addr:       c.listenAddr,
			Registry:   store,
			Aggregator: agg,
			Archive:    archive,
			Checker:    checker,
			Logger:     logger,
		})
		if err != nil {
			return fmt.Errorf("could not create status server: %w", err)
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				return server.Run(ctx)
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// Context cancellation (from parent signal handling).
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				<-ctx.Done()
				return ctx.Err()
			},
			func(_ error) {
				cancel()
			},
		)
	}

	logger.Infof("Playing scenario %q", scenario.Name)
	return g.Run()
}
