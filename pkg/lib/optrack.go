package lib

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/salerhq/optrack/internal/aggregator"
	"github.com/salerhq/optrack/internal/app/doctor"
	"github.com/salerhq/optrack/internal/connectivity"
	"github.com/salerhq/optrack/internal/controller"
	"github.com/salerhq/optrack/internal/conventions"
	"github.com/salerhq/optrack/internal/log"
	"github.com/salerhq/optrack/internal/model"
	"github.com/salerhq/optrack/internal/registry"
	registrymemory "github.com/salerhq/optrack/internal/registry/memory"
	"github.com/salerhq/optrack/internal/telemetry"
	telemetrymemory "github.com/salerhq/optrack/internal/telemetry/memory"
	telemetrysqlite "github.com/salerhq/optrack/internal/telemetry/sqlite"
)

// Config configures the SDK client.
//
// All fields are optional and have sensible defaults. At minimum, an empty
// Config{} tracks operations in memory with an in-memory error archive and
// no connectivity watching.
type Config struct {
	// DataDir is the base directory for optrack state, used by [Client.Doctor]
	// to locate the conventional archive and scenario files.
	// Default: ~/.optrack.
	DataDir string

	// ArchivePath is the SQLite error archive path. When empty (default) the
	// archive lives in memory and is lost on Close. Set it to
	// <DataDir>/errors.db to share the archive with the optrack CLI.
	ArchivePath string

	// MaxArchiveEvents bounds the in-memory archive. Inserting past the bound
	// evicts the oldest resolved event first. Ignored when ArchivePath is set.
	// Default: 1000.
	MaxArchiveEvents int

	// Logger receives structured log output from the SDK.
	// Default: noop (silent). See the log sub-package for the interface.
	Logger log.Logger

	// RetryPolicy is the policy applied to operations and boundaries that
	// don't carry their own. Default: [DefaultRetryPolicy].
	RetryPolicy *RetryPolicy

	// DefaultTimeout is the per-attempt deadline for operations started
	// without one. Zero (default) means operations get no deadline.
	DefaultTimeout time.Duration

	// MaxConcurrentOperations is a soft cap on simultaneously running
	// operations, used only for diagnostics. Starting beyond it logs a
	// warning, never rejects. Zero disables the cap.
	MaxConcurrentOperations int

	// ProbeTarget is a URL probed periodically to watch backend connectivity.
	// When set, network tier boundaries created with [Client.NewBoundary]
	// suspend their retries while offline. Empty (default) disables watching.
	ProbeTarget string

	// IgnorePatterns drops captured errors whose message or source contains
	// any of the patterns.
	IgnorePatterns []string
}

func (c *Config) defaults() error {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("could not get user home dir: %w", err)
		}
		c.DataDir = filepath.Join(home, conventions.DefaultDataDir)
	}

	if c.MaxArchiveEvents < 0 {
		return fmt.Errorf("max archive events must not be negative")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Client is the main SDK entry point for tracking operations, containing
// failures and archiving errors programmatically.
//
// Create a Client with [New] and release its resources with [Client.Close].
// A Client is safe for concurrent use.
type Client struct {
	store   registry.Store
	agg     *aggregator.Aggregator
	capture *telemetry.Service
	archive telemetry.Store
	ctrl    *controller.Controller
	watcher *connectivity.Watcher
	logger  log.Logger

	dataDir       string
	archivePath   string
	probeTarget   string
	policy        model.RetryPolicy
	timeout       time.Duration
	maxConcurrent int

	childMu  sync.Mutex
	children []*Controller

	watcherCancel context.CancelFunc
	watcherDone   chan struct{}
	repoClose     func() error
	closeOnce     sync.Once
	closeErr      error
}

// New creates a new SDK client.
//
// The context bounds construction only (archive migrations), not the client's
// lifetime. The caller must call [Client.Close] when done to release the
// connectivity watcher and the archive. Typically used with defer:
//
//	client, err := lib.New(ctx, lib.Config{})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	policy := model.DefaultRetryPolicy()
	if cfg.RetryPolicy != nil {
		policy = toInternalRetryPolicy(*cfg.RetryPolicy)
	}

	store, err := registrymemory.NewStore(registrymemory.StoreConfig{
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create registry: %w", err)
	}

	var archive telemetry.Store
	var repoClose func() error
	if cfg.ArchivePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.ArchivePath), 0o755); err != nil {
			return nil, fmt.Errorf("could not create archive dir: %w", err)
		}
		repo, err := telemetrysqlite.NewRepository(ctx, telemetrysqlite.RepositoryConfig{
			Path:   cfg.ArchivePath,
			Logger: cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create error archive: %w", err)
		}
		archive = repo
		repoClose = repo.Close
	} else {
		memStore, err := telemetrymemory.NewStore(telemetrymemory.StoreConfig{
			MaxEvents: cfg.MaxArchiveEvents,
			Logger:    cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create error archive: %w", err)
		}
		archive = memStore
	}

	closeRepo := func() {
		if repoClose != nil {
			_ = repoClose()
		}
	}

	capture, err := telemetry.NewService(telemetry.ServiceConfig{
		Store:          archive,
		IgnorePatterns: cfg.IgnorePatterns,
		Logger:         cfg.Logger,
	})
	if err != nil {
		closeRepo()
		return nil, fmt.Errorf("could not create telemetry service: %w", err)
	}

	ctrl, err := controller.NewController(controller.ControllerConfig{
		Store:          store,
		Logger:         cfg.Logger,
		DefaultTimeout: cfg.DefaultTimeout,
		Policy:         policy,
		MaxConcurrent:  cfg.MaxConcurrentOperations,
	})
	if err != nil {
		closeRepo()
		return nil, mapError(fmt.Errorf("could not create controller: %w", err))
	}

	agg, err := aggregator.NewAggregator(aggregator.AggregatorConfig{
		Store:  store,
		Logger: cfg.Logger,
	})
	if err != nil {
		closeRepo()
		return nil, fmt.Errorf("could not create aggregator: %w", err)
	}

	c := &Client{
		store:         store,
		agg:           agg,
		capture:       capture,
		archive:       archive,
		ctrl:          ctrl,
		logger:        cfg.Logger,
		dataDir:       cfg.DataDir,
		archivePath:   cfg.ArchivePath,
		probeTarget:   cfg.ProbeTarget,
		policy:        policy,
		timeout:       cfg.DefaultTimeout,
		maxConcurrent: cfg.MaxConcurrentOperations,
		repoClose:     repoClose,
	}

	if cfg.ProbeTarget != "" {
		watcher, err := connectivity.NewWatcher(connectivity.WatcherConfig{
			Target: cfg.ProbeTarget,
			Logger: cfg.Logger,
		})
		if err != nil {
			agg.Close()
			closeRepo()
			return nil, fmt.Errorf("could not create connectivity watcher: %w", err)
		}

		watcherCtx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = watcher.Run(watcherCtx)
		}()

		c.watcher = watcher
		c.watcherCancel = cancel
		c.watcherDone = done
	}

	return c, nil
}

// Close releases resources held by the client: pending retry and deadline
// timers, scoped controllers, the connectivity watcher and the archive. After
// Close returns, the client must not be used. Idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.childMu.Lock()
		children := c.children
		c.children = nil
		c.childMu.Unlock()

		for _, child := range children {
			child.Teardown()
		}
		c.ctrl.Teardown()

		if c.watcher != nil {
			c.watcherCancel()
			<-c.watcherDone
		}

		c.agg.Close()

		if c.repoClose != nil {
			c.closeErr = c.repoClose()
		}
	})
	return c.closeErr
}

// Online reports backend connectivity as seen by the probe watcher. Without
// a probe target configured the client is always considered online.
func (c *Client) Online() bool {
	if c.watcher == nil {
		return true
	}
	return c.watcher.Online()
}

// SubscribeConnectivity registers fn for online/offline transitions and
// returns its unsubscribe function. Without a probe target configured the
// subscription never fires.
func (c *Client) SubscribeConnectivity(fn func(online bool)) func() {
	if c.watcher == nil {
		return func() {}
	}
	return c.watcher.Subscribe(fn)
}

// Doctor runs preflight health checks: data dir access, archive integrity
// and schema, scenario file validity, probe target reachability and retry
// policy sanity.
//
// Returns a slice of [CheckResult] describing each check's outcome.
func (c *Client) Doctor(ctx context.Context) ([]CheckResult, error) {
	scenarioPath := conventions.ScenarioPath(c.dataDir)
	if _, err := os.Stat(scenarioPath); err != nil {
		scenarioPath = ""
	}

	svc, err := doctor.NewService(doctor.ServiceConfig{
		DataDir:      c.dataDir,
		ArchivePath:  c.archivePath,
		ScenarioPath: scenarioPath,
		ProbeTarget:  c.probeTarget,
		Policy:       &c.policy,
		Logger:       c.logger,
	})
	if err != nil {
		return nil, mapError(fmt.Errorf("could not create doctor service: %w", err))
	}

	results := svc.Check(ctx)
	return fromInternalCheckResults(results), nil
}
