// Package lib provides a Go SDK for tracking operations and recovering from
// errors programmatically.
//
// This package allows applications to supervise their long-running work
// without shelling out to the optrack CLI binary: track loading state per
// key, retry failures with backoff, contain render failures behind tiered
// boundaries, and archive every error for later triage.
//
// # Quick Start
//
// Create a client, start a supervised operation, and watch it settle:
//
//	client, err := lib.New(ctx, lib.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Start a supervised operation. The client drives Work: completes on
//	// nil, retries or fails on error, cancels it on timeout.
//	client.StartOperation("leads.fetch", lib.StartOperationOpts{
//	    Type:       lib.OperationTypeNetwork,
//	    Message:    "Fetching leads",
//	    MaxRetries: 3,
//	    Work: func(ctx context.Context, report func(percent int, message string)) error {
//	        report(50, "Parsing response")
//	        return nil
//	    },
//	})
//
//	// Or drive the lifecycle yourself.
//	client.StartOperation("report.export", lib.StartOperationOpts{Message: "Exporting"})
//	client.UpdateProgress("report.export", 80, "Uploading")
//	client.CompleteOperation("report.export")
//
// # Loading State
//
// Every tracked operation is queryable by key, and the client derives a
// global loading summary for blocking overlays:
//
//	op, ok := client.GetOperation("leads.fetch")
//	busy := client.IsLoading("leads.fetch")
//	overlay := client.GlobalLoading()
//	unsubscribe := client.Subscribe(func(ev lib.Event) { ... })
//
// # Scoped Controllers
//
// A long-lived application gives each view its own controller, so the view's
// operations are cleaned up together when it goes away. Controllers share
// the client's registry but only ever touch keys they started:
//
//	panel, _ := client.NewController(lib.ControllerOpts{DefaultTimeout: 10 * time.Second})
//	panel.StartOperation("panel.fetch", lib.StartOperationOpts{Message: "Fetching"})
//	...
//	panel.Teardown() // cancels panel.fetch, nothing else
//
// # Retries
//
// Failures are classified by wrapping taxonomy sentinels into the errors the
// work returns. Network and timeout failures retry with backoff until the
// operation's MaxRetries budget is spent, validation and unknown failures
// settle immediately:
//
//	return fmt.Errorf("fetching leads: %w", lib.ErrNetwork)
//
// Delay curves are configured per client, per operation or per boundary
// through [RetryPolicy].
//
// # Failure Boundaries
//
// Boundaries contain failures raised while building view subtrees. Tiers
// nest from network through application down to component, and each tier
// retries reconstruction before falling back or escalating to its enclosing
// boundary:
//
//	b, _ := client.NewBoundary(lib.BoundaryOpts{
//	    Tier:       lib.BoundaryTierComponent,
//	    Path:       "app/leads-panel",
//	    MaxRetries: 2,
//	    Render: func(ctx context.Context) (string, error) {
//	        return buildLeadsPanel(ctx)
//	    },
//	})
//	view, err := b.Render(ctx)
//
// With a probe target configured, network tier boundaries suspend their
// retries while the backend is unreachable instead of burning the budget.
//
// # Error Archive
//
// Operation failures and boundary catches are archived automatically,
// deduplicated by fingerprint. Application errors outside both are captured
// explicitly:
//
//	client.CaptureError(ctx, "billing.sync", err)
//	events, _ := client.ListErrors(ctx)
//	client.ResolveError(ctx, events[0].ID)
//	client.PurgeErrors(ctx, time.Now().Add(-30*24*time.Hour))
//
// The archive lives in memory by default. Set [Config].ArchivePath to keep
// it in SQLite and share it with the optrack CLI.
//
// # Health Checks
//
// Run preflight checks to verify the client's environment:
//
//	results, _ := client.Doctor(ctx)
//	for _, r := range results {
//	    fmt.Printf("%s: %s (%s)\n", r.ID, r.Message, r.Status)
//	}
//
// # Error Handling
//
// All methods return errors that can be inspected with [errors.Is]:
//
//   - [ErrNotFound]: Resource does not exist.
//   - [ErrAlreadyRunning]: The key already holds an active operation.
//   - [ErrFinished]: The operation already settled.
//   - [ErrRetryExhausted]: No retry budget remains.
//   - [ErrNotValid]: Invalid input or operation.
//
// # Testing
//
// The default configuration needs no real infrastructure: the registry and
// the archive live in memory, and no connectivity probing runs unless a
// probe target is set:
//
//	client, _ := lib.New(ctx, lib.Config{})
//	defer client.Close()
//
// # Thread Safety
//
// A [Client] is safe for concurrent use from multiple goroutines. Boundary
// Render loops are the exception, each boundary expects a single rendering
// goroutine.
package lib
