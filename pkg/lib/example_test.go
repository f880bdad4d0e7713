package lib_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/salerhq/optrack/pkg/lib"
)

// This example shows caller-driven operation tracking: start, report
// progress, complete.
func Example_tracking() {
	ctx := context.Background()

	client, err := lib.New(ctx, lib.Config{})
	if err != nil {
		panic(err)
	}
	defer client.Close()

	// Start tracking.
	err = client.StartOperation("report.export", lib.StartOperationOpts{
		Type:    lib.OperationTypeFormSubmit,
		Message: "Exporting report",
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("loading: %v\n", client.IsLoading("report.export"))

	// Report progress.
	err = client.UpdateProgress("report.export", 70, "Uploading")
	if err != nil {
		panic(err)
	}
	op, _ := client.GetOperation("report.export")
	fmt.Printf("%s: %d%% (%s)\n", op.Status, op.Progress, op.Message)

	// Complete.
	err = client.CompleteOperation("report.export")
	if err != nil {
		panic(err)
	}
	op, _ = client.GetOperation("report.export")
	fmt.Printf("status: %s\n", op.Status)
	fmt.Printf("loading: %v\n", client.IsLoading("report.export"))

	// Output:
	// loading: true
	// running: 70% (Uploading)
	// status: succeeded
	// loading: false
}

// This example shows a supervised operation: the client drives the work
// function and settles the operation from its return value.
func Example_supervised() {
	ctx := context.Background()

	client, err := lib.New(ctx, lib.Config{})
	if err != nil {
		panic(err)
	}
	defer client.Close()

	done := make(chan lib.Operation, 1)
	err = client.StartOperation("leads.fetch", lib.StartOperationOpts{
		Type:    lib.OperationTypeNetwork,
		Message: "Fetching leads",
		Work: func(ctx context.Context, report func(percent int, message string)) error {
			report(40, "Requesting")
			report(80, "Parsing response")
			return nil
		},
		OnFinish: func(op lib.Operation) { done <- op },
	})
	if err != nil {
		panic(err)
	}

	op := <-done
	fmt.Printf("status: %s\n", op.Status)
	fmt.Printf("progress: %d\n", op.Progress)

	// Output:
	// status: succeeded
	// progress: 80
}

// This example shows automatic retries: network failures are retried with
// the operation's policy until the budget is spent.
func Example_retries() {
	ctx := context.Background()

	client, err := lib.New(ctx, lib.Config{})
	if err != nil {
		panic(err)
	}
	defer client.Close()

	attempts := 0
	done := make(chan lib.Operation, 1)
	err = client.StartOperation("sync.contacts", lib.StartOperationOpts{
		Type:       lib.OperationTypeNetwork,
		Message:    "Syncing contacts",
		MaxRetries: 3,
		// Zero delay keeps the example instant.
		RetryPolicy: &lib.RetryPolicy{Strategy: lib.RetryStrategyFixed},
		Work: func(ctx context.Context, report func(percent int, message string)) error {
			attempts++
			if attempts < 3 {
				return fmt.Errorf("connection reset: %w", lib.ErrNetwork)
			}
			return nil
		},
		OnRetry: func(attempt int, delay time.Duration) {
			fmt.Printf("retry %d granted\n", attempt)
		},
		OnFinish: func(op lib.Operation) { done <- op },
	})
	if err != nil {
		panic(err)
	}

	op := <-done
	fmt.Printf("status: %s after %d retries\n", op.Status, op.RetryCount)

	// Output:
	// retry 1 granted
	// retry 2 granted
	// status: succeeded after 2 retries
}

// This example shows a scoped controller: a view starts operations through
// its own controller and tears exactly those down when it goes away.
func ExampleClient_NewController() {
	ctx := context.Background()

	client, err := lib.New(ctx, lib.Config{})
	if err != nil {
		panic(err)
	}
	defer client.Close()

	// One controller per view keeps cleanup local to it.
	panel, err := client.NewController(lib.ControllerOpts{})
	if err != nil {
		panic(err)
	}

	err = panel.StartOperation("panel.fetch", lib.StartOperationOpts{
		Type:    lib.OperationTypeNetwork,
		Message: "Fetching panel",
	})
	if err != nil {
		panic(err)
	}
	err = client.StartOperation("report.export", lib.StartOperationOpts{
		Message: "Exporting report",
	})
	if err != nil {
		panic(err)
	}

	// The view goes away: its operations go with it, the rest stay.
	panel.Teardown()

	fmt.Printf("panel loading: %v\n", client.IsLoading("panel.fetch"))
	fmt.Printf("export loading: %v\n", client.IsLoading("report.export"))

	// Output:
	// panel loading: false
	// export loading: true
}

// This example shows a failure boundary reconstructing a failing subtree
// until it recovers.
func ExampleClient_NewBoundary() {
	ctx := context.Background()

	client, err := lib.New(ctx, lib.Config{})
	if err != nil {
		panic(err)
	}
	defer client.Close()

	attempts := 0
	b, err := client.NewBoundary(lib.BoundaryOpts{
		Tier:        lib.BoundaryTierComponent,
		Path:        "app/leads-panel",
		MaxRetries:  2,
		RetryPolicy: &lib.RetryPolicy{Strategy: lib.RetryStrategyFixed},
		Render: func(ctx context.Context) (string, error) {
			attempts++
			if attempts < 3 {
				return "", fmt.Errorf("panel data missing: %w", lib.ErrRender)
			}
			return "[leads panel]", nil
		},
	})
	if err != nil {
		panic(err)
	}

	view, err := b.Render(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("view: %s\n", view)
	fmt.Printf("state: %s\n", b.State())

	// Output:
	// view: [leads panel]
	// state: healthy
}

// This example shows explicit error capture and fingerprint deduplication in
// the archive.
func ExampleClient_CaptureError() {
	ctx := context.Background()

	client, err := lib.New(ctx, lib.Config{})
	if err != nil {
		panic(err)
	}
	defer client.Close()

	formErr := fmt.Errorf("missing email: %w", lib.ErrValidation)

	// Capture the same error twice: one event, count 2.
	_, err = client.CaptureError(ctx, "contact-form", formErr)
	if err != nil {
		panic(err)
	}
	event, err := client.CaptureError(ctx, "contact-form", formErr)
	if err != nil {
		panic(err)
	}

	fmt.Printf("kind: %s\n", event.Kind)
	fmt.Printf("severity: %s\n", event.Severity)
	fmt.Printf("count: %d\n", event.Count)

	// Output:
	// kind: validation
	// severity: low
	// count: 2
}

// This example shows how to handle SDK errors using errors.Is.
func Example_errorHandling() {
	ctx := context.Background()

	client, err := lib.New(ctx, lib.Config{})
	if err != nil {
		panic(err)
	}
	defer client.Close()

	// Complete an operation that was never started.
	err = client.CompleteOperation("does-not-exist")
	if errors.Is(err, lib.ErrNotFound) {
		fmt.Println("operation not found (expected)")
	}

	// Start the same key twice without superseding.
	_ = client.StartOperation("dup", lib.StartOperationOpts{Message: "First"})
	err = client.StartOperation("dup", lib.StartOperationOpts{Message: "Second"})
	if errors.Is(err, lib.ErrAlreadyRunning) {
		fmt.Println("already running (expected)")
	}

	// Complete a settled operation.
	_ = client.CompleteOperation("dup")
	err = client.CompleteOperation("dup")
	if errors.Is(err, lib.ErrFinished) {
		fmt.Println("already finished (expected)")
	}

	// Output:
	// operation not found (expected)
	// already running (expected)
	// already finished (expected)
}
