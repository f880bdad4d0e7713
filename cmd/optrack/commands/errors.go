package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/salerhq/optrack/internal/model"
	"github.com/salerhq/optrack/internal/printer"
	"github.com/salerhq/optrack/internal/statusserver"
	"github.com/salerhq/optrack/internal/telemetry/sqlite"
)

type ErrorsCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	addr        string
	archivePath string
	resolveID   string
	purgeOlder  time.Duration
	format      string
}

// NewErrorsCommand returns the errors command.
func NewErrorsCommand(rootCmd *RootCommand, app *kingpin.Application) *ErrorsCommand {
	c := &ErrorsCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("errors", "Manage the captured error archive.")
	c.Cmd.Flag("addr", "Read errors from a running optrack process instead of the local archive.").StringVar(&c.addr)
	c.Cmd.Flag("archive", "SQLite error archive file (defaults to errors.db under the data dir).").StringVar(&c.archivePath)
	c.Cmd.Flag("resolve", "Mark the error event with this ID as resolved.").StringVar(&c.resolveID)
	c.Cmd.Flag("purge-older", "Remove events last seen longer than this ago (e.g. 720h).").DurationVar(&c.purgeOlder)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c ErrorsCommand) Name() string { return c.Cmd.FullCommand() }

func (c ErrorsCommand) Run(ctx context.Context) error {
	// The remote API is read only, listing is the only thing it can serve.
	if c.addr != "" && (c.resolveID != "" || c.purgeOlder > 0) {
		return fmt.Errorf("resolve and purge work on the local archive, not on --addr")
	}

	if c.addr != "" {
		return c.listRemote(ctx)
	}

	// Open the local archive.
	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		Path:   resolveArchivePath(c.rootCmd.DataDir, c.archivePath),
		Logger: c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not open error archive: %w", err)
	}
	defer repo.Close()

	p := c.printer()

	if c.resolveID != "" {
		if err := repo.Resolve(ctx, c.resolveID); err != nil {
			return fmt.Errorf("could not resolve error event: %w", err)
		}
		return p.PrintMessage(fmt.Sprintf("Resolved error event %s", c.resolveID))
	}

	if c.purgeOlder > 0 {
		removed, err := repo.Purge(ctx, time.Now().Add(-c.purgeOlder))
		if err != nil {
			return fmt.Errorf("could not purge error events: %w", err)
		}
		return p.PrintMessage(fmt.Sprintf("Purged %d error events", removed))
	}

	events, err := repo.List(ctx)
	if err != nil {
		return fmt.Errorf("could not list error events: %w", err)
	}

	if err := p.PrintErrors(events); err != nil {
		return fmt.Errorf("could not print errors: %w", err)
	}

	return nil
}

func (c ErrorsCommand) listRemote(ctx context.Context) error {
	client := statusserver.NewClient(c.addr)
	resp, err := client.Errors(ctx)
	if err != nil {
		return fmt.Errorf("could not get errors: %w", err)
	}

	events := make([]model.ErrorEvent, 0, len(resp.Events))
	for _, event := range resp.Events {
		events = append(events, event.ToModel())
	}

	if err := c.printer().PrintErrors(events); err != nil {
		return fmt.Errorf("could not print errors: %w", err)
	}

	return nil
}

func (c ErrorsCommand) printer() printer.Printer {
	switch c.format {
	case "json":
		return printer.NewJSONPrinter(c.rootCmd.Stdout)
	default: // table
		return printer.NewTablePrinter(c.rootCmd.Stdout)
	}
}
