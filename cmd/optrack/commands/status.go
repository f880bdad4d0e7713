package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/salerhq/optrack/internal/conventions"
	"github.com/salerhq/optrack/internal/model"
	"github.com/salerhq/optrack/internal/printer"
	"github.com/salerhq/optrack/internal/statusserver"
)

type StatusCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	addr   string
	format string
}

// NewStatusCommand returns the status command.
func NewStatusCommand(rootCmd *RootCommand, app *kingpin.Application) *StatusCommand {
	c := &StatusCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("status", "Show the operations tracked by a running optrack process.")
	c.Cmd.Flag("addr", "Status server address.").Default(conventions.DefaultListenAddr).StringVar(&c.addr)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c StatusCommand) Name() string { return c.Cmd.FullCommand() }

func (c StatusCommand) Run(ctx context.Context) error {
	// Fetch the remote snapshot.
	client := statusserver.NewClient(c.addr)
	resp, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("could not get status: %w", err)
	}

	// Map the wire payload back into domain records.
	view := printer.StatusView{
		GlobalLoading: resp.GlobalLoading,
		Counts:        map[model.OperationPriority]int{},
		Operations:    make([]model.Operation, 0, len(resp.Operations)),
	}
	for priority, count := range resp.Counts {
		view.Counts[model.OperationPriority(priority)] = count
	}
	for _, op := range resp.Operations {
		view.Operations = append(view.Operations, op.ToModel())
	}

	// Print output.
	var p printer.Printer
	switch c.format {
	case "json":
		p = printer.NewJSONPrinter(c.rootCmd.Stdout)
	default: // table
		p = printer.NewTablePrinter(c.rootCmd.Stdout)
	}

	if err := p.PrintStatus(view); err != nil {
		return fmt.Errorf("could not print status: %w", err)
	}

	return nil
}
