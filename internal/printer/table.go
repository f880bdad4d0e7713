package printer

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/salerhq/optrack/internal/model"
)

// TablePrinter prints tracking state in a table format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter returns a printer that renders aligned text tables.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

// PrintStatus prints the loading summary and the tracked operations.
func (t *TablePrinter) PrintStatus(view StatusView) error {
	loading := "no"
	if view.GlobalLoading {
		loading = "yes"
	}
	fmt.Fprintf(t.writer, "Global loading: %s (%s)\n", loading, runningSummary(view.Counts))

	if len(view.Operations) == 0 {
		return nil
	}

	fmt.Fprintln(t.writer)

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "KEY\tTYPE\tSTATUS\tPRIORITY\tPROGRESS\tRETRIES\tUPDATED")

	for _, op := range view.Operations {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d%%\t%d/%d\t%s\n",
			op.Key, op.Type, op.Status, op.Priority, op.Progress,
			op.RetryCount, op.MaxRetries, TimeAgo(op.UpdatedAt))
	}

	return nil
}

// PrintErrors prints archived error events in a table format.
func (t *TablePrinter) PrintErrors(events []model.ErrorEvent) error {
	if len(events) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "FINGERPRINT\tSEVERITY\tKIND\tSOURCE\tCOUNT\tLAST SEEN\tRESOLVED\tMESSAGE")

	for _, e := range events {
		resolved := "no"
		if e.Resolved {
			resolved = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			e.Fingerprint, e.Severity, e.Kind, e.Source, e.Count,
			TimeAgo(e.LastSeenAt), resolved, e.Message)
	}

	return nil
}

// PrintMessage writes a plain line, for confirmations that need no table.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}

// runningSummary describes the running counts per priority, highest first.
func runningSummary(counts map[model.OperationPriority]int) string {
	parts := []string{}
	for _, p := range []model.OperationPriority{model.OperationPriorityHigh, model.OperationPriorityMedium, model.OperationPriorityLow} {
		if n := counts[p]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, p))
		}
	}

	if len(parts) == 0 {
		return "nothing running"
	}
	return strings.Join(parts, ", ") + " running"
}
