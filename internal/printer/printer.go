package printer

import "github.com/salerhq/optrack/internal/model"

// StatusView is the tracking state a status rendering consumes: the global
// loading verdict, the running counts per priority and the tracked records.
type StatusView struct {
	GlobalLoading bool
	Counts        map[model.OperationPriority]int
	Operations    []model.Operation
}

// Printer knows how to print tracking state in different formats.
type Printer interface {
	PrintStatus(view StatusView) error
	PrintErrors(events []model.ErrorEvent) error
	PrintMessage(msg string) error
}
