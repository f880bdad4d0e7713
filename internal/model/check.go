package model

// CheckStatus classifies the outcome of a doctor check.
type CheckStatus string

const (
	// CheckStatusOK means the runtime piece behind the check is usable as is.
	CheckStatusOK CheckStatus = "ok"
	// CheckStatusWarning means optrack works but something deserves attention.
	CheckStatusWarning CheckStatus = "warning"
	// CheckStatusError means the check found a blocking problem.
	CheckStatusError CheckStatus = "error"
)

// CheckResult is the outcome of a single doctor check.
type CheckResult struct {
	ID      string // Stable check identifier (e.g. "archive_schema").
	Message string // Human-readable outcome.
	Status  CheckStatus
}

// CountByStatus tallies results per status so callers can render summaries
// and decide exit codes without reimplementing the classification.
func CountByStatus(results []CheckResult) (ok, warnings, errors int) {
	for _, r := range results {
		switch r.Status {
		case CheckStatusWarning:
			warnings++
		case CheckStatusError:
			errors++
		default:
			ok++
		}
	}

	return ok, warnings, errors
}
