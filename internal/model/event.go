package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ErrorSeverity grades a captured error for triage.
type ErrorSeverity string

const (
	ErrorSeverityLow      ErrorSeverity = "low"
	ErrorSeverityMedium   ErrorSeverity = "medium"
	ErrorSeverityHigh     ErrorSeverity = "high"
	ErrorSeverityCritical ErrorSeverity = "critical"
)

var severityRank = map[ErrorSeverity]int{
	ErrorSeverityLow:      0,
	ErrorSeverityMedium:   1,
	ErrorSeverityHigh:     2,
	ErrorSeverityCritical: 3,
}

// AtLeast returns true if the severity is equal or graver than min.
func (s ErrorSeverity) AtLeast(min ErrorSeverity) bool {
	return severityRank[s] >= severityRank[min]
}

// ErrorEvent is a captured error in the telemetry archive. Repeated captures
// of the same fingerprint bump Count and LastSeenAt instead of creating a new
// event.
type ErrorEvent struct {
	ID            string
	Fingerprint   string
	Kind          ErrorKind
	Source        string // operation key or boundary component path.
	Severity      ErrorSeverity
	Message       string
	ComponentPath string // set when a boundary caught the error.
	Count         int
	FirstSeenAt   time.Time
	LastSeenAt    time.Time
	Resolved      bool
}

// Fingerprint groups equivalent errors: same kind, source and message hash to
// the same value.
func Fingerprint(kind ErrorKind, source, message string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", kind, source, message)))
	return hex.EncodeToString(sum[:])[:12]
}

// Validate validates the error event.
func (e *ErrorEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required: %w", ErrNotValid)
	}
	if e.Fingerprint == "" {
		return fmt.Errorf("fingerprint is required: %w", ErrNotValid)
	}
	if e.Message == "" {
		return fmt.Errorf("message is required: %w", ErrNotValid)
	}
	if e.Count < 1 {
		return fmt.Errorf("count must be at least 1: %w", ErrNotValid)
	}
	return nil
}
