// Package telemetry archives captured errors so failures outlive the
// operations and views that produced them. Occurrences sharing a fingerprint
// collapse into a single event whose count and last-seen timestamp advance on
// every capture.
package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/salerhq/optrack/internal/log"
	"github.com/salerhq/optrack/internal/model"
)

// Store is the interface for the error event archive.
type Store interface {
	// Upsert archives a new occurrence. When an event with the same
	// fingerprint already exists, the occurrence is folded into it per
	// MergeOccurrence and the merged event is returned.
	Upsert(ctx context.Context, event model.ErrorEvent) (*model.ErrorEvent, error)
	// Get retrieves an event by ID.
	Get(ctx context.Context, id string) (*model.ErrorEvent, error)
	// List returns all archived events, most recently seen first.
	List(ctx context.Context) ([]model.ErrorEvent, error)
	// Resolve marks an event as resolved.
	Resolve(ctx context.Context, id string) error
	// Purge removes events last seen before the cutoff and returns how many
	// were removed.
	Purge(ctx context.Context, before time.Time) (int, error)
}

// MergeOccurrence folds a new occurrence of a fingerprint into its archived
// event. Stores use it so memory and sqlite agree on the merge semantics:
// count and last-seen advance, severity never decreases, and resolved events
// reopen.
func MergeOccurrence(existing, incoming model.ErrorEvent) model.ErrorEvent {
	existing.Count++
	existing.LastSeenAt = incoming.LastSeenAt
	if incoming.ComponentPath != "" {
		existing.ComponentPath = incoming.ComponentPath
	}
	if incoming.Severity.AtLeast(existing.Severity) {
		existing.Severity = incoming.Severity
	}
	existing.Resolved = false
	return existing
}

// Occurrence is a single error sighting reported to the capture service.
type Occurrence struct {
	Kind          model.ErrorKind
	Source        string // operation key or boundary component path.
	Message       string
	ComponentPath string
	Attempts      int
}

// ServiceConfig is the configuration of Service.
type ServiceConfig struct {
	Store Store
	// IgnorePatterns drops occurrences whose message or source contains any
	// of the patterns.
	IgnorePatterns []string
	Logger         log.Logger
	Now            func() time.Time
}

func (c *ServiceConfig) defaults() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "telemetry.Service"})

	if c.Now == nil {
		c.Now = time.Now
	}

	return nil
}

// Service captures error occurrences, grades them and archives them in a
// store.
type Service struct {
	store   Store
	ignores []string
	logger  log.Logger
	now     func() time.Time
}

// NewService returns a new capture service.
func NewService(cfg ServiceConfig) (*Service, error) {
	err := cfg.defaults()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		store:   cfg.Store,
		ignores: cfg.IgnorePatterns,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}, nil
}

// Capture archives one occurrence. It returns the archived event, or nil when
// the occurrence matched an ignore pattern.
func (s *Service) Capture(ctx context.Context, occ Occurrence) (*model.ErrorEvent, error) {
	if occ.Message == "" {
		return nil, fmt.Errorf("occurrence message is required: %w", model.ErrNotValid)
	}

	if s.ignored(occ) {
		s.logger.Debugf("Ignored error occurrence: %s", occ.Message)
		return nil, nil
	}

	kind := occ.Kind
	if kind == "" {
		kind = model.ErrorKindUnknown
	}

	now := s.now().UTC()
	event := model.ErrorEvent{
		ID:            ulid.Make().String(),
		Fingerprint:   model.Fingerprint(kind, occ.Source, occ.Message),
		Kind:          kind,
		Source:        occ.Source,
		Severity:      severityFor(kind, occ.Attempts),
		Message:       occ.Message,
		ComponentPath: occ.ComponentPath,
		Count:         1,
		FirstSeenAt:   now,
		LastSeenAt:    now,
	}

	stored, err := s.store.Upsert(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("could not archive error event: %w", err)
	}

	s.logCapture(stored)

	return stored, nil
}

// CaptureFailure archives a failure record caught by an error boundary.
func (s *Service) CaptureFailure(ctx context.Context, rec model.FailureRecord) (*model.ErrorEvent, error) {
	return s.Capture(ctx, Occurrence{
		Kind:          rec.Kind,
		Source:        rec.ComponentPath,
		Message:       rec.Message,
		ComponentPath: rec.ComponentPath,
		Attempts:      rec.Attempts,
	})
}

// CaptureOperation archives the terminal failure of an operation. Operations
// that did not finish in failed or timed_out are ignored.
func (s *Service) CaptureOperation(ctx context.Context, op model.Operation) (*model.ErrorEvent, error) {
	if op.Status != model.OperationStatusFailed && op.Status != model.OperationStatusTimedOut {
		return nil, nil
	}

	return s.Capture(ctx, Occurrence{
		Kind:     op.ErrorKind,
		Source:   op.Key,
		Message:  op.Error,
		Attempts: op.RetryCount + 1,
	})
}

func (s *Service) ignored(occ Occurrence) bool {
	for _, pattern := range s.ignores {
		if strings.Contains(occ.Message, pattern) || strings.Contains(occ.Source, pattern) {
			return true
		}
	}
	return false
}

func (s *Service) logCapture(event *model.ErrorEvent) {
	logger := s.logger.WithValues(log.Kv{"fingerprint": event.Fingerprint, "severity": event.Severity})
	switch {
	case event.Severity.AtLeast(model.ErrorSeverityCritical):
		logger.Errorf("Captured error (count %d): %s", event.Count, event.Message)
	case event.Severity.AtLeast(model.ErrorSeverityHigh):
		logger.Warningf("Captured error (count %d): %s", event.Count, event.Message)
	default:
		logger.Infof("Captured error (count %d): %s", event.Count, event.Message)
	}
}

// escalateAttempts is the attempt count at which an occurrence is graded one
// step above its kind's floor.
const escalateAttempts = 3

// severityFor grades an occurrence. The error kind sets the floor and burned
// retry attempts raise it one step.
func severityFor(kind model.ErrorKind, attempts int) model.ErrorSeverity {
	var sev model.ErrorSeverity
	switch kind {
	case model.ErrorKindValidation:
		sev = model.ErrorSeverityLow
	case model.ErrorKindNetwork, model.ErrorKindTimeout:
		sev = model.ErrorSeverityMedium
	default:
		sev = model.ErrorSeverityHigh
	}

	if attempts >= escalateAttempts {
		sev = escalate(sev)
	}

	return sev
}

func escalate(sev model.ErrorSeverity) model.ErrorSeverity {
	switch sev {
	case model.ErrorSeverityLow:
		return model.ErrorSeverityMedium
	case model.ErrorSeverityMedium:
		return model.ErrorSeverityHigh
	default:
		return model.ErrorSeverityCritical
	}
}
