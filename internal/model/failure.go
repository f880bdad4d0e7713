package model

import "time"

// BoundaryTier identifies a failure containment tier. Tiers nest from
// network (outermost) through application down to component.
type BoundaryTier string

const (
	BoundaryTierNetwork     BoundaryTier = "network"
	BoundaryTierApplication BoundaryTier = "application"
	BoundaryTierComponent   BoundaryTier = "component"
)

// BoundaryState represents the state machine of a failure boundary.
//
// healthy -> caught -> retrying -> healthy (recovered)
//                   -> exhausted (terminal until an explicit reset)
type BoundaryState string

const (
	BoundaryStateHealthy   BoundaryState = "healthy"
	BoundaryStateCaught    BoundaryState = "caught"
	BoundaryStateRetrying  BoundaryState = "retrying"
	BoundaryStateExhausted BoundaryState = "exhausted"
)

// FailureRecord describes a failure caught by a boundary. It is owned
// exclusively by the boundary instance that caught it, never shared.
type FailureRecord struct {
	ID            string
	Kind          ErrorKind
	Message       string
	Tier          BoundaryTier
	ComponentPath string // boundary name path, outermost first (e.g. "app/leads-panel").
	Attempts      int    // failed construction attempts observed so far.
	FirstSeenAt   time.Time
	LastSeenAt    time.Time
}
