package reconcile

import "fmt"

// WarningKind classifies a non-fatal reconciliation problem.
type WarningKind string

const (
	WarnUnknownResourceAgent WarningKind = "unknown_resource_agent"
	WarnUnsupportedNesting   WarningKind = "unsupported_nesting"
	WarnMalformedSnapshot    WarningKind = "malformed_snapshot"
)

// Warning records an entry that was degraded or skipped during a pass.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	ID      string      `json:"id"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s: %s", w.Kind, w.ID, w.Message)
}
