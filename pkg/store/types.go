package store

import (
	"context"
	"encoding/json"
	"time"
)

// PassOutcome classifies one poll cycle.
type PassOutcome string

const (
	// OutcomeApplied means a snapshot was fetched and reconciled.
	OutcomeApplied PassOutcome = "applied"
	// OutcomeUnavailable means the fetch failed and reconciliation was skipped.
	OutcomeUnavailable PassOutcome = "unavailable"
)

// PassRecord is the journal entry of one poll cycle.
type PassRecord struct {
	PassID           string          `json:"pass_id"`
	SourceID         string          `json:"source_id"`
	Host             string          `json:"host,omitempty"`
	StartedAt        time.Time       `json:"started_at"`
	Duration         time.Duration   `json:"duration"`
	Outcome          PassOutcome     `json:"outcome"`
	StructureChanged bool            `json:"structure_changed"`
	Added            int             `json:"added"`
	Removed          int             `json:"removed"`
	Reparented       int             `json:"reparented"`
	Edges            int             `json:"edges"`
	Error            string          `json:"error,omitempty"`
	Warnings         json.RawMessage `json:"warnings,omitempty"`
}

// PassFilter selects journal entries. Zero fields match everything.
type PassFilter struct {
	From                 time.Time
	To                   time.Time
	Outcome              PassOutcome
	StructureChangedOnly bool
	Limit                int
}

// Snapshot is a point-in-time capture of locally created resources, which
// exist nowhere in the cluster until committed.
type Snapshot struct {
	SnapshotID    string          `json:"snapshot_id"`
	SchemaVersion int             `json:"schema_version"`
	TsSnapshot    time.Time       `json:"ts_snapshot"`
	LastPassID    string          `json:"last_pass_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// Lease represents an exclusive claim, held by one console instance.
type Lease struct {
	Name      string    `json:"name"`
	HolderID  string    `json:"holder_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Version   int64     `json:"version"`
}

// LeaseStore defines the interface for acquiring and renewing leases.
type LeaseStore interface {
	// Acquire tries to acquire the lease. Returns true if successful.
	// If the lease is already held by holderID, it renews it.
	Acquire(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error)

	// Renew updates the expiry of an existing lease held by holderID.
	// Returns error if the lease is lost or stolen.
	Renew(ctx context.Context, name, holderID string, ttl time.Duration) error

	// Release releases the lease if held by holderID.
	Release(ctx context.Context, name, holderID string) error

	// Get returns the current lease state.
	Get(ctx context.Context, name string) (*Lease, error)
}
