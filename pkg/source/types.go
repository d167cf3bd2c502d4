// Package source fetches cluster status snapshots.
package source

import (
	"context"
	"errors"
	"time"

	"github.com/rasto/lcmc-sub001/pkg/crm"
)

// ErrStatusUnavailable means no host produced a usable cluster status.
// Reconciliation is skipped until the next successful fetch.
var ErrStatusUnavailable = errors.New("cluster status unavailable")

// Result is one successful fetch.
type Result struct {
	SourceID  string
	Host      string
	Snapshot  crm.Snapshot
	Timestamp time.Time
	// Raw is the document the snapshot was decoded from, when there is one.
	Raw []byte
}

// Source produces cluster status snapshots.
type Source interface {
	// ID returns the unique identifier for this source
	ID() string

	// Fetch retrieves the current cluster status. It must not touch the
	// resource registry.
	Fetch(ctx context.Context) (Result, error)
}

// HostObserver is told about every attempt to reach a host.
type HostObserver interface {
	ObserveHost(host string, err error, at time.Time)
}
