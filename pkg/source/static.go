package source

import (
	"context"
	"sync"
	"time"

	"github.com/rasto/lcmc-sub001/pkg/crm"
)

// StaticSource serves a snapshot held in memory. Tests and demo setups swap
// the snapshot between polls.
type StaticSource struct {
	id   string
	mu   sync.Mutex
	snap crm.Snapshot
	err  error
}

var _ Source = (*StaticSource)(nil)

// NewStaticSource creates a source serving snap.
func NewStaticSource(id string, snap crm.Snapshot) *StaticSource {
	if snap == nil {
		snap = crm.NewMemorySnapshot()
	}
	return &StaticSource{id: id, snap: snap}
}

func (s *StaticSource) ID() string {
	return s.id
}

// Set replaces the served snapshot.
func (s *StaticSource) Set(snap crm.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
	s.err = nil
}

// Fail makes subsequent fetches return err until the next Set.
func (s *StaticSource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *StaticSource) Fetch(ctx context.Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Result{}, s.err
	}
	return Result{
		SourceID:  s.id,
		Host:      "static",
		Snapshot:  s.snap,
		Timestamp: time.Now().UTC(),
	}, nil
}
