package engine

import (
	"context"
	"sync"

	"github.com/rasto/lcmc-sub001/pkg/registry"
)

// ViewSink receives every view the poller publishes.
type ViewSink interface {
	Mirror(ctx context.Context, v *registry.View) error
}

// MemorySink keeps the last mirrored view in process. It is the default
// sink when no Redis mirror is configured.
type MemorySink struct {
	mu   sync.RWMutex
	view *registry.View
	n    int
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Mirror(_ context.Context, v *registry.View) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = v
	s.n++
	return nil
}

// Latest returns the last mirrored view, or nil.
func (s *MemorySink) Latest() *registry.View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// Count returns how many views were mirrored.
func (s *MemorySink) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.n
}
