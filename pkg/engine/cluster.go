package engine

import (
	"slices"
	"sync"
	"time"

	"github.com/rasto/lcmc-sub001/pkg/source"
)

// Host status values.
const (
	HostOnline      = "online"
	HostUnreachable = "unreachable"
	HostStale       = "stale"
	HostUnknown     = "unknown"
)

// ClusterHost is one inventory host as seen by the status source.
type ClusterHost struct {
	Name      string    `json:"name"`
	LastSeen  time.Time `json:"last_seen,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Failures  int       `json:"failures"`
	Status    string    `json:"status"`
}

// HostTopology tracks per-host reachability from status queries.
type HostTopology struct {
	mu    sync.RWMutex
	hosts map[string]*ClusterHost
	order []string
}

var _ source.HostObserver = (*HostTopology)(nil)

// NewHostTopology creates a topology seeded with the inventory hosts.
func NewHostTopology(hosts ...string) *HostTopology {
	t := &HostTopology{hosts: make(map[string]*ClusterHost)}
	for _, h := range hosts {
		t.host(h)
	}
	return t
}

func (t *HostTopology) host(name string) *ClusterHost {
	h, ok := t.hosts[name]
	if !ok {
		h = &ClusterHost{Name: name, Status: HostUnknown}
		t.hosts[name] = h
		t.order = append(t.order, name)
	}
	return h
}

// ObserveHost records one attempt to query host.
func (t *HostTopology) ObserveHost(host string, err error, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.host(host)
	if err != nil {
		h.LastError = err.Error()
		h.Failures++
		h.Status = HostUnreachable
		LcmcFetchErrorsTotal.WithLabelValues(host).Inc()
		return
	}
	h.LastSeen = at
	h.LastError = ""
	h.Failures = 0
	h.Status = HostOnline
}

// GetHosts returns all hosts in inventory order. An online host not seen
// within ttl is reported stale.
func (t *HostTopology) GetHosts(ttl time.Duration) []ClusterHost {
	t.mu.RLock()
	defer t.mu.RUnlock()

	list := make([]ClusterHost, 0, len(t.hosts))
	now := time.Now()
	for _, name := range t.order {
		h := *t.hosts[name]
		if h.Status == HostOnline && ttl > 0 && now.Sub(h.LastSeen) > ttl {
			h.Status = HostStale
		}
		list = append(list, h)
	}
	return list
}

// Reachable returns hosts whose last query succeeded, in inventory order.
func (t *HostTopology) Reachable() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.DeleteFunc(slices.Clone(t.order), func(name string) bool {
		return t.hosts[name].Status != HostOnline
	})
}
