package engine

import (
	"errors"
	"testing"
	"time"
)

func TestHostTopology(t *testing.T) {
	topo := NewHostTopology("alpha", "beta", "gamma")

	hosts := topo.GetHosts(time.Minute)
	if len(hosts) != 3 {
		t.Fatalf("Expected 3 hosts, got %d", len(hosts))
	}
	for _, h := range hosts {
		if h.Status != HostUnknown {
			t.Errorf("Expected %s to be unknown, got %s", h.Name, h.Status)
		}
	}

	now := time.Now()
	topo.ObserveHost("alpha", nil, now)
	topo.ObserveHost("beta", errors.New("connection refused"), now)
	topo.ObserveHost("beta", errors.New("connection refused"), now)
	topo.ObserveHost("gamma", nil, now.Add(-time.Hour))

	hosts = topo.GetHosts(time.Minute)
	want := map[string]string{"alpha": HostOnline, "beta": HostUnreachable, "gamma": HostStale}
	for _, h := range hosts {
		if h.Status != want[h.Name] {
			t.Errorf("Expected %s to be %s, got %s", h.Name, want[h.Name], h.Status)
		}
	}
	if hosts[1].Failures != 2 || hosts[1].LastError == "" {
		t.Errorf("Expected beta to record failures, got %+v", hosts[1])
	}

	reachable := topo.Reachable()
	if len(reachable) != 2 || reachable[0] != "alpha" || reachable[1] != "gamma" {
		t.Errorf("Unexpected reachable hosts: %v", reachable)
	}

	// recovery clears the error
	topo.ObserveHost("beta", nil, now)
	hosts = topo.GetHosts(time.Minute)
	if hosts[1].Status != HostOnline || hosts[1].Failures != 0 || hosts[1].LastError != "" {
		t.Errorf("Expected beta to recover, got %+v", hosts[1])
	}

	// hosts outside the inventory are tracked too
	topo.ObserveHost("delta", nil, now)
	if hosts = topo.GetHosts(0); len(hosts) != 4 || hosts[3].Name != "delta" {
		t.Errorf("Expected delta appended, got %+v", hosts)
	}
}
