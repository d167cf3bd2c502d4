package engine

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rasto/lcmc-sub001/pkg/crm"
	"github.com/rasto/lcmc-sub001/pkg/store"
)

func TestSnapshotWorker_TakeAndRestore(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	p, _, g := newTestPoller(t, clusterSnapshot())
	p.PollOnce(ctx)
	c := NewConsole(p, g, ConsoleConfig{}, zerolog.Nop())
	ph := c.AddPlaceholder()
	c.AddResource("vip2", raIP, map[string]string{"ip": "10.0.0.2"}, "")
	c.AddResource("d2", raDummy, nil, "g1")

	w := NewSnapshotWorker(st, p, time.Hour, zerolog.Nop())
	saved, err := w.TakeSnapshot(ctx)
	if err != nil || !saved {
		t.Fatalf("TakeSnapshot failed: saved=%v err=%v", saved, err)
	}
	if saved, _ = w.TakeSnapshot(ctx); saved {
		t.Error("Expected an unchanged snapshot to be skipped")
	}

	snap, _ := st.GetLatestSnapshot(ctx)
	var payload SnapshotPayload
	if err := json.Unmarshal(snap.Payload, &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if len(payload.Nodes) != 3 {
		t.Errorf("Expected only the 3 new nodes, got %d", len(payload.Nodes))
	}
	if snap.LastPassID != p.Status().PassID {
		t.Errorf("Expected last pass %s, got %s", p.Status().PassID, snap.LastPassID)
	}

	// a fresh process: first poll, then restore
	p2, _, _ := newTestPoller(t, clusterSnapshot())
	p2.PollOnce(ctx)
	restored, err := RestoreLocalNodes(ctx, st, p2)
	if err != nil {
		t.Fatalf("RestoreLocalNodes failed: %v", err)
	}
	if len(restored) != 3 {
		t.Fatalf("Expected 3 restored nodes, got %v", restored)
	}

	reg := p2.Engine().Registry()
	n, ok := reg.Get("vip2")
	if !ok || !n.IsNew || n.Params["ip"] != "10.0.0.2" || n.AgentKind != crm.AgentIPAddr {
		t.Errorf("Unexpected restored vip2: %+v", n)
	}
	if !slices.Contains(reg.Roots(), "vip2") {
		t.Errorf("Expected vip2 at the top level, got %v", reg.Roots())
	}
	if slices.Contains(reg.Roots(), ph.ID) {
		t.Error("Expected placeholder to stay out of the tree")
	}
	g1, _ := reg.Get("g1")
	if !slices.Equal(g1.ChildIDs, []string{"d1", "d2"}) {
		t.Errorf("Expected d2 back in g1, got %v", g1.ChildIDs)
	}

	// passes keep the restored nodes
	p2.PollOnce(ctx)
	if _, ok := reg.Get(ph.ID); !ok {
		t.Error("Expected restored placeholder to survive a pass")
	}

	again, err := RestoreLocalNodes(ctx, st, p2)
	if err != nil || len(again) != 0 {
		t.Errorf("Expected a second restore to skip existing ids, got %v, %v", again, err)
	}
}

func TestRestoreLocalNodes_MissingParent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	p, _, g := newTestPoller(t, clusterSnapshot())
	p.PollOnce(ctx)
	NewConsole(p, g, ConsoleConfig{}, zerolog.Nop()).AddResource("d2", raDummy, nil, "g1")
	if _, err := NewSnapshotWorker(st, p, 0, zerolog.Nop()).TakeSnapshot(ctx); err != nil {
		t.Fatalf("TakeSnapshot failed: %v", err)
	}

	// the group is gone from the cluster
	p2, _, _ := newTestPoller(t, crm.NewMemorySnapshot())
	p2.PollOnce(ctx)
	if _, err := RestoreLocalNodes(ctx, st, p2); err != nil {
		t.Fatalf("RestoreLocalNodes failed: %v", err)
	}
	n, _ := p2.Engine().Registry().Get("d2")
	if n == nil || n.ParentID != "" {
		t.Fatalf("Expected d2 at the top level, got %+v", n)
	}
	if !slices.Contains(p2.Engine().Registry().Roots(), "d2") {
		t.Error("Expected d2 in roots")
	}
}

func TestRestoreLocalNodes_Errors(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	p, _, _ := newTestPoller(t, nil)

	restored, err := RestoreLocalNodes(ctx, st, p)
	if err != nil || restored != nil {
		t.Errorf("Expected nothing to restore, got %v, %v", restored, err)
	}

	st.SaveSnapshot(ctx, &store.Snapshot{
		SnapshotID:    "snap_future",
		SchemaVersion: 99,
		TsSnapshot:    time.Now().UTC(),
		Payload:       []byte(`{"nodes":[]}`),
	})
	if _, err := RestoreLocalNodes(ctx, st, p); err == nil {
		t.Error("Expected an error for an unknown schema version")
	}
}

type failingSnapshotStore struct{}

func (failingSnapshotStore) SaveSnapshot(context.Context, *store.Snapshot) error {
	return errors.New("disk full")
}

func (failingSnapshotStore) GetLatestSnapshot(context.Context) (*store.Snapshot, error) {
	return nil, errors.New("disk full")
}

func TestSnapshotWorker_StoreErrors(t *testing.T) {
	p, _, _ := newTestPoller(t, nil)
	w := NewSnapshotWorker(failingSnapshotStore{}, p, 0, zerolog.Nop())
	if _, err := w.TakeSnapshot(context.Background()); err == nil {
		t.Error("Expected save error")
	}
	// a failed save is retried on the next tick
	if w.last != nil {
		t.Error("Expected failed payload not to be remembered")
	}
	if _, err := RestoreLocalNodes(context.Background(), failingSnapshotStore{}, p); err == nil {
		t.Error("Expected load error")
	}
}
