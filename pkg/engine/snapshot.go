package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rasto/lcmc-sub001/pkg/crm"
	"github.com/rasto/lcmc-sub001/pkg/registry"
	"github.com/rasto/lcmc-sub001/pkg/store"
)

const snapshotSchemaVersion = 1

// SnapshotPayload is the JSON blob stored in snapshots: locally created
// nodes, which exist nowhere in the cluster until committed.
type SnapshotPayload struct {
	Nodes []registry.NodeView `json:"nodes"`
}

// SnapshotStore is the part of the store the snapshot worker needs.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *store.Snapshot) error
	GetLatestSnapshot(ctx context.Context) (*store.Snapshot, error)
}

// SnapshotWorker periodically persists locally created nodes.
type SnapshotWorker struct {
	store    SnapshotStore
	poller   *Poller
	interval time.Duration
	log      zerolog.Logger

	mu   sync.Mutex
	last []byte
}

// NewSnapshotWorker creates a new worker
func NewSnapshotWorker(st SnapshotStore, p *Poller, interval time.Duration, log zerolog.Logger) *SnapshotWorker {
	if interval == 0 {
		interval = time.Minute
	}
	return &SnapshotWorker{
		store:    st,
		poller:   p,
		interval: interval,
		log:      log,
	}
}

// Run starts the snapshot loop
func (w *SnapshotWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info().Dur("interval", w.interval).Msg("snapshot_worker_started")

	for {
		select {
		case <-ctx.Done():
			// flush on shutdown so nodes added since the last tick survive
			if _, err := w.TakeSnapshot(context.WithoutCancel(ctx)); err != nil {
				w.log.Error().Err(err).Msg("snapshot_failed")
			}
			w.log.Info().Msg("snapshot_worker_stopped")
			return
		case <-ticker.C:
			saved, err := w.TakeSnapshot(ctx)
			if err != nil {
				w.log.Error().Err(err).Msg("snapshot_failed")
			} else if saved {
				w.log.Info().Msg("snapshot_created")
			}
		}
	}
}

// TakeSnapshot saves the locally created nodes of the latest view. It
// reports false without writing when nothing changed since the last save.
func (w *SnapshotWorker) TakeSnapshot(ctx context.Context) (bool, error) {
	view := w.poller.Engine().Registry().Latest()
	payload := SnapshotPayload{Nodes: []registry.NodeView{}}
	for _, id := range view.Order {
		if n := view.Nodes[id]; n.IsNew {
			payload.Nodes = append(payload.Nodes, n)
		}
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal snapshot payload: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last != nil && bytes.Equal(w.last, payloadJSON) {
		return false, nil
	}

	snap := &store.Snapshot{
		SnapshotID:    "snap_" + uuid.NewString(),
		SchemaVersion: snapshotSchemaVersion,
		TsSnapshot:    time.Now().UTC(),
		LastPassID:    w.poller.Status().PassID,
		Payload:       payloadJSON,
	}
	if err := w.store.SaveSnapshot(ctx, snap); err != nil {
		return false, fmt.Errorf("store save failed: %w", err)
	}
	w.last = payloadJSON
	return true, nil
}

// RestoreLocalNodes loads the latest snapshot into the registry. Run it after
// the first poll so members find their cluster groups; a member whose parent
// is gone lands at the top level. Ids already present are skipped.
func RestoreLocalNodes(ctx context.Context, st SnapshotStore, p *Poller) ([]string, error) {
	snap, err := st.GetLatestSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	if snap == nil {
		return nil, nil
	}
	if snap.SchemaVersion != snapshotSchemaVersion {
		return nil, fmt.Errorf("unsupported snapshot schema version %d", snap.SchemaVersion)
	}

	var payload SnapshotPayload
	if err := json.Unmarshal(snap.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot payload: %w", err)
	}

	var restored []string
	p.Lock().Do("restore", func() {
		reg := p.Engine().Registry()
		for _, v := range payload.Nodes {
			if _, taken := reg.Get(v.ID); taken {
				continue
			}
			n := nodeFromView(v)
			if err := reg.Put(n); err != nil {
				continue
			}
			restored = append(restored, n.ID)
		}
		// link members once every node exists, keeping the saved order
		fresh := make(map[string]bool, len(restored))
		for _, id := range restored {
			fresh[id] = true
		}
		for _, v := range payload.Nodes {
			n, ok := reg.Get(v.ID)
			if !ok || !fresh[v.ID] {
				continue
			}
			parent, ok := reg.Get(v.ParentID)
			if v.ParentID == "" || !ok || !parent.Kind.IsContainer() {
				n.ParentID = ""
				if n.Kind != crm.KindPlaceholder {
					reg.AppendRoot(n.ID)
				}
				continue
			}
			n.ParentID = parent.ID
			parent.ChildIDs = append(parent.ChildIDs, n.ID)
		}
		if len(restored) > 0 {
			reg.Publish(true)
		}
	})
	return restored, nil
}

func nodeFromView(v registry.NodeView) *registry.Node {
	var n *registry.Node
	switch v.Kind {
	case crm.KindPlaceholder:
		n = registry.NewPlaceholder(v.ID)
	case crm.KindGroup, crm.KindClone:
		n = registry.NewContainer(v.ID, v.Kind)
		n.MasterSlave = v.MasterSlave
	default:
		n = registry.NewPrimitive(v.ID, v.Agent, crm.Classify(v.Agent))
	}
	n.SetParams(v.Params)
	n.IsNew = true
	return n
}
