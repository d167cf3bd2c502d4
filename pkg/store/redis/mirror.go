// Package redis mirrors published registry views into Redis so other
// processes can read the resource tree without talking to the daemon.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/rasto/lcmc-sub001/pkg/registry"
)

const (
	nodesSet = "lcmc:nodes"
	metaKey  = "lcmc:view"
)

// ViewMeta is the view header stored next to the nodes.
type ViewMeta struct {
	Seq              uint64   `json:"seq"`
	StructureChanged bool     `json:"structure_changed"`
	Order            []string `json:"order"`
	Roots            []string `json:"roots"`
}

// ViewMirror writes every node of a published view at lcmc:node:<id>.
type ViewMirror struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewViewMirror(client *redis.Client, log zerolog.Logger) *ViewMirror {
	return &ViewMirror{client: client, log: log}
}

func nodeKey(id string) string {
	return fmt.Sprintf("lcmc:node:%s", id)
}

// Mirror replaces the mirrored view with v. Nodes that vanished from v are
// deleted.
func (m *ViewMirror) Mirror(ctx context.Context, v *registry.View) error {
	if v == nil {
		return nil
	}
	old, err := m.client.SMembers(ctx, nodesSet).Result()
	if err != nil {
		return fmt.Errorf("failed to SMEMBERS %s: %w", nodesSet, err)
	}

	meta, err := json.Marshal(ViewMeta{
		Seq:              v.Seq,
		StructureChanged: v.StructureChanged,
		Order:            v.Order,
		Roots:            v.Roots,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal view meta: %w", err)
	}

	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range old {
			if _, ok := v.Nodes[key]; !ok {
				pipe.Del(ctx, nodeKey(key))
				pipe.SRem(ctx, nodesSet, key)
			}
		}
		for id, n := range v.Nodes {
			data, err := json.Marshal(n)
			if err != nil {
				return fmt.Errorf("failed to marshal node %s: %w", id, err)
			}
			pipe.Set(ctx, nodeKey(id), data, 0)
			pipe.SAdd(ctx, nodesSet, id)
		}
		pipe.Set(ctx, metaKey, meta, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mirror view %d: %w", v.Seq, err)
	}
	return nil
}

// Get returns one mirrored node.
func (m *ViewMirror) Get(ctx context.Context, id string) (registry.NodeView, bool) {
	data, err := m.client.Get(ctx, nodeKey(id)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			m.log.Error().Err(err).Str("node_id", id).Msg("mirror_get_failed")
		}
		return registry.NodeView{}, false
	}
	var n registry.NodeView
	if err := json.Unmarshal([]byte(data), &n); err != nil {
		m.log.Error().Err(err).Str("node_id", id).Msg("mirror_decode_failed")
		return registry.NodeView{}, false
	}
	return n, true
}

// GetAll returns every mirrored node in view order.
func (m *ViewMirror) GetAll(ctx context.Context) []registry.NodeView {
	ids, err := m.ids(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("mirror_list_failed")
		return nil
	}
	if len(ids) == 0 {
		return []registry.NodeView{}
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = nodeKey(id)
	}
	values, err := m.client.MGet(ctx, keys...).Result()
	if err != nil {
		m.log.Error().Err(err).Msg("mirror_mget_failed")
		return nil
	}
	out := make([]registry.NodeView, 0, len(values))
	for i, val := range values {
		str, ok := val.(string)
		if !ok {
			continue
		}
		var n registry.NodeView
		if err := json.Unmarshal([]byte(str), &n); err != nil {
			m.log.Error().Err(err).Str("key", keys[i]).Msg("mirror_decode_failed")
			continue
		}
		out = append(out, n)
	}
	return out
}

// Meta returns the header of the last mirrored view.
func (m *ViewMirror) Meta(ctx context.Context) (ViewMeta, bool) {
	var meta ViewMeta
	data, err := m.client.Get(ctx, metaKey).Bytes()
	if err != nil {
		return meta, false
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, false
	}
	return meta, true
}

// ids prefers the view order and falls back to the set for nodes missing
// from it.
func (m *ViewMirror) ids(ctx context.Context) ([]string, error) {
	members, err := m.client.SMembers(ctx, nodesSet).Result()
	if err != nil {
		return nil, err
	}
	meta, ok := m.Meta(ctx)
	if !ok {
		return members, nil
	}
	inSet := make(map[string]bool, len(members))
	for _, id := range members {
		inSet[id] = true
	}
	var out []string
	for _, id := range meta.Order {
		if inSet[id] {
			out = append(out, id)
			delete(inSet, id)
		}
	}
	for _, id := range members {
		if inSet[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// Clear drops the whole mirror.
func (m *ViewMirror) Clear(ctx context.Context) error {
	ids, err := m.client.SMembers(ctx, nodesSet).Result()
	if err != nil {
		return fmt.Errorf("failed to SMEMBERS %s during clear: %w", nodesSet, err)
	}
	keys := []string{nodesSet, metaKey}
	for _, id := range ids {
		keys = append(keys, nodeKey(id))
	}
	if err := m.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to DEL mirror keys: %w", err)
	}
	return nil
}
