package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rasto/lcmc-sub001/pkg/crm"
	"github.com/rasto/lcmc-sub001/pkg/reconcile"
	"github.com/rasto/lcmc-sub001/pkg/registry"
	"github.com/rasto/lcmc-sub001/pkg/remote"
	"github.com/rasto/lcmc-sub001/pkg/store"
)

// ApplyLease is the lease name serializing configuration commands across
// console instances.
const ApplyLease = "apply"

var (
	ErrNodeExists   = errors.New("node already exists")
	ErrNodeNotFound = errors.New("node not found")
	ErrNotNew       = errors.New("node is not locally created")
	ErrBadParent    = errors.New("parent is not a group")
	ErrApplyBusy    = errors.New("another apply is in progress")
	ErrNoHosts      = errors.New("no cluster hosts configured")
)

// ConsoleConfig wires the console to the cluster.
type ConsoleConfig struct {
	Hosts    []string
	Executor remote.Executor
	Leases   store.LeaseStore
	HolderID string
	LeaseTTL time.Duration
	Topology *HostTopology
}

// ApplyResult is the outcome of one configuration command.
type ApplyResult struct {
	Host     string        `json:"host"`
	Output   string        `json:"output"`
	Duration time.Duration `json:"duration"`
}

// Console carries out local user actions. Registry edits happen under the
// status lock; configuration commands run off the reconciliation path and
// only reach the registry through the next poll.
type Console struct {
	poller *Poller
	graph  reconcile.GraphView
	cfg    ConsoleConfig
	log    zerolog.Logger
}

// NewConsole creates a console sharing the poller's lock and engine. g
// receives vertices for locally created nodes and may be nil.
func NewConsole(p *Poller, g reconcile.GraphView, cfg ConsoleConfig, log zerolog.Logger) *Console {
	if cfg.HolderID == "" {
		cfg.HolderID = "console-" + uuid.NewString()
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 2 * time.Minute
	}
	return &Console{poller: p, graph: g, cfg: cfg, log: log}
}

func (c *Console) registry() *registry.Registry {
	return c.poller.Engine().Registry()
}

// AddPlaceholder creates an empty placeholder the user can later fill. It
// survives passes until adopted by a new constraint or removed.
func (c *Console) AddPlaceholder() registry.NodeView {
	var v registry.NodeView
	c.poller.Lock().Do("add_placeholder", func() {
		reg := c.registry()
		ph := registry.NewPlaceholder(reg.NextPlaceholderID())
		ph.IsNew = true
		_ = reg.Put(ph)
		if c.graph != nil {
			c.graph.AddVertex(ph)
		}
		reg.Publish(true)
		v = ph.View()
	})
	c.log.Info().Str("node_id", v.ID).Msg("placeholder_added")
	return v
}

// AddResource creates a locally new primitive, at the top level or as the
// last member of parentID.
func (c *Console) AddResource(id string, ra crm.ResourceAgent, params map[string]string, parentID string) (registry.NodeView, error) {
	if id == "" {
		return registry.NodeView{}, fmt.Errorf("resource id is required")
	}
	var (
		v   registry.NodeView
		err error
	)
	c.poller.Lock().Do("add_resource", func() {
		reg := c.registry()
		if _, ok := reg.Get(id); ok {
			err = fmt.Errorf("%w: %s", ErrNodeExists, id)
			return
		}
		var parent *registry.Node
		if parentID != "" {
			p, ok := reg.Get(parentID)
			if !ok {
				err = fmt.Errorf("%w: %s", ErrNodeNotFound, parentID)
				return
			}
			if p.Kind != crm.KindGroup {
				err = fmt.Errorf("%w: %s is a %s", ErrBadParent, parentID, p.Kind)
				return
			}
			parent = p
		}

		n := registry.NewPrimitive(id, ra, crm.Classify(ra))
		n.IsNew = true
		n.SetParams(params)
		if err = reg.Put(n); err != nil {
			return
		}
		if parent != nil {
			n.ParentID = parent.ID
			parent.ChildIDs = append(parent.ChildIDs, id)
		} else {
			reg.AppendRoot(id)
		}
		if c.graph != nil {
			c.graph.AddVertex(n)
		}
		reg.Publish(true)
		v = n.View()
	})
	if err != nil {
		return registry.NodeView{}, err
	}
	c.log.Info().Str("node_id", id).Str("agent", ra.String()).Str("parent", parentID).Msg("resource_added")
	return v, nil
}

// RemoveNew removes a locally created node and its locally created members.
// Nodes known to the cluster are only removed by reconciliation.
func (c *Console) RemoveNew(id string) ([]string, error) {
	var (
		removed []string
		err     error
	)
	c.poller.Lock().Do("remove_new", func() {
		reg := c.registry()
		n, ok := reg.Get(id)
		if !ok {
			err = fmt.Errorf("%w: %s", ErrNodeNotFound, id)
			return
		}
		if !n.IsNew {
			err = fmt.Errorf("%w: %s", ErrNotNew, id)
			return
		}
		var drop func(n *registry.Node)
		drop = func(n *registry.Node) {
			for _, child := range slices.Clone(n.ChildIDs) {
				if cn, ok := reg.Get(child); ok && cn.IsNew {
					drop(cn)
				}
			}
			reg.Remove(n.ID)
			if c.graph != nil {
				c.graph.RemoveVertex(n)
			}
			removed = append(removed, n.ID)
		}
		drop(n)
		reg.Publish(true)
	})
	if err != nil {
		return nil, err
	}
	c.log.Info().Strs("removed", removed).Msg("local_nodes_removed")
	return removed, nil
}

// Apply runs a configuration command on the cluster while holding the apply
// lease, then requests a fresh poll. Hosts that answered the last status
// query go first. A command that ran and failed is not retried elsewhere.
func (c *Console) Apply(ctx context.Context, command string) (*ApplyResult, error) {
	if command == "" {
		return nil, remote.ErrEmptyCommand
	}
	if c.cfg.Executor == nil {
		return nil, fmt.Errorf("no executor configured")
	}
	hosts := c.hostOrder()
	if len(hosts) == 0 {
		return nil, ErrNoHosts
	}

	if c.cfg.Leases != nil {
		ok, err := c.cfg.Leases.Acquire(ctx, ApplyLease, c.cfg.HolderID, c.cfg.LeaseTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire apply lease: %w", err)
		}
		if !ok {
			return nil, ErrApplyBusy
		}
		defer func() {
			if err := c.cfg.Leases.Release(context.WithoutCancel(ctx), ApplyLease, c.cfg.HolderID); err != nil {
				c.log.Error().Err(err).Msg("apply_lease_release_failed")
			}
		}()
	}

	start := time.Now()
	var errs []error
	for _, host := range hosts {
		out, err := c.cfg.Executor.Run(ctx, host, command)
		if err != nil {
			c.log.Warn().Err(err).Str("host", host).Str("command", command).Msg("apply_failed")
			errs = append(errs, err)
			if remote.ExitCode(err) != 0 || ctx.Err() != nil {
				break
			}
			continue
		}
		c.log.Info().Str("host", host).Str("command", command).Msg("apply_succeeded")
		c.poller.Trigger()
		return &ApplyResult{Host: host, Output: string(out), Duration: time.Since(start)}, nil
	}
	return nil, fmt.Errorf("apply %q: %w", command, errors.Join(errs...))
}

func (c *Console) hostOrder() []string {
	if c.cfg.Topology == nil {
		return slices.Clone(c.cfg.Hosts)
	}
	hosts := c.cfg.Topology.Reachable()
	for _, h := range c.cfg.Hosts {
		if !slices.Contains(hosts, h) {
			hosts = append(hosts, h)
		}
	}
	return hosts
}
