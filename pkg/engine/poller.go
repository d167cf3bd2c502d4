package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rasto/lcmc-sub001/pkg/crm"
	"github.com/rasto/lcmc-sub001/pkg/reconcile"
	"github.com/rasto/lcmc-sub001/pkg/registry"
	"github.com/rasto/lcmc-sub001/pkg/source"
	"github.com/rasto/lcmc-sub001/pkg/store"
)

// PassJournal persists one record per poll cycle.
type PassJournal interface {
	AppendPass(ctx context.Context, p *store.PassRecord) error
}

// StatusArchive keeps the raw status document of structure-changing passes.
type StatusArchive interface {
	Save(ctx context.Context, passID string, at time.Time, raw []byte) error
}

// PassStatus is the outcome of the most recent poll cycle.
type PassStatus struct {
	PassID   string            `json:"pass_id"`
	At       time.Time         `json:"at"`
	Outcome  store.PassOutcome `json:"outcome"`
	Host     string            `json:"host,omitempty"`
	Error    string            `json:"error,omitempty"`
	ViewSeq  uint64            `json:"view_seq"`
	Result   *reconcile.Result `json:"result,omitempty"`
	Polls    uint64            `json:"polls"`
	Failures uint64            `json:"failures"`
}

// StructureListener is told about passes that added, removed or moved nodes.
type StructureListener func(v *registry.View, res reconcile.Result)

// Poller drives the polling flow: fetch a snapshot, reconcile it under the
// status lock, publish and journal the result.
type Poller struct {
	src      source.Source
	engine   *reconcile.Engine
	lock     *StatusLock
	interval time.Duration
	log      zerolog.Logger

	// bounds one fetch; defaults to the interval
	timeout   time.Duration
	journal   PassJournal
	sink      ViewSink
	archive   StatusArchive
	listeners []StructureListener

	// passes are never concurrent
	running sync.Mutex
	trigger chan struct{}

	mu     sync.RWMutex
	status PassStatus
}

// NewPoller creates a poller for one source. lock may be shared with a
// Console.
func NewPoller(src source.Source, eng *reconcile.Engine, lock *StatusLock, interval time.Duration, log zerolog.Logger) *Poller {
	if lock == nil {
		lock = &StatusLock{}
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Poller{
		src:      src,
		engine:   eng,
		lock:     lock,
		interval: interval,
		timeout:  interval,
		log:      log,
		trigger:  make(chan struct{}, 1),
	}
}

// SetTimeout bounds each status fetch. A fetch still running when it expires
// is cancelled and recorded as unavailable, so the next scheduled poll
// supersedes it. Zero or less restores the poll interval.
func (p *Poller) SetTimeout(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d <= 0 {
		d = p.interval
	}
	p.timeout = d
}

// SetJournal sets where pass records go. nil disables journaling.
func (p *Poller) SetJournal(j PassJournal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.journal = j
}

// SetSink sets the view mirror. nil disables mirroring.
func (p *Poller) SetSink(s ViewSink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = s
}

// SetArchive enables archiving of raw status documents.
func (p *Poller) SetArchive(a StatusArchive) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.archive = a
}

// OnStructureChanged registers a listener for structural changes.
func (p *Poller) OnStructureChanged(fn StructureListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Lock returns the status lock passes run under.
func (p *Poller) Lock() *StatusLock {
	return p.lock
}

// Engine returns the reconciler the poller feeds.
func (p *Poller) Engine() *reconcile.Engine {
	return p.engine
}

// Status returns the outcome of the last poll cycle.
func (p *Poller) Status() PassStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Trigger requests an immediate poll. Requests made while one is pending
// collapse into it.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Start polls once, then on every tick or trigger until ctx is done.
func (p *Poller) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Info().Str("source_id", p.src.ID()).Dur("interval", p.interval).Msg("poller_started")
	p.PollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("poller_stopped")
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		case <-p.trigger:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce runs one poll cycle. The fetch happens outside the status lock;
// reconciliation happens under it. A failed fetch leaves the registry
// untouched and returns an error wrapping source.ErrStatusUnavailable.
func (p *Poller) PollOnce(ctx context.Context) (*store.PassRecord, error) {
	p.running.Lock()
	defer p.running.Unlock()

	rec := &store.PassRecord{
		PassID:    "pass_" + uuid.NewString(),
		SourceID:  p.src.ID(),
		StartedAt: time.Now().UTC(),
	}

	p.mu.RLock()
	timeout := p.timeout
	p.mu.RUnlock()
	fetched, timedOut, err := p.fetch(ctx, timeout)
	if err != nil {
		if timedOut {
			err = fmt.Errorf("fetch timed out after %s: %w", timeout, err)
		}
		if !errors.Is(err, source.ErrStatusUnavailable) {
			err = fmt.Errorf("%w: %w", source.ErrStatusUnavailable, err)
		}
		rec.Outcome = store.OutcomeUnavailable
		rec.Error = err.Error()
		rec.Duration = time.Since(rec.StartedAt)
		LcmcPassesTotal.WithLabelValues(string(rec.Outcome)).Inc()
		p.log.Warn().Err(err).Str("pass_id", rec.PassID).Bool("timed_out", timedOut).Msg("cluster_status_unavailable")
		p.finish(ctx, rec, nil, nil)
		return rec, err
	}
	rec.Host = fetched.Host

	var (
		res  reconcile.Result
		view *registry.View
	)
	p.lock.Do("pass", func() {
		res = p.engine.Pass(fetched.Snapshot)
		view = p.engine.Registry().Latest()
	})

	rec.Outcome = store.OutcomeApplied
	rec.Duration = time.Since(rec.StartedAt)
	rec.StructureChanged = res.StructureChanged
	rec.Added = len(res.Added)
	rec.Removed = len(res.Removed)
	rec.Reparented = len(res.Reparented)
	rec.Edges = res.Edges
	if len(res.Warnings) > 0 {
		if data, err := json.Marshal(res.Warnings); err == nil {
			rec.Warnings = data
		}
	}

	p.observe(res, view)
	p.finish(ctx, rec, &res, view)

	if res.StructureChanged {
		p.archiveRaw(ctx, rec, fetched.Raw)
		p.log.Info().
			Str("pass_id", rec.PassID).
			Strs("added", res.Added).
			Strs("removed", res.Removed).
			Strs("reparented", res.Reparented).
			Msg("structure_changed")
	}
	return rec, nil
}

// fetch runs one status fetch bounded by timeout. A source that ignores the
// cancellation is abandoned; its late result is discarded.
func (p *Poller) fetch(ctx context.Context, timeout time.Duration) (source.Result, bool, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type fetchResult struct {
		res source.Result
		err error
	}
	done := make(chan fetchResult, 1)
	go func() {
		res, err := p.src.Fetch(fetchCtx)
		done <- fetchResult{res, err}
	}()

	select {
	case r := <-done:
		timedOut := r.err != nil && errors.Is(fetchCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		return r.res, timedOut, r.err
	case <-fetchCtx.Done():
		return source.Result{}, ctx.Err() == nil, fetchCtx.Err()
	}
}

func (p *Poller) archiveRaw(ctx context.Context, rec *store.PassRecord, raw []byte) {
	p.mu.RLock()
	a := p.archive
	p.mu.RUnlock()
	if a == nil || len(raw) == 0 {
		return
	}
	if err := a.Save(ctx, rec.PassID, rec.StartedAt, raw); err != nil {
		p.log.Error().Err(err).Str("pass_id", rec.PassID).Msg("status_archive_failed")
	}
}

func (p *Poller) observe(res reconcile.Result, view *registry.View) {
	LcmcPassesTotal.WithLabelValues(string(store.OutcomeApplied)).Inc()
	LcmcPassDuration.Observe(res.Duration.Seconds())
	LcmcGraphEdges.Set(float64(res.Edges))
	for _, w := range res.Warnings {
		LcmcWarningsTotal.WithLabelValues(string(w.Kind)).Inc()
	}
	counts := map[crm.Kind]int{
		crm.KindPrimitive:   0,
		crm.KindGroup:       0,
		crm.KindClone:       0,
		crm.KindPlaceholder: 0,
	}
	if view != nil {
		for _, n := range view.Nodes {
			counts[n.Kind]++
		}
	}
	for kind, n := range counts {
		LcmcRegistryNodes.WithLabelValues(string(kind)).Set(float64(n))
	}
}

// finish journals the record, mirrors the view and notifies listeners.
// Failures here are logged; they never fail the pass.
func (p *Poller) finish(ctx context.Context, rec *store.PassRecord, res *reconcile.Result, view *registry.View) {
	p.mu.Lock()
	st := p.status
	st.PassID = rec.PassID
	st.At = rec.StartedAt
	st.Outcome = rec.Outcome
	st.Host = rec.Host
	st.Error = rec.Error
	st.Polls++
	if res != nil {
		st.Result = res
		st.ViewSeq = res.ViewSeq
	} else {
		st.Failures++
	}
	p.status = st
	journal, sink := p.journal, p.sink
	listeners := append([]StructureListener(nil), p.listeners...)
	p.mu.Unlock()

	if journal != nil {
		if err := journal.AppendPass(ctx, rec); err != nil {
			p.log.Error().Err(err).Str("pass_id", rec.PassID).Msg("journal_append_failed")
		}
	}
	if view == nil {
		return
	}
	if sink != nil {
		if err := sink.Mirror(ctx, view); err != nil {
			p.log.Error().Err(err).Uint64("view_seq", view.Seq).Msg("view_mirror_failed")
		}
	}
	if res != nil && res.StructureChanged {
		for _, fn := range listeners {
			fn(view, *res)
		}
	}
}
