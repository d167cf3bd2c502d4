package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// PruneStore is the part of the store the prune worker needs.
type PruneStore interface {
	PrunePasses(ctx context.Context, before time.Time) (int64, error)
	PruneSnapshots(ctx context.Context, keep int) (int64, error)
}

// ArchivePruner drops archived status documents older than a cutoff.
type ArchivePruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

type PruneWorker struct {
	store   PruneStore
	archive ArchivePruner
	config  RetentionConfig
	log     zerolog.Logger
	mu      sync.RWMutex
}

func NewPruneWorker(st PruneStore, cfg RetentionConfig, log zerolog.Logger) *PruneWorker {
	return &PruneWorker{
		store:  st,
		config: cfg,
		log:    log,
	}
}

// SetArchive makes the worker prune archived documents with the pass TTL.
func (w *PruneWorker) SetArchive(a ArchivePruner) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.archive = a
}

func (w *PruneWorker) UpdateConfig(cfg RetentionConfig) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.config = cfg
}

func (w *PruneWorker) Run(ctx context.Context) {
	w.mu.RLock()
	disabled := !w.config.Enabled
	interval := w.config.CheckInterval
	w.mu.RUnlock()

	if disabled {
		w.log.Info().Msg("pruning_disabled")
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}

	w.log.Info().Dur("interval", interval).Msg("prune_worker_started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("prune_worker_stopped")
			return
		case <-ticker.C:
			w.Prune(ctx)
		}
	}
}

// Prune deletes passes older than the TTL and snapshots beyond the keep
// count. It returns the number of passes deleted.
func (w *PruneWorker) Prune(ctx context.Context) int64 {
	w.mu.RLock()
	cfg, archive := w.config, w.archive
	w.mu.RUnlock()

	if !cfg.Enabled {
		return 0
	}

	var deleted int64
	if cfg.PassTTL > 0 {
		n, err := w.store.PrunePasses(ctx, time.Now().UTC().Add(-cfg.PassTTL))
		if err != nil {
			w.log.Error().Err(err).Msg("prune_passes_failed")
		} else if n > 0 {
			deleted = n
			w.log.Info().Int64("deleted", n).Dur("ttl", cfg.PassTTL).Msg("passes_pruned")
		}
		if archive != nil {
			n, err := archive.Prune(ctx, time.Now().UTC().Add(-cfg.PassTTL))
			if err != nil {
				w.log.Error().Err(err).Msg("prune_archive_failed")
			} else if n > 0 {
				w.log.Info().Int64("deleted", n).Msg("archive_pruned")
			}
		}
	}

	if cfg.KeepSnapshots > 0 {
		n, err := w.store.PruneSnapshots(ctx, cfg.KeepSnapshots)
		if err != nil {
			w.log.Error().Err(err).Msg("prune_snapshots_failed")
		} else if n > 0 {
			w.log.Info().Int64("deleted", n).Int("keep", cfg.KeepSnapshots).Msg("snapshots_pruned")
		}
	}
	return deleted
}
