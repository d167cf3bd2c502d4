package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/rasto/lcmc-sub001/pkg/api"
	"github.com/rasto/lcmc-sub001/pkg/blob"
	"github.com/rasto/lcmc-sub001/pkg/engine"
	"github.com/rasto/lcmc-sub001/pkg/graph"
	"github.com/rasto/lcmc-sub001/pkg/logging"
	"github.com/rasto/lcmc-sub001/pkg/reconcile"
	"github.com/rasto/lcmc-sub001/pkg/registry"
	"github.com/rasto/lcmc-sub001/pkg/remote"
	"github.com/rasto/lcmc-sub001/pkg/source"
	"github.com/rasto/lcmc-sub001/pkg/store"
	redisstore "github.com/rasto/lcmc-sub001/pkg/store/redis"
)

func main() {
	root := logging.Root(logging.FromEnv())
	log := logging.Component(root, "lcmc-d")

	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatal().Err(err).Msg("invalid_config")
	}
	if err := run(cfg, root); err != nil {
		log.Fatal().Err(err).Msg("daemon_failed")
	}
}

func run(cfg Config, root zerolog.Logger) error {
	log := logging.Component(root, "lcmc-d")
	log.Info().Msg("system_started")

	inv, err := LoadInventory(cfg.ClusterFile, cfg)
	if err != nil {
		return err
	}

	st, err := store.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to init store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("failed_to_close_store")
		} else {
			log.Info().Msg("store_closed")
		}
	}()
	log.Info().Str("path", cfg.DBPath).Msg("store_initialized")

	var exec remote.Executor = &remote.LocalExecutor{}
	if !inv.Local {
		sshExec, err := remote.NewSSHExecutor(inv.SSHConfig(), logging.Component(root, "ssh"))
		if err != nil {
			return err
		}
		defer sshExec.Close()
		exec = sshExec
	}

	topo := engine.NewHostTopology(inv.Hosts...)
	src := source.NewCIBSource("cluster", exec, inv.CIBConfig(), logging.Component(root, "source"))
	src.SetObserver(topo)

	g := graph.NewView()
	eng := reconcile.NewEngine(registry.New(), g, reconcile.Options{
		HideOrphans: *inv.HideOrphans,
		Logger:      logging.Component(root, "reconcile"),
	})
	poller := engine.NewPoller(src, eng, nil, cfg.PollInterval, logging.Component(root, "poller"))
	poller.SetTimeout(inv.PollTimeout)
	poller.SetJournal(st)
	poller.OnStructureChanged(func(v *registry.View, res reconcile.Result) {
		log.Info().
			Uint64("seq", v.Seq).
			Int("nodes", len(v.Nodes)).
			Strs("added", res.Added).
			Strs("removed", res.Removed).
			Msg("structure_changed")
	})

	var archive *blob.StatusArchive
	if cfg.ArchiveDir != "" {
		archive = blob.NewStatusArchive(blob.NewLocalBlobStore(cfg.ArchiveDir))
		poller.SetArchive(archive)
		log.Info().Str("dir", cfg.ArchiveDir).Msg("status_archive_enabled")
	}

	var leases store.LeaseStore = st
	if cfg.RedisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		poller.SetSink(redisstore.NewViewMirror(rdb, logging.Component(root, "redis")))
		leases = redisstore.NewLeaseStore(rdb)
		log.Info().Str("addr", cfg.RedisAddr).Msg("redis_mirror_enabled")
	} else {
		poller.SetSink(engine.NewMemorySink())
	}

	console := engine.NewConsole(poller, g, engine.ConsoleConfig{
		Hosts:    inv.Hosts,
		Executor: exec,
		Leases:   leases,
		Topology: topo,
	}, logging.Component(root, "console"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// locally created nodes are restored on top of the first pass so their
	// cluster parents already exist
	if _, err := poller.PollOnce(ctx); err != nil {
		log.Warn().Err(err).Msg("initial_poll_failed")
	}
	restored, err := engine.RestoreLocalNodes(ctx, st, poller)
	if err != nil {
		log.Error().Err(err).Msg("restore_failed")
	} else if len(restored) > 0 {
		log.Info().Strs("nodes", restored).Msg("local_nodes_restored")
	}

	var wg sync.WaitGroup
	goRun := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	goRun(poller.Start)
	goRun(engine.NewSnapshotWorker(st, poller, inv.SnapshotInterval, logging.Component(root, "snapshot")).Run)
	pruner := engine.NewPruneWorker(st, inv.Retention, logging.Component(root, "prune"))
	if archive != nil {
		pruner.SetArchive(archive)
	}
	goRun(pruner.Run)

	srv := api.NewServer(api.Deps{
		Views:   eng.Registry(),
		Poller:  poller,
		Console: console,
		Graph:   g,
		Passes:  st,
		Hosts:   topo,
		Reports: st,
		HostTTL: inv.HostTTL,
		Logger:  logging.Component(root, "api"),
	}, cfg.Addr)
	if cfg.TLSCertFile != "" {
		srv.SetTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
	}
	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	var runErr error
loop:
	for {
		select {
		case sig := <-sigs:
			if sig == syscall.SIGHUP {
				reload(cfg, inv, poller, pruner, log)
				continue
			}
			log.Info().Str("signal", sig.String()).Msg("shutdown_initiated")
			break loop
		case err := <-srvErr:
			if err != nil {
				runErr = fmt.Errorf("api server: %w", err)
			}
			break loop
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server_shutdown_failed")
	}
	cancel()
	wg.Wait()

	log.Info().Msg("shutdown_complete")
	return runErr
}

// reload re-reads the inventory and applies the settings that can change
// without a restart. Host and transport changes need a restart.
func reload(cfg Config, current Inventory, p *engine.Poller, pruner *engine.PruneWorker, log zerolog.Logger) {
	next, err := LoadInventory(cfg.ClusterFile, cfg)
	if err != nil {
		log.Error().Err(err).Msg("reload_failed")
		return
	}
	applyInventory(next, p, pruner)
	if !slices.Equal(current.Hosts, next.Hosts) || current.SSH != next.SSH || current.Local != next.Local {
		log.Warn().Msg("reload_requires_restart_for_hosts")
	}
	log.Info().Bool("hide_orphans", *next.HideOrphans).Msg("config_reloaded")
}

func applyInventory(inv Inventory, p *engine.Poller, pruner *engine.PruneWorker) {
	p.Lock().Do("reload", func() {
		p.Engine().SetHideOrphans(*inv.HideOrphans)
	})
	p.SetTimeout(inv.PollTimeout)
	pruner.UpdateConfig(inv.Retention)
	p.Trigger()
}
