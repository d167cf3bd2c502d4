package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog"

	"github.com/rasto/lcmc-sub001/pkg/cib"
	"github.com/rasto/lcmc-sub001/pkg/remote"
)

// DefaultCIBCommand prints the full CIB, status section included.
const DefaultCIBCommand = "cibadmin --query"

// CIBConfig configures a CIBSource.
type CIBConfig struct {
	Hosts    []string
	Command  string
	Attempts uint
	Delay    time.Duration
}

// CIBSource queries the CIB on the first reachable cluster host.
type CIBSource struct {
	id   string
	exec remote.Executor
	cfg  CIBConfig
	log  zerolog.Logger

	mu       sync.Mutex
	lastGood string
	observer HostObserver
}

var _ Source = (*CIBSource)(nil)

// NewCIBSource creates a source querying cfg.Hosts through exec.
func NewCIBSource(id string, exec remote.Executor, cfg CIBConfig, log zerolog.Logger) *CIBSource {
	if cfg.Command == "" {
		cfg.Command = DefaultCIBCommand
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 2
	}
	if cfg.Delay == 0 {
		cfg.Delay = 500 * time.Millisecond
	}
	return &CIBSource{id: id, exec: exec, cfg: cfg, log: log}
}

func (s *CIBSource) ID() string {
	return s.id
}

// SetObserver registers the receiver of per-host reachability.
func (s *CIBSource) SetObserver(o HostObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = o
}

// hostOrder tries the last host that answered first, then the inventory
// order.
func (s *CIBSource) hostOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	hosts := slices.Clone(s.cfg.Hosts)
	if i := slices.Index(hosts, s.lastGood); i > 0 {
		hosts = append([]string{s.lastGood}, slices.Delete(hosts, i, i+1)...)
	}
	return hosts
}

func (s *CIBSource) observe(host string, err error) {
	s.mu.Lock()
	o := s.observer
	if err == nil {
		s.lastGood = host
	}
	s.mu.Unlock()
	if o != nil {
		o.ObserveHost(host, err, time.Now().UTC())
	}
}

func (s *CIBSource) Fetch(ctx context.Context) (Result, error) {
	hosts := s.hostOrder()
	if len(hosts) == 0 {
		return Result{}, fmt.Errorf("%w: no hosts configured", ErrStatusUnavailable)
	}

	var errs []error
	for _, host := range hosts {
		var out []byte
		err := retry.Do(
			func() error {
				var runErr error
				out, runErr = s.exec.Run(ctx, host, s.cfg.Command)
				return runErr
			},
			retry.Attempts(s.cfg.Attempts),
			retry.Delay(s.cfg.Delay),
			retry.DelayType(retry.FixedDelay),
			retry.Context(ctx),
			retry.LastErrorOnly(true),
			retry.RetryIf(func(err error) bool {
				// a command that ran and failed will fail again
				return remote.ExitCode(err) == 0
			}),
			retry.OnRetry(func(n uint, err error) {
				s.log.Debug().Str("host", host).Uint("attempt", n+1).Err(err).Msg("cib_fetch_retry")
			}),
		)
		s.observe(host, err)
		if err != nil {
			s.log.Warn().Str("host", host).Err(err).Msg("cib_fetch_failed")
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		snap, err := cib.Parse(bytes.NewReader(out))
		if err != nil {
			return Result{}, fmt.Errorf("%w: %s: %w", ErrStatusUnavailable, host, err)
		}
		return Result{
			SourceID:  s.id,
			Host:      host,
			Snapshot:  snap,
			Timestamp: time.Now().UTC(),
			Raw:       out,
		}, nil
	}
	return Result{}, fmt.Errorf("%w: %w", ErrStatusUnavailable, errors.Join(errs...))
}
