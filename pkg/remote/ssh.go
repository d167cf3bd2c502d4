package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig describes how to reach cluster hosts.
type SSHConfig struct {
	User           string
	Port           int
	KeyFile        string
	KnownHostsFile string // empty disables host key checking
	DialTimeout    time.Duration
}

// SSHExecutor runs commands over SSH, keeping one client per host.
type SSHExecutor struct {
	cfg     SSHConfig
	auth    []ssh.AuthMethod
	hostKey ssh.HostKeyCallback
	log     zerolog.Logger

	mu      sync.Mutex
	clients map[string]*ssh.Client
}

var _ Executor = (*SSHExecutor)(nil)

// NewSSHExecutor loads the private key and known hosts named by cfg.
func NewSSHExecutor(cfg SSHConfig, log zerolog.Logger) (*SSHExecutor, error) {
	if cfg.User == "" {
		cfg.User = "root"
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	key, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", cfg.KeyFile, err)
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsFile != "" {
		if hostKey, err = knownhosts.New(cfg.KnownHostsFile); err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
	}

	return &SSHExecutor{
		cfg:     cfg,
		auth:    []ssh.AuthMethod{ssh.PublicKeys(signer)},
		hostKey: hostKey,
		log:     log,
		clients: make(map[string]*ssh.Client),
	}, nil
}

func (s *SSHExecutor) client(host string) (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[host]; ok {
		return c, nil
	}
	addr := net.JoinHostPort(host, strconv.Itoa(s.cfg.Port))
	c, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            s.auth,
		HostKeyCallback: s.hostKey,
		Timeout:         s.cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	s.clients[host] = c
	return c, nil
}

// drop forgets a broken client so the next call redials.
func (s *SSHExecutor) drop(host string, c *ssh.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[host] == c {
		delete(s.clients, host)
		_ = c.Close()
	}
}

// Run executes command on host. Cancelling ctx closes the session.
func (s *SSHExecutor) Run(ctx context.Context, host, command string) ([]byte, error) {
	if command == "" {
		return nil, ErrEmptyCommand
	}
	c, err := s.client(host)
	if err != nil {
		return nil, err
	}
	session, err := c.NewSession()
	if err != nil {
		s.drop(host, c)
		return nil, fmt.Errorf("open session on %s: %w", host, err)
	}
	defer session.Close()

	// the session copies each stream from its own goroutine
	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = session.Close()
		<-done
		return nil, ctx.Err()
	case err = <-done:
	}

	if err != nil {
		var ee *ssh.ExitError
		if errors.As(err, &ee) {
			ec := ee.Waitmsg.ExitStatus()
			s.log.Debug().
				Int("exitcode", ec).
				Str("cmd", command).
				Str("host", host).
				Str("stderr", stderr.String()).
				Msg("rexec_failed")
			return stdout.Bytes(), &ExitError{Host: host, Command: command, Code: ec, Output: stderr.Bytes()}
		}
		s.drop(host, c)
		return stdout.Bytes(), fmt.Errorf("run on %s: %w", host, err)
	}
	if stderr.Len() > 0 {
		s.log.Debug().Str("cmd", command).Str("host", host).Str("stderr", stderr.String()).Msg("rexec_stderr")
	}
	return stdout.Bytes(), nil
}

// Close shuts every open connection.
func (s *SSHExecutor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for host, c := range s.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", host, err))
		}
		delete(s.clients, host)
	}
	return errors.Join(errs...)
}
