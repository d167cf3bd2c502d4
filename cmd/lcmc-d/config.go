package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rasto/lcmc-sub001/pkg/engine"
	"github.com/rasto/lcmc-sub001/pkg/remote"
	"github.com/rasto/lcmc-sub001/pkg/source"
)

const (
	defaultAddr         = "127.0.0.1:8095"
	defaultPollInterval = 10 * time.Second
)

type Config struct {
	DBPath       string
	Addr         string
	PollInterval time.Duration
	// PollTimeout bounds one status fetch; zero means the poll interval
	PollTimeout time.Duration
	ClusterFile string
	RedisAddr   string
	ArchiveDir  string
	HideOrphans bool
	Retention   bool
	TLSCertFile string
	TLSKeyFile  string
}

// Inventory describes how to reach the cluster. It is read from the YAML file
// named by LCMC_CLUSTER_FILE and re-read on SIGHUP.
type Inventory struct {
	Hosts            []string               `yaml:"hosts"`
	Local            bool                   `yaml:"local"`
	SSH              SSHInventory           `yaml:"ssh"`
	Commands         CommandInventory       `yaml:"commands"`
	Fetch            FetchInventory         `yaml:"fetch"`
	HideOrphans      *bool                  `yaml:"hide_orphans"`
	PollTimeout      time.Duration          `yaml:"poll_timeout"`
	HostTTL          time.Duration          `yaml:"host_ttl"`
	SnapshotInterval time.Duration          `yaml:"snapshot_interval"`
	Retention        engine.RetentionConfig `yaml:"retention"`
}

type SSHInventory struct {
	User           string        `yaml:"user"`
	Port           int           `yaml:"port"`
	KeyFile        string        `yaml:"key_file"`
	KnownHostsFile string        `yaml:"known_hosts_file"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
}

type CommandInventory struct {
	CIB string `yaml:"cib"`
}

type FetchInventory struct {
	Attempts uint          `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

func LoadConfig(args []string) (Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("failed to get cwd: %w", err)
	}

	dbPath := envOrDefault("LCMC_DB_PATH", filepath.Join(cwd, "lcmc.db"))
	addr := envOrDefault("LCMC_ADDR", defaultAddr)
	pollInterval := defaultPollInterval
	if v := os.Getenv("LCMC_POLL_INTERVAL"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LCMC_POLL_INTERVAL: %w", err)
		}
		if parsed <= 0 {
			return Config{}, errors.New("LCMC_POLL_INTERVAL must be positive")
		}
		pollInterval = parsed
	}
	var pollTimeout time.Duration
	if v := os.Getenv("LCMC_POLL_TIMEOUT"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LCMC_POLL_TIMEOUT: %w", err)
		}
		if parsed < 0 {
			return Config{}, errors.New("LCMC_POLL_TIMEOUT cannot be negative")
		}
		pollTimeout = parsed
	}
	hideOrphans, err := envBool("LCMC_HIDE_ORPHANS", true)
	if err != nil {
		return Config{}, err
	}
	retention, err := envBool("LCMC_RETENTION", true)
	if err != nil {
		return Config{}, err
	}

	flagSet := flag.NewFlagSet("lcmc-d", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagDB := flagSet.String("db", dbPath, "path to SQLite database")
	flagAddr := flagSet.String("addr", addr, "HTTP listen address")
	flagPollInterval := flagSet.String("poll-interval", pollInterval.String(), "cluster status poll interval")
	flagPollTimeout := flagSet.Duration("poll-timeout", pollTimeout, "bound on one status fetch (default: the poll interval)")
	flagCluster := flagSet.String("cluster", os.Getenv("LCMC_CLUSTER_FILE"), "cluster inventory YAML")
	flagRedis := flagSet.String("redis", os.Getenv("LCMC_REDIS_ADDR"), "redis address for the view mirror and apply lease")
	flagArchive := flagSet.String("archive-dir", os.Getenv("LCMC_ARCHIVE_DIR"), "directory for raw CIB documents of structure-changing passes")
	flagHideOrphans := flagSet.Bool("hide-orphans", hideOrphans, "drop resources the cluster reports as orphaned")
	flagRetention := flagSet.Bool("retention", retention, "prune old passes and snapshots")
	flagTLSCert := flagSet.String("tls-cert", os.Getenv("LCMC_TLS_CERT"), "TLS certificate file")
	flagTLSKey := flagSet.String("tls-key", os.Getenv("LCMC_TLS_KEY"), "TLS key file")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flagSet.SetOutput(os.Stdout)
			flagSet.PrintDefaults()
		}
		return Config{}, err
	}

	pollIntervalParsed, err := time.ParseDuration(*flagPollInterval)
	if err != nil {
		return Config{}, fmt.Errorf("invalid poll interval: %w", err)
	}
	if pollIntervalParsed <= 0 {
		return Config{}, errors.New("poll interval must be positive")
	}

	if *flagPollTimeout < 0 {
		return Config{}, errors.New("poll timeout cannot be negative")
	}

	config := Config{
		DBPath:       resolvePath(*flagDB, cwd),
		Addr:         strings.TrimSpace(*flagAddr),
		PollInterval: pollIntervalParsed,
		PollTimeout:  *flagPollTimeout,
		ClusterFile:  resolvePath(*flagCluster, cwd),
		RedisAddr:    strings.TrimSpace(*flagRedis),
		ArchiveDir:   resolvePath(*flagArchive, cwd),
		HideOrphans:  *flagHideOrphans,
		Retention:    *flagRetention,
		TLSCertFile:  resolvePath(*flagTLSCert, cwd),
		TLSKeyFile:   resolvePath(*flagTLSKey, cwd),
	}

	if config.Addr == "" {
		return Config{}, errors.New("addr cannot be empty")
	}
	if (config.TLSCertFile == "") != (config.TLSKeyFile == "") {
		return Config{}, errors.New("tls-cert and tls-key must be set together")
	}
	return config, nil
}

// LoadInventory reads path, or returns the local single-host inventory when
// path is empty.
func LoadInventory(path string, cfg Config) (Inventory, error) {
	inv := Inventory{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Inventory{}, fmt.Errorf("failed to read cluster file: %w", err)
		}
		if err := yaml.Unmarshal(data, &inv); err != nil {
			return Inventory{}, fmt.Errorf("failed to parse cluster file %s: %w", path, err)
		}
	} else {
		inv.Local = true
	}

	if inv.Local && len(inv.Hosts) == 0 {
		inv.Hosts = []string{"localhost"}
	}
	if len(inv.Hosts) == 0 {
		return Inventory{}, errors.New("cluster file lists no hosts")
	}
	if !inv.Local && inv.SSH.KeyFile == "" {
		return Inventory{}, errors.New("ssh.key_file is required for remote hosts")
	}
	if inv.Commands.CIB == "" {
		inv.Commands.CIB = source.DefaultCIBCommand
	}
	if inv.HostTTL <= 0 {
		inv.HostTTL = 3 * cfg.PollInterval
	}
	if inv.PollTimeout <= 0 {
		inv.PollTimeout = cfg.PollTimeout
	}
	if inv.PollTimeout <= 0 {
		inv.PollTimeout = cfg.PollInterval
	}
	if inv.SnapshotInterval <= 0 {
		inv.SnapshotInterval = time.Minute
	}

	defaults := engine.DefaultRetention()
	if inv.Retention.PassTTL <= 0 {
		inv.Retention.PassTTL = defaults.PassTTL
	}
	if inv.Retention.KeepSnapshots <= 0 {
		inv.Retention.KeepSnapshots = defaults.KeepSnapshots
	}
	if inv.Retention.CheckInterval <= 0 {
		inv.Retention.CheckInterval = defaults.CheckInterval
	}
	inv.Retention.Enabled = cfg.Retention

	if inv.HideOrphans == nil {
		inv.HideOrphans = &cfg.HideOrphans
	}
	return inv, nil
}

func (inv Inventory) SSHConfig() remote.SSHConfig {
	return remote.SSHConfig{
		User:           inv.SSH.User,
		Port:           inv.SSH.Port,
		KeyFile:        inv.SSH.KeyFile,
		KnownHostsFile: inv.SSH.KnownHostsFile,
		DialTimeout:    inv.SSH.DialTimeout,
	}
}

func (inv Inventory) CIBConfig() source.CIBConfig {
	return source.CIBConfig{
		Hosts:    inv.Hosts,
		Command:  inv.Commands.CIB,
		Attempts: inv.Fetch.Attempts,
		Delay:    inv.Fetch.Delay,
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envBool(key string, fallback bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func resolvePath(path string, cwd string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return trimmed
	}
	if filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(cwd, trimmed)
}
