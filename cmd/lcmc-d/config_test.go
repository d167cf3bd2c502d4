package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rasto/lcmc-sub001/pkg/crm"
	"github.com/rasto/lcmc-sub001/pkg/engine"
	"github.com/rasto/lcmc-sub001/pkg/reconcile"
	"github.com/rasto/lcmc-sub001/pkg/registry"
	"github.com/rasto/lcmc-sub001/pkg/source"
)

func TestLoadConfig_PollIntervalValidation(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		envVars     map[string]string
		expectError bool
		errorSubstr string
	}{
		{
			name: "valid poll interval from flag",
			args: []string{"-poll-interval", "5s"},
		},
		{
			name:        "zero poll interval from flag",
			args:        []string{"-poll-interval", "0s"},
			expectError: true,
			errorSubstr: "poll interval must be positive",
		},
		{
			name:    "valid poll interval from env",
			envVars: map[string]string{"LCMC_POLL_INTERVAL": "5s"},
		},
		{
			name:        "negative poll interval from env",
			envVars:     map[string]string{"LCMC_POLL_INTERVAL": "-5s"},
			expectError: true,
			errorSubstr: "LCMC_POLL_INTERVAL must be positive",
		},
		{
			name:        "invalid poll interval format from flag",
			args:        []string{"-poll-interval", "invalid"},
			expectError: true,
			errorSubstr: "invalid poll interval",
		},
		{
			name:        "invalid poll interval format from env",
			envVars:     map[string]string{"LCMC_POLL_INTERVAL": "invalid"},
			expectError: true,
			errorSubstr: "invalid LCMC_POLL_INTERVAL",
		},
		{
			name:        "negative poll timeout from env",
			envVars:     map[string]string{"LCMC_POLL_INTERVAL": "5s", "LCMC_POLL_TIMEOUT": "-1s"},
			expectError: true,
			errorSubstr: "LCMC_POLL_TIMEOUT cannot be negative",
		},
		{
			name:        "negative poll timeout from flag",
			args:        []string{"-poll-interval", "5s", "-poll-timeout", "-1s"},
			expectError: true,
			errorSubstr: "poll timeout cannot be negative",
		},
		{
			name:        "invalid bool from env",
			envVars:     map[string]string{"LCMC_HIDE_ORPHANS": "maybe"},
			expectError: true,
			errorSubstr: "invalid LCMC_HIDE_ORPHANS",
		},
		{
			name:        "tls needs both files",
			args:        []string{"-tls-cert", "cert.pem"},
			expectError: true,
			errorSubstr: "must be set together",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := LoadConfig(tt.args)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error containing %q, got nil", tt.errorSubstr)
				} else if !strings.Contains(err.Error(), tt.errorSubstr) {
					t.Errorf("expected error containing %q, got %q", tt.errorSubstr, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.PollInterval != 5*time.Second {
				t.Errorf("expected poll interval 5s, got %v", cfg.PollInterval)
			}
		})
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("LCMC_REDIS_ADDR", "127.0.0.1:6379")
	t.Setenv("LCMC_HIDE_ORPHANS", "false")

	cfg, err := LoadConfig([]string{"-db", "state/lcmc.db"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cwd, _ := os.Getwd()
	if cfg.DBPath != filepath.Join(cwd, "state/lcmc.db") {
		t.Errorf("expected db path resolved against cwd, got %s", cfg.DBPath)
	}
	if cfg.Addr != defaultAddr || cfg.PollInterval != defaultPollInterval {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.RedisAddr != "127.0.0.1:6379" || cfg.HideOrphans || !cfg.Retention {
		t.Errorf("unexpected env overrides: %+v", cfg)
	}
}

func TestLoadConfig_PollTimeout(t *testing.T) {
	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PollTimeout != 0 {
		t.Errorf("expected no poll timeout by default, got %v", cfg.PollTimeout)
	}

	t.Setenv("LCMC_POLL_TIMEOUT", "4s")
	if cfg, _ = LoadConfig(nil); cfg.PollTimeout != 4*time.Second {
		t.Errorf("expected poll timeout from env, got %v", cfg.PollTimeout)
	}
	if cfg, _ = LoadConfig([]string{"-poll-timeout", "7s"}); cfg.PollTimeout != 7*time.Second {
		t.Errorf("expected flag to win over env, got %v", cfg.PollTimeout)
	}
}

func TestLoadInventory(t *testing.T) {
	cfg := Config{PollInterval: 10 * time.Second, HideOrphans: true, Retention: true}

	t.Run("local default", func(t *testing.T) {
		inv, err := LoadInventory("", cfg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !inv.Local || len(inv.Hosts) != 1 || inv.Hosts[0] != "localhost" {
			t.Errorf("unexpected local inventory: %+v", inv)
		}
		if inv.Commands.CIB != source.DefaultCIBCommand || inv.HostTTL != 30*time.Second || inv.PollTimeout != 10*time.Second {
			t.Errorf("unexpected defaults: %+v", inv)
		}
		if !*inv.HideOrphans || inv.Retention != engine.DefaultRetention() {
			t.Errorf("unexpected defaults: %+v", inv)
		}
	})

	t.Run("yaml file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cluster.yaml")
		data := `
hosts: [alpha, beta]
ssh:
  user: hacluster
  port: 2222
  key_file: /etc/lcmc/id_ed25519
  dial_timeout: 3s
commands:
  cib: "cibadmin -Q -l"
fetch:
  attempts: 3
  delay: 250ms
hide_orphans: false
poll_timeout: 4s
retention:
  pass_ttl: 48h
  keep_snapshots: 2
`
		if err := os.WriteFile(path, []byte(data), 0644); err != nil {
			t.Fatal(err)
		}

		inv, err := LoadInventory(path, cfg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if inv.Local || len(inv.Hosts) != 2 || inv.Hosts[1] != "beta" {
			t.Errorf("unexpected hosts: %+v", inv)
		}
		ssh := inv.SSHConfig()
		if ssh.User != "hacluster" || ssh.Port != 2222 || ssh.DialTimeout != 3*time.Second {
			t.Errorf("unexpected ssh config: %+v", ssh)
		}
		cib := inv.CIBConfig()
		if cib.Command != "cibadmin -Q -l" || cib.Attempts != 3 || cib.Delay != 250*time.Millisecond {
			t.Errorf("unexpected cib config: %+v", cib)
		}
		if *inv.HideOrphans {
			t.Error("expected hide_orphans from the file to win")
		}
		if inv.PollTimeout != 4*time.Second {
			t.Errorf("expected poll_timeout from the file, got %v", inv.PollTimeout)
		}
		if inv.Retention.PassTTL != 48*time.Hour || inv.Retention.KeepSnapshots != 2 || inv.Retention.CheckInterval != time.Hour {
			t.Errorf("unexpected retention: %+v", inv.Retention)
		}
	})

	t.Run("poll timeout from config", func(t *testing.T) {
		withTimeout := cfg
		withTimeout.PollTimeout = 2 * time.Second
		inv, err := LoadInventory("", withTimeout)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if inv.PollTimeout != 2*time.Second {
			t.Errorf("expected poll timeout from config, got %v", inv.PollTimeout)
		}
	})

	t.Run("errors", func(t *testing.T) {
		dir := t.TempDir()
		cases := map[string]string{
			"no hosts":    "ssh:\n  key_file: /k\n",
			"missing key": "hosts: [alpha]\n",
			"bad yaml":    "hosts: [alpha\n",
		}
		for name, data := range cases {
			path := filepath.Join(dir, strings.ReplaceAll(name, " ", "_")+".yaml")
			os.WriteFile(path, []byte(data), 0644)
			if _, err := LoadInventory(path, cfg); err == nil {
				t.Errorf("%s: expected error", name)
			}
		}
		if _, err := LoadInventory(filepath.Join(dir, "missing.yaml"), cfg); err == nil {
			t.Error("expected error for a missing file")
		}
	})
}

func TestApplyInventory(t *testing.T) {
	snap := crm.NewMemorySnapshot().
		AddPrimitive("p1", crm.ResourceAgent{Class: "ocf", Provider: "heartbeat", Type: "Dummy"}, nil).
		AddPrimitive("p2", crm.ResourceAgent{Class: "ocf", Provider: "heartbeat", Type: "Dummy"}, nil).
		AddTopLevel("p1", "p2").
		MarkOrphaned("p2")

	eng := reconcile.NewEngine(registry.New(), nil, reconcile.Options{})
	p := engine.NewPoller(source.NewStaticSource("cluster", snap), eng, nil, time.Hour, zerolog.Nop())
	pruner := engine.NewPruneWorker(nil, engine.DefaultRetention(), zerolog.Nop())

	ctx := context.Background()
	if _, err := p.PollOnce(ctx); err != nil {
		t.Fatalf("PollOnce failed: %v", err)
	}
	if _, ok := eng.Registry().Get("p2"); !ok {
		t.Fatal("expected orphan p2 to be shown")
	}

	hide := true
	applyInventory(Inventory{HideOrphans: &hide, Retention: engine.RetentionConfig{}}, p, pruner)
	if _, err := p.PollOnce(ctx); err != nil {
		t.Fatalf("PollOnce failed: %v", err)
	}
	if _, ok := eng.Registry().Get("p2"); ok {
		t.Error("expected orphan p2 to be hidden after reload")
	}
}
