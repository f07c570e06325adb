package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type testBrokerSection struct {
	FrontendAddr       string   `yaml:"frontend_addr"`
	BackendAddr        string   `yaml:"backend_addr"`
	HeartbeatInterval  Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout   Duration `yaml:"heartbeat_timeout"`
	MaxPendingRequests int      `yaml:"max_pending_requests"`
}

type testFileConfig struct {
	Broker  testBrokerSection `yaml:"broker"`
	Monitor struct {
		Addr string `yaml:"addr"`
	} `yaml:"monitor"`
	Methods []string `yaml:"methods"`
	Debug   bool     `yaml:"debug"`
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tacore.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	path := writeTempConfig(t, `
broker:
  frontend_addr: ":5555"
  backend_addr: ":5556"
  heartbeat_interval: 1s
  heartbeat_timeout: 3s
  max_pending_requests: 100
monitor:
  addr: ":8080"
methods:
  - scan.market
  - execute.order
debug: true
`)

	var cfg testFileConfig
	if err := Load(path, &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Broker.FrontendAddr != ":5555" || cfg.Broker.BackendAddr != ":5556" {
		t.Fatalf("addresses mismatch: %+v", cfg.Broker)
	}
	if cfg.Broker.HeartbeatInterval.Std() != time.Second {
		t.Fatalf("heartbeat_interval = %s", cfg.Broker.HeartbeatInterval)
	}
	if cfg.Broker.HeartbeatTimeout.Std() != 3*time.Second {
		t.Fatalf("heartbeat_timeout = %s", cfg.Broker.HeartbeatTimeout)
	}
	if cfg.Broker.MaxPendingRequests != 100 {
		t.Fatalf("max_pending_requests = %d", cfg.Broker.MaxPendingRequests)
	}
	if len(cfg.Methods) != 2 || cfg.Methods[1] != "execute.order" {
		t.Fatalf("methods mismatch: %v", cfg.Methods)
	}
	if !cfg.Debug {
		t.Fatalf("debug not set")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	var cfg testFileConfig
	if err := Load(filepath.Join(t.TempDir(), "absent.yaml"), &cfg); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestDurationBareNumberIsSeconds(t *testing.T) {
	t.Parallel()

	path := writeTempConfig(t, `
broker:
  heartbeat_interval: 3
  heartbeat_timeout: 2.5
`)

	var cfg testFileConfig
	if err := Load(path, &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Broker.HeartbeatInterval.Std() != 3*time.Second {
		t.Fatalf("bare int = %s, want 3s", cfg.Broker.HeartbeatInterval)
	}
	if cfg.Broker.HeartbeatTimeout.Std() != 2500*time.Millisecond {
		t.Fatalf("bare float = %s, want 2.5s", cfg.Broker.HeartbeatTimeout)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("TACORE_BROKER_FRONTEND_ADDR", ":7777")
	t.Setenv("TACORE_BROKER_HEARTBEAT_TIMEOUT", "10s")
	t.Setenv("TACORE_BROKER_MAX_PENDING_REQUESTS", "5")
	t.Setenv("TACORE_METHODS", "health.check, evaluate.risk")
	t.Setenv("TACORE_DEBUG", "true")

	cfg := testFileConfig{
		Broker: testBrokerSection{
			FrontendAddr:     ":5555",
			BackendAddr:      ":5556",
			HeartbeatTimeout: Duration(3 * time.Second),
		},
	}
	if err := ApplyEnvOverrides("TACORE", &cfg); err != nil {
		t.Fatalf("ApplyEnvOverrides: %v", err)
	}

	if cfg.Broker.FrontendAddr != ":7777" {
		t.Fatalf("env override lost: %q", cfg.Broker.FrontendAddr)
	}
	if cfg.Broker.BackendAddr != ":5556" {
		t.Fatalf("unset env must not clobber: %q", cfg.Broker.BackendAddr)
	}
	if cfg.Broker.HeartbeatTimeout.Std() != 10*time.Second {
		t.Fatalf("duration override = %s", cfg.Broker.HeartbeatTimeout)
	}
	if cfg.Broker.MaxPendingRequests != 5 {
		t.Fatalf("int override = %d", cfg.Broker.MaxPendingRequests)
	}
	if len(cfg.Methods) != 2 || cfg.Methods[1] != "evaluate.risk" {
		t.Fatalf("slice override = %v", cfg.Methods)
	}
	if !cfg.Debug {
		t.Fatalf("bool override lost")
	}
}

func TestApplyEnvOverridesRejectsNonPointer(t *testing.T) {
	t.Parallel()

	if err := ApplyEnvOverrides("TACORE", testFileConfig{}); err == nil {
		t.Fatalf("expected error for non-pointer target")
	}
}

func TestLoadWithEnv(t *testing.T) {
	t.Setenv("TACORE_BROKER_FRONTEND_ADDR", ":9999")

	path := writeTempConfig(t, `
broker:
  frontend_addr: ":5555"
  backend_addr: ":5556"
`)

	var cfg testFileConfig
	if err := LoadWithEnv(path, "TACORE", &cfg); err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if cfg.Broker.FrontendAddr != ":9999" {
		t.Fatalf("env must win over file: %q", cfg.Broker.FrontendAddr)
	}
	if cfg.Broker.BackendAddr != ":5556" {
		t.Fatalf("file value lost: %q", cfg.Broker.BackendAddr)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	nonEmpty := ValidatorFunc(func(config interface{}) error {
		c := config.(*testFileConfig)
		if c.Broker.FrontendAddr == "" {
			return errors.New("frontend_addr required")
		}
		return nil
	})

	good := &testFileConfig{Broker: testBrokerSection{FrontendAddr: ":5555"}}
	if err := Validate(good, nonEmpty); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if err := Validate(&testFileConfig{}, nonEmpty); err == nil {
		t.Fatalf("expected validation error")
	}
}
