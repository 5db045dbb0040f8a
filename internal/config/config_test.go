package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "dev")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("port = %d, want 8080", cfg.Port)
	}
	if cfg.ReadLimit != 32768 {
		t.Fatalf("read limit = %d, want 32768", cfg.ReadLimit)
	}
	if cfg.DisconnectGrace != 2*time.Second {
		t.Fatalf("disconnect grace = %s, want 2s", cfg.DisconnectGrace)
	}
	if len(cfg.STUNServers) == 0 {
		t.Fatal("no default STUN servers")
	}
}

func TestLoadRejectsMalformedConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "dev")
	if err := os.MkdirAll("config", 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	bad := []byte("port:\n  nested: true\n")
	if err := os.WriteFile(filepath.Join("config", "config.dev.yaml"), bad, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := Load(); err == nil {
		t.Fatal("Load accepted a config whose port is not a number")
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "dev")
	if err := os.MkdirAll("config", 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	yaml := []byte("port: 9090\ndisconnect_grace: 5s\n")
	if err := os.WriteFile(filepath.Join("config", "config.dev.yaml"), yaml, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9090 {
		t.Fatalf("port = %d, want 9090", cfg.Port)
	}
	if cfg.DisconnectGrace != 5*time.Second {
		t.Fatalf("disconnect grace = %s, want 5s", cfg.DisconnectGrace)
	}
	// Values the file omits keep their defaults.
	if cfg.ReadLimit != 32768 {
		t.Fatalf("read limit = %d, want default 32768", cfg.ReadLimit)
	}
}
