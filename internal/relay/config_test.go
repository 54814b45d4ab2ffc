package relay

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func _write_config(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func Test_load_config_applies_defaults(t *testing.T) {
	path := _write_config(t, `
auth:
  secrets: ["sk_test_key_123"]
tunnel:
  base_domain: tunnel.test.local
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Tunnel.Path != "/tunnel" {
		t.Errorf("default tunnel path: %q", cfg.Tunnel.Path)
	}
	if cfg.Tunnel.MaxTunnels != 10 {
		t.Errorf("default max tunnels: %d", cfg.Tunnel.MaxTunnels)
	}
	if cfg.Tunnel.PingInterval != 30*time.Second || cfg.Tunnel.RequestTimeout != 30*time.Second {
		t.Errorf("default intervals: %v / %v", cfg.Tunnel.PingInterval, cfg.Tunnel.RequestTimeout)
	}
	if cfg.Tunnel.MaxBodyBytes != 10<<20 {
		t.Errorf("default body cap: %d", cfg.Tunnel.MaxBodyBytes)
	}
}

func Test_load_config_requires_secrets(t *testing.T) {
	path := _write_config(t, `
tunnel:
  base_domain: tunnel.test.local
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("empty secret set must be a fatal misconfiguration")
	}
}

func Test_load_config_requires_base_domain(t *testing.T) {
	path := _write_config(t, `
auth:
  secrets: ["sk_test_key_123"]
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("missing base domain must be fatal")
	}
}
