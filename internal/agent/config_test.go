package agent

import "testing"

func _valid_config() *Config {
	cfg := DefaultConfig()
	cfg.Relay.URL = "wss://relay.example.com"
	cfg.Auth.APIKey = "sk_test_key_123"
	cfg.Local.Port = 3000
	return cfg
}

func Test_validate_accepts_complete_config(t *testing.T) {
	if err := _valid_config().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func Test_validate_requires_relay_url(t *testing.T) {
	cfg := _valid_config()
	cfg.Relay.URL = ""
	if cfg.Validate() == nil {
		t.Fatal("missing relay url must be fatal")
	}
}

func Test_validate_requires_api_key(t *testing.T) {
	cfg := _valid_config()
	cfg.Auth.APIKey = ""
	if cfg.Validate() == nil {
		t.Fatal("missing api key must be fatal")
	}
}

func Test_validate_requires_local_port(t *testing.T) {
	cfg := _valid_config()
	cfg.Local.Port = 0
	if cfg.Validate() == nil {
		t.Fatal("missing local port must be fatal")
	}
}

func Test_validate_rejects_bad_preferred_subdomain(t *testing.T) {
	cfg := _valid_config()
	cfg.Tunnel.Subdomain = "Bad_Label"
	if cfg.Validate() == nil {
		t.Fatal("invalid preferred subdomain must be rejected")
	}
}

func Test_default_local_host(t *testing.T) {
	if DefaultConfig().Local.Host != "localhost" {
		t.Errorf("default local host: %q", DefaultConfig().Local.Host)
	}
}
