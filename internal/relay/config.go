package relay

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the relay server configuration.
type Config struct {
	Listen ListenConfig `yaml:"listen"`
	Auth   AuthConfig   `yaml:"auth"`
	Tunnel TunnelConfig `yaml:"tunnel"`
}

// ListenConfig specifies the address to bind on. tls termination and
// public routing belong to the fronting proxy, so this is plain http,
// normally on loopback.
type ListenConfig struct {
	Addr string `yaml:"addr"`
}

// AuthConfig holds the set of accepted agent shared secrets.
type AuthConfig struct {
	Secrets []string `yaml:"secrets"`
}

// TunnelConfig controls tunnel behaviour.
type TunnelConfig struct {
	Path           string        `yaml:"path"`
	BaseDomain     string        `yaml:"base_domain"`
	MaxTunnels     int           `yaml:"max_tunnels"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

// DefaultConfig returns a config populated with the documented defaults.
// the base domain and secret set have no defaults and must be supplied.
func DefaultConfig() *Config {
	return &Config{
		Listen: ListenConfig{Addr: "127.0.0.1:8080"},
		Tunnel: TunnelConfig{
			Path:           "/tunnel",
			MaxTunnels:     10,
			PingInterval:   30 * time.Second,
			RequestTimeout: 30 * time.Second,
			MaxBodyBytes:   10 << 20,
		},
	}
}

// LoadConfig reads and parses a relay configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if len(c.Auth.Secrets) == 0 {
		return fmt.Errorf("auth.secrets must list at least one shared secret")
	}
	for _, s := range c.Auth.Secrets {
		if s == "" {
			return fmt.Errorf("auth.secrets must not contain empty entries")
		}
	}
	if c.Tunnel.BaseDomain == "" {
		return fmt.Errorf("tunnel.base_domain is required")
	}
	if c.Tunnel.MaxTunnels <= 0 {
		return fmt.Errorf("tunnel.max_tunnels must be positive")
	}
	return nil
}
