package agent

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tunnelcast/internal/subdomain"
)

// Config holds the agent configuration.
type Config struct {
	Relay  RelayConfig  `yaml:"relay"`
	Auth   AuthConfig   `yaml:"auth"`
	Local  LocalConfig  `yaml:"local"`
	Egress EgressConfig `yaml:"egress"`
	Tunnel TunnelConfig `yaml:"tunnel"`
}

// RelayConfig specifies the relay endpoint, e.g. "wss://relay.example.com".
type RelayConfig struct {
	URL string `yaml:"url"`
}

// AuthConfig holds the shared secret presented at connect time.
type AuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// LocalConfig specifies the local http origin that tunnelled requests
// are forwarded to.
type LocalConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// EgressConfig optionally routes the control-channel dial through a
// socks5 or http connect proxy.
type EgressConfig struct {
	Proxy       string        `yaml:"proxy"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// TunnelConfig controls identity and reconnection behaviour.
type TunnelConfig struct {
	Subdomain            string        `yaml:"subdomain"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	MaxReconnectDelay    time.Duration `yaml:"max_reconnect_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	OriginTimeout        time.Duration `yaml:"origin_timeout"`
}

// DefaultConfig returns a config populated with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Local:  LocalConfig{Host: "localhost"},
		Egress: EgressConfig{DialTimeout: 10 * time.Second},
		Tunnel: TunnelConfig{
			ReconnectDelay:       1 * time.Second,
			MaxReconnectDelay:    16 * time.Second,
			MaxReconnectAttempts: 5,
			OriginTimeout:        30 * time.Second,
		},
	}
}

// LoadConfig reads and parses an agent configuration file.
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
	if c.Relay.URL == "" {
		return fmt.Errorf("relay.url is required")
	}
	if c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required")
	}
	if c.Local.Port <= 0 || c.Local.Port > 65535 {
		return fmt.Errorf("local.port must be a valid tcp port")
	}
	if c.Tunnel.Subdomain != "" && !subdomain.Valid(c.Tunnel.Subdomain) {
		return fmt.Errorf("tunnel.subdomain %q is not a valid label", c.Tunnel.Subdomain)
	}
	if c.Tunnel.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("tunnel.max_reconnect_attempts must be positive")
	}
	return nil
}
