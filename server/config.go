package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the broker daemon settings, loaded from YAML.
type Config struct {
	// Listen is the TCP address for the wire protocol, e.g. ":4444".
	Listen string `yaml:"listen"`
	// Web is the address of the HTTP status API and WebSocket endpoint.
	// Empty disables it.
	Web string `yaml:"web"`
	// Announce enables mDNS advertisement on the local network.
	Announce bool `yaml:"announce"`
	// PingIntervalSeconds is the keep-alive ping period. A client that
	// stays silent for three periods is dropped.
	PingIntervalSeconds int `yaml:"ping_interval"`
	// MaxClients limits concurrent connections.
	MaxClients int `yaml:"max_clients"`
}

func DefaultConfig() Config {
	return Config{
		Listen:              ":4444",
		Web:                 ":8080",
		PingIntervalSeconds: 30,
		MaxClients:          64,
	}
}

// LoadConfig reads a YAML file over the defaults. A missing path returns
// the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.PingIntervalSeconds <= 0 {
		return fmt.Errorf("ping_interval must be positive")
	}
	if c.MaxClients <= 0 {
		return fmt.Errorf("max_clients must be positive")
	}
	return nil
}

func (c Config) pingInterval() time.Duration {
	return time.Duration(c.PingIntervalSeconds) * time.Second
}
