package monitoring

import (
	"fmt"
	"net"
	"strings"
)

// Config holds configuration for the metrics endpoint
type Config struct {
	Enabled bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr"    yaml:"addr"    mapstructure:"addr"`
	Path    string `json:"path"    yaml:"path"    mapstructure:"path"`
}

// DefaultConfig returns default monitoring configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled: false,
		Path:    "/metrics",
	}
}

// FromAddr enables monitoring when addr is set.
func FromAddr(addr string) *Config {
	cfg := DefaultConfig()
	cfg.Addr = strings.TrimSpace(addr)
	cfg.Enabled = cfg.Addr != ""
	return cfg
}

// Validate validates the monitoring configuration
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("monitoring path cannot be empty")
	}
	if c.Path[0] != '/' {
		return fmt.Errorf("monitoring path must start with '/': got %s", c.Path)
	}
	if strings.ContainsRune(c.Path, '?') {
		return fmt.Errorf("monitoring path cannot contain query parameters")
	}
	if c.Enabled && c.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Addr); err != nil {
			return fmt.Errorf("invalid monitoring address %q: %w", c.Addr, err)
		}
	}
	return nil
}
