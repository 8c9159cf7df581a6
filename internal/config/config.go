// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"net"

	"github.com/caarlos0/env/v11"
)

// Config is the full set of service knobs. Every field has a default; the
// zero environment yields a working local setup.
type Config struct {
	DataDir      string `env:"GAMEPORT_DATA_DIR" envDefault:"data"`
	Addr         string `env:"GAMEPORT_ADDR"      envDefault:":8090"`
	PublicURL    string `env:"GAMEPORT_PUBLIC_URL"`
	StreamFPS    int    `env:"GAMEPORT_STREAM_FPS" envDefault:"15"`
	WarmupTicks  int    `env:"GAMEPORT_WARMUP_TICKS" envDefault:"60"`
	MaxTicks     int    `env:"GAMEPORT_MAX_TICKS" envDefault:"600"`
	MCPTransport string `env:"GAMEPORT_MCP_TRANSPORT" envDefault:"http"`
	LogLevel     string `env:"GAMEPORT_LOG_LEVEL" envDefault:"info"`
}

// Load parses and validates the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.StreamFPS <= 0 {
		return fmt.Errorf("GAMEPORT_STREAM_FPS must be positive, got %d", c.StreamFPS)
	}
	if c.WarmupTicks < 0 {
		return fmt.Errorf("GAMEPORT_WARMUP_TICKS must not be negative, got %d", c.WarmupTicks)
	}
	if c.MaxTicks <= 0 {
		return fmt.Errorf("GAMEPORT_MAX_TICKS must be positive, got %d", c.MaxTicks)
	}
	switch c.MCPTransport {
	case "http", "stdio":
	default:
		return fmt.Errorf("GAMEPORT_MCP_TRANSPORT must be http or stdio, got %q", c.MCPTransport)
	}
	return nil
}

// StreamURL is the externally reachable viewer page, derived from Addr when
// no public URL is configured.
func (c Config) StreamURL() string {
	if c.PublicURL != "" {
		return c.PublicURL + "/stream"
	}
	host, port, err := net.SplitHostPort(c.Addr)
	if err != nil {
		return "http://localhost" + c.Addr + "/stream"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + "/stream"
}
