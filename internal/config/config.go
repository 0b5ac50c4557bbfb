// Package config assembles the runtime's deployment knobs the way the
// teacher's own entrypoint does: a small struct whose defaults are first
// overlaid by environment variables for the knobs an operator is more likely
// to set per-deployment than per-invocation (spec.md §6), then by go-arg
// command line flags, which take precedence over both.
package config

import (
	"os"
	"strconv"
)

// Config is every knob cmd/lumend needs to bring the runtime up.
type Config struct {
	TickHz          float64 `arg:"--tick-hz" help:"tick engine rate in Hz"`
	ArtnetEnabled   bool    `arg:"--artnet-enabled" help:"transmit Art-Net DMX over the network"`
	ArtnetBroadcast string  `arg:"--artnet-broadcast" help:"Art-Net broadcast address"`
	ArtnetPort      int     `arg:"--artnet-port" help:"Art-Net UDP port"`
	GatewayListen   string  `arg:"--gateway-listen" help:"address the WebSocket gateway listens on"`
	MetricsListen   string  `arg:"--metrics-listen" help:"address the Prometheus /metrics endpoint listens on"`
	DataDir         string  `arg:"--data-dir" help:"directory for any on-disk state (currently unused by the in-memory repository)"`
}

// Default returns the out-of-the-box configuration, before CLI flags or
// environment variables are applied.
func Default() Config {
	return Config{
		TickHz:          60,
		ArtnetEnabled:   true,
		ArtnetBroadcast: "2.255.255.255",
		ArtnetPort:      6454,
		GatewayListen:   "127.0.0.1:8080",
		MetricsListen:   "127.0.0.1:9233",
		DataDir:         "",
	}
}

// FromEnv overlays the TICK_HZ / ARTNET_BROADCAST / ARTNET_ENABLED /
// ARTNET_PORT / DATA_DIR environment variables onto cfg, exactly as the
// lacylights-go reference's ConfigFromEnv overlays its own DMX knobs: a
// flag wins if explicitly set, otherwise the environment, otherwise the
// default already baked into cfg.
func FromEnv(cfg Config) Config {
	if v := os.Getenv("TICK_HZ"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.TickHz = f
		}
	}
	if v := os.Getenv("ARTNET_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ArtnetEnabled = b
		}
	}
	if v := os.Getenv("ARTNET_BROADCAST"); v != "" {
		cfg.ArtnetBroadcast = v
	}
	if v := os.Getenv("ARTNET_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			cfg.ArtnetPort = p
		}
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	return cfg
}

// Version returns the version string reported in --version. Implementing
// this signature is part of go-arg's API for version flags, the same way
// the teacher's runnerArgs.Version does for its own entry point.
func (Config) Version() string { return "lumen " + buildVersion }

// buildVersion is overwritten at link time via -ldflags, same as the
// teacher's top-level `version` var.
var buildVersion = "dev"
