package config

import (
	"os"
	"testing"
)

func TestConfigT1_DefaultMatchesDocumentedDefaults(t *testing.T) {
	cfg := Default()
	if cfg.TickHz != 60 {
		t.Fatalf("expected default tick rate 60, got %v", cfg.TickHz)
	}
	if cfg.ArtnetBroadcast != "2.255.255.255" {
		t.Fatalf("expected default Art-Net broadcast 2.255.255.255, got %v", cfg.ArtnetBroadcast)
	}
	if !cfg.ArtnetEnabled {
		t.Fatalf("expected Art-Net enabled by default")
	}
}

func TestConfigT2_FromEnvOverlaysOnlySetVariables(t *testing.T) {
	os.Setenv("TICK_HZ", "120")
	os.Setenv("ARTNET_BROADCAST", "10.0.0.255")
	defer os.Unsetenv("TICK_HZ")
	defer os.Unsetenv("ARTNET_BROADCAST")

	cfg := FromEnv(Default())
	if cfg.TickHz != 120 {
		t.Fatalf("expected TICK_HZ to overlay to 120, got %v", cfg.TickHz)
	}
	if cfg.ArtnetBroadcast != "10.0.0.255" {
		t.Fatalf("expected ARTNET_BROADCAST to overlay, got %v", cfg.ArtnetBroadcast)
	}
	if cfg.ArtnetPort != 6454 {
		t.Fatalf("expected unset ARTNET_PORT to leave the default untouched, got %v", cfg.ArtnetPort)
	}
}

func TestConfigT3_FromEnvIgnoresInvalidTickHz(t *testing.T) {
	os.Setenv("TICK_HZ", "not-a-number")
	defer os.Unsetenv("TICK_HZ")

	cfg := FromEnv(Default())
	if cfg.TickHz != 60 {
		t.Fatalf("expected an unparsable TICK_HZ to leave the default untouched, got %v", cfg.TickHz)
	}
}
