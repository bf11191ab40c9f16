package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() does not validate: %v", err)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg.ListenAddress != Default().ListenAddress {
		t.Errorf("listen address = %q, want default %q", cfg.ListenAddress, Default().ListenAddress)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "glacierd.yaml")
	doc := `
listen_address: "127.0.0.1:9000"
flake_ref: "github:glacieros/fleet#kiosk"
switch_command: ["nixos-rebuild", "switch"]
telemetry:
  logging:
    level: debug
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddress != "127.0.0.1:9000" {
		t.Errorf("listen address = %q, want 127.0.0.1:9000", cfg.ListenAddress)
	}
	if cfg.FlakeRef != "github:glacieros/fleet#kiosk" {
		t.Errorf("flake ref = %q", cfg.FlakeRef)
	}
	if len(cfg.SwitchCommand) != 2 {
		t.Errorf("switch command = %v", cfg.SwitchCommand)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Telemetry.Logging.Level)
	}
	// Untouched keys keep their defaults.
	if cfg.StateDir != Default().StateDir {
		t.Errorf("state dir = %q, want default", cfg.StateDir)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "empty listen address", doc: `listen_address: ""`},
		{name: "empty install command", doc: `install_command: []`},
		{name: "blank command word", doc: "switch_command: [\"\"]"},
		{name: "negative bus capacity", doc: `bus_capacity: -5`},
		{name: "bad telemetry level", doc: "telemetry:\n  logging:\n    level: loud"},
		{name: "not yaml", doc: `{{{{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "glacierd.yaml")
			if err := os.WriteFile(path, []byte(tt.doc), 0o600); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() accepted an invalid config")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() accepted a missing file")
	}
}
