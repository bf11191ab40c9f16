// Package config loads and validates the glacierd daemon configuration.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/glacieros/glacierd/pkg/telemetry"
)

// Config is the daemon configuration. Zero values fall back to Default().
type Config struct {
	// ListenAddress is where the wire protocol is served.
	ListenAddress string `yaml:"listen_address" validate:"required"`

	// StateDir holds the appliance record database.
	StateDir string `yaml:"state_dir" validate:"required"`

	// FlakeRef is the Nix flake reference the appliance is built from.
	FlakeRef string `yaml:"flake_ref" validate:"required"`

	// ConfigPath is the appliance configuration file watched by the
	// switch daemon. Empty disables the watcher.
	ConfigPath string `yaml:"config_path"`

	// InstallCommand is the privileged build-and-install command line.
	InstallCommand []string `yaml:"install_command" validate:"min=1,dive,required"`

	// SwitchCommand is the build-and-switch command line.
	SwitchCommand []string `yaml:"switch_command" validate:"min=1,dive,required"`

	// RebootCommand is run for the Reboot command.
	RebootCommand []string `yaml:"reboot_command" validate:"min=1,dive,required"`

	// BusCapacity is the per-subscriber event buffer; 0 selects the
	// default.
	BusCapacity int `yaml:"bus_capacity" validate:"gte=0"`

	// Telemetry configures logging, metrics, and tracing.
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Default returns the daemon defaults.
func Default() Config {
	return Config{
		ListenAddress: ":7712",
		StateDir:      "/var/lib/glacierd",
		FlakeRef:      "/etc/glacier/flake#appliance",
		ConfigPath:    "/etc/glacier/configuration.nix",
		InstallCommand: []string{
			"glacier-install", "--flake", "/etc/glacier/flake#appliance",
		},
		SwitchCommand: []string{
			"nixos-rebuild", "switch", "--flake", "/etc/glacier/flake#appliance",
		},
		RebootCommand: []string{"systemctl", "reboot"},
		Telemetry:     telemetry.DefaultConfig(),
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration, including the telemetry section.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	return c.Telemetry.Validate()
}
