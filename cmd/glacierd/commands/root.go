package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "glacierd",
		Short: "Glacier appliance install and update daemon",
		Long: `glacierd provisions and updates a NixOS-based appliance.

It runs in two modes: the install daemon drives first-boot provisioning
(system check, disk selection, privileged install build), and the switch
daemon updates an already installed appliance to a new configuration.
Both serve the same JSON wire protocol; any number of observers can
connect, watch progress, and issue commands.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInstallDaemonCommand(version))
	rootCmd.AddCommand(newSwitchDaemonCommand(version))
	rootCmd.AddCommand(newCheckCommand())
	rootCmd.AddCommand(newDisksCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}
