package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glacieros/glacierd/pkg/sysinfo"
)

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run the system compatibility check locally",
		Example: `  # Human-readable check
  glacierd check

  # Machine-readable result
  glacierd check --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := sysinfo.NewCollector().Check(cmd.Context())
			if err != nil {
				return fmt.Errorf("system check: %w", err)
			}

			if jsonOutput {
				raw, err := json.MarshalIndent(result, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(raw))
			} else {
				s := result.Summary
				fmt.Printf("host:    %s\n", s.Hostname)
				fmt.Printf("os:      %s %s (kernel %s)\n", s.OSName, s.OSVersion, s.Kernel)
				fmt.Printf("cpu:     %s (%d cores, %s)\n", s.CPUModel, s.CPUCores, s.Arch)
				fmt.Printf("memory:  %d MB\n", s.MemoryMB)
				fmt.Printf("uefi:    %v\n", s.EFIBoot)
				if result.Compatible {
					fmt.Println("compatible: yes")
				} else {
					fmt.Println("compatible: no")
					for _, problem := range result.Problems {
						fmt.Printf("  - %s\n", problem)
					}
				}
			}

			if !result.Compatible {
				return fmt.Errorf("system is not compatible")
			}
			return nil
		},
	}
}
