package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glacieros/glacierd/pkg/sysinfo"
)

func newDisksCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disks",
		Short: "List candidate install disks",
		RunE: func(cmd *cobra.Command, args []string) error {
			disks, err := sysinfo.NewCollector().Disks(cmd.Context())
			if err != nil {
				return fmt.Errorf("enumerate disks: %w", err)
			}

			if jsonOutput {
				raw, err := json.MarshalIndent(disks, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(raw))
				return nil
			}

			if len(disks) == 0 {
				fmt.Println("no candidate install disks found")
				return nil
			}
			for _, disk := range disks {
				removable := ""
				if disk.Removable {
					removable = " (removable)"
				}
				fmt.Printf("%s  %d GB  %s%s\n",
					disk.Path, disk.SizeBytes/1e9, disk.Model, removable)
			}
			return nil
		},
	}
}
