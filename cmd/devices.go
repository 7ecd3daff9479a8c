/*
Copyright © 2025 jesse galley <jesse@jessegalley.net>
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jessegalley/ioprobe/internal/devices"
	"github.com/jessegalley/ioprobe/internal/dio"
)

// devicesCmd represents the devices command
var devicesCmd = &cobra.Command{
	Use:   "devices [path]",
	Short: "List block devices and their sector sizes.",
	Long: `List the host's block devices with their physical sector size and mounted
partitions. With a path, also print the alignment --auto-align would use
for it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		devs, err := devices.List()
		if err != nil {
			return err
		}
		devices.Fprint(os.Stdout, devs)

		if len(args) == 1 {
			fmt.Printf("Alignment for %s: %d\n", args[0], devices.AlignmentFor(devs, args[0], dio.DefaultAlignment))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
