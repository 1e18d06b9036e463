package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sergev/snap/device"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List serial ports of attached SNAP instruments",
	Long:  "List serial ports whose USB identity matches the configured VID:PID.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		vid, pid, err := conf.Device.IDs()
		cobra.CheckErr(err)

		ports, err := device.Scan(vid, pid)
		cobra.CheckErr(err)

		if len(ports) == 0 {
			fmt.Printf("No instrument found (VID=0x%04X PID=0x%04X)\n", vid, pid)
			return
		}
		for _, port := range ports {
			fmt.Printf("%s", port.Name)
			if port.Product != "" {
				fmt.Printf("  %s", port.Product)
			}
			if port.SerialNumber != "" {
				fmt.Printf("  serial %s", port.SerialNumber)
			}
			fmt.Printf("\n")
		}
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
