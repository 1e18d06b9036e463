package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sergev/snap/config"
	"github.com/sergev/snap/device"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the status of the instrument",
	Long:  "Check that the SNAP instrument answers and print its identity and settings.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		dev, err := openDevice()
		cobra.CheckErr(err)
		defer dev.Close()

		dev.PrintStatus(os.Stdout)

		if !emulate {
			vid, pid, _ := conf.Device.IDs()
			info, err := device.USBStrings(vid, pid)
			if err != nil {
				log.Debugf("USB descriptors not available: %v", err)
			} else {
				fmt.Printf("USB: bus %d address %d, %s speed\n", info.Bus, info.Address, info.Speed)
				fmt.Printf("Manufacturer: %s\n", info.Manufacturer)
			}
		}

		acq := conf.Acquisition
		mode := acq.Mode
		if mode == "" {
			mode = "auto"
		}
		fmt.Printf("\nConfiguration file: %s\n", configName())
		fmt.Printf("Mode: %s\n", mode)
		fmt.Printf("Sample rate: %d Hz, limit %d samples, capture ratio %d%%\n",
			acq.SampleRate, acq.Limit, acq.CaptureRatio)
		fmt.Printf("Analog: %d codes over %.2f V, offset %.2f V\n",
			int(conf.Analog.MaxCode)+1, conf.Analog.Span, conf.Analog.Offset)
	},
}

func configName() string {
	if configFile != "" {
		return configFile
	}
	if path, err := config.Path(); err == nil {
		return path
	}
	return "~/.snap"
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
