// Package cli implements the snap command line.
package cli

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sergev/snap/acquisition"
	"github.com/sergev/snap/config"
	"github.com/sergev/snap/device"
	"github.com/sergev/snap/emulator"
)

var (
	configFile string
	portFlag   string
	logLevel   string
	emulate    bool

	conf *config.Config
	log  = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "snap",
	Short: "A CLI program which captures signals with the SNAP instrument",
	Long: `The snap tool is a CLI program which captures logic and analog signals
with the SNAP basestation over its USB serial port.`,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var err error
		conf, err = config.Initialize(configFile)
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to initialize config: %w", err))
		}
		if portFlag != "" {
			conf.Device.Port = portFlag
		}
		if logLevel != "" {
			conf.Log.Level = logLevel
		}
		cobra.CheckErr(conf.ConfigureLogger(log))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "configuration file (default ~/.snap)")
	rootCmd.PersistentFlags().StringVar(&portFlag, "port", "", "serial port or link URL of the instrument")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: error, warn, info, debug or trace")
	rootCmd.PersistentFlags().BoolVar(&emulate, "emulate", false, "use the built-in instrument emulator")
}

// openDevice opens the emulator or the configured instrument. Without a
// configured port the instrument is found by its USB VID:PID.
func openDevice() (*device.Device, error) {
	if emulate {
		emu := emulator.New(emulator.WithLogger(log))
		return device.Attach(emu, "emulator", conf.Timing.ResponseTimeout)
	}

	vid, pid, err := conf.Device.IDs()
	if err != nil {
		return nil, err
	}
	return device.Open(device.Options{
		Port:        conf.Device.Link(),
		Baud:        conf.Device.Baud,
		VendorID:    vid,
		ProductID:   pid,
		PingTimeout: conf.Timing.ResponseTimeout,
		Log:         log,
	})
}

// selectChannels enables channels by mode and name. Names may refer to
// logic or analog inputs; no names means every logic input.
func selectChannels(mode string, names []string) (acquisition.Channels, error) {
	ch := device.DefaultChannels()

	if len(names) > 0 {
		want := make(map[string]bool)
		for _, name := range names {
			want[strings.TrimSpace(name)] = true
		}
		for _, list := range [][]acquisition.Channel{ch.Logic, ch.Analog} {
			for i := range list {
				list[i].Enabled = want[list[i].Name]
				delete(want, list[i].Name)
			}
		}
		for name := range want {
			return ch, fmt.Errorf("unknown channel %q", name)
		}
	}

	switch mode {
	case "", "auto":
	default:
		m, err := acquisition.ParseMode(mode)
		if err != nil {
			return ch, err
		}
		for i := range ch.Analog {
			ch.Analog[i].Enabled = m == acquisition.Oscilloscope
		}
	}
	return ch, nil
}

// defaultRequest builds a session request from the configuration
func defaultRequest() (acquisition.Request, error) {
	ch, err := selectChannels(conf.Acquisition.Mode, conf.Acquisition.Channels)
	if err != nil {
		return acquisition.Request{}, err
	}
	mode, _, _ := conf.Acquisition.ParseMode()
	return acquisition.Request{
		Config:   conf.Acquisition.Config(mode),
		Channels: ch,
	}, nil
}

func controllerOptions() []acquisition.Option {
	return append(conf.ControllerOptions(), acquisition.WithLogger(log))
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}
