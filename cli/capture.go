package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/sergev/snap/acquisition"
	"github.com/sergev/snap/device"
	"github.com/sergev/snap/sink"
	"github.com/sergev/snap/trigger"
)

var captureFlags struct {
	mode       string
	sampleRate uint64
	samples    uint64
	ratio      uint8
	trigger    string
	channels   []string
	redis      string
}

var captureCmd = &cobra.Command{
	Use:   "capture [FILE.EXT]",
	Short: "Capture samples into a file",
	Long: `Capture samples from the instrument and save them to file FILE.EXT.
Format of the file is defined by extension:
    .csv        - one row per sample, one column per enabled channel
    .bin, .raw  - raw logic bytes, or little-endian float32 voltages
By default the capture is saved as 'capture.csv'.
Press Ctrl-C to stop early; samples captured so far are kept.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		filename := "capture.csv"
		if len(args) > 0 {
			filename = args[0]
		}

		req, err := captureRequest(cmd)
		cobra.CheckErr(err)

		file, err := sink.NewFile(filename)
		cobra.CheckErr(err)
		sinks := sink.Tee{file}

		redisAddr := conf.Redis.Addr
		if captureFlags.redis != "" {
			redisAddr = captureFlags.redis
		}
		if redisAddr != "" {
			r, err := sink.DialRedis(redisAddr, conf.Redis.Password, conf.Redis.DB,
				conf.Redis.Channel, conf.Redis.ListLen, log)
			cobra.CheckErr(err)
			defer r.Close()
			sinks = append(sinks, r)
		}

		dev, err := openDevice()
		cobra.CheckErr(err)
		defer dev.Close()

		ctrl := acquisition.NewController(dev, sinks, controllerOptions()...)
		cobra.CheckErr(ctrl.Start(req))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		res := follow(ctx, ctrl, req.Config.SampleLimit)
		report(res, filename)
		if res.Reason == acquisition.Failed {
			cobra.CheckErr(res.Err)
		}
	},
}

// captureRequest applies the command line flags on top of the configuration
func captureRequest(cmd *cobra.Command) (acquisition.Request, error) {
	flags := cmd.Flags()
	if flags.Changed("mode") {
		conf.Acquisition.Mode = captureFlags.mode
	}
	if flags.Changed("channels") {
		conf.Acquisition.Channels = captureFlags.channels
	}
	if flags.Changed("samplerate") {
		conf.Acquisition.SampleRate = captureFlags.sampleRate
	}
	if flags.Changed("samples") {
		conf.Acquisition.Limit = captureFlags.samples
	}
	if flags.Changed("ratio") {
		conf.Acquisition.CaptureRatio = captureFlags.ratio
	}
	if err := device.ValidSampleRate(conf.Acquisition.SampleRate); err != nil {
		return acquisition.Request{}, err
	}

	req, err := defaultRequest()
	if err != nil {
		return req, err
	}
	req.Trigger, err = trigger.ParseSpec(captureFlags.trigger)
	return req, err
}

// follow prints progress until the session ends. Interrupting stops the
// session cooperatively.
func follow(ctx context.Context, ctrl *acquisition.Controller, limit uint64) acquisition.Result {
	ticker := time.NewTicker(conf.Timing.Keepalive)
	defer ticker.Stop()

	for ctrl.Alive() {
		select {
		case <-ctx.Done():
			fmt.Printf("\n")
			log.Info("Interrupted, stopping acquisition")
			ctrl.Stop()
		case <-ticker.C:
			fmt.Printf("\rCaptured %d of %d samples", ctrl.Samples(), limit)
		}
	}

	res, err := ctrl.Wait(context.Background())
	if err != nil {
		cobra.CheckErr(err)
	}
	fmt.Printf("\rCaptured %d of %d samples\n", res.Samples, limit)
	return res
}

func report(res acquisition.Result, filename string) {
	switch res.Reason {
	case acquisition.Completed:
		fmt.Printf("Capture complete in %s\n", res.Duration.Round(time.Millisecond))
	case acquisition.Triggered:
		fmt.Printf("Triggered at sample %d, %d samples before the trigger were seen\n",
			res.TriggerOffset, res.PreTriggerRetained)
	case acquisition.Cancelled:
		fmt.Printf("Capture stopped\n")
	case acquisition.Stalled:
		fmt.Printf("Device stopped sending: %v\n", res.Err)
	case acquisition.Failed:
		return
	}
	if res.Partial() {
		fmt.Printf("Warning: capture is partial\n")
	}
	fmt.Printf("Saved to %s\n", filename)
}

func init() {
	flags := captureCmd.Flags()
	flags.StringVar(&captureFlags.mode, "mode", "", "acquisition mode: logic, scope or auto")
	flags.Uint64Var(&captureFlags.sampleRate, "samplerate", 0, "sample rate in Hz")
	flags.Uint64Var(&captureFlags.samples, "samples", 0, "number of samples to capture")
	flags.Uint8Var(&captureFlags.ratio, "ratio", 0, "percentage of samples kept before the trigger")
	flags.StringVar(&captureFlags.trigger, "trigger", "", "trigger conditions, e.g. 0=r,3=1 (0 1 r f e)")
	flags.StringSliceVar(&captureFlags.channels, "channels", nil, "enabled channels, e.g. 0,1,2 or A0")
	flags.StringVar(&captureFlags.redis, "redis", "", "also publish records to this redis server")
	rootCmd.AddCommand(captureCmd)
}
