package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/sergev/snap/acquisition"
	"github.com/sergev/snap/metrics"
	"github.com/sergev/snap/server"
	"github.com/sergev/snap/sink"
)

var listenFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Control the instrument over HTTP",
	Long: `Serve an HTTP API for starting and stopping acquisitions:
    GET    /status       controller state and the last result
    POST   /acquisition  start a session
    DELETE /acquisition  stop the running session
    GET    /capture      summary of the last capture
    GET    /metrics      Prometheus metrics`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if listenFlag != "" {
			conf.Server.Listen = listenFlag
		}

		defaults, err := defaultRequest()
		cobra.CheckErr(err)

		capture := sink.NewMemory()
		sinks := sink.Tee{capture}
		if conf.Redis.Addr != "" {
			r, err := sink.DialRedis(conf.Redis.Addr, conf.Redis.Password, conf.Redis.DB,
				conf.Redis.Channel, conf.Redis.ListLen, log)
			cobra.CheckErr(err)
			defer r.Close()
			sinks = append(sinks, r)
		}

		dev, err := openDevice()
		cobra.CheckErr(err)
		defer dev.Close()

		m := metrics.New(prometheus.DefaultRegisterer)
		opts := append(controllerOptions(), acquisition.WithObserver(m))
		ctrl := acquisition.NewController(dev, sinks, opts...)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := server.New(ctrl, capture, m, defaults, log)
		cobra.CheckErr(srv.ListenAndServe(ctx, conf.Server.Listen))
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenFlag, "listen", "", "address to listen on (default from config)")
	rootCmd.AddCommand(serveCmd)
}
