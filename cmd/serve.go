package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fakeyudi/viewtrack/internal/clock"
	"github.com/fakeyudi/viewtrack/internal/delivery"
	"github.com/fakeyudi/viewtrack/internal/identity"
	"github.com/fakeyudi/viewtrack/internal/metrics"
	"github.com/fakeyudi/viewtrack/internal/server"
	"github.com/fakeyudi/viewtrack/internal/telemetry"
	"github.com/fakeyudi/viewtrack/internal/viewer"
)

var (
	serveAddr  string
	serveGrace time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept viewer sessions over WebSocket and deliver their telemetry",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := GetConfig()
		addr := serveAddr
		if addr == "" {
			addr = c.ListenAddr
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m, err := metrics.New(metrics.Options{Registerer: reg})
		if err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}

		srv := server.New(server.Config{
			Clock:    clock.Real(),
			Sender:   delivery.New(deliveryConfig(c)),
			Resolver: identity.NewResolver(resolverConfig(c, log)),
			Options: func(s telemetry.Surface) viewer.Options {
				return viewerOptions(c, s)
			},
			AllowedOrigins: c.AllowedOrigins,
			JournalDir:     c.JournalDir,
			Logger:         log,
			Metrics:        m,
			Gatherer:       reg,
		})

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := srv.ListenAndServe(ctx, addr, serveGrace); err != nil {
			return err
		}
		log.Info("server stopped", zap.String("addr", addr))
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config listen_addr)")
	serveCmd.Flags().DurationVar(&serveGrace, "grace", 10*time.Second, "time allowed for final flushes on shutdown")
	rootCmd.AddCommand(serveCmd)
}
