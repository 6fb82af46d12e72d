package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kartikbazzad/bunquery/internal/emulator"
	"github.com/kartikbazzad/bunquery/internal/rpc"
	"github.com/kartikbazzad/bunquery/pkg/logger"
)

func newServeCmd() *cobra.Command {
	var metricsAddr string
	var rps float64

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the emulator behind the RPC server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("metrics-addr") {
				cfg.Server.MetricsAddr = metricsAddr
			}
			if cmd.Flags().Changed("rps") {
				cfg.Server.RequestsPerSecond = rps
			}
			log := logger.Get()

			if err := os.MkdirAll(filepath.Dir(cfg.Emulator.Path), 0o755); err != nil {
				return err
			}
			store, err := emulator.Open(cfg.Emulator, log)
			if err != nil {
				return err
			}
			defer store.Close()

			srv := rpc.NewServer(cfg.Server, store, log)
			if err := srv.Start(); err != nil {
				return err
			}

			var metricsSrv *http.Server
			if cfg.Server.MetricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				metricsSrv = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux}
				go func() {
					log.Info("Metrics listening", "addr", cfg.Server.MetricsAddr)
					if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Error("Metrics server failed", "error", err)
					}
				}()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			log.Info("Shutting down")
			if metricsSrv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				_ = metricsSrv.Shutdown(shutdownCtx)
			}
			return srv.Stop()
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address")
	cmd.Flags().Float64Var(&rps, "rps", 0, "Requests per second before answering ResourceExhausted (0 = unlimited)")
	return cmd
}
