package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aegis/internal/config"
	"aegis/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var metricsAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent with the health scheduler and metrics endpoint",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := buildAgent(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		if err := a.Initialize(ctx); err != nil {
			return err
		}
		a.Start(ctx)

		log := logging.Get(logging.CategoryBoot)

		var watcher *config.Watcher
		if configPath != "" {
			watcher, err = config.NewWatcher(configPath, a.SetRuntime)
			if err != nil {
				log.Warn("config watcher unavailable", zap.Error(err))
			}
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", a.Metrics().Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			summary := a.HealthCheck(r.Context())
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte(string(summary.Overall) + "\n"))
		})
		srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()

		log.Info("aegis serving",
			zap.String("mode", string(cfg.Runtime.Mode)),
			zap.String("metrics", metricsAddr),
			zap.String("data_dir", cfg.DataDir))

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Info("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
		if watcher != nil {
			watcher.Close()
		}
		if err := a.Stop(shutdownCtx); err != nil {
			log.Error("shutdown persistence failed", zap.Error(err))
			return err
		}
		return errInterrupted
	},
}

func init() {
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9464", "metrics/health listen address")
}
