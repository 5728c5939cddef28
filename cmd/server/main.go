package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/example/driver-dispatch/internal/app"
	"github.com/example/driver-dispatch/internal/config"
	httpapi "github.com/example/driver-dispatch/internal/http"
	"github.com/example/driver-dispatch/internal/jobs"
	"github.com/example/driver-dispatch/internal/logging"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatal(err)
	}
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("close failed", "error", err)
		}
	}()
	a.WatchMemory(logger.With("component", "memory_feed"))

	var lease jobs.Lease
	if a.Lease != nil {
		lease = a.Lease
	}
	job := jobs.NewSweeperJob(a.Sweeper, lease, cfg.Dispatch.SweepInterval, logger)
	if err := job.Start(); err != nil {
		logger.Error("sweeper job failed to start", "error", err)
		return
	}
	defer job.Stop()

	api := httpapi.NewServer(logger, a.Machine, a.Triggers, a.Sweeper, a.WS)
	if a.Memory != nil {
		api.Seeder = a.Memory
	}
	if a.AdminAlerts != nil {
		api.AdminTester = a.AdminAlerts
	}
	if a.Redis != nil {
		api.Health = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	go func() {
		logger.Info("driver-dispatch listening", "addr", cfg.HTTPAddr, "store", cfg.StoreBackend, "notifier", cfg.Notifier)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
