package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/driver-dispatch/internal/app"
	"github.com/example/driver-dispatch/internal/config"
	"github.com/example/driver-dispatch/internal/events"
	"github.com/example/driver-dispatch/internal/logging"
)

func main() {
	var envFile string
	flag.StringVar(&envFile, "env", ".env", "optional dotenv file")
	flag.Parse()

	if err := config.LoadDotEnv(envFile); err != nil {
		log.Fatal(err)
	}
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel).With("component", "consumer")
	if cfg.StoreBackend == config.BackendMemory {
		logger.Warn("memory store is process-local, events will only see orders written by this process")
	}
	if len(cfg.KafkaBrokers) == 0 {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return
	}
	defer a.Close()

	// metrics and health
	metrics := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(a), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	defer metrics.Close()

	reader := events.NewKafkaReader(cfg.KafkaBrokers, cfg.KafkaOrderEventsTopic, cfg.KafkaGroup)
	defer reader.Close()

	c := &events.Consumer{Reader: reader, Handler: a.Triggers, Logger: logger, Attempts: 3, Delay: 200 * time.Millisecond}
	logger.Info("consumer listening", "topic", cfg.KafkaOrderEventsTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)
	if err := c.Run(ctx); err != nil {
		logger.Error("consumer stopped", "error", err)
	}
}

func metricsMux(a *app.App) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		// readiness: the store must answer a cheap query
		if _, err := a.Store.OrdersByAssignmentStatus(r.Context(), "__ready__"); err != nil {
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return mux
}
