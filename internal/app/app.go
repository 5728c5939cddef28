// Package app wires the configured store, notifier and alert channel into the
// assignment components shared by both binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"
	"github.com/redis/go-redis/v9"

	"github.com/example/driver-dispatch/internal/alert"
	"github.com/example/driver-dispatch/internal/assignment"
	"github.com/example/driver-dispatch/internal/config"
	"github.com/example/driver-dispatch/internal/events"
	"github.com/example/driver-dispatch/internal/infra"
	"github.com/example/driver-dispatch/internal/lock"
	"github.com/example/driver-dispatch/internal/models"
	"github.com/example/driver-dispatch/internal/notify"
	"github.com/example/driver-dispatch/internal/store"
)

type App struct {
	Store  store.Store
	Memory *store.MemoryStore // set only for the memory backend

	WS          *notify.WSRegistry
	Broadcaster *assignment.Broadcaster
	Machine     *assignment.Machine
	Triggers    *assignment.Triggers
	Sweeper     *assignment.Sweeper
	Lease       *lock.RedisLease  // nil without Redis
	AdminAlerts *alert.FCMAlerter // nil unless ALERTER=fcm
	Redis       *redis.Client

	closers []func() error
}

func Build(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (*App, error) {
	a := &App{WS: notify.NewWSRegistry(logger)}
	fail := func(err error) (*App, error) {
		_ = a.Close()
		return nil, err
	}

	var fb *infra.Firebase
	firebaseApp := func() (*infra.Firebase, error) {
		if fb != nil {
			return fb, nil
		}
		var err error
		fb, err = infra.NewFirebase(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentialsFile)
		return fb, err
	}
	var mc *messaging.Client
	messagingClient := func() (*messaging.Client, error) {
		if mc != nil {
			return mc, nil
		}
		f, err := firebaseApp()
		if err != nil {
			return nil, err
		}
		mc, err = f.Messaging(ctx)
		return mc, err
	}

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		ps, err := store.NewPostgresStore(cfg.PGDSN, logger)
		if err != nil {
			return fail(fmt.Errorf("open postgres: %w", err))
		}
		a.closers = append(a.closers, ps.Close)
		if cfg.RunMigrations {
			if err := ps.Migrate(ctx); err != nil {
				return fail(fmt.Errorf("migrate: %w", err))
			}
			logger.Info("migration applied")
		}
		a.Store = ps
	case config.BackendFirestore:
		f, err := firebaseApp()
		if err != nil {
			return fail(err)
		}
		client, err := f.Firestore(ctx)
		if err != nil {
			return fail(err)
		}
		a.closers = append(a.closers, client.Close)
		a.Store = store.NewFirestoreStore(client, logger)
	default:
		a.Memory = store.NewMemoryStore()
		a.Store = a.Memory
	}

	var notifier assignment.Notifier
	switch cfg.Notifier {
	case config.NotifierWS:
		notifier = a.WS
	case config.NotifierFCM, config.NotifierFallback:
		client, err := messagingClient()
		if err != nil {
			return fail(err)
		}
		fcm := notify.NewFCMNotifier(client, logger)
		notifier = fcm
		if cfg.Notifier == config.NotifierFallback {
			notifier = &notify.Fallback{Primary: a.WS, Secondary: fcm}
		}
	default:
		notifier = &notify.LogNotifier{Logger: logger}
	}

	var alerter assignment.Alerter = &alert.LogAlerter{Logger: logger}
	switch {
	case cfg.Alerter == config.AlerterFCM:
		dir, ok := a.Store.(store.AdminDirectory)
		if !ok {
			return fail(fmt.Errorf("store backend %q has no admin directory", cfg.StoreBackend))
		}
		client, err := messagingClient()
		if err != nil {
			return fail(err)
		}
		a.AdminAlerts = alert.NewFCMAlerter(client, dir, logger)
		alerter = a.AdminAlerts
	case cfg.Alerter == config.AlerterKafka,
		cfg.Alerter == "" && len(cfg.KafkaBrokers) > 0 && cfg.KafkaAlertTopic != "":
		ka := alert.NewKafkaAlerter(cfg.KafkaBrokers, cfg.KafkaAlertTopic)
		a.closers = append(a.closers, ka.Close)
		alerter = ka
	}

	if cfg.RedisAddr != "" {
		a.Redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		a.closers = append(a.closers, a.Redis.Close)
		a.Lease = lock.NewRedisLease(a.Redis, cfg.SweepLockKey, cfg.SweepLockTTL)
	}

	a.Broadcaster = &assignment.Broadcaster{
		Store:    a.Store,
		Pool:     &assignment.Pool{Drivers: a.Store},
		Notifier: notifier,
		Alerter:  alerter,
		Config:   assignment.Config{BatchSize: cfg.Dispatch.OfferBatchSize, OfferWindow: cfg.Dispatch.OfferWindow},
		Logger:   logger.With("component", "broadcaster"),
	}
	a.Triggers = &assignment.Triggers{Broadcaster: a.Broadcaster, Logger: logger.With("component", "triggers")}
	a.Machine = &assignment.Machine{Store: a.Store, Logger: logger.With("component", "machine")}
	a.Sweeper = &assignment.Sweeper{Store: a.Store, Logger: logger.With("component", "sweeper")}
	if cfg.Dispatch.SweepRebroadcast {
		a.Machine.Retry = a.Broadcaster
		a.Sweeper.Retry = a.Broadcaster
	}
	return a, nil
}

// WatchMemory feeds committed writes of the memory store back into the
// triggers, standing in for a change feed. It is a no-op for other backends.
func (a *App) WatchMemory(logger *slog.Logger) {
	if a.Memory == nil {
		return
	}
	a.Memory.Watch(func(before, after *models.Order) {
		res, err := events.Route(context.Background(), a.Triggers, events.FromChange(before, after))
		if err != nil {
			logger.Error("order change handling failed", "order_id", after.ID, "error", err)
			return
		}
		if res.Outcome != assignment.OutcomeSkipped {
			logger.Info("order change handled", "order_id", after.ID, "outcome", res.Outcome)
		}
	})
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
