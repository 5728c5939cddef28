package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/driver-dispatch/internal/models"
	"github.com/example/driver-dispatch/internal/observability"
	"github.com/example/driver-dispatch/internal/store"
)

// Notifier delivers an offer to one driver. Delivery is best-effort.
type Notifier interface {
	Notify(ctx context.Context, driver *models.Driver, offer models.OfferNotification) error
}

// Alerter reports orders that need an operator.
type Alerter interface {
	NoDrivers(ctx context.Context, order *models.Order) error
}

type Config struct {
	BatchSize   int
	OfferWindow time.Duration
}

func DefaultConfig() Config {
	return Config{BatchSize: 3, OfferWindow: 20 * time.Second}
}

// Outcome classifies what a broadcast did to the order.
type Outcome string

const (
	OutcomeOffered   Outcome = "offered"
	OutcomeNoDrivers Outcome = "failed_no_drivers"
	OutcomeSkipped   Outcome = "skipped"
)

type Result struct {
	Outcome   Outcome
	Offered   []string
	ExpiresAt time.Time
}

type Broadcaster struct {
	Store    store.Store
	Pool     *Pool
	Notifier Notifier
	Alerter  Alerter
	Config   Config
	Logger   *slog.Logger
	Now      func() time.Time
}

func (b *Broadcaster) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now().UTC()
}

func (b *Broadcaster) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

// Broadcast offers the order to the nearest eligible drivers. The offer write
// re-checks the order inside its transaction; an order that left the
// searching states meanwhile is skipped without error.
func (b *Broadcaster) Broadcast(ctx context.Context, orderID string) (Result, error) {
	log := b.logger().With("order_id", orderID)
	cfg := b.Config
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.OfferWindow <= 0 {
		cfg.OfferWindow = DefaultConfig().OfferWindow
	}

	o, err := b.Store.Order(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		log.Info("order not found, nothing to broadcast")
		return Result{Outcome: OutcomeSkipped}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("read order %s: %w", orderID, err)
	}
	if !canOffer(o.AssignmentStatus) {
		log.Info("order not searching, skipping broadcast", "assignment_status", o.AssignmentStatus.String())
		return Result{Outcome: OutcomeSkipped}, nil
	}

	candidates, err := b.Pool.FindEligible(ctx, o.PickupLocation, o.RejectedByDrivers)
	if err != nil {
		return Result{}, err
	}

	var (
		plan  offerPlan
		order *models.Order
		stale bool
	)
	err = b.Store.RunTransaction(ctx, func(_ context.Context, tx store.Tx) error {
		plan, order, stale = offerPlan{}, nil, false
		cur, err := tx.Order(orderID)
		if errors.Is(err, store.ErrNotFound) {
			stale = true
			return nil
		}
		if err != nil {
			return err
		}
		if !canOffer(cur.AssignmentStatus) {
			stale = true
			return nil
		}
		plan = planOffer(cur, candidates, cfg.BatchSize, cfg.OfferWindow, b.now())
		order = cur
		return tx.UpdateOrder(orderID, plan.updates)
	})
	if err != nil {
		return Result{}, fmt.Errorf("write offer for order %s: %w", orderID, err)
	}
	if stale {
		observability.StaleSkipsTotal.WithLabelValues("broadcast").Inc()
		log.Info("order moved on before the offer was written, skipping")
		return Result{Outcome: OutcomeSkipped}, nil
	}

	if plan.failed() {
		observability.NoDriversTotal.Inc()
		log.Warn("no eligible drivers, order failed", "rejected", len(order.RejectedByDrivers))
		if b.Alerter != nil {
			if err := b.Alerter.NoDrivers(ctx, order); err != nil {
				log.Error("admin alert failed", "error", err)
			} else {
				b.markAdminNotified(ctx, log, orderID)
			}
		}
		return Result{Outcome: OutcomeNoDrivers}, nil
	}

	observability.OffersBroadcast.Inc()
	observability.OfferBatchSize.Observe(float64(len(plan.selected)))
	log.Info("order broadcast", "drivers", plan.driverIDs(), "expires_at", plan.expiresAt)
	b.notifyAll(ctx, order, plan)
	return Result{Outcome: OutcomeOffered, Offered: plan.driverIDs(), ExpiresAt: plan.expiresAt}, nil
}

// markAdminNotified sets notificationSentToAdmin once an alert went out.
// Failures are logged only: the alert itself was already delivered.
func (b *Broadcaster) markAdminNotified(ctx context.Context, log *slog.Logger, orderID string) {
	err := b.Store.RunTransaction(ctx, func(_ context.Context, tx store.Tx) error {
		o, err := tx.Order(orderID)
		if err != nil {
			return err
		}
		updates, ok := planAdminNotified(o)
		if !ok {
			return nil
		}
		return tx.UpdateOrder(orderID, updates)
	})
	if err != nil {
		log.Warn("could not mark admin notification", "error", err)
	}
}

// notifyAll sends every offer concurrently and waits for all of them. A failed
// send only affects its own driver.
func (b *Broadcaster) notifyAll(ctx context.Context, o *models.Order, plan offerPlan) {
	if b.Notifier == nil {
		return
	}
	sentAt := b.now()
	var wg sync.WaitGroup
	for _, c := range plan.selected {
		wg.Add(1)
		go func(d *models.Driver) {
			defer wg.Done()
			offer := newOfferNotification(o, d.ID, plan.expiresAt, sentAt)
			if err := b.Notifier.Notify(ctx, d, offer); err != nil {
				observability.NotificationsTotal.WithLabelValues("error").Inc()
				b.logger().Warn("offer notification failed", "order_id", o.ID, "driver_id", d.ID, "error", err)
				return
			}
			observability.NotificationsTotal.WithLabelValues("sent").Inc()
		}(c.Driver)
	}
	wg.Wait()
}

func newOfferNotification(o *models.Order, driverID string, expiresAt, sentAt time.Time) models.OfferNotification {
	n := models.OfferNotification{
		OrderID:      o.ID,
		OrderNumber:  o.OrderNumber,
		DriverID:     driverID,
		CustomerName: "Customer",
		Amount:       o.TotalAmount,
		ExpiresAt:    expiresAt,
		SentAt:       sentAt,
	}
	if n.OrderNumber == "" {
		n.OrderNumber = o.ID
	}
	if o.CustomerSnapshot != nil && o.CustomerSnapshot.Name != "" {
		n.CustomerName = o.CustomerSnapshot.Name
	}
	return n
}
