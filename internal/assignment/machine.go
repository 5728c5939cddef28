package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/driver-dispatch/internal/models"
	"github.com/example/driver-dispatch/internal/observability"
	"github.com/example/driver-dispatch/internal/store"
)

// Machine performs the driver- and operator-initiated transitions. Each one
// re-reads the order inside a single transaction, so concurrent callers see
// exactly one winner.
type Machine struct {
	Store  store.Store
	Logger *slog.Logger
	// Retry, when set, re-broadcasts orders that a call moved back to
	// searching. Leave nil when a change feed already drives the retry.
	Retry *Broadcaster
}

func (m *Machine) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// Accept assigns the order to driverID if that driver still holds a live
// offer. Losing the race returns false with a nil error.
func (m *Machine) Accept(ctx context.Context, orderID, driverID string) (bool, error) {
	var (
		won     bool
		holders []string
	)
	err := m.Store.RunTransaction(ctx, func(_ context.Context, tx store.Tx) error {
		won, holders = false, nil
		o, err := tx.Order(orderID)
		if err != nil {
			return err
		}
		updates, ok := planAccept(o, driverID)
		if !ok {
			return nil
		}
		won, holders = true, o.OfferHolders()
		return tx.UpdateOrder(orderID, updates)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, err
		}
		return false, fmt.Errorf("accept order %s: %w", orderID, err)
	}
	log := m.logger().With("order_id", orderID, "driver_id", driverID)
	if !won {
		observability.AcceptsTotal.WithLabelValues("lost").Inc()
		log.Info("acceptance rejected, driver holds no live offer")
		return false, nil
	}
	observability.AcceptsTotal.WithLabelValues("won").Inc()
	log.Info("order accepted")
	clearDriverOffers(ctx, m.Store, m.logger(), orderID, holders)
	return true, nil
}

// Reject records that driverID declined the order. When the last holder
// declines, the order goes back to searching.
func (m *Machine) Reject(ctx context.Context, orderID, driverID string) (bool, error) {
	var (
		rejected  bool
		searching bool
	)
	err := m.Store.RunTransaction(ctx, func(_ context.Context, tx store.Tx) error {
		rejected, searching = false, false
		o, err := tx.Order(orderID)
		if err != nil {
			return err
		}
		updates, ok := planReject(o, driverID)
		if !ok {
			return nil
		}
		rejected = true
		for _, u := range updates {
			if u.Field == models.FieldAssignmentStatus {
				searching = true
			}
		}
		return tx.UpdateOrder(orderID, updates)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, err
		}
		return false, fmt.Errorf("reject order %s: %w", orderID, err)
	}
	log := m.logger().With("order_id", orderID, "driver_id", driverID)
	if !rejected {
		observability.StaleSkipsTotal.WithLabelValues("reject").Inc()
		log.Info("rejection ignored, driver holds no live offer")
		return false, nil
	}
	observability.RejectsTotal.Inc()
	log.Info("offer rejected", "back_to_searching", searching)
	clearDriverOffers(ctx, m.Store, m.logger(), orderID, []string{driverID})
	if searching {
		m.retry(ctx, orderID)
	}
	return true, nil
}

// Reset is the operator path back to searching, the only way out of
// failed_no_drivers. Rejections are kept.
func (m *Machine) Reset(ctx context.Context, orderID string) (bool, error) {
	var (
		reset   bool
		holders []string
	)
	err := m.Store.RunTransaction(ctx, func(_ context.Context, tx store.Tx) error {
		reset, holders = false, nil
		o, err := tx.Order(orderID)
		if err != nil {
			return err
		}
		updates, ok := planReset(o)
		if !ok {
			return nil
		}
		reset, holders = true, o.OfferHolders()
		return tx.UpdateOrder(orderID, updates)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, err
		}
		return false, fmt.Errorf("reset order %s: %w", orderID, err)
	}
	log := m.logger().With("order_id", orderID)
	if !reset {
		log.Info("reset refused for current assignment status")
		return false, nil
	}
	log.Info("order reset to searching")
	clearDriverOffers(ctx, m.Store, m.logger(), orderID, holders)
	m.retry(ctx, orderID)
	return true, nil
}

func (m *Machine) retry(ctx context.Context, orderID string) {
	if m.Retry == nil {
		return
	}
	if _, err := m.Retry.Broadcast(ctx, orderID); err != nil {
		m.logger().Error("inline re-broadcast failed", "order_id", orderID, "error", err)
	}
}

// clearDriverOffers removes the legacy currentOffer back-reference from each
// driver still pointing at orderID. It is a best-effort companion to the order
// write and never fails the caller.
func clearDriverOffers(ctx context.Context, s store.Store, log *slog.Logger, orderID string, driverIDs []string) {
	for _, id := range driverIDs {
		d, err := s.Driver(ctx, id)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				log.Warn("read driver failed", "driver_id", id, "error", err)
			}
			continue
		}
		if d.CurrentOffer == nil || d.CurrentOffer.OrderID != orderID {
			continue
		}
		err = s.UpdateDriver(ctx, id, []store.Update{{Field: models.FieldCurrentOffer, Value: store.Delete}})
		if err != nil {
			log.Warn("clear driver offer failed", "driver_id", id, "order_id", orderID, "error", err)
		}
	}
}
