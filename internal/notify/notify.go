// Package notify delivers order offers to drivers over FCM push or a live
// WebSocket session.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/driver-dispatch/internal/models"
)

var (
	ErrNoAddress = errors.New("driver has no notification address")
	ErrNoSession = errors.New("no ws session")
)

// Notifier matches assignment.Notifier.
type Notifier interface {
	Notify(ctx context.Context, driver *models.Driver, offer models.OfferNotification) error
}

// LogNotifier only logs offers. Used when no push channel is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l *LogNotifier) Notify(_ context.Context, d *models.Driver, offer models.OfferNotification) error {
	l.Logger.Info("[dispatch] offer", "order_id", offer.OrderID, "driver_id", d.ID, "expires_at", offer.ExpiresAt)
	return nil
}

// Fallback tries Primary and falls back to Secondary when it fails.
type Fallback struct {
	Primary   Notifier
	Secondary Notifier
}

func (f *Fallback) Notify(ctx context.Context, d *models.Driver, offer models.OfferNotification) error {
	err := f.Primary.Notify(ctx, d, offer)
	if err == nil {
		return nil
	}
	if f.Secondary == nil {
		return err
	}
	if err2 := f.Secondary.Notify(ctx, d, offer); err2 != nil {
		return errors.Join(err, err2)
	}
	return nil
}
