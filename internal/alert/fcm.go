package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"firebase.google.com/go/v4/messaging"

	"github.com/example/driver-dispatch/internal/models"
)

// ErrNoAdmins is returned when no active admin has a push token.
var ErrNoAdmins = errors.New("no active admin tokens")

const adminOrdersRoute = "/admin/orders"

// MessageSender is the part of *messaging.Client used here.
type MessageSender interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// AdminDirectory matches store.AdminDirectory.
type AdminDirectory interface {
	ActiveAdminTokens(ctx context.Context) ([]string, error)
}

// FCMAlerter pushes alerts to every active admin device.
type FCMAlerter struct {
	sender MessageSender
	admins AdminDirectory
	logger *slog.Logger
	now    func() time.Time
}

func NewFCMAlerter(sender MessageSender, admins AdminDirectory, logger *slog.Logger) *FCMAlerter {
	return &FCMAlerter{
		sender: sender,
		admins: admins,
		logger: logger.With("component", "fcm_alerter"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// NoDrivers succeeds when at least one admin device accepted the push.
func (f *FCMAlerter) NoDrivers(ctx context.Context, o *models.Order) error {
	sent, err := f.sendAll(ctx, func(token string) *messaging.Message { return NoDriversMessage(token, o) })
	if err != nil {
		return fmt.Errorf("alert admins about order %s: %w", o.ID, err)
	}
	f.logger.Info("admins alerted", "order_id", o.ID, "devices", sent)
	return nil
}

// SendTest pushes a test notification to every active admin and reports how
// many devices accepted it.
func (f *FCMAlerter) SendTest(ctx context.Context) (int, error) {
	at := f.now()
	return f.sendAll(ctx, func(token string) *messaging.Message { return AdminTestMessage(token, at) })
}

func (f *FCMAlerter) sendAll(ctx context.Context, build func(token string) *messaging.Message) (int, error) {
	tokens, err := f.admins.ActiveAdminTokens(ctx)
	if err != nil {
		return 0, fmt.Errorf("load admin tokens: %w", err)
	}
	if len(tokens) == 0 {
		return 0, ErrNoAdmins
	}
	sent := 0
	var errs []error
	for _, token := range tokens {
		if _, err := f.sender.Send(ctx, build(token)); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}
	if sent == 0 {
		return 0, errors.Join(errs...)
	}
	if len(errs) > 0 {
		f.logger.Warn("some admin devices were not reached", "sent", sent, "failed", len(errs), "error", errors.Join(errs...))
	}
	return sent, nil
}

// NoDriversMessage is the admin push for an order that ran out of drivers.
func NoDriversMessage(token string, o *models.Order) *messaging.Message {
	number := o.OrderNumber
	if number == "" {
		number = o.ID
	}
	return &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: "Order Needs Assignment",
			Body:  fmt.Sprintf("No driver accepted order #%s. It needs manual assignment.", number),
		},
		Data: map[string]string{
			"type":    ReasonNoDrivers,
			"orderId": o.ID,
			"route":   adminOrdersRoute,
		},
	}
}

// AdminTestMessage checks that admin devices receive pushes.
func AdminTestMessage(token string, at time.Time) *messaging.Message {
	return &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: "Test Notification",
			Body:  "This is a test notification from driver-dispatch",
		},
		Data: map[string]string{
			"type":      "test",
			"timestamp": at.Format(time.RFC3339),
		},
	}
}
