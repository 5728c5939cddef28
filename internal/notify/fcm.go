package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"firebase.google.com/go/v4/messaging"

	"github.com/example/driver-dispatch/internal/models"
)

const (
	offerType        = "order_offer"
	offerChannel     = "order_offer_channel"
	offerTitle       = "📢 New Order Offer!"
	flutterClickName = "FLUTTER_NOTIFICATION_CLICK"
)

// MessageSender is the part of *messaging.Client used here.
type MessageSender interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// FCMNotifier sends high-priority offer pushes to the driver's FCM token.
type FCMNotifier struct {
	client MessageSender
	logger *slog.Logger
}

func NewFCMNotifier(client MessageSender, logger *slog.Logger) *FCMNotifier {
	return &FCMNotifier{client: client, logger: logger.With("component", "fcm_notifier")}
}

func (f *FCMNotifier) Notify(ctx context.Context, d *models.Driver, offer models.OfferNotification) error {
	if d.FCMToken == "" {
		return fmt.Errorf("driver %s: %w", d.ID, ErrNoAddress)
	}
	id, err := f.client.Send(ctx, OfferMessage(d.FCMToken, offer))
	if err != nil {
		return fmt.Errorf("sending FCM to driver %s: %w", d.ID, err)
	}
	f.logger.Info("offer push sent", "order_id", offer.OrderID, "driver_id", d.ID, "message_id", id)
	return nil
}

// OfferMessage builds the push that wakes the driver app: a data payload the
// app handles in the background plus a tray notification, both delivered
// immediately or not at all.
func OfferMessage(token string, offer models.OfferNotification) *messaging.Message {
	body := fmt.Sprintf("%s - ₹%.0f. Tap to accept!", offer.CustomerName, offer.Amount)
	ttl := time.Duration(0)
	badge := 1
	return &messaging.Message{
		Token: token,
		Data: map[string]string{
			"type":         offerType,
			"orderId":      offer.OrderID,
			"orderNumber":  offer.OrderNumber,
			"customerName": offer.CustomerName,
			"amount":       strconv.FormatFloat(offer.Amount, 'f', -1, 64),
			"expiresAt":    strconv.FormatInt(offer.ExpiresAt.UnixMilli(), 10),
			"timestamp":    strconv.FormatInt(offer.SentAt.UnixMilli(), 10),
			"click_action": flutterClickName,
		},
		Notification: &messaging.Notification{
			Title: offerTitle,
			Body:  body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			TTL:      &ttl,
			Notification: &messaging.AndroidNotification{
				ChannelID:             offerChannel,
				Priority:              messaging.PriorityMax,
				Visibility:            messaging.VisibilityPublic,
				Sound:                 "default",
				DefaultSound:          true,
				DefaultVibrateTimings: true,
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "10"},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert:            &messaging.ApsAlert{Title: offerTitle, Body: body},
					Sound:            "default",
					Badge:            &badge,
					ContentAvailable: true,
				},
			},
		},
	}
}
