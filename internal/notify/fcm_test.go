package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/driver-dispatch/internal/models"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeSender struct {
	msgs []*messaging.Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg *messaging.Message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.msgs = append(f.msgs, msg)
	return "projects/p/messages/1", nil
}

func sampleOffer() models.OfferNotification {
	return models.OfferNotification{
		OrderID:      "o1",
		OrderNumber:  "A-100",
		DriverID:     "d1",
		CustomerName: "Ada",
		Amount:       42.5,
		ExpiresAt:    time.UnixMilli(1700000020000),
		SentAt:       time.UnixMilli(1700000000000),
	}
}

func TestOfferMessageIsHighPriority(t *testing.T) {
	msg := OfferMessage("tok", sampleOffer())

	assert.Equal(t, "tok", msg.Token)
	assert.Equal(t, "order_offer", msg.Data["type"])
	assert.Equal(t, "o1", msg.Data["orderId"])
	assert.Equal(t, "A-100", msg.Data["orderNumber"])
	assert.Equal(t, "Ada", msg.Data["customerName"])
	assert.Equal(t, "42.5", msg.Data["amount"])
	assert.Equal(t, "1700000000000", msg.Data["timestamp"])
	assert.Equal(t, "FLUTTER_NOTIFICATION_CLICK", msg.Data["click_action"])
	assert.Equal(t, "📢 New Order Offer!", msg.Notification.Title)
	assert.Equal(t, "Ada - ₹42. Tap to accept!", msg.Notification.Body)
	assert.Equal(t, msg.Notification.Title, msg.APNS.Payload.Aps.Alert.Title)
	assert.Equal(t, msg.Notification.Body, msg.APNS.Payload.Aps.Alert.Body)

	require.NotNil(t, msg.Android)
	assert.Equal(t, "high", msg.Android.Priority)
	require.NotNil(t, msg.Android.TTL)
	assert.Zero(t, *msg.Android.TTL)
	assert.Equal(t, "order_offer_channel", msg.Android.Notification.ChannelID)
	assert.Equal(t, messaging.PriorityMax, msg.Android.Notification.Priority)
	assert.Equal(t, messaging.VisibilityPublic, msg.Android.Notification.Visibility)

	require.NotNil(t, msg.APNS)
	assert.Equal(t, "10", msg.APNS.Headers["apns-priority"])
	assert.True(t, msg.APNS.Payload.Aps.ContentAvailable)
	assert.Equal(t, 1, *msg.APNS.Payload.Aps.Badge)
}

func TestFCMNotifierRequiresToken(t *testing.T) {
	sender := &fakeSender{}
	n := NewFCMNotifier(sender, discard)

	err := n.Notify(context.Background(), &models.Driver{ID: "d1"}, sampleOffer())
	assert.ErrorIs(t, err, ErrNoAddress)
	assert.Empty(t, sender.msgs)

	require.NoError(t, n.Notify(context.Background(), &models.Driver{ID: "d1", FCMToken: "tok"}, sampleOffer()))
	assert.Len(t, sender.msgs, 1)
}

func TestFCMNotifierWrapsSendErrors(t *testing.T) {
	boom := errors.New("unavailable")
	n := NewFCMNotifier(&fakeSender{err: boom}, discard)
	err := n.Notify(context.Background(), &models.Driver{ID: "d1", FCMToken: "tok"}, sampleOffer())
	assert.ErrorIs(t, err, boom)
}
