// Package alert publishes operator alerts for orders that could not be assigned.
package alert

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/example/driver-dispatch/internal/models"
)

const ReasonNoDrivers = "no_drivers_available"

// Alert is the message an admin channel receives.
type Alert struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber,omitempty"`
	Reason      string    `json:"reason"`
	Rejected    int       `json:"rejectedDrivers"`
	At          time.Time `json:"at"`
}

func newAlert(o *models.Order, reason string, now time.Time) Alert {
	return Alert{
		ID:          uuid.NewString(),
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		Reason:      reason,
		Rejected:    len(o.RejectedByDrivers),
		At:          now,
	}
}

// MessageWriter is the part of *kafka.Writer used here.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaAlerter struct {
	writer MessageWriter
	now    func() time.Time
}

func NewKafkaAlerter(brokers []string, topic string) *KafkaAlerter {
	w := &kafka.Writer{Addr: kafka.TCP(brokers...), Topic: topic, Balancer: &kafka.LeastBytes{}}
	return NewKafkaAlerterWithWriter(w)
}

func NewKafkaAlerterWithWriter(w MessageWriter) *KafkaAlerter {
	return &KafkaAlerter{writer: w, now: func() time.Time { return time.Now().UTC() }}
}

// NoDrivers publishes the alert keyed by order id so alerts for one order stay ordered.
func (k *KafkaAlerter) NoDrivers(ctx context.Context, o *models.Order) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(newAlert(o, ReasonNoDrivers, k.now()))
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(o.ID), Value: b})
}

func (k *KafkaAlerter) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// LogAlerter writes alerts to the log only.
type LogAlerter struct {
	Logger *slog.Logger
}

func (l *LogAlerter) NoDrivers(_ context.Context, o *models.Order) error {
	a := newAlert(o, ReasonNoDrivers, time.Now().UTC())
	l.Logger.Error("order needs admin attention", "alert_id", a.ID, "order_id", a.OrderID, "reason", a.Reason, "rejected", a.Rejected)
	return nil
}
