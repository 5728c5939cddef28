package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/driver-dispatch/internal/observability"
)

// MessageReader is the part of *kafka.Reader the consumer needs. Offsets are
// committed explicitly so a message that failed is read again.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	Reader   MessageReader
	Handler  Handler
	Logger   *slog.Logger
	Attempts int
	Delay    time.Duration
}

func NewKafkaReader(brokers []string, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 1, MaxBytes: 10e6})
}

const maxBackoff = 30 * time.Second

// Run consumes until ctx is cancelled. Read errors back off exponentially up
// to 30s. A message is committed once it was handled or found invalid; a
// handling failure keeps retrying the same message, so later offsets never
// commit past it.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		m, err := c.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.Logger.Info("shutting down consumer")
				return nil
			}
			c.Logger.Warn("kafka read error", "error", err, "backoff", backoff)
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = next(backoff)
			continue
		}
		// reset backoff on success
		backoff = time.Second

		if !c.handleUntilDone(ctx, m) {
			c.Logger.Info("shutting down consumer", "uncommitted_offset", m.Offset)
			return nil
		}
		if err := c.Reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// the message will be redelivered; handlers are guarded by the order state
			c.Logger.Warn("commit failed", "offset", m.Offset, "error", err)
		}
	}
}

// handleUntilDone retries m until it is handled. It returns false if ctx ends first.
func (c *Consumer) handleUntilDone(ctx context.Context, m kafka.Message) bool {
	wait := c.delay()
	for {
		err := c.Handle(ctx, m)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		c.Logger.Warn("order event will be retried", "offset", m.Offset, "backoff", wait, "error", err)
		if !sleep(ctx, wait) {
			return false
		}
		wait = next(wait)
	}
}

// Handle decodes and routes one message. It returns an error only when the
// message should be delivered again; malformed and invalid events are
// dropped.
func (c *Consumer) Handle(ctx context.Context, m kafka.Message) error {
	var ev OrderEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		observability.EventsConsumed.WithLabelValues("unknown", "invalid").Inc()
		c.Logger.Warn("invalid message", "offset", m.Offset, "error", err)
		return nil
	}
	attempts := c.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	res, err := RouteWithRetry(ctx, c.Handler, ev, attempts, c.delay())
	switch {
	case errors.Is(err, ErrInvalidEvent):
		observability.EventsConsumed.WithLabelValues(string(ev.Type), "invalid").Inc()
		c.Logger.Warn("invalid order event", "offset", m.Offset, "error", err)
		return nil
	case err != nil:
		observability.EventsConsumed.WithLabelValues(string(ev.Type), "error").Inc()
		c.Logger.Error("order event failed", "order_id", ev.OrderID, "type", ev.Type, "error", err)
		return err
	default:
		observability.EventsConsumed.WithLabelValues(string(ev.Type), string(res.Outcome)).Inc()
		c.Logger.Debug("order event handled", "order_id", ev.OrderID, "type", ev.Type, "outcome", res.Outcome)
		return nil
	}
}

func (c *Consumer) delay() time.Duration {
	if c.Delay <= 0 {
		return 200 * time.Millisecond
	}
	return c.Delay
}

func next(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
