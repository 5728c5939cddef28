// Package events turns order change notifications into assignment triggers.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/driver-dispatch/internal/assignment"
	"github.com/example/driver-dispatch/internal/models"
)

type Type string

const (
	TypeCreated Type = "created"
	TypeUpdated Type = "updated"
)

var ErrInvalidEvent = errors.New("invalid order event")

// OrderEvent is one document change on the orders collection.
type OrderEvent struct {
	Type    Type          `json:"type"`
	OrderID string        `json:"orderId"`
	Before  *models.Order `json:"before,omitempty"`
	After   *models.Order `json:"after,omitempty"`
}

// FromChange builds the event for a committed write; before is nil for creates.
func FromChange(before, after *models.Order) OrderEvent {
	ev := OrderEvent{Type: TypeUpdated, Before: before, After: after}
	if before == nil {
		ev.Type = TypeCreated
	}
	if after != nil {
		ev.OrderID = after.ID
	}
	return ev
}

func (e *OrderEvent) Validate() error {
	if e.OrderID == "" && e.After != nil {
		e.OrderID = e.After.ID
	}
	if e.OrderID == "" || e.After == nil {
		return fmt.Errorf("%w: order id and after are required", ErrInvalidEvent)
	}
	e.After.ID = e.OrderID
	switch e.Type {
	case TypeCreated:
		return nil
	case TypeUpdated:
		if e.Before == nil {
			return fmt.Errorf("%w: update without before", ErrInvalidEvent)
		}
		e.Before.ID = e.OrderID
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, e.Type)
	}
}

// Handler is implemented by assignment.Triggers.
type Handler interface {
	OrderCreated(ctx context.Context, o *models.Order) (assignment.Result, error)
	OrderUpdated(ctx context.Context, before, after *models.Order) (assignment.Result, error)
}

// Route validates ev and hands it to the matching trigger.
func Route(ctx context.Context, h Handler, ev OrderEvent) (assignment.Result, error) {
	if err := ev.Validate(); err != nil {
		return assignment.Result{}, err
	}
	if ev.Type == TypeCreated {
		return h.OrderCreated(ctx, ev.After)
	}
	return h.OrderUpdated(ctx, ev.Before, ev.After)
}

// RouteWithRetry retries failed handling with exponential backoff. Invalid
// events are not retried.
func RouteWithRetry(ctx context.Context, h Handler, ev OrderEvent, attempts int, delay time.Duration) (assignment.Result, error) {
	var (
		res assignment.Result
		err error
	)
	for i := 0; i < attempts; i++ {
		res, err = Route(ctx, h, ev)
		if err == nil || errors.Is(err, ErrInvalidEvent) || i == attempts-1 {
			return res, err
		}
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return res, err
}
