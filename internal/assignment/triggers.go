package assignment

import (
	"context"
	"log/slog"
	"strings"

	"github.com/example/driver-dispatch/internal/models"
)

// ShouldStartSearch reports whether a newly created order enters the search.
// Only orders created as pending or new do.
func ShouldStartSearch(o *models.Order) bool {
	if o == nil {
		return false
	}
	s := strings.ToLower(strings.TrimSpace(o.Status))
	return s == "pending" || s == "new"
}

// BecameSearching reports whether an update rewrote assignmentStatus to
// searching from any other value.
func BecameSearching(before, after *models.Order) bool {
	if before == nil || after == nil {
		return false
	}
	return after.AssignmentStatus == models.AssignmentSearching &&
		before.AssignmentStatus != models.AssignmentSearching
}

// Triggers adapts order change events to broadcasts.
type Triggers struct {
	Broadcaster *Broadcaster
	Logger      *slog.Logger
}

func (t *Triggers) OrderCreated(ctx context.Context, o *models.Order) (Result, error) {
	if !ShouldStartSearch(o) {
		if o != nil {
			t.logger().Debug("new order not pending, no search", "order_id", o.ID, "status", o.Status)
		}
		return Result{Outcome: OutcomeSkipped}, nil
	}
	return t.Broadcaster.Broadcast(ctx, o.ID)
}

func (t *Triggers) OrderUpdated(ctx context.Context, before, after *models.Order) (Result, error) {
	if !BecameSearching(before, after) {
		return Result{Outcome: OutcomeSkipped}, nil
	}
	t.logger().Info("order back to searching, retrying", "order_id", after.ID, "rejected", len(after.RejectedByDrivers))
	return t.Broadcaster.Broadcast(ctx, after.ID)
}

func (t *Triggers) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}
