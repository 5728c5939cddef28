package assignment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/driver-dispatch/internal/models"
	"github.com/example/driver-dispatch/internal/observability"
	"github.com/example/driver-dispatch/internal/store"
)

// maxBatchWrites matches Firestore's per-transaction write limit.
const maxBatchWrites = 500

// Sweeper expires offers whose window elapsed and sends the orders back to
// searching with every holder marked as rejected.
type Sweeper struct {
	Store  store.Store
	Logger *slog.Logger
	Now    func() time.Time
	// Retry, when set, re-broadcasts expired orders directly instead of
	// waiting for the order-updated trigger.
	Retry     *Broadcaster
	ChunkSize int
}

type SweepReport struct {
	Scanned int
	Expired []string
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Sweeper) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Sweep runs one pass. Writes are committed in transactional chunks; a failed
// chunk leaves its orders untouched for the next pass, which re-evaluates
// them from scratch.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	defer func() { observability.SweepDuration.Observe(time.Since(start).Seconds()) }()

	orders, err := s.Store.OrdersByAssignmentStatus(ctx, models.AssignmentBroadcasting, models.AssignmentOffered)
	if err != nil {
		return SweepReport{}, fmt.Errorf("scan offering orders: %w", err)
	}
	report := SweepReport{Scanned: len(orders)}
	now := s.now()

	var due []string
	for _, o := range orders {
		if _, _, ok := planExpiry(o, now); ok {
			due = append(due, o.ID)
		}
	}
	if len(due) == 0 {
		return report, nil
	}

	chunk := s.ChunkSize
	if chunk <= 0 || chunk > maxBatchWrites {
		chunk = maxBatchWrites
	}
	holders := make(map[string][]string, len(due))
	for i := 0; i < len(due); i += chunk {
		end := i + chunk
		if end > len(due) {
			end = len(due)
		}
		b := store.NewBatch(s.Store)
		for _, id := range due[i:end] {
			id := id
			b.UpdateOrder(id, func(o *models.Order) ([]store.Update, bool) {
				updates, h, ok := planExpiry(o, now)
				if ok {
					holders[id] = h
				}
				return updates, ok
			})
		}
		applied, err := b.Commit(ctx)
		if err != nil {
			return report, fmt.Errorf("commit expired offers: %w", err)
		}
		if skipped := b.Len() - len(applied); skipped > 0 {
			observability.StaleSkipsTotal.WithLabelValues("expire").Add(float64(skipped))
		}
		report.Expired = append(report.Expired, applied...)
	}

	observability.ExpiredOffersTotal.Add(float64(len(report.Expired)))
	log := s.logger()
	for _, id := range report.Expired {
		log.Info("offer expired, back to searching", "order_id", id, "rejected_now", holders[id])
		clearDriverOffers(ctx, s.Store, log, id, holders[id])
	}
	if s.Retry != nil {
		for _, id := range report.Expired {
			if _, err := s.Retry.Broadcast(ctx, id); err != nil {
				log.Error("re-broadcast after expiry failed", "order_id", id, "error", err)
			}
		}
	}
	return report, nil
}
