package store

import (
	"context"
	"errors"

	"github.com/example/driver-dispatch/internal/models"
)

// PlanFunc derives the writes for one order from its state as read inside the
// commit. Returning false drops the write: the order moved on and the queued
// change is stale.
type PlanFunc func(o *models.Order) ([]Update, bool)

// Batch accumulates guarded order writes and commits them in one transaction,
// so either every still-valid write lands or none does. All reads happen
// before the first write.
type Batch struct {
	store  Store
	writes []plannedWrite
}

type plannedWrite struct {
	id   string
	plan PlanFunc
}

func NewBatch(s Store) *Batch { return &Batch{store: s} }

func (b *Batch) UpdateOrder(id string, plan PlanFunc) {
	b.writes = append(b.writes, plannedWrite{id: id, plan: plan})
}

func (b *Batch) Len() int { return len(b.writes) }

// Commit returns the ids whose writes were applied. Orders deleted since they
// were queued are skipped.
func (b *Batch) Commit(ctx context.Context) ([]string, error) {
	if len(b.writes) == 0 {
		return nil, nil
	}
	var applied []string
	err := b.store.RunTransaction(ctx, func(_ context.Context, tx Tx) error {
		applied = applied[:0]
		type write struct {
			id      string
			updates []Update
		}
		var pending []write
		for _, w := range b.writes {
			o, err := tx.Order(w.id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if updates, ok := w.plan(o); ok {
				pending = append(pending, write{id: w.id, updates: updates})
			}
		}
		for _, w := range pending {
			if err := tx.UpdateOrder(w.id, w.updates); err != nil {
				return err
			}
			applied = append(applied, w.id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}
