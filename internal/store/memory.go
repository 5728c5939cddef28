package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/driver-dispatch/internal/models"
)

// ChangeFunc observes a committed order write. before is nil for a newly
// created order.
type ChangeFunc func(before, after *models.Order)

// MemoryStore is an in-process Store. A single mutex serialises every
// transaction and batch, which trivially gives serializable isolation.
type MemoryStore struct {
	mu       sync.RWMutex
	orders   map[string]*models.Order
	drivers  map[string]*models.Driver
	admins   map[string]models.Admin
	watchers []ChangeFunc
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:  make(map[string]*models.Order),
		drivers: make(map[string]*models.Driver),
		admins:  make(map[string]models.Admin),
		now:     time.Now,
	}
}

// Watch registers fn to be called asynchronously after every committed order write.
func (m *MemoryStore) Watch(fn ChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers = append(m.watchers, fn)
}

// PutOrder creates or replaces an order document.
func (m *MemoryStore) PutOrder(o *models.Order) {
	m.mu.Lock()
	before := m.orders[o.ID].Clone()
	m.orders[o.ID] = o.Clone()
	m.mu.Unlock()
	m.emit([]change{{before: before, after: o.Clone()}})
}

// PutDriver creates or replaces a driver document.
func (m *MemoryStore) PutDriver(d *models.Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.ID] = d.Clone()
}

// PutAdmin creates or replaces an admin document.
func (m *MemoryStore) PutAdmin(a models.Admin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admins[a.ID] = a
}

func (m *MemoryStore) ActiveAdminTokens(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.admins))
	for id := range m.admins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var tokens []string
	for _, id := range ids {
		if a := m.admins[id]; a.IsActive && a.FCMToken != "" {
			tokens = append(tokens, a.FCMToken)
		}
	}
	return tokens, nil
}

func (m *MemoryStore) Order(_ context.Context, id string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

func (m *MemoryStore) OrdersByAssignmentStatus(_ context.Context, statuses ...models.AssignmentStatus) ([]*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Order
	for _, o := range m.orders {
		for _, s := range statuses {
			if o.AssignmentStatus == s {
				out = append(out, o.Clone())
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Driver(_ context.Context, id string) (*models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

func (m *MemoryStore) AvailableDrivers(_ context.Context) ([]*models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		if d.IsOnline && d.IsAvailable {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) UpdateDriver(_ context.Context, id string, updates []Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return ErrNotFound
	}
	c := d.Clone()
	if err := ApplyDriver(c, updates); err != nil {
		return err
	}
	m.drivers[id] = c
	return nil
}

func (m *MemoryStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	tx := &memTx{store: m, staged: make(map[string]*models.Order)}
	if err := fn(ctx, tx); err != nil {
		m.mu.Unlock()
		return err
	}
	changes := tx.commit()
	m.mu.Unlock()
	m.emit(changes)
	return nil
}

type change struct{ before, after *models.Order }

func (m *MemoryStore) emit(changes []change) {
	m.mu.RLock()
	watchers := append([]ChangeFunc(nil), m.watchers...)
	m.mu.RUnlock()
	for _, w := range watchers {
		for _, c := range changes {
			go w(c.before, c.after)
		}
	}
}

type memTx struct {
	store  *MemoryStore
	staged map[string]*models.Order
	order  []string
}

func (t *memTx) Order(id string) (*models.Order, error) {
	if o, ok := t.staged[id]; ok {
		return o.Clone(), nil
	}
	o, ok := t.store.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

func (t *memTx) UpdateOrder(id string, updates []Update) error {
	o, ok := t.staged[id]
	if !ok {
		cur, exists := t.store.orders[id]
		if !exists {
			return ErrNotFound
		}
		o = cur.Clone()
		t.staged[id] = o
		t.order = append(t.order, id)
	}
	return ApplyOrder(o, updates, t.store.now())
}

func (t *memTx) commit() []change {
	out := make([]change, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, change{before: t.store.orders[id], after: t.staged[id].Clone()})
		t.store.orders[id] = t.staged[id]
	}
	return out
}
