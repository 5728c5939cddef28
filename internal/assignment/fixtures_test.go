package assignment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/example/driver-dispatch/internal/models"
	"github.com/example/driver-dispatch/internal/store"
)

var (
	pickup    = &models.Coord{Lat: 52.52, Lon: 13.405}
	testNow   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	quietLogs = slog.New(slog.NewTextHandler(io.Discard, nil))
)

// north returns a point roughly km kilometres north of the pickup.
func north(km float64) *models.Coord {
	return &models.Coord{Lat: pickup.Lat + km/111.195, Lon: pickup.Lon}
}

func onlineDriver(id string, loc *models.Coord) *models.Driver {
	return &models.Driver{ID: id, IsOnline: true, IsAvailable: true, CurrentLocation: loc, FCMToken: "token-" + id}
}

// seedFiveDrivers places d1..d5 at 1..5 km from the pickup.
func seedFiveDrivers(m *store.MemoryStore) {
	for i, id := range []string{"d1", "d2", "d3", "d4", "d5"} {
		m.PutDriver(onlineDriver(id, north(float64(i+1))))
	}
}

func pendingOrder(id string) *models.Order {
	return &models.Order{ID: id, Status: "pending", PickupLocation: pickup, OrderNumber: "A-100", TotalAmount: 42.5, CustomerSnapshot: &models.Customer{Name: "Ada"}}
}

type fakeNotifier struct {
	mu     sync.Mutex
	sent   []models.OfferNotification
	failOn map[string]bool
}

func (f *fakeNotifier) Notify(_ context.Context, d *models.Driver, offer models.OfferNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[d.ID] {
		return errors.New("device unreachable")
	}
	f.sent = append(f.sent, offer)
	return nil
}

func (f *fakeNotifier) driverIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.sent))
	for _, n := range f.sent {
		ids = append(ids, n.DriverID)
	}
	return ids
}

type fakeAlerter struct {
	mu     sync.Mutex
	orders []string
	err    error
}

func (f *fakeAlerter) NoDrivers(_ context.Context, o *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, o.ID)
	return f.err
}

type harness struct {
	store    *store.MemoryStore
	notifier *fakeNotifier
	alerter  *fakeAlerter
	bc       *Broadcaster
	machine  *Machine
	sweeper  *Sweeper
	clock    time.Time
}

func newHarness() *harness {
	h := &harness{
		store:    store.NewMemoryStore(),
		notifier: &fakeNotifier{},
		alerter:  &fakeAlerter{},
		clock:    testNow,
	}
	now := func() time.Time { return h.clock }
	h.bc = &Broadcaster{
		Store:    h.store,
		Pool:     &Pool{Drivers: h.store},
		Notifier: h.notifier,
		Alerter:  h.alerter,
		Config:   DefaultConfig(),
		Logger:   quietLogs,
		Now:      now,
	}
	h.machine = &Machine{Store: h.store, Logger: quietLogs}
	h.sweeper = &Sweeper{Store: h.store, Logger: quietLogs, Now: now}
	return h
}

func (h *harness) order(t *testing.T, id string) *models.Order {
	t.Helper()
	o, err := h.store.Order(context.Background(), id)
	if err != nil {
		t.Fatalf("read order %s: %v", id, err)
	}
	return o
}

// assertExclusive checks that no offer holder is also a rejected driver.
func assertExclusive(t *testing.T, o *models.Order) {
	t.Helper()
	for _, id := range o.OfferHolders() {
		assert.False(t, o.HasRejected(id), "driver %s both offered and rejected on %s", id, o.ID)
	}
}
