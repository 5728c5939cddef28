package assignment

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/driver-dispatch/internal/models"
	"github.com/example/driver-dispatch/internal/store"
)

func broadcastingOrder(id string, drivers ...string) *models.Order {
	timeout := testNow.Add(20 * time.Second)
	return &models.Order{
		ID:                id,
		Status:            models.OrderStatusSearching,
		AssignmentStatus:  models.AssignmentBroadcasting,
		PickupLocation:    pickup,
		OfferedDriverIDs:  drivers,
		AssignmentTimeout: &timeout,
	}
}

func TestAcceptConcurrentSingleWinner(t *testing.T) {
	h := newHarness()
	drivers := []string{"d1", "d2", "d3", "d4", "d5", "d6", "d7", "d8"}
	h.store.PutOrder(broadcastingOrder("o1", drivers...))

	var (
		wins   atomic.Int32
		winner atomic.Value
		wg     sync.WaitGroup
		start  = make(chan struct{})
	)
	for _, id := range drivers {
		wg.Add(1)
		go func(driverID string) {
			defer wg.Done()
			<-start
			won, err := h.machine.Accept(context.Background(), "o1", driverID)
			assert.NoError(t, err)
			if won {
				wins.Add(1)
				winner.Store(driverID)
			}
		}(id)
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
	o := h.order(t, "o1")
	assert.Equal(t, models.AssignmentAccepted, o.AssignmentStatus)
	assert.Equal(t, winner.Load(), o.AssignedDriverID)
	assert.Empty(t, o.OfferedDriverIDs)
	assert.Nil(t, o.AssignmentTimeout)
}

func TestAcceptByNonHolderIsNoOp(t *testing.T) {
	h := newHarness()
	o := broadcastingOrder("o1", "d1")
	o.RejectedByDrivers = []string{"d2"}
	h.store.PutOrder(o)

	for _, id := range []string{"d2", "d3"} {
		won, err := h.machine.Accept(context.Background(), "o1", id)
		require.NoError(t, err)
		assert.False(t, won)
	}
	assert.Equal(t, models.AssignmentBroadcasting, h.order(t, "o1").AssignmentStatus)
}

func TestAcceptMissingOrder(t *testing.T) {
	h := newHarness()
	won, err := h.machine.Accept(context.Background(), "nope", "d1")
	assert.False(t, won)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAcceptClearsLegacyDriverOffer(t *testing.T) {
	h := newHarness()
	timeout := testNow.Add(45 * time.Second)
	h.store.PutOrder(&models.Order{
		ID:                   "o1",
		AssignmentStatus:     models.AssignmentOffered,
		CurrentOfferedDriver: &models.OfferHolder{ID: "d1", OfferedAt: testNow},
		AssignmentTimeout:    &timeout,
	})
	d := onlineDriver("d1", north(1))
	d.CurrentOffer = &models.DriverOffer{OrderID: "o1", ExpiresAt: timeout}
	h.store.PutDriver(d)
	other := onlineDriver("d2", north(2))
	other.CurrentOffer = &models.DriverOffer{OrderID: "another", ExpiresAt: timeout}
	h.store.PutDriver(other)

	won, err := h.machine.Accept(context.Background(), "o1", "d1")
	require.NoError(t, err)
	require.True(t, won)

	got, err := h.store.Driver(context.Background(), "d1")
	require.NoError(t, err)
	assert.Nil(t, got.CurrentOffer)
	got, err = h.store.Driver(context.Background(), "d2")
	require.NoError(t, err)
	assert.NotNil(t, got.CurrentOffer, "offers for other orders are left alone")
}

func TestRejectLastHolderReturnsToSearching(t *testing.T) {
	h := newHarness()
	h.store.PutOrder(broadcastingOrder("o1", "d1", "d2"))

	ok, err := h.machine.Reject(context.Background(), "o1", "d1")
	require.NoError(t, err)
	require.True(t, ok)
	o := h.order(t, "o1")
	assert.Equal(t, models.AssignmentBroadcasting, o.AssignmentStatus)
	assert.Equal(t, []string{"d2"}, o.OfferedDriverIDs)
	assertExclusive(t, o)

	won, err := h.machine.Accept(context.Background(), "o1", "d1")
	require.NoError(t, err)
	assert.False(t, won, "a driver that declined cannot accept")

	ok, err = h.machine.Reject(context.Background(), "o1", "d2")
	require.NoError(t, err)
	require.True(t, ok)
	o = h.order(t, "o1")
	assert.Equal(t, models.AssignmentSearching, o.AssignmentStatus)
	assert.Equal(t, []string{"d1", "d2"}, o.RejectedByDrivers)
	assert.Nil(t, o.AssignmentTimeout)
}

func TestRejectWithInlineRetryOffersNextDrivers(t *testing.T) {
	h := newHarness()
	seedFiveDrivers(h.store)
	h.machine.Retry = h.bc
	h.store.PutOrder(broadcastingOrder("o1", "d1"))

	ok, err := h.machine.Reject(context.Background(), "o1", "d1")
	require.NoError(t, err)
	require.True(t, ok)

	o := h.order(t, "o1")
	assert.Equal(t, models.AssignmentBroadcasting, o.AssignmentStatus)
	assert.Equal(t, []string{"d2", "d3", "d4"}, o.OfferedDriverIDs)
	assertExclusive(t, o)
}

func TestResetReopensFailedOrder(t *testing.T) {
	h := newHarness()
	seedFiveDrivers(h.store)
	h.machine.Retry = h.bc
	h.store.PutOrder(&models.Order{
		ID:                "o1",
		AssignmentStatus:  models.AssignmentFailedNoDrivers,
		PickupLocation:    pickup,
		RejectedByDrivers: []string{"d1", "d2", "d3", "d4"},
	})

	ok, err := h.machine.Reset(context.Background(), "o1")
	require.NoError(t, err)
	require.True(t, ok)

	o := h.order(t, "o1")
	assert.Equal(t, models.AssignmentBroadcasting, o.AssignmentStatus)
	assert.Equal(t, []string{"d5"}, o.OfferedDriverIDs)
	assert.Equal(t, []string{"d1", "d2", "d3", "d4"}, o.RejectedByDrivers)
}

func TestResetRefusesAcceptedOrder(t *testing.T) {
	h := newHarness()
	h.store.PutOrder(&models.Order{ID: "o1", AssignmentStatus: models.AssignmentAccepted, AssignedDriverID: "d1"})

	ok, err := h.machine.Reset(context.Background(), "o1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "d1", h.order(t, "o1").AssignedDriverID)
}
