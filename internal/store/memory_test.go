package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/driver-dispatch/internal/models"
)

func TestMemoryStoreAvailableDriversOrderedByID(t *testing.T) {
	m := NewMemoryStore()
	m.PutDriver(&models.Driver{ID: "c", IsOnline: true, IsAvailable: true})
	m.PutDriver(&models.Driver{ID: "a", IsOnline: true, IsAvailable: true})
	m.PutDriver(&models.Driver{ID: "b", IsOnline: true, IsAvailable: false})
	m.PutDriver(&models.Driver{ID: "d", IsOnline: false, IsAvailable: true})

	got, err := m.AvailableDrivers(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
}

func TestMemoryStoreReadsAreCopies(t *testing.T) {
	m := NewMemoryStore()
	m.PutOrder(&models.Order{ID: "o1", RejectedByDrivers: []string{"d1"}})

	o, err := m.Order(context.Background(), "o1")
	require.NoError(t, err)
	o.RejectedByDrivers[0] = "mutated"

	again, err := m.Order(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, again.RejectedByDrivers)
}

func TestMemoryStoreTransactionRollsBackOnError(t *testing.T) {
	m := NewMemoryStore()
	m.PutOrder(&models.Order{ID: "o1", AssignmentStatus: models.AssignmentSearching})
	boom := errors.New("boom")

	err := m.RunTransaction(context.Background(), func(_ context.Context, tx Tx) error {
		if err := tx.UpdateOrder("o1", []Update{{Field: models.FieldAssignmentStatus, Value: models.AssignmentBroadcasting}}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	o, _ := m.Order(context.Background(), "o1")
	assert.Equal(t, models.AssignmentSearching, o.AssignmentStatus)
}

func TestMemoryStoreWatchReportsBeforeAndAfter(t *testing.T) {
	m := NewMemoryStore()
	m.PutOrder(&models.Order{ID: "o1", AssignmentStatus: models.AssignmentBroadcasting})

	seen := make(chan [2]models.AssignmentStatus, 1)
	m.Watch(func(before, after *models.Order) {
		seen <- [2]models.AssignmentStatus{before.AssignmentStatus, after.AssignmentStatus}
	})

	err := m.RunTransaction(context.Background(), func(_ context.Context, tx Tx) error {
		return tx.UpdateOrder("o1", []Update{{Field: models.FieldAssignmentStatus, Value: models.AssignmentSearching}})
	})
	require.NoError(t, err)

	select {
	case got := <-seen:
		assert.Equal(t, models.AssignmentBroadcasting, got[0])
		assert.Equal(t, models.AssignmentSearching, got[1])
	case <-time.After(time.Second):
		t.Fatal("watcher not called")
	}
}

func TestMemoryStoreMissingDocuments(t *testing.T) {
	m := NewMemoryStore()
	_, err := m.Order(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Driver(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.UpdateDriver(context.Background(), "nope", nil), ErrNotFound)
}

func TestMemoryStoreActiveAdminTokens(t *testing.T) {
	m := NewMemoryStore()
	m.PutAdmin(models.Admin{ID: "b", IsActive: true, FCMToken: "tok-b"})
	m.PutAdmin(models.Admin{ID: "a", IsActive: true, FCMToken: "tok-a"})
	m.PutAdmin(models.Admin{ID: "c", IsActive: false, FCMToken: "tok-c"})
	m.PutAdmin(models.Admin{ID: "d", IsActive: true})

	tokens, err := m.ActiveAdminTokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-a", "tok-b"}, tokens)
}
