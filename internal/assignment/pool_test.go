package assignment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/driver-dispatch/internal/geo"
	"github.com/example/driver-dispatch/internal/models"
	"github.com/example/driver-dispatch/internal/store"
)

func candidateIDs(cs []Candidate) []string {
	ids := make([]string, len(cs))
	for i, c := range cs {
		ids[i] = c.Driver.ID
	}
	return ids
}

func TestFindEligibleSortsByDistance(t *testing.T) {
	m := store.NewMemoryStore()
	m.PutDriver(onlineDriver("a", north(4)))
	m.PutDriver(onlineDriver("b", north(1)))
	m.PutDriver(onlineDriver("c", north(3)))
	m.PutDriver(onlineDriver("d", north(2)))

	got, err := (&Pool{Drivers: m}).FindEligible(context.Background(), pickup, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "d", "c", "a"}, candidateIDs(got))
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].DistanceKm, got[i].DistanceKm)
	}
	assert.InDelta(t, 1.0, got[0].DistanceKm, 0.01)
}

func TestFindEligibleMissingLocationSortsLastInIDOrder(t *testing.T) {
	m := store.NewMemoryStore()
	m.PutDriver(onlineDriver("z-missing", nil))
	m.PutDriver(onlineDriver("a-missing", nil))
	m.PutDriver(onlineDriver("far", north(800)))
	m.PutDriver(onlineDriver("near", north(1)))

	got, err := (&Pool{Drivers: m}).FindEligible(context.Background(), pickup, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "far", "a-missing", "z-missing"}, candidateIDs(got))
	assert.Equal(t, geo.Unreachable, got[3].DistanceKm)
}

func TestFindEligibleTreatsZeroCoordinateAsReal(t *testing.T) {
	m := store.NewMemoryStore()
	m.PutDriver(onlineDriver("equator", &models.Coord{Lat: 0, Lon: 0.01}))
	m.PutDriver(onlineDriver("unknown", nil))

	got, err := (&Pool{Drivers: m}).FindEligible(context.Background(), &models.Coord{Lat: 0, Lon: 0}, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "equator", got[0].Driver.ID)
	assert.Less(t, got[0].DistanceKm, 2.0)
}

func TestFindEligibleExcludesRejectedAndUnavailable(t *testing.T) {
	m := store.NewMemoryStore()
	m.PutDriver(onlineDriver("d1", north(1)))
	m.PutDriver(onlineDriver("d2", north(2)))
	m.PutDriver(&models.Driver{ID: "offline", IsOnline: false, IsAvailable: true, CurrentLocation: north(0.1)})
	m.PutDriver(&models.Driver{ID: "busy", IsOnline: true, IsAvailable: false, CurrentLocation: north(0.1)})

	got, err := (&Pool{Drivers: m}).FindEligible(context.Background(), pickup, []string{"d1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"d2"}, candidateIDs(got))
}

func TestFindEligibleEmptyIsNotAnError(t *testing.T) {
	got, err := (&Pool{Drivers: store.NewMemoryStore()}).FindEligible(context.Background(), pickup, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

type failingSource struct{}

func (failingSource) AvailableDrivers(context.Context) ([]*models.Driver, error) {
	return nil, errors.New("store down")
}

func TestFindEligiblePropagatesStoreErrors(t *testing.T) {
	_, err := (&Pool{Drivers: failingSource{}}).FindEligible(context.Background(), pickup, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store down")
}
