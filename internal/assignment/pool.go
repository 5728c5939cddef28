package assignment

import (
	"context"
	"fmt"
	"sort"

	"github.com/example/driver-dispatch/internal/geo"
	"github.com/example/driver-dispatch/internal/models"
)

// DriverSource lists drivers that are online and available, in ascending id order.
type DriverSource interface {
	AvailableDrivers(ctx context.Context) ([]*models.Driver, error)
}

// Candidate is an eligible driver ranked by distance to the pickup point.
type Candidate struct {
	Driver     *models.Driver
	DistanceKm float64
}

type Pool struct {
	Drivers DriverSource
}

// FindEligible returns the available drivers not in excluded, nearest first.
// Equal distances keep the source order, so drivers without a location stay in
// id order at the tail. An empty result is not an error.
func (p *Pool) FindEligible(ctx context.Context, pickup *models.Coord, excluded []string) ([]Candidate, error) {
	drivers, err := p.Drivers.AvailableDrivers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list available drivers: %w", err)
	}
	skip := make(map[string]struct{}, len(excluded))
	for _, id := range excluded {
		skip[id] = struct{}{}
	}
	out := make([]Candidate, 0, len(drivers))
	for _, d := range drivers {
		if _, ok := skip[d.ID]; ok {
			continue
		}
		out = append(out, Candidate{Driver: d, DistanceKm: geo.DistanceKm(pickup, d.CurrentLocation)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out, nil
}
