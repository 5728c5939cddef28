package assignment

import "github.com/example/driver-dispatch/internal/models"

// transitions is the single source of truth for automated assignment moves.
// unset behaves like searching: order creation enters the search implicitly.
var transitions = map[models.AssignmentStatus][]models.AssignmentStatus{
	models.AssignmentUnset:           {models.AssignmentSearching, models.AssignmentBroadcasting, models.AssignmentFailedNoDrivers},
	models.AssignmentSearching:       {models.AssignmentBroadcasting, models.AssignmentFailedNoDrivers},
	models.AssignmentBroadcasting:    {models.AssignmentAccepted, models.AssignmentSearching},
	models.AssignmentOffered:         {models.AssignmentAccepted, models.AssignmentSearching},
	models.AssignmentAccepted:        nil,
	models.AssignmentFailedNoDrivers: nil,
}

// CanTransition reports whether the automated flow may move an order from one
// assignment status to another.
func CanTransition(from, to models.AssignmentStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanReset reports whether an administrative reset to searching is allowed.
// Accepted orders belong to the delivery flow and are never reopened.
func CanReset(from models.AssignmentStatus) bool {
	return from != models.AssignmentAccepted && from != models.AssignmentSearching
}

func canOffer(s models.AssignmentStatus) bool {
	return CanTransition(s, models.AssignmentBroadcasting)
}
