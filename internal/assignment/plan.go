package assignment

import (
	"time"

	"github.com/example/driver-dispatch/internal/models"
	"github.com/example/driver-dispatch/internal/store"
)

// The planners below are pure: given an order as read inside a transaction
// they return the writes to apply. Handlers own the I/O.

type offerPlan struct {
	selected  []Candidate
	expiresAt time.Time
	updates   []store.Update
}

func (p offerPlan) failed() bool { return len(p.selected) == 0 }

func (p offerPlan) driverIDs() []string {
	ids := make([]string, len(p.selected))
	for i, c := range p.selected {
		ids[i] = c.Driver.ID
	}
	return ids
}

// planOffer picks the first batchSize candidates not rejected on o and builds
// either the broadcasting write or the failed_no_drivers write.
func planOffer(o *models.Order, candidates []Candidate, batchSize int, window time.Duration, now time.Time) offerPlan {
	selected := make([]Candidate, 0, batchSize)
	for _, c := range candidates {
		if len(selected) == batchSize {
			break
		}
		if o.HasRejected(c.Driver.ID) {
			continue
		}
		selected = append(selected, c)
	}

	if len(selected) == 0 {
		return offerPlan{updates: []store.Update{
			{Field: models.FieldAssignmentStatus, Value: models.AssignmentFailedNoDrivers},
			{Field: models.FieldNotificationSentToAdmin, Value: false},
			{Field: models.FieldUpdatedAt, Value: store.ServerTimestamp},
		}}
	}

	p := offerPlan{selected: selected, expiresAt: now.Add(window)}
	p.updates = []store.Update{
		{Field: models.FieldStatus, Value: models.OrderStatusSearching},
		{Field: models.FieldAssignmentStatus, Value: models.AssignmentBroadcasting},
		{Field: models.FieldOfferedDriverIDs, Value: p.driverIDs()},
		{Field: models.FieldAssignmentTimeout, Value: p.expiresAt},
		{Field: models.FieldUpdatedAt, Value: store.ServerTimestamp},
	}
	return p
}

// planExpiry returns the writes that move an expired offer back to searching,
// marking every holder as rejected. ok is false when nothing is due.
func planExpiry(o *models.Order, now time.Time) (updates []store.Update, holders []string, ok bool) {
	if !o.AssignmentStatus.IsOffering() || o.AssignmentTimeout == nil || o.AssignmentTimeout.IsZero() {
		return nil, nil, false
	}
	if now.Before(*o.AssignmentTimeout) {
		return nil, nil, false
	}
	holders = o.OfferHolders()
	updates = []store.Update{{Field: models.FieldAssignmentStatus, Value: models.AssignmentSearching}}
	if len(holders) > 0 {
		updates = append(updates, store.Update{Field: models.FieldRejectedByDrivers, Value: store.ArrayUnion(holders...)})
	}
	updates = append(updates, clearOfferFields()...)
	updates = append(updates, store.Update{Field: models.FieldUpdatedAt, Value: store.ServerTimestamp})
	return updates, holders, true
}

// planAccept returns the winning writes when driverID still holds a live offer.
func planAccept(o *models.Order, driverID string) ([]store.Update, bool) {
	if !CanTransition(o.AssignmentStatus, models.AssignmentAccepted) || !o.HoldsOffer(driverID) {
		return nil, false
	}
	updates := []store.Update{
		{Field: models.FieldAssignmentStatus, Value: models.AssignmentAccepted},
		{Field: models.FieldStatus, Value: models.OrderStatusAssigned},
		{Field: models.FieldAssignedDriverID, Value: driverID},
	}
	updates = append(updates, clearOfferFields()...)
	return append(updates, store.Update{Field: models.FieldUpdatedAt, Value: store.ServerTimestamp}), true
}

// planReject removes driverID from the offer set and records the rejection.
// When no holder is left the order re-enters searching.
func planReject(o *models.Order, driverID string) ([]store.Update, bool) {
	if !o.AssignmentStatus.IsOffering() || !o.HoldsOffer(driverID) {
		return nil, false
	}
	updates := []store.Update{{Field: models.FieldRejectedByDrivers, Value: store.ArrayUnion(driverID)}}

	remaining := make([]string, 0, len(o.OfferedDriverIDs))
	for _, id := range o.OfferedDriverIDs {
		if id != driverID {
			remaining = append(remaining, id)
		}
	}
	legacyLeft := o.CurrentOfferedDriver != nil && o.CurrentOfferedDriver.ID != "" && o.CurrentOfferedDriver.ID != driverID

	if len(remaining) == 0 && !legacyLeft {
		updates = append(updates, store.Update{Field: models.FieldAssignmentStatus, Value: models.AssignmentSearching})
		updates = append(updates, clearOfferFields()...)
	} else {
		updates = append(updates, store.Update{Field: models.FieldOfferedDriverIDs, Value: remaining})
		if o.CurrentOfferedDriver != nil && o.CurrentOfferedDriver.ID == driverID {
			updates = append(updates, store.Update{Field: models.FieldCurrentOfferedDriver, Value: store.Delete})
		}
	}
	return append(updates, store.Update{Field: models.FieldUpdatedAt, Value: store.ServerTimestamp}), true
}

// planReset reopens the search without touching the rejection history.
func planReset(o *models.Order) ([]store.Update, bool) {
	if !CanReset(o.AssignmentStatus) {
		return nil, false
	}
	updates := []store.Update{{Field: models.FieldAssignmentStatus, Value: models.AssignmentSearching}}
	updates = append(updates, clearOfferFields()...)
	return append(updates, store.Update{Field: models.FieldUpdatedAt, Value: store.ServerTimestamp}), true
}

// planAdminNotified records a delivered admin alert. It only applies while the
// order is still failed and not yet marked, so a late write never touches an
// order that was reset and offered again.
func planAdminNotified(o *models.Order) ([]store.Update, bool) {
	if o.AssignmentStatus != models.AssignmentFailedNoDrivers {
		return nil, false
	}
	if o.NotificationSentToAdmin != nil && *o.NotificationSentToAdmin {
		return nil, false
	}
	return []store.Update{{Field: models.FieldNotificationSentToAdmin, Value: true}}, true
}

func clearOfferFields() []store.Update {
	return []store.Update{
		{Field: models.FieldOfferedDriverIDs, Value: store.Delete},
		{Field: models.FieldCurrentOfferedDriver, Value: store.Delete},
		{Field: models.FieldAssignmentTimeout, Value: store.Delete},
	}
}
