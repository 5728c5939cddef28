package models

// AssignmentStatus is the assignment sub-state of an order. The zero value is unset.
type AssignmentStatus string

const (
	AssignmentUnset           AssignmentStatus = ""
	AssignmentSearching       AssignmentStatus = "searching"
	AssignmentBroadcasting    AssignmentStatus = "broadcasting"
	AssignmentOffered         AssignmentStatus = "offered" // legacy single-offer protocol
	AssignmentAccepted        AssignmentStatus = "accepted"
	AssignmentFailedNoDrivers AssignmentStatus = "failed_no_drivers"
)

func (s AssignmentStatus) IsValid() bool {
	switch s {
	case AssignmentUnset, AssignmentSearching, AssignmentBroadcasting, AssignmentOffered,
		AssignmentAccepted, AssignmentFailedNoDrivers:
		return true
	default:
		return false
	}
}

// IsOffering reports whether one or more drivers currently hold a live offer.
func (s AssignmentStatus) IsOffering() bool {
	return s == AssignmentBroadcasting || s == AssignmentOffered
}

func (s AssignmentStatus) IsTerminal() bool {
	return s == AssignmentAccepted || s == AssignmentFailedNoDrivers
}

func (s AssignmentStatus) String() string {
	if s == AssignmentUnset {
		return "unset"
	}
	return string(s)
}

// Document field names as stored in the orders and drivers collections.
const (
	FieldStatus                  = "status"
	FieldAssignmentStatus        = "assignmentStatus"
	FieldRejectedByDrivers       = "rejectedByDrivers"
	FieldOfferedDriverIDs        = "offeredDriverIds"
	FieldCurrentOfferedDriver    = "currentOfferedDriver"
	FieldAssignmentTimeout       = "assignmentTimeout"
	FieldAssignedDriverID        = "assignedDriverId"
	FieldNotificationSentToAdmin = "notificationSentToAdmin"
	FieldUpdatedAt               = "updatedAt"

	FieldIsOnline     = "isOnline"
	FieldIsAvailable  = "isAvailable"
	FieldCurrentOffer = "currentOffer"

	FieldAdminIsActive = "isActive"
)

// Coarse order status labels written by the assignment flow.
const (
	OrderStatusSearching = "Searching"
	OrderStatusAssigned  = "assigned"
)
