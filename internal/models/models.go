package models

import "time"

// Coord is a latitude/longitude pair. A nil *Coord means the location is unknown;
// (0,0) is a real point.
type Coord struct {
	Lat float64 `json:"latitude" firestore:"latitude"`
	Lon float64 `json:"longitude" firestore:"longitude"`
}

// OfferHolder is the legacy single-offer record kept on an order.
type OfferHolder struct {
	ID        string    `json:"id" firestore:"id"`
	OfferedAt time.Time `json:"offeredAt" firestore:"offeredAt"`
}

// DriverOffer is the legacy back-reference a driver keeps to the order it holds.
type DriverOffer struct {
	OrderID   string    `json:"orderId" firestore:"orderId"`
	ExpiresAt time.Time `json:"expiresAt" firestore:"expiresAt"`
}

type Customer struct {
	Name string `json:"name" firestore:"name"`
}

type Order struct {
	ID                      string           `json:"id" firestore:"-"`
	Status                  string           `json:"status" firestore:"status"`
	AssignmentStatus        AssignmentStatus `json:"assignmentStatus,omitempty" firestore:"assignmentStatus,omitempty"`
	PickupLocation          *Coord           `json:"pickupLocation,omitempty" firestore:"pickupLocation,omitempty"`
	RejectedByDrivers       []string         `json:"rejectedByDrivers,omitempty" firestore:"rejectedByDrivers,omitempty"`
	OfferedDriverIDs        []string         `json:"offeredDriverIds,omitempty" firestore:"offeredDriverIds,omitempty"`
	CurrentOfferedDriver    *OfferHolder     `json:"currentOfferedDriver,omitempty" firestore:"currentOfferedDriver,omitempty"`
	AssignmentTimeout       *time.Time       `json:"assignmentTimeout,omitempty" firestore:"assignmentTimeout,omitempty"`
	AssignedDriverID        string           `json:"assignedDriverId,omitempty" firestore:"assignedDriverId,omitempty"`
	NotificationSentToAdmin *bool            `json:"notificationSentToAdmin,omitempty" firestore:"notificationSentToAdmin,omitempty"`
	OrderNumber             string           `json:"orderNumber,omitempty" firestore:"orderNumber,omitempty"`
	CustomerSnapshot        *Customer        `json:"customerSnapshot,omitempty" firestore:"customerSnapshot,omitempty"`
	TotalAmount             float64          `json:"totalAmount,omitempty" firestore:"totalAmount,omitempty"`
	CreatedAt               time.Time        `json:"createdAt,omitempty" firestore:"createdAt,omitempty"`
	UpdatedAt               time.Time        `json:"updatedAt,omitempty" firestore:"updatedAt,omitempty"`
}

// OfferHolders returns every driver id currently holding an offer on the order:
// the broadcast set plus the legacy single holder, deduplicated, in that order.
func (o *Order) OfferHolders() []string {
	out := make([]string, 0, len(o.OfferedDriverIDs)+1)
	seen := make(map[string]struct{}, len(o.OfferedDriverIDs)+1)
	for _, id := range o.OfferedDriverIDs {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if o.CurrentOfferedDriver != nil && o.CurrentOfferedDriver.ID != "" {
		if _, dup := seen[o.CurrentOfferedDriver.ID]; !dup {
			out = append(out, o.CurrentOfferedDriver.ID)
		}
	}
	return out
}

// HoldsOffer reports whether driverID is one of the order's current offer holders.
func (o *Order) HoldsOffer(driverID string) bool {
	for _, id := range o.OfferHolders() {
		if id == driverID {
			return true
		}
	}
	return false
}

// HasRejected reports whether driverID is in the order's rejection set.
func (o *Order) HasRejected(driverID string) bool {
	for _, id := range o.RejectedByDrivers {
		if id == driverID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so stores never hand out shared slices.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.RejectedByDrivers = append([]string(nil), o.RejectedByDrivers...)
	c.OfferedDriverIDs = append([]string(nil), o.OfferedDriverIDs...)
	if o.PickupLocation != nil {
		p := *o.PickupLocation
		c.PickupLocation = &p
	}
	if o.CurrentOfferedDriver != nil {
		h := *o.CurrentOfferedDriver
		c.CurrentOfferedDriver = &h
	}
	if o.AssignmentTimeout != nil {
		t := *o.AssignmentTimeout
		c.AssignmentTimeout = &t
	}
	if o.NotificationSentToAdmin != nil {
		b := *o.NotificationSentToAdmin
		c.NotificationSentToAdmin = &b
	}
	if o.CustomerSnapshot != nil {
		cs := *o.CustomerSnapshot
		c.CustomerSnapshot = &cs
	}
	return &c
}

type Driver struct {
	ID              string       `json:"id" firestore:"-"`
	IsOnline        bool         `json:"isOnline" firestore:"isOnline"`
	IsAvailable     bool         `json:"isAvailable" firestore:"isAvailable"`
	CurrentLocation *Coord       `json:"currentLocation,omitempty" firestore:"currentLocation,omitempty"`
	FCMToken        string       `json:"fcmToken,omitempty" firestore:"fcmToken,omitempty"`
	CurrentOffer    *DriverOffer `json:"currentOffer,omitempty" firestore:"currentOffer,omitempty"`
}

func (d *Driver) Clone() *Driver {
	if d == nil {
		return nil
	}
	c := *d
	if d.CurrentLocation != nil {
		l := *d.CurrentLocation
		c.CurrentLocation = &l
	}
	if d.CurrentOffer != nil {
		co := *d.CurrentOffer
		c.CurrentOffer = &co
	}
	return &c
}

// Admin is an operator account that receives alerts about unassigned orders.
type Admin struct {
	ID       string `json:"id" firestore:"-"`
	IsActive bool   `json:"isActive" firestore:"isActive"`
	FCMToken string `json:"fcmToken,omitempty" firestore:"fcmToken,omitempty"`
}

// OfferNotification is what a driver's device receives when an order is offered.
type OfferNotification struct {
	OrderID      string    `json:"orderId"`
	OrderNumber  string    `json:"orderNumber"`
	DriverID     string    `json:"driverId"`
	CustomerName string    `json:"customerName"`
	Amount       float64   `json:"amount"`
	ExpiresAt    time.Time `json:"expiresAt"`
	SentAt       time.Time `json:"sentAt"`
}
