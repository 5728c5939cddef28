package store

import (
	"context"
	"errors"

	"github.com/example/driver-dispatch/internal/models"
)

// Collection names shared by every backend.
const (
	OrdersCollection  = "orders"
	DriversCollection = "delivery"
	AdminsCollection  = "admins"
)

var (
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned when a transaction kept losing to concurrent writers.
	ErrConflict = errors.New("transaction conflict")
)

// Store is the transactional document store the assignment flow runs against.
// Reads outside a transaction are plain snapshots; every state-changing write
// to an order goes through RunTransaction (directly or via a Batch).
type Store interface {
	Order(ctx context.Context, id string) (*models.Order, error)
	OrdersByAssignmentStatus(ctx context.Context, statuses ...models.AssignmentStatus) ([]*models.Order, error)

	Driver(ctx context.Context, id string) (*models.Driver, error)
	// AvailableDrivers returns drivers with isOnline && isAvailable, ordered by id.
	AvailableDrivers(ctx context.Context) ([]*models.Driver, error)
	UpdateDriver(ctx context.Context, id string, updates []Update) error

	// RunTransaction runs fn under serializable isolation scoped to the
	// documents it touches. fn may be invoked more than once on conflict.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// AdminDirectory lists where admin alerts go.
type AdminDirectory interface {
	// ActiveAdminTokens returns the FCM tokens of active admins, skipping
	// admins without one.
	ActiveAdminTokens(ctx context.Context) ([]string, error)
}

var (
	_ AdminDirectory = (*MemoryStore)(nil)
	_ AdminDirectory = (*PostgresStore)(nil)
	_ AdminDirectory = (*FirestoreStore)(nil)
)

// Tx is the read/write view handed to a transaction function. All reads must
// happen before the first write.
type Tx interface {
	Order(id string) (*models.Order, error)
	UpdateOrder(id string, updates []Update) error
}

// Update is a merge-style write of one field.
type Update struct {
	Field string
	Value any
}

type deleteField struct{}

type serverTimestamp struct{}

type arrayUnion []string

var (
	// Delete removes the field from the document.
	Delete any = deleteField{}
	// ServerTimestamp is replaced by the store's commit time.
	ServerTimestamp any = serverTimestamp{}
)

// ArrayUnion appends ids that are not already present in a set-valued field.
func ArrayUnion(ids ...string) any { return arrayUnion(ids) }
