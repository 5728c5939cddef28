package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/driver-dispatch/internal/models"
)

// FirestoreStore is the production Store, backed by Cloud Firestore.
type FirestoreStore struct {
	client *firestore.Client
	logger *slog.Logger
}

func NewFirestoreStore(client *firestore.Client, logger *slog.Logger) *FirestoreStore {
	return &FirestoreStore{client: client, logger: logger.With("component", "firestore_store")}
}

func (f *FirestoreStore) orders() *firestore.CollectionRef {
	return f.client.Collection(OrdersCollection)
}

func (f *FirestoreStore) drivers() *firestore.CollectionRef {
	return f.client.Collection(DriversCollection)
}

func (f *FirestoreStore) Order(ctx context.Context, id string) (*models.Order, error) {
	snap, err := f.orders().Doc(id).Get(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	return decodeOrder(snap)
}

// OrdersByAssignmentStatus skips documents that fail to decode; a malformed
// order is treated as having nothing to do.
func (f *FirestoreStore) OrdersByAssignmentStatus(ctx context.Context, statuses ...models.AssignmentStatus) ([]*models.Order, error) {
	vals := make([]string, len(statuses))
	for i, s := range statuses {
		vals[i] = string(s)
	}
	snaps, err := f.orders().Where(models.FieldAssignmentStatus, "in", vals).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	out := make([]*models.Order, 0, len(snaps))
	for _, snap := range snaps {
		o, err := decodeOrder(snap)
		if err != nil {
			f.logger.Warn("skipping malformed order", "order_id", snap.Ref.ID, "error", err)
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (f *FirestoreStore) Driver(ctx context.Context, id string) (*models.Driver, error) {
	snap, err := f.drivers().Doc(id).Get(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	var d models.Driver
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("decode driver %s: %w", id, err)
	}
	d.ID = snap.Ref.ID
	return &d, nil
}

func (f *FirestoreStore) AvailableDrivers(ctx context.Context) ([]*models.Driver, error) {
	snaps, err := f.drivers().
		Where(models.FieldIsOnline, "==", true).
		Where(models.FieldIsAvailable, "==", true).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query drivers: %w", err)
	}
	out := make([]*models.Driver, 0, len(snaps))
	for _, snap := range snaps {
		var d models.Driver
		if err := snap.DataTo(&d); err != nil {
			f.logger.Warn("skipping malformed driver", "driver_id", snap.Ref.ID, "error", err)
			continue
		}
		d.ID = snap.Ref.ID
		out = append(out, &d)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *FirestoreStore) ActiveAdminTokens(ctx context.Context) ([]string, error) {
	snaps, err := f.client.Collection(AdminsCollection).
		Where(models.FieldAdminIsActive, "==", true).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query admins: %w", err)
	}
	var tokens []string
	for _, snap := range snaps {
		var a models.Admin
		if err := snap.DataTo(&a); err != nil {
			f.logger.Warn("skipping malformed admin", "admin_id", snap.Ref.ID, "error", err)
			continue
		}
		if a.FCMToken != "" {
			tokens = append(tokens, a.FCMToken)
		}
	}
	return tokens, nil
}

func (f *FirestoreStore) UpdateDriver(ctx context.Context, id string, updates []Update) error {
	_, err := f.drivers().Doc(id).Update(ctx, toFirestore(updates))
	return mapErr(err)
}

func (f *FirestoreStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	err := f.client.RunTransaction(ctx, func(ctx context.Context, t *firestore.Transaction) error {
		return fn(ctx, &fsTx{store: f, tx: t})
	})
	if status.Code(err) == codes.Aborted {
		return ErrConflict
	}
	return err
}

type fsTx struct {
	store *FirestoreStore
	tx    *firestore.Transaction
}

func (t *fsTx) Order(id string) (*models.Order, error) {
	snap, err := t.tx.Get(t.store.orders().Doc(id))
	if err != nil {
		return nil, mapErr(err)
	}
	return decodeOrder(snap)
}

func (t *fsTx) UpdateOrder(id string, updates []Update) error {
	return t.tx.Update(t.store.orders().Doc(id), toFirestore(updates))
}

func decodeOrder(snap *firestore.DocumentSnapshot) (*models.Order, error) {
	var o models.Order
	if err := snap.DataTo(&o); err != nil {
		return nil, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
	}
	o.ID = snap.Ref.ID
	return &o, nil
}

func toFirestore(updates []Update) []firestore.Update {
	out := make([]firestore.Update, 0, len(updates))
	for _, u := range updates {
		out = append(out, firestore.Update{Path: u.Field, Value: firestoreValue(u.Value)})
	}
	return out
}

func firestoreValue(v any) any {
	switch val := v.(type) {
	case deleteField:
		return firestore.Delete
	case serverTimestamp:
		return firestore.ServerTimestamp
	case arrayUnion:
		elems := make([]interface{}, len(val))
		for i, id := range val {
			elems[i] = id
		}
		return firestore.ArrayUnion(elems...)
	case models.AssignmentStatus:
		return string(val)
	default:
		return v
	}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	return err
}
