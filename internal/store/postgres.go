package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/example/driver-dispatch/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id  TEXT PRIMARY KEY,
	doc JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_assignment_status_idx ON orders ((doc->>'assignmentStatus'));
CREATE TABLE IF NOT EXISTS delivery (
	id  TEXT PRIMARY KEY,
	doc JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS admins (
	id  TEXT PRIMARY KEY,
	doc JSONB NOT NULL
);
`

// PostgresStore keeps orders and drivers as JSONB documents. Transactions run
// at SERIALIZABLE with row locks and are retried on serialization failures.
type PostgresStore struct {
	db          *sql.DB
	maxAttempts int
	now         func() time.Time
	logger      *slog.Logger
}

func NewPostgresStore(dsn string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return NewPostgresStoreWithDB(db, logger), nil
}

func NewPostgresStoreWithDB(db *sql.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:          db,
		maxAttempts: 5,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger.With("component", "postgres_store"),
	}
}

// Migrate creates the document tables if they do not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Order(ctx context.Context, id string) (*models.Order, error) {
	row := p.db.QueryRowContext(ctx, `SELECT doc FROM orders WHERE id = $1`, id)
	return scanOrder(id, row)
}

// OrdersByAssignmentStatus skips documents that fail to decode; a malformed
// order is treated as having nothing to do.
func (p *PostgresStore) OrdersByAssignmentStatus(ctx context.Context, statuses ...models.AssignmentStatus) ([]*models.Order, error) {
	vals := make([]string, len(statuses))
	for i, s := range statuses {
		vals[i] = string(s)
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id, doc FROM orders WHERE doc->>'assignmentStatus' = ANY($1) ORDER BY id`, pq.Array(vals))
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()
	var out []*models.Order
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var o models.Order
		if err := json.Unmarshal(raw, &o); err != nil {
			p.logger.Warn("skipping malformed order", "order_id", id, "error", err)
			continue
		}
		o.ID = id
		out = append(out, &o)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Driver(ctx context.Context, id string) (*models.Driver, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx, `SELECT doc FROM delivery WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var d models.Driver
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode driver %s: %w", id, err)
	}
	d.ID = id
	return &d, nil
}

func (p *PostgresStore) AvailableDrivers(ctx context.Context) ([]*models.Driver, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, doc FROM delivery WHERE (doc->>'isOnline')::boolean AND (doc->>'isAvailable')::boolean ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query drivers: %w", err)
	}
	defer rows.Close()
	var out []*models.Driver
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var d models.Driver
		if err := json.Unmarshal(raw, &d); err != nil {
			p.logger.Warn("skipping malformed driver", "driver_id", id, "error", err)
			continue
		}
		d.ID = id
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ActiveAdminTokens(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, doc->>'fcmToken' FROM admins WHERE (doc->>'isActive')::boolean ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query admins: %w", err)
	}
	defer rows.Close()
	var tokens []string
	for rows.Next() {
		var id string
		var token sql.NullString
		if err := rows.Scan(&id, &token); err != nil {
			return nil, err
		}
		if token.Valid && token.String != "" {
			tokens = append(tokens, token.String)
		}
	}
	return tokens, rows.Err()
}

func (p *PostgresStore) UpdateDriver(ctx context.Context, id string, updates []Update) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck
	var raw []byte
	err = tx.QueryRowContext(ctx, `SELECT doc FROM delivery WHERE id = $1 FOR UPDATE`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	var d models.Driver
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("decode driver %s: %w", id, err)
	}
	d.ID = id
	if err := ApplyDriver(&d, updates); err != nil {
		return err
	}
	b, err := json.Marshal(&d)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE delivery SET doc = $1 WHERE id = $2`, b, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		err := p.runOnce(ctx, fn)
		if !isSerializationFailure(err) {
			return err
		}
	}
	return ErrConflict
}

func (p *PostgresStore) runOnce(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sqlTx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer sqlTx.Rollback() //nolint:errcheck

	tx := &pgTx{ctx: ctx, tx: sqlTx, now: p.now(), staged: make(map[string]*models.Order)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for _, id := range tx.order {
		b, err := json.Marshal(tx.staged[id])
		if err != nil {
			return err
		}
		if _, err := sqlTx.ExecContext(ctx, `UPDATE orders SET doc = $1 WHERE id = $2`, b, id); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

type pgTx struct {
	ctx    context.Context
	tx     *sql.Tx
	now    time.Time
	staged map[string]*models.Order
	order  []string
}

func (t *pgTx) Order(id string) (*models.Order, error) {
	if o, ok := t.staged[id]; ok {
		return o.Clone(), nil
	}
	row := t.tx.QueryRowContext(t.ctx, `SELECT doc FROM orders WHERE id = $1 FOR UPDATE`, id)
	return scanOrder(id, row)
}

func (t *pgTx) UpdateOrder(id string, updates []Update) error {
	o, ok := t.staged[id]
	if !ok {
		var err error
		if o, err = t.Order(id); err != nil {
			return err
		}
		t.staged[id] = o
		t.order = append(t.order, id)
	}
	return ApplyOrder(o, updates, t.now)
}

func scanOrder(id string, row *sql.Row) (*models.Order, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var o models.Order
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("decode order %s: %w", id, err)
	}
	o.ID = id
	return &o, nil
}

// 40001 serialization_failure, 40P01 deadlock_detected
func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}
