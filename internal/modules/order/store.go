// README: Order persistence contract plus the PostgreSQL implementation.
package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"foodtrack/internal/types"
)

// Store persists orders. Save must be an optimistic compare-and-swap on
// StatusVersion so writers in other processes cannot be silently overwritten.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id types.ID) (*Order, error)
	Save(ctx context.Context, o *Order, expectedVersion int) (bool, error)
	AppendEvent(ctx context.Context, e *Event) error
	Events(ctx context.Context, id types.ID) ([]Event, error)
	ListByStatus(ctx context.Context, statuses []Status) ([]*Order, error)
	ListByCustomer(ctx context.Context, customerID types.ID, statuses []Status) ([]*Order, error)
	FindByTransaction(ctx context.Context, transactionID string) (*Order, error)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const orderColumns = `
	id, customer_id, status, status_version,
	dest_lat, dest_lng, delivery_address, delivery_phone,
	payment_method, payment_status, transaction_id,
	total_amount, currency,
	created_at, updated_at, picked_up_at, delivered_at, cancelled_at`

func (s *PGStore) Create(ctx context.Context, o *Order) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11,
			$12, $13,
			$14, $15, $16, $17, $18
		)`,
		string(o.ID), string(o.CustomerID), string(o.Status), o.StatusVersion,
		o.Destination.Lat, o.Destination.Lng, o.DeliveryAddress, o.DeliveryPhone,
		string(o.PaymentMethod), string(o.PaymentStatus), nullString(o.TransactionID),
		o.Total.Amount, o.Total.Currency,
		o.CreatedAt, o.UpdatedAt, o.PickedUpAt, o.DeliveredAt, o.CancelledAt,
	)
	if err != nil {
		return err
	}
	for i, it := range o.Items {
		_, err := tx.Exec(ctx, `
			INSERT INTO order_items (id, order_id, position, food_item_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			string(it.ID), string(o.ID), i, string(it.FoodItemID), it.Quantity, it.UnitPrice.Amount,
		)
		if err != nil {
			return fmt.Errorf("insert item %s: %w", it.ID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := loadItems(ctx, s.db, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

// Save writes status, payment and the surviving item set in one transaction.
// Items absent from o.Items are deleted; it reports false when another writer
// bumped the version first.
func (s *PGStore) Save(ctx context.Context, o *Order, expectedVersion int) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = $1,
			status_version = status_version + 1,
			payment_status = $2,
			transaction_id = COALESCE($3, transaction_id),
			total_amount = $4,
			updated_at = $5,
			picked_up_at = $6,
			delivered_at = $7,
			cancelled_at = $8
		WHERE id = $9 AND status_version = $10`,
		string(o.Status),
		string(o.PaymentStatus),
		nullString(o.TransactionID),
		o.Total.Amount,
		o.UpdatedAt,
		o.PickedUpAt,
		o.DeliveredAt,
		o.CancelledAt,
		string(o.ID),
		expectedVersion,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	keep := make([]string, len(o.Items))
	for i, it := range o.Items {
		keep[i] = string(it.ID)
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM order_items
		WHERE order_id = $1 AND NOT (id = ANY($2))`,
		string(o.ID), keep,
	); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PGStore) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO order_state_events (
			order_id, from_status, to_status, actor_type, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.OrderID),
		string(e.FromStatus),
		string(e.ToStatus),
		string(e.ActorType),
		toStringPtr(e.ActorID),
		e.CreatedAt,
	)
	return err
}

func (s *PGStore) Events(ctx context.Context, id types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, order_id, from_status, to_status, actor_type, actor_id, created_at
		FROM order_state_events
		WHERE order_id = $1
		ORDER BY id`, string(id),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var actorID *string
		if err := rows.Scan(&e.ID, &e.OrderID, &e.FromStatus, &e.ToStatus, &e.ActorType, &actorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actorID != nil {
			v := types.ID(*actorID)
			e.ActorID = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PGStore) ListByStatus(ctx context.Context, statuses []Status) ([]*Order, error) {
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE status = ANY($1) ORDER BY created_at`,
		statusStrings(statuses))
}

func (s *PGStore) ListByCustomer(ctx context.Context, customerID types.ID, statuses []Status) ([]*Order, error) {
	if len(statuses) == 0 {
		return s.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE customer_id = $1 ORDER BY created_at`,
			string(customerID))
	}
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE customer_id = $1 AND status = ANY($2) ORDER BY created_at`,
		string(customerID), statusStrings(statuses))
}

func (s *PGStore) FindByTransaction(ctx context.Context, transactionID string) (*Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE transaction_id = $1`, transactionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := loadItems(ctx, s.db, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *PGStore) list(ctx context.Context, query string, args ...any) ([]*Order, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := loadItems(ctx, s.db, out); err != nil {
		return nil, err
	}
	return out, nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var transactionID *string
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.Status, &o.StatusVersion,
		&o.Destination.Lat, &o.Destination.Lng, &o.DeliveryAddress, &o.DeliveryPhone,
		&o.PaymentMethod, &o.PaymentStatus, &transactionID,
		&o.Total.Amount, &o.Total.Currency,
		&o.CreatedAt, &o.UpdatedAt, &o.PickedUpAt, &o.DeliveredAt, &o.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	if transactionID != nil {
		o.TransactionID = *transactionID
	}
	return &o, nil
}

func loadItems(ctx context.Context, q querier, orders []*Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[types.ID]*Order, len(orders))
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, string(o.ID))
	}
	rows, err := q.Query(ctx, `
		SELECT id, order_id, food_item_id, quantity, unit_price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position`, ids,
	)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		var orderID types.ID
		if err := rows.Scan(&it.ID, &orderID, &it.FoodItemID, &it.Quantity, &it.UnitPrice.Amount); err != nil {
			return err
		}
		if o, ok := byID[orderID]; ok {
			it.UnitPrice.Currency = o.Total.Currency
			o.Items = append(o.Items, it)
		}
	}
	return rows.Err()
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func nullString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
