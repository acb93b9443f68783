package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sahajkart/checkout-core/internal/checkout"
)

// Orders persists committed checkout orders.
type Orders struct {
	Pool *pgxpool.Pool
}

const orderInsertSQL = `
INSERT INTO orders
	(id, pincode, zone, payment_method, promo_code, item_total, amount, breakdown, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, now(), now())
RETURNING created_at`

// Create commits an order. The full breakdown is stored as jsonb so the
// settlement arithmetic stays auditable after threshold changes.
func (s *Orders) Create(ctx context.Context, o checkout.Order) (checkout.Order, error) {
	breakdown, err := json.Marshal(o.Breakdown)
	if err != nil {
		return checkout.Order{}, fmt.Errorf("encode breakdown: %w", err)
	}
	err = s.Pool.QueryRow(ctx, orderInsertSQL,
		o.ID,
		o.Pincode,
		o.Zone,
		o.Method,
		o.PromoCode,
		o.ItemTotal,
		o.Amount,
		breakdown,
		o.Status,
	).Scan(&o.CreatedAt)
	if err != nil {
		return checkout.Order{}, fmt.Errorf("insert order: %w", err)
	}
	return o, nil
}

const orderSetStatusSQL = `
UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`

// SetStatus moves an order to a new status.
func (s *Orders) SetStatus(ctx context.Context, orderID, status string) error {
	tag, err := s.Pool.Exec(ctx, orderSetStatusSQL, orderID, status)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s not found", orderID)
	}
	return nil
}
