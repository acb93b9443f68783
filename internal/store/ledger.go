package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sahajkart/checkout-core/internal/ledger"
)

// PaymentLedger persists payment attempts and their append-only event trail.
type PaymentLedger struct {
	Pool *pgxpool.Pool
}

const ledgerInsertSQL = `
INSERT INTO payment_transactions
	(merchant_txn_id, order_id, amount, state, created_at, updated_at)
VALUES ($1, $2, $3, $4, now(), now())
RETURNING created_at, updated_at`

// Insert creates the row for a new payment attempt.
func (s *PaymentLedger) Insert(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	err := s.Pool.QueryRow(ctx, ledgerInsertSQL,
		e.MerchantTransactionID,
		e.OrderID,
		e.Amount,
		string(e.State),
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("insert payment transaction: %w", err)
	}
	return e, nil
}

const ledgerGetSQL = `
SELECT merchant_txn_id, order_id, amount, state, gateway_txn_id,
       response_code, raw_payload, created_at, updated_at
FROM payment_transactions
WHERE merchant_txn_id = $1`

// Get loads a payment attempt by merchant transaction id.
func (s *PaymentLedger) Get(ctx context.Context, merchantTxnID string) (ledger.Entry, error) {
	var (
		e            ledger.Entry
		state        string
		gatewayTxnID pgtype.Text
		responseCode pgtype.Text
	)
	err := s.Pool.QueryRow(ctx, ledgerGetSQL, merchantTxnID).Scan(
		&e.MerchantTransactionID,
		&e.OrderID,
		&e.Amount,
		&state,
		&gatewayTxnID,
		&responseCode,
		&e.RawPayload,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Entry{}, ledger.ErrNotFound
		}
		return ledger.Entry{}, fmt.Errorf("get payment transaction: %w", err)
	}
	e.State = ledger.State(state)
	e.GatewayTransactionID = gatewayTxnID.String
	e.ResponseCode = responseCode.String
	return e, nil
}

const ledgerUpdateSQL = `
UPDATE payment_transactions
SET state = $2,
    gateway_txn_id = COALESCE(NULLIF($3, ''), gateway_txn_id),
    response_code = COALESCE(NULLIF($4, ''), response_code),
    raw_payload = COALESCE($5, raw_payload),
    updated_at = now()
WHERE merchant_txn_id = $1
RETURNING merchant_txn_id, order_id, amount, state, gateway_txn_id,
          response_code, raw_payload, created_at, updated_at`

// Update advances a payment attempt to a new state.
func (s *PaymentLedger) Update(ctx context.Context, merchantTxnID string, state ledger.State, gatewayTxnID, responseCode string, raw []byte) (ledger.Entry, error) {
	var (
		e        ledger.Entry
		stateStr string
		gwTxnID  pgtype.Text
		respCode pgtype.Text
	)
	err := s.Pool.QueryRow(ctx, ledgerUpdateSQL,
		merchantTxnID,
		string(state),
		gatewayTxnID,
		responseCode,
		raw,
	).Scan(
		&e.MerchantTransactionID,
		&e.OrderID,
		&e.Amount,
		&stateStr,
		&gwTxnID,
		&respCode,
		&e.RawPayload,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Entry{}, ledger.ErrNotFound
		}
		return ledger.Entry{}, fmt.Errorf("update payment transaction: %w", err)
	}
	e.State = ledger.State(stateStr)
	e.GatewayTransactionID = gwTxnID.String
	e.ResponseCode = respCode.String
	return e, nil
}

const ledgerEventSQL = `
INSERT INTO payment_transaction_events (merchant_txn_id, state, source, payload, created_at)
VALUES ($1, $2, $3, COALESCE($4, '{}'::jsonb), now())`

// AppendEvent records one observation in the audit trail.
func (s *PaymentLedger) AppendEvent(ctx context.Context, merchantTxnID string, state ledger.State, source string, payload []byte) error {
	if _, err := s.Pool.Exec(ctx, ledgerEventSQL, merchantTxnID, string(state), source, payload); err != nil {
		return fmt.Errorf("append payment event: %w", err)
	}
	return nil
}
