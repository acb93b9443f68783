package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned when no entry exists for a merchant transaction id.
var ErrNotFound = errors.New("ledger: transaction not found")

// Entry is the durable record of one payment attempt. Rows are never deleted;
// a refund is a state, not a new row, and a fresh attempt for the same order
// gets a fresh merchant transaction id.
type Entry struct {
	MerchantTransactionID string    `json:"merchantTransactionId"`
	OrderID               string    `json:"orderId"`
	Amount                int64     `json:"amount"`
	State                 State     `json:"state"`
	GatewayTransactionID  string    `json:"gatewayTransactionId,omitempty"`
	ResponseCode          string    `json:"responseCode,omitempty"`
	RawPayload            []byte    `json:"-"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// Observation is an authoritative state report from the gateway, delivered by
// webhook or status poll (or the initiate acknowledgement itself).
type Observation struct {
	State                State
	GatewayTransactionID string
	ResponseCode         string
	Raw                  []byte
	Source               string
}

// Store is the persistence contract for ledger entries. AppendEvent records
// every observation, including ones that do not advance the state, so the
// full history survives for audit.
type Store interface {
	Insert(ctx context.Context, e Entry) (Entry, error)
	Get(ctx context.Context, merchantTxnID string) (Entry, error)
	Update(ctx context.Context, merchantTxnID string, state State, gatewayTxnID, responseCode string, raw []byte) (Entry, error)
	AppendEvent(ctx context.Context, merchantTxnID string, state State, source string, payload []byte) error
}

// Ledger applies observed gateway states onto entries with monotonic
// progression. Apply is idempotent and safe to call redundantly from both the
// webhook and the poller.
type Ledger struct {
	Store  Store
	Logger zerolog.Logger
}

// Open creates the entry for a new payment attempt. COD orders open directly
// in SUCCESS; online payments open in INITIATED.
func (l *Ledger) Open(ctx context.Context, merchantTxnID, orderID string, amount int64, initial State) (Entry, error) {
	if l == nil || l.Store == nil {
		return Entry{}, errors.New("ledger not configured")
	}
	if strings.TrimSpace(merchantTxnID) == "" {
		return Entry{}, errors.New("ledger: merchant transaction id is required")
	}
	entry, err := l.Store.Insert(ctx, Entry{
		MerchantTransactionID: merchantTxnID,
		OrderID:               orderID,
		Amount:                amount,
		State:                 initial,
	})
	if err != nil {
		return Entry{}, err
	}
	if err := l.Store.AppendEvent(ctx, merchantTxnID, initial, "open", nil); err != nil {
		l.Logger.Error().Err(err).Str("mtid", merchantTxnID).Msg("ledger_append_event")
	}
	return entry, nil
}

// Apply records the observation and advances the entry when the transition is
// permitted. It returns the resulting entry and whether the state advanced.
// A conflicting observation (e.g. FAILED after SUCCESS) is not fatal: it is
// kept in the event history and the entry is left untouched.
func (l *Ledger) Apply(ctx context.Context, merchantTxnID string, obs Observation) (Entry, bool, error) {
	if l == nil || l.Store == nil {
		return Entry{}, false, errors.New("ledger not configured")
	}
	entry, err := l.Store.Get(ctx, merchantTxnID)
	if err != nil {
		return Entry{}, false, err
	}
	if err := l.Store.AppendEvent(ctx, merchantTxnID, obs.State, obs.Source, obs.Raw); err != nil {
		l.Logger.Error().Err(err).Str("mtid", merchantTxnID).Msg("ledger_append_event")
	}
	if obs.State == entry.State {
		return entry, false, nil
	}
	if !CanTransition(entry.State, obs.State) {
		l.Logger.Warn().
			Str("mtid", merchantTxnID).
			Str("from", string(entry.State)).
			Str("to", string(obs.State)).
			Str("source", obs.Source).
			Msg("ledger_transition_rejected")
		return entry, false, nil
	}
	updated, err := l.Store.Update(ctx, merchantTxnID, obs.State, obs.GatewayTransactionID, obs.ResponseCode, obs.Raw)
	if err != nil {
		return Entry{}, false, err
	}
	return updated, true, nil
}
