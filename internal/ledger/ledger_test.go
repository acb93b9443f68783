package ledger

import (
	"context"
	"testing"
	"time"
)

type memStore struct {
	entries map[string]Entry
	events  []Observation
}

func newMemStore() *memStore {
	return &memStore{entries: map[string]Entry{}}
}

func (m *memStore) Insert(_ context.Context, e Entry) (Entry, error) {
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	m.entries[e.MerchantTransactionID] = e
	return e, nil
}

func (m *memStore) Get(_ context.Context, mtid string) (Entry, error) {
	e, ok := m.entries[mtid]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (m *memStore) Update(_ context.Context, mtid string, state State, gwTxnID, respCode string, raw []byte) (Entry, error) {
	e, ok := m.entries[mtid]
	if !ok {
		return Entry{}, ErrNotFound
	}
	e.State = state
	if gwTxnID != "" {
		e.GatewayTransactionID = gwTxnID
	}
	if respCode != "" {
		e.ResponseCode = respCode
	}
	e.RawPayload = raw
	e.UpdatedAt = time.Now()
	m.entries[mtid] = e
	return e, nil
}

func (m *memStore) AppendEvent(_ context.Context, _ string, state State, source string, _ []byte) error {
	m.events = append(m.events, Observation{State: state, Source: source})
	return nil
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StateInitiated, StatePending, true},
		{StateInitiated, StateSuccess, true},
		{StateInitiated, StateFailed, true},
		{StateInitiated, StateCancelled, true},
		{StatePending, StateSuccess, true},
		{StatePending, StateFailed, true},
		{StateSuccess, StateRefunded, true},
		{StatePending, StateInitiated, false},
		{StateSuccess, StateFailed, false},
		{StateFailed, StateSuccess, false},
		{StateFailed, StateRefunded, false},
		{StateCancelled, StateRefunded, false},
		{StateInitiated, StateRefunded, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestApplyAdvancesMonotonically(t *testing.T) {
	store := newMemStore()
	l := &Ledger{Store: store}
	ctx := context.Background()

	if _, err := l.Open(ctx, "MT1", "order-1", 48500, StateInitiated); err != nil {
		t.Fatalf("open: %v", err)
	}

	entry, advanced, err := l.Apply(ctx, "MT1", Observation{State: StatePending, Source: "initiate"})
	if err != nil || !advanced {
		t.Fatalf("expected advance to PENDING, got %v advanced=%v", err, advanced)
	}
	if entry.State != StatePending {
		t.Fatalf("expected PENDING, got %s", entry.State)
	}

	entry, advanced, err = l.Apply(ctx, "MT1", Observation{State: StateSuccess, Source: "webhook", GatewayTransactionID: "GW123"})
	if err != nil || !advanced {
		t.Fatalf("expected advance to SUCCESS, got %v advanced=%v", err, advanced)
	}
	if entry.GatewayTransactionID != "GW123" {
		t.Fatalf("expected gateway txn id to stick, got %q", entry.GatewayTransactionID)
	}

	// A stale poll reporting PENDING after SUCCESS must not regress.
	entry, advanced, err = l.Apply(ctx, "MT1", Observation{State: StatePending, Source: "poll"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if advanced || entry.State != StateSuccess {
		t.Fatalf("stale observation must not regress state, got %s advanced=%v", entry.State, advanced)
	}

	// Conflicting terminal observation is recorded but dropped.
	entry, advanced, err = l.Apply(ctx, "MT1", Observation{State: StateFailed, Source: "webhook"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if advanced || entry.State != StateSuccess {
		t.Fatalf("conflicting terminal must not win, got %s", entry.State)
	}

	// Refund is the only edge out of SUCCESS.
	entry, advanced, err = l.Apply(ctx, "MT1", Observation{State: StateRefunded, Source: "webhook"})
	if err != nil || !advanced {
		t.Fatalf("expected refund to apply, got %v advanced=%v", err, advanced)
	}
	if entry.State != StateRefunded {
		t.Fatalf("expected REFUNDED, got %s", entry.State)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	store := newMemStore()
	l := &Ledger{Store: store}
	ctx := context.Background()

	if _, err := l.Open(ctx, "MT2", "order-2", 1000, StateInitiated); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, _, err := l.Apply(ctx, "MT2", Observation{State: StateSuccess, Source: "webhook"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	entry, advanced, err := l.Apply(ctx, "MT2", Observation{State: StateSuccess, Source: "poll"})
	if err != nil {
		t.Fatalf("redundant apply: %v", err)
	}
	if advanced {
		t.Fatal("redundant apply must not report an advance")
	}
	if entry.State != StateSuccess {
		t.Fatalf("expected SUCCESS, got %s", entry.State)
	}
	// Every observation lands in the audit trail regardless.
	if len(store.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(store.events))
	}
}

func TestApplyUnknownTransaction(t *testing.T) {
	l := &Ledger{Store: newMemStore()}
	if _, _, err := l.Apply(context.Background(), "MISSING", Observation{State: StateSuccess}); err == nil {
		t.Fatal("expected error for unknown transaction")
	}
}

func TestCODOpensTerminal(t *testing.T) {
	store := newMemStore()
	l := &Ledger{Store: store}
	entry, err := l.Open(context.Background(), "MT3", "order-3", 48500, StateSuccess)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !entry.State.Terminal() {
		t.Fatal("COD entry must open in a terminal confirmed state")
	}
}
