package checkout

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sahajkart/checkout-core/internal/common"
	"github.com/sahajkart/checkout-core/internal/events"
	"github.com/sahajkart/checkout-core/internal/gateway"
	"github.com/sahajkart/checkout-core/internal/ledger"
	"github.com/sahajkart/checkout-core/internal/obs"
	"github.com/sahajkart/checkout-core/internal/pricing"
	"github.com/sahajkart/checkout-core/internal/promo"
	"github.com/sahajkart/checkout-core/internal/shipping"
	"github.com/sahajkart/checkout-core/internal/zone"
)

func TestMain(m *testing.M) {
	obs.MustRegisterDomainMetrics("test", prometheus.NewRegistry())
	m.Run()
}

type fakeDirectory map[string]shipping.Record

func (d fakeDirectory) Lookup(_ context.Context, pincode string) (shipping.Record, error) {
	rec, ok := d[pincode]
	if !ok {
		return shipping.Record{}, shipping.ErrNotFound
	}
	return rec, nil
}

type fakePromoStore struct {
	rules     map[string]promo.Rule
	redeemErr error
	redeemed  []string
}

func (s *fakePromoStore) GetRule(_ context.Context, code string) (promo.Rule, error) {
	rule, ok := s.rules[code]
	if !ok {
		return promo.Rule{}, promo.ErrNotFound
	}
	return rule, nil
}

func (s *fakePromoStore) RedeemUsage(_ context.Context, code string) error {
	if s.redeemErr != nil {
		return s.redeemErr
	}
	s.redeemed = append(s.redeemed, code)
	return nil
}

type memLedgerStore struct {
	mu      sync.Mutex
	entries map[string]ledger.Entry
	events  []string
}

func newMemLedgerStore() *memLedgerStore {
	return &memLedgerStore{entries: map[string]ledger.Entry{}}
}

func (s *memLedgerStore) Insert(_ context.Context, e ledger.Entry) (ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	s.entries[e.MerchantTransactionID] = e
	return e, nil
}

func (s *memLedgerStore) Get(_ context.Context, mtid string) (ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[mtid]
	if !ok {
		return ledger.Entry{}, ledger.ErrNotFound
	}
	return e, nil
}

func (s *memLedgerStore) Update(_ context.Context, mtid string, state ledger.State, gatewayTxnID, responseCode string, raw []byte) (ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[mtid]
	if !ok {
		return ledger.Entry{}, ledger.ErrNotFound
	}
	e.State = state
	if gatewayTxnID != "" {
		e.GatewayTransactionID = gatewayTxnID
	}
	if responseCode != "" {
		e.ResponseCode = responseCode
	}
	e.RawPayload = raw
	e.UpdatedAt = time.Now()
	s.entries[mtid] = e
	return e, nil
}

func (s *memLedgerStore) AppendEvent(_ context.Context, mtid string, state ledger.State, source string, _ []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, mtid+":"+string(state)+":"+source)
	return nil
}

type fakeOrders struct {
	mu       sync.Mutex
	created  []Order
	statuses map[string]string
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{statuses: map[string]string{}}
}

func (f *fakeOrders) Create(_ context.Context, o Order) (Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o.CreatedAt = time.Now()
	f.created = append(f.created, o)
	f.statuses[o.ID] = o.Status
	return o, nil
}

func (f *fakeOrders) SetStatus(_ context.Context, orderID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[orderID] = status
	return nil
}

type memEventStore struct {
	mu     sync.Mutex
	topics []string
}

func (s *memEventStore) InsertDomainEvent(_ context.Context, topic string, aggregateID pgtype.UUID, payload []byte) (events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = append(s.topics, topic)
	return events.Event{Topic: topic, AggregateID: aggregateID, Payload: payload, OccurredAt: time.Now()}, nil
}

type testEnv struct {
	svc     *Service
	orders  *fakeOrders
	ledg    *memLedgerStore
	promos  *fakePromoStore
	emitted *memEventStore
}

func newTestEnv(t *testing.T, gatewayURL string) *testEnv {
	t.Helper()
	dir := fakeDirectory{
		"560001": {Pincode: "560001", Zone: "KARNATAKA", District: "Bengaluru Urban", Deliverable: true, CODAllowed: true},
		"190001": {Pincode: "190001", Zone: "LADAKH", District: "Leh", Deliverable: true, CODAllowed: true},
	}
	promos := &fakePromoStore{rules: map[string]promo.Rule{
		"WELCOME5": {Code: "WELCOME5", Kind: promo.KindPercentage, PercentBps: 500, Active: true},
	}}
	ledgerStore := newMemLedgerStore()
	orders := newFakeOrders()
	eventStore := &memEventStore{}
	var gw *gateway.Client
	if gatewayURL != "" {
		gw = gateway.NewClient(gateway.Config{
			BaseURL:             gatewayURL,
			MerchantID:          "M1",
			SaltKey:             "salt",
			SaltIndex:           "1",
			InitiateMaxAttempts: 1,
			StatusMaxAttempts:   1,
			Timeout:             2 * time.Second,
		}, zerolog.Nop())
	}
	svc := &Service{
		Resolver:    &shipping.Resolver{Directory: dir, Rates: zone.DefaultTable()},
		Promos:      &promo.Service{Store: promos},
		Engine:      pricing.DefaultEngine(),
		Gateway:     gw,
		Ledger:      &ledger.Ledger{Store: ledgerStore, Logger: zerolog.Nop()},
		Orders:      orders,
		Events:      &events.Bus{Store: eventStore},
		RedirectURL: "https://shop.example/payments/return",
		CallbackURL: "https://shop.example/api/v1/webhooks/payment",
		Logger:      zerolog.Nop(),
	}
	return &testEnv{svc: svc, orders: orders, ledg: ledgerStore, promos: promos, emitted: eventStore}
}

func cartLines() []pricing.Line {
	return []pricing.Line{
		{ProductID: "p1", UnitPrice: 300_00, Qty: 1},
		{ProductID: "p2", UnitPrice: 75_00, Qty: 2},
	}
}

func TestQuoteNotServiceable(t *testing.T) {
	env := newTestEnv(t, "")
	result, err := env.svc.Quote(context.Background(), QuoteRequest{
		Pincode: "999999",
		Method:  pricing.MethodPrepaid,
		Lines:   cartLines(),
	})
	require.NoError(t, err)
	require.False(t, result.Shipping.Serviceable)
	require.Nil(t, result.Breakdown)
}

func TestQuoteServiceable(t *testing.T) {
	env := newTestEnv(t, "")
	result, err := env.svc.Quote(context.Background(), QuoteRequest{
		Pincode: "560001",
		Method:  pricing.MethodPrepaid,
		Lines:   cartLines(),
	})
	require.NoError(t, err)
	require.True(t, result.Shipping.Serviceable)
	require.NotNil(t, result.Breakdown)
	require.Equal(t, pricing.Money(450_00), result.Breakdown.Subtotal)
}

func TestQuoteRejectedPromoStillPrices(t *testing.T) {
	env := newTestEnv(t, "")
	result, err := env.svc.Quote(context.Background(), QuoteRequest{
		Pincode:   "560001",
		Method:    pricing.MethodPrepaid,
		PromoCode: "NOPE",
		Lines:     cartLines(),
	})
	require.NoError(t, err)
	require.Equal(t, "NOT_FOUND", result.PromoRejection)
	require.NotNil(t, result.Breakdown)
	require.Zero(t, result.Breakdown.PromoDiscount)
}

func TestSettleCOD(t *testing.T) {
	env := newTestEnv(t, "")
	result, err := env.svc.Settle(context.Background(), SettleRequest{
		QuoteRequest: QuoteRequest{
			Pincode: "560001",
			Method:  pricing.MethodCOD,
			Lines:   cartLines(),
		},
	})
	require.NoError(t, err)
	require.Equal(t, OrderConfirmed, result.Order.Status)
	require.Equal(t, ledger.StateSuccess, result.Entry.State)
	require.Empty(t, result.RedirectURL)
	require.Contains(t, env.emitted.topics, events.TopicOrderCreated)
	require.Contains(t, env.emitted.topics, events.TopicCODConfirmed)
}

func TestSettleCommitsRawItemTotal(t *testing.T) {
	env := newTestEnv(t, "")
	lines := []pricing.Line{
		{ProductID: "p1", UnitPrice: 200_00, Qty: 3, TierDiscountBps: 1000},
	}
	result, err := env.svc.Settle(context.Background(), SettleRequest{
		QuoteRequest: QuoteRequest{
			Pincode:   "560001",
			Method:    pricing.MethodCOD,
			PromoCode: "WELCOME5",
			Lines:     lines,
		},
	})
	require.NoError(t, err)
	// The order records the gross 600.00 even though tier and promo cuts
	// lowered the payable amount.
	require.Equal(t, pricing.Money(600_00), result.Order.ItemTotal)
	require.Less(t, result.Order.Amount, result.Order.ItemTotal)
	require.Equal(t, []string{"WELCOME5"}, env.promos.redeemed)
}

func TestSettlePromoCapExceededAtRedeem(t *testing.T) {
	env := newTestEnv(t, "")
	env.promos.redeemErr = promo.ErrUsageLimitExceeded
	_, err := env.svc.Settle(context.Background(), SettleRequest{
		QuoteRequest: QuoteRequest{
			Pincode:   "560001",
			Method:    pricing.MethodCOD,
			PromoCode: "WELCOME5",
			Lines:     cartLines(),
		},
	})
	require.Error(t, err)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "USAGE_LIMIT_EXCEEDED", appErr.Code)
	require.Empty(t, env.orders.created, "no order may commit when the promo cap is hit")
}

func TestSettleNotServiceable(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.svc.Settle(context.Background(), SettleRequest{
		QuoteRequest: QuoteRequest{
			Pincode: "999999",
			Method:  pricing.MethodPrepaid,
			Lines:   cartLines(),
		},
	})
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "PINCODE_NOT_SERVICEABLE", appErr.Code)
}

func TestSettlePrepaidReturnsRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"code":    "PAYMENT_INITIATED",
			"data": map[string]any{
				"instrumentResponse": map[string]any{
					"redirectInfo": map[string]any{"url": "https://pay.example/session/9"},
				},
			},
		})
	}))
	defer srv.Close()

	env := newTestEnv(t, srv.URL)
	result, err := env.svc.Settle(context.Background(), SettleRequest{
		QuoteRequest: QuoteRequest{
			Pincode: "560001",
			Method:  pricing.MethodPrepaid,
			Lines:   cartLines(),
		},
	})
	require.NoError(t, err)
	require.Equal(t, "https://pay.example/session/9", result.RedirectURL)
	require.Equal(t, ledger.StatePending, result.Entry.State)
	require.Equal(t, OrderPendingPayment, result.Order.Status)
	require.Contains(t, env.emitted.topics, events.TopicPaymentInitiated)
}

func TestSettlePrepaidSendsReturnURLs(t *testing.T) {
	var payload struct {
		RedirectURL string `json:"redirectUrl"`
		CallbackURL string `json:"callbackUrl"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var envelope struct {
			Request string `json:"request"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&envelope))
		raw, err := base64.StdEncoding.DecodeString(envelope.Request)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &payload))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"code":    "PAYMENT_INITIATED",
			"data": map[string]any{
				"instrumentResponse": map[string]any{
					"redirectInfo": map[string]any{"url": "https://pay.example/session/12"},
				},
			},
		})
	}))
	defer srv.Close()

	env := newTestEnv(t, srv.URL)
	_, err := env.svc.Settle(context.Background(), SettleRequest{
		QuoteRequest: QuoteRequest{
			Pincode: "560001",
			Method:  pricing.MethodPrepaid,
			Lines:   cartLines(),
		},
	})
	require.NoError(t, err)
	require.Equal(t, "https://shop.example/payments/return", payload.RedirectURL)
	require.Equal(t, "https://shop.example/api/v1/webhooks/payment", payload.CallbackURL)
}

func TestSettlePrepaidDefinitiveRejectionFailsAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"code":    "DUPLICATE_TRANSACTION",
			"message": "transaction id already used",
		})
	}))
	defer srv.Close()

	env := newTestEnv(t, srv.URL)
	_, err := env.svc.Settle(context.Background(), SettleRequest{
		QuoteRequest: QuoteRequest{
			Pincode: "560001",
			Method:  pricing.MethodPrepaid,
			Lines:   cartLines(),
		},
	})
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "PAYMENT_REJECTED", appErr.Code)

	require.Len(t, env.orders.created, 1)
	orderID := env.orders.created[0].ID
	require.Equal(t, OrderPaymentFailed, env.orders.statuses[orderID])
	require.Contains(t, env.emitted.topics, events.TopicPaymentFailed)
}

func TestSettlePrepaidGatewayUnavailableKeepsAttemptOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	env := newTestEnv(t, srv.URL)
	_, err := env.svc.Settle(context.Background(), SettleRequest{
		QuoteRequest: QuoteRequest{
			Pincode: "560001",
			Method:  pricing.MethodPrepaid,
			Lines:   cartLines(),
		},
	})
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "GATEWAY_UNAVAILABLE", appErr.Code)

	// The attempt stays INITIATED for later reconciliation.
	for _, entry := range env.ledg.entries {
		require.Equal(t, ledger.StateInitiated, entry.State)
	}
}

func TestPaymentStatusTerminalSkipsGateway(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.svc.Ledger.Open(context.Background(), "MT-done", "b3a4c2de-0000-4000-8000-000000000001", 485_00, ledger.StateSuccess)
	require.NoError(t, err)

	entry, err := env.svc.PaymentStatus(context.Background(), "MT-done")
	require.NoError(t, err)
	require.Equal(t, ledger.StateSuccess, entry.State)
}

func TestPaymentStatusAppliesPollResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"code":    "PAYMENT_SUCCESS",
			"data": map[string]any{
				"merchantTransactionId": "MT-poll",
				"transactionId":         "T900",
				"amount":                48500,
				"state":                 "COMPLETED",
				"responseCode":          "SUCCESS",
			},
		})
	}))
	defer srv.Close()

	env := newTestEnv(t, srv.URL)
	orderID := "b3a4c2de-0000-4000-8000-000000000002"
	_, err := env.svc.Ledger.Open(context.Background(), "MT-poll", orderID, 485_00, ledger.StateInitiated)
	require.NoError(t, err)

	entry, err := env.svc.PaymentStatus(context.Background(), "MT-poll")
	require.NoError(t, err)
	require.Equal(t, ledger.StateSuccess, entry.State)
	require.Equal(t, "T900", entry.GatewayTransactionID)
	require.Equal(t, OrderConfirmed, env.orders.statuses[orderID])
	require.Contains(t, env.emitted.topics, events.TopicPaymentSucceeded)
}

func TestPaymentStatusUnknownTransaction(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.svc.PaymentStatus(context.Background(), "MT-nothing")
	require.True(t, errors.Is(err, ledger.ErrNotFound))
}
