package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"

	"github.com/sahajkart/checkout-core/internal/common"
	"github.com/sahajkart/checkout-core/internal/events"
	"github.com/sahajkart/checkout-core/internal/gateway"
	"github.com/sahajkart/checkout-core/internal/ledger"
	"github.com/sahajkart/checkout-core/internal/obs"
	"github.com/sahajkart/checkout-core/internal/pricing"
	"github.com/sahajkart/checkout-core/internal/promo"
	"github.com/sahajkart/checkout-core/internal/shipping"
)

// Order statuses as persisted on the orders table.
const (
	OrderPendingPayment = "PENDING_PAYMENT"
	OrderConfirmed      = "CONFIRMED"
	OrderPaymentFailed  = "PAYMENT_FAILED"
)

// Order is the committed checkout outcome. ItemTotal is the gross goods
// value before any discounting; Amount is the payable total from the
// breakdown. The two diverge whenever a tier discount or promo applied.
type Order struct {
	ID        string            `json:"id"`
	Pincode   string            `json:"pincode"`
	Zone      string            `json:"zone"`
	Method    string            `json:"paymentMethod"`
	PromoCode string            `json:"promoCode,omitempty"`
	ItemTotal pricing.Money     `json:"itemTotal"`
	Amount    pricing.Money     `json:"amount"`
	Breakdown pricing.Breakdown `json:"breakdown"`
	Status    string            `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
}

// OrderStore persists committed orders.
type OrderStore interface {
	Create(ctx context.Context, o Order) (Order, error)
	SetStatus(ctx context.Context, orderID, status string) error
}

// QuoteRequest carries the inputs for a settlement preview.
type QuoteRequest struct {
	Pincode   string
	Method    pricing.Method
	PromoCode string
	Lines     []pricing.Line
}

// QuoteResult is the preview outcome. Breakdown is nil when the pincode is
// not serviceable. A rejected promo does not fail the quote: the breakdown
// is computed without it and the reason is carried alongside.
type QuoteResult struct {
	Shipping       shipping.Quote
	Breakdown      *pricing.Breakdown
	PromoRejection string
}

// SettleRequest commits a checkout.
type SettleRequest struct {
	QuoteRequest
	CustomerID   string
	MobileNumber string
}

// SettleResult is the committed order plus its opened payment attempt.
// RedirectURL is set only for online payments.
type SettleResult struct {
	Order       Order
	Entry       ledger.Entry
	RedirectURL string
}

// Service orchestrates quote, settlement and payment reconciliation.
// CallbackURL is where the gateway posts webhook notifications;
// RedirectURL is where the shopper lands after the hosted payment page.
type Service struct {
	Resolver    *shipping.Resolver
	Promos      *promo.Service
	Engine      pricing.Engine
	Gateway     *gateway.Client
	Ledger      *ledger.Ledger
	Orders      OrderStore
	Events      *events.Bus
	RedirectURL string
	CallbackURL string
	Logger      zerolog.Logger
}

// Quote resolves serviceability, evaluates any promo code and prices the
// cart without committing anything.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (QuoteResult, error) {
	q, err := s.Resolver.Resolve(ctx, req.Pincode)
	if err != nil {
		return QuoteResult{}, fmt.Errorf("resolve pincode: %w", err)
	}
	result := QuoteResult{Shipping: q}
	if !q.Serviceable {
		return result, nil
	}

	grant, reason, err := s.evaluatePromo(ctx, req.PromoCode, q.Zone, req.Pincode)
	if err != nil {
		return QuoteResult{}, err
	}
	result.PromoRejection = reason

	bd, err := s.price(req, q, grant)
	if err != nil {
		return QuoteResult{}, err
	}
	result.Breakdown = &bd
	return result, nil
}

// Settle prices the cart, commits the order and opens the payment attempt.
// COD orders settle immediately; online payments return a redirect URL.
func (s *Service) Settle(ctx context.Context, req SettleRequest) (SettleResult, error) {
	q, err := s.Resolver.Resolve(ctx, req.Pincode)
	if err != nil {
		return SettleResult{}, fmt.Errorf("resolve pincode: %w", err)
	}
	if !q.Serviceable {
		return SettleResult{}, common.NewAppError("PINCODE_NOT_SERVICEABLE", "delivery is not available for this pincode", 422, nil)
	}

	grant, reason, err := s.evaluatePromo(ctx, req.PromoCode, q.Zone, req.Pincode)
	if err != nil {
		return SettleResult{}, err
	}
	if reason != "" {
		return SettleResult{}, common.NewAppError(reason, "promo code cannot be applied", 422, nil)
	}

	bd, err := s.price(req.QuoteRequest, q, grant)
	if err != nil {
		return SettleResult{}, err
	}

	// Usage is reserved before the order commits, so a concurrent checkout
	// can never push the counter past the cap.
	if grant != nil {
		if err := s.Promos.Redeem(ctx, grant.Code); err != nil {
			if errors.Is(err, promo.ErrUsageLimitExceeded) {
				obs.PromoRejectionTotal.WithLabelValues(err.Error()).Inc()
				return SettleResult{}, common.NewAppError(err.Error(), "promo code usage limit reached", 409, nil)
			}
			return SettleResult{}, fmt.Errorf("redeem promo: %w", err)
		}
	}

	order := Order{
		ID:        uuid.NewString(),
		Pincode:   req.Pincode,
		Zone:      q.Zone,
		Method:    req.Method.String(),
		ItemTotal: grossItemTotal(req.Lines),
		Amount:    bd.Total,
		Breakdown: bd,
		Status:    OrderPendingPayment,
	}
	if grant != nil {
		order.PromoCode = grant.Code
	}
	if req.Method == pricing.MethodCOD {
		order.Status = OrderConfirmed
	}
	order, err = s.Orders.Create(ctx, order)
	if err != nil {
		return SettleResult{}, fmt.Errorf("commit order: %w", err)
	}
	s.emit(ctx, events.TopicOrderCreated, order.ID, map[string]any{
		"orderId": order.ID,
		"amount":  order.Amount,
		"method":  order.Method,
	})

	mtid := newMerchantTxnID()
	if req.Method == pricing.MethodCOD {
		entry, err := s.Ledger.Open(ctx, mtid, order.ID, bd.Total, ledger.StateSuccess)
		if err != nil {
			return SettleResult{}, fmt.Errorf("open ledger: %w", err)
		}
		obs.CODSettlementTotal.Inc()
		s.emit(ctx, events.TopicCODConfirmed, order.ID, map[string]any{
			"orderId":               order.ID,
			"merchantTransactionId": mtid,
			"amount":                bd.Total,
		})
		return SettleResult{Order: order, Entry: entry}, nil
	}

	entry, err := s.Ledger.Open(ctx, mtid, order.ID, bd.Total, ledger.StateInitiated)
	if err != nil {
		return SettleResult{}, fmt.Errorf("open ledger: %w", err)
	}
	s.emit(ctx, events.TopicPaymentInitiated, order.ID, map[string]any{
		"orderId":               order.ID,
		"merchantTransactionId": mtid,
		"amount":                bd.Total,
	})

	redirect, err := s.Gateway.Initiate(ctx, gateway.InitiateRequest{
		MerchantTransactionID: mtid,
		Amount:                bd.Total,
		MobileNumber:          req.MobileNumber,
		MerchantUserID:        req.CustomerID,
		RedirectURL:           s.RedirectURL,
		CallbackURL:           s.CallbackURL,
	})
	if err != nil {
		if gateway.IsDefinitiveRejection(err) {
			obs.PaymentInitiateTotal.WithLabelValues(order.Method, "rejected").Inc()
			if entry, _, applyErr := s.Ledger.Apply(ctx, mtid, ledger.Observation{
				State:  ledger.StateFailed,
				Source: "initiate",
			}); applyErr == nil {
				s.settleOrderFromEntry(ctx, entry)
			}
			return SettleResult{}, common.NewAppError("PAYMENT_REJECTED", "the payment gateway rejected this request", 502, err)
		}
		// Transient exhaustion: the attempt stays INITIATED so a later poll
		// or webhook can still settle it.
		obs.PaymentInitiateTotal.WithLabelValues(order.Method, "unavailable").Inc()
		return SettleResult{}, common.NewAppError("GATEWAY_UNAVAILABLE", "the payment gateway is unavailable, try again", 503, err)
	}

	obs.PaymentInitiateTotal.WithLabelValues(order.Method, "ok").Inc()
	entry, _, err = s.Ledger.Apply(ctx, mtid, ledger.Observation{
		State:  ledger.StatePending,
		Source: "initiate",
	})
	if err != nil {
		return SettleResult{}, fmt.Errorf("record pending: %w", err)
	}
	return SettleResult{Order: order, Entry: entry, RedirectURL: redirect.URL}, nil
}

// PaymentStatus returns the current ledger entry, reconciling against the
// gateway first when the attempt is still in flight. An unreachable gateway
// is not a failure: the entry is returned as last known.
func (s *Service) PaymentStatus(ctx context.Context, merchantTxnID string) (ledger.Entry, error) {
	entry, err := s.Ledger.Store.Get(ctx, merchantTxnID)
	if err != nil {
		return ledger.Entry{}, err
	}
	if entry.State.Terminal() {
		return entry, nil
	}

	st, err := s.Gateway.CheckStatus(ctx, merchantTxnID)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return ledger.Entry{}, err
		}
		obs.StatusPollTotal.WithLabelValues("error").Inc()
		s.Logger.Warn().Err(err).Str("mtid", merchantTxnID).Msg("status_poll_failed")
		return entry, nil
	}
	if st == nil {
		obs.StatusPollTotal.WithLabelValues("unknown").Inc()
		return entry, nil
	}
	obs.StatusPollTotal.WithLabelValues("ok").Inc()

	state, ok := ledger.ParseState(st.State)
	if !ok {
		state = ledger.StatePending
	}
	entry, advanced, err := s.Ledger.Apply(ctx, merchantTxnID, ledger.Observation{
		State:                state,
		GatewayTransactionID: st.GatewayTransactionID,
		ResponseCode:         st.ResponseCode,
		Raw:                  st.Raw,
		Source:               "poll",
	})
	if err != nil {
		return ledger.Entry{}, err
	}
	if advanced {
		s.settleOrderFromEntry(ctx, entry)
	} else if entry.State != state {
		obs.LedgerConflictTotal.WithLabelValues("poll").Inc()
	}
	return entry, nil
}

// ApplyNotification feeds a verified webhook observation into the ledger and
// fans out the resulting domain event. The bool reports whether the entry
// advanced.
func (s *Service) ApplyNotification(ctx context.Context, n gateway.Notification) (ledger.Entry, bool, error) {
	state, ok := ledger.ParseState(n.State)
	if !ok {
		state = ledger.StatePending
	}
	entry, advanced, err := s.Ledger.Apply(ctx, n.MerchantTransactionID, ledger.Observation{
		State:                state,
		GatewayTransactionID: n.GatewayTransactionID,
		ResponseCode:         n.ResponseCode,
		Raw:                  n.Raw,
		Source:               "webhook",
	})
	if err != nil {
		return ledger.Entry{}, false, err
	}
	if advanced {
		s.settleOrderFromEntry(ctx, entry)
	} else if entry.State != state {
		obs.LedgerConflictTotal.WithLabelValues("webhook").Inc()
	}
	return entry, advanced, nil
}

func (s *Service) price(req QuoteRequest, q shipping.Quote, grant *pricing.PromoGrant) (pricing.Breakdown, error) {
	subtotal, combo := pricing.Cart{Lines: req.Lines}.Subtotal()
	bd, err := s.Engine.Price(pricing.Input{
		Subtotal:        subtotal,
		ComboDiscount:   combo,
		ShippingCharge:  q.ShippingCharge,
		Method:          req.Method,
		ZoneCODEligible: q.CODEligible,
		Promo:           grant,
	})
	if err != nil {
		if errors.Is(err, pricing.ErrCODNotEligible) {
			return pricing.Breakdown{}, common.NewAppError("COD_NOT_ELIGIBLE", "cash on delivery is not available for this order", 422, err)
		}
		return pricing.Breakdown{}, err
	}
	return bd, nil
}

// evaluatePromo maps the evaluator's sentinel rejections to a reason string
// and passes infrastructure failures through untouched.
func (s *Service) evaluatePromo(ctx context.Context, code, zoneName, pincode string) (*pricing.PromoGrant, string, error) {
	if strings.TrimSpace(code) == "" {
		return nil, "", nil
	}
	grant, err := s.Promos.Evaluate(ctx, code, zoneName, pincode)
	if err != nil {
		if reason := promoRejectionReason(err); reason != "" {
			obs.PromoRejectionTotal.WithLabelValues(reason).Inc()
			return nil, reason, nil
		}
		return nil, "", fmt.Errorf("evaluate promo: %w", err)
	}
	return grant, "", nil
}

// settleOrderFromEntry keeps the order status in step with terminal payment
// outcomes and emits the matching domain event.
func (s *Service) settleOrderFromEntry(ctx context.Context, entry ledger.Entry) {
	var topic, status string
	switch entry.State {
	case ledger.StateSuccess:
		topic, status = events.TopicPaymentSucceeded, OrderConfirmed
	case ledger.StateFailed:
		topic, status = events.TopicPaymentFailed, OrderPaymentFailed
	case ledger.StateCancelled:
		topic, status = events.TopicPaymentCancelled, OrderPaymentFailed
	case ledger.StateRefunded:
		topic = events.TopicPaymentRefunded
	default:
		return
	}
	if status != "" && s.Orders != nil {
		if err := s.Orders.SetStatus(ctx, entry.OrderID, status); err != nil {
			s.Logger.Error().Err(err).Str("order_id", entry.OrderID).Msg("order_status_update")
		}
	}
	s.emit(ctx, topic, entry.OrderID, map[string]any{
		"orderId":               entry.OrderID,
		"merchantTransactionId": entry.MerchantTransactionID,
		"amount":                entry.Amount,
		"state":                 string(entry.State),
	})
}

func (s *Service) emit(ctx context.Context, topic, orderID string, payload map[string]any) {
	if s.Events == nil {
		return
	}
	aggregate, err := toAggregateID(orderID)
	if err != nil {
		s.Logger.Error().Err(err).Str("order_id", orderID).Msg("event_aggregate_id")
		return
	}
	if _, err := s.Events.Emit(ctx, topic, aggregate, payload); err != nil {
		s.Logger.Error().Err(err).Str("topic", topic).Msg("event_emit")
	}
}

func toAggregateID(orderID string) (pgtype.UUID, error) {
	parsed, err := uuid.Parse(orderID)
	if err != nil {
		return pgtype.UUID{}, err
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}, nil
}

// grossItemTotal is the order amount as recorded on the committed order:
// unit price times quantity, before tier and promo discounts.
func grossItemTotal(lines []pricing.Line) pricing.Money {
	var total pricing.Money
	for _, ln := range lines {
		if ln.Qty <= 0 || ln.UnitPrice <= 0 {
			continue
		}
		total += pricing.Money(ln.Qty) * ln.UnitPrice
	}
	return total
}

func promoRejectionReason(err error) string {
	for _, sentinel := range []error{
		promo.ErrNotFound,
		promo.ErrInactive,
		promo.ErrUsageLimitExceeded,
		promo.ErrZoneNotAllowed,
		promo.ErrPostalPatternNotAllowed,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return ""
}

func newMerchantTxnID() string {
	return "MT" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}
