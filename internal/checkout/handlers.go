package checkout

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/sahajkart/checkout-core/internal/common"
	"github.com/sahajkart/checkout-core/internal/ledger"
	"github.com/sahajkart/checkout-core/internal/pricing"
	"github.com/sahajkart/checkout-core/internal/shipping"
)

// Handler exposes the checkout HTTP surface.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

type itemReq struct {
	ProductID       string `json:"productId" validate:"required"`
	UnitPrice       int64  `json:"unitPrice" validate:"gt=0"`
	Qty             int    `json:"qty" validate:"gt=0"`
	TierDiscountBps int32  `json:"tierDiscountBps" validate:"gte=0,lte=10000"`
}

type quoteReq struct {
	Pincode       string    `json:"pincode" validate:"required"`
	PaymentMethod string    `json:"paymentMethod" validate:"required"`
	PromoCode     string    `json:"promoCode"`
	Items         []itemReq `json:"items" validate:"required,min=1,dive"`
}

type settleReq struct {
	quoteReq
	CustomerID   string `json:"customerId"`
	MobileNumber string `json:"mobileNumber"`
}

type quoteResp struct {
	Shipping       shipping.Quote     `json:"shipping"`
	Breakdown      *pricing.Breakdown `json:"breakdown,omitempty"`
	PromoRejection string             `json:"promoRejection,omitempty"`
}

type paymentResp struct {
	MerchantTransactionID string `json:"merchantTransactionId"`
	State                 string `json:"state"`
	RedirectURL           string `json:"redirectUrl,omitempty"`
}

type settleResp struct {
	Order   Order       `json:"order"`
	Payment paymentResp `json:"payment"`
}

// Quote prices a cart for a delivery pincode without committing anything.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeQuote(w, r)
	if !ok {
		return
	}
	result, err := h.Svc.Quote(r.Context(), req)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, quoteResp{
		Shipping:       result.Shipping,
		Breakdown:      result.Breakdown,
		PromoRejection: result.PromoRejection,
	})
}

// Settle commits the checkout and opens the payment attempt. It runs behind
// the Idempotency-Key middleware.
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	var body settleReq
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	req, ok := h.buildQuoteRequest(w, body.quoteReq)
	if !ok {
		return
	}
	result, err := h.Svc.Settle(r.Context(), SettleRequest{
		QuoteRequest: req,
		CustomerID:   strings.TrimSpace(body.CustomerID),
		MobileNumber: strings.TrimSpace(body.MobileNumber),
	})
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, settleResp{
		Order: result.Order,
		Payment: paymentResp{
			MerchantTransactionID: result.Entry.MerchantTransactionID,
			State:                 string(result.Entry.State),
			RedirectURL:           result.RedirectURL,
		},
	})
}

// PaymentStatus returns the reconciled state of one payment attempt.
func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	mtid := strings.TrimSpace(chi.URLParam(r, "merchantTxnID"))
	if mtid == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "merchant transaction id is required", nil)
		return
	}
	entry, err := h.Svc.PaymentStatus(r.Context(), mtid)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "TRANSACTION_NOT_FOUND", "unknown transaction", nil)
			return
		}
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, entry)
}

// ShippingQuote exposes serviceability lookup for a single pincode.
func (h *Handler) ShippingQuote(w http.ResponseWriter, r *http.Request) {
	pincode := strings.TrimSpace(chi.URLParam(r, "pincode"))
	if !shipping.IsPincode(pincode) {
		common.JSONError(w, http.StatusBadRequest, "INVALID_PINCODE", "pincode must be six digits", nil)
		return
	}
	quote, err := h.Svc.Resolver.Resolve(r.Context(), pincode)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, quote)
}

func (h *Handler) decodeQuote(w http.ResponseWriter, r *http.Request) (QuoteRequest, bool) {
	var body quoteReq
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return QuoteRequest{}, false
	}
	return h.buildQuoteRequest(w, body)
}

func (h *Handler) buildQuoteRequest(w http.ResponseWriter, body quoteReq) (QuoteRequest, bool) {
	if h.Validate != nil {
		if err := h.Validate.Struct(body); err != nil {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), nil)
			return QuoteRequest{}, false
		}
	}
	pincode := strings.TrimSpace(body.Pincode)
	if !shipping.IsPincode(pincode) {
		common.JSONError(w, http.StatusBadRequest, "INVALID_PINCODE", "pincode must be six digits", nil)
		return QuoteRequest{}, false
	}
	method, ok := pricing.ParseMethod(body.PaymentMethod)
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "INVALID_PAYMENT_METHOD", "paymentMethod must be PREPAID or COD", nil)
		return QuoteRequest{}, false
	}
	lines := make([]pricing.Line, 0, len(body.Items))
	for _, item := range body.Items {
		lines = append(lines, pricing.Line{
			ProductID:       item.ProductID,
			UnitPrice:       item.UnitPrice,
			Qty:             item.Qty,
			TierDiscountBps: item.TierDiscountBps,
		})
	}
	return QuoteRequest{
		Pincode:   pincode,
		Method:    method,
		PromoCode: strings.TrimSpace(body.PromoCode),
		Lines:     lines,
	}, true
}
