package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sahajkart/checkout-core/internal/resilience"
)

const (
	payPath    = "/pg/v1/pay"
	statusPath = "/pg/v1/status"
)

// InitiateRequest opens a payment page session with the gateway. The
// merchant transaction id is the caller-generated idempotency key: globally
// unique, one per payment attempt, never reused after a terminal FAILED.
type InitiateRequest struct {
	MerchantTransactionID string
	Amount                int64
	MobileNumber          string
	MerchantUserID        string
	RedirectURL           string
	CallbackURL           string
}

// Redirect is the successful outcome of Initiate: the URL the payer must be
// sent to. Nothing about the eventual payment outcome may be inferred from it.
type Redirect struct {
	URL string
}

// Status is an authoritative transaction state read from the gateway.
type Status struct {
	State                string
	GatewayTransactionID string
	ResponseCode         string
	InstrumentType       string
	Raw                  []byte
}

// Client drives the payment gateway's initiate and check-status operations
// with classified retries. The two HTTP policies are independent: initiate
// uses exponential backoff, status polling uses linear.
type Client struct {
	BaseURL    string
	MerchantID string
	SaltKey    string
	SaltIndex  string
	Initiator  resilience.HTTPClient
	Poller     resilience.HTTPClient
	Logger     zerolog.Logger
}

// Config bundles the knobs needed to build a production client.
type Config struct {
	BaseURL             string
	MerchantID          string
	SaltKey             string
	SaltIndex           string
	InitiateMaxAttempts int
	InitiateBackoffBase time.Duration
	StatusMaxAttempts   int
	StatusBackoffBase   time.Duration
	Timeout             time.Duration
	Breaker             *resilience.Breaker
}

// NewClient builds a client with the documented retry defaults: initiate gets
// two extra attempts with exponential backoff from one second; status gets
// three attempts with linear backoff.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	initiateAttempts := cfg.InitiateMaxAttempts
	if initiateAttempts <= 0 {
		initiateAttempts = 3
	}
	initiateBase := cfg.InitiateBackoffBase
	if initiateBase <= 0 {
		initiateBase = time.Second
	}
	statusAttempts := cfg.StatusMaxAttempts
	if statusAttempts <= 0 {
		statusAttempts = 3
	}
	statusBase := cfg.StatusBackoffBase
	if statusBase <= 0 {
		statusBase = time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := &http.Client{}
	return &Client{
		BaseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		MerchantID: cfg.MerchantID,
		SaltKey:    cfg.SaltKey,
		SaltIndex:  cfg.SaltIndex,
		Initiator: resilience.HTTPClient{
			Client:      httpClient,
			Breaker:     cfg.Breaker,
			MaxAttempts: initiateAttempts,
			BaseBackoff: initiateBase,
			Timeout:     timeout,
		},
		Poller: resilience.HTTPClient{
			Client:      httpClient,
			Breaker:     cfg.Breaker,
			MaxAttempts: statusAttempts,
			BaseBackoff: statusBase,
			Schedule:    resilience.LinearBackoff,
			Timeout:     timeout,
		},
		Logger: logger,
	}
}

type payInstrument struct {
	Type string `json:"type"`
}

type payPayload struct {
	MerchantID            string        `json:"merchantId"`
	MerchantTransactionID string        `json:"merchantTransactionId"`
	MerchantUserID        string        `json:"merchantUserId,omitempty"`
	Amount                int64         `json:"amount"`
	RedirectURL           string        `json:"redirectUrl"`
	RedirectMode          string        `json:"redirectMode"`
	CallbackURL           string        `json:"callbackUrl"`
	MobileNumber          string        `json:"mobileNumber,omitempty"`
	PaymentInstrument     payInstrument `json:"paymentInstrument"`
}

type gatewayEnvelope struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type payResponseData struct {
	InstrumentResponse struct {
		RedirectInfo struct {
			URL string `json:"url"`
		} `json:"redirectInfo"`
	} `json:"instrumentResponse"`
}

type statusResponseData struct {
	MerchantTransactionID string `json:"merchantTransactionId"`
	TransactionID         string `json:"transactionId"`
	Amount                int64  `json:"amount"`
	State                 string `json:"state"`
	ResponseCode          string `json:"responseCode"`
	PaymentInstrument     struct {
		Type string `json:"type"`
	} `json:"paymentInstrument"`
}

// Initiate opens a payment session. Transient failures (network, 5xx,
// timeout) are retried with exponential backoff inside the HTTP policy; a
// definitive rejection comes back as a non-retryable *Error immediately.
func (c *Client) Initiate(ctx context.Context, req InitiateRequest) (Redirect, error) {
	if strings.TrimSpace(req.MerchantTransactionID) == "" {
		return Redirect{}, &Error{Code: CodeBadRequest, Message: "merchant transaction id is required"}
	}
	if req.Amount <= 0 {
		return Redirect{}, &Error{Code: CodeBadRequest, Message: "amount must be positive"}
	}
	payload := payPayload{
		MerchantID:            c.MerchantID,
		MerchantTransactionID: req.MerchantTransactionID,
		MerchantUserID:        req.MerchantUserID,
		Amount:                req.Amount,
		RedirectURL:           req.RedirectURL,
		RedirectMode:          "REDIRECT",
		CallbackURL:           req.CallbackURL,
		MobileNumber:          req.MobileNumber,
		PaymentInstrument:     payInstrument{Type: "PAY_PAGE"},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Redirect{}, err
	}
	encoded := base64.StdEncoding.EncodeToString(raw)
	body, err := json.Marshal(map[string]string{"request": encoded})
	if err != nil {
		return Redirect{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+payPath, bytes.NewReader(body))
	if err != nil {
		return Redirect{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-VERIFY", signPayload(encoded, payPath, c.SaltKey, c.SaltIndex))

	resp, err := c.Initiator.Do(ctx, httpReq)
	if err != nil {
		c.Logger.Warn().Err(err).Str("mtid", req.MerchantTransactionID).Msg("gateway_initiate_exhausted")
		return Redirect{}, &Error{Code: CodeUnavailable, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	envelope, err := decodeEnvelope(resp.Body)
	if err != nil {
		return Redirect{}, &Error{Code: CodeUnavailable, Err: err}
	}
	if !envelope.Success {
		return Redirect{}, &Error{Code: classifyCode(envelope.Code), Message: envelope.Message}
	}
	var data payResponseData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return Redirect{}, &Error{Code: CodeUnavailable, Err: err}
	}
	url := strings.TrimSpace(data.InstrumentResponse.RedirectInfo.URL)
	if url == "" {
		return Redirect{}, &Error{Code: CodeInvalidRequest, Message: "gateway returned no redirect url"}
	}
	return Redirect{URL: url}, nil
}

// CheckStatus reads the authoritative transaction state. When every retry is
// exhausted on transient failures it returns (nil, nil): status unknown, do
// not assume failure.
func (c *Client) CheckStatus(ctx context.Context, merchantTxnID string) (*Status, error) {
	mtid := strings.TrimSpace(merchantTxnID)
	if mtid == "" {
		return nil, &Error{Code: CodeBadRequest, Message: "merchant transaction id is required"}
	}
	path := statusPath + "/" + c.MerchantID + "/" + mtid
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-MERCHANT-ID", c.MerchantID)
	httpReq.Header.Set("X-VERIFY", signPayload("", path, c.SaltKey, c.SaltIndex))

	resp, err := c.Poller.Do(ctx, httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		c.Logger.Warn().Err(err).Str("mtid", mtid).Msg("gateway_status_unknown")
		return nil, nil
	}
	defer func() { _ = resp.Body.Close() }()

	envelope, err := decodeEnvelope(resp.Body)
	if err != nil {
		c.Logger.Warn().Err(err).Str("mtid", mtid).Msg("gateway_status_unreadable")
		return nil, nil
	}
	if !envelope.Success && envelope.Code != "PAYMENT_PENDING" {
		return nil, &Error{Code: classifyCode(envelope.Code), Message: envelope.Message}
	}
	var data statusResponseData
	if len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			return nil, &Error{Code: CodeUnavailable, Err: err}
		}
	}
	state := normaliseGatewayState(data.State)
	if state == "" {
		state = normaliseGatewayState(envelope.Code)
	}
	rawBody, _ := json.Marshal(envelope)
	return &Status{
		State:                state,
		GatewayTransactionID: data.TransactionID,
		ResponseCode:         data.ResponseCode,
		InstrumentType:       data.PaymentInstrument.Type,
		Raw:                  rawBody,
	}, nil
}

func decodeEnvelope(r io.Reader) (gatewayEnvelope, error) {
	var envelope gatewayEnvelope
	if err := json.NewDecoder(r).Decode(&envelope); err != nil {
		return gatewayEnvelope{}, err
	}
	return envelope, nil
}

// normaliseGatewayState maps gateway state strings onto the ledger's
// vocabulary. Unrecognised states stay PENDING: the safe reading of an
// ambiguous answer is "not settled yet".
func normaliseGatewayState(state string) string {
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "COMPLETED", "PAYMENT_SUCCESS", "SUCCESS":
		return "SUCCESS"
	case "PENDING", "PAYMENT_PENDING":
		return "PENDING"
	case "FAILED", "PAYMENT_ERROR", "PAYMENT_DECLINED", "TIMED_OUT":
		return "FAILED"
	case "CANCELLED", "PAYMENT_CANCELLED":
		return "CANCELLED"
	case "REFUNDED", "REFUND_COMPLETED":
		return "REFUNDED"
	case "":
		return ""
	default:
		return "PENDING"
	}
}
