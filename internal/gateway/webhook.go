package gateway

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
)

// Notification is the normalised content of an inbound gateway callback after
// signature verification. Valid=false means the notification must be dropped
// without mutating ledger state.
type Notification struct {
	Valid                 bool
	MerchantTransactionID string
	State                 string
	GatewayTransactionID  string
	ResponseCode          string
	Amount                int64
	Raw                   []byte
	Err                   error
}

type callbackBody struct {
	Response string `json:"response"`
}

type callbackPayload struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		MerchantTransactionID string `json:"merchantTransactionId"`
		TransactionID         string `json:"transactionId"`
		Amount                int64  `json:"amount"`
		State                 string `json:"state"`
		ResponseCode          string `json:"responseCode"`
	} `json:"data"`
}

// VerifyWebhook checks the signature header against a locally recomputed
// digest of the raw body and, when authentic, decodes the carried state.
func (c *Client) VerifyWebhook(r *http.Request, body []byte) Notification {
	var cb callbackBody
	if err := json.Unmarshal(body, &cb); err != nil {
		return Notification{Valid: false, Err: err}
	}
	if cb.Response == "" {
		return Notification{Valid: false, Err: errors.New("missing response payload")}
	}
	if !verifySignature(r.Header.Get("X-VERIFY"), cb.Response, c.SaltKey, c.SaltIndex) {
		return Notification{Valid: false, Err: errors.New("invalid signature")}
	}
	decoded, err := base64.StdEncoding.DecodeString(cb.Response)
	if err != nil {
		return Notification{Valid: false, Err: err}
	}
	var payload callbackPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return Notification{Valid: false, Err: err}
	}
	if payload.Data.MerchantTransactionID == "" {
		return Notification{Valid: false, Err: errors.New("missing merchant transaction id")}
	}
	return Notification{
		Valid:                 true,
		MerchantTransactionID: payload.Data.MerchantTransactionID,
		State:                 normaliseGatewayState(payload.Data.State),
		GatewayTransactionID:  payload.Data.TransactionID,
		ResponseCode:          payload.Data.ResponseCode,
		Amount:                payload.Data.Amount,
		Raw:                   decoded,
	}
}
