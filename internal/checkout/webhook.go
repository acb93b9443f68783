package checkout

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/sahajkart/checkout-core/internal/common"
	"github.com/sahajkart/checkout-core/internal/ledger"
	"github.com/sahajkart/checkout-core/internal/obs"
)

// Webhook handles inbound payment gateway callbacks: signature verification,
// replay suppression and ledger application.
type Webhook struct {
	Svc       *Service
	Replay    *redis.Client
	ReplayTTL time.Duration
}

// Handle processes one gateway callback. Replays and conflicting states are
// acknowledged without mutating anything; only a bad signature is rejected.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "WEBHOOK_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	n := h.Svc.Gateway.VerifyWebhook(r, body)
	if !n.Valid {
		obs.PaymentWebhookTotal.WithLabelValues("invalid_signature").Inc()
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}

	if h.Replay != nil && h.ReplayTTL > 0 {
		key := "wh:" + common.Sha256Hex(string(body))
		fresh, err := h.Replay.SetNX(r.Context(), key, "1", h.ReplayTTL).Result()
		if err != nil {
			common.JSONError(w, http.StatusInternalServerError, "REPLAY_STORE_ERROR", err.Error(), nil)
			return
		}
		if !fresh {
			obs.PaymentWebhookTotal.WithLabelValues("replay").Inc()
			common.JSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
	}

	entry, advanced, err := h.Svc.ApplyNotification(r.Context(), n)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			obs.PaymentWebhookTotal.WithLabelValues("unknown_txn").Inc()
			common.JSONError(w, http.StatusNotFound, "TRANSACTION_NOT_FOUND", "unknown transaction", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "WEBHOOK_APPLY_ERROR", err.Error(), nil)
		return
	}
	if advanced {
		obs.PaymentWebhookTotal.WithLabelValues("applied").Inc()
	} else {
		obs.PaymentWebhookTotal.WithLabelValues("ignored").Inc()
	}
	common.JSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"state":  string(entry.State),
	})
}
