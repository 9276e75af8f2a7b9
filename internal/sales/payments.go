package sales

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vitacare-erp/vitacare/internal/platform/httpx"
	"github.com/vitacare-erp/vitacare/internal/shared"
)

const (
	paramTxnRef       = "vnp_TxnRef"
	paramResponseCode = "vnp_ResponseCode"
	paramSecureHash   = "vnp_SecureHash"
	paymentSuccess    = "00"
)

// IdempotencyPort deduplicates gateway retries.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// PaymentHandler receives the payment-gateway return callback. The gateway
// signs the query string with HMAC-SHA512; a failed or cancelled payment
// cancels the order, which restores its stock. The gateway retries on
// timeout, so each transaction reference is recorded before any mutation.
type PaymentHandler struct {
	service     *Service
	idempotency IdempotencyPort
	secret      string
	logger      *slog.Logger
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(service *Service, idempotency IdempotencyPort, secret string, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{service: service, idempotency: idempotency, secret: secret, logger: logger}
}

// MountRoutes registers payment routes.
func (h *PaymentHandler) MountRoutes(r chi.Router) {
	r.Get("/callback", h.callback)
}

// signPayload builds the canonical string the gateway signs: parameters
// sorted by key, URL-encoded, joined with &, the signature itself excluded.
func signPayload(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == paramSecureHash {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(k))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(params.Get(k)))
	}
	return sb.String()
}

// VerifySignature checks the gateway HMAC.
func VerifySignature(params url.Values, secret string) bool {
	provided := params.Get(paramSecureHash)
	if provided == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(signPayload(params)))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(provided)), []byte(expected))
}

func (h *PaymentHandler) callback(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	if !VerifySignature(params, h.secret) {
		h.logger.Warn("payment callback signature mismatch")
		httpx.Problem(w, http.StatusForbidden, "Invalid Signature", "")
		return
	}

	orderID, err := strconv.ParseInt(params.Get(paramTxnRef), 10, 64)
	if err != nil || orderID <= 0 {
		httpx.RespondError(w, shared.NewValidation(paramTxnRef, "must reference an order"))
		return
	}
	txnKey := "payment:" + params.Get(paramTxnRef)

	if err := h.idempotency.CheckAndInsert(r.Context(), txnKey, "payments"); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			httpx.JSON(w, http.StatusOK, map[string]string{"status": "already processed"})
			return
		}
		h.logger.Error("payment idempotency check", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	code := params.Get(paramResponseCode)
	if code == paymentSuccess {
		if _, err := h.service.MarkPaid(r.Context(), orderID); err != nil {
			h.failOpen(r.Context(), txnKey)
			h.logger.Error("mark order paid", slog.Int64("order_id", orderID), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "paid"})
		return
	}

	// Failed or abandoned payment: cancel the order, which restores every
	// deducted batch.
	if _, err := h.service.CancelOrder(r.Context(), orderID, 0); err != nil {
		if errors.Is(err, shared.ErrStateConflict) {
			// Already terminal; nothing to restore.
			httpx.JSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		h.failOpen(r.Context(), txnKey)
		h.logger.Error("cancel order on failed payment", slog.Int64("order_id", orderID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// failOpen releases the idempotency key so the gateway's retry can be
// processed after a transient failure.
func (h *PaymentHandler) failOpen(ctx context.Context, key string) {
	if err := h.idempotency.Delete(ctx, key); err != nil {
		h.logger.Warn("release idempotency key failed", slog.String("key", key), slog.Any("error", err))
	}
}
